// Package file serves secrets from a directory of files, one secret per
// file, in the layout used by container runtimes under /run/secrets.
//
// The version of a secret is a prefix of the SHA-256 of its content, so a
// caller can pin the value it saw.
package file

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"strings"

	"github.com/jonwraymond/secretops/secret"
)

// DefaultName is the backend name used when Config.Name is empty.
const DefaultName = "file"

// versionLen is the number of hex digits in a content version.
const versionLen = 12

// ErrDirRequired is returned by New without a directory.
var ErrDirRequired = errors.New("file: directory is required")

// Config configures the file backend.
type Config struct {
	Name string
	Dir  string

	// KeepNewline disables trimming of one trailing newline.
	KeepNewline bool
}

// Backend reads secrets from files below a root directory. Names cannot
// escape the root.
type Backend struct {
	name        string
	dir         string
	root        *os.Root
	keepNewline bool
}

// New opens cfg.Dir.
func New(cfg Config) (*Backend, error) {
	if cfg.Dir == "" {
		return nil, ErrDirRequired
	}
	if cfg.Name == "" {
		cfg.Name = DefaultName
	}

	root, err := os.OpenRoot(cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("file: open %s: %w", cfg.Dir, err)
	}
	return &Backend{
		name:        cfg.Name,
		dir:         cfg.Dir,
		root:        root,
		keepNewline: cfg.KeepNewline,
	}, nil
}

// Name implements secret.Backend.
func (b *Backend) Name() string {
	return b.name
}

// Fetch implements secret.Backend.
func (b *Backend) Fetch(ctx context.Context, name, version string) (secret.Secret, error) {
	if err := ctx.Err(); err != nil {
		return secret.Secret{}, err
	}
	if !validName(name) {
		return secret.Secret{}, secret.NewError(secret.KindNotFound, fmt.Errorf("invalid secret file name %q", name))
	}

	data, err := b.root.ReadFile(name)
	if err != nil {
		return secret.Secret{}, classify(err)
	}

	value := string(data)
	if !b.keepNewline {
		value = strings.TrimSuffix(value, "\n")
		value = strings.TrimSuffix(value, "\r")
	}

	sum := sha256.Sum256(data)
	current := hex.EncodeToString(sum[:])[:versionLen]
	if version != "" && version != "latest" && version != current {
		return secret.Secret{}, secret.NewError(secret.KindNotFound,
			fmt.Errorf("version %s of %s is not current", version, name))
	}

	return secret.Secret{Value: value, Version: current}, nil
}

// Ping checks that the directory is still readable.
func (b *Backend) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	info, err := b.root.Stat(".")
	if err != nil {
		return classify(err)
	}
	if !info.IsDir() {
		return secret.NewError(secret.KindUnavailable, fmt.Errorf("%s is not a directory", b.dir))
	}
	return nil
}

// Close releases the directory handle.
func (b *Backend) Close() error {
	return b.root.Close()
}

func validName(name string) bool {
	if name == "" || strings.ContainsRune(name, 0) || strings.Contains(name, `\`) {
		return false
	}
	if path.IsAbs(name) || path.Clean(name) != name {
		return false
	}
	return name != ".." && !strings.HasPrefix(name, "../")
}

func classify(err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return secret.NewError(secret.KindNotFound, err)
	case errors.Is(err, fs.ErrPermission):
		return secret.NewError(secret.KindUnauthorized, err)
	default:
		return secret.NewError(secret.KindUnknown, err)
	}
}
