// Package env serves secrets from environment variables.
//
// A secret called "db-password" with prefix "APP_" is read from
// APP_DB_PASSWORD. Environment variables have no versions: only the latest
// version ("" or "latest") can be found.
package env

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/jonwraymond/secretops/secret"
)

// DefaultName is the backend name used when Config.Name is empty.
const DefaultName = "env"

// Config configures the environment backend.
type Config struct {
	Name   string
	Prefix string

	// Lookup replaces os.LookupEnv.
	Lookup func(key string) (string, bool)

	// AllowEmpty treats a set but empty variable as a value instead of
	// not found.
	AllowEmpty bool
}

// Backend reads secrets from the process environment.
type Backend struct {
	name       string
	prefix     string
	lookup     func(string) (string, bool)
	allowEmpty bool
}

// New creates an environment backend.
func New(cfg Config) *Backend {
	if cfg.Name == "" {
		cfg.Name = DefaultName
	}
	if cfg.Lookup == nil {
		cfg.Lookup = os.LookupEnv
	}
	return &Backend{
		name:       cfg.Name,
		prefix:     cfg.Prefix,
		lookup:     cfg.Lookup,
		allowEmpty: cfg.AllowEmpty,
	}
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
	if version != "" && version != "latest" {
		return secret.Secret{}, secret.NewError(secret.KindNotFound,
			fmt.Errorf("environment variables are not versioned: %q", version))
	}

	key := VarName(b.prefix, name)
	v, ok := b.lookup(key)
	if !ok || (v == "" && !b.allowEmpty) {
		return secret.Secret{}, secret.NewError(secret.KindNotFound, fmt.Errorf("%s is not set", key))
	}
	return secret.Secret{Value: v}, nil
}

// VarName maps a secret name to an environment variable name: the name is
// upper-cased and every character outside [A-Z0-9_] becomes '_'.
func VarName(prefix, name string) string {
	var b strings.Builder
	b.Grow(len(prefix) + len(name))
	b.WriteString(prefix)
	for _, r := range strings.ToUpper(name) {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
