package cache

import (
	"context"
	"errors"
	"strings"
	"time"
)

// MaxKeyLength is the maximum allowed length for a rendered cache key.
const MaxKeyLength = 512

// LatestVersion is how an absent version is rendered inside a key.
const LatestVersion = "latest"

// Sentinel errors for cache operations.
var (
	ErrInvalidKey  = errors.New("cache: key is invalid")
	ErrKeyTooLong  = errors.New("cache: key exceeds max length")
	ErrNilLoader   = errors.New("cache: loader is nil")
	ErrLoaderPanic = errors.New("cache: loader panicked")
)

// Key identifies one cached secret version.
//
// Namespace is the identity of the provider that owns the entry so that a
// store shared by several providers never mixes their values.
type Key struct {
	Namespace string
	Name      string
	Version   string
}

// NewKey builds a key. An empty version means latest.
func NewKey(namespace, name, version string) Key {
	return Key{Namespace: namespace, Name: name, Version: version}
}

var keyEscaper = strings.NewReplacer("%", "%25", "/", "%2F", "@", "%40")

// String renders the key as <namespace>/<name>@<version>. The separators are
// percent-escaped inside each part, so distinct keys never render alike.
func (k Key) String() string {
	version := k.Version
	if version == "" {
		version = LatestVersion
	}
	var b strings.Builder
	b.Grow(len(k.Namespace) + len(k.Name) + len(version) + 2)
	_, _ = keyEscaper.WriteString(&b, k.Namespace)
	b.WriteByte('/')
	_, _ = keyEscaper.WriteString(&b, k.Name)
	b.WriteByte('@')
	_, _ = keyEscaper.WriteString(&b, version)
	return b.String()
}

// Validate checks that the key can be stored.
func (k Key) Validate() error {
	if k.Name == "" || strings.TrimSpace(k.Name) == "" {
		return ErrInvalidKey
	}
	if strings.ContainsAny(k.Name, "\n\r") || strings.ContainsAny(k.Version, "\n\r") {
		return ErrInvalidKey
	}
	if len(k.Namespace)+len(k.Name)+len(k.Version) > MaxKeyLength {
		return ErrKeyTooLong
	}
	return nil
}

// Entry is a cached value together with the time it was stored.
//
// Entries are handed out by value; the store never exposes its own copy.
type Entry[V any] struct {
	Value    V
	CachedAt time.Time
	TTL      time.Duration
}

// ExpiresAt returns CachedAt + TTL.
func (e Entry[V]) ExpiresAt() time.Time {
	return e.CachedAt.Add(e.TTL)
}

// Expired reports whether now is strictly past the entry's expiry.
func (e Entry[V]) Expired(now time.Time) bool {
	return now.After(e.ExpiresAt())
}

// Loader produces the value for a key on a cache miss.
type Loader[V any] func(ctx context.Context) (V, error)
