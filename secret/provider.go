package secret

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jonwraymond/secretops/cache"
	"github.com/jonwraymond/secretops/observe"
)

// Provider serves secrets from one Backend through a cache.Store.
//
// Contract:
//   - Concurrency: safe for concurrent use.
//   - Caching: a live entry is served without calling the backend; misses are
//     loaded once per key no matter how many callers wait.
//   - Errors: backend failures are returned as *Error annotated with this
//     provider's name, the requested name and version. A canceled caller
//     context is returned unclassified.
type Provider struct {
	backend   Backend
	store     *cache.Store[Secret]
	namespace string
	ttl       time.Duration
	policy    Policy
	logger    observe.Logger
	mw        *observe.Middleware
}

type providerOptions struct {
	ttl       time.Duration
	store     *cache.Store[Secret]
	namespace string
	policy    Policy
	logger    observe.Logger
	mw        *observe.Middleware
}

// ProviderOption configures a Provider.
type ProviderOption func(*providerOptions)

// WithTTL sets how long fetched secrets are cached. Zero disables caching
// for this provider. Without this option the store policy's DefaultTTL is
// used.
func WithTTL(d time.Duration) ProviderOption {
	return func(o *providerOptions) {
		if d < 0 {
			d = cache.UseDefaultTTL
		}
		o.ttl = d
	}
}

// WithStore shares store with other providers. Keys are namespaced so
// providers never see each other's entries.
func WithStore(store *cache.Store[Secret]) ProviderOption {
	return func(o *providerOptions) {
		o.store = store
	}
}

// WithNamespace sets the cache namespace. It defaults to the backend name.
func WithNamespace(ns string) ProviderOption {
	return func(o *providerOptions) {
		o.namespace = ns
	}
}

// WithProviderPolicy overrides the composite's criticality decision for
// this provider.
func WithProviderPolicy(p Policy) ProviderOption {
	return func(o *providerOptions) {
		o.policy = p
	}
}

// WithProviderLogger sets the logger.
func WithProviderLogger(l observe.Logger) ProviderOption {
	return func(o *providerOptions) {
		o.logger = l
	}
}

// WithProviderMiddleware instruments lookups and backend fetches.
func WithProviderMiddleware(m *observe.Middleware) ProviderOption {
	return func(o *providerOptions) {
		o.mw = m
	}
}

// NewProvider creates a Provider for backend.
func NewProvider(backend Backend, opts ...ProviderOption) (*Provider, error) {
	if backend == nil {
		return nil, ErrNilBackend
	}

	o := providerOptions{ttl: cache.UseDefaultTTL}
	for _, opt := range opts {
		opt(&o)
	}
	if o.store == nil {
		o.store = cache.NewStore[Secret](cache.DefaultPolicy())
	}
	if o.namespace == "" {
		o.namespace = backend.Name()
	}
	if o.mw == nil {
		o.mw = observe.NopMiddleware()
	}
	if o.logger == nil {
		o.logger = o.mw.Logger()
	}

	return &Provider{
		backend:   backend,
		store:     o.store,
		namespace: o.namespace,
		ttl:       o.ttl,
		policy:    o.policy,
		logger:    o.logger.With(observe.F("secret.provider", backend.Name())),
		mw:        o.mw,
	}, nil
}

// GetOption configures a single lookup.
type GetOption func(*getOptions)

type getOptions struct {
	version string
	bypass  bool
}

// Version requests a specific version instead of the latest.
func Version(v string) GetOption {
	return func(o *getOptions) {
		o.version = v
	}
}

// BypassCache forces a backend call. A successful result replaces the cached
// entry; a failure leaves it in place.
func BypassCache() GetOption {
	return func(o *getOptions) {
		o.bypass = true
	}
}

func resolveGetOptions(opts []GetOption) getOptions {
	var o getOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// Name returns the backend name.
func (p *Provider) Name() string {
	return p.backend.Name()
}

// Backend returns the wrapped backend.
func (p *Provider) Backend() Backend {
	return p.backend
}

// Store returns the cache store backing the provider.
func (p *Provider) Store() *cache.Store[Secret] {
	return p.store
}

// Policy returns the criticality override, or nil.
func (p *Provider) Policy() Policy {
	return p.policy
}

// TTL returns the configured cache TTL. cache.UseDefaultTTL means the store
// policy decides.
func (p *Provider) TTL() time.Duration {
	return p.ttl
}

// GetSecret returns the secret called name.
func (p *Provider) GetSecret(ctx context.Context, name string, opts ...GetOption) (Secret, error) {
	o := resolveGetOptions(opts)
	if strings.TrimSpace(name) == "" {
		return Secret{}, ErrInvalidName
	}

	meta := observe.LookupMeta{
		Operation: observe.OpLookup,
		Provider:  p.Name(),
		Name:      name,
		Version:   o.version,
		Bypass:    o.bypass,
	}

	var out Secret
	err := p.mw.Run(ctx, meta, func(ctx context.Context) error {
		s, err := p.get(ctx, name, o)
		out = s
		return err
	})
	return out, err
}

func (p *Provider) get(ctx context.Context, name string, o getOptions) (Secret, error) {
	key := cache.NewKey(p.namespace, name, o.version)
	load := func(ctx context.Context) (Secret, error) {
		return p.fetch(ctx, name, o.version)
	}

	var (
		entry cache.Entry[Secret]
		err   error
	)
	if o.bypass {
		entry, err = p.store.Refresh(ctx, key, p.ttl, load)
	} else {
		entry, err = p.store.GetOrLoad(ctx, key, p.ttl, load)
	}
	if err != nil {
		return Secret{}, p.wrap(ctx, err, name, o.version)
	}
	return entry.Value, nil
}

func (p *Provider) fetch(ctx context.Context, name, version string) (Secret, error) {
	meta := observe.LookupMeta{
		Operation: observe.OpFetch,
		Provider:  p.Name(),
		Name:      name,
		Version:   version,
	}

	var out Secret
	err := p.mw.Run(ctx, meta, func(ctx context.Context) error {
		s, err := p.backend.Fetch(ctx, name, version)
		out = s
		return err
	})
	return out, err
}

func (p *Provider) wrap(ctx context.Context, err error, name, version string) error {
	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
		return err
	}
	if errors.Is(err, cache.ErrInvalidKey) || errors.Is(err, cache.ErrKeyTooLong) {
		return fmt.Errorf("%w: %w", ErrInvalidName, err)
	}
	if errors.Is(err, cache.ErrLoaderPanic) {
		p.logger.Error(ctx, "secret backend panicked",
			observe.F("secret.name", name),
			observe.F("error", err),
		)
	}
	return annotate(err, p.Name(), name, version)
}

// Invalidate drops the cached entry for name. Only the Version option is
// meaningful.
func (p *Provider) Invalidate(name string, opts ...GetOption) {
	o := resolveGetOptions(opts)
	p.store.Invalidate(cache.NewKey(p.namespace, name, o.version))
}

// Close closes the backend if it implements io.Closer.
func (p *Provider) Close() error {
	if c, ok := p.backend.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
