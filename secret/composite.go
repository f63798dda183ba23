package secret

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jonwraymond/secretops/cache"
	"github.com/jonwraymond/secretops/observe"
)

// Composite tries an ordered chain of providers until one succeeds.
//
// Contract:
//   - Concurrency: safe for concurrent use. The chain is fixed at
//     construction.
//   - Order: providers are tried strictly in order; the first success wins.
//   - Errors: a critical failure aborts the walk and is returned verbatim.
//     When every provider fails recoverably the result is an
//     *ExhaustedError. A done caller context stops the walk and its error is
//     returned unclassified.
type Composite struct {
	providers []*Provider
	policy    Policy
	logger    observe.Logger
	mw        *observe.Middleware
}

type compositeOptions struct {
	policy      Policy
	logger      observe.Logger
	mw          *observe.Middleware
	cachePolicy cache.Policy
	storeOpts   []cache.StoreOption
}

// Option configures a Composite.
type Option func(*compositeOptions)

// WithPolicy sets the criticality policy. The default is DefaultPolicy.
func WithPolicy(p Policy) Option {
	return func(o *compositeOptions) {
		if p != nil {
			o.policy = p
		}
	}
}

// WithLogger sets the logger used for fallback and abort messages.
func WithLogger(l observe.Logger) Option {
	return func(o *compositeOptions) {
		o.logger = l
	}
}

// WithMiddleware instruments composite lookups. New also passes it to every
// provider it builds.
func WithMiddleware(m *observe.Middleware) Option {
	return func(o *compositeOptions) {
		o.mw = m
	}
}

// WithCachePolicy sets the policy of the store New creates.
func WithCachePolicy(p cache.Policy) Option {
	return func(o *compositeOptions) {
		o.cachePolicy = p
	}
}

// WithStoreOptions passes options to the store New creates.
func WithStoreOptions(opts ...cache.StoreOption) Option {
	return func(o *compositeOptions) {
		o.storeOpts = append(o.storeOpts, opts...)
	}
}

func resolveOptions(opts []Option) compositeOptions {
	o := compositeOptions{
		policy:      DefaultPolicy(),
		cachePolicy: cache.DefaultPolicy(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.mw == nil {
		o.mw = observe.NopMiddleware()
	}
	if o.logger == nil {
		o.logger = o.mw.Logger()
	}
	return o
}

// NewComposite builds a composite over providers, in order. An empty chain
// is allowed; every lookup on it fails with ErrNoProviders.
func NewComposite(providers []*Provider, opts ...Option) (*Composite, error) {
	chain := make([]*Provider, len(providers))
	for i, p := range providers {
		if p == nil {
			return nil, fmt.Errorf("%w at position %d", ErrNilProvider, i)
		}
		chain[i] = p
	}

	o := resolveOptions(opts)
	return &Composite{
		providers: chain,
		policy:    o.policy,
		logger:    o.logger,
		mw:        o.mw,
	}, nil
}

// Source describes one link of a chain built by New.
type Source struct {
	Backend Backend
	// TTL is the cache TTL. Zero means the store policy's DefaultTTL.
	TTL time.Duration
	// DisableCache sends every lookup to the backend.
	DisableCache bool
	// Policy overrides the composite policy for this source.
	Policy Policy
}

// New builds a composite whose providers share one cache store.
func New(sources []Source, opts ...Option) (*Composite, error) {
	o := resolveOptions(opts)
	store := cache.NewStore[Secret](o.cachePolicy, o.storeOpts...)

	providers := make([]*Provider, 0, len(sources))
	for i, src := range sources {
		if src.Backend == nil {
			return nil, fmt.Errorf("%w at position %d", ErrNilBackend, i)
		}

		ttl := src.TTL
		switch {
		case src.DisableCache:
			ttl = 0
		case ttl <= 0:
			ttl = cache.UseDefaultTTL
		}

		p, err := NewProvider(src.Backend,
			WithStore(store),
			WithNamespace(fmt.Sprintf("%d:%s", i, src.Backend.Name())),
			WithTTL(ttl),
			WithProviderPolicy(src.Policy),
			WithProviderLogger(o.logger),
			WithProviderMiddleware(o.mw),
		)
		if err != nil {
			return nil, err
		}
		providers = append(providers, p)
	}

	return NewComposite(providers, opts...)
}

// GetSecret walks the chain for name.
func (c *Composite) GetSecret(ctx context.Context, name string, opts ...GetOption) (Secret, error) {
	if len(c.providers) == 0 {
		return Secret{}, ErrNoProviders
	}
	if strings.TrimSpace(name) == "" {
		return Secret{}, ErrInvalidName
	}

	o := resolveGetOptions(opts)
	meta := observe.LookupMeta{
		Operation: observe.OpLookup,
		Name:      name,
		Version:   o.version,
		Bypass:    o.bypass,
	}

	var out Secret
	err := c.mw.Run(ctx, meta, func(ctx context.Context) error {
		s, err := c.walk(ctx, name, o.version, opts)
		out = s
		return err
	})
	return out, err
}

func (c *Composite) walk(ctx context.Context, name, version string, opts []GetOption) (Secret, error) {
	var failures []*Error

	for i, p := range c.providers {
		if err := ctx.Err(); err != nil {
			return Secret{}, err
		}

		s, err := p.GetSecret(ctx, name, opts...)
		if err == nil {
			return s, nil
		}

		var se *Error
		if !errors.As(err, &se) {
			// Caller cancellation and usage errors are not provider failures.
			return Secret{}, err
		}

		fields := []observe.Field{
			observe.F("secret.name", name),
			observe.F("secret.provider", p.Name()),
			observe.F("secret.position", i),
			observe.F("error.kind", se.Kind.String()),
			observe.F("error", err),
		}
		if c.isCritical(p, se.Kind) {
			c.logger.Error(ctx, "critical secret provider failure, aborting lookup", fields...)
			return Secret{}, err
		}
		c.logger.Warn(ctx, "secret provider failed, trying next", fields...)
		failures = append(failures, se)
	}

	return Secret{}, &ExhaustedError{Name: name, Version: version, Failures: failures}
}

func (c *Composite) isCritical(p *Provider, kind Kind) bool {
	if override := p.Policy(); override != nil {
		return override.IsCritical(kind, p.Name())
	}
	return c.policy.IsCritical(kind, p.Name())
}

// Invalidate drops name from every provider's cache.
func (c *Composite) Invalidate(name string, opts ...GetOption) {
	for _, p := range c.providers {
		p.Invalidate(name, opts...)
	}
}

// Provider returns the first provider named name, or nil.
func (c *Composite) Provider(name string) *Provider {
	for _, p := range c.providers {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

// Providers returns a copy of the chain.
func (c *Composite) Providers() []*Provider {
	out := make([]*Provider, len(c.providers))
	copy(out, c.providers)
	return out
}

// Close closes every provider and joins the errors.
func (c *Composite) Close() error {
	var errs []error
	for _, p := range c.providers {
		if err := p.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", p.Name(), err))
		}
	}
	return errors.Join(errs...)
}
