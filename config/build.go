package config

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/golang-jwt/jwt/v5"

	"github.com/jonwraymond/secretops/backend/awssm"
	"github.com/jonwraymond/secretops/backend/env"
	"github.com/jonwraymond/secretops/backend/file"
	"github.com/jonwraymond/secretops/backend/keyvault"
	"github.com/jonwraymond/secretops/cache"
	"github.com/jonwraymond/secretops/observe"
	"github.com/jonwraymond/secretops/resilience"
	"github.com/jonwraymond/secretops/secret"
)

// BuildOption customizes Build.
type BuildOption func(*buildOptions)

type buildOptions struct {
	factories  map[string]secret.BackendFactory
	logger     observe.Logger
	mw         *observe.Middleware
	httpClient *http.Client
	storeOpts  []cache.StoreOption
}

// WithBackendFactory replaces the factory of a built-in backend (env, file,
// keyvault or awssm). Validate accepts only those names in Providers, so a
// factory registered under any other name is never reached from a loaded
// Config.
func WithBackendFactory(name string, f secret.BackendFactory) BuildOption {
	return func(o *buildOptions) {
		o.factories[name] = f
	}
}

// WithLogger sets the composite logger.
func WithLogger(l observe.Logger) BuildOption {
	return func(o *buildOptions) {
		o.logger = l
	}
}

// WithMiddleware sets the lookup middleware.
func WithMiddleware(m *observe.Middleware) BuildOption {
	return func(o *buildOptions) {
		o.mw = m
	}
}

// WithObserver derives the logger and middleware from obs.
func WithObserver(obs observe.Observer) BuildOption {
	return func(o *buildOptions) {
		o.logger = obs.Logger()
		if mw, err := observe.MiddlewareFromObserver(obs); err == nil {
			o.mw = mw
		}
	}
}

// WithHTTPClient sets the client used by HTTP backends.
func WithHTTPClient(c *http.Client) BuildOption {
	return func(o *buildOptions) {
		o.httpClient = c
	}
}

// WithStoreOptions passes options to the shared cache store.
func WithStoreOptions(opts ...cache.StoreOption) BuildOption {
	return func(o *buildOptions) {
		o.storeOpts = append(o.storeOpts, opts...)
	}
}

// Build creates every configured backend and chains them in
// cfg.Providers order. Remote backends are wrapped in a
// secret.ResilientBackend.
func Build(ctx context.Context, cfg *Config, opts ...BuildOption) (*secret.Composite, error) {
	o := buildOptions{factories: make(map[string]secret.BackendFactory)}
	for _, opt := range opts {
		opt(&o)
	}

	reg, err := cfg.registry(&o)
	if err != nil {
		return nil, err
	}

	policy, err := cfg.Policy()
	if err != nil {
		return nil, &ConfigError{Type: ErrValidation, Message: "invalid critical kinds", Err: err}
	}

	sources := make([]secret.Source, 0, len(cfg.Providers))
	closeAll := func() {
		for _, s := range sources {
			if c, ok := s.Backend.(io.Closer); ok {
				_ = c.Close()
			}
		}
	}

	for _, name := range cfg.Providers {
		b, err := reg.Create(ctx, name)
		if err != nil {
			closeAll()
			return nil, &ConfigError{
				Type:    ErrBuild,
				Message: fmt.Sprintf("failed to create %s backend", name),
				Err:     err,
			}
		}
		if isRemote(name) {
			b = secret.NewResilientBackend(b, cfg.Resilience.backendConfig())
		}
		sources = append(sources, secret.Source{
			Backend:      b,
			TTL:          cfg.Cache.TTL,
			DisableCache: cfg.Cache.TTL == 0,
		})
	}

	copts := []secret.Option{
		secret.WithPolicy(policy),
		secret.WithCachePolicy(cfg.Cache.policy()),
		secret.WithStoreOptions(append([]cache.StoreOption{cache.WithShards(cfg.Cache.Shards)}, o.storeOpts...)...),
	}
	if o.logger != nil {
		copts = append(copts, secret.WithLogger(o.logger))
	}
	if o.mw != nil {
		copts = append(copts, secret.WithMiddleware(o.mw))
	}

	c, err := secret.New(sources, copts...)
	if err != nil {
		closeAll()
		return nil, &ConfigError{Type: ErrBuild, Message: "failed to build provider chain", Err: err}
	}
	return c, nil
}

// Policy returns the critical-failure policy named by CriticalKinds.
func (c *Config) Policy() (secret.KindPolicy, error) {
	kinds := make([]secret.Kind, 0, len(c.CriticalKinds))
	for _, s := range c.CriticalKinds {
		k, err := secret.ParseKind(s)
		if err != nil {
			return secret.KindPolicy{}, err
		}
		kinds = append(kinds, k)
	}
	return secret.CriticalKinds(kinds...), nil
}

// registry holds the built-in backend factories bound to c, with
// overrides from o applied.
func (c *Config) registry(o *buildOptions) (*secret.Registry, error) {
	factories := map[string]secret.BackendFactory{
		BackendEnv:      c.envFactory,
		BackendFile:     c.fileFactory,
		BackendKeyVault: func(ctx context.Context) (secret.Backend, error) { return c.keyVaultFactory(ctx, o.httpClient) },
		BackendAWSSM:    c.awsFactory,
	}
	for name, f := range o.factories {
		factories[name] = f
	}

	reg := secret.NewRegistry()
	for name, f := range factories {
		if err := reg.Register(name, f); err != nil {
			return nil, &ConfigError{Type: ErrBuild, Message: "failed to register backend", Err: err}
		}
	}
	return reg, nil
}

func (c *Config) envFactory(context.Context) (secret.Backend, error) {
	return env.New(env.Config{Prefix: c.Env.Prefix}), nil
}

func (c *Config) fileFactory(context.Context) (secret.Backend, error) {
	return file.New(file.Config{Dir: c.File.Dir})
}

func (c *Config) keyVaultFactory(_ context.Context, hc *http.Client) (secret.Backend, error) {
	kv := c.KeyVault

	var tokens keyvault.TokenSource
	if kv.Token != "" {
		tokens = keyvault.StaticToken(kv.Token)
	} else {
		key, err := loadPrivateKey(kv.PrivateKeyFile)
		if err != nil {
			return nil, err
		}
		src, err := keyvault.NewClientAssertionSource(keyvault.ClientAssertionConfig{
			TenantID:     kv.TenantID,
			ClientID:     kv.ClientID,
			PrivateKey:   key,
			KeyID:        kv.KeyID,
			AuthorityURL: kv.AuthorityURL,
			HTTPClient:   hc,
		})
		if err != nil {
			return nil, err
		}
		tokens = src
	}

	return keyvault.New(keyvault.Config{
		VaultURL:   kv.URL,
		APIVersion: kv.APIVersion,
		Tokens:     tokens,
		HTTPClient: hc,
	})
}

func (c *Config) awsFactory(ctx context.Context) (secret.Backend, error) {
	return awssm.New(ctx, awssm.Config{
		Region:   c.AWS.Region,
		Endpoint: c.AWS.Endpoint,
		Prefix:   c.AWS.Prefix,
	})
}

var errNoKeyFile = errors.New("private key file is not set")

func loadPrivateKey(path string) (*rsa.PrivateKey, error) {
	if path == "" {
		return nil, errNoKeyFile
	}
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM(pem)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return key, nil
}

func isRemote(name string) bool {
	return name == BackendKeyVault || name == BackendAWSSM
}

func (c CacheConfig) policy() cache.Policy {
	return cache.Policy{
		DefaultTTL: c.TTL,
		MaxTTL:     c.MaxTTL,
		FailureTTL: c.FailureTTL,
	}
}

func (c ResilienceConfig) backendConfig() secret.ResilienceConfig {
	return secret.ResilienceConfig{
		Timeout: c.Timeout,
		Retry: resilience.RetryConfig{
			MaxAttempts:  c.MaxAttempts,
			InitialDelay: c.RetryInitialDelay,
			MaxDelay:     c.RetryMaxDelay,
			Strategy:     resilience.ParseBackoffStrategy(c.Backoff),
			Jitter:       true,
		},
		Breaker: resilience.CircuitBreakerConfig{
			MaxFailures:  c.BreakerMaxFailures,
			ResetTimeout: c.BreakerResetTimeout,
		},
		DisableBreaker: c.BreakerMaxFailures == 0,
		MaxConcurrent:  c.MaxConcurrent,
		MaxWait:        c.MaxWait,
		RatePerSecond:  c.RatePerSecond,
		Burst:          c.RateBurst,
	}
}
