// Package config loads secretops settings from the environment and
// assembles a secret.Composite from them.
//
// Values are resolved in priority order:
//
//	OS Environment (Highest) -> Dotenv File (Lowest)
package config

import (
	"context"
	"fmt"
	"time"

	"github.com/jonwraymond/secretops/observe"
	"github.com/jonwraymond/secretops/observe/exporters"
)

// Backend names accepted in SECRETS_PROVIDERS.
const (
	BackendEnv      = "env"
	BackendFile     = "file"
	BackendKeyVault = "keyvault"
	BackendAWSSM    = "awssm"
)

// Config is the top-level configuration.
type Config struct {
	// Providers is the lookup chain, in order.
	Providers     []string `envconfig:"SECRETS_PROVIDERS" default:"env" validate:"required,min=1,unique,dive,oneof=env file keyvault awssm"`
	CriticalKinds []string `envconfig:"SECRETS_CRITICAL_KINDS" default:"unauthorized" validate:"dive,oneof=not_found unauthorized unavailable unknown"`

	Cache      CacheConfig
	Resilience ResilienceConfig
	Env        EnvConfig
	File       FileConfig
	KeyVault   KeyVaultConfig
	AWS        AWSConfig
	Observe    ObserveConfig
}

// CacheConfig configures the shared secret cache. A zero TTL disables
// caching.
type CacheConfig struct {
	TTL        time.Duration `envconfig:"SECRETS_CACHE_TTL" default:"5m" validate:"gte=0"`
	MaxTTL     time.Duration `envconfig:"SECRETS_CACHE_MAX_TTL" default:"1h" validate:"gte=0"`
	FailureTTL time.Duration `envconfig:"SECRETS_CACHE_FAILURE_TTL" default:"0s" validate:"gte=0"`
	Shards     int           `envconfig:"SECRETS_CACHE_SHARDS" default:"32" validate:"gte=1,lte=4096"`
}

// ResilienceConfig configures the guards around every remote fetch.
type ResilienceConfig struct {
	Timeout             time.Duration `envconfig:"SECRETS_FETCH_TIMEOUT" default:"5s" validate:"gte=0"`
	MaxAttempts         int           `envconfig:"SECRETS_RETRY_MAX_ATTEMPTS" default:"3" validate:"gte=1,lte=10"`
	RetryInitialDelay   time.Duration `envconfig:"SECRETS_RETRY_INITIAL_DELAY" default:"100ms" validate:"gte=0"`
	RetryMaxDelay       time.Duration `envconfig:"SECRETS_RETRY_MAX_DELAY" default:"2s" validate:"gte=0"`
	Backoff             string        `envconfig:"SECRETS_RETRY_BACKOFF" default:"exponential" validate:"oneof=constant linear exponential"`
	BreakerMaxFailures  int           `envconfig:"SECRETS_BREAKER_MAX_FAILURES" default:"5" validate:"gte=0"`
	BreakerResetTimeout time.Duration `envconfig:"SECRETS_BREAKER_RESET_TIMEOUT" default:"30s" validate:"gte=0"`
	MaxConcurrent       int           `envconfig:"SECRETS_MAX_CONCURRENT" default:"0" validate:"gte=0"`
	MaxWait             time.Duration `envconfig:"SECRETS_MAX_WAIT" default:"1s" validate:"gte=0"`
	RatePerSecond       float64       `envconfig:"SECRETS_RATE_PER_SECOND" default:"0" validate:"gte=0"`
	RateBurst           int           `envconfig:"SECRETS_RATE_BURST" default:"10" validate:"gte=0"`
}

// EnvConfig configures the environment backend.
type EnvConfig struct {
	Prefix string `envconfig:"SECRETS_ENV_PREFIX"`
}

// FileConfig configures the file backend.
type FileConfig struct {
	Dir string `envconfig:"SECRETS_FILE_DIR" default:"/run/secrets"`
}

// KeyVaultConfig configures the key-vault backend. Either Token or the
// client-assertion settings (TenantID, ClientID, PrivateKeyFile) are
// required.
type KeyVaultConfig struct {
	URL            string `envconfig:"SECRETS_KEYVAULT_URL" validate:"omitempty,url"`
	APIVersion     string `envconfig:"SECRETS_KEYVAULT_API_VERSION" default:"7.4"`
	Token          string `envconfig:"SECRETS_KEYVAULT_TOKEN"`
	TenantID       string `envconfig:"SECRETS_KEYVAULT_TENANT_ID"`
	ClientID       string `envconfig:"SECRETS_KEYVAULT_CLIENT_ID"`
	PrivateKeyFile string `envconfig:"SECRETS_KEYVAULT_PRIVATE_KEY_FILE"`
	KeyID          string `envconfig:"SECRETS_KEYVAULT_KEY_ID"`
	AuthorityURL   string `envconfig:"SECRETS_KEYVAULT_AUTHORITY_URL" validate:"omitempty,url"`
}

// AWSConfig configures the Secrets Manager backend.
type AWSConfig struct {
	Region   string `envconfig:"SECRETS_AWS_REGION"`
	Endpoint string `envconfig:"SECRETS_AWS_ENDPOINT" validate:"omitempty,url"`
	Prefix   string `envconfig:"SECRETS_AWS_PREFIX"`
}

// ObserveConfig configures telemetry.
type ObserveConfig struct {
	ServiceName     string  `envconfig:"SECRETS_SERVICE_NAME" default:"secretops"`
	LogLevel        string  `envconfig:"SECRETS_LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`
	TracingExporter string  `envconfig:"SECRETS_TRACING_EXPORTER" default:"none" validate:"oneof=otlp stdout none"`
	SamplePct       float64 `envconfig:"SECRETS_TRACING_SAMPLE_PCT" default:"1" validate:"gte=0,lte=1"`
	MetricsExporter string  `envconfig:"SECRETS_METRICS_EXPORTER" default:"none" validate:"oneof=otlp prometheus stdout none"`
	OTLPEndpoint    string  `envconfig:"SECRETS_OTLP_ENDPOINT"`
	OTLPInsecure    bool    `envconfig:"SECRETS_OTLP_INSECURE" default:"false"`
}

// ObserverConfig converts the settings to an observe.Config.
func (c ObserveConfig) ObserverConfig(version string) observe.Config {
	return observe.Config{
		ServiceName: c.ServiceName,
		Version:     version,
		Tracing: observe.TracingConfig{
			Enabled:   c.TracingExporter != "none",
			Exporter:  c.TracingExporter,
			SamplePct: c.SamplePct,
		},
		Metrics: observe.MetricsConfig{
			Enabled:  c.MetricsExporter != "none",
			Exporter: c.MetricsExporter,
		},
		Logging: observe.LoggingConfig{
			Enabled: true,
			Level:   c.LogLevel,
		},
		Exporter: exporters.Options{
			Endpoint: c.OTLPEndpoint,
			Insecure: c.OTLPInsecure,
		},
	}
}

// NewObserver builds the telemetry pipeline described by c.Observe.
func (c *Config) NewObserver(ctx context.Context, version string) (observe.Observer, error) {
	obs, err := observe.NewObserver(ctx, c.Observe.ObserverConfig(version))
	if err != nil {
		return nil, &ConfigError{Type: ErrBuild, Message: "failed to create observer", Err: err}
	}
	return obs, nil
}

// usesClientAssertion reports whether client-assertion settings are present.
func (c KeyVaultConfig) usesClientAssertion() bool {
	return c.TenantID != "" || c.ClientID != "" || c.PrivateKeyFile != ""
}

// ConfigErrorType categorizes configuration failures.
type ConfigErrorType string

const (
	// ErrParsing indicates an environment value could not be parsed.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
	// ErrValidation indicates the configuration failed validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrBuild indicates a backend could not be constructed.
	ErrBuild ConfigErrorType = "BUILD_FAILED"
)

// ConfigError is returned by Load and Build.
type ConfigError struct {
	Type    ConfigErrorType
	Message string
	Err     error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap returns the underlying error.
func (e *ConfigError) Unwrap() error {
	return e.Err
}
