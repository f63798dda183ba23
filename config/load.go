package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Load reads .env (if present) and the environment, then validates the
// result.
func Load() (*Config, error) {
	return LoadFiles()
}

// LoadFiles is Load with explicit dotenv files. Missing files are ignored.
// Dotenv values never override variables already set.
func LoadFiles(files ...string) (*Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, &ConfigError{
				Type:    ErrParsing,
				Message: fmt.Sprintf("failed to read %s", f),
				Err:     err,
			}
		}
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, &ConfigError{
			Type:    ErrParsing,
			Message: "failed to process environment configuration",
			Err:     err,
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks struct rules and the settings each configured provider
// needs.
func (c *Config) Validate() error {
	c.normalize()

	if err := validator.New().Struct(c); err != nil {
		return &ConfigError{
			Type:    ErrValidation,
			Message: "configuration validation failed",
			Err:     err,
		}
	}

	var problems []string
	for _, p := range c.Providers {
		switch p {
		case BackendFile:
			if c.File.Dir == "" {
				problems = append(problems, "SECRETS_FILE_DIR is required for the file provider")
			}
		case BackendKeyVault:
			problems = append(problems, c.KeyVault.problems()...)
		}
	}
	if len(problems) > 0 {
		return &ConfigError{
			Type:    ErrValidation,
			Message: strings.Join(problems, "; "),
		}
	}
	return nil
}

func (c KeyVaultConfig) problems() []string {
	var out []string
	if c.URL == "" {
		out = append(out, "SECRETS_KEYVAULT_URL is required for the keyvault provider")
	}
	switch {
	case c.Token != "" && c.usesClientAssertion():
		out = append(out, "SECRETS_KEYVAULT_TOKEN and client assertion settings are mutually exclusive")
	case c.Token == "" && !c.usesClientAssertion():
		out = append(out, "keyvault provider needs SECRETS_KEYVAULT_TOKEN or client assertion settings")
	case c.usesClientAssertion():
		if c.TenantID == "" || c.ClientID == "" || c.PrivateKeyFile == "" {
			out = append(out, "SECRETS_KEYVAULT_TENANT_ID, SECRETS_KEYVAULT_CLIENT_ID and SECRETS_KEYVAULT_PRIVATE_KEY_FILE are all required")
		}
	}
	return out
}

func (c *Config) normalize() {
	for i, p := range c.Providers {
		c.Providers[i] = strings.ToLower(strings.TrimSpace(p))
	}
	for i, k := range c.CriticalKinds {
		c.CriticalKinds[i] = strings.ToLower(strings.TrimSpace(k))
	}
}
