// Package keyvault serves secrets from a key-vault REST API
// (GET {vault}/secrets/{name}/{version}).
//
// Requests carry a bearer token from a TokenSource and a fresh
// x-ms-client-request-id. HTTP statuses are mapped onto secret kinds:
// 404 is not found, 401 and 403 are unauthorized, 408, 429 and 5xx are
// unavailable.
package keyvault

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jonwraymond/secretops/secret"
)

const (
	// DefaultName is the backend name used when Config.Name is empty.
	DefaultName = "keyvault"

	// DefaultAPIVersion is the api-version query parameter.
	DefaultAPIVersion = "7.4"

	// DefaultTimeout bounds each HTTP request of the default client.
	DefaultTimeout = 30 * time.Second

	maxBodyBytes = 1 << 20
)

// Configuration errors.
var (
	ErrVaultURLRequired = errors.New("keyvault: vault URL is required")
	ErrInvalidVaultURL  = errors.New("keyvault: vault URL must be an absolute http(s) URL")
	ErrTokensRequired   = errors.New("keyvault: token source is required")
)

// Config configures the key-vault backend.
type Config struct {
	Name       string
	VaultURL   string
	APIVersion string
	Tokens     TokenSource
	HTTPClient *http.Client
}

// Backend fetches secrets over HTTP.
type Backend struct {
	name       string
	base       *url.URL
	apiVersion string
	tokens     TokenSource
	client     *http.Client
}

// New validates cfg and creates a backend.
func New(cfg Config) (*Backend, error) {
	if cfg.VaultURL == "" {
		return nil, ErrVaultURLRequired
	}
	base, err := url.Parse(strings.TrimRight(cfg.VaultURL, "/"))
	if err != nil || base.Host == "" || base.RawQuery != "" || (base.Scheme != "https" && base.Scheme != "http") {
		return nil, fmt.Errorf("%w: %q", ErrInvalidVaultURL, cfg.VaultURL)
	}
	if cfg.Tokens == nil {
		return nil, ErrTokensRequired
	}
	if cfg.Name == "" {
		cfg.Name = DefaultName
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = DefaultAPIVersion
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: DefaultTimeout}
	}

	return &Backend{
		name:       cfg.Name,
		base:       base,
		apiVersion: cfg.APIVersion,
		tokens:     cfg.Tokens,
		client:     cfg.HTTPClient,
	}, nil
}

// Name implements secret.Backend.
func (b *Backend) Name() string {
	return b.name
}

type secretBundle struct {
	Value      string `json:"value"`
	ID         string `json:"id"`
	Attributes struct {
		Enabled *bool  `json:"enabled"`
		Exp     *int64 `json:"exp"`
	} `json:"attributes"`
}

// Fetch implements secret.Backend.
func (b *Backend) Fetch(ctx context.Context, name, version string) (secret.Secret, error) {
	segments := []string{"secrets", url.PathEscape(name)}
	if version != "" && version != "latest" {
		segments = append(segments, url.PathEscape(version))
	}

	var bundle secretBundle
	if err := b.get(ctx, segments, nil, &bundle); err != nil {
		return secret.Secret{}, err
	}
	if bundle.Attributes.Enabled != nil && !*bundle.Attributes.Enabled {
		return secret.Secret{}, secret.NewError(secret.KindNotFound, fmt.Errorf("secret %s is disabled", name))
	}

	s := secret.Secret{
		Value:   bundle.Value,
		Version: versionFromID(bundle.ID),
	}
	if bundle.Attributes.Exp != nil {
		s.ExpiresOn = time.Unix(*bundle.Attributes.Exp, 0).UTC()
	}
	return s, nil
}

// Ping lists at most one secret to verify reachability and credentials.
func (b *Backend) Ping(ctx context.Context) error {
	return b.get(ctx, []string{"secrets"}, url.Values{"maxresults": {"1"}}, nil)
}

func (b *Backend) get(ctx context.Context, segments []string, query url.Values, out any) error {
	token, err := b.tokens.Token(ctx)
	if err != nil {
		return err
	}

	q := url.Values{}
	for k, v := range query {
		q[k] = v
	}
	q.Set("api-version", b.apiVersion)
	// segments are already path-escaped.
	target := b.base.String() + "/" + strings.Join(segments, "/") + "?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return secret.NewError(secret.KindUnknown, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-ms-client-request-id", uuid.NewString())

	resp, err := b.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return secret.NewError(secret.KindUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return secret.NewError(secret.KindUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode == http.StatusUnauthorized {
			if inv, ok := b.tokens.(TokenInvalidator); ok {
				inv.InvalidateToken(token)
			}
		}
		return statusError(resp, body)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return secret.NewError(secret.KindUnknown, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

// HTTPError is the cause attached to a classified non-200 response.
type HTTPError struct {
	StatusCode int
	Code       string
	Message    string
	RequestID  string
	retryAfter time.Duration
}

func (e *HTTPError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "keyvault: HTTP %d", e.StatusCode)
	if e.Code != "" {
		b.WriteString(" ")
		b.WriteString(e.Code)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	return b.String()
}

// RetryAfter returns the server's Retry-After hint.
func (e *HTTPError) RetryAfter() time.Duration {
	return e.retryAfter
}

func statusError(resp *http.Response, body []byte) error {
	herr := &HTTPError{
		StatusCode: resp.StatusCode,
		RequestID:  resp.Header.Get("x-ms-request-id"),
		retryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
	}

	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &envelope) == nil {
		herr.Code = envelope.Error.Code
		herr.Message = envelope.Error.Message
	}

	return secret.NewError(KindForStatus(resp.StatusCode), herr)
}

// KindForStatus maps an HTTP status code to a failure kind.
func KindForStatus(code int) secret.Kind {
	switch {
	case code == http.StatusNotFound:
		return secret.KindNotFound
	case code == http.StatusUnauthorized, code == http.StatusForbidden:
		return secret.KindUnauthorized
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests, code >= 500:
		return secret.KindUnavailable
	default:
		return secret.KindUnknown
	}
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// versionFromID returns the last path segment of a secret id such as
// https://vault/secrets/name/3f2a.
func versionFromID(id string) string {
	u, err := url.Parse(id)
	if err != nil {
		return ""
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 3 || parts[0] != "secrets" {
		return ""
	}
	return parts[2]
}
