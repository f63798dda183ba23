package keyvault

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/jonwraymond/secretops/secret"
)

// TokenSource supplies bearer tokens. Implementations must be safe for
// concurrent use and return classified errors.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// TokenInvalidator is implemented by token sources that cache. The backend
// calls InvalidateToken with a token the vault rejected with 401.
type TokenInvalidator interface {
	InvalidateToken(token string)
}

// StaticToken is a fixed bearer token.
type StaticToken string

// Token returns the token, or an unauthorized error when it is empty.
func (t StaticToken) Token(ctx context.Context) (string, error) {
	if t == "" {
		return "", secret.NewError(secret.KindUnauthorized, errors.New("keyvault: empty static token"))
	}
	return string(t), nil
}

const (
	// DefaultAuthorityURL is the OAuth2 authority.
	DefaultAuthorityURL = "https://login.microsoftonline.com"

	// DefaultScope requests a key-vault access token.
	DefaultScope = "https://vault.azure.net/.default"

	// DefaultRefreshSkew renews tokens this long before they expire.
	DefaultRefreshSkew = 2 * time.Minute

	assertionType     = "urn:ietf:params:oauth:client-assertion-type:jwt-bearer"
	assertionLifetime = 10 * time.Minute
)

// Token source configuration errors.
var (
	ErrTenantRequired     = errors.New("keyvault: tenant id is required")
	ErrClientIDRequired   = errors.New("keyvault: client id is required")
	ErrPrivateKeyRequired = errors.New("keyvault: private key is required")
)

// ClientAssertionConfig configures a ClientAssertionSource.
type ClientAssertionConfig struct {
	TenantID   string
	ClientID   string
	PrivateKey *rsa.PrivateKey
	// KeyID is placed in the assertion's kid header.
	KeyID string

	Scope        string
	AuthorityURL string
	RefreshSkew  time.Duration
	HTTPClient   *http.Client
	// Timeout bounds one token request, independent of the caller's
	// context. Defaults to DefaultTimeout.
	Timeout time.Duration

	// Now replaces time.Now.
	Now func() time.Time
}

// ClientAssertionSource obtains access tokens with the OAuth2 client
// credentials grant, authenticating with an RS256-signed JWT assertion.
//
// Tokens are cached until RefreshSkew before they expire. Concurrent
// refreshes share one token request.
type ClientAssertionSource struct {
	cfg      ClientAssertionConfig
	tokenURL string

	mu        sync.Mutex
	token     string
	expiresAt time.Time

	group singleflight.Group
}

// NewClientAssertionSource validates cfg and creates a source.
func NewClientAssertionSource(cfg ClientAssertionConfig) (*ClientAssertionSource, error) {
	switch {
	case cfg.TenantID == "":
		return nil, ErrTenantRequired
	case cfg.ClientID == "":
		return nil, ErrClientIDRequired
	case cfg.PrivateKey == nil:
		return nil, ErrPrivateKeyRequired
	}
	if cfg.Scope == "" {
		cfg.Scope = DefaultScope
	}
	if cfg.AuthorityURL == "" {
		cfg.AuthorityURL = DefaultAuthorityURL
	}
	if cfg.RefreshSkew <= 0 {
		cfg.RefreshSkew = DefaultRefreshSkew
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: DefaultTimeout}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &ClientAssertionSource{
		cfg: cfg,
		tokenURL: strings.TrimRight(cfg.AuthorityURL, "/") + "/" +
			url.PathEscape(cfg.TenantID) + "/oauth2/v2.0/token",
	}, nil
}

// Token returns a cached token or requests a new one.
func (s *ClientAssertionSource) Token(ctx context.Context) (string, error) {
	if tok, ok := s.cached(); ok {
		return tok, nil
	}

	ch := s.group.DoChan("token", func() (any, error) {
		if tok, ok := s.cached(); ok {
			return tok, nil
		}
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.Timeout)
		defer cancel()
		return s.refresh(rctx)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (s *ClientAssertionSource) cached() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token == "" || !s.cfg.Now().Before(s.expiresAt.Add(-s.cfg.RefreshSkew)) {
		return "", false
	}
	return s.token, true
}

// InvalidateToken drops the cached token if it is still token, so the next
// Token call requests a new one.
func (s *ClientAssertionSource) InvalidateToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token == token {
		s.token = ""
		s.expiresAt = time.Time{}
	}
}

// Assertion returns a freshly signed client assertion.
func (s *ClientAssertionSource) Assertion() (string, error) {
	now := s.cfg.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    s.cfg.ClientID,
		Subject:   s.cfg.ClientID,
		Audience:  jwt.ClaimStrings{s.tokenURL},
		ID:        uuid.NewString(),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(assertionLifetime)),
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	if s.cfg.KeyID != "" {
		tok.Header["kid"] = s.cfg.KeyID
	}
	return tok.SignedString(s.cfg.PrivateKey)
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`

	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func (s *ClientAssertionSource) refresh(ctx context.Context) (string, error) {
	assertion, err := s.Assertion()
	if err != nil {
		return "", secret.NewError(secret.KindUnauthorized, fmt.Errorf("sign client assertion: %w", err))
	}

	form := url.Values{
		"grant_type":            {"client_credentials"},
		"client_id":             {s.cfg.ClientID},
		"scope":                 {s.cfg.Scope},
		"client_assertion_type": {assertionType},
		"client_assertion":      {assertion},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", secret.NewError(secret.KindUnknown, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("client-request-id", uuid.NewString())

	resp, err := s.cfg.HTTPClient.Do(req)
	if err != nil {
		return "", secret.NewError(secret.KindUnavailable, fmt.Errorf("token request: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", secret.NewError(secret.KindUnavailable, fmt.Errorf("token response: %w", err))
	}

	var tr tokenResponse
	_ = json.Unmarshal(body, &tr)

	if resp.StatusCode != http.StatusOK {
		kind := KindForStatus(resp.StatusCode)
		if resp.StatusCode == http.StatusBadRequest {
			// invalid_client, invalid_grant and friends.
			kind = secret.KindUnauthorized
		}
		return "", secret.NewError(kind, &HTTPError{
			StatusCode: resp.StatusCode,
			Code:       tr.Error,
			Message:    tr.ErrorDescription,
			retryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		})
	}
	if tr.AccessToken == "" {
		return "", secret.NewError(secret.KindUnauthorized, errors.New("keyvault: token response has no access_token"))
	}

	s.mu.Lock()
	s.token = tr.AccessToken
	s.expiresAt = s.cfg.Now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	s.mu.Unlock()

	return tr.AccessToken, nil
}
