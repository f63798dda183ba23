package keyvault

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonwraymond/secretops/secret"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type tokenServer struct {
	*httptest.Server
	calls  atomic.Int64
	status atomic.Int64
	gated  atomic.Bool
	gate   chan struct{}
}

func newTokenServer(t *testing.T, key *rsa.PrivateKey) *tokenServer {
	t.Helper()
	ts := &tokenServer{gate: make(chan struct{})}
	ts.status.Store(http.StatusOK)
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ts.calls.Add(1)
		if ts.gated.Load() {
			<-ts.gate
		}

		assert.Equal(t, "/tenant-1/oauth2/v2.0/token", r.URL.Path)
		if !assert.NoError(t, r.ParseForm()) {
			return
		}
		assert.Equal(t, "client_credentials", r.PostForm.Get("grant_type"))
		assert.Equal(t, "client-1", r.PostForm.Get("client_id"))
		assert.Equal(t, DefaultScope, r.PostForm.Get("scope"))
		assert.Equal(t, assertionType, r.PostForm.Get("client_assertion_type"))

		claims := &jwt.RegisteredClaims{}
		tok, err := jwt.ParseWithClaims(r.PostForm.Get("client_assertion"), claims,
			func(tok *jwt.Token) (any, error) { return &key.PublicKey, nil },
			jwt.WithValidMethods([]string{"RS256"}),
			jwt.WithoutClaimsValidation(),
		)
		if !assert.NoError(t, err) {
			return
		}
		assert.True(t, tok.Valid)
		assert.Equal(t, "client-1", claims.Issuer)
		assert.Equal(t, "client-1", claims.Subject)
		assert.Equal(t, "kid-1", tok.Header["kid"])
		assert.NotEmpty(t, claims.ID)

		status := int(ts.status.Load())
		if status != http.StatusOK {
			writeJSON(w, status, map[string]string{"error": "invalid_client", "error_description": "bad cert"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"access_token": "access-" + time.Now().Format(time.RFC3339Nano),
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	}))
	t.Cleanup(ts.Close)
	return ts
}

func newSource(t *testing.T) (*ClientAssertionSource, *tokenServer, *testClock) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	ts := newTokenServer(t, key)
	clock := &testClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	src, err := NewClientAssertionSource(ClientAssertionConfig{
		TenantID:     "tenant-1",
		ClientID:     "client-1",
		PrivateKey:   key,
		KeyID:        "kid-1",
		AuthorityURL: ts.URL,
		Now:          clock.Now,
	})
	require.NoError(t, err)
	return src, ts, clock
}

func TestNewClientAssertionSource_Validation(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	_, err = NewClientAssertionSource(ClientAssertionConfig{ClientID: "c", PrivateKey: key})
	assert.ErrorIs(t, err, ErrTenantRequired)
	_, err = NewClientAssertionSource(ClientAssertionConfig{TenantID: "t", PrivateKey: key})
	assert.ErrorIs(t, err, ErrClientIDRequired)
	_, err = NewClientAssertionSource(ClientAssertionConfig{TenantID: "t", ClientID: "c"})
	assert.ErrorIs(t, err, ErrPrivateKeyRequired)
}

func TestClientAssertionSource_CachesToken(t *testing.T) {
	src, ts, clock := newSource(t)
	ctx := context.Background()

	first, err := src.Token(ctx)
	require.NoError(t, err)
	second, err := src.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.EqualValues(t, 1, ts.calls.Load())

	// Inside the refresh skew the token is renewed.
	clock.Advance(time.Hour - DefaultRefreshSkew)
	_, err = src.Token(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, ts.calls.Load())
}

func TestClientAssertionSource_CoalescesRefresh(t *testing.T) {
	src, ts, _ := newSource(t)
	ts.gated.Store(true)

	const callers = 20
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := src.Token(context.Background())
			assert.NoError(t, err)
		}()
	}

	require.Eventually(t, func() bool { return ts.calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(ts.gate)
	wg.Wait()

	assert.EqualValues(t, 1, ts.calls.Load())
}

func TestClientAssertionSource_RejectedCredentials(t *testing.T) {
	src, ts, _ := newSource(t)
	ts.status.Store(http.StatusBadRequest)

	_, err := src.Token(context.Background())
	require.Error(t, err)
	assert.Equal(t, secret.KindUnauthorized, secret.KindOf(err))

	var herr *HTTPError
	require.ErrorAs(t, err, &herr)
	assert.Equal(t, "invalid_client", herr.Code)
}

func TestClientAssertionSource_ServerErrorIsUnavailable(t *testing.T) {
	src, ts, _ := newSource(t)
	ts.status.Store(http.StatusServiceUnavailable)

	_, err := src.Token(context.Background())
	assert.ErrorIs(t, err, secret.ErrUnavailable)
}

func TestBackend_WithClientAssertionSource(t *testing.T) {
	src, _, _ := newSource(t)
	vs := newVaultServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.Header.Get("Authorization"), "Bearer access-")
		writeJSON(w, http.StatusOK, map[string]any{"value": "v", "id": "https://x/secrets/n/1"})
	})

	b, err := New(Config{VaultURL: vs.URL, Tokens: src})
	require.NoError(t, err)

	s, err := b.Fetch(context.Background(), "n", "")
	require.NoError(t, err)
	assert.Equal(t, "1", s.Version)
}

func TestClientAssertionSource_StalledAuthorityTimesOut(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	var calls atomic.Int64
	var stall atomic.Bool
	stall.Store(true)
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if stall.Load() {
			<-release
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"access_token": "fresh", "expires_in": 3600})
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	src, err := NewClientAssertionSource(ClientAssertionConfig{
		TenantID:     "tenant-1",
		ClientID:     "client-1",
		PrivateKey:   key,
		AuthorityURL: srv.URL,
		Timeout:      50 * time.Millisecond,
	})
	require.NoError(t, err)

	start := time.Now()
	_, err = src.Token(context.Background())
	assert.ErrorIs(t, err, secret.ErrUnavailable)
	assert.Less(t, time.Since(start), 5*time.Second)

	stall.Store(false)
	tok, err := src.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fresh", tok)
	assert.EqualValues(t, 2, calls.Load())
}

func TestBackend_UnauthorizedDropsCachedToken(t *testing.T) {
	src, ts, _ := newSource(t)

	var rejected atomic.Bool
	vs := newVaultServer(t, func(w http.ResponseWriter, r *http.Request) {
		if rejected.CompareAndSwap(false, true) {
			writeJSON(w, http.StatusUnauthorized, map[string]any{
				"error": map[string]string{"code": "Unauthorized", "message": "token expired"},
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"value": "v", "id": "https://x/secrets/n/1"})
	})

	b, err := New(Config{VaultURL: vs.URL, Tokens: src})
	require.NoError(t, err)

	_, err = b.Fetch(context.Background(), "n", "")
	assert.Equal(t, secret.KindUnauthorized, secret.KindOf(err))
	assert.EqualValues(t, 1, ts.calls.Load())

	s, err := b.Fetch(context.Background(), "n", "")
	require.NoError(t, err)
	assert.Equal(t, "v", s.Value)
	assert.EqualValues(t, 2, ts.calls.Load())
}

func TestClientAssertionSource_InvalidateKeepsNewerToken(t *testing.T) {
	src, ts, _ := newSource(t)

	tok, err := src.Token(context.Background())
	require.NoError(t, err)

	src.InvalidateToken("some-older-token")
	again, err := src.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, tok, again)
	assert.EqualValues(t, 1, ts.calls.Load())
}
