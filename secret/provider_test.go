package secret_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonwraymond/secretops/cache"
	"github.com/jonwraymond/secretops/secret"
	"github.com/jonwraymond/secretops/secret/secrettest"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newProvider(t *testing.T, b secret.Backend, opts ...secret.ProviderOption) *secret.Provider {
	t.Helper()
	p, err := secret.NewProvider(b, opts...)
	if err != nil {
		t.Fatalf("NewProvider() error = %v", err)
	}
	return p
}

func TestNewProvider_NilBackend(t *testing.T) {
	if _, err := secret.NewProvider(nil); !errors.Is(err, secret.ErrNilBackend) {
		t.Errorf("NewProvider(nil) error = %v, want ErrNilBackend", err)
	}
}

func TestProvider_CacheHit(t *testing.T) {
	b := secrettest.NewSimulatedBackend("sim", secrettest.Value("v1"), secrettest.Value("v2"))
	p := newProvider(t, b, secret.WithTTL(time.Minute))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		s, err := p.GetSecret(ctx, "db")
		if err != nil {
			t.Fatalf("GetSecret() error = %v", err)
		}
		if s.Value != "v1" {
			t.Errorf("GetSecret() = %q, want v1", s.Value)
		}
	}
	if got := b.Calls(); got != 1 {
		t.Errorf("backend calls = %d, want 1", got)
	}
}

func TestProvider_TTLExpiry(t *testing.T) {
	clock := newFakeClock()
	store := cache.NewStore[secret.Secret](cache.DefaultPolicy(), cache.WithClock(clock.Now))
	b := secrettest.NewSimulatedBackend("sim", secrettest.Value("old"), secrettest.Value("new"))
	p := newProvider(t, b, secret.WithStore(store), secret.WithTTL(time.Minute))
	ctx := context.Background()

	if s, _ := p.GetSecret(ctx, "db"); s.Value != "old" {
		t.Fatalf("first GetSecret() = %q", s.Value)
	}
	clock.Advance(time.Minute)
	if s, _ := p.GetSecret(ctx, "db"); s.Value != "old" {
		t.Errorf("GetSecret() at exactly TTL = %q, want old", s.Value)
	}
	clock.Advance(time.Nanosecond)
	if s, _ := p.GetSecret(ctx, "db"); s.Value != "new" {
		t.Errorf("GetSecret() after TTL = %q, want new", s.Value)
	}
	if got := b.Calls(); got != 2 {
		t.Errorf("backend calls = %d, want 2", got)
	}
}

func TestProvider_ZeroTTLDisablesCaching(t *testing.T) {
	b := secrettest.Always("sim", secrettest.Value("v"))
	p := newProvider(t, b, secret.WithTTL(0))

	for i := 0; i < 3; i++ {
		if _, err := p.GetSecret(context.Background(), "db"); err != nil {
			t.Fatalf("GetSecret() error = %v", err)
		}
	}
	if got := b.Calls(); got != 3 {
		t.Errorf("backend calls = %d, want 3", got)
	}
}

func TestProvider_SingleFlight(t *testing.T) {
	gate := make(chan struct{})
	b := secrettest.Always("sim", secrettest.Value("shared"))
	b.SetGate(gate)
	p := newProvider(t, b, secret.WithTTL(time.Minute))

	const callers = 50
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := p.GetSecret(context.Background(), "db")
			if err == nil && s.Value != "shared" {
				err = errors.New("unexpected value " + s.Value)
			}
			errs <- err
		}()
	}

	for b.Calls() == 0 {
		time.Sleep(time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)
	close(gate)
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("GetSecret() error = %v", err)
		}
	}
	if got := b.Calls(); got != 1 {
		t.Errorf("backend calls = %d, want 1", got)
	}
}

func TestProvider_VersionsAreCachedSeparately(t *testing.T) {
	b := secrettest.NewSimulatedBackend("sim",
		secrettest.Versioned("latest", "v2"),
		secrettest.Versioned("pinned", "v1"),
	)
	p := newProvider(t, b)
	ctx := context.Background()

	latest, _ := p.GetSecret(ctx, "db")
	pinned, _ := p.GetSecret(ctx, "db", secret.Version("v1"))
	if latest.Value != "latest" || pinned.Value != "pinned" {
		t.Errorf("got latest=%q pinned=%q", latest.Value, pinned.Value)
	}

	reqs := b.Requests()
	if len(reqs) != 2 || reqs[0].Version != "" || reqs[1].Version != "v1" {
		t.Errorf("Requests() = %+v", reqs)
	}
}

func TestProvider_BypassDoesNotPoison(t *testing.T) {
	b := secrettest.NewSimulatedBackend("sim",
		secrettest.Value("good"),
		secrettest.FailKind(secret.KindUnavailable),
		secrettest.Value("fresh"),
	)
	p := newProvider(t, b, secret.WithTTL(time.Minute))
	ctx := context.Background()

	if _, err := p.GetSecret(ctx, "db"); err != nil {
		t.Fatalf("GetSecret() error = %v", err)
	}
	if _, err := p.GetSecret(ctx, "db", secret.BypassCache()); !errors.Is(err, secret.ErrUnavailable) {
		t.Fatalf("bypass error = %v, want ErrUnavailable", err)
	}

	s, err := p.GetSecret(ctx, "db")
	if err != nil || s.Value != "good" {
		t.Errorf("GetSecret() after failed bypass = %q, %v; want cached good", s.Value, err)
	}

	s, err = p.GetSecret(ctx, "db", secret.BypassCache())
	if err != nil || s.Value != "fresh" {
		t.Fatalf("successful bypass = %q, %v", s.Value, err)
	}
	if s, _ := p.GetSecret(ctx, "db"); s.Value != "fresh" {
		t.Errorf("GetSecret() after bypass = %q, want fresh", s.Value)
	}
	if got := b.Calls(); got != 3 {
		t.Errorf("backend calls = %d, want 3", got)
	}
}

func TestProvider_ErrorsAreAnnotated(t *testing.T) {
	cause := errors.New("connection refused")
	b := secrettest.NewSimulatedBackend("vault", secrettest.Fail(cause))
	p := newProvider(t, b)

	_, err := p.GetSecret(context.Background(), "db", secret.Version("v3"))

	var se *secret.Error
	if !errors.As(err, &se) {
		t.Fatalf("error %T is not *secret.Error", err)
	}
	if se.Provider != "vault" || se.Name != "db" || se.Version != "v3" {
		t.Errorf("annotation = %+v", se)
	}
	if se.Kind != secret.KindUnknown {
		t.Errorf("Kind = %v, want unknown", se.Kind)
	}
	if !errors.Is(err, cause) {
		t.Error("cause lost")
	}
}

func TestProvider_BackendKindIsPreserved(t *testing.T) {
	b := secrettest.NewSimulatedBackend("vault", secrettest.FailKind(secret.KindNotFound))
	p := newProvider(t, b)

	_, err := p.GetSecret(context.Background(), "missing")
	if !errors.Is(err, secret.ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestProvider_FailuresNotCached(t *testing.T) {
	b := secrettest.NewSimulatedBackend("sim",
		secrettest.FailKind(secret.KindUnavailable),
		secrettest.Value("recovered"),
	)
	p := newProvider(t, b)
	ctx := context.Background()

	if _, err := p.GetSecret(ctx, "db"); err == nil {
		t.Fatal("first GetSecret() succeeded")
	}
	s, err := p.GetSecret(ctx, "db")
	if err != nil || s.Value != "recovered" {
		t.Errorf("second GetSecret() = %q, %v", s.Value, err)
	}
}

func TestProvider_InvalidName(t *testing.T) {
	b := secrettest.Always("sim", secrettest.Value("v"))
	p := newProvider(t, b)

	for _, name := range []string{"", "   ", "a\nb"} {
		if _, err := p.GetSecret(context.Background(), name); !errors.Is(err, secret.ErrInvalidName) {
			t.Errorf("GetSecret(%q) error = %v, want ErrInvalidName", name, err)
		}
	}
	if got := b.Calls(); got != 0 {
		t.Errorf("backend calls = %d, want 0", got)
	}
}

func TestProvider_CallerCancellationUnclassified(t *testing.T) {
	gate := make(chan struct{})
	defer close(gate)
	b := secrettest.Always("sim", secrettest.Value("v"))
	b.SetGate(gate)
	p := newProvider(t, b)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := p.GetSecret(ctx, "db")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("error = %v, want DeadlineExceeded", err)
	}
	var se *secret.Error
	if errors.As(err, &se) {
		t.Errorf("caller cancellation was classified as %v", se.Kind)
	}
}

func TestProvider_Invalidate(t *testing.T) {
	b := secrettest.NewSimulatedBackend("sim", secrettest.Value("a"), secrettest.Value("b"))
	p := newProvider(t, b)
	ctx := context.Background()

	_, _ = p.GetSecret(ctx, "db")
	p.Invalidate("db")
	p.Invalidate("db")
	p.Invalidate("never-cached")

	s, err := p.GetSecret(ctx, "db")
	if err != nil || s.Value != "b" {
		t.Errorf("GetSecret() after Invalidate = %q, %v; want b", s.Value, err)
	}
}

func TestProvider_BypassDuringFillKeepsRotatedValue(t *testing.T) {
	gate := make(chan struct{})
	b := secrettest.NewSimulatedBackend("sim", secrettest.Value("old"), secrettest.Value("rotated"))
	b.SetGate(gate)
	p := newProvider(t, b, secret.WithTTL(time.Minute))

	fillDone := make(chan error, 1)
	go func() {
		_, err := p.GetSecret(context.Background(), "db")
		fillDone <- err
	}()
	for b.Calls() == 0 {
		time.Sleep(time.Millisecond)
	}

	bypassDone := make(chan secret.Secret, 1)
	bypassErr := make(chan error, 1)
	go func() {
		s, err := p.GetSecret(context.Background(), "db", secret.BypassCache())
		bypassDone <- s
		bypassErr <- err
	}()

	time.Sleep(20 * time.Millisecond)
	if got := b.Calls(); got != 1 {
		t.Errorf("backend calls while fill is blocked = %d, want 1", got)
	}
	close(gate)

	if err := <-fillDone; err != nil {
		t.Fatalf("GetSecret() error = %v", err)
	}
	if err := <-bypassErr; err != nil {
		t.Fatalf("GetSecret(BypassCache) error = %v", err)
	}
	if s := <-bypassDone; s.Value != "rotated" {
		t.Errorf("GetSecret(BypassCache) = %q, want %q", s.Value, "rotated")
	}

	s, err := p.GetSecret(context.Background(), "db")
	if err != nil {
		t.Fatalf("GetSecret() error = %v", err)
	}
	if s.Value != "rotated" {
		t.Errorf("cached value = %q, want %q", s.Value, "rotated")
	}
	if got := b.Calls(); got != 2 {
		t.Errorf("backend calls = %d, want 2", got)
	}
}

func TestProvider_SharedStoreNamespaces(t *testing.T) {
	store := cache.NewStore[secret.Secret](cache.DefaultPolicy())
	a := newProvider(t, secrettest.Always("a", secrettest.Value("from-a")), secret.WithStore(store))
	b := newProvider(t, secrettest.Always("b", secrettest.Value("from-b")), secret.WithStore(store))
	ctx := context.Background()

	sa, _ := a.GetSecret(ctx, "db")
	sb, _ := b.GetSecret(ctx, "db")
	if sa.Value != "from-a" || sb.Value != "from-b" {
		t.Errorf("shared store collided: a=%q b=%q", sa.Value, sb.Value)
	}
	if store.Len() != 2 {
		t.Errorf("store.Len() = %d, want 2", store.Len())
	}
}

func TestProvider_LoaderPanicIsUnknown(t *testing.T) {
	b := secret.NewBackendFunc("panicky", func(ctx context.Context, name, version string) (secret.Secret, error) {
		panic("kaboom")
	})
	p := newProvider(t, b)

	_, err := p.GetSecret(context.Background(), "db")
	if !errors.Is(err, cache.ErrLoaderPanic) {
		t.Fatalf("error = %v, want ErrLoaderPanic", err)
	}
	if secret.KindOf(err) != secret.KindUnknown {
		t.Errorf("KindOf = %v, want unknown", secret.KindOf(err))
	}
}

func TestProvider_Close(t *testing.T) {
	b := secrettest.Always("sim", secrettest.Value("v"))
	p := newProvider(t, b)

	if err := p.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !b.Closed() {
		t.Error("backend not closed")
	}
}
