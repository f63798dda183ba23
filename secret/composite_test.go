package secret_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jonwraymond/secretops/observe"
	"github.com/jonwraymond/secretops/secret"
	"github.com/jonwraymond/secretops/secret/secrettest"
)

func newComposite(t *testing.T, backends []secret.Backend, opts ...secret.Option) *secret.Composite {
	t.Helper()
	sources := make([]secret.Source, len(backends))
	for i, b := range backends {
		sources[i] = secret.Source{Backend: b}
	}
	c, err := secret.New(sources, opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c
}

func TestComposite_FirstSuccessWins(t *testing.T) {
	primary := secrettest.Always("primary", secrettest.Value("p"))
	fallback := secrettest.Always("fallback", secrettest.Value("f"))
	c := newComposite(t, []secret.Backend{primary, fallback})

	s, err := c.GetSecret(context.Background(), "db")
	if err != nil || s.Value != "p" {
		t.Fatalf("GetSecret() = %q, %v; want p", s.Value, err)
	}
	if fallback.Calls() != 0 {
		t.Errorf("fallback called %d times, want 0", fallback.Calls())
	}
}

func TestComposite_FallsBackInOrder(t *testing.T) {
	first := secrettest.Always("first", secrettest.FailKind(secret.KindNotFound))
	second := secrettest.Always("second", secrettest.FailKind(secret.KindUnavailable))
	third := secrettest.Always("third", secrettest.Value("found"))
	fourth := secrettest.Always("fourth", secrettest.Value("never"))
	c := newComposite(t, []secret.Backend{first, second, third, fourth})

	s, err := c.GetSecret(context.Background(), "db")
	if err != nil || s.Value != "found" {
		t.Fatalf("GetSecret() = %q, %v; want found", s.Value, err)
	}
	if first.Calls() != 1 || second.Calls() != 1 || third.Calls() != 1 || fourth.Calls() != 0 {
		t.Errorf("calls = %d/%d/%d/%d, want 1/1/1/0",
			first.Calls(), second.Calls(), third.Calls(), fourth.Calls())
	}
}

func TestComposite_CriticalFailureAborts(t *testing.T) {
	primary := secrettest.Always("primary", secrettest.FailKind(secret.KindUnauthorized))
	fallback := secrettest.Always("fallback", secrettest.Value("f"))
	c := newComposite(t, []secret.Backend{primary, fallback})

	_, err := c.GetSecret(context.Background(), "db")

	var se *secret.Error
	if !errors.As(err, &se) {
		t.Fatalf("error %T is not *secret.Error", err)
	}
	if se.Kind != secret.KindUnauthorized || se.Provider != "primary" {
		t.Errorf("error = %+v, want unauthorized from primary", se)
	}
	if errors.Is(err, secret.ErrExhausted) {
		t.Error("critical failure reported as exhaustion")
	}
	if fallback.Calls() != 0 {
		t.Errorf("fallback called %d times after critical failure", fallback.Calls())
	}
}

func TestComposite_ExhaustedListsFailuresInOrder(t *testing.T) {
	a := secrettest.Always("a", secrettest.FailKind(secret.KindUnavailable))
	b := secrettest.Always("b", secrettest.FailKind(secret.KindNotFound))
	c := secrettest.Always("c", secrettest.Fail(errors.New("weird")))
	comp := newComposite(t, []secret.Backend{a, b, c})

	_, err := comp.GetSecret(context.Background(), "db", secret.Version("v1"))
	if !errors.Is(err, secret.ErrExhausted) {
		t.Fatalf("error = %v, want ErrExhausted", err)
	}

	var ex *secret.ExhaustedError
	if !errors.As(err, &ex) {
		t.Fatalf("error %T is not *ExhaustedError", err)
	}
	want := []secret.Kind{secret.KindUnavailable, secret.KindNotFound, secret.KindUnknown}
	got := ex.Kinds()
	if len(got) != len(want) {
		t.Fatalf("Kinds() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Kinds()[%d] = %v, want %v", i, got[i], want[i])
		}
	}
	if ex.Failures[1].Provider != "b" || ex.Name != "db" || ex.Version != "v1" {
		t.Errorf("exhausted error = %+v", ex)
	}
}

func TestComposite_EmptyChain(t *testing.T) {
	c, err := secret.NewComposite(nil)
	if err != nil {
		t.Fatalf("NewComposite(nil) error = %v", err)
	}
	if _, err := c.GetSecret(context.Background(), "db"); !errors.Is(err, secret.ErrNoProviders) {
		t.Errorf("GetSecret() error = %v, want ErrNoProviders", err)
	}
}

func TestComposite_NilEntries(t *testing.T) {
	if _, err := secret.NewComposite([]*secret.Provider{nil}); !errors.Is(err, secret.ErrNilProvider) {
		t.Errorf("NewComposite error = %v, want ErrNilProvider", err)
	}
	if _, err := secret.New([]secret.Source{{}}); !errors.Is(err, secret.ErrNilBackend) {
		t.Errorf("New error = %v, want ErrNilBackend", err)
	}
}

func TestComposite_CustomPolicy(t *testing.T) {
	primary := secrettest.Always("primary", secrettest.FailKind(secret.KindNotFound))
	fallback := secrettest.Always("fallback", secrettest.Value("f"))
	c := newComposite(t, []secret.Backend{primary, fallback},
		secret.WithPolicy(secret.CriticalKinds(secret.KindNotFound)))

	if _, err := c.GetSecret(context.Background(), "db"); !errors.Is(err, secret.ErrNotFound) {
		t.Errorf("error = %v, want critical ErrNotFound", err)
	}
	if fallback.Calls() != 0 {
		t.Error("fallback consulted after critical failure")
	}
}

func TestComposite_ProviderPolicyOverride(t *testing.T) {
	primary := secrettest.Always("primary", secrettest.FailKind(secret.KindUnauthorized))
	fallback := secrettest.Always("fallback", secrettest.Value("f"))

	c, err := secret.New([]secret.Source{
		{Backend: primary, Policy: secret.CriticalKinds()},
		{Backend: fallback},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	s, err := c.GetSecret(context.Background(), "db")
	if err != nil || s.Value != "f" {
		t.Errorf("GetSecret() = %q, %v; want fallback value", s.Value, err)
	}
}

func TestComposite_CallerCancellationStopsWalk(t *testing.T) {
	gate := make(chan struct{})
	defer close(gate)
	slow := secrettest.Always("slow", secrettest.Value("v"))
	slow.SetGate(gate)
	fallback := secrettest.Always("fallback", secrettest.Value("f"))
	c := newComposite(t, []secret.Backend{slow, fallback})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := c.GetSecret(ctx, "db")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("error = %v, want DeadlineExceeded", err)
	}
	if errors.Is(err, secret.ErrExhausted) {
		t.Error("cancellation reported as exhaustion")
	}
	if fallback.Calls() != 0 {
		t.Error("walk continued after caller cancellation")
	}
}

func TestComposite_CachesPerProvider(t *testing.T) {
	primary := secrettest.NewSimulatedBackend("primary",
		secrettest.FailKind(secret.KindNotFound),
		secrettest.Value("late"),
	)
	fallback := secrettest.Always("fallback", secrettest.Value("f"))
	c := newComposite(t, []secret.Backend{primary, fallback})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		s, err := c.GetSecret(ctx, "db")
		if err != nil {
			t.Fatalf("GetSecret() error = %v", err)
		}
		want := "f"
		if i == 1 {
			want = "late"
		}
		if s.Value != want {
			t.Errorf("lookup %d = %q, want %q", i, s.Value, want)
		}
	}
	if fallback.Calls() != 1 {
		t.Errorf("fallback calls = %d, want 1", fallback.Calls())
	}
}

func TestComposite_DisableCache(t *testing.T) {
	b := secrettest.Always("env", secrettest.Value("v"))
	c, err := secret.New([]secret.Source{{Backend: b, DisableCache: true}})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	for i := 0; i < 3; i++ {
		_, _ = c.GetSecret(context.Background(), "db")
	}
	if b.Calls() != 3 {
		t.Errorf("backend calls = %d, want 3", b.Calls())
	}
}

func TestComposite_InvalidateAll(t *testing.T) {
	b := secrettest.NewSimulatedBackend("sim", secrettest.Value("a"), secrettest.Value("b"))
	c := newComposite(t, []secret.Backend{b})
	ctx := context.Background()

	_, _ = c.GetSecret(ctx, "db")
	c.Invalidate("db")

	s, _ := c.GetSecret(ctx, "db")
	if s.Value != "b" {
		t.Errorf("GetSecret() after Invalidate = %q, want b", s.Value)
	}
}

func TestComposite_ProviderLookupAndClose(t *testing.T) {
	a := secrettest.Always("a", secrettest.Value("1"))
	b := secrettest.Always("b", secrettest.Value("2"))
	c := newComposite(t, []secret.Backend{a, b})

	if p := c.Provider("b"); p == nil || p.Name() != "b" {
		t.Errorf("Provider(b) = %v", p)
	}
	if p := c.Provider("missing"); p != nil {
		t.Errorf("Provider(missing) = %v, want nil", p)
	}

	providers := c.Providers()
	providers[0] = nil
	if c.Providers()[0] == nil {
		t.Error("Providers() exposes the internal chain")
	}

	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !a.Closed() || !b.Closed() {
		t.Error("backends not closed")
	}
}

func TestComposite_LogsFallbackAndAbort(t *testing.T) {
	var buf bytes.Buffer
	logger := observe.NewLoggerWithWriter("debug", &buf)

	failing := secrettest.Always("failing", secrettest.FailKind(secret.KindUnavailable))
	denied := secrettest.Always("denied", secrettest.FailKind(secret.KindUnauthorized))
	c := newComposite(t, []secret.Backend{failing, denied}, secret.WithLogger(logger))

	_, _ = c.GetSecret(context.Background(), "db")

	var levels []string
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("invalid log line %q: %v", line, err)
		}
		if entry["secret.provider"] == nil {
			continue
		}
		if lvl, _ := entry["level"].(string); lvl == "warn" || lvl == "error" {
			levels = append(levels, lvl+":"+entry["secret.provider"].(string))
		}
	}

	want := []string{"warn:failing", "error:denied"}
	if strings.Join(levels, ",") != strings.Join(want, ",") {
		t.Errorf("log levels = %v, want %v", levels, want)
	}
}
