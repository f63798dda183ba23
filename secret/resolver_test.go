package secret_test

import (
	"context"
	"errors"
	"testing"

	"github.com/jonwraymond/secretops/secret"
	"github.com/jonwraymond/secretops/secret/secrettest"
)

func mapBackend(name string, values map[string]string) secret.Backend {
	return secret.NewBackendFunc(name, func(ctx context.Context, key, version string) (secret.Secret, error) {
		if version != "" {
			key += "@" + version
		}
		v, ok := values[key]
		if !ok {
			return secret.Secret{}, secret.ErrNotFound
		}
		return secret.Secret{Value: v, Version: version}, nil
	})
}

func newResolverChain(t *testing.T) *secret.Composite {
	t.Helper()
	return newComposite(t, []secret.Backend{
		mapBackend("vault", map[string]string{"token": "vault-token", "db@v1": "old-db"}),
		mapBackend("env", map[string]string{"token": "env-token", "empty": "", "db": "env-db"}),
	})
}

func TestParseSecretRef(t *testing.T) {
	tests := []struct {
		in     string
		want   secret.Ref
		wantOK bool
	}{
		{"secretref:token", secret.Ref{Name: "token"}, true},
		{"secretref:token@v2", secret.Ref{Name: "token", Version: "v2"}, true},
		{"secretref:vault:token", secret.Ref{Provider: "vault", Name: "token"}, true},
		{"secretref:vault:path/to/token@v2", secret.Ref{Provider: "vault", Name: "path/to/token", Version: "v2"}, true},
		{"plain", secret.Ref{}, false},
		{"secretref:", secret.Ref{}, false},
		{"secretref::token", secret.Ref{}, false},
		{"secretref:vault:", secret.Ref{}, false},
		{"secretref:token@", secret.Ref{}, false},
		{"secretref:to ken", secret.Ref{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := secret.ParseSecretRef(tt.in)
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("ParseSecretRef(%q) = %+v, %v; want %+v, %v", tt.in, got, ok, tt.want, tt.wantOK)
			}
			if ok && got.String() != tt.in {
				t.Errorf("String() = %q, want %q", got.String(), tt.in)
			}
		})
	}
}

func TestResolver_ResolveValue(t *testing.T) {
	r := secret.NewResolver(newResolverChain(t), false)
	ctx := context.Background()

	tests := []struct {
		in   string
		want string
	}{
		{"literal", "literal"},
		{"secretref:token", "vault-token"},
		{"secretref:env:token", "env-token"},
		{"secretref:db", "env-db"},
		{"secretref:vault:db@v1", "old-db"},
		{"Bearer secretref:token", "Bearer vault-token"},
		{"a=secretref:env:token b=secretref:db", "a=env-token b=env-db"},
		{"cost $$5", "cost $5"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := r.ResolveValue(ctx, tt.in)
			if err != nil {
				t.Fatalf("ResolveValue() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("ResolveValue(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestResolver_EnvExpansionFirst(t *testing.T) {
	t.Setenv("SECRET_NAME", "token")
	r := secret.NewResolver(newResolverChain(t), false)

	got, err := r.ResolveValue(context.Background(), "secretref:env:${SECRET_NAME}")
	if err != nil || got != "env-token" {
		t.Errorf("ResolveValue() = %q, %v", got, err)
	}
}

func TestResolver_Errors(t *testing.T) {
	ctx := context.Background()
	r := secret.NewResolver(newResolverChain(t), true)

	if _, err := r.ResolveValue(ctx, "secretref:missing"); !errors.Is(err, secret.ErrExhausted) {
		t.Errorf("missing secret error = %v, want ErrExhausted", err)
	}
	if _, err := r.ResolveValue(ctx, "secretref:nope:token"); !errors.Is(err, secret.ErrUnknownProvider) {
		t.Errorf("unknown provider error = %v", err)
	}
	if _, err := r.ResolveValue(ctx, "secretref:env:empty"); !errors.Is(err, secret.ErrEmptyValue) {
		t.Errorf("strict empty error = %v", err)
	}
	if _, err := r.ResolveValue(ctx, "x secretref:a@ y"); !errors.Is(err, secret.ErrInvalidRef) {
		t.Errorf("malformed inline error = %v", err)
	}
	if _, err := r.ResolveValue(ctx, "${SECRETOPS_TEST_UNSET_VAR}"); !errors.Is(err, secret.ErrMissingEnv) {
		t.Errorf("missing env error = %v", err)
	}
}

func TestResolver_SingleProviderSource(t *testing.T) {
	p := newProvider(t, secrettest.Always("only", secrettest.Value("v")))
	r := secret.NewResolver(p, false)
	ctx := context.Background()

	if got, err := r.ResolveValue(ctx, "secretref:only:x"); err != nil || got != "v" {
		t.Errorf("ResolveValue() = %q, %v", got, err)
	}
	if _, err := r.ResolveValue(ctx, "secretref:other:x"); !errors.Is(err, secret.ErrUnknownProvider) {
		t.Errorf("error = %v, want ErrUnknownProvider", err)
	}
}

func TestResolver_SliceAndMap(t *testing.T) {
	r := secret.NewResolver(newResolverChain(t), false)
	ctx := context.Background()

	slice, err := r.ResolveSlice(ctx, []string{"secretref:token", "plain"})
	if err != nil || slice[0] != "vault-token" || slice[1] != "plain" {
		t.Errorf("ResolveSlice() = %v, %v", slice, err)
	}

	m, err := r.ResolveMap(ctx, map[string]string{"auth": "secretref:env:token"})
	if err != nil || m["auth"] != "env-token" {
		t.Errorf("ResolveMap() = %v, %v", m, err)
	}

	if _, err := r.ResolveMap(ctx, map[string]string{"bad": "secretref:missing"}); err == nil {
		t.Error("ResolveMap() with missing secret succeeded")
	}

	if m, err := r.ResolveMap(ctx, nil); m != nil || err != nil {
		t.Errorf("ResolveMap(nil) = %v, %v", m, err)
	}
}

func TestResolver_Nil(t *testing.T) {
	var r *secret.Resolver
	got, err := r.ResolveValue(context.Background(), "secretref:token")
	if err != nil || got != "secretref:token" {
		t.Errorf("nil ResolveValue() = %q, %v", got, err)
	}
}
