package secret_test

import (
	"context"
	"errors"
	"testing"

	"github.com/jonwraymond/secretops/secret"
	"github.com/jonwraymond/secretops/secret/secrettest"
)

func BenchmarkProvider_CacheHit(b *testing.B) {
	p, _ := secret.NewProvider(secrettest.Always("sim", secrettest.Value("v")))
	ctx := context.Background()
	_, _ = p.GetSecret(ctx, "db")

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			_, _ = p.GetSecret(ctx, "db")
		}
	})
}

func BenchmarkComposite_Fallback(b *testing.B) {
	c, _ := secret.New([]secret.Source{
		{Backend: secrettest.Always("a", secrettest.FailKind(secret.KindNotFound))},
		{Backend: secrettest.Always("b", secrettest.Value("v"))},
	})
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = c.GetSecret(ctx, "db")
	}
}

func BenchmarkKindOf(b *testing.B) {
	err := errors.Join(errors.New("context"), secret.NewError(secret.KindUnavailable, nil))
	for i := 0; i < b.N; i++ {
		_ = secret.KindOf(err)
	}
}
