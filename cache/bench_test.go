package cache

import (
	"context"
	"fmt"
	"testing"
	"time"
)

// BenchmarkStore_GetOrLoad_Hit measures the cached path.
func BenchmarkStore_GetOrLoad_Hit(b *testing.B) {
	s := NewStore[string](DefaultPolicy())
	ctx := context.Background()
	key := NewKey("p", "db", "")
	loader := func(ctx context.Context) (string, error) { return "value", nil }

	_, _ = s.GetOrLoad(ctx, key, time.Hour, loader)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = s.GetOrLoad(ctx, key, time.Hour, loader)
	}
}

// BenchmarkStore_Get_Miss measures miss performance.
func BenchmarkStore_Get_Miss(b *testing.B) {
	s := NewStore[string](DefaultPolicy())
	key := NewKey("p", "missing", "")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = s.Get(key)
	}
}

// BenchmarkStore_Put measures write performance.
func BenchmarkStore_Put(b *testing.B) {
	s := NewStore[string](DefaultPolicy())

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = s.Put(NewKey("p", fmt.Sprintf("key-%d", i), ""), "value", time.Hour)
	}
}

// BenchmarkStore_GetOrLoad_Parallel measures contention across keys.
func BenchmarkStore_GetOrLoad_Parallel(b *testing.B) {
	s := NewStore[string](DefaultPolicy())
	ctx := context.Background()
	loader := func(ctx context.Context) (string, error) { return "value", nil }

	keys := make([]Key, 64)
	for i := range keys {
		keys[i] = NewKey("p", fmt.Sprintf("key-%d", i), "")
		_, _ = s.GetOrLoad(ctx, keys[i], time.Hour, loader)
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			_, _ = s.GetOrLoad(ctx, keys[i%len(keys)], time.Hour, loader)
			i++
		}
	})
}

// BenchmarkKey_String measures key rendering.
func BenchmarkKey_String(b *testing.B) {
	key := NewKey("keyvault", "database-password", "3f2a9c")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = key.String()
	}
}
