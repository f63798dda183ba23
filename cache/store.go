package cache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
)

// DefaultShards is the number of lock stripes used when none is configured.
const DefaultShards = 32

// UseDefaultTTL asks the store's Policy for the TTL.
const UseDefaultTTL time.Duration = -1

// Store is an in-memory key to entry table with strict expiry and
// single-flight loading.
//
// Contract:
//   - Concurrency: safe for concurrent use. Keys are spread over independent
//     lock stripes; there is no lock shared by unrelated keys.
//   - Expiry: an entry is never returned once now > CachedAt+TTL.
//   - Loading: at most one loader call per key is in flight, fills and
//     refreshes included; every waiter attached to it observes the same
//     outcome.
//   - Errors: failed loads are not stored unless Policy.FailureTTL > 0.
type Store[V any] struct {
	policy Policy
	clock  func() time.Time
	shards []*shard[V]
	mask   uint64
	stats  counters
}

type shard[V any] struct {
	mu      sync.RWMutex
	entries map[string]*record[V]
	// flights holds the loader call in progress per key. An entry exists
	// only while its call runs.
	flights map[string]*flight[V]
}

// flight is one loader call and the outcome shared by its waiters.
type flight[V any] struct {
	done    chan struct{}
	entry   Entry[V]
	err     error
	refresh bool
	// discard is set by Invalidate and Purge; the result still reaches the
	// waiters but is not stored.
	discard bool
}

type record[V any] struct {
	entry Entry[V]
	err   error
}

type counters struct {
	hits     atomic.Int64
	misses   atomic.Int64
	loads    atomic.Int64
	shared   atomic.Int64
	failures atomic.Int64
}

// Stats is a point-in-time snapshot of store activity.
type Stats struct {
	Hits     int64
	Misses   int64
	Loads    int64
	Shared   int64
	Failures int64
	Entries  int
}

type storeOptions struct {
	shards int
	clock  func() time.Time
}

// StoreOption configures a Store.
type StoreOption func(*storeOptions)

// WithShards sets the number of lock stripes, rounded up to a power of two.
func WithShards(n int) StoreOption {
	return func(o *storeOptions) {
		o.shards = n
	}
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) StoreOption {
	return func(o *storeOptions) {
		if now != nil {
			o.clock = now
		}
	}
}

// NewStore creates an empty store governed by policy.
func NewStore[V any](policy Policy, opts ...StoreOption) *Store[V] {
	o := storeOptions{
		shards: DefaultShards,
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}

	n := 1
	for n < o.shards {
		n <<= 1
	}

	s := &Store[V]{
		policy: policy,
		clock:  o.clock,
		shards: make([]*shard[V], n),
		mask:   uint64(n - 1),
	}
	for i := range s.shards {
		s.shards[i] = &shard[V]{
			entries: make(map[string]*record[V]),
			flights: make(map[string]*flight[V]),
		}
	}
	return s
}

// Policy returns the policy the store was created with.
func (s *Store[V]) Policy() Policy {
	return s.policy
}

// Get returns the live entry for key. Expired entries are removed and
// reported as a miss.
func (s *Store[V]) Get(key Key) (Entry[V], bool) {
	k := key.String()
	rec, ok := s.lookup(s.shardFor(k), k)
	if !ok || rec.err != nil {
		return Entry[V]{}, false
	}
	return rec.entry, true
}

// Put stores value under key with CachedAt set to now, replacing any
// previous entry. A non-positive ttl stores nothing.
func (s *Store[V]) Put(key Key, value V, ttl time.Duration) error {
	if err := key.Validate(); err != nil {
		return err
	}
	ttl = s.policy.EffectiveTTL(ttl)
	if ttl <= 0 {
		return nil
	}

	k := key.String()
	sh := s.shardFor(k)
	entry := Entry[V]{Value: value, CachedAt: s.clock(), TTL: ttl}

	sh.mu.Lock()
	sh.entries[k] = &record[V]{entry: entry}
	sh.mu.Unlock()
	return nil
}

// Invalidate removes the entry for key. It is a no-op for absent keys.
// A load already in flight for key still answers its waiters but does not
// store its result.
func (s *Store[V]) Invalidate(key Key) {
	k := key.String()
	sh := s.shardFor(k)

	sh.mu.Lock()
	delete(sh.entries, k)
	if f, ok := sh.flights[k]; ok {
		f.discard = true
		delete(sh.flights, k)
	}
	sh.mu.Unlock()
}

// Purge removes every entry. Loads in flight are treated as by Invalidate.
func (s *Store[V]) Purge() {
	for _, sh := range s.shards {
		sh.mu.Lock()
		for _, f := range sh.flights {
			f.discard = true
		}
		sh.entries = make(map[string]*record[V])
		sh.flights = make(map[string]*flight[V])
		sh.mu.Unlock()
	}
}

// Len returns the number of stored entries, including expired entries that
// have not been looked up since they expired.
func (s *Store[V]) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.RLock()
		n += len(sh.entries)
		sh.mu.RUnlock()
	}
	return n
}

// Stats returns a snapshot of the store counters.
func (s *Store[V]) Stats() Stats {
	return Stats{
		Hits:     s.stats.hits.Load(),
		Misses:   s.stats.misses.Load(),
		Loads:    s.stats.loads.Load(),
		Shared:   s.stats.shared.Load(),
		Failures: s.stats.failures.Load(),
		Entries:  s.Len(),
	}
}

// GetOrLoad returns the live entry for key or loads it.
//
// On a miss exactly one loader call runs per key; concurrent callers for the
// same key wait for it and receive the same value or error. A refresh in
// flight counts as that call. The value is stored only on success. The loader runs on a context that is not canceled
// when ctx is, so a caller giving up only abandons its own wait.
//
// A non-positive ttl bypasses the store for this call: the loader is invoked
// directly and nothing is read or written.
func (s *Store[V]) GetOrLoad(ctx context.Context, key Key, ttl time.Duration, loader Loader[V]) (Entry[V], error) {
	if loader == nil {
		return Entry[V]{}, ErrNilLoader
	}
	if err := key.Validate(); err != nil {
		return Entry[V]{}, err
	}

	ttl = s.policy.EffectiveTTL(ttl)
	if ttl <= 0 {
		return s.passThrough(ctx, loader)
	}

	k := key.String()
	sh := s.shardFor(k)
	if rec, ok := s.lookup(sh, k); ok {
		s.stats.hits.Add(1)
		if rec.err != nil {
			return Entry[V]{}, rec.err
		}
		return rec.entry, nil
	}
	s.stats.misses.Add(1)

	if err := ctx.Err(); err != nil {
		return Entry[V]{}, err
	}

	sh.mu.Lock()
	// Another flight may have stored the key between our miss and now.
	if rec, ok := sh.entries[k]; ok && !rec.entry.Expired(s.clock()) {
		sh.mu.Unlock()
		if rec.err != nil {
			return Entry[V]{}, rec.err
		}
		return rec.entry, nil
	}
	f, ok := sh.flights[k]
	if ok {
		s.stats.shared.Add(1)
	} else {
		f = s.start(ctx, sh, k, ttl, loader, false)
	}
	sh.mu.Unlock()

	return f.wait(ctx)
}

// Refresh invokes the loader even when a live entry exists. On success the
// entry is replaced; on failure the existing entry is left untouched.
// Concurrent refreshes of the same key share one loader call. A fill already
// in flight is waited for first, so its older result cannot overwrite the
// refreshed one.
func (s *Store[V]) Refresh(ctx context.Context, key Key, ttl time.Duration, loader Loader[V]) (Entry[V], error) {
	if loader == nil {
		return Entry[V]{}, ErrNilLoader
	}
	if err := key.Validate(); err != nil {
		return Entry[V]{}, err
	}

	ttl = s.policy.EffectiveTTL(ttl)
	if ttl <= 0 {
		return s.passThrough(ctx, loader)
	}
	if err := ctx.Err(); err != nil {
		return Entry[V]{}, err
	}

	k := key.String()
	sh := s.shardFor(k)
	for {
		sh.mu.Lock()
		f, ok := sh.flights[k]
		switch {
		case !ok:
			f = s.start(ctx, sh, k, ttl, loader, true)
			sh.mu.Unlock()
			return f.wait(ctx)
		case f.refresh:
			s.stats.shared.Add(1)
			sh.mu.Unlock()
			return f.wait(ctx)
		}
		sh.mu.Unlock()

		select {
		case <-f.done:
		case <-ctx.Done():
			return Entry[V]{}, ctx.Err()
		}
	}
}

func (s *Store[V]) passThrough(ctx context.Context, loader Loader[V]) (Entry[V], error) {
	s.stats.loads.Add(1)
	v, err := s.call(ctx, loader)
	if err != nil {
		s.stats.failures.Add(1)
		return Entry[V]{}, err
	}
	return Entry[V]{Value: v, CachedAt: s.clock()}, nil
}

// start registers a flight for k and runs loader in the background. The
// caller must hold sh.mu.
func (s *Store[V]) start(
	ctx context.Context,
	sh *shard[V],
	k string,
	ttl time.Duration,
	loader Loader[V],
	refresh bool,
) *flight[V] {
	f := &flight[V]{done: make(chan struct{}), refresh: refresh}
	sh.flights[k] = f
	go s.run(context.WithoutCancel(ctx), sh, k, ttl, loader, f)
	return f
}

func (s *Store[V]) run(ctx context.Context, sh *shard[V], k string, ttl time.Duration, loader Loader[V], f *flight[V]) {
	s.stats.loads.Add(1)
	v, err := s.call(ctx, loader)
	now := s.clock()

	sh.mu.Lock()
	if err != nil {
		s.stats.failures.Add(1)
		f.err = err
		if fttl := s.policy.clampFailureTTL(); !f.refresh && !f.discard && fttl > 0 {
			sh.entries[k] = &record[V]{
				entry: Entry[V]{CachedAt: now, TTL: fttl},
				err:   err,
			}
		}
	} else {
		f.entry = Entry[V]{Value: v, CachedAt: now, TTL: ttl}
		if !f.discard {
			sh.entries[k] = &record[V]{entry: f.entry}
		}
	}
	if sh.flights[k] == f {
		delete(sh.flights, k)
	}
	sh.mu.Unlock()

	close(f.done)
}

func (f *flight[V]) wait(ctx context.Context) (Entry[V], error) {
	select {
	case <-f.done:
		if f.err != nil {
			return Entry[V]{}, f.err
		}
		return f.entry, nil
	case <-ctx.Done():
		return Entry[V]{}, ctx.Err()
	}
}

func (s *Store[V]) lookup(sh *shard[V], k string) (record[V], bool) {
	sh.mu.RLock()
	rec, ok := sh.entries[k]
	sh.mu.RUnlock()

	if !ok {
		return record[V]{}, false
	}

	if rec.entry.Expired(s.clock()) {
		// Expired - clean up lazily, unless it was already replaced.
		sh.mu.Lock()
		if cur, ok := sh.entries[k]; ok && cur == rec {
			delete(sh.entries, k)
		}
		sh.mu.Unlock()
		return record[V]{}, false
	}

	return *rec, true
}

func (s *Store[V]) call(ctx context.Context, loader Loader[V]) (v V, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrLoaderPanic, r)
		}
	}()
	return loader(ctx)
}

func (s *Store[V]) shardFor(k string) *shard[V] {
	return s.shards[xxhash.Sum64String(k)&s.mask]
}
