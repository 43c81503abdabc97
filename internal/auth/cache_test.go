package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeResolver is an in-memory Resolver for tests.
type fakeResolver struct {
	mu       sync.Mutex
	records  map[string]*Record
	resolves int
	marked   []string
	err      error
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{records: map[string]*Record{}}
}

func (f *fakeResolver) Resolve(_ context.Context, token string) (*Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resolves++
	if f.err != nil {
		return nil, f.err
	}
	rec, ok := f.records[token]
	if !ok {
		return nil, ErrUnknownToken
	}
	copied := *rec
	return &copied, nil
}

func (f *fakeResolver) MarkUsed(tokenID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.marked = append(f.marked, tokenID)
}

func (f *fakeResolver) resolveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resolves
}

func TestCacheHitAvoidsSecondResolve(t *testing.T) {
	resolver := newFakeResolver()
	resolver.records["abc"] = &Record{TenantID: "t1", AssignedShard: "shard-1", TokenID: "tok-1"}
	cache := NewCache(resolver, time.Minute)

	first, err := cache.Resolve(context.Background(), "abc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := cache.Resolve(context.Background(), "abc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if resolver.resolveCount() != 1 {
		t.Errorf("expected 1 resolver call, got %d", resolver.resolveCount())
	}
	if first.TenantID != second.TenantID || first.AssignedShard != second.AssignedShard {
		t.Error("cache hit returned a different routing decision")
	}
}

func TestCacheExpiryTriggersReResolve(t *testing.T) {
	resolver := newFakeResolver()
	resolver.records["abc"] = &Record{TenantID: "t1", TokenID: "tok-1"}
	cache := NewCache(resolver, time.Minute)

	current := time.Now()
	cache.now = func() time.Time { return current }

	if _, err := cache.Resolve(context.Background(), "abc"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	current = current.Add(2 * time.Minute)
	if _, err := cache.Resolve(context.Background(), "abc"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if resolver.resolveCount() != 2 {
		t.Errorf("expected 2 resolver calls after expiry, got %d", resolver.resolveCount())
	}
}

func TestCacheDoesNotCacheUnknownTokens(t *testing.T) {
	resolver := newFakeResolver()
	cache := NewCache(resolver, time.Minute)

	if _, err := cache.Resolve(context.Background(), "nope"); !errors.Is(err, ErrUnknownToken) {
		t.Fatalf("expected ErrUnknownToken, got %v", err)
	}

	// Token issued after the failed lookup must work immediately.
	resolver.mu.Lock()
	resolver.records["nope"] = &Record{TenantID: "t2", TokenID: "tok-2"}
	resolver.mu.Unlock()

	rec, err := cache.Resolve(context.Background(), "nope")
	if err != nil {
		t.Fatalf("expected newly issued token to resolve, got %v", err)
	}
	if rec.TenantID != "t2" {
		t.Errorf("unexpected tenant: %s", rec.TenantID)
	}
}

func TestCacheEvictsExpiredEntryOnFailedReResolve(t *testing.T) {
	resolver := newFakeResolver()
	resolver.records["abc"] = &Record{TenantID: "t1", TokenID: "tok-1"}
	cache := NewCache(resolver, time.Minute)

	current := time.Now()
	cache.now = func() time.Time { return current }

	if _, err := cache.Resolve(context.Background(), "abc"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Token revoked, TTL elapsed: the stale entry must not survive.
	resolver.mu.Lock()
	delete(resolver.records, "abc")
	resolver.mu.Unlock()
	current = current.Add(2 * time.Minute)

	if _, err := cache.Resolve(context.Background(), "abc"); !errors.Is(err, ErrUnknownToken) {
		t.Fatalf("expected ErrUnknownToken after revocation, got %v", err)
	}
	if cache.Len() != 0 {
		t.Errorf("expected stale entry to be evicted, cache has %d entries", cache.Len())
	}
}

func TestCacheResolverErrorPropagates(t *testing.T) {
	resolver := newFakeResolver()
	resolver.err = errors.New("store down")
	cache := NewCache(resolver, time.Minute)

	if _, err := cache.Resolve(context.Background(), "abc"); err == nil || errors.Is(err, ErrUnknownToken) {
		t.Fatalf("expected transport error, got %v", err)
	}
}

func TestCacheConcurrentResolve(t *testing.T) {
	resolver := newFakeResolver()
	resolver.records["abc"] = &Record{TenantID: "t1", TokenID: "tok-1"}
	cache := NewCache(resolver, time.Minute)

	var wg sync.WaitGroup
	for g := 0; g < 16; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				rec, err := cache.Resolve(context.Background(), "abc")
				if err != nil {
					t.Errorf("unexpected error: %v", err)
					return
				}
				if rec.TenantID != "t1" {
					t.Errorf("unexpected tenant: %s", rec.TenantID)
					return
				}
			}
		}()
	}
	wg.Wait()

	if cache.Len() != 1 {
		t.Errorf("expected a single cache entry, got %d", cache.Len())
	}
}

func TestHashTokenStableAndDistinct(t *testing.T) {
	if HashToken("abc") != HashToken("abc") {
		t.Error("hash must be stable")
	}
	if HashToken("abc") == HashToken("abd") {
		t.Error("distinct tokens must not collide trivially")
	}
	if len(HashToken("abc")) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(HashToken("abc")))
	}
}

func TestHashPrefix(t *testing.T) {
	if got := HashPrefix(HashToken("abc")); len(got) != 8 {
		t.Errorf("expected 8-char prefix, got %q", got)
	}
	if got := HashPrefix("ab"); got != "ab" {
		t.Errorf("short hash should pass through, got %q", got)
	}
}
