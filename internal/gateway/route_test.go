package gateway

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/szibis/ingest-gateway/internal/auth"
)

// fakeResolver is a control-plane stand-in keyed by raw token.
type fakeResolver struct {
	mu       sync.Mutex
	records  map[string]auth.Record
	resolves int
	marked   []string
	err      error
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{records: map[string]auth.Record{}}
}

func (f *fakeResolver) add(token string, rec auth.Record) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[token] = rec
}

func (f *fakeResolver) Resolve(_ context.Context, token string) (*auth.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resolves++
	if f.err != nil {
		return nil, f.err
	}
	rec, ok := f.records[token]
	if !ok {
		return nil, auth.ErrUnknownToken
	}
	out := rec
	return &out, nil
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

func TestAuthorizeRoutesToAssignedShard(t *testing.T) {
	resolver := newFakeResolver()
	resolver.add("abc", auth.Record{TokenID: "tok-1", TenantID: "t1", AssignedShard: "shard-1"})
	cache := auth.NewCache(resolver, time.Minute)
	endpoints := []string{"http://h0:9", "http://h1:9"}

	rec, endpoint, err := authorize(context.Background(), cache, "abc", endpoints)
	if err != nil {
		t.Fatalf("authorize failed: %v", err)
	}
	if rec.TenantID != "t1" {
		t.Errorf("tenant = %q, want t1", rec.TenantID)
	}
	if endpoint != "http://h1:9" {
		t.Errorf("endpoint = %q, want http://h1:9", endpoint)
	}
}

func TestAuthorizeDefaultsToFirstShard(t *testing.T) {
	resolver := newFakeResolver()
	resolver.add("abc", auth.Record{TokenID: "tok-1", TenantID: "t1"})
	cache := auth.NewCache(resolver, time.Minute)
	endpoints := []string{"http://h0:9", "http://h1:9"}

	_, endpoint, err := authorize(context.Background(), cache, "abc", endpoints)
	if err != nil {
		t.Fatalf("authorize failed: %v", err)
	}
	if endpoint != "http://h0:9" {
		t.Errorf("endpoint = %q, want http://h0:9", endpoint)
	}
}

func TestAuthorizeMissingTokenSkipsResolver(t *testing.T) {
	resolver := newFakeResolver()
	cache := auth.NewCache(resolver, time.Minute)

	_, _, err := authorize(context.Background(), cache, "", []string{"http://h0:9"})
	if !errors.Is(err, ErrMissingToken) {
		t.Fatalf("err = %v, want ErrMissingToken", err)
	}
	if n := resolver.resolveCount(); n != 0 {
		t.Errorf("resolver consulted %d times for empty token", n)
	}
}

func TestAuthorizeUnknownToken(t *testing.T) {
	resolver := newFakeResolver()
	cache := auth.NewCache(resolver, time.Minute)

	_, _, err := authorize(context.Background(), cache, "nope", []string{"http://h0:9"})
	if !errors.Is(err, auth.ErrUnknownToken) {
		t.Fatalf("err = %v, want ErrUnknownToken", err)
	}
}

func TestAuthorizeShardOutOfRange(t *testing.T) {
	resolver := newFakeResolver()
	resolver.add("abc", auth.Record{TokenID: "tok-1", TenantID: "t1", AssignedShard: "shard-7"})
	cache := auth.NewCache(resolver, time.Minute)

	rec, _, err := authorize(context.Background(), cache, "abc", []string{"http://h0:9"})
	if !errors.Is(err, ErrNoEndpoint) {
		t.Fatalf("err = %v, want ErrNoEndpoint", err)
	}
	if rec == nil || rec.TenantID != "t1" {
		t.Errorf("record should still identify the tenant, got %+v", rec)
	}
}
