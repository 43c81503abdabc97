package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

func TestHTTPResolverResolve(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/tokens/resolve" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		var req resolveRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}
		if req.Token != "abc" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(Record{
			TenantID:      "t1",
			AssignedShard: "shard-1",
			TokenID:       "tok-1",
		})
	}))
	defer srv.Close()

	resolver := NewHTTPResolver(HTTPResolverConfig{BaseURL: srv.URL})

	rec, err := resolver.Resolve(context.Background(), "abc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.TenantID != "t1" || rec.AssignedShard != "shard-1" || rec.TokenID != "tok-1" {
		t.Errorf("unexpected record: %+v", rec)
	}
	if rec.TokenHash != HashToken("abc") {
		t.Error("expected token hash to be populated")
	}
}

func TestHTTPResolverUnknownToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	resolver := NewHTTPResolver(HTTPResolverConfig{BaseURL: srv.URL})

	if _, err := resolver.Resolve(context.Background(), "missing"); !errors.Is(err, ErrUnknownToken) {
		t.Fatalf("expected ErrUnknownToken, got %v", err)
	}
}

func TestHTTPResolverServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	resolver := NewHTTPResolver(HTTPResolverConfig{BaseURL: srv.URL})

	_, err := resolver.Resolve(context.Background(), "abc")
	if err == nil || errors.Is(err, ErrUnknownToken) {
		t.Fatalf("expected transport error, got %v", err)
	}
}

func TestHTTPResolverMarkUsedFireAndForget(t *testing.T) {
	var mu sync.Mutex
	var paths []string
	done := make(chan struct{}, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.URL.Path)
		mu.Unlock()
		select {
		case done <- struct{}{}:
		default:
		}
	}))
	defer srv.Close()

	resolver := NewHTTPResolver(HTTPResolverConfig{BaseURL: srv.URL})

	start := time.Now()
	resolver.MarkUsed("tok-1")
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("MarkUsed blocked the caller for %v", elapsed)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("usage marking request never arrived")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(paths) != 1 || paths[0] != "/v1/tokens/tok-1/used" {
		t.Errorf("unexpected usage marking paths: %v", paths)
	}
}
