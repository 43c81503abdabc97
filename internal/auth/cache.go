package auth

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// DefaultTTL is how long a resolved record is served from cache before the
// next lookup re-resolves. Token revocation takes effect within this window.
const DefaultTTL = 60 * time.Second

var (
	authCacheLookupsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_gateway_auth_cache_lookups_total",
		Help: "Total authentication cache lookups by result",
	}, []string{"result"})

	authResolveErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ingest_gateway_auth_resolve_errors_total",
		Help: "Total credential-store resolution failures (excluding unknown tokens)",
	})
)

func init() {
	prometheus.MustRegister(authCacheLookupsTotal)
	prometheus.MustRegister(authResolveErrorsTotal)
}

// Cache is a process-wide TTL cache of resolved authorization records,
// keyed by token hash. Entries are replaced independently; concurrent
// misses for the same token may each call the resolver, last write wins.
type Cache struct {
	resolver Resolver
	ttl      time.Duration

	mu      sync.RWMutex
	records map[string]*Record

	// now is overridable in tests.
	now func() time.Time
}

// NewCache creates an authentication cache in front of a resolver.
// A non-positive ttl falls back to DefaultTTL.
func NewCache(resolver Resolver, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		resolver: resolver,
		ttl:      ttl,
		records:  make(map[string]*Record),
		now:      time.Now,
	}
}

// Resolve returns the authorization record for a token, serving from cache
// while the record is fresh. Unknown tokens return ErrUnknownToken and are
// never cached, so a newly issued token works immediately.
func (c *Cache) Resolve(ctx context.Context, token string) (*Record, error) {
	key := HashToken(token)

	c.mu.RLock()
	rec, ok := c.records[key]
	c.mu.RUnlock()

	if ok && c.now().Before(rec.ExpiresAt) {
		authCacheLookupsTotal.WithLabelValues("hit").Inc()
		c.resolver.MarkUsed(rec.TokenID)
		return rec, nil
	}
	if ok {
		authCacheLookupsTotal.WithLabelValues("expired").Inc()
	} else {
		authCacheLookupsTotal.WithLabelValues("miss").Inc()
	}

	rec, err := c.resolver.Resolve(ctx, token)
	if err != nil {
		if err != ErrUnknownToken {
			authResolveErrorsTotal.Inc()
		}
		// Expired entries are evicted lazily here rather than by a sweep;
		// cardinality is bounded by the number of distinct active tokens.
		c.mu.Lock()
		if old, ok := c.records[key]; ok && !c.now().Before(old.ExpiresAt) {
			delete(c.records, key)
		}
		c.mu.Unlock()
		return nil, err
	}

	rec.TokenHash = key
	rec.ExpiresAt = c.now().Add(c.ttl)

	c.mu.Lock()
	c.records[key] = rec
	c.mu.Unlock()

	c.resolver.MarkUsed(rec.TokenID)
	return rec, nil
}

// Len returns the number of cached records, fresh or stale.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.records)
}
