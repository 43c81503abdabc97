// Package gateway implements the two ingestion front doors: the HTTP
// request/response gateway and the gRPC streaming gateway. Both share one
// authentication and routing policy and differ only in how bytes are
// bridged to the shard backend.
package gateway

import (
	"context"
	"errors"

	"github.com/szibis/ingest-gateway/internal/auth"
	"github.com/szibis/ingest-gateway/internal/sharding"
)

// TenantHeader is injected into every proxied request/stream so shards can
// attribute the payload without re-resolving the token.
const TenantHeader = "x-hdx-team-id"

var (
	// ErrMissingToken means the request carried no Authorization value at
	// all; the resolver is never consulted in that case.
	ErrMissingToken = errors.New("missing bearer token")
	// ErrNoEndpoint means the resolved (or default) shard has no configured
	// backend. An operational problem, surfaced as service-unavailable.
	ErrNoEndpoint = errors.New("no ingestion endpoint configured for shard")
)

// authorize resolves a bearer token and routes it to a shard endpoint.
// Both gateways call this with their transport's endpoint list.
func authorize(ctx context.Context, cache *auth.Cache, token string, endpoints []string) (*auth.Record, string, error) {
	if token == "" {
		return nil, "", ErrMissingToken
	}

	rec, err := cache.Resolve(ctx, token)
	if err != nil {
		return nil, "", err
	}

	endpoint, ok := sharding.Route(rec.AssignedShard, endpoints)
	if !ok {
		return rec, "", ErrNoEndpoint
	}
	return rec, endpoint, nil
}
