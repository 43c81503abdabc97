package auth

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/szibis/ingest-gateway/internal/logging"
)

// ErrUnknownToken is returned when the credential store has no record for a token.
var ErrUnknownToken = errors.New("unknown token")

// Record is the result of resolving a bearer token against the credential store.
type Record struct {
	// TenantID is the opaque tenant identifier the token belongs to.
	TenantID string `json:"tenantId"`
	// AssignedShard is the tenant's shard identifier (e.g. "shard-3").
	// Empty means the default shard.
	AssignedShard string `json:"assignedShard,omitempty"`
	// TokenID identifies the token for usage bookkeeping.
	TokenID string `json:"tokenId"`
	// TokenHash is the hex SHA-256 of the raw token. It keys the cache and
	// downstream usage tracking; the raw token is never retained.
	TokenHash string `json:"-"`
	// ExpiresAt is the cache-validity deadline for this record.
	ExpiresAt time.Time `json:"-"`
}

// Resolver resolves bearer tokens to authorization records.
// Implementations wrap the external credential-store service.
type Resolver interface {
	// Resolve returns the record for a token, or ErrUnknownToken.
	// It may be slow (network round-trip) and is only called on cache misses.
	Resolve(ctx context.Context, token string) (*Record, error)
	// MarkUsed records token usage. Best effort: it must never block the
	// request path, and failures are only logged.
	MarkUsed(tokenID string)
}

// HashToken returns the hex SHA-256 of a raw token. Cache keys, log fields
// and usage tracking all use this hash so raw tokens never leave the
// extraction path.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// HashPrefix returns a short fixed-length prefix of a token hash for log
// correlation.
func HashPrefix(tokenHash string) string {
	if len(tokenHash) > 8 {
		return tokenHash[:8]
	}
	return tokenHash
}

// HTTPResolverConfig holds configuration for the credential-store client.
type HTTPResolverConfig struct {
	// BaseURL is the credential-store base URL (e.g. http://tokens:8080).
	BaseURL string
	// Timeout bounds each resolve round-trip.
	Timeout time.Duration
}

// HTTPResolver resolves tokens against the credential-store HTTP API.
type HTTPResolver struct {
	baseURL string
	client  *http.Client
}

// NewHTTPResolver creates a resolver client for the credential store.
func NewHTTPResolver(cfg HTTPResolverConfig) *HTTPResolver {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPResolver{
		baseURL: cfg.BaseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

type resolveRequest struct {
	Token string `json:"token"`
}

// Resolve looks up a token via POST /v1/tokens/resolve.
// A 404 from the store means the token does not exist.
func (r *HTTPResolver) Resolve(ctx context.Context, token string) (*Record, error) {
	body, err := json.Marshal(resolveRequest{Token: token})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal resolve request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/v1/tokens/resolve", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create resolve request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("credential store unreachable: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, ErrUnknownToken
	case resp.StatusCode != http.StatusOK:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("credential store returned status %d", resp.StatusCode)
	}

	var rec Record
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		return nil, fmt.Errorf("failed to decode resolve response: %w", err)
	}
	rec.TokenHash = HashToken(token)
	return &rec, nil
}

// MarkUsed fires a usage-tracking call in a detached goroutine.
// Failures never affect the request path.
func (r *HTTPResolver) MarkUsed(tokenID string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/v1/tokens/"+tokenID+"/used", nil)
		if err != nil {
			return
		}
		resp, err := r.client.Do(req)
		if err != nil {
			logging.Debug("token usage marking failed", logging.F("token_id", tokenID, "error", err.Error()))
			return
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()
}
