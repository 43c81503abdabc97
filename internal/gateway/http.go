package gateway

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/szibis/ingest-gateway/internal/auth"
	"github.com/szibis/ingest-gateway/internal/logging"
	"github.com/szibis/ingest-gateway/internal/stats"
	tlspkg "github.com/szibis/ingest-gateway/internal/tls"
	"golang.org/x/net/http2"
)

// UpstreamClientConfig holds outbound HTTP connection pool settings.
type UpstreamClientConfig struct {
	// MaxIdleConns controls the maximum number of idle (keep-alive)
	// connections across all shards. Zero means 100.
	MaxIdleConns int
	// MaxIdleConnsPerHost controls the idle connections kept per shard.
	// Zero means 100.
	MaxIdleConnsPerHost int
	// MaxConnsPerHost limits total connections per shard. Zero means no limit.
	MaxConnsPerHost int
	// IdleConnTimeout is how long an idle connection stays open. Zero means 90s.
	IdleConnTimeout time.Duration
	// DisableKeepAlives, if true, uses each connection for a single request.
	DisableKeepAlives bool
	// ForceAttemptHTTP2 controls whether HTTP/2 is attempted upstream.
	ForceAttemptHTTP2 bool
	// HTTP2ReadIdleTimeout is the interval after which a ping health check
	// is sent when no frame was received on an HTTP/2 connection.
	HTTP2ReadIdleTimeout time.Duration
	// HTTP2PingTimeout is how long to wait for a ping response before the
	// connection is closed.
	HTTP2PingTimeout time.Duration
}

// HTTPConfig holds the request/response gateway configuration.
type HTTPConfig struct {
	// Addr is the listen address.
	Addr string
	// Endpoints is the ordered shard backend list (URLs with scheme),
	// indexed by shard number.
	Endpoints []string
	// ReadHeaderTimeout bounds how long a client may take to send headers.
	ReadHeaderTimeout time.Duration
	// TLS configuration for the listener.
	TLS tlspkg.ListenerConfig
	// UpstreamTLS configuration for outbound connections.
	UpstreamTLS tlspkg.UpstreamConfig
	// Client configuration for the outbound connection pool.
	Client UpstreamClientConfig
	// WarnWindow bounds how often the same invalid token is logged.
	WarnWindow time.Duration
}

// HTTPGateway terminates discrete request/response ingestion traffic and
// relays it to the tenant's shard. One outbound request is made per inbound
// request; connection reuse happens in the shared transport underneath.
type HTTPGateway struct {
	server    *http.Server
	transport http.RoundTripper
	cache     *auth.Cache
	collector *stats.Collector
	endpoints []string
	warns     *warnFilter
	addr      string
	tlsConf   *tls.Config
}

// NewHTTP creates the request/response gateway.
func NewHTTP(cfg HTTPConfig, cache *auth.Cache, collector *stats.Collector) (*HTTPGateway, error) {
	transport, err := newUpstreamTransport(cfg)
	if err != nil {
		return nil, err
	}

	tlsConf, err := tlspkg.NewListenerTLSConfig(cfg.TLS)
	if err != nil {
		return nil, err
	}

	g := &HTTPGateway{
		transport: transport,
		cache:     cache,
		collector: collector,
		endpoints: cfg.Endpoints,
		warns:     newWarnFilter(cfg.WarnWindow),
		addr:      cfg.Addr,
		tlsConf:   tlsConf,
	}

	g.server = &http.Server{
		Addr:              cfg.Addr,
		Handler:           http.HandlerFunc(g.handle),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		TLSConfig:         tlsConf,
	}
	return g, nil
}

// newUpstreamTransport builds the shared outbound transport.
func newUpstreamTransport(cfg HTTPConfig) (http.RoundTripper, error) {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     cfg.Client.ForceAttemptHTTP2,
		MaxIdleConns:          cfg.Client.MaxIdleConns,
		MaxIdleConnsPerHost:   cfg.Client.MaxIdleConnsPerHost,
		MaxConnsPerHost:       cfg.Client.MaxConnsPerHost,
		IdleConnTimeout:       cfg.Client.IdleConnTimeout,
		DisableKeepAlives:     cfg.Client.DisableKeepAlives,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	if transport.MaxIdleConns == 0 {
		transport.MaxIdleConns = 100
	}
	if transport.MaxIdleConnsPerHost == 0 {
		transport.MaxIdleConnsPerHost = 100
	}
	if transport.IdleConnTimeout == 0 {
		transport.IdleConnTimeout = 90 * time.Second
	}

	if cfg.UpstreamTLS.Enabled {
		tlsConf, err := tlspkg.NewUpstreamTLSConfig(cfg.UpstreamTLS)
		if err != nil {
			return nil, err
		}
		transport.TLSClientConfig = tlsConf
	}

	if cfg.Client.ForceAttemptHTTP2 {
		http2Transport, err := http2.ConfigureTransports(transport)
		if err == nil && http2Transport != nil {
			if cfg.Client.HTTP2ReadIdleTimeout > 0 {
				http2Transport.ReadIdleTimeout = cfg.Client.HTTP2ReadIdleTimeout
			}
			if cfg.Client.HTTP2PingTimeout > 0 {
				http2Transport.PingTimeout = cfg.Client.HTTP2PingTimeout
			}
		}
	}

	return transport, nil
}

// hopHeaders are stripped from both directions of the relay.
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// handle runs one inbound request through the gateway: authenticate, route,
// relay upstream, relay the response back.
func (g *HTTPGateway) handle(w http.ResponseWriter, r *http.Request) {
	tr := newTransfer("http")
	body := tr.reader(r.Body)

	logging.Debug("request received", logging.F(
		"request_id", tr.id,
		"method", r.Method,
		"path", r.URL.Path,
		"remote", r.RemoteAddr,
	))

	token := auth.TokenFromHeader(r.Header)
	rec, endpoint, err := authorize(r.Context(), g.cache, token, g.endpoints)
	if err != nil {
		g.rejectRequest(w, r, tr, body, token, err)
		return
	}

	out, err := g.buildUpstreamRequest(r, rec, endpoint, body)
	if err != nil {
		logging.Error("failed to build upstream request", logging.F(
			"request_id", tr.id,
			"endpoint", endpoint,
			"error", err.Error(),
		))
		http.Error(w, "internal error", http.StatusInternalServerError)
		tr.finalize(g.collector, rec.TenantID, "failed")
		return
	}

	resp, err := g.transport.RoundTrip(out)
	if err != nil {
		recordUpstreamError("http", classifyError(err))
		logging.Error("upstream request failed", logging.F(
			"request_id", tr.id,
			"tenant", rec.TenantID,
			"endpoint", endpoint,
			"error", err.Error(),
		))
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
		tr.finalize(g.collector, rec.TenantID, "failed")
		return
	}
	defer resp.Body.Close()

	copyHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)

	if _, err := io.Copy(tr.writer(w), resp.Body); err != nil {
		// Response status already flushed; the only honest signal left is
		// severing the connection.
		recordUpstreamError("http", classifyError(err))
		logging.Warn("response relay interrupted", logging.F(
			"request_id", tr.id,
			"tenant", rec.TenantID,
			"endpoint", endpoint,
			"error", err.Error(),
		))
		tr.finalize(g.collector, rec.TenantID, "failed")
		panic(http.ErrAbortHandler)
	}

	logging.Info("request proxied", logging.F(
		"request_id", tr.id,
		"tenant", rec.TenantID,
		"shard", rec.AssignedShard,
		"endpoint", endpoint,
		"status", resp.StatusCode,
		"bytes_in", tr.bytesIn.Load(),
		"bytes_out", tr.bytesOut.Load(),
		"duration_ms", tr.duration().Milliseconds(),
	))
	tr.finalize(g.collector, rec.TenantID, "completed")
}

// rejectRequest maps authentication/routing failures to terminal responses.
// The inbound body is drained through the sampler after responding so the
// client never stalls on backpressure and unauthenticated volume stays
// accounted.
func (g *HTTPGateway) rejectRequest(w http.ResponseWriter, r *http.Request, tr *transfer, body io.Reader, token string, err error) {
	outcome := "failed"

	switch {
	case errors.Is(err, ErrMissingToken), errors.Is(err, auth.ErrUnknownToken):
		hash := "none"
		if token != "" {
			hash = auth.HashToken(token)
		}
		if g.warns.firstSighting(hash) {
			logging.Warn("request rejected: unauthorized", logging.F(
				"request_id", tr.id,
				"token_hash_prefix", auth.HashPrefix(hash),
				"path", r.URL.Path,
				"remote", r.RemoteAddr,
			))
		}
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		outcome = "rejected"

	case errors.Is(err, ErrNoEndpoint):
		logging.Error("request rejected: no shard endpoint", logging.F(
			"request_id", tr.id,
			"path", r.URL.Path,
		))
		http.Error(w, "no ingestion endpoint for shard", http.StatusServiceUnavailable)

	default:
		logging.Error("token resolution failed", logging.F(
			"request_id", tr.id,
			"error", err.Error(),
		))
		http.Error(w, "internal error", http.StatusInternalServerError)
	}

	_, _ = io.Copy(io.Discard, body)
	logging.Debug("rejected payload sampled", logging.F(
		"request_id", tr.id,
		"sample_len", tr.sampleLen(),
		"sample_hex", tr.samplePreview(),
	))
	tr.finalize(g.collector, "", outcome)
}

// buildUpstreamRequest clones the inbound request toward the shard:
// method, path and query preserved, hop-by-hop headers stripped, authority
// rewritten to the target, tenant header injected.
func (g *HTTPGateway) buildUpstreamRequest(r *http.Request, rec *auth.Record, endpoint string, body io.Reader) (*http.Request, error) {
	out, err := http.NewRequestWithContext(r.Context(), r.Method, endpoint+r.URL.RequestURI(), body)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream target: %w", err)
	}

	copyHeaders(out.Header, r.Header)
	// The token authenticated the agent to the gateway; shards only ever
	// see the resolved tenant.
	out.Header.Del("Authorization")
	out.Header.Set(TenantHeader, rec.TenantID)
	out.ContentLength = r.ContentLength
	// Host deliberately left empty: the URL's host is the new authority.
	out.Host = ""
	return out, nil
}

func copyHeaders(dst, src http.Header) {
	for key, values := range src {
		for _, v := range values {
			dst.Add(key, v)
		}
	}
	for _, h := range hopHeaders {
		dst.Del(h)
	}
	dst.Del("Host")
}

// Start starts the HTTP listener. It blocks until the server exits.
func (g *HTTPGateway) Start() error {
	logging.Info("http gateway started", logging.F(
		"addr", g.addr,
		"endpoints", len(g.endpoints),
		"tls", g.tlsConf != nil,
	))
	if g.tlsConf != nil {
		return g.server.ListenAndServeTLS("", "")
	}
	return g.server.ListenAndServe()
}

// Stop gracefully stops the listener.
func (g *HTTPGateway) Stop(ctx context.Context) error {
	return g.server.Shutdown(ctx)
}
