// Package pool owns one reusable multiplexed gRPC connection per shard
// endpoint. Establishment is timeout-bounded and shared: concurrent
// acquisitions for the same endpoint wait on a single in-flight attempt
// instead of opening duplicates. Sessions that error or close are
// deregistered immediately so the next acquisition re-establishes.
package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/szibis/ingest-gateway/internal/logging"
	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
)

var (
	// ErrConnectTimeout is returned when session establishment does not
	// reach READY within the configured bound.
	ErrConnectTimeout = errors.New("session establishment timed out")
	// ErrSessionUnavailable is returned when a freshly acquired session is
	// already closed and a single retry did not produce a live one.
	ErrSessionUnavailable = errors.New("no usable session for endpoint")
)

var (
	poolSessionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ingest_gateway_pool_sessions_active",
		Help: "Number of pooled upstream sessions currently registered",
	})

	poolSessionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_gateway_pool_sessions_total",
		Help: "Total pooled session lifecycle events",
	}, []string{"event"})
)

func init() {
	prometheus.MustRegister(poolSessionsActive)
	prometheus.MustRegister(poolSessionsTotal)
}

// Session is one pooled multiplexed connection to a shard endpoint.
type Session struct {
	endpoint string
	conn     *grpc.ClientConn

	// ready is closed once establishment finishes; err is set before that.
	ready chan struct{}
	err   error

	closed    atomic.Bool
	stopWatch context.CancelFunc
}

// Endpoint returns the shard endpoint this session is connected to.
func (s *Session) Endpoint() string {
	return s.endpoint
}

// Conn returns the underlying connection. Only valid after a successful
// Acquire.
func (s *Session) Conn() *grpc.ClientConn {
	return s.conn
}

// Closed reports whether the session has been torn down.
func (s *Session) Closed() bool {
	return s.closed.Load()
}

// Config holds pool manager settings.
type Config struct {
	// ConnectTimeout bounds session establishment (default 5s).
	ConnectTimeout time.Duration
	// ProbeInterval is the keepalive ping period for established sessions
	// (default 30s).
	ProbeInterval time.Duration
	// DialOptions are appended to the manager's defaults.
	DialOptions []grpc.DialOption
}

// Manager maintains at most one session per endpoint.
type Manager struct {
	connectTimeout time.Duration
	probeInterval  time.Duration
	dialOpts       []grpc.DialOption

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager creates a pool manager. Connections are cleartext HTTP/2 by
// default; callers supply transport credentials via cfg.DialOptions when
// shards require TLS.
func NewManager(cfg Config) *Manager {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	if cfg.ProbeInterval <= 0 {
		cfg.ProbeInterval = 30 * time.Second
	}

	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                cfg.ProbeInterval,
			Timeout:             cfg.ConnectTimeout,
			PermitWithoutStream: true,
		}),
	}
	opts = append(opts, cfg.DialOptions...)

	return &Manager{
		connectTimeout: cfg.ConnectTimeout,
		probeInterval:  cfg.ProbeInterval,
		dialOpts:       opts,
		sessions:       make(map[string]*Session),
	}
}

// Acquire returns a live, established session for the endpoint, creating
// one if none exists. Waiting on an in-flight establishment is bounded by
// the connect timeout. A session observed closed right after acquisition is
// dropped and acquisition retried once.
func (m *Manager) Acquire(ctx context.Context, endpoint string) (*Session, error) {
	for attempt := 0; attempt < 2; attempt++ {
		m.mu.Lock()
		s, ok := m.sessions[endpoint]
		if !ok {
			s = m.startSession(endpoint)
		}
		m.mu.Unlock()

		if err := m.waitReady(ctx, s); err != nil {
			return nil, err
		}
		if !s.closed.Load() {
			return s, nil
		}
		// Lost between establishment and acquisition: deregister and retry.
		m.deregister(s)
	}
	return nil, ErrSessionUnavailable
}

// Discard deregisters and closes a session after a caller-observed failure
// on it. Safe to call multiple times and on sessions already replaced.
func (m *Manager) Discard(s *Session) {
	if s == nil {
		return
	}
	m.deregister(s)
}

// Len returns the number of registered sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Close tears down all sessions. Used on shutdown.
func (m *Manager) Close() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		m.deregister(s)
	}
}

// startSession registers a new session entry and begins establishment.
// Caller holds m.mu.
func (m *Manager) startSession(endpoint string) *Session {
	watchCtx, cancel := context.WithCancel(context.Background())
	s := &Session{
		endpoint:  endpoint,
		ready:     make(chan struct{}),
		stopWatch: cancel,
	}
	m.sessions[endpoint] = s
	poolSessionsActive.Set(float64(len(m.sessions)))
	poolSessionsTotal.WithLabelValues("created").Inc()

	go m.establish(watchCtx, s)
	return s
}

// establish brings the connection to READY within the connect timeout,
// then hands off to the liveness watcher.
func (m *Manager) establish(watchCtx context.Context, s *Session) {
	conn, err := grpc.NewClient(s.endpoint, m.dialOpts...)
	if err != nil {
		m.failEstablish(s, err)
		return
	}

	// Publish under the manager mutex so a concurrent deregister (pool
	// shutdown mid-dial) either sees the conn or leaves it for us to close.
	m.mu.Lock()
	s.conn = conn
	alreadyClosed := s.closed.Load()
	m.mu.Unlock()
	if alreadyClosed {
		s.err = ErrSessionUnavailable
		close(s.ready)
		_ = conn.Close()
		return
	}

	conn.Connect()

	ctx, cancel := context.WithTimeout(watchCtx, m.connectTimeout)
	defer cancel()

	for {
		state := conn.GetState()
		if state == connectivity.Ready {
			break
		}
		if state == connectivity.Shutdown {
			m.failEstablish(s, ErrSessionUnavailable)
			return
		}
		if !conn.WaitForStateChange(ctx, state) {
			m.failEstablish(s, ErrConnectTimeout)
			return
		}
	}

	close(s.ready)
	poolSessionsTotal.WithLabelValues("established").Inc()
	logging.Info("upstream session established", logging.F("endpoint", s.endpoint))

	go m.watch(watchCtx, s)
}

// failEstablish finalizes a failed establishment: the error is published,
// waiters released, and the entry removed so the next acquire starts fresh.
func (m *Manager) failEstablish(s *Session, err error) {
	s.err = err
	close(s.ready)
	poolSessionsTotal.WithLabelValues("establish_error").Inc()
	logging.Error("upstream session establishment failed", logging.F(
		"endpoint", s.endpoint,
		"error", err.Error(),
	))
	m.deregister(s)
}

// watch deregisters the session as soon as the connection leaves READY.
// grpc-go parks a peer-closed connection in IDLE rather than failing it, so
// any transition away from READY on an established session counts as a
// close event. A drop on an established session is expected churn (idle
// reclamation by the peer), so it is not logged as an error.
func (m *Manager) watch(watchCtx context.Context, s *Session) {
	state := s.conn.GetState()
	for state == connectivity.Ready {
		if !s.conn.WaitForStateChange(watchCtx, state) {
			// Watcher cancelled by deregistration.
			return
		}
		state = s.conn.GetState()
	}

	poolSessionsTotal.WithLabelValues("lost").Inc()
	logging.Info("upstream session lost, deregistering", logging.F(
		"endpoint", s.endpoint,
		"state", state.String(),
	))
	m.deregister(s)
}

// waitReady blocks until establishment finishes, bounded by the connect
// timeout and the caller's context.
func (m *Manager) waitReady(ctx context.Context, s *Session) error {
	timer := time.NewTimer(m.connectTimeout)
	defer timer.Stop()

	select {
	case <-s.ready:
		return s.err
	case <-timer.C:
		return ErrConnectTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

// deregister removes the session from the pool (if it is still the
// registered one), cancels its watcher, and closes the connection.
func (m *Manager) deregister(s *Session) {
	if s.closed.Swap(true) {
		return
	}

	m.mu.Lock()
	if current, ok := m.sessions[s.endpoint]; ok && current == s {
		delete(m.sessions, s.endpoint)
	}
	poolSessionsActive.Set(float64(len(m.sessions)))
	conn := s.conn
	m.mu.Unlock()

	s.stopWatch()
	if conn != nil {
		_ = conn.Close()
	}
	poolSessionsTotal.WithLabelValues("closed").Inc()
}
