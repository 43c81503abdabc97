package gateway

import (
	"errors"
	"io"
	"net"
	"time"

	"github.com/szibis/ingest-gateway/internal/auth"
	"github.com/szibis/ingest-gateway/internal/logging"
	"github.com/szibis/ingest-gateway/internal/pool"
	"github.com/szibis/ingest-gateway/internal/stats"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// GRPCConfig holds the streaming gateway configuration.
type GRPCConfig struct {
	// Addr is the listen address.
	Addr string
	// Endpoints is the ordered shard backend list (host:port), indexed by
	// shard number.
	Endpoints []string
	// MaxRecvMsgSize bounds a single relayed message. Zero means 64 MiB.
	MaxRecvMsgSize int
	// WarnWindow bounds how often the same invalid token is logged.
	WarnWindow time.Duration
}

const defaultMaxMsgSize = 64 * 1024 * 1024

// proxyDesc lets the client stream carry whatever message flow the agent
// opened; the gateway does not know or care whether either side is unary.
var proxyDesc = &grpc.StreamDesc{
	ServerStreams: true,
	ClientStreams: true,
}

// GRPCGateway terminates gRPC streams from agents and splices them onto
// pooled backend connections. Method names, payloads and metadata pass
// through untouched apart from authorization stripping and tenant header
// injection.
type GRPCGateway struct {
	server    *grpc.Server
	cache     *auth.Cache
	pool      *pool.Manager
	collector *stats.Collector
	endpoints []string
	warns     *warnFilter
	addr      string
}

// NewGRPC creates the streaming gateway.
func NewGRPC(cfg GRPCConfig, cache *auth.Cache, mgr *pool.Manager, collector *stats.Collector) *GRPCGateway {
	maxMsg := cfg.MaxRecvMsgSize
	if maxMsg <= 0 {
		maxMsg = defaultMaxMsgSize
	}

	g := &GRPCGateway{
		cache:     cache,
		pool:      mgr,
		collector: collector,
		endpoints: cfg.Endpoints,
		warns:     newWarnFilter(cfg.WarnWindow),
		addr:      cfg.Addr,
	}

	g.server = grpc.NewServer(
		grpc.ForceServerCodec(rawCodec{}),
		grpc.UnknownServiceHandler(g.handleStream),
		grpc.MaxRecvMsgSize(maxMsg),
		grpc.MaxSendMsgSize(maxMsg),
	)
	return g
}

// handleStream bridges one inbound stream to the tenant's shard. Every
// method lands here: the server registers no services, so nothing is ever
// interpreted.
func (g *GRPCGateway) handleStream(_ interface{}, stream grpc.ServerStream) error {
	tr := newTransfer("grpc")
	ctx := stream.Context()

	method, ok := grpc.MethodFromServerStream(stream)
	if !ok {
		tr.finalize(g.collector, "", "failed")
		return status.Error(codes.Internal, "no method in stream")
	}

	logging.Debug("stream opened", logging.F(
		"stream_id", tr.id,
		"method", method,
	))

	md, _ := metadata.FromIncomingContext(ctx)
	token := auth.TokenFromMetadata(md)

	rec, endpoint, err := authorize(ctx, g.cache, token, g.endpoints)
	if err != nil {
		return g.rejectStream(tr, stream, method, token, err)
	}

	session, err := g.pool.Acquire(ctx, endpoint)
	if err != nil {
		recordUpstreamError("grpc", classifyError(err))
		logging.Error("no backend session for stream", logging.F(
			"stream_id", tr.id,
			"tenant", rec.TenantID,
			"endpoint", endpoint,
			"error", err.Error(),
		))
		tr.finalize(g.collector, rec.TenantID, "failed")
		return status.Error(codes.Unavailable, "backend unavailable")
	}

	outCtx := metadata.NewOutgoingContext(ctx, outgoingMetadata(md, rec.TenantID))
	clientStream, err := grpc.NewClientStream(outCtx, proxyDesc, session.Conn(), method, grpc.ForceCodec(rawCodec{}))
	if err != nil {
		g.pool.Discard(session)
		recordUpstreamError("grpc", classifyStreamError(err))
		logging.Error("failed to open backend stream", logging.F(
			"stream_id", tr.id,
			"tenant", rec.TenantID,
			"endpoint", endpoint,
			"method", method,
			"error", err.Error(),
		))
		tr.finalize(g.collector, rec.TenantID, "failed")
		return status.Error(codes.Unavailable, "backend unavailable")
	}

	err = g.bridge(tr, stream, clientStream)
	if err != nil {
		// Only a session-level failure warrants dropping the shared
		// connection; a client abort or a relayed backend status is scoped
		// to this one stream and must not touch sibling streams.
		if isSessionFailure(err) {
			g.pool.Discard(session)
		}
		// An established session dropping mid-stream is routine churn; the
		// agent retries against a fresh session.
		logging.Info("stream relay interrupted", logging.F(
			"stream_id", tr.id,
			"tenant", rec.TenantID,
			"endpoint", endpoint,
			"method", method,
			"error", err.Error(),
		))
		tr.finalize(g.collector, rec.TenantID, "failed")
		return err
	}

	logging.Info("stream proxied", logging.F(
		"stream_id", tr.id,
		"tenant", rec.TenantID,
		"shard", rec.AssignedShard,
		"endpoint", endpoint,
		"method", method,
		"bytes_in", tr.bytesIn.Load(),
		"bytes_out", tr.bytesOut.Load(),
		"duration_ms", tr.duration().Milliseconds(),
	))
	tr.finalize(g.collector, rec.TenantID, "completed")
	return nil
}

// isSessionFailure reports whether a relay error means the pooled session
// itself is unusable. Unavailable signals transport loss; anything else is
// either a client abort or a backend application status, both local to the
// stream that produced them.
func isSessionFailure(err error) bool {
	if st, ok := status.FromError(err); ok {
		return st.Code() == codes.Unavailable
	}
	return classifyError(err) == ErrorTypeReset
}

// rejectDrainLimit bounds how many payload bytes a rejected stream may feed
// the accounting before the terminal status is sent.
const rejectDrainLimit = 1 << 20

// rejectDrainWait bounds how long the gateway waits for a rejected agent to
// finish sending.
const rejectDrainWait = 2 * time.Second

// drainInbound consumes frames the agent already sent so rejected traffic
// is still accounted, bounded in both volume and time. Returning the
// terminal status unblocks any receive left behind.
func (g *GRPCGateway) drainInbound(tr *transfer, stream grpc.ServerStream) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		f := &frame{}
		var drained int64
		for drained < rejectDrainLimit {
			if err := stream.RecvMsg(f); err != nil {
				return
			}
			tr.observeIn(f.payload)
			drained += int64(len(f.payload))
		}
	}()

	select {
	case <-done:
	case <-time.After(rejectDrainWait):
	}
}

// rejectStream maps authentication/routing failures to terminal statuses.
// The inbound direction is drained first so the failed stream's volume is
// still accounted.
func (g *GRPCGateway) rejectStream(tr *transfer, stream grpc.ServerStream, method, token string, err error) error {
	g.drainInbound(tr, stream)
	logging.Debug("rejected payload sampled", logging.F(
		"stream_id", tr.id,
		"sample_len", tr.sampleLen(),
		"sample_hex", tr.samplePreview(),
	))

	switch {
	case errors.Is(err, ErrMissingToken), errors.Is(err, auth.ErrUnknownToken):
		hash := "none"
		if token != "" {
			hash = auth.HashToken(token)
		}
		if g.warns.firstSighting(hash) {
			logging.Warn("stream rejected: unauthorized", logging.F(
				"stream_id", tr.id,
				"token_hash_prefix", auth.HashPrefix(hash),
				"method", method,
			))
		}
		tr.finalize(g.collector, "", "rejected")
		return status.Error(codes.Unauthenticated, "unauthorized")

	case errors.Is(err, ErrNoEndpoint):
		logging.Error("stream rejected: no shard endpoint", logging.F(
			"stream_id", tr.id,
			"method", method,
		))
		tr.finalize(g.collector, "", "failed")
		return status.Error(codes.Unavailable, "no ingestion endpoint for shard")

	default:
		logging.Error("token resolution failed", logging.F(
			"stream_id", tr.id,
			"error", err.Error(),
		))
		tr.finalize(g.collector, "", "failed")
		return status.Error(codes.Internal, "token resolution failed")
	}
}

// outgoingMetadata copies inbound metadata toward the shard, replacing the
// agent's authorization value with the resolved tenant header.
func outgoingMetadata(md metadata.MD, tenantID string) metadata.MD {
	out := md.Copy()
	delete(out, "authorization")
	out.Set(TenantHeader, tenantID)
	return out
}

// bridge splices the two streams together and waits for both directions to
// settle. Returns nil only when the backend closed the stream cleanly.
func (g *GRPCGateway) bridge(tr *transfer, stream grpc.ServerStream, clientStream grpc.ClientStream) error {
	s2c := g.forwardToBackend(tr, stream, clientStream)
	c2s := g.forwardToAgent(tr, stream, clientStream)

	for i := 0; i < 2; i++ {
		select {
		case err := <-s2c:
			if err != nil {
				// Agent-to-backend send failed; the backend direction will
				// surface its own error next.
				recordUpstreamError("grpc", classifyStreamError(err))
			}
		case err := <-c2s:
			// The backend direction terminates the RPC: its status and
			// trailers are the authoritative outcome.
			stream.SetTrailer(clientStream.Trailer())
			if err == io.EOF {
				return nil
			}
			recordUpstreamError("grpc", classifyStreamError(err))
			return err
		}
	}
	return status.Error(codes.Internal, "stream bridge ended without backend status")
}

// forwardToBackend pumps agent frames to the shard. A clean agent EOF
// half-closes the backend stream.
func (g *GRPCGateway) forwardToBackend(tr *transfer, stream grpc.ServerStream, clientStream grpc.ClientStream) chan error {
	ret := make(chan error, 1)
	go func() {
		f := &frame{}
		for {
			if err := stream.RecvMsg(f); err != nil {
				if err == io.EOF {
					ret <- clientStream.CloseSend()
				} else {
					ret <- err
				}
				return
			}
			tr.observeIn(f.payload)
			if err := clientStream.SendMsg(f); err != nil {
				ret <- err
				return
			}
		}
	}()
	return ret
}

// forwardToAgent pumps shard frames back to the agent. Headers are relayed
// once the backend produces them; the terminal error (io.EOF for a clean
// close) carries the backend's status.
func (g *GRPCGateway) forwardToAgent(tr *transfer, stream grpc.ServerStream, clientStream grpc.ClientStream) chan error {
	ret := make(chan error, 1)
	go func() {
		f := &frame{}
		for first := true; ; first = false {
			if err := clientStream.RecvMsg(f); err != nil {
				ret <- err
				return
			}
			if first {
				md, err := clientStream.Header()
				if err != nil {
					ret <- err
					return
				}
				if err := stream.SendHeader(md); err != nil {
					ret <- err
					return
				}
			}
			tr.observeOut(int64(len(f.payload)))
			if err := stream.SendMsg(f); err != nil {
				ret <- err
				return
			}
		}
	}()
	return ret
}

// Start starts the gRPC listener. It blocks until the server exits.
func (g *GRPCGateway) Start() error {
	lis, err := net.Listen("tcp", g.addr)
	if err != nil {
		return err
	}
	logging.Info("grpc gateway started", logging.F(
		"addr", g.addr,
		"endpoints", len(g.endpoints),
	))
	return g.server.Serve(lis)
}

// Stop gracefully stops the listener, waiting for in-flight streams.
func (g *GRPCGateway) Stop() {
	g.server.GracefulStop()
}
