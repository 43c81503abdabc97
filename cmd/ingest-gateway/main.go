package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/KimMachineGun/automemlimit" // set GOMEMLIMIT from the container memory limit
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/szibis/ingest-gateway/internal/auth"
	"github.com/szibis/ingest-gateway/internal/config"
	"github.com/szibis/ingest-gateway/internal/gateway"
	"github.com/szibis/ingest-gateway/internal/health"
	"github.com/szibis/ingest-gateway/internal/logging"
	"github.com/szibis/ingest-gateway/internal/pool"
	"github.com/szibis/ingest-gateway/internal/stats"
	"github.com/szibis/ingest-gateway/internal/telemetry"
	tlspkg "github.com/szibis/ingest-gateway/internal/tls"
	"golang.org/x/sync/errgroup"
)

const serviceName = "ingest-gateway"

func logLevel(name string) logging.Level {
	switch name {
	case "debug":
		return logging.LevelDebug
	case "warn":
		return logging.LevelWarn
	case "error":
		return logging.LevelError
	default:
		return logging.LevelInfo
	}
}

func main() {
	cfg, err := config.ParseFlags()
	if err != nil {
		os.Exit(2)
	}

	if cfg.ShowHelp {
		config.PrintUsage()
		os.Exit(0)
	}
	if cfg.ShowVersion {
		config.PrintVersion()
		os.Exit(0)
	}

	if err := cfg.Validate(); err != nil {
		logging.Fatal("invalid configuration", logging.F("error", err.Error()))
	}
	logging.SetLevel(logLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Self-telemetry: mirror logs and bridge prometheus metrics over OTLP.
	tel, err := telemetry.Init(ctx, telemetry.Config{
		Endpoint:        cfg.TelemetryEndpoint,
		Protocol:        cfg.TelemetryProtocol,
		Insecure:        cfg.TelemetryInsecure,
		PushInterval:    cfg.TelemetryPushInterval,
		Compression:     cfg.TelemetryCompression,
		ShutdownTimeout: cfg.TelemetryShutdownTimeout,
		RetryEnabled:    true,
	}, serviceName, config.Version())
	if err != nil {
		logging.Fatal("failed to init telemetry", logging.F("error", err.Error()))
	}
	if tel.Enabled() {
		logging.SetHook(tel.NewLogHook())
		logging.SetResource(map[string]string{
			"service.name":    serviceName,
			"service.version": config.Version(),
		})
	}

	resolver := auth.NewHTTPResolver(auth.HTTPResolverConfig{
		BaseURL: cfg.ResolverURL,
		Timeout: cfg.ResolverTimeout,
	})
	cache := auth.NewCache(resolver, cfg.AuthCacheTTL)
	collector := stats.NewCollector()

	sessions := pool.NewManager(pool.Config{
		ConnectTimeout: cfg.PoolConnectTimeout,
		ProbeInterval:  cfg.PoolProbeInterval,
	})

	httpGW, err := gateway.NewHTTP(gateway.HTTPConfig{
		Addr:              cfg.HTTPListenAddr,
		Endpoints:         cfg.HTTPEndpoints,
		ReadHeaderTimeout: cfg.HTTPReadHeaderTimeout,
		WarnWindow:        cfg.WarnDedupeWindow,
		TLS: tlspkg.ListenerConfig{
			Enabled:    cfg.ListenerTLSEnabled,
			CertFile:   cfg.ListenerTLSCertFile,
			KeyFile:    cfg.ListenerTLSKeyFile,
			CAFile:     cfg.ListenerTLSCAFile,
			ClientAuth: cfg.ListenerTLSClientAuth,
		},
		UpstreamTLS: tlspkg.UpstreamConfig{
			Enabled:            cfg.UpstreamTLSEnabled,
			CertFile:           cfg.UpstreamTLSCertFile,
			KeyFile:            cfg.UpstreamTLSKeyFile,
			CAFile:             cfg.UpstreamTLSCAFile,
			InsecureSkipVerify: cfg.UpstreamTLSInsecureSkipVerify,
			ServerName:         cfg.UpstreamTLSServerName,
		},
		Client: gateway.UpstreamClientConfig{
			MaxIdleConns:         cfg.ClientMaxIdleConns,
			MaxIdleConnsPerHost:  cfg.ClientMaxIdleConnsPerHost,
			MaxConnsPerHost:      cfg.ClientMaxConnsPerHost,
			IdleConnTimeout:      cfg.ClientIdleConnTimeout,
			DisableKeepAlives:    cfg.ClientDisableKeepAlives,
			ForceAttemptHTTP2:    cfg.ClientForceHTTP2,
			HTTP2ReadIdleTimeout: cfg.ClientHTTP2ReadIdleTimeout,
			HTTP2PingTimeout:     cfg.ClientHTTP2PingTimeout,
		},
	}, cache, collector)
	if err != nil {
		logging.Fatal("failed to create http gateway", logging.F("error", err.Error()))
	}

	grpcGW := gateway.NewGRPC(gateway.GRPCConfig{
		Addr:           cfg.GRPCListenAddr,
		Endpoints:      cfg.GRPCEndpoints,
		MaxRecvMsgSize: cfg.GRPCMaxRecvMsgSize,
		WarnWindow:     cfg.WarnDedupeWindow,
	}, cache, sessions, collector)

	checker := health.New()
	checker.RegisterReadiness("http_endpoints", health.EndpointsCheck("http", cfg.HTTPEndpoints))
	checker.RegisterReadiness("grpc_endpoints", health.EndpointsCheck("grpc", cfg.GRPCEndpoints))
	checker.RegisterReadiness("resolver", health.ResolverCheck(cfg.ResolverURL, nil, cfg.ResolverTimeout))

	statsMux := http.NewServeMux()
	statsMux.Handle("/metrics", promhttp.Handler())
	statsMux.HandleFunc("/live", checker.LiveHandler())
	statsMux.HandleFunc("/ready", checker.ReadyHandler())
	statsServer := &http.Server{
		Addr:              cfg.StatsAddr,
		Handler:           statsMux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go collector.StartPeriodicLogging(ctx, cfg.StatsLogInterval)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := httpGW.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(grpcGW.Start)
	g.Go(func() error {
		logging.Info("stats endpoint started", logging.F("addr", cfg.StatsAddr))
		if err := statsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logging.Info("shutting down")
		checker.SetShuttingDown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		if err := httpGW.Stop(shutdownCtx); err != nil {
			logging.Warn("http gateway shutdown error", logging.F("error", err.Error()))
		}
		grpcGW.Stop()
		if err := statsServer.Shutdown(shutdownCtx); err != nil {
			logging.Warn("stats server shutdown error", logging.F("error", err.Error()))
		}
		sessions.Close()
		return nil
	})

	logging.Info("ingest-gateway started", logging.F(
		"version", config.Version(),
		"http_addr", cfg.HTTPListenAddr,
		"grpc_addr", cfg.GRPCListenAddr,
		"stats_addr", cfg.StatsAddr,
		"http_shards", len(cfg.HTTPEndpoints),
		"grpc_shards", len(cfg.GRPCEndpoints),
		"resolver_url", cfg.ResolverURL,
		"auth_cache_ttl", cfg.AuthCacheTTL.String(),
	))

	if err := g.Wait(); err != nil {
		logging.Error("gateway exited with error", logging.F("error", err.Error()))
	}

	if tel.Enabled() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), tel.ShutdownTimeout())
		if err := tel.Shutdown(shutdownCtx); err != nil {
			logging.Warn("telemetry shutdown error", logging.F("error", err.Error()))
		}
		cancel()
	}

	logging.Info("shutdown complete")
}
