// Package config assembles the gateway configuration from flags and an
// optional YAML file. Flags given explicitly on the command line win over
// the file; the file wins over built-in defaults.
package config

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"
)

// version is set at build time via ldflags.
var version = "dev"

// Version returns the build version.
func Version() string {
	return version
}

// Config holds the full gateway configuration.
type Config struct {
	// Listener settings
	HTTPListenAddr string
	GRPCListenAddr string
	StatsAddr      string

	// Shard backends, indexed by shard number. The HTTP list carries URLs
	// with scheme, the gRPC list carries host:port targets.
	HTTPEndpoints []string
	GRPCEndpoints []string

	// Token resolver settings
	ResolverURL     string
	ResolverTimeout time.Duration
	AuthCacheTTL    time.Duration

	// Streaming pool settings
	PoolConnectTimeout time.Duration
	PoolProbeInterval  time.Duration
	GRPCMaxRecvMsgSize int

	// Inbound HTTP server settings
	HTTPReadHeaderTimeout time.Duration

	// Outbound HTTP client settings
	ClientMaxIdleConns         int
	ClientMaxIdleConnsPerHost  int
	ClientMaxConnsPerHost      int
	ClientIdleConnTimeout      time.Duration
	ClientDisableKeepAlives    bool
	ClientForceHTTP2           bool
	ClientHTTP2ReadIdleTimeout time.Duration
	ClientHTTP2PingTimeout     time.Duration

	// Listener TLS settings
	ListenerTLSEnabled    bool
	ListenerTLSCertFile   string
	ListenerTLSKeyFile    string
	ListenerTLSCAFile     string
	ListenerTLSClientAuth bool

	// Upstream TLS settings (outbound HTTP relay)
	UpstreamTLSEnabled            bool
	UpstreamTLSCertFile           string
	UpstreamTLSKeyFile            string
	UpstreamTLSCAFile             string
	UpstreamTLSInsecureSkipVerify bool
	UpstreamTLSServerName         string

	// Observability settings
	LogLevel         string
	StatsLogInterval time.Duration
	WarnDedupeWindow time.Duration

	// Self-telemetry settings
	TelemetryEndpoint        string
	TelemetryProtocol        string
	TelemetryInsecure        bool
	TelemetryPushInterval    time.Duration
	TelemetryCompression     string
	TelemetryShutdownTimeout time.Duration

	ShowHelp    bool
	ShowVersion bool
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		HTTPListenAddr:        ":4318",
		GRPCListenAddr:        ":4317",
		StatsAddr:             ":8888",
		ResolverTimeout:       10 * time.Second,
		AuthCacheTTL:          60 * time.Second,
		PoolConnectTimeout:    5 * time.Second,
		PoolProbeInterval:     30 * time.Second,
		HTTPReadHeaderTimeout: 10 * time.Second,
		ClientIdleConnTimeout: 90 * time.Second,
		LogLevel:              "info",
		StatsLogInterval:      60 * time.Second,
		WarnDedupeWindow:      time.Hour,
		TelemetryProtocol:     "grpc",
		TelemetryInsecure:     true,
		TelemetryPushInterval: 30 * time.Second,
	}
}

// ParseFlags parses the command line, overlaying any -config YAML file.
func ParseFlags() (*Config, error) {
	return parse(flag.CommandLine, os.Args[1:])
}

// parse binds flags onto a defaults-initialized Config, then resolves the
// three-layer precedence: defaults < YAML file < explicit flags.
func parse(fs *flag.FlagSet, args []string) (*Config, error) {
	cfg := Defaults()

	var configFile string
	var httpEndpoints, grpcEndpoints string

	fs.StringVar(&configFile, "config", "", "Path to YAML configuration file")

	fs.StringVar(&cfg.HTTPListenAddr, "http-listen", cfg.HTTPListenAddr, "HTTP gateway listen address")
	fs.StringVar(&cfg.GRPCListenAddr, "grpc-listen", cfg.GRPCListenAddr, "gRPC gateway listen address")
	fs.StringVar(&cfg.StatsAddr, "stats-listen", cfg.StatsAddr, "Stats/health listen address (/metrics, /live, /ready)")

	fs.StringVar(&httpEndpoints, "http-endpoints", "", "Comma-separated shard backend URLs for HTTP traffic, indexed by shard")
	fs.StringVar(&grpcEndpoints, "grpc-endpoints", "", "Comma-separated shard backend host:port targets for gRPC traffic, indexed by shard")

	fs.StringVar(&cfg.ResolverURL, "resolver-url", cfg.ResolverURL, "Base URL of the token resolver control plane")
	fs.DurationVar(&cfg.ResolverTimeout, "resolver-timeout", cfg.ResolverTimeout, "Token resolver request timeout")
	fs.DurationVar(&cfg.AuthCacheTTL, "auth-cache-ttl", cfg.AuthCacheTTL, "How long resolved tokens are cached")

	fs.DurationVar(&cfg.PoolConnectTimeout, "pool-connect-timeout", cfg.PoolConnectTimeout, "Backend session establishment timeout")
	fs.DurationVar(&cfg.PoolProbeInterval, "pool-probe-interval", cfg.PoolProbeInterval, "Backend session keepalive probe interval")
	fs.IntVar(&cfg.GRPCMaxRecvMsgSize, "grpc-max-msg-size", cfg.GRPCMaxRecvMsgSize, "Maximum relayed gRPC message size in bytes (0 = 64MiB)")

	fs.DurationVar(&cfg.HTTPReadHeaderTimeout, "http-read-header-timeout", cfg.HTTPReadHeaderTimeout, "Inbound HTTP header read timeout")

	fs.IntVar(&cfg.ClientMaxIdleConns, "client-max-idle-conns", cfg.ClientMaxIdleConns, "Max idle upstream connections across all shards (0 = 100)")
	fs.IntVar(&cfg.ClientMaxIdleConnsPerHost, "client-max-idle-conns-per-host", cfg.ClientMaxIdleConnsPerHost, "Max idle upstream connections per shard (0 = 100)")
	fs.IntVar(&cfg.ClientMaxConnsPerHost, "client-max-conns-per-host", cfg.ClientMaxConnsPerHost, "Max upstream connections per shard (0 = unlimited)")
	fs.DurationVar(&cfg.ClientIdleConnTimeout, "client-idle-conn-timeout", cfg.ClientIdleConnTimeout, "Idle upstream connection timeout")
	fs.BoolVar(&cfg.ClientDisableKeepAlives, "client-disable-keep-alives", cfg.ClientDisableKeepAlives, "Disable upstream HTTP keep-alives")
	fs.BoolVar(&cfg.ClientForceHTTP2, "client-force-http2", cfg.ClientForceHTTP2, "Attempt HTTP/2 on upstream connections")
	fs.DurationVar(&cfg.ClientHTTP2ReadIdleTimeout, "client-http2-read-idle-timeout", cfg.ClientHTTP2ReadIdleTimeout, "HTTP/2 ping health check interval for idle upstream connections")
	fs.DurationVar(&cfg.ClientHTTP2PingTimeout, "client-http2-ping-timeout", cfg.ClientHTTP2PingTimeout, "HTTP/2 ping response timeout")

	fs.BoolVar(&cfg.ListenerTLSEnabled, "listener-tls-enabled", cfg.ListenerTLSEnabled, "Enable TLS on the HTTP gateway listener")
	fs.StringVar(&cfg.ListenerTLSCertFile, "listener-tls-cert", cfg.ListenerTLSCertFile, "Path to listener TLS certificate file")
	fs.StringVar(&cfg.ListenerTLSKeyFile, "listener-tls-key", cfg.ListenerTLSKeyFile, "Path to listener TLS private key file")
	fs.StringVar(&cfg.ListenerTLSCAFile, "listener-tls-ca", cfg.ListenerTLSCAFile, "Path to CA certificate for client verification (mTLS)")
	fs.BoolVar(&cfg.ListenerTLSClientAuth, "listener-tls-client-auth", cfg.ListenerTLSClientAuth, "Require client certificates (mTLS)")

	fs.BoolVar(&cfg.UpstreamTLSEnabled, "upstream-tls-enabled", cfg.UpstreamTLSEnabled, "Enable custom TLS config for upstream HTTP relay")
	fs.StringVar(&cfg.UpstreamTLSCertFile, "upstream-tls-cert", cfg.UpstreamTLSCertFile, "Path to client certificate file (mTLS)")
	fs.StringVar(&cfg.UpstreamTLSKeyFile, "upstream-tls-key", cfg.UpstreamTLSKeyFile, "Path to client private key file (mTLS)")
	fs.StringVar(&cfg.UpstreamTLSCAFile, "upstream-tls-ca", cfg.UpstreamTLSCAFile, "Path to CA certificate for server verification")
	fs.BoolVar(&cfg.UpstreamTLSInsecureSkipVerify, "upstream-tls-skip-verify", cfg.UpstreamTLSInsecureSkipVerify, "Skip upstream TLS certificate verification")
	fs.StringVar(&cfg.UpstreamTLSServerName, "upstream-tls-server-name", cfg.UpstreamTLSServerName, "Override server name for upstream TLS verification")

	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: debug, info, warn, error")
	fs.DurationVar(&cfg.StatsLogInterval, "stats-log-interval", cfg.StatsLogInterval, "Interval between ingestion volume report log lines")
	fs.DurationVar(&cfg.WarnDedupeWindow, "warn-dedupe-window", cfg.WarnDedupeWindow, "Window for suppressing repeated unauthorized-token warnings")

	fs.StringVar(&cfg.TelemetryEndpoint, "telemetry-endpoint", cfg.TelemetryEndpoint, "OTLP endpoint for self-telemetry (empty = disabled)")
	fs.StringVar(&cfg.TelemetryProtocol, "telemetry-protocol", cfg.TelemetryProtocol, "Self-telemetry protocol: grpc or http")
	fs.BoolVar(&cfg.TelemetryInsecure, "telemetry-insecure", cfg.TelemetryInsecure, "Use plaintext connection for self-telemetry")
	fs.DurationVar(&cfg.TelemetryPushInterval, "telemetry-push-interval", cfg.TelemetryPushInterval, "Self-telemetry metric push interval")
	fs.StringVar(&cfg.TelemetryCompression, "telemetry-compression", cfg.TelemetryCompression, "Self-telemetry compression: gzip or empty")
	fs.DurationVar(&cfg.TelemetryShutdownTimeout, "telemetry-shutdown-timeout", cfg.TelemetryShutdownTimeout, "Self-telemetry shutdown grace period")

	fs.BoolVar(&cfg.ShowHelp, "help", false, "Show help message")
	fs.BoolVar(&cfg.ShowHelp, "h", false, "Show help message (shorthand)")
	fs.BoolVar(&cfg.ShowVersion, "version", false, "Show version")
	fs.BoolVar(&cfg.ShowVersion, "v", false, "Show version (shorthand)")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg.HTTPEndpoints = splitList(httpEndpoints)
	cfg.GRPCEndpoints = splitList(grpcEndpoints)

	if configFile != "" {
		yamlCfg, err := LoadYAML(configFile)
		if err != nil {
			return nil, err
		}
		explicit := map[string]bool{}
		fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })
		yamlCfg.overlay(cfg, explicit)
	}

	return cfg, nil
}

func splitList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate rejects configurations the gateway cannot start with. Empty
// endpoint lists are allowed (readiness reports them) so instances can boot
// ahead of shard provisioning.
func (c *Config) Validate() error {
	if c.ResolverURL == "" {
		return fmt.Errorf("resolver-url is required")
	}
	if c.AuthCacheTTL <= 0 {
		return fmt.Errorf("auth-cache-ttl must be positive, got %v", c.AuthCacheTTL)
	}
	if c.PoolConnectTimeout <= 0 {
		return fmt.Errorf("pool-connect-timeout must be positive, got %v", c.PoolConnectTimeout)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log-level %q", c.LogLevel)
	}
	switch c.TelemetryProtocol {
	case "grpc", "http":
	default:
		return fmt.Errorf("unknown telemetry-protocol %q", c.TelemetryProtocol)
	}
	if c.ListenerTLSEnabled && (c.ListenerTLSCertFile == "" || c.ListenerTLSKeyFile == "") {
		return fmt.Errorf("listener TLS enabled but cert/key not set")
	}
	return nil
}
