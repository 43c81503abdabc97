package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// YAMLConfig is the configuration file structure. Every field is optional;
// zero values leave the corresponding Config field untouched.
type YAMLConfig struct {
	Listen    ListenYAML    `yaml:"listen"`
	Shards    ShardsYAML    `yaml:"shards"`
	Resolver  ResolverYAML  `yaml:"resolver"`
	Pool      PoolYAML      `yaml:"pool"`
	Client    ClientYAML    `yaml:"client"`
	TLS       TLSYAML       `yaml:"tls"`
	Logging   LoggingYAML   `yaml:"logging"`
	Telemetry TelemetryYAML `yaml:"telemetry"`
}

// ListenYAML holds listener addresses.
type ListenYAML struct {
	HTTP  string `yaml:"http"`
	GRPC  string `yaml:"grpc"`
	Stats string `yaml:"stats"`
}

// ShardsYAML holds the per-transport backend lists, indexed by shard.
type ShardsYAML struct {
	HTTPEndpoints []string `yaml:"http_endpoints"`
	GRPCEndpoints []string `yaml:"grpc_endpoints"`
}

// ResolverYAML holds token control-plane settings.
type ResolverYAML struct {
	URL      string   `yaml:"url"`
	Timeout  Duration `yaml:"timeout"`
	CacheTTL Duration `yaml:"cache_ttl"`
}

// PoolYAML holds streaming connection pool settings.
type PoolYAML struct {
	ConnectTimeout Duration `yaml:"connect_timeout"`
	ProbeInterval  Duration `yaml:"probe_interval"`
	MaxMsgSize     int      `yaml:"max_msg_size"`
}

// ClientYAML holds outbound HTTP client settings.
type ClientYAML struct {
	MaxIdleConns         int      `yaml:"max_idle_conns"`
	MaxIdleConnsPerHost  int      `yaml:"max_idle_conns_per_host"`
	MaxConnsPerHost      int      `yaml:"max_conns_per_host"`
	IdleConnTimeout      Duration `yaml:"idle_conn_timeout"`
	DisableKeepAlives    *bool    `yaml:"disable_keep_alives"`
	ForceHTTP2           *bool    `yaml:"force_http2"`
	HTTP2ReadIdleTimeout Duration `yaml:"http2_read_idle_timeout"`
	HTTP2PingTimeout     Duration `yaml:"http2_ping_timeout"`
}

// TLSYAML holds listener and upstream TLS settings.
type TLSYAML struct {
	Listener ListenerTLSYAML `yaml:"listener"`
	Upstream UpstreamTLSYAML `yaml:"upstream"`
}

// ListenerTLSYAML configures TLS on the HTTP gateway listener.
type ListenerTLSYAML struct {
	Enabled    *bool  `yaml:"enabled"`
	CertFile   string `yaml:"cert_file"`
	KeyFile    string `yaml:"key_file"`
	CAFile     string `yaml:"ca_file"`
	ClientAuth *bool  `yaml:"client_auth"`
}

// UpstreamTLSYAML configures TLS toward the shard backends.
type UpstreamTLSYAML struct {
	Enabled            *bool  `yaml:"enabled"`
	CertFile           string `yaml:"cert_file"`
	KeyFile            string `yaml:"key_file"`
	CAFile             string `yaml:"ca_file"`
	InsecureSkipVerify *bool  `yaml:"insecure_skip_verify"`
	ServerName         string `yaml:"server_name"`
}

// LoggingYAML holds log output settings.
type LoggingYAML struct {
	Level            string   `yaml:"level"`
	StatsInterval    Duration `yaml:"stats_interval"`
	WarnDedupeWindow Duration `yaml:"warn_dedupe_window"`
}

// TelemetryYAML holds OTLP self-telemetry settings.
type TelemetryYAML struct {
	Endpoint        string   `yaml:"endpoint"`
	Protocol        string   `yaml:"protocol"`
	Insecure        *bool    `yaml:"insecure"`
	PushInterval    Duration `yaml:"push_interval"`
	Compression     string   `yaml:"compression"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// Duration wraps time.Duration with YAML string unmarshaling ("30s", "1h").
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	if s == "" {
		*d = 0
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// LoadYAML reads and parses a configuration file.
func LoadYAML(path string) (*YAMLConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return ParseYAML(data)
}

// ParseYAML parses configuration file contents.
func ParseYAML(data []byte) (*YAMLConfig, error) {
	var cfg YAMLConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	return &cfg, nil
}

// overlay applies file values onto cfg, skipping fields whose flag was set
// explicitly on the command line.
func (y *YAMLConfig) overlay(cfg *Config, explicit map[string]bool) {
	setString := func(flagName, value string, dst *string) {
		if value != "" && !explicit[flagName] {
			*dst = value
		}
	}
	setDuration := func(flagName string, value Duration, dst *time.Duration) {
		if value != 0 && !explicit[flagName] {
			*dst = time.Duration(value)
		}
	}
	setInt := func(flagName string, value int, dst *int) {
		if value != 0 && !explicit[flagName] {
			*dst = value
		}
	}
	setBool := func(flagName string, value *bool, dst *bool) {
		if value != nil && !explicit[flagName] {
			*dst = *value
		}
	}

	setString("http-listen", y.Listen.HTTP, &cfg.HTTPListenAddr)
	setString("grpc-listen", y.Listen.GRPC, &cfg.GRPCListenAddr)
	setString("stats-listen", y.Listen.Stats, &cfg.StatsAddr)

	if len(y.Shards.HTTPEndpoints) > 0 && !explicit["http-endpoints"] {
		cfg.HTTPEndpoints = y.Shards.HTTPEndpoints
	}
	if len(y.Shards.GRPCEndpoints) > 0 && !explicit["grpc-endpoints"] {
		cfg.GRPCEndpoints = y.Shards.GRPCEndpoints
	}

	setString("resolver-url", y.Resolver.URL, &cfg.ResolverURL)
	setDuration("resolver-timeout", y.Resolver.Timeout, &cfg.ResolverTimeout)
	setDuration("auth-cache-ttl", y.Resolver.CacheTTL, &cfg.AuthCacheTTL)

	setDuration("pool-connect-timeout", y.Pool.ConnectTimeout, &cfg.PoolConnectTimeout)
	setDuration("pool-probe-interval", y.Pool.ProbeInterval, &cfg.PoolProbeInterval)
	setInt("grpc-max-msg-size", y.Pool.MaxMsgSize, &cfg.GRPCMaxRecvMsgSize)

	setInt("client-max-idle-conns", y.Client.MaxIdleConns, &cfg.ClientMaxIdleConns)
	setInt("client-max-idle-conns-per-host", y.Client.MaxIdleConnsPerHost, &cfg.ClientMaxIdleConnsPerHost)
	setInt("client-max-conns-per-host", y.Client.MaxConnsPerHost, &cfg.ClientMaxConnsPerHost)
	setDuration("client-idle-conn-timeout", y.Client.IdleConnTimeout, &cfg.ClientIdleConnTimeout)
	setBool("client-disable-keep-alives", y.Client.DisableKeepAlives, &cfg.ClientDisableKeepAlives)
	setBool("client-force-http2", y.Client.ForceHTTP2, &cfg.ClientForceHTTP2)
	setDuration("client-http2-read-idle-timeout", y.Client.HTTP2ReadIdleTimeout, &cfg.ClientHTTP2ReadIdleTimeout)
	setDuration("client-http2-ping-timeout", y.Client.HTTP2PingTimeout, &cfg.ClientHTTP2PingTimeout)

	setBool("listener-tls-enabled", y.TLS.Listener.Enabled, &cfg.ListenerTLSEnabled)
	setString("listener-tls-cert", y.TLS.Listener.CertFile, &cfg.ListenerTLSCertFile)
	setString("listener-tls-key", y.TLS.Listener.KeyFile, &cfg.ListenerTLSKeyFile)
	setString("listener-tls-ca", y.TLS.Listener.CAFile, &cfg.ListenerTLSCAFile)
	setBool("listener-tls-client-auth", y.TLS.Listener.ClientAuth, &cfg.ListenerTLSClientAuth)

	setBool("upstream-tls-enabled", y.TLS.Upstream.Enabled, &cfg.UpstreamTLSEnabled)
	setString("upstream-tls-cert", y.TLS.Upstream.CertFile, &cfg.UpstreamTLSCertFile)
	setString("upstream-tls-key", y.TLS.Upstream.KeyFile, &cfg.UpstreamTLSKeyFile)
	setString("upstream-tls-ca", y.TLS.Upstream.CAFile, &cfg.UpstreamTLSCAFile)
	setBool("upstream-tls-skip-verify", y.TLS.Upstream.InsecureSkipVerify, &cfg.UpstreamTLSInsecureSkipVerify)
	setString("upstream-tls-server-name", y.TLS.Upstream.ServerName, &cfg.UpstreamTLSServerName)

	setString("log-level", y.Logging.Level, &cfg.LogLevel)
	setDuration("stats-log-interval", y.Logging.StatsInterval, &cfg.StatsLogInterval)
	setDuration("warn-dedupe-window", y.Logging.WarnDedupeWindow, &cfg.WarnDedupeWindow)

	setString("telemetry-endpoint", y.Telemetry.Endpoint, &cfg.TelemetryEndpoint)
	setString("telemetry-protocol", y.Telemetry.Protocol, &cfg.TelemetryProtocol)
	setBool("telemetry-insecure", y.Telemetry.Insecure, &cfg.TelemetryInsecure)
	setDuration("telemetry-push-interval", y.Telemetry.PushInterval, &cfg.TelemetryPushInterval)
	setString("telemetry-compression", y.Telemetry.Compression, &cfg.TelemetryCompression)
	setDuration("telemetry-shutdown-timeout", y.Telemetry.ShutdownTimeout, &cfg.TelemetryShutdownTimeout)
}
