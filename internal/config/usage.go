package config

import (
	"fmt"
	"os"
)

// PrintUsage prints the help message.
func PrintUsage() {
	fmt.Fprintf(os.Stderr, `ingest-gateway - multi-tenant telemetry ingestion gateway

USAGE:
    ingest-gateway [OPTIONS]

DESCRIPTION:
    Fronts a sharded telemetry store. Authenticates agents by bearer token,
    resolves the owning tenant and shard, and relays the payload unchanged
    to the shard backend: HTTP request/response traffic on one listener,
    multiplexed gRPC streams on another.

OPTIONS:
    Configuration:
        -config <path>                   Path to YAML configuration file
                                         CLI flags override config file values

    Listeners:
        -http-listen <addr>              HTTP gateway listen address (default: ":4318")
        -grpc-listen <addr>              gRPC gateway listen address (default: ":4317")
        -stats-listen <addr>             Stats/health listen address (default: ":8888")

    Shards:
        -http-endpoints <list>           Comma-separated backend URLs for HTTP traffic,
                                         indexed by shard number
        -grpc-endpoints <list>           Comma-separated backend host:port targets for
                                         gRPC traffic, indexed by shard number

    Token resolver:
        -resolver-url <url>              Base URL of the token control plane (required)
        -resolver-timeout <dur>          Resolver request timeout (default: 10s)
        -auth-cache-ttl <dur>            Resolved token cache TTL (default: 60s)

    Streaming pool:
        -pool-connect-timeout <dur>      Backend session establishment timeout (default: 5s)
        -pool-probe-interval <dur>       Session keepalive probe interval (default: 30s)
        -grpc-max-msg-size <bytes>       Max relayed gRPC message size (default: 64MiB)

    Upstream HTTP client:
        -client-max-idle-conns <n>       Max idle connections across shards (default: 100)
        -client-max-idle-conns-per-host <n>
                                         Max idle connections per shard (default: 100)
        -client-max-conns-per-host <n>   Max connections per shard (default: unlimited)
        -client-idle-conn-timeout <dur>  Idle connection timeout (default: 90s)
        -client-disable-keep-alives      One connection per request
        -client-force-http2              Attempt HTTP/2 upstream
        -client-http2-read-idle-timeout <dur>
                                         HTTP/2 ping interval on idle connections
        -client-http2-ping-timeout <dur> HTTP/2 ping response timeout

    TLS:
        -listener-tls-enabled            Enable TLS on the HTTP listener
        -listener-tls-cert <path>        Server certificate file
        -listener-tls-key <path>         Server private key file
        -listener-tls-ca <path>          CA for client verification (mTLS)
        -listener-tls-client-auth        Require client certificates (mTLS)
        -upstream-tls-enabled            Enable custom TLS toward shard backends
        -upstream-tls-cert <path>        Client certificate file (mTLS)
        -upstream-tls-key <path>         Client private key file (mTLS)
        -upstream-tls-ca <path>          CA for server verification
        -upstream-tls-skip-verify        Skip upstream certificate verification
        -upstream-tls-server-name <name> Override upstream server name

    Observability:
        -log-level <level>               debug, info, warn, error (default: "info")
        -stats-log-interval <dur>        Volume report log interval (default: 60s)
        -warn-dedupe-window <dur>        Unauthorized-warning dedupe window (default: 1h)
        -telemetry-endpoint <addr>       OTLP endpoint for self-telemetry (default: disabled)
        -telemetry-protocol <proto>      grpc or http (default: "grpc")
        -telemetry-insecure              Plaintext self-telemetry connection (default: true)
        -telemetry-push-interval <dur>   Metric push interval (default: 30s)
        -telemetry-compression <alg>     gzip or empty
        -telemetry-shutdown-timeout <dur>
                                         Export flush grace period (default: 5s)

    Other:
        -help, -h                        Show this help message
        -version, -v                     Show version

EXAMPLES:
    # Two-shard deployment with a local token resolver
    ingest-gateway \
        -resolver-url http://tokend:8080 \
        -http-endpoints http://shard0:4318,http://shard1:4318 \
        -grpc-endpoints shard0:4317,shard1:4317

    # Config file with flag override
    ingest-gateway -config /etc/ingest-gateway.yaml -log-level debug
`)
}

// PrintVersion prints the build version.
func PrintVersion() {
	fmt.Printf("ingest-gateway %s\n", version)
}
