// Package stats tracks relayed telemetry volume per tenant across both
// transports. Totals feed Prometheus counters; a fixed-memory HyperLogLog
// sketch estimates distinct active tenants per reporting window.
package stats

import (
	"context"
	"sync"
	"time"

	"github.com/axiomhq/hyperloglog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/szibis/ingest-gateway/internal/logging"
)

// UnknownTenant labels traffic that failed authentication; its volume is
// still accounted for diagnostics.
const UnknownTenant = "unknown"

var (
	gatewayRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_gateway_requests_total",
		Help: "Total inbound requests/streams by protocol and outcome",
	}, []string{"protocol", "outcome"})

	gatewayBytesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_gateway_bytes_total",
		Help: "Total relayed payload bytes by protocol and direction",
	}, []string{"protocol", "direction"})
)

func init() {
	prometheus.MustRegister(gatewayRequestsTotal)
	prometheus.MustRegister(gatewayBytesTotal)
}

// TransferSample describes one completed request or stream.
type TransferSample struct {
	// Protocol is "http" or "grpc".
	Protocol string
	// TenantID is the resolved tenant, or UnknownTenant when auth failed.
	TenantID string
	// Outcome is the terminal state: "completed", "rejected", "failed".
	Outcome string
	// BytesIn counts payload bytes received from the agent.
	BytesIn int64
	// BytesOut counts payload bytes relayed back to the agent.
	BytesOut int64
}

type tenantTotals struct {
	requests uint64
	bytesIn  uint64
	bytesOut uint64
}

// Collector aggregates transfer samples.
type Collector struct {
	mu      sync.Mutex
	tenants map[string]*tenantTotals
	window  *hyperloglog.Sketch
	since   time.Time
}

// NewCollector creates an empty volume collector.
func NewCollector() *Collector {
	return &Collector{
		tenants: make(map[string]*tenantTotals),
		window:  hyperloglog.New(),
		since:   time.Now(),
	}
}

// Record accounts one completed transfer. It runs for rejected traffic too
// so operators retain visibility into unauthenticated volume.
func (c *Collector) Record(sample TransferSample) {
	tenant := sample.TenantID
	if tenant == "" {
		tenant = UnknownTenant
	}

	gatewayRequestsTotal.WithLabelValues(sample.Protocol, sample.Outcome).Inc()
	gatewayBytesTotal.WithLabelValues(sample.Protocol, "in").Add(float64(sample.BytesIn))
	gatewayBytesTotal.WithLabelValues(sample.Protocol, "out").Add(float64(sample.BytesOut))

	c.mu.Lock()
	defer c.mu.Unlock()

	totals, ok := c.tenants[tenant]
	if !ok {
		totals = &tenantTotals{}
		c.tenants[tenant] = totals
	}
	totals.requests++
	totals.bytesIn += uint64(sample.BytesIn)
	totals.bytesOut += uint64(sample.BytesOut)

	if tenant != UnknownTenant {
		c.window.Insert([]byte(tenant))
	}
}

// TenantBytes returns the accumulated inbound bytes for a tenant.
func (c *Collector) TenantBytes(tenantID string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if totals, ok := c.tenants[tenantID]; ok {
		return totals.bytesIn
	}
	return 0
}

// DistinctTenants returns the estimated number of distinct authenticated
// tenants seen in the current window.
func (c *Collector) DistinctTenants() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.window.Estimate()
}

// snapshotAndReset returns window aggregates and starts a new window.
func (c *Collector) snapshotAndReset() (requests, bytesIn, bytesOut, distinct uint64, since time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, totals := range c.tenants {
		requests += totals.requests
		bytesIn += totals.bytesIn
		bytesOut += totals.bytesOut
	}
	distinct = c.window.Estimate()
	since = c.since

	c.tenants = make(map[string]*tenantTotals)
	c.window = hyperloglog.New()
	c.since = time.Now()
	return
}

// StartPeriodicLogging emits window aggregates at the given interval until
// the context is cancelled. Each report resets the window.
func (c *Collector) StartPeriodicLogging(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			requests, bytesIn, bytesOut, distinct, since := c.snapshotAndReset()
			logging.Info("ingestion volume report", logging.F(
				"window_seconds", int(time.Since(since).Seconds()),
				"requests", requests,
				"bytes_in", bytesIn,
				"bytes_out", bytesOut,
				"distinct_tenants", distinct,
			))
		}
	}
}
