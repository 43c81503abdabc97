// Package health exposes liveness and readiness probes for the gateway.
// Liveness answers "is the process alive"; readiness answers "can this
// instance accept ingestion traffic right now".
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// Status of a probe or component.
type Status string

const (
	StatusUp   Status = "up"
	StatusDown Status = "down"
)

// ComponentCheck is the per-component slice of a probe response.
type ComponentCheck struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
}

// Response is the JSON body returned by the probe endpoints.
type Response struct {
	Status     Status                    `json:"status"`
	Components map[string]ComponentCheck `json:"components,omitempty"`
	Timestamp  string                    `json:"timestamp"`
}

// CheckFunc returns nil when the component can serve, or an error saying
// why it cannot.
type CheckFunc func() error

// Checker aggregates readiness checks registered by gateway components.
type Checker struct {
	mu              sync.RWMutex
	readinessChecks map[string]CheckFunc
	shuttingDown    atomic.Bool
}

// New creates an empty Checker.
func New() *Checker {
	return &Checker{readinessChecks: make(map[string]CheckFunc)}
}

// RegisterReadiness adds a named readiness check, evaluated on each
// /ready request.
func (c *Checker) RegisterReadiness(name string, check CheckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readinessChecks[name] = check
}

// SetShuttingDown flips both probes to 503 so load balancers drain this
// instance before listeners stop.
func (c *Checker) SetShuttingDown() {
	c.shuttingDown.Store(true)
}

// EndpointsCheck reports ready only while the given transport has at least
// one shard backend configured. A gateway with an empty endpoint list would
// reject everything with service-unavailable, so it should not take traffic.
func EndpointsCheck(protocol string, endpoints []string) CheckFunc {
	return func() error {
		if len(endpoints) == 0 {
			return fmt.Errorf("no %s shard endpoints configured", protocol)
		}
		return nil
	}
}

// ResolverCheck reports ready only while the token control plane answers.
// The probe tolerates any HTTP status: reachability is the question, the
// auth cache handles per-token outcomes.
func ResolverCheck(baseURL string, client *http.Client, timeout time.Duration) CheckFunc {
	if client == nil {
		client = http.DefaultClient
	}
	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL, nil)
		if err != nil {
			return fmt.Errorf("invalid resolver url: %w", err)
		}
		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("token resolver unreachable: %w", err)
		}
		resp.Body.Close()
		return nil
	}
}

// LiveHandler serves the /live endpoint.
func (c *Checker) LiveHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if c.shuttingDown.Load() {
			writeJSON(w, http.StatusServiceUnavailable, shutdownResponse())
			return
		}
		writeJSON(w, http.StatusOK, Response{
			Status:    StatusUp,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// ReadyHandler serves the /ready endpoint: all registered checks must pass.
func (c *Checker) ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if c.shuttingDown.Load() {
			writeJSON(w, http.StatusServiceUnavailable, shutdownResponse())
			return
		}

		c.mu.RLock()
		checks := make(map[string]CheckFunc, len(c.readinessChecks))
		for name, check := range c.readinessChecks {
			checks[name] = check
		}
		c.mu.RUnlock()

		overall := StatusUp
		components := make(map[string]ComponentCheck, len(checks))
		for name, check := range checks {
			if err := check(); err != nil {
				overall = StatusDown
				components[name] = ComponentCheck{Status: StatusDown, Message: err.Error()}
			} else {
				components[name] = ComponentCheck{Status: StatusUp}
			}
		}

		code := http.StatusOK
		if overall == StatusDown {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, Response{
			Status:     overall,
			Components: components,
			Timestamp:  time.Now().UTC().Format(time.RFC3339),
		})
	}
}

func shutdownResponse() Response {
	return Response{
		Status:    StatusDown,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Components: map[string]ComponentCheck{
			"process": {Status: StatusDown, Message: "shutting down"},
		},
	}
}

func writeJSON(w http.ResponseWriter, code int, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(resp)
}
