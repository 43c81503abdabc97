package health

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func doProbe(t *testing.T, h http.HandlerFunc) (int, Response) {
	t.Helper()
	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	var resp Response
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("invalid probe JSON: %v", err)
	}
	return rec.Code, resp
}

func TestLiveUp(t *testing.T) {
	c := New()
	code, resp := doProbe(t, c.LiveHandler())
	if code != http.StatusOK {
		t.Errorf("live code = %d, want 200", code)
	}
	if resp.Status != StatusUp {
		t.Errorf("live status = %q, want up", resp.Status)
	}
}

func TestReadyAggregatesChecks(t *testing.T) {
	c := New()
	c.RegisterReadiness("http_endpoints", func() error { return nil })
	c.RegisterReadiness("resolver", func() error { return errors.New("connection refused") })

	code, resp := doProbe(t, c.ReadyHandler())
	if code != http.StatusServiceUnavailable {
		t.Fatalf("ready code = %d, want 503", code)
	}
	if resp.Components["http_endpoints"].Status != StatusUp {
		t.Error("passing check reported down")
	}
	if resp.Components["resolver"].Status != StatusDown {
		t.Error("failing check reported up")
	}
	if resp.Components["resolver"].Message == "" {
		t.Error("failing check lost its message")
	}
}

func TestReadyAllPassing(t *testing.T) {
	c := New()
	c.RegisterReadiness("grpc_endpoints", EndpointsCheck("grpc", []string{"h0:4317"}))

	code, resp := doProbe(t, c.ReadyHandler())
	if code != http.StatusOK {
		t.Errorf("ready code = %d, want 200", code)
	}
	if resp.Status != StatusUp {
		t.Errorf("ready status = %q, want up", resp.Status)
	}
}

func TestShutdownFlipsBothProbes(t *testing.T) {
	c := New()
	c.SetShuttingDown()

	if code, _ := doProbe(t, c.LiveHandler()); code != http.StatusServiceUnavailable {
		t.Errorf("live code during shutdown = %d, want 503", code)
	}
	if code, _ := doProbe(t, c.ReadyHandler()); code != http.StatusServiceUnavailable {
		t.Errorf("ready code during shutdown = %d, want 503", code)
	}
}

func TestEndpointsCheck(t *testing.T) {
	if err := EndpointsCheck("http", nil)(); err == nil {
		t.Error("empty endpoint list should fail readiness")
	}
	if err := EndpointsCheck("http", []string{"http://h0:9"})(); err != nil {
		t.Errorf("configured endpoints failed readiness: %v", err)
	}
}

func TestResolverCheck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	if err := ResolverCheck(srv.URL, srv.Client(), time.Second)(); err != nil {
		t.Errorf("reachable resolver failed check: %v", err)
	}

	srv.Close()
	if err := ResolverCheck(srv.URL, srv.Client(), time.Second)(); err == nil {
		t.Error("unreachable resolver passed check")
	}
}
