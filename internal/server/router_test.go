package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/loykin/botgate/internal/health"
	"github.com/loykin/botgate/internal/process"
	"github.com/loykin/botgate/internal/supervisor"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

func newTestRouter(t *testing.T, hg *health.Gateway) *httptest.Server {
	t.Helper()
	sup := supervisor.New(supervisor.Options{})
	spec := process.Spec{Name: "frontend", Args: []string{"/bin/true"}}
	if err := sup.Register(spec); err != nil {
		t.Fatalf("Register: %v", err)
	}
	srv := httptest.NewServer(NewRouter(sup, hg).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func TestHealthzOK(t *testing.T) {
	hg := health.New("frontend", "http://127.0.0.1:1/healthz", time.Hour, 3)
	srv := newTestRouter(t, hg)

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var rep health.Report
	if err := json.NewDecoder(resp.Body).Decode(&rep); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rep.Component != "frontend" || rep.State != "healthy" {
		t.Errorf("report = %+v", rep)
	}
}

func TestHealthzUnhealthyReturns503(t *testing.T) {
	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	target := dead.URL
	dead.Close()

	hg := health.New("frontend", target, 10*time.Millisecond, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hg.Run(ctx)
	waitFor(t, 5*time.Second, hg.Unhealthy)

	srv := newTestRouter(t, hg)
	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", resp.StatusCode)
	}
	var rep health.Report
	if err := json.NewDecoder(resp.Body).Decode(&rep); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rep.State != "unhealthy" {
		t.Errorf("state = %q, want unhealthy", rep.State)
	}
}

func TestStatusEndpoint(t *testing.T) {
	hg := health.New("frontend", "http://127.0.0.1:1/healthz", time.Hour, 3)
	srv := newTestRouter(t, hg)

	resp, err := http.Get(srv.URL + "/status")
	if err != nil {
		t.Fatalf("GET /status: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var out StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Health.Component != "frontend" {
		t.Errorf("health component = %q", out.Health.Component)
	}
	if len(out.Processes) != 1 {
		t.Fatalf("processes = %d, want 1", len(out.Processes))
	}
	if out.Processes[0].Name != "frontend" || out.Processes[0].State != "pending" {
		t.Errorf("process snapshot = %+v", out.Processes[0])
	}
}

type syncBuf struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (s *syncBuf) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuf) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}

func TestNewServerLogsListenFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer func() { _ = ln.Close() }()

	var buf syncBuf
	log := slog.New(slog.NewTextHandler(&buf, nil))

	sup := supervisor.New(supervisor.Options{})
	hg := health.New("frontend", "http://127.0.0.1:1/healthz", time.Hour, 3)
	srv := NewServer(ln.Addr().String(), sup, hg, log) // address already taken
	defer func() { _ = srv.Shutdown(context.Background()) }()

	waitFor(t, 5*time.Second, func() bool {
		return strings.Contains(buf.String(), "control server error")
	})
}

func TestMetricsEndpoint(t *testing.T) {
	hg := health.New("frontend", "http://127.0.0.1:1/healthz", time.Hour, 3)
	srv := newTestRouter(t, hg)

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if !strings.Contains(string(body), "go_goroutines") {
		t.Error("metrics exposition missing standard collectors")
	}
}
