package diagnostics

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nowplaying-fm/ingest-engine/internal/connwatch"
)

func TestHandleHealth(t *testing.T) {
	s := New(":0", nil, nil)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)

	s.handleHealth(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("unexpected status: %v", body)
	}
}

func TestHandleVersion(t *testing.T) {
	s := New(":0", nil, nil)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/version", nil)

	s.handleVersion(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestHandleStatusNoWatchers(t *testing.T) {
	s := New(":0", nil, nil)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/status", nil)

	s.handleStatus(rr, req)

	var body map[string]connwatch.ServiceStatus
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(body) != 0 {
		t.Fatalf("expected empty status map, got %v", body)
	}
}

func TestHandleStatusReportsWatchers(t *testing.T) {
	m := connwatch.NewManager(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Watch(ctx, connwatch.WatcherConfig{
		Name:  "store",
		Probe: func(ctx context.Context) error { return nil },
	})

	s := New(":0", m, nil)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/status", nil)

	s.handleStatus(rr, req)

	var body map[string]connwatch.ServiceStatus
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if _, ok := body["store"]; !ok {
		t.Fatalf("expected store entry in status, got %v", body)
	}
}

func TestAddrDefaultsWhenEmpty(t *testing.T) {
	if got := Addr(""); got != ":9090" {
		t.Fatalf("Addr(\"\") = %q, want :9090", got)
	}
	if got := Addr(":1234"); got != ":1234" {
		t.Fatalf("Addr(\":1234\") = %q, want :1234", got)
	}
}
