package db

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

type stubDependency struct {
	name string
	err  error
}

func (p stubDependency) Name() string                 { return p.name }
func (p stubDependency) Ping(_ context.Context) error { return p.err }

func runHealth(t *testing.T, deps ...Dependency) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := HealthHandler(nil, deps...)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return rec, body
}

func TestHealthHandler_DependenciesHealthy(t *testing.T) {
	rec, body := runHealth(t, stubDependency{name: "queue"})
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if body["status"] != "healthy" {
		t.Errorf("expected healthy, got %v", body["status"])
	}
	checks, _ := body["checks"].(map[string]interface{})
	if checks["queue"] != "ok" {
		t.Errorf("expected queue ok, got %v", checks["queue"])
	}
}

func TestHealthHandler_DependencyFailure(t *testing.T) {
	rec, body := runHealth(t, stubDependency{name: "queue"}, stubDependency{name: "redis", err: errors.New("connection refused")})
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
	if body["status"] != "unhealthy" {
		t.Errorf("expected unhealthy, got %v", body["status"])
	}
	checks, _ := body["checks"].(map[string]interface{})
	if checks["redis"] != "connection refused" {
		t.Errorf("expected redis failure message, got %v", checks["redis"])
	}
}

func TestHealthHandler_NoDependencies(t *testing.T) {
	rec, body := runHealth(t)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if _, ok := body["checks"]; ok {
		t.Error("expected no checks section without dependencies")
	}
}

func TestPoolStats_Fields(t *testing.T) {
	stats := &PoolStats{TotalConns: 10, IdleConns: 5, AcquiredConns: 5, MaxConns: 20, AcquireCount: 100, AcquireDuration: "1.5s", Healthy: true}
	raw, err := json.Marshal(stats)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded map[string]interface{}
	_ = json.Unmarshal(raw, &decoded)
	if decoded["total_conns"] != float64(10) {
		t.Errorf("expected total_conns 10, got %v", decoded["total_conns"])
	}
	if decoded["acquire_duration"] != "1.5s" {
		t.Errorf("expected acquire_duration 1.5s, got %v", decoded["acquire_duration"])
	}
}
