package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.RecordCommand("REG", "ok", time.Millisecond)
	m.RecordQueued(true)
	m.RecordDelivery(false)
	m.SetQueueDepth(3)
	m.RecordStateJob("reset", 1, nil)
	m.RecordScheduledRun("reminders", "success", time.Second)
	m.RecordHTTPRequest(http.MethodGet, "/health", 200, time.Millisecond)
}

func TestRecordCommand(t *testing.T) {
	m := New()
	m.RecordCommand("STO", "ok", 10*time.Millisecond)
	m.RecordCommand("STO", "ok", 10*time.Millisecond)
	m.RecordCommand("STO", "rejected", 10*time.Millisecond)

	if got := testutil.ToFloat64(m.CommandsTotal.WithLabelValues("STO", "ok")); got != 2 {
		t.Errorf("expected 2 ok commands, got %v", got)
	}
	if got := testutil.ToFloat64(m.CommandsTotal.WithLabelValues("STO", "rejected")); got != 1 {
		t.Errorf("expected 1 rejected command, got %v", got)
	}
}

func TestRecordQueuedAndDelivery(t *testing.T) {
	m := New()
	m.RecordQueued(false)
	m.RecordQueued(true)
	m.RecordQueued(true)
	m.RecordDelivery(true)
	m.RecordDelivery(false)
	m.SetQueueDepth(7)

	if got := testutil.ToFloat64(m.NotificationsQueued.WithLabelValues("deferred")); got != 2 {
		t.Errorf("expected 2 deferred, got %v", got)
	}
	if got := testutil.ToFloat64(m.DeliveriesTotal.WithLabelValues("failed")); got != 1 {
		t.Errorf("expected 1 failed delivery, got %v", got)
	}
	if got := testutil.ToFloat64(m.QueueDepth); got != 7 {
		t.Errorf("expected depth 7, got %v", got)
	}
}

func TestRecordStateJob(t *testing.T) {
	m := New()
	m.RecordStateJob("update", 12, nil)
	m.RecordStateJob("update", 0, errors.New("boom"))

	if got := testutil.ToFloat64(m.StateJobsTotal.WithLabelValues("update", "failure")); got != 1 {
		t.Errorf("expected 1 failure, got %v", got)
	}
	if got := testutil.ToFloat64(m.StateRows.WithLabelValues("update")); got != 0 {
		t.Errorf("expected last run rows 0, got %v", got)
	}
}

func TestRecordScheduledRun(t *testing.T) {
	m := New()
	m.RecordScheduledRun("reminders", "success", time.Second)
	m.RecordScheduledRun("reminders", "skipped", 0)

	if got := testutil.ToFloat64(m.ScheduledRuns.WithLabelValues("reminders", "skipped")); got != 1 {
		t.Errorf("expected 1 skipped run, got %v", got)
	}
	if got := testutil.CollectAndCount(m.ScheduledDuration); got != 1 {
		t.Errorf("expected one duration series, got %d", got)
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.RecordCommand("OUT", "ok", time.Millisecond)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := m.Handler()(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `imam_sms_commands_total{command="OUT",outcome="ok"} 1`) {
		t.Errorf("expected command counter in output:\n%s", rec.Body.String())
	}
}

func TestMiddlewareRecordsRoute(t *testing.T) {
	m := New()
	e := echo.New()
	e.Use(m.Middleware())
	e.GET("/api/v1/program-states", func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/program-states", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if got := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues(http.MethodGet, "/api/v1/program-states", "200")); got != 1 {
		t.Errorf("expected one recorded request, got %v", got)
	}
}
