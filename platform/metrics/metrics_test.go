package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMiddlewareUsesRouteTemplate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := New()

	engine := gin.New()
	engine.Use(m.Middleware())
	engine.GET("/leads/:id", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	for _, path := range []string{"/leads/a", "/leads/b"} {
		rec := httptest.NewRecorder()
		engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	}

	got := testutil.ToFloat64(m.httpRequestsTotal.WithLabelValues(http.MethodGet, "/leads/:id", "204"))
	if got != 2 {
		t.Fatalf("expected 2 requests on route template, got %v", got)
	}
}

func TestRecordMutationAndDispatch(t *testing.T) {
	m := New()
	m.RecordMutation("lead", "applied")
	m.RecordMutation("lead", "applied")
	m.RecordMutation("job", "version_mismatch")
	m.RecordDispatchRun(DispatchOutcome{Sent: 3, Deferred: 1}, 200*time.Millisecond)

	if got := testutil.ToFloat64(m.mutationsTotal.WithLabelValues("lead", "applied")); got != 2 {
		t.Fatalf("lead applied = %v", got)
	}
	if got := testutil.ToFloat64(m.dispatchMessagesTotal.WithLabelValues("sent")); got != 3 {
		t.Fatalf("sent = %v", got)
	}
	if got := testutil.ToFloat64(m.dispatchMessagesTotal.WithLabelValues("deferred")); got != 1 {
		t.Fatalf("deferred = %v", got)
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.RecordMutation("lead", "applied")
	m.RecordFeedRows(10)
	m.RecordDispatchRun(DispatchOutcome{Sent: 1}, time.Second)
}

func TestHandlerExposesCollectors(t *testing.T) {
	m := New()
	m.RecordFeedRows(4)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "crewcommand_sync_feed_rows_total 4") {
		t.Fatalf("feed counter missing from output")
	}
}
