package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rr.Code)
	}
	return rr.Body.String()
}

func TestMetricsMiddlewareRecordsRequest(t *testing.T) {
	metrics := NewMetrics()

	handler := metrics.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))

	routeCtx := chi.NewRouteContext()
	routeCtx.RoutePatterns = append(routeCtx.RoutePatterns, "/api/months/{month}")

	req := httptest.NewRequest(http.MethodPut, "/api/months/2025-01", nil)
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status %d, got %d", http.StatusConflict, rr.Code)
	}

	body := scrape(t, metrics)
	if !strings.Contains(body, `ledger_http_requests_total{code="409",method="PUT",route="/api/months/{month}"} 1`) {
		t.Fatalf("expected metrics to record request, got: %s", body)
	}
	if !strings.Contains(body, `ledger_http_request_duration_seconds_bucket{route="/api/months/{month}"`) {
		t.Fatalf("expected duration histogram to be present, got: %s", body)
	}
	if !strings.Contains(body, "go_goroutines") {
		t.Fatalf("expected runtime collectors, got: %s", body)
	}
}

func TestLedgerMetricsCounters(t *testing.T) {
	metrics := NewMetrics()
	lm := metrics.Ledger()
	lm.LockRejected("sale")
	lm.LockRejected("sale")
	lm.Recomputed(3)
	lm.GapsDetected(2)
	lm.DriftFlagged(0)

	body := scrape(t, metrics)
	for _, want := range []string{
		`ledger_lock_rejections_total{entity="sale"} 2`,
		`ledger_recomputes_total 1`,
		`ledger_months_rewritten_total 3`,
		`ledger_month_gaps_total 2`,
		`ledger_drift_flagged_total 0`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %q in: %s", want, body)
		}
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	if m.Ledger() != nil {
		t.Fatalf("nil metrics must return nil ledger metrics")
	}
	var lm *LedgerMetrics
	lm.LockRejected("month")
	lm.Recomputed(1)
	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}
