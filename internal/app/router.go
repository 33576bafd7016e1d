package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	costinghttp "github.com/donasdosas/ledger/internal/costing/http"
	ledgerhttp "github.com/donasdosas/ledger/internal/ledger/http"
	"github.com/donasdosas/ledger/internal/observability"
	"github.com/donasdosas/ledger/internal/platform/httpx"
	saleshttp "github.com/donasdosas/ledger/internal/sales/http"
	scenariohttp "github.com/donasdosas/ledger/internal/scenario/http"
	"github.com/donasdosas/ledger/jobs"
)

// HealthCheck pings one backing dependency.
type HealthCheck func(ctx context.Context) error

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger          *slog.Logger
	Config          *Config
	Metrics         *observability.Metrics
	LedgerHandler   *ledgerhttp.Handler
	CostingHandler  *costinghttp.Handler
	SalesHandler    *saleshttp.Handler
	ScenarioHandler *scenariohttp.Handler
	JobHandler      *jobs.Handler
	Checks          map[string]HealthCheck
}

// NewRouter constructs the chi.Router with ledger defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Get("/healthz", healthz(params.Checks))
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}
	r.Route("/jobs", params.JobHandler.MountRoutes)

	r.Route("/api", func(r chi.Router) {
		params.LedgerHandler.MountRoutes(r)
		params.CostingHandler.MountRoutes(r)
		params.SalesHandler.MountRoutes(r)
		params.ScenarioHandler.MountRoutes(r)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httpx.Problem(w, http.StatusNotFound, "Not Found", "no route for "+r.URL.Path)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		httpx.Problem(w, http.StatusMethodNotAllowed, "Method Not Allowed", r.Method+" is not supported here")
	})
	return r
}

// healthz reports ok only when every check passes within two seconds.
func healthz(checks map[string]HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		status := http.StatusOK
		results := make(map[string]string, len(checks))
		for name, check := range checks {
			if err := check(ctx); err != nil {
				results[name] = err.Error()
				status = http.StatusServiceUnavailable
				continue
			}
			results[name] = "ok"
		}
		body := map[string]any{"status": "ok", "checks": results}
		if status != http.StatusOK {
			body["status"] = "degraded"
		}
		httpx.JSON(w, status, body)
	}
}
