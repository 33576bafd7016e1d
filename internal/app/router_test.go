package app

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	costinghttp "github.com/donasdosas/ledger/internal/costing/http"
	ledgerhttp "github.com/donasdosas/ledger/internal/ledger/http"
	"github.com/donasdosas/ledger/internal/observability"
	saleshttp "github.com/donasdosas/ledger/internal/sales/http"
	scenariohttp "github.com/donasdosas/ledger/internal/scenario/http"
	"github.com/donasdosas/ledger/jobs"
)

func memoryConfig(redisAddr string) *Config {
	return &Config{
		AppEnv:             "test",
		StorageDriver:      StorageMemory,
		RedisAddr:          redisAddr,
		CacheTTL:           time.Minute,
		RateLimitPerMinute: 0,
		DefaultBusinessID:  1,
		DriftThreshold:     decimal.NewFromInt(1000),
	}
}

func newTestServer(t *testing.T) (*httptest.Server, *Services, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	cfg := memoryConfig(mr.Addr())
	metrics := observability.NewMetrics()

	services, err := BuildServices(context.Background(), cfg, nil, metrics)
	require.NoError(t, err)
	t.Cleanup(services.Close)

	router := NewRouter(RouterParams{
		Config:          cfg,
		Metrics:         metrics,
		LedgerHandler:   ledgerhttp.NewHandler(nil, services.Ledger),
		CostingHandler:  costinghttp.NewHandler(nil, services.Costing),
		SalesHandler:    saleshttp.NewHandler(nil, services.Sales),
		ScenarioHandler: scenariohttp.NewHandler(nil, services.Scenario),
		JobHandler:      jobs.NewHandler(nil, nil),
		Checks:          services.Checks(),
	})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv, services, mr
}

func do(t *testing.T, method, url, body string, header map[string]string) (*http.Response, string) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	buf := new(strings.Builder)
	_, err = io.Copy(buf, resp.Body)
	require.NoError(t, err)
	return resp, buf.String()
}

func TestHealthzReportsBackingStores(t *testing.T) {
	srv, services, mr := newTestServer(t)
	require.NotNil(t, services.Redis)
	assert.Nil(t, services.Pool)

	resp, body := do(t, http.MethodGet, srv.URL+"/healthz", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `"redis":"ok"`)

	mr.Close()
	resp, body = do(t, http.MethodGet, srv.URL+"/healthz", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Contains(t, body, `"status":"degraded"`)
}

func TestRouterServesTenantScopedLedger(t *testing.T) {
	srv, _, _ := newTestServer(t)

	settings := `{"currency":"IDR","days_per_month":26,"owner_capital":"1000"}`
	resp, _ := do(t, http.MethodPut, srv.URL+"/api/settings", settings, map[string]string{BusinessHeader: "5"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	month := `{"revenue":"400","cogs":"100","opex":"50","capex":"0"}`
	resp, body := do(t, http.MethodPut, srv.URL+"/api/months/2025-01", month, map[string]string{BusinessHeader: "5"})
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Contains(t, body, `"cash_end":"1250"`)

	// the default business never saw that month
	resp, body = do(t, http.MethodGet, srv.URL+"/api/months/2025-01", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `"business_id":1`)
	assert.Contains(t, body, `"revenue":"0"`)

	resp, body = do(t, http.MethodGet, srv.URL+"/api/months/2025-01", "", map[string]string{BusinessHeader: "nope"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body, "X-Business-ID")
}

func TestRouterProblemsAndHeaders(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp, body := do(t, http.MethodGet, srv.URL+"/nowhere", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "application/problem+json", resp.Header.Get("Content-Type"))
	assert.Contains(t, body, "/nowhere")
	assert.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))
	assert.NotEmpty(t, resp.Header.Get("X-Content-Type-Options"))

	resp, _ = do(t, http.MethodGet, srv.URL+"/jobs/health", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = do(t, http.MethodGet, srv.URL+"/metrics", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "ledger_http_requests_total")
}

func TestConfigValidate(t *testing.T) {
	cfg := memoryConfig("127.0.0.1:6379")
	require.NoError(t, cfg.Validate())

	bad := *cfg
	bad.StorageDriver = "sqlite"
	assert.Error(t, bad.Validate())

	bad = *cfg
	bad.StorageDriver = StoragePostgres
	bad.PGDSN = ""
	assert.Error(t, bad.Validate())

	bad = *cfg
	bad.DriftThreshold = decimal.NewFromInt(-1)
	assert.Error(t, bad.Validate())
}

func TestAsynqRedisAcceptsURL(t *testing.T) {
	cfg := memoryConfig("redis://:secret@cache.internal:6380/2")
	opt, err := cfg.AsynqRedis()
	require.NoError(t, err)
	assert.NotNil(t, opt)

	cfg.RedisAddr = "localhost:6379"
	opt, err = cfg.AsynqRedis()
	require.NoError(t, err)
	assert.NotNil(t, opt)
}
