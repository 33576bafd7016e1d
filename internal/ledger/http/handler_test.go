package ledgerhttp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/donasdosas/ledger/internal/ledger"
	"github.com/donasdosas/ledger/internal/shared"
)

const biz int64 = 7

func newTestRouter(t *testing.T) (http.Handler, *ledger.Service) {
	t.Helper()
	svc := ledger.NewService(ledger.NewMemoryRepository(), ledger.Options{})
	svc.WithNow(func() time.Time { return time.Date(2025, 6, 15, 9, 0, 0, 0, time.UTC) })
	_, err := svc.UpdateSettings(context.Background(), biz, ledger.UpdateSettingsRequest{
		Currency:     "IDR",
		DaysPerMonth: 26,
		OwnerCapital: decimal.RequireFromString("1000"),
	})
	require.NoError(t, err)

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(shared.ContextWithBusiness(req.Context(), biz)))
		})
	})
	NewHandler(nil, svc).MountRoutes(r)
	return r, svc
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out), rr.Body.String())
	return out
}

func TestPutAndGetMonth(t *testing.T) {
	h, _ := newTestRouter(t)

	rr := do(t, h, http.MethodPut, "/months/2025-01", `{"revenue":"500","cogs":"100","opex":"100"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "1300", decode(t, rr)["cash_end"])

	rr = do(t, h, http.MethodGet, "/months/2025-01", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "2025-01-01", decode(t, rr)["month"])

	rr = do(t, h, http.MethodGet, "/months?from=2025-01&to=2025-12", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decode(t, rr)["months"], 1)
}

func TestMalformedMonthKeyIsBadRequest(t *testing.T) {
	h, _ := newTestRouter(t)
	rr := do(t, h, http.MethodGet, "/months/2025-13", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "application/problem+json", rr.Header().Get("Content-Type"))
}

func TestLockedMonthRejectsWriteUnlessOverride(t *testing.T) {
	h, _ := newTestRouter(t)
	require.Equal(t, http.StatusOK, do(t, h, http.MethodPut, "/months/2025-02", `{"revenue":"100"}`).Code)

	rr := do(t, h, http.MethodPost, "/months/2025-02/lock", `{"as_of":"2025-03-01"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "LOCKED", decode(t, rr)["status"])

	rr = do(t, h, http.MethodPut, "/months/2025-02", `{"revenue":"200"}`)
	require.Equal(t, http.StatusConflict, rr.Code)
	problem := decode(t, rr)
	assert.Equal(t, "locked-period", problem["type"])
	assert.Equal(t, "2025-02", problem["month"])

	rr = do(t, h, http.MethodPut, "/months/2025-02?override=true", `{"revenue":"200","cash_end":"5000"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "5000", decode(t, rr)["cash_end"])

	rr = do(t, h, http.MethodPost, "/months/2025-02/unlock", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "OPEN", decode(t, rr)["status"])
}

func TestBulkStopsAtLockedMonth(t *testing.T) {
	h, _ := newTestRouter(t)
	require.Equal(t, http.StatusOK, do(t, h, http.MethodPut, "/months/2025-02", `{"revenue":"100"}`).Code)
	require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/months/2025-02/lock", "").Code)

	rr := do(t, h, http.MethodPost, "/months:bulk", `{"months":[
		{"month":"2025-03","revenue":"10"},
		{"month":"2025-01","revenue":"10"},
		{"month":"2025-02","revenue":"10"}
	]}`)
	require.Equal(t, http.StatusMultiStatus, rr.Code, rr.Body.String())
	body := decode(t, rr)
	assert.Equal(t, "2025-02-01", body["failed_at"])
	items := body["items"].([]any)
	require.Len(t, items, 3)
	assert.Equal(t, "ok", items[0].(map[string]any)["status"])
	assert.Equal(t, "failed", items[1].(map[string]any)["status"])
	assert.Equal(t, "skipped", items[2].(map[string]any)["status"])

	rr = do(t, h, http.MethodPost, "/months:bulk", `{"months":[]}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestLockThroughAndGaps(t *testing.T) {
	h, _ := newTestRouter(t)
	for _, m := range []string{"2025-01", "2025-02", "2025-04"} {
		require.Equal(t, http.StatusOK, do(t, h, http.MethodPut, "/months/"+m, `{"revenue":"1"}`).Code)
	}

	rr := do(t, h, http.MethodPost, "/months/lock-through", `{"through":"2025-02"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, []any{"2025-01-01", "2025-02-01"}, decode(t, rr)["locked"])

	rr = do(t, h, http.MethodGet, "/months/gaps", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decode(t, rr)["gaps"], 1)

	rr = do(t, h, http.MethodPost, "/months/lock-through", `{}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestAdjustmentLifecycle(t *testing.T) {
	h, _ := newTestRouter(t)
	require.Equal(t, http.StatusOK, do(t, h, http.MethodPut, "/months/2025-01", `{"revenue":"100"}`).Code)

	rr := do(t, h, http.MethodPost, "/adjustments", `{"month":"2025-01","kind":"CASH_IN","amount":"50","title":"Grant"}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	id := decode(t, rr)["id"].(string)

	rr = do(t, h, http.MethodGet, "/months/2025-01", "")
	assert.Equal(t, "1150", decode(t, rr)["cash_end"])

	rr = do(t, h, http.MethodDelete, "/adjustments/"+id, "")
	require.Equal(t, http.StatusNoContent, rr.Code)

	rr = do(t, h, http.MethodDelete, "/adjustments/not-a-uuid", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestInvestorSummaryValidatesWindow(t *testing.T) {
	h, _ := newTestRouter(t)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/reports/investor-summary?months=0", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/reports/investor-summary?months=abc", "").Code)

	rr := do(t, h, http.MethodGet, "/reports/investor-summary?months=3&as_of=2025-03", "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
}

func TestMissingBusinessIsRejected(t *testing.T) {
	r := chi.NewRouter()
	NewHandler(nil, ledger.NewService(ledger.NewMemoryRepository(), ledger.Options{})).MountRoutes(r)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/settings", nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}
