package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/donasdosas/ledger/internal/jobs"
	"github.com/donasdosas/ledger/internal/ledger"
	"github.com/donasdosas/ledger/internal/shared"
)

var june15 = time.Date(2025, 6, 15, 9, 0, 0, 0, time.UTC)

func seedLedger(t *testing.T) (*ledger.Service, *ledger.MemoryRepository) {
	t.Helper()
	ctx := context.Background()
	repo := ledger.NewMemoryRepository()
	svc := ledger.NewService(repo, ledger.Options{})
	svc.WithNow(func() time.Time { return june15 })
	for _, biz := range []int64{1, 2} {
		_, err := svc.UpdateSettings(ctx, biz, ledger.UpdateSettingsRequest{
			Currency:     "IDR",
			DaysPerMonth: 26,
			OwnerCapital: decimal.NewFromInt(1000),
		})
		require.NoError(t, err)
		for _, m := range []time.Month{time.April, time.May, time.June} {
			_, err := svc.PutMonth(ctx, biz, shared.NewMonthKey(2025, m), ledger.PutMonthRequest{Revenue: decimal.NewFromInt(100)}, false)
			require.NoError(t, err)
		}
	}
	return svc, repo
}

func task(t *testing.T, typ string, payload any) *asynq.Task {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	return asynq.NewTask(typ, body)
}

func TestClosePriorLocksEveryBusiness(t *testing.T) {
	svc, repo := seedLedger(t)
	reg := prometheus.NewRegistry()
	j := NewLedgerJobs(svc, repo, nil, jobmetrics.NewMetrics(reg))
	j.WithClock(func() time.Time { return june15 })

	require.NoError(t, j.HandleClosePrior(context.Background(), task(t, TaskLedgerClosePrior, ClosePriorPayload{})))

	for _, biz := range []int64{1, 2} {
		may, err := svc.GetMonth(context.Background(), biz, shared.NewMonthKey(2025, time.May))
		require.NoError(t, err)
		assert.Equal(t, ledger.MonthLocked, may.Status)
		require.NotNil(t, may.ClosedAt)
		assert.Equal(t, "2025-06-15", may.ClosedAt.Format("2006-01-02"))

		june, err := svc.GetMonth(context.Background(), biz, shared.NewMonthKey(2025, time.June))
		require.NoError(t, err)
		assert.Equal(t, ledger.MonthOpen, june.Status)
	}

	// a second run finds nothing left to close
	require.NoError(t, j.HandleClosePrior(context.Background(), task(t, TaskLedgerClosePrior, ClosePriorPayload{})))
	expected := `
# HELP ledger_months_closed_total Months locked by the scheduled month-end close.
# TYPE ledger_months_closed_total counter
ledger_months_closed_total 4
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "ledger_months_closed_total"))
}

func TestClosePriorScopedAndAsOf(t *testing.T) {
	svc, repo := seedLedger(t)
	j := NewLedgerJobs(svc, repo, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))

	payload := ClosePriorPayload{BusinessIDs: []int64{2}, AsOf: "2025-06-01"}
	require.NoError(t, j.HandleClosePrior(context.Background(), task(t, TaskLedgerClosePrior, payload)))

	april1, err := svc.GetMonth(context.Background(), 1, shared.NewMonthKey(2025, time.April))
	require.NoError(t, err)
	assert.Equal(t, ledger.MonthOpen, april1.Status)

	april2, err := svc.GetMonth(context.Background(), 2, shared.NewMonthKey(2025, time.April))
	require.NoError(t, err)
	assert.Equal(t, ledger.MonthLocked, april2.Status)
	assert.Equal(t, "2025-06-01", april2.ClosedAt.Format("2006-01-02"))
}

func TestMalformedPayloadSkipsRetry(t *testing.T) {
	svc, repo := seedLedger(t)
	j := NewLedgerJobs(svc, repo, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))

	err := j.HandleRecompute(context.Background(), asynq.NewTask(TaskLedgerRecompute, []byte("{")))
	assert.True(t, errors.Is(err, asynq.SkipRetry))

	err = j.HandleClosePrior(context.Background(), task(t, TaskLedgerClosePrior, ClosePriorPayload{AsOf: "June"}))
	assert.True(t, errors.Is(err, asynq.SkipRetry))
}

type failingLedger struct {
	LedgerService
	fail int64
	seen []int64
}

func (f *failingLedger) Recompute(_ context.Context, businessID int64) (ledger.RecomputeResult, error) {
	f.seen = append(f.seen, businessID)
	if businessID == f.fail {
		return ledger.RecomputeResult{}, errors.New("boom")
	}
	return ledger.RecomputeResult{BusinessID: businessID}, nil
}

func TestRecomputeContinuesPastFailures(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(reg)
	svc := &failingLedger{fail: 2}
	j := NewLedgerJobs(svc, nil, nil, metrics)

	err := j.HandleRecompute(context.Background(), task(t, TaskLedgerRecompute, RecomputePayload{BusinessIDs: []int64{1, 2, 3}}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "business 2")
	assert.Equal(t, []int64{1, 2, 3}, svc.seen)

	count, err := testutil.GatherAndCount(reg, "ledger_jobs_failures_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestRecomputeNeedsScope(t *testing.T) {
	j := NewLedgerJobs(&failingLedger{}, nil, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))
	err := j.HandleRecompute(context.Background(), task(t, TaskLedgerRecompute, RecomputePayload{}))
	require.Error(t, err)

	err = j.HandleRecompute(context.Background(), task(t, TaskLedgerRecompute, RecomputePayload{BusinessIDs: []int64{-1}}))
	require.Error(t, err)
}

func TestTasksCarryQueueAndType(t *testing.T) {
	rt, err := NewRecomputeTask(RecomputePayload{BusinessIDs: []int64{4}})
	require.NoError(t, err)
	assert.Equal(t, TaskLedgerRecompute, rt.Type())
	assert.JSONEq(t, `{"business_ids":[4]}`, string(rt.Payload()))

	ct, err := NewClosePriorTask(ClosePriorPayload{})
	require.NoError(t, err)
	assert.Equal(t, TaskLedgerClosePrior, ct.Type())
	assert.JSONEq(t, `{}`, string(ct.Payload()))
}

type stubInspector struct {
	info *asynq.QueueInfo
	err  error
}

func (s stubInspector) GetQueueInfo(string) (*asynq.QueueInfo, error) { return s.info, s.err }

func TestJobsHealth(t *testing.T) {
	cases := []struct {
		name      string
		handler   *Handler
		status    int
		substring string
	}{
		{"no inspector", NewHandler(nil, nil), http.StatusOK, `"connected":false`},
		{"queue info", NewHandler(stubInspector{info: &asynq.QueueInfo{Queue: "default", Pending: 3}}, nil), http.StatusOK, `"pending":3`},
		{"fresh queue", NewHandler(stubInspector{err: asynq.ErrQueueNotFound}, nil), http.StatusOK, `"connected":true`},
		{"redis down", NewHandler(stubInspector{err: errors.New("dial tcp: refused")}, nil), http.StatusServiceUnavailable, "Queue Unavailable"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := chi.NewRouter()
			r.Route("/jobs", tc.handler.MountRoutes)
			rr := httptest.NewRecorder()
			r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
			assert.Equal(t, tc.status, rr.Code)
			assert.True(t, strings.Contains(rr.Body.String(), tc.substring), rr.Body.String())
		})
	}
}
