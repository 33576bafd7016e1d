package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/donasdosas/ledger/internal/shared"
)

const biz int64 = 1

type countingRecorder struct {
	rejected map[string]int
	updated  []int
	gaps     int
	drifted  int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{rejected: map[string]int{}}
}

func (c *countingRecorder) LockRejected(entity string) { c.rejected[entity]++ }
func (c *countingRecorder) Recomputed(n int)           { c.updated = append(c.updated, n) }
func (c *countingRecorder) GapsDetected(n int)         { c.gaps += n }
func (c *countingRecorder) DriftFlagged(n int)         { c.drifted += n }

func newTestService(t *testing.T) (*Service, *MemoryRepository, *shared.MemoryAuditLog, *countingRecorder) {
	t.Helper()
	repo := NewMemoryRepository()
	audit := &shared.MemoryAuditLog{}
	rec := newCountingRecorder()
	svc := NewService(repo, Options{Audit: audit, Metrics: rec, DriftThreshold: d("100")})
	svc.WithNow(func() time.Time { return time.Date(2025, 6, 15, 9, 0, 0, 0, time.UTC) })
	_, err := svc.UpdateSettings(context.Background(), biz, UpdateSettingsRequest{
		Currency:      "idr",
		DaysPerMonth:  26,
		OwnerCapital:  d("600"),
		BankLoan:      d("400"),
		ReserveMonths: 3,
	})
	require.NoError(t, err)
	return svc, repo, audit, rec
}

func putFlows(t *testing.T, svc *Service, key shared.MonthKey, revenue, cogs, opex string) MonthRecord {
	t.Helper()
	rec, err := svc.PutMonth(context.Background(), biz, key, PutMonthRequest{Revenue: d(revenue), COGS: d(cogs), OPEX: d(opex)}, false)
	require.NoError(t, err)
	return rec
}

func TestPutMonthChainsCashEnd(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	jan := putFlows(t, svc, month(2025, time.January), "500", "100", "100")
	assert.True(t, jan.CashEnd.Equal(d("1300")), "jan cash %s", jan.CashEnd)

	putFlows(t, svc, month(2025, time.February), "100", "0", "300")
	feb, err := svc.GetMonth(context.Background(), biz, month(2025, time.February))
	require.NoError(t, err)
	assert.True(t, feb.CashEnd.Equal(d("1100")), "feb cash %s", feb.CashEnd)

	// Editing January propagates forward.
	putFlows(t, svc, month(2025, time.January), "600", "100", "100")
	feb, err = svc.GetMonth(context.Background(), biz, month(2025, time.February))
	require.NoError(t, err)
	assert.True(t, feb.CashEnd.Equal(d("1200")), "feb cash after jan edit %s", feb.CashEnd)
}

func TestGetMonthDefaultsToEmpty(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	rec, err := svc.GetMonth(context.Background(), biz, month(2030, time.May))
	require.NoError(t, err)
	assert.False(t, rec.Stored)
	assert.Equal(t, MonthOpen, rec.Status)
	assert.True(t, rec.Revenue.IsZero())
}

func TestRecomputeIsIdempotent(t *testing.T) {
	svc, _, _, rec := newTestService(t)
	putFlows(t, svc, month(2025, time.January), "500", "100", "100")
	putFlows(t, svc, month(2025, time.February), "100", "0", "300")

	first, err := svc.Recompute(context.Background(), biz)
	require.NoError(t, err)
	second, err := svc.Recompute(context.Background(), biz)
	require.NoError(t, err)

	assert.Empty(t, first.Updated)
	assert.Empty(t, second.Updated)
	require.Len(t, second.Rows, len(first.Rows))
	for i := range first.Rows {
		assert.True(t, first.Rows[i].CashEnd.Equal(second.Rows[i].CashEnd))
	}
	assert.Equal(t, 0, rec.updated[len(rec.updated)-1])
}

func TestLockedMonthRejectsWritesAndKeepsSnapshot(t *testing.T) {
	ctx := context.Background()
	svc, _, audit, rec := newTestService(t)
	jan, feb, mar := month(2025, time.January), month(2025, time.February), month(2025, time.March)
	putFlows(t, svc, jan, "500", "100", "100")
	putFlows(t, svc, feb, "100", "0", "300")
	putFlows(t, svc, mar, "100", "0", "0")

	locked, err := svc.LockMonth(ctx, biz, feb, time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, MonthLocked, locked.Status)
	require.NotNil(t, locked.ClosedAt)
	snapshot := locked.CashEnd

	_, err = svc.PutMonth(ctx, biz, feb, PutMonthRequest{Revenue: d("999")}, false)
	var lockErr *shared.LockedPeriodError
	require.True(t, errors.As(err, &lockErr), "expected LockedPeriodError, got %v", err)
	assert.Equal(t, feb, lockErr.Month)

	_, err = svc.CreateAdjustment(ctx, biz, AdjustmentRequest{Month: "2025-02", Kind: CashIn, Amount: d("10"), Title: "tip jar"})
	assert.True(t, errors.Is(err, shared.ErrLockedPeriod))
	assert.Equal(t, 1, rec.rejected["month"])
	assert.Equal(t, 1, rec.rejected["adjustment"])

	// Upstream edits do not move the locked snapshot; March reseeds from it.
	putFlows(t, svc, jan, "5000", "100", "100")
	got, err := svc.GetMonth(ctx, biz, feb)
	require.NoError(t, err)
	assert.True(t, got.CashEnd.Equal(snapshot))
	assert.True(t, got.Revenue.Equal(d("100")), "locked flows unchanged")
	marRec, err := svc.GetMonth(ctx, biz, mar)
	require.NoError(t, err)
	assert.True(t, marRec.CashEnd.Equal(snapshot.Add(d("100"))))

	// Locking again is a no-op and keeps the original closing date.
	again, err := svc.LockMonth(ctx, biz, feb, time.Date(2025, 9, 9, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, "2025-03-02", again.ClosedAt.Format("2006-01-02"))

	actions := []string{}
	for _, e := range audit.Entries() {
		actions = append(actions, e.Action)
	}
	assert.Contains(t, actions, "month.lock")
}

func TestOverrideWritesLockedMonthWithManualCash(t *testing.T) {
	ctx := context.Background()
	svc, _, audit, _ := newTestService(t)
	feb := month(2025, time.February)
	putFlows(t, svc, feb, "100", "0", "0")
	_, err := svc.LockMonth(ctx, biz, feb, time.Time{})
	require.NoError(t, err)

	manual := d("7777")
	rec, err := svc.PutMonth(ctx, biz, feb, PutMonthRequest{Revenue: d("150"), CashEnd: &manual}, true)
	require.NoError(t, err)
	assert.True(t, rec.CashEnd.Equal(manual))
	assert.Equal(t, MonthLocked, rec.Status)

	last := audit.Entries()[len(audit.Entries())-1]
	assert.Equal(t, "month.override", last.Action)
}

func TestUnlockRejoinsChain(t *testing.T) {
	ctx := context.Background()
	svc, _, _, _ := newTestService(t)
	jan := month(2025, time.January)
	manual := d("42")
	_, err := svc.PutMonth(ctx, biz, jan, PutMonthRequest{Revenue: d("10"), CashEnd: &manual, Notes: "[locked]"}, false)
	require.NoError(t, err)
	got, err := svc.GetMonth(ctx, biz, jan)
	require.NoError(t, err)
	assert.Equal(t, MonthLocked, got.Status, "legacy tag imports as lock")
	assert.True(t, got.CashEnd.Equal(manual))
	assert.Equal(t, "", got.Notes)

	rec, err := svc.UnlockMonth(ctx, biz, jan)
	require.NoError(t, err)
	assert.Equal(t, MonthOpen, rec.Status)
	assert.Nil(t, rec.ClosedAt)
	assert.True(t, rec.CashEnd.Equal(d("1010")))
}

func TestLockPriorLocksOnlyEarlierMonths(t *testing.T) {
	ctx := context.Background()
	svc, _, _, _ := newTestService(t)
	for _, m := range []time.Month{time.April, time.May, time.June} {
		putFlows(t, svc, month(2025, m), "10", "0", "0")
	}
	locked, err := svc.LockPrior(ctx, biz, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, []shared.MonthKey{month(2025, time.April), month(2025, time.May)}, locked)

	again, err := svc.LockPrior(ctx, biz, time.Time{})
	require.NoError(t, err)
	assert.Empty(t, again)

	through, err := svc.LockThrough(ctx, biz, month(2025, time.June), time.Time{})
	require.NoError(t, err)
	assert.Equal(t, []shared.MonthKey{month(2025, time.June)}, through)
}

func TestBulkUpsertStopsAtFirstFailure(t *testing.T) {
	ctx := context.Background()
	svc, _, _, _ := newTestService(t)
	rows := []BulkMonthInput{
		{Month: "2025-03", PutMonthRequest: PutMonthRequest{Revenue: d("30")}},
		{Month: "2025-01", PutMonthRequest: PutMonthRequest{Revenue: d("10")}},
		{Month: "2025-02", PutMonthRequest: PutMonthRequest{Revenue: d("-1")}},
	}
	res, err := svc.BulkUpsertMonths(ctx, biz, rows, false)
	require.NoError(t, err)
	require.Len(t, res.Items, 3)
	assert.Equal(t, BatchOK, res.Items[0].Status)
	assert.Equal(t, month(2025, time.January), res.Items[0].Month)
	assert.Equal(t, BatchFailed, res.Items[1].Status)
	assert.NotEmpty(t, res.Items[1].Error)
	assert.Equal(t, BatchSkipped, res.Items[2].Status)
	require.NotNil(t, res.FailedAt)
	assert.Equal(t, month(2025, time.February), *res.FailedAt)

	months, err := svc.ListMonths(ctx, biz, shared.MonthRange{})
	require.NoError(t, err)
	require.Len(t, months, 1, "only the committed prefix is stored")
	assert.True(t, months[0].CashEnd.Equal(d("1010")))
}

func TestBulkUpsertRejectsMalformedKeyUpfront(t *testing.T) {
	svc, repo, _, _ := newTestService(t)
	_, err := svc.BulkUpsertMonths(context.Background(), biz, []BulkMonthInput{
		{Month: "2025-01", PutMonthRequest: PutMonthRequest{Revenue: d("10")}},
		{Month: "not-a-month"},
	}, false)
	assert.True(t, errors.Is(err, shared.ErrValidation))
	months, _ := repo.ListMonths(context.Background(), biz, shared.MonthRange{})
	assert.Empty(t, months)
}

func TestAdjustmentLifecycle(t *testing.T) {
	ctx := context.Background()
	svc, _, _, _ := newTestService(t)
	jan, feb := month(2025, time.January), month(2025, time.February)
	putFlows(t, svc, jan, "0", "0", "0")
	putFlows(t, svc, feb, "0", "0", "0")

	adj, err := svc.CreateAdjustment(ctx, biz, AdjustmentRequest{Month: "2025-01", Kind: CashOut, Amount: d("300"), Title: "oven repair"})
	require.NoError(t, err)
	got, _ := svc.GetMonth(ctx, biz, feb)
	assert.True(t, got.CashEnd.Equal(d("700")))

	_, err = svc.LockMonth(ctx, biz, feb, time.Time{})
	require.NoError(t, err)
	_, err = svc.UpdateAdjustment(ctx, biz, adj.ID, AdjustmentRequest{Month: "2025-02", Kind: CashOut, Amount: d("300"), Title: "oven repair"})
	assert.True(t, errors.Is(err, shared.ErrLockedPeriod), "moving into a locked month must fail")

	_, err = svc.UpdateAdjustment(ctx, biz, adj.ID, AdjustmentRequest{Month: "2025-01", Kind: CashIn, Amount: d("50"), Title: "refund"})
	require.NoError(t, err)
	got, _ = svc.GetMonth(ctx, biz, jan)
	assert.True(t, got.CashEnd.Equal(d("1050")))

	require.NoError(t, svc.DeleteAdjustment(ctx, biz, adj.ID))
	list, err := svc.ListAdjustments(ctx, biz, shared.MonthRange{})
	require.NoError(t, err)
	assert.Empty(t, list)

	_, err = svc.CreateAdjustment(ctx, biz, AdjustmentRequest{Month: "2025-01", Kind: CashIn, Amount: d("0"), Title: "zero"})
	assert.True(t, errors.Is(err, shared.ErrValidation))
}

func TestAdjustmentOnUnrecordedMonthReachesLaterMonths(t *testing.T) {
	ctx := context.Background()
	svc, repo, _, _ := newTestService(t)
	jan, feb, mar := month(2025, time.January), month(2025, time.February), month(2025, time.March)
	putFlows(t, svc, jan, "0", "0", "0")
	putFlows(t, svc, mar, "0", "0", "0")

	_, err := svc.CreateAdjustment(ctx, biz, AdjustmentRequest{Month: "2025-02", Kind: CashIn, Amount: d("500"), Title: "grant"})
	require.NoError(t, err)

	stored, err := repo.GetMonth(ctx, biz, feb)
	require.NoError(t, err, "february must be recorded by the adjustment")
	assert.Equal(t, MonthOpen, stored.Status)
	assert.True(t, stored.CashEnd.Equal(d("1500")), "feb cash %s", stored.CashEnd)

	marRec, err := svc.GetMonth(ctx, biz, mar)
	require.NoError(t, err)
	assert.True(t, marRec.CashEnd.Equal(d("1500")), "mar cash %s", marRec.CashEnd)

	gaps, err := svc.Gaps(ctx, biz)
	require.NoError(t, err)
	assert.Empty(t, gaps)
}

func TestReconciliationFlagsDriftAndGaps(t *testing.T) {
	ctx := context.Background()
	svc, _, _, rec := newTestService(t)
	jan, apr := month(2025, time.January), month(2025, time.April)
	putFlows(t, svc, jan, "100", "0", "0")
	putFlows(t, svc, apr, "100", "0", "0")
	_, err := svc.LockMonth(ctx, biz, jan, time.Time{})
	require.NoError(t, err)
	manual := d("2000")
	_, err = svc.PutMonth(ctx, biz, jan, PutMonthRequest{Revenue: d("100"), CashEnd: &manual}, true)
	require.NoError(t, err)

	view, err := svc.Reconciliation(ctx, biz, shared.MonthRange{})
	require.NoError(t, err)
	require.Len(t, view.Rows, 2)
	assert.True(t, view.Rows[0].DriftFlagged)
	assert.True(t, view.Rows[0].Drift.Equal(d("900")))
	assert.False(t, view.Rows[1].DriftFlagged)
	require.Len(t, view.Gaps, 1)
	assert.Len(t, view.Gaps[0].Missing, 2)
	assert.Equal(t, 1, rec.drifted)
}

func TestInvestorSummaryUndefinedRatios(t *testing.T) {
	ctx := context.Background()
	svc, _, _, _ := newTestService(t)
	putFlows(t, svc, month(2025, time.May), "1000", "400", "200")
	putFlows(t, svc, month(2025, time.June), "1000", "400", "200")

	sum, err := svc.InvestorSummary(ctx, biz, 3, month(2025, time.June))
	require.NoError(t, err)
	assert.Equal(t, 2, sum.MonthsRecorded)
	assert.True(t, sum.Revenue.Equal(d("2000")))
	assert.True(t, sum.NetOperating.Equal(d("800")))
	assert.False(t, sum.DSCR.Defined(), "no debt service means undefined DSCR")
	assert.False(t, sum.RunwayMonths.Defined(), "positive flow means no burn")
	assert.True(t, sum.LatestCash.Equal(d("1800")))
	assert.True(t, sum.ReserveTarget.Equal(d("600")))
	assert.True(t, sum.ReserveMet)

	_, err = svc.InvestorSummary(ctx, biz, 0, month(2025, time.June))
	assert.True(t, errors.Is(err, shared.ErrValidation))
}

func TestUpdateSettingsValidatesCurrency(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	_, err := svc.UpdateSettings(context.Background(), biz, UpdateSettingsRequest{Currency: "XYZ", DaysPerMonth: 26})
	assert.True(t, errors.Is(err, shared.ErrValidation), "got %v", err)

	s, err := svc.GetSettings(context.Background(), biz)
	require.NoError(t, err)
	assert.Equal(t, "IDR", s.Currency)
	assert.True(t, s.CashStart().Equal(d("1000")))
}

func TestUpdateSettingsKeepsVariableOpex(t *testing.T) {
	ctx := context.Background()
	svc, _, _, _ := newTestService(t)
	_, err := svc.UpdateSettings(ctx, biz, UpdateSettingsRequest{Currency: "IDR", DaysPerMonth: 26, VariableOpex: d("-1")})
	assert.True(t, errors.Is(err, shared.ErrValidation), "got %v", err)

	saved, err := svc.UpdateSettings(ctx, biz, UpdateSettingsRequest{
		Currency:     "IDR",
		DaysPerMonth: 26,
		FixedOpex:    d("300"),
		VariableOpex: d("120"),
	})
	require.NoError(t, err)
	assert.True(t, saved.VariableOpex.Equal(d("120")))

	s, err := svc.GetSettings(ctx, biz)
	require.NoError(t, err)
	assert.True(t, s.VariableOpex.Equal(d("120")), "variable opex %s", s.VariableOpex)
}
