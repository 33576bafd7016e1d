package ledger

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/donasdosas/ledger/internal/shared"
)

type buildGroup struct {
	group singleflight.Group
}

// do shares one build per key. The build runs detached from the caller's cancellation because
// later callers join it; each caller still stops waiting when its own ctx ends.
func (g *buildGroup) do(ctx context.Context, key string, fn func(context.Context) (any, error)) (any, error) {
	build := context.WithoutCancel(ctx)
	ch := g.group.DoChan(key, func() (any, error) {
		return fn(build)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		return res.Val, res.Err
	}
}

// ReconciliationRow extends a chain row with the drift flag.
type ReconciliationRow struct {
	ChainRow
	DriftFlagged bool `json:"drift_flagged"`
}

// Reconciliation is the chain walk alongside stored values, with gaps.
type Reconciliation struct {
	BusinessID     int64                       `json:"business_id"`
	CashStart      decimal.Decimal             `json:"cash_start"`
	DriftThreshold decimal.Decimal             `json:"drift_threshold"`
	Rows           []ReconciliationRow         `json:"rows"`
	Gaps           []shared.SequenceGapWarning `json:"gaps"`
	// UnbookedAdjustments lists months holding adjustments but no month record; the chain walks them as zero-flow months.
	UnbookedAdjustments []shared.MonthKey `json:"unbooked_adjustments"`
}

// Reconciliation compares stored closing cash with the chain. The walk always starts from the
// first recorded month; rng only filters the rows returned. Drift is reported, never enforced.
func (s *Service) Reconciliation(ctx context.Context, businessID int64, rng shared.MonthRange) (Reconciliation, error) {
	if err := rng.Validate(); err != nil {
		return Reconciliation{}, err
	}
	settings, months, adjustments, err := s.load(ctx, businessID, shared.MonthRange{})
	if err != nil {
		return Reconciliation{}, err
	}
	out := Reconciliation{
		BusinessID:          businessID,
		CashStart:           settings.CashStart(),
		DriftThreshold:      s.driftThreshold,
		Rows:                []ReconciliationRow{},
		Gaps:                []shared.SequenceGapWarning{},
		UnbookedAdjustments: []shared.MonthKey{},
	}
	flagged := 0
	for _, row := range ComputeChain(settings.CashStart(), months, AdjustmentTotals(adjustments)) {
		if !rng.Includes(row.Month) {
			continue
		}
		rec := ReconciliationRow{ChainRow: row}
		if row.Locked && row.Drift.Abs().GreaterThan(s.driftThreshold) {
			rec.DriftFlagged = true
			flagged++
			s.logger.Warn("locked month drifts from chain",
				slog.Int64("business_id", businessID),
				slog.String("month", row.Month.String()),
				slog.String("drift", row.Drift.String()))
		}
		out.Rows = append(out.Rows, rec)
	}
	if flagged > 0 {
		s.metrics.DriftFlagged(flagged)
	}
	for _, gap := range DetectGaps(monthKeys(months)) {
		if rng.Includes(gap.After) || rng.Includes(gap.Before) {
			out.Gaps = append(out.Gaps, gap)
		}
	}
	recorded := make(map[shared.MonthKey]struct{}, len(months))
	for _, m := range months {
		recorded[m.Month] = struct{}{}
	}
	for key := range AdjustmentTotals(adjustments) {
		if _, ok := recorded[key]; !ok && rng.Includes(key) {
			out.UnbookedAdjustments = append(out.UnbookedAdjustments, key)
		}
	}
	slices.SortFunc(out.UnbookedAdjustments, func(a, b shared.MonthKey) int { return a.Compare(b) })
	return out, nil
}

// InvestorSummary is a read-only rollup over trailing months ending at an as-of month.
type InvestorSummary struct {
	BusinessID     int64                       `json:"business_id"`
	Currency       string                      `json:"currency"`
	From           shared.MonthKey             `json:"from"`
	To             shared.MonthKey             `json:"to"`
	MonthsRecorded int                         `json:"months_recorded"`
	Revenue        decimal.Decimal             `json:"revenue"`
	COGS           decimal.Decimal             `json:"cogs"`
	OPEX           decimal.Decimal             `json:"opex"`
	CAPEX          decimal.Decimal             `json:"capex"`
	LoanPaid       decimal.Decimal             `json:"loan_paid"`
	AdjustmentNet  decimal.Decimal             `json:"adjustment_net"`
	NetOperating   decimal.Decimal             `json:"net_operating"`
	AvgMonthlyBurn decimal.Decimal             `json:"avg_monthly_burn"`
	LatestCash     decimal.Decimal             `json:"latest_cash"`
	DSCR           shared.Ratio                `json:"dscr"`
	RunwayMonths   shared.Ratio                `json:"runway_months"`
	ReserveTarget  decimal.Decimal             `json:"reserve_target"`
	ReserveMet     bool                        `json:"reserve_met"`
	Gaps           []shared.SequenceGapWarning `json:"gaps"`
	GeneratedAt    time.Time                   `json:"generated_at"`
}

// InvestorSummary rolls up the trailing window. Results are cached per business and version;
// concurrent identical requests share one build.
func (s *Service) InvestorSummary(ctx context.Context, businessID int64, months int, asOf shared.MonthKey) (InvestorSummary, error) {
	if months <= 0 || months > 120 {
		return InvestorSummary{}, shared.Invalid("months", "must be between 1 and 120")
	}
	if asOf.IsZero() {
		asOf = shared.MonthKeyOf(s.now().UTC())
	}
	rng := shared.MonthRange{From: asOf.AddMonths(-(months - 1)), To: asOf}

	build := func(ctx context.Context) (any, error) {
		return s.buildInvestorSummary(ctx, businessID, rng)
	}
	if s.cache == nil {
		v, err := build(ctx)
		if err != nil {
			return InvestorSummary{}, err
		}
		return v.(InvestorSummary), nil
	}
	key, err := s.cache.BuildKey(ctx, businessID, "investor_summary", rng.From.String(), rng.To.String())
	if err != nil {
		return InvestorSummary{}, err
	}
	v, err := s.builds.do(ctx, key, func(ctx context.Context) (any, error) {
		var out InvestorSummary
		if err := s.cache.FetchJSON(ctx, key, &out, build); err != nil {
			return nil, err
		}
		return out, nil
	})
	if err != nil {
		return InvestorSummary{}, err
	}
	return v.(InvestorSummary), nil
}

func (s *Service) buildInvestorSummary(ctx context.Context, businessID int64, rng shared.MonthRange) (InvestorSummary, error) {
	var (
		settings    Settings
		window      []MonthRecord
		adjustments []Adjustment
		all         []MonthRecord
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		settings, err = s.GetSettings(gctx, businessID)
		return err
	})
	g.Go(func() error {
		var err error
		window, err = s.repo.ListMonths(gctx, businessID, rng)
		return err
	})
	g.Go(func() error {
		var err error
		adjustments, err = s.repo.ListAdjustments(gctx, businessID, rng)
		return err
	})
	g.Go(func() error {
		var err error
		all, err = s.repo.ListMonths(gctx, businessID, shared.MonthRange{To: rng.To})
		return err
	})
	if err := g.Wait(); err != nil {
		return InvestorSummary{}, err
	}

	out := InvestorSummary{
		BusinessID:     businessID,
		Currency:       settings.Currency,
		From:           rng.From,
		To:             rng.To,
		MonthsRecorded: len(window),
		Revenue:        decimal.Zero,
		COGS:           decimal.Zero,
		OPEX:           decimal.Zero,
		CAPEX:          decimal.Zero,
		LoanPaid:       decimal.Zero,
		AdjustmentNet:  decimal.Zero,
		Gaps:           DetectGaps(monthKeys(window)),
		GeneratedAt:    s.now().UTC(),
	}
	if out.Gaps == nil {
		out.Gaps = []shared.SequenceGapWarning{}
	}
	for _, m := range window {
		out.Revenue = out.Revenue.Add(m.Revenue)
		out.COGS = out.COGS.Add(m.COGS)
		out.OPEX = out.OPEX.Add(m.OPEX)
		out.CAPEX = out.CAPEX.Add(m.CAPEX)
		out.LoanPaid = out.LoanPaid.Add(m.LoanPaid)
	}
	for _, a := range adjustments {
		out.AdjustmentNet = out.AdjustmentNet.Add(a.Signed())
	}
	out.NetOperating = out.Revenue.Sub(out.COGS).Sub(out.OPEX)

	// Latest cash is the last stored closing balance at or before the window end.
	out.LatestCash = settings.CashStart()
	if len(all) > 0 {
		out.LatestCash = all[len(all)-1].CashEnd
	}

	out.AvgMonthlyBurn = decimal.Zero
	out.ReserveTarget = decimal.Zero
	if n := len(window); n > 0 {
		count := decimal.NewFromInt(int64(n))
		flow := out.NetOperating.Sub(out.LoanPaid).Sub(out.CAPEX).Add(out.AdjustmentNet)
		out.AvgMonthlyBurn = flow.Neg().Div(count)
		avgFixed := out.OPEX.Add(out.LoanPaid).Div(count)
		out.ReserveTarget = avgFixed.Mul(decimal.NewFromInt(int64(settings.ReserveMonths)))
	}
	out.DSCR = shared.DivideRatio(out.NetOperating, out.LoanPaid)
	out.RunwayMonths = shared.UndefinedRatio()
	if out.AvgMonthlyBurn.IsPositive() {
		out.RunwayMonths = shared.DivideRatio(out.LatestCash, out.AvgMonthlyBurn)
	}
	out.ReserveMet = out.LatestCash.GreaterThanOrEqual(out.ReserveTarget)
	return out, nil
}
