package ledger

import (
	"slices"

	"github.com/shopspring/decimal"

	"github.com/donasdosas/ledger/internal/shared"
)

// ChainRow is one month of a chained cash walk.
type ChainRow struct {
	Month         shared.MonthKey `json:"month"`
	Opening       decimal.Decimal `json:"opening"`
	NetOperating  decimal.Decimal `json:"net_operating"`
	Flow          decimal.Decimal `json:"flow"`
	AdjustmentNet decimal.Decimal `json:"adjustment_net"`
	// Computed is opening + flow + adjustments, regardless of lock state.
	Computed decimal.Decimal `json:"computed_cash_end"`
	// CashEnd is the closing balance the chain carries forward.
	CashEnd decimal.Decimal `json:"cash_end"`
	Stored  decimal.Decimal `json:"stored_cash_end"`
	Locked  bool            `json:"locked"`
	// Drift is stored minus computed for locked months, zero otherwise.
	Drift decimal.Decimal `json:"drift"`
}

// Changed reports whether recompute must persist a new closing balance.
func (r ChainRow) Changed() bool {
	return !r.Locked && !r.CashEnd.Equal(r.Stored)
}

// SortMonths orders records ascending by month key.
func SortMonths(months []MonthRecord) {
	slices.SortFunc(months, func(a, b MonthRecord) int { return a.Month.Compare(b.Month) })
}

// ComputeChain walks the months once in ascending order, seeding the accumulator with cashStart.
// Unlocked months take the running balance as their closing cash. Locked months keep their stored
// closing cash and the walk reseeds from it. A month holding adjustments but no record walks as a
// zero-flow open month. The input slice is not modified.
func ComputeChain(cashStart decimal.Decimal, months []MonthRecord, adjustments map[shared.MonthKey]decimal.Decimal) []ChainRow {
	ordered := withAdjustmentMonths(months, adjustments)
	SortMonths(ordered)

	cash := cashStart
	rows := make([]ChainRow, 0, len(ordered))
	for _, m := range ordered {
		adj := decimal.Zero
		if v, ok := adjustments[m.Month]; ok {
			adj = v
		}
		flow := m.Flow()
		computed := cash.Add(flow).Add(adj)
		row := ChainRow{
			Month:         m.Month,
			Opening:       cash,
			NetOperating:  m.NetOperating(),
			Flow:          flow,
			AdjustmentNet: adj,
			Computed:      computed,
			CashEnd:       computed,
			Stored:        m.CashEnd,
			Locked:        IsLocked(m),
			Drift:         decimal.Zero,
		}
		if row.Locked {
			row.CashEnd = m.CashEnd
			row.Drift = m.CashEnd.Sub(computed)
		}
		cash = row.CashEnd
		rows = append(rows, row)
	}
	return rows
}

func withAdjustmentMonths(months []MonthRecord, adjustments map[shared.MonthKey]decimal.Decimal) []MonthRecord {
	out := slices.Clone(months)
	if len(adjustments) == 0 {
		return out
	}
	recorded := make(map[shared.MonthKey]struct{}, len(months))
	var businessID int64
	for _, m := range months {
		recorded[m.Month] = struct{}{}
		businessID = m.BusinessID
	}
	for key := range adjustments {
		if _, ok := recorded[key]; !ok {
			out = append(out, EmptyMonth(businessID, key))
		}
	}
	return out
}

// AdjustmentTotals nets adjustments per month.
func AdjustmentTotals(adjustments []Adjustment) map[shared.MonthKey]decimal.Decimal {
	out := make(map[shared.MonthKey]decimal.Decimal, len(adjustments))
	for _, a := range adjustments {
		out[a.Month] = out[a.Month].Add(a.Signed())
	}
	return out
}

// DetectGaps reports calendar months missing between consecutive recorded months.
func DetectGaps(keys []shared.MonthKey) []shared.SequenceGapWarning {
	ordered := slices.Clone(keys)
	slices.SortFunc(ordered, func(a, b shared.MonthKey) int { return a.Compare(b) })
	ordered = slices.Compact(ordered)

	var gaps []shared.SequenceGapWarning
	for i := 1; i < len(ordered); i++ {
		prev, cur := ordered[i-1], ordered[i]
		if prev.MonthsUntil(cur) <= 1 {
			continue
		}
		gap := shared.SequenceGapWarning{After: prev, Before: cur}
		for k := prev.Next(); k.Before(cur); k = k.Next() {
			gap.Missing = append(gap.Missing, k)
		}
		gaps = append(gaps, gap)
	}
	return gaps
}

func monthKeys(months []MonthRecord) []shared.MonthKey {
	keys := make([]shared.MonthKey, 0, len(months))
	for _, m := range months {
		keys = append(keys, m.Month)
	}
	return keys
}
