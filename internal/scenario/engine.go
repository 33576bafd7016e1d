package scenario

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/donasdosas/ledger/internal/ledger"
	"github.com/donasdosas/ledger/internal/shared"
)

// Field names a number a delta can move.
type Field string

// Assumption fields come from Settings; flow fields are monthly totals.
const (
	AvgCheck     Field = "avg_check"
	CogsPerUnit  Field = "cogs_per_unit"
	UnitsPerDay  Field = "units_per_day"
	DaysPerMonth Field = "days_per_month"
	FixedOpex    Field = "fixed_opex"
	VariableOpex Field = "variable_opex"
	LoanPayment  Field = "loan_payment"

	Revenue  Field = "revenue"
	COGS     Field = "cogs"
	OPEX     Field = "opex"
	CAPEX    Field = "capex"
	LoanPaid Field = "loan_paid"
)

// Op is how a delta combines with the base value.
type Op string

const (
	Multiply Op = "MULTIPLY"
	Add      Op = "ADD"
)

// Delta moves one field.
type Delta struct {
	Field Field           `json:"field" validate:"required,oneof=avg_check cogs_per_unit units_per_day days_per_month fixed_opex variable_opex loan_payment revenue cogs opex capex loan_paid"`
	Op    Op              `json:"op" validate:"required,oneof=MULTIPLY ADD"`
	Value decimal.Decimal `json:"value"`
}

// Apply combines the delta with v.
func (d Delta) Apply(v decimal.Decimal) decimal.Decimal {
	if d.Op == Multiply {
		return v.Mul(d.Value)
	}
	return v.Add(d.Value)
}

// Scenario is a named, ordered bundle of deltas.
type Scenario struct {
	Name   string  `json:"name" validate:"max=80"`
	Deltas []Delta `json:"deltas" validate:"dive"`
}

var presets = map[string]Scenario{
	"price_up_10": {Name: "price_up_10", Deltas: []Delta{
		{Field: AvgCheck, Op: Multiply, Value: decimal.RequireFromString("1.1")},
	}},
	"cogs_shock_10": {Name: "cogs_shock_10", Deltas: []Delta{
		{Field: CogsPerUnit, Op: Multiply, Value: decimal.RequireFromString("1.1")},
	}},
	"opex_shock_10": {Name: "opex_shock_10", Deltas: []Delta{
		{Field: FixedOpex, Op: Multiply, Value: decimal.RequireFromString("1.1")},
	}},
	"revenue_shock_20": {Name: "revenue_shock_20", Deltas: []Delta{
		{Field: Revenue, Op: Multiply, Value: decimal.RequireFromString("0.8")},
	}},
}

// Presets lists the built-in scenarios by name.
func Presets() []Scenario {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]Scenario, 0, len(names))
	for _, name := range names {
		out = append(out, Preset(name))
	}
	return out
}

// Preset returns a copy of a built-in scenario; the zero Scenario when unknown.
func Preset(name string) Scenario {
	p, ok := presets[name]
	if !ok {
		return Scenario{}
	}
	return Scenario{Name: p.Name, Deltas: append([]Delta(nil), p.Deltas...)}
}

func apply(v decimal.Decimal, field Field, deltas []Delta) decimal.Decimal {
	for _, d := range deltas {
		if d.Field == field {
			v = d.Apply(v)
		}
	}
	return v
}

// Assumptions are the planning inputs after scenario deltas.
type Assumptions struct {
	AvgCheck     decimal.Decimal `json:"avg_check"`
	CogsPerUnit  decimal.Decimal `json:"cogs_per_unit"`
	UnitsPerDay  decimal.Decimal `json:"units_per_day"`
	DaysPerMonth decimal.Decimal `json:"days_per_month"`
	FixedOpex    decimal.Decimal `json:"fixed_opex"`
	VariableOpex decimal.Decimal `json:"variable_opex"`
	LoanPayment  decimal.Decimal `json:"loan_payment"`
}

// Projection is a forward plan for one representative month.
type Projection struct {
	Scenario             string          `json:"scenario"`
	Assumptions          Assumptions     `json:"assumptions"`
	Revenue              decimal.Decimal `json:"revenue"`
	COGS                 decimal.Decimal `json:"cogs"`
	OPEX                 decimal.Decimal `json:"opex"`
	CAPEX                decimal.Decimal `json:"capex"`
	LoanPaid             decimal.Decimal `json:"loan_paid"`
	GrossProfit          decimal.Decimal `json:"gross_profit"`
	NetOperating         decimal.Decimal `json:"net_operating"`
	DSCR                 shared.Ratio    `json:"dscr"`
	BreakevenUnitsPerDay shared.Ratio    `json:"breakeven_units_per_day"`
	Burn                 decimal.Decimal `json:"burn"`
	CashStart            decimal.Decimal `json:"cash_start"`
	RunwayMonths         shared.Ratio    `json:"runway_months"`
	ReserveTarget        decimal.Decimal `json:"reserve_target"`
}

// Forward projects a month purely from settings and the scenario. Assumption deltas apply first,
// then flows are derived, then flow deltas apply to the derived totals.
func Forward(settings ledger.Settings, sc Scenario) Projection {
	a := Assumptions{
		AvgCheck:     apply(settings.AvgCheck, AvgCheck, sc.Deltas),
		CogsPerUnit:  apply(settings.CogsPerUnit, CogsPerUnit, sc.Deltas),
		UnitsPerDay:  apply(settings.UnitsPerDay, UnitsPerDay, sc.Deltas),
		DaysPerMonth: apply(decimal.NewFromInt(int64(settings.DaysPerMonth)), DaysPerMonth, sc.Deltas),
		FixedOpex:    apply(settings.FixedOpex, FixedOpex, sc.Deltas),
		VariableOpex: apply(settings.VariableOpex, VariableOpex, sc.Deltas),
		LoanPayment:  apply(settings.LoanPayment, LoanPayment, sc.Deltas),
	}
	units := a.UnitsPerDay.Mul(a.DaysPerMonth)

	p := Projection{
		Scenario:    sc.Name,
		Assumptions: a,
		Revenue:     apply(a.AvgCheck.Mul(units), Revenue, sc.Deltas),
		COGS:        apply(a.CogsPerUnit.Mul(units), COGS, sc.Deltas),
		OPEX:        apply(a.FixedOpex.Add(a.VariableOpex), OPEX, sc.Deltas),
		CAPEX:       apply(decimal.Zero, CAPEX, sc.Deltas),
		LoanPaid:    apply(a.LoanPayment, LoanPaid, sc.Deltas),
		CashStart:   settings.CashStart(),
	}
	p.GrossProfit = p.Revenue.Sub(p.COGS)
	p.NetOperating = p.GrossProfit.Sub(p.OPEX)
	p.DSCR = shared.DivideRatio(p.NetOperating, p.LoanPaid)

	p.BreakevenUnitsPerDay = shared.UndefinedRatio()
	if perDay := a.AvgCheck.Sub(a.CogsPerUnit).Mul(a.DaysPerMonth); perDay.IsPositive() {
		p.BreakevenUnitsPerDay = shared.DivideRatio(p.OPEX, perDay)
	}

	p.Burn = p.NetOperating.Sub(p.LoanPaid).Sub(p.CAPEX).Neg()
	p.RunwayMonths = shared.UndefinedRatio()
	if p.Burn.IsPositive() {
		p.RunwayMonths = shared.DivideRatio(p.CashStart, p.Burn)
	}
	p.ReserveTarget = p.OPEX.Add(p.LoanPaid).Mul(decimal.NewFromInt(int64(settings.ReserveMonths)))
	return p
}

// Flows are the monthly totals a what-if moves.
type Flows struct {
	Revenue  decimal.Decimal `json:"revenue"`
	COGS     decimal.Decimal `json:"cogs"`
	OPEX     decimal.Decimal `json:"opex"`
	CAPEX    decimal.Decimal `json:"capex"`
	LoanPaid decimal.Decimal `json:"loan_paid"`
}

// Flow is net operating income less debt service and capital spend.
func (f Flows) Flow() decimal.Decimal {
	return f.Revenue.Sub(f.COGS).Sub(f.OPEX).Sub(f.LoanPaid).Sub(f.CAPEX)
}

func flowsOf(m ledger.MonthRecord) Flows {
	return Flows{Revenue: m.Revenue, COGS: m.COGS, OPEX: m.OPEX, CAPEX: m.CAPEX, LoanPaid: m.LoanPaid}
}

// WhatIf is a historical month re-derived under a scenario. Nothing is persisted.
type WhatIf struct {
	Scenario         string          `json:"scenario"`
	Month            shared.MonthKey `json:"month"`
	Locked           bool            `json:"locked"`
	Base             Flows           `json:"base"`
	Adjusted         Flows           `json:"adjusted"`
	BaseFlow         decimal.Decimal `json:"base_flow"`
	AdjustedFlow     decimal.Decimal `json:"adjusted_flow"`
	CashDelta        decimal.Decimal `json:"cash_delta"`
	BaseCashEnd      decimal.Decimal `json:"base_cash_end"`
	ProjectedCashEnd decimal.Decimal `json:"projected_cash_end"`
	// Ignored lists deltas with no meaning against recorded totals, such as additive price changes.
	Ignored []Delta `json:"ignored"`
}

// Historical applies the scenario to a stored month. Multiplicative assumption deltas map onto the
// totals they drive: avg_check scales revenue, units_per_day and days_per_month scale revenue and
// COGS, cogs_per_unit scales COGS, fixed_opex and variable_opex scale OPEX, loan_payment scales loan paid.
// Recorded OPEX is not split, so either OPEX delta scales the whole month total.
func Historical(m ledger.MonthRecord, sc Scenario) WhatIf {
	base := flowsOf(m)
	adj := base
	out := WhatIf{Scenario: sc.Name, Month: m.Month, Locked: ledger.IsLocked(m), Base: base, Ignored: []Delta{}}
	for _, d := range sc.Deltas {
		switch d.Field {
		case Revenue:
			adj.Revenue = d.Apply(adj.Revenue)
		case COGS:
			adj.COGS = d.Apply(adj.COGS)
		case OPEX:
			adj.OPEX = d.Apply(adj.OPEX)
		case CAPEX:
			adj.CAPEX = d.Apply(adj.CAPEX)
		case LoanPaid:
			adj.LoanPaid = d.Apply(adj.LoanPaid)
		default:
			if d.Op != Multiply {
				out.Ignored = append(out.Ignored, d)
				continue
			}
			switch d.Field {
			case AvgCheck:
				adj.Revenue = d.Apply(adj.Revenue)
			case UnitsPerDay, DaysPerMonth:
				adj.Revenue = d.Apply(adj.Revenue)
				adj.COGS = d.Apply(adj.COGS)
			case CogsPerUnit:
				adj.COGS = d.Apply(adj.COGS)
			case FixedOpex, VariableOpex:
				adj.OPEX = d.Apply(adj.OPEX)
			case LoanPayment:
				adj.LoanPaid = d.Apply(adj.LoanPaid)
			default:
				out.Ignored = append(out.Ignored, d)
			}
		}
	}
	out.Adjusted = adj
	out.BaseFlow = base.Flow()
	out.AdjustedFlow = adj.Flow()
	out.CashDelta = out.AdjustedFlow.Sub(out.BaseFlow)
	out.BaseCashEnd = m.CashEnd
	out.ProjectedCashEnd = m.CashEnd.Add(out.CashDelta)
	return out
}
