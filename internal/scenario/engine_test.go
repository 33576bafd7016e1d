package scenario

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/donasdosas/ledger/internal/ledger"
	"github.com/donasdosas/ledger/internal/shared"
)

func d(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func baseSettings() ledger.Settings {
	s := ledger.DefaultSettings(1)
	s.AvgCheck = d("20000")
	s.CogsPerUnit = d("8000")
	s.UnitsPerDay = d("50")
	s.DaysPerMonth = 26
	s.FixedOpex = d("5200000")
	s.OwnerCapital = d("30000000")
	return s
}

func TestForwardPriceUpLeavesSettingsUntouched(t *testing.T) {
	settings := baseSettings()
	p := Forward(settings, Preset("price_up_10"))

	if !p.Assumptions.AvgCheck.Equal(d("22000")) {
		t.Fatalf("expected avg_check 22000, got %s", p.Assumptions.AvgCheck)
	}
	if !settings.AvgCheck.Equal(d("20000")) {
		t.Fatalf("settings must not change, got %s", settings.AvgCheck)
	}
	if !p.Revenue.Equal(d("28600000")) || !p.COGS.Equal(d("10400000")) {
		t.Fatalf("unexpected revenue/cogs %s/%s", p.Revenue, p.COGS)
	}
	if !p.NetOperating.Equal(d("13000000")) {
		t.Fatalf("unexpected net operating %s", p.NetOperating)
	}
}

func TestForwardUndefinedRatios(t *testing.T) {
	p := Forward(baseSettings(), Scenario{Name: "base"})
	if p.DSCR.Defined() {
		t.Fatalf("DSCR must be undefined without debt service")
	}
	if p.RunwayMonths.Defined() {
		t.Fatalf("runway must be undefined when the month does not burn cash")
	}
	v, ok := p.BreakevenUnitsPerDay.Round(2).Value()
	if !ok || v != 16.67 {
		t.Fatalf("expected breakeven 16.67 units/day, got %v", v)
	}
}

func TestForwardRevenueShockCreatesBurn(t *testing.T) {
	settings := baseSettings()
	settings.LoanPayment = d("2000000")
	sc := Scenario{Name: "slump", Deltas: []Delta{
		{Field: Revenue, Op: Multiply, Value: d("0.5")},
		{Field: OPEX, Op: Add, Value: d("4000000")},
	}}
	p := Forward(settings, sc)
	// revenue 13,000,000; cogs 10,400,000; opex 9,200,000; net -6,600,000; burn 8,600,000
	if !p.Burn.Equal(d("8600000")) {
		t.Fatalf("unexpected burn %s", p.Burn)
	}
	runway, ok := p.RunwayMonths.Round(2).Value()
	if !ok || runway != 3.49 {
		t.Fatalf("expected runway 3.49 months, got %v", runway)
	}
	dscr, ok := p.DSCR.Value()
	if !ok || dscr != -3.3 {
		t.Fatalf("expected DSCR -3.3, got %v", dscr)
	}
}

func TestForwardAddsVariableOpex(t *testing.T) {
	settings := baseSettings()
	settings.VariableOpex = d("1300000")
	p := Forward(settings, Scenario{Name: "base"})
	if !p.OPEX.Equal(d("6500000")) {
		t.Fatalf("expected opex 6500000, got %s", p.OPEX)
	}
	if !p.NetOperating.Equal(d("9100000")) {
		t.Fatalf("unexpected net operating %s", p.NetOperating)
	}
	v, ok := p.BreakevenUnitsPerDay.Round(2).Value()
	if !ok || v != 20.83 {
		t.Fatalf("expected breakeven 20.83 units/day, got %v", v)
	}

	shocked := Forward(settings, Scenario{Name: "ingredients", Deltas: []Delta{
		{Field: VariableOpex, Op: Multiply, Value: d("2")},
	}})
	if !shocked.Assumptions.VariableOpex.Equal(d("2600000")) || !shocked.OPEX.Equal(d("7800000")) {
		t.Fatalf("unexpected shocked opex %s / %s", shocked.Assumptions.VariableOpex, shocked.OPEX)
	}
	if !shocked.Assumptions.FixedOpex.Equal(d("5200000")) {
		t.Fatalf("fixed opex must not move, got %s", shocked.Assumptions.FixedOpex)
	}
}

func TestHistoricalScalesOpexForVariableDelta(t *testing.T) {
	m := ledger.EmptyMonth(1, shared.NewMonthKey(2025, time.January))
	m.OPEX = d("200")
	w := Historical(m, Scenario{Name: "v", Deltas: []Delta{{Field: VariableOpex, Op: Multiply, Value: d("1.5")}}})
	if !w.Adjusted.OPEX.Equal(d("300")) || len(w.Ignored) != 0 {
		t.Fatalf("unexpected what-if %+v", w)
	}
}

func TestHistoricalMapsAssumptionDeltas(t *testing.T) {
	m := ledger.EmptyMonth(1, shared.NewMonthKey(2025, time.January))
	m.Revenue = d("1000")
	m.COGS = d("400")
	m.OPEX = d("200")
	m.CashEnd = d("5000")

	w := Historical(m, Scenario{Name: "mix", Deltas: []Delta{
		{Field: AvgCheck, Op: Multiply, Value: d("1.1")},
		{Field: CogsPerUnit, Op: Multiply, Value: d("1.5")},
		{Field: AvgCheck, Op: Add, Value: d("500")},
	}})
	if !w.Adjusted.Revenue.Equal(d("1100")) || !w.Adjusted.COGS.Equal(d("600")) {
		t.Fatalf("unexpected adjusted flows %+v", w.Adjusted)
	}
	if !w.CashDelta.Equal(d("-100")) || !w.ProjectedCashEnd.Equal(d("4900")) {
		t.Fatalf("unexpected delta %s / projected %s", w.CashDelta, w.ProjectedCashEnd)
	}
	if len(w.Ignored) != 1 || w.Ignored[0].Op != Add {
		t.Fatalf("additive price delta must be ignored, got %+v", w.Ignored)
	}
	if !m.Revenue.Equal(d("1000")) {
		t.Fatalf("stored month must not change")
	}
}

func TestPresetsAreCopies(t *testing.T) {
	p := Preset("price_up_10")
	p.Deltas[0].Value = d("5")
	if !Preset("price_up_10").Deltas[0].Value.Equal(d("1.1")) {
		t.Fatalf("preset mutated through copy")
	}
	if len(Presets()) != 4 || Presets()[0].Name != "cogs_shock_10" {
		t.Fatalf("unexpected presets %+v", Presets())
	}
	if Preset("nope").Name != "" {
		t.Fatalf("unknown preset must be empty")
	}
}
