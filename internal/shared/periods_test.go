package shared

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestParseMonthKeyAcceptsBothForms(t *testing.T) {
	for _, raw := range []string{"2025-03", "2025-03-01", " 2025-03 "} {
		key, err := ParseMonthKey(raw)
		if err != nil {
			t.Fatalf("parse %q: %v", raw, err)
		}
		if key != NewMonthKey(2025, time.March) {
			t.Fatalf("parse %q: got %v", raw, key)
		}
	}
}

func TestParseMonthKeyRejectsMalformed(t *testing.T) {
	for _, raw := range []string{"", "2025-13", "2025-03-15", "march"} {
		_, err := ParseMonthKey(raw)
		if !errors.Is(err, ErrValidation) {
			t.Fatalf("parse %q: expected validation error, got %v", raw, err)
		}
	}
}

func TestMonthKeyArithmeticCrossesYears(t *testing.T) {
	dec := NewMonthKey(2024, time.December)
	if got := dec.Next(); got != NewMonthKey(2025, time.January) {
		t.Fatalf("next of december: %v", got)
	}
	if got := NewMonthKey(2025, time.January).Prev(); got != dec {
		t.Fatalf("prev of january: %v", got)
	}
	if n := dec.MonthsUntil(NewMonthKey(2025, time.April)); n != 4 {
		t.Fatalf("expected 4 months, got %d", n)
	}
	if !dec.Before(dec.Next()) || dec.After(dec.Next()) {
		t.Fatalf("ordering broken")
	}
	if got := NewMonthKey(2024, time.February).End().Day(); got != 29 {
		t.Fatalf("leap february end: %d", got)
	}
}

func TestMonthKeyJSONRoundTrip(t *testing.T) {
	type wrapper struct {
		Month MonthKey `json:"month"`
	}
	raw, err := json.Marshal(wrapper{Month: NewMonthKey(2025, time.January)})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(raw) != `{"month":"2025-01-01"}` {
		t.Fatalf("unexpected json %s", raw)
	}
	var back wrapper
	if err := json.Unmarshal([]byte(`{"month":"2025-02"}`), &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back.Month != NewMonthKey(2025, time.February) {
		t.Fatalf("unexpected month %v", back.Month)
	}
}

func TestMonthRangeIncludes(t *testing.T) {
	rng, err := ParseMonthRange("2025-02", "2025-04")
	if err != nil {
		t.Fatalf("parse range: %v", err)
	}
	if rng.Includes(NewMonthKey(2025, time.January)) || !rng.Includes(NewMonthKey(2025, time.April)) {
		t.Fatalf("range bounds wrong: %+v", rng)
	}
	if _, err := ParseMonthRange("2025-05", "2025-04"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected inverted range to fail, got %v", err)
	}
	if !(MonthRange{}).Includes(NewMonthKey(1999, time.July)) {
		t.Fatalf("open range should include everything")
	}
}
