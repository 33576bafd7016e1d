package shared

import (
	"fmt"
	"strings"
	"time"
)

// MonthKey identifies a ledger period by its first calendar day.
type MonthKey struct {
	Year  int
	Month time.Month
}

// NewMonthKey normalises year/month into a MonthKey.
func NewMonthKey(year int, month time.Month) MonthKey {
	return MonthKeyOf(time.Date(year, month, 1, 0, 0, 0, 0, time.UTC))
}

// MonthKeyOf returns the month containing t.
func MonthKeyOf(t time.Time) MonthKey {
	return MonthKey{Year: t.Year(), Month: t.Month()}
}

// ParseMonthKey accepts "2006-01" or "2006-01-02"; a full date must be the first of the month.
func ParseMonthKey(raw string) (MonthKey, error) {
	raw = strings.TrimSpace(raw)
	if t, err := time.Parse("2006-01", raw); err == nil {
		return MonthKeyOf(t), nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return MonthKey{}, &ValidationError{Field: "month", Reason: fmt.Sprintf("malformed month key %q", raw)}
	}
	if t.Day() != 1 {
		return MonthKey{}, &ValidationError{Field: "month", Reason: fmt.Sprintf("month key %q is not the first of a month", raw)}
	}
	return MonthKeyOf(t), nil
}

// IsZero reports whether the key is unset.
func (k MonthKey) IsZero() bool {
	return k.Year == 0 && k.Month == 0
}

// Date returns the first day of the month in UTC.
func (k MonthKey) Date() time.Time {
	return time.Date(k.Year, k.Month, 1, 0, 0, 0, 0, time.UTC)
}

// End returns the last day of the month in UTC.
func (k MonthKey) End() time.Time {
	return k.Next().Date().AddDate(0, 0, -1)
}

// Next returns the following calendar month.
func (k MonthKey) Next() MonthKey {
	return k.AddMonths(1)
}

// Prev returns the previous calendar month.
func (k MonthKey) Prev() MonthKey {
	return k.AddMonths(-1)
}

// AddMonths shifts the key by n months.
func (k MonthKey) AddMonths(n int) MonthKey {
	return MonthKeyOf(k.Date().AddDate(0, n, 0))
}

// Compare returns -1, 0 or 1.
func (k MonthKey) Compare(other MonthKey) int {
	a, b := k.index(), other.index()
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// Before reports whether k is strictly earlier than other.
func (k MonthKey) Before(other MonthKey) bool {
	return k.Compare(other) < 0
}

// After reports whether k is strictly later than other.
func (k MonthKey) After(other MonthKey) bool {
	return k.Compare(other) > 0
}

// MonthsUntil returns the number of months from k to other (negative when other is earlier).
func (k MonthKey) MonthsUntil(other MonthKey) int {
	return other.index() - k.index()
}

// Contains reports whether t falls inside the month.
func (k MonthKey) Contains(t time.Time) bool {
	return MonthKeyOf(t.UTC()) == k
}

func (k MonthKey) index() int {
	return k.Year*12 + int(k.Month) - 1
}

// String renders the key as 2006-01.
func (k MonthKey) String() string {
	if k.IsZero() {
		return ""
	}
	return k.Date().Format("2006-01")
}

// MarshalText renders the key as the first-of-month date.
func (k MonthKey) MarshalText() ([]byte, error) {
	if k.IsZero() {
		return []byte{}, nil
	}
	return []byte(k.Date().Format("2006-01-02")), nil
}

// UnmarshalText parses either month or first-of-month date form.
func (k *MonthKey) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*k = MonthKey{}
		return nil
	}
	parsed, err := ParseMonthKey(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// MonthRange is an inclusive month interval; zero bounds are open.
type MonthRange struct {
	From MonthKey
	To   MonthKey
}

// Includes reports whether k lies within the range.
func (r MonthRange) Includes(k MonthKey) bool {
	if !r.From.IsZero() && k.Before(r.From) {
		return false
	}
	if !r.To.IsZero() && k.After(r.To) {
		return false
	}
	return true
}

// Validate rejects inverted ranges.
func (r MonthRange) Validate() error {
	if !r.From.IsZero() && !r.To.IsZero() && r.From.After(r.To) {
		return &ValidationError{Field: "range", Reason: "from must not be after to"}
	}
	return nil
}

// ParseMonthRange parses optional from/to query values.
func ParseMonthRange(from, to string) (MonthRange, error) {
	var rng MonthRange
	var err error
	if strings.TrimSpace(from) != "" {
		if rng.From, err = ParseMonthKey(from); err != nil {
			return MonthRange{}, err
		}
	}
	if strings.TrimSpace(to) != "" {
		if rng.To, err = ParseMonthKey(to); err != nil {
			return MonthRange{}, err
		}
	}
	return rng, rng.Validate()
}
