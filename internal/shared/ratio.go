package shared

import (
	"encoding/json"
	"math"
	"strconv"

	"github.com/shopspring/decimal"
)

// Ratio is a derived figure that may be undefined (margin at zero price, DSCR without debt).
// Undefined ratios encode as JSON null and render as "—".
type Ratio struct {
	value   float64
	defined bool
}

// UndefinedRatio returns the undefined ratio.
func UndefinedRatio() Ratio { return Ratio{} }

// RatioOf wraps a finite float; NaN and infinities are undefined.
func RatioOf(v float64) Ratio {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Ratio{}
	}
	return Ratio{value: v, defined: true}
}

// DivideRatio returns num/den, undefined when den is zero.
func DivideRatio(num, den decimal.Decimal) Ratio {
	if den.IsZero() {
		return Ratio{}
	}
	return RatioOf(num.DivRound(den, 8).InexactFloat64())
}

// Defined reports whether the ratio carries a value.
func (r Ratio) Defined() bool { return r.defined }

// Value returns the numeric value and whether it is defined.
func (r Ratio) Value() (float64, bool) { return r.value, r.defined }

// Round returns the ratio rounded to places decimals.
func (r Ratio) Round(places int) Ratio {
	if !r.defined {
		return r
	}
	pow := math.Pow(10, float64(places))
	return Ratio{value: math.Round(r.value*pow) / pow, defined: true}
}

// String renders the value or an em dash when undefined.
func (r Ratio) String() string {
	if !r.defined {
		return "—"
	}
	return strconv.FormatFloat(r.value, 'f', 2, 64)
}

// MarshalJSON encodes undefined as null.
func (r Ratio) MarshalJSON() ([]byte, error) {
	if !r.defined {
		return []byte("null"), nil
	}
	return json.Marshal(r.value)
}

// UnmarshalJSON accepts null or a number.
func (r *Ratio) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*r = Ratio{}
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*r = RatioOf(v)
	return nil
}
