package sales

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/donasdosas/ledger/internal/shared"
)

const dateLayout = "2006-01-02"

// AmountScale is the number of decimal places a sale keeps for quantities, prices and cost
// snapshots. It matches the NUMERIC(18, 4) columns.
const AmountScale = 4

// freezeCOGS rounds the unit cost half away from zero and derives the total from the rounded
// unit, so every store holds the same snapshot.
func freezeCOGS(unit, quantity decimal.Decimal) (decimal.Decimal, decimal.Decimal) {
	unit = unit.Round(AmountScale)
	return unit, unit.Mul(quantity).Round(AmountScale)
}

func fitsScale(v decimal.Decimal) bool {
	return v.Equal(v.Round(AmountScale))
}

// Sale is one recorded transaction. COGS is captured when the sale is written and never
// re-derived from later recipe or ingredient changes.
type Sale struct {
	ID           uuid.UUID       `json:"id"`
	BusinessID   int64           `json:"business_id"`
	Date         time.Time       `json:"date"`
	MenuItemID   int64           `json:"menu_item_id"`
	MenuItemName string          `json:"menu_item_name"`
	Quantity     decimal.Decimal `json:"quantity"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	COGSUnit     decimal.Decimal `json:"cogs_unit"`
	COGSTotal    decimal.Decimal `json:"cogs_total"`
	Channel      string          `json:"channel"`
	Notes        string          `json:"notes"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Month is the calendar month the sale belongs to.
func (s Sale) Month() shared.MonthKey {
	return shared.MonthKeyOf(s.Date)
}

// Revenue is quantity × unit price.
func (s Sale) Revenue() decimal.Decimal {
	return s.Quantity.Mul(s.UnitPrice)
}

// CreateSaleRequest records a sale. UnitPrice defaults to the menu item's current price.
type CreateSaleRequest struct {
	Date       string           `json:"date" validate:"required,datetime=2006-01-02"`
	MenuItemID int64            `json:"menu_item_id" validate:"required,gt=0"`
	Quantity   decimal.Decimal  `json:"quantity"`
	UnitPrice  *decimal.Decimal `json:"unit_price,omitempty"`
	Channel    string           `json:"channel" validate:"max=40"`
	Notes      string           `json:"notes" validate:"max=2000"`
}

// Validate checks decimal fields and returns the parsed date.
func (r CreateSaleRequest) Validate() (time.Time, error) {
	if !r.Quantity.IsPositive() {
		return time.Time{}, shared.Invalid("quantity", "must be positive")
	}
	if !fitsScale(r.Quantity) {
		return time.Time{}, shared.Invalid("quantity", "at most %d decimal places", AmountScale)
	}
	if r.UnitPrice != nil && r.UnitPrice.IsNegative() {
		return time.Time{}, shared.Invalid("unit_price", "must not be negative")
	}
	if r.UnitPrice != nil && !fitsScale(*r.UnitPrice) {
		return time.Time{}, shared.Invalid("unit_price", "at most %d decimal places", AmountScale)
	}
	return parseDate(r.Date)
}

// UpdateSaleRequest patches a sale. Changing the menu item re-costs it at the current recipe.
type UpdateSaleRequest struct {
	Date       *string          `json:"date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	MenuItemID *int64           `json:"menu_item_id,omitempty" validate:"omitempty,gt=0"`
	Quantity   *decimal.Decimal `json:"quantity,omitempty"`
	UnitPrice  *decimal.Decimal `json:"unit_price,omitempty"`
	Channel    *string          `json:"channel,omitempty" validate:"omitempty,max=40"`
	Notes      *string          `json:"notes,omitempty" validate:"omitempty,max=2000"`
}

// Validate checks decimal fields.
func (r UpdateSaleRequest) Validate() error {
	if r.Quantity != nil && !r.Quantity.IsPositive() {
		return shared.Invalid("quantity", "must be positive")
	}
	if r.Quantity != nil && !fitsScale(*r.Quantity) {
		return shared.Invalid("quantity", "at most %d decimal places", AmountScale)
	}
	if r.UnitPrice != nil && r.UnitPrice.IsNegative() {
		return shared.Invalid("unit_price", "must not be negative")
	}
	if r.UnitPrice != nil && !fitsScale(*r.UnitPrice) {
		return shared.Invalid("unit_price", "at most %d decimal places", AmountScale)
	}
	return nil
}

func parseDate(v string) (time.Time, error) {
	t, err := time.ParseInLocation(dateLayout, strings.TrimSpace(v), time.UTC)
	if err != nil {
		return time.Time{}, shared.Invalid("date", "expected YYYY-MM-DD")
	}
	return t, nil
}

func normalizeChannel(v string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	if v == "" {
		return DefaultChannel
	}
	return v
}

// DefaultChannel tags sales recorded without a channel.
const DefaultChannel = "walk_in"

// ErrSaleNotFound occurs when a sale id is unknown for the business.
var ErrSaleNotFound = fmt.Errorf("sales: sale %w", shared.ErrNotFound)
