package ledger

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"

	"github.com/donasdosas/ledger/internal/shared"
)

// Settings is the per-business singleton of planning assumptions and opening capital.
type Settings struct {
	BusinessID      int64            `json:"business_id"`
	Currency        string           `json:"currency"`
	AvgCheck        decimal.Decimal  `json:"avg_check"`
	CogsPerUnit     decimal.Decimal  `json:"cogs_per_unit"`
	UnitsPerDay     decimal.Decimal  `json:"units_per_day"`
	DaysPerMonth    int              `json:"days_per_month"`
	FixedOpex       decimal.Decimal  `json:"fixed_opex"`
	VariableOpex    decimal.Decimal  `json:"variable_opex"`
	LoanPayment     decimal.Decimal  `json:"loan_payment"`
	OwnerCapital    decimal.Decimal  `json:"owner_capital"`
	BankLoan        decimal.Decimal  `json:"bank_loan"`
	LegacyCashStart *decimal.Decimal `json:"legacy_cash_start,omitempty"`
	ReserveMonths   int              `json:"reserve_months"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// DefaultSettings is returned until a business saves its own.
func DefaultSettings(businessID int64) Settings {
	return Settings{
		BusinessID:    businessID,
		Currency:      "IDR",
		AvgCheck:      decimal.Zero,
		CogsPerUnit:   decimal.Zero,
		UnitsPerDay:   decimal.Zero,
		DaysPerMonth:  26,
		FixedOpex:     decimal.Zero,
		VariableOpex:  decimal.Zero,
		LoanPayment:   decimal.Zero,
		OwnerCapital:  decimal.Zero,
		BankLoan:      decimal.Zero,
		ReserveMonths: 3,
	}
}

// CashStart is owner capital plus bank loan. Older datasets that only carried a single opening
// balance fall back to it while both capital fields are zero.
func (s Settings) CashStart() decimal.Decimal {
	total := s.OwnerCapital.Add(s.BankLoan)
	if total.IsZero() && s.LegacyCashStart != nil {
		return *s.LegacyCashStart
	}
	return total
}

// UpdateSettingsRequest replaces the settings singleton.
type UpdateSettingsRequest struct {
	Currency        string           `json:"currency" validate:"required,len=3"`
	AvgCheck        decimal.Decimal  `json:"avg_check"`
	CogsPerUnit     decimal.Decimal  `json:"cogs_per_unit"`
	UnitsPerDay     decimal.Decimal  `json:"units_per_day"`
	DaysPerMonth    int              `json:"days_per_month" validate:"gte=1,lte=31"`
	FixedOpex       decimal.Decimal  `json:"fixed_opex"`
	VariableOpex    decimal.Decimal  `json:"variable_opex"`
	LoanPayment     decimal.Decimal  `json:"loan_payment"`
	OwnerCapital    decimal.Decimal  `json:"owner_capital"`
	BankLoan        decimal.Decimal  `json:"bank_loan"`
	LegacyCashStart *decimal.Decimal `json:"legacy_cash_start,omitempty"`
	ReserveMonths   int              `json:"reserve_months" validate:"gte=0,lte=36"`
}

// Validate checks currency and decimal fields.
func (r UpdateSettingsRequest) Validate() error {
	if _, err := currency.ParseISO(strings.ToUpper(r.Currency)); err != nil {
		return shared.Invalid("currency", "unknown ISO 4217 code %q", r.Currency)
	}
	return nonNegative(
		namedAmount{"avg_check", r.AvgCheck},
		namedAmount{"cogs_per_unit", r.CogsPerUnit},
		namedAmount{"units_per_day", r.UnitsPerDay},
		namedAmount{"fixed_opex", r.FixedOpex},
		namedAmount{"variable_opex", r.VariableOpex},
		namedAmount{"loan_payment", r.LoanPayment},
		namedAmount{"owner_capital", r.OwnerCapital},
		namedAmount{"bank_loan", r.BankLoan},
	)
}

type namedAmount struct {
	name  string
	value decimal.Decimal
}

func nonNegative(amounts ...namedAmount) error {
	for _, a := range amounts {
		if a.value.IsNegative() {
			return shared.Invalid(a.name, "must not be negative")
		}
	}
	return nil
}

// MonthStatus is the structured lock state of a month.
type MonthStatus string

const (
	MonthOpen   MonthStatus = "OPEN"
	MonthLocked MonthStatus = "LOCKED"
)

// MonthRecord holds the flows and closing cash of one calendar month.
type MonthRecord struct {
	BusinessID int64           `json:"business_id"`
	Month      shared.MonthKey `json:"month"`
	Revenue    decimal.Decimal `json:"revenue"`
	COGS       decimal.Decimal `json:"cogs"`
	OPEX       decimal.Decimal `json:"opex"`
	CAPEX      decimal.Decimal `json:"capex"`
	LoanPaid   decimal.Decimal `json:"loan_paid"`
	CashEnd    decimal.Decimal `json:"cash_end"`
	Status     MonthStatus     `json:"status"`
	ClosedAt   *time.Time      `json:"closed_at,omitempty"`
	Notes      string          `json:"notes"`
	UpdatedAt  time.Time       `json:"updated_at"`
	Stored     bool            `json:"stored"`
}

// EmptyMonth is the default record for a month that has never been written.
func EmptyMonth(businessID int64, key shared.MonthKey) MonthRecord {
	return MonthRecord{
		BusinessID: businessID,
		Month:      key,
		Revenue:    decimal.Zero,
		COGS:       decimal.Zero,
		OPEX:       decimal.Zero,
		CAPEX:      decimal.Zero,
		LoanPaid:   decimal.Zero,
		CashEnd:    decimal.Zero,
		Status:     MonthOpen,
	}
}

// NetOperating is revenue minus COGS and OPEX.
func (m MonthRecord) NetOperating() decimal.Decimal {
	return m.Revenue.Sub(m.COGS).Sub(m.OPEX)
}

// Flow is net operating income less debt service and capital spend.
func (m MonthRecord) Flow() decimal.Decimal {
	return m.NetOperating().Sub(m.LoanPaid).Sub(m.CAPEX)
}

// PutMonthRequest carries the flows for one month. CashEnd is honoured only when the
// resulting record is locked.
type PutMonthRequest struct {
	Revenue  decimal.Decimal  `json:"revenue"`
	COGS     decimal.Decimal  `json:"cogs"`
	OPEX     decimal.Decimal  `json:"opex"`
	CAPEX    decimal.Decimal  `json:"capex"`
	LoanPaid decimal.Decimal  `json:"loan_paid"`
	CashEnd  *decimal.Decimal `json:"cash_end,omitempty"`
	Notes    string           `json:"notes" validate:"max=2000"`
}

// Validate rejects negative flows.
func (r PutMonthRequest) Validate() error {
	return nonNegative(
		namedAmount{"revenue", r.Revenue},
		namedAmount{"cogs", r.COGS},
		namedAmount{"opex", r.OPEX},
		namedAmount{"capex", r.CAPEX},
		namedAmount{"loan_paid", r.LoanPaid},
	)
}

// BulkMonthInput is one row of a bulk upsert.
type BulkMonthInput struct {
	Month string `json:"month" validate:"required"`
	PutMonthRequest
}

// BatchStatus reports the outcome of one bulk row.
type BatchStatus string

const (
	BatchOK      BatchStatus = "ok"
	BatchFailed  BatchStatus = "failed"
	BatchSkipped BatchStatus = "skipped"
)

// BatchItem is the per-month result of a bulk upsert.
type BatchItem struct {
	Month  shared.MonthKey `json:"month"`
	Status BatchStatus     `json:"status"`
	Error  string          `json:"error,omitempty"`
}

// BatchResult lists every row in apply order. FailedAt is set when the batch stopped early;
// rows before it stay committed so a retry can resume there.
type BatchResult struct {
	Items    []BatchItem      `json:"items"`
	FailedAt *shared.MonthKey `json:"failed_at,omitempty"`
}

// AdjustmentKind is the direction of an ad-hoc cash movement.
type AdjustmentKind string

const (
	CashIn  AdjustmentKind = "CASH_IN"
	CashOut AdjustmentKind = "CASH_OUT"
)

// Adjustment is a dated cash movement outside the monthly operating flows.
type Adjustment struct {
	ID         uuid.UUID       `json:"id"`
	BusinessID int64           `json:"business_id"`
	Month      shared.MonthKey `json:"month"`
	Kind       AdjustmentKind  `json:"kind"`
	Amount     decimal.Decimal `json:"amount"`
	Title      string          `json:"title"`
	Notes      string          `json:"notes"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// Signed returns the amount as a cash delta.
func (a Adjustment) Signed() decimal.Decimal {
	if a.Kind == CashOut {
		return a.Amount.Neg()
	}
	return a.Amount
}

// AdjustmentRequest creates or replaces an adjustment.
type AdjustmentRequest struct {
	Month  string          `json:"month" validate:"required"`
	Kind   AdjustmentKind  `json:"kind" validate:"required,oneof=CASH_IN CASH_OUT"`
	Amount decimal.Decimal `json:"amount"`
	Title  string          `json:"title" validate:"required,max=120"`
	Notes  string          `json:"notes" validate:"max=2000"`
}

// Validate parses the month and requires a positive amount.
func (r AdjustmentRequest) Validate() (shared.MonthKey, error) {
	key, err := shared.ParseMonthKey(r.Month)
	if err != nil {
		return shared.MonthKey{}, err
	}
	if !r.Amount.IsPositive() {
		return shared.MonthKey{}, shared.Invalid("amount", "must be positive")
	}
	return key, nil
}

var (
	// ErrMonthNotFound occurs when a month has never been written.
	ErrMonthNotFound = fmt.Errorf("ledger: month %w", shared.ErrNotFound)
	// ErrAdjustmentNotFound occurs when adjustment missing.
	ErrAdjustmentNotFound = fmt.Errorf("ledger: adjustment %w", shared.ErrNotFound)
	// ErrSettingsNotFound occurs before a business saves settings.
	ErrSettingsNotFound = fmt.Errorf("ledger: settings %w", shared.ErrNotFound)
)
