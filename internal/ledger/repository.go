package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/donasdosas/ledger/internal/platform/db"
	"github.com/donasdosas/ledger/internal/shared"
)

// CashEndUpdate is a recomputed closing balance for an open month.
type CashEndUpdate struct {
	Month   shared.MonthKey
	CashEnd decimal.Decimal
}

// Repository is the LedgerStore. Months come back ascending by key.
type Repository interface {
	GetSettings(ctx context.Context, businessID int64) (Settings, error)
	SaveSettings(ctx context.Context, s Settings) (Settings, error)
	GetMonth(ctx context.Context, businessID int64, key shared.MonthKey) (MonthRecord, error)
	ListMonths(ctx context.Context, businessID int64, rng shared.MonthRange) ([]MonthRecord, error)
	UpsertMonth(ctx context.Context, rec MonthRecord) (MonthRecord, error)
	// SetCashEnds writes recomputed balances; locked months are left untouched.
	SetCashEnds(ctx context.Context, businessID int64, updates []CashEndUpdate, at time.Time) error
	ListBusinesses(ctx context.Context) ([]int64, error)
	ListAdjustments(ctx context.Context, businessID int64, rng shared.MonthRange) ([]Adjustment, error)
	GetAdjustment(ctx context.Context, businessID int64, id uuid.UUID) (Adjustment, error)
	SaveAdjustment(ctx context.Context, a Adjustment) (Adjustment, error)
	DeleteAdjustment(ctx context.Context, businessID int64, id uuid.UUID) error
}

// PGRepository stores the ledger in Postgres.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Postgres-backed LedgerStore.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const settingsColumns = `business_id, currency, avg_check, cogs_per_unit, units_per_day, days_per_month, fixed_opex,
	variable_opex, loan_payment, owner_capital, bank_loan, legacy_cash_start, reserve_months, updated_at`

// GetSettings loads the settings singleton.
func (r *PGRepository) GetSettings(ctx context.Context, businessID int64) (Settings, error) {
	var s Settings
	var avg, cogs, units, opex, variable, loan, capital, bank string
	var legacy *string
	err := r.pool.QueryRow(ctx, `SELECT `+settingsColumns+` FROM ledger_settings WHERE business_id = $1`, businessID).
		Scan(&s.BusinessID, &s.Currency, &avg, &cogs, &units, &s.DaysPerMonth, &opex, &variable, &loan, &capital, &bank, &legacy, &s.ReserveMonths, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Settings{}, ErrSettingsNotFound
	}
	if err != nil {
		return Settings{}, err
	}
	s.AvgCheck = decimal.RequireFromString(avg)
	s.CogsPerUnit = decimal.RequireFromString(cogs)
	s.UnitsPerDay = decimal.RequireFromString(units)
	s.FixedOpex = decimal.RequireFromString(opex)
	s.VariableOpex = decimal.RequireFromString(variable)
	s.LoanPayment = decimal.RequireFromString(loan)
	s.OwnerCapital = decimal.RequireFromString(capital)
	s.BankLoan = decimal.RequireFromString(bank)
	if legacy != nil {
		v := decimal.RequireFromString(*legacy)
		s.LegacyCashStart = &v
	}
	return s, nil
}

// SaveSettings upserts the settings singleton.
func (r *PGRepository) SaveSettings(ctx context.Context, s Settings) (Settings, error) {
	var legacy *string
	if s.LegacyCashStart != nil {
		v := s.LegacyCashStart.String()
		legacy = &v
	}
	_, err := r.pool.Exec(ctx, `INSERT INTO ledger_settings (`+settingsColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (business_id) DO UPDATE SET currency = EXCLUDED.currency, avg_check = EXCLUDED.avg_check,
			cogs_per_unit = EXCLUDED.cogs_per_unit, units_per_day = EXCLUDED.units_per_day,
			days_per_month = EXCLUDED.days_per_month, fixed_opex = EXCLUDED.fixed_opex,
			variable_opex = EXCLUDED.variable_opex, loan_payment = EXCLUDED.loan_payment, owner_capital = EXCLUDED.owner_capital,
			bank_loan = EXCLUDED.bank_loan, legacy_cash_start = EXCLUDED.legacy_cash_start,
			reserve_months = EXCLUDED.reserve_months, updated_at = EXCLUDED.updated_at`,
		s.BusinessID, s.Currency, s.AvgCheck.String(), s.CogsPerUnit.String(), s.UnitsPerDay.String(), s.DaysPerMonth,
		s.FixedOpex.String(), s.VariableOpex.String(), s.LoanPayment.String(), s.OwnerCapital.String(), s.BankLoan.String(), legacy, s.ReserveMonths, s.UpdatedAt)
	if err != nil {
		return Settings{}, fmt.Errorf("ledger: save settings: %w", err)
	}
	return s, nil
}

const monthColumns = `business_id, month, revenue, cogs, opex, capex, loan_paid, cash_end, status, closed_at, notes, updated_at`

func scanMonth(row pgx.Row) (MonthRecord, error) {
	var rec MonthRecord
	var month time.Time
	var revenue, cogs, opex, capex, loan, cash, status string
	if err := row.Scan(&rec.BusinessID, &month, &revenue, &cogs, &opex, &capex, &loan, &cash, &status, &rec.ClosedAt, &rec.Notes, &rec.UpdatedAt); err != nil {
		return MonthRecord{}, err
	}
	rec.Month = shared.MonthKeyOf(month)
	rec.Revenue = decimal.RequireFromString(revenue)
	rec.COGS = decimal.RequireFromString(cogs)
	rec.OPEX = decimal.RequireFromString(opex)
	rec.CAPEX = decimal.RequireFromString(capex)
	rec.LoanPaid = decimal.RequireFromString(loan)
	rec.CashEnd = decimal.RequireFromString(cash)
	rec.Status = MonthStatus(status)
	rec.Stored = true
	return rec, nil
}

// GetMonth loads one month.
func (r *PGRepository) GetMonth(ctx context.Context, businessID int64, key shared.MonthKey) (MonthRecord, error) {
	rec, err := scanMonth(r.pool.QueryRow(ctx, `SELECT `+monthColumns+` FROM ledger_months WHERE business_id = $1 AND month = $2`, businessID, key.Date()))
	if errors.Is(err, pgx.ErrNoRows) {
		return MonthRecord{}, ErrMonthNotFound
	}
	return rec, err
}

// ListMonths returns months within the range, ascending.
func (r *PGRepository) ListMonths(ctx context.Context, businessID int64, rng shared.MonthRange) ([]MonthRecord, error) {
	var from, to *time.Time
	if !rng.From.IsZero() {
		d := rng.From.Date()
		from = &d
	}
	if !rng.To.IsZero() {
		d := rng.To.Date()
		to = &d
	}
	rows, err := r.pool.Query(ctx, `SELECT `+monthColumns+` FROM ledger_months
		WHERE business_id = $1 AND ($2::date IS NULL OR month >= $2) AND ($3::date IS NULL OR month <= $3)
		ORDER BY month`, businessID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []MonthRecord
	for rows.Next() {
		rec, err := scanMonth(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// UpsertMonth inserts or overwrites a month row. Last write wins.
func (r *PGRepository) UpsertMonth(ctx context.Context, rec MonthRecord) (MonthRecord, error) {
	return scanMonth(r.pool.QueryRow(ctx, `INSERT INTO ledger_months (`+monthColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (business_id, month) DO UPDATE SET revenue = EXCLUDED.revenue, cogs = EXCLUDED.cogs,
			opex = EXCLUDED.opex, capex = EXCLUDED.capex, loan_paid = EXCLUDED.loan_paid,
			cash_end = EXCLUDED.cash_end, status = EXCLUDED.status, closed_at = EXCLUDED.closed_at,
			notes = EXCLUDED.notes, updated_at = EXCLUDED.updated_at
		RETURNING `+monthColumns,
		rec.BusinessID, rec.Month.Date(), rec.Revenue.String(), rec.COGS.String(), rec.OPEX.String(), rec.CAPEX.String(),
		rec.LoanPaid.String(), rec.CashEnd.String(), string(rec.Status), rec.ClosedAt, rec.Notes, rec.UpdatedAt))
}

// SetCashEnds writes recomputed balances for open months in one transaction.
func (r *PGRepository) SetCashEnds(ctx context.Context, businessID int64, updates []CashEndUpdate, at time.Time) error {
	if len(updates) == 0 {
		return nil
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, u := range updates {
			batch.Queue(`UPDATE ledger_months SET cash_end = $3, updated_at = $4
				WHERE business_id = $1 AND month = $2 AND status = 'OPEN'`, businessID, u.Month.Date(), u.CashEnd.String(), at)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
}

// ListBusinesses returns every business with settings or months.
func (r *PGRepository) ListBusinesses(ctx context.Context) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT business_id FROM ledger_settings UNION SELECT business_id FROM ledger_months ORDER BY 1`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

const adjustmentColumns = `id, business_id, month, kind, amount, title, notes, created_at, updated_at`

func scanAdjustment(row pgx.Row) (Adjustment, error) {
	var a Adjustment
	var month time.Time
	var kind, amount string
	if err := row.Scan(&a.ID, &a.BusinessID, &month, &kind, &amount, &a.Title, &a.Notes, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return Adjustment{}, err
	}
	a.Month = shared.MonthKeyOf(month)
	a.Kind = AdjustmentKind(kind)
	a.Amount = decimal.RequireFromString(amount)
	return a, nil
}

// ListAdjustments returns adjustments in the range ordered by month then creation time.
func (r *PGRepository) ListAdjustments(ctx context.Context, businessID int64, rng shared.MonthRange) ([]Adjustment, error) {
	var from, to *time.Time
	if !rng.From.IsZero() {
		d := rng.From.Date()
		from = &d
	}
	if !rng.To.IsZero() {
		d := rng.To.Date()
		to = &d
	}
	rows, err := r.pool.Query(ctx, `SELECT `+adjustmentColumns+` FROM ledger_adjustments
		WHERE business_id = $1 AND ($2::date IS NULL OR month >= $2) AND ($3::date IS NULL OR month <= $3)
		ORDER BY month, created_at`, businessID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Adjustment
	for rows.Next() {
		a, err := scanAdjustment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// GetAdjustment loads one adjustment.
func (r *PGRepository) GetAdjustment(ctx context.Context, businessID int64, id uuid.UUID) (Adjustment, error) {
	a, err := scanAdjustment(r.pool.QueryRow(ctx, `SELECT `+adjustmentColumns+` FROM ledger_adjustments WHERE business_id = $1 AND id = $2`, businessID, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Adjustment{}, ErrAdjustmentNotFound
	}
	return a, err
}

// SaveAdjustment inserts or replaces an adjustment by id.
func (r *PGRepository) SaveAdjustment(ctx context.Context, a Adjustment) (Adjustment, error) {
	return scanAdjustment(r.pool.QueryRow(ctx, `INSERT INTO ledger_adjustments (`+adjustmentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET month = EXCLUDED.month, kind = EXCLUDED.kind, amount = EXCLUDED.amount,
			title = EXCLUDED.title, notes = EXCLUDED.notes, updated_at = EXCLUDED.updated_at
		RETURNING `+adjustmentColumns,
		a.ID, a.BusinessID, a.Month.Date(), string(a.Kind), a.Amount.String(), a.Title, a.Notes, a.CreatedAt, a.UpdatedAt))
}

// DeleteAdjustment hard-deletes an adjustment.
func (r *PGRepository) DeleteAdjustment(ctx context.Context, businessID int64, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM ledger_adjustments WHERE business_id = $1 AND id = $2`, businessID, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAdjustmentNotFound
	}
	return nil
}
