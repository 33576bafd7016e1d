package sales

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/donasdosas/ledger/internal/shared"
)

// Repository persists sales.
type Repository interface {
	ListSales(ctx context.Context, businessID int64, rng shared.MonthRange) ([]Sale, error)
	GetSale(ctx context.Context, businessID int64, id uuid.UUID) (Sale, error)
	SaveSale(ctx context.Context, s Sale) (Sale, error)
	DeleteSale(ctx context.Context, businessID int64, id uuid.UUID) error
}

// PGRepository stores sales in Postgres.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Postgres-backed sales repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const saleColumns = `id, business_id, sale_date, menu_item_id, menu_item_name, quantity, unit_price,
	cogs_unit, cogs_total, channel, notes, created_at, updated_at`

func scanSale(row pgx.Row) (Sale, error) {
	var s Sale
	var qty, price, unit, total string
	if err := row.Scan(&s.ID, &s.BusinessID, &s.Date, &s.MenuItemID, &s.MenuItemName, &qty, &price,
		&unit, &total, &s.Channel, &s.Notes, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return Sale{}, err
	}
	s.Date = s.Date.UTC()
	s.Quantity = decimal.RequireFromString(qty)
	s.UnitPrice = decimal.RequireFromString(price)
	s.COGSUnit = decimal.RequireFromString(unit)
	s.COGSTotal = decimal.RequireFromString(total)
	return s, nil
}

// ListSales returns sales dated within the month range, oldest first.
func (r *PGRepository) ListSales(ctx context.Context, businessID int64, rng shared.MonthRange) ([]Sale, error) {
	var from, to *time.Time
	if !rng.From.IsZero() {
		d := rng.From.Date()
		from = &d
	}
	if !rng.To.IsZero() {
		d := rng.To.End()
		to = &d
	}
	rows, err := r.pool.Query(ctx, `SELECT `+saleColumns+` FROM sales
		WHERE business_id = $1 AND ($2::date IS NULL OR sale_date >= $2) AND ($3::date IS NULL OR sale_date <= $3)
		ORDER BY sale_date, created_at`, businessID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Sale
	for rows.Next() {
		s, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// GetSale loads one sale.
func (r *PGRepository) GetSale(ctx context.Context, businessID int64, id uuid.UUID) (Sale, error) {
	s, err := scanSale(r.pool.QueryRow(ctx, `SELECT `+saleColumns+` FROM sales WHERE business_id = $1 AND id = $2`, businessID, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Sale{}, ErrSaleNotFound
	}
	return s, err
}

// SaveSale upserts by id.
func (r *PGRepository) SaveSale(ctx context.Context, s Sale) (Sale, error) {
	return scanSale(r.pool.QueryRow(ctx, `INSERT INTO sales (`+saleColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET sale_date = EXCLUDED.sale_date, menu_item_id = EXCLUDED.menu_item_id,
			menu_item_name = EXCLUDED.menu_item_name, quantity = EXCLUDED.quantity, unit_price = EXCLUDED.unit_price,
			cogs_unit = EXCLUDED.cogs_unit, cogs_total = EXCLUDED.cogs_total, channel = EXCLUDED.channel,
			notes = EXCLUDED.notes, updated_at = EXCLUDED.updated_at
		WHERE sales.business_id = EXCLUDED.business_id
		RETURNING `+saleColumns,
		s.ID, s.BusinessID, s.Date, s.MenuItemID, s.MenuItemName, s.Quantity.String(), s.UnitPrice.String(),
		s.COGSUnit.String(), s.COGSTotal.String(), s.Channel, s.Notes, s.CreatedAt, s.UpdatedAt))
}

// DeleteSale removes a sale.
func (r *PGRepository) DeleteSale(ctx context.Context, businessID int64, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM sales WHERE business_id = $1 AND id = $2`, businessID, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSaleNotFound
	}
	return nil
}
