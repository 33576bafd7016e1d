package costing

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/donasdosas/ledger/internal/platform/db"
)

// Repository persists the ingredient and menu catalog. Rows are archived, never removed.
type Repository interface {
	ListIngredients(ctx context.Context, businessID int64, includeArchived bool) ([]Ingredient, error)
	GetIngredient(ctx context.Context, businessID, id int64) (Ingredient, error)
	CreateIngredient(ctx context.Context, ing Ingredient) (Ingredient, error)
	UpdateIngredient(ctx context.Context, ing Ingredient) (Ingredient, error)
	ListMenuItems(ctx context.Context, businessID int64, includeArchived bool) ([]MenuItem, error)
	GetMenuItem(ctx context.Context, businessID, id int64) (MenuItem, error)
	CreateMenuItem(ctx context.Context, item MenuItem) (MenuItem, error)
	UpdateMenuItem(ctx context.Context, item MenuItem) (MenuItem, error)
	GetRecipe(ctx context.Context, businessID, menuItemID int64) ([]RecipeLine, error)
	ReplaceRecipe(ctx context.Context, businessID, menuItemID int64, lines []RecipeLine) error
}

// PGRepository is the Postgres implementation.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Postgres-backed repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const ingredientColumns = `id, business_id, name, unit, pack_size, pack_price, active, created_at, updated_at`

func scanIngredient(row pgx.Row) (Ingredient, error) {
	var ing Ingredient
	var size, price string
	if err := row.Scan(&ing.ID, &ing.BusinessID, &ing.Name, &ing.Unit, &size, &price, &ing.Active, &ing.CreatedAt, &ing.UpdatedAt); err != nil {
		return Ingredient{}, err
	}
	ing.PackSize = decimal.RequireFromString(size)
	ing.PackPrice = decimal.RequireFromString(price)
	return ing, nil
}

// ListIngredients returns ingredients ordered by name.
func (r *PGRepository) ListIngredients(ctx context.Context, businessID int64, includeArchived bool) ([]Ingredient, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+ingredientColumns+` FROM ingredients
		WHERE business_id = $1 AND ($2 OR active) ORDER BY name, id`, businessID, includeArchived)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Ingredient
	for rows.Next() {
		ing, err := scanIngredient(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ing)
	}
	return out, rows.Err()
}

// GetIngredient loads one ingredient.
func (r *PGRepository) GetIngredient(ctx context.Context, businessID, id int64) (Ingredient, error) {
	ing, err := scanIngredient(r.pool.QueryRow(ctx, `SELECT `+ingredientColumns+` FROM ingredients WHERE business_id = $1 AND id = $2`, businessID, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Ingredient{}, ErrIngredientNotFound
	}
	return ing, err
}

// CreateIngredient inserts an ingredient.
func (r *PGRepository) CreateIngredient(ctx context.Context, ing Ingredient) (Ingredient, error) {
	return scanIngredient(r.pool.QueryRow(ctx, `INSERT INTO ingredients (business_id, name, unit, pack_size, pack_price, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7) RETURNING `+ingredientColumns,
		ing.BusinessID, ing.Name, ing.Unit, ing.PackSize.String(), ing.PackPrice.String(), ing.Active, ing.UpdatedAt))
}

// UpdateIngredient overwrites an ingredient row.
func (r *PGRepository) UpdateIngredient(ctx context.Context, ing Ingredient) (Ingredient, error) {
	out, err := scanIngredient(r.pool.QueryRow(ctx, `UPDATE ingredients SET name=$3, unit=$4, pack_size=$5, pack_price=$6, active=$7, updated_at=$8
		WHERE business_id = $1 AND id = $2 RETURNING `+ingredientColumns,
		ing.BusinessID, ing.ID, ing.Name, ing.Unit, ing.PackSize.String(), ing.PackPrice.String(), ing.Active, ing.UpdatedAt))
	if errors.Is(err, pgx.ErrNoRows) {
		return Ingredient{}, ErrIngredientNotFound
	}
	return out, err
}

const menuItemColumns = `id, business_id, name, category, active, price, created_at, updated_at`

func scanMenuItem(row pgx.Row) (MenuItem, error) {
	var item MenuItem
	var price string
	if err := row.Scan(&item.ID, &item.BusinessID, &item.Name, &item.Category, &item.Active, &price, &item.CreatedAt, &item.UpdatedAt); err != nil {
		return MenuItem{}, err
	}
	item.Price = decimal.RequireFromString(price)
	return item, nil
}

// ListMenuItems returns menu items ordered by category and name.
func (r *PGRepository) ListMenuItems(ctx context.Context, businessID int64, includeArchived bool) ([]MenuItem, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+menuItemColumns+` FROM menu_items
		WHERE business_id = $1 AND ($2 OR active) ORDER BY category, name, id`, businessID, includeArchived)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []MenuItem
	for rows.Next() {
		item, err := scanMenuItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

// GetMenuItem loads one menu item.
func (r *PGRepository) GetMenuItem(ctx context.Context, businessID, id int64) (MenuItem, error) {
	item, err := scanMenuItem(r.pool.QueryRow(ctx, `SELECT `+menuItemColumns+` FROM menu_items WHERE business_id = $1 AND id = $2`, businessID, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return MenuItem{}, ErrMenuItemNotFound
	}
	return item, err
}

// CreateMenuItem inserts a menu item.
func (r *PGRepository) CreateMenuItem(ctx context.Context, item MenuItem) (MenuItem, error) {
	return scanMenuItem(r.pool.QueryRow(ctx, `INSERT INTO menu_items (business_id, name, category, active, price, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6) RETURNING `+menuItemColumns,
		item.BusinessID, item.Name, item.Category, item.Active, item.Price.String(), item.UpdatedAt))
}

// UpdateMenuItem overwrites a menu item row.
func (r *PGRepository) UpdateMenuItem(ctx context.Context, item MenuItem) (MenuItem, error) {
	out, err := scanMenuItem(r.pool.QueryRow(ctx, `UPDATE menu_items SET name=$3, category=$4, active=$5, price=$6, updated_at=$7
		WHERE business_id = $1 AND id = $2 RETURNING `+menuItemColumns,
		item.BusinessID, item.ID, item.Name, item.Category, item.Active, item.Price.String(), item.UpdatedAt))
	if errors.Is(err, pgx.ErrNoRows) {
		return MenuItem{}, ErrMenuItemNotFound
	}
	return out, err
}

// GetRecipe returns recipe rows in their stored order.
func (r *PGRepository) GetRecipe(ctx context.Context, businessID, menuItemID int64) ([]RecipeLine, error) {
	rows, err := r.pool.Query(ctx, `SELECT ingredient_id, quantity, unit FROM recipe_lines
		WHERE business_id = $1 AND menu_item_id = $2 ORDER BY position`, businessID, menuItemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []RecipeLine
	for rows.Next() {
		var line RecipeLine
		var qty string
		if err := rows.Scan(&line.IngredientID, &qty, &line.Unit); err != nil {
			return nil, err
		}
		line.Quantity = decimal.RequireFromString(qty)
		out = append(out, line)
	}
	return out, rows.Err()
}

// ReplaceRecipe swaps all recipe rows inside one transaction.
func (r *PGRepository) ReplaceRecipe(ctx context.Context, businessID, menuItemID int64, lines []RecipeLine) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM recipe_lines WHERE business_id = $1 AND menu_item_id = $2`, businessID, menuItemID); err != nil {
			return fmt.Errorf("costing: clear recipe: %w", err)
		}
		batch := &pgx.Batch{}
		for i, line := range lines {
			batch.Queue(`INSERT INTO recipe_lines (business_id, menu_item_id, position, ingredient_id, quantity, unit)
				VALUES ($1, $2, $3, $4, $5, $6)`, businessID, menuItemID, i, line.IngredientID, line.Quantity.String(), line.Unit)
		}
		if batch.Len() == 0 {
			return nil
		}
		return tx.SendBatch(ctx, batch).Close()
	})
}
