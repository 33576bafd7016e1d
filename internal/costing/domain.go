package costing

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/donasdosas/ledger/internal/shared"
)

// Ingredient is a purchasable input priced per pack.
type Ingredient struct {
	ID         int64           `json:"id"`
	BusinessID int64           `json:"business_id"`
	Name       string          `json:"name"`
	Unit       string          `json:"unit"`
	PackSize   decimal.Decimal `json:"pack_size"`
	PackPrice  decimal.Decimal `json:"pack_price"`
	Active     bool            `json:"active"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// RecipeLine consumes a quantity of one ingredient, expressed in the ingredient's unit.
type RecipeLine struct {
	IngredientID int64           `json:"ingredient_id"`
	Quantity     decimal.Decimal `json:"quantity"`
	Unit         string          `json:"unit"`
}

// MenuItem is a sellable product with a recipe.
type MenuItem struct {
	ID         int64           `json:"id"`
	BusinessID int64           `json:"business_id"`
	Name       string          `json:"name"`
	Category   string          `json:"category"`
	Active     bool            `json:"active"`
	Price      decimal.Decimal `json:"price"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// MenuItemCosting is a menu item with live recipe cost and pricing.
type MenuItemCosting struct {
	MenuItem
	Recipe  []RecipeLine `json:"recipe"`
	Costing Breakdown    `json:"costing"`
	Pricing Pricing      `json:"pricing"`
}

// CreateIngredientRequest captures a new ingredient.
type CreateIngredientRequest struct {
	Name      string          `json:"name" validate:"required,max=120"`
	Unit      string          `json:"unit" validate:"required,max=20"`
	PackSize  decimal.Decimal `json:"pack_size"`
	PackPrice decimal.Decimal `json:"pack_price"`
}

// Validate checks decimal fields the struct tags cannot express.
func (r CreateIngredientRequest) Validate() error {
	if r.PackSize.IsNegative() {
		return shared.Invalid("pack_size", "must not be negative")
	}
	if r.PackPrice.IsNegative() {
		return shared.Invalid("pack_price", "must not be negative")
	}
	return nil
}

// UpdateIngredientRequest patches an ingredient.
type UpdateIngredientRequest struct {
	Name      *string          `json:"name,omitempty" validate:"omitempty,min=1,max=120"`
	Unit      *string          `json:"unit,omitempty" validate:"omitempty,min=1,max=20"`
	PackSize  *decimal.Decimal `json:"pack_size,omitempty"`
	PackPrice *decimal.Decimal `json:"pack_price,omitempty"`
}

// Validate checks decimal fields.
func (r UpdateIngredientRequest) Validate() error {
	if r.PackSize != nil && r.PackSize.IsNegative() {
		return shared.Invalid("pack_size", "must not be negative")
	}
	if r.PackPrice != nil && r.PackPrice.IsNegative() {
		return shared.Invalid("pack_price", "must not be negative")
	}
	return nil
}

// CreateMenuItemRequest captures a new menu item.
type CreateMenuItemRequest struct {
	Name     string          `json:"name" validate:"required,max=120"`
	Category string          `json:"category" validate:"max=60"`
	Price    decimal.Decimal `json:"price"`
}

// Validate checks the sell price.
func (r CreateMenuItemRequest) Validate() error {
	if r.Price.IsNegative() {
		return shared.Invalid("price", "must not be negative")
	}
	return nil
}

// UpdateMenuItemRequest patches a menu item, including its sell price.
type UpdateMenuItemRequest struct {
	Name     *string          `json:"name,omitempty" validate:"omitempty,min=1,max=120"`
	Category *string          `json:"category,omitempty" validate:"omitempty,max=60"`
	Price    *decimal.Decimal `json:"price,omitempty"`
}

// Validate checks the sell price.
func (r UpdateMenuItemRequest) Validate() error {
	if r.Price != nil && r.Price.IsNegative() {
		return shared.Invalid("price", "must not be negative")
	}
	return nil
}

// ReplaceRecipeRequest replaces a menu item's recipe.
type ReplaceRecipeRequest struct {
	Lines []RecipeLine `json:"lines" validate:"dive"`
}

// Validate rejects non-positive quantities and missing ingredient ids.
func (r ReplaceRecipeRequest) Validate() error {
	for i, line := range r.Lines {
		if line.IngredientID <= 0 {
			return shared.Invalid("lines", "row %d: ingredient_id required", i)
		}
		if !line.Quantity.IsPositive() {
			return shared.Invalid("lines", "row %d: quantity must be positive", i)
		}
		if strings.TrimSpace(line.Unit) == "" {
			return shared.Invalid("lines", "row %d: unit required", i)
		}
	}
	return nil
}

var (
	// ErrIngredientNotFound occurs when ingredient missing.
	ErrIngredientNotFound = fmt.Errorf("costing: ingredient %w", shared.ErrNotFound)
	// ErrMenuItemNotFound occurs when menu item missing.
	ErrMenuItemNotFound = fmt.Errorf("costing: menu item %w", shared.ErrNotFound)
)
