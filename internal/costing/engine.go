package costing

import (
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/donasdosas/ledger/internal/shared"
)

var hundred = decimal.NewFromInt(100)

// IngredientLookup resolves an ingredient usable for costing; archived or unknown ids report false.
type IngredientLookup func(id int64) (Ingredient, bool)

// ActiveLookup builds a lookup over the active ingredients in the slice.
func ActiveLookup(ingredients []Ingredient) IngredientLookup {
	index := make(map[int64]Ingredient, len(ingredients))
	for _, ing := range ingredients {
		if ing.Active {
			index[ing.ID] = ing
		}
	}
	return func(id int64) (Ingredient, bool) {
		ing, ok := index[id]
		return ing, ok
	}
}

// LineCost is the costed form of a recipe row.
type LineCost struct {
	IngredientID int64           `json:"ingredient_id"`
	Name         string          `json:"name"`
	Quantity     decimal.Decimal `json:"quantity"`
	Unit         string          `json:"unit"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	Cost         decimal.Decimal `json:"cost"`
}

// UnitMismatch flags a row whose unit differs from the ingredient's declared unit.
// The row is still costed without conversion.
type UnitMismatch struct {
	IngredientID   int64  `json:"ingredient_id"`
	RecipeUnit     string `json:"recipe_unit"`
	IngredientUnit string `json:"ingredient_unit"`
}

// Breakdown is the result of costing a recipe.
type Breakdown struct {
	Total          decimal.Decimal                `json:"total"`
	Lines          []LineCost                     `json:"lines"`
	Skipped        []shared.MissingReferenceError `json:"skipped,omitempty"`
	UnitMismatches []UnitMismatch                 `json:"unit_mismatches,omitempty"`
}

// Pricing captures profit and margin for a sell price against a unit cost.
type Pricing struct {
	Price     decimal.Decimal `json:"price"`
	Cost      decimal.Decimal `json:"cost"`
	Profit    decimal.Decimal `json:"profit"`
	MarginPct shared.Ratio    `json:"margin_pct"`
}

// Engine costs recipes and logs data-quality signals.
type Engine struct {
	logger *slog.Logger
}

// NewEngine constructs an Engine; a nil logger discards signals.
func NewEngine(logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Engine{logger: logger}
}

// UnitPrice returns pack_price / pack_size, or zero when the pack size is zero or the ingredient is nil.
func UnitPrice(ing *Ingredient) decimal.Decimal {
	if ing == nil || !ing.PackSize.IsPositive() {
		return decimal.Zero
	}
	return ing.PackPrice.Div(ing.PackSize)
}

// RecipeCost sums unit price × quantity across the recipe. Rows pointing at unknown or archived
// ingredients are skipped and reported; they never fail the calculation.
func (e *Engine) RecipeCost(lines []RecipeLine, lookup IngredientLookup) Breakdown {
	out := Breakdown{Total: decimal.Zero, Lines: make([]LineCost, 0, len(lines))}
	for _, line := range lines {
		var ing Ingredient
		ok := false
		if lookup != nil {
			ing, ok = lookup(line.IngredientID)
		}
		if !ok {
			miss := shared.MissingReferenceError{Kind: "ingredient", ID: line.IngredientID, Reason: "unknown or archived"}
			out.Skipped = append(out.Skipped, miss)
			e.logger.Warn("recipe row skipped", slog.Int64("ingredient_id", line.IngredientID), slog.String("reason", miss.Reason))
			continue
		}
		if !strings.EqualFold(strings.TrimSpace(line.Unit), strings.TrimSpace(ing.Unit)) {
			out.UnitMismatches = append(out.UnitMismatches, UnitMismatch{
				IngredientID:   ing.ID,
				RecipeUnit:     line.Unit,
				IngredientUnit: ing.Unit,
			})
			e.logger.Warn("recipe unit mismatch",
				slog.Int64("ingredient_id", ing.ID),
				slog.String("recipe_unit", line.Unit),
				slog.String("ingredient_unit", ing.Unit))
		}
		unit := UnitPrice(&ing)
		cost := unit.Mul(line.Quantity)
		out.Lines = append(out.Lines, LineCost{
			IngredientID: ing.ID,
			Name:         ing.Name,
			Quantity:     line.Quantity,
			Unit:         line.Unit,
			UnitPrice:    unit,
			Cost:         cost,
		})
		out.Total = out.Total.Add(cost)
	}
	return out
}

// PriceMenuItem derives profit and raw margin percentage; margin is undefined when price <= 0.
func PriceMenuItem(price, cost decimal.Decimal) Pricing {
	profit := price.Sub(cost)
	margin := shared.UndefinedRatio()
	if price.IsPositive() {
		margin = shared.DivideRatio(profit.Mul(hundred), price)
	}
	return Pricing{Price: price, Cost: cost, Profit: profit, MarginPct: margin}
}
