package costing

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/donasdosas/ledger/internal/shared"
)

// Service manages the ingredient and menu catalog and prices menu items from live ingredient costs.
type Service struct {
	repo     Repository
	engine   *Engine
	validate *validator.Validate
	logger   *slog.Logger
	now      func() time.Time
}

// NewService constructs a costing service.
func NewService(repo Repository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Service{
		repo:     repo,
		engine:   NewEngine(logger),
		validate: validator.New(),
		logger:   logger,
		now:      time.Now,
	}
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// ListIngredients returns the catalog, optionally including archived rows.
func (s *Service) ListIngredients(ctx context.Context, businessID int64, includeArchived bool) ([]Ingredient, error) {
	return s.repo.ListIngredients(ctx, businessID, includeArchived)
}

// CreateIngredient validates and inserts an active ingredient.
func (s *Service) CreateIngredient(ctx context.Context, businessID int64, req CreateIngredientRequest) (Ingredient, error) {
	if err := s.check(req); err != nil {
		return Ingredient{}, err
	}
	if err := req.Validate(); err != nil {
		return Ingredient{}, err
	}
	return s.repo.CreateIngredient(ctx, Ingredient{
		BusinessID: businessID,
		Name:       strings.TrimSpace(req.Name),
		Unit:       strings.TrimSpace(req.Unit),
		PackSize:   req.PackSize,
		PackPrice:  req.PackPrice,
		Active:     true,
		UpdatedAt:  s.now().UTC(),
	})
}

// UpdateIngredient applies a partial update. Pack price changes flow into live menu costing.
func (s *Service) UpdateIngredient(ctx context.Context, businessID, id int64, req UpdateIngredientRequest) (Ingredient, error) {
	if err := s.check(req); err != nil {
		return Ingredient{}, err
	}
	if err := req.Validate(); err != nil {
		return Ingredient{}, err
	}
	ing, err := s.repo.GetIngredient(ctx, businessID, id)
	if err != nil {
		return Ingredient{}, err
	}
	if req.Name != nil {
		ing.Name = strings.TrimSpace(*req.Name)
	}
	if req.Unit != nil {
		ing.Unit = strings.TrimSpace(*req.Unit)
	}
	if req.PackSize != nil {
		ing.PackSize = *req.PackSize
	}
	if req.PackPrice != nil {
		ing.PackPrice = *req.PackPrice
	}
	ing.UpdatedAt = s.now().UTC()
	return s.repo.UpdateIngredient(ctx, ing)
}

// ArchiveIngredient soft-deletes an ingredient; recipes referencing it start skipping the row.
func (s *Service) ArchiveIngredient(ctx context.Context, businessID, id int64) (Ingredient, error) {
	return s.setIngredientActive(ctx, businessID, id, false)
}

// RestoreIngredient reactivates an archived ingredient.
func (s *Service) RestoreIngredient(ctx context.Context, businessID, id int64) (Ingredient, error) {
	return s.setIngredientActive(ctx, businessID, id, true)
}

func (s *Service) setIngredientActive(ctx context.Context, businessID, id int64, active bool) (Ingredient, error) {
	ing, err := s.repo.GetIngredient(ctx, businessID, id)
	if err != nil {
		return Ingredient{}, err
	}
	if ing.Active == active {
		return ing, nil
	}
	ing.Active = active
	ing.UpdatedAt = s.now().UTC()
	return s.repo.UpdateIngredient(ctx, ing)
}

// ListMenuItems returns menu items with live costing.
func (s *Service) ListMenuItems(ctx context.Context, businessID int64, includeArchived bool) ([]MenuItemCosting, error) {
	items, err := s.repo.ListMenuItems(ctx, businessID, includeArchived)
	if err != nil {
		return nil, err
	}
	lookup, err := s.lookup(ctx, businessID)
	if err != nil {
		return nil, err
	}
	out := make([]MenuItemCosting, 0, len(items))
	for _, item := range items {
		view, err := s.cost(ctx, item, lookup)
		if err != nil {
			return nil, err
		}
		out = append(out, view)
	}
	return out, nil
}

// CreateMenuItem inserts an active menu item with an empty recipe.
func (s *Service) CreateMenuItem(ctx context.Context, businessID int64, req CreateMenuItemRequest) (MenuItem, error) {
	if err := s.check(req); err != nil {
		return MenuItem{}, err
	}
	if err := req.Validate(); err != nil {
		return MenuItem{}, err
	}
	return s.repo.CreateMenuItem(ctx, MenuItem{
		BusinessID: businessID,
		Name:       strings.TrimSpace(req.Name),
		Category:   strings.TrimSpace(req.Category),
		Price:      req.Price,
		Active:     true,
		UpdatedAt:  s.now().UTC(),
	})
}

// UpdateMenuItem applies a partial update including the sell price.
func (s *Service) UpdateMenuItem(ctx context.Context, businessID, id int64, req UpdateMenuItemRequest) (MenuItem, error) {
	if err := s.check(req); err != nil {
		return MenuItem{}, err
	}
	if err := req.Validate(); err != nil {
		return MenuItem{}, err
	}
	item, err := s.repo.GetMenuItem(ctx, businessID, id)
	if err != nil {
		return MenuItem{}, err
	}
	if req.Name != nil {
		item.Name = strings.TrimSpace(*req.Name)
	}
	if req.Category != nil {
		item.Category = strings.TrimSpace(*req.Category)
	}
	if req.Price != nil {
		item.Price = *req.Price
	}
	item.UpdatedAt = s.now().UTC()
	return s.repo.UpdateMenuItem(ctx, item)
}

// ArchiveMenuItem soft-deletes a menu item; recorded sales keep referencing it.
func (s *Service) ArchiveMenuItem(ctx context.Context, businessID, id int64) (MenuItem, error) {
	return s.setMenuItemActive(ctx, businessID, id, false)
}

// RestoreMenuItem reactivates an archived menu item.
func (s *Service) RestoreMenuItem(ctx context.Context, businessID, id int64) (MenuItem, error) {
	return s.setMenuItemActive(ctx, businessID, id, true)
}

func (s *Service) setMenuItemActive(ctx context.Context, businessID, id int64, active bool) (MenuItem, error) {
	item, err := s.repo.GetMenuItem(ctx, businessID, id)
	if err != nil {
		return MenuItem{}, err
	}
	if item.Active == active {
		return item, nil
	}
	item.Active = active
	item.UpdatedAt = s.now().UTC()
	return s.repo.UpdateMenuItem(ctx, item)
}

// GetRecipe returns the ordered recipe rows for a menu item.
func (s *Service) GetRecipe(ctx context.Context, businessID, menuItemID int64) ([]RecipeLine, error) {
	if _, err := s.repo.GetMenuItem(ctx, businessID, menuItemID); err != nil {
		return nil, err
	}
	return s.repo.GetRecipe(ctx, businessID, menuItemID)
}

// ReplaceRecipe swaps the recipe. Every row must point at an existing ingredient of the business;
// archived ingredients are accepted and skipped at costing time.
func (s *Service) ReplaceRecipe(ctx context.Context, businessID, menuItemID int64, req ReplaceRecipeRequest) (MenuItemCosting, error) {
	if err := s.check(req); err != nil {
		return MenuItemCosting{}, err
	}
	if err := req.Validate(); err != nil {
		return MenuItemCosting{}, err
	}
	item, err := s.repo.GetMenuItem(ctx, businessID, menuItemID)
	if err != nil {
		return MenuItemCosting{}, err
	}
	all, err := s.repo.ListIngredients(ctx, businessID, true)
	if err != nil {
		return MenuItemCosting{}, err
	}
	known := make(map[int64]struct{}, len(all))
	for _, ing := range all {
		known[ing.ID] = struct{}{}
	}
	lines := make([]RecipeLine, 0, len(req.Lines))
	for i, line := range req.Lines {
		if _, ok := known[line.IngredientID]; !ok {
			return MenuItemCosting{}, shared.Invalid("lines", "row %d: unknown ingredient %d", i, line.IngredientID)
		}
		line.Unit = strings.TrimSpace(line.Unit)
		lines = append(lines, line)
	}
	if err := s.repo.ReplaceRecipe(ctx, businessID, menuItemID, lines); err != nil {
		return MenuItemCosting{}, fmt.Errorf("costing: replace recipe: %w", err)
	}
	return s.cost(ctx, item, ActiveLookup(all))
}

// CostMenuItem prices one menu item against current ingredient costs.
func (s *Service) CostMenuItem(ctx context.Context, businessID, menuItemID int64) (MenuItemCosting, error) {
	item, err := s.repo.GetMenuItem(ctx, businessID, menuItemID)
	if err != nil {
		return MenuItemCosting{}, err
	}
	lookup, err := s.lookup(ctx, businessID)
	if err != nil {
		return MenuItemCosting{}, err
	}
	return s.cost(ctx, item, lookup)
}

func (s *Service) cost(ctx context.Context, item MenuItem, lookup IngredientLookup) (MenuItemCosting, error) {
	recipe, err := s.repo.GetRecipe(ctx, item.BusinessID, item.ID)
	if err != nil {
		return MenuItemCosting{}, err
	}
	breakdown := s.engine.RecipeCost(recipe, lookup)
	if len(breakdown.Skipped) > 0 {
		s.logger.Warn("menu item costed with skipped rows",
			slog.Int64("business_id", item.BusinessID),
			slog.Int64("menu_item_id", item.ID),
			slog.Int("skipped", len(breakdown.Skipped)))
	}
	if recipe == nil {
		recipe = []RecipeLine{}
	}
	return MenuItemCosting{
		MenuItem: item,
		Recipe:   recipe,
		Costing:  breakdown,
		Pricing:  PriceMenuItem(item.Price, breakdown.Total),
	}, nil
}

func (s *Service) lookup(ctx context.Context, businessID int64) (IngredientLookup, error) {
	ingredients, err := s.repo.ListIngredients(ctx, businessID, false)
	if err != nil {
		return nil, err
	}
	return ActiveLookup(ingredients), nil
}

func (s *Service) check(req any) error {
	if err := s.validate.Struct(req); err != nil {
		return fmt.Errorf("%w: %w", shared.ErrValidation, err)
	}
	return nil
}
