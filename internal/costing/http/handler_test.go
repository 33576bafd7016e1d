package costinghttp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/donasdosas/ledger/internal/costing"
	"github.com/donasdosas/ledger/internal/shared"
)

type stubCostingService struct {
	costingService
	listIngredientsFn  func(ctx context.Context, businessID int64, includeArchived bool) ([]costing.Ingredient, error)
	createIngredientFn func(ctx context.Context, businessID int64, req costing.CreateIngredientRequest) (costing.Ingredient, error)
	archiveMenuItemFn  func(ctx context.Context, businessID, id int64) (costing.MenuItem, error)
	replaceRecipeFn    func(ctx context.Context, businessID, menuItemID int64, req costing.ReplaceRecipeRequest) (costing.MenuItemCosting, error)
	costMenuItemFn     func(ctx context.Context, businessID, menuItemID int64) (costing.MenuItemCosting, error)
}

func (s *stubCostingService) ListIngredients(ctx context.Context, businessID int64, includeArchived bool) ([]costing.Ingredient, error) {
	return s.listIngredientsFn(ctx, businessID, includeArchived)
}

func (s *stubCostingService) CreateIngredient(ctx context.Context, businessID int64, req costing.CreateIngredientRequest) (costing.Ingredient, error) {
	return s.createIngredientFn(ctx, businessID, req)
}

func (s *stubCostingService) ArchiveMenuItem(ctx context.Context, businessID, id int64) (costing.MenuItem, error) {
	return s.archiveMenuItemFn(ctx, businessID, id)
}

func (s *stubCostingService) ReplaceRecipe(ctx context.Context, businessID, menuItemID int64, req costing.ReplaceRecipeRequest) (costing.MenuItemCosting, error) {
	return s.replaceRecipeFn(ctx, businessID, menuItemID, req)
}

func (s *stubCostingService) CostMenuItem(ctx context.Context, businessID, menuItemID int64) (costing.MenuItemCosting, error) {
	return s.costMenuItemFn(ctx, businessID, menuItemID)
}

func serve(t *testing.T, svc costingService, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	r := chi.NewRouter()
	NewHandler(nil, svc).MountRoutes(r)
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	req = req.WithContext(shared.ContextWithBusiness(req.Context(), 4))
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	return rr
}

func TestListIngredientsPassesArchivedFlag(t *testing.T) {
	var gotArchived bool
	svc := &stubCostingService{
		listIngredientsFn: func(ctx context.Context, businessID int64, includeArchived bool) ([]costing.Ingredient, error) {
			if businessID != 4 {
				t.Fatalf("expected business 4, got %d", businessID)
			}
			gotArchived = includeArchived
			return nil, nil
		},
	}
	rr := serve(t, svc, http.MethodGet, "/ingredients?include_archived=true", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if !gotArchived {
		t.Fatalf("expected include_archived to be forwarded")
	}
	if !strings.Contains(rr.Body.String(), `"ingredients":[]`) {
		t.Fatalf("expected empty list, got %s", rr.Body.String())
	}

	rr = serve(t, svc, http.MethodGet, "/ingredients?include_archived=maybe", "")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad flag, got %d", rr.Code)
	}
}

func TestCreateIngredientDecodesDecimals(t *testing.T) {
	svc := &stubCostingService{
		createIngredientFn: func(ctx context.Context, businessID int64, req costing.CreateIngredientRequest) (costing.Ingredient, error) {
			if !req.PackPrice.Equal(decimal.NewFromInt(12000)) {
				t.Fatalf("unexpected pack price %s", req.PackPrice)
			}
			return costing.Ingredient{ID: 1, Name: req.Name, PackSize: req.PackSize, PackPrice: req.PackPrice, Active: true}, nil
		},
	}
	rr := serve(t, svc, http.MethodPost, "/ingredients", `{"name":"Flour","unit":"g","pack_size":"1000","pack_price":"12000"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}

	rr = serve(t, svc, http.MethodPost, "/ingredients", `{"name":"Flour","colour":"white"}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected unknown field to be rejected, got %d", rr.Code)
	}
}

func TestArchiveMenuItemNotFound(t *testing.T) {
	svc := &stubCostingService{
		archiveMenuItemFn: func(ctx context.Context, businessID, id int64) (costing.MenuItem, error) {
			return costing.MenuItem{}, shared.ErrNotFound
		},
	}
	rr := serve(t, svc, http.MethodPost, "/menu-items/99/archive", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}

	rr = serve(t, svc, http.MethodPost, "/menu-items/zero/archive", "")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad id, got %d", rr.Code)
	}
}

func TestReplaceRecipeReturnsCosting(t *testing.T) {
	svc := &stubCostingService{
		replaceRecipeFn: func(ctx context.Context, businessID, menuItemID int64, req costing.ReplaceRecipeRequest) (costing.MenuItemCosting, error) {
			if menuItemID != 3 || len(req.Lines) != 1 {
				t.Fatalf("unexpected call: item %d lines %d", menuItemID, len(req.Lines))
			}
			cost := decimal.NewFromInt(2400)
			price := decimal.NewFromInt(20000)
			return costing.MenuItemCosting{
				MenuItem: costing.MenuItem{ID: menuItemID, Name: "Dosa", Price: price},
				Recipe:   req.Lines,
				Costing:  costing.Breakdown{Total: cost},
				Pricing:  costing.PriceMenuItem(price, cost),
			}, nil
		},
	}
	rr := serve(t, svc, http.MethodPut, "/menu-items/3/recipe", `{"lines":[{"ingredient_id":1,"quantity":"200","unit":"g"}]}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var body struct {
		Pricing struct {
			MarginPct *float64 `json:"margin_pct"`
		} `json:"pricing"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Pricing.MarginPct == nil || *body.Pricing.MarginPct != 88 {
		t.Fatalf("expected margin 88, got %v", body.Pricing.MarginPct)
	}
}

func TestCostingUndefinedMarginIsNull(t *testing.T) {
	svc := &stubCostingService{
		costMenuItemFn: func(ctx context.Context, businessID, menuItemID int64) (costing.MenuItemCosting, error) {
			return costing.MenuItemCosting{Pricing: costing.PriceMenuItem(decimal.Zero, decimal.NewFromInt(500))}, nil
		},
	}
	rr := serve(t, svc, http.MethodGet, "/menu-items/5/costing", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"margin_pct":null`) {
		t.Fatalf("expected null margin, got %s", rr.Body.String())
	}
}
