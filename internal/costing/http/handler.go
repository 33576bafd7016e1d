package costinghttp

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/donasdosas/ledger/internal/costing"
	"github.com/donasdosas/ledger/internal/platform/httpx"
	"github.com/donasdosas/ledger/internal/shared"
)

type costingService interface {
	ListIngredients(ctx context.Context, businessID int64, includeArchived bool) ([]costing.Ingredient, error)
	CreateIngredient(ctx context.Context, businessID int64, req costing.CreateIngredientRequest) (costing.Ingredient, error)
	UpdateIngredient(ctx context.Context, businessID, id int64, req costing.UpdateIngredientRequest) (costing.Ingredient, error)
	ArchiveIngredient(ctx context.Context, businessID, id int64) (costing.Ingredient, error)
	RestoreIngredient(ctx context.Context, businessID, id int64) (costing.Ingredient, error)
	ListMenuItems(ctx context.Context, businessID int64, includeArchived bool) ([]costing.MenuItemCosting, error)
	CreateMenuItem(ctx context.Context, businessID int64, req costing.CreateMenuItemRequest) (costing.MenuItem, error)
	UpdateMenuItem(ctx context.Context, businessID, id int64, req costing.UpdateMenuItemRequest) (costing.MenuItem, error)
	ArchiveMenuItem(ctx context.Context, businessID, id int64) (costing.MenuItem, error)
	RestoreMenuItem(ctx context.Context, businessID, id int64) (costing.MenuItem, error)
	GetRecipe(ctx context.Context, businessID, menuItemID int64) ([]costing.RecipeLine, error)
	ReplaceRecipe(ctx context.Context, businessID, menuItemID int64, req costing.ReplaceRecipeRequest) (costing.MenuItemCosting, error)
	CostMenuItem(ctx context.Context, businessID, menuItemID int64) (costing.MenuItemCosting, error)
}

// Handler exposes ingredients, menu items, recipes and live costing.
type Handler struct {
	logger  *slog.Logger
	service costingService
}

// NewHandler constructs a costing HTTP handler.
func NewHandler(logger *slog.Logger, service costingService) *Handler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers costing endpoints.
func (h *Handler) MountRoutes(r chi.Router) {
	if h == nil {
		return
	}
	r.Route("/ingredients", func(r chi.Router) {
		r.Get("/", h.listIngredients)
		r.Post("/", h.createIngredient)
		r.Put("/{id}", h.updateIngredient)
		r.Post("/{id}/archive", h.archiveIngredient)
		r.Post("/{id}/restore", h.restoreIngredient)
	})
	r.Route("/menu-items", func(r chi.Router) {
		r.Get("/", h.listMenuItems)
		r.Post("/", h.createMenuItem)
		r.Put("/{id}", h.updateMenuItem)
		r.Post("/{id}/archive", h.archiveMenuItem)
		r.Post("/{id}/restore", h.restoreMenuItem)
		r.Get("/{id}/recipe", h.getRecipe)
		r.Put("/{id}/recipe", h.replaceRecipe)
		r.Get("/{id}/costing", h.costMenuItem)
	})
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	if !shared.IsClientError(err) {
		h.logger.Error(op, slog.Any("error", err), slog.Int64("business_id", shared.BusinessFromContext(r.Context())))
	}
	httpx.RespondError(w, err)
}

// target resolves the business and, when withID is set, the {id} route parameter.
func target(w http.ResponseWriter, r *http.Request, withID bool) (int64, int64, bool) {
	biz, err := httpx.BusinessID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return 0, 0, false
	}
	if !withID {
		return biz, 0, true
	}
	id, err := httpx.IntParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return 0, 0, false
	}
	return biz, id, true
}

func (h *Handler) listIngredients(w http.ResponseWriter, r *http.Request) {
	biz, _, ok := target(w, r, false)
	if !ok {
		return
	}
	archived, err := httpx.QueryBool(r, "include_archived")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	items, err := h.service.ListIngredients(r.Context(), biz, archived)
	if err != nil {
		h.fail(w, r, "list ingredients", err)
		return
	}
	if items == nil {
		items = []costing.Ingredient{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"ingredients": items})
}

func (h *Handler) createIngredient(w http.ResponseWriter, r *http.Request) {
	biz, _, ok := target(w, r, false)
	if !ok {
		return
	}
	var req costing.CreateIngredientRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	ing, err := h.service.CreateIngredient(r.Context(), biz, req)
	if err != nil {
		h.fail(w, r, "create ingredient", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, ing)
}

func (h *Handler) updateIngredient(w http.ResponseWriter, r *http.Request) {
	biz, id, ok := target(w, r, true)
	if !ok {
		return
	}
	var req costing.UpdateIngredientRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	ing, err := h.service.UpdateIngredient(r.Context(), biz, id, req)
	if err != nil {
		h.fail(w, r, "update ingredient", err)
		return
	}
	httpx.JSON(w, http.StatusOK, ing)
}

func (h *Handler) archiveIngredient(w http.ResponseWriter, r *http.Request) {
	h.toggleIngredient(w, r, h.service.ArchiveIngredient, "archive ingredient")
}

func (h *Handler) restoreIngredient(w http.ResponseWriter, r *http.Request) {
	h.toggleIngredient(w, r, h.service.RestoreIngredient, "restore ingredient")
}

func (h *Handler) toggleIngredient(w http.ResponseWriter, r *http.Request, fn func(context.Context, int64, int64) (costing.Ingredient, error), op string) {
	biz, id, ok := target(w, r, true)
	if !ok {
		return
	}
	ing, err := fn(r.Context(), biz, id)
	if err != nil {
		h.fail(w, r, op, err)
		return
	}
	httpx.JSON(w, http.StatusOK, ing)
}

func (h *Handler) listMenuItems(w http.ResponseWriter, r *http.Request) {
	biz, _, ok := target(w, r, false)
	if !ok {
		return
	}
	archived, err := httpx.QueryBool(r, "include_archived")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	items, err := h.service.ListMenuItems(r.Context(), biz, archived)
	if err != nil {
		h.fail(w, r, "list menu items", err)
		return
	}
	if items == nil {
		items = []costing.MenuItemCosting{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"menu_items": items})
}

func (h *Handler) createMenuItem(w http.ResponseWriter, r *http.Request) {
	biz, _, ok := target(w, r, false)
	if !ok {
		return
	}
	var req costing.CreateMenuItemRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	item, err := h.service.CreateMenuItem(r.Context(), biz, req)
	if err != nil {
		h.fail(w, r, "create menu item", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, item)
}

func (h *Handler) updateMenuItem(w http.ResponseWriter, r *http.Request) {
	biz, id, ok := target(w, r, true)
	if !ok {
		return
	}
	var req costing.UpdateMenuItemRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	item, err := h.service.UpdateMenuItem(r.Context(), biz, id, req)
	if err != nil {
		h.fail(w, r, "update menu item", err)
		return
	}
	httpx.JSON(w, http.StatusOK, item)
}

func (h *Handler) archiveMenuItem(w http.ResponseWriter, r *http.Request) {
	h.toggleMenuItem(w, r, h.service.ArchiveMenuItem, "archive menu item")
}

func (h *Handler) restoreMenuItem(w http.ResponseWriter, r *http.Request) {
	h.toggleMenuItem(w, r, h.service.RestoreMenuItem, "restore menu item")
}

func (h *Handler) toggleMenuItem(w http.ResponseWriter, r *http.Request, fn func(context.Context, int64, int64) (costing.MenuItem, error), op string) {
	biz, id, ok := target(w, r, true)
	if !ok {
		return
	}
	item, err := fn(r.Context(), biz, id)
	if err != nil {
		h.fail(w, r, op, err)
		return
	}
	httpx.JSON(w, http.StatusOK, item)
}

func (h *Handler) getRecipe(w http.ResponseWriter, r *http.Request) {
	biz, id, ok := target(w, r, true)
	if !ok {
		return
	}
	lines, err := h.service.GetRecipe(r.Context(), biz, id)
	if err != nil {
		h.fail(w, r, "get recipe", err)
		return
	}
	if lines == nil {
		lines = []costing.RecipeLine{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"menu_item_id": id, "lines": lines})
}

func (h *Handler) replaceRecipe(w http.ResponseWriter, r *http.Request) {
	biz, id, ok := target(w, r, true)
	if !ok {
		return
	}
	var req costing.ReplaceRecipeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	out, err := h.service.ReplaceRecipe(r.Context(), biz, id, req)
	if err != nil {
		h.fail(w, r, "replace recipe", err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) costMenuItem(w http.ResponseWriter, r *http.Request) {
	biz, id, ok := target(w, r, true)
	if !ok {
		return
	}
	out, err := h.service.CostMenuItem(r.Context(), biz, id)
	if err != nil {
		h.fail(w, r, "cost menu item", err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}
