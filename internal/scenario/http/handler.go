package scenariohttp

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/donasdosas/ledger/internal/platform/httpx"
	"github.com/donasdosas/ledger/internal/scenario"
	"github.com/donasdosas/ledger/internal/shared"
)

type scenarioService interface {
	Forward(ctx context.Context, businessID int64, req scenario.Request) (scenario.Projection, error)
	WhatIf(ctx context.Context, businessID int64, key shared.MonthKey, req scenario.Request) (scenario.WhatIf, error)
	Commit(ctx context.Context, businessID int64, key shared.MonthKey, req scenario.CommitRequest) (scenario.CommitResult, error)
}

// Handler exposes scenario projections.
type Handler struct {
	logger  *slog.Logger
	service scenarioService
}

// NewHandler constructs a scenario HTTP handler.
func NewHandler(logger *slog.Logger, service scenarioService) *Handler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers scenario endpoints.
func (h *Handler) MountRoutes(r chi.Router) {
	if h == nil {
		return
	}
	r.Route("/scenarios", func(r chi.Router) {
		r.Get("/presets", h.presets)
		r.Post("/forward", h.forward)
		r.Post("/what-if/{month}", h.whatIf)
		r.Post("/commit/{month}", h.commit)
	})
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	if !shared.IsClientError(err) {
		h.logger.Error(op, slog.Any("error", err), slog.Int64("business_id", shared.BusinessFromContext(r.Context())))
	}
	httpx.RespondError(w, err)
}

func (h *Handler) presets(w http.ResponseWriter, _ *http.Request) {
	httpx.JSON(w, http.StatusOK, map[string]any{"presets": scenario.Presets()})
}

func (h *Handler) forward(w http.ResponseWriter, r *http.Request) {
	biz, err := httpx.BusinessID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req scenario.Request
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	out, err := h.service.Forward(r.Context(), biz, req)
	if err != nil {
		h.fail(w, r, "scenario forward", err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) whatIf(w http.ResponseWriter, r *http.Request) {
	biz, key, ok := monthRequest(w, r)
	if !ok {
		return
	}
	var req scenario.Request
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	out, err := h.service.WhatIf(r.Context(), biz, key, req)
	if err != nil {
		h.fail(w, r, "scenario what-if", err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) commit(w http.ResponseWriter, r *http.Request) {
	biz, key, ok := monthRequest(w, r)
	if !ok {
		return
	}
	var req scenario.CommitRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	out, err := h.service.Commit(r.Context(), biz, key, req)
	if err != nil {
		h.fail(w, r, "scenario commit", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, out)
}

func monthRequest(w http.ResponseWriter, r *http.Request) (int64, shared.MonthKey, bool) {
	biz, err := httpx.BusinessID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return 0, shared.MonthKey{}, false
	}
	key, err := httpx.MonthParam(r, "month")
	if err != nil {
		httpx.RespondError(w, err)
		return 0, shared.MonthKey{}, false
	}
	return biz, key, true
}
