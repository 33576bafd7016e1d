package saleshttp

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/google/uuid"

	"github.com/donasdosas/ledger/internal/platform/httpx"
	"github.com/donasdosas/ledger/internal/sales"
	"github.com/donasdosas/ledger/internal/shared"
)

// IdempotencyHeader carries the client key that makes sale creation safe to retry.
const IdempotencyHeader = "Idempotency-Key"

type salesService interface {
	ListSales(ctx context.Context, businessID int64, key shared.MonthKey) ([]sales.Sale, error)
	GetSale(ctx context.Context, businessID int64, id uuid.UUID) (sales.Sale, error)
	CreateSale(ctx context.Context, businessID int64, req sales.CreateSaleRequest, idempotencyKey string) (sales.Sale, error)
	UpdateSale(ctx context.Context, businessID int64, id uuid.UUID, req sales.UpdateSaleRequest) (sales.Sale, error)
	DeleteSale(ctx context.Context, businessID int64, id uuid.UUID) error
	MarginReport(ctx context.Context, businessID int64, rng shared.MonthRange) (sales.MarginReport, error)
}

// Handler exposes sale entry and the margin report.
type Handler struct {
	logger  *slog.Logger
	service salesService
	now     func() time.Time
}

// NewHandler constructs a sales HTTP handler.
func NewHandler(logger *slog.Logger, service salesService) *Handler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Handler{logger: logger, service: service, now: time.Now}
}

// WithNow overrides the clock used to default the listed month.
func (h *Handler) WithNow(now func() time.Time) {
	if now != nil {
		h.now = now
	}
}

// MountRoutes registers sales endpoints. The margin report is rate limited per business.
func (h *Handler) MountRoutes(r chi.Router) {
	if h == nil {
		return
	}
	r.Route("/sales", func(r chi.Router) {
		r.Get("/", h.listSales)
		r.Post("/", h.createSale)
		r.Get("/{id}", h.getSale)
		r.Put("/{id}", h.updateSale)
		r.Delete("/{id}", h.deleteSale)
	})
	limiter := httprate.Limit(30, time.Minute,
		httprate.WithKeyFuncs(rateLimitKey),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			httpx.Problem(w, http.StatusTooManyRequests, "Too Many Requests", "report rate limit exceeded")
		}),
	)
	r.With(limiter).Get("/reports/margins", h.marginReport)
}

func rateLimitKey(r *http.Request) (string, error) {
	if biz := shared.BusinessFromContext(r.Context()); biz > 0 {
		return "biz:" + strconv.FormatInt(biz, 10), nil
	}
	key, err := httprate.KeyByIP(r)
	if err != nil {
		return "", err
	}
	return "ip:" + key, nil
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	if !shared.IsClientError(err) {
		h.logger.Error(op, slog.Any("error", err), slog.Int64("business_id", shared.BusinessFromContext(r.Context())))
	}
	httpx.RespondError(w, err)
}

func (h *Handler) listSales(w http.ResponseWriter, r *http.Request) {
	biz, err := httpx.BusinessID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	key := shared.MonthKeyOf(h.now().UTC())
	if raw := strings.TrimSpace(r.URL.Query().Get("month")); raw != "" {
		if key, err = shared.ParseMonthKey(raw); err != nil {
			httpx.RespondError(w, err)
			return
		}
	}
	list, err := h.service.ListSales(r.Context(), biz, key)
	if err != nil {
		h.fail(w, r, "list sales", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"month": key, "sales": list})
}

func (h *Handler) getSale(w http.ResponseWriter, r *http.Request) {
	biz, id, ok := target(w, r)
	if !ok {
		return
	}
	sale, err := h.service.GetSale(r.Context(), biz, id)
	if err != nil {
		h.fail(w, r, "get sale", err)
		return
	}
	httpx.JSON(w, http.StatusOK, sale)
}

func (h *Handler) createSale(w http.ResponseWriter, r *http.Request) {
	biz, err := httpx.BusinessID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req sales.CreateSaleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	sale, err := h.service.CreateSale(r.Context(), biz, req, r.Header.Get(IdempotencyHeader))
	if err != nil {
		h.fail(w, r, "create sale", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, sale)
}

func (h *Handler) updateSale(w http.ResponseWriter, r *http.Request) {
	biz, id, ok := target(w, r)
	if !ok {
		return
	}
	var req sales.UpdateSaleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	sale, err := h.service.UpdateSale(r.Context(), biz, id, req)
	if err != nil {
		h.fail(w, r, "update sale", err)
		return
	}
	httpx.JSON(w, http.StatusOK, sale)
}

func (h *Handler) deleteSale(w http.ResponseWriter, r *http.Request) {
	biz, id, ok := target(w, r)
	if !ok {
		return
	}
	if err := h.service.DeleteSale(r.Context(), biz, id); err != nil {
		h.fail(w, r, "delete sale", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) marginReport(w http.ResponseWriter, r *http.Request) {
	biz, err := httpx.BusinessID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	rng, err := httpx.QueryRange(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	report, err := h.service.MarginReport(r.Context(), biz, rng)
	if err != nil {
		h.fail(w, r, "margin report", err)
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}

func target(w http.ResponseWriter, r *http.Request) (int64, uuid.UUID, bool) {
	biz, err := httpx.BusinessID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return 0, uuid.Nil, false
	}
	id, err := httpx.UUIDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return 0, uuid.Nil, false
	}
	return biz, id, true
}
