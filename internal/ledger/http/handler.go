package ledgerhttp

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/donasdosas/ledger/internal/ledger"
	"github.com/donasdosas/ledger/internal/platform/httpx"
	"github.com/donasdosas/ledger/internal/shared"
)

const defaultSummaryMonths = 12

type ledgerService interface {
	GetSettings(ctx context.Context, businessID int64) (ledger.Settings, error)
	UpdateSettings(ctx context.Context, businessID int64, req ledger.UpdateSettingsRequest) (ledger.Settings, error)
	GetMonth(ctx context.Context, businessID int64, key shared.MonthKey) (ledger.MonthRecord, error)
	ListMonths(ctx context.Context, businessID int64, rng shared.MonthRange) ([]ledger.MonthRecord, error)
	PutMonth(ctx context.Context, businessID int64, key shared.MonthKey, req ledger.PutMonthRequest, override bool) (ledger.MonthRecord, error)
	BulkUpsertMonths(ctx context.Context, businessID int64, rows []ledger.BulkMonthInput, override bool) (ledger.BatchResult, error)
	LockMonth(ctx context.Context, businessID int64, key shared.MonthKey, asOf time.Time) (ledger.MonthRecord, error)
	UnlockMonth(ctx context.Context, businessID int64, key shared.MonthKey) (ledger.MonthRecord, error)
	LockThrough(ctx context.Context, businessID int64, through shared.MonthKey, asOf time.Time) ([]shared.MonthKey, error)
	LockPrior(ctx context.Context, businessID int64, asOf time.Time) ([]shared.MonthKey, error)
	Recompute(ctx context.Context, businessID int64) (ledger.RecomputeResult, error)
	Gaps(ctx context.Context, businessID int64) ([]shared.SequenceGapWarning, error)
	Reconciliation(ctx context.Context, businessID int64, rng shared.MonthRange) (ledger.Reconciliation, error)
	ListAdjustments(ctx context.Context, businessID int64, rng shared.MonthRange) ([]ledger.Adjustment, error)
	CreateAdjustment(ctx context.Context, businessID int64, req ledger.AdjustmentRequest) (ledger.Adjustment, error)
	UpdateAdjustment(ctx context.Context, businessID int64, id uuid.UUID, req ledger.AdjustmentRequest) (ledger.Adjustment, error)
	DeleteAdjustment(ctx context.Context, businessID int64, id uuid.UUID) error
	InvestorSummary(ctx context.Context, businessID int64, months int, asOf shared.MonthKey) (ledger.InvestorSummary, error)
}

// Handler exposes settings, months, locks, adjustments and the investor summary.
type Handler struct {
	logger  *slog.Logger
	service ledgerService
}

// NewHandler constructs a ledger HTTP handler.
func NewHandler(logger *slog.Logger, service ledgerService) *Handler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers ledger endpoints.
func (h *Handler) MountRoutes(r chi.Router) {
	if h == nil {
		return
	}
	r.Get("/settings", h.getSettings)
	r.Put("/settings", h.putSettings)

	r.Post("/months:bulk", h.bulkMonths)
	r.Route("/months", func(r chi.Router) {
		r.Get("/", h.listMonths)
		r.Post("/recompute", h.recompute)
		r.Post("/lock-through", h.lockThrough)
		r.Post("/lock-prior", h.lockPrior)
		r.Get("/reconciliation", h.reconciliation)
		r.Get("/gaps", h.gaps)
		r.Get("/{month}", h.getMonth)
		r.Put("/{month}", h.putMonth)
		r.Post("/{month}/lock", h.lockMonth)
		r.Post("/{month}/unlock", h.unlockMonth)
	})

	r.Route("/adjustments", func(r chi.Router) {
		r.Get("/", h.listAdjustments)
		r.Post("/", h.createAdjustment)
		r.Put("/{id}", h.updateAdjustment)
		r.Delete("/{id}", h.deleteAdjustment)
	})

	r.Get("/reports/investor-summary", h.investorSummary)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	if !shared.IsClientError(err) {
		h.logger.Error(op, slog.Any("error", err), slog.Int64("business_id", shared.BusinessFromContext(r.Context())))
	}
	httpx.RespondError(w, err)
}

func (h *Handler) getSettings(w http.ResponseWriter, r *http.Request) {
	biz, err := httpx.BusinessID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	settings, err := h.service.GetSettings(r.Context(), biz)
	if err != nil {
		h.fail(w, r, "get settings", err)
		return
	}
	httpx.JSON(w, http.StatusOK, settings)
}

func (h *Handler) putSettings(w http.ResponseWriter, r *http.Request) {
	biz, err := httpx.BusinessID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req ledger.UpdateSettingsRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	settings, err := h.service.UpdateSettings(r.Context(), biz, req)
	if err != nil {
		h.fail(w, r, "update settings", err)
		return
	}
	httpx.JSON(w, http.StatusOK, settings)
}

func (h *Handler) listMonths(w http.ResponseWriter, r *http.Request) {
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
	months, err := h.service.ListMonths(r.Context(), biz, rng)
	if err != nil {
		h.fail(w, r, "list months", err)
		return
	}
	if months == nil {
		months = []ledger.MonthRecord{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"months": months})
}

func (h *Handler) getMonth(w http.ResponseWriter, r *http.Request) {
	biz, key, ok := h.monthRequest(w, r)
	if !ok {
		return
	}
	rec, err := h.service.GetMonth(r.Context(), biz, key)
	if err != nil {
		h.fail(w, r, "get month", err)
		return
	}
	httpx.JSON(w, http.StatusOK, rec)
}

func (h *Handler) putMonth(w http.ResponseWriter, r *http.Request) {
	biz, key, ok := h.monthRequest(w, r)
	if !ok {
		return
	}
	override, err := httpx.QueryBool(r, "override")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req ledger.PutMonthRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	rec, err := h.service.PutMonth(r.Context(), biz, key, req, override)
	if err != nil {
		h.fail(w, r, "put month", err)
		return
	}
	httpx.JSON(w, http.StatusOK, rec)
}

type bulkRequest struct {
	Override bool                    `json:"override"`
	Months   []ledger.BulkMonthInput `json:"months"`
}

// bulkMonths answers 207 when the batch stopped early; committed rows are listed as ok.
func (h *Handler) bulkMonths(w http.ResponseWriter, r *http.Request) {
	biz, err := httpx.BusinessID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req bulkRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if len(req.Months) == 0 {
		httpx.RespondError(w, shared.Invalid("months", "at least one month required"))
		return
	}
	result, err := h.service.BulkUpsertMonths(r.Context(), biz, req.Months, req.Override)
	if err != nil {
		h.fail(w, r, "bulk upsert months", err)
		return
	}
	status := http.StatusOK
	if result.FailedAt != nil {
		status = http.StatusMultiStatus
	}
	httpx.JSON(w, status, result)
}

type lockRequest struct {
	Through string `json:"through,omitempty"`
	AsOf    string `json:"as_of,omitempty"`
}

func decodeLock(r *http.Request) (lockRequest, time.Time, error) {
	var req lockRequest
	if r.ContentLength != 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			return req, time.Time{}, err
		}
	}
	asOf, err := httpx.ParseDate("as_of", req.AsOf)
	return req, asOf, err
}

func (h *Handler) lockMonth(w http.ResponseWriter, r *http.Request) {
	biz, key, ok := h.monthRequest(w, r)
	if !ok {
		return
	}
	_, asOf, err := decodeLock(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	rec, err := h.service.LockMonth(r.Context(), biz, key, asOf)
	if err != nil {
		h.fail(w, r, "lock month", err)
		return
	}
	httpx.JSON(w, http.StatusOK, rec)
}

func (h *Handler) unlockMonth(w http.ResponseWriter, r *http.Request) {
	biz, key, ok := h.monthRequest(w, r)
	if !ok {
		return
	}
	rec, err := h.service.UnlockMonth(r.Context(), biz, key)
	if err != nil {
		h.fail(w, r, "unlock month", err)
		return
	}
	httpx.JSON(w, http.StatusOK, rec)
}

func (h *Handler) lockThrough(w http.ResponseWriter, r *http.Request) {
	biz, err := httpx.BusinessID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	req, asOf, err := decodeLock(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	through, err := shared.ParseMonthKey(req.Through)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	locked, err := h.service.LockThrough(r.Context(), biz, through, asOf)
	if err != nil {
		h.fail(w, r, "lock through", err)
		return
	}
	httpx.JSON(w, http.StatusOK, lockedResponse(locked))
}

func (h *Handler) lockPrior(w http.ResponseWriter, r *http.Request) {
	biz, err := httpx.BusinessID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	_, asOf, err := decodeLock(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	locked, err := h.service.LockPrior(r.Context(), biz, asOf)
	if err != nil {
		h.fail(w, r, "lock prior", err)
		return
	}
	httpx.JSON(w, http.StatusOK, lockedResponse(locked))
}

func lockedResponse(locked []shared.MonthKey) map[string]any {
	if locked == nil {
		locked = []shared.MonthKey{}
	}
	return map[string]any{"locked": locked}
}

func (h *Handler) recompute(w http.ResponseWriter, r *http.Request) {
	biz, err := httpx.BusinessID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	result, err := h.service.Recompute(r.Context(), biz)
	if err != nil {
		h.fail(w, r, "recompute", err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) reconciliation(w http.ResponseWriter, r *http.Request) {
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
	rec, err := h.service.Reconciliation(r.Context(), biz, rng)
	if err != nil {
		h.fail(w, r, "reconciliation", err)
		return
	}
	httpx.JSON(w, http.StatusOK, rec)
}

func (h *Handler) gaps(w http.ResponseWriter, r *http.Request) {
	biz, err := httpx.BusinessID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	gaps, err := h.service.Gaps(r.Context(), biz)
	if err != nil {
		h.fail(w, r, "gaps", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"gaps": gaps})
}

func (h *Handler) listAdjustments(w http.ResponseWriter, r *http.Request) {
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
	items, err := h.service.ListAdjustments(r.Context(), biz, rng)
	if err != nil {
		h.fail(w, r, "list adjustments", err)
		return
	}
	if items == nil {
		items = []ledger.Adjustment{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"adjustments": items})
}

func (h *Handler) createAdjustment(w http.ResponseWriter, r *http.Request) {
	biz, err := httpx.BusinessID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req ledger.AdjustmentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	adj, err := h.service.CreateAdjustment(r.Context(), biz, req)
	if err != nil {
		h.fail(w, r, "create adjustment", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, adj)
}

func (h *Handler) updateAdjustment(w http.ResponseWriter, r *http.Request) {
	biz, err := httpx.BusinessID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	id, err := httpx.UUIDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req ledger.AdjustmentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	adj, err := h.service.UpdateAdjustment(r.Context(), biz, id, req)
	if err != nil {
		h.fail(w, r, "update adjustment", err)
		return
	}
	httpx.JSON(w, http.StatusOK, adj)
}

func (h *Handler) deleteAdjustment(w http.ResponseWriter, r *http.Request) {
	biz, err := httpx.BusinessID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	id, err := httpx.UUIDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.DeleteAdjustment(r.Context(), biz, id); err != nil {
		h.fail(w, r, "delete adjustment", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) investorSummary(w http.ResponseWriter, r *http.Request) {
	biz, err := httpx.BusinessID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	q := r.URL.Query()
	months := defaultSummaryMonths
	if raw := strings.TrimSpace(q.Get("months")); raw != "" {
		months, err = strconv.Atoi(raw)
		if err != nil {
			httpx.RespondError(w, shared.Invalid("months", "must be an integer"))
			return
		}
	}
	var asOf shared.MonthKey
	if raw := strings.TrimSpace(q.Get("as_of")); raw != "" {
		if asOf, err = shared.ParseMonthKey(raw); err != nil {
			httpx.RespondError(w, err)
			return
		}
	}
	summary, err := h.service.InvestorSummary(r.Context(), biz, months, asOf)
	if err != nil {
		h.fail(w, r, "investor summary", err)
		return
	}
	httpx.JSON(w, http.StatusOK, summary)
}

func (h *Handler) monthRequest(w http.ResponseWriter, r *http.Request) (int64, shared.MonthKey, bool) {
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
