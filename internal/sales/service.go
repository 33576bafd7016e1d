package sales

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/donasdosas/ledger/internal/costing"
	"github.com/donasdosas/ledger/internal/shared"
)

const idempotencyModule = "sales"

// LockGuard rejects writes against locked months.
type LockGuard interface {
	EnsureOpen(ctx context.Context, businessID int64, key shared.MonthKey, entity, op string) error
}

// Coster prices a menu item against current ingredient costs.
type Coster interface {
	CostMenuItem(ctx context.Context, businessID, menuItemID int64) (costing.MenuItemCosting, error)
}

// IdempotencyStore remembers processed create keys.
type IdempotencyStore interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key, module string) error
}

// ReportCache is the versioned JSON cache shared with the ledger reports.
type ReportCache interface {
	BuildKey(ctx context.Context, businessID int64, parts ...string) (string, error)
	FetchJSON(ctx context.Context, key string, dest any, loader func(context.Context) (any, error)) error
	Bump(ctx context.Context, businessID int64) error
}

// Options wires optional collaborators.
type Options struct {
	Idempotency IdempotencyStore
	Cache       ReportCache
	Audit       shared.AuditRecorder
	Logger      *slog.Logger
}

// Service records sales and builds margin reports.
type Service struct {
	repo        Repository
	coster      Coster
	locks       LockGuard
	idempotency IdempotencyStore
	cache       ReportCache
	audit       shared.AuditRecorder
	validate    *validator.Validate
	logger      *slog.Logger
	now         func() time.Time
}

// NewService constructs the sales service.
func NewService(repo Repository, coster Coster, locks LockGuard, opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Service{
		repo:        repo,
		coster:      coster,
		locks:       locks,
		idempotency: opts.Idempotency,
		cache:       opts.Cache,
		audit:       opts.Audit,
		validate:    validator.New(),
		logger:      logger,
		now:         time.Now,
	}
}

// WithNow overrides the clock.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// ListSales returns the sales of one month.
func (s *Service) ListSales(ctx context.Context, businessID int64, key shared.MonthKey) ([]Sale, error) {
	out, err := s.repo.ListSales(ctx, businessID, shared.MonthRange{From: key, To: key})
	if out == nil {
		out = []Sale{}
	}
	return out, err
}

// GetSale loads one sale.
func (s *Service) GetSale(ctx context.Context, businessID int64, id uuid.UUID) (Sale, error) {
	return s.repo.GetSale(ctx, businessID, id)
}

// CreateSale costs the menu item now and freezes the result on the sale. A non-empty
// idempotency key makes a repeated create fail with shared.ErrIdempotencyConflict.
func (s *Service) CreateSale(ctx context.Context, businessID int64, req CreateSaleRequest, idempotencyKey string) (Sale, error) {
	if err := s.check(req); err != nil {
		return Sale{}, err
	}
	date, err := req.Validate()
	if err != nil {
		return Sale{}, err
	}
	key := shared.MonthKeyOf(date)
	if err := s.locks.EnsureOpen(ctx, businessID, key, "sale", "create"); err != nil {
		return Sale{}, err
	}
	item, err := s.costMenuItem(ctx, businessID, req.MenuItemID)
	if err != nil {
		return Sale{}, err
	}

	idempotencyKey = strings.TrimSpace(idempotencyKey)
	if idempotencyKey != "" && s.idempotency != nil {
		if err := s.idempotency.CheckAndInsert(ctx, idempotencyKey, idempotencyModule); err != nil {
			return Sale{}, err
		}
	}

	price := item.Price
	if req.UnitPrice != nil {
		price = *req.UnitPrice
	}
	cogsUnit, cogsTotal := freezeCOGS(item.Costing.Total, req.Quantity)
	now := s.now().UTC()
	sale := Sale{
		ID:           uuid.New(),
		BusinessID:   businessID,
		Date:         date,
		MenuItemID:   item.ID,
		MenuItemName: item.Name,
		Quantity:     req.Quantity,
		UnitPrice:    price,
		COGSUnit:     cogsUnit,
		COGSTotal:    cogsTotal,
		Channel:      normalizeChannel(req.Channel),
		Notes:        req.Notes,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	saved, err := s.repo.SaveSale(ctx, sale)
	if err != nil {
		if idempotencyKey != "" && s.idempotency != nil {
			if derr := s.idempotency.Delete(ctx, idempotencyKey, idempotencyModule); derr != nil {
				s.logger.Error("idempotency rollback failed", slog.String("key", idempotencyKey), slog.Any("error", derr))
			}
		}
		return Sale{}, fmt.Errorf("sales: create: %w", err)
	}
	s.bump(ctx, businessID)
	return saved, nil
}

// UpdateSale patches a sale. The stored unit cost is kept unless the menu item changes, so a
// quantity edit rescales the original snapshot. Both the current and the target month must be open.
func (s *Service) UpdateSale(ctx context.Context, businessID int64, id uuid.UUID, req UpdateSaleRequest) (Sale, error) {
	if err := s.check(req); err != nil {
		return Sale{}, err
	}
	if err := req.Validate(); err != nil {
		return Sale{}, err
	}
	current, err := s.repo.GetSale(ctx, businessID, id)
	if err != nil {
		return Sale{}, err
	}
	if err := s.locks.EnsureOpen(ctx, businessID, current.Month(), "sale", "update"); err != nil {
		return Sale{}, err
	}

	next := current
	if req.Date != nil {
		date, err := parseDate(*req.Date)
		if err != nil {
			return Sale{}, err
		}
		next.Date = date
		if next.Month() != current.Month() {
			if err := s.locks.EnsureOpen(ctx, businessID, next.Month(), "sale", "update"); err != nil {
				return Sale{}, err
			}
		}
	}
	if req.MenuItemID != nil && *req.MenuItemID != current.MenuItemID {
		item, err := s.costMenuItem(ctx, businessID, *req.MenuItemID)
		if err != nil {
			return Sale{}, err
		}
		next.MenuItemID = item.ID
		next.MenuItemName = item.Name
		next.COGSUnit = item.Costing.Total
		if req.UnitPrice == nil {
			next.UnitPrice = item.Price
		}
	}
	if req.Quantity != nil {
		next.Quantity = *req.Quantity
	}
	if req.UnitPrice != nil {
		next.UnitPrice = *req.UnitPrice
	}
	if req.Channel != nil {
		next.Channel = normalizeChannel(*req.Channel)
	}
	if req.Notes != nil {
		next.Notes = *req.Notes
	}
	next.COGSUnit, next.COGSTotal = freezeCOGS(next.COGSUnit, next.Quantity)
	next.UpdatedAt = s.now().UTC()

	saved, err := s.repo.SaveSale(ctx, next)
	if err != nil {
		return Sale{}, fmt.Errorf("sales: update: %w", err)
	}
	s.bump(ctx, businessID)
	return saved, nil
}

// DeleteSale removes a sale from an open month.
func (s *Service) DeleteSale(ctx context.Context, businessID int64, id uuid.UUID) error {
	current, err := s.repo.GetSale(ctx, businessID, id)
	if err != nil {
		return err
	}
	if err := s.locks.EnsureOpen(ctx, businessID, current.Month(), "sale", "delete"); err != nil {
		return err
	}
	if err := s.repo.DeleteSale(ctx, businessID, id); err != nil {
		return err
	}
	s.record(ctx, businessID, "sale.delete", current)
	s.bump(ctx, businessID)
	return nil
}

// MarginReport aggregates stored sales over the month range.
func (s *Service) MarginReport(ctx context.Context, businessID int64, rng shared.MonthRange) (MarginReport, error) {
	if err := rng.Validate(); err != nil {
		return MarginReport{}, err
	}
	build := func(ctx context.Context) (any, error) {
		sales, err := s.repo.ListSales(ctx, businessID, rng)
		if err != nil {
			return nil, err
		}
		report := Aggregate(sales)
		report.From, report.To = rng.From, rng.To
		return report, nil
	}
	if s.cache == nil {
		v, err := build(ctx)
		if err != nil {
			return MarginReport{}, err
		}
		return v.(MarginReport), nil
	}
	key, err := s.cache.BuildKey(ctx, businessID, "margins", rng.From.String(), rng.To.String())
	if err != nil {
		return MarginReport{}, err
	}
	var out MarginReport
	if err := s.cache.FetchJSON(ctx, key, &out, build); err != nil {
		return MarginReport{}, err
	}
	return out, nil
}

// costMenuItem prices the item or reports it as a missing reference.
func (s *Service) costMenuItem(ctx context.Context, businessID, menuItemID int64) (costing.MenuItemCosting, error) {
	item, err := s.coster.CostMenuItem(ctx, businessID, menuItemID)
	if errors.Is(err, costing.ErrMenuItemNotFound) {
		return costing.MenuItemCosting{}, shared.MissingReferenceError{Kind: "menu_item", ID: menuItemID, Reason: "unknown menu item"}
	}
	if err != nil {
		return costing.MenuItemCosting{}, err
	}
	if !item.Active {
		return costing.MenuItemCosting{}, shared.MissingReferenceError{Kind: "menu_item", ID: menuItemID, Reason: "menu item archived"}
	}
	if len(item.Costing.Skipped) > 0 {
		s.logger.Warn("sale costed with skipped recipe rows",
			slog.Int64("business_id", businessID),
			slog.Int64("menu_item_id", menuItemID),
			slog.Int("skipped", len(item.Costing.Skipped)))
	}
	return item, nil
}

func (s *Service) bump(ctx context.Context, businessID int64) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Bump(ctx, businessID); err != nil {
		s.logger.Warn("report cache bump failed", slog.Int64("business_id", businessID), slog.Any("error", err))
	}
}

func (s *Service) record(ctx context.Context, businessID int64, action string, sale Sale) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		BusinessID: businessID,
		Action:     action,
		Entity:     "sale",
		EntityID:   sale.ID.String(),
		Meta: map[string]any{
			"month":      sale.Month().String(),
			"cogs_total": sale.COGSTotal.String(),
		},
		At: s.now().UTC(),
	}); err != nil {
		s.logger.Error("audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}

func (s *Service) check(req any) error {
	if err := s.validate.Struct(req); err != nil {
		return fmt.Errorf("%w: %w", shared.ErrValidation, err)
	}
	return nil
}
