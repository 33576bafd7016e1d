package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/donasdosas/ledger/internal/shared"
)

// ReportCache is the versioned JSON cache used for read-only rollups.
type ReportCache interface {
	BuildKey(ctx context.Context, businessID int64, parts ...string) (string, error)
	FetchJSON(ctx context.Context, key string, dest any, loader func(context.Context) (any, error)) error
	Bump(ctx context.Context, businessID int64) error
}

// Service coordinates settings, months, adjustments and the cash chain for each business.
type Service struct {
	repo           Repository
	locks          *LockManager
	audit          shared.AuditRecorder
	cache          ReportCache
	metrics        Recorder
	validate       *validator.Validate
	logger         *slog.Logger
	now            func() time.Time
	driftThreshold decimal.Decimal
	builds         buildGroup
}

// Options wires optional collaborators into the Service.
type Options struct {
	Audit          shared.AuditRecorder
	Cache          ReportCache
	Metrics        Recorder
	Logger         *slog.Logger
	DriftThreshold decimal.Decimal
}

// NewService constructs the ledger service and its LockManager.
func NewService(repo Repository, opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = noopRecorder{}
	}
	return &Service{
		repo:           repo,
		locks:          NewLockManager(repo, opts.Audit, metrics, logger),
		audit:          opts.Audit,
		cache:          opts.Cache,
		metrics:        metrics,
		validate:       validator.New(),
		logger:         logger,
		now:            time.Now,
		driftThreshold: opts.DriftThreshold.Abs(),
	}
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
		s.locks.WithNow(now)
	}
}

// Locks exposes the write guard shared with the sales module.
func (s *Service) Locks() *LockManager {
	return s.locks
}

// GetSettings returns stored settings or defaults.
func (s *Service) GetSettings(ctx context.Context, businessID int64) (Settings, error) {
	settings, err := s.repo.GetSettings(ctx, businessID)
	if errors.Is(err, ErrSettingsNotFound) {
		return DefaultSettings(businessID), nil
	}
	return settings, err
}

// UpdateSettings replaces the settings singleton and re-runs the chain, since cash start may move.
func (s *Service) UpdateSettings(ctx context.Context, businessID int64, req UpdateSettingsRequest) (Settings, error) {
	if err := s.check(req); err != nil {
		return Settings{}, err
	}
	if err := req.Validate(); err != nil {
		return Settings{}, err
	}
	saved, err := s.repo.SaveSettings(ctx, Settings{
		BusinessID:      businessID,
		Currency:        strings.ToUpper(req.Currency),
		AvgCheck:        req.AvgCheck,
		CogsPerUnit:     req.CogsPerUnit,
		UnitsPerDay:     req.UnitsPerDay,
		DaysPerMonth:    req.DaysPerMonth,
		FixedOpex:       req.FixedOpex,
		VariableOpex:    req.VariableOpex,
		LoanPayment:     req.LoanPayment,
		OwnerCapital:    req.OwnerCapital,
		BankLoan:        req.BankLoan,
		LegacyCashStart: req.LegacyCashStart,
		ReserveMonths:   req.ReserveMonths,
		UpdatedAt:       s.now().UTC(),
	})
	if err != nil {
		return Settings{}, err
	}
	if _, err := s.Recompute(ctx, businessID); err != nil {
		return Settings{}, err
	}
	return saved, nil
}

// GetMonth returns the stored month or an empty open record.
func (s *Service) GetMonth(ctx context.Context, businessID int64, key shared.MonthKey) (MonthRecord, error) {
	rec, err := s.repo.GetMonth(ctx, businessID, key)
	if errors.Is(err, ErrMonthNotFound) {
		return EmptyMonth(businessID, key), nil
	}
	return rec, err
}

// ListMonths returns stored months within the range, ascending.
func (s *Service) ListMonths(ctx context.Context, businessID int64, rng shared.MonthRange) ([]MonthRecord, error) {
	if err := rng.Validate(); err != nil {
		return nil, err
	}
	return s.repo.ListMonths(ctx, businessID, rng)
}

// PutMonth upserts one month and re-runs the chain. A locked month is rejected unless override
// is set. Notes carrying legacy lock tags are converted into structured lock state.
func (s *Service) PutMonth(ctx context.Context, businessID int64, key shared.MonthKey, req PutMonthRequest, override bool) (MonthRecord, error) {
	if _, err := s.putMonth(ctx, businessID, key, req, override); err != nil {
		return MonthRecord{}, err
	}
	if _, err := s.Recompute(ctx, businessID); err != nil {
		return MonthRecord{}, err
	}
	return s.GetMonth(ctx, businessID, key)
}

func (s *Service) putMonth(ctx context.Context, businessID int64, key shared.MonthKey, req PutMonthRequest, override bool) (MonthRecord, error) {
	if err := s.check(req); err != nil {
		return MonthRecord{}, err
	}
	if err := req.Validate(); err != nil {
		return MonthRecord{}, err
	}
	current, err := s.GetMonth(ctx, businessID, key)
	if err != nil {
		return MonthRecord{}, err
	}
	if IsLocked(current) && !override {
		return MonthRecord{}, s.locks.reject(businessID, key, "month", "update")
	}

	next := current
	next.Revenue = req.Revenue
	next.COGS = req.COGS
	next.OPEX = req.OPEX
	next.CAPEX = req.CAPEX
	next.LoanPaid = req.LoanPaid
	next.Notes = req.Notes
	next.UpdatedAt = s.now().UTC()

	if legacy := ParseLegacyNotes(req.Notes); legacy.Tagged {
		next.Notes = legacy.Notes
		if legacy.Locked && !IsLocked(next) {
			next.Status = MonthLocked
			closed := s.now().UTC().Truncate(24 * time.Hour)
			if legacy.ClosedAt != nil {
				closed = *legacy.ClosedAt
			}
			next.ClosedAt = &closed
		}
	}
	if IsLocked(next) && req.CashEnd != nil {
		next.CashEnd = *req.CashEnd
	}

	saved, err := s.repo.UpsertMonth(ctx, next)
	if err != nil {
		return MonthRecord{}, fmt.Errorf("ledger: upsert month %s: %w", key, err)
	}
	if IsLocked(current) && override {
		s.record(ctx, businessID, "month.override", "month", key.String(), map[string]any{"cash_end": saved.CashEnd.String()})
	}
	return saved, nil
}

// BulkUpsertMonths applies rows one at a time in ascending month order and stops at the first
// failure. Rows before the failure stay committed and the chain is recomputed once over them.
// Malformed month keys reject the whole batch before anything is written.
func (s *Service) BulkUpsertMonths(ctx context.Context, businessID int64, rows []BulkMonthInput, override bool) (BatchResult, error) {
	type keyed struct {
		key shared.MonthKey
		req PutMonthRequest
	}
	parsed := make([]keyed, 0, len(rows))
	seen := make(map[shared.MonthKey]struct{}, len(rows))
	for _, row := range rows {
		key, err := shared.ParseMonthKey(row.Month)
		if err != nil {
			return BatchResult{}, err
		}
		if _, dup := seen[key]; dup {
			return BatchResult{}, shared.Invalid("month", "duplicate month %s in batch", key)
		}
		seen[key] = struct{}{}
		parsed = append(parsed, keyed{key: key, req: row.PutMonthRequest})
	}
	slices.SortFunc(parsed, func(a, b keyed) int { return a.key.Compare(b.key) })

	result := BatchResult{Items: make([]BatchItem, 0, len(parsed))}
	applied := 0
	for _, row := range parsed {
		if result.FailedAt != nil {
			result.Items = append(result.Items, BatchItem{Month: row.key, Status: BatchSkipped})
			continue
		}
		if _, err := s.putMonth(ctx, businessID, row.key, row.req, override); err != nil {
			failed := row.key
			result.FailedAt = &failed
			result.Items = append(result.Items, BatchItem{Month: row.key, Status: BatchFailed, Error: shared.UserSafeMessage(err)})
			s.logger.Warn("bulk month upsert stopped",
				slog.Int64("business_id", businessID),
				slog.String("month", row.key.String()),
				slog.Any("error", err))
			continue
		}
		applied++
		result.Items = append(result.Items, BatchItem{Month: row.key, Status: BatchOK})
	}
	if applied > 0 {
		if _, err := s.Recompute(ctx, businessID); err != nil {
			return result, err
		}
	}
	return result, nil
}

// LockMonth recomputes the chain and freezes the month's closing cash.
func (s *Service) LockMonth(ctx context.Context, businessID int64, key shared.MonthKey, asOf time.Time) (MonthRecord, error) {
	if _, err := s.Recompute(ctx, businessID); err != nil {
		return MonthRecord{}, err
	}
	rec, changed, err := s.locks.Lock(ctx, businessID, key, asOf)
	if err != nil {
		return MonthRecord{}, err
	}
	if changed {
		s.bump(ctx, businessID)
	}
	return rec, nil
}

// UnlockMonth reopens a month and recomputes so it rejoins the chain.
func (s *Service) UnlockMonth(ctx context.Context, businessID int64, key shared.MonthKey) (MonthRecord, error) {
	if _, _, err := s.locks.Unlock(ctx, businessID, key); err != nil {
		return MonthRecord{}, err
	}
	if _, err := s.Recompute(ctx, businessID); err != nil {
		return MonthRecord{}, err
	}
	return s.GetMonth(ctx, businessID, key)
}

// LockThrough locks every open month at or before through.
func (s *Service) LockThrough(ctx context.Context, businessID int64, through shared.MonthKey, asOf time.Time) ([]shared.MonthKey, error) {
	if _, err := s.Recompute(ctx, businessID); err != nil {
		return nil, err
	}
	locked, err := s.locks.LockThrough(ctx, businessID, through, asOf)
	if len(locked) > 0 {
		s.bump(ctx, businessID)
	}
	return locked, err
}

// LockPrior locks every open month strictly before the current calendar month.
func (s *Service) LockPrior(ctx context.Context, businessID int64, asOf time.Time) ([]shared.MonthKey, error) {
	if _, err := s.Recompute(ctx, businessID); err != nil {
		return nil, err
	}
	locked, err := s.locks.LockBefore(ctx, businessID, shared.MonthKeyOf(s.now().UTC()), asOf)
	if len(locked) > 0 {
		s.bump(ctx, businessID)
	}
	return locked, err
}

// ListAdjustments returns adjustments within the range.
func (s *Service) ListAdjustments(ctx context.Context, businessID int64, rng shared.MonthRange) ([]Adjustment, error) {
	if err := rng.Validate(); err != nil {
		return nil, err
	}
	out, err := s.repo.ListAdjustments(ctx, businessID, rng)
	if out == nil {
		out = []Adjustment{}
	}
	return out, err
}

// CreateAdjustment records a cash movement on an open month.
func (s *Service) CreateAdjustment(ctx context.Context, businessID int64, req AdjustmentRequest) (Adjustment, error) {
	if err := s.check(req); err != nil {
		return Adjustment{}, err
	}
	key, err := req.Validate()
	if err != nil {
		return Adjustment{}, err
	}
	if err := s.locks.EnsureOpen(ctx, businessID, key, "adjustment", "create"); err != nil {
		return Adjustment{}, err
	}
	if err := s.ensureMonth(ctx, businessID, key); err != nil {
		return Adjustment{}, err
	}
	now := s.now().UTC()
	adj, err := s.repo.SaveAdjustment(ctx, Adjustment{
		ID:         uuid.New(),
		BusinessID: businessID,
		Month:      key,
		Kind:       req.Kind,
		Amount:     req.Amount,
		Title:      strings.TrimSpace(req.Title),
		Notes:      req.Notes,
		CreatedAt:  now,
		UpdatedAt:  now,
	})
	if err != nil {
		return Adjustment{}, err
	}
	if _, err := s.Recompute(ctx, businessID); err != nil {
		return Adjustment{}, err
	}
	return adj, nil
}

// UpdateAdjustment replaces an adjustment. Both the current and the target month must be open.
func (s *Service) UpdateAdjustment(ctx context.Context, businessID int64, id uuid.UUID, req AdjustmentRequest) (Adjustment, error) {
	if err := s.check(req); err != nil {
		return Adjustment{}, err
	}
	key, err := req.Validate()
	if err != nil {
		return Adjustment{}, err
	}
	current, err := s.repo.GetAdjustment(ctx, businessID, id)
	if err != nil {
		return Adjustment{}, err
	}
	if err := s.locks.EnsureOpen(ctx, businessID, current.Month, "adjustment", "update"); err != nil {
		return Adjustment{}, err
	}
	if key != current.Month {
		if err := s.locks.EnsureOpen(ctx, businessID, key, "adjustment", "update"); err != nil {
			return Adjustment{}, err
		}
	}
	if err := s.ensureMonth(ctx, businessID, key); err != nil {
		return Adjustment{}, err
	}
	current.Month = key
	current.Kind = req.Kind
	current.Amount = req.Amount
	current.Title = strings.TrimSpace(req.Title)
	current.Notes = req.Notes
	current.UpdatedAt = s.now().UTC()
	adj, err := s.repo.SaveAdjustment(ctx, current)
	if err != nil {
		return Adjustment{}, err
	}
	if _, err := s.Recompute(ctx, businessID); err != nil {
		return Adjustment{}, err
	}
	return adj, nil
}

// DeleteAdjustment removes an adjustment from an open month.
func (s *Service) DeleteAdjustment(ctx context.Context, businessID int64, id uuid.UUID) error {
	current, err := s.repo.GetAdjustment(ctx, businessID, id)
	if err != nil {
		return err
	}
	if err := s.locks.EnsureOpen(ctx, businessID, current.Month, "adjustment", "delete"); err != nil {
		return err
	}
	if err := s.repo.DeleteAdjustment(ctx, businessID, id); err != nil {
		return err
	}
	s.record(ctx, businessID, "adjustment.delete", "adjustment", id.String(), map[string]any{
		"month":  current.Month.String(),
		"amount": current.Signed().String(),
	})
	_, err = s.Recompute(ctx, businessID)
	return err
}

// RecomputeResult reports the outcome of a chain run.
type RecomputeResult struct {
	BusinessID int64                       `json:"business_id"`
	CashStart  decimal.Decimal             `json:"cash_start"`
	Updated    []shared.MonthKey           `json:"updated"`
	Rows       []ChainRow                  `json:"rows"`
	Gaps       []shared.SequenceGapWarning `json:"gaps"`
}

// ensureMonth stores an empty open record for key when none exists, so the month carries its own closing cash.
func (s *Service) ensureMonth(ctx context.Context, businessID int64, key shared.MonthKey) error {
	_, err := s.repo.GetMonth(ctx, businessID, key)
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrMonthNotFound) {
		return err
	}
	rec := EmptyMonth(businessID, key)
	rec.UpdatedAt = s.now().UTC()
	if _, err := s.repo.UpsertMonth(ctx, rec); err != nil {
		return fmt.Errorf("ledger: create month %s: %w", key, err)
	}
	return nil
}

// Recompute walks the whole chain and persists closing cash for open months whose value moved.
// Running it twice on unchanged data writes nothing the second time.
func (s *Service) Recompute(ctx context.Context, businessID int64) (RecomputeResult, error) {
	settings, months, adjustments, err := s.load(ctx, businessID, shared.MonthRange{})
	if err != nil {
		return RecomputeResult{}, err
	}
	rows := ComputeChain(settings.CashStart(), months, AdjustmentTotals(adjustments))
	result := RecomputeResult{
		BusinessID: businessID,
		CashStart:  settings.CashStart(),
		Updated:    []shared.MonthKey{},
		Rows:       rows,
		Gaps:       DetectGaps(monthKeys(months)),
	}
	recorded := make(map[shared.MonthKey]struct{}, len(months))
	for _, m := range months {
		recorded[m.Month] = struct{}{}
	}
	var updates []CashEndUpdate
	for _, row := range rows {
		if _, ok := recorded[row.Month]; !ok {
			continue
		}
		if row.Changed() {
			updates = append(updates, CashEndUpdate{Month: row.Month, CashEnd: row.CashEnd})
			result.Updated = append(result.Updated, row.Month)
		}
	}
	if err := s.repo.SetCashEnds(ctx, businessID, updates, s.now().UTC()); err != nil {
		return RecomputeResult{}, fmt.Errorf("ledger: persist chain: %w", err)
	}
	s.metrics.Recomputed(len(updates))
	if len(result.Gaps) > 0 {
		s.metrics.GapsDetected(len(result.Gaps))
	}
	s.bump(ctx, businessID)
	return result, nil
}

// Gaps reports missing months between recorded months.
func (s *Service) Gaps(ctx context.Context, businessID int64) ([]shared.SequenceGapWarning, error) {
	months, err := s.repo.ListMonths(ctx, businessID, shared.MonthRange{})
	if err != nil {
		return nil, err
	}
	gaps := DetectGaps(monthKeys(months))
	if gaps == nil {
		gaps = []shared.SequenceGapWarning{}
	}
	return gaps, nil
}

func (s *Service) load(ctx context.Context, businessID int64, rng shared.MonthRange) (Settings, []MonthRecord, []Adjustment, error) {
	settings, err := s.GetSettings(ctx, businessID)
	if err != nil {
		return Settings{}, nil, nil, err
	}
	months, err := s.repo.ListMonths(ctx, businessID, rng)
	if err != nil {
		return Settings{}, nil, nil, err
	}
	adjustments, err := s.repo.ListAdjustments(ctx, businessID, rng)
	if err != nil {
		return Settings{}, nil, nil, err
	}
	return settings, months, adjustments, nil
}

func (s *Service) bump(ctx context.Context, businessID int64) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Bump(ctx, businessID); err != nil {
		s.logger.Warn("report cache bump failed", slog.Int64("business_id", businessID), slog.Any("error", err))
	}
}

func (s *Service) record(ctx context.Context, businessID int64, action, entity, entityID string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		BusinessID: businessID,
		Action:     action,
		Entity:     entity,
		EntityID:   entityID,
		Meta:       meta,
		At:         s.now().UTC(),
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
