package ledger

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/donasdosas/ledger/internal/shared"
)

// Recorder receives ledger signals for metrics.
type Recorder interface {
	LockRejected(entity string)
	Recomputed(updated int)
	GapsDetected(n int)
	DriftFlagged(n int)
}

type noopRecorder struct{}

func (noopRecorder) LockRejected(string) {}
func (noopRecorder) Recomputed(int)      {}
func (noopRecorder) GapsDetected(int)    {}
func (noopRecorder) DriftFlagged(int)    {}

// IsLocked reports whether the month is frozen against recompute and mutation.
func IsLocked(m MonthRecord) bool {
	return m.Status == MonthLocked
}

// LockManager owns month lock state and the write guard every mutation path consults.
type LockManager struct {
	repo    Repository
	audit   shared.AuditRecorder
	metrics Recorder
	logger  *slog.Logger
	now     func() time.Time
}

// NewLockManager constructs a LockManager. audit and metrics may be nil.
func NewLockManager(repo Repository, audit shared.AuditRecorder, metrics Recorder, logger *slog.Logger) *LockManager {
	if metrics == nil {
		metrics = noopRecorder{}
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &LockManager{repo: repo, audit: audit, metrics: metrics, logger: logger, now: time.Now}
}

// WithNow overrides the clock for deterministic tests.
func (m *LockManager) WithNow(now func() time.Time) {
	if now != nil {
		m.now = now
	}
}

// EnsureOpen fails with a LockedPeriodError when the month is locked. Months never written are open.
func (m *LockManager) EnsureOpen(ctx context.Context, businessID int64, key shared.MonthKey, entity, op string) error {
	rec, err := m.repo.GetMonth(ctx, businessID, key)
	if errors.Is(err, ErrMonthNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if IsLocked(rec) {
		return m.reject(businessID, key, entity, op)
	}
	return nil
}

func (m *LockManager) reject(businessID int64, key shared.MonthKey, entity, op string) error {
	m.metrics.LockRejected(entity)
	m.logger.Warn("write rejected on locked month",
		slog.Int64("business_id", businessID),
		slog.String("month", key.String()),
		slog.String("entity", entity),
		slog.String("op", op))
	return &shared.LockedPeriodError{Month: key, Entity: entity, Op: op}
}

// IsMonthLocked reports the lock state of a stored month; unknown months are open.
func (m *LockManager) IsMonthLocked(ctx context.Context, businessID int64, key shared.MonthKey) (bool, error) {
	rec, err := m.repo.GetMonth(ctx, businessID, key)
	if errors.Is(err, ErrMonthNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return IsLocked(rec), nil
}

// Lock freezes the month's current closing cash. Locking an already locked month is a no-op
// and keeps the original closing date. A zero asOf uses today.
func (m *LockManager) Lock(ctx context.Context, businessID int64, key shared.MonthKey, asOf time.Time) (MonthRecord, bool, error) {
	rec, err := m.repo.GetMonth(ctx, businessID, key)
	if err != nil {
		return MonthRecord{}, false, err
	}
	if IsLocked(rec) {
		return rec, false, nil
	}
	closed := m.closingDate(asOf)
	rec.Status = MonthLocked
	rec.ClosedAt = &closed
	rec.UpdatedAt = m.now().UTC()
	rec, err = m.repo.UpsertMonth(ctx, rec)
	if err != nil {
		return MonthRecord{}, false, err
	}
	m.record(ctx, businessID, "month.lock", key, map[string]any{"closed_at": closed.Format("2006-01-02"), "cash_end": rec.CashEnd.String()})
	return rec, true, nil
}

// Unlock reopens a month so the next recompute includes it. Unlocking an open month is a no-op.
func (m *LockManager) Unlock(ctx context.Context, businessID int64, key shared.MonthKey) (MonthRecord, bool, error) {
	rec, err := m.repo.GetMonth(ctx, businessID, key)
	if err != nil {
		return MonthRecord{}, false, err
	}
	if !IsLocked(rec) {
		return rec, false, nil
	}
	rec.Status = MonthOpen
	rec.ClosedAt = nil
	rec.UpdatedAt = m.now().UTC()
	rec, err = m.repo.UpsertMonth(ctx, rec)
	if err != nil {
		return MonthRecord{}, false, err
	}
	m.record(ctx, businessID, "month.unlock", key, nil)
	return rec, true, nil
}

// LockThrough locks every open month at or before through and returns the months it locked.
func (m *LockManager) LockThrough(ctx context.Context, businessID int64, through shared.MonthKey, asOf time.Time) ([]shared.MonthKey, error) {
	return m.lockRange(ctx, businessID, shared.MonthRange{To: through}, asOf)
}

// LockBefore locks every open month strictly before current.
func (m *LockManager) LockBefore(ctx context.Context, businessID int64, current shared.MonthKey, asOf time.Time) ([]shared.MonthKey, error) {
	return m.lockRange(ctx, businessID, shared.MonthRange{To: current.Prev()}, asOf)
}

func (m *LockManager) lockRange(ctx context.Context, businessID int64, rng shared.MonthRange, asOf time.Time) ([]shared.MonthKey, error) {
	months, err := m.repo.ListMonths(ctx, businessID, rng)
	if err != nil {
		return nil, err
	}
	locked := []shared.MonthKey{}
	for _, rec := range months {
		if IsLocked(rec) {
			continue
		}
		if _, changed, err := m.Lock(ctx, businessID, rec.Month, asOf); err != nil {
			return locked, err
		} else if changed {
			locked = append(locked, rec.Month)
		}
	}
	return locked, nil
}

func (m *LockManager) closingDate(asOf time.Time) time.Time {
	if asOf.IsZero() {
		asOf = m.now()
	}
	y, mo, d := asOf.Date()
	return time.Date(y, mo, d, 0, 0, 0, 0, time.UTC)
}

func (m *LockManager) record(ctx context.Context, businessID int64, action string, key shared.MonthKey, meta map[string]any) {
	if m.audit == nil {
		return
	}
	if err := m.audit.Record(ctx, shared.AuditLog{
		BusinessID: businessID,
		Action:     action,
		Entity:     "month",
		EntityID:   key.String(),
		Meta:       meta,
		At:         m.now().UTC(),
	}); err != nil {
		m.logger.Error("audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}
