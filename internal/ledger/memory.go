package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/donasdosas/ledger/internal/shared"
)

// MemoryRepository keeps ledger state in process memory.
type MemoryRepository struct {
	mu          sync.RWMutex
	settings    map[int64]Settings
	months      map[int64]map[shared.MonthKey]MonthRecord
	adjustments map[uuid.UUID]Adjustment
}

// NewMemoryRepository returns an empty store.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		settings:    make(map[int64]Settings),
		months:      make(map[int64]map[shared.MonthKey]MonthRecord),
		adjustments: make(map[uuid.UUID]Adjustment),
	}
}

func (m *MemoryRepository) GetSettings(_ context.Context, businessID int64) (Settings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.settings[businessID]
	if !ok {
		return Settings{}, ErrSettingsNotFound
	}
	return s, nil
}

func (m *MemoryRepository) SaveSettings(_ context.Context, s Settings) (Settings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings[s.BusinessID] = s
	return s, nil
}

func (m *MemoryRepository) GetMonth(_ context.Context, businessID int64, key shared.MonthKey) (MonthRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.months[businessID][key]
	if !ok {
		return MonthRecord{}, ErrMonthNotFound
	}
	return rec, nil
}

func (m *MemoryRepository) ListMonths(_ context.Context, businessID int64, rng shared.MonthRange) ([]MonthRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]MonthRecord, 0, len(m.months[businessID]))
	for key, rec := range m.months[businessID] {
		if rng.Includes(key) {
			out = append(out, rec)
		}
	}
	SortMonths(out)
	return out, nil
}

func (m *MemoryRepository) UpsertMonth(_ context.Context, rec MonthRecord) (MonthRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byMonth, ok := m.months[rec.BusinessID]
	if !ok {
		byMonth = make(map[shared.MonthKey]MonthRecord)
		m.months[rec.BusinessID] = byMonth
	}
	rec.Stored = true
	byMonth[rec.Month] = rec
	return rec, nil
}

func (m *MemoryRepository) SetCashEnds(_ context.Context, businessID int64, updates []CashEndUpdate, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range updates {
		rec, ok := m.months[businessID][u.Month]
		if !ok || IsLocked(rec) {
			continue
		}
		rec.CashEnd = u.CashEnd
		rec.UpdatedAt = at
		m.months[businessID][u.Month] = rec
	}
	return nil
}

func (m *MemoryRepository) ListBusinesses(_ context.Context) ([]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := make(map[int64]struct{})
	for id := range m.settings {
		seen[id] = struct{}{}
	}
	for id := range m.months {
		seen[id] = struct{}{}
	}
	out := make([]int64, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (m *MemoryRepository) ListAdjustments(_ context.Context, businessID int64, rng shared.MonthRange) ([]Adjustment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Adjustment
	for _, a := range m.adjustments {
		if a.BusinessID == businessID && rng.Includes(a.Month) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].Month.Compare(out[j].Month); c != 0 {
			return c < 0
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *MemoryRepository) GetAdjustment(_ context.Context, businessID int64, id uuid.UUID) (Adjustment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.adjustments[id]
	if !ok || a.BusinessID != businessID {
		return Adjustment{}, ErrAdjustmentNotFound
	}
	return a, nil
}

func (m *MemoryRepository) SaveAdjustment(_ context.Context, a Adjustment) (Adjustment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.adjustments[a.ID] = a
	return a, nil
}

func (m *MemoryRepository) DeleteAdjustment(_ context.Context, businessID int64, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.adjustments[id]
	if !ok || a.BusinessID != businessID {
		return ErrAdjustmentNotFound
	}
	delete(m.adjustments, id)
	return nil
}
