package sales

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/donasdosas/ledger/internal/shared"
)

// MemoryRepository keeps sales in process memory.
type MemoryRepository struct {
	mu    sync.RWMutex
	sales map[uuid.UUID]Sale
}

// NewMemoryRepository constructs an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{sales: make(map[uuid.UUID]Sale)}
}

func (m *MemoryRepository) ListSales(_ context.Context, businessID int64, rng shared.MonthRange) ([]Sale, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Sale
	for _, s := range m.sales {
		if s.BusinessID == businessID && rng.Includes(s.Month()) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *MemoryRepository) GetSale(_ context.Context, businessID int64, id uuid.UUID) (Sale, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sales[id]
	if !ok || s.BusinessID != businessID {
		return Sale{}, ErrSaleNotFound
	}
	return s, nil
}

func (m *MemoryRepository) SaveSale(_ context.Context, s Sale) (Sale, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.sales[s.ID]; ok && existing.BusinessID != s.BusinessID {
		return Sale{}, ErrSaleNotFound
	}
	m.sales[s.ID] = s
	return s, nil
}

func (m *MemoryRepository) DeleteSale(_ context.Context, businessID int64, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sales[id]
	if !ok || s.BusinessID != businessID {
		return ErrSaleNotFound
	}
	delete(m.sales, id)
	return nil
}
