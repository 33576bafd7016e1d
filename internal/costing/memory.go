package costing

import (
	"context"
	"sort"
	"sync"
)

// MemoryRepository keeps the catalog in process memory. Used by the memory storage driver and tests.
type MemoryRepository struct {
	mu          sync.RWMutex
	nextID      int64
	ingredients map[int64]Ingredient
	items       map[int64]MenuItem
	recipes     map[int64][]RecipeLine
}

// NewMemoryRepository returns an empty in-memory catalog.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		ingredients: make(map[int64]Ingredient),
		items:       make(map[int64]MenuItem),
		recipes:     make(map[int64][]RecipeLine),
	}
}

func (m *MemoryRepository) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *MemoryRepository) ListIngredients(_ context.Context, businessID int64, includeArchived bool) ([]Ingredient, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Ingredient, 0, len(m.ingredients))
	for _, ing := range m.ingredients {
		if ing.BusinessID != businessID || (!includeArchived && !ing.Active) {
			continue
		}
		out = append(out, ing)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *MemoryRepository) GetIngredient(_ context.Context, businessID, id int64) (Ingredient, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ing, ok := m.ingredients[id]
	if !ok || ing.BusinessID != businessID {
		return Ingredient{}, ErrIngredientNotFound
	}
	return ing, nil
}

func (m *MemoryRepository) CreateIngredient(_ context.Context, ing Ingredient) (Ingredient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ing.ID = m.id()
	ing.CreatedAt = ing.UpdatedAt
	m.ingredients[ing.ID] = ing
	return ing, nil
}

func (m *MemoryRepository) UpdateIngredient(_ context.Context, ing Ingredient) (Ingredient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.ingredients[ing.ID]
	if !ok || cur.BusinessID != ing.BusinessID {
		return Ingredient{}, ErrIngredientNotFound
	}
	ing.CreatedAt = cur.CreatedAt
	m.ingredients[ing.ID] = ing
	return ing, nil
}

func (m *MemoryRepository) ListMenuItems(_ context.Context, businessID int64, includeArchived bool) ([]MenuItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]MenuItem, 0, len(m.items))
	for _, item := range m.items {
		if item.BusinessID != businessID || (!includeArchived && !item.Active) {
			continue
		}
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Category != out[j].Category {
			return out[i].Category < out[j].Category
		}
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *MemoryRepository) GetMenuItem(_ context.Context, businessID, id int64) (MenuItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	item, ok := m.items[id]
	if !ok || item.BusinessID != businessID {
		return MenuItem{}, ErrMenuItemNotFound
	}
	return item, nil
}

func (m *MemoryRepository) CreateMenuItem(_ context.Context, item MenuItem) (MenuItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item.ID = m.id()
	item.CreatedAt = item.UpdatedAt
	m.items[item.ID] = item
	return item, nil
}

func (m *MemoryRepository) UpdateMenuItem(_ context.Context, item MenuItem) (MenuItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.items[item.ID]
	if !ok || cur.BusinessID != item.BusinessID {
		return MenuItem{}, ErrMenuItemNotFound
	}
	item.CreatedAt = cur.CreatedAt
	m.items[item.ID] = item
	return item, nil
}

func (m *MemoryRepository) GetRecipe(_ context.Context, businessID, menuItemID int64) ([]RecipeLine, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if item, ok := m.items[menuItemID]; !ok || item.BusinessID != businessID {
		return nil, ErrMenuItemNotFound
	}
	return append([]RecipeLine(nil), m.recipes[menuItemID]...), nil
}

func (m *MemoryRepository) ReplaceRecipe(_ context.Context, businessID, menuItemID int64, lines []RecipeLine) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if item, ok := m.items[menuItemID]; !ok || item.BusinessID != businessID {
		return ErrMenuItemNotFound
	}
	m.recipes[menuItemID] = append([]RecipeLine(nil), lines...)
	return nil
}
