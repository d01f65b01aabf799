package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Ananth-NQI/orderbot-backend/internal/models"
)

type itemKey struct {
	tenantID string
	itemID   string
}

// MemoryStore holds all data in memory, for development and tests
type MemoryStore struct {
	tenants    map[string]*models.Tenant
	branches   map[string][]models.Branch   // by tenant
	categories map[string][]models.Category // by tenant
	items      map[itemKey]*models.Item
	sessions   map[SessionKey]*models.ConversationSession

	// Mutexes for thread safety
	tenantMu  sync.RWMutex
	catalogMu sync.RWMutex
	sessionMu sync.RWMutex
}

// NewMemoryStore creates a new in-memory storage
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tenants:    make(map[string]*models.Tenant),
		branches:   make(map[string][]models.Branch),
		categories: make(map[string][]models.Category),
		items:      make(map[itemKey]*models.Item),
		sessions:   make(map[SessionKey]*models.ConversationSession),
	}
}

// NewMemoryStoreFromSeed creates a store preloaded with seed data
func NewMemoryStoreFromSeed(seed *Seed) *MemoryStore {
	m := NewMemoryStore()
	m.Apply(seed)
	return m
}

// Apply loads seed data, replacing entries with the same ids
func (m *MemoryStore) Apply(seed *Seed) {
	m.tenantMu.Lock()
	for i := range seed.Tenants {
		t := seed.Tenants[i]
		m.tenants[t.ID] = &t
	}
	for _, b := range seed.Branches {
		m.branches[b.TenantID] = upsertBranch(m.branches[b.TenantID], b)
	}
	for id := range m.branches {
		sortBranches(m.branches[id])
	}
	m.tenantMu.Unlock()

	m.catalogMu.Lock()
	for _, c := range seed.Categories {
		m.categories[c.TenantID] = upsertCategory(m.categories[c.TenantID], c)
	}
	for id := range m.categories {
		sortCategories(m.categories[id])
	}
	for i := range seed.Items {
		it := seed.Items[i]
		m.items[itemKey{it.TenantID, it.ID}] = &it
	}
	m.catalogMu.Unlock()
}

// SetTenant creates or replaces a tenant. Used by admin tooling and tests to
// flip bot flags at runtime.
func (m *MemoryStore) SetTenant(t models.Tenant) {
	m.tenantMu.Lock()
	defer m.tenantMu.Unlock()
	m.tenants[t.ID] = &t
}

// Tenant operations
// UpdateTenantFlags sets the bot flags of an existing tenant
func (m *MemoryStore) UpdateTenantFlags(ctx context.Context, tenantID string, botEnabled, synthetic bool) (*models.Tenant, error) {
	m.tenantMu.Lock()
	defer m.tenantMu.Unlock()
	t, ok := m.tenants[tenantID]
	if !ok {
		return nil, ErrTenantNotFound
	}
	updated := *t
	updated.BotEnabled = botEnabled
	updated.Synthetic = synthetic
	updated.UpdatedAt = time.Now()
	m.tenants[tenantID] = &updated
	out := updated
	return &out, nil
}

func (m *MemoryStore) GetTenant(ctx context.Context, tenantID string) (*models.Tenant, error) {
	m.tenantMu.RLock()
	defer m.tenantMu.RUnlock()

	t, exists := m.tenants[tenantID]
	if !exists {
		return nil, ErrTenantNotFound
	}
	copied := *t
	return &copied, nil
}

func (m *MemoryStore) ListTenants(ctx context.Context) ([]models.Tenant, error) {
	m.tenantMu.RLock()
	defer m.tenantMu.RUnlock()

	out := make([]models.Tenant, 0, len(m.tenants))
	for _, t := range m.tenants {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) ListBranches(ctx context.Context, tenantID string) ([]models.Branch, error) {
	m.tenantMu.RLock()
	defer m.tenantMu.RUnlock()
	return append([]models.Branch(nil), m.branches[tenantID]...), nil
}

// Catalog operations
func (m *MemoryStore) ListCategories(ctx context.Context, tenantID string, page, pageSize int) (*models.CategoryPage, error) {
	m.catalogMu.RLock()
	all := append([]models.Category(nil), m.categories[tenantID]...)
	m.catalogMu.RUnlock()
	return PageCategories(all, page, pageSize), nil
}

func (m *MemoryStore) GetCategory(ctx context.Context, tenantID, categoryID string) (*models.Category, error) {
	m.catalogMu.RLock()
	defer m.catalogMu.RUnlock()

	for _, c := range m.categories[tenantID] {
		if c.ID == categoryID {
			copied := c
			return &copied, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) ListItems(ctx context.Context, tenantID, categoryID string) ([]models.Item, error) {
	m.catalogMu.RLock()
	defer m.catalogMu.RUnlock()

	var out []models.Item
	for _, it := range m.items {
		if it.TenantID == tenantID && it.CategoryID == categoryID {
			out = append(out, *it)
		}
	}
	sortItems(out)
	return out, nil
}

func (m *MemoryStore) GetItem(ctx context.Context, tenantID, itemID string) (*models.Item, error) {
	m.catalogMu.RLock()
	defer m.catalogMu.RUnlock()

	it, exists := m.items[itemKey{tenantID, itemID}]
	if !exists {
		return nil, ErrNotFound
	}
	copied := *it
	return &copied, nil
}

func (m *MemoryStore) FindByFuzzyName(ctx context.Context, tenantID string, scope models.Scope, text string) (*models.Entity, error) {
	return FuzzyFind(ctx, m, tenantID, scope, text)
}

// Session operations. Sessions are cloned on the way in and out so callers
// never share memory with the stored copy.
func (m *MemoryStore) GetSession(ctx context.Context, key SessionKey) (*models.ConversationSession, error) {
	m.sessionMu.RLock()
	defer m.sessionMu.RUnlock()

	s, exists := m.sessions[key]
	if !exists {
		return nil, ErrSessionNotFound
	}
	return s.Clone(), nil
}

func (m *MemoryStore) CreateSession(ctx context.Context, session *models.ConversationSession) error {
	m.sessionMu.Lock()
	defer m.sessionMu.Unlock()

	key := KeyOf(session)
	if _, exists := m.sessions[key]; exists {
		return ErrSessionExists
	}
	session.Version = 1
	m.sessions[key] = session.Clone()
	return nil
}

func (m *MemoryStore) PutSessionIfVersion(ctx context.Context, session *models.ConversationSession, expected int64) error {
	m.sessionMu.Lock()
	defer m.sessionMu.Unlock()

	key := KeyOf(session)
	current, exists := m.sessions[key]
	if !exists {
		return ErrSessionNotFound
	}
	if current.Version != expected {
		return ErrVersionConflict
	}
	session.Version = expected + 1
	session.UpdatedAt = time.Now()
	m.sessions[key] = session.Clone()
	return nil
}

func (m *MemoryStore) ListIdleSessions(ctx context.Context, before time.Time, limit int) ([]SessionKey, error) {
	m.sessionMu.RLock()
	defer m.sessionMu.RUnlock()

	var keys []SessionKey
	for key, s := range m.sessions {
		if inProgress(s.Stage) && s.UpdatedAt.Before(before) {
			keys = append(keys, key)
			if limit > 0 && len(keys) >= limit {
				break
			}
		}
	}
	return keys, nil
}

func upsertBranch(list []models.Branch, b models.Branch) []models.Branch {
	for i := range list {
		if list[i].ID == b.ID {
			list[i] = b
			return list
		}
	}
	return append(list, b)
}

func upsertCategory(list []models.Category, c models.Category) []models.Category {
	for i := range list {
		if list[i].ID == c.ID {
			list[i] = c
			return list
		}
	}
	return append(list, c)
}

func sortBranches(b []models.Branch) {
	sort.SliceStable(b, func(i, j int) bool {
		if b[i].Position != b[j].Position {
			return b[i].Position < b[j].Position
		}
		return b[i].Name < b[j].Name
	})
}

func sortCategories(c []models.Category) {
	sort.SliceStable(c, func(i, j int) bool {
		if c[i].Position != c[j].Position {
			return c[i].Position < c[j].Position
		}
		return c[i].Name < c[j].Name
	})
}

func sortItems(items []models.Item) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Position != items[j].Position {
			return items[i].Position < items[j].Position
		}
		return items[i].Name < items[j].Name
	})
}
