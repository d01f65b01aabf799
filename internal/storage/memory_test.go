package storage

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ananth-NQI/orderbot-backend/internal/models"
)

func seededStore(t *testing.T) *MemoryStore {
	t.Helper()
	seed, err := LoadSeed("testdata/seed.toml")
	require.NoError(t, err)
	return NewMemoryStoreFromSeed(seed)
}

func TestLoadSeed(t *testing.T) {
	seed, err := LoadSeed("testdata/seed.toml")
	require.NoError(t, err)

	require.Len(t, seed.Tenants, 1)
	assert.Equal(t, "Burger Barn", seed.Tenants[0].Name)
	assert.True(t, seed.Tenants[0].BotEnabled)
	assert.Len(t, seed.Branches, 2)
	assert.Len(t, seed.Categories, 2)
	assert.Len(t, seed.Items, 4)
	assert.Equal(t, int64(899), seed.Items[0].Price)
}

func TestSeedValidate_UnknownReferences(t *testing.T) {
	seed := &Seed{
		Tenants: []models.Tenant{{ID: "t1"}},
		Items:   []models.Item{{ID: "i1", TenantID: "t1", CategoryID: "missing"}},
	}
	assert.Error(t, seed.Validate())

	seed = &Seed{
		Tenants:  []models.Tenant{{ID: "t1"}},
		Branches: []models.Branch{{ID: "b1", TenantID: "other"}},
	}
	assert.Error(t, seed.Validate())
}

func TestMemoryStore_Catalog(t *testing.T) {
	ctx := context.Background()
	m := seededStore(t)

	page, err := m.ListCategories(ctx, "burger-barn", 0, 1)
	require.NoError(t, err)
	require.Len(t, page.Categories, 1)
	assert.Equal(t, "burgers", page.Categories[0].ID)
	assert.True(t, page.HasMore)

	page, err = m.ListCategories(ctx, "burger-barn", 1, 1)
	require.NoError(t, err)
	require.Len(t, page.Categories, 1)
	assert.Equal(t, "drinks", page.Categories[0].ID)
	assert.False(t, page.HasMore)

	items, err := m.ListItems(ctx, "burger-barn", "burgers")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "classic", items[0].ID)

	_, err = m.GetItem(ctx, "other-tenant", "classic")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = m.GetTenant(ctx, "nope")
	assert.ErrorIs(t, err, ErrTenantNotFound)
}

func TestMemoryStore_FindByFuzzyNameIsScoped(t *testing.T) {
	ctx := context.Background()
	m := seededStore(t)

	e, err := m.FindByFuzzyName(ctx, "burger-barn", models.Scope{Kind: models.ScopeItems, CategoryID: "burgers"}, "veggie burgr")
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, "veggie", e.ID)

	// cola lives in drinks, not burgers
	e, err = m.FindByFuzzyName(ctx, "burger-barn", models.Scope{Kind: models.ScopeItems, CategoryID: "burgers"}, "cola")
	require.NoError(t, err)
	assert.Nil(t, e)

	// unavailable items are not matchable
	e, err = m.FindByFuzzyName(ctx, "burger-barn", models.Scope{Kind: models.ScopeItems, CategoryID: "drinks"}, "lemonade")
	require.NoError(t, err)
	assert.Nil(t, e)

	e, err = m.FindByFuzzyName(ctx, "burger-barn", models.Scope{Kind: models.ScopeBranches}, "uptown")
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, "bb-uptown", e.ID)

	_, err = m.FindByFuzzyName(ctx, "burger-barn", models.Scope{Kind: models.ScopeItems}, "cola")
	assert.Error(t, err)
}

func TestMemoryStore_SessionVersioning(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	s := models.NewConversationSession("t1", "15551234567")
	require.NoError(t, m.CreateSession(ctx, s))
	assert.Equal(t, int64(1), s.Version)
	assert.ErrorIs(t, m.CreateSession(ctx, models.NewConversationSession("t1", "15551234567")), ErrSessionExists)

	loaded, err := m.GetSession(ctx, KeyOf(s))
	require.NoError(t, err)
	loaded.Stage = models.StageAwaitingOrderType
	require.NoError(t, m.PutSessionIfVersion(ctx, loaded, 1))
	assert.Equal(t, int64(2), loaded.Version)

	// stale writer loses
	s.Stage = models.StageCheckout
	assert.ErrorIs(t, m.PutSessionIfVersion(ctx, s, 1), ErrVersionConflict)

	got, err := m.GetSession(ctx, KeyOf(s))
	require.NoError(t, err)
	assert.Equal(t, models.StageAwaitingOrderType, got.Stage)

	// returned sessions do not alias the stored copy
	got.Cart = append(got.Cart, models.CartLine{ItemID: "x", Quantity: 1})
	again, err := m.GetSession(ctx, KeyOf(s))
	require.NoError(t, err)
	assert.Empty(t, again.Cart)

	_, err = m.GetSession(ctx, SessionKey{TenantID: "t1", PhoneKey: "1"})
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestMemoryStore_ConcurrentPutsOnlyOneWins(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	s := models.NewConversationSession("t1", "15551234567")
	require.NoError(t, m.CreateSession(ctx, s))

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c := s.Clone()
			c.BranchID = fmt.Sprintf("b%d", i)
			if err := m.PutSessionIfVersion(ctx, c, 1); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestMemoryStore_ListIdleSessions(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	active := models.NewConversationSession("t1", "15550000001")
	require.NoError(t, m.CreateSession(ctx, active))
	active.Stage = models.StageBrowsingCategories
	require.NoError(t, m.PutSessionIfVersion(ctx, active, 1))

	idle := models.NewConversationSession("t1", "15550000002")
	require.NoError(t, m.CreateSession(ctx, idle))

	keys, err := m.ListIdleSessions(ctx, time.Now().Add(time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, KeyOf(active), keys[0])

	keys, err = m.ListIdleSessions(ctx, time.Now().Add(-time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestMemoryStore_UpdateTenantFlags(t *testing.T) {
	store := seededStore(t)
	ctx := context.Background()

	before, err := store.GetTenant(ctx, "burger-barn")
	require.NoError(t, err)

	updated, err := store.UpdateTenantFlags(ctx, "burger-barn", false, true)
	require.NoError(t, err)
	assert.False(t, updated.BotEnabled)
	assert.True(t, updated.Synthetic)
	assert.Equal(t, before.Name, updated.Name)
	assert.Equal(t, models.TenantStatusDisabled, updated.Status())

	got, err := store.GetTenant(ctx, "burger-barn")
	require.NoError(t, err)
	assert.False(t, got.BotEnabled)

	_, err = store.UpdateTenantFlags(ctx, "nope", true, false)
	assert.ErrorIs(t, err, ErrTenantNotFound)
}

func TestMemoryStore_ApplyReplacesByID(t *testing.T) {
	store := seededStore(t)
	ctx := context.Background()

	seed, err := LoadSeed("testdata/seed.toml")
	require.NoError(t, err)
	seed.Branches[0].Name = "Renamed"
	store.Apply(seed)

	branches, err := store.ListBranches(ctx, "burger-barn")
	require.NoError(t, err)
	assert.Len(t, branches, 2)

	names := []string{branches[0].Name, branches[1].Name}
	assert.Contains(t, names, "Renamed")
}

func TestMemoryStore_CatalogIDsAreScopedPerTenant(t *testing.T) {
	ctx := context.Background()
	seed := &Seed{
		Tenants: []models.Tenant{{ID: "a"}, {ID: "b"}},
		Branches: []models.Branch{
			{ID: "main", TenantID: "a", Name: "A Main"},
			{ID: "main", TenantID: "b", Name: "B Main"},
		},
		Categories: []models.Category{
			{ID: "drinks", TenantID: "a", Name: "Drinks"},
			{ID: "drinks", TenantID: "b", Name: "Beverages"},
		},
		Items: []models.Item{
			{ID: "cola", TenantID: "a", CategoryID: "drinks", Name: "Cola", Price: 199, Available: true},
			{ID: "cola", TenantID: "b", CategoryID: "drinks", Name: "Cola", Price: 250, Available: true},
		},
	}
	require.NoError(t, seed.Validate())
	store := NewMemoryStoreFromSeed(seed)

	for _, tc := range []struct {
		tenant   string
		branch   string
		category string
		price    int64
	}{
		{tenant: "a", branch: "A Main", category: "Drinks", price: 199},
		{tenant: "b", branch: "B Main", category: "Beverages", price: 250},
	} {
		t.Run(tc.tenant, func(t *testing.T) {
			item, err := store.GetItem(ctx, tc.tenant, "cola")
			require.NoError(t, err)
			assert.Equal(t, tc.price, item.Price)

			items, err := store.ListItems(ctx, tc.tenant, "drinks")
			require.NoError(t, err)
			require.Len(t, items, 1)
			assert.Equal(t, tc.price, items[0].Price)

			cat, err := store.GetCategory(ctx, tc.tenant, "drinks")
			require.NoError(t, err)
			assert.Equal(t, tc.category, cat.Name)

			branches, err := store.ListBranches(ctx, tc.tenant)
			require.NoError(t, err)
			require.Len(t, branches, 1)
			assert.Equal(t, tc.branch, branches[0].Name)
		})
	}

	_, err := store.GetItem(ctx, "c", "cola")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSeedValidate_CategoryOfAnotherTenant(t *testing.T) {
	seed := &Seed{
		Tenants:    []models.Tenant{{ID: "a"}, {ID: "b"}},
		Categories: []models.Category{{ID: "drinks", TenantID: "a"}},
		Items:      []models.Item{{ID: "cola", TenantID: "b", CategoryID: "drinks"}},
	}
	assert.Error(t, seed.Validate())
}
