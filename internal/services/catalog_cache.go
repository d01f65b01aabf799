package services

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/Ananth-NQI/orderbot-backend/internal/models"
	"github.com/Ananth-NQI/orderbot-backend/internal/storage"
)

// CatalogSource is what the cache reads through to
type CatalogSource interface {
	storage.Catalog
	storage.BranchRegistry
}

// CachedCatalog is a read-through cache over menus and branch lists. Entries
// expire after ttl so menu edits show up without a restart.
type CachedCatalog struct {
	source CatalogSource
	cache  *expirable.LRU[string, any]
	group  singleflight.Group
}

// NewCachedCatalog wraps source with an LRU of size entries
func NewCachedCatalog(source CatalogSource, size int, ttl time.Duration) *CachedCatalog {
	if size <= 0 {
		size = 512
	}
	return &CachedCatalog{
		source: source,
		cache:  expirable.NewLRU[string, any](size, nil, ttl),
	}
}

// Purge drops every cached entry
func (c *CachedCatalog) Purge() {
	c.cache.Purge()
}

func (c *CachedCatalog) load(key string, fetch func() (any, error)) (any, error) {
	if v, ok := c.cache.Get(key); ok {
		return v, nil
	}
	v, err, _ := c.group.Do(key, func() (any, error) {
		if v, ok := c.cache.Get(key); ok {
			return v, nil
		}
		v, err := fetch()
		if err != nil {
			return nil, err
		}
		c.cache.Add(key, v)
		return v, nil
	})
	return v, err
}

func (c *CachedCatalog) allCategories(ctx context.Context, tenantID string) ([]models.Category, error) {
	v, err := c.load("cats:"+tenantID, func() (any, error) {
		page, err := c.source.ListCategories(ctx, tenantID, 0, 0)
		if err != nil {
			return nil, err
		}
		return page.Categories, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]models.Category), nil
}

func (c *CachedCatalog) ListCategories(ctx context.Context, tenantID string, page, pageSize int) (*models.CategoryPage, error) {
	all, err := c.allCategories(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return storage.PageCategories(all, page, pageSize), nil
}

func (c *CachedCatalog) GetCategory(ctx context.Context, tenantID, categoryID string) (*models.Category, error) {
	all, err := c.allCategories(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	for _, cat := range all {
		if cat.ID == categoryID {
			found := cat
			return &found, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (c *CachedCatalog) ListItems(ctx context.Context, tenantID, categoryID string) ([]models.Item, error) {
	v, err := c.load("items:"+tenantID+":"+categoryID, func() (any, error) {
		return c.source.ListItems(ctx, tenantID, categoryID)
	})
	if err != nil {
		return nil, err
	}
	return v.([]models.Item), nil
}

// GetItem always reads the source so availability is current when an item is picked
func (c *CachedCatalog) GetItem(ctx context.Context, tenantID, itemID string) (*models.Item, error) {
	return c.source.GetItem(ctx, tenantID, itemID)
}

func (c *CachedCatalog) ListBranches(ctx context.Context, tenantID string) ([]models.Branch, error) {
	v, err := c.load("branches:"+tenantID, func() (any, error) {
		return c.source.ListBranches(ctx, tenantID)
	})
	if err != nil {
		return nil, err
	}
	return v.([]models.Branch), nil
}

func (c *CachedCatalog) FindByFuzzyName(ctx context.Context, tenantID string, scope models.Scope, text string) (*models.Entity, error) {
	return storage.FuzzyFind(ctx, c, tenantID, scope, text)
}
