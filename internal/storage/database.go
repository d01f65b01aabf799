package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Ananth-NQI/orderbot-backend/internal/models"
	"github.com/Ananth-NQI/orderbot-backend/internal/utils"
)

// DatabaseStore implements Store on PostgreSQL through GORM
type DatabaseStore struct {
	db *gorm.DB
}

// NewDatabaseStore creates a new database-backed store
func NewDatabaseStore(db *gorm.DB) *DatabaseStore {
	return &DatabaseStore{db: db}
}

// Ping checks the database connection
func (d *DatabaseStore) Ping(ctx context.Context) error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Tenant operations
func (d *DatabaseStore) GetTenant(ctx context.Context, tenantID string) (*models.Tenant, error) {
	var t models.Tenant
	err := d.db.WithContext(ctx).First(&t, "id = ?", tenantID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrTenantNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get tenant %s: %w", tenantID, err)
	}
	return &t, nil
}

func (d *DatabaseStore) ListTenants(ctx context.Context) ([]models.Tenant, error) {
	var tenants []models.Tenant
	if err := d.db.WithContext(ctx).Order("id").Find(&tenants).Error; err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	return tenants, nil
}

// UpdateTenantFlags sets the bot flags of an existing tenant
func (d *DatabaseStore) UpdateTenantFlags(ctx context.Context, tenantID string, botEnabled, synthetic bool) (*models.Tenant, error) {
	res := d.db.WithContext(ctx).
		Model(&models.Tenant{}).
		Where("id = ?", tenantID).
		Updates(map[string]interface{}{"bot_enabled": botEnabled, "synthetic": synthetic})
	if res.Error != nil {
		return nil, fmt.Errorf("update tenant %s: %w", tenantID, res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, ErrTenantNotFound
	}
	return d.GetTenant(ctx, tenantID)
}

func (d *DatabaseStore) ListBranches(ctx context.Context, tenantID string) ([]models.Branch, error) {
	var branches []models.Branch
	err := d.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("position, name").
		Find(&branches).Error
	if err != nil {
		return nil, fmt.Errorf("list branches: %w", err)
	}
	return branches, nil
}

// Catalog operations
func (d *DatabaseStore) ListCategories(ctx context.Context, tenantID string, page, pageSize int) (*models.CategoryPage, error) {
	q := d.db.WithContext(ctx).Where("tenant_id = ?", tenantID).Order("position, name")
	if pageSize <= 0 {
		var all []models.Category
		if err := q.Find(&all).Error; err != nil {
			return nil, fmt.Errorf("list categories: %w", err)
		}
		return &models.CategoryPage{Categories: all}, nil
	}
	if page < 0 {
		page = 0
	}

	// One extra row tells us whether a next page exists
	var rows []models.Category
	if err := q.Offset(page * pageSize).Limit(pageSize + 1).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	result := &models.CategoryPage{Page: page}
	if len(rows) > pageSize {
		result.HasMore = true
		rows = rows[:pageSize]
	}
	result.Categories = rows
	return result, nil
}

func (d *DatabaseStore) GetCategory(ctx context.Context, tenantID, categoryID string) (*models.Category, error) {
	var c models.Category
	err := d.db.WithContext(ctx).First(&c, "tenant_id = ? AND id = ?", tenantID, categoryID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get category: %w", err)
	}
	return &c, nil
}

func (d *DatabaseStore) ListItems(ctx context.Context, tenantID, categoryID string) ([]models.Item, error) {
	var items []models.Item
	err := d.db.WithContext(ctx).
		Where("tenant_id = ? AND category_id = ?", tenantID, categoryID).
		Order("position, name").
		Find(&items).Error
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	return items, nil
}

func (d *DatabaseStore) GetItem(ctx context.Context, tenantID, itemID string) (*models.Item, error) {
	var it models.Item
	err := d.db.WithContext(ctx).First(&it, "tenant_id = ? AND id = ?", tenantID, itemID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	return &it, nil
}

func (d *DatabaseStore) FindByFuzzyName(ctx context.Context, tenantID string, scope models.Scope, text string) (*models.Entity, error) {
	return FuzzyFind(ctx, d, tenantID, scope, text)
}

// Session operations
func (d *DatabaseStore) GetSession(ctx context.Context, key SessionKey) (*models.ConversationSession, error) {
	var rec models.SessionRecord
	err := d.db.WithContext(ctx).
		First(&rec, "tenant_id = ? AND phone_key = ?", key.TenantID, string(key.PhoneKey)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", key, err)
	}
	return decodeRecord(&rec)
}

func (d *DatabaseStore) CreateSession(ctx context.Context, session *models.ConversationSession) error {
	session.Version = 1
	state, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	rec := models.SessionRecord{
		TenantID:   session.TenantID,
		PhoneKey:   session.PhoneKey,
		Stage:      string(session.Stage),
		Generation: session.Generation,
		Version:    1,
		State:      string(state),
	}
	res := d.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&rec)
	if res.Error != nil {
		return fmt.Errorf("create session: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrSessionExists
	}
	return nil
}

func (d *DatabaseStore) PutSessionIfVersion(ctx context.Context, session *models.ConversationSession, expected int64) error {
	next := *session
	next.Version = expected + 1
	next.UpdatedAt = time.Now()
	state, err := json.Marshal(&next)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	res := d.db.WithContext(ctx).
		Model(&models.SessionRecord{}).
		Where("tenant_id = ? AND phone_key = ? AND version = ?", session.TenantID, session.PhoneKey, expected).
		Updates(map[string]interface{}{
			"stage":      string(next.Stage),
			"generation": next.Generation,
			"version":    next.Version,
			"state":      string(state),
		})
	if res.Error != nil {
		return fmt.Errorf("put session: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		var n int64
		err := d.db.WithContext(ctx).
			Model(&models.SessionRecord{}).
			Where("tenant_id = ? AND phone_key = ?", session.TenantID, session.PhoneKey).
			Count(&n).Error
		if err != nil {
			return fmt.Errorf("put session: %w", err)
		}
		if n == 0 {
			return ErrSessionNotFound
		}
		return ErrVersionConflict
	}
	session.Version = next.Version
	session.UpdatedAt = next.UpdatedAt
	return nil
}

func (d *DatabaseStore) ListIdleSessions(ctx context.Context, before time.Time, limit int) ([]SessionKey, error) {
	var recs []models.SessionRecord
	q := d.db.WithContext(ctx).
		Select("tenant_id", "phone_key").
		Where("updated_at < ? AND stage NOT IN ?", before, []string{
			string(models.StageIdle),
			string(models.StagePostSubmission),
			string(models.StageManualHandoff),
			string(models.StageDisabled),
		})
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("list idle sessions: %w", err)
	}

	keys := make([]SessionKey, 0, len(recs))
	for _, r := range recs {
		keys = append(keys, SessionKey{TenantID: r.TenantID, PhoneKey: utils.PhoneKey(r.PhoneKey)})
	}
	return keys, nil
}

func decodeRecord(rec *models.SessionRecord) (*models.ConversationSession, error) {
	var s models.ConversationSession
	if err := json.Unmarshal([]byte(rec.State), &s); err != nil {
		return nil, fmt.Errorf("decode session %s:%s: %w", rec.TenantID, rec.PhoneKey, err)
	}
	// The row's version column is authoritative
	s.Version = rec.Version
	if s.Cart == nil {
		s.Cart = []models.CartLine{}
	}
	return &s, nil
}
