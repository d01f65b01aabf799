package storage

import (
	"context"
	"errors"
	"time"

	"github.com/Ananth-NQI/orderbot-backend/internal/models"
	"github.com/Ananth-NQI/orderbot-backend/internal/utils"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExists   = errors.New("session already exists")
	ErrVersionConflict = errors.New("session version conflict")
	ErrTenantNotFound  = errors.New("tenant not found")
	ErrNotFound        = errors.New("not found")
)

// SessionKey identifies one conversation: a customer talking to one tenant
type SessionKey struct {
	TenantID string
	PhoneKey utils.PhoneKey
}

func (k SessionKey) String() string {
	return k.TenantID + ":" + string(k.PhoneKey)
}

// KeyOf returns the key a session is stored under
func KeyOf(s *models.ConversationSession) SessionKey {
	return SessionKey{TenantID: s.TenantID, PhoneKey: utils.PhoneKey(s.PhoneKey)}
}

// SessionStore persists conversation sessions with optimistic versioning
type SessionStore interface {
	// GetSession returns ErrSessionNotFound for unknown keys
	GetSession(ctx context.Context, key SessionKey) (*models.ConversationSession, error)
	// CreateSession stores a new session at version 1, ErrSessionExists if taken
	CreateSession(ctx context.Context, session *models.ConversationSession) error
	// PutSessionIfVersion replaces the stored session only if its version is
	// still expected, then sets session.Version to expected+1
	PutSessionIfVersion(ctx context.Context, session *models.ConversationSession, expected int64) error
	// ListIdleSessions returns in-progress sessions untouched since before
	ListIdleSessions(ctx context.Context, before time.Time, limit int) ([]SessionKey, error)
}

// TenantRegistry resolves tenant configuration
type TenantRegistry interface {
	GetTenant(ctx context.Context, tenantID string) (*models.Tenant, error)
	ListTenants(ctx context.Context) ([]models.Tenant, error)
}

// TenantAdmin flips a tenant's bot flags at runtime
type TenantAdmin interface {
	UpdateTenantFlags(ctx context.Context, tenantID string, botEnabled, synthetic bool) (*models.Tenant, error)
}

// BranchRegistry lists a tenant's branches
type BranchRegistry interface {
	ListBranches(ctx context.Context, tenantID string) ([]models.Branch, error)
}

// Catalog is read-only menu access. FindByFuzzyName returns nil, nil when
// nothing in scope matches.
type Catalog interface {
	// ListCategories pages through categories; pageSize <= 0 returns all of them
	ListCategories(ctx context.Context, tenantID string, page, pageSize int) (*models.CategoryPage, error)
	GetCategory(ctx context.Context, tenantID, categoryID string) (*models.Category, error)
	ListItems(ctx context.Context, tenantID, categoryID string) ([]models.Item, error)
	GetItem(ctx context.Context, tenantID, itemID string) (*models.Item, error)
	FindByFuzzyName(ctx context.Context, tenantID string, scope models.Scope, text string) (*models.Entity, error)
}

// Store is everything the bot reads and writes
type Store interface {
	SessionStore
	TenantRegistry
	BranchRegistry
	Catalog
}

// inProgress reports whether an idle sweep should consider a stage
func inProgress(stage models.Stage) bool {
	switch stage {
	case models.StageIdle, models.StagePostSubmission, models.StageManualHandoff, models.StageDisabled:
		return false
	}
	return true
}
