package services

import (
	"context"

	"github.com/Ananth-NQI/orderbot-backend/internal/models"
	"github.com/Ananth-NQI/orderbot-backend/internal/storage"
)

// TenantContext is the read-only view of a tenant for one inbound message.
// It is fetched fresh per message so flag flips apply immediately.
type TenantContext struct {
	Tenant   models.Tenant
	Catalog  storage.Catalog
	Branches storage.BranchRegistry
}

// BotEnabled reports whether automated handling is on
func (t *TenantContext) BotEnabled() bool { return t.Tenant.BotEnabled }

// Synthetic reports whether orders are taken by staff instead of the bot
func (t *TenantContext) Synthetic() bool { return t.Tenant.Synthetic }

// SupportContact is the number customers are pointed to for help
func (t *TenantContext) SupportContact() string { return t.Tenant.SupportContact }

// TenantResolver builds a TenantContext for each message
type TenantResolver struct {
	registry storage.TenantRegistry
	catalog  storage.Catalog
	branches storage.BranchRegistry
}

// NewTenantResolver creates a tenant resolver
func NewTenantResolver(registry storage.TenantRegistry, catalog storage.Catalog, branches storage.BranchRegistry) *TenantResolver {
	return &TenantResolver{registry: registry, catalog: catalog, branches: branches}
}

// Resolve loads tenantID, returning storage.ErrTenantNotFound for unknown ids
func (r *TenantResolver) Resolve(ctx context.Context, tenantID string) (*TenantContext, error) {
	t, err := r.registry.GetTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return &TenantContext{Tenant: *t, Catalog: r.catalog, Branches: r.branches}, nil
}
