package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/Ananth-NQI/orderbot-backend/internal/logger"
	"github.com/Ananth-NQI/orderbot-backend/internal/storage"
)

// CachePurger drops cached catalog data
type CachePurger interface {
	Purge()
}

// AdminHandler handles admin operations
type AdminHandler struct {
	tenants storage.TenantRegistry
	admin   storage.TenantAdmin
	cache   CachePurger
}

// NewAdminHandler creates a new admin handler. cache may be nil.
func NewAdminHandler(tenants storage.TenantRegistry, admin storage.TenantAdmin, cache CachePurger) *AdminHandler {
	return &AdminHandler{
		tenants: tenants,
		admin:   admin,
		cache:   cache,
	}
}

// ListTenants returns every tenant with its bot mode
func (h *AdminHandler) ListTenants(c *fiber.Ctx) error {
	tenants, err := h.tenants.ListTenants(c.UserContext())
	if err != nil {
		logger.Error().Err(err).Msg("Failed to list tenants")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch tenants",
		})
	}

	out := make([]fiber.Map, 0, len(tenants))
	for i := range tenants {
		t := &tenants[i]
		out = append(out, fiber.Map{
			"id":          t.ID,
			"name":        t.Name,
			"status":      t.Status(),
			"bot_enabled": t.BotEnabled,
			"synthetic":   t.Synthetic,
		})
	}
	return c.JSON(fiber.Map{
		"success": true,
		"tenants": out,
		"count":   len(out),
	})
}

// UpdateTenantFlags turns the bot on or off for a tenant, or hands its
// conversations to staff. Sessions pick the change up on their next message.
func (h *AdminHandler) UpdateTenantFlags(c *fiber.Ctx) error {
	tenantID := c.Params("tenantID")

	var req struct {
		BotEnabled *bool `json:"bot_enabled"`
		Synthetic  *bool `json:"synthetic"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if req.BotEnabled == nil && req.Synthetic == nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "bot_enabled or synthetic is required",
		})
	}

	current, err := h.tenants.GetTenant(c.UserContext(), tenantID)
	if errors.Is(err, storage.ErrTenantNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Tenant not found"})
	}
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to fetch tenant"})
	}

	enabled, synthetic := current.BotEnabled, current.Synthetic
	if req.BotEnabled != nil {
		enabled = *req.BotEnabled
	}
	if req.Synthetic != nil {
		synthetic = *req.Synthetic
	}

	updated, err := h.admin.UpdateTenantFlags(c.UserContext(), tenantID, enabled, synthetic)
	if err != nil {
		logger.Error().Err(err).Str("tenant_id", tenantID).Msg("Failed to update tenant flags")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to update tenant",
		})
	}

	logger.Info().
		Str("tenant_id", tenantID).
		Bool("bot_enabled", updated.BotEnabled).
		Bool("synthetic", updated.Synthetic).
		Msg("Tenant flags updated")

	return c.JSON(fiber.Map{
		"success": true,
		"tenant": fiber.Map{
			"id":          updated.ID,
			"status":      updated.Status(),
			"bot_enabled": updated.BotEnabled,
			"synthetic":   updated.Synthetic,
		},
	})
}

// PurgeCatalogCache makes menu edits visible immediately
func (h *AdminHandler) PurgeCatalogCache(c *fiber.Ctx) error {
	if h.cache != nil {
		h.cache.Purge()
	}
	logger.Info().Msg("Catalog cache purged")
	return c.JSON(fiber.Map{"success": true})
}
