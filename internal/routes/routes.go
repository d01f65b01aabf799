package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/Ananth-NQI/orderbot-backend/internal/handlers"
	"github.com/Ananth-NQI/orderbot-backend/internal/logger"
	"github.com/Ananth-NQI/orderbot-backend/internal/middleware"
)

// Options selects which routes are mounted and how they are protected
type Options struct {
	Version           string
	ValidateSignature bool
	TwilioAuthToken   string
	PublicURL         string
	AdminKey          string
	// EnableTestRoutes mounts /test/whatsapp, development only
	EnableTestRoutes bool
}

// SetupRoutes configures all API routes
func SetupRoutes(app *fiber.App, wa *handlers.WhatsAppHandler, health *handlers.HealthHandler, admin *handlers.AdminHandler, opts Options) {

	// Root endpoint
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"message": "Welcome to OrderBot Backend!",
			"version": opts.Version,
			"endpoints": fiber.Map{
				"health":  "/health",
				"webhook": "/webhook/whatsapp",
				"admin":   "/admin",
			},
		})
	})

	app.Get("/health", health.Check)

	// ========== WEBHOOK ROUTES ==========
	webhooks := app.Group("/webhook")
	if opts.ValidateSignature {
		webhooks.Use(middleware.ValidateTwilioSignature(opts.TwilioAuthToken, opts.PublicURL))
	} else {
		logger.Warn().Msg("⚠️  WhatsApp webhook validation DISABLED")
	}
	// The tenant comes from the path, or from the number the customer wrote to
	webhooks.Post("/whatsapp", wa.HandleWebhook)
	webhooks.Post("/whatsapp/:tenant", wa.HandleWebhook)

	// ========== TEST ROUTES (Development Only) ==========
	if opts.EnableTestRoutes {
		app.Post("/test/whatsapp", wa.HandleTestWebhook)
	}

	// ========== ADMIN ROUTES ==========
	if admin != nil {
		adm := app.Group("/admin", middleware.RequireAdminKey(opts.AdminKey))
		adm.Get("/tenants", admin.ListTenants)
		adm.Patch("/tenants/:tenantID", admin.UpdateTenantFlags)
		adm.Post("/catalog/purge", admin.PurgeCatalogCache)
	}
}
