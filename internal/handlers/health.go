package handlers

import (
	"github.com/gofiber/fiber/v2"
)

// HealthStatus reports on the collaborators the bot depends on
type HealthStatus struct {
	SessionBackend   string
	TwilioConfigured bool
	// Ping checks the session store, nil when it cannot be checked
	Ping func() error
	// ActiveSessions is the number of conversations being processed
	ActiveSessions func() int
}

// HealthHandler handles health check requests
type HealthHandler struct {
	Version string
	status  HealthStatus
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(version string, status HealthStatus) *HealthHandler {
	return &HealthHandler{
		Version: version,
		status:  status,
	}
}

// Check returns the health status of the service
func (h *HealthHandler) Check(c *fiber.Ctx) error {
	status := "healthy"
	code := fiber.StatusOK
	storeOK := true
	if h.status.Ping != nil {
		if err := h.status.Ping(); err != nil {
			storeOK = false
			status = "unhealthy"
			code = fiber.StatusServiceUnavailable
		}
	}

	active := 0
	if h.status.ActiveSessions != nil {
		active = h.status.ActiveSessions()
	}

	return c.Status(code).JSON(fiber.Map{
		"status":  status,
		"service": "OrderBot Backend",
		"version": h.Version,
		"services": fiber.Map{
			"sessions":        h.status.SessionBackend,
			"session_store":   storeOK,
			"twilio":          h.status.TwilioConfigured,
			"active_sessions": active,
		},
	})
}
