package handlers

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/Ananth-NQI/orderbot-backend/internal/logger"
	"github.com/Ananth-NQI/orderbot-backend/internal/models"
	"github.com/Ananth-NQI/orderbot-backend/internal/services"
	"github.com/Ananth-NQI/orderbot-backend/internal/storage"
	"github.com/Ananth-NQI/orderbot-backend/internal/utils"
)

// MessageHandler is the engine entry point the webhook drives
type MessageHandler interface {
	HandleInboundMessage(ctx context.Context, msg models.InboundMessage) ([]models.OutboundMessage, error)
}

// WhatsAppHandler handles WhatsApp webhook requests
type WhatsAppHandler struct {
	flow          MessageHandler
	sender        services.Sender
	tenants       storage.TenantRegistry
	defaultTenant string
}

// NewWhatsAppHandler creates a new WhatsApp handler. defaultTenant serves
// webhooks that name no tenant and come to an unrecognized number.
func NewWhatsAppHandler(flow MessageHandler, sender services.Sender, tenants storage.TenantRegistry, defaultTenant string) *WhatsAppHandler {
	return &WhatsAppHandler{
		flow:          flow,
		sender:        sender,
		tenants:       tenants,
		defaultTenant: defaultTenant,
	}
}

// TwilioWebhookPayload represents incoming WhatsApp message from Twilio
type TwilioWebhookPayload struct {
	MessageSid    string `form:"MessageSid"`
	AccountSid    string `form:"AccountSid"`
	From          string `form:"From"` // whatsapp:+15551234567
	To            string `form:"To"`   // the tenant's number
	Body          string `form:"Body"`
	ButtonPayload string `form:"ButtonPayload"` // id of a tapped quick reply
	ListID        string `form:"ListId"`        // id of a chosen list row
	Latitude      string `form:"Latitude"`
	Longitude     string `form:"Longitude"`
	Address       string `form:"Address"`
	Label         string `form:"Label"`
	NumMedia      string `form:"NumMedia"`
}

// inbound converts the Twilio form into an engine message
func (p *TwilioWebhookPayload) inbound(tenantID string) (models.InboundMessage, error) {
	msg := models.InboundMessage{
		TenantID:   tenantID,
		From:       p.From,
		Body:       p.Body,
		MessageSID: p.MessageSid,
	}
	switch {
	case p.ButtonPayload != "":
		msg.ReplyID = p.ButtonPayload
	case p.ListID != "":
		msg.ReplyID = p.ListID
	}

	if p.Latitude != "" || p.Longitude != "" {
		lat, err := strconv.ParseFloat(p.Latitude, 64)
		if err != nil {
			return msg, fiber.NewError(fiber.StatusBadRequest, "invalid latitude")
		}
		lng, err := strconv.ParseFloat(p.Longitude, 64)
		if err != nil {
			return msg, fiber.NewError(fiber.StatusBadRequest, "invalid longitude")
		}
		msg.Coordinate = &models.Coordinate{Lat: lat, Lng: lng}
		msg.Address = strings.TrimSpace(strings.Join([]string{p.Label, p.Address}, " "))
	}
	return msg, nil
}

// HandleWebhook processes incoming WhatsApp messages
func (h *WhatsAppHandler) HandleWebhook(c *fiber.Ctx) error {
	var payload TwilioWebhookPayload
	if err := c.BodyParser(&payload); err != nil {
		logger.Warn().Err(err).Msg("Error parsing webhook")
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid webhook payload",
		})
	}

	// Status callbacks carry no content
	if payload.From == "" {
		return c.SendStatus(fiber.StatusOK)
	}

	tenantID, err := h.tenantFor(c.UserContext(), c.Params("tenant"), payload.To)
	if err != nil {
		logger.Warn().Err(err).Str("to", payload.To).Msg("No tenant for webhook")
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Unknown tenant"})
	}

	msg, err := payload.inbound(tenantID)
	if err != nil {
		return err
	}

	out, err := h.flow.HandleInboundMessage(c.UserContext(), msg)
	if err != nil {
		return h.engineError(c, tenantID, err)
	}

	to, _ := utils.CanonicalizePhone(payload.From)
	h.deliver(c.UserContext(), tenantID, to, out)

	// Acknowledge webhook receipt
	return c.SendStatus(fiber.StatusOK)
}

func (h *WhatsAppHandler) engineError(c *fiber.Ctx, tenantID string, err error) error {
	switch {
	case errors.Is(err, utils.ErrMalformedAddress):
		// Nothing to reply to; retrying would not help
		logger.Warn().Err(err).Str("tenant_id", tenantID).Msg("Dropped message from malformed address")
		return c.SendStatus(fiber.StatusOK)
	case errors.Is(err, storage.ErrTenantNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Unknown tenant"})
	case errors.Is(err, services.ErrSessionBusy):
		logger.Warn().Err(err).Str("tenant_id", tenantID).Msg("Session busy, asking Twilio to retry")
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "Busy"})
	}
	logger.Error().Err(err).Str("tenant_id", tenantID).Msg("Error processing message")
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Processing failed"})
}

func (h *WhatsAppHandler) deliver(ctx context.Context, tenantID string, to utils.PhoneKey, out []models.OutboundMessage) {
	for _, m := range out {
		if err := h.sender.Send(ctx, tenantID, to, m); err != nil {
			logger.Error().Err(err).Str("tenant_id", tenantID).Str("to", utils.MaskPhone(to)).Msg("❌ Failed to send WhatsApp response")
			return
		}
	}
}

// tenantFor picks the tenant from the route, then the receiving number
func (h *WhatsAppHandler) tenantFor(ctx context.Context, param, to string) (string, error) {
	if param != "" {
		return param, nil
	}
	if to != "" && h.tenants != nil {
		want, err := utils.CanonicalizePhone(to)
		if err == nil {
			tenants, err := h.tenants.ListTenants(ctx)
			if err != nil {
				return "", err
			}
			for _, t := range tenants {
				if t.WhatsAppFrom == "" {
					continue
				}
				if got, err := utils.CanonicalizePhone(t.WhatsAppFrom); err == nil && got == want {
					return t.ID, nil
				}
			}
		}
	}
	if h.defaultTenant != "" {
		return h.defaultTenant, nil
	}
	return "", storage.ErrTenantNotFound
}

// TestWebhookPayload drives the engine without Twilio
type TestWebhookPayload struct {
	TenantID string   `json:"tenant_id"`
	From     string   `json:"from"`
	Message  string   `json:"message"`
	ReplyID  string   `json:"reply_id"`
	Lat      *float64 `json:"lat"`
	Lng      *float64 `json:"lng"`
	Address  string   `json:"address"`
}

// HandleTestWebhook processes test WhatsApp messages (for development) and
// returns the replies instead of sending them
func (h *WhatsAppHandler) HandleTestWebhook(c *fiber.Ctx) error {
	var payload TestWebhookPayload
	if err := c.BodyParser(&payload); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid test payload",
		})
	}

	tenantID := payload.TenantID
	if tenantID == "" {
		tenantID = h.defaultTenant
	}
	msg := models.InboundMessage{
		TenantID: tenantID,
		From:     payload.From,
		Body:     payload.Message,
		ReplyID:  payload.ReplyID,
		Address:  payload.Address,
	}
	if payload.Lat != nil && payload.Lng != nil {
		msg.Coordinate = &models.Coordinate{Lat: *payload.Lat, Lng: *payload.Lng}
	}

	logger.Debug().Str("tenant_id", tenantID).Msg("🧪 Test webhook received")

	out, err := h.flow.HandleInboundMessage(c.UserContext(), msg)
	if err != nil {
		if errors.Is(err, utils.ErrMalformedAddress) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}
		return h.engineError(c, tenantID, err)
	}

	rendered := make([]string, len(out))
	for i, m := range out {
		rendered[i] = services.RenderText(m)
	}
	return c.JSON(fiber.Map{
		"success":  true,
		"messages": out,
		"rendered": rendered,
	})
}
