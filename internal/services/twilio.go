package services

import (
	"context"
	"fmt"
	"sync"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
	"golang.org/x/time/rate"

	"github.com/Ananth-NQI/orderbot-backend/internal/logger"
	"github.com/Ananth-NQI/orderbot-backend/internal/models"
	"github.com/Ananth-NQI/orderbot-backend/internal/storage"
	"github.com/Ananth-NQI/orderbot-backend/internal/utils"
)

// Sender delivers outbound messages to a customer on behalf of a tenant
type Sender interface {
	Send(ctx context.Context, tenantID string, to utils.PhoneKey, msg models.OutboundMessage) error
}

// messageCreator is the slice of the Twilio API we call
type messageCreator interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

// TwilioSender sends WhatsApp messages through the Twilio REST API
type TwilioSender struct {
	api         messageCreator
	defaultFrom string // Format: "whatsapp:+14155238886"
	tenants     storage.TenantRegistry

	rps   rate.Limit
	burst int
	mu    sync.Mutex
	lims  map[string]*rate.Limiter // per sender number
}

// NewTwilioSender creates a sender. tenants may be nil, in which case every
// tenant sends from defaultFrom.
func NewTwilioSender(accountSid, authToken, defaultFrom string, tenants storage.TenantRegistry, ratePerSecond float64, burst int) (*TwilioSender, error) {
	if accountSid == "" || authToken == "" || defaultFrom == "" {
		return nil, fmt.Errorf("missing Twilio credentials")
	}

	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSid,
		Password: authToken,
	})
	return newTwilioSender(client.Api, defaultFrom, tenants, ratePerSecond, burst), nil
}

func newTwilioSender(api messageCreator, defaultFrom string, tenants storage.TenantRegistry, ratePerSecond float64, burst int) *TwilioSender {
	if burst < 1 {
		burst = 1
	}
	rps := rate.Limit(ratePerSecond)
	if ratePerSecond <= 0 {
		rps = rate.Inf
	}
	return &TwilioSender{
		api:         api,
		defaultFrom: defaultFrom,
		tenants:     tenants,
		rps:         rps,
		burst:       burst,
		lims:        make(map[string]*rate.Limiter),
	}
}

func (t *TwilioSender) limiter(from string) *rate.Limiter {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.lims[from]
	if !ok {
		l = rate.NewLimiter(t.rps, t.burst)
		t.lims[from] = l
	}
	return l
}

func (t *TwilioSender) fromFor(ctx context.Context, tenantID string) string {
	if t.tenants == nil {
		return t.defaultFrom
	}
	tenant, err := t.tenants.GetTenant(ctx, tenantID)
	if err != nil || tenant.WhatsAppFrom == "" {
		return t.defaultFrom
	}
	return utils.EnsureWhatsAppPrefix(tenant.WhatsAppFrom)
}

// Send renders msg and posts it. Lists and buttons are sent as numbered text
// because native interactive messages require pre-approved content templates.
func (t *TwilioSender) Send(ctx context.Context, tenantID string, to utils.PhoneKey, msg models.OutboundMessage) error {
	from := t.fromFor(ctx, tenantID)
	if err := t.limiter(from).Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	params := &twilioApi.CreateMessageParams{}
	params.SetFrom(from)
	params.SetTo(utils.ForChannel(to, utils.ChannelWhatsApp))
	params.SetBody(RenderText(msg))
	if msg.Kind == models.OutboundMedia && msg.MediaURL != "" {
		params.SetMediaUrl([]string{msg.MediaURL})
	}

	resp, err := t.api.CreateMessage(params)
	if err != nil {
		logger.Error().Err(err).Str("tenant_id", tenantID).Str("to", utils.MaskPhone(to)).Msg("❌ Failed to send WhatsApp message")
		return err
	}
	if resp.ErrorCode != nil && *resp.ErrorCode != 0 {
		msg := ""
		if resp.ErrorMessage != nil {
			msg = *resp.ErrorMessage
		}
		return fmt.Errorf("twilio error %d: %s", *resp.ErrorCode, msg)
	}

	sid := ""
	if resp.Sid != nil {
		sid = *resp.Sid
	}
	logger.Debug().Str("tenant_id", tenantID).Str("sid", sid).Msg("✅ WhatsApp message sent")
	return nil
}

// LogSender writes outbound messages to the log instead of a channel. Used in
// development when Twilio is not configured.
type LogSender struct{}

func (LogSender) Send(ctx context.Context, tenantID string, to utils.PhoneKey, msg models.OutboundMessage) error {
	logger.Info().
		Str("tenant_id", tenantID).
		Str("to", utils.MaskPhone(to)).
		Str("kind", string(msg.Kind)).
		Msg(RenderText(msg))
	return nil
}
