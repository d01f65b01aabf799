package models

import "time"

// Tenant is one restaurant running a bot on the shared process
type Tenant struct {
	ID             string `json:"id" gorm:"primaryKey;size:64" koanf:"id"`
	Name           string `json:"name" koanf:"name"`
	BotEnabled     bool   `json:"bot_enabled" koanf:"bot_enabled"`
	Synthetic      bool   `json:"synthetic" koanf:"synthetic"` // orders handled by staff, not the bot
	SupportContact string `json:"support_contact" koanf:"support_contact"`
	AppURL         string `json:"app_url" koanf:"app_url"`
	Currency       string `json:"currency" koanf:"currency"`
	MerchantPhone  string `json:"merchant_phone" koanf:"merchant_phone"` // receives fallback order copies
	WhatsAppFrom   string `json:"whatsapp_from" koanf:"whatsapp_from"`   // sender number for this tenant

	CreatedAt time.Time `json:"created_at" koanf:"-"`
	UpdatedAt time.Time `json:"updated_at" koanf:"-"`
}

// Branch is a physical restaurant location. IDs are unique within a tenant.
type Branch struct {
	TenantID         string  `json:"tenant_id" gorm:"primaryKey;size:64" koanf:"tenant_id"`
	ID               string  `json:"id" gorm:"primaryKey;size:64" koanf:"id"`
	Name             string  `json:"name" koanf:"name"`
	Address          string  `json:"address" koanf:"address"`
	Lat              float64 `json:"lat" koanf:"lat"`
	Lng              float64 `json:"lng" koanf:"lng"`
	DeliveryRadiusKm float64 `json:"delivery_radius_km" koanf:"delivery_radius_km"`
	Open             bool    `json:"open" koanf:"open"`
	Position         int     `json:"position" koanf:"position"`
}

// TenantStatus constants used in logs and health output
const (
	TenantStatusActive    = "active"
	TenantStatusSynthetic = "synthetic"
	TenantStatusDisabled  = "disabled"
)

// Status summarizes the tenant's bot mode
func (t *Tenant) Status() string {
	switch {
	case !t.BotEnabled:
		return TenantStatusDisabled
	case t.Synthetic:
		return TenantStatusSynthetic
	default:
		return TenantStatusActive
	}
}
