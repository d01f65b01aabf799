package models

import (
	"fmt"
	"time"

	"gorm.io/gorm"
)

// Stage is the position of a conversation inside the ordering workflow
type Stage string

const (
	StageIdle               Stage = "idle"
	StageAwaitingOrderType  Stage = "awaiting_order_type"
	StageAwaitingLocation   Stage = "awaiting_location"
	StageAwaitingBranch     Stage = "awaiting_branch"
	StageBrowsingCategories Stage = "browsing_categories"
	StageBrowsingItems      Stage = "browsing_items"
	StageAwaitingQuantity   Stage = "awaiting_quantity"
	StageCartReview         Stage = "cart_review"
	StageCheckout           Stage = "checkout"
	StageAwaitingPayment    Stage = "awaiting_payment"
	StageSubmitting         Stage = "submitting"
	StagePostSubmission     Stage = "post_submission"
	StageManualHandoff      Stage = "manual_handoff"
	StageDisabled           Stage = "disabled"
)

// AllStages lists the closed set of stages
var AllStages = []Stage{
	StageIdle, StageAwaitingOrderType, StageAwaitingLocation, StageAwaitingBranch,
	StageBrowsingCategories, StageBrowsingItems, StageAwaitingQuantity, StageCartReview,
	StageCheckout, StageAwaitingPayment, StageSubmitting, StagePostSubmission,
	StageManualHandoff, StageDisabled,
}

// Valid reports whether s belongs to the closed stage set
func (s Stage) Valid() bool {
	for _, known := range AllStages {
		if s == known {
			return true
		}
	}
	return false
}

// Absorbing stages short-circuit every message while the tenant flag holds
func (s Stage) Absorbing() bool {
	return s == StageManualHandoff || s == StageDisabled
}

// OrderType is how the customer receives the order
type OrderType string

const (
	OrderTypeUnset    OrderType = ""
	OrderTypeDelivery OrderType = "delivery"
	OrderTypePickup   OrderType = "pickup"
)

// Coordinate is a WGS84 point
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Location is a validated delivery point
type Location struct {
	Coordinate
	Address    string  `json:"address,omitempty"`
	DistanceKm float64 `json:"distance_km"`
}

// PendingItem is an item the customer picked but has not given a quantity for
type PendingItem struct {
	ItemID    string `json:"item_id"`
	Name      string `json:"name"`
	UnitPrice int64  `json:"unit_price"`
}

// PickerKind identifies which list picker a cursor belongs to
type PickerKind string

const (
	PickerNone       PickerKind = ""
	PickerBranches   PickerKind = "branches"
	PickerCategories PickerKind = "categories"
	PickerItems      PickerKind = "items"
)

// PickerContext is the resumable cursor of the last list picker shown
type PickerContext struct {
	Kind       PickerKind `json:"kind"`
	CategoryID string     `json:"category_id,omitempty"`
	Page       int        `json:"page"`
	// RowIDs are the selectable ids on the current page, in display order
	RowIDs []string `json:"row_ids,omitempty"`
}

// SessionFlags are sticky per-session markers
type SessionFlags struct {
	FirstContactSeen bool `json:"first_contact_seen"`
	ManualHandoff    bool `json:"manual_handoff"`
	BotDisabled      bool `json:"bot_disabled"`
}

// ConversationSession is the per (tenant, customer) ordering state
type ConversationSession struct {
	TenantID string `json:"tenant_id"`
	PhoneKey string `json:"phone_key"`

	Stage         Stage        `json:"stage"`
	OrderType     OrderType    `json:"order_type"`
	BranchID      string       `json:"branch_id,omitempty"`
	BranchName    string       `json:"branch_name,omitempty"`
	Location      *Location    `json:"location,omitempty"`
	PendingItem   *PendingItem `json:"pending_item,omitempty"`
	Cart          []CartLine   `json:"cart"`
	PaymentMethod string       `json:"payment_method,omitempty"`

	// SubmissionKey is reused across retries of one order so the backend can deduplicate
	SubmissionKey string `json:"submission_key,omitempty"`

	LastCategoryPage  int           `json:"last_category_page"`
	LastPickerContext PickerContext `json:"last_picker_context"`
	// LastOptions are the buttons and rows offered by the last reply, so a
	// customer who types a title instead of tapping it is still understood
	LastOptions []Option `json:"last_options,omitempty"`

	Flags SessionFlags `json:"flags"`

	// Pointer to the last submitted order, kept across resets for tracking
	LastOrderRef string     `json:"last_order_ref,omitempty"`
	LastOrderAt  *time.Time `json:"last_order_at,omitempty"`

	// Generation is bumped whenever the order in progress is discarded
	Generation int64 `json:"generation"`
	// Version is the optimistic concurrency token owned by the session store
	Version int64 `json:"version"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewConversationSession creates an idle session
func NewConversationSession(tenantID, phoneKey string) *ConversationSession {
	now := time.Now()
	return &ConversationSession{
		TenantID:  tenantID,
		PhoneKey:  phoneKey,
		Stage:     StageIdle,
		Cart:      []CartLine{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// ResetOrder discards the order in progress and bumps the generation
func (s *ConversationSession) ResetOrder() {
	s.OrderType = OrderTypeUnset
	s.BranchID = ""
	s.BranchName = ""
	s.Location = nil
	s.PendingItem = nil
	s.Cart = []CartLine{}
	s.PaymentMethod = ""
	s.SubmissionKey = ""
	s.LastCategoryPage = 0
	s.LastPickerContext = PickerContext{}
	s.Generation++
}

// Clone returns a deep copy so a failed transition never leaks into the stored value
func (s *ConversationSession) Clone() *ConversationSession {
	c := *s
	c.Cart = append([]CartLine(nil), s.Cart...)
	if c.Cart == nil {
		c.Cart = []CartLine{}
	}
	if s.Location != nil {
		loc := *s.Location
		c.Location = &loc
	}
	if s.PendingItem != nil {
		p := *s.PendingItem
		c.PendingItem = &p
	}
	if s.LastOrderAt != nil {
		t := *s.LastOrderAt
		c.LastOrderAt = &t
	}
	c.LastPickerContext.RowIDs = append([]string(nil), s.LastPickerContext.RowIDs...)
	c.LastOptions = append([]Option(nil), s.LastOptions...)
	return &c
}

// RememberOptions records the options offered in out. A turn with no replies
// keeps the previous options.
func (s *ConversationSession) RememberOptions(out []OutboundMessage) {
	if len(out) == 0 {
		return
	}
	var opts []Option
	for _, m := range out {
		opts = append(opts, m.Options...)
	}
	s.LastOptions = opts
}

// CheckInvariants reports the first inconsistency between Stage and the
// order fields, or nil.
func (s *ConversationSession) CheckInvariants(maxQuantity int) error {
	if !s.Stage.Valid() {
		return fmt.Errorf("unknown stage %q", s.Stage)
	}
	for _, l := range s.Cart {
		if l.Quantity < 1 || (maxQuantity > 0 && l.Quantity > maxQuantity) {
			return fmt.Errorf("cart line %s has quantity %d", l.ItemID, l.Quantity)
		}
	}
	switch s.Stage {
	case StageAwaitingQuantity:
		if s.PendingItem == nil {
			return fmt.Errorf("%s without pending item", s.Stage)
		}
	case StageCheckout, StageAwaitingPayment, StageSubmitting:
		switch s.OrderType {
		case OrderTypeDelivery:
			if s.Location == nil {
				return fmt.Errorf("%s delivery without location", s.Stage)
			}
		case OrderTypePickup:
			if s.BranchID == "" {
				return fmt.Errorf("%s pickup without branch", s.Stage)
			}
		default:
			return fmt.Errorf("%s without order type", s.Stage)
		}
		if len(s.Cart) == 0 {
			return fmt.Errorf("%s with empty cart", s.Stage)
		}
	}
	return nil
}

// SessionRecord stores a serialized ConversationSession in PostgreSQL
type SessionRecord struct {
	gorm.Model
	TenantID   string `json:"tenant_id" gorm:"uniqueIndex:idx_session_tenant_phone;size:64"`
	PhoneKey   string `json:"phone_key" gorm:"uniqueIndex:idx_session_tenant_phone;size:32"`
	Stage      string `json:"stage" gorm:"index"`
	Generation int64  `json:"generation"`
	Version    int64  `json:"version"`
	State      string `json:"state"` // JSON encoded ConversationSession
}
