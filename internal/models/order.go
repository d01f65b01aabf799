package models

import "time"

// CartLine is one item in the in-progress order. Name and price are snapshots
// taken when the line was added.
type CartLine struct {
	ItemID    string `json:"item_id"`
	Name      string `json:"name"`
	UnitPrice int64  `json:"unit_price"`
	Quantity  int    `json:"quantity"`
}

// Subtotal is unit price times quantity
func (l CartLine) Subtotal() int64 {
	return l.UnitPrice * int64(l.Quantity)
}

// Payment methods offered at checkout
const (
	PaymentMethodCash = "cash"
	PaymentMethodCard = "card"
)

// PaymentMethods is the ordered list shown to customers
var PaymentMethods = []string{PaymentMethodCash, PaymentMethodCard}

// MaterializedOrder is everything the submission backend needs
type MaterializedOrder struct {
	TenantID       string     `json:"tenant_id"`
	CustomerPhone  string     `json:"customer_phone"` // E.164, rendered for the backend
	OrderType      OrderType  `json:"order_type"`
	BranchID       string     `json:"branch_id"`
	Location       *Location  `json:"location,omitempty"`
	Lines          []CartLine `json:"lines"`
	Total          int64      `json:"total"`
	Currency       string     `json:"currency"`
	PaymentMethod  string     `json:"payment_method"`
	IdempotencyKey string     `json:"idempotency_key"`
	Generation     int64      `json:"generation"`
	CreatedAt      time.Time  `json:"created_at"`
}

// SubmissionStatus is the outcome class of a submission attempt
type SubmissionStatus string

const (
	SubmissionSuccess      SubmissionStatus = "success"
	SubmissionRejected     SubmissionStatus = "rejected"
	SubmissionBackendError SubmissionStatus = "backend_error"
	SubmissionTimeout      SubmissionStatus = "timeout"
)

// Rejection reasons understood by the bot
const (
	RejectBranchClosed    = "branch_closed"
	RejectItemUnavailable = "item_unavailable"
	RejectBelowMinimum    = "below_minimum"
	RejectOutOfArea       = "out_of_area"
	RejectMissingBranch   = "missing_branch"
	RejectPaymentDeclined = "payment_declined"
)

// SubmissionResult is what the backend reported for one materialized order
type SubmissionResult struct {
	Status   SubmissionStatus `json:"status"`
	OrderRef string           `json:"order_ref,omitempty"`
	Reason   string           `json:"reason,omitempty"`
	Detail   string           `json:"detail,omitempty"`
}

// OrderStatus is a tracking snapshot from the backend
type OrderStatus struct {
	OrderRef  string    `json:"order_ref"`
	Status    string    `json:"status"`
	UpdatedAt time.Time `json:"updated_at"`
}
