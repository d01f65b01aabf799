package models

// IntentTag is the closed set of classifications for an inbound message
type IntentTag string

const (
	IntentStartOrder          IntentTag = "start_order"
	IntentSelectOrderType     IntentTag = "select_order_type"
	IntentShareLocation       IntentTag = "share_location"
	IntentSelectBranch        IntentTag = "select_branch"
	IntentSelectCategory      IntentTag = "select_category"
	IntentSelectItem          IntentTag = "select_item"
	IntentSetQuantity         IntentTag = "set_quantity"
	IntentViewCart            IntentTag = "view_cart"
	IntentRemoveItem          IntentTag = "remove_item"
	IntentCheckout            IntentTag = "checkout"
	IntentSelectPaymentMethod IntentTag = "select_payment_method"
	IntentTrackOrder          IntentTag = "track_order"
	IntentSupport             IntentTag = "support"
	IntentAppLink             IntentTag = "app_link"
	IntentUnrecognized        IntentTag = "unrecognized"
)

// Control intents are answered from any stage without moving it
func (t IntentTag) Control() bool {
	return t == IntentTrackOrder || t == IntentSupport || t == IntentAppLink
}

// Intent is the normalized meaning of one inbound message
type Intent struct {
	Tag        IntentTag   `json:"tag"`
	ID         string      `json:"id,omitempty"`   // selected entity id or option value
	Page       int         `json:"page,omitempty"` // picker page when the selection was a "more" row
	Text       string      `json:"text,omitempty"`
	Quantity   int         `json:"quantity,omitempty"`
	Coordinate *Coordinate `json:"coordinate,omitempty"`
	Structured bool        `json:"structured"` // came from a reply id rather than free text
}
