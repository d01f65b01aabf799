package models

// InboundMessage is what the transport hands to the engine
type InboundMessage struct {
	TenantID   string      `json:"tenant_id"`
	From       string      `json:"from"` // raw sender address, any surface format
	Body       string      `json:"body"`
	ReplyID    string      `json:"reply_id,omitempty"` // id of a tapped list row or button
	Coordinate *Coordinate `json:"coordinate,omitempty"`
	Address    string      `json:"address,omitempty"`
	MessageSID string      `json:"message_sid,omitempty"`
}

// OutboundKind selects how an outbound message is rendered
type OutboundKind string

const (
	OutboundText       OutboundKind = "text"
	OutboundList       OutboundKind = "list"
	OutboundQuickReply OutboundKind = "quick_reply"
	OutboundMedia      OutboundKind = "media"
)

// Option is one selectable row or button. ID is echoed back as the reply id.
type Option struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// OutboundMessage is one message the engine wants delivered
type OutboundMessage struct {
	Kind     OutboundKind `json:"kind"`
	Body     string       `json:"body"`
	Button   string       `json:"button,omitempty"` // list picker open label
	Options  []Option     `json:"options,omitempty"`
	MediaURL string       `json:"media_url,omitempty"`
}

// Text builds a plain text message
func Text(body string) OutboundMessage {
	return OutboundMessage{Kind: OutboundText, Body: body}
}

// List builds a list picker
func List(body, button string, options []Option) OutboundMessage {
	return OutboundMessage{Kind: OutboundList, Body: body, Button: button, Options: options}
}

// QuickReply builds a button set
func QuickReply(body string, options ...Option) OutboundMessage {
	return OutboundMessage{Kind: OutboundQuickReply, Body: body, Options: options}
}

// Media builds an attachment with caption
func Media(url, caption string) OutboundMessage {
	return OutboundMessage{Kind: OutboundMedia, MediaURL: url, Body: caption}
}
