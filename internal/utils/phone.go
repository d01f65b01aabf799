package utils

import (
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedAddress is returned when a sender address has no usable number
var ErrMalformedAddress = errors.New("malformed address")

// PhoneKey is the canonical, channel independent customer identity: the
// international number as bare digits, country code first.
type PhoneKey string

// Channel is a downstream system that needs its own number format
type Channel string

const (
	ChannelWhatsApp Channel = "whatsapp" // "whatsapp:+15551234567", Twilio addressing
	ChannelE164     Channel = "e164"     // "+15551234567", submission backend
	ChannelBare     Channel = "bare"     // "15551234567", storage keys
)

const (
	whatsappPrefix = "whatsapp:"
	minPhoneDigits = 7
	maxPhoneDigits = 15 // E.164 limit
)

// CanonicalizePhone turns any of the observed surface formats
// (whatsapp:+CC..., +CC..., bare digits) into a PhoneKey.
func CanonicalizePhone(raw string) (PhoneKey, error) {
	s := strings.TrimSpace(raw)
	if len(s) >= len(whatsappPrefix) && strings.EqualFold(s[:len(whatsappPrefix)], whatsappPrefix) {
		s = s[len(whatsappPrefix):]
	}
	s = strings.TrimSpace(s)
	plus := strings.HasPrefix(s, "+")

	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()

	// 00 is the international dialing prefix when no plus sign was given
	if !plus && strings.HasPrefix(digits, "00") {
		digits = digits[2:]
	}
	if digits == "" {
		return "", fmt.Errorf("%w: no digits in %q", ErrMalformedAddress, raw)
	}
	if len(digits) < minPhoneDigits || len(digits) > maxPhoneDigits {
		return "", fmt.Errorf("%w: %d digits", ErrMalformedAddress, len(digits))
	}
	if digits[0] == '0' {
		return "", fmt.Errorf("%w: missing country code", ErrMalformedAddress)
	}
	return PhoneKey(digits), nil
}

// ForChannel renders a key in the representation a downstream system expects
func ForChannel(key PhoneKey, channel Channel) string {
	switch channel {
	case ChannelWhatsApp:
		return whatsappPrefix + "+" + string(key)
	case ChannelE164:
		return "+" + string(key)
	default:
		return string(key)
	}
}

// MaskPhone hides all but the last four digits for logs
func MaskPhone(key PhoneKey) string {
	s := string(key)
	if len(s) <= 4 {
		return s
	}
	return strings.Repeat("*", len(s)-4) + s[len(s)-4:]
}

// EnsureWhatsAppPrefix normalizes a configured sender number to Twilio's
// whatsapp:+ form. Unparseable input is returned unchanged.
func EnsureWhatsAppPrefix(number string) string {
	key, err := CanonicalizePhone(number)
	if err != nil {
		return number
	}
	return ForChannel(key, ChannelWhatsApp)
}
