package services

import (
	"fmt"
	"strings"

	"github.com/Ananth-NQI/orderbot-backend/internal/models"
)

// RenderText flattens an outbound message for channels without native
// lists or buttons. List rows are numbered so a bare number can select them.
func RenderText(msg models.OutboundMessage) string {
	var b strings.Builder
	b.WriteString(msg.Body)

	switch msg.Kind {
	case models.OutboundList:
		if len(msg.Options) == 0 {
			break
		}
		b.WriteString("\n")
		for i, opt := range msg.Options {
			fmt.Fprintf(&b, "\n%d. %s", i+1, opt.Title)
			if opt.Description != "" {
				fmt.Fprintf(&b, " - %s", opt.Description)
			}
		}
		b.WriteString("\n\nReply with a number or a name.")
	case models.OutboundQuickReply:
		if len(msg.Options) == 0 {
			break
		}
		titles := make([]string, len(msg.Options))
		for i, opt := range msg.Options {
			titles[i] = "*" + opt.Title + "*"
		}
		b.WriteString("\n\nReply: ")
		b.WriteString(strings.Join(titles, " | "))
	}
	return b.String()
}

// FormatMoney renders minor units with the tenant currency
func FormatMoney(minor int64, currency string) string {
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	amount := fmt.Sprintf("%s%d.%02d", sign, minor/100, minor%100)
	if currency == "" {
		return amount
	}
	return currency + " " + amount
}
