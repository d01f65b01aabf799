package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/Ananth-NQI/orderbot-backend/internal/models"
	"github.com/Ananth-NQI/orderbot-backend/internal/storage"
	"github.com/Ananth-NQI/orderbot-backend/internal/utils"
)

// MerchantNotifier is a fallback SubmissionBackend that forwards the order to
// the merchant's own WhatsApp number for manual entry.
type MerchantNotifier struct {
	tenants storage.TenantRegistry
	sender  Sender
}

// NewMerchantNotifier creates a merchant notifier
func NewMerchantNotifier(tenants storage.TenantRegistry, sender Sender) *MerchantNotifier {
	return &MerchantNotifier{tenants: tenants, sender: sender}
}

func (m *MerchantNotifier) SubmitOrder(ctx context.Context, order *models.MaterializedOrder) (*models.SubmissionResult, error) {
	tenant, err := m.tenants.GetTenant(ctx, order.TenantID)
	if err != nil {
		return nil, err
	}
	if tenant.MerchantPhone == "" {
		return nil, fmt.Errorf("tenant %s has no merchant phone", tenant.ID)
	}
	merchant, err := utils.CanonicalizePhone(tenant.MerchantPhone)
	if err != nil {
		return nil, fmt.Errorf("merchant phone: %w", err)
	}

	ref := utils.GenerateOrderRef("M")
	if err := m.sender.Send(ctx, tenant.ID, merchant, models.Text(merchantTicket(ref, tenant, order))); err != nil {
		return nil, err
	}
	return &models.SubmissionResult{Status: models.SubmissionSuccess, OrderRef: ref}, nil
}

func merchantTicket(ref string, tenant *models.Tenant, order *models.MaterializedOrder) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🧾 New WhatsApp order %s\n", ref)
	fmt.Fprintf(&b, "Customer: %s\n", order.CustomerPhone)
	fmt.Fprintf(&b, "Type: %s\n", order.OrderType)
	if order.BranchID != "" {
		fmt.Fprintf(&b, "Branch: %s\n", order.BranchID)
	}
	if order.Location != nil {
		fmt.Fprintf(&b, "Location: %.5f,%.5f", order.Location.Lat, order.Location.Lng)
		if order.Location.Address != "" {
			fmt.Fprintf(&b, " (%s)", order.Location.Address)
		}
		b.WriteString("\n")
	}
	b.WriteString("\n")
	for _, l := range order.Lines {
		fmt.Fprintf(&b, "%dx %s  %s\n", l.Quantity, l.Name, FormatMoney(l.Subtotal(), tenant.Currency))
	}
	fmt.Fprintf(&b, "\nTotal: %s\nPayment: %s", FormatMoney(order.Total, tenant.Currency), order.PaymentMethod)
	return b.String()
}
