package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Ananth-NQI/orderbot-backend/internal/models"
)

// Prompter regenerates the prompt for any stage from the session alone, so
// an unrecognized message can always be answered with the right question.
type Prompter struct {
	pageSize    int
	maxQuantity int
	ioTimeout   time.Duration
}

// NewPrompter creates a prompter. pageSize rows are shown per list page.
func NewPrompter(pageSize, maxQuantity int, ioTimeout time.Duration) *Prompter {
	if pageSize < 1 {
		pageSize = 9
	}
	return &Prompter{pageSize: pageSize, maxQuantity: maxQuantity, ioTimeout: ioTimeout}
}

func (p *Prompter) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.ioTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, p.ioTimeout)
}

// Prompt returns the stage question. Picker stages also move the session's
// picker cursor to the page shown.
func (p *Prompter) Prompt(ctx context.Context, s *models.ConversationSession, tc *TenantContext) []models.OutboundMessage {
	switch s.Stage {
	case models.StageIdle:
		return []models.OutboundMessage{mainMenu("What would you like to do?")}

	case models.StageAwaitingOrderType:
		return []models.OutboundMessage{models.QuickReply(
			"Would you like delivery or pickup?",
			models.Option{ID: prefixOrderType + string(models.OrderTypeDelivery), Title: "🛵 Delivery"},
			models.Option{ID: prefixOrderType + string(models.OrderTypePickup), Title: "🏪 Pickup"},
		)}

	case models.StageAwaitingLocation:
		return []models.OutboundMessage{models.Text(
			"📍 Please share your delivery location.\nTap the attachment icon, choose *Location* and send your current location or pick one on the map.")}

	case models.StageAwaitingBranch:
		return p.branchPicker(ctx, s, tc)

	case models.StageBrowsingCategories:
		return p.categoryPicker(ctx, s, tc)

	case models.StageBrowsingItems:
		return p.itemPicker(ctx, s, tc)

	case models.StageAwaitingQuantity:
		name := "this item"
		if s.PendingItem != nil {
			name = "*" + s.PendingItem.Name + "*"
		}
		return []models.OutboundMessage{models.Text(
			fmt.Sprintf("How many %s would you like? Reply with a number from 1 to %d.", name, p.maxQuantity))}

	case models.StageCartReview:
		return []models.OutboundMessage{p.cartReview(s, tc)}

	case models.StageCheckout:
		opts := make([]models.Option, 0, len(models.PaymentMethods))
		for _, m := range models.PaymentMethods {
			opts = append(opts, models.Option{ID: prefixPay + m, Title: paymentTitle(m)})
		}
		return []models.OutboundMessage{models.QuickReply(
			orderSummary(s, tc)+"\n\nHow would you like to pay?", opts...)}

	case models.StageAwaitingPayment:
		return []models.OutboundMessage{retryPrompt(s, "We couldn't place your order yet. Your cart is saved.")}

	case models.StageSubmitting:
		return []models.OutboundMessage{models.Text("⏳ We're placing your order, one moment...")}

	case models.StagePostSubmission:
		body := "Anything else?"
		if s.LastOrderRef != "" {
			body = fmt.Sprintf("Your last order is *%s*. Anything else?", s.LastOrderRef)
		}
		return []models.OutboundMessage{mainMenu(body)}

	case models.StageManualHandoff:
		return []models.OutboundMessage{conciergeGreeting(tc)}
	}
	return nil
}

func mainMenu(body string) models.OutboundMessage {
	return models.QuickReply(body,
		models.Option{ID: ReplyNewOrder, Title: "🛒 New order"},
		models.Option{ID: ReplyTrack, Title: "📦 Track order"},
		models.Option{ID: ReplySupport, Title: "💬 Support"},
	)
}

func conciergeGreeting(tc *TenantContext) models.OutboundMessage {
	name := "us"
	if tc != nil && tc.Tenant.Name != "" {
		name = tc.Tenant.Name
	}
	return models.Text(fmt.Sprintf("👋 Thanks for messaging %s! A team member will take your order here shortly.", name))
}

func retryPrompt(s *models.ConversationSession, body string) models.OutboundMessage {
	opts := []models.Option{}
	if s.PaymentMethod != "" {
		opts = append(opts, models.Option{ID: prefixPay + s.PaymentMethod, Title: "🔁 Try again"})
	}
	opts = append(opts,
		models.Option{ID: ReplyCheckout, Title: "💳 Change payment"},
		models.Option{ID: ReplyCartView, Title: "🧺 View cart"},
	)
	return models.QuickReply(body, opts...)
}

func paymentTitle(method string) string {
	switch method {
	case models.PaymentMethodCash:
		return "💵 Cash"
	case models.PaymentMethodCard:
		return "💳 Card"
	}
	return method
}

// pageWindow returns the [start, end) slice bounds of page and whether a
// later page exists. Out of range pages clamp to the last page.
func (p *Prompter) pageWindow(total, page int) (int, int, int, bool) {
	if page < 0 {
		page = 0
	}
	if total > 0 && page*p.pageSize >= total {
		page = (total - 1) / p.pageSize
	}
	start := page * p.pageSize
	end := start + p.pageSize
	if end > total {
		end = total
	}
	return page, start, end, end < total
}

func (p *Prompter) setPicker(s *models.ConversationSession, kind models.PickerKind, categoryID string, page int, opts []models.Option) {
	ids := make([]string, len(opts))
	for i, o := range opts {
		ids[i] = o.ID
	}
	s.LastPickerContext = models.PickerContext{Kind: kind, CategoryID: categoryID, Page: page, RowIDs: ids}
}

func (p *Prompter) branchPicker(ctx context.Context, s *models.ConversationSession, tc *TenantContext) []models.OutboundMessage {
	lookupCtx, cancel := p.withTimeout(ctx)
	defer cancel()

	branches, err := tc.Branches.ListBranches(lookupCtx, s.TenantID)
	if err != nil {
		return []models.OutboundMessage{models.Text("⚠️ We couldn't load our branches right now. Please try again in a moment.")}
	}
	var open []models.Branch
	for _, b := range branches {
		if b.Open {
			open = append(open, b)
		}
	}
	if len(open) == 0 {
		return []models.OutboundMessage{models.Text("😔 None of our branches are open for pickup right now.")}
	}

	page := 0
	if s.LastPickerContext.Kind == models.PickerBranches {
		page = s.LastPickerContext.Page
	}
	page, start, end, more := p.pageWindow(len(open), page)
	opts := make([]models.Option, 0, end-start+1)
	for _, b := range open[start:end] {
		opts = append(opts, models.Option{ID: prefixBranch + b.ID, Title: b.Name, Description: b.Address})
	}
	if more {
		opts = append(opts, models.Option{ID: pageReplyID(models.PickerBranches, page+1), Title: "More branches..."})
	}
	p.setPicker(s, models.PickerBranches, "", page, opts)
	return []models.OutboundMessage{models.List("🏪 Which branch will you pick up from?", "Branches", opts)}
}

func (p *Prompter) categoryPicker(ctx context.Context, s *models.ConversationSession, tc *TenantContext) []models.OutboundMessage {
	lookupCtx, cancel := p.withTimeout(ctx)
	defer cancel()

	result, err := tc.Catalog.ListCategories(lookupCtx, s.TenantID, s.LastCategoryPage, p.pageSize)
	if err != nil {
		return []models.OutboundMessage{models.Text("⚠️ We couldn't load the menu right now. Please try again in a moment.")}
	}
	if len(result.Categories) == 0 && s.LastCategoryPage > 0 {
		s.LastCategoryPage = 0
		result, err = tc.Catalog.ListCategories(lookupCtx, s.TenantID, 0, p.pageSize)
		if err != nil {
			return []models.OutboundMessage{models.Text("⚠️ We couldn't load the menu right now. Please try again in a moment.")}
		}
	}
	if len(result.Categories) == 0 {
		return []models.OutboundMessage{models.Text("😔 Our menu is empty right now. Please check back later.")}
	}

	opts := make([]models.Option, 0, len(result.Categories)+1)
	for _, c := range result.Categories {
		opts = append(opts, models.Option{ID: prefixCategory + c.ID, Title: c.Name})
	}
	if result.HasMore {
		opts = append(opts, models.Option{ID: pageReplyID(models.PickerCategories, result.Page+1), Title: "More categories..."})
	}
	s.LastCategoryPage = result.Page
	p.setPicker(s, models.PickerCategories, "", result.Page, opts)
	return []models.OutboundMessage{models.List("📋 What would you like to order?", "Menu", opts)}
}

func (p *Prompter) itemPicker(ctx context.Context, s *models.ConversationSession, tc *TenantContext) []models.OutboundMessage {
	lookupCtx, cancel := p.withTimeout(ctx)
	defer cancel()

	categoryID := s.LastPickerContext.CategoryID
	items, err := tc.Catalog.ListItems(lookupCtx, s.TenantID, categoryID)
	if err != nil {
		return []models.OutboundMessage{models.Text("⚠️ We couldn't load the menu right now. Please try again in a moment.")}
	}
	var available []models.Item
	for _, it := range items {
		if it.Available {
			available = append(available, it)
		}
	}

	title := "Items"
	if cat, err := tc.Catalog.GetCategory(lookupCtx, s.TenantID, categoryID); err == nil {
		title = cat.Name
	}
	if len(available) == 0 {
		return []models.OutboundMessage{models.QuickReply(
			fmt.Sprintf("😔 Nothing in %s is available right now.", title),
			models.Option{ID: ReplyAddMore, Title: "📋 Other categories"},
		)}
	}

	page, start, end, more := p.pageWindow(len(available), s.LastPickerContext.Page)
	opts := make([]models.Option, 0, end-start+1)
	for _, it := range available[start:end] {
		opts = append(opts, models.Option{
			ID:          prefixItem + it.ID,
			Title:       it.Name,
			Description: FormatMoney(it.Price, tc.Tenant.Currency),
		})
	}
	if more {
		opts = append(opts, models.Option{ID: pageReplyID(models.PickerItems, page+1), Title: "More items..."})
	}
	p.setPicker(s, models.PickerItems, categoryID, page, opts)
	return []models.OutboundMessage{models.List(fmt.Sprintf("🍽️ %s", title), "Choose", opts)}
}

func (p *Prompter) cartReview(s *models.ConversationSession, tc *TenantContext) models.OutboundMessage {
	if len(s.Cart) == 0 {
		return models.QuickReply("🧺 Your cart is empty.",
			models.Option{ID: ReplyAddMore, Title: "📋 Browse menu"},
		)
	}
	return models.QuickReply(cartSummary(s, tc)+"\n\nTo remove something, reply e.g. \"remove 1\".",
		models.Option{ID: ReplyCheckout, Title: "✅ Checkout"},
		models.Option{ID: ReplyAddMore, Title: "➕ Add more"},
		models.Option{ID: ReplyCartView, Title: "🧺 View cart"},
	)
}

func cartSummary(s *models.ConversationSession, tc *TenantContext) string {
	currency := ""
	if tc != nil {
		currency = tc.Tenant.Currency
	}
	var b strings.Builder
	b.WriteString("🧺 *Your cart*\n")
	var total int64
	for i, l := range s.Cart {
		fmt.Fprintf(&b, "\n%d. %dx %s  %s", i+1, l.Quantity, l.Name, FormatMoney(l.Subtotal(), currency))
		total += l.Subtotal()
	}
	fmt.Fprintf(&b, "\n\n*Total: %s*", FormatMoney(total, currency))
	return b.String()
}

func orderSummary(s *models.ConversationSession, tc *TenantContext) string {
	var b strings.Builder
	b.WriteString(cartSummary(s, tc))
	switch s.OrderType {
	case models.OrderTypeDelivery:
		b.WriteString("\n🛵 Delivery")
		if s.Location != nil && s.Location.Address != "" {
			fmt.Fprintf(&b, " to %s", s.Location.Address)
		}
		if s.BranchName != "" {
			fmt.Fprintf(&b, " from %s", s.BranchName)
		}
	case models.OrderTypePickup:
		fmt.Fprintf(&b, "\n🏪 Pickup at %s", s.BranchName)
	}
	return b.String()
}
