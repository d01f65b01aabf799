package services

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/Ananth-NQI/orderbot-backend/internal/logger"
	"github.com/Ananth-NQI/orderbot-backend/internal/models"
	"github.com/Ananth-NQI/orderbot-backend/internal/utils"
)

// Reply id scheme for list rows and buttons. Ids round-trip through WhatsApp
// so they must stay stable across releases.
const (
	ReplyNewOrder    = "new_order"
	ReplyTrack       = "track"
	ReplySupport     = "support"
	ReplyApp         = "app"
	ReplyCartView    = "cart:view"
	ReplyCheckout    = "cart:checkout"
	ReplyAddMore     = "cart:add_more"
	prefixOrderType  = "order_type:"
	prefixBranch     = "branch:"
	prefixBranchPage = "branch_page:"
	prefixCategory   = "cat:"
	prefixCatPage    = "cat_page:"
	prefixItem       = "item:"
	prefixItemPage   = "item_page:"
	prefixQuantity   = "qty:"
	prefixRemove     = "remove:"
	prefixPay        = "pay:"
)

// ParseReplyID maps a structured reply id to an intent. ok is false for ids
// this bot never issued.
func ParseReplyID(id string) (models.Intent, bool) {
	id = strings.TrimSpace(id)
	in := models.Intent{Structured: true}

	switch id {
	case ReplyNewOrder:
		in.Tag = models.IntentStartOrder
		return in, true
	case ReplyTrack:
		in.Tag = models.IntentTrackOrder
		return in, true
	case ReplySupport:
		in.Tag = models.IntentSupport
		return in, true
	case ReplyApp:
		in.Tag = models.IntentAppLink
		return in, true
	case ReplyCartView:
		in.Tag = models.IntentViewCart
		return in, true
	case ReplyCheckout:
		in.Tag = models.IntentCheckout
		return in, true
	case ReplyAddMore:
		in.Tag = models.IntentSelectCategory
		return in, true
	}

	prefixed := []struct {
		prefix string
		tag    models.IntentTag
		page   bool
	}{
		{prefixOrderType, models.IntentSelectOrderType, false},
		{prefixBranchPage, models.IntentSelectBranch, true},
		{prefixBranch, models.IntentSelectBranch, false},
		{prefixCatPage, models.IntentSelectCategory, true},
		{prefixCategory, models.IntentSelectCategory, false},
		{prefixItemPage, models.IntentSelectItem, true},
		{prefixItem, models.IntentSelectItem, false},
		{prefixRemove, models.IntentRemoveItem, false},
		{prefixPay, models.IntentSelectPaymentMethod, false},
	}
	for _, p := range prefixed {
		if !strings.HasPrefix(id, p.prefix) {
			continue
		}
		value := strings.TrimPrefix(id, p.prefix)
		if value == "" {
			return models.Intent{}, false
		}
		in.Tag = p.tag
		if p.page {
			n, err := strconv.Atoi(value)
			if err != nil || n < 0 {
				return models.Intent{}, false
			}
			in.Page = n
		} else {
			in.ID = value
		}
		if in.Tag == models.IntentSelectOrderType && in.ID != string(models.OrderTypeDelivery) && in.ID != string(models.OrderTypePickup) {
			return models.Intent{}, false
		}
		return in, true
	}

	if strings.HasPrefix(id, prefixQuantity) {
		n, err := strconv.Atoi(strings.TrimPrefix(id, prefixQuantity))
		if err != nil {
			return models.Intent{}, false
		}
		in.Tag = models.IntentSetQuantity
		in.Quantity = n
		return in, true
	}
	return models.Intent{}, false
}

func pageReplyID(kind models.PickerKind, page int) string {
	switch kind {
	case models.PickerBranches:
		return prefixBranchPage + strconv.Itoa(page)
	case models.PickerItems:
		return prefixItemPage + strconv.Itoa(page)
	default:
		return prefixCatPage + strconv.Itoa(page)
	}
}

// controlWord is one row of the free-text keyword table
type controlWord struct {
	phrases []string
	intent  models.Intent
	// stages limits where the phrases apply; empty means everywhere
	stages []models.Stage
}

var controlWords = []controlWord{
	{phrases: []string{"new order", "restart", "start over", "start again"}, intent: models.Intent{Tag: models.IntentStartOrder}},
	{phrases: []string{"order", "start", "order now"}, intent: models.Intent{Tag: models.IntentStartOrder},
		stages: []models.Stage{models.StageIdle, models.StagePostSubmission}},
	{phrases: []string{"track", "track order", "status", "order status", "where is my order"}, intent: models.Intent{Tag: models.IntentTrackOrder}},
	{phrases: []string{"help", "support", "agent", "human", "talk to someone"}, intent: models.Intent{Tag: models.IntentSupport}},
	{phrases: []string{"app", "app link", "download app", "get the app"}, intent: models.Intent{Tag: models.IntentAppLink}},
	{phrases: []string{"cart", "basket", "view cart", "my cart", "show cart"}, intent: models.Intent{Tag: models.IntentViewCart}},
	{phrases: []string{"checkout", "check out", "done", "place order", "thats all"}, intent: models.Intent{Tag: models.IntentCheckout}},
	{phrases: []string{"delivery", "deliver", "deliver it"}, intent: models.Intent{Tag: models.IntentSelectOrderType, ID: string(models.OrderTypeDelivery)}},
	{phrases: []string{"pickup", "pick up", "takeaway", "take away", "collect"}, intent: models.Intent{Tag: models.IntentSelectOrderType, ID: string(models.OrderTypePickup)}},
	{phrases: []string{"cash", "cash on delivery", "pay cash"}, intent: models.Intent{Tag: models.IntentSelectPaymentMethod, ID: models.PaymentMethodCash}},
	{phrases: []string{"card", "credit card", "pay by card", "debit card"}, intent: models.Intent{Tag: models.IntentSelectPaymentMethod, ID: models.PaymentMethodCard}},
	{phrases: []string{"add more", "more", "menu", "browse", "categories", "back to menu"}, intent: models.Intent{Tag: models.IntentSelectCategory}},
}

var (
	morePhrases     = []string{"more", "next", "next page", "show more"}
	retryPhrases    = []string{"try again", "retry", "again"}
	removePrefixes  = []string{"remove ", "delete ", "drop "}
	pickerStages    = []models.Stage{models.StageAwaitingBranch, models.StageBrowsingCategories, models.StageBrowsingItems}
	fuzzyScopeStage = map[models.Stage]models.ScopeKind{
		models.StageAwaitingBranch:     models.ScopeBranches,
		models.StageBrowsingCategories: models.ScopeCategories,
		models.StageBrowsingItems:      models.ScopeItems,
		models.StageCartReview:         models.ScopeCategories,
	}
)

// IntentResolver classifies inbound messages. Structured replies always win;
// free text goes through control words, scoped catalog matching and numbers,
// in that order.
type IntentResolver struct {
	ioTimeout time.Duration
}

// NewIntentResolver creates a resolver. ioTimeout bounds each catalog lookup.
func NewIntentResolver(ioTimeout time.Duration) *IntentResolver {
	return &IntentResolver{ioTimeout: ioTimeout}
}

// Resolve never fails: lookup errors degrade to unrecognized
func (r *IntentResolver) Resolve(ctx context.Context, session *models.ConversationSession, tc *TenantContext, msg models.InboundMessage) models.Intent {
	if msg.Coordinate != nil {
		c := *msg.Coordinate
		return models.Intent{Tag: models.IntentShareLocation, Coordinate: &c, Text: msg.Address, Structured: true}
	}

	if msg.ReplyID != "" {
		if in, ok := ParseReplyID(msg.ReplyID); ok {
			in.Text = msg.Body
			return in
		}
		logger.Debug().Str("reply_id", msg.ReplyID).Msg("Unknown reply id, falling back to text")
	}

	text := strings.TrimSpace(msg.Body)
	if text == "" {
		return models.Intent{Tag: models.IntentUnrecognized}
	}
	in := r.resolveText(ctx, session, tc, text)
	in.Text = text
	return in
}

func (r *IntentResolver) resolveText(ctx context.Context, s *models.ConversationSession, tc *TenantContext, text string) models.Intent {
	unrecognized := models.Intent{Tag: models.IntentUnrecognized}

	// Replies are delivered as text, so customers often type a button title
	if in, ok := typedOption(s.LastOptions, text); ok {
		return in
	}

	if hasStage(pickerStages, s.Stage) && utils.WordMatches(text, morePhrases...) {
		if id := nextPageRow(s.LastPickerContext); id != "" {
			in, _ := ParseReplyID(id)
			in.Structured = false
			return in
		}
	}

	if s.Stage == models.StageAwaitingPayment && s.PaymentMethod != "" && utils.WordMatches(text, retryPhrases...) {
		return models.Intent{Tag: models.IntentSelectPaymentMethod, ID: s.PaymentMethod}
	}

	for _, cw := range controlWords {
		if len(cw.stages) > 0 && !hasStage(cw.stages, s.Stage) {
			continue
		}
		if utils.WordMatches(text, cw.phrases...) {
			return cw.intent
		}
	}

	if s.Stage == models.StageCartReview {
		if in, ok := r.resolveRemoval(s, text); ok {
			return in
		}
	}

	if kind, ok := fuzzyScopeStage[s.Stage]; ok && tc != nil && tc.Catalog != nil {
		if in, ok := r.resolveCatalog(ctx, s, tc, kind, text); ok {
			return in
		}
	}

	if n, ok := parseNumber(text); ok {
		if s.Stage == models.StageAwaitingQuantity {
			return models.Intent{Tag: models.IntentSetQuantity, Quantity: n}
		}
		if hasStage(pickerStages, s.Stage) {
			rows := s.LastPickerContext.RowIDs
			if n >= 1 && n <= len(rows) {
				if in, ok := ParseReplyID(rows[n-1]); ok {
					in.Structured = false
					return in
				}
			}
		}
	}

	return unrecognized
}

// typedOption maps text equal to an offered option's title to that option
func typedOption(opts []models.Option, text string) (models.Intent, bool) {
	want := utils.Normalize(text)
	if want == "" {
		return models.Intent{}, false
	}
	for _, opt := range opts {
		if utils.Normalize(opt.Title) != want {
			continue
		}
		if in, ok := ParseReplyID(opt.ID); ok {
			in.Structured = false
			return in, true
		}
	}
	return models.Intent{}, false
}

// resolveRemoval handles "remove <name>" and "remove <line number>"
func (r *IntentResolver) resolveRemoval(s *models.ConversationSession, text string) (models.Intent, bool) {
	lower := strings.ToLower(text)
	for _, p := range removePrefixes {
		if !strings.HasPrefix(lower, p) {
			continue
		}
		target := strings.TrimSpace(text[len(p):])
		if n, ok := parseNumber(target); ok {
			if n >= 1 && n <= len(s.Cart) {
				return models.Intent{Tag: models.IntentRemoveItem, ID: s.Cart[n-1].ItemID}, true
			}
			return models.Intent{}, false
		}
		candidates := make([]utils.Candidate, len(s.Cart))
		for i, l := range s.Cart {
			candidates[i] = utils.Candidate{ID: l.ItemID, Name: l.Name}
		}
		if m, ok := utils.BestMatch(target, candidates); ok {
			return models.Intent{Tag: models.IntentRemoveItem, ID: m.ID}, true
		}
		return models.Intent{}, false
	}
	return models.Intent{}, false
}

func (r *IntentResolver) resolveCatalog(ctx context.Context, s *models.ConversationSession, tc *TenantContext, kind models.ScopeKind, text string) (models.Intent, bool) {
	scope := models.Scope{Kind: kind}
	if kind == models.ScopeItems {
		scope.CategoryID = s.LastPickerContext.CategoryID
		if scope.CategoryID == "" {
			return models.Intent{}, false
		}
	}

	lookupCtx := ctx
	if r.ioTimeout > 0 {
		var cancel context.CancelFunc
		lookupCtx, cancel = context.WithTimeout(ctx, r.ioTimeout)
		defer cancel()
	}

	entity, err := tc.Catalog.FindByFuzzyName(lookupCtx, s.TenantID, scope, text)
	if err != nil {
		logger.Warn().Err(err).Str("tenant_id", s.TenantID).Str("scope", string(kind)).Msg("Catalog lookup failed")
		return models.Intent{}, false
	}
	if entity == nil {
		return models.Intent{}, false
	}

	switch kind {
	case models.ScopeBranches:
		return models.Intent{Tag: models.IntentSelectBranch, ID: entity.ID}, true
	case models.ScopeCategories:
		return models.Intent{Tag: models.IntentSelectCategory, ID: entity.ID}, true
	case models.ScopeItems:
		return models.Intent{Tag: models.IntentSelectItem, ID: entity.ID}, true
	}
	return models.Intent{}, false
}

// nextPageRow finds the "More" row of the current picker page
func nextPageRow(pc models.PickerContext) string {
	prefix := pageReplyID(pc.Kind, 0)
	prefix = prefix[:len(prefix)-1]
	for _, id := range pc.RowIDs {
		if strings.HasPrefix(id, prefix) {
			return id
		}
	}
	return ""
}

// parseNumber accepts "3", "x3", "3x" and "#3"
func parseNumber(text string) (int, bool) {
	t := strings.ToLower(strings.TrimSpace(text))
	t = strings.TrimPrefix(t, "#")
	t = strings.TrimPrefix(t, "x")
	t = strings.TrimSuffix(t, "x")
	t = strings.TrimSpace(t)
	if t == "" || len(t) > 4 {
		return 0, false
	}
	n, err := strconv.Atoi(t)
	if err != nil {
		return 0, false
	}
	return n, true
}

func hasStage(stages []models.Stage, s models.Stage) bool {
	for _, st := range stages {
		if st == s {
			return true
		}
	}
	return false
}
