package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Ananth-NQI/orderbot-backend/internal/logger"
	"github.com/Ananth-NQI/orderbot-backend/internal/models"
	"github.com/Ananth-NQI/orderbot-backend/internal/storage"
	"github.com/Ananth-NQI/orderbot-backend/internal/utils"
)

// FlowConfig tunes the order flow
type FlowConfig struct {
	MaxQuantity        int
	PageSize           int
	IOTimeout          time.Duration
	MaxConflictRetries int
	// SubmitStaleAfter is how long a session may sit in Submitting before a
	// new message treats the submission as lost
	SubmitStaleAfter time.Duration
}

// OrderFlowService drives one conversation step per inbound message
type OrderFlowService struct {
	sessions  *SessionManager
	tenants   *TenantResolver
	resolver  *IntentResolver
	prompts   *Prompter
	cart      *CartManager
	geocoder  Geocoder
	submitter *SubmissionCoordinator
	cfg       FlowConfig
	now       func() time.Time
}

// NewOrderFlowService wires the order flow
func NewOrderFlowService(
	sessions *SessionManager,
	tenants *TenantResolver,
	geocoder Geocoder,
	submitter *SubmissionCoordinator,
	cfg FlowConfig,
) *OrderFlowService {
	if cfg.MaxQuantity < 1 {
		cfg.MaxQuantity = 20
	}
	if cfg.SubmitStaleAfter <= 0 {
		cfg.SubmitStaleAfter = 2 * time.Minute
	}
	return &OrderFlowService{
		sessions:  sessions,
		tenants:   tenants,
		resolver:  NewIntentResolver(cfg.IOTimeout),
		prompts:   NewPrompter(cfg.PageSize, cfg.MaxQuantity, cfg.IOTimeout),
		cart:      NewCartManager(cfg.MaxQuantity),
		geocoder:  geocoder,
		submitter: submitter,
		cfg:       cfg,
		now:       time.Now,
	}
}

// HandleInboundMessage processes one message and returns the replies to send.
// Messages for the same customer and tenant are processed one at a time.
func (o *OrderFlowService) HandleInboundMessage(ctx context.Context, msg models.InboundMessage) ([]models.OutboundMessage, error) {
	phone, err := utils.CanonicalizePhone(msg.From)
	if err != nil {
		logger.Warn().Err(err).Str("tenant_id", msg.TenantID).Msg("Dropping message with malformed sender")
		return nil, err
	}

	tenantCtx, cancel := o.ioContext(ctx)
	tc, err := o.tenants.Resolve(tenantCtx, msg.TenantID)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("resolve tenant %s: %w", msg.TenantID, err)
	}

	key := storage.SessionKey{TenantID: msg.TenantID, PhoneKey: phone}
	out, order, err := o.process(ctx, key, tc, msg)
	if err != nil || order == nil {
		return out, err
	}

	// The session lock is not held while the backend works. A reset that
	// lands meanwhile bumps the generation and the result is discarded.
	result, subErr := o.submitter.Submit(ctx, order)
	tail, err := o.completeSubmission(ctx, key, tc, order, result, subErr)
	return append(out, tail...), err
}

func (o *OrderFlowService) ioContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.cfg.IOTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, o.cfg.IOTimeout)
}

func (o *OrderFlowService) process(ctx context.Context, key storage.SessionKey, tc *TenantContext, msg models.InboundMessage) ([]models.OutboundMessage, *models.MaterializedOrder, error) {
	unlock, err := o.sessions.Lock(ctx, key)
	if err != nil {
		return nil, nil, err
	}
	defer unlock()

	for attempt := 0; ; attempt++ {
		storeCtx, cancel := o.ioContext(ctx)
		session, _, err := o.sessions.GetOrCreate(storeCtx, key)
		cancel()
		if err != nil {
			return nil, nil, fmt.Errorf("load session: %w", err)
		}

		expected := session.Version
		work := session.Clone()
		before := work.Stage
		out, in, order := o.step(ctx, tc, work, msg)
		work.RememberOptions(out)
		o.checkInvariants(work)

		storeCtx, cancel = o.ioContext(ctx)
		err = o.sessions.Save(storeCtx, work, expected)
		cancel()
		if errors.Is(err, storage.ErrVersionConflict) && attempt < o.cfg.MaxConflictRetries {
			logger.Warn().Str("session", key.String()).Int("attempt", attempt+1).Msg("Session changed underneath, reprocessing")
			continue
		}
		if err != nil {
			return nil, nil, fmt.Errorf("save session: %w", err)
		}

		logStep(key, before, work.Stage, in)
		return out, order, nil
	}
}

func logStep(key storage.SessionKey, before, after models.Stage, in models.Intent) {
	ev := logger.Info()
	if before == after {
		ev = logger.Debug()
	}
	ev.Str("tenant_id", key.TenantID).
		Str("phone_key", string(key.PhoneKey)).
		Str("stage_before", string(before)).
		Str("stage_after", string(after)).
		Str("intent", string(in.Tag)).
		Bool("structured", in.Structured).
		Msg("Conversation step")
}

func (o *OrderFlowService) checkInvariants(s *models.ConversationSession) {
	if err := s.CheckInvariants(o.cfg.MaxQuantity); err != nil {
		logger.Error().Err(err).Str("tenant_id", s.TenantID).Str("stage", string(s.Stage)).Msg("Session invariant violated")
	}
}

// step mutates s for one message and returns the replies, the intent, and an
// order when the session has just entered Submitting.
func (o *OrderFlowService) step(ctx context.Context, tc *TenantContext, s *models.ConversationSession, msg models.InboundMessage) ([]models.OutboundMessage, models.Intent, *models.MaterializedOrder) {
	none := models.Intent{Tag: models.IntentUnrecognized}

	// Tenant flags come first and absorb everything while set
	if !tc.BotEnabled() {
		if s.Stage != models.StageDisabled {
			s.ResetOrder()
			s.Stage = models.StageDisabled
		}
		s.Flags.BotDisabled = true
		logger.Info().Str("tenant_id", s.TenantID).Msg("Bot disabled, message logged only")
		return nil, none, nil
	}
	if tc.Synthetic() {
		if s.Stage != models.StageManualHandoff {
			s.ResetOrder()
			s.Stage = models.StageManualHandoff
		}
		s.Flags.ManualHandoff = true
		s.Flags.FirstContactSeen = true
		logger.Info().Str("tenant_id", s.TenantID).Msg("Manual handoff, concierge greeting sent")
		return []models.OutboundMessage{conciergeGreeting(tc)}, none, nil
	}
	if s.Stage.Absorbing() {
		logger.Info().Str("tenant_id", s.TenantID).Str("stage", string(s.Stage)).Msg("Tenant flag cleared, releasing session")
		s.Stage = models.StageIdle
		s.Flags.BotDisabled = false
		s.Flags.ManualHandoff = false
	}

	var out []models.OutboundMessage
	if !s.Flags.FirstContactSeen {
		s.Flags.FirstContactSeen = true
		out = append(out, models.Text(fmt.Sprintf("👋 Welcome to %s! I can take your order right here on WhatsApp.", tc.Tenant.Name)))
	}

	in := o.resolver.Resolve(ctx, s, tc, msg)

	if in.Tag.Control() {
		return append(out, o.control(ctx, s, tc, in)...), in, nil
	}

	if in.Tag == models.IntentStartOrder {
		s.ResetOrder()
		s.Stage = models.StageAwaitingOrderType
		return append(out, o.prompts.Prompt(ctx, s, tc)...), in, nil
	}

	if s.Stage == models.StageSubmitting {
		if o.now().Sub(s.UpdatedAt) > o.cfg.SubmitStaleAfter {
			logger.Warn().Str("tenant_id", s.TenantID).Msg("Submission outcome lost, asking customer to retry")
			s.Stage = models.StageAwaitingPayment
			return append(out, retryPrompt(s, "⚠️ We couldn't confirm your last order attempt. Your cart is saved.")), in, nil
		}
		return append(out, o.prompts.Prompt(ctx, s, tc)...), in, nil
	}

	replies, order := o.transition(ctx, tc, s, in)
	return append(out, replies...), in, order
}

// transition applies the static stage table. Anything the table does not
// cover re-prompts without changing the stage.
func (o *OrderFlowService) transition(ctx context.Context, tc *TenantContext, s *models.ConversationSession, in models.Intent) ([]models.OutboundMessage, *models.MaterializedOrder) {
	switch in.Tag {
	case models.IntentSelectOrderType:
		if s.Stage == models.StageAwaitingOrderType {
			return o.selectOrderType(ctx, tc, s, models.OrderType(in.ID)), nil
		}

	case models.IntentShareLocation:
		if s.Stage == models.StageAwaitingLocation {
			return o.shareLocation(ctx, tc, s, in), nil
		}

	case models.IntentSelectBranch:
		if s.Stage == models.StageAwaitingBranch {
			return o.selectBranch(ctx, tc, s, in), nil
		}

	case models.IntentSelectCategory:
		switch s.Stage {
		case models.StageBrowsingCategories, models.StageBrowsingItems, models.StageAwaitingQuantity, models.StageCartReview:
			return o.selectCategory(ctx, tc, s, in), nil
		}

	case models.IntentSelectItem:
		switch s.Stage {
		case models.StageBrowsingItems, models.StageAwaitingQuantity:
			return o.selectItem(ctx, tc, s, in), nil
		}

	case models.IntentSetQuantity:
		if s.Stage == models.StageAwaitingQuantity {
			return o.setQuantity(ctx, tc, s, in.Quantity), nil
		}

	case models.IntentViewCart:
		switch s.Stage {
		case models.StageBrowsingCategories, models.StageBrowsingItems, models.StageAwaitingQuantity,
			models.StageCartReview, models.StageCheckout, models.StageAwaitingPayment:
			s.PendingItem = nil
			s.Stage = models.StageCartReview
			return o.prompts.Prompt(ctx, s, tc), nil
		}

	case models.IntentRemoveItem:
		if s.Stage == models.StageCartReview {
			return o.removeItem(ctx, tc, s, in.ID), nil
		}

	case models.IntentCheckout:
		switch s.Stage {
		case models.StageBrowsingCategories, models.StageBrowsingItems, models.StageAwaitingQuantity,
			models.StageCartReview, models.StageCheckout, models.StageAwaitingPayment:
			s.PendingItem = nil
			s.PaymentMethod = ""
			s.SubmissionKey = ""
			return o.enterCheckout(ctx, tc, s, nil), nil
		}

	case models.IntentSelectPaymentMethod:
		switch s.Stage {
		case models.StageCheckout, models.StageAwaitingPayment:
			return o.selectPayment(ctx, tc, s, in.ID)
		}
	}

	return o.prompts.Prompt(ctx, s, tc), nil
}

// enterCheckout moves to Checkout only when every prerequisite holds,
// otherwise to the stage that gathers the first missing one.
func (o *OrderFlowService) enterCheckout(ctx context.Context, tc *TenantContext, s *models.ConversationSession, lead []models.OutboundMessage) []models.OutboundMessage {
	out := lead
	switch {
	case len(s.Cart) == 0:
		s.Stage = models.StageBrowsingCategories
		out = append(out, models.Text("🧺 Your cart is empty. Pick something from the menu first."))
	case s.OrderType == models.OrderTypeUnset:
		s.Stage = models.StageAwaitingOrderType
	case s.OrderType == models.OrderTypeDelivery && s.Location == nil:
		s.Stage = models.StageAwaitingLocation
	case s.OrderType == models.OrderTypePickup && s.BranchID == "":
		s.Stage = models.StageAwaitingBranch
	default:
		s.Stage = models.StageCheckout
	}
	return append(out, o.prompts.Prompt(ctx, s, tc)...)
}

// afterFulfillment continues once order type prerequisites are known
func (o *OrderFlowService) afterFulfillment(ctx context.Context, tc *TenantContext, s *models.ConversationSession, lead []models.OutboundMessage) []models.OutboundMessage {
	if len(s.Cart) > 0 {
		return o.enterCheckout(ctx, tc, s, lead)
	}
	s.Stage = models.StageBrowsingCategories
	s.LastCategoryPage = 0
	return append(lead, o.prompts.Prompt(ctx, s, tc)...)
}

func (o *OrderFlowService) selectOrderType(ctx context.Context, tc *TenantContext, s *models.ConversationSession, t models.OrderType) []models.OutboundMessage {
	s.OrderType = t
	s.Location = nil
	s.BranchID = ""
	s.BranchName = ""
	switch t {
	case models.OrderTypeDelivery:
		s.Stage = models.StageAwaitingLocation
	case models.OrderTypePickup:
		s.Stage = models.StageAwaitingBranch
		s.LastPickerContext = models.PickerContext{Kind: models.PickerBranches}
	default:
		s.OrderType = models.OrderTypeUnset
	}
	return o.prompts.Prompt(ctx, s, tc)
}

func (o *OrderFlowService) shareLocation(ctx context.Context, tc *TenantContext, s *models.ConversationSession, in models.Intent) []models.OutboundMessage {
	if in.Coordinate == nil {
		return o.prompts.Prompt(ctx, s, tc)
	}

	geoCtx, cancel := o.ioContext(ctx)
	defer cancel()
	elig, err := o.geocoder.ReverseOrValidate(geoCtx, s.TenantID, *in.Coordinate)
	if err != nil {
		var geoErr *GeocodeError
		if !errors.As(err, &geoErr) {
			geoErr = &GeocodeError{Reason: GeocodeUnavailable, Err: err}
		}
		logger.Info().Str("tenant_id", s.TenantID).Str("reason", geoErr.Reason).Msg("Location rejected")
		return []models.OutboundMessage{models.Text(geocodeMessage(geoErr.Reason))}
	}

	loc := elig.Location
	loc.Address = in.Text
	s.Location = &loc
	s.BranchID = elig.BranchID
	s.BranchName = elig.BranchName

	lead := []models.OutboundMessage{models.Text(
		fmt.Sprintf("📍 Great, we deliver there from our %s branch (%.1f km away).", elig.BranchName, loc.DistanceKm))}
	return o.afterFulfillment(ctx, tc, s, lead)
}

func geocodeMessage(reason string) string {
	switch reason {
	case GeocodeOutOfArea:
		return "😔 Sorry, that location is outside our delivery area. Please share another location, or reply *pickup* after *new order* to collect it yourself."
	case GeocodeNoBranches:
		return "😔 None of our branches are delivering right now. Please try again later."
	case GeocodeInvalidPoint:
		return "That location doesn't look right. Please share your location again 📍"
	default:
		return "⚠️ We couldn't check that location right now. Please share it again in a moment 📍"
	}
}

func (o *OrderFlowService) selectBranch(ctx context.Context, tc *TenantContext, s *models.ConversationSession, in models.Intent) []models.OutboundMessage {
	if in.ID == "" {
		s.LastPickerContext = models.PickerContext{Kind: models.PickerBranches, Page: in.Page}
		return o.prompts.Prompt(ctx, s, tc)
	}

	lookupCtx, cancel := o.ioContext(ctx)
	branches, err := tc.Branches.ListBranches(lookupCtx, s.TenantID)
	cancel()
	if err != nil {
		logger.Warn().Err(err).Str("tenant_id", s.TenantID).Msg("Branch lookup failed")
		return []models.OutboundMessage{models.Text("⚠️ We couldn't load our branches right now. Please try again in a moment.")}
	}
	for _, b := range branches {
		if b.ID != in.ID {
			continue
		}
		if !b.Open {
			return append([]models.OutboundMessage{models.Text(fmt.Sprintf("😔 %s is closed right now. Please choose another branch.", b.Name))},
				o.prompts.Prompt(ctx, s, tc)...)
		}
		s.BranchID = b.ID
		s.BranchName = b.Name
		lead := []models.OutboundMessage{models.Text(fmt.Sprintf("🏪 Pickup at %s.", b.Name))}
		return o.afterFulfillment(ctx, tc, s, lead)
	}
	return o.prompts.Prompt(ctx, s, tc)
}

func (o *OrderFlowService) selectCategory(ctx context.Context, tc *TenantContext, s *models.ConversationSession, in models.Intent) []models.OutboundMessage {
	s.PendingItem = nil
	if in.ID == "" {
		if in.Page > 0 || s.Stage == models.StageBrowsingCategories {
			s.LastCategoryPage = in.Page
		}
		s.Stage = models.StageBrowsingCategories
		return o.prompts.Prompt(ctx, s, tc)
	}

	lookupCtx, cancel := o.ioContext(ctx)
	_, err := tc.Catalog.GetCategory(lookupCtx, s.TenantID, in.ID)
	cancel()
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			logger.Warn().Err(err).Str("tenant_id", s.TenantID).Msg("Category lookup failed")
		}
		s.Stage = models.StageBrowsingCategories
		return o.prompts.Prompt(ctx, s, tc)
	}

	s.Stage = models.StageBrowsingItems
	s.LastPickerContext = models.PickerContext{Kind: models.PickerItems, CategoryID: in.ID}
	return o.prompts.Prompt(ctx, s, tc)
}

func (o *OrderFlowService) selectItem(ctx context.Context, tc *TenantContext, s *models.ConversationSession, in models.Intent) []models.OutboundMessage {
	if in.ID == "" {
		s.PendingItem = nil
		s.Stage = models.StageBrowsingItems
		s.LastPickerContext.Kind = models.PickerItems
		s.LastPickerContext.Page = in.Page
		return o.prompts.Prompt(ctx, s, tc)
	}

	lookupCtx, cancel := o.ioContext(ctx)
	item, err := tc.Catalog.GetItem(lookupCtx, s.TenantID, in.ID)
	cancel()
	if err != nil || !item.Available {
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			logger.Warn().Err(err).Str("tenant_id", s.TenantID).Msg("Item lookup failed")
		}
		s.PendingItem = nil
		s.Stage = models.StageBrowsingItems
		return append([]models.OutboundMessage{models.Text("😔 Sorry, that item isn't available right now.")},
			o.prompts.Prompt(ctx, s, tc)...)
	}

	s.PendingItem = &models.PendingItem{ItemID: item.ID, Name: item.Name, UnitPrice: item.Price}
	s.Stage = models.StageAwaitingQuantity
	out := []models.OutboundMessage{}
	if item.ImageURL != "" {
		caption := item.Name
		if item.Description != "" {
			caption += "\n" + item.Description
		}
		out = append(out, models.Media(item.ImageURL, caption))
	}
	return append(out, o.prompts.Prompt(ctx, s, tc)...)
}

func (o *OrderFlowService) setQuantity(ctx context.Context, tc *TenantContext, s *models.ConversationSession, n int) []models.OutboundMessage {
	if s.PendingItem == nil {
		s.Stage = models.StageBrowsingItems
		return o.prompts.Prompt(ctx, s, tc)
	}
	cart, err := o.cart.AddLine(s.Cart, *s.PendingItem, n)
	if err != nil {
		var msg string
		switch {
		case errors.Is(err, ErrQuantityExceedsMax):
			msg = fmt.Sprintf("You can order at most %d of one item, including what's already in your cart. Please send a smaller number.", o.cfg.MaxQuantity)
		default:
			msg = fmt.Sprintf("Please send a number from 1 to %d.", o.cfg.MaxQuantity)
		}
		return []models.OutboundMessage{models.Text(msg)}
	}

	added := s.PendingItem.Name
	s.Cart = cart
	s.PendingItem = nil
	s.Stage = models.StageCartReview
	lead := models.Text(fmt.Sprintf("✅ Added %dx %s.", n, added))
	return append([]models.OutboundMessage{lead}, o.prompts.Prompt(ctx, s, tc)...)
}

func (o *OrderFlowService) removeItem(ctx context.Context, tc *TenantContext, s *models.ConversationSession, itemID string) []models.OutboundMessage {
	var name string
	for _, l := range s.Cart {
		if l.ItemID == itemID {
			name = l.Name
		}
	}
	cart, err := o.cart.RemoveLine(s.Cart, itemID)
	if err != nil {
		// A stale button for a line that is already gone
		return o.prompts.Prompt(ctx, s, tc)
	}
	s.Cart = cart
	lead := models.Text(fmt.Sprintf("🗑️ Removed %s.", name))
	return append([]models.OutboundMessage{lead}, o.prompts.Prompt(ctx, s, tc)...)
}

func (o *OrderFlowService) selectPayment(ctx context.Context, tc *TenantContext, s *models.ConversationSession, method string) ([]models.OutboundMessage, *models.MaterializedOrder) {
	known := false
	for _, m := range models.PaymentMethods {
		if m == method {
			known = true
		}
	}
	if !known {
		return o.prompts.Prompt(ctx, s, tc), nil
	}

	// Guards again: the session may have been edited by another process
	if s.Stage == models.StageAwaitingPayment {
		s.Stage = models.StageCheckout
	}
	if err := s.CheckInvariants(o.cfg.MaxQuantity); err != nil {
		return o.enterCheckout(ctx, tc, s, nil), nil
	}

	if s.PaymentMethod != method {
		s.SubmissionKey = ""
	}
	s.PaymentMethod = method
	s.Stage = models.StageAwaitingPayment
	if s.SubmissionKey == "" {
		s.SubmissionKey = utils.NewIdempotencyKey()
	}

	order := o.materialize(tc, s)
	s.Stage = models.StageSubmitting
	return []models.OutboundMessage{models.Text("⏳ Placing your order...")}, order
}

func (o *OrderFlowService) materialize(tc *TenantContext, s *models.ConversationSession) *models.MaterializedOrder {
	var loc *models.Location
	if s.Location != nil {
		l := *s.Location
		loc = &l
	}
	return &models.MaterializedOrder{
		TenantID:       s.TenantID,
		CustomerPhone:  utils.ForChannel(utils.PhoneKey(s.PhoneKey), utils.ChannelE164),
		OrderType:      s.OrderType,
		BranchID:       s.BranchID,
		Location:       loc,
		Lines:          append([]models.CartLine(nil), s.Cart...),
		Total:          o.cart.Total(s.Cart),
		Currency:       tc.Tenant.Currency,
		PaymentMethod:  s.PaymentMethod,
		IdempotencyKey: s.SubmissionKey,
		Generation:     s.Generation,
		CreatedAt:      o.now(),
	}
}

// completeSubmission applies a submission outcome unless the session moved on
func (o *OrderFlowService) completeSubmission(ctx context.Context, key storage.SessionKey, tc *TenantContext, order *models.MaterializedOrder, result *models.SubmissionResult, subErr error) ([]models.OutboundMessage, error) {
	unlock, err := o.sessions.Lock(ctx, key)
	if err != nil {
		return nil, err
	}
	defer unlock()

	for attempt := 0; ; attempt++ {
		storeCtx, cancel := o.ioContext(ctx)
		session, err := o.sessions.Store().GetSession(storeCtx, key)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("reload session: %w", err)
		}

		if session.Generation != order.Generation || session.Stage != models.StageSubmitting {
			ev := logger.Warn().
				Str("tenant_id", key.TenantID).
				Int64("order_generation", order.Generation).
				Int64("session_generation", session.Generation).
				Str("stage", string(session.Stage))
			if result != nil {
				ev = ev.Str("order_ref", result.OrderRef)
			}
			ev.Msg("Discarding submission result for a session that moved on")
			return nil, nil
		}

		expected := session.Version
		work := session.Clone()
		out := o.applySubmission(ctx, tc, work, result, subErr)
		work.RememberOptions(out)
		o.checkInvariants(work)

		storeCtx, cancel = o.ioContext(ctx)
		err = o.sessions.Save(storeCtx, work, expected)
		cancel()
		if errors.Is(err, storage.ErrVersionConflict) && attempt < o.cfg.MaxConflictRetries {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("save session: %w", err)
		}
		logStep(key, models.StageSubmitting, work.Stage, models.Intent{Tag: models.IntentSelectPaymentMethod, ID: order.PaymentMethod})
		return out, nil
	}
}

func (o *OrderFlowService) applySubmission(ctx context.Context, tc *TenantContext, s *models.ConversationSession, result *models.SubmissionResult, subErr error) []models.OutboundMessage {
	if subErr == nil && result != nil {
		total := o.cart.Total(s.Cart)
		now := o.now()
		s.ResetOrder()
		s.LastOrderRef = result.OrderRef
		s.LastOrderAt = &now
		s.Stage = models.StagePostSubmission

		logger.Info().Str("tenant_id", s.TenantID).Str("order_ref", result.OrderRef).Int64("total", total).Msg("🎉 Order placed")
		return []models.OutboundMessage{models.QuickReply(
			fmt.Sprintf("🎉 Your order is confirmed!\nReference: *%s*\nTotal: %s", result.OrderRef, FormatMoney(total, tc.Tenant.Currency)),
			models.Option{ID: ReplyTrack, Title: "📦 Track order"},
			models.Option{ID: ReplyNewOrder, Title: "🛒 New order"},
		)}
	}

	var se *SubmissionError
	if !errors.As(subErr, &se) {
		se = &SubmissionError{Kind: models.SubmissionBackendError, Err: subErr}
	}
	logger.Warn().Err(se).Str("tenant_id", s.TenantID).Msg("Order submission failed")

	if !se.Rejected() {
		s.Stage = models.StageAwaitingPayment
		msg := "⚠️ We couldn't reach the restaurant to place your order. Your cart is saved."
		if se.Kind == models.SubmissionTimeout {
			msg = "⚠️ The restaurant took too long to respond. Your cart is saved."
		}
		return []models.OutboundMessage{retryPrompt(s, msg)}
	}

	s.PaymentMethod = ""
	s.SubmissionKey = ""
	switch se.Reason {
	case models.RejectBranchClosed, models.RejectMissingBranch:
		name := s.BranchName
		s.BranchID = ""
		s.BranchName = ""
		if s.OrderType == models.OrderTypeDelivery {
			s.Location = nil
		}
		lead := "😔 The branch for your order isn't taking orders right now."
		if se.Reason == models.RejectBranchClosed && name != "" {
			lead = fmt.Sprintf("😔 %s has just closed.", name)
		}
		s.LastPickerContext = models.PickerContext{Kind: models.PickerBranches}
		return o.enterCheckout(ctx, tc, s, []models.OutboundMessage{models.Text(lead + " Let's pick another option.")})
	case models.RejectOutOfArea:
		s.Location = nil
		s.BranchID = ""
		s.BranchName = ""
		return o.enterCheckout(ctx, tc, s, []models.OutboundMessage{models.Text("😔 That address is outside the delivery area. Please share another location.")})
	case models.RejectItemUnavailable:
		lead := "😔 Something in your cart just sold out. Please review your order."
		if dropped := o.dropSoldOut(ctx, tc, s); len(dropped) > 0 {
			lead = fmt.Sprintf("😔 %s just sold out and was removed from your cart.", strings.Join(dropped, ", "))
		}
		return o.enterCheckout(ctx, tc, s, []models.OutboundMessage{models.Text(lead)})
	}

	s.Stage = models.StageCheckout
	return append([]models.OutboundMessage{models.Text(rejectionMessage(se.Reason))}, o.prompts.Prompt(ctx, s, tc)...)
}

// dropSoldOut removes cart lines whose item is gone or unavailable and
// returns their names. Lookup errors keep the line.
func (o *OrderFlowService) dropSoldOut(ctx context.Context, tc *TenantContext, s *models.ConversationSession) []string {
	lookupCtx, cancel := o.ioContext(ctx)
	defer cancel()

	var dropped []string
	kept := make([]models.CartLine, 0, len(s.Cart))
	for _, l := range s.Cart {
		item, err := tc.Catalog.GetItem(lookupCtx, s.TenantID, l.ItemID)
		if errors.Is(err, storage.ErrNotFound) || (err == nil && !item.Available) {
			dropped = append(dropped, l.Name)
			continue
		}
		kept = append(kept, l)
	}
	s.Cart = kept
	return dropped
}

func rejectionMessage(reason string) string {
	switch reason {
	case models.RejectBelowMinimum:
		return "😔 Your order is below the minimum order amount. Add a little more and check out again."
	case models.RejectPaymentDeclined:
		return "💳 Your payment method was declined. Please choose another way to pay."
	default:
		return "😔 The restaurant couldn't accept this order. Please review it and try again."
	}
}

// control answers track, support and app intents without moving the stage
func (o *OrderFlowService) control(ctx context.Context, s *models.ConversationSession, tc *TenantContext, in models.Intent) []models.OutboundMessage {
	switch in.Tag {
	case models.IntentSupport:
		if c := tc.SupportContact(); c != "" {
			return []models.OutboundMessage{models.Text(fmt.Sprintf("💬 Need a hand? Call or message us at %s and we'll help right away.", c))}
		}
		return []models.OutboundMessage{models.Text("💬 Our team has been notified and will reply here shortly.")}

	case models.IntentAppLink:
		if tc.Tenant.AppURL != "" {
			return []models.OutboundMessage{models.Text(fmt.Sprintf("📱 Order even faster with our app: %s", tc.Tenant.AppURL))}
		}
		return []models.OutboundMessage{models.Text("📱 We don't have an app yet, but you can order right here!")}

	case models.IntentTrackOrder:
		return []models.OutboundMessage{o.track(ctx, s)}
	}
	return nil
}

func (o *OrderFlowService) track(ctx context.Context, s *models.ConversationSession) models.OutboundMessage {
	if s.LastOrderRef == "" {
		return models.Text("📦 You don't have any recent orders. Reply *new order* to start one.")
	}

	body := fmt.Sprintf("📦 Your last order is *%s*", s.LastOrderRef)
	if s.LastOrderAt != nil {
		body += fmt.Sprintf(", placed %s", s.LastOrderAt.Format("Jan 2 at 3:04 PM"))
	}

	if checker, ok := o.submitter.StatusChecker(); ok {
		statusCtx, cancel := o.ioContext(ctx)
		defer cancel()
		status, err := checker.OrderStatus(statusCtx, s.TenantID, s.LastOrderRef)
		if err != nil {
			logger.Warn().Err(err).Str("tenant_id", s.TenantID).Msg("Order status lookup failed")
		} else if status.Status != "" {
			return models.Text(fmt.Sprintf("%s.\nStatus: *%s*", body, status.Status))
		}
	}
	return models.Text(body + ".")
}

// ResetIdle sends an abandoned in-progress session back to Idle. Used by the
// idle sweeper; it takes the same lock and versioned write as messages do.
func (o *OrderFlowService) ResetIdle(ctx context.Context, key storage.SessionKey, idleSince time.Time) (bool, error) {
	unlock, err := o.sessions.Lock(ctx, key)
	if err != nil {
		return false, err
	}
	defer unlock()

	session, err := o.sessions.Store().GetSession(ctx, key)
	if err != nil {
		return false, err
	}
	switch session.Stage {
	case models.StageIdle, models.StagePostSubmission, models.StageManualHandoff, models.StageDisabled, models.StageSubmitting:
		return false, nil
	}
	if !session.UpdatedAt.Before(idleSince) {
		return false, nil
	}

	work := session.Clone()
	work.ResetOrder()
	work.Stage = models.StageIdle
	if err := o.sessions.Save(ctx, work, session.Version); err != nil {
		if errors.Is(err, storage.ErrVersionConflict) {
			return false, nil
		}
		return false, err
	}
	logger.Info().
		Str("tenant_id", key.TenantID).
		Str("phone_key", string(key.PhoneKey)).
		Str("stage_before", string(session.Stage)).
		Msg("Idle session reset")
	return true, nil
}
