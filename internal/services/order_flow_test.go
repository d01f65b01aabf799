package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ananth-NQI/orderbot-backend/internal/models"
	"github.com/Ananth-NQI/orderbot-backend/internal/storage"
	"github.com/Ananth-NQI/orderbot-backend/internal/utils"
)

func TestOrderFlow_PickupScenario(t *testing.T) {
	h := newHarness(t, newFakeBackend(success("R-1")))

	out := h.send("new order")
	require.Len(t, out, 2, "welcome then order type prompt")
	assert.Contains(t, out[0].Body, "Welcome to Test Diner")
	assert.Equal(t, []string{"order_type:delivery", "order_type:pickup"}, optionIDs(last(out)))
	assert.Equal(t, models.StageAwaitingOrderType, h.session().Stage)

	out = h.send("pickup")
	assert.Equal(t, models.StageAwaitingBranch, h.session().Stage)
	assert.Equal(t, models.OutboundList, last(out).Kind)
	assert.Equal(t, []string{"branch:b1"}, optionIDs(last(out)), "closed branches are not offered")

	out = h.send("B1")
	s := h.session()
	assert.Equal(t, models.StageBrowsingCategories, s.Stage)
	assert.Equal(t, "b1", s.BranchID)
	assert.Equal(t, []string{"cat:burgers", "cat:drinks"}, optionIDs(last(out)))

	out = h.send("Drinks")
	assert.Equal(t, models.StageBrowsingItems, h.session().Stage)
	assert.Equal(t, []string{"item:cola", "item:lemonade"}, optionIDs(last(out)))

	out = h.send("Cola")
	s = h.session()
	assert.Equal(t, models.StageAwaitingQuantity, s.Stage)
	require.NotNil(t, s.PendingItem)
	assert.Equal(t, "cola", s.PendingItem.ItemID)
	assert.Contains(t, last(out).Body, "How many")

	out = h.send("2")
	s = h.session()
	assert.Equal(t, models.StageCartReview, s.Stage)
	assert.Nil(t, s.PendingItem)
	want := []models.CartLine{{ItemID: "cola", Name: "Cola", UnitPrice: 199, Quantity: 2}}
	if diff := cmp.Diff(want, s.Cart); diff != "" {
		t.Errorf("cart mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, []string{ReplyCheckout, ReplyAddMore, ReplyCartView}, optionIDs(last(out)))

	h.tap(ReplyCheckout)
	assert.Equal(t, models.StageCheckout, h.session().Stage)

	out = h.tap("pay:cash")
	s = h.session()
	assert.Equal(t, models.StagePostSubmission, s.Stage)
	assert.Empty(t, s.Cart)
	assert.Equal(t, "R-1", s.LastOrderRef)
	assert.Contains(t, last(out).Body, "R-1")
}

func TestOrderFlow_DeliveryScenario(t *testing.T) {
	h := newHarness(t, newFakeBackend(success("R-1")))

	h.send("new order")
	out := h.send("delivery")
	assert.Equal(t, models.StageAwaitingLocation, h.session().Stage)
	assert.Contains(t, last(out).Body, "location")

	out = h.shareLocation(1, 1)
	assert.Equal(t, models.StageAwaitingLocation, h.session().Stage, "outside every radius")
	assert.Contains(t, last(out).Body, "outside our delivery area")

	out = h.shareLocation(0.01, 0)
	s := h.session()
	assert.Equal(t, models.StageBrowsingCategories, s.Stage)
	require.NotNil(t, s.Location)
	assert.Equal(t, "12 Test Rd", s.Location.Address)
	assert.Equal(t, "b1", s.BranchID)
	assert.Contains(t, out[0].Body, "B1")
}

func TestOrderFlow_NumberedPickerRows(t *testing.T) {
	h := newHarness(t, newFakeBackend())
	h.send("new order")
	h.send("pickup")
	h.send("1")
	assert.Equal(t, models.StageBrowsingCategories, h.session().Stage)

	h.send("2")
	s := h.session()
	assert.Equal(t, models.StageBrowsingItems, s.Stage)
	assert.Equal(t, "drinks", s.LastPickerContext.CategoryID)

	h.send("7")
	assert.Equal(t, models.StageBrowsingItems, h.session().Stage, "out of range row re-prompts")
}

func TestOrderFlow_CategoryPaging(t *testing.T) {
	h := newHarness(t, newFakeBackend())
	h.flow.prompts.pageSize = 1

	s := baseSession(models.StageBrowsingCategories)
	s.OrderType = models.OrderTypePickup
	s.BranchID = "b1"
	h.put(s)

	out := h.send("menu")
	assert.Equal(t, []string{"cat:burgers", "cat_page:1"}, optionIDs(last(out)))

	out = h.send("more")
	assert.Equal(t, []string{"cat:drinks"}, optionIDs(last(out)))
	assert.Equal(t, 1, h.session().LastCategoryPage)
}

func TestOrderFlow_CheckoutGuards(t *testing.T) {
	cola := models.CartLine{ItemID: "cola", Name: "Cola", UnitPrice: 199, Quantity: 1}

	tests := []struct {
		name    string
		session func() *models.ConversationSession
		want    models.Stage
	}{
		{
			name: "delivery without location",
			session: func() *models.ConversationSession {
				s := baseSession(models.StageCartReview)
				s.OrderType = models.OrderTypeDelivery
				s.Cart = []models.CartLine{cola}
				return s
			},
			want: models.StageAwaitingLocation,
		},
		{
			name: "pickup without branch",
			session: func() *models.ConversationSession {
				s := baseSession(models.StageCartReview)
				s.OrderType = models.OrderTypePickup
				s.Cart = []models.CartLine{cola}
				return s
			},
			want: models.StageAwaitingBranch,
		},
		{
			name: "order type unset",
			session: func() *models.ConversationSession {
				s := baseSession(models.StageCartReview)
				s.Cart = []models.CartLine{cola}
				return s
			},
			want: models.StageAwaitingOrderType,
		},
		{
			name: "empty cart",
			session: func() *models.ConversationSession {
				s := baseSession(models.StageCartReview)
				s.OrderType = models.OrderTypePickup
				s.BranchID = "b1"
				return s
			},
			want: models.StageBrowsingCategories,
		},
		{
			name: "all prerequisites",
			session: func() *models.ConversationSession {
				s := baseSession(models.StageCartReview)
				s.OrderType = models.OrderTypeDelivery
				s.Location = &models.Location{Coordinate: models.Coordinate{Lat: 0, Lng: 0}}
				s.BranchID = "b1"
				s.Cart = []models.CartLine{cola}
				return s
			},
			want: models.StageCheckout,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, newFakeBackend())
			h.put(tt.session())

			h.send("checkout")
			assert.Equal(t, tt.want, h.session().Stage)
		})
	}
}

func TestOrderFlow_GuardThenResumeCheckout(t *testing.T) {
	h := newHarness(t, newFakeBackend())
	s := baseSession(models.StageCartReview)
	s.OrderType = models.OrderTypeDelivery
	s.Cart = []models.CartLine{{ItemID: "cola", Name: "Cola", UnitPrice: 199, Quantity: 1}}
	h.put(s)

	h.tap(ReplyCheckout)
	assert.Equal(t, models.StageAwaitingLocation, h.session().Stage)

	h.shareLocation(0, 0.01)
	assert.Equal(t, models.StageCheckout, h.session().Stage, "checkout resumes once the location is known")
}

func TestOrderFlow_StartOrderResetsFromAnyStage(t *testing.T) {
	stages := []models.Stage{
		models.StageIdle, models.StageBrowsingCategories, models.StageBrowsingItems,
		models.StageAwaitingQuantity, models.StageCartReview, models.StageCheckout,
		models.StageAwaitingPayment, models.StagePostSubmission,
	}
	for _, stage := range stages {
		t.Run(string(stage), func(t *testing.T) {
			h := newHarness(t, newFakeBackend())
			s := checkoutSession()
			s.Stage = stage
			s.OrderType = models.OrderTypeDelivery
			s.Location = &models.Location{Coordinate: models.Coordinate{Lat: 0, Lng: 0}}
			s.PaymentMethod = models.PaymentMethodCash
			if stage == models.StageAwaitingQuantity {
				s.PendingItem = &models.PendingItem{ItemID: "classic", Name: "Classic Burger", UnitPrice: 899}
			}
			h.put(s)
			gen := h.session().Generation

			h.tap(ReplyNewOrder)
			got := h.session()
			assert.Equal(t, models.StageAwaitingOrderType, got.Stage)
			assert.Empty(t, got.Cart)
			assert.Equal(t, models.OrderTypeUnset, got.OrderType)
			assert.Empty(t, got.BranchID)
			assert.Nil(t, got.Location)
			assert.Nil(t, got.PendingItem)
			assert.Equal(t, gen+1, got.Generation)
		})
	}
}

func TestOrderFlow_QuantityCorrections(t *testing.T) {
	h := newHarness(t, newFakeBackend())
	s := baseSession(models.StageAwaitingQuantity)
	s.OrderType = models.OrderTypePickup
	s.BranchID = "b1"
	s.PendingItem = &models.PendingItem{ItemID: "cola", Name: "Cola", UnitPrice: 199}
	s.Cart = []models.CartLine{{ItemID: "cola", Name: "Cola", UnitPrice: 199, Quantity: 19}}
	h.put(s)

	out := h.send("2")
	got := h.session()
	assert.Equal(t, models.StageAwaitingQuantity, got.Stage)
	assert.Equal(t, 19, got.Cart[0].Quantity)
	assert.Contains(t, last(out).Body, "at most 20")

	out = h.send("0")
	assert.Equal(t, models.StageAwaitingQuantity, h.session().Stage)
	assert.Contains(t, last(out).Body, "from 1 to 20")

	h.send("1")
	got = h.session()
	assert.Equal(t, models.StageCartReview, got.Stage)
	assert.Equal(t, 20, got.Cart[0].Quantity)
}

func TestOrderFlow_UnrecognizedRepromptsSameStage(t *testing.T) {
	h := newHarness(t, newFakeBackend())
	h.send("new order")
	h.send("pickup")
	first := h.send("B1")

	again := h.send("zzzz qqqq")
	assert.Equal(t, models.StageBrowsingCategories, h.session().Stage)
	assert.Equal(t, last(first), last(again))
}

func TestOrderFlow_ControlIntentsKeepStage(t *testing.T) {
	h := newHarness(t, newFakeBackend())
	h.send("new order")
	h.send("pickup")
	h.send("B1")
	h.send("Drinks")
	before := h.session()

	out := h.send("help")
	require.Len(t, out, 1)
	assert.Contains(t, out[0].Body, "+15550009999")

	out = h.tap(ReplyApp)
	assert.Contains(t, out[0].Body, "https://diner.example/app")

	out = h.send("track")
	assert.Contains(t, out[0].Body, "don't have any recent orders")

	after := h.session()
	assert.Equal(t, before.Stage, after.Stage)
	assert.Equal(t, before.LastPickerContext, after.LastPickerContext)

	h.send("Cola")
	assert.Equal(t, models.StageAwaitingQuantity, h.session().Stage, "picker resumes after control intents")
}

func TestOrderFlow_RemoveItem(t *testing.T) {
	h := newHarness(t, newFakeBackend())
	s := baseSession(models.StageCartReview)
	s.OrderType = models.OrderTypePickup
	s.BranchID = "b1"
	s.Cart = []models.CartLine{
		{ItemID: "cola", Name: "Cola", UnitPrice: 199, Quantity: 2},
		{ItemID: "classic", Name: "Classic Burger", UnitPrice: 899, Quantity: 1},
	}
	h.put(s)

	h.send("remove classic burger")
	got := h.session()
	assert.Equal(t, models.StageCartReview, got.Stage)
	require.Len(t, got.Cart, 1)
	assert.Equal(t, "cola", got.Cart[0].ItemID)

	h.tap("remove:classic")
	assert.Len(t, h.session().Cart, 1, "stale remove is ignored")

	h.send("remove 1")
	got = h.session()
	assert.Empty(t, got.Cart)
	assert.Equal(t, models.StageCartReview, got.Stage)
}

func TestOrderFlow_SubmissionSuccess(t *testing.T) {
	backend := &trackingBackend{fakeBackend: newFakeBackend(success("R-42")), status: "preparing"}
	h := newHarness(t, backend)
	h.put(checkoutSession())

	h.send("cash")
	s := h.session()
	assert.Equal(t, models.StagePostSubmission, s.Stage)
	assert.Empty(t, s.Cart)
	assert.Equal(t, models.OrderTypeUnset, s.OrderType)
	assert.Empty(t, s.BranchID)
	assert.Nil(t, s.Location)
	assert.Equal(t, "R-42", s.LastOrderRef)
	require.NotNil(t, s.LastOrderAt)

	orders := backend.Orders()
	require.Len(t, orders, 1)
	assert.Equal(t, "+15551234567", orders[0].CustomerPhone)
	assert.Equal(t, int64(398), orders[0].Total)
	assert.Equal(t, models.PaymentMethodCash, orders[0].PaymentMethod)
	assert.NotEmpty(t, orders[0].IdempotencyKey)

	out := h.send("track")
	assert.Contains(t, out[0].Body, "R-42")
	assert.Contains(t, out[0].Body, "preparing")
	assert.Equal(t, models.StagePostSubmission, h.session().Stage)
}

func TestOrderFlow_SubmissionRejected(t *testing.T) {
	h := newHarness(t, newFakeBackend(rejected(models.RejectPaymentDeclined)))
	h.put(checkoutSession())

	out := h.send("card")
	s := h.session()
	assert.Equal(t, models.StageCheckout, s.Stage)
	assert.Equal(t, checkoutSession().Cart, s.Cart)
	assert.Contains(t, out[1].Body, "declined")
}

func TestOrderFlow_RejectionClosedBranchGoesBackToBranchPicker(t *testing.T) {
	h := newHarness(t, newFakeBackend(rejected(models.RejectBranchClosed)))
	h.put(checkoutSession())

	h.send("cash")
	s := h.session()
	assert.Equal(t, models.StageAwaitingBranch, s.Stage)
	assert.Empty(t, s.BranchID)
	assert.Len(t, s.Cart, 1)
}

func deliveryCheckoutSession() *models.ConversationSession {
	s := checkoutSession()
	s.OrderType = models.OrderTypeDelivery
	s.Location = &models.Location{Coordinate: models.Coordinate{Lat: 0.01}, Address: "12 Test Rd", DistanceKm: 1.1}
	return s
}

func TestOrderFlow_RejectionRouting(t *testing.T) {
	withSoldOut := func() *models.ConversationSession {
		s := checkoutSession()
		s.Cart = append(s.Cart, models.CartLine{ItemID: "shake", Name: "Shake", UnitPrice: 399, Quantity: 1})
		return s
	}
	onlySoldOut := func() *models.ConversationSession {
		s := checkoutSession()
		s.Cart = []models.CartLine{{ItemID: "shake", Name: "Shake", UnitPrice: 399, Quantity: 1}}
		return s
	}

	tests := []struct {
		name         string
		reason       string
		session      func() *models.ConversationSession
		wantStage    models.Stage
		wantCart     []string
		wantLocation bool
		wantBranch   bool
		wantText     string
	}{
		{"pickup branch closed", models.RejectBranchClosed, checkoutSession, models.StageAwaitingBranch, []string{"cola"}, false, false, "B1 has just closed"},
		{"delivery branch closed", models.RejectBranchClosed, deliveryCheckoutSession, models.StageAwaitingLocation, []string{"cola"}, false, false, "B1 has just closed"},
		{"missing branch", models.RejectMissingBranch, checkoutSession, models.StageAwaitingBranch, []string{"cola"}, false, false, "isn't taking orders"},
		{"out of area", models.RejectOutOfArea, deliveryCheckoutSession, models.StageAwaitingLocation, []string{"cola"}, false, false, "outside the delivery area"},
		{"sold out line removed", models.RejectItemUnavailable, withSoldOut, models.StageCheckout, []string{"cola"}, false, true, "Shake just sold out"},
		{"sold out unknown line", models.RejectItemUnavailable, checkoutSession, models.StageCheckout, []string{"cola"}, false, true, "Please review your order"},
		{"whole cart sold out", models.RejectItemUnavailable, onlySoldOut, models.StageBrowsingCategories, []string{}, false, true, "cart is empty"},
		{"below minimum", models.RejectBelowMinimum, checkoutSession, models.StageCheckout, []string{"cola"}, false, true, "minimum order"},
		{"delivery below minimum keeps location", models.RejectBelowMinimum, deliveryCheckoutSession, models.StageCheckout, []string{"cola"}, true, true, "minimum order"},
		{"unknown reason", "kitchen_on_fire", checkoutSession, models.StageCheckout, []string{"cola"}, false, true, "couldn't accept"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, newFakeBackend(rejected(tt.reason)))
			h.put(tt.session())

			out := h.send("cash")
			s := h.session()
			assert.Equal(t, tt.wantStage, s.Stage)
			assert.Empty(t, s.PaymentMethod)
			assert.Empty(t, s.SubmissionKey)
			assert.Equal(t, tt.wantLocation, s.Location != nil)
			assert.Equal(t, tt.wantBranch, s.BranchID != "")

			ids := []string{}
			for _, l := range s.Cart {
				ids = append(ids, l.ItemID)
			}
			assert.Equal(t, tt.wantCart, ids)

			var bodies []string
			for _, m := range out {
				bodies = append(bodies, m.Body)
			}
			assert.Contains(t, fmt.Sprint(bodies), tt.wantText)
			h.requireInvariants()
		})
	}
}

func TestOrderFlow_BackendErrorThenRetry(t *testing.T) {
	backend := newFakeBackend(failure(), success("R-7"))
	h := newHarness(t, backend)
	h.put(checkoutSession())

	out := h.send("cash")
	s := h.session()
	assert.Equal(t, models.StageAwaitingPayment, s.Stage)
	assert.Len(t, s.Cart, 1)
	assert.Equal(t, models.PaymentMethodCash, s.PaymentMethod)
	assert.Contains(t, optionIDs(last(out)), "pay:cash")

	h.send("try again")
	s = h.session()
	assert.Equal(t, models.StagePostSubmission, s.Stage)
	assert.Equal(t, "R-7", s.LastOrderRef)

	orders := backend.Orders()
	require.Len(t, orders, 2)
	assert.Equal(t, orders[0].IdempotencyKey, orders[1].IdempotencyKey, "retries reuse the idempotency key")
}

func TestOrderFlow_TypedButtonTitles(t *testing.T) {
	h := newHarness(t, newFakeBackend(failure()))
	h.put(checkoutSession())

	h.send("cash")
	require.Equal(t, models.StageAwaitingPayment, h.session().Stage)

	out := h.send("Change payment")
	assert.Equal(t, models.StageCheckout, h.session().Stage)
	assert.Equal(t, []string{"pay:cash", "pay:card"}, optionIDs(last(out)))

	h.send("cash")
	h.send("view cart")
	require.Equal(t, models.StageCartReview, h.session().Stage)

	h.send("add more")
	assert.Equal(t, models.StageBrowsingCategories, h.session().Stage)
}

func TestOrderFlow_ResetDuringSubmissionDiscardsResult(t *testing.T) {
	backend := newFakeBackend(success("R-LATE"))
	backend.started = make(chan struct{})
	backend.release = make(chan struct{})
	h := newHarness(t, backend)
	h.put(checkoutSession())

	done := make(chan []models.OutboundMessage, 1)
	go func() {
		out, err := h.flow.HandleInboundMessage(context.Background(), models.InboundMessage{
			TenantID: testTenant, From: testFrom, Body: "cash",
		})
		assert.NoError(t, err)
		done <- out
	}()

	<-backend.started
	assert.Equal(t, models.StageSubmitting, h.session().Stage)

	out := h.send("still waiting?")
	assert.Contains(t, last(out).Body, "placing your order")

	h.send("new order")
	assert.Equal(t, models.StageAwaitingOrderType, h.session().Stage)

	close(backend.release)
	select {
	case out := <-done:
		assert.Len(t, out, 1, "only the placing message, the late result is dropped")
	case <-time.After(5 * time.Second):
		t.Fatal("submission did not finish")
	}

	s := h.session()
	assert.Equal(t, models.StageAwaitingOrderType, s.Stage)
	assert.Empty(t, s.LastOrderRef)
	assert.Empty(t, s.Cart)
}

func TestOrderFlow_StaleSubmittingRecovers(t *testing.T) {
	h := newHarness(t, newFakeBackend())
	s := checkoutSession()
	s.Stage = models.StageSubmitting
	s.PaymentMethod = models.PaymentMethodCash
	h.put(s)

	h.flow.now = func() time.Time { return time.Now().Add(time.Hour) }
	out := h.send("hello?")
	assert.Equal(t, models.StageAwaitingPayment, h.session().Stage)
	assert.Contains(t, optionIDs(last(out)), "pay:cash")
}

func TestOrderFlow_ConcurrentMessagesSerialize(t *testing.T) {
	h := newHarness(t, newFakeBackend())
	s := baseSession(models.StageCartReview)
	s.OrderType = models.OrderTypePickup
	s.BranchID = "b1"
	s.Cart = []models.CartLine{
		{ItemID: "cola", Name: "Cola", UnitPrice: 199, Quantity: 2},
		{ItemID: "classic", Name: "Classic Burger", UnitPrice: 899, Quantity: 1},
	}
	h.put(s)
	startVersion := h.session().Version

	const viewers = 20
	var wg sync.WaitGroup
	for i := 0; i < viewers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.flow.HandleInboundMessage(context.Background(), models.InboundMessage{
				TenantID: testTenant, From: testFrom, ReplyID: ReplyCartView,
			})
			assert.NoError(t, err)
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := h.flow.HandleInboundMessage(context.Background(), models.InboundMessage{
			TenantID: testTenant, From: "+1 555 123 4567", ReplyID: "remove:cola",
		})
		assert.NoError(t, err)
	}()
	wg.Wait()

	got := h.session()
	assert.Equal(t, startVersion+viewers+1, got.Version, "every message produced exactly one write")
	require.Len(t, got.Cart, 1)
	assert.Equal(t, "classic", got.Cart[0].ItemID)
	assert.Equal(t, models.StageCartReview, got.Stage)
}

func TestOrderFlow_VersionConflictIsReprocessed(t *testing.T) {
	h := newHarness(t, newFakeBackend())
	h.put(baseSession(models.StageIdle))

	racy := &racingStore{MemoryStore: h.store}
	h.flow.sessions = NewSessionManager(racy, time.Second)

	h.send("new order")
	assert.Equal(t, models.StageAwaitingOrderType, h.session().Stage)
	assert.Equal(t, 1, racy.interfered)
}

// racingStore bumps the stored version once behind the flow's back
type racingStore struct {
	*storage.MemoryStore
	interfered int
}

func (r *racingStore) PutSessionIfVersion(ctx context.Context, s *models.ConversationSession, expected int64) error {
	if r.interfered == 0 {
		r.interfered++
		current, err := r.MemoryStore.GetSession(ctx, storage.KeyOf(s))
		if err != nil {
			return err
		}
		if err := r.MemoryStore.PutSessionIfVersion(ctx, current, current.Version); err != nil {
			return err
		}
	}
	return r.MemoryStore.PutSessionIfVersion(ctx, s, expected)
}

func TestOrderFlow_TenantFlags(t *testing.T) {
	h := newHarness(t, newFakeBackend())
	tenant := testSeed().Tenants[0]

	tenant.BotEnabled = false
	h.store.SetTenant(tenant)
	out := h.send("new order")
	assert.Empty(t, out)
	assert.Equal(t, models.StageDisabled, h.session().Stage)
	out = h.send("hello")
	assert.Empty(t, out)

	tenant.BotEnabled = true
	tenant.Synthetic = true
	h.store.SetTenant(tenant)
	out = h.send("hello")
	require.Len(t, out, 1)
	assert.Contains(t, out[0].Body, "team member")
	assert.Equal(t, models.StageManualHandoff, h.session().Stage)
	for _, text := range []string{"I want a burger", "new order"} {
		out = h.send(text)
		require.Len(t, out, 1, "every message gets the concierge greeting")
		assert.Contains(t, out[0].Body, "team member")
		assert.Equal(t, models.StageManualHandoff, h.session().Stage)
		assert.Empty(t, h.session().Cart)
	}

	tenant.Synthetic = false
	h.store.SetTenant(tenant)
	h.send("new order")
	assert.Equal(t, models.StageAwaitingOrderType, h.session().Stage)
}

func TestOrderFlow_FormatsShareOneSession(t *testing.T) {
	h := newHarness(t, newFakeBackend())
	for i, from := range []string{"whatsapp:+15551234567", "+15551234567", "15551234567"} {
		_, err := h.flow.HandleInboundMessage(context.Background(), models.InboundMessage{
			TenantID: testTenant, From: from, Body: fmt.Sprintf("msg %d", i),
		})
		require.NoError(t, err)
	}
	s := h.session()
	assert.Equal(t, int64(4), s.Version, "one create and three writes on the same key")
}

func TestOrderFlow_InputErrors(t *testing.T) {
	h := newHarness(t, newFakeBackend())

	_, err := h.flow.HandleInboundMessage(context.Background(), models.InboundMessage{TenantID: testTenant, From: "whatsapp:", Body: "hi"})
	assert.ErrorIs(t, err, utils.ErrMalformedAddress)

	_, err = h.flow.HandleInboundMessage(context.Background(), models.InboundMessage{TenantID: "nope", From: testFrom, Body: "hi"})
	assert.ErrorIs(t, err, storage.ErrTenantNotFound)
}

func TestOrderFlow_ResetIdle(t *testing.T) {
	h := newHarness(t, newFakeBackend())
	s := baseSession(models.StageBrowsingItems)
	s.OrderType = models.OrderTypePickup
	s.BranchID = "b1"
	h.put(s)
	key := storage.SessionKey{TenantID: testTenant, PhoneKey: testPhone}

	reset, err := h.flow.ResetIdle(context.Background(), key, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.False(t, reset, "recently active sessions are kept")

	reset, err = h.flow.ResetIdle(context.Background(), key, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, reset)
	got := h.session()
	assert.Equal(t, models.StageIdle, got.Stage)
	assert.Equal(t, models.OrderTypeUnset, got.OrderType)
}
