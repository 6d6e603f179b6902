package service

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/attaboy/checkout/internal/domain"
	"github.com/attaboy/checkout/internal/repository/repotest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- FulfillPaidIntent Tests ---

func TestFulfillPaidIntent_MaterializesSale(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	intent := h.paidIntent("purchase-1", "pi_1", map[string]string{domain.MetaPromoCode: "SPRING"})

	handled, err := h.fulfiller.FulfillPaidIntent(ctx, intent)
	require.NoError(t, err)
	assert.True(t, handled)

	summary, err := h.repos.Sales.FindSummaryByPurchase(ctx, nil, "purchase-1")
	require.NoError(t, err)
	require.NotNil(t, summary)
	assert.Equal(t, "user:user-1", summary.OwnerKey)
	assert.Equal(t, int64(8350), summary.TotalCents)

	assert.Equal(t, 4, h.store.EntitlementCount("purchase-1"))
	assert.Equal(t, 3, h.store.Sold("evt-1", "tt-ga"))
	assert.Equal(t, 1, h.store.Sold("evt-1", "tt-vip"))

	ev, err := h.repos.PaymentEvents.FindByPurchase(ctx, nil, "purchase-1")
	require.NoError(t, err)
	assert.Equal(t, domain.TelemetryOK, ev.Status)
	assert.Contains(t, h.store.OutboxTypes(), domain.EventPurchasePaid)

	t.Run("side effects enqueued", func(t *testing.T) {
		receipts := h.store.OperationsOfType(domain.OpSendEmailReceipt)
		require.Len(t, receipts, 1)
		assert.Equal(t, "purchase-1:buyer@example.com", receipts[0].DedupeKey)

		notes := h.store.OperationsOfType(domain.OpSendNotificationPurchase)
		require.Len(t, notes, 1)
		assert.Equal(t, "purchase-1:notify:user-1", notes[0].DedupeKey)

		promos := h.store.OperationsOfType(domain.OpApplyPromoRedemption)
		require.Len(t, promos, 1)
		assert.Equal(t, "APPLY_PROMO_REDEMPTION:purchase-1", promos[0].DedupeKey)

		var body map[string]string
		require.NoError(t, json.Unmarshal(promos[0].Payload, &body))
		assert.Equal(t, "SPRING", body["promoCode"])
		assert.Len(t, h.notifier.ops, 3)
	})
}

func TestFulfillPaidIntent_Idempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	intent := h.paidIntent("purchase-1", "pi_1", nil)

	for i := 0; i < 3; i++ {
		handled, err := h.fulfiller.FulfillPaidIntent(ctx, intent)
		require.NoError(t, err)
		assert.True(t, handled)
	}

	assert.Equal(t, 4, h.store.EntitlementCount("purchase-1"))
	assert.Equal(t, 3, h.store.Sold("evt-1", "tt-ga"))
	assert.Len(t, h.store.OperationsOfType(domain.OpSendEmailReceipt), 1)
	assert.Len(t, h.store.Fulfillments, 1)

	paid := 0
	for _, typ := range h.store.OutboxTypes() {
		if typ == domain.EventPurchasePaid {
			paid++
		}
	}
	assert.Equal(t, 1, paid)
}

func TestFulfillPaidIntent_GuestOwner(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	intent := h.paidIntent("purchase-1", "pi_1", map[string]string{domain.MetaOwnerUserID: ""})

	handled, err := h.fulfiller.FulfillPaidIntent(ctx, intent)
	require.NoError(t, err)
	require.True(t, handled)

	ents, err := h.repos.Entitlements.ListByPurchase(ctx, nil, "purchase-1")
	require.NoError(t, err)
	require.Len(t, ents, 4)
	for _, e := range ents {
		assert.Equal(t, "email:buyer@example.com", e.OwnerKey)
		require.NotNil(t, e.GuestEmail)
		assert.Equal(t, "buyer@example.com", *e.GuestEmail)
	}
	assert.Empty(t, h.store.OperationsOfType(domain.OpSendNotificationPurchase))
	assert.Len(t, h.store.OperationsOfType(domain.OpSendEmailReceipt), 1)
}

func TestFulfillPaidIntent_NotHandled(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(intent *domain.Intent)
	}{
		{"specialized scenario", func(i *domain.Intent) { i.Metadata[domain.MetaScenario] = "RESALE" }},
		{"unknown scenario", func(i *domain.Intent) { i.Metadata[domain.MetaScenario] = "BARTER" }},
		{"not succeeded", func(i *domain.Intent) { i.Status = domain.IntentProcessing }},
		{"missing breakdown", func(i *domain.Intent) { delete(i.Metadata, domain.MetaBreakdown) }},
		{"malformed breakdown", func(i *domain.Intent) { i.Metadata[domain.MetaBreakdown] = "{not json" }},
		{"empty breakdown", func(i *domain.Intent) { i.Metadata[domain.MetaBreakdown] = `{"lines":[]}` }},
		{"missing event", func(i *domain.Intent) { delete(i.Metadata, domain.MetaEventID) }},
		{"unknown event", func(i *domain.Intent) { i.Metadata[domain.MetaEventID] = "evt-404" }},
		{"foreign ticket type", func(i *domain.Intent) { i.Metadata[domain.MetaEventID] = "evt-2" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			intent := h.paidIntent("purchase-1", "pi_1", nil)
			tt.mutate(intent)

			handled, err := h.fulfiller.FulfillPaidIntent(context.Background(), intent)
			require.NoError(t, err)
			assert.False(t, handled)
			assert.Empty(t, h.store.Summaries)
			assert.Empty(t, h.store.Fulfillments)
			assert.Empty(t, h.store.Entitlements)
			assert.Empty(t, h.store.Operations)
		})
	}
}

func TestFulfillPaidIntent_RejectsUnpaidBreakdown(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(intent *domain.Intent)
	}{
		{"underpaid", func(i *domain.Intent) { i.AmountCents, i.AmountReceivedCents = 100, 100 }},
		{"forged unit price", func(i *domain.Intent) {
			i.AmountCents, i.AmountReceivedCents = 100, 100
			i.Metadata[domain.MetaBreakdown] = `{"lines":[{"ticketTypeId":"tt-vip","quantity":25,"unitPriceCents":4}],"totalCents":100}`
		}},
		{"breakdown total above capture", func(i *domain.Intent) {
			i.AmountCents, i.AmountReceivedCents = 100, 100
			i.Metadata[domain.MetaBreakdown] = `{"lines":[{"ticketTypeId":"tt-vip","quantity":25,"unitPriceCents":5000}],"totalCents":125000}`
		}},
		{"quantity above the line cap", func(i *domain.Intent) {
			i.AmountCents, i.AmountReceivedCents = 10000000, 10000000
			i.Metadata[domain.MetaBreakdown] = `{"lines":[{"ticketTypeId":"tt-ga","quantity":10000,"unitPriceCents":1000}],"totalCents":10000000}`
		}},
		{"discount without promo code", func(i *domain.Intent) {
			i.AmountCents, i.AmountReceivedCents = 1, 1
			i.Metadata[domain.MetaBreakdown] = `{"lines":[{"ticketTypeId":"tt-vip","quantity":1,"unitPriceCents":5000,"discountPerUnitCents":4999}],"totalCents":1}`
		}},
		{"currency differs", func(i *domain.Intent) { i.Currency = "USD" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			intent := h.paidIntent("purchase-1", "pi_1", nil)
			tt.mutate(intent)

			handled, err := h.fulfiller.FulfillPaidIntent(context.Background(), intent)
			appErr := requireCode(t, err, domain.CodePayloadMismatch)
			assert.False(t, appErr.Retryable)
			assert.False(t, handled)
			assert.Empty(t, h.store.Summaries)
			assert.Empty(t, h.store.Fulfillments)
			assert.Empty(t, h.store.Entitlements)
			assert.Equal(t, 0, h.store.Sold("evt-1", "tt-vip"))
			assert.Equal(t, 0, h.store.Sold("evt-1", "tt-ga"))
		})
	}

	t.Run("paid in full with promo", func(t *testing.T) {
		h := newHarness(t)
		intent := h.paidIntent("purchase-1", "pi_1", map[string]string{domain.MetaPromoCode: "SPRING"})
		intent.AmountCents, intent.AmountReceivedCents = 4500, 4500
		intent.Metadata[domain.MetaBreakdown] = `{"lines":[{"ticketTypeId":"tt-vip","quantity":1,"unitPriceCents":5000,"discountPerUnitCents":500}],"totalCents":4500}`

		handled, err := h.fulfiller.FulfillPaidIntent(context.Background(), intent)
		require.NoError(t, err)
		assert.True(t, handled)
		assert.Equal(t, 1, h.store.EntitlementCount("purchase-1"))
	})
}

func TestFulfillPaidIntent_RollbackOnFailure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	intent := h.paidIntent("purchase-1", "pi_1", nil)
	h.store.FailTx = repotest.ErrTxFailed

	handled, err := h.fulfiller.FulfillPaidIntent(ctx, intent)
	requireCode(t, err, domain.CodeInternal)
	assert.False(t, handled)
	assert.Empty(t, h.store.Summaries)
	assert.Empty(t, h.store.Fulfillments)
	assert.Equal(t, 0, h.store.Sold("evt-1", "tt-ga"))

	// A retry after the failure materializes the sale once.
	handled, err = h.fulfiller.FulfillPaidIntent(ctx, intent)
	require.NoError(t, err)
	assert.True(t, handled)
	assert.Equal(t, 4, h.store.EntitlementCount("purchase-1"))
}

// --- FulfillmentDispatcher Tests ---

func TestDispatcher_RoutesByScenario(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	var resale []string
	h.dispatcher.Register(domain.ScenarioResale, ScenarioHandlerFunc(func(_ context.Context, i *domain.Intent) (bool, error) {
		resale = append(resale, i.ID)
		return true, nil
	}))

	t.Run("single goes to paid fulfiller", func(t *testing.T) {
		handled, err := h.dispatcher.Dispatch(ctx, h.paidIntent("purchase-1", "pi_1", nil))
		require.NoError(t, err)
		assert.True(t, handled)
		assert.Equal(t, 4, h.store.EntitlementCount("purchase-1"))
	})

	t.Run("resale goes to its handler", func(t *testing.T) {
		intent := h.paidIntent("purchase-2", "pi_2", map[string]string{domain.MetaScenario: "resale"})
		handled, err := h.dispatcher.Dispatch(ctx, intent)
		require.NoError(t, err)
		assert.True(t, handled)
		assert.Equal(t, []string{"pi_2"}, resale)
		assert.Equal(t, 0, h.store.EntitlementCount("purchase-2"))
	})

	t.Run("unregistered scenario is not handled", func(t *testing.T) {
		intent := h.paidIntent("purchase-3", "pi_3", map[string]string{domain.MetaScenario: "GROUP_SPLIT"})
		handled, err := h.dispatcher.Dispatch(ctx, intent)
		require.NoError(t, err)
		assert.False(t, handled)
	})
}

func TestDispatcher_DispatchByID(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.paidIntent("purchase-1", "pi_1", nil)

	handled, err := h.dispatcher.DispatchByID(ctx, "pi_1")
	require.NoError(t, err)
	assert.True(t, handled)
	assert.Equal(t, 1, h.gateway.RetrieveCalls)

	_, err = h.dispatcher.DispatchByID(ctx, "pi_missing")
	requireCode(t, err, domain.CodeIntentRetrieveFailed)

	_, err = h.dispatcher.DispatchByID(ctx, "")
	requireCode(t, err, domain.CodeValidation)
}
