//go:build integration

package integration

import (
	"net/http"
	"testing"

	"github.com/attaboy/checkout/test/integration/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const breakdown = `{"lines":[
	{"ticketTypeId":"tt-ga","quantity":3,"unitPriceCents":1000,"platformFeeCents":100},
	{"ticketTypeId":"tt-vip","quantity":1,"unitPriceCents":5000,"platformFeeCents":250}
],"subtotalCents":8000,"platformFeeCents":350,"totalCents":8350,"currency":"EUR"}`

type statusBody struct {
	OK              bool   `json:"ok"`
	Status          string `json:"status"`
	Final           bool   `json:"final"`
	Retryable       bool   `json:"retryable"`
	NextAction      string `json:"nextAction"`
	ErrorMessage    string `json:"errorMessage"`
	PurchaseID      string `json:"purchaseId"`
	PaymentIntentID string `json:"paymentIntentId"`
}

func succeededIntent(purchaseID, intentID string) map[string]interface{} {
	return map[string]interface{}{
		"id":              intentID,
		"object":          "payment_intent",
		"amount":          8350,
		"amount_received": 8350,
		"currency":        "eur",
		"status":          "succeeded",
		"livemode":        false,
		"metadata": map[string]string{
			"purchaseId":      purchaseID,
			"eventId":         "evt-1",
			"breakdown":       breakdown,
			"ownerUserId":     "user-1",
			"emailNormalized": "buyer@example.com",
		},
	}
}

func status(t *testing.T, env *testutil.TestEnv, query string) statusBody {
	t.Helper()
	resp := env.GET("/checkout/status?" + query)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body statusBody
	testutil.DecodeJSON(t, resp, &body)
	return body
}

func seedCatalog(env *testutil.TestEnv) {
	env.SeedEvent("evt-1",
		testutil.TicketTypeSeed{ID: "tt-ga", PriceCents: 1000, Total: 100},
		testutil.TicketTypeSeed{ID: "tt-vip", PriceCents: 5000, Total: 10},
	)
}

// --- Fulfillment Tests ---

func TestWebhookFulfillment_EndToEnd(t *testing.T) {
	env := testutil.NewTestEnv(t)
	seedCatalog(env)

	payload := testutil.StripeEvent("evt_100", "payment_intent.succeeded", succeededIntent("purchase-1", "pi_1"))
	resp := env.PostWebhook(payload)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	st := status(t, env, "purchaseId=purchase-1")
	assert.Equal(t, "PAID", st.Status)
	assert.True(t, st.Final)
	assert.Equal(t, "NONE", st.NextAction)
	assert.Equal(t, "pi_1", st.PaymentIntentID)

	assert.Equal(t, 1, testutil.CountRows(t, env, "sale_summaries", "purchase_id = $1", "purchase-1"))
	assert.Equal(t, 4, testutil.CountRows(t, env, "entitlements", "purchase_id = $1", "purchase-1"))
	assert.Equal(t, 1, testutil.CountRows(t, env, "issued_fulfillments", "payment_intent_id = $1", "pi_1"))
	assert.Equal(t, 1, testutil.CountRows(t, env, "event_outbox", "event_type = $1", "checkout.purchase.paid"))
	testutil.AssertSold(t, env, "tt-ga", 3)
	testutil.AssertSold(t, env, "tt-vip", 1)

	t.Run("redelivery does not duplicate", func(t *testing.T) {
		resp := env.PostWebhook(payload)
		resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		assert.Equal(t, 4, testutil.CountRows(t, env, "entitlements", "purchase_id = $1", "purchase-1"))
		assert.Equal(t, 1, testutil.CountRows(t, env, "operations", "dedupe_key = $1", "pi_1"))
		testutil.AssertSold(t, env, "tt-ga", 3)
	})

	t.Run("status by intent id", func(t *testing.T) {
		st := status(t, env, "paymentIntentId=pi_1")
		assert.Equal(t, "PAID", st.Status)
		assert.Equal(t, "purchase-1", st.PurchaseID)
	})

	t.Run("ledger audit passes", func(t *testing.T) {
		resp := env.WorkerGET("/internal/purchases/purchase-1/audit")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var audit struct {
			AllPassed        bool `json:"allPassed"`
			EntitlementCount int  `json:"entitlementCount"`
		}
		testutil.DecodeJSON(t, resp, &audit)
		assert.True(t, audit.AllPassed)
		assert.Equal(t, 4, audit.EntitlementCount)
	})
}

func TestWebhookFulfillment_RefundRevokesButStaysPaid(t *testing.T) {
	env := testutil.NewTestEnv(t)
	seedCatalog(env)

	resp := env.PostWebhook(testutil.StripeEvent("evt_100", "payment_intent.succeeded", succeededIntent("purchase-1", "pi_1")))
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.PostWebhook(testutil.StripeEvent("evt_101", "charge.refunded", map[string]interface{}{
		"id":              "ch_1",
		"object":          "charge",
		"amount":          8350,
		"amount_refunded": 8350,
		"refunded":        true,
		"payment_intent":  "pi_1",
	}))
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Equal(t, []string{"REVOKED"}, testutil.EntitlementStatuses(t, env, "purchase-1"))
	assert.Equal(t, "PAID", status(t, env, "purchaseId=purchase-1").Status)
}

func TestWebhookFulfillment_PaymentFailed(t *testing.T) {
	env := testutil.NewTestEnv(t)

	resp := env.PostWebhook(testutil.StripeEvent("evt_102", "payment_intent.payment_failed", map[string]interface{}{
		"id":       "pi_2",
		"object":   "payment_intent",
		"amount":   8350,
		"currency": "eur",
		"status":   "requires_payment_method",
		"metadata": map[string]string{"purchaseId": "purchase-2"},
		"last_payment_error": map[string]interface{}{
			"message": "Your card was declined.",
		},
	}))
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	st := status(t, env, "purchaseId=purchase-2")
	assert.Equal(t, "FAILED", st.Status)
	assert.Equal(t, "START_NEW_PURCHASE", st.NextAction)
	assert.Equal(t, "Your card was declined.", st.ErrorMessage)
	assert.Equal(t, 0, testutil.CountRows(t, env, "operations", "purchase_id = $1", "purchase-2"))
}

// --- Status Tests ---

func TestStatus_UnknownPurchaseSelfHeals(t *testing.T) {
	env := testutil.NewTestEnv(t)

	st := status(t, env, "purchaseId=purchase-9")
	assert.Equal(t, "PENDING", st.Status)
	assert.False(t, st.Final)
	assert.True(t, st.Retryable)
	assert.Equal(t, "POLL", st.NextAction)
	assert.Equal(t, 1, testutil.CountRows(t, env, "operations", "dedupe_key = $1", "purchase-9"))
	assert.Equal(t, 0, testutil.CountRows(t, env, "sale_summaries", "purchase_id = $1", "purchase-9"))

	t.Run("repeated polls do not duplicate work", func(t *testing.T) {
		status(t, env, "purchaseId=purchase-9")
		assert.Equal(t, 1, testutil.CountRows(t, env, "operations", "dedupe_key = $1", "purchase-9"))
	})
}

func TestStatus_MissingID(t *testing.T) {
	env := testutil.NewTestEnv(t)

	resp := env.GET("/checkout/status")
	testutil.AssertStatus(t, resp, http.StatusBadRequest)
	testutil.AssertErrorCode(t, resp, "MISSING_ID")
}

// --- Security Tests ---

func TestWebhook_InvalidSignatureRejected(t *testing.T) {
	env := testutil.NewTestEnv(t)

	req, err := http.NewRequest(http.MethodPost, env.Server.URL+"/webhooks/stripe", nil)
	require.NoError(t, err)
	req.Header.Set("Stripe-Signature", "t=1,v1=deadbeef")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	testutil.AssertStatus(t, resp, http.StatusUnauthorized)
	resp.Body.Close()
}

func TestInternal_RequiresWorkerSecret(t *testing.T) {
	env := testutil.NewTestEnv(t)

	resp := env.POST("/internal/fulfillments", map[string]string{"paymentIntentId": "pi_1"}, "")
	testutil.AssertStatus(t, resp, http.StatusUnauthorized)
	resp.Body.Close()
}
