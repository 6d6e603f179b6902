package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/attaboy/checkout/internal/auth"
	"github.com/attaboy/checkout/internal/domain"
	"github.com/attaboy/checkout/internal/guard"
	"github.com/attaboy/checkout/internal/ledger"
	"github.com/attaboy/checkout/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- RespondJSON Tests ---

func TestRespondJSON(t *testing.T) {
	t.Run("200 with body", func(t *testing.T) {
		w := httptest.NewRecorder()
		RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		assert.Equal(t, http.StatusOK, w.Code)
		var body map[string]string
		require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
		assert.Equal(t, "ok", body["status"])
	})

	t.Run("204 with nil body", func(t *testing.T) {
		w := httptest.NewRecorder()
		RespondJSON(w, http.StatusNoContent, nil)
		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Empty(t, w.Body.String())
	})
}

// --- RespondError Tests ---

func TestRespondError(t *testing.T) {
	t.Run("AppError maps to correct status", func(t *testing.T) {
		tests := []struct {
			err           *domain.AppError
			wantStatus    int
			wantCode      string
			wantRetryable bool
		}{
			{domain.ErrNotFound("purchase", "123"), 404, "NOT_FOUND", false},
			{domain.ErrValidation("bad input"), 400, "VALIDATION_ERROR", false},
			{domain.ErrMissingID(), 400, "MISSING_ID", false},
			{domain.ErrUnauthorized("no token"), 401, "UNAUTHORIZED", false},
			{domain.ErrPayloadMismatch("amount changed"), 409, "PAYLOAD_MISMATCH", false},
			{domain.ErrIntentTerminal("pi_1", domain.IntentCanceled), 409, "PAYMENT_INTENT_TERMINAL", false},
			{domain.ErrGatewayUnavailable(nil), 503, "PAYMENT_GATEWAY_UNAVAILABLE", true},
			{domain.ErrRateLimited("slow down"), 429, "RATE_LIMITED", true},
			{domain.ErrInternal("oops", nil), 500, "INTERNAL_ERROR", true},
		}

		for _, tt := range tests {
			t.Run(tt.wantCode, func(t *testing.T) {
				w := httptest.NewRecorder()
				RespondError(w, tt.err)
				assert.Equal(t, tt.wantStatus, w.Code)

				var body errorBody
				require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
				assert.False(t, body.OK)
				assert.Equal(t, tt.wantCode, body.Code)
				assert.Equal(t, tt.wantRetryable, body.Retryable)
			})
		}
	})

	t.Run("wrapped AppError is detected", func(t *testing.T) {
		w := httptest.NewRecorder()
		RespondError(w, errors.Join(errors.New("context"), domain.ErrMissingID()))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("generic error returns 500 without cause", func(t *testing.T) {
		w := httptest.NewRecorder()
		RespondError(w, errors.New("pq: connection refused"))
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.NotContains(t, w.Body.String(), "pq:")

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
		assert.Equal(t, "INTERNAL_ERROR", body["code"])
		assert.Equal(t, "internal server error", body["message"])
	})
}

// --- DecodeJSON Tests ---

func TestDecodeJSON(t *testing.T) {
	t.Run("valid JSON body", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(`{"name":"test","value":42}`))
		var dst struct {
			Name  string `json:"name"`
			Value int    `json:"value"`
		}
		require.NoError(t, DecodeJSON(r, &dst))
		assert.Equal(t, "test", dst.Name)
		assert.Equal(t, 42, dst.Value)
	})

	t.Run("invalid JSON returns error", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(`{invalid`))
		var dst map[string]interface{}
		require.Error(t, DecodeJSON(r, &dst))
	})

	t.Run("body exceeding 1MiB returns error", func(t *testing.T) {
		big := `{"k":"` + strings.Repeat("x", 1<<20) + `"}`
		r := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(big))
		var dst map[string]interface{}
		require.Error(t, DecodeJSON(r, &dst))
	})
}

// --- Middleware Tests ---

func TestRequestID(t *testing.T) {
	t.Run("generates ID when none provided", func(t *testing.T) {
		h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.NotEmpty(t, GetRequestID(r.Context()))
			w.WriteHeader(http.StatusOK)
		}))

		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
	})

	t.Run("uses provided X-Request-ID", func(t *testing.T) {
		h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "my-custom-id", GetRequestID(r.Context()))
			w.WriteHeader(http.StatusOK)
		}))

		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("X-Request-ID", "my-custom-id")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		assert.Equal(t, "my-custom-id", w.Header().Get("X-Request-ID"))
	})
}

func TestGetRequestID_EmptyContext(t *testing.T) {
	assert.Empty(t, GetRequestID(context.Background()))
}

func TestCORS(t *testing.T) {
	t.Run("sets CORS headers", func(t *testing.T) {
		h := CORS("")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
		assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "Idempotency-Key")
	})

	t.Run("OPTIONS returns 204", func(t *testing.T) {
		h := CORS("https://tickets.example.com")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/", nil))
		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Equal(t, "https://tickets.example.com", w.Header().Get("Access-Control-Allow-Origin"))
	})
}

func TestNoStore(t *testing.T) {
	h := NoStore(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
}

func TestRateLimit(t *testing.T) {
	h := RateLimit(guard.NewRateLimiter(0.001, 2))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		r := httptest.NewRequest(http.MethodGet, "/checkout/status", nil)
		r.RemoteAddr = "10.0.0.1:5555"
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		codes = append(codes, w.Code)
	}
	assert.Equal(t, []int{200, 200, 429}, codes)

	t.Run("other clients have their own bucket", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/checkout/status", nil)
		r.RemoteAddr = "10.0.0.2:5555"
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.1:54321"
	assert.Equal(t, "10.0.0.1", clientIP(r))

	r.RemoteAddr = "10.0.0.1"
	assert.Equal(t, "10.0.0.1", clientIP(r))
}

func TestRecovery(t *testing.T) {
	h := Recovery(noopLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("something went wrong")
	}))

	w := httptest.NewRecorder()
	assert.NotPanics(t, func() {
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "INTERNAL_ERROR")
}

func TestResponseWriter_CapturesStatus(t *testing.T) {
	w := httptest.NewRecorder()
	rw := &responseWriter{ResponseWriter: w, status: 200}

	rw.WriteHeader(http.StatusNotFound)
	assert.Equal(t, 404, rw.status)
	assert.Equal(t, 404, w.Code)
}

// --- HealthHandler Tests ---

func TestHealthHandler(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		w := httptest.NewRecorder()
		HealthHandler(func(context.Context) error { return nil })(w, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "healthy")
	})

	t.Run("unhealthy", func(t *testing.T) {
		w := httptest.NewRecorder()
		HealthHandler(func(context.Context) error { return errors.New("down") })(w, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Contains(t, w.Body.String(), "unhealthy")
	})
}

// --- CheckoutHandler Tests ---

type stubResolver struct {
	got domain.StatusQuery
	st  *domain.CheckoutStatus
	err error
}

func (s *stubResolver) ResolveStatus(_ context.Context, q domain.StatusQuery) (*domain.CheckoutStatus, error) {
	s.got = q
	if s.err != nil {
		return nil, s.err
	}
	return s.st, nil
}

type stubEnsurer struct {
	got service.EnsureIntentParams
	res *service.EnsureIntentResult
	err error
}

func (s *stubEnsurer) EnsurePaymentIntent(_ context.Context, p service.EnsureIntentParams) (*service.EnsureIntentResult, error) {
	s.got = p
	if s.err != nil {
		return nil, s.err
	}
	return s.res, nil
}

func TestCheckoutHandler_GetStatus(t *testing.T) {
	t.Run("returns resolved status", func(t *testing.T) {
		res := &stubResolver{st: &domain.CheckoutStatus{
			Status: domain.CheckoutPaid, Final: true, NextAction: domain.ActionNone,
			PurchaseID: "purchase-1", PaymentIntentID: "pi_1",
		}}
		h := NewCheckoutHandler(&stubEnsurer{}, res)

		w := httptest.NewRecorder()
		h.GetStatus(w, httptest.NewRequest(http.MethodGet, "/checkout/status?purchaseId=+purchase-1+", nil))
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "purchase-1", res.got.PurchaseID)

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
		assert.Equal(t, true, body["ok"])
		assert.Equal(t, "PAID", body["status"])
		assert.Equal(t, true, body["final"])
		assert.Equal(t, "NONE", body["nextAction"])
		assert.Equal(t, "pi_1", body["paymentIntentId"])
	})

	t.Run("missing id is a 400", func(t *testing.T) {
		h := NewCheckoutHandler(&stubEnsurer{}, &stubResolver{err: domain.ErrMissingID()})

		w := httptest.NewRecorder()
		h.GetStatus(w, httptest.NewRequest(http.MethodGet, "/checkout/status", nil))
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "MISSING_ID")
	})
}

func TestCheckoutHandler_EnsureIntent(t *testing.T) {
	newEnsurer := func() *stubEnsurer {
		return &stubEnsurer{res: &service.EnsureIntentResult{
			Intent: &domain.Intent{
				ID: "pi_1", Status: domain.IntentRequiresPaymentMethod, ClientSecret: "pi_1_secret",
				Metadata: map[string]string{domain.MetaPurchaseID: "purchase-1"},
			},
			IdempotencyKey: "purchase-1:8350",
		}}
	}
	post := func(h *CheckoutHandler, body string, mutate func(r *http.Request)) *httptest.ResponseRecorder {
		r := httptest.NewRequest(http.MethodPost, "/checkout/intent", strings.NewReader(body))
		if mutate != nil {
			mutate(r)
		}
		w := httptest.NewRecorder()
		h.EnsureIntent(w, r)
		return w
	}

	t.Run("guest request", func(t *testing.T) {
		ens := newEnsurer()
		h := NewCheckoutHandler(ens, &stubResolver{})

		w := post(h, `{"purchaseId":"purchase-1","amountCents":8350,"currency":"usd",
			"metadata":{"emailNormalized":"guest@example.com","ownerUserId":"forged"}}`, nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "purchase-1", ens.got.PurchaseID)
		assert.Equal(t, int64(8350), ens.got.AmountCents)
		assert.Equal(t, "guest@example.com", ens.got.Metadata[domain.MetaEmail])
		assert.NotContains(t, ens.got.Metadata, domain.MetaOwnerUserID)

		var body ensureIntentResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
		assert.True(t, body.OK)
		assert.Equal(t, "pi_1", body.PaymentIntentID)
		assert.Equal(t, "pi_1_secret", body.ClientSecret)
		assert.Equal(t, "purchase-1:8350", body.IdempotencyKey)
	})

	t.Run("authenticated buyer owns the purchase", func(t *testing.T) {
		ens := newEnsurer()
		mgr := auth.NewJWTManager("test-secret", time.Hour)
		token, err := mgr.GenerateToken(auth.RealmBuyer, "user-1", " Buyer@Example.com ", "idp-9")
		require.NoError(t, err)
		h := auth.OptionalBuyer(mgr)(http.HandlerFunc(NewCheckoutHandler(ens, &stubResolver{}).EnsureIntent))

		r := httptest.NewRequest(http.MethodPost, "/checkout/intent", strings.NewReader(`{"purchaseId":"purchase-1","amountCents":8350}`))
		r.Header.Set("Authorization", "Bearer "+token)
		r.Header.Set("Idempotency-Key", "client-key-1")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)

		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "user-1", ens.got.Metadata[domain.MetaOwnerUserID])
		assert.Equal(t, "idp-9", ens.got.Metadata[domain.MetaOwnerIdentityID])
		assert.Equal(t, "buyer@example.com", ens.got.Metadata[domain.MetaEmail])
		assert.Equal(t, "client-key-1", ens.got.ClientIdempotencyKey)
	})

	t.Run("reserved metadata keys are dropped", func(t *testing.T) {
		ens := newEnsurer()
		h := NewCheckoutHandler(ens, &stubResolver{})
		w := post(h, `{"purchaseId":"purchase-1","amountCents":8350,"metadata":{
			"paymentScenario":"RESALE","paymentId":"other","purchaseId":"other",
			"idempotencyKey":"forged","clientIdempotencyKey":"forged","ownerIdentityId":"idp-x",
			"eventId":"evt-1","promoCode":"SPRING"}}`, nil)
		require.Equal(t, http.StatusOK, w.Code)
		for _, k := range domain.ReservedMetaKeys {
			assert.NotContains(t, ens.got.Metadata, k)
		}
		assert.Equal(t, "evt-1", ens.got.Metadata[domain.MetaEventID])
		assert.Equal(t, "SPRING", ens.got.Metadata[domain.MetaPromoCode])
	})

	t.Run("body key wins over header", func(t *testing.T) {
		ens := newEnsurer()
		h := NewCheckoutHandler(ens, &stubResolver{})
		post(h, `{"purchaseId":"purchase-1","amountCents":1,"idempotencyKey":"body-key"}`, func(r *http.Request) {
			r.Header.Set("Idempotency-Key", "header-key")
		})
		assert.Equal(t, "body-key", ens.got.ClientIdempotencyKey)
	})

	t.Run("invalid body", func(t *testing.T) {
		h := NewCheckoutHandler(newEnsurer(), &stubResolver{})
		w := post(h, `{nope`, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("service errors are mapped", func(t *testing.T) {
		h := NewCheckoutHandler(&stubEnsurer{err: domain.ErrPayloadMismatch("amount differs")}, &stubResolver{})
		w := post(h, `{"purchaseId":"purchase-1","amountCents":1}`, nil)
		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Contains(t, w.Body.String(), "PAYLOAD_MISMATCH")
	})
}

// --- WebhookHandler Tests ---

type stubProcessor struct {
	payload []byte
	sig     string
	err     error
}

func (s *stubProcessor) HandleEvent(_ context.Context, payload []byte, sig string) error {
	s.payload, s.sig = payload, sig
	return s.err
}

func TestWebhookHandler(t *testing.T) {
	t.Run("passes raw body and signature", func(t *testing.T) {
		p := &stubProcessor{}
		h := NewWebhookHandler(p, noopLogger())
		r := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", strings.NewReader(`{"id":"evt_1"}`))
		r.Header.Set("Stripe-Signature", "t=1,v1=abc")
		w := httptest.NewRecorder()
		h.HandleStripeWebhook(w, r)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"received":true}`, w.Body.String())
		assert.Equal(t, `{"id":"evt_1"}`, string(p.payload))
		assert.Equal(t, "t=1,v1=abc", p.sig)
	})

	t.Run("missing signature", func(t *testing.T) {
		h := NewWebhookHandler(&stubProcessor{}, noopLogger())
		w := httptest.NewRecorder()
		h.HandleStripeWebhook(w, httptest.NewRequest(http.MethodPost, "/webhooks/stripe", strings.NewReader(`{}`)))
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), string(domain.CodeValidation))
	})

	t.Run("verification failure", func(t *testing.T) {
		h := NewWebhookHandler(&stubProcessor{err: domain.ErrUnauthorized("invalid signature")}, noopLogger())
		r := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", strings.NewReader(`{}`))
		r.Header.Set("Stripe-Signature", "bad")
		w := httptest.NewRecorder()
		h.HandleStripeWebhook(w, r)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

// --- InternalHandler Tests ---

type stubDispatcher struct {
	got     string
	handled bool
	err     error
}

func (s *stubDispatcher) DispatchByID(_ context.Context, id string) (bool, error) {
	s.got = id
	return s.handled, s.err
}

func TestInternalHandler_Fulfill(t *testing.T) {
	t.Run("dispatches by id", func(t *testing.T) {
		d := &stubDispatcher{handled: true}
		w := httptest.NewRecorder()
		NewInternalHandler(d, nil).Fulfill(w, httptest.NewRequest(http.MethodPost, "/internal/fulfillments", strings.NewReader(`{"paymentIntentId":" pi_1 "}`)))

		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "pi_1", d.got)
		var body fulfillResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
		assert.True(t, body.Handled)
	})

	t.Run("retrieve failure is retryable", func(t *testing.T) {
		d := &stubDispatcher{err: domain.ErrIntentRetrieveFailed("pi_1", errors.New("timeout"))}
		w := httptest.NewRecorder()
		NewInternalHandler(d, nil).Fulfill(w, httptest.NewRequest(http.MethodPost, "/internal/fulfillments", strings.NewReader(`{"paymentIntentId":"pi_1"}`)))

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		var body errorBody
		require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
		assert.True(t, body.Retryable)
	})
}

func TestInternalHandler_AuditPurchase(t *testing.T) {
	audit := func(_ context.Context, purchaseID string) (*ledger.AuditResult, error) {
		if purchaseID != "purchase-1" {
			return nil, domain.ErrNotFound("sale summary", purchaseID)
		}
		return &ledger.AuditResult{PurchaseID: purchaseID, EntitlementCount: 4, AllPassed: true}, nil
	}
	r := chi.NewRouter()
	r.Get("/internal/purchases/{purchaseID}/audit", NewInternalHandler(&stubDispatcher{}, audit).AuditPurchase)

	t.Run("found", func(t *testing.T) {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/internal/purchases/purchase-1/audit", nil))
		require.Equal(t, http.StatusOK, w.Code)
		var body ledger.AuditResult
		require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
		assert.True(t, body.AllPassed)
		assert.Equal(t, 4, body.EntitlementCount)
	})

	t.Run("unknown purchase", func(t *testing.T) {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/internal/purchases/nope/audit", nil))
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

// helper

func noopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
