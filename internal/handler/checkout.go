package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/attaboy/checkout/internal/auth"
	"github.com/attaboy/checkout/internal/domain"
	"github.com/attaboy/checkout/internal/service"
)

// StatusResolver resolves the canonical checkout status of a purchase.
type StatusResolver interface {
	ResolveStatus(ctx context.Context, q domain.StatusQuery) (*domain.CheckoutStatus, error)
}

// IntentEnsurer returns the payable intent for a purchase.
type IntentEnsurer interface {
	EnsurePaymentIntent(ctx context.Context, p service.EnsureIntentParams) (*service.EnsureIntentResult, error)
}

// CheckoutHandler serves the buyer-facing checkout endpoints.
type CheckoutHandler struct {
	intents IntentEnsurer
	status  StatusResolver
}

// NewCheckoutHandler creates a new CheckoutHandler.
func NewCheckoutHandler(intents IntentEnsurer, status StatusResolver) *CheckoutHandler {
	return &CheckoutHandler{intents: intents, status: status}
}

type statusResponse struct {
	OK bool `json:"ok"`
	*domain.CheckoutStatus
}

// GetStatus handles GET /checkout/status?purchaseId=&paymentIntentId=.
func (h *CheckoutHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	q := domain.StatusQuery{
		PurchaseID:      strings.TrimSpace(r.URL.Query().Get("purchaseId")),
		PaymentIntentID: strings.TrimSpace(r.URL.Query().Get("paymentIntentId")),
	}

	st, err := h.status.ResolveStatus(r.Context(), q)
	if err != nil {
		RespondError(w, err)
		return
	}

	RespondJSON(w, http.StatusOK, statusResponse{OK: true, CheckoutStatus: st})
}

type ensureIntentRequest struct {
	PurchaseID     string            `json:"purchaseId"`
	AmountCents    int64             `json:"amountCents"`
	Currency       string            `json:"currency"`
	Metadata       map[string]string `json:"metadata"`
	IdempotencyKey string            `json:"idempotencyKey"`
}

type ensureIntentResponse struct {
	OK              bool                `json:"ok"`
	PurchaseID      string              `json:"purchaseId"`
	PaymentIntentID string              `json:"paymentIntentId"`
	ClientSecret    string              `json:"clientSecret,omitempty"`
	Status          domain.IntentStatus `json:"status"`
	IdempotencyKey  string              `json:"idempotencyKey"`
	Reused          bool                `json:"reused"`
}

// EnsureIntent handles POST /checkout/intent.
func (h *CheckoutHandler) EnsureIntent(w http.ResponseWriter, r *http.Request) {
	var req ensureIntentRequest
	if err := DecodeJSON(r, &req); err != nil {
		RespondError(w, domain.ErrValidation("invalid request body"))
		return
	}

	key := req.IdempotencyKey
	if key == "" {
		key = r.Header.Get("Idempotency-Key")
	}

	res, err := h.intents.EnsurePaymentIntent(r.Context(), service.EnsureIntentParams{
		PurchaseID:           req.PurchaseID,
		AmountCents:          req.AmountCents,
		Currency:             req.Currency,
		Metadata:             buyerMetadata(req.Metadata, auth.ClaimsFromContext(r.Context())),
		ClientIdempotencyKey: key,
	})
	if err != nil {
		RespondError(w, err)
		return
	}

	RespondJSON(w, http.StatusOK, ensureIntentResponse{
		OK:              true,
		PurchaseID:      res.Intent.PurchaseID(),
		PaymentIntentID: res.Intent.ID,
		ClientSecret:    res.Intent.ClientSecret,
		Status:          res.Intent.Status,
		IdempotencyKey:  res.IdempotencyKey,
		Reused:          res.Reused,
	})
}

// buyerMetadata drops reserved keys from client metadata and overlays the
// authenticated buyer. Owner ids are only ever taken from a verified token, and
// public checkouts are always single purchases.
func buyerMetadata(in map[string]string, claims *auth.Claims) map[string]string {
	out := make(map[string]string, len(in)+3)
	for k, v := range in {
		out[k] = v
	}
	for _, k := range domain.ReservedMetaKeys {
		delete(out, k)
	}
	if claims == nil {
		return out
	}
	out[domain.MetaOwnerUserID] = claims.Subject
	if claims.IdentityID != "" {
		out[domain.MetaOwnerIdentityID] = claims.IdentityID
	}
	if claims.Email != "" {
		out[domain.MetaEmail] = strings.ToLower(strings.TrimSpace(claims.Email))
	}
	return out
}
