package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/attaboy/checkout/internal/domain"
	"github.com/attaboy/checkout/internal/ledger"
	"github.com/go-chi/chi/v5"
)

// IntentDispatcher fulfills a paid intent by id.
type IntentDispatcher interface {
	DispatchByID(ctx context.Context, intentID string) (bool, error)
}

// AuditFunc re-validates the ledger of one purchase.
type AuditFunc func(ctx context.Context, purchaseID string) (*ledger.AuditResult, error)

// InternalHandler serves endpoints called by the operations worker and support tooling.
type InternalHandler struct {
	dispatcher IntentDispatcher
	audit      AuditFunc
}

// NewInternalHandler creates a new InternalHandler.
func NewInternalHandler(dispatcher IntentDispatcher, audit AuditFunc) *InternalHandler {
	return &InternalHandler{dispatcher: dispatcher, audit: audit}
}

type fulfillRequest struct {
	PaymentIntentID string `json:"paymentIntentId"`
}

type fulfillResponse struct {
	OK              bool   `json:"ok"`
	PaymentIntentID string `json:"paymentIntentId"`
	Handled         bool   `json:"handled"`
}

// Fulfill handles POST /internal/fulfillments. The worker calls it while draining
// FULFILL_PAYMENT operations; an unhandled intent is reported, not failed.
func (h *InternalHandler) Fulfill(w http.ResponseWriter, r *http.Request) {
	var req fulfillRequest
	if err := DecodeJSON(r, &req); err != nil {
		RespondError(w, domain.ErrValidation("invalid request body"))
		return
	}
	id := strings.TrimSpace(req.PaymentIntentID)

	handled, err := h.dispatcher.DispatchByID(r.Context(), id)
	if err != nil {
		RespondError(w, err)
		return
	}

	RespondJSON(w, http.StatusOK, fulfillResponse{OK: true, PaymentIntentID: id, Handled: handled})
}

// AuditPurchase handles GET /internal/purchases/{purchaseID}/audit.
func (h *InternalHandler) AuditPurchase(w http.ResponseWriter, r *http.Request) {
	purchaseID := strings.TrimSpace(chi.URLParam(r, "purchaseID"))
	if purchaseID == "" {
		RespondError(w, domain.ErrPurchaseIDRequired())
		return
	}

	res, err := h.audit(r.Context(), purchaseID)
	if err != nil {
		RespondError(w, err)
		return
	}

	RespondJSON(w, http.StatusOK, res)
}
