package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/attaboy/checkout/internal/domain"
)

// maxWebhookBody mirrors the limit Stripe documents for event payloads.
const maxWebhookBody = 1 << 20

// WebhookProcessor verifies and applies a signed gateway webhook.
type WebhookProcessor interface {
	HandleEvent(ctx context.Context, payload []byte, sigHeader string) error
}

// WebhookHandler receives gateway webhook callbacks.
type WebhookHandler struct {
	webhooks WebhookProcessor
	logger   *slog.Logger
}

// NewWebhookHandler creates a new WebhookHandler.
func NewWebhookHandler(webhooks WebhookProcessor, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{webhooks: webhooks, logger: logger}
}

// HandleStripeWebhook handles POST /webhooks/stripe. The body is read raw
// because the signature covers the exact bytes Stripe sent.
func (h *WebhookHandler) HandleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	log := h.logger.With("request_id", GetRequestID(r.Context()))

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		log.Warn("read webhook body", "error", err)
		RespondError(w, domain.ErrValidation("unreadable webhook body"))
		return
	}

	sigHeader := r.Header.Get("Stripe-Signature")
	if sigHeader == "" {
		log.Warn("webhook without Stripe-Signature header")
		RespondError(w, domain.ErrValidation("missing Stripe-Signature header"))
		return
	}

	if err := h.webhooks.HandleEvent(r.Context(), body, sigHeader); err != nil {
		log.Error("process stripe webhook", "error", err)
		RespondError(w, err)
		return
	}

	RespondJSON(w, http.StatusOK, map[string]bool{"received": true})
}
