package provider

import (
	"context"
	"errors"

	"github.com/attaboy/checkout/internal/domain"
)

// ErrIdempotencyConflict is returned when the gateway saw a different request under the same key.
var ErrIdempotencyConflict = errors.New("gateway idempotency conflict")

// Gateway is the payment intent surface of the external card processor.
type Gateway interface {
	CreateIntent(ctx context.Context, params CreateIntentParams) (*domain.Intent, error)
	RetrieveIntent(ctx context.Context, id string) (*domain.Intent, error)
}

// CreateIntentParams describes a new payment intent.
type CreateIntentParams struct {
	AmountCents    int64
	Currency       string
	Metadata       map[string]string
	IdempotencyKey string
}

// WebhookEvent is a verified gateway notification reduced to what reconciliation needs.
type WebhookEvent struct {
	ID       string
	Type     string
	Livemode bool
	Intent   *domain.Intent
	Charge   *ChargeInfo
	Dispute  *DisputeInfo

	// FailureMessage is the processor's last payment error, set on payment_failed.
	FailureMessage string
}

// ChargeInfo carries refund state for charge.* events.
type ChargeInfo struct {
	PaymentIntentID     string
	AmountCents         int64
	AmountRefundedCents int64
	Refunded            bool
}

// DisputeInfo carries dispute state for charge.dispute.* events.
type DisputeInfo struct {
	PaymentIntentID string
	Status          string
}

// Webhook event types handled by reconciliation.
const (
	EventIntentSucceeded     = "payment_intent.succeeded"
	EventIntentPaymentFailed = "payment_intent.payment_failed"
	EventChargeRefunded      = "charge.refunded"
	EventDisputeCreated      = "charge.dispute.created"
	EventDisputeClosed       = "charge.dispute.closed"
)
