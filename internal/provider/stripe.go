package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/attaboy/checkout/internal/domain"
	"github.com/stripe/stripe-go/v80"
	"github.com/stripe/stripe-go/v80/client"
	"github.com/stripe/stripe-go/v80/webhook"
)

// StripeGateway implements Gateway on the Stripe PaymentIntents API.
type StripeGateway struct {
	sc            *client.API
	webhookSecret string
}

// NewStripeGateway creates a Stripe-backed gateway.
func NewStripeGateway(secretKey, webhookSecret string) *StripeGateway {
	sc := &client.API{}
	sc.Init(secretKey, nil)
	return &StripeGateway{sc: sc, webhookSecret: webhookSecret}
}

// CreateIntent creates a payment intent under the given idempotency key.
func (g *StripeGateway) CreateIntent(ctx context.Context, p CreateIntentParams) (*domain.Intent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(p.AmountCents),
		Currency: stripe.String(strings.ToLower(p.Currency)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	if p.IdempotencyKey != "" {
		params.SetIdempotencyKey(p.IdempotencyKey)
	}
	for k, v := range p.Metadata {
		params.AddMetadata(k, v)
	}

	pi, err := g.sc.PaymentIntents.New(params)
	if err != nil {
		return nil, mapStripeError("create payment intent", err)
	}
	return intentFromStripe(pi), nil
}

// RetrieveIntent fetches a payment intent by id.
func (g *StripeGateway) RetrieveIntent(ctx context.Context, id string) (*domain.Intent, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	pi, err := g.sc.PaymentIntents.Get(id, params)
	if err != nil {
		return nil, mapStripeError("retrieve payment intent", err)
	}
	return intentFromStripe(pi), nil
}

// VerifyWebhook validates the Stripe-Signature header and decodes the event.
func (g *StripeGateway) VerifyWebhook(payload []byte, sigHeader string) (*WebhookEvent, error) {
	event, err := webhook.ConstructEventWithOptions(payload, sigHeader, g.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, fmt.Errorf("invalid webhook signature: %w", err)
	}

	out := &WebhookEvent{ID: event.ID, Type: string(event.Type), Livemode: event.Livemode}
	if event.Data == nil {
		return out, nil
	}

	switch {
	case strings.HasPrefix(out.Type, "payment_intent."):
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
			return nil, fmt.Errorf("decode payment intent: %w", err)
		}
		out.Intent = intentFromStripe(&pi)
		if pi.LastPaymentError != nil {
			out.FailureMessage = pi.LastPaymentError.Msg
		}
	case strings.HasPrefix(out.Type, "charge.dispute."):
		var d stripe.Dispute
		if err := json.Unmarshal(event.Data.Raw, &d); err != nil {
			return nil, fmt.Errorf("decode dispute: %w", err)
		}
		out.Dispute = &DisputeInfo{Status: string(d.Status)}
		if d.PaymentIntent != nil {
			out.Dispute.PaymentIntentID = d.PaymentIntent.ID
		}
	case strings.HasPrefix(out.Type, "charge."):
		var ch stripe.Charge
		if err := json.Unmarshal(event.Data.Raw, &ch); err != nil {
			return nil, fmt.Errorf("decode charge: %w", err)
		}
		out.Charge = &ChargeInfo{
			AmountCents:         ch.Amount,
			AmountRefundedCents: ch.AmountRefunded,
			Refunded:            ch.Refunded,
		}
		if ch.PaymentIntent != nil {
			out.Charge.PaymentIntentID = ch.PaymentIntent.ID
		}
	}
	return out, nil
}

func intentFromStripe(pi *stripe.PaymentIntent) *domain.Intent {
	return &domain.Intent{
		ID:                  pi.ID,
		Status:              domain.IntentStatus(pi.Status),
		AmountCents:         pi.Amount,
		AmountReceivedCents: pi.AmountReceived,
		Currency:            strings.ToUpper(string(pi.Currency)),
		Livemode:            pi.Livemode,
		ClientSecret:        pi.ClientSecret,
		Metadata:            pi.Metadata,
	}
}

func mapStripeError(op string, err error) error {
	var serr *stripe.Error
	if errors.As(err, &serr) && serr.Type == stripe.ErrorTypeIdempotency {
		return fmt.Errorf("%s: %w: %s", op, ErrIdempotencyConflict, serr.Msg)
	}
	return fmt.Errorf("%s: %w", op, err)
}
