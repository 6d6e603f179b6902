package service

import (
	"context"
	"log/slog"
	"sync"

	"github.com/attaboy/checkout/internal/domain"
	"github.com/attaboy/checkout/internal/provider"
)

// ScenarioHandler fulfills paid intents of one payment scenario.
// handled=false means the intent was left untouched.
type ScenarioHandler interface {
	Handle(ctx context.Context, intent *domain.Intent) (bool, error)
}

// ScenarioHandlerFunc adapts a function to ScenarioHandler.
type ScenarioHandlerFunc func(ctx context.Context, intent *domain.Intent) (bool, error)

func (f ScenarioHandlerFunc) Handle(ctx context.Context, intent *domain.Intent) (bool, error) {
	return f(ctx, intent)
}

// FulfillmentDispatcher routes a paid intent to the handler registered for its scenario.
type FulfillmentDispatcher struct {
	mu       sync.RWMutex
	handlers map[domain.PaymentScenario]ScenarioHandler
	gateway  provider.Gateway
	logger   *slog.Logger
}

// NewFulfillmentDispatcher creates an empty dispatcher.
func NewFulfillmentDispatcher(gateway provider.Gateway, logger *slog.Logger) *FulfillmentDispatcher {
	return &FulfillmentDispatcher{
		handlers: make(map[domain.PaymentScenario]ScenarioHandler),
		gateway:  gateway,
		logger:   logger,
	}
}

// Register binds h to scenario, replacing any earlier handler.
func (d *FulfillmentDispatcher) Register(scenario domain.PaymentScenario, h ScenarioHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[scenario] = h
}

// Dispatch fulfills intent with its scenario handler. Unregistered scenarios are not handled.
func (d *FulfillmentDispatcher) Dispatch(ctx context.Context, intent *domain.Intent) (bool, error) {
	if intent == nil {
		return false, nil
	}
	scenario := intent.Scenario()

	d.mu.RLock()
	h, ok := d.handlers[scenario]
	d.mu.RUnlock()
	if !ok {
		d.logger.Warn("no fulfillment handler for scenario",
			"scenario", scenario.String(), "payment_intent_id", intent.ID)
		return false, nil
	}
	return h.Handle(ctx, intent)
}

// DispatchByID retrieves the intent from the gateway and dispatches it.
func (d *FulfillmentDispatcher) DispatchByID(ctx context.Context, intentID string) (bool, error) {
	if intentID == "" {
		return false, domain.ErrValidation("paymentIntentId is required")
	}
	intent, err := d.gateway.RetrieveIntent(ctx, intentID)
	if err != nil {
		return false, domain.ErrIntentRetrieveFailed(intentID, err)
	}
	return d.Dispatch(ctx, intent)
}
