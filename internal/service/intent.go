package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/attaboy/checkout/internal/domain"
	"github.com/attaboy/checkout/internal/ledger"
	"github.com/attaboy/checkout/internal/provider"
	"github.com/attaboy/checkout/internal/repository"
)

// EnsureIntentParams is the request to obtain a payable intent for a purchase.
type EnsureIntentParams struct {
	PurchaseID           string
	AmountCents          int64
	Currency             string
	Metadata             map[string]string
	ClientIdempotencyKey string
}

// EnsureIntentResult is the intent the client should confirm.
type EnsureIntentResult struct {
	Intent         *domain.Intent
	IdempotencyKey string
	Reused         bool
}

// IntentManager creates or reuses exactly one gateway intent per purchase.
type IntentManager struct {
	db       repository.DBTX
	gateway  provider.Gateway
	payments repository.PaymentRepository
	events   repository.PaymentEventRepository
	catalog  repository.CatalogRepository
	engine   *ledger.Engine
	logger   *slog.Logger
}

// NewIntentManager creates an IntentManager.
func NewIntentManager(
	db repository.DBTX,
	gateway provider.Gateway,
	payments repository.PaymentRepository,
	events repository.PaymentEventRepository,
	catalog repository.CatalogRepository,
	engine *ledger.Engine,
	logger *slog.Logger,
) *IntentManager {
	return &IntentManager{
		db:       db,
		gateway:  gateway,
		payments: payments,
		events:   events,
		catalog:  catalog,
		engine:   engine,
		logger:   logger,
	}
}

// EnsurePaymentIntent returns the purchase's live intent, creating it on first call.
// Repeated calls with the same purchase and amount converge on the same intent.
func (m *IntentManager) EnsurePaymentIntent(ctx context.Context, p EnsureIntentParams) (*EnsureIntentResult, error) {
	purchaseID := strings.TrimSpace(p.PurchaseID)
	if purchaseID == "" {
		return nil, domain.ErrPurchaseIDRequired()
	}
	if err := domain.ValidatePurchaseID(purchaseID); err != nil {
		return nil, domain.ErrValidation(err.Error())
	}
	if err := domain.ValidateClientKey(p.ClientIdempotencyKey); err != nil {
		return nil, domain.ErrValidation(err.Error())
	}
	if err := domain.ValidatePositiveAmount(p.AmountCents); err != nil {
		return nil, domain.ErrValidation(err.Error())
	}
	currency := domain.NormalizeCurrency(p.Currency)
	if err := domain.ValidateCurrency(currency); err != nil {
		return nil, domain.ErrValidation(err.Error())
	}

	if err := m.checkBreakdown(ctx, p, currency); err != nil {
		return nil, err
	}

	key := domain.CheckoutKey(purchaseID)
	gatewayKey := domain.GatewayIdempotencyKey(purchaseID, p.ClientIdempotencyKey)

	snapshot := json.RawMessage(`{}`)
	if len(p.Metadata) > 0 {
		raw, err := json.Marshal(p.Metadata)
		if err != nil {
			return nil, domain.ErrValidation("metadata is not serializable")
		}
		snapshot = raw
	}
	payment, _, err := m.payments.InsertOrFetch(ctx, m.db, &domain.Payment{
		ID:                 purchaseID,
		ExpectedTotalCents: p.AmountCents,
		Currency:           currency,
		Status:             domain.PaymentCreated,
		Metadata:           snapshot,
	})
	if err != nil {
		return nil, domain.ErrInternal("record payment", err)
	}
	if payment.ExpectedTotalCents != p.AmountCents {
		return nil, domain.ErrPayloadMismatch(fmt.Sprintf(
			"purchase %s expects %d, request has %d", purchaseID, payment.ExpectedTotalCents, p.AmountCents))
	}
	if payment.Currency != currency {
		return nil, domain.ErrPayloadMismatch(fmt.Sprintf(
			"purchase %s expects %s, request has %s", purchaseID, payment.Currency, currency))
	}

	ev, err := m.events.FindByPurchase(ctx, m.db, purchaseID)
	if err != nil {
		return nil, domain.ErrInternal("load payment event", err)
	}
	if ev != nil && ev.AmountCents != nil && *ev.AmountCents != p.AmountCents {
		return nil, domain.ErrPayloadMismatch(fmt.Sprintf(
			"purchase %s recorded amount %d, request has %d", purchaseID, *ev.AmountCents, p.AmountCents))
	}

	if intentID := ev.IntentID(); intentID != "" {
		return m.reuse(ctx, purchaseID, intentID, p.AmountCents, key)
	}

	meta := make(map[string]string, len(p.Metadata)+4)
	for k, v := range p.Metadata {
		meta[k] = v
	}
	delete(meta, domain.MetaClientIdempotencyKey)
	meta[domain.MetaPurchaseID] = purchaseID
	meta[domain.MetaPaymentID] = payment.ID
	meta[domain.MetaIdempotencyKey] = key
	if ck := strings.TrimSpace(p.ClientIdempotencyKey); ck != "" {
		meta[domain.MetaClientIdempotencyKey] = ck
	}

	intent, err := m.gateway.CreateIntent(ctx, provider.CreateIntentParams{
		AmountCents:    p.AmountCents,
		Currency:       currency,
		Metadata:       meta,
		IdempotencyKey: gatewayKey,
	})
	if err != nil {
		if errors.Is(err, provider.ErrIdempotencyConflict) {
			return nil, domain.ErrPayloadMismatch("gateway rejected a different request under the same idempotency key")
		}
		m.logger.Error("create payment intent failed", "purchase_id", purchaseID, "error", err)
		return nil, domain.ErrGatewayUnavailable(err)
	}
	if err := checkIntent(intent, p.AmountCents); err != nil {
		return nil, err
	}

	if err := m.recordAttempt(ctx, purchaseID, intent, p.AmountCents); err != nil {
		return nil, err
	}

	m.logger.Info("payment intent created",
		"purchase_id", purchaseID, "payment_intent_id", intent.ID, "amount", p.AmountCents)
	return &EnsureIntentResult{Intent: intent, IdempotencyKey: key}, nil
}

// checkBreakdown prices a supplied breakdown against the catalog before any
// money can be requested for it. Intents without one are never fulfilled as a
// single purchase, so they pass through.
func (m *IntentManager) checkBreakdown(ctx context.Context, p EnsureIntentParams, currency string) error {
	raw := strings.TrimSpace(p.Metadata[domain.MetaBreakdown])
	if raw == "" {
		return nil
	}
	breakdown, err := domain.ParseBreakdown(raw)
	if err != nil {
		return domain.ErrValidation(err.Error())
	}
	eventID := strings.TrimSpace(p.Metadata[domain.MetaEventID])
	if eventID == "" {
		return domain.ErrValidation("breakdown requires eventId")
	}
	event, err := m.catalog.FindEvent(ctx, m.db, eventID)
	if err != nil {
		return domain.ErrInternal("find event", err)
	}
	if event == nil {
		return domain.ErrNotFound("event", eventID)
	}
	if err := breakdown.Verify(domain.PriceCheck{
		Event:           event,
		Currency:        currency,
		AmountCents:     p.AmountCents,
		PromoCode:       p.Metadata[domain.MetaPromoCode],
		EnforceCapacity: true,
	}); err != nil {
		return domain.ErrValidation(err.Error())
	}
	return nil
}

func (m *IntentManager) reuse(ctx context.Context, purchaseID, intentID string, amount int64, key string) (*EnsureIntentResult, error) {
	intent, err := m.gateway.RetrieveIntent(ctx, intentID)
	if err != nil {
		m.logger.Warn("retrieve payment intent failed",
			"purchase_id", purchaseID, "payment_intent_id", intentID, "error", err)
		return nil, domain.ErrIntentRetrieveFailed(intentID, err)
	}
	if err := checkIntent(intent, amount); err != nil {
		return nil, err
	}
	if err := m.recordAttempt(ctx, purchaseID, intent, amount); err != nil {
		return nil, err
	}
	return &EnsureIntentResult{Intent: intent, IdempotencyKey: key, Reused: true}, nil
}

// recordAttempt bumps telemetry and moves an early payment to REQUIRES_ACTION.
func (m *IntentManager) recordAttempt(ctx context.Context, purchaseID string, intent *domain.Intent, amount int64) error {
	if _, err := m.engine.RecordTelemetry(ctx, m.db, purchaseID, domain.TelemetryUpdate{
		PaymentIntentID:  intent.ID,
		Status:           domain.TelemetryProcessing,
		AmountCents:      &amount,
		Source:           domain.SourceAPI,
		Mode:             domain.ModeFor(intent.Livemode),
		IncrementAttempt: true,
	}); err != nil {
		return domain.ErrInternal("record payment attempt", err)
	}
	if err := m.payments.MarkRequiresAction(ctx, m.db, purchaseID); err != nil {
		return domain.ErrInternal("update payment status", err)
	}
	return nil
}

func checkIntent(intent *domain.Intent, amount int64) error {
	if intent.AmountCents != amount {
		return domain.ErrPayloadMismatch(fmt.Sprintf(
			"intent %s amount %d differs from expected %d", intent.ID, intent.AmountCents, amount))
	}
	if intent.Status.IsTerminal() {
		return domain.ErrIntentTerminal(intent.ID, intent.Status)
	}
	return nil
}
