package service

import (
	"context"
	"log/slog"

	"github.com/attaboy/checkout/internal/domain"
	"github.com/attaboy/checkout/internal/ledger"
	"github.com/attaboy/checkout/internal/projection"
	"github.com/attaboy/checkout/internal/provider"
	"github.com/attaboy/checkout/internal/repository"
)

// WebhookVerifier authenticates and decodes a raw gateway notification.
type WebhookVerifier interface {
	VerifyWebhook(payload []byte, sigHeader string) (*provider.WebhookEvent, error)
}

// WebhookService reconciles gateway notifications into telemetry, the operation
// queue and entitlement status. It never writes a sale itself; fulfillment does.
type WebhookService struct {
	db           repository.DBTX
	tx           repository.TxRunner
	verifier     WebhookVerifier
	engine       *ledger.Engine
	sales        repository.SaleRepository
	events       repository.PaymentEventRepository
	entitlements repository.EntitlementRepository
	outbox       repository.OutboxRepository
	queue        *OperationQueue
	dispatcher   *FulfillmentDispatcher
	cache        projection.Store
	logger       *slog.Logger
}

// WebhookDeps groups the collaborators of a WebhookService.
type WebhookDeps struct {
	DB           repository.DBTX
	Tx           repository.TxRunner
	Verifier     WebhookVerifier
	Engine       *ledger.Engine
	Sales        repository.SaleRepository
	Events       repository.PaymentEventRepository
	Entitlements repository.EntitlementRepository
	Outbox       repository.OutboxRepository
	Queue        *OperationQueue
	Dispatcher   *FulfillmentDispatcher
	Cache        projection.Store // may be nil
	Logger       *slog.Logger
}

// NewWebhookService creates a WebhookService.
func NewWebhookService(d WebhookDeps) *WebhookService {
	return &WebhookService{
		db:           d.DB,
		tx:           d.Tx,
		verifier:     d.Verifier,
		engine:       d.Engine,
		sales:        d.Sales,
		events:       d.Events,
		entitlements: d.Entitlements,
		outbox:       d.Outbox,
		queue:        d.Queue,
		dispatcher:   d.Dispatcher,
		cache:        d.Cache,
		logger:       d.Logger,
	}
}

// HandleEvent verifies and applies one notification. Unknown event types are
// acknowledged without effect.
func (s *WebhookService) HandleEvent(ctx context.Context, payload []byte, sigHeader string) error {
	ev, err := s.verifier.VerifyWebhook(payload, sigHeader)
	if err != nil {
		s.logger.Warn("webhook signature rejected", "error", err)
		return domain.ErrUnauthorized("invalid webhook signature")
	}
	log := s.logger.With("webhook_event_id", ev.ID, "webhook_event_type", ev.Type)

	switch ev.Type {
	case provider.EventIntentSucceeded:
		return s.onSucceeded(ctx, ev, log)
	case provider.EventIntentPaymentFailed:
		return s.onFailed(ctx, ev)
	case provider.EventChargeRefunded:
		if ev.Charge == nil {
			return nil
		}
		outcome := domain.OutcomeRefunded
		if !ev.Charge.Refunded {
			outcome = domain.OutcomePartialRefund
		}
		return s.applyOutcome(ctx, ev, ev.Charge.PaymentIntentID, outcome, log)
	case provider.EventDisputeCreated:
		if ev.Dispute == nil {
			return nil
		}
		return s.applyOutcome(ctx, ev, ev.Dispute.PaymentIntentID, domain.OutcomeDisputed, log)
	case provider.EventDisputeClosed:
		if ev.Dispute == nil {
			return nil
		}
		switch ev.Dispute.Status {
		case "won":
			return s.applyOutcome(ctx, ev, ev.Dispute.PaymentIntentID, domain.OutcomeChargebackWon, log)
		case "lost":
			return s.applyOutcome(ctx, ev, ev.Dispute.PaymentIntentID, domain.OutcomeChargebackLost, log)
		}
		log.Info("dispute closed without a decisive outcome", "dispute_status", ev.Dispute.Status)
		return nil
	}

	log.Debug("webhook event ignored")
	return nil
}

// onSucceeded records the signal, queues fulfillment and attempts it inline.
// Telemetry OK is not proof of payment; only the sale is.
func (s *WebhookService) onSucceeded(ctx context.Context, ev *provider.WebhookEvent, log *slog.Logger) error {
	intent := ev.Intent
	if intent == nil || intent.ID == "" {
		return nil
	}
	purchaseID := intent.PurchaseID()
	log = log.With("purchase_id", purchaseID, "payment_intent_id", intent.ID)

	amount := intent.AmountReceivedCents
	if amount == 0 {
		amount = intent.AmountCents
	}
	if _, err := s.engine.RecordTelemetry(ctx, s.db, purchaseID, domain.TelemetryUpdate{
		PaymentIntentID: intent.ID,
		Status:          domain.TelemetryOK,
		AmountCents:     &amount,
		Source:          domain.SourceWebhook,
		Mode:            domain.ModeFor(ev.Livemode),
		GatewayEventID:  ev.ID,
	}); err != nil {
		return domain.ErrInternal("record webhook telemetry", err)
	}

	if _, err := s.queue.Enqueue(ctx, domain.OperationDraft{
		Type:            domain.OpFulfillPayment,
		DedupeKey:       domain.FulfillmentDedupeKey(purchaseID, intent.ID),
		PurchaseID:      purchaseID,
		PaymentIntentID: intent.ID,
		Payload:         payload(map[string]interface{}{"purchaseId": purchaseID, "paymentIntentId": intent.ID}, nil),
	}); err != nil {
		return domain.ErrInternal("enqueue fulfillment", err)
	}

	handled, err := s.dispatcher.Dispatch(ctx, intent)
	if err != nil {
		log.Warn("inline fulfillment failed, left to worker", "error", err)
		return nil
	}
	log.Info("payment succeeded webhook processed", "fulfilled_inline", handled)
	return nil
}

func (s *WebhookService) onFailed(ctx context.Context, ev *provider.WebhookEvent) error {
	intent := ev.Intent
	if intent == nil || intent.ID == "" {
		return nil
	}
	if _, err := s.engine.RecordTelemetry(ctx, s.db, intent.PurchaseID(), domain.TelemetryUpdate{
		PaymentIntentID: intent.ID,
		Status:          domain.TelemetryFailed,
		Source:          domain.SourceWebhook,
		Mode:            domain.ModeFor(ev.Livemode),
		GatewayEventID:  ev.ID,
		ErrorMessage:    ev.FailureMessage,
	}); err != nil {
		return domain.ErrInternal("record webhook telemetry", err)
	}
	return nil
}

// applyOutcome moves a purchase's entitlements and telemetry to reflect a refund
// or dispute, in one transaction.
func (s *WebhookService) applyOutcome(ctx context.Context, ev *provider.WebhookEvent, intentID string, outcome domain.PaymentOutcome, log *slog.Logger) error {
	if intentID == "" {
		return nil
	}
	purchaseID, err := s.purchaseForIntent(ctx, intentID)
	if err != nil {
		return domain.ErrInternal("resolve purchase", err)
	}
	if purchaseID == "" {
		log.Warn("payment outcome for unknown intent", "payment_intent_id", intentID, "outcome", outcome)
		return nil
	}
	status, ok := domain.EntitlementStatusFor(outcome)
	if !ok {
		return nil
	}

	var affected int64
	err = s.tx.InTx(ctx, func(tx repository.DBTX) error {
		var err error
		if affected, err = s.entitlements.UpdateStatusByPurchase(ctx, tx, purchaseID, status); err != nil {
			return err
		}
		if _, err := s.engine.RecordTelemetry(ctx, tx, purchaseID, domain.TelemetryUpdate{
			PaymentIntentID: intentID,
			Status:          domain.TelemetryStatusFor(outcome),
			Source:          domain.SourceWebhook,
			Mode:            domain.ModeFor(ev.Livemode),
			GatewayEventID:  ev.ID,
		}); err != nil {
			return err
		}
		return s.outbox.Insert(ctx, tx, domain.NewEntitlementsUpdatedEvent(purchaseID, outcome, status, affected))
	})
	if err != nil {
		return domain.ErrInternal("apply payment outcome", err)
	}
	if s.cache != nil {
		if err := projection.InvalidateStatus(ctx, s.cache, purchaseID); err != nil {
			log.Warn("drop cached status", "purchase_id", purchaseID, "error", err)
		}
	}

	log.Info("payment outcome applied",
		"purchase_id", purchaseID, "outcome", outcome,
		"entitlement_status", status, "entitlements_affected", affected)
	return nil
}

func (s *WebhookService) purchaseForIntent(ctx context.Context, intentID string) (string, error) {
	summary, err := s.sales.FindSummaryByIntent(ctx, s.db, intentID)
	if err != nil {
		return "", err
	}
	if summary != nil {
		return summary.PurchaseID, nil
	}
	pe, err := s.events.FindByIntent(ctx, s.db, intentID)
	if err != nil {
		return "", err
	}
	if pe != nil {
		return pe.PurchaseID, nil
	}
	return "", nil
}
