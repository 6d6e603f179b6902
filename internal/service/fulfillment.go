package service

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/attaboy/checkout/internal/domain"
	"github.com/attaboy/checkout/internal/ledger"
	"github.com/attaboy/checkout/internal/policy"
	"github.com/attaboy/checkout/internal/repository"
)

// PaidFulfiller materializes the default single-purchase scenario.
type PaidFulfiller struct {
	db           repository.DBTX
	tx           repository.TxRunner
	engine       *ledger.Engine
	fulfillments repository.FulfillmentRepository
	catalog      repository.CatalogRepository
	queue        *OperationQueue
	logger       *slog.Logger
}

// NewPaidFulfiller creates a PaidFulfiller.
func NewPaidFulfiller(
	db repository.DBTX,
	tx repository.TxRunner,
	engine *ledger.Engine,
	fulfillments repository.FulfillmentRepository,
	catalog repository.CatalogRepository,
	queue *OperationQueue,
	logger *slog.Logger,
) *PaidFulfiller {
	return &PaidFulfiller{
		db:           db,
		tx:           tx,
		engine:       engine,
		fulfillments: fulfillments,
		catalog:      catalog,
		queue:        queue,
		logger:       logger,
	}
}

// Handle implements ScenarioHandler.
func (f *PaidFulfiller) Handle(ctx context.Context, intent *domain.Intent) (bool, error) {
	return f.FulfillPaidIntent(ctx, intent)
}

// FulfillPaidIntent turns a succeeded intent into a sale with entitlements.
// It returns handled=false, without writing anything, when the intent is not a
// single purchase or lacks what is needed to build the sale. A breakdown that
// disagrees with the catalog or the captured amount fails with PAYLOAD_MISMATCH.
func (f *PaidFulfiller) FulfillPaidIntent(ctx context.Context, intent *domain.Intent) (bool, error) {
	if intent == nil || intent.ID == "" {
		return false, nil
	}
	log := f.logger.With("purchase_id", intent.PurchaseID(), "payment_intent_id", intent.ID)

	if sc := intent.Scenario(); sc != domain.ScenarioSingle {
		log.Info("scenario not handled by default fulfillment", "scenario", sc.String())
		return false, nil
	}
	if intent.Status != domain.IntentSucceeded {
		log.Info("intent not paid, skipping fulfillment", "intent_status", intent.Status)
		return false, nil
	}

	existing, err := f.fulfillments.FindByIntent(ctx, f.db, intent.ID)
	if err != nil {
		return false, domain.ErrInternal("find issued fulfillment", err)
	}
	if existing != nil {
		f.refreshTelemetry(ctx, intent, log)
		return true, nil
	}

	breakdown, err := domain.ParseBreakdown(intent.Meta(domain.MetaBreakdown))
	if err != nil {
		log.Warn("intent has no usable breakdown", "error", err)
		return false, nil
	}
	eventID := intent.Meta(domain.MetaEventID)
	if eventID == "" {
		log.Warn("intent has no event id")
		return false, nil
	}
	event, err := f.catalog.FindEvent(ctx, f.db, eventID)
	if err != nil {
		return false, domain.ErrInternal("find event", err)
	}
	if event == nil {
		log.Warn("intent references unknown event", "event_id", eventID)
		return false, nil
	}
	for i, line := range breakdown.Lines {
		if _, ok := event.TicketType(string(line.TicketTypeID)); !ok {
			log.Warn("breakdown line references foreign ticket type",
				"event_id", eventID, "line", i, "ticket_type_id", string(line.TicketTypeID))
			return false, nil
		}
	}

	captured := intent.AmountReceivedCents
	if captured == 0 {
		captured = intent.AmountCents
	}
	if err := breakdown.Verify(domain.PriceCheck{
		Event:       event,
		Currency:    intent.Currency,
		AmountCents: captured,
		PromoCode:   intent.Meta(domain.MetaPromoCode),
	}); err != nil {
		log.Error("paid intent does not match its breakdown", "amount_received", captured, "error", err)
		return false, domain.ErrPayloadMismatch(err.Error())
	}

	owner := policy.OwnerFromIntent(intent)
	var result *ledger.MaterializeResult
	err = f.tx.InTx(ctx, func(tx repository.DBTX) error {
		var err error
		result, err = f.engine.MaterializeSale(ctx, tx, ledger.SaleParams{
			Intent:    intent,
			Breakdown: breakdown,
			Event:     event,
			Owner:     owner,
			Source:    domain.SourceWorker,
		})
		return err
	})
	if err != nil {
		return false, domain.ErrInternal("materialize sale", err)
	}
	if result.AlreadyFulfilled {
		log.Info("concurrent fulfillment won the claim")
		return true, nil
	}

	log.Info("sale materialized",
		"sale_summary_id", result.Summary.ID,
		"entitlements_created", result.EntitlementsCreated,
		"owner_key", result.Summary.OwnerKey)

	f.enqueueSideEffects(ctx, intent, result.Summary, owner, log)
	return true, nil
}

func (f *PaidFulfiller) refreshTelemetry(ctx context.Context, intent *domain.Intent, log *slog.Logger) {
	if _, err := f.engine.RecordTelemetry(ctx, f.db, intent.PurchaseID(), domain.TelemetryUpdate{
		PaymentIntentID: intent.ID,
		Status:          domain.TelemetryOK,
		Source:          domain.SourceWorker,
		Mode:            domain.ModeFor(intent.Livemode),
	}); err != nil {
		log.Warn("refresh telemetry failed", "error", err)
	}
}

// enqueueSideEffects schedules the receipt, notification and promo redemption.
// Each is deduped on its own key; failures are logged and dropped.
func (f *PaidFulfiller) enqueueSideEffects(ctx context.Context, intent *domain.Intent, summary *domain.SaleSummary, owner policy.Owner, log *slog.Logger) {
	purchaseID := summary.PurchaseID
	base := map[string]interface{}{
		"purchaseId":      purchaseID,
		"paymentIntentId": intent.ID,
		"saleSummaryId":   summary.ID,
		"eventId":         summary.EventID,
	}

	var drafts []domain.OperationDraft
	if recipient := owner.ReceiptRecipient(); recipient != "" {
		drafts = append(drafts, domain.OperationDraft{
			Type:      domain.OpSendEmailReceipt,
			DedupeKey: domain.ReceiptDedupeKey(purchaseID, recipient),
			Payload:   payload(base, map[string]interface{}{"email": owner.Email, "userId": owner.UserID}),
		})
	}
	if owner.UserID != "" {
		drafts = append(drafts, domain.OperationDraft{
			Type:      domain.OpSendNotificationPurchase,
			DedupeKey: domain.NotificationDedupeKey(purchaseID, owner.UserID),
			Payload:   payload(base, map[string]interface{}{"userId": owner.UserID}),
		})
	}
	if promo := intent.Meta(domain.MetaPromoCode); promo != "" {
		drafts = append(drafts, domain.OperationDraft{
			Type:      domain.OpApplyPromoRedemption,
			DedupeKey: domain.PromoDedupeKey(purchaseID),
			Payload:   payload(base, map[string]interface{}{"promoCode": promo, "ownerKey": summary.OwnerKey}),
		})
	}

	for _, d := range drafts {
		d.PurchaseID = purchaseID
		d.PaymentIntentID = intent.ID
		if _, err := f.queue.Enqueue(ctx, d); err != nil {
			log.Warn("post-fulfillment enqueue failed", "operation_type", d.Type, "error", err)
		}
	}
}

func payload(base, extra map[string]interface{}) json.RawMessage {
	m := make(map[string]interface{}, len(base)+len(extra))
	for k, v := range base {
		m[k] = v
	}
	for k, v := range extra {
		if s, ok := v.(string); ok && s == "" {
			continue
		}
		m[k] = v
	}
	data, err := json.Marshal(m)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return data
}
