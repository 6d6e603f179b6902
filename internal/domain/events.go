package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// NewPurchasePaidEvent creates the event emitted when a sale is materialized.
func NewPurchasePaidEvent(summary *SaleSummary, entitlementsCreated int) OutboxDraft {
	payload, _ := json.Marshal(map[string]interface{}{
		"purchase_id":          summary.PurchaseID,
		"payment_intent_id":    summary.PaymentIntentID,
		"sale_summary_id":      summary.ID,
		"event_id":             summary.EventID,
		"owner_key":            summary.OwnerKey,
		"total_cents":          summary.TotalCents,
		"currency":             summary.Currency,
		"entitlements_created": entitlementsCreated,
	})
	return OutboxDraft{
		EventID:       uuid.New(),
		AggregateType: AggregatePurchase,
		AggregateID:   summary.PurchaseID,
		EventType:     EventPurchasePaid,
		PartitionKey:  summary.PurchaseID,
		Headers:       json.RawMessage(`{}`),
		Payload:       payload,
		OccurredAt:    time.Now(),
	}
}

// NewEntitlementsUpdatedEvent records a bulk entitlement status change for a purchase.
func NewEntitlementsUpdatedEvent(purchaseID string, outcome PaymentOutcome, status EntitlementStatus, affected int64) OutboxDraft {
	payload, _ := json.Marshal(map[string]interface{}{
		"purchase_id": purchaseID,
		"outcome":     outcome,
		"status":      status,
		"affected":    affected,
	})
	return OutboxDraft{
		EventID:       uuid.New(),
		AggregateType: AggregatePurchase,
		AggregateID:   purchaseID,
		EventType:     EventEntitlementsUpdated,
		PartitionKey:  purchaseID,
		Headers:       json.RawMessage(`{}`),
		Payload:       payload,
		OccurredAt:    time.Now(),
	}
}

// NewRepairEscalatedEvent flags an operation that keeps getting re-armed without progress.
func NewRepairEscalatedEvent(op *Operation) OutboxDraft {
	payload, _ := json.Marshal(map[string]interface{}{
		"operation_id":      op.ID,
		"operation_type":    op.Type,
		"dedupe_key":        op.DedupeKey,
		"status":            op.Status,
		"requeue_count":     op.RequeueCount,
		"purchase_id":       op.PurchaseID,
		"payment_intent_id": op.PaymentIntentID,
		"last_error":        op.LastError,
	})
	return OutboxDraft{
		EventID:       uuid.New(),
		AggregateType: AggregateOperation,
		AggregateID:   op.ID.String(),
		EventType:     EventRepairEscalated,
		PartitionKey:  op.DedupeKey,
		Headers:       json.RawMessage(`{}`),
		Payload:       payload,
		OccurredAt:    time.Now(),
	}
}
