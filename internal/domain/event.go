package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType enumerates all domain event types. The value doubles as the Kafka topic.
type EventType string

const (
	EventPurchasePaid        EventType = "checkout.purchase.paid"
	EventEntitlementsUpdated EventType = "checkout.purchase.entitlements_updated"
	EventRepairEscalated     EventType = "checkout.operation.repair_escalated"
)

// AggregateType enumerates the aggregate root types for outbox events.
type AggregateType string

const (
	AggregatePurchase  AggregateType = "purchase"
	AggregateOperation AggregateType = "operation"
)

// OutboxDraft is the payload written to the event_outbox table.
type OutboxDraft struct {
	SeqID         int64           `json:"-"`
	EventID       uuid.UUID       `json:"eventId"`
	AggregateType AggregateType   `json:"aggregateType"`
	AggregateID   string          `json:"aggregateId"`
	EventType     EventType       `json:"eventType"`
	PartitionKey  string          `json:"partitionKey"`
	Headers       json.RawMessage `json:"headers"`
	Payload       json.RawMessage `json:"payload"`
	OccurredAt    time.Time       `json:"occurredAt"`
	Attempts      int             `json:"-"`
}
