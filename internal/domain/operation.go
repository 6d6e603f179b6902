package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// OperationType names a unit of async work consumed by the external worker.
type OperationType string

const (
	OpFulfillPayment           OperationType = "FULFILL_PAYMENT"
	OpSendEmailReceipt         OperationType = "SEND_EMAIL_RECEIPT"
	OpSendNotificationPurchase OperationType = "SEND_NOTIFICATION_PURCHASE"
	OpApplyPromoRedemption     OperationType = "APPLY_PROMO_REDEMPTION"
)

// OperationStatus is the retry/dead-letter state of an Operation.
type OperationStatus string

const (
	OperationPending    OperationStatus = "PENDING"
	OperationRunning    OperationStatus = "RUNNING"
	OperationSucceeded  OperationStatus = "SUCCEEDED"
	OperationFailed     OperationStatus = "FAILED"
	OperationDeadLetter OperationStatus = "DEAD_LETTER"
)

// IsActive reports whether the worker still owns the operation.
func (s OperationStatus) IsActive() bool {
	return s == OperationPending || s == OperationRunning
}

// IsFailed reports whether the operation gave up.
func (s OperationStatus) IsFailed() bool {
	return s == OperationFailed || s == OperationDeadLetter
}

// Operation is an async work item keyed by DedupeKey.
type Operation struct {
	ID              uuid.UUID       `json:"id"`
	Type            OperationType   `json:"operation_type"`
	DedupeKey       string          `json:"dedupe_key"`
	Status          OperationStatus `json:"status"`
	PurchaseID      *string         `json:"purchase_id,omitempty"`
	PaymentIntentID *string         `json:"payment_intent_id,omitempty"`
	Payload         json.RawMessage `json:"payload"`
	Attempts        int             `json:"attempts"`
	RequeueCount    int             `json:"requeue_count"`
	LastError       *string         `json:"last_error,omitempty"`
	NextRetryAt     *time.Time      `json:"next_retry_at,omitempty"`
	LockedAt        *time.Time      `json:"locked_at,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// IsStuck reports whether an active operation has not progressed within threshold.
func (o *Operation) IsStuck(now time.Time, threshold time.Duration) bool {
	return o.Status.IsActive() && now.Sub(o.UpdatedAt) > threshold
}

// IntentID returns the correlated gateway intent id or "".
func (o *Operation) IntentID() string {
	if o == nil || o.PaymentIntentID == nil {
		return ""
	}
	return *o.PaymentIntentID
}

// OperationDraft is the enqueue request for a new Operation.
type OperationDraft struct {
	Type            OperationType
	DedupeKey       string
	PurchaseID      string
	PaymentIntentID string
	Payload         json.RawMessage
}
