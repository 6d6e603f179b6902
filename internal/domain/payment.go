package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// PaymentStatus is the lifecycle of the local purchase record.
type PaymentStatus string

const (
	PaymentCreated        PaymentStatus = "CREATED"
	PaymentRequiresAction PaymentStatus = "REQUIRES_ACTION"
	PaymentProcessing     PaymentStatus = "PROCESSING"
	PaymentPaid           PaymentStatus = "PAID"
	PaymentFailed         PaymentStatus = "FAILED"
	PaymentCancelled      PaymentStatus = "CANCELLED"
)

// IsEarly reports whether the payment has not yet been settled or abandoned.
func (s PaymentStatus) IsEarly() bool {
	switch s {
	case PaymentCreated, PaymentRequiresAction, PaymentProcessing:
		return true
	}
	return false
}

// Payment is the durable purchase record, created before any gateway call.
// ID is the purchaseId.
type Payment struct {
	ID                 string          `json:"id"`
	ExpectedTotalCents int64           `json:"expected_total_cents"`
	Currency           string          `json:"currency"`
	Status             PaymentStatus   `json:"status"`
	Metadata           json.RawMessage `json:"metadata"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// TelemetryStatus is the status recorded on a PaymentEvent. Never authoritative for "paid".
type TelemetryStatus string

const (
	TelemetryProcessing     TelemetryStatus = "PROCESSING"
	TelemetryRequiresAction TelemetryStatus = "REQUIRES_ACTION"
	TelemetryOK             TelemetryStatus = "OK"
	TelemetryError          TelemetryStatus = "ERROR"
	TelemetryFailed         TelemetryStatus = "FAILED"
	TelemetryRefunded       TelemetryStatus = "REFUNDED"
	TelemetryDisputed       TelemetryStatus = "DISPUTED"
)

// EventSource records which path wrote the telemetry.
type EventSource string

const (
	SourceAPI     EventSource = "API"
	SourceWebhook EventSource = "WEBHOOK"
	SourceWorker  EventSource = "WORKER"
)

// PaymentMode distinguishes live from test gateway traffic.
type PaymentMode string

const (
	ModeLive PaymentMode = "LIVE"
	ModeTest PaymentMode = "TEST"
)

// ModeFor maps the gateway livemode flag.
func ModeFor(livemode bool) PaymentMode {
	if livemode {
		return ModeLive
	}
	return ModeTest
}

// PaymentEvent is the per-purchase telemetry row, unique by DedupeKey.
type PaymentEvent struct {
	ID              uuid.UUID       `json:"id"`
	PurchaseID      string          `json:"purchase_id"`
	DedupeKey       string          `json:"dedupe_key"`
	PaymentIntentID *string         `json:"payment_intent_id,omitempty"`
	Status          TelemetryStatus `json:"status"`
	AmountCents     *int64          `json:"amount_cents,omitempty"`
	Attempt         int             `json:"attempt"`
	Source          EventSource     `json:"source"`
	Mode            PaymentMode     `json:"mode"`
	GatewayEventID  *string         `json:"gateway_event_id,omitempty"`
	ErrorMessage    *string         `json:"error_message,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// IntentID returns the referenced gateway intent id or "".
func (e *PaymentEvent) IntentID() string {
	if e == nil || e.PaymentIntentID == nil {
		return ""
	}
	return *e.PaymentIntentID
}

// TelemetryUpdate describes a telemetry refresh. Empty fields leave the stored value unchanged.
type TelemetryUpdate struct {
	PaymentIntentID  string
	Status           TelemetryStatus
	AmountCents      *int64
	Source           EventSource
	Mode             PaymentMode
	GatewayEventID   string
	ErrorMessage     string
	IncrementAttempt bool
}
