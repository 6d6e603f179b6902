package domain

import (
	"time"

	"github.com/google/uuid"
)

// EntitlementType classifies a granted unit of access.
type EntitlementType string

const EntitlementEventTicket EntitlementType = "EVENT_TICKET"

// EntitlementStatus is the access state of a granted unit.
type EntitlementStatus string

const (
	EntitlementActive    EntitlementStatus = "ACTIVE"
	EntitlementSuspended EntitlementStatus = "SUSPENDED"
	EntitlementRevoked   EntitlementStatus = "REVOKED"
)

// Entitlement is one granted unit, unique by its natural key.
type Entitlement struct {
	ID               uuid.UUID         `json:"id"`
	PurchaseID       string            `json:"purchase_id"`
	SaleLineID       uuid.UUID         `json:"sale_line_id"`
	LineItemIndex    int               `json:"line_item_index"`
	OwnerKey         string            `json:"owner_key"`
	Type             EntitlementType   `json:"type"`
	Status           EntitlementStatus `json:"status"`
	OwnerUserID      *string           `json:"owner_user_id,omitempty"`
	OwnerIdentityID  *string           `json:"owner_identity_id,omitempty"`
	GuestEmail       *string           `json:"guest_email,omitempty"`
	EventID          string            `json:"event_id"`
	TicketTypeID     string            `json:"ticket_type_id"`
	PaymentIntentID  string            `json:"payment_intent_id"`
	PricePaidCents   int64             `json:"price_paid_cents"`
	PlatformFeeCents int64             `json:"platform_fee_cents"`
	Currency         string            `json:"currency"`
	CreatedAt        time.Time         `json:"created_at"`
}

// EntitlementKey is the replay boundary for fulfillment.
type EntitlementKey struct {
	PurchaseID    string
	SaleLineID    uuid.UUID
	LineItemIndex int
	OwnerKey      string
	Type          EntitlementType
}

// Key returns the natural key of the entitlement.
func (e *Entitlement) Key() EntitlementKey {
	return EntitlementKey{
		PurchaseID:    e.PurchaseID,
		SaleLineID:    e.SaleLineID,
		LineItemIndex: e.LineItemIndex,
		OwnerKey:      e.OwnerKey,
		Type:          e.Type,
	}
}

// PaymentOutcome is a post-settlement change reported by the gateway.
type PaymentOutcome string

const (
	OutcomeSucceeded      PaymentOutcome = "SUCCEEDED"
	OutcomeRefunded       PaymentOutcome = "REFUNDED"
	OutcomePartialRefund  PaymentOutcome = "PARTIAL_REFUND"
	OutcomeDisputed       PaymentOutcome = "DISPUTED"
	OutcomeChargebackWon  PaymentOutcome = "CHARGEBACK_WON"
	OutcomeChargebackLost PaymentOutcome = "CHARGEBACK_LOST"
)

// EntitlementStatusFor maps a payment outcome onto the access state of its entitlements.
func EntitlementStatusFor(o PaymentOutcome) (EntitlementStatus, bool) {
	switch o {
	case OutcomeSucceeded, OutcomeChargebackWon:
		return EntitlementActive, true
	case OutcomeRefunded, OutcomePartialRefund, OutcomeChargebackLost:
		return EntitlementRevoked, true
	case OutcomeDisputed:
		return EntitlementSuspended, true
	}
	return "", false
}

// TelemetryStatusFor maps a payment outcome onto the telemetry vocabulary.
func TelemetryStatusFor(o PaymentOutcome) TelemetryStatus {
	switch o {
	case OutcomeRefunded, OutcomePartialRefund, OutcomeChargebackLost:
		return TelemetryRefunded
	case OutcomeDisputed:
		return TelemetryDisputed
	}
	return TelemetryOK
}
