package domain

import "strings"

// IntentStatus is the gateway-side state of a payment intent.
type IntentStatus string

const (
	IntentSucceeded             IntentStatus = "succeeded"
	IntentCanceled              IntentStatus = "canceled"
	IntentRequiresCapture       IntentStatus = "requires_capture"
	IntentRequiresAction        IntentStatus = "requires_action"
	IntentRequiresConfirmation  IntentStatus = "requires_confirmation"
	IntentRequiresPaymentMethod IntentStatus = "requires_payment_method"
	IntentProcessing            IntentStatus = "processing"
)

// IsTerminal reports whether no further state-changing action is permitted on the intent.
func (s IntentStatus) IsTerminal() bool {
	switch s {
	case IntentSucceeded, IntentCanceled, IntentRequiresCapture:
		return true
	}
	return false
}

// Intent metadata keys written by the intent manager and read by fulfillment.
const (
	MetaPurchaseID           = "purchaseId"
	MetaPaymentID            = "paymentId"
	MetaIdempotencyKey       = "idempotencyKey"
	MetaClientIdempotencyKey = "clientIdempotencyKey"
	MetaScenario             = "paymentScenario"
	MetaBreakdown            = "breakdown"
	MetaEventID              = "eventId"
	MetaOwnerUserID          = "ownerUserId"
	MetaOwnerIdentityID      = "ownerIdentityId"
	MetaEmail                = "emailNormalized"
	MetaPromoCode            = "promoCode"
)

// ReservedMetaKeys are written by the engine or derived from a verified buyer.
// Public callers never supply them.
var ReservedMetaKeys = []string{
	MetaPurchaseID,
	MetaPaymentID,
	MetaIdempotencyKey,
	MetaClientIdempotencyKey,
	MetaScenario,
	MetaOwnerUserID,
	MetaOwnerIdentityID,
}

// Intent is the gateway-neutral view of a payment intent.
type Intent struct {
	ID                  string            `json:"id"`
	Status              IntentStatus      `json:"status"`
	AmountCents         int64             `json:"amount"`
	AmountReceivedCents int64             `json:"amount_received"`
	Currency            string            `json:"currency"`
	Livemode            bool              `json:"livemode"`
	ClientSecret        string            `json:"-"`
	Metadata            map[string]string `json:"metadata,omitempty"`
}

// Meta returns the trimmed metadata value for key, or "" when absent.
func (i *Intent) Meta(key string) string {
	if i == nil || i.Metadata == nil {
		return ""
	}
	return strings.TrimSpace(i.Metadata[key])
}

// PurchaseID returns the purchase this intent belongs to, falling back to the intent id.
func (i *Intent) PurchaseID() string {
	if id := i.Meta(MetaPurchaseID); id != "" {
		return id
	}
	return i.ID
}

// Scenario resolves the payment scenario discriminator carried in metadata.
func (i *Intent) Scenario() PaymentScenario {
	return ParseScenario(i.Meta(MetaScenario))
}
