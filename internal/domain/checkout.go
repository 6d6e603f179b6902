package domain

// CheckoutState is the canonical status reported to a polling client.
type CheckoutState string

const (
	CheckoutPending        CheckoutState = "PENDING"
	CheckoutProcessing     CheckoutState = "PROCESSING"
	CheckoutRequiresAction CheckoutState = "REQUIRES_ACTION"
	CheckoutPaid           CheckoutState = "PAID"
	CheckoutFailed         CheckoutState = "FAILED"
	CheckoutRefunded       CheckoutState = "REFUNDED"
	CheckoutDisputed       CheckoutState = "DISPUTED"
)

// NextAction tells the client what to do after reading a status.
type NextAction string

const (
	ActionNone             NextAction = "NONE"
	ActionPoll             NextAction = "POLL"
	ActionConfirmPayment   NextAction = "CONFIRM_PAYMENT"
	ActionStartNewPurchase NextAction = "START_NEW_PURCHASE"
	ActionContactSupport   NextAction = "CONTACT_SUPPORT"
)

// CheckoutStatus is the resolved outcome of a purchase.
type CheckoutStatus struct {
	Status          CheckoutState `json:"status"`
	Final           bool          `json:"final"`
	Retryable       bool          `json:"retryable"`
	NextAction      NextAction    `json:"nextAction"`
	ErrorMessage    string        `json:"errorMessage,omitempty"`
	PurchaseID      string        `json:"purchaseId,omitempty"`
	PaymentIntentID string        `json:"paymentIntentId,omitempty"`
}

// StatusQuery identifies the purchase being polled. At least one id is required.
type StatusQuery struct {
	PurchaseID      string
	PaymentIntentID string
}

// Empty reports whether neither id was supplied.
func (q StatusQuery) Empty() bool {
	return q.PurchaseID == "" && q.PaymentIntentID == ""
}
