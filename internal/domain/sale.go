package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrNoBreakdown is returned when an intent carries no usable line breakdown.
var ErrNoBreakdown = errors.New("no line breakdown")

// FlexID accepts either a JSON string or a JSON number and stores it as text.
type FlexID string

func (f *FlexID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("flex id: %w", err)
	}
	*f = FlexID(n.String())
	return nil
}

// BreakdownLine is one priced line in the checkout breakdown.
type BreakdownLine struct {
	TicketTypeID         FlexID `json:"ticketTypeId"`
	Quantity             int    `json:"quantity"`
	UnitPriceCents       int64  `json:"unitPriceCents"`
	DiscountPerUnitCents int64  `json:"discountPerUnitCents"`
	LineTotalCents       *int64 `json:"lineTotalCents,omitempty"`
	LineNetCents         *int64 `json:"lineNetCents,omitempty"`
	PlatformFeeCents     int64  `json:"platformFeeCents"`
}

// Units is the number of entitlements the line grants. Always at least one.
func (l BreakdownLine) Units() int {
	return max(1, l.Quantity)
}

// Total is the gross line amount.
func (l BreakdownLine) Total() int64 {
	if l.LineTotalCents != nil {
		return *l.LineTotalCents
	}
	return l.UnitPriceCents * int64(l.Quantity)
}

// Net is the line amount after per-unit discounts, never negative.
func (l BreakdownLine) Net() int64 {
	if l.LineNetCents != nil {
		return *l.LineNetCents
	}
	return max(0, l.Total()-l.DiscountPerUnitCents*int64(l.Quantity))
}

// Breakdown is the pricing snapshot serialized into intent metadata.
type Breakdown struct {
	Lines                []BreakdownLine `json:"lines"`
	SubtotalCents        int64           `json:"subtotalCents"`
	DiscountCents        int64           `json:"discountCents"`
	PlatformFeeCents     int64           `json:"platformFeeCents"`
	CardPlatformFeeCents int64           `json:"cardPlatformFeeCents"`
	TotalCents           int64           `json:"totalCents"`
	FeeMode              string          `json:"feeMode,omitempty"`
	Currency             string          `json:"currency,omitempty"`
}

// ParseBreakdown decodes the metadata breakdown. It returns ErrNoBreakdown when
// the value is absent, malformed or has no lines.
func ParseBreakdown(raw string) (*Breakdown, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrNoBreakdown
	}
	var b Breakdown
	if err := json.Unmarshal([]byte(raw), &b); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoBreakdown, err)
	}
	if len(b.Lines) == 0 {
		return nil, ErrNoBreakdown
	}
	for i, l := range b.Lines {
		if l.TicketTypeID == "" {
			return nil, fmt.Errorf("%w: line %d has no ticket type", ErrNoBreakdown, i)
		}
	}
	return &b, nil
}

// SaleSummary is the authoritative proof that a purchase was paid.
type SaleSummary struct {
	ID                   uuid.UUID `json:"id"`
	PurchaseID           string    `json:"purchase_id"`
	PaymentIntentID      *string   `json:"payment_intent_id,omitempty"`
	EventID              string    `json:"event_id"`
	OwnerKey             string    `json:"owner_key"`
	OwnerUserID          *string   `json:"owner_user_id,omitempty"`
	OwnerIdentityID      *string   `json:"owner_identity_id,omitempty"`
	SubtotalCents        int64     `json:"subtotal_cents"`
	DiscountCents        int64     `json:"discount_cents"`
	PlatformFeeCents     int64     `json:"platform_fee_cents"`
	CardPlatformFeeCents int64     `json:"card_platform_fee_cents"`
	TotalCents           int64     `json:"total_cents"`
	FeeMode              string    `json:"fee_mode"`
	Currency             string    `json:"currency"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// SaleLine is a line item of a SaleSummary. ID is deterministic per (purchase, index).
type SaleLine struct {
	ID                   uuid.UUID `json:"id"`
	SaleSummaryID        uuid.UUID `json:"sale_summary_id"`
	LineIndex            int       `json:"line_index"`
	TicketTypeID         string    `json:"ticket_type_id"`
	Quantity             int       `json:"quantity"`
	UnitPriceCents       int64     `json:"unit_price_cents"`
	DiscountPerUnitCents int64     `json:"discount_per_unit_cents"`
	LineTotalCents       int64     `json:"line_total_cents"`
	LineNetCents         int64     `json:"line_net_cents"`
	PlatformFeeCents     int64     `json:"platform_fee_cents"`
}

// saleLineNamespace seeds deterministic SaleLine ids.
var saleLineNamespace = uuid.MustParse("6f1c2b7e-4d0a-5c3e-9b8f-2a1d4e6c8b90")

// SaleLineID derives the stable id of a purchase's line at index.
func SaleLineID(purchaseID string, index int) uuid.UUID {
	return uuid.NewSHA1(saleLineNamespace, []byte(purchaseID+":"+strconv.Itoa(index)))
}

// IssuedFulfillment binds a gateway intent to the sale it materialized.
// Its existence means the intent is fulfilled.
type IssuedFulfillment struct {
	PaymentIntentID string     `json:"payment_intent_id"`
	PurchaseID      string     `json:"purchase_id"`
	SaleSummaryID   *uuid.UUID `json:"sale_summary_id,omitempty"`
	IssuedAt        time.Time  `json:"issued_at"`
}
