package domain

import (
	"errors"
	"fmt"
	"strings"
)

const (
	// MaxLineQuantity bounds the units a single breakdown line may grant.
	MaxLineQuantity = 50
	// MaxPurchaseUnits bounds the entitlements one purchase may create.
	MaxPurchaseUnits = 100
)

// ErrPriceMismatch is returned when a breakdown disagrees with the catalog or the captured amount.
var ErrPriceMismatch = errors.New("breakdown does not match catalog")

// PriceCheck is what a breakdown is validated against.
type PriceCheck struct {
	Event    *Event
	Currency string
	// AmountCents is the amount the buyer is charged, or was charged.
	AmountCents int64
	// PromoCode must be present for any line to carry a discount.
	PromoCode string
	// EnforceCapacity rejects lines that exceed the ticket type's remaining stock.
	EnforceCapacity bool
}

// Verify checks every line against catalog prices and the totals against the charged amount.
func (b *Breakdown) Verify(c PriceCheck) error {
	if c.Event == nil {
		return fmt.Errorf("%w: no event", ErrPriceMismatch)
	}
	currency := NormalizeCurrency(c.Currency)
	if bc := NormalizeCurrency(b.Currency); bc != "" && bc != currency {
		return fmt.Errorf("%w: breakdown currency %s, charge currency %s", ErrPriceMismatch, bc, currency)
	}

	units := 0
	var net, fees int64
	for i, l := range b.Lines {
		tt, ok := c.Event.TicketType(string(l.TicketTypeID))
		if !ok {
			return fmt.Errorf("%w: line %d ticket type %s not in event %s", ErrPriceMismatch, i, l.TicketTypeID, c.Event.ID)
		}
		if l.Quantity < 1 || l.Quantity > MaxLineQuantity {
			return fmt.Errorf("%w: line %d quantity %d outside 1..%d", ErrPriceMismatch, i, l.Quantity, MaxLineQuantity)
		}
		if l.UnitPriceCents != tt.PriceCents {
			return fmt.Errorf("%w: line %d unit price %d, catalog price %d", ErrPriceMismatch, i, l.UnitPriceCents, tt.PriceCents)
		}
		if !strings.EqualFold(tt.Currency, currency) {
			return fmt.Errorf("%w: line %d ticket type priced in %s", ErrPriceMismatch, i, tt.Currency)
		}
		if l.DiscountPerUnitCents < 0 || l.DiscountPerUnitCents > l.UnitPriceCents {
			return fmt.Errorf("%w: line %d discount %d out of range", ErrPriceMismatch, i, l.DiscountPerUnitCents)
		}
		if l.DiscountPerUnitCents > 0 && strings.TrimSpace(c.PromoCode) == "" {
			return fmt.Errorf("%w: line %d discounted without a promo code", ErrPriceMismatch, i)
		}
		if l.PlatformFeeCents < 0 {
			return fmt.Errorf("%w: line %d negative platform fee", ErrPriceMismatch, i)
		}
		gross := l.UnitPriceCents * int64(l.Quantity)
		if l.LineTotalCents != nil && *l.LineTotalCents != gross {
			return fmt.Errorf("%w: line %d total %d, expected %d", ErrPriceMismatch, i, *l.LineTotalCents, gross)
		}
		lineNet := gross - l.DiscountPerUnitCents*int64(l.Quantity)
		if l.LineNetCents != nil && *l.LineNetCents != lineNet {
			return fmt.Errorf("%w: line %d net %d, expected %d", ErrPriceMismatch, i, *l.LineNetCents, lineNet)
		}
		if c.EnforceCapacity && tt.TotalQuantity > 0 && tt.SoldQuantity+l.Quantity > tt.TotalQuantity {
			return fmt.Errorf("%w: line %d ticket type %s has %d left", ErrPriceMismatch, i, tt.ID, tt.TotalQuantity-tt.SoldQuantity)
		}
		units += l.Quantity
		net += lineNet
		fees += l.PlatformFeeCents
	}
	if units > MaxPurchaseUnits {
		return fmt.Errorf("%w: %d units exceed %d per purchase", ErrPriceMismatch, units, MaxPurchaseUnits)
	}
	if b.TotalCents != c.AmountCents {
		return fmt.Errorf("%w: breakdown total %d, charged %d", ErrPriceMismatch, b.TotalCents, c.AmountCents)
	}
	if b.TotalCents < net {
		return fmt.Errorf("%w: total %d does not cover line net %d", ErrPriceMismatch, b.TotalCents, net)
	}
	if b.PlatformFeeCents != 0 && b.PlatformFeeCents != fees {
		return fmt.Errorf("%w: platform fee %d, lines sum to %d", ErrPriceMismatch, b.PlatformFeeCents, fees)
	}
	return nil
}
