package ledger

import (
	"github.com/attaboy/checkout/internal/domain"
	"github.com/google/uuid"
)

// UnitAllocation is the share of a sale line carried by one entitlement.
type UnitAllocation struct {
	PriceCents       int64
	PlatformFeeCents int64
}

// BuildLines converts a breakdown into sale lines with deterministic ids.
func BuildLines(summaryID uuid.UUID, purchaseID string, b *domain.Breakdown) []domain.SaleLine {
	lines := make([]domain.SaleLine, 0, len(b.Lines))
	for i, l := range b.Lines {
		lines = append(lines, domain.SaleLine{
			ID:                   domain.SaleLineID(purchaseID, i),
			SaleSummaryID:        summaryID,
			LineIndex:            i,
			TicketTypeID:         string(l.TicketTypeID),
			Quantity:             l.Units(),
			UnitPriceCents:       l.UnitPriceCents,
			DiscountPerUnitCents: l.DiscountPerUnitCents,
			LineTotalCents:       l.Total(),
			LineNetCents:         l.Net(),
			PlatformFeeCents:     l.PlatformFeeCents,
		})
	}
	return lines
}

// AllocateUnits splits a line's net amount and platform fee across its units.
// Each amount is floor-divided and the remainder goes one cent at a time to the
// leading units, so the parts always sum to the line total.
func AllocateUnits(line domain.SaleLine) []UnitAllocation {
	units := max(1, line.Quantity)
	prices := split(line.LineNetCents, units)
	fees := split(line.PlatformFeeCents, units)

	out := make([]UnitAllocation, units)
	for i := range out {
		out[i] = UnitAllocation{PriceCents: prices[i], PlatformFeeCents: fees[i]}
	}
	return out
}

func split(amount int64, parts int) []int64 {
	out := make([]int64, parts)
	if amount <= 0 {
		return out
	}
	base := amount / int64(parts)
	rem := amount % int64(parts)
	for i := range out {
		out[i] = base
		if int64(i) < rem {
			out[i]++
		}
	}
	return out
}
