package ledger

import (
	"context"
	"fmt"

	"github.com/attaboy/checkout/internal/domain"
	"github.com/attaboy/checkout/internal/repository"
)

// AuditResult holds the outcome of a purchase audit.
type AuditResult struct {
	PurchaseID       string           `json:"purchaseId"`
	EntitlementCount int              `json:"entitlementCount"`
	Invariants       []InvariantCheck `json:"invariants"`
	AllPassed        bool             `json:"allPassed"`
}

// InvariantCheck records a single invariant validation.
type InvariantCheck struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail"`
}

// Auditor re-reads a fulfilled purchase and validates its ledger invariants.
//
// Invariants:
//  1. Artifact parity: the summary's intent has an issued fulfillment pointing back at it
//  2. Unit coverage: exactly one entitlement per sold unit
//  3. Natural key uniqueness: no two entitlements share a key
//  4. Allocation parity: per-unit prices and fees sum to their line totals
type Auditor struct {
	sales        repository.SaleRepository
	entitlements repository.EntitlementRepository
	fulfillments repository.FulfillmentRepository
}

// NewAuditor creates an auditor.
func NewAuditor(
	sales repository.SaleRepository,
	entitlements repository.EntitlementRepository,
	fulfillments repository.FulfillmentRepository,
) *Auditor {
	return &Auditor{sales: sales, entitlements: entitlements, fulfillments: fulfillments}
}

// Audit validates the invariants of a purchase. A purchase with no summary is an error.
func (a *Auditor) Audit(ctx context.Context, db repository.DBTX, purchaseID string) (*AuditResult, error) {
	summary, err := a.sales.FindSummaryByPurchase(ctx, db, purchaseID)
	if err != nil {
		return nil, fmt.Errorf("audit: %w", err)
	}
	if summary == nil {
		return nil, domain.ErrNotFound("sale summary", purchaseID)
	}

	lines, err := a.sales.ListLines(ctx, db, summary.ID)
	if err != nil {
		return nil, fmt.Errorf("audit: %w", err)
	}
	ents, err := a.entitlements.ListByPurchase(ctx, db, purchaseID)
	if err != nil {
		return nil, fmt.Errorf("audit: %w", err)
	}

	var artifact *domain.IssuedFulfillment
	if summary.PaymentIntentID != nil {
		artifact, err = a.fulfillments.FindByIntent(ctx, db, *summary.PaymentIntentID)
		if err != nil {
			return nil, fmt.Errorf("audit: %w", err)
		}
	}

	checks := ValidateInvariants(summary, lines, ents, artifact)
	allPassed := true
	for _, c := range checks {
		if !c.Passed {
			allPassed = false
		}
	}
	return &AuditResult{
		PurchaseID:       purchaseID,
		EntitlementCount: len(ents),
		Invariants:       checks,
		AllPassed:        allPassed,
	}, nil
}

// ValidateInvariants checks a loaded purchase.
func ValidateInvariants(
	summary *domain.SaleSummary,
	lines []domain.SaleLine,
	ents []domain.Entitlement,
	artifact *domain.IssuedFulfillment,
) []InvariantCheck {
	checks := make([]InvariantCheck, 0, 4)

	artifactPass := artifact != nil && artifact.SaleSummaryID != nil && *artifact.SaleSummaryID == summary.ID
	checks = append(checks, InvariantCheck{
		Name:   "artifact_parity",
		Passed: artifactPass,
		Detail: fmt.Sprintf("summary=%s artifact=%v", summary.ID, artifact != nil),
	})

	units := 0
	for _, l := range lines {
		units += max(1, l.Quantity)
	}
	checks = append(checks, InvariantCheck{
		Name:   "unit_coverage",
		Passed: units == len(ents),
		Detail: fmt.Sprintf("units=%d entitlements=%d", units, len(ents)),
	})

	seen := make(map[domain.EntitlementKey]struct{}, len(ents))
	dupes := 0
	for i := range ents {
		k := ents[i].Key()
		if _, ok := seen[k]; ok {
			dupes++
		}
		seen[k] = struct{}{}
	}
	checks = append(checks, InvariantCheck{
		Name:   "natural_key_unique",
		Passed: dupes == 0,
		Detail: fmt.Sprintf("duplicates=%d", dupes),
	})

	byLine := make(map[string][2]int64, len(lines))
	for _, e := range ents {
		sums := byLine[e.SaleLineID.String()]
		sums[0] += e.PricePaidCents
		sums[1] += e.PlatformFeeCents
		byLine[e.SaleLineID.String()] = sums
	}
	mismatched := 0
	for _, l := range lines {
		sums := byLine[l.ID.String()]
		if sums[0] != max(0, l.LineNetCents) || sums[1] != max(0, l.PlatformFeeCents) {
			mismatched++
		}
	}
	checks = append(checks, InvariantCheck{
		Name:   "allocation_parity",
		Passed: mismatched == 0,
		Detail: fmt.Sprintf("mismatched_lines=%d", mismatched),
	})

	return checks
}
