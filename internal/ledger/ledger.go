package ledger

import (
	"context"
	"fmt"
	"sort"

	"github.com/attaboy/checkout/internal/domain"
	"github.com/attaboy/checkout/internal/policy"
	"github.com/attaboy/checkout/internal/repository"
	"github.com/google/uuid"
)

// Engine owns the durable side of a paid purchase:
//  1. MaterializeSale, the single transaction that turns a paid intent into a sale
//  2. RecordTelemetry, the conservative per-purchase status row
//
// All methods run against the DBTX they are given and never open their own transaction.
type Engine struct {
	sales        repository.SaleRepository
	entitlements repository.EntitlementRepository
	fulfillments repository.FulfillmentRepository
	catalog      repository.CatalogRepository
	payments     repository.PaymentRepository
	events       repository.PaymentEventRepository
	outbox       repository.OutboxRepository
}

// NewEngine creates a ledger engine with the given repositories.
func NewEngine(
	sales repository.SaleRepository,
	entitlements repository.EntitlementRepository,
	fulfillments repository.FulfillmentRepository,
	catalog repository.CatalogRepository,
	payments repository.PaymentRepository,
	events repository.PaymentEventRepository,
	outbox repository.OutboxRepository,
) *Engine {
	return &Engine{
		sales:        sales,
		entitlements: entitlements,
		fulfillments: fulfillments,
		catalog:      catalog,
		payments:     payments,
		events:       events,
		outbox:       outbox,
	}
}

// SaleParams is the validated input of MaterializeSale.
type SaleParams struct {
	Intent    *domain.Intent
	Breakdown *domain.Breakdown
	Event     *domain.Event
	Owner     policy.Owner
	Source    domain.EventSource
}

// MaterializeResult describes what a MaterializeSale pass wrote.
type MaterializeResult struct {
	Summary             *domain.SaleSummary
	Lines               []domain.SaleLine
	Entitlements        []domain.Entitlement
	EntitlementsCreated int
	AlreadyFulfilled    bool
}

// MaterializeSale writes the sale for a paid intent. Must be called within a transaction.
//
// Steps:
//  1. Claim the fulfillment artifact; a lost claim means another pass already won
//  2. Upsert the SaleSummary and replace its lines
//  3. Insert-or-fetch one entitlement per unit on its natural key
//  4. Bump sold counters by the units actually created
//  5. Mark the payment PAID, telemetry OK, and write the outbox event
func (e *Engine) MaterializeSale(ctx context.Context, tx repository.DBTX, p SaleParams) (*MaterializeResult, error) {
	intentID := p.Intent.ID
	purchaseID := p.Intent.PurchaseID()

	claimed, err := e.fulfillments.Claim(ctx, tx, intentID, purchaseID)
	if err != nil {
		return nil, fmt.Errorf("materialize sale: %w", err)
	}
	if !claimed {
		return &MaterializeResult{AlreadyFulfilled: true}, nil
	}

	summary, _, err := e.sales.UpsertSummary(ctx, tx, buildSummary(p))
	if err != nil {
		return nil, fmt.Errorf("materialize sale: %w", err)
	}

	lines := BuildLines(summary.ID, purchaseID, p.Breakdown)
	if err := e.sales.ReplaceLines(ctx, tx, summary.ID, lines); err != nil {
		return nil, fmt.Errorf("materialize sale: %w", err)
	}

	result := &MaterializeResult{Summary: summary, Lines: lines}
	createdByType := make(map[string]int)
	ownerKey := p.Owner.Key()

	for _, line := range lines {
		for i, unit := range AllocateUnits(line) {
			ent := &domain.Entitlement{
				ID:               uuid.New(),
				PurchaseID:       purchaseID,
				SaleLineID:       line.ID,
				LineItemIndex:    i,
				OwnerKey:         ownerKey,
				Type:             domain.EntitlementEventTicket,
				Status:           domain.EntitlementActive,
				OwnerUserID:      strPtr(p.Owner.UserID),
				OwnerIdentityID:  strPtr(p.Owner.IdentityID),
				GuestEmail:       guestEmail(p.Owner),
				EventID:          p.Event.ID,
				TicketTypeID:     line.TicketTypeID,
				PaymentIntentID:  intentID,
				PricePaidCents:   unit.PriceCents,
				PlatformFeeCents: unit.PlatformFeeCents,
				Currency:         summary.Currency,
			}
			saved, created, err := e.entitlements.InsertOrFetch(ctx, tx, ent)
			if err != nil {
				return nil, fmt.Errorf("materialize sale line %d unit %d: %w", line.LineIndex, i, err)
			}
			if created {
				createdByType[line.TicketTypeID]++
				result.EntitlementsCreated++
			}
			result.Entitlements = append(result.Entitlements, *saved)
		}
	}

	// Stable order keeps row locks on ticket_types consistent across concurrent sales.
	typeIDs := make([]string, 0, len(createdByType))
	for id := range createdByType {
		typeIDs = append(typeIDs, id)
	}
	sort.Strings(typeIDs)
	for _, id := range typeIDs {
		if err := e.catalog.IncrementSold(ctx, tx, id, createdByType[id]); err != nil {
			return nil, fmt.Errorf("materialize sale: %w", err)
		}
	}

	if err := e.payments.MarkPaid(ctx, tx, purchaseID); err != nil {
		return nil, fmt.Errorf("materialize sale: %w", err)
	}

	amount := p.Intent.AmountReceivedCents
	if amount == 0 {
		amount = p.Intent.AmountCents
	}
	if _, err := e.RecordTelemetry(ctx, tx, purchaseID, domain.TelemetryUpdate{
		PaymentIntentID: intentID,
		Status:          domain.TelemetryOK,
		AmountCents:     &amount,
		Source:          p.Source,
		Mode:            domain.ModeFor(p.Intent.Livemode),
	}); err != nil {
		return nil, fmt.Errorf("materialize sale: %w", err)
	}

	if err := e.outbox.Insert(ctx, tx, domain.NewPurchasePaidEvent(summary, result.EntitlementsCreated)); err != nil {
		return nil, fmt.Errorf("insert outbox event: %w", err)
	}

	if err := e.fulfillments.AttachSummary(ctx, tx, intentID, summary.ID); err != nil {
		return nil, fmt.Errorf("materialize sale: %w", err)
	}

	return result, nil
}

// RecordTelemetry refreshes the purchase's PaymentEvent, creating it when absent.
// The row is keyed by the purchase's checkout key.
func (e *Engine) RecordTelemetry(ctx context.Context, db repository.DBTX, purchaseID string, u domain.TelemetryUpdate) (*domain.PaymentEvent, error) {
	dedupeKey := domain.CheckoutKey(purchaseID)

	ev, err := e.events.Apply(ctx, db, dedupeKey, u)
	if err == nil {
		return ev, nil
	}
	if !domain.IsCode(err, domain.CodeNotFound) {
		return nil, err
	}

	attempt := 0
	if u.IncrementAttempt {
		attempt = 1
	}
	saved, created, err := e.events.InsertOrFetch(ctx, db, &domain.PaymentEvent{
		PurchaseID:      purchaseID,
		DedupeKey:       dedupeKey,
		PaymentIntentID: strPtr(u.PaymentIntentID),
		Status:          u.Status,
		AmountCents:     u.AmountCents,
		Attempt:         attempt,
		Source:          u.Source,
		Mode:            u.Mode,
		GatewayEventID:  strPtr(u.GatewayEventID),
		ErrorMessage:    strPtr(u.ErrorMessage),
	})
	if err != nil {
		return nil, err
	}
	if created {
		return saved, nil
	}
	// Lost an insert race, or the row predates the checkout key.
	return e.events.Apply(ctx, db, saved.DedupeKey, u)
}

func buildSummary(p SaleParams) *domain.SaleSummary {
	b := p.Breakdown
	currency := domain.NormalizeCurrency(b.Currency)
	if currency == "" {
		currency = domain.NormalizeCurrency(p.Intent.Currency)
	}
	total := b.TotalCents
	if total == 0 {
		total = p.Intent.AmountCents
	}
	return &domain.SaleSummary{
		PurchaseID:           p.Intent.PurchaseID(),
		PaymentIntentID:      strPtr(p.Intent.ID),
		EventID:              p.Event.ID,
		OwnerKey:             p.Owner.Key(),
		OwnerUserID:          strPtr(p.Owner.UserID),
		OwnerIdentityID:      strPtr(p.Owner.IdentityID),
		SubtotalCents:        b.SubtotalCents,
		DiscountCents:        b.DiscountCents,
		PlatformFeeCents:     b.PlatformFeeCents,
		CardPlatformFeeCents: b.CardPlatformFeeCents,
		TotalCents:           total,
		FeeMode:              b.FeeMode,
		Currency:             currency,
	}
}

func guestEmail(o policy.Owner) *string {
	if !o.IsGuest() {
		return nil
	}
	return strPtr(o.Email)
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
