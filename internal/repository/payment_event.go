package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/attaboy/checkout/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type paymentEventRepo struct{}

// NewPaymentEventRepository returns a pgx-backed PaymentEventRepository.
func NewPaymentEventRepository() PaymentEventRepository {
	return &paymentEventRepo{}
}

const paymentEventColumns = `id, purchase_id, dedupe_key, payment_intent_id, status, amount_cents,
	attempt, source, mode, gateway_event_id, error_message, created_at, updated_at`

func (r *paymentEventRepo) FindByPurchase(ctx context.Context, db DBTX, purchaseID string) (*domain.PaymentEvent, error) {
	row := db.QueryRow(ctx, `SELECT `+paymentEventColumns+` FROM payment_events WHERE purchase_id = $1`, purchaseID)
	ev, err := scanPaymentEvent(row)
	if err != nil {
		return nil, fmt.Errorf("find payment event by purchase: %w", err)
	}
	return ev, nil
}

func (r *paymentEventRepo) FindByIntent(ctx context.Context, db DBTX, intentID string) (*domain.PaymentEvent, error) {
	row := db.QueryRow(ctx, `
		SELECT `+paymentEventColumns+` FROM payment_events
		WHERE payment_intent_id = $1
		ORDER BY updated_at DESC LIMIT 1`, intentID)
	ev, err := scanPaymentEvent(row)
	if err != nil {
		return nil, fmt.Errorf("find payment event by intent: %w", err)
	}
	return ev, nil
}

func (r *paymentEventRepo) InsertOrFetch(ctx context.Context, db DBTX, ev *domain.PaymentEvent) (*domain.PaymentEvent, bool, error) {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	source := ev.Source
	if source == "" {
		source = domain.SourceAPI
	}
	mode := ev.Mode
	if mode == "" {
		mode = domain.ModeTest
	}
	row := db.QueryRow(ctx, `
		INSERT INTO payment_events
			(id, purchase_id, dedupe_key, payment_intent_id, status, amount_cents,
			 attempt, source, mode, gateway_event_id, error_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT DO NOTHING
		RETURNING `+paymentEventColumns,
		ev.ID, ev.PurchaseID, ev.DedupeKey, ev.PaymentIntentID, string(ev.Status), ev.AmountCents,
		ev.Attempt, string(source), string(mode), ev.GatewayEventID, ev.ErrorMessage,
	)
	created, err := scanPaymentEvent(row)
	if err != nil {
		return nil, false, fmt.Errorf("insert payment event: %w", err)
	}
	if created != nil {
		return created, true, nil
	}

	row = db.QueryRow(ctx, `
		SELECT `+paymentEventColumns+` FROM payment_events
		WHERE dedupe_key = $1 OR purchase_id = $2
		LIMIT 1`, ev.DedupeKey, ev.PurchaseID)
	existing, err := scanPaymentEvent(row)
	if err != nil {
		return nil, false, fmt.Errorf("fetch existing payment event: %w", err)
	}
	if existing == nil {
		return nil, false, fmt.Errorf("payment event %s vanished after conflict", ev.DedupeKey)
	}
	return existing, false, nil
}

func (r *paymentEventRepo) Apply(ctx context.Context, db DBTX, dedupeKey string, u domain.TelemetryUpdate) (*domain.PaymentEvent, error) {
	row := db.QueryRow(ctx, `
		UPDATE payment_events SET
			payment_intent_id = COALESCE(NULLIF($2::text, ''), payment_intent_id),
			status            = COALESCE(NULLIF($3::text, ''), status),
			amount_cents      = COALESCE($4::bigint, amount_cents),
			source            = COALESCE(NULLIF($5::text, ''), source),
			mode              = COALESCE(NULLIF($6::text, ''), mode),
			gateway_event_id  = COALESCE(NULLIF($7::text, ''), gateway_event_id),
			error_message     = NULLIF($8::text, ''),
			attempt           = attempt + CASE WHEN $9::boolean THEN 1 ELSE 0 END,
			updated_at        = now()
		WHERE dedupe_key = $1
		RETURNING `+paymentEventColumns,
		dedupeKey, u.PaymentIntentID, string(u.Status), u.AmountCents, string(u.Source),
		string(u.Mode), u.GatewayEventID, u.ErrorMessage, u.IncrementAttempt,
	)
	ev, err := scanPaymentEvent(row)
	if err != nil {
		return nil, fmt.Errorf("apply telemetry: %w", err)
	}
	if ev == nil {
		return nil, domain.ErrNotFound("payment event", dedupeKey)
	}
	return ev, nil
}

func scanPaymentEvent(row pgx.Row) (*domain.PaymentEvent, error) {
	var ev domain.PaymentEvent
	var status, source, mode string
	err := row.Scan(
		&ev.ID, &ev.PurchaseID, &ev.DedupeKey, &ev.PaymentIntentID, &status, &ev.AmountCents,
		&ev.Attempt, &source, &mode, &ev.GatewayEventID, &ev.ErrorMessage, &ev.CreatedAt, &ev.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	ev.Status = domain.TelemetryStatus(status)
	ev.Source = domain.EventSource(source)
	ev.Mode = domain.PaymentMode(mode)
	return &ev, nil
}
