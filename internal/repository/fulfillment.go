package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/attaboy/checkout/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type fulfillmentRepo struct{}

// NewFulfillmentRepository returns a pgx-backed FulfillmentRepository.
func NewFulfillmentRepository() FulfillmentRepository {
	return &fulfillmentRepo{}
}

func (r *fulfillmentRepo) FindByIntent(ctx context.Context, db DBTX, intentID string) (*domain.IssuedFulfillment, error) {
	var f domain.IssuedFulfillment
	err := db.QueryRow(ctx, `
		SELECT payment_intent_id, purchase_id, sale_summary_id, issued_at
		FROM issued_fulfillments WHERE payment_intent_id = $1`, intentID,
	).Scan(&f.PaymentIntentID, &f.PurchaseID, &f.SaleSummaryID, &f.IssuedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find issued fulfillment: %w", err)
	}
	return &f, nil
}

// Claim blocks on the primary key while a concurrent claimer's transaction is open.
func (r *fulfillmentRepo) Claim(ctx context.Context, db DBTX, intentID, purchaseID string) (bool, error) {
	tag, err := db.Exec(ctx, `
		INSERT INTO issued_fulfillments (payment_intent_id, purchase_id)
		VALUES ($1, $2)
		ON CONFLICT (payment_intent_id) DO NOTHING`,
		intentID, purchaseID)
	if err != nil {
		return false, fmt.Errorf("claim fulfillment: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *fulfillmentRepo) AttachSummary(ctx context.Context, db DBTX, intentID string, summaryID uuid.UUID) error {
	_, err := db.Exec(ctx, `
		UPDATE issued_fulfillments SET sale_summary_id = $2
		WHERE payment_intent_id = $1`,
		intentID, summaryID)
	if err != nil {
		return fmt.Errorf("attach sale summary: %w", err)
	}
	return nil
}
