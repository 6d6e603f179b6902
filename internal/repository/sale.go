package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/attaboy/checkout/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type saleRepo struct{}

// NewSaleRepository returns a pgx-backed SaleRepository.
func NewSaleRepository() SaleRepository {
	return &saleRepo{}
}

const saleSummaryColumns = `id, purchase_id, payment_intent_id, event_id, owner_key, owner_user_id,
	owner_identity_id, subtotal_cents, discount_cents, platform_fee_cents, card_platform_fee_cents,
	total_cents, fee_mode, currency, created_at, updated_at`

func (r *saleRepo) FindSummaryByPurchase(ctx context.Context, db DBTX, purchaseID string) (*domain.SaleSummary, error) {
	row := db.QueryRow(ctx, `SELECT `+saleSummaryColumns+` FROM sale_summaries WHERE purchase_id = $1`, purchaseID)
	s, err := scanSaleSummary(row)
	if err != nil {
		return nil, fmt.Errorf("find sale summary by purchase: %w", err)
	}
	return s, nil
}

func (r *saleRepo) FindSummaryByIntent(ctx context.Context, db DBTX, intentID string) (*domain.SaleSummary, error) {
	row := db.QueryRow(ctx, `SELECT `+saleSummaryColumns+` FROM sale_summaries WHERE payment_intent_id = $1`, intentID)
	s, err := scanSaleSummary(row)
	if err != nil {
		return nil, fmt.Errorf("find sale summary by intent: %w", err)
	}
	return s, nil
}

// UpsertSummary never clears an intent id that is already bound to the summary.
func (r *saleRepo) UpsertSummary(ctx context.Context, db DBTX, s *domain.SaleSummary) (*domain.SaleSummary, bool, error) {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	var out domain.SaleSummary
	var inserted bool
	err := db.QueryRow(ctx, `
		INSERT INTO sale_summaries
			(id, purchase_id, payment_intent_id, event_id, owner_key, owner_user_id, owner_identity_id,
			 subtotal_cents, discount_cents, platform_fee_cents, card_platform_fee_cents,
			 total_cents, fee_mode, currency)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (purchase_id) DO UPDATE SET
			payment_intent_id       = COALESCE(sale_summaries.payment_intent_id, EXCLUDED.payment_intent_id),
			subtotal_cents          = EXCLUDED.subtotal_cents,
			discount_cents          = EXCLUDED.discount_cents,
			platform_fee_cents      = EXCLUDED.platform_fee_cents,
			card_platform_fee_cents = EXCLUDED.card_platform_fee_cents,
			total_cents             = EXCLUDED.total_cents,
			fee_mode                = EXCLUDED.fee_mode,
			currency                = EXCLUDED.currency,
			updated_at              = now()
		RETURNING `+saleSummaryColumns+`, (xmax = 0) AS inserted`,
		s.ID, s.PurchaseID, s.PaymentIntentID, s.EventID, s.OwnerKey, s.OwnerUserID, s.OwnerIdentityID,
		s.SubtotalCents, s.DiscountCents, s.PlatformFeeCents, s.CardPlatformFeeCents,
		s.TotalCents, s.FeeMode, s.Currency,
	).Scan(
		&out.ID, &out.PurchaseID, &out.PaymentIntentID, &out.EventID, &out.OwnerKey, &out.OwnerUserID,
		&out.OwnerIdentityID, &out.SubtotalCents, &out.DiscountCents, &out.PlatformFeeCents,
		&out.CardPlatformFeeCents, &out.TotalCents, &out.FeeMode, &out.Currency,
		&out.CreatedAt, &out.UpdatedAt, &inserted,
	)
	if err != nil {
		return nil, false, fmt.Errorf("upsert sale summary: %w", err)
	}
	return &out, inserted, nil
}

func (r *saleRepo) ReplaceLines(ctx context.Context, db DBTX, summaryID uuid.UUID, lines []domain.SaleLine) error {
	if _, err := db.Exec(ctx, `DELETE FROM sale_lines WHERE sale_summary_id = $1`, summaryID); err != nil {
		return fmt.Errorf("delete sale lines: %w", err)
	}
	for _, l := range lines {
		_, err := db.Exec(ctx, `
			INSERT INTO sale_lines
				(id, sale_summary_id, line_index, ticket_type_id, quantity, unit_price_cents,
				 discount_per_unit_cents, line_total_cents, line_net_cents, platform_fee_cents)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			l.ID, summaryID, l.LineIndex, l.TicketTypeID, l.Quantity, l.UnitPriceCents,
			l.DiscountPerUnitCents, l.LineTotalCents, l.LineNetCents, l.PlatformFeeCents,
		)
		if err != nil {
			return fmt.Errorf("insert sale line %d: %w", l.LineIndex, err)
		}
	}
	return nil
}

func (r *saleRepo) ListLines(ctx context.Context, db DBTX, summaryID uuid.UUID) ([]domain.SaleLine, error) {
	rows, err := db.Query(ctx, `
		SELECT id, sale_summary_id, line_index, ticket_type_id, quantity, unit_price_cents,
		       discount_per_unit_cents, line_total_cents, line_net_cents, platform_fee_cents
		FROM sale_lines WHERE sale_summary_id = $1
		ORDER BY line_index ASC`, summaryID)
	if err != nil {
		return nil, fmt.Errorf("list sale lines: %w", err)
	}
	defer rows.Close()

	var lines []domain.SaleLine
	for rows.Next() {
		var l domain.SaleLine
		if err := rows.Scan(&l.ID, &l.SaleSummaryID, &l.LineIndex, &l.TicketTypeID, &l.Quantity,
			&l.UnitPriceCents, &l.DiscountPerUnitCents, &l.LineTotalCents, &l.LineNetCents, &l.PlatformFeeCents); err != nil {
			return nil, fmt.Errorf("scan sale line: %w", err)
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

func scanSaleSummary(row pgx.Row) (*domain.SaleSummary, error) {
	var s domain.SaleSummary
	err := row.Scan(
		&s.ID, &s.PurchaseID, &s.PaymentIntentID, &s.EventID, &s.OwnerKey, &s.OwnerUserID,
		&s.OwnerIdentityID, &s.SubtotalCents, &s.DiscountCents, &s.PlatformFeeCents,
		&s.CardPlatformFeeCents, &s.TotalCents, &s.FeeMode, &s.Currency, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}
