package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/attaboy/checkout/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type entitlementRepo struct{}

// NewEntitlementRepository returns a pgx-backed EntitlementRepository.
func NewEntitlementRepository() EntitlementRepository {
	return &entitlementRepo{}
}

const entitlementColumns = `id, purchase_id, sale_line_id, line_item_index, owner_key, type, status,
	owner_user_id, owner_identity_id, guest_email, event_id, ticket_type_id, payment_intent_id,
	price_paid_cents, platform_fee_cents, currency, created_at`

func (r *entitlementRepo) InsertOrFetch(ctx context.Context, db DBTX, e *domain.Entitlement) (*domain.Entitlement, bool, error) {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	status := e.Status
	if status == "" {
		status = domain.EntitlementActive
	}
	row := db.QueryRow(ctx, `
		INSERT INTO entitlements
			(id, purchase_id, sale_line_id, line_item_index, owner_key, type, status,
			 owner_user_id, owner_identity_id, guest_email, event_id, ticket_type_id,
			 payment_intent_id, price_paid_cents, platform_fee_cents, currency)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT ON CONSTRAINT uq_entitlements_natural_key DO NOTHING
		RETURNING `+entitlementColumns,
		e.ID, e.PurchaseID, e.SaleLineID, e.LineItemIndex, e.OwnerKey, string(e.Type), string(status),
		e.OwnerUserID, e.OwnerIdentityID, e.GuestEmail, e.EventID, e.TicketTypeID,
		e.PaymentIntentID, e.PricePaidCents, e.PlatformFeeCents, e.Currency,
	)
	created, err := scanEntitlement(row)
	if err != nil {
		return nil, false, fmt.Errorf("insert entitlement: %w", err)
	}
	if created != nil {
		return created, true, nil
	}

	row = db.QueryRow(ctx, `
		SELECT `+entitlementColumns+` FROM entitlements
		WHERE purchase_id = $1 AND sale_line_id = $2 AND line_item_index = $3
		  AND owner_key = $4 AND type = $5`,
		e.PurchaseID, e.SaleLineID, e.LineItemIndex, e.OwnerKey, string(e.Type))
	existing, err := scanEntitlement(row)
	if err != nil {
		return nil, false, fmt.Errorf("fetch existing entitlement: %w", err)
	}
	if existing == nil {
		return nil, false, fmt.Errorf("entitlement %s/%d vanished after conflict", e.SaleLineID, e.LineItemIndex)
	}
	return existing, false, nil
}

func (r *entitlementRepo) ListByPurchase(ctx context.Context, db DBTX, purchaseID string) ([]domain.Entitlement, error) {
	rows, err := db.Query(ctx, `
		SELECT `+entitlementColumns+` FROM entitlements
		WHERE purchase_id = $1
		ORDER BY sale_line_id, line_item_index`, purchaseID)
	if err != nil {
		return nil, fmt.Errorf("list entitlements: %w", err)
	}
	defer rows.Close()

	var out []domain.Entitlement
	for rows.Next() {
		e, err := scanEntitlement(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entitlement: %w", err)
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func (r *entitlementRepo) UpdateStatusByPurchase(ctx context.Context, db DBTX, purchaseID string, status domain.EntitlementStatus) (int64, error) {
	tag, err := db.Exec(ctx, `
		UPDATE entitlements SET status = $2, updated_at = now()
		WHERE purchase_id = $1 AND status <> $2`,
		purchaseID, string(status))
	if err != nil {
		return 0, fmt.Errorf("update entitlement status: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanEntitlement(row pgx.Row) (*domain.Entitlement, error) {
	var e domain.Entitlement
	var typ, status string
	err := row.Scan(
		&e.ID, &e.PurchaseID, &e.SaleLineID, &e.LineItemIndex, &e.OwnerKey, &typ, &status,
		&e.OwnerUserID, &e.OwnerIdentityID, &e.GuestEmail, &e.EventID, &e.TicketTypeID, &e.PaymentIntentID,
		&e.PricePaidCents, &e.PlatformFeeCents, &e.Currency, &e.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	e.Type = domain.EntitlementType(typ)
	e.Status = domain.EntitlementStatus(status)
	return &e, nil
}
