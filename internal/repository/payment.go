package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/attaboy/checkout/internal/domain"
	"github.com/jackc/pgx/v5"
)

type paymentRepo struct{}

// NewPaymentRepository returns a pgx-backed PaymentRepository.
func NewPaymentRepository() PaymentRepository {
	return &paymentRepo{}
}

const paymentColumns = `id, expected_total_cents, currency, status, metadata, created_at, updated_at`

func (r *paymentRepo) InsertOrFetch(ctx context.Context, db DBTX, p *domain.Payment) (*domain.Payment, bool, error) {
	meta := p.Metadata
	if meta == nil {
		meta = json.RawMessage(`{}`)
	}
	status := p.Status
	if status == "" {
		status = domain.PaymentCreated
	}
	row := db.QueryRow(ctx, `
		INSERT INTO payments (id, expected_total_cents, currency, status, metadata)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING
		RETURNING `+paymentColumns,
		p.ID, p.ExpectedTotalCents, p.Currency, string(status), meta,
	)
	created, err := scanPayment(row)
	if err != nil {
		return nil, false, fmt.Errorf("insert payment: %w", err)
	}
	if created != nil {
		return created, true, nil
	}
	existing, err := r.FindByID(ctx, db, p.ID)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		return nil, false, fmt.Errorf("payment %s vanished after conflict", p.ID)
	}
	return existing, false, nil
}

func (r *paymentRepo) FindByID(ctx context.Context, db DBTX, id string) (*domain.Payment, error) {
	row := db.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id)
	p, err := scanPayment(row)
	if err != nil {
		return nil, fmt.Errorf("find payment: %w", err)
	}
	return p, nil
}

func (r *paymentRepo) MarkRequiresAction(ctx context.Context, db DBTX, id string) error {
	_, err := db.Exec(ctx, `
		UPDATE payments SET status = $2, updated_at = now()
		WHERE id = $1 AND status = ANY($3)`,
		id, string(domain.PaymentRequiresAction),
		[]string{string(domain.PaymentCreated), string(domain.PaymentRequiresAction), string(domain.PaymentProcessing)},
	)
	if err != nil {
		return fmt.Errorf("mark payment requires action: %w", err)
	}
	return nil
}

func (r *paymentRepo) MarkPaid(ctx context.Context, db DBTX, id string) error {
	_, err := db.Exec(ctx, `
		UPDATE payments SET status = $2, updated_at = now()
		WHERE id = $1 AND status <> $2`,
		id, string(domain.PaymentPaid))
	if err != nil {
		return fmt.Errorf("mark payment paid: %w", err)
	}
	return nil
}

func scanPayment(row pgx.Row) (*domain.Payment, error) {
	var p domain.Payment
	var status string
	err := row.Scan(&p.ID, &p.ExpectedTotalCents, &p.Currency, &status, &p.Metadata, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	p.Status = domain.PaymentStatus(status)
	return &p, nil
}
