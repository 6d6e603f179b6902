package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/attaboy/checkout/internal/domain"
	"github.com/jackc/pgx/v5"
)

type catalogRepo struct{}

// NewCatalogRepository returns a pgx-backed CatalogRepository.
func NewCatalogRepository() CatalogRepository {
	return &catalogRepo{}
}

func (r *catalogRepo) FindEvent(ctx context.Context, db DBTX, eventID string) (*domain.Event, error) {
	var ev domain.Event
	err := db.QueryRow(ctx, `SELECT id, organization_id, title FROM events WHERE id = $1`, eventID).
		Scan(&ev.ID, &ev.OrganizationID, &ev.Title)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find event: %w", err)
	}

	rows, err := db.Query(ctx, `
		SELECT id, event_id, name, price_cents, currency, total_quantity, sold_quantity
		FROM ticket_types WHERE event_id = $1
		ORDER BY id`, eventID)
	if err != nil {
		return nil, fmt.Errorf("list ticket types: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var tt domain.TicketType
		if err := rows.Scan(&tt.ID, &tt.EventID, &tt.Name, &tt.PriceCents, &tt.Currency,
			&tt.TotalQuantity, &tt.SoldQuantity); err != nil {
			return nil, fmt.Errorf("scan ticket type: %w", err)
		}
		ev.TicketTypes = append(ev.TicketTypes, tt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ticket types: %w", err)
	}
	return &ev, nil
}

func (r *catalogRepo) IncrementSold(ctx context.Context, db DBTX, ticketTypeID string, n int) error {
	if n <= 0 {
		return nil
	}
	tag, err := db.Exec(ctx, `
		UPDATE ticket_types SET sold_quantity = sold_quantity + $2
		WHERE id = $1`,
		ticketTypeID, n)
	if err != nil {
		return fmt.Errorf("increment sold quantity: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound("ticket type", ticketTypeID)
	}
	return nil
}
