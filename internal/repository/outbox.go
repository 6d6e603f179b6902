package repository

import (
	"context"
	"fmt"

	"github.com/attaboy/checkout/internal/domain"
)

// maxErrorLength caps last_error so a verbose broker error cannot bloat the row.
const maxErrorLength = 512

type outboxRepo struct{}

// NewOutboxRepository returns a pgx-backed OutboxRepository.
func NewOutboxRepository() OutboxRepository {
	return &outboxRepo{}
}

func (r *outboxRepo) Insert(ctx context.Context, db DBTX, draft domain.OutboxDraft) error {
	headers := draft.Headers
	if len(headers) == 0 {
		headers = []byte(`{}`)
	}
	_, err := db.Exec(ctx, `
		INSERT INTO event_outbox
		  (event_id, aggregate_type, aggregate_id, event_type, partition_key, headers, payload, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (event_id) DO NOTHING`,
		draft.EventID,
		string(draft.AggregateType),
		draft.AggregateID,
		string(draft.EventType),
		draft.PartitionKey,
		headers,
		draft.Payload,
		draft.OccurredAt,
	)
	if err != nil {
		return fmt.Errorf("insert outbox event %s: %w", draft.EventType, err)
	}
	return nil
}

func (r *outboxRepo) FetchUnpublished(ctx context.Context, db DBTX, limit, maxAttempts int) ([]domain.OutboxDraft, error) {
	rows, err := db.Query(ctx, `
		SELECT seq_id, event_id, aggregate_type, aggregate_id, event_type,
		       partition_key, headers, payload, occurred_at, attempts
		FROM event_outbox
		WHERE published_at IS NULL
		  AND ($2 <= 0 OR attempts < $2)
		ORDER BY seq_id ASC
		LIMIT $1`, limit, maxAttempts)
	if err != nil {
		return nil, fmt.Errorf("fetch unpublished events: %w", err)
	}
	defer rows.Close()

	var events []domain.OutboxDraft
	for rows.Next() {
		var d domain.OutboxDraft
		var aggType, evtType string
		if err := rows.Scan(&d.SeqID, &d.EventID, &aggType, &d.AggregateID, &evtType,
			&d.PartitionKey, &d.Headers, &d.Payload, &d.OccurredAt, &d.Attempts); err != nil {
			return nil, fmt.Errorf("scan outbox row: %w", err)
		}
		d.AggregateType = domain.AggregateType(aggType)
		d.EventType = domain.EventType(evtType)
		events = append(events, d)
	}
	return events, rows.Err()
}

func (r *outboxRepo) MarkPublished(ctx context.Context, db DBTX, seqIDs []int64) error {
	if len(seqIDs) == 0 {
		return nil
	}
	_, err := db.Exec(ctx, `
		UPDATE event_outbox SET published_at = now(), last_error = NULL
		WHERE seq_id = ANY($1) AND published_at IS NULL`, seqIDs)
	if err != nil {
		return fmt.Errorf("mark %d events published: %w", len(seqIDs), err)
	}
	return nil
}

func (r *outboxRepo) RecordFailure(ctx context.Context, db DBTX, seqID int64, reason string) error {
	if len(reason) > maxErrorLength {
		reason = reason[:maxErrorLength]
	}
	_, err := db.Exec(ctx, `
		UPDATE event_outbox SET attempts = attempts + 1, last_error = $2
		WHERE seq_id = $1`, seqID, reason)
	if err != nil {
		return fmt.Errorf("record outbox failure %d: %w", seqID, err)
	}
	return nil
}
