package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/attaboy/checkout/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type operationRepo struct{}

// NewOperationRepository returns a pgx-backed OperationRepository.
func NewOperationRepository() OperationRepository {
	return &operationRepo{}
}

const operationColumns = `id, operation_type, dedupe_key, status, purchase_id, payment_intent_id, payload,
	attempts, requeue_count, last_error, next_retry_at, locked_at, created_at, updated_at`

func (r *operationRepo) FindLatest(ctx context.Context, db DBTX, opType domain.OperationType, purchaseID, intentID string) (*domain.Operation, error) {
	row := db.QueryRow(ctx, `
		SELECT `+operationColumns+` FROM operations
		WHERE operation_type = $1
		  AND ((NULLIF($2::text, '') IS NOT NULL AND purchase_id = $2)
		    OR (NULLIF($3::text, '') IS NOT NULL AND payment_intent_id = $3))
		ORDER BY updated_at DESC
		LIMIT 1`,
		string(opType), purchaseID, intentID)
	op, err := scanOperation(row)
	if err != nil {
		return nil, fmt.Errorf("find latest operation: %w", err)
	}
	return op, nil
}

func (r *operationRepo) FindByDedupeKey(ctx context.Context, db DBTX, dedupeKey string) (*domain.Operation, error) {
	row := db.QueryRow(ctx, `SELECT `+operationColumns+` FROM operations WHERE dedupe_key = $1`, dedupeKey)
	op, err := scanOperation(row)
	if err != nil {
		return nil, fmt.Errorf("find operation by dedupe key: %w", err)
	}
	return op, nil
}

func (r *operationRepo) Insert(ctx context.Context, db DBTX, d domain.OperationDraft) (*domain.Operation, bool, error) {
	row := db.QueryRow(ctx, `
		INSERT INTO operations (id, operation_type, dedupe_key, status, purchase_id, payment_intent_id, payload)
		VALUES ($1, $2, $3, 'PENDING', NULLIF($4::text, ''), NULLIF($5::text, ''), $6)
		ON CONFLICT (dedupe_key) DO NOTHING
		RETURNING `+operationColumns,
		uuid.New(), string(d.Type), d.DedupeKey, d.PurchaseID, d.PaymentIntentID, payloadOrEmpty(d.Payload),
	)
	return r.acceptedOrExisting(ctx, db, row, d.DedupeKey)
}

// Rearm resets attempts so the worker's retry budget starts over.
func (r *operationRepo) Rearm(ctx context.Context, db DBTX, d domain.OperationDraft, staleBefore time.Time) (*domain.Operation, bool, error) {
	row := db.QueryRow(ctx, `
		INSERT INTO operations (id, operation_type, dedupe_key, status, purchase_id, payment_intent_id, payload)
		VALUES ($1, $2, $3, 'PENDING', NULLIF($4::text, ''), NULLIF($5::text, ''), $6)
		ON CONFLICT (dedupe_key) DO UPDATE SET
			status            = 'PENDING',
			attempts          = 0,
			locked_at         = NULL,
			next_retry_at     = NULL,
			requeue_count     = operations.requeue_count + 1,
			purchase_id       = COALESCE(operations.purchase_id, EXCLUDED.purchase_id),
			payment_intent_id = COALESCE(operations.payment_intent_id, EXCLUDED.payment_intent_id),
			updated_at        = now()
		WHERE operations.status IN ('FAILED', 'DEAD_LETTER')
		   OR (operations.status IN ('PENDING', 'RUNNING') AND operations.updated_at < $7)
		RETURNING `+operationColumns,
		uuid.New(), string(d.Type), d.DedupeKey, d.PurchaseID, d.PaymentIntentID, payloadOrEmpty(d.Payload), staleBefore,
	)
	return r.acceptedOrExisting(ctx, db, row, d.DedupeKey)
}

func (r *operationRepo) acceptedOrExisting(ctx context.Context, db DBTX, row pgx.Row, dedupeKey string) (*domain.Operation, bool, error) {
	op, err := scanOperation(row)
	if err != nil {
		return nil, false, fmt.Errorf("enqueue operation: %w", err)
	}
	if op != nil {
		return op, true, nil
	}
	existing, err := r.FindByDedupeKey(ctx, db, dedupeKey)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func payloadOrEmpty(p json.RawMessage) json.RawMessage {
	if len(p) == 0 {
		return json.RawMessage(`{}`)
	}
	return p
}

func scanOperation(row pgx.Row) (*domain.Operation, error) {
	var op domain.Operation
	var typ, status string
	err := row.Scan(
		&op.ID, &typ, &op.DedupeKey, &status, &op.PurchaseID, &op.PaymentIntentID, &op.Payload,
		&op.Attempts, &op.RequeueCount, &op.LastError, &op.NextRetryAt, &op.LockedAt, &op.CreatedAt, &op.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	op.Type = domain.OperationType(typ)
	op.Status = domain.OperationStatus(status)
	return &op, nil
}
