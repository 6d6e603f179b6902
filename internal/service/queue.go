package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/attaboy/checkout/internal/domain"
	"github.com/attaboy/checkout/internal/repository"
)

// EnqueueNotifier wakes the external worker after an operation is accepted.
type EnqueueNotifier interface {
	NotifyEnqueued(ctx context.Context, op *domain.Operation) error
}

// OperationQueue writes operations for the external worker. It never consumes them.
type OperationQueue struct {
	db       repository.DBTX
	ops      repository.OperationRepository
	notifier EnqueueNotifier
	logger   *slog.Logger
}

// NewOperationQueue creates an OperationQueue. notifier may be nil.
func NewOperationQueue(db repository.DBTX, ops repository.OperationRepository, notifier EnqueueNotifier, logger *slog.Logger) *OperationQueue {
	return &OperationQueue{db: db, ops: ops, notifier: notifier, logger: logger}
}

// Enqueue inserts a PENDING operation. accepted is false when the dedupe key already exists.
func (q *OperationQueue) Enqueue(ctx context.Context, d domain.OperationDraft) (bool, error) {
	d.DedupeKey = domain.ClampKey(d.DedupeKey)
	op, accepted, err := q.ops.Insert(ctx, q.db, d)
	if err != nil {
		return false, fmt.Errorf("enqueue %s: %w", d.Type, err)
	}
	if accepted {
		q.notify(ctx, op)
	}
	return accepted, nil
}

// Requeue enqueues like Enqueue but also re-arms an existing failed operation, or an
// active one not updated since staleBefore. The returned operation is the stored row.
func (q *OperationQueue) Requeue(ctx context.Context, d domain.OperationDraft, staleBefore time.Time) (*domain.Operation, bool, error) {
	d.DedupeKey = domain.ClampKey(d.DedupeKey)
	op, accepted, err := q.ops.Rearm(ctx, q.db, d, staleBefore)
	if err != nil {
		return nil, false, fmt.Errorf("requeue %s: %w", d.Type, err)
	}
	if accepted {
		q.notify(ctx, op)
	}
	return op, accepted, nil
}

func (q *OperationQueue) notify(ctx context.Context, op *domain.Operation) {
	if q.notifier == nil || op == nil {
		return
	}
	if err := q.notifier.NotifyEnqueued(ctx, op); err != nil {
		q.logger.Warn("enqueue notification failed",
			"operation_type", op.Type, "dedupe_key", op.DedupeKey, "error", err)
	}
}
