package repository

import (
	"context"
	"time"

	"github.com/attaboy/checkout/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX abstracts pgx.Tx and pgxpool.Pool so repositories work with both.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// TxRunner executes fn inside a single database transaction, committing when fn returns nil.
type TxRunner interface {
	InTx(ctx context.Context, fn func(tx DBTX) error) error
}

// PaymentRepository provides access to payments.
type PaymentRepository interface {
	// InsertOrFetch creates the payment, or returns the existing row for the same id.
	// The bool reports whether this call created it.
	InsertOrFetch(ctx context.Context, db DBTX, p *domain.Payment) (*domain.Payment, bool, error)

	// FindByID returns a payment by purchase id, or nil.
	FindByID(ctx context.Context, db DBTX, id string) (*domain.Payment, error)

	// MarkRequiresAction moves an early-status payment to REQUIRES_ACTION. No-op otherwise.
	MarkRequiresAction(ctx context.Context, db DBTX, id string) error

	// MarkPaid sets PAID. Only fulfillment calls this.
	MarkPaid(ctx context.Context, db DBTX, id string) error
}

// PaymentEventRepository provides access to payment_events.
type PaymentEventRepository interface {
	FindByPurchase(ctx context.Context, db DBTX, purchaseID string) (*domain.PaymentEvent, error)
	FindByIntent(ctx context.Context, db DBTX, intentID string) (*domain.PaymentEvent, error)

	// InsertOrFetch inserts the event unless its dedupe key or purchase already exists,
	// in which case the stored row is returned unchanged.
	InsertOrFetch(ctx context.Context, db DBTX, ev *domain.PaymentEvent) (*domain.PaymentEvent, bool, error)

	// Apply refreshes telemetry on the row with dedupeKey.
	Apply(ctx context.Context, db DBTX, dedupeKey string, u domain.TelemetryUpdate) (*domain.PaymentEvent, error)
}

// SaleRepository provides access to sale_summaries and sale_lines.
type SaleRepository interface {
	FindSummaryByPurchase(ctx context.Context, db DBTX, purchaseID string) (*domain.SaleSummary, error)
	FindSummaryByIntent(ctx context.Context, db DBTX, intentID string) (*domain.SaleSummary, error)

	// UpsertSummary creates the summary keyed by purchase id, or updates totals and
	// metadata of the existing one. The bool reports creation.
	UpsertSummary(ctx context.Context, db DBTX, s *domain.SaleSummary) (*domain.SaleSummary, bool, error)

	// ReplaceLines deletes and recreates all lines of a summary.
	ReplaceLines(ctx context.Context, db DBTX, summaryID uuid.UUID, lines []domain.SaleLine) error

	ListLines(ctx context.Context, db DBTX, summaryID uuid.UUID) ([]domain.SaleLine, error)
}

// EntitlementRepository provides access to entitlements.
type EntitlementRepository interface {
	// InsertOrFetch inserts on the natural key or returns the existing row. The bool reports creation.
	InsertOrFetch(ctx context.Context, db DBTX, e *domain.Entitlement) (*domain.Entitlement, bool, error)

	ListByPurchase(ctx context.Context, db DBTX, purchaseID string) ([]domain.Entitlement, error)

	// UpdateStatusByPurchase sets status on every entitlement of a purchase and returns the row count.
	UpdateStatusByPurchase(ctx context.Context, db DBTX, purchaseID string, status domain.EntitlementStatus) (int64, error)
}

// FulfillmentRepository provides access to issued_fulfillments.
type FulfillmentRepository interface {
	FindByIntent(ctx context.Context, db DBTX, intentID string) (*domain.IssuedFulfillment, error)

	// Claim inserts the artifact for intentID. Returns false if another attempt already holds it.
	Claim(ctx context.Context, db DBTX, intentID, purchaseID string) (bool, error)

	AttachSummary(ctx context.Context, db DBTX, intentID string, summaryID uuid.UUID) error
}

// CatalogRepository reads events and maintains ticket type inventory counters.
type CatalogRepository interface {
	// FindEvent returns the event with its ticket types, or nil.
	FindEvent(ctx context.Context, db DBTX, eventID string) (*domain.Event, error)

	IncrementSold(ctx context.Context, db DBTX, ticketTypeID string, n int) error
}

// OperationRepository provides access to operations.
type OperationRepository interface {
	// FindLatest returns the most recently updated operation of opType correlated with
	// either id, or nil.
	FindLatest(ctx context.Context, db DBTX, opType domain.OperationType, purchaseID, intentID string) (*domain.Operation, error)

	FindByDedupeKey(ctx context.Context, db DBTX, dedupeKey string) (*domain.Operation, error)

	// Insert enqueues a new PENDING operation. On dedupe key conflict the existing row
	// is returned with accepted=false.
	Insert(ctx context.Context, db DBTX, d domain.OperationDraft) (*domain.Operation, bool, error)

	// Rearm enqueues like Insert, but also resets an existing FAILED, DEAD_LETTER, or
	// active-but-stale (updated before staleBefore) row to PENDING.
	Rearm(ctx context.Context, db DBTX, d domain.OperationDraft, staleBefore time.Time) (*domain.Operation, bool, error)
}

// OutboxRepository provides access to the event_outbox table.
type OutboxRepository interface {
	// Insert writes an outbox event (within the same transaction as the ledger write).
	Insert(ctx context.Context, db DBTX, draft domain.OutboxDraft) error

	// FetchUnpublished returns unpublished events, oldest first. Events that already
	// failed maxAttempts times are skipped; maxAttempts <= 0 disables the cap.
	FetchUnpublished(ctx context.Context, db DBTX, limit, maxAttempts int) ([]domain.OutboxDraft, error)

	// MarkPublished stamps events as published.
	MarkPublished(ctx context.Context, db DBTX, seqIDs []int64) error

	// RecordFailure counts a failed delivery attempt and keeps the last error.
	RecordFailure(ctx context.Context, db DBTX, seqID int64, reason string) error
}
