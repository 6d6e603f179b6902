package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/attaboy/checkout/internal/domain"
	"github.com/attaboy/checkout/internal/projection"
	"github.com/attaboy/checkout/internal/repository"
	"golang.org/x/sync/singleflight"
)

// StatusConfig tunes the status resolver.
type StatusConfig struct {
	StuckThreshold time.Duration
	CacheTTL       time.Duration
	EscalateAfter  int
	// ResolveTimeout bounds one shared resolution, repair included.
	ResolveTimeout time.Duration
}

// StatusResolver reconciles the ledger, the operation queue and telemetry into
// one canonical checkout status, re-driving fulfillment when it looks stuck.
type StatusResolver struct {
	db     repository.DBTX
	sales  repository.SaleRepository
	ops    repository.OperationRepository
	events repository.PaymentEventRepository
	outbox repository.OutboxRepository
	queue  *OperationQueue
	repair RepairTrigger
	cache  projection.Store
	cfg    StatusConfig
	group  singleflight.Group
	logger *slog.Logger
	now    func() time.Time
}

// NewStatusResolver creates a StatusResolver. repair and cache may be nil.
func NewStatusResolver(
	db repository.DBTX,
	sales repository.SaleRepository,
	ops repository.OperationRepository,
	events repository.PaymentEventRepository,
	outbox repository.OutboxRepository,
	queue *OperationQueue,
	repair RepairTrigger,
	cache projection.Store,
	cfg StatusConfig,
	logger *slog.Logger,
) *StatusResolver {
	if cfg.StuckThreshold <= 0 {
		cfg.StuckThreshold = 5 * time.Minute
	}
	if cfg.ResolveTimeout <= 0 {
		cfg.ResolveTimeout = 5 * time.Second
	}
	return &StatusResolver{
		db:     db,
		sales:  sales,
		ops:    ops,
		events: events,
		outbox: outbox,
		queue:  queue,
		repair: repair,
		cache:  cache,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

// ResolveStatus returns the canonical status of a purchase. Concurrent calls for the
// same ids share one resolution. Repair failures never fail the read.
func (r *StatusResolver) ResolveStatus(ctx context.Context, q domain.StatusQuery) (*domain.CheckoutStatus, error) {
	q.PurchaseID = strings.TrimSpace(q.PurchaseID)
	q.PaymentIntentID = strings.TrimSpace(q.PaymentIntentID)
	if q.Empty() {
		return nil, domain.ErrMissingID()
	}

	if st := r.cached(ctx, q.PurchaseID); st != nil {
		return st, nil
	}

	// Joined callers share this work. It outlives the caller that started it.
	ch := r.group.DoChan(q.PurchaseID+"|"+q.PaymentIntentID, func() (interface{}, error) {
		shared, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.ResolveTimeout)
		defer cancel()
		return r.resolve(shared, q)
	})
	select {
	case <-ctx.Done():
		return nil, domain.ErrInternal("resolve status", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		out := *res.Val.(*domain.CheckoutStatus)
		return &out, nil
	}
}

func (r *StatusResolver) resolve(ctx context.Context, q domain.StatusQuery) (*domain.CheckoutStatus, error) {
	summary, err := r.findSummary(ctx, q)
	if err != nil {
		return nil, domain.ErrInternal("load sale summary", err)
	}
	if summary != nil {
		fillFromSummary(&q, summary)
		st := paidStatus(q)
		r.store(ctx, st)
		return st, nil
	}

	op, err := r.ops.FindLatest(ctx, r.db, domain.OpFulfillPayment, q.PurchaseID, q.PaymentIntentID)
	if err != nil {
		return nil, domain.ErrInternal("load fulfillment operation", err)
	}
	fillFromOperation(&q, op)

	ev, err := r.findEvent(ctx, q)
	if err != nil {
		return nil, domain.ErrInternal("load payment event", err)
	}
	fillFromEvent(&q, ev)

	var st *domain.CheckoutStatus
	switch {
	case op != nil:
		st = statusFromOperation(op)
	case ev != nil:
		st = statusFromTelemetry(ev)
	default:
		st = &domain.CheckoutStatus{Status: domain.CheckoutPending, Retryable: true, NextAction: domain.ActionPoll}
	}
	st.PurchaseID = q.PurchaseID
	st.PaymentIntentID = q.PaymentIntentID

	if r.selfHeal(ctx, q, op, ev) {
		st = paidStatus(q)
		r.store(ctx, st)
	}
	return st, nil
}

// selfHeal re-enqueues fulfillment when needed and drives the worker.
// It reports whether a sale appeared.
func (r *StatusResolver) selfHeal(ctx context.Context, q domain.StatusQuery, op *domain.Operation, ev *domain.PaymentEvent) bool {
	log := r.logger.With("purchase_id", q.PurchaseID, "payment_intent_id", q.PaymentIntentID)
	now := r.now()

	needsQueue := op == nil || op.Status.IsFailed() || op.IsStuck(now, r.cfg.StuckThreshold)
	if op == nil && ev != nil && telemetrySettled(ev.Status) {
		needsQueue = false
	}

	queued := false
	if needsQueue && r.queue != nil {
		stored, accepted, err := r.queue.Requeue(ctx, domain.OperationDraft{
			Type:            domain.OpFulfillPayment,
			DedupeKey:       domain.FulfillmentDedupeKey(q.PurchaseID, q.PaymentIntentID),
			PurchaseID:      q.PurchaseID,
			PaymentIntentID: q.PaymentIntentID,
			Payload:         payload(map[string]interface{}{"purchaseId": q.PurchaseID, "paymentIntentId": q.PaymentIntentID}, nil),
		}, now.Add(-r.cfg.StuckThreshold))
		if err != nil {
			log.Warn("fulfillment requeue failed", "error", err)
		} else if accepted {
			queued = true
			log.Info("fulfillment requeued", "requeue_count", stored.RequeueCount)
			r.escalate(ctx, stored, log)
		}
	}

	active := op != nil && op.Status.IsActive()
	if !(active || queued) || r.repair == nil {
		return false
	}
	paid, err := r.repair.Drive(ctx, q)
	if err != nil {
		log.Warn("inline repair aborted", "error", err)
		return false
	}
	return paid
}

func (r *StatusResolver) escalate(ctx context.Context, op *domain.Operation, log *slog.Logger) {
	if r.cfg.EscalateAfter <= 0 || op == nil || op.RequeueCount < r.cfg.EscalateAfter {
		return
	}
	log.Error("fulfillment repeatedly re-armed without progress",
		"operation_id", op.ID, "dedupe_key", op.DedupeKey, "requeue_count", op.RequeueCount)
	if r.outbox == nil {
		return
	}
	if err := r.outbox.Insert(ctx, r.db, domain.NewRepairEscalatedEvent(op)); err != nil {
		log.Warn("write escalation event failed", "error", err)
	}
}

func (r *StatusResolver) findSummary(ctx context.Context, q domain.StatusQuery) (*domain.SaleSummary, error) {
	if q.PurchaseID != "" {
		s, err := r.sales.FindSummaryByPurchase(ctx, r.db, q.PurchaseID)
		if err != nil || s != nil {
			return s, err
		}
	}
	if q.PaymentIntentID != "" {
		return r.sales.FindSummaryByIntent(ctx, r.db, q.PaymentIntentID)
	}
	return nil, nil
}

func (r *StatusResolver) findEvent(ctx context.Context, q domain.StatusQuery) (*domain.PaymentEvent, error) {
	if q.PurchaseID != "" {
		ev, err := r.events.FindByPurchase(ctx, r.db, q.PurchaseID)
		if err != nil || ev != nil {
			return ev, err
		}
	}
	if q.PaymentIntentID != "" {
		return r.events.FindByIntent(ctx, r.db, q.PaymentIntentID)
	}
	return nil, nil
}

func (r *StatusResolver) cached(ctx context.Context, purchaseID string) *domain.CheckoutStatus {
	if r.cache == nil || purchaseID == "" {
		return nil
	}
	st, err := projection.GetFinalStatus(ctx, r.cache, purchaseID)
	if err != nil {
		if !errors.Is(err, projection.ErrNotFound) {
			r.logger.Warn("status cache read failed", "purchase_id", purchaseID, "error", err)
		}
		return nil
	}
	return st
}

func (r *StatusResolver) store(ctx context.Context, st *domain.CheckoutStatus) {
	if r.cache == nil {
		return
	}
	if err := projection.PutFinalStatus(ctx, r.cache, st, r.cfg.CacheTTL); err != nil {
		r.logger.Warn("status cache write failed", "purchase_id", st.PurchaseID, "error", err)
	}
}

func paidStatus(q domain.StatusQuery) *domain.CheckoutStatus {
	return &domain.CheckoutStatus{
		Status:          domain.CheckoutPaid,
		Final:           true,
		NextAction:      domain.ActionNone,
		PurchaseID:      q.PurchaseID,
		PaymentIntentID: q.PaymentIntentID,
	}
}

// statusFromOperation maps the queue state. A succeeded operation is not proof of payment.
func statusFromOperation(op *domain.Operation) *domain.CheckoutStatus {
	if op.Status.IsFailed() {
		return &domain.CheckoutStatus{
			Status:       domain.CheckoutFailed,
			Final:        true,
			NextAction:   domain.ActionContactSupport,
			ErrorMessage: "Payment could not be fulfilled",
		}
	}
	return &domain.CheckoutStatus{Status: domain.CheckoutProcessing, NextAction: domain.ActionPoll}
}

// statusFromTelemetry maps telemetry conservatively. OK is never PAID.
func statusFromTelemetry(ev *domain.PaymentEvent) *domain.CheckoutStatus {
	switch ev.Status {
	case domain.TelemetryRequiresAction:
		return &domain.CheckoutStatus{Status: domain.CheckoutRequiresAction, NextAction: domain.ActionConfirmPayment}
	case domain.TelemetryFailed:
		msg := "Payment failed"
		if ev.ErrorMessage != nil && *ev.ErrorMessage != "" {
			msg = *ev.ErrorMessage
		}
		return &domain.CheckoutStatus{
			Status:       domain.CheckoutFailed,
			Final:        true,
			NextAction:   domain.ActionStartNewPurchase,
			ErrorMessage: msg,
		}
	case domain.TelemetryRefunded:
		return &domain.CheckoutStatus{Status: domain.CheckoutRefunded, Final: true, NextAction: domain.ActionNone}
	case domain.TelemetryDisputed:
		return &domain.CheckoutStatus{Status: domain.CheckoutDisputed, Final: true, NextAction: domain.ActionContactSupport}
	case domain.TelemetryError:
		return &domain.CheckoutStatus{Status: domain.CheckoutProcessing, Retryable: true, NextAction: domain.ActionPoll}
	}
	return &domain.CheckoutStatus{Status: domain.CheckoutProcessing, NextAction: domain.ActionPoll}
}

func telemetrySettled(s domain.TelemetryStatus) bool {
	switch s {
	case domain.TelemetryFailed, domain.TelemetryRefunded, domain.TelemetryDisputed:
		return true
	}
	return false
}

func fillFromSummary(q *domain.StatusQuery, s *domain.SaleSummary) {
	if q.PurchaseID == "" {
		q.PurchaseID = s.PurchaseID
	}
	if q.PaymentIntentID == "" && s.PaymentIntentID != nil {
		q.PaymentIntentID = *s.PaymentIntentID
	}
}

func fillFromOperation(q *domain.StatusQuery, op *domain.Operation) {
	if op == nil {
		return
	}
	if q.PurchaseID == "" && op.PurchaseID != nil {
		q.PurchaseID = *op.PurchaseID
	}
	if q.PaymentIntentID == "" {
		q.PaymentIntentID = op.IntentID()
	}
}

func fillFromEvent(q *domain.StatusQuery, ev *domain.PaymentEvent) {
	if ev == nil {
		return
	}
	if q.PurchaseID == "" {
		q.PurchaseID = ev.PurchaseID
	}
	if q.PaymentIntentID == "" {
		q.PaymentIntentID = ev.IntentID()
	}
}
