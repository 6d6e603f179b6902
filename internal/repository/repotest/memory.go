// Package repotest provides in-memory repository implementations for unit tests.
// They ignore the DBTX argument and share one Store, so a TxRunner from the same
// Store gives transactional callers a consistent view.
package repotest

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/attaboy/checkout/internal/domain"
	"github.com/attaboy/checkout/internal/repository"
	"github.com/google/uuid"
)

// Store is the shared state behind every fake repository.
type Store struct {
	mu sync.Mutex

	Payments      map[string]*domain.Payment
	PaymentEvents map[string]*domain.PaymentEvent // by dedupe key
	Summaries     map[string]*domain.SaleSummary  // by purchase id
	Lines         map[uuid.UUID][]domain.SaleLine // by summary id
	Entitlements  map[domain.EntitlementKey]*domain.Entitlement
	Fulfillments  map[string]*domain.IssuedFulfillment
	Events        map[string]*domain.Event
	Operations    map[string]*domain.Operation // by dedupe key
	Outbox        []domain.OutboxDraft

	// Now stamps created/updated times. Defaults to time.Now.
	Now func() time.Time

	// FailTx makes the next InTx return this error after running fn, discarding its writes.
	FailTx error

	seq int64
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		Payments:      make(map[string]*domain.Payment),
		PaymentEvents: make(map[string]*domain.PaymentEvent),
		Summaries:     make(map[string]*domain.SaleSummary),
		Lines:         make(map[uuid.UUID][]domain.SaleLine),
		Entitlements:  make(map[domain.EntitlementKey]*domain.Entitlement),
		Fulfillments:  make(map[string]*domain.IssuedFulfillment),
		Events:        make(map[string]*domain.Event),
		Operations:    make(map[string]*domain.Operation),
		Now:           time.Now,
	}
}

// Repos bundles every fake repository over one store.
type Repos struct {
	Payments      repository.PaymentRepository
	PaymentEvents repository.PaymentEventRepository
	Sales         repository.SaleRepository
	Entitlements  repository.EntitlementRepository
	Fulfillments  repository.FulfillmentRepository
	Catalog       repository.CatalogRepository
	Operations    repository.OperationRepository
	Outbox        repository.OutboxRepository
	Tx            repository.TxRunner
}

// Repos returns fake repositories backed by the store.
func (s *Store) Repos() Repos {
	return Repos{
		Payments:      paymentRepo{s},
		PaymentEvents: paymentEventRepo{s},
		Sales:         saleRepo{s},
		Entitlements:  entitlementRepo{s},
		Fulfillments:  fulfillmentRepo{s},
		Catalog:       catalogRepo{s},
		Operations:    operationRepo{s},
		Outbox:        outboxRepo{s},
		Tx:            txRunner{s},
	}
}

// AddEvent seeds an event and its ticket types.
func (s *Store) AddEvent(ev domain.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := ev
	cp.TicketTypes = append([]domain.TicketType(nil), ev.TicketTypes...)
	s.Events[ev.ID] = &cp
}

// Sold returns the sold counter of a ticket type.
func (s *Store) Sold(eventID, ticketTypeID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.Events[eventID]
	if !ok {
		return 0
	}
	tt, _ := ev.TicketType(ticketTypeID)
	return tt.SoldQuantity
}

// EntitlementCount returns the number of entitlements for a purchase.
func (s *Store) EntitlementCount(purchaseID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k := range s.Entitlements {
		if k.PurchaseID == purchaseID {
			n++
		}
	}
	return n
}

// OperationsOfType returns all operations of opType.
func (s *Store) OperationsOfType(opType domain.OperationType) []domain.Operation {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Operation
	for _, op := range s.Operations {
		if op.Type == opType {
			out = append(out, *op)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DedupeKey < out[j].DedupeKey })
	return out
}

// SetOperation overwrites an operation row, keyed by its dedupe key.
func (s *Store) SetOperation(op domain.Operation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if op.ID == uuid.Nil {
		op.ID = uuid.New()
	}
	s.Operations[op.DedupeKey] = &op
}

// ErrTxFailed is a convenience error for FailTx.
var ErrTxFailed = errors.New("repotest: transaction failed")

// --- tx ---

type txRunner struct{ s *Store }

// InTx snapshots the store and restores it when fn fails, emulating rollback.
func (r txRunner) InTx(ctx context.Context, fn func(tx repository.DBTX) error) error {
	snap := r.s.snapshot()
	err := fn(nil)
	r.s.mu.Lock()
	if err == nil && r.s.FailTx != nil {
		err = r.s.FailTx
		r.s.FailTx = nil
	}
	r.s.mu.Unlock()
	if err != nil {
		r.s.restore(snap)
		return err
	}
	return nil
}

type snapshot struct {
	payments      map[string]domain.Payment
	paymentEvents map[string]domain.PaymentEvent
	summaries     map[string]domain.SaleSummary
	lines         map[uuid.UUID][]domain.SaleLine
	entitlements  map[domain.EntitlementKey]domain.Entitlement
	fulfillments  map[string]domain.IssuedFulfillment
	events        map[string]domain.Event
	operations    map[string]domain.Operation
	outbox        []domain.OutboxDraft
}

func (s *Store) snapshot() snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := snapshot{
		payments:      make(map[string]domain.Payment, len(s.Payments)),
		paymentEvents: make(map[string]domain.PaymentEvent, len(s.PaymentEvents)),
		summaries:     make(map[string]domain.SaleSummary, len(s.Summaries)),
		lines:         make(map[uuid.UUID][]domain.SaleLine, len(s.Lines)),
		entitlements:  make(map[domain.EntitlementKey]domain.Entitlement, len(s.Entitlements)),
		fulfillments:  make(map[string]domain.IssuedFulfillment, len(s.Fulfillments)),
		events:        make(map[string]domain.Event, len(s.Events)),
		operations:    make(map[string]domain.Operation, len(s.Operations)),
		outbox:        append([]domain.OutboxDraft(nil), s.Outbox...),
	}
	for k, v := range s.Payments {
		snap.payments[k] = *v
	}
	for k, v := range s.PaymentEvents {
		snap.paymentEvents[k] = *v
	}
	for k, v := range s.Summaries {
		snap.summaries[k] = *v
	}
	for k, v := range s.Lines {
		snap.lines[k] = append([]domain.SaleLine(nil), v...)
	}
	for k, v := range s.Entitlements {
		snap.entitlements[k] = *v
	}
	for k, v := range s.Fulfillments {
		snap.fulfillments[k] = *v
	}
	for k, v := range s.Events {
		cp := *v
		cp.TicketTypes = append([]domain.TicketType(nil), v.TicketTypes...)
		snap.events[k] = cp
	}
	for k, v := range s.Operations {
		snap.operations[k] = *v
	}
	return snap
}

func (s *Store) restore(snap snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Payments = make(map[string]*domain.Payment, len(snap.payments))
	for k, v := range snap.payments {
		v := v
		s.Payments[k] = &v
	}
	s.PaymentEvents = make(map[string]*domain.PaymentEvent, len(snap.paymentEvents))
	for k, v := range snap.paymentEvents {
		v := v
		s.PaymentEvents[k] = &v
	}
	s.Summaries = make(map[string]*domain.SaleSummary, len(snap.summaries))
	for k, v := range snap.summaries {
		v := v
		s.Summaries[k] = &v
	}
	s.Lines = snap.lines
	s.Entitlements = make(map[domain.EntitlementKey]*domain.Entitlement, len(snap.entitlements))
	for k, v := range snap.entitlements {
		v := v
		s.Entitlements[k] = &v
	}
	s.Fulfillments = make(map[string]*domain.IssuedFulfillment, len(snap.fulfillments))
	for k, v := range snap.fulfillments {
		v := v
		s.Fulfillments[k] = &v
	}
	s.Events = make(map[string]*domain.Event, len(snap.events))
	for k, v := range snap.events {
		v := v
		s.Events[k] = &v
	}
	s.Operations = make(map[string]*domain.Operation, len(snap.operations))
	for k, v := range snap.operations {
		v := v
		s.Operations[k] = &v
	}
	s.Outbox = snap.outbox
}

// --- payments ---

type paymentRepo struct{ s *Store }

func (r paymentRepo) InsertOrFetch(_ context.Context, _ repository.DBTX, p *domain.Payment) (*domain.Payment, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if existing, ok := r.s.Payments[p.ID]; ok {
		cp := *existing
		return &cp, false, nil
	}
	cp := *p
	if cp.Status == "" {
		cp.Status = domain.PaymentCreated
	}
	if cp.Metadata == nil {
		cp.Metadata = json.RawMessage(`{}`)
	}
	cp.CreatedAt = r.s.Now()
	cp.UpdatedAt = cp.CreatedAt
	r.s.Payments[p.ID] = &cp
	out := cp
	return &out, true, nil
}

func (r paymentRepo) FindByID(_ context.Context, _ repository.DBTX, id string) (*domain.Payment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if p, ok := r.s.Payments[id]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, nil
}

func (r paymentRepo) MarkRequiresAction(_ context.Context, _ repository.DBTX, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if p, ok := r.s.Payments[id]; ok && p.Status.IsEarly() {
		p.Status = domain.PaymentRequiresAction
		p.UpdatedAt = r.s.Now()
	}
	return nil
}

func (r paymentRepo) MarkPaid(_ context.Context, _ repository.DBTX, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if p, ok := r.s.Payments[id]; ok {
		p.Status = domain.PaymentPaid
		p.UpdatedAt = r.s.Now()
	}
	return nil
}

// --- payment events ---

type paymentEventRepo struct{ s *Store }

func (r paymentEventRepo) FindByPurchase(_ context.Context, _ repository.DBTX, purchaseID string) (*domain.PaymentEvent, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, ev := range r.s.PaymentEvents {
		if ev.PurchaseID == purchaseID {
			cp := *ev
			return &cp, nil
		}
	}
	return nil, nil
}

func (r paymentEventRepo) FindByIntent(_ context.Context, _ repository.DBTX, intentID string) (*domain.PaymentEvent, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var best *domain.PaymentEvent
	for _, ev := range r.s.PaymentEvents {
		if ev.IntentID() == intentID && (best == nil || ev.UpdatedAt.After(best.UpdatedAt)) {
			best = ev
		}
	}
	if best == nil {
		return nil, nil
	}
	cp := *best
	return &cp, nil
}

func (r paymentEventRepo) InsertOrFetch(_ context.Context, _ repository.DBTX, ev *domain.PaymentEvent) (*domain.PaymentEvent, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if existing, ok := r.s.PaymentEvents[ev.DedupeKey]; ok {
		cp := *existing
		return &cp, false, nil
	}
	for _, existing := range r.s.PaymentEvents {
		if existing.PurchaseID == ev.PurchaseID {
			cp := *existing
			return &cp, false, nil
		}
	}
	cp := *ev
	if cp.ID == uuid.Nil {
		cp.ID = uuid.New()
	}
	if cp.Source == "" {
		cp.Source = domain.SourceAPI
	}
	if cp.Mode == "" {
		cp.Mode = domain.ModeTest
	}
	cp.CreatedAt = r.s.Now()
	cp.UpdatedAt = cp.CreatedAt
	r.s.PaymentEvents[cp.DedupeKey] = &cp
	out := cp
	return &out, true, nil
}

func (r paymentEventRepo) Apply(_ context.Context, _ repository.DBTX, dedupeKey string, u domain.TelemetryUpdate) (*domain.PaymentEvent, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	ev, ok := r.s.PaymentEvents[dedupeKey]
	if !ok {
		return nil, domain.ErrNotFound("payment event", dedupeKey)
	}
	if u.PaymentIntentID != "" {
		ev.PaymentIntentID = &u.PaymentIntentID
	}
	if u.Status != "" {
		ev.Status = u.Status
	}
	if u.AmountCents != nil {
		amt := *u.AmountCents
		ev.AmountCents = &amt
	}
	if u.Source != "" {
		ev.Source = u.Source
	}
	if u.Mode != "" {
		ev.Mode = u.Mode
	}
	if u.GatewayEventID != "" {
		ev.GatewayEventID = &u.GatewayEventID
	}
	if u.ErrorMessage != "" {
		msg := u.ErrorMessage
		ev.ErrorMessage = &msg
	} else {
		ev.ErrorMessage = nil
	}
	if u.IncrementAttempt {
		ev.Attempt++
	}
	ev.UpdatedAt = r.s.Now()
	cp := *ev
	return &cp, nil
}

// --- sales ---

type saleRepo struct{ s *Store }

func (r saleRepo) FindSummaryByPurchase(_ context.Context, _ repository.DBTX, purchaseID string) (*domain.SaleSummary, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if sum, ok := r.s.Summaries[purchaseID]; ok {
		cp := *sum
		return &cp, nil
	}
	return nil, nil
}

func (r saleRepo) FindSummaryByIntent(_ context.Context, _ repository.DBTX, intentID string) (*domain.SaleSummary, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, sum := range r.s.Summaries {
		if sum.PaymentIntentID != nil && *sum.PaymentIntentID == intentID {
			cp := *sum
			return &cp, nil
		}
	}
	return nil, nil
}

func (r saleRepo) UpsertSummary(_ context.Context, _ repository.DBTX, s *domain.SaleSummary) (*domain.SaleSummary, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	now := r.s.Now()
	if existing, ok := r.s.Summaries[s.PurchaseID]; ok {
		if existing.PaymentIntentID == nil {
			existing.PaymentIntentID = s.PaymentIntentID
		}
		existing.SubtotalCents = s.SubtotalCents
		existing.DiscountCents = s.DiscountCents
		existing.PlatformFeeCents = s.PlatformFeeCents
		existing.CardPlatformFeeCents = s.CardPlatformFeeCents
		existing.TotalCents = s.TotalCents
		existing.FeeMode = s.FeeMode
		existing.Currency = s.Currency
		existing.UpdatedAt = now
		cp := *existing
		return &cp, false, nil
	}
	cp := *s
	if cp.ID == uuid.Nil {
		cp.ID = uuid.New()
	}
	cp.CreatedAt = now
	cp.UpdatedAt = now
	r.s.Summaries[cp.PurchaseID] = &cp
	out := cp
	return &out, true, nil
}

func (r saleRepo) ReplaceLines(_ context.Context, _ repository.DBTX, summaryID uuid.UUID, lines []domain.SaleLine) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.Lines[summaryID] = append([]domain.SaleLine(nil), lines...)
	return nil
}

func (r saleRepo) ListLines(_ context.Context, _ repository.DBTX, summaryID uuid.UUID) ([]domain.SaleLine, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return append([]domain.SaleLine(nil), r.s.Lines[summaryID]...), nil
}

// --- entitlements ---

type entitlementRepo struct{ s *Store }

func (r entitlementRepo) InsertOrFetch(_ context.Context, _ repository.DBTX, e *domain.Entitlement) (*domain.Entitlement, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	key := e.Key()
	if existing, ok := r.s.Entitlements[key]; ok {
		cp := *existing
		return &cp, false, nil
	}
	cp := *e
	if cp.ID == uuid.Nil {
		cp.ID = uuid.New()
	}
	cp.CreatedAt = r.s.Now()
	r.s.Entitlements[key] = &cp
	out := cp
	return &out, true, nil
}

func (r entitlementRepo) ListByPurchase(_ context.Context, _ repository.DBTX, purchaseID string) ([]domain.Entitlement, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.Entitlement
	for k, e := range r.s.Entitlements {
		if k.PurchaseID == purchaseID {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SaleLineID != out[j].SaleLineID {
			return out[i].SaleLineID.String() < out[j].SaleLineID.String()
		}
		return out[i].LineItemIndex < out[j].LineItemIndex
	})
	return out, nil
}

func (r entitlementRepo) UpdateStatusByPurchase(_ context.Context, _ repository.DBTX, purchaseID string, status domain.EntitlementStatus) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for k, e := range r.s.Entitlements {
		if k.PurchaseID == purchaseID {
			e.Status = status
			n++
		}
	}
	return n, nil
}

// --- fulfillments ---

type fulfillmentRepo struct{ s *Store }

func (r fulfillmentRepo) FindByIntent(_ context.Context, _ repository.DBTX, intentID string) (*domain.IssuedFulfillment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if f, ok := r.s.Fulfillments[intentID]; ok {
		cp := *f
		return &cp, nil
	}
	return nil, nil
}

func (r fulfillmentRepo) Claim(_ context.Context, _ repository.DBTX, intentID, purchaseID string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.Fulfillments[intentID]; ok {
		return false, nil
	}
	r.s.Fulfillments[intentID] = &domain.IssuedFulfillment{
		PaymentIntentID: intentID,
		PurchaseID:      purchaseID,
		IssuedAt:        r.s.Now(),
	}
	return true, nil
}

func (r fulfillmentRepo) AttachSummary(_ context.Context, _ repository.DBTX, intentID string, summaryID uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if f, ok := r.s.Fulfillments[intentID]; ok {
		id := summaryID
		f.SaleSummaryID = &id
	}
	return nil
}

// --- catalog ---

type catalogRepo struct{ s *Store }

func (r catalogRepo) FindEvent(_ context.Context, _ repository.DBTX, eventID string) (*domain.Event, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	ev, ok := r.s.Events[eventID]
	if !ok {
		return nil, nil
	}
	cp := *ev
	cp.TicketTypes = append([]domain.TicketType(nil), ev.TicketTypes...)
	return &cp, nil
}

func (r catalogRepo) IncrementSold(_ context.Context, _ repository.DBTX, ticketTypeID string, n int) error {
	if n <= 0 {
		return nil
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, ev := range r.s.Events {
		for i := range ev.TicketTypes {
			if ev.TicketTypes[i].ID == ticketTypeID {
				ev.TicketTypes[i].SoldQuantity += n
				return nil
			}
		}
	}
	return domain.ErrNotFound("ticket type", ticketTypeID)
}

// --- operations ---

type operationRepo struct{ s *Store }

func (r operationRepo) FindLatest(_ context.Context, _ repository.DBTX, opType domain.OperationType, purchaseID, intentID string) (*domain.Operation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var best *domain.Operation
	for _, op := range r.s.Operations {
		if op.Type != opType {
			continue
		}
		match := (purchaseID != "" && op.PurchaseID != nil && *op.PurchaseID == purchaseID) ||
			(intentID != "" && op.PaymentIntentID != nil && *op.PaymentIntentID == intentID)
		if match && (best == nil || op.UpdatedAt.After(best.UpdatedAt)) {
			best = op
		}
	}
	if best == nil {
		return nil, nil
	}
	cp := *best
	return &cp, nil
}

func (r operationRepo) FindByDedupeKey(_ context.Context, _ repository.DBTX, dedupeKey string) (*domain.Operation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if op, ok := r.s.Operations[dedupeKey]; ok {
		cp := *op
		return &cp, nil
	}
	return nil, nil
}

func (r operationRepo) Insert(_ context.Context, _ repository.DBTX, d domain.OperationDraft) (*domain.Operation, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if existing, ok := r.s.Operations[d.DedupeKey]; ok {
		cp := *existing
		return &cp, false, nil
	}
	op := r.newOperation(d)
	cp := *op
	return &cp, true, nil
}

func (r operationRepo) Rearm(_ context.Context, _ repository.DBTX, d domain.OperationDraft, staleBefore time.Time) (*domain.Operation, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	existing, ok := r.s.Operations[d.DedupeKey]
	if !ok {
		op := r.newOperation(d)
		cp := *op
		return &cp, true, nil
	}
	stale := existing.Status.IsActive() && existing.UpdatedAt.Before(staleBefore)
	if !existing.Status.IsFailed() && !stale {
		cp := *existing
		return &cp, false, nil
	}
	existing.Status = domain.OperationPending
	existing.Attempts = 0
	existing.LockedAt = nil
	existing.NextRetryAt = nil
	existing.RequeueCount++
	if existing.PurchaseID == nil && d.PurchaseID != "" {
		existing.PurchaseID = strPtr(d.PurchaseID)
	}
	if existing.PaymentIntentID == nil && d.PaymentIntentID != "" {
		existing.PaymentIntentID = strPtr(d.PaymentIntentID)
	}
	existing.UpdatedAt = r.s.Now()
	cp := *existing
	return &cp, true, nil
}

func (r operationRepo) newOperation(d domain.OperationDraft) *domain.Operation {
	now := r.s.Now()
	payload := d.Payload
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	op := &domain.Operation{
		ID:              uuid.New(),
		Type:            d.Type,
		DedupeKey:       d.DedupeKey,
		Status:          domain.OperationPending,
		PurchaseID:      strPtr(d.PurchaseID),
		PaymentIntentID: strPtr(d.PaymentIntentID),
		Payload:         payload,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	r.s.Operations[d.DedupeKey] = op
	return op
}

// --- outbox ---

type outboxRepo struct{ s *Store }

func (r outboxRepo) Insert(_ context.Context, _ repository.DBTX, draft domain.OutboxDraft) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.seq++
	draft.SeqID = r.s.seq
	r.s.Outbox = append(r.s.Outbox, draft)
	return nil
}

func (r outboxRepo) FetchUnpublished(_ context.Context, _ repository.DBTX, limit, maxAttempts int) ([]domain.OutboxDraft, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.OutboxDraft
	for _, d := range r.s.Outbox {
		if limit > 0 && len(out) == limit {
			break
		}
		if maxAttempts > 0 && d.Attempts >= maxAttempts {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

func (r outboxRepo) MarkPublished(_ context.Context, _ repository.DBTX, ids []int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	published := make(map[int64]bool, len(ids))
	for _, id := range ids {
		published[id] = true
	}
	kept := r.s.Outbox[:0]
	for _, d := range r.s.Outbox {
		if !published[d.SeqID] {
			kept = append(kept, d)
		}
	}
	r.s.Outbox = kept
	return nil
}

func (r outboxRepo) RecordFailure(_ context.Context, _ repository.DBTX, seqID int64, _ string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for i := range r.s.Outbox {
		if r.s.Outbox[i].SeqID == seqID {
			r.s.Outbox[i].Attempts++
		}
	}
	return nil
}

// OutboxTypes lists the event types currently in the outbox, in insertion order.
func (s *Store) OutboxTypes() []domain.EventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.EventType, 0, len(s.Outbox))
	for _, d := range s.Outbox {
		out = append(out, d.EventType)
	}
	return out
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
