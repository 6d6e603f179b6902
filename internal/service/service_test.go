package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/attaboy/checkout/internal/domain"
	"github.com/attaboy/checkout/internal/guard"
	"github.com/attaboy/checkout/internal/ledger"
	"github.com/attaboy/checkout/internal/projection"
	"github.com/attaboy/checkout/internal/provider"
	"github.com/attaboy/checkout/internal/repository/repotest"
)

const testBreakdown = `{
	"lines": [
		{"ticketTypeId": "tt-ga", "quantity": 3, "unitPriceCents": 1000, "platformFeeCents": 100},
		{"ticketTypeId": "tt-vip", "quantity": 1, "unitPriceCents": 5000, "platformFeeCents": 250}
	],
	"subtotalCents": 8000, "platformFeeCents": 350, "totalCents": 8350, "currency": "EUR"
}`

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeWorker counts passes and optionally runs work on each one.
type fakeWorker struct {
	mu     sync.Mutex
	passes int
	err    error
	onPass func(ctx context.Context, pass int) error
}

func (w *fakeWorker) RunPass(ctx context.Context) error {
	w.mu.Lock()
	w.passes++
	pass, err, fn := w.passes, w.err, w.onPass
	w.mu.Unlock()
	if err != nil {
		return err
	}
	if fn != nil {
		return fn(ctx, pass)
	}
	return nil
}

func (w *fakeWorker) Passes() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.passes
}

// recordingNotifier captures enqueue notifications.
type recordingNotifier struct {
	mu  sync.Mutex
	ops []domain.Operation
}

func (n *recordingNotifier) NotifyEnqueued(_ context.Context, op *domain.Operation) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.ops = append(n.ops, *op)
	return nil
}

type harness struct {
	store      *repotest.Store
	repos      repotest.Repos
	engine     *ledger.Engine
	gateway    *provider.MemoryGateway
	notifier   *recordingNotifier
	queue      *OperationQueue
	intents    *IntentManager
	fulfiller  *PaidFulfiller
	dispatcher *FulfillmentDispatcher
	worker     *fakeWorker
	breaker    *guard.CircuitBreaker
	cache      *projection.InMemoryStore
	resolver   *StatusResolver
	now        time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := testLogger()

	h := &harness{
		store:    repotest.NewStore(),
		gateway:  provider.NewMemoryGateway(),
		notifier: &recordingNotifier{},
		worker:   &fakeWorker{},
		breaker:  guard.NewCircuitBreaker(5, time.Minute),
		cache:    projection.NewInMemoryStore(),
		now:      time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	h.store.Now = func() time.Time { return h.now }
	h.store.AddEvent(domain.Event{
		ID:    "evt-1",
		Title: "Launch Night",
		TicketTypes: []domain.TicketType{
			{ID: "tt-ga", EventID: "evt-1", Name: "GA", PriceCents: 1000, Currency: "EUR", TotalQuantity: 100},
			{ID: "tt-vip", EventID: "evt-1", Name: "VIP", PriceCents: 5000, Currency: "EUR", TotalQuantity: 10},
		},
	})
	h.store.AddEvent(domain.Event{
		ID:          "evt-2",
		Title:       "Other Night",
		TicketTypes: []domain.TicketType{{ID: "tt-other", EventID: "evt-2", PriceCents: 700, Currency: "EUR"}},
	})

	r := h.store.Repos()
	h.repos = r
	h.engine = ledger.NewEngine(r.Sales, r.Entitlements, r.Fulfillments, r.Catalog, r.Payments, r.PaymentEvents, r.Outbox)
	h.queue = NewOperationQueue(nil, r.Operations, h.notifier, logger)
	h.intents = NewIntentManager(nil, h.gateway, r.Payments, r.PaymentEvents, r.Catalog, h.engine, logger)
	h.fulfiller = NewPaidFulfiller(nil, r.Tx, h.engine, r.Fulfillments, r.Catalog, h.queue, logger)
	h.dispatcher = NewFulfillmentDispatcher(h.gateway, logger)
	h.dispatcher.Register(domain.ScenarioSingle, h.fulfiller)

	repair := NewInlineRepair(nil, r.Sales, h.worker, h.breaker, RepairConfig{MaxPasses: 3, Timeout: time.Second, BreakerKey: "worker"})
	h.resolver = NewStatusResolver(nil, r.Sales, r.Operations, r.PaymentEvents, r.Outbox, h.queue, repair, h.cache,
		StatusConfig{StuckThreshold: 5 * time.Minute, CacheTTL: time.Hour, EscalateAfter: 3}, logger)
	h.resolver.now = func() time.Time { return h.now }
	return h
}

// paidIntent returns a succeeded single-purchase intent and registers it with the gateway.
func (h *harness) paidIntent(purchaseID, intentID string, extra map[string]string) *domain.Intent {
	meta := map[string]string{
		domain.MetaPurchaseID:  purchaseID,
		domain.MetaEventID:     "evt-1",
		domain.MetaBreakdown:   testBreakdown,
		domain.MetaOwnerUserID: "user-1",
		domain.MetaEmail:       "buyer@example.com",
	}
	for k, v := range extra {
		meta[k] = v
	}
	intent := &domain.Intent{
		ID:                  intentID,
		Status:              domain.IntentSucceeded,
		AmountCents:         8350,
		AmountReceivedCents: 8350,
		Currency:            "EUR",
		Metadata:            meta,
	}
	h.gateway.Put(intent)
	return intent
}
