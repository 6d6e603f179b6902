package provider

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"sync"

	"github.com/attaboy/checkout/internal/domain"
	"github.com/google/uuid"
)

// ErrIntentNotFound is returned by MemoryGateway for unknown ids.
var ErrIntentNotFound = errors.New("payment intent not found")

// MemoryGateway is an in-process Gateway for local development and tests.
// It honours idempotency keys the same way the real processor does.
type MemoryGateway struct {
	mu          sync.Mutex
	intents     map[string]*domain.Intent
	byKey       map[string]keyedRequest
	retrieveErr error
	createErr   error

	CreateCalls   int
	RetrieveCalls int
}

type keyedRequest struct {
	intentID    string
	amountCents int64
	currency    string
}

// NewMemoryGateway creates an empty in-memory gateway.
func NewMemoryGateway() *MemoryGateway {
	return &MemoryGateway{
		intents: make(map[string]*domain.Intent),
		byKey:   make(map[string]keyedRequest),
	}
}

func (g *MemoryGateway) CreateIntent(_ context.Context, p CreateIntentParams) (*domain.Intent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.CreateCalls++
	if g.createErr != nil {
		return nil, g.createErr
	}

	currency := strings.ToUpper(p.Currency)
	if prev, ok := g.byKey[p.IdempotencyKey]; ok && p.IdempotencyKey != "" {
		if prev.amountCents != p.AmountCents || prev.currency != currency {
			return nil, fmt.Errorf("create payment intent: %w: key %s reused with different parameters",
				ErrIdempotencyConflict, p.IdempotencyKey)
		}
		return cloneIntent(g.intents[prev.intentID]), nil
	}

	intent := &domain.Intent{
		ID:          "pi_" + strings.ReplaceAll(uuid.NewString(), "-", ""),
		Status:      domain.IntentRequiresPaymentMethod,
		AmountCents: p.AmountCents,
		Currency:    currency,
		Metadata:    maps.Clone(p.Metadata),
	}
	intent.ClientSecret = intent.ID + "_secret_" + uuid.NewString()[:8]
	g.intents[intent.ID] = intent
	if p.IdempotencyKey != "" {
		g.byKey[p.IdempotencyKey] = keyedRequest{intentID: intent.ID, amountCents: p.AmountCents, currency: currency}
	}
	return cloneIntent(intent), nil
}

func (g *MemoryGateway) RetrieveIntent(_ context.Context, id string) (*domain.Intent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.RetrieveCalls++
	if g.retrieveErr != nil {
		return nil, g.retrieveErr
	}
	intent, ok := g.intents[id]
	if !ok {
		return nil, fmt.Errorf("retrieve payment intent %s: %w", id, ErrIntentNotFound)
	}
	return cloneIntent(intent), nil
}

// Put stores or replaces an intent.
func (g *MemoryGateway) Put(intent *domain.Intent) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.intents[intent.ID] = cloneIntent(intent)
}

// SetStatus moves an intent to status, marking the amount received on success.
func (g *MemoryGateway) SetStatus(id string, status domain.IntentStatus) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	intent, ok := g.intents[id]
	if !ok {
		return ErrIntentNotFound
	}
	intent.Status = status
	if status == domain.IntentSucceeded {
		intent.AmountReceivedCents = intent.AmountCents
	}
	return nil
}

// FailRetrieve makes subsequent RetrieveIntent calls return err. Pass nil to clear.
func (g *MemoryGateway) FailRetrieve(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.retrieveErr = err
}

// FailCreate makes subsequent CreateIntent calls return err. Pass nil to clear.
func (g *MemoryGateway) FailCreate(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.createErr = err
}

func cloneIntent(in *domain.Intent) *domain.Intent {
	if in == nil {
		return nil
	}
	out := *in
	out.Metadata = maps.Clone(in.Metadata)
	return &out
}
