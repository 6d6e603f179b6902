package service

import (
	"context"
	"fmt"
	"time"

	"github.com/attaboy/checkout/internal/domain"
	"github.com/attaboy/checkout/internal/guard"
	"github.com/attaboy/checkout/internal/repository"
)

// WorkerRunner triggers one batch pass of the external operations worker.
type WorkerRunner interface {
	RunPass(ctx context.Context) error
}

// RepairTrigger drives pending fulfillment work until a sale appears.
// paid reports whether a SaleSummary exists when Drive returns.
type RepairTrigger interface {
	Drive(ctx context.Context, q domain.StatusQuery) (paid bool, err error)
}

// RepairConfig bounds an inline repair.
type RepairConfig struct {
	MaxPasses  int
	Timeout    time.Duration
	BreakerKey string
}

// InlineRepair runs worker passes synchronously on the status read path.
type InlineRepair struct {
	db      repository.DBTX
	sales   repository.SaleRepository
	worker  WorkerRunner
	breaker *guard.CircuitBreaker
	cfg     RepairConfig
}

// NewInlineRepair creates an InlineRepair. breaker may be nil.
func NewInlineRepair(db repository.DBTX, sales repository.SaleRepository, worker WorkerRunner, breaker *guard.CircuitBreaker, cfg RepairConfig) *InlineRepair {
	if cfg.MaxPasses <= 0 {
		cfg.MaxPasses = 3
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	if cfg.BreakerKey == "" {
		cfg.BreakerKey = "worker"
	}
	return &InlineRepair{db: db, sales: sales, worker: worker, breaker: breaker, cfg: cfg}
}

// Drive runs up to MaxPasses worker passes within Timeout, checking for the
// sale after each one. The first worker failure aborts the loop.
func (r *InlineRepair) Drive(ctx context.Context, q domain.StatusQuery) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	for pass := 1; pass <= r.cfg.MaxPasses; pass++ {
		if err := r.runPass(ctx); err != nil {
			return false, fmt.Errorf("repair pass %d: %w", pass, err)
		}
		summary, err := r.findSummary(ctx, q)
		if err != nil {
			return false, fmt.Errorf("repair pass %d: %w", pass, err)
		}
		if summary != nil {
			return true, nil
		}
	}
	return false, nil
}

func (r *InlineRepair) runPass(ctx context.Context) error {
	if r.breaker == nil {
		return r.worker.RunPass(ctx)
	}
	return r.breaker.Do(ctx, r.cfg.BreakerKey, r.worker.RunPass)
}

func (r *InlineRepair) findSummary(ctx context.Context, q domain.StatusQuery) (*domain.SaleSummary, error) {
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
