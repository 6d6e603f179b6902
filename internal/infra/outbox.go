package infra

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/attaboy/checkout/internal/domain"
	"github.com/attaboy/checkout/internal/repository"
)

// Publisher delivers one message to a broker.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

// OutboxConfig tunes the relay loop.
type OutboxConfig struct {
	Interval  time.Duration
	BatchSize int
	// MaxAttempts parks an event after this many failed deliveries. Zero retries forever.
	MaxAttempts int
}

// OutboxPoller relays event_outbox rows to Kafka, one topic per event type.
type OutboxPoller struct {
	db       repository.DBTX
	outbox   repository.OutboxRepository
	producer Publisher
	logger   *slog.Logger
	cfg      OutboxConfig
}

// NewOutboxPoller creates a new outbox poller.
func NewOutboxPoller(db repository.DBTX, outbox repository.OutboxRepository, producer Publisher, cfg OutboxConfig, logger *slog.Logger) *OutboxPoller {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &OutboxPoller{
		db:       db,
		outbox:   outbox,
		producer: producer,
		logger:   logger,
		cfg:      cfg,
	}
}

// Run polls until ctx is cancelled. A full batch triggers the next poll immediately.
func (p *OutboxPoller) Run(ctx context.Context) {
	p.logger.Info("outbox poller started",
		"interval", p.cfg.Interval, "batch_size", p.cfg.BatchSize, "max_attempts", p.cfg.MaxAttempts)

	timer := time.NewTimer(p.cfg.Interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("outbox poller stopped")
			return
		case <-timer.C:
			n, err := p.Poll(ctx)
			if err != nil {
				p.logger.Error("outbox poll error", "error", err)
			}
			next := p.cfg.Interval
			if n == p.cfg.BatchSize {
				next = 0
			}
			timer.Reset(next)
		}
	}
}

// Poll publishes one batch and returns how many events were delivered.
// Events that fail to publish stay in the outbox with their attempt count bumped.
func (p *OutboxPoller) Poll(ctx context.Context) (int, error) {
	events, err := p.outbox.FetchUnpublished(ctx, p.db, p.cfg.BatchSize, p.cfg.MaxAttempts)
	if err != nil {
		return 0, err
	}
	if len(events) == 0 {
		return 0, nil
	}

	published := make([]int64, 0, len(events))
	for _, e := range events {
		msg, err := eventMessage(e)
		if err == nil {
			err = p.producer.Publish(ctx, msg)
		}
		if err != nil {
			p.fail(ctx, e, err)
			continue
		}
		published = append(published, e.SeqID)
	}

	if len(published) > 0 {
		if err := p.outbox.MarkPublished(ctx, p.db, published); err != nil {
			return 0, err
		}
	}

	p.logger.Debug("outbox poll complete", "published", len(published), "fetched", len(events))
	return len(published), nil
}

func (p *OutboxPoller) fail(ctx context.Context, e domain.OutboxDraft, cause error) {
	attempt := e.Attempts + 1
	log := p.logger.With("event_id", e.EventID, "event_type", e.EventType, "attempt", attempt, "error", cause)
	if p.cfg.MaxAttempts > 0 && attempt >= p.cfg.MaxAttempts {
		log.Error("outbox event parked after repeated failures")
	} else {
		log.Warn("outbox publish failed")
	}
	if err := p.outbox.RecordFailure(ctx, p.db, e.SeqID, cause.Error()); err != nil {
		p.logger.Error("record outbox failure", "event_id", e.EventID, "error", err)
	}
}

func eventMessage(e domain.OutboxDraft) (Message, error) {
	value, err := json.Marshal(e)
	if err != nil {
		return Message{}, err
	}
	return Message{
		Topic: string(e.EventType),
		Key:   []byte(e.PartitionKey),
		Value: value,
		Headers: map[string]string{
			"event_id":       e.EventID.String(),
			"event_type":     string(e.EventType),
			"aggregate_type": string(e.AggregateType),
			"aggregate_id":   e.AggregateID,
		},
	}, nil
}
