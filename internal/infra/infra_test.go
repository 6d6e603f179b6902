package infra

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/attaboy/checkout/internal/domain"
	"github.com/attaboy/checkout/internal/repository/repotest"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// --- Config Tests ---

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 5*time.Minute, cfg.StuckThreshold)
	assert.Equal(t, 3, cfg.RepairMaxPasses)
	assert.Equal(t, 2*time.Second, cfg.RepairTimeout)
	assert.Equal(t, 3, cfg.EscalateAfter)
	assert.Equal(t, "operations.enqueued", cfg.AMQPQueue)
	assert.False(t, cfg.RedisEnabled)
	assert.Equal(t, int32(20), cfg.PGMaxConns)
	assert.Equal(t, 10, cfg.OutboxMaxAttempts)
	assert.Equal(t, 24*time.Hour, cfg.BuyerTokenExpiry())
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("CHECKOUT_STUCK_THRESHOLD", "90s")
	t.Setenv("CHECKOUT_REPAIR_MAX_PASSES", "5")
	t.Setenv("STATUS_RATE_LIMIT_RPS", "2.5")
	t.Setenv("JWT_BUYER_EXPIRY", "1h")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, cfg.StuckThreshold)
	assert.Equal(t, 5, cfg.RepairMaxPasses)
	assert.InDelta(t, 2.5, cfg.StatusRateLimitRPS, 0.001)
	assert.Equal(t, time.Hour, cfg.BuyerTokenExpiry())
}

func TestConfig_Validate(t *testing.T) {
	strong := "0123456789abcdef0123456789abcdef"
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"insecure default secret", Config{JWTSecret: "change-me-in-production", RepairMaxPasses: 3, StuckThreshold: time.Minute}, true},
		{"short secret", Config{JWTSecret: "short", RepairMaxPasses: 3, StuckThreshold: time.Minute}, true},
		{"dev bypass", Config{JWTSecret: "short", AllowInsecureDefaults: true, RepairMaxPasses: 3, StuckThreshold: time.Minute}, false},
		{"min conns above max", Config{JWTSecret: strong, RepairMaxPasses: 3, StuckThreshold: time.Minute, PGMinConns: 5, PGMaxConns: 2}, true},
		{"zero passes", Config{JWTSecret: strong, StuckThreshold: time.Minute}, true},
		{"stripe without webhook secret", Config{JWTSecret: strong, RepairMaxPasses: 3, StuckThreshold: time.Minute, StripeSecretKey: "sk_test"}, true},
		{"worker without secret", Config{JWTSecret: strong, RepairMaxPasses: 3, StuckThreshold: time.Minute, WorkerURL: "http://worker"}, true},
		{"valid", Config{JWTSecret: strong, RepairMaxPasses: 3, StuckThreshold: time.Minute}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfig_DSN(t *testing.T) {
	cfg := Config{PGUser: "u", PGPassword: "p", PGHost: "db", PGPort: 5432, PGDatabase: "checkout"}
	assert.Equal(t, "postgres://u:p@db:5432/checkout?sslmode=disable", cfg.DSN())

	cfg.DatabaseURL = "postgres://override"
	assert.Equal(t, "postgres://override", cfg.DSN())
}

// --- OutboxPoller Tests ---

type recordingPublisher struct {
	topics  []string
	keys    []string
	headers []map[string]string
	failOn  string
}

func (p *recordingPublisher) Publish(_ context.Context, msg Message) error {
	if msg.Topic == p.failOn {
		return errors.New("broker unavailable")
	}
	p.topics = append(p.topics, msg.Topic)
	p.keys = append(p.keys, string(msg.Key))
	p.headers = append(p.headers, msg.Headers)
	return nil
}

func outboxEvent(t domain.EventType, key string) domain.OutboxDraft {
	return domain.OutboxDraft{
		EventID:      uuid.New(),
		EventType:    t,
		AggregateID:  key,
		PartitionKey: key,
		Payload:      []byte(`{}`),
		Headers:      []byte(`{}`),
		OccurredAt:   time.Now(),
	}
}

func TestOutboxPoller_PublishesAndMarks(t *testing.T) {
	store := repotest.NewStore()
	r := store.Repos()
	ctx := context.Background()
	require.NoError(t, r.Outbox.Insert(ctx, nil, outboxEvent(domain.EventPurchasePaid, "purchase-1")))
	require.NoError(t, r.Outbox.Insert(ctx, nil, outboxEvent(domain.EventRepairEscalated, "pi_1")))

	pub := &recordingPublisher{}
	poller := NewOutboxPoller(nil, r.Outbox, pub, OutboxConfig{BatchSize: 10, MaxAttempts: 2}, testLogger)

	n, err := poller.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"checkout.purchase.paid", "checkout.operation.repair_escalated"}, pub.topics)
	assert.Equal(t, []string{"purchase-1", "pi_1"}, pub.keys)
	assert.Equal(t, "checkout.purchase.paid", pub.headers[0]["event_type"])
	assert.Equal(t, "purchase-1", pub.headers[0]["aggregate_id"])
	assert.Empty(t, store.Outbox)
}

func TestOutboxPoller_KeepsFailedEvents(t *testing.T) {
	store := repotest.NewStore()
	r := store.Repos()
	ctx := context.Background()
	require.NoError(t, r.Outbox.Insert(ctx, nil, outboxEvent(domain.EventPurchasePaid, "purchase-1")))
	require.NoError(t, r.Outbox.Insert(ctx, nil, outboxEvent(domain.EventEntitlementsUpdated, "purchase-1")))

	pub := &recordingPublisher{failOn: string(domain.EventEntitlementsUpdated)}
	poller := NewOutboxPoller(nil, r.Outbox, pub, OutboxConfig{BatchSize: 10, MaxAttempts: 2}, testLogger)

	n, err := poller.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []domain.EventType{domain.EventEntitlementsUpdated}, store.OutboxTypes())
	assert.Equal(t, 1, store.Outbox[0].Attempts)

	t.Run("parked after max attempts", func(t *testing.T) {
		n, err := poller.Poll(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, n)
		assert.Equal(t, 2, store.Outbox[0].Attempts)

		n, err = poller.Poll(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, n)
		assert.Equal(t, 2, store.Outbox[0].Attempts, "a parked event is no longer fetched")
	})
}

func TestKafkaProducer_DisabledIsNoop(t *testing.T) {
	p := NewKafkaProducer(" , ", true, testLogger)
	assert.False(t, p.Enabled())
	assert.NoError(t, p.Publish(context.Background(), Message{Topic: "topic", Value: []byte("x")}))
	assert.NoError(t, p.Close())
}

func TestAMQPNotifier_DisabledIsNoop(t *testing.T) {
	n := NewAMQPNotifier("amqp://localhost", "q", false, testLogger)
	assert.NoError(t, n.NotifyEnqueued(context.Background(), &domain.Operation{ID: uuid.New()}))
	assert.NoError(t, n.Close())
}
