package projection

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/attaboy/checkout/internal/domain"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- InMemoryStore Tests ---

func TestInMemoryStore_SetAndGet(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	err := store.Set(ctx, "k1", []byte("hello"), 0)
	require.NoError(t, err)

	val, err := store.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), val)
}

func TestInMemoryStore_KeyNotFound(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	_, err := store.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestInMemoryStore_Delete(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	_ = store.Set(ctx, "k1", []byte("data"), 0)
	_ = store.Delete(ctx, "k1")

	_, err := store.Get(ctx, "k1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestInMemoryStore_TTLExpiry(t *testing.T) {
	now := time.Now()
	store := NewInMemoryStore()
	store.now = func() time.Time { return now }
	ctx := context.Background()

	_ = store.Set(ctx, "k1", []byte("data"), time.Minute)
	now = now.Add(2 * time.Minute)

	_, err := store.Get(ctx, "k1")
	assert.ErrorIs(t, err, ErrNotFound)
}

// --- Status Projection Tests ---

func TestFinalStatus_RoundTrip(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	st := &domain.CheckoutStatus{
		Status:          domain.CheckoutPaid,
		Final:           true,
		NextAction:      domain.ActionNone,
		PurchaseID:      "purchase-1",
		PaymentIntentID: "pi_1",
	}
	require.NoError(t, PutFinalStatus(ctx, store, st, time.Hour))

	got, err := GetFinalStatus(ctx, store, "purchase-1")
	require.NoError(t, err)
	assert.Equal(t, *st, *got)
}

func TestFinalStatus_OnlyPaidIsCached(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	for _, s := range []domain.CheckoutState{domain.CheckoutPending, domain.CheckoutProcessing, domain.CheckoutFailed} {
		require.NoError(t, PutFinalStatus(ctx, store, &domain.CheckoutStatus{Status: s, PurchaseID: "p"}, time.Hour))
	}
	_, err := GetFinalStatus(ctx, store, "p")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFinalStatus_Invalidate(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	_ = PutFinalStatus(ctx, store, &domain.CheckoutStatus{Status: domain.CheckoutPaid, PurchaseID: "p"}, 0)
	_ = InvalidateStatus(ctx, store, "p")

	_, err := GetFinalStatus(ctx, store, "p")
	assert.ErrorIs(t, err, ErrNotFound)
}

// --- RedisStore Tests ---

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	defer rdb.Close()
	store := NewRedisStore(rdb)
	ctx := context.Background()
	key := StatusKey("redis-test-" + time.Now().Format("150405.000"))

	require.NoError(t, store.Set(ctx, key, []byte("v"), time.Minute))
	got, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)

	require.NoError(t, store.Delete(ctx, key))
	_, err = store.Get(ctx, key)
	assert.ErrorIs(t, err, ErrNotFound)
}
