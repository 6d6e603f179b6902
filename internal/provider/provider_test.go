package provider

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/attaboy/checkout/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- MemoryGateway Tests ---

func TestMemoryGateway_SameKeyReturnsSameIntent(t *testing.T) {
	g := NewMemoryGateway()
	ctx := context.Background()
	params := CreateIntentParams{AmountCents: 1000, Currency: "eur", IdempotencyKey: "checkout:p1"}

	first, err := g.CreateIntent(ctx, params)
	require.NoError(t, err)
	second, err := g.CreateIntent(ctx, params)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "EUR", first.Currency)
	assert.Equal(t, domain.IntentRequiresPaymentMethod, first.Status)
}

func TestMemoryGateway_KeyReuseWithDifferentAmount(t *testing.T) {
	g := NewMemoryGateway()
	ctx := context.Background()

	_, err := g.CreateIntent(ctx, CreateIntentParams{AmountCents: 1000, Currency: "EUR", IdempotencyKey: "k"})
	require.NoError(t, err)
	_, err = g.CreateIntent(ctx, CreateIntentParams{AmountCents: 2000, Currency: "EUR", IdempotencyKey: "k"})
	assert.ErrorIs(t, err, ErrIdempotencyConflict)
}

func TestMemoryGateway_RetrieveAndStatus(t *testing.T) {
	g := NewMemoryGateway()
	ctx := context.Background()

	created, err := g.CreateIntent(ctx, CreateIntentParams{AmountCents: 500, Currency: "EUR"})
	require.NoError(t, err)
	require.NoError(t, g.SetStatus(created.ID, domain.IntentSucceeded))

	got, err := g.RetrieveIntent(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.IntentSucceeded, got.Status)
	assert.Equal(t, int64(500), got.AmountReceivedCents)

	_, err = g.RetrieveIntent(ctx, "pi_missing")
	assert.ErrorIs(t, err, ErrIntentNotFound)

	g.FailRetrieve(errors.New("down"))
	_, err = g.RetrieveIntent(ctx, created.ID)
	assert.Error(t, err)
	assert.Equal(t, 3, g.RetrieveCalls)
}

// --- WorkerClient Tests ---

func TestWorkerClient_RunPass(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Run("posts with secret", func(t *testing.T) {
		var gotSecret, gotMethod string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotSecret = r.Header.Get("X-Worker-Secret")
			gotMethod = r.Method
			w.WriteHeader(http.StatusOK)
		}))
		defer srv.Close()

		c := NewWorkerClient(srv.URL, "s3cret", time.Second, logger)
		require.NoError(t, c.RunPass(context.Background()))
		assert.Equal(t, "s3cret", gotSecret)
		assert.Equal(t, http.MethodPost, gotMethod)
	})

	t.Run("non-2xx is an error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer srv.Close()

		c := NewWorkerClient(srv.URL, "", time.Second, logger)
		err := c.RunPass(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "502")
	})

	t.Run("disabled is a no-op", func(t *testing.T) {
		c := NewWorkerClient("", "", time.Second, logger)
		assert.NoError(t, c.RunPass(context.Background()))
	})
}
