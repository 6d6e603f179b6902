package projection

import (
	"context"
	"time"

	"github.com/attaboy/checkout/internal/domain"
)

// StatusKey is the cache key of a purchase's final checkout status.
func StatusKey(purchaseID string) string {
	return "checkout:status:" + purchaseID
}

// PutFinalStatus caches a PAID status. Other states are not cached because
// only sale existence is monotonic; they are ignored.
func PutFinalStatus(ctx context.Context, store Store, st *domain.CheckoutStatus, ttl time.Duration) error {
	if st == nil || st.Status != domain.CheckoutPaid || st.PurchaseID == "" {
		return nil
	}
	return SetJSON(ctx, store, StatusKey(st.PurchaseID), st, ttl)
}

// GetFinalStatus returns a cached status, or ErrNotFound.
func GetFinalStatus(ctx context.Context, store Store, purchaseID string) (*domain.CheckoutStatus, error) {
	var st domain.CheckoutStatus
	if err := GetJSON(ctx, store, StatusKey(purchaseID), &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// InvalidateStatus drops a cached status, used when a refund or dispute lands.
func InvalidateStatus(ctx context.Context, store Store, purchaseID string) error {
	return store.Delete(ctx, StatusKey(purchaseID))
}
