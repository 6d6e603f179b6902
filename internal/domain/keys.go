package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	// MaxKeyLength is the longest idempotency or dedupe key the gateway and storage accept.
	MaxKeyLength = 255
	// MaxPurchaseIDLength leaves room for the checkout prefix and a client key.
	MaxPurchaseIDLength = 200
	// MaxClientKeyLength bounds the caller's idempotency token.
	MaxClientKeyLength = 45

	checkoutPrefix = "checkout:"
	digestLength   = 16
)

// ValidatePurchaseID rejects purchase ids that cannot form a collision-free checkout key.
func ValidatePurchaseID(id string) error {
	if len(id) > MaxPurchaseIDLength {
		return fmt.Errorf("purchaseId exceeds %d bytes", MaxPurchaseIDLength)
	}
	if !utf8.ValidString(id) {
		return fmt.Errorf("purchaseId is not valid UTF-8")
	}
	return nil
}

// ValidateClientKey bounds the caller-supplied idempotency token.
func ValidateClientKey(key string) error {
	key = strings.TrimSpace(key)
	if len(key) > MaxClientKeyLength {
		return fmt.Errorf("idempotencyKey exceeds %d bytes", MaxClientKeyLength)
	}
	if !utf8.ValidString(key) {
		return fmt.Errorf("idempotencyKey is not valid UTF-8")
	}
	return nil
}

// ClampKey bounds a key to MaxKeyLength. An overlong key keeps a rune-aligned
// prefix and ends in a digest of the full key, so distinct keys stay distinct.
func ClampKey(key string) string {
	if len(key) <= MaxKeyLength {
		return key
	}
	sum := sha256.Sum256([]byte(key))
	digest := hex.EncodeToString(sum[:])[:digestLength]

	cut := MaxKeyLength - digestLength - 1
	for cut > 0 && !utf8.RuneStart(key[cut]) {
		cut--
	}
	return key[:cut] + "#" + digest
}

// CheckoutKey is the deterministic idempotency key for a purchase.
func CheckoutKey(purchaseID string) string {
	return ClampKey(checkoutPrefix + purchaseID)
}

// GatewayIdempotencyKey combines the checkout key with an optional client token.
func GatewayIdempotencyKey(purchaseID, clientKey string) string {
	clientKey = strings.TrimSpace(clientKey)
	if clientKey == "" {
		return CheckoutKey(purchaseID)
	}
	return ClampKey(checkoutPrefix + purchaseID + ":" + clientKey)
}

// FulfillmentDedupeKey keys FULFILL_PAYMENT operations by intent, falling back to purchase.
func FulfillmentDedupeKey(purchaseID, paymentIntentID string) string {
	if paymentIntentID != "" {
		return ClampKey(paymentIntentID)
	}
	return ClampKey(purchaseID)
}

// ReceiptDedupeKey keys the receipt email per purchase and recipient.
func ReceiptDedupeKey(purchaseID, recipient string) string {
	return ClampKey(purchaseID + ":" + recipient)
}

// NotificationDedupeKey keys the purchaser notification.
func NotificationDedupeKey(purchaseID, userID string) string {
	return ClampKey(purchaseID + ":notify:" + userID)
}

// PromoDedupeKey keys the promo redemption for a purchase.
func PromoDedupeKey(purchaseID string) string {
	return ClampKey(string(OpApplyPromoRedemption) + ":" + purchaseID)
}
