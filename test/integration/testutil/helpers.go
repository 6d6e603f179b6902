//go:build integration

package testutil

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/attaboy/checkout/internal/auth"
)

// TicketTypeSeed is one ticket type created by SeedEvent.
type TicketTypeSeed struct {
	ID         string
	PriceCents int64
	Total      int
}

// SeedEvent inserts a catalog event and its ticket types.
func (env *TestEnv) SeedEvent(eventID string, types ...TicketTypeSeed) {
	env.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := env.Pool.Exec(ctx, "INSERT INTO events (id, title) VALUES ($1, $2)", eventID, "Event "+eventID); err != nil {
		env.t.Fatalf("SeedEvent: insert event: %v", err)
	}
	for _, tt := range types {
		_, err := env.Pool.Exec(ctx,
			`INSERT INTO ticket_types (id, event_id, name, price_cents, currency, total_quantity)
			 VALUES ($1, $2, $3, $4, 'EUR', $5)`,
			tt.ID, eventID, tt.ID, tt.PriceCents, tt.Total)
		if err != nil {
			env.t.Fatalf("SeedEvent: insert ticket type %s: %v", tt.ID, err)
		}
	}
}

// BuyerToken issues a buyer JWT for userID.
func (env *TestEnv) BuyerToken(userID, email string) string {
	env.t.Helper()
	token, err := env.JWTMgr.GenerateToken(auth.RealmBuyer, userID, email, "")
	if err != nil {
		env.t.Fatalf("BuyerToken: %v", err)
	}
	return token
}

// GET performs an unauthenticated GET request.
func (env *TestEnv) GET(path string) *http.Response {
	env.t.Helper()
	resp, err := http.Get(env.Server.URL + path)
	if err != nil {
		env.t.Fatalf("GET %s: %v", path, err)
	}
	return resp
}

// POST performs a POST request with optional auth token.
func (env *TestEnv) POST(path string, body interface{}, token string) *http.Response {
	env.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			env.t.Fatalf("POST %s: encode: %v", path, err)
		}
	}
	req, err := http.NewRequest(http.MethodPost, env.Server.URL+path, &buf)
	if err != nil {
		env.t.Fatalf("POST %s: new request: %v", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		env.t.Fatalf("POST %s: %v", path, err)
	}
	return resp
}

// WorkerGET performs a GET carrying the worker shared secret.
func (env *TestEnv) WorkerGET(path string) *http.Response {
	env.t.Helper()
	req, err := http.NewRequest(http.MethodGet, env.Server.URL+path, nil)
	if err != nil {
		env.t.Fatalf("WorkerGET %s: new request: %v", path, err)
	}
	req.Header.Set("X-Worker-Secret", TestWorkerSecret)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		env.t.Fatalf("WorkerGET %s: %v", path, err)
	}
	return resp
}

// PostWebhook delivers a signed Stripe event to the webhook endpoint.
func (env *TestEnv) PostWebhook(payload []byte) *http.Response {
	env.t.Helper()
	req, err := http.NewRequest(http.MethodPost, env.Server.URL+"/webhooks/stripe", bytes.NewReader(payload))
	if err != nil {
		env.t.Fatalf("PostWebhook: new request: %v", err)
	}
	req.Header.Set("Stripe-Signature", StripeWebhookSignature(payload))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		env.t.Fatalf("PostWebhook: %v", err)
	}
	return resp
}

// StripeWebhookSignature generates a valid Stripe webhook signature for testing.
func StripeWebhookSignature(payload []byte) string {
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	mac := hmac.New(sha256.New, []byte(TestStripeWebhookSecret))
	mac.Write([]byte(ts + "." + string(payload)))
	return fmt.Sprintf("t=%s,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

// StripeEvent renders a Stripe event envelope around object.
func StripeEvent(id, eventType string, object map[string]interface{}) []byte {
	payload, _ := json.Marshal(map[string]interface{}{
		"id":       id,
		"object":   "event",
		"type":     eventType,
		"livemode": false,
		"data":     map[string]interface{}{"object": object},
	})
	return payload
}
