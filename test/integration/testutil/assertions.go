//go:build integration

package testutil

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"
)

// DecodeJSON reads and decodes a JSON response body into dst.
func DecodeJSON(t *testing.T, resp *http.Response, dst interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		t.Fatalf("DecodeJSON: %v", err)
	}
}

// AssertStatus checks that the response has the expected HTTP status code.
func AssertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("expected status %d, got %d", expected, resp.StatusCode)
	}
}

// AssertErrorCode checks that the response body contains the expected error code.
func AssertErrorCode(t *testing.T, resp *http.Response, expectedCode string) {
	t.Helper()
	var errResp struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	DecodeJSON(t, resp, &errResp)
	if errResp.Code != expectedCode {
		t.Errorf("expected error code %q, got %q (message: %s)", expectedCode, errResp.Code, errResp.Message)
	}
}

// CountRows counts rows of table matching where (a SQL predicate using $1).
func CountRows(t *testing.T, env *TestEnv, table, where string, arg interface{}) int {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var n int
	if err := env.Pool.QueryRow(ctx, "SELECT count(*) FROM "+table+" WHERE "+where, arg).Scan(&n); err != nil {
		t.Fatalf("CountRows %s: %v", table, err)
	}
	return n
}

// AssertSold checks a ticket type's sold counter.
func AssertSold(t *testing.T, env *TestEnv, ticketTypeID string, expected int) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var sold int
	if err := env.Pool.QueryRow(ctx, "SELECT sold_quantity FROM ticket_types WHERE id = $1", ticketTypeID).Scan(&sold); err != nil {
		t.Fatalf("AssertSold: query: %v", err)
	}
	if sold != expected {
		t.Errorf("sold_quantity(%s): expected %d, got %d", ticketTypeID, expected, sold)
	}
}

// EntitlementStatuses returns the distinct entitlement statuses of a purchase.
func EntitlementStatuses(t *testing.T, env *TestEnv, purchaseID string) []string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rows, err := env.Pool.Query(ctx, "SELECT DISTINCT status FROM entitlements WHERE purchase_id = $1 ORDER BY status", purchaseID)
	if err != nil {
		t.Fatalf("EntitlementStatuses: query: %v", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			t.Fatalf("EntitlementStatuses: scan: %v", err)
		}
		out = append(out, s)
	}
	return out
}
