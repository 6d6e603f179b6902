//go:build integration

package testutil

import (
	"context"
	"strings"
	"time"
)

// checkoutTables lists every table a test can write to.
var checkoutTables = []string{
	"event_outbox",
	"operations",
	"issued_fulfillments",
	"entitlements",
	"sale_lines",
	"sale_summaries",
	"payment_events",
	"payments",
	"ticket_types",
	"events",
}

// CleanAll empties every checkout table and resets sequences.
func (env *TestEnv) CleanAll() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stmt := "TRUNCATE TABLE " + strings.Join(checkoutTables, ", ") + " RESTART IDENTITY CASCADE"
	if _, err := env.Pool.Exec(ctx, stmt); err != nil {
		env.t.Fatalf("clean tables: %v", err)
	}
}
