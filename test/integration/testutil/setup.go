//go:build integration

package testutil

import (
	"context"
	"fmt"
	"log/slog"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/attaboy/checkout/internal/app"
	"github.com/attaboy/checkout/internal/auth"
	"github.com/attaboy/checkout/internal/infra"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	TestJWTSecret           = "integration-test-secret"
	TestStripeSecretKey     = "sk_test_integration"
	TestStripeWebhookSecret = "whsec_test_integration_secret"
	TestWorkerSecret        = "integration-worker-secret"
	TestDBHost              = "localhost"
	TestDBPort              = 5435
	TestDBUser              = "checkout"
	TestDBPass              = "checkout"
	TestDBName              = "checkout_test"
)

// TestEnv holds all resources for an integration test.
type TestEnv struct {
	Server *httptest.Server
	Pool   *pgxpool.Pool
	JWTMgr *auth.JWTManager
	t      *testing.T
}

var (
	sharedPool *pgxpool.Pool
	poolOnce   sync.Once
	poolErr    error
)

func testDSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		TestDBUser, TestDBPass, TestDBHost, TestDBPort, TestDBName)
}

func bootstrapDSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		TestDBUser, TestDBPass, TestDBHost, TestDBPort, "checkout")
}

func ensureTestDB() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	bPool, err := pgxpool.New(ctx, bootstrapDSN())
	if err != nil {
		return fmt.Errorf("connect bootstrap db: %w", err)
	}
	defer bPool.Close()

	var exists bool
	err = bPool.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM pg_database WHERE datname = $1)", TestDBName).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check db exists: %w", err)
	}

	if !exists {
		if _, err = bPool.Exec(ctx, fmt.Sprintf("CREATE DATABASE %s", TestDBName)); err != nil {
			return fmt.Errorf("create test db: %w", err)
		}
	}
	return nil
}

func runMigrations() error {
	quiet := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return infra.RunMigrations(testDSN(), "", quiet)
}

func getSharedPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	poolOnce.Do(func() {
		if err := ensureTestDB(); err != nil {
			poolErr = err
			return
		}
		if err := runMigrations(); err != nil {
			poolErr = fmt.Errorf("run migrations: %w", err)
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		pool, err := infra.NewPostgresPool(ctx, &infra.Config{
			DatabaseURL: testDSN(),
			PGMaxConns:  10,
			PGMinConns:  1,
			PGAppName:   "checkout-integration",
		})
		if err != nil {
			poolErr = err
			return
		}
		sharedPool = pool
	})

	if poolErr != nil {
		t.Fatalf("failed to initialize test pool: %v", poolErr)
	}
	return sharedPool
}

// TestConfig is the configuration the integration router runs with. The Stripe
// key is a placeholder: webhooks are verified locally and never call the API.
func TestConfig() *infra.Config {
	return &infra.Config{
		CORSAllowedOrigins:    "*",
		StripeSecretKey:       TestStripeSecretKey,
		StripeWebhookSecret:   TestStripeWebhookSecret,
		WorkerSecret:          TestWorkerSecret,
		WorkerTimeout:         time.Second,
		StuckThreshold:        5 * time.Minute,
		RepairMaxPasses:       2,
		RepairTimeout:         time.Second,
		RepairBreakerFailures: 5,
		RepairBreakerReset:    time.Minute,
		EscalateAfter:         3,
		StatusCacheTTL:        time.Minute,
		StatusRateLimitRPS:    1000,
		StatusRateLimitBurst:  1000,
	}
}

// NewTestEnv creates a test environment with an httptest.Server backed by the real router and test DB.
func NewTestEnv(t *testing.T) *TestEnv {
	t.Helper()

	pool := getSharedPool(t)
	jwtMgr := auth.NewJWTManager(TestJWTSecret, 24*time.Hour)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	router := app.NewRouter(app.RouterDeps{
		Pool:   pool,
		JWTMgr: jwtMgr,
		Config: TestConfig(),
		Logger: logger,
	})
	server := httptest.NewServer(router)

	env := &TestEnv{
		Server: server,
		Pool:   pool,
		JWTMgr: jwtMgr,
		t:      t,
	}

	t.Cleanup(func() {
		server.Close()
		env.CleanAll()
	})

	// Clean before test to ensure isolation
	env.CleanAll()

	return env
}
