package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/attaboy/checkout/internal/auth"
	"github.com/attaboy/checkout/internal/domain"
	"github.com/attaboy/checkout/internal/guard"
	"github.com/attaboy/checkout/internal/handler"
	"github.com/attaboy/checkout/internal/infra"
	"github.com/attaboy/checkout/internal/ledger"
	"github.com/attaboy/checkout/internal/projection"
	"github.com/attaboy/checkout/internal/provider"
	"github.com/attaboy/checkout/internal/repository"
	"github.com/attaboy/checkout/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// statusQueryBudget covers the ledger reads around an inline repair.
const statusQueryBudget = 3 * time.Second

// RouterDeps holds all dependencies needed by NewRouter.
type RouterDeps struct {
	Pool     *pgxpool.Pool
	Redis    *redis.Client // nil selects the in-process status cache
	Notifier service.EnqueueNotifier
	JWTMgr   *auth.JWTManager
	Config   *infra.Config
	Logger   *slog.Logger
}

// NewRouter assembles the chi.Router with all routes and middleware.
func NewRouter(deps RouterDeps) chi.Router {
	pool := deps.Pool
	cfg := deps.Config
	logger := deps.Logger

	// Repositories
	paymentRepo := repository.NewPaymentRepository()
	eventRepo := repository.NewPaymentEventRepository()
	saleRepo := repository.NewSaleRepository()
	entitlementRepo := repository.NewEntitlementRepository()
	fulfillmentRepo := repository.NewFulfillmentRepository()
	catalogRepo := repository.NewCatalogRepository()
	operationRepo := repository.NewOperationRepository()
	outboxRepo := repository.NewOutboxRepository()
	txRunner := repository.NewTxRunner(pool)

	// Ledger
	ledgerEngine := ledger.NewEngine(saleRepo, entitlementRepo, fulfillmentRepo, catalogRepo, paymentRepo, eventRepo, outboxRepo)
	auditor := ledger.NewAuditor(saleRepo, entitlementRepo, fulfillmentRepo)

	// External providers
	var gateway provider.Gateway
	var stripeGateway *provider.StripeGateway
	if cfg.StripeSecretKey != "" {
		stripeGateway = provider.NewStripeGateway(cfg.StripeSecretKey, cfg.StripeWebhookSecret)
		gateway = stripeGateway
	} else {
		logger.Warn("STRIPE_SECRET_KEY not set, using in-memory payment gateway")
		gateway = provider.NewMemoryGateway()
	}
	worker := provider.NewWorkerClient(cfg.WorkerURL, cfg.WorkerSecret, cfg.WorkerTimeout, logger)

	var cache projection.Store
	if deps.Redis != nil {
		cache = projection.NewRedisStore(deps.Redis)
	} else {
		cache = projection.NewInMemoryStore()
	}

	// Services
	queue := service.NewOperationQueue(pool, operationRepo, deps.Notifier, logger)
	intents := service.NewIntentManager(pool, gateway, paymentRepo, eventRepo, catalogRepo, ledgerEngine, logger)
	fulfiller := service.NewPaidFulfiller(pool, txRunner, ledgerEngine, fulfillmentRepo, catalogRepo, queue, logger)
	dispatcher := service.NewFulfillmentDispatcher(gateway, logger)
	dispatcher.Register(domain.ScenarioSingle, fulfiller)

	breaker := guard.NewCircuitBreaker(cfg.RepairBreakerFailures, cfg.RepairBreakerReset)
	repair := service.NewInlineRepair(pool, saleRepo, worker, breaker, service.RepairConfig{
		MaxPasses:  cfg.RepairMaxPasses,
		Timeout:    cfg.RepairTimeout,
		BreakerKey: "worker",
	})
	resolver := service.NewStatusResolver(pool, saleRepo, operationRepo, eventRepo, outboxRepo, queue, repair, cache,
		service.StatusConfig{
			StuckThreshold: cfg.StuckThreshold,
			CacheTTL:       cfg.StatusCacheTTL,
			EscalateAfter:  cfg.EscalateAfter,
			ResolveTimeout: cfg.RepairTimeout + statusQueryBudget,
		}, logger)

	// Handlers
	checkoutHandler := handler.NewCheckoutHandler(intents, resolver)
	internalHandler := handler.NewInternalHandler(dispatcher, func(ctx context.Context, purchaseID string) (*ledger.AuditResult, error) {
		return auditor.Audit(ctx, pool, purchaseID)
	})
	statusLimiter := guard.NewRateLimiter(cfg.StatusRateLimitRPS, cfg.StatusRateLimitBurst)

	// Router
	r := chi.NewRouter()

	// Global middleware (order matters)
	r.Use(handler.Recovery(logger))
	r.Use(handler.RequestID)
	r.Use(handler.RequestLogger(logger))
	r.Use(handler.CORS(cfg.CORSAllowedOrigins))
	r.Use(handler.JSONContentType)

	// Health (no auth)
	r.Get("/health", handler.HealthHandler(func(ctx context.Context) error {
		return infra.HealthCheck(ctx, pool)
	}))

	// Webhooks (no auth, signature verified on the raw body)
	if stripeGateway != nil {
		webhookSvc := service.NewWebhookService(service.WebhookDeps{
			DB:           pool,
			Tx:           txRunner,
			Verifier:     stripeGateway,
			Engine:       ledgerEngine,
			Sales:        saleRepo,
			Events:       eventRepo,
			Entitlements: entitlementRepo,
			Outbox:       outboxRepo,
			Queue:        queue,
			Dispatcher:   dispatcher,
			Cache:        cache,
			Logger:       logger,
		})
		r.Post("/webhooks/stripe", handler.NewWebhookHandler(webhookSvc, logger).HandleStripeWebhook)
	}

	// Buyer routes (guest or authenticated)
	r.Route("/checkout", func(r chi.Router) {
		r.Use(handler.NoStore)
		r.With(handler.RateLimit(statusLimiter)).Get("/status", checkoutHandler.GetStatus)
		r.With(auth.OptionalBuyer(deps.JWTMgr)).Post("/intent", checkoutHandler.EnsureIntent)
	})

	// Worker and support routes
	r.Route("/internal", func(r chi.Router) {
		r.Use(auth.RequireSharedSecret("X-Worker-Secret", cfg.WorkerSecret))
		r.Post("/fulfillments", internalHandler.Fulfill)
		r.Get("/purchases/{purchaseID}/audit", internalHandler.AuditPurchase)
	})

	return r
}
