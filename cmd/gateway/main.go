package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"

	"github.com/vnmchuo/cost-gateway/config"
	"github.com/vnmchuo/cost-gateway/internal/api"
	"github.com/vnmchuo/cost-gateway/internal/auth"
	"github.com/vnmchuo/cost-gateway/internal/budget"
	"github.com/vnmchuo/cost-gateway/internal/ledger"
	"github.com/vnmchuo/cost-gateway/internal/media"
	"github.com/vnmchuo/cost-gateway/internal/pricing"
	"github.com/vnmchuo/cost-gateway/internal/seeder"
	"github.com/vnmchuo/cost-gateway/internal/telemetry"
	"github.com/vnmchuo/cost-gateway/internal/webhook"
	"github.com/vnmchuo/cost-gateway/pkg/ratelimit"
)

// budgetNotifier re-evaluates a tenant's budget after every usage
// write. Failures are logged only: a missed alert must never fail the
// write that triggered it.
type budgetNotifier struct {
	monitor *budget.Monitor
}

func (n *budgetNotifier) UsageRecorded(ctx context.Context, tenantID string) {
	if _, err := n.monitor.Evaluate(ctx, tenantID); err != nil {
		log.Printf("budget: evaluation for tenant %s failed: %v", tenantID, err)
	}
}

func main() {
	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// 2. Init telemetry
	shutdownTracer, err := telemetry.InitTracer("cost-gateway", cfg)
	if err != nil {
		log.Fatalf("failed to init tracer: %v", err)
	}
	defer shutdownTracer()

	// 3. Connect PostgreSQL
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("failed to connect postgres: %v", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		log.Fatalf("failed to ping postgres: %v", err)
	}
	log.Println("PostgreSQL connected")

	// 4. Connect Redis
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()

	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("failed to ping redis: %v", err)
	}
	log.Println("Redis connected")

	// 5. Init auth
	authStore := auth.NewPostgresStore(pool)
	authMiddleware := auth.NewMiddleware(authStore, rdb)

	// 6. Init pricing
	catalog := pricing.NewCatalog(pricing.DefaultProviders())
	resolver := pricing.NewResolver(catalog)

	// 7. Init ledger + budget monitor. The monitor reads month-to-date
	// spend through the same store the ledger writes to, so evaluation
	// after a write sees that write.
	var ledgerStore ledger.Store = ledger.NewPostgresStore(pool)
	if cfg.RedisCacheEnabled {
		ledgerStore = ledger.NewCachedStore(ledgerStore, rdb, cfg.RedisCacheTTL)
		log.Printf("Cost query cache enabled (TTL %s)", cfg.RedisCacheTTL)
	}

	budgetStore := budget.NewPostgresStore(pool)
	monitor := budget.NewMonitor(budgetStore, ledgerStore)
	ledgerService := ledger.NewService(ledgerStore, &budgetNotifier{monitor: monitor})

	// 8. Init webhook gateway
	auditStore := webhook.NewPostgresAuditStore(pool)
	webhookLimiter := ratelimit.NewWindowLimiter(cfg.WebhookRateLimit, cfg.RateLimitWindow)
	mediaTracker := media.NewHTTPTracker(cfg.MediaRefreshURL)
	tracer := otel.GetTracerProvider().Tracer("cost-gateway")

	gateway := webhook.NewGateway(
		webhook.Options{
			Enabled:             cfg.CostTrackingEnabled,
			AllowedSources:      cfg.AllowedSources,
			SignatureValidation: cfg.SignatureValidation,
			Secrets:             cfg.SourceSecrets,
		},
		webhookLimiter, resolver, ledgerService, auditStore, mediaTracker, tracer,
	)

	// Expired rate-limit windows are swept in the background so the map
	// does not grow with one entry per client.
	go func() {
		ticker := time.NewTicker(cfg.RateLimitWindow)
		defer ticker.Stop()
		for range ticker.C {
			webhookLimiter.Cleanup()
		}
	}()

	// 9. Init query-API handler
	queryLimiter := ratelimit.NewLimiter(rdb, cfg.DefaultRateLimitRPM)
	costHandler := api.NewHandler(ledgerService, monitor, auditStore, queryLimiter)

	// 10. Seed test tenant if RUN_SEED=true
	if os.Getenv("RUN_SEED") == "true" {
		seeder.SeedTestTenant(ctx, authStore, budgetStore)
	}

	// 11. Init Chi router
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)

	// Public routes
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok","service":"cost-gateway"}`))
	})

	// Webhook ingress: one endpoint, source is inferred from the
	// request rather than the path.
	r.Post("/webhooks/events", gateway.HandleEvent)

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware)
		r.Use(costHandler.RateLimit)
		r.Get("/v1/costs/summary", costHandler.HandleSummary)
		r.Get("/v1/costs/history", costHandler.HandleHistory)
		r.Get("/v1/costs/export", costHandler.HandleExport)
		r.Get("/v1/costs/alerts", costHandler.HandleAlerts)
		r.Post("/v1/costs/alerts/{id}/dismiss", costHandler.HandleDismissAlert)
		r.Put("/v1/costs/limit", costHandler.HandleSetLimit)
		r.Get("/v1/webhooks/stats", costHandler.HandleWebhookStats)
	})

	// 12. Graceful shutdown
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("Cost Gateway starting on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-quit
	log.Println("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("forced shutdown: %v", err)
	}
	log.Println("Server stopped")
}
