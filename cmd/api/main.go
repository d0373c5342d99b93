// Package main is the entry point for the authorization engine API server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/onnwee/agentgate/internal/anomaly"
	"github.com/onnwee/agentgate/internal/api"
	"github.com/onnwee/agentgate/internal/auth"
	"github.com/onnwee/agentgate/internal/capability"
	"github.com/onnwee/agentgate/internal/config"
	"github.com/onnwee/agentgate/internal/db"
	"github.com/onnwee/agentgate/internal/engine"
	"github.com/onnwee/agentgate/internal/escalation"
	"github.com/onnwee/agentgate/internal/events"
	"github.com/onnwee/agentgate/internal/health"
	"github.com/onnwee/agentgate/internal/identity"
	"github.com/onnwee/agentgate/internal/ledger"
	"github.com/onnwee/agentgate/internal/middleware"
	"github.com/onnwee/agentgate/internal/policy"
	"github.com/onnwee/agentgate/internal/sanitize"
	"github.com/onnwee/agentgate/internal/tracing"
	"github.com/onnwee/agentgate/internal/trust"
)

const serviceName = "agentgate-api"

func main() {
	configFile := flag.String("config", "", "path to optional YAML config file")
	help := flag.Bool("help", false, "display help message")
	flag.Parse()

	if *help {
		fmt.Println("Agentgate Authorization Engine")
		fmt.Println()
		fmt.Println("Usage: api [options]")
		fmt.Println()
		fmt.Println("Options:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	cfg, errs := config.Load(*configFile)
	if cfg == nil {
		fmt.Fprintln(os.Stderr, "failed to load configuration:", errs)
		os.Exit(1)
	}

	logger := middleware.NewLogger(cfg.Env)
	slog.SetDefault(logger)

	if len(errs) > 0 {
		for _, err := range errs {
			logger.Error("configuration error", "error", err)
		}
		os.Exit(1)
	}
	logger.Info("configuration loaded", "config", cfg.LogSummary())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Tracing.
	traceProvider, err := tracing.NewProvider(tracing.Config{
		ServiceName:  serviceName,
		Enabled:      cfg.TracingEnabled,
		Environment:  cfg.Env,
		ExporterType: cfg.TracingExporter,
		OTLPEndpoint: cfg.OTLPEndpoint,
		SamplingRate: cfg.TracingSampling,
		InsecureMode: cfg.Env != "production",
	})
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := traceProvider.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shut down tracing", "error", err)
		}
	}()

	// Stores.
	pool, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = pool.Close() }()

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Error("failed to parse redis url", "error", err)
		os.Exit(1)
	}
	redisClient := redis.NewClient(redisOpts)
	defer func() { _ = redisClient.Close() }()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}

	// Metrics registry.
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	httpMetrics := middleware.NewMetrics()
	ledgerMetrics := ledger.NewMetrics()
	trustMetrics := trust.NewMetrics()
	for _, m := range []interface {
		Register(prometheus.Registerer) error
	}{httpMetrics, ledgerMetrics, trustMetrics} {
		if err := m.Register(registry); err != nil {
			logger.Error("failed to register metrics", "error", err)
			os.Exit(1)
		}
	}

	// Pipeline components.
	identityRepo := identity.NewPostgresRepository(pool)
	grantRepo := capability.NewPostgresRepository(pool)
	nonceStore := identity.NewRedisNonceStore(redisClient)
	trustStore := trust.NewRedisStore(redisClient)
	ledgerStore := ledger.NewPostgresStore(pool)
	escalationStore := escalation.NewPostgresStore(pool)

	verifier := identity.NewVerifier(identityRepo, nonceStore, cfg.ClockSkewWindow, cfg.RotationGrace)
	scanner := sanitize.NewScanner()
	sandbox := capability.NewSandbox(grantRepo)
	policyEngine := policy.NewEngine()
	auditLedger := ledger.New(ledgerStore, cfg.LedgerWriteTimeout, logger, ledgerMetrics)
	scorer := trust.NewScorer(trustStore, cfg.TrustDecayPerDay, trustMetrics)
	detector := anomaly.NewDetector(anomaly.Config{
		Window:    cfg.AnomalyWindow,
		Deviation: cfg.AnomalyDeviation,
	})
	hub := events.NewHub()

	eng := engine.New(engine.Deps{
		Verifier:       verifier,
		Scanner:        scanner,
		Sandbox:        sandbox,
		Policy:         policyEngine,
		Ledger:         auditLedger,
		Scorer:         scorer,
		Detector:       detector,
		Escalations:    escalationStore,
		Hub:            hub,
		Logger:         logger,
		EscalationWait: cfg.EscalationWait,
	})
	go eng.RunEscalationSweeper(ctx)

	// Admin authentication.
	var adminTokens *auth.AdminTokenService
	if cfg.AdminJWTPreviousSecret != "" {
		adminTokens = auth.NewAdminTokenServiceWithRotation(cfg.AdminJWTSecret, cfg.AdminJWTPreviousSecret)
	} else {
		adminTokens = auth.NewAdminTokenService(cfg.AdminJWTSecret)
	}

	// HTTP surface.
	authorizeLimit := middleware.DefaultAuthorizeLimit()
	if cfg.AuthorizeRateLimit > 0 {
		authorizeLimit.RequestsPerWindow = cfg.AuthorizeRateLimit
	}

	mux := api.NewRouter(api.RouterDeps{
		Authorize:   api.NewAuthorizeHandlers(eng),
		Outcomes:    api.NewOutcomeHandlers(eng),
		Agents:      api.NewAgentHandlers(identityRepo),
		Grants:      api.NewGrantHandlers(grantRepo),
		Audit:       api.NewAuditHandlers(auditLedger),
		Escalations: api.NewEscalationHandlers(eng),
		Events:      api.NewEventStreamHandlers(hub),
		Health: api.NewHealthHandlers(api.HealthHandlersConfig{
			DBChecker:    health.NewDBChecker(pool),
			RedisChecker: health.NewRedisChecker(redisClient),
		}),
		AdminTokens:    adminTokens,
		AuthorizeLimit: authorizeLimit,
		AdminLimit:     middleware.DefaultAdminLimit(),
		RateLimits:     middleware.NewInMemoryRateLimitStore(),
		MetricsHandler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	})

	// Apply middleware: RequestID -> Tracing -> Logging -> Metrics
	var handler http.Handler = mux
	handler = middleware.HTTPMetrics(httpMetrics)(handler)
	handler = middleware.Logging(logger)(handler)
	if traceProvider.IsEnabled() {
		handler = middleware.Tracing(serviceName)(handler)
	}
	handler = middleware.RequestID(handler)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("starting server", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}
