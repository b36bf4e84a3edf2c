package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	chatinfra "github.com/boddenberg/receipt-assistant-go/internal/chat/infra"
	chatport "github.com/boddenberg/receipt-assistant-go/internal/chat/port"
	chatservice "github.com/boddenberg/receipt-assistant-go/internal/chat/service"
	"github.com/boddenberg/receipt-assistant-go/internal/config"
	"github.com/boddenberg/receipt-assistant-go/internal/handler"
	"github.com/boddenberg/receipt-assistant-go/internal/infra/cache"
	"github.com/boddenberg/receipt-assistant-go/internal/infra/client"
	"github.com/boddenberg/receipt-assistant-go/internal/infra/observability"
	"github.com/boddenberg/receipt-assistant-go/internal/infra/postgres"
	"github.com/boddenberg/receipt-assistant-go/internal/infra/renderer"
	"github.com/boddenberg/receipt-assistant-go/internal/infra/resilience"
	"github.com/boddenberg/receipt-assistant-go/internal/infra/sqlite"
	"github.com/boddenberg/receipt-assistant-go/internal/infra/supabase"
	"github.com/boddenberg/receipt-assistant-go/internal/port"
	"github.com/boddenberg/receipt-assistant-go/internal/service"

	"go.uber.org/zap"
)

const serviceName = "receipt-assistant"

func main() {
	// --- Load .env file (for local development) ---
	_ = config.LoadDotEnv(".env")

	// --- Config ---
	cfg := config.Load()

	// --- Logger ---
	logger := observability.NewLogger(cfg.LogLevel, serviceName)
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	logger.Info("configuration loaded",
		zap.Int("port", cfg.Port),
		zap.String("log_level", cfg.LogLevel),
		zap.String("store_backend", cfg.StoreBackend),
		zap.String("model_backend", cfg.ModelBackend),
		zap.String("interpreter_policy", cfg.InterpreterPolicy),
		zap.Bool("distributed_lock", cfg.DistributedLock),
		zap.Duration("turn_timeout", cfg.TurnTimeout),
		zap.Duration("render_timeout", cfg.RenderTimeout),
		zap.Int("render_concurrency", cfg.RenderConcurrency),
		zap.Int("max_retries", cfg.MaxRetries),
		zap.Duration("initial_backoff", cfg.InitialBackoff),
	)

	// --- Tracing ---
	shutdownTracer, err := observability.InitTracer(context.Background(), cfg.TracingEnabled, cfg.OTLPEndpoint, serviceName)
	if err != nil {
		logger.Fatal("failed to init tracer", zap.Error(err))
	}
	defer shutdownTracer(context.Background())

	// --- Metrics ---
	metrics := observability.NewMetrics()

	// --- Resilience ---
	resilienceCfg := resilience.Config{
		MaxRetries:     cfg.MaxRetries,
		InitialBackoff: cfg.InitialBackoff,
		MaxConcurrency: cfg.MaxConcurrency,
	}

	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}

	// --- Store ---
	store, err := openStore(cfg, httpClient, resilienceCfg, logger)
	if err != nil {
		logger.Fatal("failed to open store", zap.Error(err))
	}
	defer store.Close()

	// --- Language model ---
	model, err := newModel(cfg, httpClient, resilienceCfg)
	if err != nil {
		logger.Fatal("failed to init language model", zap.Error(err))
	}
	interpreter := chatservice.NewInterpreter(model, chatservice.ParsePolicy(cfg.InterpreterPolicy), metrics, logger)

	// --- Messaging & rendering ---
	messenger := client.NewWhatsAppClient(
		httpClient,
		cfg.WhatsAppAPIURL,
		cfg.WhatsAppPhoneID,
		cfg.WhatsAppToken,
		resilience.NewCircuitBreaker("whatsapp"),
		resilienceCfg,
		logger,
	)
	rod := renderer.NewRodRenderer(cfg.BrowserBin, cfg.RenderTimeout, cfg.RenderConcurrency, metrics, logger)

	// --- Services ---
	receipts := service.NewReceiptService(store, rod, messenger, cfg.ReceiptBaseURL, logger)
	onboarding := service.NewOnboardingService(store, messenger, logger)
	profile := service.NewProfileService(store, messenger, logger)

	dedupe := cache.New[struct{}](cfg.DedupeTTL)
	defer dedupe.Close()

	var claimer port.TurnClaimer
	if cfg.DistributedLock {
		claimer = store
		logger.Info("per-user turn claims enabled", zap.Duration("claim_ttl", cfg.ClaimTTL))
	}

	controller := chatservice.NewController(chatservice.ControllerDeps{
		Store:       store,
		Interpreter: interpreter,
		Messenger:   messenger,
		Receipts:    receipts,
		Accounts:    onboarding,
		Profile:     profile,
		Dedupe:      dedupe,
		Claimer:     claimer,
		ClaimTTL:    cfg.ClaimTTL,
		TurnTimeout: cfg.TurnTimeout,
		Metrics:     metrics,
		Logger:      logger,
	})

	// --- Router ---
	routerDeps := handler.RouterDeps{
		Store:              store,
		Webhook:            controller,
		VerifyToken:        cfg.VerifyToken,
		Metrics:            metrics,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		Logger:             logger,
	}
	if cfg.AdminPasswordHash != "" {
		routerDeps.Auth = service.NewOperatorAuth(cfg.AdminUser, cfg.AdminPasswordHash, cfg.JWTSecret, cfg.JWTAccessTTL, logger)
		routerDeps.Artifacts = receipts
		logger.Info("operator API enabled", zap.String("admin_user", cfg.AdminUser))
	} else {
		logger.Warn("operator API: ADMIN_PASSWORD_HASH not set, /v1/admin unavailable")
	}
	router := handler.NewRouter(routerDeps)

	// --- Server ---
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// --- Graceful shutdown ---
	go func() {
		logger.Info("server starting", zap.Int("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.TurnTimeout+15*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server forced shutdown", zap.Error(err))
	}
	if err := controller.Shutdown(ctx); err != nil {
		logger.Error("in-flight turns abandoned", zap.Error(err))
	}

	logger.Info("server stopped")
}

func openStore(cfg *config.Config, httpClient *http.Client, rcfg resilience.Config, logger *zap.Logger) (port.Store, error) {
	switch cfg.StoreBackend {
	case config.StorePostgres:
		logger.Info("using postgres store")
		return postgres.Open(cfg.PostgresDSN, 5, logger)
	case config.StoreSupabase:
		logger.Info("using Supabase store", zap.String("supabase_url", cfg.SupabaseURL))
		return supabase.NewClient(
			httpClient,
			cfg.SupabaseURL,
			cfg.SupabaseAnonKey,
			cfg.SupabaseServiceKey,
			resilience.NewCircuitBreaker("supabase"),
			rcfg,
			logger,
		), nil
	default:
		logger.Info("using sqlite store", zap.String("path", cfg.SQLitePath))
		return sqlite.Open(cfg.SQLitePath)
	}
}

func newModel(cfg *config.Config, httpClient *http.Client, rcfg resilience.Config) (chatport.ModelCaller, error) {
	cb := resilience.NewCircuitBreaker("llm")
	if cfg.ModelBackend == config.ModelGemini {
		return chatinfra.NewGeminiClient(context.Background(), cfg.GeminiAPIKey, cfg.GeminiModel, cb, rcfg)
	}
	return chatinfra.NewChatAgentClient(httpClient, cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, cfg.OpenAIModel, cb, rcfg), nil
}
