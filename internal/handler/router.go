package handler

import (
	"context"
	"io"
	"net/http"
	"time"

	chathandler "github.com/boddenberg/receipt-assistant-go/internal/chat/handler"
	"github.com/boddenberg/receipt-assistant-go/internal/domain"
	"github.com/boddenberg/receipt-assistant-go/internal/infra/observability"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("handler")

const rootMessage = "SmartReceipt Bot AI Server is running."

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ArtifactAdmin is what the operator API needs from the receipt service.
type ArtifactAdmin interface {
	ListArtifacts(ctx context.Context, userID string, limit int) ([]domain.Artifact, error)
	Resend(ctx context.Context, artifactID string) (*domain.ResendResponse, error)
}

// RouterDeps wires the HTTP surface. Nil Auth disables the operator API;
// nil Store skips the storage probe in /healthz.
type RouterDeps struct {
	Store              Pinger
	Webhook            chathandler.Submitter
	VerifyToken        string
	Artifacts          ArtifactAdmin
	Auth               TokenAuthority
	Metrics            *observability.Metrics
	CORSAllowedOrigins []string
	Logger             *zap.Logger
}

// NewRouter creates the HTTP router with all routes and middleware.
func NewRouter(deps RouterDeps) http.Handler {
	logger := deps.Logger
	r := chi.NewRouter()

	// --- Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.ZapLoggerMiddleware(logger))
	r.Use(observability.TracingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))

	// --- Operational endpoints ---
	r.Get("/", rootHandler())
	r.Get("/healthz", healthzHandler(deps.Store))
	r.Get("/readyz", readyzHandler())
	r.Handle("/metrics", promhttp.HandlerFor(deps.Metrics.Registry, promhttp.HandlerOpts{}))

	// --- Messaging webhook ---
	r.Get("/webhook", chathandler.VerifyHandler(deps.VerifyToken, logger))
	if deps.Webhook != nil {
		r.Post("/webhook", chathandler.WebhookHandler(deps.Webhook, logger))
	}

	// --- Operator support API ---
	r.Route("/v1/admin", func(r chi.Router) {
		if len(deps.CORSAllowedOrigins) > 0 {
			r.Use(cors.Handler(cors.Options{
				AllowedOrigins:   deps.CORSAllowedOrigins,
				AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
				AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
				ExposedHeaders:   []string{"X-Request-Id"},
				AllowCredentials: false,
				MaxAge:           300,
			}))
		}

		if deps.Auth == nil || deps.Artifacts == nil {
			r.Handle("/*", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeError(w, http.StatusServiceUnavailable, "operator API disabled: no operator credentials configured")
			}))
			return
		}

		r.Post("/login", loginHandler(deps.Auth, logger))

		r.Group(func(r chi.Router) {
			r.Use(JWTAuthMiddleware(deps.Auth, logger))
			r.Get("/users/{userId}/artifacts", listArtifactsHandler(deps.Artifacts, logger))
			r.Post("/artifacts/{artifactId}/resend", resendHandler(deps.Artifacts, logger))
			r.Get("/metrics", botMetricsHandler(deps.Metrics))
		})
	})

	return r
}

// ============================================================
// Operational endpoints
// ============================================================

func rootHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, rootMessage)
	}
}

func healthzHandler(store Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		now := time.Now().Format(time.RFC3339)

		services := []domain.ServiceHealth{
			{Name: "receipt-assistant", Status: "healthy", LastChecked: now},
		}

		if store != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			start := time.Now()
			err := store.Ping(ctx)
			cancel()
			sh := domain.ServiceHealth{
				Name:        "store",
				Status:      "healthy",
				LatencyMs:   time.Since(start).Milliseconds(),
				LastChecked: now,
			}
			if err != nil {
				sh.Status = "unhealthy"
				sh.Error = err.Error()
			}
			services = append(services, sh)
		}

		overallStatus := "healthy"
		for _, s := range services {
			if s.Status == "unhealthy" {
				overallStatus = "unhealthy"
				break
			}
			if s.Status == "degraded" {
				overallStatus = "degraded"
			}
		}

		status := http.StatusOK
		if overallStatus == "unhealthy" {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, domain.HealthStatus{
			Status:   overallStatus,
			Services: services,
		})
	}
}

func readyzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}
