package handler

import (
	"encoding/json"
	"net/http"

	"github.com/boddenberg/receipt-assistant-go/internal/domain"
	"github.com/boddenberg/receipt-assistant-go/internal/infra/observability"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ============================================================
// Operator support API — /v1/admin
// ============================================================

func loginHandler(auth TokenAuthority, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/admin/login")
		defer span.End()

		var req domain.LoginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		resp, err := auth.Login(ctx, &req)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		writeJSON(w, http.StatusOK, resp)
	}
}

func listArtifactsHandler(svc ArtifactAdmin, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/admin/users/{userId}/artifacts")
		defer span.End()

		userID := chi.URLParam(r, "userId")
		span.SetAttributes(attribute.String("user.id", userID))

		arts, err := svc.ListArtifacts(ctx, userID, parseLimit(r, 20, 100))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		writeJSON(w, http.StatusOK, domain.ListResponse[domain.Artifact]{
			Data:  arts,
			Total: len(arts),
		})
	}
}

func resendHandler(svc ArtifactAdmin, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/admin/artifacts/{artifactId}/resend")
		defer span.End()

		artifactID := chi.URLParam(r, "artifactId")
		span.SetAttributes(attribute.String("artifact.id", artifactID))

		resp, err := svc.Resend(ctx, artifactID)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		logger.Info("artifact resent",
			zap.String("artifact_id", artifactID),
			zap.String("operator", OperatorFromContext(ctx)),
		)
		writeJSON(w, http.StatusOK, resp)
	}
}

func botMetricsHandler(metrics *observability.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, metrics.Snapshot())
	}
}
