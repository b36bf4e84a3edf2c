// Package supabase implements port.Store over the Supabase PostgREST API.
// It is the hosted backend when several instances share one database.
package supabase

import (
	"context"
	"fmt"
	"net/http"

	"github.com/boddenberg/receipt-assistant-go/internal/domain"
	"github.com/boddenberg/receipt-assistant-go/internal/infra/resilience"
	"github.com/boddenberg/receipt-assistant-go/internal/port"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("supabase")

// Client wraps HTTP calls to Supabase PostgREST API.
type Client struct {
	httpClient     *http.Client
	baseURL        string
	apiKey         string
	serviceRoleKey string
	cb             *gobreaker.CircuitBreaker
	cfg            resilience.Config
	logger         *zap.Logger
}

var _ port.Store = (*Client)(nil)

// NewClient creates a Supabase client.
func NewClient(httpClient *http.Client, baseURL, apiKey, serviceRoleKey string, cb *gobreaker.CircuitBreaker, cfg resilience.Config, logger *zap.Logger) *Client {
	return &Client{
		httpClient:     httpClient,
		baseURL:        baseURL,
		apiKey:         apiKey,
		serviceRoleKey: serviceRoleKey,
		cb:             cb,
		cfg:            cfg,
		logger:         logger,
	}
}

// Ping issues a cheap read against the accounts table.
func (c *Client) Ping(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "Supabase.Ping")
	defer span.End()

	_, err := c.get(ctx, "accounts?select=user_id&limit=1")
	return err
}

// Close releases idle connections. The HTTP client is otherwise stateless.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// get runs a read through the breaker with retries. Reads are idempotent,
// writes go through doPost/doPatch/doDelete directly.
func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	body, err := resilience.Execute(ctx, c.cb, c.cfg, "supabase", func() ([]byte, error) {
		b, err := c.doRequest(ctx, http.MethodGet, path, nil, "")
		if err != nil && !isRetryable(err) {
			return nil, resilience.Permanent(err)
		}
		return b, err
	})
	if err != nil {
		return nil, wrapErr(err)
	}
	return body, nil
}

// wrapErr keeps typed domain errors and tags everything else as an
// external service failure.
func wrapErr(err error) error {
	if err == nil {
		return nil
	}
	switch err.(type) {
	case *domain.ErrConflict, *domain.ErrNotFound, *domain.ErrCircuitOpen, *domain.ErrExternalService:
		return err
	}
	return &domain.ErrExternalService{Service: "supabase", Err: err}
}

func eq(v string) string {
	return "eq." + encodeValue(v)
}

func tableFilter(table, column, value string) string {
	return fmt.Sprintf("%s?%s=%s", table, column, eq(value))
}
