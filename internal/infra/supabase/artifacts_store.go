package supabase

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/boddenberg/receipt-assistant-go/internal/domain"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
)

// ============================================================
// Artifacts — append-only receipt history
// ============================================================

type artifactRow struct {
	ID            string            `json:"id"`
	UserID        string            `json:"user_id"`
	CreatedAt     time.Time         `json:"created_at"`
	CustomerName  string            `json:"customer_name"`
	Total         decimal.Decimal   `json:"total"`
	Items         []domain.LineItem `json:"items"`
	PaymentMethod string            `json:"payment_method"`
	EditCount     int               `json:"edit_count"`
}

func (r artifactRow) toDomain() domain.Artifact {
	return domain.Artifact{
		ID:            r.ID,
		UserID:        r.UserID,
		CreatedAt:     r.CreatedAt,
		CustomerName:  r.CustomerName,
		Total:         r.Total,
		Items:         r.Items,
		PaymentMethod: r.PaymentMethod,
		EditCount:     r.EditCount,
	}
}

func (c *Client) CreateArtifact(ctx context.Context, a *domain.Artifact) error {
	ctx, span := tracer.Start(ctx, "Supabase.CreateArtifact")
	defer span.End()
	span.SetAttributes(attribute.String("artifact.id", a.ID))

	_, err := c.doPost(ctx, "artifacts", artifactRow{
		ID:            a.ID,
		UserID:        a.UserID,
		CreatedAt:     a.CreatedAt.UTC(),
		CustomerName:  a.CustomerName,
		Total:         a.Total,
		Items:         a.Items,
		PaymentMethod: a.PaymentMethod,
		EditCount:     a.EditCount,
	})
	return err
}

func (c *Client) listArtifacts(ctx context.Context, path string) ([]domain.Artifact, error) {
	body, err := c.get(ctx, path)
	if err != nil {
		return nil, err
	}
	if len(body) == 0 {
		return []domain.Artifact{}, nil
	}

	var rows []artifactRow
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("decode artifacts: %w", err)
	}
	out := make([]domain.Artifact, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

func (c *Client) GetArtifact(ctx context.Context, id string) (*domain.Artifact, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetArtifact")
	defer span.End()

	rows, err := c.listArtifacts(ctx, tableFilter("artifacts", "id", id)+"&limit=1")
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, &domain.ErrNotFound{Resource: "artifact", ID: id}
	}
	return &rows[0], nil
}

func (c *Client) ListRecentArtifacts(ctx context.Context, userID string, limit int) ([]domain.Artifact, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ListRecentArtifacts")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", userID), attribute.Int("limit", limit))

	path := fmt.Sprintf("%s&order=created_at.desc&limit=%d", tableFilter("artifacts", "user_id", userID), limit)
	return c.listArtifacts(ctx, path)
}

func (c *Client) CountArtifactsSince(ctx context.Context, userID string, since time.Time) (int, error) {
	ctx, span := tracer.Start(ctx, "Supabase.CountArtifactsSince")
	defer span.End()

	path := fmt.Sprintf("%s&created_at=gte.%s&select=id",
		tableFilter("artifacts", "user_id", userID),
		encodeValue(since.UTC().Format(time.RFC3339)),
	)
	body, err := c.get(ctx, path)
	if err != nil {
		return 0, err
	}
	return matchedRows(body)
}
