package supabase

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/boddenberg/receipt-assistant-go/internal/domain"

	"go.opentelemetry.io/otel/attribute"
)

// ============================================================
// Sessions — one row per user, upserted
// ============================================================

type sessionRow struct {
	UserID    string         `json:"user_id"`
	State     string         `json:"state"`
	Payload   domain.Payload `json:"payload"`
	BrandName string         `json:"brand_name"`
	UpdatedAt time.Time      `json:"updated_at"`
}

func (c *Client) GetSession(ctx context.Context, userID string) (*domain.Session, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetSession")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", userID))

	body, err := c.get(ctx, tableFilter("sessions", "user_id", userID)+"&limit=1")
	if err != nil {
		return nil, err
	}
	if len(body) == 0 {
		return nil, nil
	}

	var rows []sessionRow
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	r := rows[0]
	return &domain.Session{
		UserID:    r.UserID,
		State:     domain.SessionState(r.State),
		Payload:   r.Payload,
		BrandName: r.BrandName,
		UpdatedAt: r.UpdatedAt,
	}, nil
}

func (c *Client) UpsertSession(ctx context.Context, sess *domain.Session) error {
	ctx, span := tracer.Start(ctx, "Supabase.UpsertSession")
	defer span.End()

	updatedAt := sess.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}
	return c.doUpsert(ctx, "sessions?on_conflict=user_id", sessionRow{
		UserID:    sess.UserID,
		State:     string(sess.State),
		Payload:   sess.Payload,
		BrandName: sess.BrandName,
		UpdatedAt: updatedAt.UTC(),
	})
}

func (c *Client) DeleteSession(ctx context.Context, userID string) error {
	ctx, span := tracer.Start(ctx, "Supabase.DeleteSession")
	defer span.End()

	return c.doDelete(ctx, tableFilter("sessions", "user_id", userID))
}
