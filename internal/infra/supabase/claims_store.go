package supabase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/boddenberg/receipt-assistant-go/internal/domain"

	"go.opentelemetry.io/otel/attribute"
)

// ============================================================
// Turn claims — cross-instance per-user exclusion
// ============================================================

type claimRow struct {
	UserID    string    `json:"user_id"`
	Owner     string    `json:"owner"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ClaimTurn inserts a claim row, or takes over an expired one with a
// filtered PATCH. Both are single statements, so two instances cannot
// both win.
func (c *Client) ClaimTurn(ctx context.Context, userID, owner string, ttl time.Duration) (bool, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ClaimTurn")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", userID))

	now := time.Now().UTC()
	row := claimRow{UserID: userID, Owner: owner, ExpiresAt: now.Add(ttl)}

	_, err := c.doPost(ctx, "turn_claims", row)
	if err == nil {
		return true, nil
	}
	var conflict *domain.ErrConflict
	if !errors.As(err, &conflict) {
		return false, err
	}

	path := fmt.Sprintf("%s&expires_at=lt.%s",
		tableFilter("turn_claims", "user_id", userID),
		encodeValue(now.Format(time.RFC3339Nano)),
	)
	body, err := c.doPatch(ctx, path, map[string]any{"owner": owner, "expires_at": row.ExpiresAt})
	if err != nil {
		return false, err
	}
	n, err := matchedRows(body)
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ReleaseTurn deletes the claim only if owner still holds it.
func (c *Client) ReleaseTurn(ctx context.Context, userID, owner string) error {
	ctx, span := tracer.Start(ctx, "Supabase.ReleaseTurn")
	defer span.End()

	return c.doDelete(ctx, tableFilter("turn_claims", "user_id", userID)+"&owner="+eq(owner))
}
