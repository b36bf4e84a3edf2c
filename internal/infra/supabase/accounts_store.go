package supabase

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/boddenberg/receipt-assistant-go/internal/domain"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ============================================================
// Accounts — CRUD via PostgREST
// ============================================================

// accountRow maps the accounts table columns.
type accountRow struct {
	UserID       string    `json:"user_id"`
	BrandName    string    `json:"brand_name"`
	BrandColor   string    `json:"brand_color"`
	LogoURL      string    `json:"logo_url"`
	Format       string    `json:"format"`
	Template     int       `json:"template"`
	ReceiptCount int       `json:"receipt_count"`
	RecoveryCode string    `json:"recovery_code"`
	CreatedAt    time.Time `json:"created_at"`
}

func toAccountRow(a *domain.Account) accountRow {
	return accountRow{
		UserID:       a.UserID,
		BrandName:    a.BrandName,
		BrandColor:   a.BrandColor,
		LogoURL:      a.LogoURL,
		Format:       string(a.FormatOrDefault()),
		Template:     a.TemplateOrDefault(),
		ReceiptCount: a.ReceiptCount,
		RecoveryCode: domain.NormalizeRecoveryCode(a.RecoveryCode),
		CreatedAt:    a.CreatedAt.UTC(),
	}
}

func (r accountRow) toDomain() *domain.Account {
	return &domain.Account{
		UserID:       r.UserID,
		BrandName:    r.BrandName,
		BrandColor:   r.BrandColor,
		LogoURL:      r.LogoURL,
		Format:       domain.OutputFormat(r.Format),
		Template:     r.Template,
		ReceiptCount: r.ReceiptCount,
		RecoveryCode: r.RecoveryCode,
		CreatedAt:    r.CreatedAt,
	}
}

func (c *Client) findAccount(ctx context.Context, column, value string) (*domain.Account, error) {
	body, err := c.get(ctx, tableFilter("accounts", column, value)+"&limit=1")
	if err != nil {
		return nil, err
	}
	if len(body) == 0 {
		return nil, nil
	}

	var rows []accountRow
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("decode account: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0].toDomain(), nil
}

func (c *Client) GetAccount(ctx context.Context, userID string) (*domain.Account, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetAccount")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", userID))

	return c.findAccount(ctx, "user_id", userID)
}

func (c *Client) FindAccountByRecoveryCode(ctx context.Context, code string) (*domain.Account, error) {
	ctx, span := tracer.Start(ctx, "Supabase.FindAccountByRecoveryCode")
	defer span.End()

	return c.findAccount(ctx, "recovery_code", domain.NormalizeRecoveryCode(code))
}

func (c *Client) CreateAccount(ctx context.Context, acc *domain.Account) error {
	ctx, span := tracer.Start(ctx, "Supabase.CreateAccount")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", acc.UserID))

	if _, err := c.doPost(ctx, "accounts", toAccountRow(acc)); err != nil {
		return err
	}
	c.logger.Info("supabase: account created", zap.String("user_id", acc.UserID))
	return nil
}

func (c *Client) UpdateAccount(ctx context.Context, acc *domain.Account) error {
	ctx, span := tracer.Start(ctx, "Supabase.UpdateAccount")
	defer span.End()

	body, err := c.doPatch(ctx, tableFilter("accounts", "user_id", acc.UserID), map[string]any{
		"brand_name":  acc.BrandName,
		"brand_color": acc.BrandColor,
		"logo_url":    acc.LogoURL,
		"format":      string(acc.FormatOrDefault()),
		"template":    acc.TemplateOrDefault(),
	})
	if err != nil {
		return err
	}
	return requireMatch(body, "account", acc.UserID)
}

// IncrementReceiptCount reads then writes the counter. Turns for one user
// are serialized by the controller, so no other writer races this update.
func (c *Client) IncrementReceiptCount(ctx context.Context, userID string) error {
	ctx, span := tracer.Start(ctx, "Supabase.IncrementReceiptCount")
	defer span.End()

	acc, err := c.GetAccount(ctx, userID)
	if err != nil {
		return err
	}
	if acc == nil {
		return &domain.ErrNotFound{Resource: "account", ID: userID}
	}

	body, err := c.doPatch(ctx, tableFilter("accounts", "user_id", userID), map[string]any{
		"receipt_count": acc.ReceiptCount + 1,
	})
	if err != nil {
		return err
	}
	return requireMatch(body, "account", userID)
}

// RebindAccount moves the account first, then its artifacts. A failure
// between the two leaves artifacts on the old id; the operator resend
// endpoint still finds them by artifact id.
func (c *Client) RebindAccount(ctx context.Context, fromUserID, toUserID string) error {
	ctx, span := tracer.Start(ctx, "Supabase.RebindAccount")
	defer span.End()

	body, err := c.doPatch(ctx, tableFilter("accounts", "user_id", fromUserID), map[string]any{"user_id": toUserID})
	if err != nil {
		return err
	}
	if err := requireMatch(body, "account", fromUserID); err != nil {
		return err
	}
	if _, err := c.doPatch(ctx, tableFilter("artifacts", "user_id", fromUserID), map[string]any{"user_id": toUserID}); err != nil {
		c.logger.Error("supabase: artifacts not rebound",
			zap.String("from", fromUserID),
			zap.String("to", toUserID),
			zap.Error(err),
		)
		return err
	}

	c.logger.Info("supabase: account rebound", zap.String("from", fromUserID), zap.String("to", toUserID))
	return nil
}

func requireMatch(body []byte, resource, id string) error {
	n, err := matchedRows(body)
	if err != nil {
		return err
	}
	if n == 0 {
		return &domain.ErrNotFound{Resource: resource, ID: id}
	}
	return nil
}
