// Package service holds the actions a conversation turn can trigger:
// receipt finalization and lookups, onboarding and restore, profile
// updates, plus operator authentication for the support API.
package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/boddenberg/receipt-assistant-go/internal/domain"
	"github.com/boddenberg/receipt-assistant-go/internal/infra/renderer"
	"github.com/boddenberg/receipt-assistant-go/internal/port"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("service")

const (
	historyLimit        = 5
	replyNoReceipts     = "No receipts found."
	replySendFileFailed = "Failed to send the file."
)

// ReceiptStore is the persistence the receipt actions need.
type ReceiptStore interface {
	port.ArtifactStore
	GetAccount(ctx context.Context, userID string) (*domain.Account, error)
	IncrementReceiptCount(ctx context.Context, userID string) error
}

// ReceiptService finalizes receipts and answers history and stats lookups.
type ReceiptService struct {
	store     ReceiptStore
	renderer  port.Renderer
	messenger port.Messenger
	baseURL   string
	logger    *zap.Logger
	now       func() time.Time
}

func NewReceiptService(store ReceiptStore, r port.Renderer, messenger port.Messenger, baseURL string, logger *zap.Logger) *ReceiptService {
	return &ReceiptService{
		store:     store,
		renderer:  r,
		messenger: messenger,
		baseURL:   baseURL,
		logger:    logger,
		now:       time.Now,
	}
}

// ============================================================
// Finalize
// ============================================================

// Finalize persists the artifact, bumps the account counter, renders the
// receipt and sends it. Render failures are returned; a failed send is
// reported to the user and swallowed.
func (s *ReceiptService) Finalize(ctx context.Context, acc *domain.Account, p domain.Payload) (*domain.Artifact, error) {
	ctx, span := tracer.Start(ctx, "ReceiptService.Finalize")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", acc.UserID))

	if next := p.NextMissing(); next != "" {
		return nil, &domain.ErrValidation{Field: string(next), Message: "required"}
	}

	art := domain.NewArtifact(uuid.NewString(), acc.UserID, p, s.now().UTC())
	if err := s.store.CreateArtifact(ctx, art); err != nil {
		return nil, fmt.Errorf("create artifact: %w", err)
	}
	if err := s.store.IncrementReceiptCount(ctx, acc.UserID); err != nil {
		s.logger.Warn("receipt count not incremented", zap.String("user_id", acc.UserID), zap.Error(err))
	}
	span.SetAttributes(attribute.String("artifact.id", art.ID))

	if err := s.deliver(ctx, acc, art); err != nil {
		return art, err
	}

	s.logger.Info("receipt delivered",
		zap.String("user_id", acc.UserID),
		zap.String("artifact_id", art.ID),
		zap.String("total", art.Total.String()),
	)
	return art, nil
}

// Resend re-renders a stored artifact for its current owner.
func (s *ReceiptService) Resend(ctx context.Context, artifactID string) (*domain.ResendResponse, error) {
	ctx, span := tracer.Start(ctx, "ReceiptService.Resend")
	defer span.End()

	art, err := s.store.GetArtifact(ctx, artifactID)
	if err != nil {
		return nil, err
	}
	acc, err := s.store.GetAccount(ctx, art.UserID)
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	if acc == nil {
		return nil, &domain.ErrNotFound{Resource: "account", ID: art.UserID}
	}

	if err := s.deliver(ctx, acc, art); err != nil {
		return nil, err
	}
	return &domain.ResendResponse{
		ArtifactID: art.ID,
		UserID:     acc.UserID,
		Format:     string(acc.FormatOrDefault()),
	}, nil
}

func (s *ReceiptService) deliver(ctx context.Context, acc *domain.Account, art *domain.Artifact) error {
	p := art.Payload()
	format := acc.FormatOrDefault()
	url := renderer.BuildURL(s.baseURL, acc, p, art.ID)

	data, err := s.renderer.Render(ctx, url, format)
	if err != nil {
		return fmt.Errorf("render receipt: %w", err)
	}

	media := &domain.Media{
		Data:     data,
		MIMEType: "image/png",
		Caption:  fmt.Sprintf("Here is the receipt for %s.", p.CustomerName),
	}
	if format == domain.FormatPDF {
		media.MIMEType = "application/pdf"
		media.Filename = fmt.Sprintf("Receipt_%s.pdf", p.CustomerName)
	}

	if err := s.messenger.SendMedia(ctx, acc.UserID, media); err != nil {
		s.logger.Warn("receipt file not delivered", zap.String("user_id", acc.UserID), zap.String("artifact_id", art.ID), zap.Error(err))
		sendText(ctx, s.messenger, s.logger, acc.UserID, replySendFileFailed)
	}
	return nil
}

// ============================================================
// Lookups
// ============================================================

// SendHistory lists the newest receipts.
func (s *ReceiptService) SendHistory(ctx context.Context, acc *domain.Account) error {
	ctx, span := tracer.Start(ctx, "ReceiptService.SendHistory")
	defer span.End()

	arts, err := s.store.ListRecentArtifacts(ctx, acc.UserID, historyLimit)
	if err != nil {
		return fmt.Errorf("list artifacts: %w", err)
	}
	sendText(ctx, s.messenger, s.logger, acc.UserID, FormatHistory(arts))
	return nil
}

// SendStats counts receipts created since the first instant of this month.
func (s *ReceiptService) SendStats(ctx context.Context, acc *domain.Account) error {
	ctx, span := tracer.Start(ctx, "ReceiptService.SendStats")
	defer span.End()

	n, err := s.store.CountArtifactsSince(ctx, acc.UserID, domain.StartOfMonth(s.now()))
	if err != nil {
		return fmt.Errorf("count artifacts: %w", err)
	}
	sendText(ctx, s.messenger, s.logger, acc.UserID, fmt.Sprintf("📊 *Monthly Stats*\nReceipts: %d", n))
	return nil
}

// ListArtifacts backs the operator API.
func (s *ReceiptService) ListArtifacts(ctx context.Context, userID string, limit int) ([]domain.Artifact, error) {
	ctx, span := tracer.Start(ctx, "ReceiptService.ListArtifacts")
	defer span.End()

	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.store.ListRecentArtifacts(ctx, userID, limit)
}

// FormatHistory renders the numbered history message.
func FormatHistory(arts []domain.Artifact) string {
	if len(arts) == 0 {
		return replyNoReceipts
	}
	var b strings.Builder
	b.WriteString("🧾 *Recent Receipts:*\n")
	for i, a := range arts {
		fmt.Fprintf(&b, "*%d.* %s - ₦%s\n", i+1, a.CustomerName, FormatAmount(a.Total))
	}
	return b.String()
}

// FormatAmount groups thousands and drops a zero fraction: 12500 → "12,500",
// 99.5 → "99.50".
func FormatAmount(d decimal.Decimal) string {
	s := d.StringFixed(2)
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")

	whole, frac, _ := strings.Cut(s, ".")
	var b strings.Builder
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	out := b.String()
	if frac != "00" {
		out += "." + frac
	}
	if neg {
		out = "-" + out
	}
	return out
}

// sendText delivers a reply. Transport failures are logged, never returned.
func sendText(ctx context.Context, m port.Messenger, logger *zap.Logger, to, text string) {
	if err := m.SendText(ctx, to, text); err != nil {
		logger.Warn("message not delivered", zap.String("user_id", to), zap.Error(err))
	}
}
