package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/boddenberg/receipt-assistant-go/internal/domain"
	"github.com/boddenberg/receipt-assistant-go/internal/port"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const (
	replyWelcome      = "👋 Welcome! Let's set up your brand. What is your *Business Name*?"
	replyAskColor     = "Great! What is your *Brand Color*? (e.g. Blue, #FF0000)"
	replySetupDone    = "✅ *Setup Complete!*\n\nYou can now generate receipts instantly. Try saying:\n\n_\"Receipt for Mr. John, 2 shoes at 5000 each, paid by Transfer\"_"
	replyBackupCode   = "\n\n🔐 Your backup code is *%s*. If you change numbers, send `restore %s` to get your account back."
	replyRestoreUsage = "Please provide a backup code. Example: `restore A1B2C3D4`"
	replyRestoreBad   = "❌ Invalid backup code."
	replyRestored     = "✅ *Account Restored!* Welcome back, %s."

	recoveryCodeLength   = 8
	recoveryCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	maxCodeAttempts      = 5
	maxBrandNameLength   = 80
)

// OnboardingStore is the persistence onboarding and restore need.
type OnboardingStore interface {
	port.SessionStore
	FindAccountByRecoveryCode(ctx context.Context, code string) (*domain.Account, error)
	CreateAccount(ctx context.Context, acc *domain.Account) error
	RebindAccount(ctx context.Context, fromUserID, toUserID string) error
}

// OnboardingService walks a new user through brand setup and restores
// accounts onto a new number.
type OnboardingService struct {
	store     OnboardingStore
	messenger port.Messenger
	logger    *zap.Logger
	now       func() time.Time
	newCode   func() (string, error)
}

func NewOnboardingService(store OnboardingStore, messenger port.Messenger, logger *zap.Logger) *OnboardingService {
	return &OnboardingService{
		store:     store,
		messenger: messenger,
		logger:    logger,
		now:       time.Now,
		newCode:   GenerateRecoveryCode,
	}
}

// Onboard advances the setup conversation by one step:
// welcome → brand name → brand color → account created.
func (s *OnboardingService) Onboard(ctx context.Context, userID, text string, sess *domain.Session) error {
	ctx, span := tracer.Start(ctx, "OnboardingService.Onboard")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", userID))

	switch {
	case sess == nil || !sess.State.IsOnboarding():
		if err := s.saveStep(ctx, userID, domain.StateOnboardingBrandName, ""); err != nil {
			return err
		}
		sendText(ctx, s.messenger, s.logger, userID, replyWelcome)
		return nil

	case sess.State == domain.StateOnboardingBrandName:
		name := strings.TrimSpace(text)
		if r := []rune(name); len(r) > maxBrandNameLength {
			name = string(r[:maxBrandNameLength])
		}
		if err := s.saveStep(ctx, userID, domain.StateOnboardingBrandColor, name); err != nil {
			return err
		}
		sendText(ctx, s.messenger, s.logger, userID, replyAskColor)
		return nil

	default:
		acc, err := s.createAccount(ctx, userID, sess.BrandName, strings.TrimSpace(text))
		if err != nil {
			return err
		}
		if err := s.store.DeleteSession(ctx, userID); err != nil {
			return fmt.Errorf("clear onboarding session: %w", err)
		}
		s.logger.Info("account created", zap.String("user_id", userID), zap.String("brand", acc.BrandName))
		msg := replySetupDone + fmt.Sprintf(replyBackupCode, acc.RecoveryCode, acc.RecoveryCode)
		sendText(ctx, s.messenger, s.logger, userID, msg)
		return nil
	}
}

func (s *OnboardingService) saveStep(ctx context.Context, userID string, state domain.SessionState, brandName string) error {
	err := s.store.UpsertSession(ctx, &domain.Session{
		UserID:    userID,
		State:     state,
		BrandName: brandName,
		UpdatedAt: s.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("save onboarding step: %w", err)
	}
	return nil
}

// createAccount retries when the generated recovery code collides.
func (s *OnboardingService) createAccount(ctx context.Context, userID, brandName, brandColor string) (*domain.Account, error) {
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code, err := s.newCode()
		if err != nil {
			return nil, fmt.Errorf("generate recovery code: %w", err)
		}
		acc := &domain.Account{
			UserID:       userID,
			BrandName:    brandName,
			BrandColor:   brandColor,
			Format:       domain.FormatImage,
			Template:     domain.DefaultTemplate,
			RecoveryCode: code,
			CreatedAt:    s.now().UTC(),
		}
		err = s.store.CreateAccount(ctx, acc)
		if err == nil {
			return acc, nil
		}
		var conflict *domain.ErrConflict
		if !errors.As(err, &conflict) {
			return nil, fmt.Errorf("create account: %w", err)
		}
		s.logger.Warn("recovery code collision, retrying", zap.Int("attempt", attempt+1))
	}
	return nil, &domain.ErrConflict{Message: "could not allocate a unique recovery code"}
}

// Restore handles "restore CODE": the matching account and its receipts
// move to the sender's user id.
func (s *OnboardingService) Restore(ctx context.Context, userID, text string) error {
	ctx, span := tracer.Start(ctx, "OnboardingService.Restore")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", userID))

	fields := strings.Fields(text)
	if len(fields) < 2 {
		sendText(ctx, s.messenger, s.logger, userID, replyRestoreUsage)
		return nil
	}

	acc, err := s.store.FindAccountByRecoveryCode(ctx, fields[1])
	if err != nil {
		return fmt.Errorf("find account by recovery code: %w", err)
	}
	if acc == nil {
		s.logger.Info("restore with unknown code", zap.String("user_id", userID))
		sendText(ctx, s.messenger, s.logger, userID, replyRestoreBad)
		return nil
	}

	if acc.UserID != userID {
		if err := s.store.RebindAccount(ctx, acc.UserID, userID); err != nil {
			return fmt.Errorf("rebind account: %w", err)
		}
	}
	if err := s.store.DeleteSession(ctx, userID); err != nil {
		return fmt.Errorf("clear onboarding session: %w", err)
	}

	s.logger.Info("account restored", zap.String("from", acc.UserID), zap.String("to", userID))
	sendText(ctx, s.messenger, s.logger, userID, fmt.Sprintf(replyRestored, acc.BrandName))
	return nil
}

// GenerateRecoveryCode returns 8 upper-case alphanumerics from crypto/rand.
func GenerateRecoveryCode() (string, error) {
	max := big.NewInt(int64(len(recoveryCodeAlphabet)))
	b := make([]byte, recoveryCodeLength)
	for i := range b {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b[i] = recoveryCodeAlphabet[n.Int64()]
	}
	return string(b), nil
}
