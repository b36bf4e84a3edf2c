package service_test

import (
	"context"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/boddenberg/receipt-assistant-go/internal/domain"
	"github.com/boddenberg/receipt-assistant-go/internal/service"

	"go.uber.org/zap"
)

func TestOnboard_FullSetup(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	msg := &mockMessenger{}
	svc := service.NewOnboardingService(store, msg, zap.NewNop())

	if err := svc.Onboard(ctx, "u1", "hi", nil); err != nil {
		t.Fatalf("welcome: %v", err)
	}
	if !strings.Contains(msg.last().text, "*Business Name*") {
		t.Fatalf("expected brand name prompt, got %q", msg.last().text)
	}
	sess, _ := store.GetSession(ctx, "u1")
	if sess == nil || sess.State != domain.StateOnboardingBrandName {
		t.Fatalf("expected brand name step, got %+v", sess)
	}

	if err := svc.Onboard(ctx, "u1", "  Mama Put Kitchen ", sess); err != nil {
		t.Fatalf("brand name: %v", err)
	}
	if !strings.Contains(msg.last().text, "*Brand Color*") {
		t.Fatalf("expected color prompt, got %q", msg.last().text)
	}
	sess, _ = store.GetSession(ctx, "u1")
	if sess.State != domain.StateOnboardingBrandColor || sess.BrandName != "Mama Put Kitchen" {
		t.Fatalf("unexpected session after brand name: %+v", sess)
	}
	if acc, _ := store.GetAccount(ctx, "u1"); acc != nil {
		t.Fatal("account must not exist before the color step")
	}

	if err := svc.Onboard(ctx, "u1", "Blue", sess); err != nil {
		t.Fatalf("brand color: %v", err)
	}
	acc, err := store.GetAccount(ctx, "u1")
	if err != nil || acc == nil {
		t.Fatalf("account not created: %v", err)
	}
	if acc.BrandName != "Mama Put Kitchen" || acc.BrandColor != "Blue" || acc.FormatOrDefault() != domain.FormatImage {
		t.Errorf("unexpected account: %+v", acc)
	}
	if !regexp.MustCompile(`^[A-Z0-9]{8}$`).MatchString(acc.RecoveryCode) {
		t.Errorf("bad recovery code %q", acc.RecoveryCode)
	}
	if sess, _ := store.GetSession(ctx, "u1"); sess != nil {
		t.Errorf("onboarding session should be cleared, got %+v", sess)
	}
	final := msg.last().text
	if !strings.Contains(final, "Setup Complete") || !strings.Contains(final, acc.RecoveryCode) {
		t.Errorf("completion message missing code: %q", final)
	}
}

func TestOnboard_StaleCollectingSessionRestartsSetup(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	msg := &mockMessenger{}
	svc := service.NewOnboardingService(store, msg, zap.NewNop())

	stale := &domain.Session{UserID: "u1", State: domain.StateCollecting}
	if err := svc.Onboard(ctx, "u1", "receipt for John", stale); err != nil {
		t.Fatalf("Onboard: %v", err)
	}
	sess, _ := store.GetSession(ctx, "u1")
	if sess == nil || sess.State != domain.StateOnboardingBrandName {
		t.Fatalf("expected setup restart, got %+v", sess)
	}
}

func TestRestore(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	seedAccount(t, store, &domain.Account{UserID: "old-number", BrandName: "Musa Stores", RecoveryCode: "ZX81QW34"})
	art := domain.NewArtifact("art-1", "old-number", completePayload(), time.Now())
	if err := store.CreateArtifact(ctx, art); err != nil {
		t.Fatalf("create artifact: %v", err)
	}
	msg := &mockMessenger{}
	svc := service.NewOnboardingService(store, msg, zap.NewNop())

	tests := []struct {
		name string
		text string
		want string
	}{
		{"missing code", "restore", "Please provide a backup code. Example: `restore A1B2C3D4`"},
		{"unknown code", "restore NOPE0000", "❌ Invalid backup code."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := svc.Restore(ctx, "new-number", tt.text); err != nil {
				t.Fatalf("Restore: %v", err)
			}
			if got := msg.last().text; got != tt.want {
				t.Errorf("reply = %q, want %q", got, tt.want)
			}
		})
	}

	if err := svc.Restore(ctx, "new-number", "restore zx81qw34"); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if got := msg.last().text; got != "✅ *Account Restored!* Welcome back, Musa Stores." {
		t.Errorf("reply = %q", got)
	}
	if acc, _ := store.GetAccount(ctx, "new-number"); acc == nil {
		t.Fatal("account should move to the new number")
	}
	if acc, _ := store.GetAccount(ctx, "old-number"); acc != nil {
		t.Error("old number should no longer own the account")
	}
	moved, err := store.GetArtifact(ctx, "art-1")
	if err != nil || moved.UserID != "new-number" {
		t.Errorf("artifacts should follow the account, got %+v (%v)", moved, err)
	}
}

func TestGenerateRecoveryCode(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		code, err := service.GenerateRecoveryCode()
		if err != nil {
			t.Fatalf("GenerateRecoveryCode: %v", err)
		}
		if len(code) != 8 || strings.ToUpper(code) != code {
			t.Fatalf("bad code %q", code)
		}
		seen[code] = true
	}
	if len(seen) < 45 {
		t.Errorf("codes should be effectively unique, got %d distinct of 50", len(seen))
	}
}
