package service_test

import (
	"context"
	"strings"
	"testing"

	"github.com/boddenberg/receipt-assistant-go/internal/domain"
	"github.com/boddenberg/receipt-assistant-go/internal/service"

	"go.uber.org/zap"
)

func TestParseProfileCommand(t *testing.T) {
	tests := []struct {
		text  string
		check func(u domain.ProfileUpdate) bool
	}{
		{"color #ff0000", func(u domain.ProfileUpdate) bool { return u.BrandColor != nil && *u.BrandColor == "#FF0000" }},
		{"change my colour to Navy Blue", func(u domain.ProfileUpdate) bool { return u.BrandColor != nil && *u.BrandColor == "Navy Blue" }},
		{"format: pdf", func(u domain.ProfileUpdate) bool { return u.Format != nil && *u.Format == domain.FormatPDF }},
		{"Format image", func(u domain.ProfileUpdate) bool { return u.Format != nil && *u.Format == domain.FormatImage }},
		{"template 3", func(u domain.ProfileUpdate) bool { return u.Template != nil && *u.Template == 3 }},
		{"logo https://cdn.example.com/l.png", func(u domain.ProfileUpdate) bool {
			return u.LogoURL != nil && *u.LogoURL == "https://cdn.example.com/l.png"
		}},
		{"name Musa Stores", func(u domain.ProfileUpdate) bool { return u.BrandName != nil && *u.BrandName == "Musa Stores" }},
		{"change business name to Musa Stores", func(u domain.ProfileUpdate) bool { return u.BrandName != nil && *u.BrandName == "Musa Stores" }},
		{"business: Ada Foods", func(u domain.ProfileUpdate) bool { return u.BrandName != nil && *u.BrandName == "Ada Foods" }},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			u, err := service.ParseProfileCommand(tt.text)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tt.check(u) {
				t.Errorf("unexpected update: %+v", u)
			}
		})
	}
}

func TestParseProfileCommand_Rejects(t *testing.T) {
	for _, text := range []string{
		"Update my brand",
		"template 9",
		"template two",
		"logo ftp://example.com/x.png",
		"logo not a url",
		"format gif",
		"color #12",
		"name",
		"business name",
	} {
		if u, err := service.ParseProfileCommand(text); err == nil {
			t.Errorf("%q: expected error, got %+v", text, u)
		}
	}
}

func TestUpdateProfile(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	acc := seedAccount(t, store, &domain.Account{UserID: "u1", BrandName: "Old", BrandColor: "Red", RecoveryCode: "AAAA1111"})
	msg := &mockMessenger{}
	svc := service.NewProfileService(store, msg, zap.NewNop())

	if err := svc.UpdateProfile(ctx, acc, "format pdf"); err != nil {
		t.Fatalf("UpdateProfile: %v", err)
	}
	stored, _ := store.GetAccount(ctx, "u1")
	if stored.Format != domain.FormatPDF || stored.BrandColor != "Red" {
		t.Errorf("unexpected stored account: %+v", stored)
	}
	if acc.Format != domain.FormatPDF {
		t.Error("caller's account should reflect the update")
	}
	if got := msg.last().text; !strings.HasPrefix(got, "✅ Brand updated.") || !strings.Contains(got, "Format: PDF") {
		t.Errorf("confirmation = %q", got)
	}
}

func TestUpdateProfile_UnknownCommandShowsSettings(t *testing.T) {
	store := openStore(t)
	acc := seedAccount(t, store, &domain.Account{UserID: "u1", BrandName: "Musa Stores", RecoveryCode: "AAAA1111"})
	msg := &mockMessenger{}
	svc := service.NewProfileService(store, msg, zap.NewNop())

	if err := svc.UpdateProfile(context.Background(), acc, "Update my brand"); err != nil {
		t.Fatalf("UpdateProfile: %v", err)
	}
	got := msg.last().text
	if !strings.Contains(got, "Business: Musa Stores") || !strings.Contains(got, "Color: -") || !strings.Contains(got, "`template 2`") {
		t.Errorf("help text = %q", got)
	}
}
