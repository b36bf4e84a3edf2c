package domain

import (
	"strings"
	"time"
)

// ============================================================
// Accounts
// ============================================================

// OutputFormat selects how a finalized receipt is rendered.
type OutputFormat string

const (
	FormatImage OutputFormat = "IMAGE"
	FormatPDF   OutputFormat = "PDF"
)

// ParseOutputFormat accepts loose user input ("pdf", "png", "image").
func ParseOutputFormat(s string) (OutputFormat, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "PDF", "DOC", "DOCUMENT":
		return FormatPDF, true
	case "IMAGE", "IMG", "PNG", "PICTURE", "PHOTO":
		return FormatImage, true
	}
	return "", false
}

// DefaultTemplate is used when an account never picked a template.
const DefaultTemplate = 1

// Account is the durable business profile of one end user.
type Account struct {
	UserID       string       `json:"userId"`
	BrandName    string       `json:"brandName"`
	BrandColor   string       `json:"brandColor,omitempty"`
	LogoURL      string       `json:"logoUrl,omitempty"`
	Format       OutputFormat `json:"format"`
	Template     int          `json:"template"`
	ReceiptCount int          `json:"receiptCount"`
	RecoveryCode string       `json:"recoveryCode"`
	CreatedAt    time.Time    `json:"createdAt"`
}

// TemplateOrDefault returns the configured template number, never below 1.
func (a *Account) TemplateOrDefault() int {
	if a.Template < 1 {
		return DefaultTemplate
	}
	return a.Template
}

// FormatOrDefault returns IMAGE unless the account explicitly chose PDF.
func (a *Account) FormatOrDefault() OutputFormat {
	if a.Format == FormatPDF {
		return FormatPDF
	}
	return FormatImage
}

// NormalizeRecoveryCode makes recovery codes comparable regardless of case.
func NormalizeRecoveryCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ProfileUpdate carries the preference fields a user may change after onboarding.
// Nil fields are left untouched.
type ProfileUpdate struct {
	BrandName  *string
	BrandColor *string
	LogoURL    *string
	Format     *OutputFormat
	Template   *int
}

// Apply copies every set field onto the account.
func (u ProfileUpdate) Apply(a *Account) {
	if u.BrandName != nil {
		a.BrandName = *u.BrandName
	}
	if u.BrandColor != nil {
		a.BrandColor = *u.BrandColor
	}
	if u.LogoURL != nil {
		a.LogoURL = *u.LogoURL
	}
	if u.Format != nil {
		a.Format = *u.Format
	}
	if u.Template != nil {
		a.Template = *u.Template
	}
}

// IsEmpty reports whether the update would change nothing.
func (u ProfileUpdate) IsEmpty() bool {
	return u.BrandName == nil && u.BrandColor == nil && u.LogoURL == nil && u.Format == nil && u.Template == nil
}
