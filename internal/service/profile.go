package service

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/boddenberg/receipt-assistant-go/internal/domain"
	"github.com/boddenberg/receipt-assistant-go/internal/port"

	"go.uber.org/zap"
)

// MaxTemplate is the highest template number served under RECEIPT_BASE_URL.
const MaxTemplate = 5

const profileHelp = "🎨 *My Brand*\n" +
	"Business: %s\nColor: %s\nLogo: %s\nFormat: %s\nTemplate: %d\n\n" +
	"To change a setting, send one of:\n" +
	"• `name Musa Stores`\n" +
	"• `color #FF0000`\n" +
	"• `logo https://example.com/logo.png`\n" +
	"• `format pdf` or `format image`\n" +
	"• `template 2`"

var (
	hexColor  = regexp.MustCompile(`^#?([0-9a-fA-F]{3}|[0-9a-fA-F]{6})$`)
	colorWord = regexp.MustCompile(`^[A-Za-z][A-Za-z ]{1,29}$`)
)

// ProfileService applies brand updates written as "key value".
type ProfileService struct {
	accounts  port.AccountStore
	messenger port.Messenger
	logger    *zap.Logger
}

func NewProfileService(accounts port.AccountStore, messenger port.Messenger, logger *zap.Logger) *ProfileService {
	return &ProfileService{accounts: accounts, messenger: messenger, logger: logger}
}

// UpdateProfile parses text as one setting change. Anything it cannot read
// gets the current settings and the list of keys.
func (s *ProfileService) UpdateProfile(ctx context.Context, acc *domain.Account, text string) error {
	ctx, span := tracer.Start(ctx, "ProfileService.UpdateProfile")
	defer span.End()

	update, err := ParseProfileCommand(text)
	if err != nil {
		s.logger.Debug("profile command not understood", zap.String("user_id", acc.UserID), zap.Error(err))
		sendText(ctx, s.messenger, s.logger, acc.UserID, ProfileSummary(acc))
		return nil
	}

	updated := *acc
	update.Apply(&updated)
	if err := s.accounts.UpdateAccount(ctx, &updated); err != nil {
		return fmt.Errorf("update account: %w", err)
	}
	*acc = updated

	s.logger.Info("profile updated", zap.String("user_id", acc.UserID))
	sendText(ctx, s.messenger, s.logger, acc.UserID, "✅ Brand updated.\n\n"+ProfileSummary(acc))
	return nil
}

// ProfileSummary lists current settings and how to change them.
func ProfileSummary(acc *domain.Account) string {
	orNone := func(s string) string {
		if s == "" {
			return "-"
		}
		return s
	}
	return fmt.Sprintf(profileHelp,
		orNone(acc.BrandName), orNone(acc.BrandColor), orNone(acc.LogoURL),
		acc.FormatOrDefault(), acc.TemplateOrDefault())
}

// ParseProfileCommand reads the first recognized key and its value from
// text such as "color #FF0000", "change my logo to https://...",
// "format: pdf" or "template 2".
func ParseProfileCommand(text string) (domain.ProfileUpdate, error) {
	words := strings.Fields(text)
	for i, w := range words {
		key := strings.ToLower(strings.TrimRight(w, ":="))
		value := strings.TrimSpace(strings.Join(trimFiller(key, words[i+1:]), " "))
		switch key {
		case "name", "business", "brandname":
			if value == "" {
				return domain.ProfileUpdate{}, &domain.ErrValidation{Field: "name", Message: "empty"}
			}
			return domain.ProfileUpdate{BrandName: &value}, nil

		case "color", "colour":
			c, err := parseColor(value)
			if err != nil {
				return domain.ProfileUpdate{}, err
			}
			return domain.ProfileUpdate{BrandColor: &c}, nil

		case "logo":
			u, err := url.ParseRequestURI(value)
			if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
				return domain.ProfileUpdate{}, &domain.ErrValidation{Field: "logo", Message: "must be an http(s) URL"}
			}
			return domain.ProfileUpdate{LogoURL: &value}, nil

		case "format":
			f, ok := domain.ParseOutputFormat(value)
			if !ok {
				return domain.ProfileUpdate{}, &domain.ErrValidation{Field: "format", Message: "must be pdf or image"}
			}
			return domain.ProfileUpdate{Format: &f}, nil

		case "template":
			n, err := strconv.Atoi(value)
			if err != nil || n < 1 || n > MaxTemplate {
				return domain.ProfileUpdate{}, &domain.ErrValidation{Field: "template", Message: fmt.Sprintf("must be 1-%d", MaxTemplate)}
			}
			return domain.ProfileUpdate{Template: &n}, nil
		}
	}
	return domain.ProfileUpdate{}, &domain.ErrValidation{Field: "profile", Message: "no setting recognized"}
}

// trimFiller drops leading connective words. After "business" a leading
// "name" is filler too: "business name to Musa Stores".
func trimFiller(key string, words []string) []string {
	for len(words) > 0 {
		switch w := strings.ToLower(words[0]); {
		case w == "to", w == "is", w == "as", w == "should", w == "be":
			words = words[1:]
			continue
		case w == "name" && key == "business":
			words = words[1:]
			continue
		}
		break
	}
	return words
}

func parseColor(v string) (string, error) {
	switch {
	case hexColor.MatchString(v):
		return "#" + strings.ToUpper(strings.TrimPrefix(v, "#")), nil
	case colorWord.MatchString(v):
		return v, nil
	}
	return "", &domain.ErrValidation{Field: "color", Message: "must be a color name or hex code"}
}
