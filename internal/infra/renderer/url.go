// Package renderer turns a receipt into PDF or PNG bytes by loading an HTML
// template in a headless browser.
package renderer

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/boddenberg/receipt-assistant-go/internal/domain"
)

// BuildURL encodes the account branding and receipt lines as query
// parameters of template.<n>.html under baseURL. Items are display names
// joined by "||"; prices are line totals joined by ",".
func BuildURL(baseURL string, acc *domain.Account, p domain.Payload, artifactID string) string {
	names := make([]string, 0, len(p.Items))
	prices := make([]string, 0, len(p.Items))
	for _, li := range p.Items {
		names = append(names, li.DisplayName())
		prices = append(prices, li.LineTotal().String())
	}

	q := url.Values{}
	q.Set("bn", acc.BrandName)
	q.Set("bc", acc.BrandColor)
	q.Set("logo", acc.LogoURL)
	q.Set("cn", p.CustomerName)
	q.Set("items", strings.Join(names, "||"))
	q.Set("prices", strings.Join(prices, ","))
	q.Set("pm", p.PaymentMethod)
	q.Set("rid", artifactID)

	if baseURL != "" && !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return fmt.Sprintf("%stemplate.%d.html?%s", baseURL, acc.TemplateOrDefault(), q.Encode())
}
