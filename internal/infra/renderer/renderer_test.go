package renderer

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/boddenberg/receipt-assistant-go/internal/domain"
	"github.com/boddenberg/receipt-assistant-go/internal/infra/observability"

	"go.uber.org/zap"
)

func TestBuildURL(t *testing.T) {
	acc := &domain.Account{BrandName: "Musa Stores", BrandColor: "#FF0000", Template: 3}
	p := domain.Payload{
		CustomerName: "Mr. John",
		Items: []domain.LineItem{
			{Name: "Rice", Price: 3000, Quantity: 2},
			{Name: "Beans", Price: 1500, Quantity: 1},
		},
		PaymentMethod: "Transfer",
	}

	got := BuildURL("https://receipts.example.com/r", acc, p, "art-42")

	if !strings.HasPrefix(got, "https://receipts.example.com/r/template.3.html?") {
		t.Fatalf("unexpected prefix: %s", got)
	}
	u, err := url.Parse(got)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	q := u.Query()
	want := map[string]string{
		"bn":     "Musa Stores",
		"bc":     "#FF0000",
		"logo":   "",
		"cn":     "Mr. John",
		"items":  "Rice (x2)||Beans",
		"prices": "6000,1500",
		"pm":     "Transfer",
		"rid":    "art-42",
	}
	for k, v := range want {
		if q.Get(k) != v {
			t.Errorf("%s = %q, want %q", k, q.Get(k), v)
		}
	}
}

func TestBuildURL_DefaultTemplate(t *testing.T) {
	got := BuildURL("http://localhost:3000/", &domain.Account{}, domain.Payload{}, "x")
	if !strings.HasPrefix(got, "http://localhost:3000/template.1.html?") {
		t.Fatalf("unexpected url: %s", got)
	}
}

func TestRender_QueueTimeout(t *testing.T) {
	r := NewRodRenderer("", 50*time.Millisecond, 1, observability.NewMetrics(), zap.NewNop())
	if err := r.bulkhead.Acquire(context.Background()); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer r.bulkhead.Release()

	_, err := r.Render(context.Background(), "http://localhost/", domain.FormatPDF)

	var te *domain.ErrTimeout
	if !errors.As(err, &te) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if r.bulkhead.InUse() != 1 {
		t.Fatalf("slot leaked: in use = %d", r.bulkhead.InUse())
	}
}
