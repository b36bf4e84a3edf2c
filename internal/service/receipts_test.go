package service_test

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/boddenberg/receipt-assistant-go/internal/domain"
	"github.com/boddenberg/receipt-assistant-go/internal/infra/sqlite"
	"github.com/boddenberg/receipt-assistant-go/internal/service"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// --- Mocks ---

type sentMessage struct {
	to    string
	text  string
	media *domain.Media
}

type mockMessenger struct {
	mu       sync.Mutex
	sent     []sentMessage
	mediaErr error
}

func (m *mockMessenger) SendText(_ context.Context, to, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentMessage{to: to, text: text})
	return nil
}

func (m *mockMessenger) SendListMenu(_ context.Context, to string, menu *domain.ListMenu) error {
	return m.SendText(context.Background(), to, menu.Body)
}

func (m *mockMessenger) SendButtons(_ context.Context, to string, menu *domain.ButtonMenu) error {
	return m.SendText(context.Background(), to, menu.Body)
}

func (m *mockMessenger) SendMedia(_ context.Context, to string, media *domain.Media) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.mediaErr != nil {
		return m.mediaErr
	}
	m.sent = append(m.sent, sentMessage{to: to, media: media})
	return nil
}

func (m *mockMessenger) last() sentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return sentMessage{}
	}
	return m.sent[len(m.sent)-1]
}

type mockRenderer struct {
	urls []string
	err  error
}

func (r *mockRenderer) Render(_ context.Context, url string, format domain.OutputFormat) ([]byte, error) {
	r.urls = append(r.urls, url)
	if r.err != nil {
		return nil, r.err
	}
	if format == domain.FormatPDF {
		return []byte("%PDF-1.4"), nil
	}
	return []byte{0x89, 'P', 'N', 'G'}, nil
}

func openStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.Open(filepath.Join(t.TempDir(), "svc.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seedAccount(t *testing.T, s *sqlite.Store, acc *domain.Account) *domain.Account {
	t.Helper()
	if acc.CreatedAt.IsZero() {
		acc.CreatedAt = time.Now()
	}
	if err := s.CreateAccount(context.Background(), acc); err != nil {
		t.Fatalf("seed account: %v", err)
	}
	return acc
}

func completePayload() domain.Payload {
	return domain.Payload{
		CustomerName:  "Musa",
		Items:         []domain.LineItem{{Name: "Rice", Price: 5000, Quantity: 2}, {Name: "Oil", Price: 2500, Quantity: 1}},
		PaymentMethod: "Transfer",
	}
}

// --- Tests ---

func TestFinalize_PersistsRendersAndSends(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	acc := seedAccount(t, store, &domain.Account{UserID: "u1", BrandName: "Mama Put", Format: domain.FormatPDF, Template: 2, RecoveryCode: "AAAA1111"})
	msg := &mockMessenger{}
	rnd := &mockRenderer{}
	svc := service.NewReceiptService(store, rnd, msg, "https://receipts.example.com", zap.NewNop())

	art, err := svc.Finalize(ctx, acc, completePayload())
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if !art.Total.Equal(decimal.NewFromInt(12500)) {
		t.Errorf("total = %s, want 12500", art.Total)
	}

	stored, err := store.GetArtifact(ctx, art.ID)
	if err != nil {
		t.Fatalf("artifact not persisted: %v", err)
	}
	if stored.CustomerName != "Musa" || len(stored.Items) != 2 {
		t.Errorf("unexpected stored artifact: %+v", stored)
	}

	reloaded, _ := store.GetAccount(ctx, "u1")
	if reloaded.ReceiptCount != 1 {
		t.Errorf("receipt count = %d, want 1", reloaded.ReceiptCount)
	}

	if len(rnd.urls) != 1 || !strings.HasPrefix(rnd.urls[0], "https://receipts.example.com/template.2.html?") {
		t.Fatalf("unexpected render urls: %v", rnd.urls)
	}
	if !strings.Contains(rnd.urls[0], "rid="+art.ID) {
		t.Errorf("render url missing artifact id: %s", rnd.urls[0])
	}

	sent := msg.last()
	if sent.media == nil {
		t.Fatalf("expected media, got %+v", sent)
	}
	if sent.media.MIMEType != "application/pdf" || sent.media.Filename != "Receipt_Musa.pdf" {
		t.Errorf("unexpected media: %+v", sent.media)
	}
	if sent.media.Caption != "Here is the receipt for Musa." {
		t.Errorf("caption = %q", sent.media.Caption)
	}
}

func TestFinalize_IncompletePayloadRejected(t *testing.T) {
	store := openStore(t)
	acc := seedAccount(t, store, &domain.Account{UserID: "u1", BrandName: "B", RecoveryCode: "AAAA1111"})
	svc := service.NewReceiptService(store, &mockRenderer{}, &mockMessenger{}, "", zap.NewNop())

	p := completePayload()
	p.PaymentMethod = ""
	_, err := svc.Finalize(context.Background(), acc, p)

	var verr *domain.ErrValidation
	if !errors.As(err, &verr) || verr.Field != string(domain.FieldPaymentMethod) {
		t.Fatalf("expected validation error on paymentMethod, got %v", err)
	}
}

func TestFinalize_RenderFailureReturnsError(t *testing.T) {
	store := openStore(t)
	acc := seedAccount(t, store, &domain.Account{UserID: "u1", BrandName: "B", RecoveryCode: "AAAA1111"})
	rnd := &mockRenderer{err: &domain.ErrTimeout{Operation: "render"}}
	svc := service.NewReceiptService(store, rnd, &mockMessenger{}, "", zap.NewNop())

	art, err := svc.Finalize(context.Background(), acc, completePayload())

	var terr *domain.ErrTimeout
	if !errors.As(err, &terr) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if art == nil {
		t.Fatal("artifact should be returned even when delivery fails")
	}
}

func TestFinalize_SendFailureIsReported(t *testing.T) {
	store := openStore(t)
	acc := seedAccount(t, store, &domain.Account{UserID: "u1", BrandName: "B", RecoveryCode: "AAAA1111"})
	msg := &mockMessenger{mediaErr: errors.New("upload failed")}
	svc := service.NewReceiptService(store, &mockRenderer{}, msg, "", zap.NewNop())

	if _, err := svc.Finalize(context.Background(), acc, completePayload()); err != nil {
		t.Fatalf("send failure must not fail finalize: %v", err)
	}
	if got := msg.last().text; got != "Failed to send the file." {
		t.Errorf("last text = %q", got)
	}
}

func TestSendHistory(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	acc := seedAccount(t, store, &domain.Account{UserID: "u1", BrandName: "B", RecoveryCode: "AAAA1111"})
	msg := &mockMessenger{}
	svc := service.NewReceiptService(store, &mockRenderer{}, msg, "", zap.NewNop())

	if err := svc.SendHistory(ctx, acc); err != nil {
		t.Fatalf("SendHistory: %v", err)
	}
	if got := msg.last().text; got != "No receipts found." {
		t.Errorf("empty history = %q", got)
	}

	base := time.Now().Add(-time.Hour)
	for i, name := range []string{"A", "B", "C", "D", "E", "F"} {
		p := completePayload()
		p.CustomerName = name
		art := domain.NewArtifact(name+"-id", "u1", p, base.Add(time.Duration(i)*time.Minute))
		if err := store.CreateArtifact(ctx, art); err != nil {
			t.Fatalf("create artifact: %v", err)
		}
	}

	if err := svc.SendHistory(ctx, acc); err != nil {
		t.Fatalf("SendHistory: %v", err)
	}
	got := msg.last().text
	if !strings.HasPrefix(got, "🧾 *Recent Receipts:*\n*1.* F - ₦12,500\n") {
		t.Errorf("history should start with the newest receipt: %q", got)
	}
	if strings.Contains(got, " A - ") || strings.Count(got, "\n") != 6 {
		t.Errorf("history should hold five receipts: %q", got)
	}
}

func TestSendStats_CountsCurrentMonth(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	acc := seedAccount(t, store, &domain.Account{UserID: "u1", BrandName: "B", RecoveryCode: "AAAA1111"})
	msg := &mockMessenger{}
	svc := service.NewReceiptService(store, &mockRenderer{}, msg, "", zap.NewNop())

	now := time.Now()
	old := domain.NewArtifact("old", "u1", completePayload(), domain.StartOfMonth(now).Add(-time.Hour))
	fresh := domain.NewArtifact("fresh", "u1", completePayload(), now)
	for _, a := range []*domain.Artifact{old, fresh} {
		if err := store.CreateArtifact(ctx, a); err != nil {
			t.Fatalf("create artifact: %v", err)
		}
	}

	if err := svc.SendStats(ctx, acc); err != nil {
		t.Fatalf("SendStats: %v", err)
	}
	if got := msg.last().text; got != "📊 *Monthly Stats*\nReceipts: 1" {
		t.Errorf("stats = %q", got)
	}
}

func TestResend(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	seedAccount(t, store, &domain.Account{UserID: "u1", BrandName: "B", RecoveryCode: "AAAA1111"})
	msg := &mockMessenger{}
	svc := service.NewReceiptService(store, &mockRenderer{}, msg, "", zap.NewNop())

	art := domain.NewArtifact("art-1", "u1", completePayload(), time.Now())
	if err := store.CreateArtifact(ctx, art); err != nil {
		t.Fatalf("create artifact: %v", err)
	}

	resp, err := svc.Resend(ctx, "art-1")
	if err != nil {
		t.Fatalf("Resend: %v", err)
	}
	if resp.UserID != "u1" || resp.Format != string(domain.FormatImage) {
		t.Errorf("unexpected response: %+v", resp)
	}
	if m := msg.last().media; m == nil || m.MIMEType != "image/png" {
		t.Errorf("expected png media, got %+v", msg.last())
	}

	_, err = svc.Resend(ctx, "missing")
	var nf *domain.ErrNotFound
	if !errors.As(err, &nf) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFormatAmount(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"0", "0"},
		{"999", "999"},
		{"12500", "12,500"},
		{"1234567.5", "1,234,567.50"},
		{"-4000", "-4,000"},
	}
	for _, tt := range tests {
		if got := service.FormatAmount(decimal.RequireFromString(tt.in)); got != tt.want {
			t.Errorf("FormatAmount(%s) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
