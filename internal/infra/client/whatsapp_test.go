package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/boddenberg/receipt-assistant-go/internal/domain"
	"github.com/boddenberg/receipt-assistant-go/internal/infra/resilience"

	"go.uber.org/zap"
)

type graphCall struct {
	path        string
	auth        string
	contentType string
	body        []byte
}

type fakeGraph struct {
	mu         sync.Mutex
	calls      []graphCall
	status     int
	mediaID    string
	failPrefix string
}

func (f *fakeGraph) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	f.calls = append(f.calls, graphCall{path: r.URL.Path, auth: r.Header.Get("Authorization"), contentType: r.Header.Get("Content-Type"), body: body})
	status, failPrefix := f.status, f.failPrefix
	f.mu.Unlock()

	if failPrefix != "" && strings.HasSuffix(r.URL.Path, failPrefix) {
		w.WriteHeader(status)
		return
	}
	if strings.HasSuffix(r.URL.Path, "/media") {
		_ = json.NewEncoder(w).Encode(map[string]string{"id": f.mediaID})
		return
	}
	_, _ = w.Write([]byte(`{"messages":[{"id":"wamid.1"}]}`))
}

func newTestWhatsApp(t *testing.T, graph *fakeGraph) *WhatsAppClient {
	t.Helper()
	srv := httptest.NewServer(graph)
	t.Cleanup(srv.Close)
	cfg := resilience.Config{MaxRetries: 1, InitialBackoff: time.Millisecond}
	return NewWhatsAppClient(srv.Client(), srv.URL+"/v19.0/", "PHONE", "tok", resilience.NewCircuitBreaker("wa-test"), cfg, zap.NewNop())
}

func decodeMessage(t *testing.T, body []byte) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(body, &m); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return m
}

func TestSendText(t *testing.T) {
	graph := &fakeGraph{}
	c := newTestWhatsApp(t, graph)

	if err := c.SendText(context.Background(), "234800", "hello"); err != nil {
		t.Fatalf("SendText: %v", err)
	}

	if len(graph.calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(graph.calls))
	}
	call := graph.calls[0]
	if call.path != "/v19.0/PHONE/messages" {
		t.Errorf("path = %s", call.path)
	}
	if call.auth != "Bearer tok" {
		t.Errorf("auth = %s", call.auth)
	}
	m := decodeMessage(t, call.body)
	if m["messaging_product"] != "whatsapp" || m["to"] != "234800" || m["type"] != "text" {
		t.Errorf("unexpected envelope: %v", m)
	}
	if m["text"].(map[string]any)["body"] != "hello" {
		t.Errorf("unexpected text: %v", m["text"])
	}
}

func TestSendListMenu(t *testing.T) {
	graph := &fakeGraph{}
	c := newTestWhatsApp(t, graph)

	menu := &domain.ListMenu{
		Header: "H", Body: "B", Footer: "F", Button: "Open",
		Sections: []domain.MenuSection{{Title: "S", Rows: []domain.MenuRow{{ID: "CMD_RECEIPT", Title: "New Receipt"}}}},
	}
	if err := c.SendListMenu(context.Background(), "u1", menu); err != nil {
		t.Fatalf("SendListMenu: %v", err)
	}

	m := decodeMessage(t, graph.calls[0].body)
	inter := m["interactive"].(map[string]any)
	if inter["type"] != "list" {
		t.Errorf("type = %v", inter["type"])
	}
	action := inter["action"].(map[string]any)
	if action["button"] != "Open" {
		t.Errorf("button = %v", action["button"])
	}
	rows := action["sections"].([]any)[0].(map[string]any)["rows"].([]any)
	if rows[0].(map[string]any)["id"] != "CMD_RECEIPT" {
		t.Errorf("row = %v", rows[0])
	}
}

func TestSendButtons(t *testing.T) {
	graph := &fakeGraph{}
	c := newTestWhatsApp(t, graph)

	err := c.SendButtons(context.Background(), "u1", &domain.ButtonMenu{
		Body:    "Done. Anything else?",
		Buttons: []domain.MenuButton{{ID: "CMD_RECEIPT", Title: "New Receipt"}, {ID: "CMD_MENU", Title: "Main Menu"}},
	})
	if err != nil {
		t.Fatalf("SendButtons: %v", err)
	}

	inter := decodeMessage(t, graph.calls[0].body)["interactive"].(map[string]any)
	buttons := inter["action"].(map[string]any)["buttons"].([]any)
	if len(buttons) != 2 {
		t.Fatalf("expected 2 buttons, got %d", len(buttons))
	}
	first := buttons[0].(map[string]any)
	if first["type"] != "reply" || first["reply"].(map[string]any)["id"] != "CMD_RECEIPT" {
		t.Errorf("unexpected button: %v", first)
	}
}

func TestSendMedia_DocumentKeepsFilename(t *testing.T) {
	graph := &fakeGraph{mediaID: "media-9"}
	c := newTestWhatsApp(t, graph)

	err := c.SendMedia(context.Background(), "u1", &domain.Media{
		Data:     []byte("%PDF-1.4"),
		MIMEType: "application/pdf",
		Filename: "Receipt_Musa.pdf",
		Caption:  "Here is the receipt for Musa.",
	})
	if err != nil {
		t.Fatalf("SendMedia: %v", err)
	}

	if len(graph.calls) != 2 {
		t.Fatalf("expected upload + send, got %d calls", len(graph.calls))
	}
	upload := graph.calls[0]
	if !strings.HasPrefix(upload.contentType, "multipart/form-data") {
		t.Errorf("upload content type = %s", upload.contentType)
	}
	if !strings.Contains(string(upload.body), `filename="Receipt_Musa.pdf"`) {
		t.Errorf("upload missing filename")
	}

	m := decodeMessage(t, graph.calls[1].body)
	if m["type"] != "document" {
		t.Fatalf("type = %v", m["type"])
	}
	doc := m["document"].(map[string]any)
	if doc["id"] != "media-9" || doc["filename"] != "Receipt_Musa.pdf" || doc["caption"] != "Here is the receipt for Musa." {
		t.Errorf("unexpected document: %v", doc)
	}
}

func TestSendMedia_ImageInline(t *testing.T) {
	graph := &fakeGraph{mediaID: "img-1"}
	c := newTestWhatsApp(t, graph)

	err := c.SendMedia(context.Background(), "u1", &domain.Media{Data: []byte{0x89, 'P'}, MIMEType: "image/png", Caption: "c"})
	if err != nil {
		t.Fatalf("SendMedia: %v", err)
	}

	m := decodeMessage(t, graph.calls[1].body)
	if m["type"] != "image" {
		t.Fatalf("type = %v", m["type"])
	}
	if _, ok := m["document"]; ok {
		t.Errorf("image must not carry a document")
	}
}

func TestSendMedia_UploadFailureIsNotRetried(t *testing.T) {
	graph := &fakeGraph{status: http.StatusBadRequest, failPrefix: "/media"}
	c := newTestWhatsApp(t, graph)

	err := c.SendMedia(context.Background(), "u1", &domain.Media{Data: []byte("x"), MIMEType: "application/pdf"})

	var ext *domain.ErrExternalService
	if !errors.As(err, &ext) || ext.Service != "whatsapp" {
		t.Fatalf("expected whatsapp ErrExternalService, got %v", err)
	}
	if len(graph.calls) != 1 {
		t.Fatalf("expected a single upload attempt, got %d", len(graph.calls))
	}
}

func TestSendText_ServerErrorIsRetried(t *testing.T) {
	graph := &fakeGraph{status: http.StatusBadGateway, failPrefix: "/messages"}
	c := newTestWhatsApp(t, graph)

	if err := c.SendText(context.Background(), "u1", "hi"); err == nil {
		t.Fatal("expected error")
	}
	if len(graph.calls) != 2 {
		t.Fatalf("expected 2 attempts, got %d", len(graph.calls))
	}
}
