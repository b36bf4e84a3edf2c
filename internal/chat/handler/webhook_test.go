package handler_test

import (
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/boddenberg/receipt-assistant-go/internal/chat/handler"
	"github.com/boddenberg/receipt-assistant-go/internal/domain"

	"go.uber.org/zap"
)

type recordingSubmitter struct {
	mu      sync.Mutex
	msgs    []*domain.InboundMessage
	closing bool
}

func (s *recordingSubmitter) Submit(msg *domain.InboundMessage) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.msgs = append(s.msgs, msg)
	return true
}

func envelopeWith(message string) string {
	return `{"object":"whatsapp_business_account","entry":[{"id":"WABA","changes":[{"field":"messages","value":{"messaging_product":"whatsapp","messages":[` + message + `]}}]}]}`
}

func TestDecodeMessage(t *testing.T) {
	tests := []struct {
		name string
		msg  string
		want domain.InboundMessage
	}{
		{
			name: "text",
			msg:  `{"from":"2348000000001","id":"wamid.A","timestamp":"1700000000","type":"text","text":{"body":"Receipt for Musa"}}`,
			want: domain.InboundMessage{ID: "wamid.A", From: "2348000000001", Type: domain.MessageText, Text: "Receipt for Musa", Timestamp: time.Unix(1700000000, 0).UTC()},
		},
		{
			name: "button reply",
			msg:  `{"from":"u1","id":"wamid.B","type":"interactive","interactive":{"type":"button_reply","button_reply":{"id":"CMD_RECEIPT","title":"New Receipt"}}}`,
			want: domain.InboundMessage{ID: "wamid.B", From: "u1", Type: domain.MessageInteractive, InteractiveID: "CMD_RECEIPT"},
		},
		{
			name: "list reply",
			msg:  `{"from":"u1","id":"wamid.C","type":"interactive","interactive":{"type":"list_reply","list_reply":{"id":"CMD_HISTORY","title":"History"}}}`,
			want: domain.InboundMessage{ID: "wamid.C", From: "u1", Type: domain.MessageInteractive, InteractiveID: "CMD_HISTORY"},
		},
		{
			name: "image with caption",
			msg:  `{"from":"u1","id":"wamid.D","type":"image","image":{"id":"media-1","caption":"2 rice 3000"}}`,
			want: domain.InboundMessage{ID: "wamid.D", From: "u1", Type: domain.MessageImage, Caption: "2 rice 3000"},
		},
		{
			name: "unsupported type",
			msg:  `{"from":"u1","id":"wamid.E","type":"audio","audio":{"id":"a"}}`,
			want: domain.InboundMessage{ID: "wamid.E", From: "u1", Type: domain.MessageOther},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := handler.DecodeMessage([]byte(envelopeWith(tt.msg)))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got == nil {
				t.Fatal("expected a message")
			}
			if !reflect.DeepEqual(*got, tt.want) {
				t.Errorf("got %+v, want %+v", *got, tt.want)
			}
		})
	}
}

func TestDecodeMessage_NoMessage(t *testing.T) {
	for _, body := range []string{
		`{"object":"whatsapp_business_account","entry":[]}`,
		`{"object":"whatsapp_business_account","entry":[{"changes":[{"value":{"statuses":[{"id":"wamid.X","status":"read"}]}}]}]}`,
	} {
		got, err := handler.DecodeMessage([]byte(body))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != nil {
			t.Errorf("expected no message, got %+v", got)
		}
	}

	if _, err := handler.DecodeMessage([]byte(`{not json`)); err == nil {
		t.Error("expected decode error")
	}
}

func TestWebhookHandler_SubmitsAndAcks(t *testing.T) {
	sub := &recordingSubmitter{}
	h := handler.WebhookHandler(sub, zap.NewNop())

	body := envelopeWith(`{"from":"u1","id":"wamid.A","type":"text","text":{"body":"hi"}}`)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body)))

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if len(sub.msgs) != 1 || sub.msgs[0].Text != "hi" {
		t.Fatalf("expected one submitted message, got %+v", sub.msgs)
	}
}

func TestWebhookHandler_MalformedStillAcked(t *testing.T) {
	sub := &recordingSubmitter{}
	h := handler.WebhookHandler(sub, zap.NewNop())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(`{oops`)))

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if len(sub.msgs) != 0 {
		t.Errorf("expected nothing submitted, got %+v", sub.msgs)
	}
}

func TestWebhookHandler_ShuttingDown(t *testing.T) {
	sub := &recordingSubmitter{closing: true}
	h := handler.WebhookHandler(sub, zap.NewNop())

	body := envelopeWith(`{"from":"u1","id":"wamid.A","type":"text","text":{"body":"hi"}}`)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body)))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
}

func TestVerifyHandler(t *testing.T) {
	h := handler.VerifyHandler("s3cret", zap.NewNop())

	tests := []struct {
		name     string
		query    string
		wantCode int
		wantBody string
	}{
		{"valid", "hub.mode=subscribe&hub.verify_token=s3cret&hub.challenge=12345", http.StatusOK, "12345"},
		{"wrong token", "hub.mode=subscribe&hub.verify_token=nope&hub.challenge=12345", http.StatusForbidden, ""},
		{"wrong mode", "hub.mode=unsubscribe&hub.verify_token=s3cret&hub.challenge=12345", http.StatusForbidden, ""},
		{"missing", "", http.StatusForbidden, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/webhook?"+tt.query, nil))
			if rec.Code != tt.wantCode {
				t.Errorf("expected %d, got %d", tt.wantCode, rec.Code)
			}
			if tt.wantBody != "" && rec.Body.String() != tt.wantBody {
				t.Errorf("expected body %q, got %q", tt.wantBody, rec.Body.String())
			}
		})
	}
}

func TestVerifyHandler_UnconfiguredTokenRejects(t *testing.T) {
	h := handler.VerifyHandler("", zap.NewNop())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/webhook?hub.mode=subscribe&hub.verify_token=&hub.challenge=1", nil))
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", rec.Code)
	}
}
