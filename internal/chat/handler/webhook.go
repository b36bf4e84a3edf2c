// Package handler exposes the messaging platform webhook.
//
//	GET  /webhook  → subscription check (hub.mode / hub.verify_token / hub.challenge)
//	POST /webhook  → inbound messages, acknowledged before the turn runs
//
// Only the first message of the first change of the first entry is read.
// Status callbacks carry no messages and are acknowledged without work.
package handler

import (
	"crypto/subtle"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/boddenberg/receipt-assistant-go/internal/domain"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("chat/handler")

// maxWebhookBody caps inbound payloads; platform envelopes are a few KB.
const maxWebhookBody = 1 << 20

// Submitter hands a decoded message to the conversation controller.
type Submitter interface {
	Submit(msg *domain.InboundMessage) bool
}

// ============================================================
// Envelope
// ============================================================

type envelope struct {
	Object string          `json:"object"`
	Entry  []envelopeEntry `json:"entry"`
}

type envelopeEntry struct {
	ID      string           `json:"id"`
	Changes []envelopeChange `json:"changes"`
}

type envelopeChange struct {
	Field string `json:"field"`
	Value struct {
		Messages []platformMessage `json:"messages"`
	} `json:"value"`
}

type platformMessage struct {
	ID        string `json:"id"`
	From      string `json:"from"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Text      *struct {
		Body string `json:"body"`
	} `json:"text,omitempty"`
	Interactive *struct {
		Type        string       `json:"type"`
		ButtonReply *replyOption `json:"button_reply,omitempty"`
		ListReply   *replyOption `json:"list_reply,omitempty"`
	} `json:"interactive,omitempty"`
	Image *struct {
		ID      string `json:"id"`
		Caption string `json:"caption"`
	} `json:"image,omitempty"`
}

type replyOption struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// DecodeMessage extracts entry[0].changes[0].value.messages[0]. It returns
// nil when the envelope carries no message.
func DecodeMessage(body []byte) (*domain.InboundMessage, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, err
	}
	if len(env.Entry) == 0 || len(env.Entry[0].Changes) == 0 {
		return nil, nil
	}
	msgs := env.Entry[0].Changes[0].Value.Messages
	if len(msgs) == 0 {
		return nil, nil
	}
	return toInbound(msgs[0]), nil
}

func toInbound(m platformMessage) *domain.InboundMessage {
	in := &domain.InboundMessage{
		ID:   m.ID,
		From: m.From,
		Type: domain.MessageOther,
	}
	if secs, err := strconv.ParseInt(m.Timestamp, 10, 64); err == nil {
		in.Timestamp = time.Unix(secs, 0).UTC()
	}

	switch m.Type {
	case "text":
		in.Type = domain.MessageText
		if m.Text != nil {
			in.Text = m.Text.Body
		}
	case "interactive":
		in.Type = domain.MessageInteractive
		if m.Interactive != nil {
			switch {
			case m.Interactive.ButtonReply != nil:
				in.InteractiveID = m.Interactive.ButtonReply.ID
			case m.Interactive.ListReply != nil:
				in.InteractiveID = m.Interactive.ListReply.ID
			}
		}
	case "image":
		in.Type = domain.MessageImage
		if m.Image != nil {
			in.Caption = m.Image.Caption
		}
	}
	return in
}

// ============================================================
// Handlers
// ============================================================

// VerifyHandler answers the platform's subscription check.
func VerifyHandler(verifyToken string, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		token := q.Get("hub.verify_token")
		if verifyToken == "" || q.Get("hub.mode") != "subscribe" ||
			subtle.ConstantTimeCompare([]byte(token), []byte(verifyToken)) != 1 {
			logger.Warn("webhook verification rejected", zap.String("mode", q.Get("hub.mode")))
			w.WriteHeader(http.StatusForbidden)
			return
		}
		logger.Info("webhook verified")
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, q.Get("hub.challenge"))
	}
}

// WebhookHandler acknowledges deliveries with 200 and submits the decoded
// message for asynchronous processing. Malformed envelopes are acknowledged
// too; only a controller that is shutting down answers 503 so the platform
// redelivers to another instance.
func WebhookHandler(sub Submitter, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, span := tracer.Start(r.Context(), "POST /webhook")
		defer span.End()

		body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
		if err != nil {
			logger.Warn("webhook body unreadable", zap.Error(err))
			w.WriteHeader(http.StatusOK)
			return
		}

		msg, err := DecodeMessage(body)
		switch {
		case err != nil:
			logger.Warn("webhook envelope malformed", zap.Error(err))
		case msg == nil:
			logger.Debug("webhook without message")
		default:
			span.SetAttributes(
				attribute.String("message.id", msg.ID),
				attribute.String("message.type", string(msg.Type)),
			)
			if !sub.Submit(msg) {
				logger.Warn("message rejected during shutdown", zap.String("message_id", msg.ID))
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
	}
}
