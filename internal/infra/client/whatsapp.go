package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"

	"github.com/boddenberg/receipt-assistant-go/internal/domain"
	"github.com/boddenberg/receipt-assistant-go/internal/infra/resilience"
	"github.com/boddenberg/receipt-assistant-go/internal/port"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("client")

// ============================================================
// WhatsAppClient — Graph API messages and media
// ============================================================
//
//	POST {apiURL}/{phoneID}/messages   JSON body, one message
//	POST {apiURL}/{phoneID}/media      multipart upload, returns {"id": "..."}
//
// Media is sent in two steps: upload, then a message referencing the id.

type WhatsAppClient struct {
	httpClient *http.Client
	baseURL    string
	token      string
	cb         *gobreaker.CircuitBreaker
	cfg        resilience.Config
	logger     *zap.Logger
}

var _ port.Messenger = (*WhatsAppClient)(nil)

// NewWhatsAppClient creates the client for one business phone number.
func NewWhatsAppClient(httpClient *http.Client, apiURL, phoneID, token string, cb *gobreaker.CircuitBreaker, cfg resilience.Config, logger *zap.Logger) *WhatsAppClient {
	return &WhatsAppClient{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(apiURL, "/") + "/" + phoneID,
		token:      token,
		cb:         cb,
		cfg:        cfg,
		logger:     logger,
	}
}

// --- wire types ---

type textBody struct {
	Body string `json:"body"`
}

type mediaRef struct {
	ID       string `json:"id"`
	Caption  string `json:"caption,omitempty"`
	Filename string `json:"filename,omitempty"`
}

type interactiveText struct {
	Type string `json:"type,omitempty"`
	Text string `json:"text"`
}

type listRow struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

type listSection struct {
	Title string    `json:"title"`
	Rows  []listRow `json:"rows"`
}

type replyButton struct {
	Type  string `json:"type"`
	Reply struct {
		ID    string `json:"id"`
		Title string `json:"title"`
	} `json:"reply"`
}

type interactiveAction struct {
	Button   string        `json:"button,omitempty"`
	Sections []listSection `json:"sections,omitempty"`
	Buttons  []replyButton `json:"buttons,omitempty"`
}

type interactive struct {
	Type   string            `json:"type"`
	Header *interactiveText  `json:"header,omitempty"`
	Body   interactiveText   `json:"body"`
	Footer *interactiveText  `json:"footer,omitempty"`
	Action interactiveAction `json:"action"`
}

type outboundMessage struct {
	MessagingProduct string       `json:"messaging_product"`
	To               string       `json:"to"`
	Type             string       `json:"type"`
	Text             *textBody    `json:"text,omitempty"`
	Image            *mediaRef    `json:"image,omitempty"`
	Document         *mediaRef    `json:"document,omitempty"`
	Interactive      *interactive `json:"interactive,omitempty"`
}

// --- port.Messenger ---

func (c *WhatsAppClient) SendText(ctx context.Context, to, text string) error {
	ctx, span := tracer.Start(ctx, "WhatsAppClient.SendText")
	defer span.End()

	return c.send(ctx, &outboundMessage{To: to, Type: "text", Text: &textBody{Body: text}})
}

func (c *WhatsAppClient) SendListMenu(ctx context.Context, to string, menu *domain.ListMenu) error {
	ctx, span := tracer.Start(ctx, "WhatsAppClient.SendListMenu")
	defer span.End()

	sections := make([]listSection, 0, len(menu.Sections))
	for _, s := range menu.Sections {
		rows := make([]listRow, 0, len(s.Rows))
		for _, r := range s.Rows {
			rows = append(rows, listRow{ID: r.ID, Title: r.Title, Description: r.Description})
		}
		sections = append(sections, listSection{Title: s.Title, Rows: rows})
	}

	msg := &interactive{
		Type:   "list",
		Body:   interactiveText{Text: menu.Body},
		Action: interactiveAction{Button: menu.Button, Sections: sections},
	}
	if menu.Header != "" {
		msg.Header = &interactiveText{Type: "text", Text: menu.Header}
	}
	if menu.Footer != "" {
		msg.Footer = &interactiveText{Text: menu.Footer}
	}
	return c.send(ctx, &outboundMessage{To: to, Type: "interactive", Interactive: msg})
}

func (c *WhatsAppClient) SendButtons(ctx context.Context, to string, menu *domain.ButtonMenu) error {
	ctx, span := tracer.Start(ctx, "WhatsAppClient.SendButtons")
	defer span.End()

	buttons := make([]replyButton, 0, len(menu.Buttons))
	for _, b := range menu.Buttons {
		rb := replyButton{Type: "reply"}
		rb.Reply.ID = b.ID
		rb.Reply.Title = b.Title
		buttons = append(buttons, rb)
	}
	return c.send(ctx, &outboundMessage{
		To:   to,
		Type: "interactive",
		Interactive: &interactive{
			Type:   "button",
			Body:   interactiveText{Text: menu.Body},
			Action: interactiveAction{Buttons: buttons},
		},
	})
}

// SendMedia uploads the file, then sends images inline and everything else
// as a named document.
func (c *WhatsAppClient) SendMedia(ctx context.Context, to string, media *domain.Media) error {
	ctx, span := tracer.Start(ctx, "WhatsAppClient.SendMedia")
	defer span.End()
	span.SetAttributes(
		attribute.String("media.mime_type", media.MIMEType),
		attribute.Int("media.bytes", len(media.Data)),
	)

	id, err := c.upload(ctx, media)
	if err != nil {
		c.logger.Error("whatsapp: media upload failed", zap.String("to", to), zap.Error(err))
		return err
	}

	msg := &outboundMessage{To: to}
	ref := &mediaRef{ID: id, Caption: media.Caption}
	if media.IsImage() {
		msg.Type, msg.Image = "image", ref
	} else {
		ref.Filename = media.Filename
		msg.Type, msg.Document = "document", ref
	}
	return c.send(ctx, msg)
}

// --- internals ---

func (c *WhatsAppClient) send(ctx context.Context, msg *outboundMessage) error {
	msg.MessagingProduct = "whatsapp"
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	_, err = resilience.Execute(ctx, c.cb, c.cfg, "whatsapp", func() ([]byte, error) {
		return c.post(ctx, "/messages", "application/json", body)
	})
	if err != nil {
		c.logger.Error("whatsapp: send failed", zap.String("to", msg.To), zap.String("type", msg.Type), zap.Error(err))
		return wrapErr(err)
	}
	return nil
}

func (c *WhatsAppClient) upload(ctx context.Context, media *domain.Media) (string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("messaging_product", "whatsapp"); err != nil {
		return "", err
	}
	filename := media.Filename
	if filename == "" {
		filename = "file"
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	h.Set("Content-Type", media.MIMEType)
	part, err := w.CreatePart(h)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(media.Data); err != nil {
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}
	payload := buf.Bytes()

	respBody, err := resilience.Execute(ctx, c.cb, c.cfg, "whatsapp", func() ([]byte, error) {
		return c.post(ctx, "/media", w.FormDataContentType(), payload)
	})
	if err != nil {
		return "", wrapErr(err)
	}

	var out struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", fmt.Errorf("decode media upload: %w", err)
	}
	if out.ID == "" {
		return "", errors.New("media upload returned no id")
	}
	return out.ID, nil
}

func (c *WhatsAppClient) post(ctx context.Context, path, contentType string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, resilience.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http call to graph api: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read graph api response: %w", err)
	}
	if resp.StatusCode >= 300 {
		err := fmt.Errorf("graph api %s returned status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(respBody)))
		if resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return nil, resilience.Permanent(err)
		}
		return nil, err
	}
	return respBody, nil
}

func wrapErr(err error) error {
	var open *domain.ErrCircuitOpen
	if errors.As(err, &open) {
		return err
	}
	return &domain.ErrExternalService{Service: "whatsapp", Err: err}
}
