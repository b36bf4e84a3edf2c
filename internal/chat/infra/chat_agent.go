package infra

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/boddenberg/receipt-assistant-go/internal/chat/domain"
	"github.com/boddenberg/receipt-assistant-go/internal/chat/port"
	maindomain "github.com/boddenberg/receipt-assistant-go/internal/domain"
	"github.com/boddenberg/receipt-assistant-go/internal/infra/resilience"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("chat/infra")

// ============================================================
// ChatAgentClient — OpenAI-compatible chat/completions in JSON mode
// ============================================================
//
//	Request:  {"model": "...", "messages": [system, user], "response_format": {"type": "json_object"}}
//	Response: {"choices": [{"message": {"content": "{...}"}}], "usage": {...}}
//
// Works against OpenAI and any gateway exposing the same route.

type ChatAgentClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
	cb         *gobreaker.CircuitBreaker
	cfg        resilience.Config
}

var _ port.ModelCaller = (*ChatAgentClient)(nil)

// NewChatAgentClient creates the client. baseURL ends before /chat/completions.
func NewChatAgentClient(httpClient *http.Client, baseURL, apiKey, model string, cb *gobreaker.CircuitBreaker, cfg resilience.Config) *ChatAgentClient {
	return &ChatAgentClient{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		model:      model,
		cb:         cb,
		cfg:        cfg,
	}
}

type completionMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionRequest struct {
	Model          string              `json:"model"`
	Messages       []completionMessage `json:"messages"`
	ResponseFormat map[string]string   `json:"response_format"`
	Temperature    float64             `json:"temperature"`
	User           string              `json:"user,omitempty"`
}

type completionResponse struct {
	Choices []struct {
		Message completionMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// Complete sends one system+user exchange and returns the message content.
// 4xx responses are not retried; 5xx and transport errors are.
func (c *ChatAgentClient) Complete(ctx context.Context, req *domain.ModelRequest) (*domain.ModelResponse, error) {
	ctx, span := tracer.Start(ctx, "ChatAgentClient.Complete")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", c.model))

	body, err := json.Marshal(completionRequest{
		Model: c.model,
		Messages: []completionMessage{
			{Role: "system", Content: req.SystemPrompt},
			{Role: "user", Content: req.Utterance},
		},
		ResponseFormat: map[string]string{"type": "json_object"},
		Temperature:    0,
		User:           req.UserID,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal completion request: %w", err)
	}

	resp, err := resilience.Execute(ctx, c.cb, c.cfg, "openai", func() (*domain.ModelResponse, error) {
		return c.post(ctx, body)
	})
	if err != nil {
		var open *maindomain.ErrCircuitOpen
		if errors.As(err, &open) {
			return nil, err
		}
		return nil, &maindomain.ErrExternalService{Service: "openai", Err: err}
	}

	span.SetAttributes(
		attribute.Int("llm.prompt_tokens", resp.PromptTokens),
		attribute.Int("llm.completion_tokens", resp.CompletionTokens),
	)
	return resp, nil
}

func (c *ChatAgentClient) post(ctx context.Context, body []byte) (*domain.ModelResponse, error) {
	url := c.baseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, resilience.Permanent(fmt.Errorf("create http request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http call to model: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := fmt.Errorf("chat/completions returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return nil, resilience.Permanent(err)
		}
		return nil, err
	}

	var out completionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, resilience.Permanent(fmt.Errorf("decode completion: %w", err))
	}
	if len(out.Choices) == 0 {
		return nil, resilience.Permanent(errors.New("completion has no choices"))
	}

	return &domain.ModelResponse{
		Content:          out.Choices[0].Message.Content,
		PromptTokens:     out.Usage.PromptTokens,
		CompletionTokens: out.Usage.CompletionTokens,
	}, nil
}
