package infra

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/boddenberg/receipt-assistant-go/internal/chat/domain"
	"github.com/boddenberg/receipt-assistant-go/internal/chat/port"
	maindomain "github.com/boddenberg/receipt-assistant-go/internal/domain"
	"github.com/boddenberg/receipt-assistant-go/internal/infra/resilience"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/attribute"
	"google.golang.org/genai"
)

// contentGenerator is the slice of *genai.Models the client uses.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiClient calls Gemini with a JSON response MIME type.
type GeminiClient struct {
	models contentGenerator
	model  string
	cb     *gobreaker.CircuitBreaker
	cfg    resilience.Config
}

var _ port.ModelCaller = (*GeminiClient)(nil)

// NewGeminiClient creates a Gemini API client for the given model.
func NewGeminiClient(ctx context.Context, apiKey, model string, cb *gobreaker.CircuitBreaker, cfg resilience.Config) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, errors.New("gemini API key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return newGeminiClient(client.Models, model, cb, cfg), nil
}

func newGeminiClient(models contentGenerator, model string, cb *gobreaker.CircuitBreaker, cfg resilience.Config) *GeminiClient {
	return &GeminiClient{models: models, model: model, cb: cb, cfg: cfg}
}

// Complete sends the system prompt as the system instruction and the
// utterance as the single user turn.
func (c *GeminiClient) Complete(ctx context.Context, req *domain.ModelRequest) (*domain.ModelResponse, error) {
	ctx, span := tracer.Start(ctx, "GeminiClient.Complete")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", c.model))

	var temperature float32
	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(req.SystemPrompt, genai.RoleUser),
		Temperature:       &temperature,
		ResponseMIMEType:  "application/json",
	}
	contents := []*genai.Content{genai.NewContentFromText(req.Utterance, genai.RoleUser)}

	resp, err := resilience.Execute(ctx, c.cb, c.cfg, "gemini", func() (*domain.ModelResponse, error) {
		out, err := c.models.GenerateContent(ctx, c.model, contents, config)
		if err != nil {
			return nil, fmt.Errorf("gemini generate: %w", err)
		}
		text := strings.TrimSpace(out.Text())
		if text == "" {
			return nil, resilience.Permanent(errors.New("gemini returned no text"))
		}
		res := &domain.ModelResponse{Content: text}
		if out.UsageMetadata != nil {
			res.PromptTokens = int(out.UsageMetadata.PromptTokenCount)
			res.CompletionTokens = int(out.UsageMetadata.CandidatesTokenCount)
		}
		return res, nil
	})
	if err != nil {
		var open *maindomain.ErrCircuitOpen
		if errors.As(err, &open) {
			return nil, err
		}
		return nil, &maindomain.ErrExternalService{Service: "gemini", Err: err}
	}

	span.SetAttributes(
		attribute.Int("llm.prompt_tokens", resp.PromptTokens),
		attribute.Int("llm.completion_tokens", resp.CompletionTokens),
	)
	return resp, nil
}
