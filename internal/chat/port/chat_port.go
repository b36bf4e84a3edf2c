// Package port defines the language-model port the interpreter depends on.
// OpenAI-compatible and Gemini clients both implement it.
package port

import (
	"context"

	chatdomain "github.com/boddenberg/receipt-assistant-go/internal/chat/domain"
)

// ModelCaller sends one prompt to a language model in JSON mode.
type ModelCaller interface {
	Complete(ctx context.Context, req *chatdomain.ModelRequest) (*chatdomain.ModelResponse, error)
}

// Interpreter maps an utterance and known payload to a Turn. On failure it
// still returns a usable Turn together with *domain.ErrInterpretation.
type Interpreter interface {
	Interpret(ctx context.Context, req chatdomain.Request) (*chatdomain.Turn, error)
}
