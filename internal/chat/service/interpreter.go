// Package service holds the conversation engine: the intent interpreter
// that turns an utterance into a Turn, and the controller that runs one
// turn per inbound message and dispatches it to a strategy.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/boddenberg/receipt-assistant-go/internal/chat/domain"
	"github.com/boddenberg/receipt-assistant-go/internal/chat/port"
	maindomain "github.com/boddenberg/receipt-assistant-go/internal/domain"
	"github.com/boddenberg/receipt-assistant-go/internal/infra/observability"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var chatTracer = otel.Tracer("chat/service")

// Fixed replies.
const (
	ReplyAskCustomerName  = "Enter Customer Name."
	ReplyAskItems         = "Enter Items (Name Price Qty)."
	ReplyAskPaymentMethod = "Enter Payment Method (Cash, Transfer, POS)."
	ReplyGenerating       = "Generating Receipt..."
	ReplyCancelled        = "🚫 Receipt cancelled."
	ReplyOffTopic         = "I am a receipt tool. Please enter the required details."
	ReplyRetry            = "System error. Please re-enter."
	ReplyChatFallback     = "I can create receipts, show your history and stats, or update your brand. Type *menu* to see options."
)

var fieldPrompts = map[maindomain.Field]string{
	maindomain.FieldCustomerName:  ReplyAskCustomerName,
	maindomain.FieldItems:         ReplyAskItems,
	maindomain.FieldPaymentMethod: ReplyAskPaymentMethod,
}

// Policy decides what happens to an off-topic utterance while a receipt
// is being collected.
type Policy string

const (
	// PolicyForceAccept takes the raw utterance as the awaited field.
	PolicyForceAccept Policy = "force-accept"
	// PolicyAllowReject keeps the OFF_TOPIC classification.
	PolicyAllowReject Policy = "allow-reject"
)

// ParsePolicy falls back to PolicyForceAccept for unknown values.
func ParsePolicy(s string) Policy {
	if Policy(strings.ToLower(strings.TrimSpace(s))) == PolicyAllowReject {
		return PolicyAllowReject
	}
	return PolicyForceAccept
}

// Interpreter failure reasons, used as metric labels.
const (
	failureModel  = "model"
	failureDecode = "decode"
	failureSchema = "schema"
)

// ============================================================
// Interpreter
// ============================================================

// Interpreter implements port.Interpreter on top of a ModelCaller.
type Interpreter struct {
	model   port.ModelCaller
	policy  Policy
	metrics *observability.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

var _ port.Interpreter = (*Interpreter)(nil)

func NewInterpreter(model port.ModelCaller, policy Policy, metrics *observability.Metrics, logger *zap.Logger) *Interpreter {
	return &Interpreter{
		model:   model,
		policy:  policy,
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
	}
}

// Interpret classifies one utterance against the payload collected so far.
// On model or schema failure it returns a CHAT turn that keeps Known intact,
// together with *domain.ErrInterpretation.
func (i *Interpreter) Interpret(ctx context.Context, req domain.Request) (*domain.Turn, error) {
	ctx, span := chatTracer.Start(ctx, "Interpreter.Interpret")
	defer span.End()

	known := req.Known.Clone()
	text := strings.TrimSpace(req.Utterance)
	collecting := req.Collecting || !known.IsEmpty()

	if IsControlWord(text) {
		span.SetAttributes(attribute.String("intent", string(domain.IntentCancel)))
		return newTurn(domain.IntentCancel, known, ReplyCancelled), nil
	}

	out, reason, err := i.ask(ctx, req, known, collecting)
	if err != nil {
		return i.fail(known, reason, err)
	}

	intent, extracted, err := validateOutput(out)
	if err != nil {
		return i.fail(known, failureSchema, err)
	}

	turn := i.resolve(text, known, collecting, intent, extracted, out.Reply)
	span.SetAttributes(
		attribute.String("intent", string(turn.Intent)),
		attribute.Int("missing_fields", len(turn.MissingFields)),
	)
	return turn, nil
}

func (i *Interpreter) ask(ctx context.Context, req domain.Request, known maindomain.Payload, collecting bool) (*domain.ModelOutput, string, error) {
	start := time.Now()
	resp, err := i.model.Complete(ctx, &domain.ModelRequest{
		SystemPrompt: buildSystemPrompt(known, collecting, i.now()),
		Utterance:    req.Utterance,
	})
	i.metrics.RecordDuration("interpret", time.Since(start))
	if err != nil {
		return nil, failureModel, err
	}
	i.metrics.RecordTokens(resp.PromptTokens, resp.CompletionTokens)

	var out domain.ModelOutput
	if err := json.Unmarshal([]byte(stripCodeFence(resp.Content)), &out); err != nil {
		return nil, failureDecode, fmt.Errorf("decode model output: %w", err)
	}
	return &out, "", nil
}

func (i *Interpreter) fail(known maindomain.Payload, reason string, err error) (*domain.Turn, error) {
	i.metrics.IncrInterpreterFailure(reason)
	i.logger.Warn("interpretation failed", zap.String("reason", reason), zap.Error(err))

	turn := newTurn(domain.IntentChat, known, ReplyRetry)
	return turn, &maindomain.ErrInterpretation{Reason: reason, Err: err}
}

// resolve applies merge, the waiting-for override and reply selection.
func (i *Interpreter) resolve(text string, known maindomain.Payload, collecting bool, intent domain.Intent, extracted maindomain.Payload, modelReply string) *domain.Turn {
	switch intent {
	case domain.IntentDataCollection, domain.IntentChat, domain.IntentOffTopic:
	case domain.IntentCancel:
		return newTurn(intent, known, ReplyCancelled)
	default:
		return newTurn(intent, known, "")
	}

	merged := maindomain.Merge(known, extracted)
	if waiting := known.NextMissing(); collecting && waiting != "" && !contributes(known, extracted) && i.overridable(intent, text) {
		if filled, ok := applyLiteral(merged, waiting, text); ok {
			merged = filled
			intent = domain.IntentDataCollection
		} else if i.policy == PolicyForceAccept {
			intent = domain.IntentDataCollection
		}
	}

	switch intent {
	case domain.IntentDataCollection:
		reply := ReplyGenerating
		if next := merged.NextMissing(); next != "" {
			reply = fieldPrompts[next]
		}
		return newTurn(intent, merged, reply)
	case domain.IntentChat:
		reply := strings.TrimSpace(modelReply)
		if reply == "" {
			reply = ReplyChatFallback
		}
		return newTurn(intent, known, reply)
	default:
		return newTurn(intent, known, ReplyOffTopic)
	}
}

// overridable reports whether text may be taken as the awaited field.
// Menu selections arrive as their command phrase and never count as a value.
func (i *Interpreter) overridable(intent domain.Intent, text string) bool {
	if IsMenuWord(text) || IsGreeting(text) || IsCommandPhrase(text) {
		return false
	}
	return intent != domain.IntentOffTopic || i.policy == PolicyForceAccept
}

func newTurn(intent domain.Intent, data maindomain.Payload, reply string) *domain.Turn {
	return &domain.Turn{
		Intent:        intent,
		Data:          data,
		MissingFields: data.MissingFields(),
		Reply:         reply,
	}
}

// contributes reports whether extracted changes any field of known.
func contributes(known, extracted maindomain.Payload) bool {
	if extracted.Has(maindomain.FieldCustomerName) && strings.TrimSpace(extracted.CustomerName) != known.CustomerName {
		return true
	}
	if extracted.Has(maindomain.FieldItems) && !slices.Equal(extracted.Items, known.Items) {
		return true
	}
	return extracted.Has(maindomain.FieldPaymentMethod) && strings.TrimSpace(extracted.PaymentMethod) != known.PaymentMethod
}

// applyLiteral stores text verbatim as the awaited field.
func applyLiteral(p maindomain.Payload, field maindomain.Field, text string) (maindomain.Payload, bool) {
	out := p.Clone()
	switch field {
	case maindomain.FieldCustomerName:
		out.CustomerName = text
	case maindomain.FieldPaymentMethod:
		out.PaymentMethod = text
	case maindomain.FieldItems:
		items, ok := ParseItemsLiteral(text)
		if !ok {
			return p, false
		}
		out.Items = items
	default:
		return p, false
	}
	return out, true
}

// ============================================================
// Schema validation
// ============================================================

var errUnknownIntent = errors.New("unknown intent")

// validateOutput enforces the intent enum and item constraints after
// numeric normalization.
func validateOutput(out *domain.ModelOutput) (domain.Intent, maindomain.Payload, error) {
	intent, ok := domain.ParseIntent(out.Intent)
	if !ok {
		return "", maindomain.Payload{}, fmt.Errorf("%w %q", errUnknownIntent, out.Intent)
	}

	p := maindomain.Payload{
		CustomerName:  strings.TrimSpace(out.Data.CustomerName),
		PaymentMethod: strings.TrimSpace(out.Data.PaymentMethod),
	}
	for idx, it := range out.Data.Items {
		price, ok := ParseAmount(string(it.Price))
		if !ok {
			return "", maindomain.Payload{}, &maindomain.ErrValidation{
				Field:   fmt.Sprintf("items[%d].price", idx),
				Message: fmt.Sprintf("not a number: %q", it.Price),
			}
		}
		qty, ok := ParseQuantity(string(it.Quantity))
		if !ok {
			return "", maindomain.Payload{}, &maindomain.ErrValidation{
				Field:   fmt.Sprintf("items[%d].quantity", idx),
				Message: fmt.Sprintf("not a positive integer: %q", it.Quantity),
			}
		}
		item := maindomain.LineItem{Name: strings.TrimSpace(it.Name), Price: price, Quantity: qty}
		if err := item.Validate(); err != nil {
			return "", maindomain.Payload{}, err
		}
		p.Items = append(p.Items, item)
	}
	return intent, p, nil
}
