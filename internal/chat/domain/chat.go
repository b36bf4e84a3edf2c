// Package domain holds the types exchanged between the conversation
// controller, the intent interpreter and the language-model clients.
//
// The flow of one turn:
//  1. Controller normalizes the inbound event to an utterance
//  2. Interpreter builds a prompt from (utterance, known payload)
//  3. A ModelCaller returns raw JSON
//  4. Interpreter validates it and produces a Turn
//  5. Controller dispatches on Turn.Intent
package domain

import (
	"bytes"
	"encoding/json"
	"strings"

	maindomain "github.com/boddenberg/receipt-assistant-go/internal/domain"
)

// ============================================================
// Intent
// ============================================================

// Intent is the single classification of one utterance.
type Intent string

const (
	IntentDataCollection Intent = "DATA_COLLECTION"
	IntentLookupHistory  Intent = "LOOKUP_HISTORY"
	IntentLookupStats    Intent = "LOOKUP_STATS"
	IntentUpdateProfile  Intent = "UPDATE_PROFILE"
	IntentCancel         Intent = "CANCEL"
	IntentOffTopic       Intent = "OFF_TOPIC"
	IntentChat           Intent = "CHAT"
)

// intentAliases maps the labels the model is prompted with to intents.
var intentAliases = map[string]Intent{
	"DATA_COLLECTION": IntentDataCollection,
	"RECEIPT":         IntentDataCollection,
	"LOOKUP_HISTORY":  IntentLookupHistory,
	"HISTORY":         IntentLookupHistory,
	"LOOKUP_STATS":    IntentLookupStats,
	"STATS":           IntentLookupStats,
	"UPDATE_PROFILE":  IntentUpdateProfile,
	"MYBRAND":         IntentUpdateProfile,
	"CANCEL":          IntentCancel,
	"OFF_TOPIC":       IntentOffTopic,
	"REJECT":          IntentOffTopic,
	"CHAT":            IntentChat,
}

// ParseIntent accepts canonical names and model aliases, case-insensitively.
func ParseIntent(s string) (Intent, bool) {
	i, ok := intentAliases[strings.ToUpper(strings.TrimSpace(s))]
	return i, ok
}

// ============================================================
// Interpreter contract
// ============================================================

// Request is one utterance plus what the session already holds.
type Request struct {
	Utterance string
	Known     maindomain.Payload
	// Collecting is true when a COLLECTING session exists, even if its
	// payload is still empty.
	Collecting bool
}

// Turn is the interpreted result of one utterance.
type Turn struct {
	Intent        Intent
	Data          maindomain.Payload
	MissingFields []maindomain.Field
	Reply         string
}

// ============================================================
// Model contract
// ============================================================

// ModelRequest is what a ModelCaller sends to the language model.
type ModelRequest struct {
	SystemPrompt string
	Utterance    string
	UserID       string
}

// ModelResponse is the raw model answer plus token accounting.
type ModelResponse struct {
	Content          string
	PromptTokens     int
	CompletionTokens int
}

// ModelOutput is the JSON object the model is instructed to return.
// missingFields and reply are advisory; only reply is used, for CHAT.
type ModelOutput struct {
	Intent        string    `json:"intent"`
	Data          ModelData `json:"data"`
	MissingFields []string  `json:"missingFields,omitempty"`
	Reply         string    `json:"reply,omitempty"`
}

// ModelData mirrors domain.Payload with loosely typed numbers.
type ModelData struct {
	CustomerName  string      `json:"customerName,omitempty"`
	Items         []ModelItem `json:"items,omitempty"`
	PaymentMethod string      `json:"paymentMethod,omitempty"`
}

// ModelItem is one line item as the model wrote it.
type ModelItem struct {
	Name     string    `json:"name"`
	Price    RawNumber `json:"price"`
	Quantity RawNumber `json:"quantity"`
}

// RawNumber keeps a JSON number or string verbatim ("2k", 3000, "₦1,500")
// so the interpreter can normalize it.
type RawNumber string

func (n *RawNumber) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*n = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*n = RawNumber(s)
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(b, &num); err != nil {
		return err
	}
	*n = RawNumber(num.String())
	return nil
}
