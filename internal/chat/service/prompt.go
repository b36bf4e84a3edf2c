package service

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	maindomain "github.com/boddenberg/receipt-assistant-go/internal/domain"
)

// promptState names what the receipt flow is waiting for, as the model sees it.
func promptState(known maindomain.Payload, collecting bool) string {
	if !collecting {
		return "IDLE"
	}
	switch known.NextMissing() {
	case maindomain.FieldCustomerName:
		return "AWAITING_CUSTOMER_NAME"
	case maindomain.FieldItems:
		return "AWAITING_ITEMS"
	case maindomain.FieldPaymentMethod:
		return "AWAITING_PAYMENT_METHOD"
	default:
		return "COMPLETE"
	}
}

// buildSystemPrompt renders the extraction instructions for one turn.
func buildSystemPrompt(known maindomain.Payload, collecting bool, now time.Time) string {
	existing, err := json.Marshal(known)
	if err != nil {
		existing = []byte("{}")
	}

	var b strings.Builder
	b.WriteString("You are a Data Extraction Engine for a small-business receipt assistant.\n")
	b.WriteString("You never chat freely. You classify the user's message and extract receipt data.\n\n")

	fmt.Fprintf(&b, "TODAY: %s\n", now.Format("2006-01-02"))
	fmt.Fprintf(&b, "CURRENT STATE: %s\n", promptState(known, collecting))
	fmt.Fprintf(&b, "EXISTING DATA: %s\n\n", existing)

	b.WriteString(`INTENTS:
- RECEIPT: the user gives or corrects receipt data (customer name, items, payment method), or asks to start a receipt.
- HISTORY: the user wants to see recent receipts.
- STATS: the user wants sales statistics.
- MYBRAND: the user wants to change business name, brand color, logo, template or output format.
- CANCEL: the user wants to abandon the current receipt.
- REJECT: the message is unrelated to receipts or the business.
- CHAT: greetings, thanks, support requests or questions about how to use the assistant.

RULES:
1. If CURRENT STATE is AWAITING_*, a short answer is most likely the awaited value. Classify it as RECEIPT.
2. Only put fields in "data" that the CURRENT message provides. Do not repeat EXISTING DATA, except for items: when the message adds or changes any item, return the COMPLETE updated "items" list, keeping the EXISTING DATA items it does not change.
3. Items are {"name", "price", "quantity"}. "price" is the unit price. Quantity defaults to 1.
4. Normalize numbers: "2k" = 2000, "1.5k" = 1500, "2,000" = 2000, "₦3000" = 3000.
5. "2 shoes at 5000 each" is name "shoes", quantity 2, price 5000.
6. Payment method is free text such as Cash, Transfer or POS. Keep what the user wrote.
7. If the user asks for support, set intent CHAT and tell them an admin will follow up.
8. For CHAT only, write a short friendly "reply". Leave "reply" empty otherwise.

OUTPUT: a single JSON object and nothing else.
{"intent": "RECEIPT|HISTORY|STATS|MYBRAND|CANCEL|REJECT|CHAT", "data": {"customerName": "", "items": [{"name": "", "price": 0, "quantity": 1}], "paymentMethod": ""}, "missingFields": [], "reply": ""}
`)
	return b.String()
}

// stripCodeFence removes a ```json fence some models wrap around JSON output.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
