package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ============================================================
// Receipt payload — the record assembled across turns
// ============================================================

// Field names a required payload field. Values match the JSON keys the
// language model reads and writes.
type Field string

const (
	FieldCustomerName  Field = "customerName"
	FieldItems         Field = "items"
	FieldPaymentMethod Field = "paymentMethod"
)

// fieldPrecedence is the order in which missing fields are asked for.
var fieldPrecedence = []Field{FieldCustomerName, FieldItems, FieldPaymentMethod}

// LineItem is one sold item. Price is the unit price.
type LineItem struct {
	Name     string  `json:"name"`
	Price    float64 `json:"price"`
	Quantity int     `json:"quantity"`
}

// LineTotal is price × quantity.
func (li LineItem) LineTotal() decimal.Decimal {
	return decimal.NewFromFloat(li.Price).Mul(decimal.NewFromInt(int64(li.Quantity)))
}

// DisplayName renders "Rice (x2)" for multi-quantity lines.
func (li LineItem) DisplayName() string {
	if li.Quantity > 1 {
		return fmt.Sprintf("%s (x%d)", li.Name, li.Quantity)
	}
	return li.Name
}

// Validate enforces name non-empty, price ≥ 0 and quantity ≥ 1.
func (li LineItem) Validate() error {
	if strings.TrimSpace(li.Name) == "" {
		return &ErrValidation{Field: "items.name", Message: "must not be empty"}
	}
	if li.Price < 0 {
		return &ErrValidation{Field: "items.price", Message: "must be >= 0"}
	}
	if li.Quantity < 1 {
		return &ErrValidation{Field: "items.quantity", Message: "must be >= 1"}
	}
	return nil
}

// Payload is the partially-filled receipt.
type Payload struct {
	CustomerName  string     `json:"customerName,omitempty"`
	Items         []LineItem `json:"items,omitempty"`
	PaymentMethod string     `json:"paymentMethod,omitempty"`
}

// Has reports whether the field holds a usable value.
func (p Payload) Has(f Field) bool {
	switch f {
	case FieldCustomerName:
		return strings.TrimSpace(p.CustomerName) != ""
	case FieldItems:
		return len(p.Items) > 0
	case FieldPaymentMethod:
		return strings.TrimSpace(p.PaymentMethod) != ""
	}
	return false
}

// MissingFields returns the next field to ask for, in fixed precedence
// customerName → items → paymentMethod. The result holds at most one field
// and is empty iff the payload is complete.
func (p Payload) MissingFields() []Field {
	for _, f := range fieldPrecedence {
		if !p.Has(f) {
			return []Field{f}
		}
	}
	return []Field{}
}

// NextMissing is MissingFields as a single value; "" when complete.
func (p Payload) NextMissing() Field {
	if m := p.MissingFields(); len(m) > 0 {
		return m[0]
	}
	return ""
}

// IsComplete reports whether every required field is present.
func (p Payload) IsComplete() bool {
	return p.NextMissing() == ""
}

// IsEmpty reports whether no field has been collected yet.
func (p Payload) IsEmpty() bool {
	for _, f := range fieldPrecedence {
		if p.Has(f) {
			return false
		}
	}
	return true
}

// Merge returns base overridden by every field present in update.
// Items are replaced as a whole list.
func Merge(base, update Payload) Payload {
	out := base.Clone()
	if update.Has(FieldCustomerName) {
		out.CustomerName = strings.TrimSpace(update.CustomerName)
	}
	if update.Has(FieldItems) {
		out.Items = append([]LineItem(nil), update.Items...)
	}
	if update.Has(FieldPaymentMethod) {
		out.PaymentMethod = strings.TrimSpace(update.PaymentMethod)
	}
	return out
}

// Clone deep-copies the item slice.
func (p Payload) Clone() Payload {
	out := p
	if p.Items != nil {
		out.Items = append([]LineItem(nil), p.Items...)
	}
	return out
}

// Total is Σ price × quantity.
func (p Payload) Total() decimal.Decimal {
	total := decimal.Zero
	for _, li := range p.Items {
		total = total.Add(li.LineTotal())
	}
	return total
}
