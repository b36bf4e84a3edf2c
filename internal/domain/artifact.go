package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Artifact is the persisted record of one finalized receipt.
type Artifact struct {
	ID            string          `json:"id"`
	UserID        string          `json:"userId"`
	CreatedAt     time.Time       `json:"createdAt"`
	CustomerName  string          `json:"customerName"`
	Total         decimal.Decimal `json:"total"`
	Items         []LineItem      `json:"items"`
	PaymentMethod string          `json:"paymentMethod"`
	EditCount     int             `json:"editCount"`
}

// NewArtifact snapshots a complete payload.
func NewArtifact(id, userID string, p Payload, now time.Time) *Artifact {
	return &Artifact{
		ID:            id,
		UserID:        userID,
		CreatedAt:     now,
		CustomerName:  p.CustomerName,
		Total:         p.Total(),
		Items:         append([]LineItem(nil), p.Items...),
		PaymentMethod: p.PaymentMethod,
	}
}

// Payload rebuilds the payload an artifact was created from.
func (a *Artifact) Payload() Payload {
	return Payload{
		CustomerName:  a.CustomerName,
		Items:         append([]LineItem(nil), a.Items...),
		PaymentMethod: a.PaymentMethod,
	}
}

// StartOfMonth returns the first instant of t's calendar month in t's location.
func StartOfMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
}
