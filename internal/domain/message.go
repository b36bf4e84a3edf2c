package domain

import (
	"strings"
	"time"
)

// ============================================================
// Inbound events
// ============================================================

// MessageType is the kind of inbound message the transport delivered.
type MessageType string

const (
	MessageText        MessageType = "text"
	MessageInteractive MessageType = "interactive"
	MessageImage       MessageType = "image"
	MessageOther       MessageType = "other"
)

// InboundMessage is one decoded message from the messaging webhook.
type InboundMessage struct {
	ID            string      `json:"id"`
	From          string      `json:"from"`
	Type          MessageType `json:"type"`
	Text          string      `json:"text,omitempty"`
	InteractiveID string      `json:"interactiveId,omitempty"`
	Caption       string      `json:"caption,omitempty"`
	Timestamp     time.Time   `json:"timestamp"`
}

// ============================================================
// Outbound structures
// ============================================================

// ListMenu is an interactive list with sections of selectable rows.
type ListMenu struct {
	Header   string
	Body     string
	Footer   string
	Button   string
	Sections []MenuSection
}

// MenuSection groups rows under a title.
type MenuSection struct {
	Title string
	Rows  []MenuRow
}

// MenuRow is one selectable entry. ID comes back as the interactive id.
type MenuRow struct {
	ID          string
	Title       string
	Description string
}

// ButtonMenu is a short message with up to three reply buttons.
type ButtonMenu struct {
	Body    string
	Buttons []MenuButton
}

// MenuButton is one reply button.
type MenuButton struct {
	ID    string
	Title string
}

// Media is a rendered file ready to upload.
type Media struct {
	Data     []byte
	MIMEType string
	Filename string
	Caption  string
}

// IsImage reports whether the transport should send it inline.
func (m *Media) IsImage() bool {
	return strings.HasPrefix(m.MIMEType, "image/")
}
