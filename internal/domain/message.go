package domain

import (
	"encoding/json"
	"time"
)

// Direction tells who sent a message.
type Direction string

const (
	DirectionInbound  Direction = "inbound"  // customer → agent
	DirectionOutbound Direction = "outbound" // agent → customer
)

// ParseDirection normalizes the direction spellings the platform is known to send.
// Unknown values return "".
func ParseDirection(s string) Direction {
	switch s {
	case "inbound", "incoming", "in", "received":
		return DirectionInbound
	case "outbound", "outgoing", "out", "sent":
		return DirectionOutbound
	default:
		return ""
	}
}

// MessageStatus is the delivery state of a message.
type MessageStatus string

const (
	MessageStatusPending   MessageStatus = "pending"
	MessageStatusSent      MessageStatus = "sent"
	MessageStatusDelivered MessageStatus = "delivered"
	MessageStatusRead      MessageStatus = "read"
	MessageStatusFailed    MessageStatus = "failed"
)

// ParseMessageStatus maps a platform status onto the known set. Unknown
// values return "".
func ParseMessageStatus(s string) MessageStatus {
	switch MessageStatus(s) {
	case MessageStatusPending, MessageStatusSent, MessageStatusDelivered, MessageStatusRead, MessageStatusFailed:
		return MessageStatus(s)
	case "queued":
		return MessageStatusPending
	case "seen":
		return MessageStatusRead
	case "error", "undelivered":
		return MessageStatusFailed
	default:
		return ""
	}
}

var messageStatusRank = map[MessageStatus]int{
	MessageStatusPending:   0,
	MessageStatusSent:      1,
	MessageStatusDelivered: 2,
	MessageStatusRead:      3,
}

// CanAdvanceTo reports whether a message in status s may move to next.
// Statuses only move forward (pending→sent→delivered→read); failed is
// reachable from any state and is terminal.
func (s MessageStatus) CanAdvanceTo(next MessageStatus) bool {
	if s == next || s == MessageStatusFailed {
		return false
	}
	if next == MessageStatusFailed {
		return true
	}
	cur, okCur := messageStatusRank[s]
	nxt, okNext := messageStatusRank[next]
	if !okNext {
		return false
	}
	if !okCur {
		return true
	}
	return nxt > cur
}

// Message is a single chat message keyed by the platform message id.
type Message struct {
	ID             string          `json:"id"`
	ExternalID     string          `json:"externalId"`
	ConversationID string          `json:"conversationId"`
	ContactID      string          `json:"contactId"`
	Direction      Direction       `json:"direction"`
	Type           string          `json:"type"`
	Content        string          `json:"content,omitempty"`
	MediaURL       string          `json:"mediaUrl,omitempty"`
	MediaMimeType  string          `json:"mediaMimeType,omitempty"`
	MediaCaption   string          `json:"mediaCaption,omitempty"`
	Status         MessageStatus   `json:"status"`
	EventTimestamp time.Time       `json:"eventTimestamp"`
	CreatedAt      time.Time       `json:"createdAt"`
	RawPayload     json.RawMessage `json:"rawPayload,omitempty"`
}
