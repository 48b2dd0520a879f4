package domain

import "time"

// ConversationStatus is the lifecycle state of a conversation.
type ConversationStatus string

const (
	ConversationStatusOpen     ConversationStatus = "open"
	ConversationStatusPending  ConversationStatus = "pending"
	ConversationStatusResolved ConversationStatus = "resolved"
	ConversationStatusClosed   ConversationStatus = "closed"
	ConversationStatusArchived ConversationStatus = "archived"
)

// ParseConversationStatus maps a platform status onto the known set.
// Unknown values return "".
func ParseConversationStatus(s string) ConversationStatus {
	switch ConversationStatus(s) {
	case ConversationStatusOpen, ConversationStatusPending, ConversationStatusResolved,
		ConversationStatusClosed, ConversationStatusArchived:
		return ConversationStatus(s)
	case "snoozed", "waiting":
		return ConversationStatusPending
	case "finished", "ended":
		return ConversationStatusClosed
	default:
		return ""
	}
}

// Terminal reports whether the status ends the conversation.
func (s ConversationStatus) Terminal() bool {
	switch s {
	case ConversationStatusResolved, ConversationStatusClosed, ConversationStatusArchived:
		return true
	}
	return false
}

const (
	DefaultChannel  = "whatsapp"
	DefaultPriority = "normal"
)

// Conversation is one chat thread between a contact and the support team.
type Conversation struct {
	ID              string             `json:"id"`
	ExternalID      string             `json:"externalId,omitempty"`
	ContactID       string             `json:"contactId"`
	Channel         string             `json:"channel"`
	Status          ConversationStatus `json:"status"`
	AssignedAgentID string             `json:"assignedAgentId,omitempty"`
	Priority        string             `json:"priority"`
	ClosedAt        *time.Time         `json:"closedAt,omitempty"`
	LastMessageAt   time.Time          `json:"lastMessageAt"`
	Metadata        Metadata           `json:"metadata"`
	CreatedAt       time.Time          `json:"createdAt"`
	UpdatedAt       time.Time          `json:"updatedAt"`
}
