// Package webhook parses inbound platform notifications and classifies them
// into a closed set of event kinds.
package webhook

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/soyeahso/chatpulse/internal/domain"
)

// Payload is one inbound notification. Every envelope is optional.
type Payload struct {
	Event        string                `json:"event,omitempty"`
	EventType    string                `json:"eventType,omitempty"`
	Message      *MessageEnvelope      `json:"message,omitempty"`
	Contact      *ContactEnvelope      `json:"contact,omitempty"`
	Conversation *ConversationEnvelope `json:"conversation,omitempty"`

	// Raw holds the bytes the payload was parsed from.
	Raw json.RawMessage `json:"-"`
}

// MessageEnvelope describes a chat message.
type MessageEnvelope struct {
	ExternalID             string    `json:"externalId"`
	ConversationExternalID string    `json:"conversationExternalId"`
	Direction              string    `json:"direction"`
	Type                   string    `json:"type"`
	Content                string    `json:"content,omitempty"`
	EventTimestamp         Timestamp `json:"eventTimestamp"`
	Status                 string    `json:"status,omitempty"`
	MediaURL               string    `json:"mediaUrl,omitempty"`
	MediaMimeType          string    `json:"mediaMimeType,omitempty"`
	MediaCaption           string    `json:"mediaCaption,omitempty"`
}

// ContactEnvelope describes the customer.
type ContactEnvelope struct {
	ExternalID string         `json:"externalId,omitempty"`
	Phone      string         `json:"phone"`
	Name       string         `json:"name,omitempty"`
	Email      string         `json:"email,omitempty"`
	Tags       []string       `json:"tags,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// ConversationEnvelope describes the chat thread.
type ConversationEnvelope struct {
	ExternalID      string         `json:"externalId"`
	Status          string         `json:"status,omitempty"`
	Channel         string         `json:"channel,omitempty"`
	AssignedAgentID string         `json:"assignedAgentId,omitempty"`
	Priority        string         `json:"priority,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// Parse decodes raw into a Payload. Anything that is not a JSON object is a
// *domain.ValidationError.
func Parse(raw []byte) (*Payload, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, domain.NewValidationError("payload", "empty body")
	}
	if trimmed[0] != '{' {
		return nil, domain.NewValidationError("payload", "expected a JSON object")
	}

	var p Payload
	if err := json.Unmarshal(trimmed, &p); err != nil {
		return nil, domain.NewValidationError("payload", fmt.Sprintf("invalid JSON: %v", err))
	}
	p.Raw = json.RawMessage(trimmed)
	return &p, nil
}

// ExplicitEvent returns the type tag set by the sender, if any.
func (p *Payload) ExplicitEvent() string {
	if e := strings.TrimSpace(p.Event); e != "" {
		return e
	}
	return strings.TrimSpace(p.EventType)
}

// Empty reports whether the payload carries no envelope at all.
func (p *Payload) Empty() bool {
	return p.Message == nil && p.Contact == nil && p.Conversation == nil
}

// ConversationExternalID returns the chat id from the conversation envelope,
// falling back to the message envelope.
func (p *Payload) ConversationExternalID() string {
	if p.Conversation != nil && p.Conversation.ExternalID != "" {
		return p.Conversation.ExternalID
	}
	if p.Message != nil {
		return p.Message.ConversationExternalID
	}
	return ""
}

// Timestamp accepts RFC 3339 strings and Unix epochs in seconds or
// milliseconds, either as JSON numbers or numeric strings.
type Timestamp struct {
	time.Time
}

// epochMillisThreshold separates second and millisecond epochs.
const epochMillisThreshold = 1e11

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" || s == `""` {
		t.Time = time.Time{}
		return nil
	}
	s = strings.Trim(s, `"`)

	if n, err := strconv.ParseFloat(s, 64); err == nil {
		if n >= epochMillisThreshold {
			t.Time = time.UnixMilli(int64(n)).UTC()
		} else {
			t.Time = time.Unix(int64(n), 0).UTC()
		}
		return nil
	}

	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed.UTC()
			return nil
		}
	}
	return fmt.Errorf("unrecognized timestamp %q", s)
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}
