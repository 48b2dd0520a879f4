package webhook

import (
	"strings"

	"github.com/soyeahso/chatpulse/internal/domain"
)

// Kind is the closed set of event kinds the pipeline routes on.
type Kind string

const (
	KindMessageReceived     Kind = "message.received"
	KindMessageSent         Kind = "message.sent"
	KindMessageStatus       Kind = "message.status"
	KindConversationCreated Kind = "conversation.created"
	KindConversationUpdated Kind = "conversation.updated"
	KindConversationClosed  Kind = "conversation.closed"
	KindContactCreated      Kind = "contact.created"
	KindContactUpdated      Kind = "contact.updated"
)

var kinds = map[Kind]struct{}{
	KindMessageReceived:     {},
	KindMessageSent:         {},
	KindMessageStatus:       {},
	KindConversationCreated: {},
	KindConversationUpdated: {},
	KindConversationClosed:  {},
	KindContactCreated:      {},
	KindContactUpdated:      {},
}

// ParseKind returns the Kind named by s and whether it is known.
func ParseKind(s string) (Kind, bool) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	_, ok := kinds[k]
	return k, ok
}

// IsMessage reports whether k carries a message.
func (k Kind) IsMessage() bool {
	return strings.HasPrefix(string(k), "message.")
}

// Direction returns the message direction implied by k, or "".
func (k Kind) Direction() domain.Direction {
	switch k {
	case KindMessageReceived:
		return domain.DirectionInbound
	case KindMessageSent:
		return domain.DirectionOutbound
	}
	return ""
}

// Reason records which rule produced a classification.
type Reason string

const (
	ReasonExplicit     Reason = "explicit"
	ReasonMessage      Reason = "message_shape"
	ReasonConversation Reason = "conversation_shape"
	ReasonContact      Reason = "contact_shape"
	ReasonDefault      Reason = "default"
)

// Classification is the outcome of Classify.
type Classification struct {
	Kind   Kind   `json:"kind"`
	Reason Reason `json:"reason"`
}

// Guessed reports whether the kind came from the fallback rule.
func (c Classification) Guessed() bool {
	return c.Reason == ReasonDefault
}

// Classify infers the event kind of p. It never fails: a known explicit tag
// wins, then the message, conversation and contact envelopes are inspected
// in that order, and anything else is message.received.
func Classify(p *Payload) Classification {
	if p == nil {
		return Classification{Kind: KindMessageReceived, Reason: ReasonDefault}
	}

	if k, ok := ParseKind(p.ExplicitEvent()); ok {
		return Classification{Kind: k, Reason: ReasonExplicit}
	}

	if p.Message != nil {
		switch domain.ParseDirection(strings.ToLower(strings.TrimSpace(p.Message.Direction))) {
		case domain.DirectionInbound:
			return Classification{Kind: KindMessageReceived, Reason: ReasonMessage}
		case domain.DirectionOutbound:
			return Classification{Kind: KindMessageSent, Reason: ReasonMessage}
		}
		// no usable direction
		return Classification{Kind: KindMessageReceived, Reason: ReasonDefault}
	}

	if p.Conversation != nil {
		status := domain.ParseConversationStatus(strings.ToLower(strings.TrimSpace(p.Conversation.Status)))
		if status.Terminal() {
			return Classification{Kind: KindConversationClosed, Reason: ReasonConversation}
		}
		return Classification{Kind: KindConversationUpdated, Reason: ReasonConversation}
	}

	if p.Contact != nil {
		return Classification{Kind: KindContactUpdated, Reason: ReasonContact}
	}

	return Classification{Kind: KindMessageReceived, Reason: ReasonDefault}
}
