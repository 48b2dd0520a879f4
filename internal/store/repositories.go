package store

import (
	"github.com/soyeahso/chatpulse/internal/logging"
	"github.com/soyeahso/chatpulse/internal/retry"
)

// Repositories bundles the typed stores that share one DB and Writer.
type Repositories struct {
	Events        *EventStore
	Contacts      *ContactStore
	Conversations *ConversationStore
	Messages      *MessageStore
	Pending       *PendingStore
}

// NewRepositories builds every store over db, writing under policy.
func NewRepositories(db *DB, policy retry.Policy, log *logging.Logger) *Repositories {
	w := NewWriter(db, policy, log)
	return &Repositories{
		Events:        NewEventStore(db, w),
		Contacts:      NewContactStore(db, w),
		Conversations: NewConversationStore(db, w),
		Messages:      NewMessageStore(db, w),
		Pending:       NewPendingStore(db, w),
	}
}
