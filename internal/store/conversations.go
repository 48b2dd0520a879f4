package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/soyeahso/chatpulse/internal/domain"
)

const tableConversations = "conversations"

// ConversationStore persists conversations.
type ConversationStore struct {
	db *DB
	w  *Writer
}

// NewConversationStore creates a conversation store using the given database and writer.
func NewConversationStore(db *DB, w *Writer) *ConversationStore {
	return &ConversationStore{db: db, w: w}
}

// Get returns a conversation by internal id, or nil if not found.
func (s *ConversationStore) Get(ctx context.Context, id string) (*domain.Conversation, error) {
	return s.one(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE id = ?`, id)
}

// GetByExternalID returns a conversation by platform chat id, or nil if not found.
func (s *ConversationStore) GetByExternalID(ctx context.Context, externalID string) (*domain.Conversation, error) {
	return s.one(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE external_id = ?`, externalID)
}

// LatestOpen returns the contact's most recently active conversation that is
// still open or pending, or nil if there is none.
func (s *ConversationStore) LatestOpen(ctx context.Context, contactID string) (*domain.Conversation, error) {
	return s.one(ctx,
		`SELECT `+conversationColumns+` FROM conversations
		 WHERE contact_id = ? AND status IN ('open', 'pending')
		 ORDER BY last_message_at DESC LIMIT 1`, contactID)
}

func (s *ConversationStore) one(ctx context.Context, query string, args ...any) (*domain.Conversation, error) {
	c, err := scanConversation(s.db.queryRow(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	return c, nil
}

// Insert stores a new conversation.
func (s *ConversationStore) Insert(ctx context.Context, c *domain.Conversation) error {
	row := conversationRow(c)
	row["id"] = c.ID
	row["contact_id"] = c.ContactID
	row["created_at"] = c.CreatedAt
	_, err := s.w.InsertWithRetry(ctx, tableConversations, row)
	return err
}

// Update overwrites the mutable fields of an existing conversation.
func (s *ConversationStore) Update(ctx context.Context, c *domain.Conversation) error {
	_, err := s.w.UpdateWithRetry(ctx, tableConversations, conversationRow(c), Row{"id": c.ID})
	return err
}

// Count returns the number of stored conversations.
func (s *ConversationStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.queryRow(ctx, `SELECT COUNT(*) FROM conversations`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count conversations: %w", err)
	}
	return n, nil
}

func conversationRow(c *domain.Conversation) Row {
	return Row{
		"external_id":       nullable(c.ExternalID),
		"channel":           c.Channel,
		"status":            c.Status,
		"assigned_agent_id": nullable(c.AssignedAgentID),
		"priority":          c.Priority,
		"closed_at":         c.ClosedAt,
		"last_message_at":   c.LastMessageAt,
		"metadata":          c.Metadata,
		"updated_at":        c.UpdatedAt,
	}
}

const conversationColumns = `id, external_id, contact_id, channel, status, assigned_agent_id,
	priority, closed_at, last_message_at, metadata, created_at, updated_at`

func scanConversation(sc scanner) (*domain.Conversation, error) {
	var (
		c                             domain.Conversation
		externalID, agentID, closedAt sql.NullString
		status, metadata              string
		lastMessage, created, updated string
	)
	if err := sc.Scan(&c.ID, &externalID, &c.ContactID, &c.Channel, &status, &agentID,
		&c.Priority, &closedAt, &lastMessage, &metadata, &created, &updated); err != nil {
		return nil, err
	}

	c.ExternalID = externalID.String
	c.AssignedAgentID = agentID.String
	c.Status = domain.ConversationStatus(status)
	c.ClosedAt = nullTime(closedAt)

	var err error
	if c.Metadata, err = domain.UnmarshalMetadata(metadata); err != nil {
		return nil, fmt.Errorf("decoding conversation metadata: %w", err)
	}

	c.LastMessageAt = parseTime(lastMessage)
	c.CreatedAt = parseTime(created)
	c.UpdatedAt = parseTime(updated)
	return &c, nil
}
