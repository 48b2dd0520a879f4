package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/soyeahso/chatpulse/internal/domain"
)

const tableMessages = "messages"

// MessageStore persists messages.
type MessageStore struct {
	db *DB
	w  *Writer
}

// NewMessageStore creates a message store using the given database and writer.
func NewMessageStore(db *DB, w *Writer) *MessageStore {
	return &MessageStore{db: db, w: w}
}

// GetByExternalID returns a message by platform id, or nil if not found.
func (s *MessageStore) GetByExternalID(ctx context.Context, externalID string) (*domain.Message, error) {
	return s.one(ctx, `SELECT `+messageColumns+` FROM messages WHERE external_id = ?`, externalID)
}

// LastOutboundBefore returns the latest agent message in the conversation
// sent strictly before t, or nil if there is none.
func (s *MessageStore) LastOutboundBefore(ctx context.Context, conversationID string, t time.Time) (*domain.Message, error) {
	return s.one(ctx,
		`SELECT `+messageColumns+` FROM messages
		 WHERE conversation_id = ? AND direction = 'outbound' AND event_timestamp < ?
		 ORDER BY event_timestamp DESC LIMIT 1`, conversationID, t)
}

func (s *MessageStore) one(ctx context.Context, query string, args ...any) (*domain.Message, error) {
	m, err := scanMessage(s.db.queryRow(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	return m, nil
}

// Insert stores a new message. A repeated external id wraps domain.ErrDuplicate.
func (s *MessageStore) Insert(ctx context.Context, m *domain.Message) error {
	_, err := s.w.InsertWithRetry(ctx, tableMessages, Row{
		"id":              m.ID,
		"external_id":     m.ExternalID,
		"conversation_id": m.ConversationID,
		"contact_id":      m.ContactID,
		"direction":       m.Direction,
		"type":            m.Type,
		"content":         nullable(m.Content),
		"media_url":       nullable(m.MediaURL),
		"media_mime_type": nullable(m.MediaMimeType),
		"media_caption":   nullable(m.MediaCaption),
		"status":          m.Status,
		"event_timestamp": m.EventTimestamp,
		"created_at":      m.CreatedAt,
		"raw_payload":     m.RawPayload,
	})
	return err
}

// AdvanceStatus moves a message from one status to the next. The update only
// applies while the stored status still equals from.
func (s *MessageStore) AdvanceStatus(ctx context.Context, id string, from, to domain.MessageStatus) error {
	_, err := s.w.UpdateWithRetry(ctx, tableMessages, Row{"status": to}, Row{"id": id, "status": from})
	return err
}

// Count returns the number of stored messages.
func (s *MessageStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.queryRow(ctx, `SELECT COUNT(*) FROM messages`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return n, nil
}

const messageColumns = `id, external_id, conversation_id, contact_id, direction, type, content,
	media_url, media_mime_type, media_caption, status, event_timestamp, created_at, raw_payload`

func scanMessage(sc scanner) (*domain.Message, error) {
	var (
		m                                   domain.Message
		direction, status, eventTS, created string
		content, mediaURL, mime, caption    sql.NullString
		raw                                 sql.NullString
	)
	if err := sc.Scan(&m.ID, &m.ExternalID, &m.ConversationID, &m.ContactID, &direction, &m.Type,
		&content, &mediaURL, &mime, &caption, &status, &eventTS, &created, &raw); err != nil {
		return nil, err
	}

	m.Direction = domain.Direction(direction)
	m.Status = domain.MessageStatus(status)
	m.Content = content.String
	m.MediaURL = mediaURL.String
	m.MediaMimeType = mime.String
	m.MediaCaption = caption.String
	m.EventTimestamp = parseTime(eventTS)
	m.CreatedAt = parseTime(created)
	if raw.Valid {
		m.RawPayload = json.RawMessage(raw.String)
	}
	return &m, nil
}
