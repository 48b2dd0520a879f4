package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/soyeahso/chatpulse/internal/domain"
)

const tablePendingResponses = "pending_responses"

// PendingStore persists the awaiting-reply ledger and the response records
// it turns into once answered.
type PendingStore struct {
	db *DB
	w  *Writer
}

// NewPendingStore creates a pending store using the given database and writer.
func NewPendingStore(db *DB, w *Writer) *PendingStore {
	return &PendingStore{db: db, w: w}
}

// Insert stores a new entry. A second open entry for the same key, or a
// second entry for the same customer message, wraps domain.ErrDuplicate.
func (s *PendingStore) Insert(ctx context.Context, p *domain.PendingResponse) error {
	_, err := s.w.InsertWithRetry(ctx, tablePendingResponses, Row{
		"id":                           p.ID,
		"conversation_key":             p.ConversationKey,
		"contact_phone":                p.ContactPhone,
		"contact_name":                 nullable(p.ContactName),
		"customer_message_time":        p.CustomerMessageTime,
		"customer_message_external_id": p.CustomerMessageExternalID,
		"customer_message_content":     nullable(p.CustomerMessageContent),
		"is_pending":                   p.IsPending,
		"agent_response_time":          p.AgentResponseTime,
		"agent_message_external_id":    nullable(p.AgentMessageExternalID),
		"response_time_ms":             p.ResponseTimeMs,
		"response_time_minutes":        p.ResponseTimeMinutes,
		"is_first_message":             p.IsFirstMessage,
		"customer_gap_ms":              p.CustomerGapMs,
		"created_at":                   p.CreatedAt,
		"updated_at":                   p.UpdatedAt,
	})
	return err
}

// Supersede closes the open entry with the given id without a response time.
// It fails with *domain.NotFoundError if the entry is no longer open.
func (s *PendingStore) Supersede(ctx context.Context, id string, at time.Time) error {
	_, err := s.w.UpdateWithRetry(ctx, tablePendingResponses,
		Row{"is_pending": false, "updated_at": at},
		Row{"id": id, "is_pending": true},
	)
	return err
}

// Answer closes p as answered using its agent and response-time fields.
// It fails with *domain.NotFoundError if the entry is no longer open.
func (s *PendingStore) Answer(ctx context.Context, p *domain.PendingResponse) error {
	_, err := s.w.UpdateWithRetry(ctx, tablePendingResponses,
		Row{
			"is_pending":                false,
			"agent_response_time":       p.AgentResponseTime,
			"agent_message_external_id": nullable(p.AgentMessageExternalID),
			"response_time_ms":          p.ResponseTimeMs,
			"response_time_minutes":     p.ResponseTimeMinutes,
			"updated_at":                p.UpdatedAt,
		},
		Row{"id": p.ID, "is_pending": true},
	)
	return err
}

// GetByCustomerMessage returns the entry opened by a customer message, or nil.
func (s *PendingStore) GetByCustomerMessage(ctx context.Context, externalID string) (*domain.PendingResponse, error) {
	p, err := scanPending(s.db.queryRow(ctx,
		`SELECT `+pendingColumns+` FROM pending_responses WHERE customer_message_external_id = ?`, externalID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get pending entry: %w", err)
	}
	return p, nil
}

// OpenForKey returns the open entries of a conversation key, most recent
// customer message first. Normally there is at most one.
func (s *PendingStore) OpenForKey(ctx context.Context, key string) ([]domain.PendingResponse, error) {
	return s.list(ctx,
		`SELECT `+pendingColumns+` FROM pending_responses
		 WHERE conversation_key = ? AND is_pending = 1
		 ORDER BY customer_message_time DESC`, key)
}

// ListByKey returns every entry of a conversation key, oldest first.
func (s *PendingStore) ListByKey(ctx context.Context, key string) ([]domain.PendingResponse, error) {
	return s.list(ctx,
		`SELECT `+pendingColumns+` FROM pending_responses
		 WHERE conversation_key = ?
		 ORDER BY customer_message_time ASC`, key)
}

// ListOpen returns open entries across all keys, longest waiting first.
func (s *PendingStore) ListOpen(ctx context.Context, limit int) ([]domain.PendingResponse, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.list(ctx,
		`SELECT `+pendingColumns+` FROM pending_responses
		 WHERE is_pending = 1
		 ORDER BY customer_message_time ASC LIMIT ?`, limit)
}

// ListAnswered returns response records answered at or after since. A
// non-empty phone restricts the result to one contact.
func (s *PendingStore) ListAnswered(ctx context.Context, since time.Time, phone string) ([]domain.PendingResponse, error) {
	query := `SELECT ` + pendingColumns + ` FROM pending_responses
		WHERE is_pending = 0 AND response_time_ms IS NOT NULL AND agent_response_time >= ?`
	args := []any{since}
	if phone != "" {
		query += ` AND contact_phone = ?`
		args = append(args, phone)
	}
	query += ` ORDER BY agent_response_time ASC`
	return s.list(ctx, query, args...)
}

// CountOpen returns the number of open entries.
func (s *PendingStore) CountOpen(ctx context.Context) (int, error) {
	var n int
	if err := s.db.queryRow(ctx, `SELECT COUNT(*) FROM pending_responses WHERE is_pending = 1`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count pending entries: %w", err)
	}
	return n, nil
}

func (s *PendingStore) list(ctx context.Context, query string, args ...any) ([]domain.PendingResponse, error) {
	rows, err := s.db.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list pending entries: %w", err)
	}
	defer rows.Close()

	var out []domain.PendingResponse
	for rows.Next() {
		p, err := scanPending(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pending entry: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

const pendingColumns = `id, conversation_key, contact_phone, contact_name, customer_message_time,
	customer_message_external_id, customer_message_content, is_pending, agent_response_time,
	agent_message_external_id, response_time_ms, response_time_minutes, is_first_message,
	customer_gap_ms, created_at, updated_at`

func scanPending(sc scanner) (*domain.PendingResponse, error) {
	var (
		p                                domain.PendingResponse
		name, content, agentAt, agentExt sql.NullString
		customerAt, created, updated     string
		isPending, isFirst               int64
		ms, minutes, gap                 sql.NullInt64
	)
	if err := sc.Scan(&p.ID, &p.ConversationKey, &p.ContactPhone, &name, &customerAt,
		&p.CustomerMessageExternalID, &content, &isPending, &agentAt,
		&agentExt, &ms, &minutes, &isFirst,
		&gap, &created, &updated); err != nil {
		return nil, err
	}

	p.ContactName = name.String
	p.CustomerMessageContent = content.String
	p.CustomerMessageTime = parseTime(customerAt)
	p.IsPending = isPending == 1
	p.AgentResponseTime = nullTime(agentAt)
	p.AgentMessageExternalID = agentExt.String
	p.ResponseTimeMs = nullInt(ms)
	p.ResponseTimeMinutes = nullInt(minutes)
	p.IsFirstMessage = isFirst == 1
	p.CustomerGapMs = nullInt(gap)
	p.CreatedAt = parseTime(created)
	p.UpdatedAt = parseTime(updated)
	return &p, nil
}

func nullInt(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}
