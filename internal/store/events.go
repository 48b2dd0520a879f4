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

const tableWebhookEvents = "webhook_events"

// EventStore persists the webhook audit trail.
type EventStore struct {
	db *DB
	w  *Writer
}

// NewEventStore creates an event store using the given database and writer.
func NewEventStore(db *DB, w *Writer) *EventStore {
	return &EventStore{db: db, w: w}
}

// Insert appends an audit row.
func (s *EventStore) Insert(ctx context.Context, e *domain.WebhookEvent) error {
	raw := e.RawPayload
	if len(raw) == 0 {
		raw = json.RawMessage("null")
	}
	_, err := s.w.InsertWithRetry(ctx, tableWebhookEvents, Row{
		"id":            e.ID,
		"event_type":    e.EventType,
		"raw_payload":   raw,
		"processed":     e.Processed,
		"processed_at":  e.ProcessedAt,
		"error_message": nullable(e.ErrorMessage),
		"retry_count":   e.RetryCount,
		"source_ip":     nullable(e.SourceIP),
		"user_agent":    nullable(e.UserAgent),
		"created_at":    e.CreatedAt,
	})
	return err
}

// MarkProcessed flags the row as successfully processed and clears any error.
func (s *EventStore) MarkProcessed(ctx context.Context, id string, at time.Time) error {
	_, err := s.w.UpdateWithRetry(ctx, tableWebhookEvents,
		Row{"processed": true, "processed_at": at, "error_message": nil},
		Row{"id": id},
	)
	return err
}

// MarkError stores the failure message and increments retry_count.
func (s *EventStore) MarkError(ctx context.Context, id, message string) error {
	_, err := s.w.UpdateWithRetry(ctx, tableWebhookEvents,
		Row{"processed": false, "error_message": message, "retry_count": Expr("retry_count + 1")},
		Row{"id": id},
	)
	return err
}

// SetEventType rewrites the recorded type, used when a replay reclassifies a row.
func (s *EventStore) SetEventType(ctx context.Context, id, eventType string) error {
	_, err := s.w.UpdateWithRetry(ctx, tableWebhookEvents, Row{"event_type": eventType}, Row{"id": id})
	return err
}

// Get returns an event by id, or nil if not found.
func (s *EventStore) Get(ctx context.Context, id string) (*domain.WebhookEvent, error) {
	e, err := scanEvent(s.db.queryRow(ctx, `SELECT `+eventColumns+` FROM webhook_events WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get webhook event: %w", err)
	}
	return e, nil
}

// ListUnprocessed returns unprocessed rows with fewer than maxRetries
// failures, oldest first.
func (s *EventStore) ListUnprocessed(ctx context.Context, maxRetries, limit int) ([]domain.WebhookEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.query(ctx,
		`SELECT `+eventColumns+` FROM webhook_events
		 WHERE processed = 0 AND retry_count < ?
		 ORDER BY created_at ASC LIMIT ?`, maxRetries, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list unprocessed events: %w", err)
	}
	defer rows.Close()

	var events []domain.WebhookEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan webhook event: %w", err)
		}
		events = append(events, *e)
	}
	return events, rows.Err()
}

// EventCounts summarizes the audit table.
type EventCounts struct {
	Total       int `json:"total"`
	Processed   int `json:"processed"`
	Unprocessed int `json:"unprocessed"`
	Failed      int `json:"failed"`
}

// Counts returns audit table totals.
func (s *EventStore) Counts(ctx context.Context) (EventCounts, error) {
	var c EventCounts
	err := s.db.queryRow(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN processed = 1 THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN processed = 0 AND error_message IS NOT NULL THEN 1 ELSE 0 END), 0)
		FROM webhook_events`,
	).Scan(&c.Total, &c.Processed, &c.Failed)
	if err != nil {
		return c, fmt.Errorf("count webhook events: %w", err)
	}
	c.Unprocessed = c.Total - c.Processed
	return c, nil
}

const eventColumns = `id, event_type, raw_payload, processed, processed_at, error_message,
	retry_count, source_ip, user_agent, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(sc scanner) (*domain.WebhookEvent, error) {
	var (
		e                           domain.WebhookEvent
		raw, createdAt              string
		processed                   int64
		processedAt, errMsg, ip, ua sql.NullString
	)
	if err := sc.Scan(&e.ID, &e.EventType, &raw, &processed, &processedAt, &errMsg,
		&e.RetryCount, &ip, &ua, &createdAt); err != nil {
		return nil, err
	}
	e.RawPayload = json.RawMessage(raw)
	e.Processed = processed == 1
	e.ProcessedAt = nullTime(processedAt)
	e.ErrorMessage = errMsg.String
	e.SourceIP = ip.String
	e.UserAgent = ua.String
	e.CreatedAt = parseTime(createdAt)
	return &e, nil
}

func nullTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseTime(s.String)
	return &t
}
