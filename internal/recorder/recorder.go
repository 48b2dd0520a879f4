// Package recorder keeps the audit trail of inbound webhook payloads.
package recorder

import (
	"context"
	"encoding/json"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/soyeahso/chatpulse/internal/domain"
	"github.com/soyeahso/chatpulse/internal/logging"
	"github.com/soyeahso/chatpulse/internal/store"
)

// maxErrorLength bounds the stored error message.
const maxErrorLength = 2000

// Recorder writes one audit row per payload before it is processed and
// flips it to processed or failed afterwards.
type Recorder struct {
	events     *store.EventStore
	production bool
	now        func() time.Time
	log        *logging.Logger
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) { r.now = now }
}

// New creates a recorder. Outside production, a failure to write the audit
// row is logged and swallowed so local setups keep working.
func New(events *store.EventStore, production bool, log *logging.Logger, opts ...Option) *Recorder {
	r := &Recorder{
		events:     events,
		production: production,
		now:        time.Now,
		log:        log.Sub("recorder"),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Record appends an audit row and returns its id. In non-production mode a
// storage failure yields an empty id and a nil error.
func (r *Recorder) Record(ctx context.Context, eventType string, raw json.RawMessage, sourceIP, userAgent string) (string, error) {
	e := &domain.WebhookEvent{
		ID:         uuid.New().String(),
		EventType:  eventType,
		RawPayload: raw,
		SourceIP:   sourceIP,
		UserAgent:  userAgent,
		CreatedAt:  r.now().UTC(),
	}

	if err := r.events.Insert(ctx, e); err != nil {
		if !r.production {
			r.log.Warn().Err(err).Str("eventType", eventType).Msg("audit write failed, continuing without audit row")
			return "", nil
		}
		r.log.Error().Err(err).Str("eventType", eventType).Msg("audit write failed")
		return "", err
	}

	r.log.Debug().Str("eventId", e.ID).Str("eventType", eventType).Msg("webhook recorded")
	return e.ID, nil
}

// MarkProcessed flags the audit row as processed. An empty id is a no-op.
func (r *Recorder) MarkProcessed(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	if err := r.events.MarkProcessed(ctx, id, r.now().UTC()); err != nil {
		r.log.Error().Err(err).Str("eventId", id).Msg("failed to mark webhook processed")
		return err
	}
	return nil
}

// MarkError stores message on the audit row and increments its retry count.
// An empty id is a no-op.
func (r *Recorder) MarkError(ctx context.Context, id, message string) error {
	if id == "" {
		return nil
	}
	message = truncate(message, maxErrorLength)
	if err := r.events.MarkError(ctx, id, message); err != nil {
		r.log.Error().Err(err).Str("eventId", id).Msg("failed to mark webhook error")
		return err
	}
	return nil
}

// Reclassify updates the recorded event type of an existing row.
func (r *Recorder) Reclassify(ctx context.Context, id, eventType string) error {
	if id == "" {
		return nil
	}
	return r.events.SetEventType(ctx, id, eventType)
}

// Get returns an audit row, or nil if it does not exist.
func (r *Recorder) Get(ctx context.Context, id string) (*domain.WebhookEvent, error) {
	return r.events.Get(ctx, id)
}

// Unprocessed lists audit rows still waiting for a successful run, oldest
// first, skipping rows that already failed maxRetries times.
func (r *Recorder) Unprocessed(ctx context.Context, maxRetries, limit int) ([]domain.WebhookEvent, error) {
	return r.events.ListUnprocessed(ctx, maxRetries, limit)
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
