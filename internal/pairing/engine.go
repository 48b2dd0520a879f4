// Package pairing maintains the awaiting-reply ledger: every customer
// message opens a pending entry for its conversation, and the next agent
// message closes it with a response time.
package pairing

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/soyeahso/chatpulse/internal/domain"
	"github.com/soyeahso/chatpulse/internal/hooks"
	"github.com/soyeahso/chatpulse/internal/lock"
	"github.com/soyeahso/chatpulse/internal/logging"
	"github.com/soyeahso/chatpulse/internal/store"
)

// DefaultPreviewLength is how many runes of customer content are kept.
const DefaultPreviewLength = 200

// CustomerMessage is an inbound message that may open a pending entry.
type CustomerMessage struct {
	ConversationExternalID string
	ConversationID         string // internal id, used for first-touch lookup
	ContactPhone           string
	ContactName            string
	ExternalID             string
	Content                string
	Time                   time.Time
}

// AgentMessage is an outbound message that may close a pending entry.
type AgentMessage struct {
	ConversationExternalID string
	ConversationID         string
	ContactPhone           string
	ExternalID             string
	Time                   time.Time
}

// FirstTouchResult describes a customer message relative to the latest
// earlier agent message in the same conversation.
type FirstTouchResult struct {
	IsFirstMessage bool   `json:"isFirstMessage"`
	GapMs          *int64 `json:"gapMs,omitempty"`
	GapMinutes     *int64 `json:"gapMinutes,omitempty"`
}

// Engine pairs customer and agent messages per conversation key.
type Engine struct {
	pending  *store.PendingStore
	messages *store.MessageStore
	locker   lock.Locker
	hooks    *hooks.Manager
	preview  int
	now      func() time.Time
	log      *logging.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithHooks emits ledger transitions on m.
func WithHooks(m *hooks.Manager) Option {
	return func(e *Engine) { e.hooks = m }
}

// WithPreviewLength sets how many runes of customer content are stored.
func WithPreviewLength(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.preview = n
		}
	}
}

// New creates a pairing engine. A nil locker uses an in-process keyed mutex.
func New(repos *store.Repositories, locker lock.Locker, log *logging.Logger, opts ...Option) *Engine {
	if locker == nil {
		locker = lock.NewLocal()
	}
	e := &Engine{
		pending:  repos.Pending,
		messages: repos.Messages,
		locker:   locker,
		preview:  DefaultPreviewLength,
		now:      time.Now,
		log:      log.Sub("pairing"),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Key returns the ledger key for a conversation and contact. Conversations
// without a platform id fall back to their internal id.
func Key(conversationExternalID, conversationID, phone string) string {
	if conversationExternalID == "" {
		conversationExternalID = conversationID
	}
	return domain.ConversationKey(conversationExternalID, phone)
}

// OnCustomerMessage supersedes any open entry for the conversation and
// opens a new one for m. Replaying the same customer message returns the
// entry it opened the first time.
func (e *Engine) OnCustomerMessage(ctx context.Context, m CustomerMessage) (*domain.PendingResponse, error) {
	if m.ExternalID == "" {
		return nil, domain.NewValidationError("message.externalId", "required for pairing")
	}
	if m.ContactPhone == "" {
		return nil, domain.NewValidationError("contact.phone", "required for pairing")
	}
	key := Key(m.ConversationExternalID, m.ConversationID, m.ContactPhone)

	unlock, err := e.locker.Lock(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", key, err)
	}
	defer unlock()

	if existing, err := e.pending.GetByCustomerMessage(ctx, m.ExternalID); err != nil || existing != nil {
		return existing, err
	}

	now := e.now().UTC()
	customerAt := m.Time.UTC()
	if customerAt.IsZero() {
		customerAt = now
	}

	entry := &domain.PendingResponse{
		ID:                        uuid.New().String(),
		ConversationKey:           key,
		ContactPhone:              m.ContactPhone,
		ContactName:               m.ContactName,
		CustomerMessageTime:       customerAt,
		CustomerMessageExternalID: m.ExternalID,
		CustomerMessageContent:    truncateRunes(m.Content, e.preview),
		IsPending:                 true,
		CreatedAt:                 now,
		UpdatedAt:                 now,
	}

	if m.ConversationID != "" {
		ft, err := e.FirstTouch(ctx, m.ConversationID, customerAt)
		if err != nil {
			e.log.Warn().Err(err).Str("key", key).Msg("first-touch lookup failed")
		} else {
			entry.IsFirstMessage = ft.IsFirstMessage
			entry.CustomerGapMs = ft.GapMs
		}
	}

	open, err := e.pending.OpenForKey(ctx, key)
	if err != nil {
		return nil, err
	}

	// A late delivery older than the open entry is already superseded by it.
	if len(open) > 0 && customerAt.Before(open[0].CustomerMessageTime) {
		entry.IsPending = false
		if err := e.pending.Insert(ctx, entry); err != nil && !errors.Is(err, domain.ErrDuplicate) {
			return nil, err
		}
		e.log.Debug().Str("key", key).Str("externalId", m.ExternalID).Msg("late customer message recorded as superseded")
		return entry, nil
	}

	if err := e.supersede(ctx, key, open, now); err != nil {
		return nil, err
	}

	err = e.pending.Insert(ctx, entry)
	if errors.Is(err, domain.ErrDuplicate) {
		if existing, gerr := e.pending.GetByCustomerMessage(ctx, m.ExternalID); gerr != nil || existing != nil {
			return existing, gerr
		}
		// Another writer opened an entry for the key outside our lock.
		e.log.Warn().Str("key", key).Msg("open entry appeared concurrently, superseding again")
		open, err = e.pending.OpenForKey(ctx, key)
		if err != nil {
			return nil, err
		}
		if err := e.supersede(ctx, key, open, now); err != nil {
			return nil, err
		}
		err = e.pending.Insert(ctx, entry)
	}
	if err != nil {
		return nil, err
	}

	e.log.Debug().Str("key", key).Str("pendingId", entry.ID).Bool("firstMessage", entry.IsFirstMessage).Msg("pending entry opened")
	e.hooks.Emit(ctx, hooks.EventPendingOpened, map[string]any{
		"pendingId":           entry.ID,
		"conversationKey":     key,
		"contactPhone":        entry.ContactPhone,
		"contactName":         entry.ContactName,
		"customerMessageTime": entry.CustomerMessageTime,
		"isFirstMessage":      entry.IsFirstMessage,
	})
	return entry, nil
}

func (e *Engine) supersede(ctx context.Context, key string, open []domain.PendingResponse, at time.Time) error {
	for _, p := range open {
		err := e.pending.Supersede(ctx, p.ID, at)
		if domain.IsNotFound(err) {
			continue
		}
		if err != nil {
			return err
		}
		e.log.Debug().Str("key", key).Str("pendingId", p.ID).Msg("pending entry superseded")
		e.hooks.Emit(ctx, hooks.EventPendingSuperseded, map[string]any{
			"pendingId":       p.ID,
			"conversationKey": key,
			"contactPhone":    p.ContactPhone,
		})
	}
	return nil
}

// OnAgentMessage closes the most recent open entry for the conversation with
// the elapsed time since the customer message, clamped at zero. It returns
// nil when nothing was waiting.
func (e *Engine) OnAgentMessage(ctx context.Context, m AgentMessage) (*domain.PendingResponse, error) {
	if m.ContactPhone == "" {
		return nil, domain.NewValidationError("contact.phone", "required for pairing")
	}
	key := Key(m.ConversationExternalID, m.ConversationID, m.ContactPhone)

	unlock, err := e.locker.Lock(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", key, err)
	}
	defer unlock()

	open, err := e.pending.OpenForKey(ctx, key)
	if err != nil {
		return nil, err
	}
	if len(open) == 0 {
		e.log.Warn().Str("key", key).Str("agentMessage", m.ExternalID).Msg("agent message without pending customer message")
		return nil, nil
	}

	now := e.now().UTC()
	agentAt := m.Time.UTC()
	if agentAt.IsZero() {
		agentAt = now
	}

	p := open[0]
	ms := agentAt.Sub(p.CustomerMessageTime).Milliseconds()
	if ms < 0 {
		e.log.Debug().Str("key", key).Int64("skewMs", ms).Msg("agent reply precedes customer message, clamping")
		ms = 0
	}
	minutes := domain.RoundMinutes(ms)

	p.IsPending = false
	p.AgentResponseTime = &agentAt
	p.AgentMessageExternalID = m.ExternalID
	p.ResponseTimeMs = &ms
	p.ResponseTimeMinutes = &minutes
	p.UpdatedAt = now

	err = e.pending.Answer(ctx, &p)
	if domain.IsNotFound(err) {
		e.log.Warn().Str("key", key).Str("pendingId", p.ID).Msg("pending entry closed concurrently")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	// Entries left open by an older violation of the one-open rule.
	if err := e.supersede(ctx, key, open[1:], now); err != nil {
		e.log.Warn().Err(err).Str("key", key).Msg("failed to close stale pending entries")
	}

	e.log.Info().
		Str("key", key).
		Int64("responseTimeMs", ms).
		Int64("responseTimeMinutes", minutes).
		Msg("response recorded")
	e.hooks.Emit(ctx, hooks.EventResponseRecorded, map[string]any{
		"pendingId":           p.ID,
		"conversationKey":     key,
		"contactPhone":        p.ContactPhone,
		"contactName":         p.ContactName,
		"responseTimeMs":      ms,
		"responseTimeMinutes": minutes,
	})
	return &p, nil
}

// FirstTouch looks up the latest agent message in the conversation before
// customerAt. With none, the customer message is the first of the
// conversation and carries no gap.
func (e *Engine) FirstTouch(ctx context.Context, conversationID string, customerAt time.Time) (FirstTouchResult, error) {
	prior, err := e.messages.LastOutboundBefore(ctx, conversationID, customerAt)
	if err != nil {
		return FirstTouchResult{}, err
	}
	if prior == nil {
		return FirstTouchResult{IsFirstMessage: true}, nil
	}

	gap := customerAt.Sub(prior.EventTimestamp).Milliseconds()
	if gap < 0 {
		gap = 0
	}
	minutes := domain.RoundMinutes(gap)
	return FirstTouchResult{GapMs: &gap, GapMinutes: &minutes}, nil
}

// History returns every entry of a conversation key, oldest first.
func (e *Engine) History(ctx context.Context, key string) ([]domain.PendingResponse, error) {
	return e.pending.ListByKey(ctx, key)
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
