// Package ingest runs one webhook payload through the whole pipeline:
// audit, classification, entity resolution and response-time pairing.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/soyeahso/chatpulse/internal/domain"
	"github.com/soyeahso/chatpulse/internal/hooks"
	"github.com/soyeahso/chatpulse/internal/logging"
	"github.com/soyeahso/chatpulse/internal/pairing"
	"github.com/soyeahso/chatpulse/internal/recorder"
	"github.com/soyeahso/chatpulse/internal/resolver"
	"github.com/soyeahso/chatpulse/internal/webhook"
)

// EventTypeInvalid is recorded for bodies that are not a JSON object.
const EventTypeInvalid = "invalid_payload"

// Source identifies the sender of a payload.
type Source struct {
	IP        string
	UserAgent string
}

// Result is what the pipeline produced for one payload.
type Result struct {
	EventID        string       `json:"eventId,omitempty"`
	Kind           webhook.Kind `json:"kind,omitempty"`
	ContactID      string       `json:"contactId,omitempty"`
	ConversationID string       `json:"conversationId,omitempty"`
	MessageID      string       `json:"messageId,omitempty"`
	Processed      bool         `json:"processed"`
}

// ReplaySummary counts the outcome of a Replay run.
type ReplaySummary struct {
	Attempted int `json:"attempted"`
	Processed int `json:"processed"`
	Failed    int `json:"failed"`
}

// Processor wires the pipeline stages together. Each Process call runs
// synchronously to completion.
type Processor struct {
	recorder *recorder.Recorder
	resolver *resolver.Resolver
	pairing  *pairing.Engine
	hooks    *hooks.Manager
	log      *logging.Logger
}

// Option configures a Processor.
type Option func(*Processor)

// WithHooks emits webhook outcomes on m.
func WithHooks(m *hooks.Manager) Option {
	return func(p *Processor) { p.hooks = m }
}

// New creates a processor.
func New(rec *recorder.Recorder, res *resolver.Resolver, pair *pairing.Engine, log *logging.Logger, opts ...Option) *Processor {
	p := &Processor{
		recorder: rec,
		resolver: res,
		pairing:  pair,
		log:      log.Sub("ingest"),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Process records raw, resolves its entities and updates the pairing ledger.
//
// Validation failures return a *domain.ValidationError and storage failures
// a *domain.PersistenceError; both leave the audit row unprocessed with the
// error attached. When the kind was only guessed, a failure is logged and
// the result comes back with Processed=false and a nil error.
func (p *Processor) Process(ctx context.Context, raw []byte, src Source) (*Result, error) {
	payload, err := webhook.Parse(raw)
	if err != nil {
		id, rerr := p.recorder.Record(ctx, EventTypeInvalid, invalidRaw(raw), src.IP, src.UserAgent)
		if rerr != nil {
			return &Result{}, rerr
		}
		_ = p.recorder.MarkError(ctx, id, err.Error())
		p.log.Warn().Err(err).Str("eventId", id).Str("sourceIp", src.IP).Msg("rejected webhook payload")
		p.hooks.Emit(ctx, hooks.EventWebhookFailed, map[string]any{"eventId": id, "error": err.Error()})
		return &Result{EventID: id}, err
	}

	cls := webhook.Classify(payload)
	id, err := p.recorder.Record(ctx, string(cls.Kind), payload.Raw, src.IP, src.UserAgent)
	if err != nil {
		return &Result{Kind: cls.Kind}, err
	}
	return p.run(ctx, id, payload, cls)
}

// invalidRaw keeps the audit column valid JSON even when the body is not.
func invalidRaw(raw []byte) json.RawMessage {
	if json.Valid(raw) {
		return json.RawMessage(raw)
	}
	quoted, _ := json.Marshal(string(raw))
	return json.RawMessage(quoted)
}

func (p *Processor) run(ctx context.Context, eventID string, payload *webhook.Payload, cls webhook.Classification) (*Result, error) {
	start := time.Now()
	res := &Result{EventID: eventID, Kind: cls.Kind}

	log := p.log.With("eventId", eventID)
	log.Debug().Str("kind", string(cls.Kind)).Str("reason", string(cls.Reason)).Msg("webhook classified")

	if payload.Empty() {
		err := domain.NewValidationError("payload", "needs a message, contact or conversation")
		p.fail(ctx, eventID, cls, err)
		log.Warn().Err(err).Msg("rejected webhook payload")
		return res, err
	}

	if err := p.resolve(ctx, payload, cls, res); err != nil {
		p.fail(ctx, eventID, cls, err)
		if cls.Guessed() {
			log.Warn().Err(err).Str("kind", string(cls.Kind)).Msg("best-guess processing failed, leaving event unprocessed")
			return res, nil
		}
		log.Error().Err(err).Str("kind", string(cls.Kind)).Msg("webhook processing failed")
		return res, err
	}

	if err := p.recorder.MarkProcessed(ctx, eventID); err != nil {
		log.Warn().Err(err).Msg("entities stored but audit row not marked")
	}
	res.Processed = true

	log.Info().
		Str("kind", string(cls.Kind)).
		Str("contactId", res.ContactID).
		Str("conversationId", res.ConversationID).
		Str("messageId", res.MessageID).
		Dur("took", time.Since(start)).
		Msg("webhook processed")
	p.hooks.Emit(ctx, hooks.EventWebhookProcessed, map[string]any{
		"eventId":        eventID,
		"kind":           string(cls.Kind),
		"contactId":      res.ContactID,
		"conversationId": res.ConversationID,
		"messageId":      res.MessageID,
	})
	return res, nil
}

func (p *Processor) fail(ctx context.Context, eventID string, cls webhook.Classification, err error) {
	_ = p.recorder.MarkError(ctx, eventID, err.Error())
	p.hooks.Emit(ctx, hooks.EventWebhookFailed, map[string]any{
		"eventId": eventID,
		"kind":    string(cls.Kind),
		"error":   err.Error(),
	})
}

// resolve runs contact, conversation and message resolution in that order
// and feeds new messages to the pairing engine.
func (p *Processor) resolve(ctx context.Context, payload *webhook.Payload, cls webhook.Classification, res *Result) error {
	var seen time.Time
	if payload.Message != nil {
		seen = payload.Message.EventTimestamp.Time
	}

	var contact *domain.Contact
	if env := payload.Contact; env != nil {
		c, err := p.resolver.ResolveContact(ctx, resolver.ContactInput{
			ExternalID: env.ExternalID,
			Phone:      env.Phone,
			Name:       env.Name,
			Email:      env.Email,
			Tags:       env.Tags,
			Metadata:   domain.Metadata(env.Metadata),
			SeenAt:     seen,
		})
		if err != nil {
			return err
		}
		contact = c
		res.ContactID = c.ID
	}

	var conv *domain.Conversation
	if payload.Conversation != nil || (payload.Message != nil && contact != nil) {
		in := resolver.ConversationInput{ExternalID: payload.ConversationExternalID(), SeenAt: seen}
		if env := payload.Conversation; env != nil {
			in.Status = env.Status
			in.Channel = env.Channel
			in.AssignedAgentID = env.AssignedAgentID
			in.Priority = env.Priority
			in.Metadata = domain.Metadata(env.Metadata)
		}
		c, err := p.resolver.ResolveConversation(ctx, contact, in)
		if err != nil {
			return err
		}
		conv = c
		res.ConversationID = c.ID
	}

	env := payload.Message
	if env == nil {
		return nil
	}

	direction := domain.ParseDirection(strings.ToLower(strings.TrimSpace(env.Direction)))
	if direction == "" {
		direction = cls.Kind.Direction()
	}
	mres, err := p.resolver.ResolveMessage(ctx, contact, conv, resolver.MessageInput{
		ExternalID:     env.ExternalID,
		Direction:      direction,
		Type:           env.Type,
		Content:        env.Content,
		MediaURL:       env.MediaURL,
		MediaMimeType:  env.MediaMimeType,
		MediaCaption:   env.MediaCaption,
		Status:         env.Status,
		EventTimestamp: env.EventTimestamp.Time,
		RawPayload:     payload.Raw,
	})
	if err != nil {
		return err
	}
	res.MessageID = mres.Message.ID
	if res.ConversationID == "" {
		res.ConversationID = mres.Message.ConversationID
	}
	if res.ContactID == "" {
		res.ContactID = mres.Message.ContactID
	}

	// Replays of a known message must not reopen or close ledger entries.
	if mres.Created && contact != nil && conv != nil {
		p.pair(ctx, contact, conv, mres.Message)
	}
	return nil
}

// pair updates the pending ledger. Failures are logged and never abort the
// payload.
func (p *Processor) pair(ctx context.Context, contact *domain.Contact, conv *domain.Conversation, m *domain.Message) {
	var err error
	switch m.Direction {
	case domain.DirectionInbound:
		content := m.Content
		if content == "" {
			content = m.MediaCaption
		}
		_, err = p.pairing.OnCustomerMessage(ctx, pairing.CustomerMessage{
			ConversationExternalID: conv.ExternalID,
			ConversationID:         conv.ID,
			ContactPhone:           contact.Phone,
			ContactName:            contact.Name,
			ExternalID:             m.ExternalID,
			Content:                content,
			Time:                   m.EventTimestamp,
		})
	case domain.DirectionOutbound:
		_, err = p.pairing.OnAgentMessage(ctx, pairing.AgentMessage{
			ConversationExternalID: conv.ExternalID,
			ConversationID:         conv.ID,
			ContactPhone:           contact.Phone,
			ExternalID:             m.ExternalID,
			Time:                   m.EventTimestamp,
		})
	default:
		return
	}
	if err != nil {
		p.log.Error().Err(err).
			Str("messageId", m.ID).
			Str("direction", string(m.Direction)).
			Msg("pairing update failed")
	}
}

// Replay re-runs audit rows that never completed, oldest first, skipping
// rows that already failed maxRetries times. Each row is processed in place.
func (p *Processor) Replay(ctx context.Context, maxRetries, limit int) (ReplaySummary, error) {
	var sum ReplaySummary
	events, err := p.recorder.Unprocessed(ctx, maxRetries, limit)
	if err != nil {
		return sum, err
	}

	for _, e := range events {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		sum.Attempted++

		payload, err := webhook.Parse(e.RawPayload)
		if err != nil {
			_ = p.recorder.MarkError(ctx, e.ID, err.Error())
			sum.Failed++
			continue
		}
		cls := webhook.Classify(payload)
		if string(cls.Kind) != e.EventType {
			if err := p.recorder.Reclassify(ctx, e.ID, string(cls.Kind)); err != nil {
				p.log.Warn().Err(err).Str("eventId", e.ID).Msg("failed to update event type")
			}
		}

		res, err := p.run(ctx, e.ID, payload, cls)
		switch {
		case errors.Is(err, context.Canceled):
			return sum, err
		case err != nil || !res.Processed:
			sum.Failed++
		default:
			sum.Processed++
		}
	}

	p.log.Info().
		Int("attempted", sum.Attempted).
		Int("processed", sum.Processed).
		Int("failed", sum.Failed).
		Msg("replay finished")
	return sum, nil
}
