// Package resolver turns webhook envelopes into stored contacts,
// conversations and messages. Every operation is an idempotent
// find-or-create keyed by the platform's external id.
package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/soyeahso/chatpulse/internal/domain"
	"github.com/soyeahso/chatpulse/internal/logging"
	"github.com/soyeahso/chatpulse/internal/store"
)

// ContactInput is the candidate data for a contact.
type ContactInput struct {
	ExternalID string
	Phone      string
	Name       string
	Email      string
	Tags       []string
	Metadata   domain.Metadata
	SeenAt     time.Time
}

// ConversationInput is the candidate data for a conversation.
type ConversationInput struct {
	ExternalID      string
	Status          string
	Channel         string
	AssignedAgentID string
	Priority        string
	Metadata        domain.Metadata
	SeenAt          time.Time
}

// MessageInput is the candidate data for a message.
type MessageInput struct {
	ExternalID     string
	Direction      domain.Direction
	Type           string
	Content        string
	MediaURL       string
	MediaMimeType  string
	MediaCaption   string
	Status         string
	EventTimestamp time.Time
	RawPayload     json.RawMessage
}

// MessageResolution is the stored message and whether this call created it.
// Created is false when the external id had been seen before.
type MessageResolution struct {
	Message *domain.Message
	Created bool
}

// Resolver performs entity resolution against the store.
type Resolver struct {
	contacts      *store.ContactStore
	conversations *store.ConversationStore
	messages      *store.MessageStore
	now           func() time.Time
	log           *logging.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) { r.now = now }
}

// New creates a resolver over the given repositories.
func New(repos *store.Repositories, log *logging.Logger, opts ...Option) *Resolver {
	r := &Resolver{
		contacts:      repos.Contacts,
		conversations: repos.Conversations,
		messages:      repos.Messages,
		now:           time.Now,
		log:           log.Sub("resolver"),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// ResolveContact finds the contact by external id (else normalized phone)
// and merges in, or creates it.
func (r *Resolver) ResolveContact(ctx context.Context, in ContactInput) (*domain.Contact, error) {
	in.ExternalID = strings.TrimSpace(in.ExternalID)
	phone := domain.NormalizePhone(in.Phone)
	if in.ExternalID == "" && phone == "" {
		return nil, domain.NewValidationError("contact.phone", "required")
	}

	existing, err := r.findContact(ctx, in.ExternalID, phone)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return r.updateContact(ctx, existing, in, phone)
	}

	if phone == "" {
		return nil, domain.NewValidationError("contact.phone", "required to create a contact")
	}

	now := r.now().UTC()
	c := &domain.Contact{
		ID:                uuid.New().String(),
		ExternalID:        in.ExternalID,
		Phone:             phone,
		Name:              strings.TrimSpace(in.Name),
		Email:             strings.TrimSpace(in.Email),
		Status:            domain.ContactStatusActive,
		Tags:              domain.NewTagSet(in.Tags...),
		Metadata:          domain.Metadata{}.Merge(in.Metadata),
		LastInteractionAt: seenAt(in.SeenAt, now),
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	err = r.contacts.Insert(ctx, c)
	if errors.Is(err, domain.ErrDuplicate) {
		// Lost a race with a concurrent first sighting.
		r.log.Debug().Str("phone", phone).Msg("contact created concurrently, merging")
		existing, ferr := r.findContact(ctx, in.ExternalID, phone)
		if ferr != nil {
			return nil, ferr
		}
		if existing == nil {
			return nil, fmt.Errorf("resolve contact: %w", err)
		}
		return r.updateContact(ctx, existing, in, phone)
	}
	if err != nil {
		return nil, fmt.Errorf("resolve contact: %w", err)
	}

	r.log.Info().Str("contactId", c.ID).Str("phone", phone).Msg("contact created")
	return c, nil
}

func (r *Resolver) findContact(ctx context.Context, externalID, phone string) (*domain.Contact, error) {
	if externalID != "" {
		c, err := r.contacts.GetByExternalID(ctx, externalID)
		if err != nil || c != nil {
			return c, err
		}
	}
	if phone != "" {
		return r.contacts.GetByPhone(ctx, phone)
	}
	return nil, nil
}

func (r *Resolver) updateContact(ctx context.Context, c *domain.Contact, in ContactInput, phone string) (*domain.Contact, error) {
	now := r.now().UTC()

	if in.ExternalID != "" && c.ExternalID == "" {
		c.ExternalID = in.ExternalID
	}
	if phone != "" && phone != c.Phone && in.ExternalID != "" && in.ExternalID == c.ExternalID {
		owner, err := r.contacts.GetByPhone(ctx, phone)
		if err != nil {
			return nil, err
		}
		if owner == nil || owner.ID == c.ID {
			c.Phone = phone
		} else {
			r.log.Warn().
				Str("contactId", c.ID).
				Str("phone", phone).
				Str("ownerId", owner.ID).
				Msg("phone belongs to another contact, keeping stored phone")
		}
	}
	c.Name = overwrite(c.Name, in.Name)
	c.Email = overwrite(c.Email, in.Email)
	c.Tags = c.Tags.Union(domain.NewTagSet(in.Tags...))
	c.Metadata = c.Metadata.Merge(in.Metadata)
	if seen := seenAt(in.SeenAt, now); seen.After(c.LastInteractionAt) {
		c.LastInteractionAt = seen
	}
	c.UpdatedAt = now

	if err := r.contacts.Update(ctx, c); err != nil {
		if errors.Is(err, domain.ErrDuplicate) {
			return nil, domain.NewValidationError("contact.phone", "belongs to another contact")
		}
		return nil, fmt.Errorf("resolve contact: %w", err)
	}
	return c, nil
}

// ResolveConversation finds the conversation by external id (else the
// contact's latest open conversation) and merges in, or creates it. Without
// a contact only an existing conversation can be updated.
func (r *Resolver) ResolveConversation(ctx context.Context, contact *domain.Contact, in ConversationInput) (*domain.Conversation, error) {
	in.ExternalID = strings.TrimSpace(in.ExternalID)
	if contact == nil {
		if in.ExternalID == "" {
			return nil, domain.NewValidationError("contact", "required to resolve a conversation")
		}
		existing, err := r.conversations.GetByExternalID(ctx, in.ExternalID)
		if err != nil {
			return nil, err
		}
		if existing == nil {
			return nil, domain.NewValidationError("contact", "required to create a conversation")
		}
		return r.updateConversation(ctx, existing, in)
	}

	existing, err := r.findConversation(ctx, contact.ID, in.ExternalID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return r.updateConversation(ctx, existing, in)
	}

	now := r.now().UTC()
	seen := seenAt(in.SeenAt, now)
	c := &domain.Conversation{
		ID:              uuid.New().String(),
		ExternalID:      in.ExternalID,
		ContactID:       contact.ID,
		Channel:         overwrite(domain.DefaultChannel, in.Channel),
		Status:          domain.ConversationStatusOpen,
		AssignedAgentID: strings.TrimSpace(in.AssignedAgentID),
		Priority:        overwrite(domain.DefaultPriority, in.Priority),
		LastMessageAt:   seen,
		Metadata:        domain.Metadata{}.Merge(in.Metadata),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	applyConversationStatus(c, in.Status, seen)

	err = r.conversations.Insert(ctx, c)
	if errors.Is(err, domain.ErrDuplicate) && in.ExternalID != "" {
		r.log.Debug().Str("conversation", in.ExternalID).Msg("conversation created concurrently, merging")
		existing, ferr := r.conversations.GetByExternalID(ctx, in.ExternalID)
		if ferr != nil {
			return nil, ferr
		}
		if existing == nil {
			return nil, fmt.Errorf("resolve conversation: %w", err)
		}
		return r.updateConversation(ctx, existing, in)
	}
	if err != nil {
		return nil, fmt.Errorf("resolve conversation: %w", err)
	}

	r.log.Info().Str("conversationId", c.ID).Str("externalId", c.ExternalID).Msg("conversation created")
	return c, nil
}

func (r *Resolver) findConversation(ctx context.Context, contactID, externalID string) (*domain.Conversation, error) {
	if externalID != "" {
		return r.conversations.GetByExternalID(ctx, externalID)
	}
	return r.conversations.LatestOpen(ctx, contactID)
}

func (r *Resolver) updateConversation(ctx context.Context, c *domain.Conversation, in ConversationInput) (*domain.Conversation, error) {
	now := r.now().UTC()
	seen := seenAt(in.SeenAt, now)

	if in.ExternalID != "" && c.ExternalID == "" {
		c.ExternalID = in.ExternalID
	}
	c.Channel = overwrite(c.Channel, in.Channel)
	c.AssignedAgentID = overwrite(c.AssignedAgentID, in.AssignedAgentID)
	c.Priority = overwrite(c.Priority, in.Priority)
	c.Metadata = c.Metadata.Merge(in.Metadata)
	applyConversationStatus(c, in.Status, seen)
	if seen.After(c.LastMessageAt) {
		c.LastMessageAt = seen
	}
	c.UpdatedAt = now

	if err := r.conversations.Update(ctx, c); err != nil {
		return nil, fmt.Errorf("resolve conversation: %w", err)
	}
	return c, nil
}

// applyConversationStatus sets a known incoming status. Terminal statuses
// stamp closed_at once; reopening clears it.
func applyConversationStatus(c *domain.Conversation, raw string, at time.Time) {
	status := domain.ParseConversationStatus(strings.ToLower(strings.TrimSpace(raw)))
	if status == "" {
		return
	}
	c.Status = status
	switch {
	case status.Terminal() && c.ClosedAt == nil:
		closed := at
		c.ClosedAt = &closed
	case !status.Terminal():
		c.ClosedAt = nil
	}
}

// ResolveMessage stores the message once per external id. A repeated
// delivery only advances the stored status and reports Created=false.
func (r *Resolver) ResolveMessage(ctx context.Context, contact *domain.Contact, conv *domain.Conversation, in MessageInput) (*MessageResolution, error) {
	in.ExternalID = strings.TrimSpace(in.ExternalID)
	if in.ExternalID == "" {
		return nil, domain.NewValidationError("message.externalId", "required")
	}

	existing, err := r.messages.GetByExternalID(ctx, in.ExternalID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return r.advanceStatus(ctx, existing, in.Status)
	}

	if contact == nil || conv == nil {
		return nil, domain.NewValidationError("message", "contact and conversation required for a new message")
	}
	if in.Direction == "" {
		return nil, domain.NewValidationError("message.direction", "must be inbound or outbound")
	}

	now := r.now().UTC()
	status := domain.ParseMessageStatus(strings.ToLower(strings.TrimSpace(in.Status)))
	if status == "" {
		status = domain.MessageStatusSent
	}
	msgType := strings.TrimSpace(in.Type)
	if msgType == "" {
		msgType = "text"
	}

	m := &domain.Message{
		ID:             uuid.New().String(),
		ExternalID:     in.ExternalID,
		ConversationID: conv.ID,
		ContactID:      contact.ID,
		Direction:      in.Direction,
		Type:           msgType,
		Content:        in.Content,
		MediaURL:       in.MediaURL,
		MediaMimeType:  in.MediaMimeType,
		MediaCaption:   in.MediaCaption,
		Status:         status,
		EventTimestamp: seenAt(in.EventTimestamp, now),
		CreatedAt:      now,
		RawPayload:     in.RawPayload,
	}

	err = r.messages.Insert(ctx, m)
	if errors.Is(err, domain.ErrDuplicate) {
		r.log.Debug().Str("externalId", in.ExternalID).Msg("message stored concurrently")
		existing, ferr := r.messages.GetByExternalID(ctx, in.ExternalID)
		if ferr != nil {
			return nil, ferr
		}
		if existing == nil {
			return nil, fmt.Errorf("resolve message: %w", err)
		}
		return r.advanceStatus(ctx, existing, in.Status)
	}
	if err != nil {
		return nil, fmt.Errorf("resolve message: %w", err)
	}

	r.log.Debug().
		Str("messageId", m.ID).
		Str("externalId", m.ExternalID).
		Str("direction", string(m.Direction)).
		Msg("message stored")
	return &MessageResolution{Message: m, Created: true}, nil
}

func (r *Resolver) advanceStatus(ctx context.Context, m *domain.Message, raw string) (*MessageResolution, error) {
	next := domain.ParseMessageStatus(strings.ToLower(strings.TrimSpace(raw)))
	if next == "" || !m.Status.CanAdvanceTo(next) {
		return &MessageResolution{Message: m}, nil
	}

	err := r.messages.AdvanceStatus(ctx, m.ID, m.Status, next)
	if domain.IsNotFound(err) {
		// Status changed underneath us; keep whatever won.
		current, gerr := r.messages.GetByExternalID(ctx, m.ExternalID)
		if gerr != nil {
			return nil, gerr
		}
		if current != nil {
			m = current
		}
		return &MessageResolution{Message: m}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("advance message status: %w", err)
	}

	r.log.Debug().Str("externalId", m.ExternalID).Str("from", string(m.Status)).Str("to", string(next)).Msg("message status advanced")
	m.Status = next
	return &MessageResolution{Message: m}, nil
}

// overwrite returns incoming when it is non-empty, else current.
func overwrite(current, incoming string) string {
	if s := strings.TrimSpace(incoming); s != "" {
		return s
	}
	return current
}

func seenAt(t, fallback time.Time) time.Time {
	if t.IsZero() {
		return fallback
	}
	return t.UTC()
}
