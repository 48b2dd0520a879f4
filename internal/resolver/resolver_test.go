package resolver

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/soyeahso/chatpulse/internal/domain"
	"github.com/soyeahso/chatpulse/internal/logging"
	"github.com/soyeahso/chatpulse/internal/retry"
	"github.com/soyeahso/chatpulse/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)

func setup(t *testing.T) (*Resolver, *store.Repositories) {
	t.Helper()
	log := logging.New(nil, "silent")
	db, err := store.OpenSQLite(":memory:", log)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	repos := store.NewRepositories(db, retry.Policy{MaxAttempts: 3, Delay: time.Millisecond}, log)
	return New(repos, log, WithClock(func() time.Time { return t0 })), repos
}

// --- Contact tests ---

func TestResolveContact_IdempotentUpsert(t *testing.T) {
	r, repos := setup(t)
	ctx := context.Background()

	first, err := r.ResolveContact(ctx, ContactInput{ExternalID: "ext-1", Phone: "+55 11 99999-9999", Name: "Ana"})
	require.NoError(t, err)

	second, err := r.ResolveContact(ctx, ContactInput{ExternalID: "ext-1", Phone: "5511999999999", Email: "ana@example.com"})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "Ana", second.Name, "empty incoming name must not erase")
	assert.Equal(t, "ana@example.com", second.Email)

	n, err := repos.Contacts.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestResolveContact_MetadataMergedNotOverwritten(t *testing.T) {
	r, repos := setup(t)
	ctx := context.Background()

	c, err := r.ResolveContact(ctx, ContactInput{Phone: "+5511999999999", Metadata: domain.Metadata{"a": 1}})
	require.NoError(t, err)
	_, err = r.ResolveContact(ctx, ContactInput{Phone: "+5511999999999", Metadata: domain.Metadata{"b": 2}})
	require.NoError(t, err)

	stored, err := repos.Contacts.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.Metadata{"a": float64(1), "b": float64(2)}, stored.Metadata)
}

func TestResolveContact_TagsUnioned(t *testing.T) {
	r, repos := setup(t)
	ctx := context.Background()

	c, err := r.ResolveContact(ctx, ContactInput{Phone: "+1", Tags: []string{"vip"}})
	require.NoError(t, err)
	_, err = r.ResolveContact(ctx, ContactInput{Phone: "+1", Tags: []string{"lead", "vip"}})
	require.NoError(t, err)

	stored, err := repos.Contacts.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TagSet{"lead", "vip"}, stored.Tags)
}

func TestResolveContact_FallsBackToPhoneAndAttachesExternalID(t *testing.T) {
	r, repos := setup(t)
	ctx := context.Background()

	byPhone, err := r.ResolveContact(ctx, ContactInput{Phone: "+14155550100"})
	require.NoError(t, err)

	withExt, err := r.ResolveContact(ctx, ContactInput{ExternalID: "wa-77", Phone: "+1 415 555 0100"})
	require.NoError(t, err)
	assert.Equal(t, byPhone.ID, withExt.ID)

	stored, err := repos.Contacts.GetByExternalID(ctx, "wa-77")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, byPhone.ID, stored.ID)
}

func TestResolveContact_LastInteractionOnlyMovesForward(t *testing.T) {
	r, _ := setup(t)
	ctx := context.Background()

	_, err := r.ResolveContact(ctx, ContactInput{Phone: "+1", SeenAt: t0.Add(time.Hour)})
	require.NoError(t, err)
	c, err := r.ResolveContact(ctx, ContactInput{Phone: "+1", SeenAt: t0})
	require.NoError(t, err)
	assert.True(t, c.LastInteractionAt.Equal(t0.Add(time.Hour)))
}

func TestResolveContact_PhoneChangeFollowsExternalID(t *testing.T) {
	r, repos := setup(t)
	ctx := context.Background()

	c, err := r.ResolveContact(ctx, ContactInput{ExternalID: "ext-A", Phone: "+551100000001"})
	require.NoError(t, err)

	moved, err := r.ResolveContact(ctx, ContactInput{ExternalID: "ext-A", Phone: "+55 11 0000-0003"})
	require.NoError(t, err)
	assert.Equal(t, c.ID, moved.ID)

	stored, err := repos.Contacts.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "+551100000003", stored.Phone)
}

func TestResolveContact_PhoneOwnedByAnotherContactIsKept(t *testing.T) {
	r, repos := setup(t)
	ctx := context.Background()

	a, err := r.ResolveContact(ctx, ContactInput{ExternalID: "ext-A", Phone: "+551100000001"})
	require.NoError(t, err)
	b, err := r.ResolveContact(ctx, ContactInput{Phone: "+551100000002"})
	require.NoError(t, err)

	got, err := r.ResolveContact(ctx, ContactInput{ExternalID: "ext-A", Phone: "+551100000002", Name: "Ana"})
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)
	assert.Equal(t, "+551100000001", got.Phone)
	assert.Equal(t, "Ana", got.Name)

	other, err := repos.Contacts.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, "+551100000002", other.Phone)

	n, err := repos.Contacts.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestResolveContact_Validation(t *testing.T) {
	r, _ := setup(t)
	ctx := context.Background()

	_, err := r.ResolveContact(ctx, ContactInput{Phone: "not a phone"})
	assert.True(t, domain.IsValidation(err))

	// an unknown external id alone cannot create a contact
	_, err = r.ResolveContact(ctx, ContactInput{ExternalID: "ext-9"})
	assert.True(t, domain.IsValidation(err))
}

func TestResolveContact_ConcurrentFirstSighting(t *testing.T) {
	r, repos := setup(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	ids := make([]string, 8)
	errs := make([]error, 8)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := r.ResolveContact(ctx, ContactInput{Phone: "+5511999999999"})
			errs[i] = err
			if c != nil {
				ids[i] = c.ID
			}
		}(i)
	}
	wg.Wait()

	for i := range ids {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i])
	}
	n, err := repos.Contacts.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

// --- Conversation tests ---

func mustContact(t *testing.T, r *Resolver) *domain.Contact {
	t.Helper()
	c, err := r.ResolveContact(context.Background(), ContactInput{Phone: "+5511999999999", Name: "Ana"})
	require.NoError(t, err)
	return c
}

func TestResolveConversation_CreateWithDefaults(t *testing.T) {
	r, _ := setup(t)
	c := mustContact(t, r)

	conv, err := r.ResolveConversation(context.Background(), c, ConversationInput{ExternalID: "chat-1"})
	require.NoError(t, err)
	assert.Equal(t, domain.ConversationStatusOpen, conv.Status)
	assert.Equal(t, domain.DefaultChannel, conv.Channel)
	assert.Equal(t, domain.DefaultPriority, conv.Priority)
	assert.Equal(t, c.ID, conv.ContactID)
	assert.Nil(t, conv.ClosedAt)
}

func TestResolveConversation_Idempotent(t *testing.T) {
	r, repos := setup(t)
	ctx := context.Background()
	c := mustContact(t, r)

	a, err := r.ResolveConversation(ctx, c, ConversationInput{ExternalID: "chat-1", Metadata: domain.Metadata{"x": "1"}})
	require.NoError(t, err)
	b, err := r.ResolveConversation(ctx, c, ConversationInput{ExternalID: "chat-1", AssignedAgentID: "agent-7", Metadata: domain.Metadata{"y": "2"}})
	require.NoError(t, err)

	assert.Equal(t, a.ID, b.ID)
	n, err := repos.Conversations.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stored, err := repos.Conversations.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "agent-7", stored.AssignedAgentID)
	assert.Equal(t, domain.Metadata{"x": "1", "y": "2"}, stored.Metadata)
}

func TestResolveConversation_CloseAndReopen(t *testing.T) {
	r, _ := setup(t)
	ctx := context.Background()
	c := mustContact(t, r)

	_, err := r.ResolveConversation(ctx, c, ConversationInput{ExternalID: "chat-1"})
	require.NoError(t, err)

	closed, err := r.ResolveConversation(ctx, c, ConversationInput{ExternalID: "chat-1", Status: "closed", SeenAt: t0.Add(time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, domain.ConversationStatusClosed, closed.Status)
	require.NotNil(t, closed.ClosedAt)
	assert.True(t, closed.ClosedAt.Equal(t0.Add(time.Hour)))

	// unknown status leaves the stored one alone
	same, err := r.ResolveConversation(ctx, c, ConversationInput{ExternalID: "chat-1", Status: "???"})
	require.NoError(t, err)
	assert.Equal(t, domain.ConversationStatusClosed, same.Status)

	reopened, err := r.ResolveConversation(ctx, c, ConversationInput{ExternalID: "chat-1", Status: "open"})
	require.NoError(t, err)
	assert.Equal(t, domain.ConversationStatusOpen, reopened.Status)
	assert.Nil(t, reopened.ClosedAt)
}

func TestResolveConversation_NoExternalIDUsesLatestOpen(t *testing.T) {
	r, repos := setup(t)
	ctx := context.Background()
	c := mustContact(t, r)

	open, err := r.ResolveConversation(ctx, c, ConversationInput{ExternalID: "chat-1"})
	require.NoError(t, err)

	again, err := r.ResolveConversation(ctx, c, ConversationInput{})
	require.NoError(t, err)
	assert.Equal(t, open.ID, again.ID)

	_, err = r.ResolveConversation(ctx, c, ConversationInput{ExternalID: "chat-1", Status: "resolved"})
	require.NoError(t, err)

	fresh, err := r.ResolveConversation(ctx, c, ConversationInput{})
	require.NoError(t, err)
	assert.NotEqual(t, open.ID, fresh.ID)

	n, err := repos.Conversations.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestResolveConversation_RequiresContact(t *testing.T) {
	r, _ := setup(t)
	_, err := r.ResolveConversation(context.Background(), nil, ConversationInput{ExternalID: "chat-1"})
	assert.True(t, domain.IsValidation(err))

	_, err = r.ResolveConversation(context.Background(), nil, ConversationInput{})
	assert.True(t, domain.IsValidation(err))
}

func TestResolveConversation_UpdateWithoutContact(t *testing.T) {
	r, _ := setup(t)
	ctx := context.Background()
	c := mustContact(t, r)

	created, err := r.ResolveConversation(ctx, c, ConversationInput{ExternalID: "chat-1"})
	require.NoError(t, err)

	closed, err := r.ResolveConversation(ctx, nil, ConversationInput{ExternalID: "chat-1", Status: "closed"})
	require.NoError(t, err)
	assert.Equal(t, created.ID, closed.ID)
	assert.Equal(t, domain.ConversationStatusClosed, closed.Status)
	assert.NotNil(t, closed.ClosedAt)
}

// --- Message tests ---

func mustConversation(t *testing.T, r *Resolver) (*domain.Contact, *domain.Conversation) {
	t.Helper()
	c := mustContact(t, r)
	conv, err := r.ResolveConversation(context.Background(), c, ConversationInput{ExternalID: "chat-1"})
	require.NoError(t, err)
	return c, conv
}

func TestResolveMessage_CreatedThenDuplicate(t *testing.T) {
	r, repos := setup(t)
	ctx := context.Background()
	c, conv := mustConversation(t, r)

	in := MessageInput{
		ExternalID:     "m1",
		Direction:      domain.DirectionInbound,
		Content:        "oi",
		EventTimestamp: t0,
	}
	first, err := r.ResolveMessage(ctx, c, conv, in)
	require.NoError(t, err)
	assert.True(t, first.Created)
	assert.Equal(t, "text", first.Message.Type)
	assert.Equal(t, domain.MessageStatusSent, first.Message.Status)

	in.Content = "changed"
	second, err := r.ResolveMessage(ctx, c, conv, in)
	require.NoError(t, err)
	assert.False(t, second.Created)
	assert.Equal(t, first.Message.ID, second.Message.ID)
	assert.Equal(t, "oi", second.Message.Content, "messages are immutable")

	n, err := repos.Messages.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestResolveMessage_StatusOnlyMovesForward(t *testing.T) {
	r, repos := setup(t)
	ctx := context.Background()
	c, conv := mustConversation(t, r)

	_, err := r.ResolveMessage(ctx, c, conv, MessageInput{ExternalID: "m1", Direction: domain.DirectionOutbound, Status: "sent"})
	require.NoError(t, err)

	res, err := r.ResolveMessage(ctx, c, conv, MessageInput{ExternalID: "m1", Status: "read"})
	require.NoError(t, err)
	assert.Equal(t, domain.MessageStatusRead, res.Message.Status)

	res, err = r.ResolveMessage(ctx, c, conv, MessageInput{ExternalID: "m1", Status: "delivered"})
	require.NoError(t, err)
	assert.Equal(t, domain.MessageStatusRead, res.Message.Status)

	stored, err := repos.Messages.GetByExternalID(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, domain.MessageStatusRead, stored.Status)
}

func TestResolveMessage_Validation(t *testing.T) {
	r, _ := setup(t)
	ctx := context.Background()
	c, conv := mustConversation(t, r)

	_, err := r.ResolveMessage(ctx, c, conv, MessageInput{Direction: domain.DirectionInbound})
	require.True(t, domain.IsValidation(err))
	assert.Contains(t, err.Error(), "message.externalId")

	_, err = r.ResolveMessage(ctx, c, conv, MessageInput{ExternalID: "m2"})
	assert.True(t, domain.IsValidation(err))

	_, err = r.ResolveMessage(ctx, nil, nil, MessageInput{ExternalID: "m3", Direction: domain.DirectionInbound})
	assert.True(t, domain.IsValidation(err))
}

func TestResolveMessage_DefaultsTimestampToNow(t *testing.T) {
	r, _ := setup(t)
	c, conv := mustConversation(t, r)

	res, err := r.ResolveMessage(context.Background(), c, conv, MessageInput{ExternalID: "m1", Direction: domain.DirectionInbound})
	require.NoError(t, err)
	assert.True(t, res.Message.EventTimestamp.Equal(t0))
}
