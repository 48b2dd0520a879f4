package recorder

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/soyeahso/chatpulse/internal/logging"
	"github.com/soyeahso/chatpulse/internal/retry"
	"github.com/soyeahso/chatpulse/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)

func setup(t *testing.T, production bool) (*Recorder, *store.DB) {
	t.Helper()
	log := logging.New(nil, "silent")
	db, err := store.OpenSQLite(":memory:", log)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	policy := retry.Policy{MaxAttempts: 2, Delay: time.Millisecond}
	repos := store.NewRepositories(db, policy, log)
	return New(repos.Events, production, log, WithClock(func() time.Time { return t0 })), db
}

func TestRecord_WritesUnprocessedRow(t *testing.T) {
	r, _ := setup(t, true)
	ctx := context.Background()

	id, err := r.Record(ctx, "message.received", json.RawMessage(`{"a":1}`), "127.0.0.1", "curl/8")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	e, err := r.Get(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, "message.received", e.EventType)
	assert.False(t, e.Processed)
	assert.Equal(t, "curl/8", e.UserAgent)
	assert.True(t, e.CreatedAt.Equal(t0))
}

func TestMarkProcessedAndError(t *testing.T) {
	r, _ := setup(t, true)
	ctx := context.Background()

	id, err := r.Record(ctx, "message.sent", json.RawMessage(`{}`), "", "")
	require.NoError(t, err)

	require.NoError(t, r.MarkError(ctx, id, "validation: message.externalId: required"))
	e, err := r.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, e.RetryCount)
	assert.False(t, e.Processed)

	list, err := r.Unprocessed(ctx, 3, 10)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, r.MarkProcessed(ctx, id))
	e, err = r.Get(ctx, id)
	require.NoError(t, err)
	assert.True(t, e.Processed)

	list, err = r.Unprocessed(ctx, 3, 10)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestMarkError_TruncatesMessage(t *testing.T) {
	r, _ := setup(t, true)
	ctx := context.Background()

	id, err := r.Record(ctx, "message.sent", json.RawMessage(`{}`), "", "")
	require.NoError(t, err)
	require.NoError(t, r.MarkError(ctx, id, strings.Repeat("x", 5000)))

	e, err := r.Get(ctx, id)
	require.NoError(t, err)
	assert.Len(t, e.ErrorMessage, maxErrorLength)
}

func TestMarkError_TruncatesOnRuneBoundary(t *testing.T) {
	r, _ := setup(t, true)
	ctx := context.Background()

	id, err := r.Record(ctx, "message.sent", json.RawMessage(`{}`), "", "")
	require.NoError(t, err)
	// "é" is two bytes, so the limit falls inside a rune
	msg := "x" + strings.Repeat("é", maxErrorLength)
	require.NoError(t, r.MarkError(ctx, id, msg))

	e, err := r.Get(ctx, id)
	require.NoError(t, err)
	assert.True(t, utf8.ValidString(e.ErrorMessage))
	assert.Len(t, e.ErrorMessage, maxErrorLength-1)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "ab", truncate("abc", 2))
	assert.Equal(t, "a", truncate("aé", 2))
	assert.Equal(t, "aé", truncate("aé", 3))
	assert.Equal(t, "", truncate("日本", 2))
}

func TestMarkWithEmptyIDIsNoop(t *testing.T) {
	r, _ := setup(t, true)
	assert.NoError(t, r.MarkProcessed(context.Background(), ""))
	assert.NoError(t, r.MarkError(context.Background(), "", "x"))
	assert.NoError(t, r.Reclassify(context.Background(), "", "x"))
}

func TestMarkUnknownIDFails(t *testing.T) {
	r, _ := setup(t, true)
	assert.Error(t, r.MarkProcessed(context.Background(), "does-not-exist"))
}

func TestRecord_FailureSwallowedOutsideProduction(t *testing.T) {
	r, db := setup(t, false)
	require.NoError(t, db.Close())

	id, err := r.Record(context.Background(), "message.received", json.RawMessage(`{}`), "", "")
	assert.NoError(t, err)
	assert.Empty(t, id)
}

func TestRecord_FailurePropagatesInProduction(t *testing.T) {
	r, db := setup(t, true)
	require.NoError(t, db.Close())

	id, err := r.Record(context.Background(), "message.received", json.RawMessage(`{}`), "", "")
	assert.Error(t, err)
	assert.Empty(t, id)
}

func TestReclassify(t *testing.T) {
	r, _ := setup(t, true)
	ctx := context.Background()

	id, err := r.Record(ctx, "invalid_payload", json.RawMessage(`{}`), "", "")
	require.NoError(t, err)
	require.NoError(t, r.Reclassify(ctx, id, "contact.updated"))

	e, err := r.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "contact.updated", e.EventType)
}
