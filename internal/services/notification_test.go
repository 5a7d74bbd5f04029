package services

import (
	"context"
	"testing"
	"time"
	"yomu/internal/dbtest"
	"yomu/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type notifyFixture struct {
	fanout *NotificationFanout
	hub    *StreamHub
	clock  *fakeClock
	actor  *models.User
	alice  *models.User
	bob    *models.User
	source *models.Comment
}

func newNotifyFixture(t *testing.T) *notifyFixture {
	conn := dbtest.New(t)
	clock := newFakeClock()
	hub := NewStreamHub()
	f := &notifyFixture{
		fanout: NewNotificationFanout(conn, hub, DefaultNotificationRetention, clock.Now),
		hub:    hub,
		clock:  clock,
		actor:  dbtest.SeedUser(t, conn, "kaori"),
		alice:  dbtest.SeedUser(t, conn, "alice"),
		bob:    dbtest.SeedUser(t, conn, "bob"),
	}
	manga := dbtest.SeedManga(t, conn, "blue-period")
	f.source = &models.Comment{
		ScopeID:         manga.ID,
		AuthorID:        f.actor.ID,
		Content:         "hi @alice @bob @kaori",
		ClientRequestID: "req-1",
		Mentions:        []models.MentionMetadata{},
	}
	require.NoError(t, conn.Create(f.source).Error)
	return f
}

func (f *notifyFixture) mentions() []models.MentionMetadata {
	return []models.MentionMetadata{
		candidateOf(f.alice),
		candidateOf(f.bob),
		candidateOf(f.actor),
		candidateOf(f.alice),
	}
}

func TestFanoutSkipsAuthorAndDedupes(t *testing.T) {
	f := newNotifyFixture(t)
	ctx := context.Background()
	handle := f.hub.Subscribe(f.alice.ID)

	assert.Equal(t, 2, f.fanout.OnCommentCreated(ctx, f.actor, f.source, f.mentions()))
	assert.Equal(t, 0, f.fanout.OnCommentCreated(ctx, f.actor, f.source, f.mentions()))

	for _, u := range []*models.User{f.alice, f.bob} {
		n, err := f.fanout.UnreadCount(ctx, u.ID)
		require.NoError(t, err)
		assert.EqualValues(t, 1, n)
	}
	n, err := f.fanout.UnreadCount(ctx, f.actor.ID)
	require.NoError(t, err)
	assert.Zero(t, n)

	require.Len(t, handle.Events(), 1, "only the first fan-out publishes")
	ev := <-handle.Events()
	assert.Equal(t, EventMention, ev.Type)
	payload, ok := ev.Payload.(MentionEvent)
	require.True(t, ok)
	assert.Equal(t, f.source.ID, payload.CommentID)
	assert.Equal(t, "kaori", payload.Actor.Username)
	assert.Equal(t, "hi @alice @bob @kaori", payload.Excerpt)
}

func TestNotificationInbox(t *testing.T) {
	f := newNotifyFixture(t)
	ctx := context.Background()
	f.fanout.OnCommentCreated(ctx, f.actor, f.source, f.mentions())

	list, err := f.fanout.List(ctx, f.alice.ID, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	item := list[0]
	assert.False(t, item.Read)
	require.NotNil(t, item.Actor)
	assert.Equal(t, "Kaori", item.Actor.DisplayName)
	assert.Equal(t, f.source.Content, item.Excerpt)

	requireKind(t, f.fanout.MarkRead(ctx, f.bob.ID, item.ID), KindNotFound)
	require.NoError(t, f.fanout.MarkRead(ctx, f.alice.ID, item.ID))
	require.NoError(t, f.fanout.MarkRead(ctx, f.alice.ID, item.ID))
	n, err := f.fanout.UnreadCount(ctx, f.alice.ID)
	require.NoError(t, err)
	assert.Zero(t, n)

	updated, err := f.fanout.MarkAllRead(ctx, f.bob.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, updated)

	requireKind(t, f.fanout.Delete(ctx, f.bob.ID, item.ID), KindNotFound)
	require.NoError(t, f.fanout.Delete(ctx, f.alice.ID, item.ID))
	list, err = f.fanout.List(ctx, f.alice.ID, 10)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestCleanupExpired(t *testing.T) {
	f := newNotifyFixture(t)
	ctx := context.Background()

	f.fanout.OnCommentCreated(ctx, f.actor, f.source, []models.MentionMetadata{candidateOf(f.alice)})
	f.clock.Advance(29 * 24 * time.Hour)
	f.fanout.OnCommentCreated(ctx, f.actor, f.source, []models.MentionMetadata{candidateOf(f.bob)})

	f.clock.Advance(2 * 24 * time.Hour)
	removed, err := f.fanout.CleanupExpired(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, removed)

	n, err := f.fanout.UnreadCount(ctx, f.bob.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestExcerpt(t *testing.T) {
	assert.Equal(t, "short", Excerpt("short"))
	long := make([]rune, 200)
	for i := range long {
		long[i] = '漫'
	}
	got := []rune(Excerpt(string(long)))
	assert.Len(t, got, 121)
	assert.Equal(t, '…', got[120])
}
