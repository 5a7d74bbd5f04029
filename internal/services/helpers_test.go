package services

import (
	"context"
	"sync"
	"testing"
	"time"
	"yomu/internal/dbtest"
	"yomu/internal/models"
	"yomu/internal/utils"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fakeVerifier struct {
	enabled bool
	result  VerifyResult
	err     error
	calls   int
}

func (v *fakeVerifier) Enabled() bool { return v.enabled }

func (v *fakeVerifier) Verify(ctx context.Context, token, remoteIP string) (VerifyResult, error) {
	v.calls++
	return v.result, v.err
}

// engine wires the comment service against an in-memory database.
type engine struct {
	db       *gorm.DB
	clock    *fakeClock
	hub      *StreamHub
	signals  *BotSignalTracker
	verifier *fakeVerifier
	fanout   *NotificationFanout
	mentions *MentionResolver
	comments *CommentService
	manga    *models.Manga
}

func newEngine(t *testing.T) *engine {
	t.Helper()
	conn := dbtest.New(t)
	clock := newFakeClock()
	hub := NewStreamHub()
	signals := NewBotSignalTracker(DefaultBotSignalPolicy(), clock.Now)
	verifier := &fakeVerifier{}
	gate := NewAbuseGate(DefaultAbusePolicy(), signals, verifier, clock.Now)
	fanout := NewNotificationFanout(conn, hub, DefaultNotificationRetention, clock.Now)
	mentions := NewMentionResolver(conn, utils.NewCache(100))

	return &engine{
		db:       conn,
		clock:    clock,
		hub:      hub,
		signals:  signals,
		verifier: verifier,
		fanout:   fanout,
		mentions: mentions,
		comments: NewCommentService(conn, gate, mentions, fanout, DefaultCommentPolicy(), clock.Now),
		manga:    dbtest.SeedManga(t, conn, "blue-period"),
	}
}

func (e *engine) post(t *testing.T, user *models.User, content string, parent *CommentNode) *CommentNode {
	t.Helper()
	in := CreateInput{ScopeID: e.manga.ID, Content: content, ClientRequestID: uuid.NewString()}
	if parent != nil {
		in.ParentID = &parent.ID
	}
	node, err := e.comments.Create(context.Background(), user, in)
	require.NoError(t, err)
	return node
}
