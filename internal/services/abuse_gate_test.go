package services

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
	"yomu/internal/dbtest"
	"yomu/internal/models"
	"yomu/internal/store"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type gateFixture struct {
	st       *store.CommentStore
	gate     *AbuseGate
	signals  *BotSignalTracker
	verifier *fakeVerifier
	clock    *fakeClock
	author   *models.User
	manga    *models.Manga
}

func newGateFixture(t *testing.T) *gateFixture {
	conn := dbtest.New(t)
	clock := newFakeClock()
	signals := NewBotSignalTracker(DefaultBotSignalPolicy(), clock.Now)
	verifier := &fakeVerifier{}
	return &gateFixture{
		st:       store.NewCommentStore(conn),
		gate:     NewAbuseGate(DefaultAbusePolicy(), signals, verifier, clock.Now),
		signals:  signals,
		verifier: verifier,
		clock:    clock,
		author:   dbtest.SeedUser(t, conn, "kaori"),
		manga:    dbtest.SeedManga(t, conn, "blue-period"),
	}
}

// stored writes a comment at the current fake time.
func (f *gateFixture) stored(t *testing.T, requestID, content string) {
	t.Helper()
	require.NoError(t, f.st.Insert(context.Background(), &models.Comment{
		ScopeID:         f.manga.ID,
		AuthorID:        f.author.ID,
		Content:         content,
		ClientRequestID: requestID,
		CreatedAt:       f.clock.Now(),
	}))
}

func (f *gateFixture) attempt(content string) WriteAttempt {
	return WriteAttempt{AuthorID: f.author.ID, ClientRequestID: uuid.NewString(), Content: content}
}

func requireKind(t *testing.T, err error, kind ErrorKind) *EngineError {
	t.Helper()
	e, ok := AsEngineError(err)
	require.True(t, ok, "expected engine error %s, got %v", kind, err)
	require.Equal(t, kind, e.Kind)
	return e
}

func TestGateReplayedRequest(t *testing.T) {
	f := newGateFixture(t)
	id := uuid.NewString()
	f.stored(t, id, "first")
	f.clock.Advance(time.Hour)

	a := f.attempt("something else")
	a.ClientRequestID = id
	requireKind(t, f.gate.Check(context.Background(), f.st, a), KindReplayed)
}

func TestGateCooldown(t *testing.T) {
	f := newGateFixture(t)
	ctx := context.Background()
	f.stored(t, uuid.NewString(), "first")

	f.clock.Advance(3 * time.Second)
	e := requireKind(t, f.gate.Check(ctx, f.st, f.attempt("second")), KindRateLimited)
	assert.Equal(t, 7, e.RetryAfterSeconds)
	assert.Equal(t, http.StatusTooManyRequests, e.HTTPStatus())

	f.clock.Advance(6*time.Second + 500*time.Millisecond)
	e = requireKind(t, f.gate.Check(ctx, f.st, f.attempt("second")), KindRateLimited)
	assert.Equal(t, 1, e.RetryAfterSeconds)

	f.clock.Advance(500 * time.Millisecond)
	assert.NoError(t, f.gate.Check(ctx, f.st, f.attempt("second")))
}

func TestGateDuplicateContent(t *testing.T) {
	f := newGateFixture(t)
	ctx := context.Background()
	f.stored(t, uuid.NewString(), "Hello   World")

	f.clock.Advance(12 * time.Second)
	e := requireKind(t, f.gate.Check(ctx, f.st, f.attempt("  hello world ")), KindDuplicateContent)
	assert.Equal(t, 18, e.RetryAfterSeconds)

	assert.NoError(t, f.gate.Check(ctx, f.st, f.attempt("hello world, again")))

	f.clock.Advance(19 * time.Second)
	assert.NoError(t, f.gate.Check(ctx, f.st, f.attempt("hello world")))
}

func TestGateChallenge(t *testing.T) {
	f := newGateFixture(t)
	ctx := context.Background()
	f.verifier.enabled = true
	for i := 0; i < 3; i++ {
		f.gate.RegisterSignal(f.author.ID)
	}
	require.True(t, f.signals.ChallengeActive(f.author.ID))

	requireKind(t, f.gate.Check(ctx, f.st, f.attempt("hi")), KindChallengeRequired)
	assert.Equal(t, 0, f.verifier.calls)

	a := f.attempt("hi")
	a.ChallengeToken = "tok"
	f.verifier.result = VerifyResult{Success: false, ErrorCodes: []string{"invalid-input-response"}}
	requireKind(t, f.gate.Check(ctx, f.st, a), KindChallengeFailed)

	f.verifier.result = VerifyResult{}
	f.verifier.err = errors.New("connection refused")
	requireKind(t, f.gate.Check(ctx, f.st, a), KindChallengeFailed)

	f.verifier.err = nil
	f.verifier.result = VerifyResult{Success: true}
	assert.NoError(t, f.gate.Check(ctx, f.st, a))
	assert.Equal(t, 3, f.verifier.calls)

	// still armed: the next write needs a token again
	requireKind(t, f.gate.Check(ctx, f.st, f.attempt("hi")), KindChallengeRequired)
}

func TestGateChallengeSkippedWhenVerifierDisabled(t *testing.T) {
	f := newGateFixture(t)
	for i := 0; i < 3; i++ {
		f.gate.RegisterSignal(f.author.ID)
	}
	hook := logtest.NewGlobal()
	defer hook.Reset()

	assert.NoError(t, f.gate.Check(context.Background(), f.st, f.attempt("hi")))

	warned := false
	for _, entry := range hook.AllEntries() {
		if entry.Level == log.WarnLevel && entry.Message == "challenge armed but verification is disabled, write allowed" {
			warned = true
			assert.Equal(t, f.author.ID, entry.Data["author_id"])
		}
	}
	assert.True(t, warned)
}

func TestGateChallengeTimeoutFailsClosed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
		w.Write([]byte(`{"success":true}`))
	}))
	defer srv.Close()

	f := newGateFixture(t)
	policy := DefaultAbusePolicy()
	policy.ChallengeTimeout = 50 * time.Millisecond
	gate := NewAbuseGate(policy, f.signals, NewTurnstileVerifier("secret", srv.URL), f.clock.Now)
	for i := 0; i < 3; i++ {
		gate.RegisterSignal(f.author.ID)
	}

	a := f.attempt("hi")
	a.ChallengeToken = "tok"
	start := time.Now()
	requireKind(t, gate.Check(context.Background(), f.st, a), KindChallengeFailed)
	assert.Less(t, time.Since(start), time.Second)
}

func TestTurnstileVerifier(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		if r.PostForm.Get("secret") != "secret" || r.PostForm.Get("response") != "good" {
			w.Write([]byte(`{"success":false,"error-codes":["invalid-input-response"]}`))
			return
		}
		assert.Equal(t, "203.0.113.9", r.PostForm.Get("remoteip"))
		w.Write([]byte(`{"success":true}`))
	}))
	defer srv.Close()

	v := NewTurnstileVerifier("secret", srv.URL)
	require.True(t, v.Enabled())

	res, err := v.Verify(context.Background(), "good", "203.0.113.9")
	require.NoError(t, err)
	assert.True(t, res.Success)

	res, err = v.Verify(context.Background(), "bad", "203.0.113.9")
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, []string{"invalid-input-response"}, res.ErrorCodes)

	assert.False(t, NewTurnstileVerifier("", srv.URL).Enabled())
}

func TestTurnstileVerifierBreakerOpens(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	v := NewTurnstileVerifier("secret", srv.URL)
	for i := 0; i < 5; i++ {
		_, err := v.Verify(context.Background(), "tok", "")
		require.Error(t, err)
	}
	_, err := v.Verify(context.Background(), "tok", "")
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.EqualValues(t, 5, hits.Load())
}

func TestContentFingerprint(t *testing.T) {
	assert.Equal(t, ContentFingerprint("Hello\n\tWorld "), ContentFingerprint("hello world"))
	assert.NotEqual(t, ContentFingerprint("hello world"), ContentFingerprint("hello  worlds"))
	assert.Len(t, ContentFingerprint(""), 64)
}
