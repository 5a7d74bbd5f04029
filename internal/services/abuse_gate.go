package services

import (
	"context"
	"encoding/hex"
	"math"
	"strconv"
	"strings"
	"time"
	"yomu/internal/store"

	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/blake2b"
)

// AbusePolicy holds the cooldown and duplicate-suppression knobs.
type AbusePolicy struct {
	Cooldown          time.Duration
	DuplicateWindow   time.Duration
	DuplicateLookback int
	ChallengeTimeout  time.Duration
}

func DefaultAbusePolicy() AbusePolicy {
	return AbusePolicy{
		Cooldown:          10 * time.Second,
		DuplicateWindow:   30 * time.Second,
		DuplicateLookback: 12,
		ChallengeTimeout:  5 * time.Second,
	}
}

// WriteAttempt is what the gate needs to know about an incoming write.
type WriteAttempt struct {
	AuthorID        uint
	ClientRequestID string
	Content         string
	ChallengeToken  string
	ClientIP        string
}

// AbuseGate rejects writes before they reach storage. Check must run inside
// the author's advisory lock so two writes cannot both pass the cooldown.
type AbuseGate struct {
	policy   AbusePolicy
	signals  *BotSignalTracker
	verifier ChallengeVerifier
	now      func() time.Time
}

func NewAbuseGate(policy AbusePolicy, signals *BotSignalTracker, verifier ChallengeVerifier, now func() time.Time) *AbuseGate {
	if now == nil {
		now = utcNow
	}
	if policy.ChallengeTimeout <= 0 {
		policy.ChallengeTimeout = 5 * time.Second
	}
	return &AbuseGate{policy: policy, signals: signals, verifier: verifier, now: now}
}

// LockKey is the advisory lock key guarding an author's writes.
func LockKey(authorID uint) string {
	return "comment-post:" + strconv.FormatUint(uint64(authorID), 10)
}

// Check runs idempotency, cooldown, duplicate and challenge checks in order.
// It only reads comment rows.
func (g *AbuseGate) Check(ctx context.Context, tx *store.CommentStore, a WriteAttempt) error {
	exists, err := tx.RequestExists(ctx, a.AuthorID, a.ClientRequestID)
	if err != nil {
		return err
	}
	if exists {
		return engineError(KindReplayed, "this comment was already submitted")
	}

	now := g.now()

	last, err := tx.LatestByAuthor(ctx, a.AuthorID)
	if err != nil {
		return err
	}
	if last != nil {
		if err := g.checkCooldown(last.CreatedAt, now); err != nil {
			return err
		}
	}

	recent, err := tx.RecentByAuthor(ctx, a.AuthorID, now.Add(-g.policy.DuplicateWindow), g.policy.DuplicateLookback)
	if err != nil {
		return err
	}
	fp := ContentFingerprint(a.Content)
	for _, c := range recent {
		if ContentFingerprint(c.Content) == fp {
			remaining := c.CreatedAt.Add(g.policy.DuplicateWindow).Sub(now)
			return retryError(KindDuplicateContent, "you just posted the same comment", ceilSeconds(remaining))
		}
	}

	return g.checkChallenge(ctx, a)
}

// CheckEdit runs the cooldown and challenge checks for an edit. The cooldown
// counts from the author's previous edit; idempotency and duplicate checks do
// not apply.
func (g *AbuseGate) CheckEdit(ctx context.Context, tx *store.CommentStore, a WriteAttempt) error {
	last, err := tx.LatestEditByAuthor(ctx, a.AuthorID)
	if err != nil {
		return err
	}
	if last != nil && last.EditedAt != nil {
		if err := g.checkCooldown(*last.EditedAt, g.now()); err != nil {
			return err
		}
	}
	return g.checkChallenge(ctx, a)
}

func (g *AbuseGate) checkCooldown(last, now time.Time) error {
	if remaining := g.policy.Cooldown - now.Sub(last); remaining > 0 {
		return retryError(KindRateLimited, "you are commenting too fast", ceilSeconds(remaining))
	}
	return nil
}

func (g *AbuseGate) checkChallenge(ctx context.Context, a WriteAttempt) error {
	if !g.signals.ChallengeActive(a.AuthorID) {
		return nil
	}
	if g.verifier == nil || !g.verifier.Enabled() {
		log.WithField("author_id", a.AuthorID).Warn("challenge armed but verification is disabled, write allowed")
		return nil
	}
	if strings.TrimSpace(a.ChallengeToken) == "" {
		return engineError(KindChallengeRequired, "please complete the verification challenge")
	}

	vctx, cancel := context.WithTimeout(ctx, g.policy.ChallengeTimeout)
	defer cancel()
	res, err := g.verifier.Verify(vctx, a.ChallengeToken, a.ClientIP)
	if err != nil || !res.Success {
		fields := log.Fields{"author_id": a.AuthorID, "error_codes": res.ErrorCodes}
		if err != nil {
			fields["error"] = err.Error()
		}
		log.WithFields(fields).Warn("challenge verification failed")
		g.signals.Register(a.AuthorID)
		return engineError(KindChallengeFailed, "verification failed, please try again")
	}
	return nil
}

// RegisterSignal records a suspicious attempt for the author.
func (g *AbuseGate) RegisterSignal(authorID uint) bool {
	armed := g.signals.Register(authorID)
	if armed {
		log.WithField("author_id", authorID).Info("bot challenge armed")
	}
	return armed
}

// NormalizeContent collapses whitespace and case-folds.
func NormalizeContent(content string) string {
	return strings.ToLower(strings.Join(strings.Fields(content), " "))
}

// ContentFingerprint hashes the normalized content.
func ContentFingerprint(content string) string {
	sum := blake2b.Sum256([]byte(NormalizeContent(content)))
	return hex.EncodeToString(sum[:])
}

func utcNow() time.Time {
	return time.Now().UTC()
}

func ceilSeconds(d time.Duration) int {
	return int(math.Ceil(d.Seconds()))
}
