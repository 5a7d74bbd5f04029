package services

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// BotSignalPolicy: Threshold signals inside Window arm a challenge for ChallengeDuration.
type BotSignalPolicy struct {
	Threshold         int
	Window            time.Duration
	ChallengeDuration time.Duration
}

func DefaultBotSignalPolicy() BotSignalPolicy {
	return BotSignalPolicy{
		Threshold:         3,
		Window:            2 * time.Minute,
		ChallengeDuration: 15 * time.Minute,
	}
}

type botSignalState struct {
	timestamps     []time.Time
	challengeUntil time.Time
}

// BotSignalTracker keeps per-author suspicion state in process memory. It is a
// heuristic cache, not a source of truth: losing it on restart is fine.
type BotSignalTracker struct {
	mu     sync.Mutex
	policy BotSignalPolicy
	states map[uint]*botSignalState
	now    func() time.Time
}

func NewBotSignalTracker(policy BotSignalPolicy, now func() time.Time) *BotSignalTracker {
	if now == nil {
		now = utcNow
	}
	if policy.Threshold < 1 {
		policy.Threshold = 1
	}
	return &BotSignalTracker{
		policy: policy,
		states: make(map[uint]*botSignalState),
		now:    now,
	}
}

// Register records one suspicious submission. It reports whether this signal
// armed a challenge.
func (t *BotSignalTracker) Register(authorID uint) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	st, ok := t.states[authorID]
	if !ok {
		st = &botSignalState{}
		t.states[authorID] = st
	}
	st.timestamps = t.recent(st.timestamps, now)
	st.timestamps = append(st.timestamps, now)

	if len(st.timestamps) < t.policy.Threshold {
		return false
	}
	st.timestamps = nil
	st.challengeUntil = now.Add(t.policy.ChallengeDuration)
	return true
}

// ChallengeUntil returns the instant until which a challenge is required, or
// the zero time when none is armed.
func (t *BotSignalTracker) ChallengeUntil(authorID uint) time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.states[authorID]
	if !ok {
		return time.Time{}
	}
	now := t.now()
	if t.decay(authorID, st, now) {
		return time.Time{}
	}
	if !st.challengeUntil.After(now) {
		return time.Time{}
	}
	return st.challengeUntil
}

func (t *BotSignalTracker) ChallengeActive(authorID uint) bool {
	return !t.ChallengeUntil(authorID).IsZero()
}

// Prune drops decayed entries and returns how many remain.
func (t *BotSignalTracker) Prune() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	for id, st := range t.states {
		t.decay(id, st, now)
	}
	return len(t.states)
}

func (t *BotSignalTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.states)
}

// StartPruning runs Prune every interval until ctx is done.
func (t *BotSignalTracker) StartPruning(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				remaining := t.Prune()
				log.WithField("tracked_authors", remaining).Debug("bot signal state pruned")
			}
		}
	}()
}

// decay prunes st and removes it once empty and expired. Caller holds t.mu.
func (t *BotSignalTracker) decay(authorID uint, st *botSignalState, now time.Time) bool {
	st.timestamps = t.recent(st.timestamps, now)
	if len(st.timestamps) == 0 && !st.challengeUntil.After(now) {
		delete(t.states, authorID)
		return true
	}
	return false
}

func (t *BotSignalTracker) recent(ts []time.Time, now time.Time) []time.Time {
	cutoff := now.Add(-t.policy.Window)
	kept := ts[:0]
	for _, at := range ts {
		if at.After(cutoff) {
			kept = append(kept, at)
		}
	}
	return kept
}
