package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBotSignalEscalation(t *testing.T) {
	clock := newFakeClock()
	tr := NewBotSignalTracker(DefaultBotSignalPolicy(), clock.Now)

	assert.False(t, tr.Register(1))
	clock.Advance(30 * time.Second)
	assert.False(t, tr.Register(1))
	assert.False(t, tr.ChallengeActive(1))

	clock.Advance(30 * time.Second)
	armedAt := clock.Now()
	assert.True(t, tr.Register(1))
	assert.True(t, tr.ChallengeActive(1))
	assert.Equal(t, armedAt.Add(15*time.Minute), tr.ChallengeUntil(1))

	// the window restarts after arming
	clock.Advance(time.Second)
	assert.False(t, tr.Register(1))
	assert.Equal(t, armedAt.Add(15*time.Minute), tr.ChallengeUntil(1))

	assert.False(t, tr.ChallengeActive(2))

	clock.Advance(15 * time.Minute)
	assert.False(t, tr.ChallengeActive(1))
}

func TestBotSignalsOutsideWindowDoNotCount(t *testing.T) {
	clock := newFakeClock()
	tr := NewBotSignalTracker(DefaultBotSignalPolicy(), clock.Now)

	tr.Register(1)
	tr.Register(1)
	clock.Advance(2*time.Minute + time.Second)
	assert.False(t, tr.Register(1))
	assert.False(t, tr.ChallengeActive(1))
}

func TestBotSignalPrune(t *testing.T) {
	clock := newFakeClock()
	tr := NewBotSignalTracker(DefaultBotSignalPolicy(), clock.Now)

	tr.Register(1)
	for i := 0; i < 3; i++ {
		tr.Register(2)
	}
	assert.Equal(t, 2, tr.Len())

	clock.Advance(3 * time.Minute)
	assert.Equal(t, 1, tr.Prune(), "armed author is kept until the challenge expires")

	clock.Advance(15 * time.Minute)
	assert.Equal(t, 0, tr.Prune())
}
