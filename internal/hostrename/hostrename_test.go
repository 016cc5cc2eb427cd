package hostrename

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestReadyToAttemptWaitsForBoot(t *testing.T) {
	attempts := make(map[int]*attemptState)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	assert.False(t, readyToAttempt(attempts, 500, now), "first sighting should start the boot wait, not fire immediately")
	assert.False(t, readyToAttempt(attempts, 500, now.Add(10*time.Second)), "boot wait hasn't elapsed")
	assert.True(t, readyToAttempt(attempts, 500, now.Add(46*time.Second)), "boot wait has elapsed")
}

func TestReadyToAttemptRespectsCooldownAndCap(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	attempts := map[int]*attemptState{
		500: {attempts: 1, lastAttempt: now, firstSeen: now.Add(-time.Minute)},
	}
	assert.False(t, readyToAttempt(attempts, 500, now.Add(time.Minute)), "still in cooldown")
	assert.True(t, readyToAttempt(attempts, 500, now.Add(6*time.Minute)), "cooldown elapsed")

	attempts[500].attempts = maxAttempts
	assert.False(t, readyToAttempt(attempts, 500, now.Add(time.Hour)), "attempt cap reached")
}
