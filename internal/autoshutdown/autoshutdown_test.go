package autoshutdown

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/rcourtman/vmlab-orchestrator/internal/models"
)

func TestWithinRestrictHoursSameDayWindow(t *testing.T) {
	r := models.RestrictHours{Enabled: true, Start: 8, End: 18}
	assert.True(t, withinRestrictHours(r, time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)))
	assert.False(t, withinRestrictHours(r, time.Date(2026, 1, 1, 19, 0, 0, 0, time.UTC)))
	assert.False(t, withinRestrictHours(r, time.Date(2026, 1, 1, 7, 59, 0, 0, time.UTC)))
}

func TestWithinRestrictHoursOvernightWindow(t *testing.T) {
	r := models.RestrictHours{Enabled: true, Start: 20, End: 6}
	assert.True(t, withinRestrictHours(r, time.Date(2026, 1, 1, 23, 0, 0, 0, time.UTC)))
	assert.True(t, withinRestrictHours(r, time.Date(2026, 1, 1, 2, 0, 0, 0, time.UTC)))
	assert.False(t, withinRestrictHours(r, time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)))
}

func TestIdleExceededTracksAndFiresAfterIdleMinutes(t *testing.T) {
	pending := make(map[int64]time.Time)
	now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)

	assert.False(t, idleExceeded(pending, 42, 1.0, 5.0, 10, now), "first idle observation should be recorded, not acted on")
	_, tracked := pending[42]
	assert.True(t, tracked)

	assert.False(t, idleExceeded(pending, 42, 1.0, 5.0, 10, now.Add(5*time.Minute)), "idle window hasn't elapsed yet")
	assert.True(t, idleExceeded(pending, 42, 1.0, 5.0, 10, now.Add(11*time.Minute)), "idle window elapsed")
}

func TestIdleExceededClearsOnRecovery(t *testing.T) {
	pending := map[int64]time.Time{42: time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)}
	assert.False(t, idleExceeded(pending, 42, 9.0, 5.0, 10, time.Date(2026, 1, 1, 10, 5, 0, 0, time.UTC)))
	_, tracked := pending[42]
	assert.False(t, tracked)
}
