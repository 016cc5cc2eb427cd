package sshpool

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStatsUtilizationEmptyPool(t *testing.T) {
	p := New(Config{MaxSessions: 10})
	defer p.Stop()

	stats := p.Stats()
	assert.Equal(t, 0, stats.Active)
	assert.Equal(t, 0.0, stats.Utilization)
}

func TestStatsDefaultsApplied(t *testing.T) {
	p := New(Config{})
	defer p.Stop()
	assert.Equal(t, 50, p.cfg.MaxSessions)
	assert.Equal(t, 10*time.Minute, p.cfg.IdleTimeout)
	assert.Equal(t, 10*time.Second, p.cfg.DialTimeout)
}

func TestEvictOldestLockedNoEntries(t *testing.T) {
	p := New(Config{MaxSessions: 1})
	defer p.Stop()
	// Should not panic when the pool is empty.
	p.mu.Lock()
	p.evictOldestLocked()
	p.mu.Unlock()
}
