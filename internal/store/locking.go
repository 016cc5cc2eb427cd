package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/rcourtman/vmlab-orchestrator/internal/apierr"
)

// WithClassLock runs fn inside a transaction holding a write lock on the
// class row, emulating SELECT ... FOR UPDATE: SQLite has no native row
// locking, but the store's pool holds a single connection, so an open
// transaction (a plain BEGIN followed by a read of the class row) keeps
// every other statement in this process waiting until it ends. The
// retry budget lets callers absorb transient SQLITE_BUSY against the
// store's own busy_timeout.
func (s *Store) WithClassLock(ctx context.Context, classID int64, retries int, fn func(tx *sql.Tx) error) error {
	if retries <= 0 {
		retries = 1
	}
	deadline := time.Now().Add(s.lockTimeout)

	var lastErr error
	for attempt := 0; attempt < retries; attempt++ {
		if time.Now().After(deadline) {
			return apierr.ResourceBusyf("timed out acquiring lock on class %d", classID)
		}
		tx, err := s.DB.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `SELECT id FROM classes WHERE id = ?`, classID); err != nil {
			_ = tx.Rollback()
			lastErr = err
			continue
		}
		if err := fn(tx); err != nil {
			_ = tx.Rollback()
			if isBusy(err) {
				lastErr = err
				time.Sleep(50 * time.Millisecond)
				continue
			}
			return err
		}
		if err := tx.Commit(); err != nil {
			if isBusy(err) {
				lastErr = err
				time.Sleep(50 * time.Millisecond)
				continue
			}
			return err
		}
		return nil
	}
	if lastErr != nil {
		return apierr.ResourceBusyf("class %d busy after %d attempts: %v", classID, retries, lastErr)
	}
	return apierr.ResourceBusyf("class %d busy", classID)
}

func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return contains(msg, "locked") || contains(msg, "busy")
}

func contains(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
