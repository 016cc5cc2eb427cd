// Package classes is the Class Lifecycle Manager (C7): class creation,
// join-token issuance/validation, and the join_via_token enrollment
// flow that claims a pool VM atomically under the class row lock.
package classes

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"time"

	"github.com/rcourtman/vmlab-orchestrator/internal/apierr"
	"github.com/rcourtman/vmlab-orchestrator/internal/models"
	"github.com/rcourtman/vmlab-orchestrator/internal/store"
)

type Manager struct {
	store *store.Store
}

func New(st *store.Store) *Manager {
	return &Manager{store: st}
}

// NewJoinToken generates a 256-bit random, URL-safe-encoded join token.
func NewJoinToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// IssueJoinToken rotates a class's join token. expiresInDays == 0 means
// the token never expires; otherwise it expires now + expiresInDays.
func (m *Manager) IssueJoinToken(ctx context.Context, classID int64, expiresInDays int) (string, error) {
	token, err := NewJoinToken()
	if err != nil {
		return "", err
	}
	var expiresAt *time.Time
	neverExpires := expiresInDays == 0
	if !neverExpires {
		t := time.Now().Add(time.Duration(expiresInDays) * 24 * time.Hour)
		expiresAt = &t
	}
	if err := m.store.SetJoinToken(ctx, classID, token, expiresAt, neverExpires); err != nil {
		return "", err
	}
	return token, nil
}

// EnrollResult reports what join_via_token actually did, for the API
// layer to report back to the client.
type EnrollResult struct {
	AlreadyEnrolled bool
	AssignedVMID    int
}

// JoinViaToken finds the class owning token, enrolls userID (idempotent
// if already enrolled), and — if a pool VM is available — claims one
// for the student under the class's pessimistic lock.
func (m *Manager) JoinViaToken(ctx context.Context, token string, userID int64) (EnrollResult, error) {
	class, err := m.store.GetClassByJoinToken(ctx, token)
	if err != nil {
		return EnrollResult{}, apierr.InvalidInputf("invalid join token")
	}
	if !class.IsTokenValid(time.Now()) {
		return EnrollResult{}, apierr.InvalidInputf("join token expired")
	}

	var result EnrollResult
	lockErr := m.store.WithClassLock(ctx, class.ID, 5, func(tx *sql.Tx) error {
		inserted, err := m.store.AddEnrollment(ctx, tx, class.ID, userID)
		if err != nil {
			return err
		}
		if !inserted {
			result.AlreadyEnrolled = true
			return nil
		}

		assignment, err := m.store.NextPoolAssignment(ctx, tx, class.ID)
		if err != nil {
			if apiErr, ok := apierr.As(err); ok && apiErr.Kind == apierr.NotFound {
				return nil
			}
			return err
		}
		if err := m.store.ClaimAssignment(ctx, tx, assignment.ID, userID); err != nil {
			return err
		}
		result.AssignedVMID = assignment.ProxmoxVMID
		return nil
	})
	if lockErr != nil {
		return EnrollResult{}, lockErr
	}
	return result, nil
}

func (m *Manager) CreateClass(ctx context.Context, c models.Class) (models.Class, error) {
	return m.store.CreateClass(ctx, c)
}

// UpdateSettings commits a class settings change under the class's
// pessimistic lock, so it can't interleave with a concurrent deploy
// batch or another settings write racing the same optimistic
// lock_version.
func (m *Manager) UpdateSettings(ctx context.Context, c models.Class) error {
	return m.store.WithClassLock(ctx, c.ID, 5, func(tx *sql.Tx) error {
		return m.store.UpdateClassSettings(ctx, tx, c)
	})
}
