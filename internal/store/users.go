package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rcourtman/vmlab-orchestrator/internal/apierr"
	"github.com/rcourtman/vmlab-orchestrator/internal/models"
)

func (s *Store) CreateUser(ctx context.Context, u models.User) (models.User, error) {
	if u.Username == "" {
		return models.User{}, errors.New("username is required")
	}
	if !u.Role.Valid() {
		return models.User{}, fmt.Errorf("invalid role %q", u.Role)
	}
	now := time.Now().UTC()
	res, err := s.DB.ExecContext(ctx, `INSERT INTO users (username, password_hash, role, created_at) VALUES (?, ?, ?, ?)`,
		u.Username, u.PasswordHash, string(u.Role), formatTime(now))
	if err != nil {
		return models.User{}, fmt.Errorf("insert user %s: %w", u.Username, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return models.User{}, err
	}
	u.ID = id
	u.CreatedAt = now
	return u, nil
}

func (s *Store) GetUser(ctx context.Context, id int64) (models.User, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT id, username, password_hash, role, created_at FROM users WHERE id = ?`, id)
	return scanUser(row)
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (models.User, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT id, username, password_hash, role, created_at FROM users WHERE username = ?`, username)
	return scanUser(row)
}

// ListAllUsers returns every local account, for admin-scope user lookups
// (e.g. resolving assigned_user_id to a username in API responses).
func (s *Store) ListAllUsers(ctx context.Context) ([]models.User, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT id, username, password_hash, role, created_at FROM users ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.User
	for rows.Next() {
		var u models.User
		var role, createdAt string
		if err := rows.Scan(&u.ID, &u.Username, &u.PasswordHash, &role, &createdAt); err != nil {
			return nil, err
		}
		u.Role = models.Role(role)
		t, err := parseTime(createdAt)
		if err != nil {
			return nil, err
		}
		u.CreatedAt = t
		out = append(out, u)
	}
	return out, rows.Err()
}

// SetPasswordHash overwrites the stored bcrypt hash for username, for the
// CLI admin password reset wizard. Returns apierr.NotFound if no such user
// exists yet.
func (s *Store) SetPasswordHash(ctx context.Context, username, passwordHash string) error {
	res, err := s.DB.ExecContext(ctx, `UPDATE users SET password_hash = ? WHERE username = ?`, passwordHash, username)
	if err != nil {
		return fmt.Errorf("update password for %s: %w", username, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return apierr.NotFoundf("user %s not found", username)
	}
	return nil
}

func scanUser(row *sql.Row) (models.User, error) {
	var u models.User
	var role, createdAt string
	if err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &role, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.User{}, apierr.NotFoundf("user not found")
		}
		return models.User{}, err
	}
	u.Role = models.Role(role)
	t, err := parseTime(createdAt)
	if err != nil {
		return models.User{}, err
	}
	u.CreatedAt = t
	return u, nil
}
