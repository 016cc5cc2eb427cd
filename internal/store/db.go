// Package store is the Inventory Store (C3): the relational persistence
// layer for users, classes, templates, VM assignments, inventory rows,
// and ISO images. It is the single source of truth for reads; every other
// component either reads through here or writes here after mutating
// Proxmox state.
//
// Connection handling uses a single modernc.org/sqlite connection with
// WAL journaling and a generous busy timeout, since SQLite serializes
// writers regardless of pool size.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const dataDirPerms = 0o750

const timeLayout = time.RFC3339Nano

// Store holds the SQLite handle backing the orchestrator's inventory.
type Store struct {
	Path string
	DB   *sql.DB

	lockTimeout time.Duration
}

// Open connects to SQLite, applies pragmas, and runs migrations.
func Open(path string, lockTimeout time.Duration) (*Store, error) {
	if path == "" {
		return nil, errors.New("db path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), dataDirPerms); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	if err := applyPragmas(conn); err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping sqlite %s: %w", path, err)
	}
	if err := Migrate(conn); err != nil {
		_ = conn.Close()
		return nil, err
	}
	if lockTimeout <= 0 {
		lockTimeout = 30 * time.Second
	}
	return &Store{Path: path, DB: conn, lockTimeout: lockTimeout}, nil
}

func (s *Store) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	return s.DB.Close()
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA foreign_keys = ON;",
		"PRAGMA journal_mode = WAL;",
		"PRAGMA busy_timeout = 15000;",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("apply pragma %q: %w", pragma, err)
		}
	}
	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	return time.Parse(timeLayout, value)
}

func nullTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return formatTime(t)
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullScanTime(ns sql.NullString) (time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return time.Time{}, nil
	}
	return parseTime(ns.String)
}
