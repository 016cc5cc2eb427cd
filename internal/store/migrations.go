package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

type migration struct {
	version    int
	name       string
	statements []string
}

var migrations = []migration{
	{
		version: 1,
		name:    "init_core_tables",
		statements: []string{
			`CREATE TABLE IF NOT EXISTS users (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				username TEXT NOT NULL UNIQUE,
				password_hash TEXT NOT NULL,
				role TEXT NOT NULL,
				created_at TEXT NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS classes (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				name TEXT NOT NULL,
				description TEXT,
				teacher_id INTEGER NOT NULL REFERENCES users(id),
				template_id INTEGER,
				join_token TEXT,
				token_expires_at TEXT,
				token_never_expires INTEGER NOT NULL DEFAULT 0,
				pool_size INTEGER NOT NULL DEFAULT 0,
				deployment_method TEXT NOT NULL DEFAULT 'linked_clone',
				deployment_cluster TEXT,
				vmid_prefix INTEGER,
				auto_shutdown_enabled INTEGER NOT NULL DEFAULT 0,
				auto_shutdown_cpu_threshold REAL NOT NULL DEFAULT 5.0,
				auto_shutdown_idle_minutes INTEGER NOT NULL DEFAULT 30,
				restrict_hours_enabled INTEGER NOT NULL DEFAULT 0,
				restrict_hours_start TEXT,
				restrict_hours_end TEXT,
				max_usage_hours INTEGER NOT NULL DEFAULT 0,
				cpu_cores INTEGER NOT NULL DEFAULT 2,
				memory_mb INTEGER NOT NULL DEFAULT 2048,
				clone_task_id TEXT,
				lock_version INTEGER NOT NULL DEFAULT 0,
				created_at TEXT NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS class_enrollments (
				class_id INTEGER NOT NULL REFERENCES classes(id) ON DELETE CASCADE,
				user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
				created_at TEXT NOT NULL,
				PRIMARY KEY (class_id, user_id)
			)`,
			`CREATE TABLE IF NOT EXISTS class_co_owners (
				class_id INTEGER NOT NULL REFERENCES classes(id) ON DELETE CASCADE,
				user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
				PRIMARY KEY (class_id, user_id)
			)`,
			`CREATE TABLE IF NOT EXISTS templates (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				name TEXT NOT NULL,
				proxmox_vmid INTEGER NOT NULL,
				cluster_host TEXT NOT NULL,
				node TEXT NOT NULL,
				is_replica INTEGER NOT NULL DEFAULT 0,
				created_by INTEGER,
				is_class_template INTEGER NOT NULL DEFAULT 0,
				class_id INTEGER REFERENCES classes(id) ON DELETE CASCADE,
				original_template_id INTEGER,
				cached_cores INTEGER,
				cached_sockets INTEGER,
				cached_memory_mb INTEGER,
				cached_os_type TEXT,
				cached_disk_storage TEXT,
				cached_disk_size_gb REAL,
				cached_network_bridge TEXT,
				last_verified_at TEXT,
				UNIQUE(cluster_host, node, proxmox_vmid)
			)`,
			`CREATE TABLE IF NOT EXISTS vm_assignments (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				class_id INTEGER REFERENCES classes(id) ON DELETE CASCADE,
				proxmox_vmid INTEGER NOT NULL,
				vm_name TEXT NOT NULL,
				mac_address TEXT,
				cached_ip TEXT,
				ip_updated_at TEXT,
				node TEXT NOT NULL,
				assigned_user_id INTEGER REFERENCES users(id),
				status TEXT NOT NULL DEFAULT 'available',
				is_template_vm INTEGER NOT NULL DEFAULT 0,
				manually_added INTEGER NOT NULL DEFAULT 0,
				hostname_configured INTEGER NOT NULL DEFAULT 0,
				target_hostname TEXT,
				usage_hours REAL NOT NULL DEFAULT 0,
				created_at TEXT NOT NULL,
				assigned_at TEXT,
				UNIQUE(proxmox_vmid)
			)`,
			`CREATE TABLE IF NOT EXISTS vm_inventory (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				cluster_id TEXT NOT NULL,
				vmid INTEGER NOT NULL,
				name TEXT NOT NULL,
				node TEXT NOT NULL,
				status TEXT NOT NULL,
				type TEXT NOT NULL,
				category TEXT,
				ip TEXT,
				mac_address TEXT,
				memory INTEGER,
				cores INTEGER,
				disk_size INTEGER,
				uptime INTEGER,
				cpu_usage REAL,
				memory_usage REAL,
				is_template INTEGER NOT NULL DEFAULT 0,
				tags TEXT,
				rdp_available INTEGER NOT NULL DEFAULT 0,
				ssh_available INTEGER NOT NULL DEFAULT 0,
				last_updated TEXT NOT NULL,
				last_status_check TEXT,
				sync_error TEXT,
				UNIQUE(cluster_id, vmid)
			)`,
			`CREATE TABLE IF NOT EXISTS iso_images (
				volid TEXT PRIMARY KEY,
				name TEXT NOT NULL,
				size INTEGER NOT NULL,
				node TEXT NOT NULL,
				storage TEXT NOT NULL,
				cluster_id TEXT NOT NULL,
				discovered_at TEXT NOT NULL,
				last_seen TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_classes_teacher ON classes(teacher_id)`,
			`CREATE INDEX IF NOT EXISTS idx_classes_join_token ON classes(join_token)`,
			`CREATE INDEX IF NOT EXISTS idx_templates_class ON templates(class_id)`,
			`CREATE INDEX IF NOT EXISTS idx_vm_assignments_class ON vm_assignments(class_id)`,
			`CREATE INDEX IF NOT EXISTS idx_vm_assignments_user ON vm_assignments(assigned_user_id)`,
			`CREATE INDEX IF NOT EXISTS idx_vm_assignments_status ON vm_assignments(status)`,
			`CREATE INDEX IF NOT EXISTS idx_vm_inventory_cluster ON vm_inventory(cluster_id)`,
			`CREATE INDEX IF NOT EXISTS idx_iso_images_cluster ON iso_images(cluster_id)`,
		},
	},
}

func Migrate(db *sql.DB) error {
	if db == nil {
		return errors.New("db is nil")
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return fmt.Errorf("enable foreign keys: %w", err)
	}
	if err := validateMigrations(); err != nil {
		return err
	}
	if err := ensureSchemaMigrations(db); err != nil {
		return err
	}
	applied, err := loadAppliedVersions(db)
	if err != nil {
		return err
	}
	for _, m := range migrations {
		if _, ok := applied[m.version]; ok {
			continue
		}
		if err := applyMigration(db, m); err != nil {
			return err
		}
	}
	return nil
}

func ensureSchemaMigrations(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at TEXT NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}
	return nil
}

func loadAppliedVersions(db *sql.DB) (map[int]struct{}, error) {
	rows, err := db.Query(`SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("list schema_migrations: %w", err)
	}
	defer rows.Close()
	applied := make(map[int]struct{})
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("scan schema_migrations: %w", err)
		}
		applied[version] = struct{}{}
	}
	return applied, rows.Err()
}

func applyMigration(db *sql.DB, m migration) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin migration %d: %w", m.version, err)
	}
	for _, stmt := range m.statements {
		trimmed := strings.TrimSpace(stmt)
		if trimmed == "" {
			continue
		}
		if _, err := tx.Exec(trimmed); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("exec migration %d: %w", m.version, err)
		}
	}
	appliedAt := time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := tx.Exec(`INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)`, m.version, m.name, appliedAt); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("record migration %d: %w", m.version, err)
	}
	return tx.Commit()
}

func validateMigrations() error {
	if len(migrations) == 0 {
		return errors.New("no migrations defined")
	}
	seen := make(map[int]struct{}, len(migrations))
	prev := 0
	for _, m := range migrations {
		if m.version <= 0 || m.version < prev {
			return fmt.Errorf("migration %d out of order", m.version)
		}
		if _, ok := seen[m.version]; ok {
			return fmt.Errorf("duplicate migration version %d", m.version)
		}
		seen[m.version] = struct{}{}
		prev = m.version
	}
	return nil
}
