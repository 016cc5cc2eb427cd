package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/rcourtman/vmlab-orchestrator/internal/apierr"
	"github.com/rcourtman/vmlab-orchestrator/internal/models"
)

// UpsertTemplate inserts or refreshes one template row. A class-owned
// template (t.ClassID set) must be written under the owning class's
// pessimistic lock (WithClassLock) so it can't race a settings commit or
// deploy batch reading the same class's template reference; cluster-wide
// template discovery (no ClassID) has no class row to lock and passes a
// nil tx.
func (s *Store) UpsertTemplate(ctx context.Context, tx *sql.Tx, t models.Template) (models.Template, error) {
	queryRow := s.DB.QueryRowContext
	exec := s.DB.ExecContext
	if tx != nil {
		queryRow = tx.QueryRowContext
		exec = tx.ExecContext
	}
	row := queryRow(ctx, `SELECT id FROM templates WHERE cluster_host = ? AND node = ? AND proxmox_vmid = ?`,
		t.ClusterHost, t.Node, t.ProxmoxVMID)
	var existingID int64
	err := row.Scan(&existingID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		res, err := exec(ctx, `INSERT INTO templates (
			name, proxmox_vmid, cluster_host, node, is_replica, created_by, is_class_template, class_id, original_template_id,
			cached_cores, cached_sockets, cached_memory_mb, cached_os_type, cached_disk_storage, cached_disk_size_gb, cached_network_bridge,
			last_verified_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			t.Name, t.ProxmoxVMID, t.ClusterHost, t.Node, boolToInt(t.IsReplica), nullableID(t.CreatedBy),
			boolToInt(t.IsClassTemplate), nullableID(t.ClassID), nullableID(t.OriginalTemplateID),
			t.CachedSpecs.Cores, t.CachedSpecs.Sockets, t.CachedSpecs.MemoryMB, nullString(t.CachedSpecs.OSType),
			nullString(t.CachedSpecs.DiskStorage), t.CachedSpecs.DiskSizeGB, nullString(t.CachedSpecs.NetworkBridge),
			nullTime(t.LastVerifiedAt))
		if err != nil {
			return models.Template{}, fmt.Errorf("insert template %s: %w", t.Name, err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return models.Template{}, err
		}
		t.ID = id
		return t, nil
	case err != nil:
		return models.Template{}, err
	default:
		t.ID = existingID
		_, err := exec(ctx, `UPDATE templates SET
			name = ?, cached_cores = ?, cached_sockets = ?, cached_memory_mb = ?, cached_os_type = ?,
			cached_disk_storage = ?, cached_disk_size_gb = ?, cached_network_bridge = ?, last_verified_at = ?
			WHERE id = ?`,
			t.Name, t.CachedSpecs.Cores, t.CachedSpecs.Sockets, t.CachedSpecs.MemoryMB, nullString(t.CachedSpecs.OSType),
			nullString(t.CachedSpecs.DiskStorage), t.CachedSpecs.DiskSizeGB, nullString(t.CachedSpecs.NetworkBridge),
			nullTime(t.LastVerifiedAt), t.ID)
		if err != nil {
			return models.Template{}, fmt.Errorf("update template %d: %w", t.ID, err)
		}
		return t, nil
	}
}

func (s *Store) TouchTemplateVerified(ctx context.Context, id int64, verifiedAt interface{}) error {
	_, err := s.DB.ExecContext(ctx, `UPDATE templates SET last_verified_at = ? WHERE id = ?`, verifiedAt, id)
	return err
}

const templateSelectCols = `id, name, proxmox_vmid, cluster_host, node, is_replica, created_by, is_class_template, class_id, original_template_id,
	cached_cores, cached_sockets, cached_memory_mb, cached_os_type, cached_disk_storage, cached_disk_size_gb, cached_network_bridge,
	last_verified_at`

func (s *Store) ListTemplates(ctx context.Context) ([]models.Template, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT `+templateSelectCols+` FROM templates`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Template
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) GetTemplate(ctx context.Context, id int64) (models.Template, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+templateSelectCols+` FROM templates WHERE id = ?`, id)
	t, err := scanTemplate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Template{}, apierr.NotFoundf("template %d not found", id)
	}
	return t, err
}

// DeleteTemplatesNotIn removes non-class templates whose (cluster_host,
// proxmox_vmid) pair is no longer present in the given live set, the
// cleanup half of a full template sync.
func (s *Store) DeleteTemplatesNotIn(ctx context.Context, clusterHost string, liveVMIDs map[int]bool) (int64, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT id, proxmox_vmid FROM templates WHERE cluster_host = ? AND is_class_template = 0`, clusterHost)
	if err != nil {
		return 0, err
	}
	var stale []int64
	for rows.Next() {
		var id int64
		var vmid int
		if err := rows.Scan(&id, &vmid); err != nil {
			rows.Close()
			return 0, err
		}
		if !liveVMIDs[vmid] {
			stale = append(stale, id)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}
	var deleted int64
	for _, id := range stale {
		if _, err := s.DB.ExecContext(ctx, `DELETE FROM templates WHERE id = ?`, id); err != nil {
			return deleted, err
		}
		deleted++
	}
	return deleted, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTemplate(row rowScanner) (models.Template, error) {
	var t models.Template
	var createdBy, classID, originalTemplateID sql.NullInt64
	var osType, diskStorage, networkBridge sql.NullString
	var lastVerifiedAt sql.NullString
	var isReplica, isClassTemplate int

	err := row.Scan(&t.ID, &t.Name, &t.ProxmoxVMID, &t.ClusterHost, &t.Node, &isReplica, &createdBy, &isClassTemplate, &classID, &originalTemplateID,
		&t.CachedSpecs.Cores, &t.CachedSpecs.Sockets, &t.CachedSpecs.MemoryMB, &osType, &diskStorage, &t.CachedSpecs.DiskSizeGB, &networkBridge,
		&lastVerifiedAt)
	if err != nil {
		return models.Template{}, err
	}
	t.IsReplica = isReplica != 0
	t.IsClassTemplate = isClassTemplate != 0
	t.CachedSpecs.OSType = osType.String
	t.CachedSpecs.DiskStorage = diskStorage.String
	t.CachedSpecs.NetworkBridge = networkBridge.String
	if createdBy.Valid {
		t.CreatedBy = &createdBy.Int64
	}
	if classID.Valid {
		t.ClassID = &classID.Int64
	}
	if originalTemplateID.Valid {
		t.OriginalTemplateID = &originalTemplateID.Int64
	}
	if lastVerifiedAt.Valid {
		parsed, err := parseTime(lastVerifiedAt.String)
		if err != nil {
			return models.Template{}, err
		}
		t.LastVerifiedAt = parsed
	}
	return t, nil
}
