package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/IGLOU-EU/go-wildcard/v2"

	"github.com/rcourtman/vmlab-orchestrator/internal/models"
)

const inventorySelectCols = `id, cluster_id, vmid, name, node, status, type, category, ip, mac_address, memory, cores,
	disk_size, uptime, cpu_usage, memory_usage, is_template, tags, rdp_available, ssh_available,
	last_updated, last_status_check, sync_error`

// UpsertVM merges a freshly observed inventory row into storage. A known
// real cached IP is never overwritten by a placeholder or empty IP from
// the new observation — the last good value survives until a refresh
// actually supersedes it.
func (s *Store) UpsertVM(ctx context.Context, v models.VMInventory) error {
	row := s.DB.QueryRowContext(ctx, `SELECT ip FROM vm_inventory WHERE cluster_id = ? AND vmid = ?`, v.ClusterID, v.VMID)
	var existingIP sql.NullString
	err := row.Scan(&existingIP)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err := s.DB.ExecContext(ctx, `INSERT INTO vm_inventory (
			cluster_id, vmid, name, node, status, type, category, ip, mac_address, memory, cores, disk_size, uptime,
			cpu_usage, memory_usage, is_template, tags, rdp_available, ssh_available, last_updated, last_status_check, sync_error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			v.ClusterID, v.VMID, v.Name, v.Node, v.Status, string(v.Type), nullString(v.Category),
			nullString(v.IP), nullString(v.MACAddress), v.MemoryMB, v.Cores, v.DiskSizeGB, v.UptimeSeconds,
			v.CPUUsage, v.MemoryUsage, boolToInt(v.IsTemplate), nullString(v.Tags), boolToInt(v.RDPAvailable), boolToInt(v.SSHAvailable),
			formatTime(time.Now().UTC()), nullTime(v.LastStatusCheck), nullString(v.SyncError))
		if err != nil {
			return fmt.Errorf("insert inventory %s/%d: %w", v.ClusterID, v.VMID, err)
		}
		return nil
	case err != nil:
		return err
	default:
		ip := v.IP
		if models.IsPlaceholderIP(ip) && existingIP.Valid && !models.IsPlaceholderIP(existingIP.String) {
			ip = existingIP.String
		}
		_, err := s.DB.ExecContext(ctx, `UPDATE vm_inventory SET
			name = ?, node = ?, status = ?, type = ?, category = ?, ip = ?, mac_address = ?, memory = ?, cores = ?,
			disk_size = ?, uptime = ?, cpu_usage = ?, memory_usage = ?, is_template = ?, tags = ?,
			rdp_available = ?, ssh_available = ?, last_updated = ?, last_status_check = ?, sync_error = ?
			WHERE cluster_id = ? AND vmid = ?`,
			v.Name, v.Node, v.Status, string(v.Type), nullString(v.Category), nullString(ip), nullString(v.MACAddress),
			v.MemoryMB, v.Cores, v.DiskSizeGB, v.UptimeSeconds, v.CPUUsage, v.MemoryUsage, boolToInt(v.IsTemplate), nullString(v.Tags),
			boolToInt(v.RDPAvailable), boolToInt(v.SSHAvailable), formatTime(time.Now().UTC()), nullTime(v.LastStatusCheck), nullString(v.SyncError),
			v.ClusterID, v.VMID)
		if err != nil {
			return fmt.Errorf("update inventory %s/%d: %w", v.ClusterID, v.VMID, err)
		}
		return nil
	}
}

// UpsertVMBatch applies UpsertVM for every row, used by the full-sync task.
func (s *Store) UpsertVMBatch(ctx context.Context, batch []models.VMInventory) error {
	for _, v := range batch {
		if err := s.UpsertVM(ctx, v); err != nil {
			return err
		}
	}
	return nil
}

// ListVMs supports the listing endpoint's cluster/search/vmid-set filters.
// search is matched against name with shell-style wildcards.
func (s *Store) ListVMs(ctx context.Context, clusterID, search string, vmidSet map[int]bool) ([]models.VMInventory, error) {
	query := `SELECT ` + inventorySelectCols + ` FROM vm_inventory WHERE 1=1`
	var args []interface{}
	if clusterID != "" {
		query += ` AND cluster_id = ?`
		args = append(args, clusterID)
	}
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.VMInventory
	for rows.Next() {
		v, err := scanInventory(rows)
		if err != nil {
			return nil, err
		}
		if len(vmidSet) > 0 && !vmidSet[v.VMID] {
			continue
		}
		if search != "" && !matchesSearch(v.Name, search) {
			continue
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func matchesSearch(name, pattern string) bool {
	lowerName := strings.ToLower(name)
	lowerPattern := strings.ToLower(pattern)
	if !strings.ContainsAny(lowerPattern, "*?[") {
		return strings.Contains(lowerName, lowerPattern)
	}
	return wildcard.Match(lowerPattern, lowerName)
}

func (s *Store) GetVM(ctx context.Context, clusterID string, vmid int) (models.VMInventory, bool, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+inventorySelectCols+` FROM vm_inventory WHERE cluster_id = ? AND vmid = ?`, clusterID, vmid)
	v, err := scanInventory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.VMInventory{}, false, nil
	}
	if err != nil {
		return models.VMInventory{}, false, err
	}
	return v, true, nil
}

// DeleteVMsNotIn removes inventory rows for a cluster whose vmid isn't in
// the live set, the cleanup half of a full sync.
func (s *Store) DeleteVMsNotIn(ctx context.Context, clusterID string, liveVMIDs map[int]bool) (int64, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT id, vmid FROM vm_inventory WHERE cluster_id = ?`, clusterID)
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
	for _, id := range stale {
		if _, err := s.DB.ExecContext(ctx, `DELETE FROM vm_inventory WHERE id = ?`, id); err != nil {
			return 0, err
		}
	}
	return int64(len(stale)), nil
}

func (s *Store) ListRunningVMs(ctx context.Context, limit int) ([]models.VMInventory, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT `+inventorySelectCols+` FROM vm_inventory WHERE status = 'running' ORDER BY last_status_check ASC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.VMInventory
	for rows.Next() {
		v, err := scanInventory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *Store) UpdateVMStatus(ctx context.Context, clusterID string, vmid int, status string, cpuUsage, memUsage float64, uptime int64) error {
	_, err := s.DB.ExecContext(ctx, `UPDATE vm_inventory SET status = ?, cpu_usage = ?, memory_usage = ?, uptime = ?, last_status_check = ?
		WHERE cluster_id = ? AND vmid = ?`, status, cpuUsage, memUsage, uptime, formatTime(time.Now().UTC()), clusterID, vmid)
	return err
}

func scanInventory(row rowScanner) (models.VMInventory, error) {
	var v models.VMInventory
	var category, ip, mac, tags, syncError sql.NullString
	var lastStatusCheck sql.NullString
	var guestType string
	var isTemplate, rdpAvailable, sshAvailable int
	var lastUpdated string

	err := row.Scan(&v.ID, &v.ClusterID, &v.VMID, &v.Name, &v.Node, &v.Status, &guestType, &category, &ip, &mac,
		&v.MemoryMB, &v.Cores, &v.DiskSizeGB, &v.UptimeSeconds, &v.CPUUsage, &v.MemoryUsage, &isTemplate, &tags,
		&rdpAvailable, &sshAvailable, &lastUpdated, &lastStatusCheck, &syncError)
	if err != nil {
		return models.VMInventory{}, err
	}
	v.Type = models.GuestType(guestType)
	v.Category = category.String
	v.IP = ip.String
	v.MACAddress = mac.String
	v.Tags = tags.String
	v.SyncError = syncError.String
	v.IsTemplate = isTemplate != 0
	v.RDPAvailable = rdpAvailable != 0
	v.SSHAvailable = sshAvailable != 0
	t, err := parseTime(lastUpdated)
	if err != nil {
		return models.VMInventory{}, err
	}
	v.LastUpdated = t
	if lastStatusCheck.Valid {
		t, err := parseTime(lastStatusCheck.String)
		if err != nil {
			return models.VMInventory{}, err
		}
		v.LastStatusCheck = t
	}
	return v, nil
}
