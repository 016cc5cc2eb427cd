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

const assignmentSelectCols = `id, class_id, proxmox_vmid, vm_name, mac_address, cached_ip, ip_updated_at, node, assigned_user_id,
	status, is_template_vm, manually_added, hostname_configured, target_hostname, usage_hours, created_at, assigned_at`

func (s *Store) CreateAssignment(ctx context.Context, tx *sql.Tx, a models.VMAssignment) (models.VMAssignment, error) {
	exec := s.DB.ExecContext
	if tx != nil {
		exec = tx.ExecContext
	}
	now := time.Now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	res, err := exec(ctx, `INSERT INTO vm_assignments (
		class_id, proxmox_vmid, vm_name, mac_address, cached_ip, ip_updated_at, node, assigned_user_id,
		status, is_template_vm, manually_added, hostname_configured, target_hostname, usage_hours, created_at, assigned_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		nullableID(a.ClassID), a.ProxmoxVMID, a.VMName, nullString(a.MACAddress), nullString(a.CachedIP), nullableTimePtr(a.IPUpdatedAt),
		a.Node, nullableID(a.AssignedUserID), string(a.Status), boolToInt(a.IsTemplateVM), boolToInt(a.ManuallyAdded),
		boolToInt(a.HostnameConfigured), nullString(a.TargetHostname), a.UsageHours, formatTime(a.CreatedAt), nullableTimePtr(a.AssignedAt),
	)
	if err != nil {
		return models.VMAssignment{}, fmt.Errorf("insert assignment for vmid %d: %w", a.ProxmoxVMID, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return models.VMAssignment{}, err
	}
	a.ID = id
	return a, nil
}

func (s *Store) GetAssignmentByVMID(ctx context.Context, vmid int) (models.VMAssignment, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+assignmentSelectCols+` FROM vm_assignments WHERE proxmox_vmid = ?`, vmid)
	a, err := scanAssignment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.VMAssignment{}, apierr.NotFoundf("no assignment for vmid %d", vmid)
	}
	return a, err
}

func (s *Store) ListAssignmentsForClass(ctx context.Context, classID int64) ([]models.VMAssignment, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT `+assignmentSelectCols+` FROM vm_assignments WHERE class_id = ? ORDER BY proxmox_vmid`, classID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.VMAssignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// NextPoolAssignment returns the lowest-VMID unclaimed pool slot for a
// class, or ErrNotFound if none exist.
func (s *Store) NextPoolAssignment(ctx context.Context, tx *sql.Tx, classID int64) (models.VMAssignment, error) {
	query := s.DB.QueryRowContext
	if tx != nil {
		query = tx.QueryRowContext
	}
	row := query(ctx, `SELECT `+assignmentSelectCols+` FROM vm_assignments
		WHERE class_id = ? AND assigned_user_id IS NULL AND status = ? AND is_template_vm = 0 AND manually_added = 0
		ORDER BY proxmox_vmid ASC LIMIT 1`, classID, string(models.StatusAvailable))
	a, err := scanAssignment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.VMAssignment{}, apierr.NotFoundf("no pool vm available for class %d", classID)
	}
	return a, err
}

// ClaimAssignment assigns a pool VM to a user, the atomic step of joining
// a class via token under the class row lock.
func (s *Store) ClaimAssignment(ctx context.Context, tx *sql.Tx, assignmentID, userID int64) error {
	exec := s.DB.ExecContext
	if tx != nil {
		exec = tx.ExecContext
	}
	now := formatTime(time.Now().UTC())
	res, err := exec(ctx, `UPDATE vm_assignments SET assigned_user_id = ?, assigned_at = ?, status = ?
		WHERE id = ? AND assigned_user_id IS NULL AND status = ?`,
		userID, now, string(models.StatusAssigned), assignmentID, string(models.StatusAvailable))
	if err != nil {
		return fmt.Errorf("claim assignment %d: %w", assignmentID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return apierr.ResourceBusyf("assignment %d was claimed concurrently", assignmentID)
	}
	return nil
}

func (s *Store) UpdateAssignmentIP(ctx context.Context, id int64, ip string) error {
	_, err := s.DB.ExecContext(ctx, `UPDATE vm_assignments SET cached_ip = ?, ip_updated_at = ? WHERE id = ?`,
		ip, formatTime(time.Now().UTC()), id)
	return err
}

func (s *Store) UpdateAssignmentNode(ctx context.Context, vmid int, node string) error {
	_, err := s.DB.ExecContext(ctx, `UPDATE vm_assignments SET node = ? WHERE proxmox_vmid = ?`, node, vmid)
	return err
}

func (s *Store) UpdateAssignmentHostnameConfigured(ctx context.Context, id int64, configured bool) error {
	_, err := s.DB.ExecContext(ctx, `UPDATE vm_assignments SET hostname_configured = ? WHERE id = ?`, boolToInt(configured), id)
	return err
}

// AddUsageHours accrues delta (fractional) hours onto an assignment's
// running total, called by the auto-shutdown tick for each assigned VM it
// finds running.
func (s *Store) AddUsageHours(ctx context.Context, id int64, delta float64) error {
	_, err := s.DB.ExecContext(ctx, `UPDATE vm_assignments SET usage_hours = usage_hours + ? WHERE id = ?`, delta, id)
	return err
}

func (s *Store) DeleteAssignment(ctx context.Context, tx *sql.Tx, id int64) error {
	exec := s.DB.ExecContext
	if tx != nil {
		exec = tx.ExecContext
	}
	_, err := exec(ctx, `DELETE FROM vm_assignments WHERE id = ?`, id)
	return err
}

// ListOrphans returns assignments with neither owning class nor assigned
// user — candidates for the orphan-cleanup endpoint, never pool members.
func (s *Store) ListOrphans(ctx context.Context) ([]models.VMAssignment, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT `+assignmentSelectCols+` FROM vm_assignments WHERE class_id IS NULL AND assigned_user_id IS NULL`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.VMAssignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ListPendingHostnameRenames returns assignments with a target hostname
// recorded but not yet applied to the guest, the hostrename daemon's
// work queue.
func (s *Store) ListPendingHostnameRenames(ctx context.Context) ([]models.VMAssignment, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT `+assignmentSelectCols+` FROM vm_assignments
		WHERE hostname_configured = 0 AND target_hostname IS NOT NULL AND target_hostname != ''`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.VMAssignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) ListAssignmentsForUser(ctx context.Context, userID int64) ([]models.VMAssignment, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT `+assignmentSelectCols+` FROM vm_assignments WHERE assigned_user_id = ?`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.VMAssignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanAssignment(row rowScanner) (models.VMAssignment, error) {
	var a models.VMAssignment
	var classID, assignedUserID sql.NullInt64
	var macAddress, cachedIP, targetHostname sql.NullString
	var ipUpdatedAt, assignedAt sql.NullString
	var status string
	var isTemplateVM, manuallyAdded, hostnameConfigured int
	var createdAt string

	err := row.Scan(&a.ID, &classID, &a.ProxmoxVMID, &a.VMName, &macAddress, &cachedIP, &ipUpdatedAt, &a.Node, &assignedUserID,
		&status, &isTemplateVM, &manuallyAdded, &hostnameConfigured, &targetHostname, &a.UsageHours, &createdAt, &assignedAt)
	if err != nil {
		return models.VMAssignment{}, err
	}
	a.Status = models.AssignmentStatus(status)
	a.MACAddress = macAddress.String
	a.CachedIP = cachedIP.String
	a.TargetHostname = targetHostname.String
	a.IsTemplateVM = isTemplateVM != 0
	a.ManuallyAdded = manuallyAdded != 0
	a.HostnameConfigured = hostnameConfigured != 0
	if classID.Valid {
		a.ClassID = &classID.Int64
	}
	if assignedUserID.Valid {
		a.AssignedUserID = &assignedUserID.Int64
	}
	if ipUpdatedAt.Valid {
		t, err := parseTime(ipUpdatedAt.String)
		if err != nil {
			return models.VMAssignment{}, err
		}
		a.IPUpdatedAt = &t
	}
	if assignedAt.Valid {
		t, err := parseTime(assignedAt.String)
		if err != nil {
			return models.VMAssignment{}, err
		}
		a.AssignedAt = &t
	}
	t, err := parseTime(createdAt)
	if err != nil {
		return models.VMAssignment{}, err
	}
	a.CreatedAt = t
	return a, nil
}
