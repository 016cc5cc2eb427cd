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

func (s *Store) CreateClass(ctx context.Context, c models.Class) (models.Class, error) {
	now := time.Now().UTC()
	res, err := s.DB.ExecContext(ctx, `INSERT INTO classes (
		name, description, teacher_id, template_id, join_token, token_expires_at, token_never_expires,
		pool_size, deployment_method, deployment_cluster, vmid_prefix,
		auto_shutdown_enabled, auto_shutdown_cpu_threshold, auto_shutdown_idle_minutes,
		restrict_hours_enabled, restrict_hours_start, restrict_hours_end,
		max_usage_hours, cpu_cores, memory_mb, lock_version, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?)`,
		c.Name, nullString(c.Description), c.TeacherID, nullableID(c.TemplateID), nullableStr(c.JoinToken),
		nullableTimePtr(c.TokenExpiresAt), boolToInt(c.TokenNeverExpires), c.PoolSize, string(c.DeploymentMethod),
		nullString(c.DeploymentCluster), nullableInt(c.VMIDPrefix),
		boolToInt(c.AutoShutdown.Enabled), c.AutoShutdown.CPUThreshold, c.AutoShutdown.IdleMinutes,
		boolToInt(c.RestrictHours.Enabled), c.RestrictHours.Start, c.RestrictHours.End,
		c.MaxUsageHours, c.CPUCores, c.MemoryMB, formatTime(now),
	)
	if err != nil {
		return models.Class{}, fmt.Errorf("insert class %s: %w", c.Name, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return models.Class{}, err
	}
	c.ID = id
	c.LockVersion = 0
	c.CreatedAt = now
	return c, nil
}

const classSelectCols = `id, name, description, teacher_id, template_id, join_token, token_expires_at, token_never_expires,
	pool_size, deployment_method, deployment_cluster, vmid_prefix,
	auto_shutdown_enabled, auto_shutdown_cpu_threshold, auto_shutdown_idle_minutes,
	restrict_hours_enabled, restrict_hours_start, restrict_hours_end,
	max_usage_hours, cpu_cores, memory_mb, clone_task_id, lock_version, created_at`

func (s *Store) GetClass(ctx context.Context, id int64) (models.Class, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+classSelectCols+` FROM classes WHERE id = ?`, id)
	c, err := scanClass(row)
	if err != nil {
		return models.Class{}, err
	}
	if err := s.loadClassAssociations(ctx, &c); err != nil {
		return models.Class{}, err
	}
	return c, nil
}

func (s *Store) GetClassByJoinToken(ctx context.Context, token string) (models.Class, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+classSelectCols+` FROM classes WHERE join_token = ?`, token)
	c, err := scanClass(row)
	if err != nil {
		return models.Class{}, err
	}
	if err := s.loadClassAssociations(ctx, &c); err != nil {
		return models.Class{}, err
	}
	return c, nil
}

func (s *Store) loadClassAssociations(ctx context.Context, c *models.Class) error {
	rows, err := s.DB.QueryContext(ctx, `SELECT user_id FROM class_enrollments WHERE class_id = ?`, c.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var uid int64
		if err := rows.Scan(&uid); err != nil {
			return err
		}
		c.EnrolledUsers = append(c.EnrolledUsers, uid)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	ownerRows, err := s.DB.QueryContext(ctx, `SELECT user_id FROM class_co_owners WHERE class_id = ?`, c.ID)
	if err != nil {
		return err
	}
	defer ownerRows.Close()
	for ownerRows.Next() {
		var uid int64
		if err := ownerRows.Scan(&uid); err != nil {
			return err
		}
		c.CoOwnerIDs = append(c.CoOwnerIDs, uid)
	}
	return ownerRows.Err()
}

func scanClass(row *sql.Row) (models.Class, error) {
	var c models.Class
	var description, deploymentCluster, cloneTaskID sql.NullString
	var joinToken, tokenExpiresAt sql.NullString
	var templateID, vmidPrefix sql.NullInt64
	var deploymentMethod string
	var tokenNeverExpires, autoShutdownEnabled, restrictHoursEnabled int
	var restrictStart, restrictEnd int
	var createdAt string

	err := row.Scan(&c.ID, &c.Name, &description, &c.TeacherID, &templateID, &joinToken, &tokenExpiresAt, &tokenNeverExpires,
		&c.PoolSize, &deploymentMethod, &deploymentCluster, &vmidPrefix,
		&autoShutdownEnabled, &c.AutoShutdown.CPUThreshold, &c.AutoShutdown.IdleMinutes,
		&restrictHoursEnabled, &restrictStart, &restrictEnd,
		&c.MaxUsageHours, &c.CPUCores, &c.MemoryMB, &cloneTaskID, &c.LockVersion, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Class{}, apierr.NotFoundf("class not found")
		}
		return models.Class{}, err
	}

	c.Description = description.String
	c.DeploymentMethod = models.DeploymentMethod(deploymentMethod)
	c.DeploymentCluster = deploymentCluster.String
	c.TokenNeverExpires = tokenNeverExpires != 0
	c.AutoShutdown.Enabled = autoShutdownEnabled != 0
	c.RestrictHours.Enabled = restrictHoursEnabled != 0
	c.RestrictHours.Start = restrictStart
	c.RestrictHours.End = restrictEnd
	c.CloneTaskID = cloneTaskID.String
	if joinToken.Valid {
		t := joinToken.String
		c.JoinToken = &t
	}
	if templateID.Valid {
		c.TemplateID = &templateID.Int64
	}
	if vmidPrefix.Valid {
		v := int(vmidPrefix.Int64)
		c.VMIDPrefix = &v
	}
	if tokenExpiresAt.Valid {
		t, err := parseTime(tokenExpiresAt.String)
		if err != nil {
			return models.Class{}, err
		}
		c.TokenExpiresAt = &t
	}
	t, err := parseTime(createdAt)
	if err != nil {
		return models.Class{}, err
	}
	c.CreatedAt = t
	return c, nil
}

// UpdateClassSettings applies a settings mutation under the class's
// optimistic lock: the caller supplies the lock_version it read, and the
// update only takes effect if that version still matches. A commit that
// matches zero rows means someone else updated the class first. Callers
// should additionally hold the class's pessimistic lock (WithClassLock)
// so a settings commit can't interleave with a batch deploy reading the
// same row's vmid_prefix/deployment fields.
func (s *Store) UpdateClassSettings(ctx context.Context, tx *sql.Tx, c models.Class) error {
	exec := s.DB.ExecContext
	if tx != nil {
		exec = tx.ExecContext
	}
	res, err := exec(ctx, `UPDATE classes SET
		name = ?, description = ?, template_id = ?, pool_size = ?, deployment_method = ?, deployment_cluster = ?,
		vmid_prefix = ?, auto_shutdown_enabled = ?, auto_shutdown_cpu_threshold = ?, auto_shutdown_idle_minutes = ?,
		restrict_hours_enabled = ?, restrict_hours_start = ?, restrict_hours_end = ?,
		max_usage_hours = ?, cpu_cores = ?, memory_mb = ?, lock_version = lock_version + 1
		WHERE id = ? AND lock_version = ?`,
		c.Name, nullString(c.Description), nullableID(c.TemplateID), c.PoolSize, string(c.DeploymentMethod), nullString(c.DeploymentCluster),
		nullableInt(c.VMIDPrefix), boolToInt(c.AutoShutdown.Enabled), c.AutoShutdown.CPUThreshold, c.AutoShutdown.IdleMinutes,
		boolToInt(c.RestrictHours.Enabled), c.RestrictHours.Start, c.RestrictHours.End,
		c.MaxUsageHours, c.CPUCores, c.MemoryMB,
		c.ID, c.LockVersion,
	)
	if err != nil {
		return fmt.Errorf("update class %d: %w", c.ID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return apierr.OptimisticLockConflictf("class %d was modified concurrently (lock_version %d stale)", c.ID, c.LockVersion)
	}
	return nil
}

// SetJoinToken rotates a class's join token without checking the caller's
// lock_version. It still increments lock_version, so a settings update
// made with a version read before the rotation fails with a conflict.
func (s *Store) SetJoinToken(ctx context.Context, classID int64, token string, expiresAt *time.Time, neverExpires bool) error {
	_, err := s.DB.ExecContext(ctx, `UPDATE classes SET join_token = ?, token_expires_at = ?, token_never_expires = ?, lock_version = lock_version + 1 WHERE id = ?`,
		token, nullableTimePtr(expiresAt), boolToInt(neverExpires), classID)
	return err
}

func (s *Store) SetCloneTaskID(ctx context.Context, tx *sql.Tx, classID int64, taskID string) error {
	exec := s.DB.ExecContext
	if tx != nil {
		exec = tx.ExecContext
	}
	_, err := exec(ctx, `UPDATE classes SET clone_task_id = ? WHERE id = ?`, nullString(taskID), classID)
	return err
}

// AddEnrollment adds a user to a class's roster if not already present,
// reporting whether a new row was inserted (false means idempotent no-op).
func (s *Store) AddEnrollment(ctx context.Context, tx *sql.Tx, classID, userID int64) (bool, error) {
	exec := s.DB.ExecContext
	queryRow := s.DB.QueryRowContext
	if tx != nil {
		exec = tx.ExecContext
		queryRow = tx.QueryRowContext
	}
	var existing int
	err := queryRow(ctx, `SELECT 1 FROM class_enrollments WHERE class_id = ? AND user_id = ?`, classID, userID).Scan(&existing)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return false, err
	}
	_, err = exec(ctx, `INSERT INTO class_enrollments (class_id, user_id, created_at) VALUES (?, ?, ?)`,
		classID, userID, formatTime(time.Now().UTC()))
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) ListClassesForTeacher(ctx context.Context, teacherID int64) ([]models.Class, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT id FROM classes WHERE teacher_id = ? OR id IN (SELECT class_id FROM class_co_owners WHERE user_id = ?)`, teacherID, teacherID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	out := make([]models.Class, 0, len(ids))
	for _, id := range ids {
		c, err := s.GetClass(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// ListAllClasses returns every class, for the admin-scope API listing.
func (s *Store) ListAllClasses(ctx context.Context) ([]models.Class, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT id FROM classes ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	out := make([]models.Class, 0, len(ids))
	for _, id := range ids {
		c, err := s.GetClass(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// ListClassesForStudent returns the classes a student is enrolled in.
func (s *Store) ListClassesForStudent(ctx context.Context, userID int64) ([]models.Class, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT class_id FROM class_enrollments WHERE user_id = ?`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	out := make([]models.Class, 0, len(ids))
	for _, id := range ids {
		c, err := s.GetClass(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableID(id *int64) interface{} {
	if id == nil {
		return nil
	}
	return *id
}

func nullableInt(v *int) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func nullableStr(v *string) interface{} {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

func nullableTimePtr(t *time.Time) interface{} {
	if t == nil || t.IsZero() {
		return nil
	}
	return formatTime(*t)
}
