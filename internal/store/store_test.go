package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcourtman/vmlab-orchestrator/internal/apierr"
	"github.com/rcourtman/vmlab-orchestrator/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:", 0)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateAndGetClass(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	teacher, err := s.CreateUser(ctx, models.User{Username: "ms_jones", PasswordHash: "x", Role: models.RoleTeacher})
	require.NoError(t, err)

	c, err := s.CreateClass(ctx, models.Class{
		Name:             "Intro Networking",
		TeacherID:        teacher.ID,
		DeploymentMethod: models.DeploymentLinkedClone,
		CPUCores:         2,
		MemoryMB:         2048,
	})
	require.NoError(t, err)
	assert.Equal(t, 0, c.LockVersion)

	got, err := s.GetClass(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "Intro Networking", got.Name)
	assert.Equal(t, models.DeploymentLinkedClone, got.DeploymentMethod)
}

func TestUpdateClassSettingsOptimisticLockConflict(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	teacher, err := s.CreateUser(ctx, models.User{Username: "t1", PasswordHash: "x", Role: models.RoleTeacher})
	require.NoError(t, err)
	c, err := s.CreateClass(ctx, models.Class{Name: "C1", TeacherID: teacher.ID, DeploymentMethod: models.DeploymentLinkedClone})
	require.NoError(t, err)

	c.Name = "C1 renamed"
	require.NoError(t, s.UpdateClassSettings(ctx, nil, c))

	// c.LockVersion is now stale (server-side version incremented).
	c.Name = "C1 renamed again"
	err = s.UpdateClassSettings(ctx, nil, c)
	require.Error(t, err)
	apiErr, ok := apierr.As(err)
	require.True(t, ok)
	assert.Equal(t, apierr.OptimisticLockConflict, apiErr.Kind)
}

func TestUpsertVMPreservesKnownIPOverPlaceholder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertVM(ctx, models.VMInventory{
		ClusterID: "prod", VMID: 101, Name: "student-1", Node: "pve1", Status: "running",
		Type: models.GuestQemu, IP: "10.0.0.5",
	}))

	require.NoError(t, s.UpsertVM(ctx, models.VMInventory{
		ClusterID: "prod", VMID: 101, Name: "student-1", Node: "pve1", Status: "running",
		Type: models.GuestQemu, IP: "",
	}))

	v, ok, err := s.GetVM(ctx, "prod", 101)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "10.0.0.5", v.IP)
}

func TestClaimAssignmentIsAtomic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	teacher, err := s.CreateUser(ctx, models.User{Username: "t2", PasswordHash: "x", Role: models.RoleTeacher})
	require.NoError(t, err)
	c, err := s.CreateClass(ctx, models.Class{Name: "C2", TeacherID: teacher.ID, DeploymentMethod: models.DeploymentLinkedClone})
	require.NoError(t, err)

	a, err := s.CreateAssignment(ctx, nil, models.VMAssignment{
		ClassID: &c.ID, ProxmoxVMID: 500, VMName: "c2-student-1-500", Node: "pve1", Status: models.StatusAvailable,
	})
	require.NoError(t, err)

	student, err := s.CreateUser(ctx, models.User{Username: "s1", PasswordHash: "x", Role: models.RoleStudent})
	require.NoError(t, err)

	require.NoError(t, s.ClaimAssignment(ctx, nil, a.ID, student.ID))

	// Second claim against the same already-assigned row must fail.
	other, err := s.CreateUser(ctx, models.User{Username: "s2", PasswordHash: "x", Role: models.RoleStudent})
	require.NoError(t, err)
	err = s.ClaimAssignment(ctx, nil, a.ID, other.ID)
	require.Error(t, err)
}

func TestListVMsSearchWildcard(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertVM(ctx, models.VMInventory{ClusterID: "prod", VMID: 1, Name: "win-student-01", Node: "pve1", Status: "running", Type: models.GuestQemu}))
	require.NoError(t, s.UpsertVM(ctx, models.VMInventory{ClusterID: "prod", VMID: 2, Name: "linux-student-01", Node: "pve1", Status: "running", Type: models.GuestLXC}))

	vms, err := s.ListVMs(ctx, "prod", "win-*", nil)
	require.NoError(t, err)
	require.Len(t, vms, 1)
	assert.Equal(t, "win-student-01", vms[0].Name)
}
