package assignments

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcourtman/vmlab-orchestrator/internal/models"
	"github.com/rcourtman/vmlab-orchestrator/internal/store"
)

func newTestManager(t *testing.T) (*Manager, *store.Store) {
	t.Helper()
	st, err := store.Open(":memory:", 0)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return New(st), st
}

func TestClassVMIDPrefix(t *testing.T) {
	assert.Equal(t, "05", ClassVMIDPrefix(5))
	assert.Equal(t, "42", ClassVMIDPrefix(42))
}

func TestCleanupOrphansOnlyRemovesOrphans(t *testing.T) {
	m, st := newTestManager(t)
	ctx := context.Background()

	teacher, err := st.CreateUser(ctx, models.User{Username: "t", PasswordHash: "x", Role: models.RoleTeacher})
	require.NoError(t, err)
	class, err := st.CreateClass(ctx, models.Class{Name: "C1", TeacherID: teacher.ID, DeploymentMethod: models.DeploymentLinkedClone})
	require.NoError(t, err)

	// Pool member: has class_id, no assigned user - must survive.
	_, err = st.CreateAssignment(ctx, nil, models.VMAssignment{ClassID: &class.ID, ProxmoxVMID: 100, VMName: "pool-vm", Node: "pve1", Status: models.StatusAvailable})
	require.NoError(t, err)

	// Orphan: neither - must be deleted.
	_, err = st.CreateAssignment(ctx, nil, models.VMAssignment{ProxmoxVMID: 200, VMName: "orphan-vm", Node: "pve1", Status: models.StatusAvailable})
	require.NoError(t, err)

	deleted, err := m.CleanupOrphans(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	_, err = st.GetAssignmentByVMID(ctx, 100)
	assert.NoError(t, err)
	_, err = st.GetAssignmentByVMID(ctx, 200)
	assert.Error(t, err)
}

func TestFindRecoveryCandidatesMatchesPrefix(t *testing.T) {
	m, _ := newTestManager(t)
	live := []models.VMInventory{
		{ClusterID: "prod", VMID: 12001, Name: "recovered-1", Node: "pve1"},
		{ClusterID: "prod", VMID: 9999, Name: "unrelated", Node: "pve1"},
	}
	candidates, err := m.FindRecoveryCandidates(context.Background(), 12, "prod", live)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, 12001, candidates[0].VMID)
}
