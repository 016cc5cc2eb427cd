package classes

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

func TestNewJoinTokenIsUnique(t *testing.T) {
	a, err := NewJoinToken()
	require.NoError(t, err)
	b, err := NewJoinToken()
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
	assert.NotEmpty(t, a)
}

func TestJoinViaTokenClaimsPoolVM(t *testing.T) {
	m, st := newTestManager(t)
	ctx := context.Background()

	teacher, err := st.CreateUser(ctx, models.User{Username: "t", PasswordHash: "x", Role: models.RoleTeacher})
	require.NoError(t, err)
	class, err := m.CreateClass(ctx, models.Class{Name: "CS101", TeacherID: teacher.ID, DeploymentMethod: models.DeploymentLinkedClone})
	require.NoError(t, err)

	token, err := m.IssueJoinToken(ctx, class.ID, 0)
	require.NoError(t, err)

	_, err = st.CreateAssignment(ctx, nil, models.VMAssignment{
		ClassID: &class.ID, ProxmoxVMID: 501, VMName: "cs101-student-1-501", Node: "pve1", Status: models.StatusAvailable,
	})
	require.NoError(t, err)
	_, err = st.CreateAssignment(ctx, nil, models.VMAssignment{
		ClassID: &class.ID, ProxmoxVMID: 502, VMName: "cs101-student-2-502", Node: "pve1", Status: models.StatusAvailable,
	})
	require.NoError(t, err)

	student, err := st.CreateUser(ctx, models.User{Username: "s1", PasswordHash: "x", Role: models.RoleStudent})
	require.NoError(t, err)

	result, err := m.JoinViaToken(ctx, token, student.ID)
	require.NoError(t, err)
	assert.False(t, result.AlreadyEnrolled)
	assert.Equal(t, 501, result.AssignedVMID)

	// Joining again is idempotent: the second pool VM (502) must stay
	// untouched rather than being handed out as a duplicate claim.
	result2, err := m.JoinViaToken(ctx, token, student.ID)
	require.NoError(t, err)
	assert.True(t, result2.AlreadyEnrolled)
	assert.Zero(t, result2.AssignedVMID)

	vm502, err := st.GetAssignmentByVMID(ctx, 502)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAvailable, vm502.Status)
	assert.Nil(t, vm502.AssignedUserID)
}

func TestJoinViaTokenInvalidToken(t *testing.T) {
	m, _ := newTestManager(t)
	_, err := m.JoinViaToken(context.Background(), "not-a-real-token", 1)
	require.Error(t, err)
}
