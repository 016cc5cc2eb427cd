package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRoleValid(t *testing.T) {
	assert.True(t, RoleAdmin.Valid())
	assert.True(t, RoleTeacher.Valid())
	assert.True(t, RoleStudent.Valid())
	assert.False(t, Role("superuser").Valid())
}

func TestClassIsTokenValid(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	future := now.Add(time.Hour)
	past := now.Add(-time.Hour)
	token := "abc123"
	empty := ""

	cases := []struct {
		name  string
		class Class
		want  bool
	}{
		{"no token", Class{}, false},
		{"empty token", Class{JoinToken: &empty}, false},
		{"never expires", Class{JoinToken: &token, TokenNeverExpires: true}, true},
		{"expires in future", Class{JoinToken: &token, TokenExpiresAt: &future}, true},
		{"expired", Class{JoinToken: &token, TokenExpiresAt: &past}, false},
		{"no expiry and not never-expiring", Class{JoinToken: &token}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.class.IsTokenValid(now))
		})
	}
}

func TestVMAssignmentIsPoolMember(t *testing.T) {
	classID := int64(7)
	userID := int64(1)

	assert.True(t, (&VMAssignment{ClassID: &classID, Status: StatusAvailable}).IsPoolMember(classID))
	assert.False(t, (&VMAssignment{ClassID: &classID, Status: StatusAvailable}).IsPoolMember(99))
	assert.False(t, (&VMAssignment{ClassID: &classID, AssignedUserID: &userID, Status: StatusAvailable}).IsPoolMember(classID))
	assert.False(t, (&VMAssignment{ClassID: &classID, Status: StatusAssigned}).IsPoolMember(classID))
}

func TestVMAssignmentIsBuilderVM(t *testing.T) {
	classID := int64(7)
	userID := int64(1)

	assert.True(t, (&VMAssignment{AssignedUserID: &userID}).IsBuilderVM())
	assert.False(t, (&VMAssignment{ClassID: &classID, AssignedUserID: &userID}).IsBuilderVM())
	assert.False(t, (&VMAssignment{AssignedUserID: &userID, IsTemplateVM: true}).IsBuilderVM())
	assert.False(t, (&VMAssignment{}).IsBuilderVM())
}

func TestVMAssignmentIsOrphan(t *testing.T) {
	classID := int64(7)
	userID := int64(1)

	assert.True(t, (&VMAssignment{}).IsOrphan())
	assert.False(t, (&VMAssignment{ClassID: &classID}).IsOrphan())
	assert.False(t, (&VMAssignment{AssignedUserID: &userID}).IsOrphan())
}

func TestIsPlaceholderIP(t *testing.T) {
	assert.True(t, IsPlaceholderIP(""))
	assert.True(t, IsPlaceholderIP("N/A"))
	assert.True(t, IsPlaceholderIP("Fetching..."))
	assert.False(t, IsPlaceholderIP("10.0.0.5"))
}
