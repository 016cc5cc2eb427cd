package deploy

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rcourtman/vmlab-orchestrator/internal/proxmoxclient"
)

func TestSanitizeVMName(t *testing.T) {
	assert.Equal(t, "intro-to-networking", SanitizeVMName("Intro to Networking!!"))
	assert.Equal(t, "a-b-c", SanitizeVMName("A__B__C"))
	assert.Equal(t, "vm", SanitizeVMName("***"))
}

func TestStudentVMName(t *testing.T) {
	assert.Equal(t, "cs101-student-3-500", StudentVMName("CS101", 3, 500))
}

func TestStartingVMID(t *testing.T) {
	prefix := 12
	assert.Equal(t, 1200, StartingVMID(&prefix, 100))
	assert.Equal(t, 100, StartingVMID(nil, 100))
}

func TestAllocateVMID(t *testing.T) {
	resources := []proxmoxclient.ClusterResource{{VMID: 100}, {VMID: 101}, {VMID: 103}}
	assert.Equal(t, 102, AllocateVMID(resources, 100))
	assert.Equal(t, 104, AllocateVMID(resources, 104))
}

func TestLoadBalancerPicksLeastLoaded(t *testing.T) {
	lb := newLoadBalancer([]string{"pve1", "pve2", "pve3"}, map[string]int{"pve1": 5, "pve2": 1, "pve3": 3})
	assert.Equal(t, "pve2", lb.next())
	assert.Equal(t, "pve3", lb.next())
}

func TestDiskStorageFromConfig(t *testing.T) {
	assert.Equal(t, "local-lvm", diskStorageFromConfig(map[string]any{"scsi0": "local-lvm:vm-100-disk-0,size=32G"}))
	assert.Equal(t, "", diskStorageFromConfig(map[string]any{}))
}

func TestNewCloneTaskIDIsUniqueULIDString(t *testing.T) {
	a := newCloneTaskID()
	b := newCloneTaskID()
	assert.Len(t, a, 26)
	assert.NotEqual(t, a, b)
}
