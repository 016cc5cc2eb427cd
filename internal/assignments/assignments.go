// Package assignments is the Assignment & Pool Policy component (C8):
// it enforces the invariants over the assignment graph that the schema
// itself can't (unique proxmox_vmid, orphan vs. pool-member vs.
// builder-VM distinctions) and drives orphan cleanup and VMID recovery.
package assignments

import (
	"context"
	"fmt"

	"github.com/rcourtman/vmlab-orchestrator/internal/models"
	"github.com/rcourtman/vmlab-orchestrator/internal/store"
)

type Manager struct {
	store *store.Store
}

func New(st *store.Store) *Manager {
	return &Manager{store: st}
}

// CleanupOrphans deletes every assignment with neither an owning class
// nor an assigned user — pool members and builder VMs are never touched
// because they always carry one of the two.
func (m *Manager) CleanupOrphans(ctx context.Context) (int, error) {
	orphans, err := m.store.ListOrphans(ctx)
	if err != nil {
		return 0, err
	}
	deleted := 0
	for _, a := range orphans {
		if !a.IsOrphan() {
			continue
		}
		if err := m.store.DeleteAssignment(ctx, nil, a.ID); err != nil {
			return deleted, err
		}
		deleted++
	}
	return deleted, nil
}

// RecoveryCandidate is a live cluster VM that looks like it belongs to
// classID but has no VMAssignment row, surfaced to an admin for
// confirmation before being adopted.
type RecoveryCandidate struct {
	VMID int
	Name string
	Node string
}

// ClassVMIDPrefix returns the zero-padded two-digit prefix the recovery
// scan matches decimal VMIDs against.
func ClassVMIDPrefix(classID int64) string {
	return fmt.Sprintf("%02d", classID%100)
}

// FindRecoveryCandidates scans live inventory for VMIDs whose decimal
// prefix matches the class's zero-padded ID and whose length is at
// least 5, excluding VMIDs already tracked in vm_assignments.
func (m *Manager) FindRecoveryCandidates(ctx context.Context, classID int64, clusterID string, live []models.VMInventory) ([]RecoveryCandidate, error) {
	prefix := ClassVMIDPrefix(classID)
	existing, err := m.store.ListAssignmentsForClass(ctx, classID)
	if err != nil {
		return nil, err
	}
	tracked := make(map[int]bool, len(existing))
	for _, a := range existing {
		tracked[a.ProxmoxVMID] = true
	}

	var candidates []RecoveryCandidate
	for _, v := range live {
		if v.ClusterID != clusterID || tracked[v.VMID] {
			continue
		}
		s := fmt.Sprintf("%d", v.VMID)
		if len(s) >= 5 && len(s) >= len(prefix) && s[:len(prefix)] == prefix {
			candidates = append(candidates, RecoveryCandidate{VMID: v.VMID, Name: v.Name, Node: v.Node})
		}
	}
	return candidates, nil
}

// AdoptRecovered records admin-confirmed recovery candidates as
// VMAssignment rows under the target class, reusing rather than
// duplicating a row if one for the VMID already exists.
func (m *Manager) AdoptRecovered(ctx context.Context, classID int64, candidates []RecoveryCandidate) (int, error) {
	adopted := 0
	for _, c := range candidates {
		if _, err := m.store.GetAssignmentByVMID(ctx, c.VMID); err == nil {
			continue // already tracked
		}
		_, err := m.store.CreateAssignment(ctx, nil, models.VMAssignment{
			ClassID: &classID, ProxmoxVMID: c.VMID, VMName: c.Name, Node: c.Node,
			Status: models.StatusAvailable, ManuallyAdded: true,
		})
		if err != nil {
			return adopted, err
		}
		adopted++
	}
	return adopted, nil
}
