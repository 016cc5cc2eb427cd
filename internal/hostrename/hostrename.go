// Package hostrename is the boot-time hostname auto-renamer: once a
// freshly deployed VM is running and has a resolved IP, it uses the
// QEMU guest agent to set the guest's hostname to the name recorded on
// its assignment, with retry/cooldown tracking to avoid hammering a VM
// whose guest agent isn't ready yet.
package hostrename

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/rcourtman/vmlab-orchestrator/internal/config"
	"github.com/rcourtman/vmlab-orchestrator/internal/models"
	"github.com/rcourtman/vmlab-orchestrator/internal/proxmoxclient"
	"github.com/rcourtman/vmlab-orchestrator/internal/store"
)

const (
	tickInterval  = 30 * time.Second
	bootWait      = 45 * time.Second
	maxAttempts   = 3
	retryCooldown = 5 * time.Minute
)

type attemptState struct {
	attempts    int
	lastAttempt time.Time
	firstSeen   time.Time
}

// Manager tracks per-VMID rename attempts across ticks.
type Manager struct {
	clusters *config.ClusterStore
	registry *proxmoxclient.Registry
	store    *store.Store

	attempts map[int]*attemptState
}

func New(clusters *config.ClusterStore, registry *proxmoxclient.Registry, st *store.Store) *Manager {
	return &Manager{
		clusters: clusters,
		registry: registry,
		store:    st,
		attempts: make(map[int]*attemptState),
	}
}

// Run blocks until ctx is cancelled, retrying pending renames each tick.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.evaluateAll(ctx)
		}
	}
}

func (m *Manager) evaluateAll(ctx context.Context) {
	pending, err := m.store.ListPendingHostnameRenames(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("hostrename: failed to list pending renames")
		return
	}
	now := time.Now()
	clusters := m.clusters.List()
	for _, a := range pending {
		if !readyToAttempt(m.attempts, a.ProxmoxVMID, now) {
			continue
		}
		cluster, inv, found := locateRunningVM(ctx, m.store, clusters, a.ProxmoxVMID)
		if !found || inv.Status != "running" || models.IsPlaceholderIP(inv.IP) {
			continue
		}
		m.attemptRename(ctx, cluster, inv, a, now)
	}
}

// readyToAttempt reports whether a VMID is eligible for another rename
// attempt: under the attempt cap, past its boot wait, and past cooldown
// since its last attempt.
func readyToAttempt(attempts map[int]*attemptState, vmid int, now time.Time) bool {
	st, ok := attempts[vmid]
	if !ok {
		attempts[vmid] = &attemptState{firstSeen: now}
		return false // wait for the next tick after boot-wait elapses
	}
	if st.attempts >= maxAttempts {
		return false
	}
	if st.attempts == 0 {
		return now.Sub(st.firstSeen) >= bootWait
	}
	return now.Sub(st.lastAttempt) >= retryCooldown
}

func locateRunningVM(ctx context.Context, st *store.Store, clusters []models.Cluster, vmid int) (models.Cluster, models.VMInventory, bool) {
	for _, c := range clusters {
		inv, found, err := st.GetVM(ctx, c.ClusterID, vmid)
		if err == nil && found {
			return c, inv, true
		}
	}
	return models.Cluster{}, models.VMInventory{}, false
}

func (m *Manager) attemptRename(ctx context.Context, cluster models.Cluster, inv models.VMInventory, a models.VMAssignment, now time.Time) {
	st := m.attempts[a.ProxmoxVMID]
	st.attempts++
	st.lastAttempt = now

	client, err := m.registry.Get(ctx, cluster)
	if err != nil {
		log.Warn().Err(err).Str("cluster", cluster.ClusterID).Msg("hostrename: failed to get client")
		return
	}

	if err := client.GuestExec(ctx, inv.Node, inv.VMID, []string{"echo", "test"}); err != nil {
		log.Debug().Err(err).Int("vmid", inv.VMID).Msg("hostrename: guest agent not ready")
		return
	}

	if err := renameGuest(ctx, client, inv.Node, inv.VMID, a.TargetHostname); err != nil {
		log.Warn().Err(err).Int("vmid", inv.VMID).Str("hostname", a.TargetHostname).Msg("hostrename: rename failed")
		return
	}

	if err := m.store.UpdateAssignmentHostnameConfigured(ctx, a.ID, true); err != nil {
		log.Warn().Err(err).Int64("assignment_id", a.ID).Msg("hostrename: failed to record hostname_configured")
		return
	}
	delete(m.attempts, a.ProxmoxVMID)
	log.Info().Int("vmid", inv.VMID).Str("hostname", a.TargetHostname).Msg("hostrename: guest renamed")
}

// renameGuest issues the guest-exec command sequence for a Linux guest:
// hostnamectl, then /etc/hostname and /etc/hosts so the change survives
// a service that reads either file instead of querying systemd.
func renameGuest(ctx context.Context, client *proxmoxclient.Client, node string, vmid int, hostname string) error {
	if err := client.GuestExec(ctx, node, vmid, []string{"hostnamectl", "set-hostname", hostname}); err != nil {
		return fmt.Errorf("set-hostname: %w", err)
	}
	_ = client.GuestExec(ctx, node, vmid, []string{"bash", "-c", fmt.Sprintf("echo %s > /etc/hostname", hostname)})
	_ = client.GuestExec(ctx, node, vmid, []string{"sed", "-i", fmt.Sprintf(`s/127.0.1.1.*/127.0.1.1\t%s/`, hostname), "/etc/hosts"})
	return nil
}
