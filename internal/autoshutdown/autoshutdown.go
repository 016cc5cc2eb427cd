// Package autoshutdown periodically scans every class's assigned VMs for
// idle-CPU shutdown, daily access-window enforcement, and max-usage-hour
// expiry, shutting down and usage-accounting VMs that trip one of the
// three independent policies a class can configure.
//
// The run loop follows the same wake-tick shape as internal/sync's
// orchestrator: a ticker drives one evaluation pass over every active
// class, with per-assignment state (how long a VM has sat below the idle
// CPU threshold) tracked in memory between ticks.
package autoshutdown

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/rcourtman/vmlab-orchestrator/internal/config"
	"github.com/rcourtman/vmlab-orchestrator/internal/models"
	"github.com/rcourtman/vmlab-orchestrator/internal/proxmoxclient"
	"github.com/rcourtman/vmlab-orchestrator/internal/store"
)

const tickInterval = 300 * time.Second

// Manager owns the idle-CPU pending state across ticks.
type Manager struct {
	clusters *config.ClusterStore
	registry *proxmoxclient.Registry
	store    *store.Store

	pendingIdle map[int64]time.Time
}

func New(clusters *config.ClusterStore, registry *proxmoxclient.Registry, st *store.Store) *Manager {
	return &Manager{
		clusters:    clusters,
		registry:    registry,
		store:       st,
		pendingIdle: make(map[int64]time.Time),
	}
}

// Run blocks until ctx is cancelled, evaluating every class on each tick.
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
	classes, err := m.store.ListAllClasses(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("autoshutdown: failed to list classes")
		return
	}
	now := time.Now()
	for _, class := range classes {
		if class.DeploymentCluster == "" {
			continue
		}
		cluster, ok := m.clusters.Get(class.DeploymentCluster)
		if !ok || !cluster.AutoShutdownEnabled {
			continue
		}
		m.evaluateClass(ctx, cluster, class, now)
	}
}

func (m *Manager) evaluateClass(ctx context.Context, cluster models.Cluster, class models.Class, now time.Time) {
	assignments, err := m.store.ListAssignmentsForClass(ctx, class.ID)
	if err != nil {
		log.Warn().Err(err).Int64("class_id", class.ID).Msg("autoshutdown: failed to list assignments")
		return
	}

	outsideWindow := class.RestrictHours.Enabled && !withinRestrictHours(class.RestrictHours, now)

	for _, a := range assignments {
		if a.AssignedUserID == nil || a.Status != models.StatusAssigned {
			continue
		}
		inv, found, err := m.store.GetVM(ctx, cluster.ClusterID, a.ProxmoxVMID)
		if err != nil || !found || inv.Status != "running" {
			continue
		}

		if err := m.store.AddUsageHours(ctx, a.ID, tickInterval.Hours()); err != nil {
			log.Debug().Err(err).Int64("assignment_id", a.ID).Msg("autoshutdown: failed to accrue usage hours")
		}

		switch {
		case outsideWindow:
			m.shutdown(ctx, cluster, inv, a.ID, "outside restrict_hours window")
		case class.MaxUsageHours > 0 && a.UsageHours+tickInterval.Hours() >= float64(class.MaxUsageHours):
			m.shutdown(ctx, cluster, inv, a.ID, "max usage hours reached")
		case class.AutoShutdown.Enabled:
			m.evaluateIdle(ctx, cluster, class, inv, a.ID, now)
		default:
			delete(m.pendingIdle, a.ID)
		}
	}
}

func (m *Manager) evaluateIdle(ctx context.Context, cluster models.Cluster, class models.Class, inv models.VMInventory, assignmentID int64, now time.Time) {
	if idleExceeded(m.pendingIdle, assignmentID, inv.CPUUsage, class.AutoShutdown.CPUThreshold, class.AutoShutdown.IdleMinutes, now) {
		m.shutdown(ctx, cluster, inv, assignmentID, "idle CPU threshold exceeded")
	}
}

// idleExceeded tracks, per assignment, the first moment CPU usage dropped
// below threshold and reports whether it has stayed there for at least
// idleMinutes. A reading at or above threshold clears the pending entry.
func idleExceeded(pending map[int64]time.Time, assignmentID int64, cpuUsage, threshold float64, idleMinutes int, now time.Time) bool {
	if cpuUsage >= threshold {
		delete(pending, assignmentID)
		return false
	}
	since, ok := pending[assignmentID]
	if !ok {
		pending[assignmentID] = now
		return false
	}
	return now.Sub(since) >= time.Duration(idleMinutes)*time.Minute
}

func (m *Manager) shutdown(ctx context.Context, cluster models.Cluster, inv models.VMInventory, assignmentID int64, reason string) {
	client, err := m.registry.Get(ctx, cluster)
	if err != nil {
		log.Warn().Err(err).Str("cluster", cluster.ClusterID).Msg("autoshutdown: failed to get client")
		return
	}
	if _, err := client.ShutdownVM(ctx, inv.Node, inv.Type, inv.VMID); err != nil {
		log.Warn().Err(err).Int("vmid", inv.VMID).Str("reason", reason).Msg("autoshutdown: shutdown request failed")
		return
	}
	log.Info().Int("vmid", inv.VMID).Str("reason", reason).Msg("autoshutdown: shutdown requested")
	delete(m.pendingIdle, assignmentID)
}

// withinRestrictHours reports whether now's local hour falls inside the
// class's allowed daily window. A window where End <= Start wraps past
// midnight (e.g. 20-6 permits 20:00 through 05:59).
func withinRestrictHours(r models.RestrictHours, now time.Time) bool {
	hour := now.Hour()
	if r.End <= r.Start {
		return hour >= r.Start || hour < r.End
	}
	return hour >= r.Start && hour < r.End
}
