// Package sync is the Sync Orchestrator (C5): a single long-running
// loop that wakes every 60s and evaluates six scheduled tasks (VM full
// sync, VM quick sync, template full sync/verify, ISO full sync/verify)
// against every configured cluster, each on its own cadence.
//
// The run loop follows a simple background-poller shape: wake, iterate
// clusters, sleep.
package sync

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/rcourtman/vmlab-orchestrator/internal/config"
	"github.com/rcourtman/vmlab-orchestrator/internal/ipresolver"
	"github.com/rcourtman/vmlab-orchestrator/internal/models"
	"github.com/rcourtman/vmlab-orchestrator/internal/proxmoxclient"
	"github.com/rcourtman/vmlab-orchestrator/internal/store"
)

const (
	vmFullSyncInterval      = 600 * time.Second
	vmQuickSyncInterval     = 120 * time.Second
	templateFullInterval    = 1800 * time.Second
	templateVerifyInterval  = 300 * time.Second
	isoFullInterval         = 1800 * time.Second
	isoVerifyInterval       = 300 * time.Second
	wakeInterval            = 60 * time.Second
	backoffCap              = 300 * time.Second
	quickSyncMaxVMs         = 50
)

// expectedFailureMarkers are substrings of errors from known-offline
// nodes; these are logged at debug and excluded from the backoff counter.
var expectedFailureMarkers = []string{"hostname lookup", "No route to host", "595 Errors"}

func isExpectedFailure(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, marker := range expectedFailureMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// Orchestrator owns the sync loop's state: per-task last-run timestamps,
// the backoff counter, and a trigger channel for on-demand full syncs.
type Orchestrator struct {
	clusters *config.ClusterStore
	registry *proxmoxclient.Registry
	store    *store.Store
	resolver *ipresolver.Resolver

	mu          sync.Mutex
	lastRun     map[string]time.Time
	backoff     time.Duration
	triggerCh   chan struct{}
	triggering  bool
}

func New(clusters *config.ClusterStore, registry *proxmoxclient.Registry, st *store.Store, resolver *ipresolver.Resolver) *Orchestrator {
	return &Orchestrator{
		clusters:  clusters,
		registry:  registry,
		store:     st,
		resolver:  resolver,
		lastRun:   make(map[string]time.Time),
		triggerCh: make(chan struct{}, 1),
	}
}

// TriggerImmediate submits one full-sync iteration on demand. A call made
// while another is already queued is absorbed; a call made while an
// iteration is running is not, and queues one more iteration after it.
func (o *Orchestrator) TriggerImmediate() {
	select {
	case o.triggerCh <- struct{}{}:
	default:
	}
}

// Run blocks until ctx is cancelled, executing the wake loop.
func (o *Orchestrator) Run(ctx context.Context) {
	ticker := time.NewTicker(wakeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-o.triggerCh:
			o.runIteration(ctx, true)
		case <-ticker.C:
			o.runIteration(ctx, false)
		}
	}
}

func (o *Orchestrator) due(task string, interval time.Duration, now time.Time) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	last, ok := o.lastRun[task]
	if !ok || now.Sub(last) >= interval {
		o.lastRun[task] = now
		return true
	}
	return false
}

func (o *Orchestrator) runIteration(ctx context.Context, forceFullSync bool) {
	now := time.Now()
	var iterationErr error

	clusters := o.clusters.List()
	for _, cluster := range clusters {
		if !cluster.IsActive {
			continue
		}

		if forceFullSync || o.due("vm_full:"+cluster.ClusterID, vmFullSyncInterval, now) {
			if err := o.vmFullSync(ctx, cluster); err != nil && !isExpectedFailure(err) {
				iterationErr = err
				log.Warn().Err(err).Str("cluster", cluster.ClusterID).Msg("vm full sync failed")
			} else if err != nil {
				log.Debug().Err(err).Str("cluster", cluster.ClusterID).Msg("vm full sync: known-offline node")
			}
		}
		if o.due("vm_quick:"+cluster.ClusterID, vmQuickSyncInterval, now) {
			if err := o.vmQuickSync(ctx, cluster); err != nil && !isExpectedFailure(err) {
				iterationErr = err
			}
		}
		if o.due("tmpl_full:"+cluster.ClusterID, templateFullInterval, now) {
			if err := o.templateFullSync(ctx, cluster); err != nil && !isExpectedFailure(err) {
				iterationErr = err
			}
		}
		if o.due("tmpl_verify:"+cluster.ClusterID, templateVerifyInterval, now) {
			if err := o.templateVerify(ctx, cluster); err != nil && !isExpectedFailure(err) {
				iterationErr = err
			}
		}
		if o.due("iso_full:"+cluster.ClusterID, isoFullInterval, now) {
			if err := o.isoFullSync(ctx, cluster); err != nil && !isExpectedFailure(err) {
				iterationErr = err
			}
		}
		if o.due("iso_verify:"+cluster.ClusterID, isoVerifyInterval, now) {
			if err := o.isoVerify(ctx, cluster); err != nil && !isExpectedFailure(err) {
				iterationErr = err
			}
		}
	}

	o.mu.Lock()
	if iterationErr != nil {
		if o.backoff == 0 {
			o.backoff = time.Second
		} else {
			o.backoff *= 2
			if o.backoff > backoffCap {
				o.backoff = backoffCap
			}
		}
	} else {
		o.backoff = 0
	}
	backoff := o.backoff
	o.mu.Unlock()

	if backoff > 0 {
		select {
		case <-ctx.Done():
		case <-time.After(backoff):
		}
	}
}

func (o *Orchestrator) vmFullSync(ctx context.Context, cluster models.Cluster) error {
	resources, err := o.registry.CachedClusterResources(ctx, cluster)
	if err != nil {
		client, clientErr := o.registry.Get(ctx, cluster)
		if clientErr != nil {
			return clientErr
		}
		resources, err = o.perNodeEnumerate(ctx, client)
		if err != nil {
			return err
		}
	}

	live := make(map[int]bool, len(resources))
	for _, r := range resources {
		if r.Template == 1 {
			continue
		}
		live[r.VMID] = true

		inv := models.VMInventory{
			ClusterID:     cluster.ClusterID,
			VMID:          r.VMID,
			Name:          r.Name,
			Node:          r.Node,
			Status:        r.Status,
			Type:          models.GuestType(r.Type),
			MemoryMB:      r.MaxMem / (1024 * 1024),
			UptimeSeconds: r.Uptime,
			CPUUsage:      r.CPU * 100,
			Tags:          r.Tags,
			LastStatusCheck: time.Now(),
		}
		if cluster.EnableIPLookup {
			o.resolveAndAttachIP(ctx, cluster, &inv)
		}
		inv.RDPAvailable = ipresolver.RDPAvailable(inv.Status, inv.Category, inv.IP, o.resolver != nil && o.resolver.ProbeRDP(inv.IP))

		if err := o.store.UpsertVM(ctx, inv); err != nil {
			log.Warn().Err(err).Int("vmid", r.VMID).Msg("upsert inventory failed")
			continue
		}
		if err := o.store.UpdateAssignmentNode(ctx, r.VMID, r.Node); err != nil {
			log.Debug().Err(err).Int("vmid", r.VMID).Msg("no assignment row to update node for")
		}
	}

	if _, err := o.store.DeleteVMsNotIn(ctx, cluster.ClusterID, live); err != nil {
		return err
	}
	return nil
}

func (o *Orchestrator) resolveAndAttachIP(ctx context.Context, cluster models.Cluster, inv *models.VMInventory) {
	if o.resolver == nil {
		return
	}
	var ip string
	var err error
	if inv.Type == models.GuestLXC {
		ip, err = o.resolver.ResolveGuestLXC(ctx, cluster, inv.Node, inv.VMID)
	} else {
		ip, err = o.resolver.ResolveGuestQemu(ctx, cluster, inv.Node, inv.VMID)
	}
	if err != nil || ip == "" {
		return
	}
	inv.IP = ip
}

func (o *Orchestrator) perNodeEnumerate(ctx context.Context, client *proxmoxclient.Client) ([]proxmoxclient.ClusterResource, error) {
	nodes, err := client.Nodes(ctx)
	if err != nil {
		return nil, err
	}
	var out []proxmoxclient.ClusterResource
	for _, n := range nodes {
		for _, gt := range []models.GuestType{models.GuestQemu, models.GuestLXC} {
			guests, err := client.NodeGuests(ctx, n.Node, gt)
			if err != nil {
				log.Debug().Err(err).Str("node", n.Node).Msg("per-node enumeration failed")
				continue
			}
			for _, g := range guests {
				out = append(out, proxmoxclient.ClusterResource{
					Type: string(gt), VMID: g.VMID, Node: n.Node, Name: g.Name, Status: g.Status,
					Template: g.Template, MaxMem: g.MaxMem, CPU: g.CPU, Mem: g.Mem,
				})
			}
		}
	}
	return out, nil
}

func (o *Orchestrator) vmQuickSync(ctx context.Context, cluster models.Cluster) error {
	client, err := o.registry.Get(ctx, cluster)
	if err != nil {
		return err
	}
	running, err := o.store.ListRunningVMs(ctx, quickSyncMaxVMs)
	if err != nil {
		return err
	}
	for _, v := range running {
		if v.ClusterID != cluster.ClusterID {
			continue
		}
		status, err := client.VMStatus(ctx, v.Node, v.Type, v.VMID)
		if err != nil {
			continue
		}
		if err := o.store.UpdateVMStatus(ctx, cluster.ClusterID, v.VMID, status.Status, status.CPU*100, 0, status.Uptime); err != nil {
			log.Debug().Err(err).Int("vmid", v.VMID).Msg("quick sync status update failed")
		}
	}
	return nil
}

func (o *Orchestrator) templateFullSync(ctx context.Context, cluster models.Cluster) error {
	resources, err := o.registry.CachedClusterResources(ctx, cluster)
	if err != nil {
		return err
	}
	client, err := o.registry.Get(ctx, cluster)
	if err != nil {
		return err
	}

	live := make(map[int]bool)
	for _, r := range resources {
		if r.Template != 1 || r.Type != string(models.GuestQemu) {
			continue
		}
		live[r.VMID] = true

		cfg, err := client.VMConfig(ctx, r.Node, models.GuestQemu, r.VMID)
		if err != nil {
			continue
		}
		t := models.Template{
			Name:        r.Name,
			ProxmoxVMID: r.VMID,
			ClusterHost: cluster.Host,
			Node:        r.Node,
			CachedSpecs: specsFromConfig(cfg.Raw),
		}
		if _, err := o.store.UpsertTemplate(ctx, nil, t); err != nil {
			log.Warn().Err(err).Int("vmid", r.VMID).Msg("upsert template failed")
		}
	}
	_, err = o.store.DeleteTemplatesNotIn(ctx, cluster.Host, live)
	return err
}

func specsFromConfig(raw map[string]any) models.CachedSpecs {
	var specs models.CachedSpecs
	if v, ok := raw["cores"].(float64); ok {
		specs.Cores = int(v)
	}
	if v, ok := raw["sockets"].(float64); ok {
		specs.Sockets = int(v)
	}
	if v, ok := raw["memory"].(float64); ok {
		specs.MemoryMB = int(v)
	}
	if v, ok := raw["ostype"].(string); ok {
		specs.OSType = v
	}
	return specs
}

func (o *Orchestrator) templateVerify(ctx context.Context, cluster models.Cluster) error {
	templates, err := o.store.ListTemplates(ctx)
	if err != nil {
		return err
	}
	now := time.Now()
	for _, t := range templates {
		if t.ClusterHost != cluster.Host {
			continue
		}
		if err := o.store.TouchTemplateVerified(ctx, t.ID, now); err != nil {
			log.Debug().Err(err).Int64("template_id", t.ID).Msg("touch verified failed")
		}
	}
	return nil
}

func (o *Orchestrator) isoFullSync(ctx context.Context, cluster models.Cluster) error {
	if !cluster.AllowISOSync {
		return nil
	}
	client, err := o.registry.Get(ctx, cluster)
	if err != nil {
		return err
	}
	nodes, err := client.Nodes(ctx)
	if err != nil {
		return err
	}
	seen := make(map[string]bool)
	for _, n := range nodes {
		storages, err := client.NodeStorage(ctx, n.Node)
		if err != nil {
			continue
		}
		for _, s := range storages {
			if s.Enabled == 0 || !strings.Contains(s.Content, "iso") {
				continue
			}
			items, err := client.StorageContent(ctx, n.Node, s.Storage, "iso")
			if err != nil {
				continue
			}
			for _, item := range items {
				if seen[item.VolID] {
					continue
				}
				seen[item.VolID] = true
				iso := models.ISOImage{
					VolID: item.VolID, Name: item.VolID, SizeBytes: item.Size,
					Node: n.Node, Storage: s.Storage, ClusterID: cluster.ClusterID,
				}
				if err := o.store.UpsertISO(ctx, iso); err != nil {
					log.Warn().Err(err).Str("volid", item.VolID).Msg("upsert iso failed")
				}
			}
		}
	}
	isos, err := o.store.ListISOs(ctx, cluster.ClusterID)
	if err != nil {
		return err
	}
	for _, iso := range isos {
		if !seen[iso.VolID] {
			if err := o.store.DeleteISO(ctx, iso.VolID); err != nil {
				log.Debug().Err(err).Str("volid", iso.VolID).Msg("delete stale iso failed")
			}
		}
	}
	return nil
}

func (o *Orchestrator) isoVerify(ctx context.Context, cluster models.Cluster) error {
	client, err := o.registry.Get(ctx, cluster)
	if err != nil {
		return err
	}
	isos, err := o.store.ListISOs(ctx, cluster.ClusterID)
	if err != nil {
		return err
	}
	for _, iso := range isos {
		items, err := client.StorageContent(ctx, iso.Node, iso.Storage, "iso")
		if err != nil {
			continue
		}
		found := false
		for _, item := range items {
			if item.VolID == iso.VolID {
				found = true
				break
			}
		}
		if found {
			if err := o.store.TouchISOSeen(ctx, iso.VolID); err != nil {
				log.Debug().Err(err).Str("volid", iso.VolID).Msg("touch iso seen failed")
			}
		} else {
			if err := o.store.DeleteISO(ctx, iso.VolID); err != nil {
				log.Debug().Err(err).Str("volid", iso.VolID).Msg("delete missing iso failed")
			}
		}
	}
	return nil
}
