// Package deploy is the Deployment Engine (C6): template export,
// linked-clone and config-clone (overlay) student-VM provisioning with
// node load balancing, and the primitive disk/naming operations both
// strategies share.
package deploy

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog/log"

	"github.com/rcourtman/vmlab-orchestrator/internal/apierr"
	"github.com/rcourtman/vmlab-orchestrator/internal/models"
	"github.com/rcourtman/vmlab-orchestrator/internal/proxmoxclient"
	"github.com/rcourtman/vmlab-orchestrator/internal/sshpool"
	"github.com/rcourtman/vmlab-orchestrator/internal/store"
)

const (
	cloneTimeout    = 300 * time.Second
	diskConvTimeout = 600 * time.Second
)

type Engine struct {
	registry *proxmoxclient.Registry
	shell    *sshpool.Pool
	store    *store.Store
}

func New(registry *proxmoxclient.Registry, shell *sshpool.Pool, st *store.Store) *Engine {
	return &Engine{registry: registry, shell: shell, store: st}
}

// BatchResult aggregates the outcome of a linked-clone deployment batch.
type BatchResult struct {
	CloneTaskID  string
	CreatedCount int
	ErrorCount   int
	Errors       []string
}

// newCloneTaskID mints a sortable, collision-resistant batch identifier
// so successive deployments for the same class can be told apart and
// ordered by creation time without a database sequence.
func newCloneTaskID() string {
	entropy := ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

var sanitizeRE = regexp.MustCompile(`[^a-z0-9-]+`)
var collapseDashRE = regexp.MustCompile(`-+`)

// SanitizeVMName builds a DNS-safe name: lowercase, non-alphanumeric
// runs collapsed to a single dash, no leading/trailing dash, ≤63 chars.
func SanitizeVMName(name string) string {
	s := strings.ToLower(name)
	s = sanitizeRE.ReplaceAllString(s, "-")
	s = collapseDashRE.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	if len(s) > 63 {
		s = s[:63]
		s = strings.Trim(s, "-")
	}
	if s == "" {
		s = "vm"
	}
	return s
}

// StudentVMName builds "<sanitized class name>-student-<n>-<vmid>".
func StudentVMName(className string, studentIndex, vmid int) string {
	return fmt.Sprintf("%s-student-%d-%d", SanitizeVMName(className), studentIndex, vmid)
}

// loadBalancer round-robins over nodes sorted by ascending current VM
// count, so successive placements within one batch spread across nodes
// instead of all landing on the node that was least loaded before the
// batch started. load holds each node's count plus this batch's
// placements.
type loadBalancer struct {
	nodes  []string
	load   map[string]int
	cursor int
}

func newLoadBalancer(nodes []string, counts map[string]int) *loadBalancer {
	sorted := append([]string(nil), nodes...)
	sort.Slice(sorted, func(i, j int) bool { return counts[sorted[i]] < counts[sorted[j]] })
	load := make(map[string]int, len(sorted))
	for _, n := range sorted {
		load[n] = counts[n]
	}
	return &loadBalancer{nodes: sorted, load: load}
}

func (lb *loadBalancer) next() string {
	if len(lb.nodes) == 0 {
		return ""
	}
	best := lb.nodes[lb.cursor%len(lb.nodes)]
	lb.cursor++
	lb.load[best]++
	return best
}

// AllocateVMID returns the lowest VMID at or above start that no entry of
// resources uses. Only the given list is consulted; there is no per-node
// enumeration fallback.
func AllocateVMID(resources []proxmoxclient.ClusterResource, start int) int {
	used := make(map[int]bool, len(resources))
	for _, r := range resources {
		used[r.VMID] = true
	}
	id := start
	for used[id] {
		id++
	}
	return id
}

// StartingVMID implements the vmid_prefix convention: prefix*100 when
// set, else the caller's default floor.
func StartingVMID(vmidPrefix *int, floor int) int {
	if vmidPrefix != nil {
		return *vmidPrefix * 100
	}
	return floor
}

// DeployLinkedClones runs the linked_clone strategy for a batch of
// students. VMID allocation and assignment creation happen under the
// class's own pessimistic lock (acquired here, not by the caller) so two
// concurrent deploy requests for the same class serialize instead of
// racing to allocate the same VMID.
func (e *Engine) DeployLinkedClones(ctx context.Context, cluster models.Cluster, class models.Class, templateVMID, studentCount int, fixedNode string, startVMID int) (BatchResult, error) {
	client, err := e.registry.Get(ctx, cluster)
	if err != nil {
		return BatchResult{}, err
	}

	templateNode, storage, err := e.locateTemplate(ctx, client, templateVMID)
	if err != nil {
		return BatchResult{}, err
	}

	resources, err := client.ClusterResources(ctx)
	if err != nil {
		return BatchResult{}, err
	}

	var lb *loadBalancer
	if fixedNode == "" {
		nodes, err := client.Nodes(ctx)
		if err != nil {
			return BatchResult{}, err
		}
		counts := make(map[string]int)
		for _, r := range resources {
			counts[r.Node]++
		}
		names := make([]string, 0, len(nodes))
		for _, n := range nodes {
			names = append(names, n.Node)
		}
		lb = newLoadBalancer(names, counts)
	}

	var result BatchResult
	lockErr := e.store.WithClassLock(ctx, class.ID, 5, func(tx *sql.Tx) error {
		taskID := newCloneTaskID()
		if err := e.store.SetCloneTaskID(ctx, tx, class.ID, taskID); err != nil {
			log.Warn().Err(err).Int64("class_id", class.ID).Msg("failed to record clone task id")
		}
		result = BatchResult{CloneTaskID: taskID}

		nextVMID := startVMID
		for i := 0; i < studentCount; i++ {
			newVMID := AllocateVMID(resources, nextVMID)
			nextVMID = newVMID + 1
			resources = append(resources, proxmoxclient.ClusterResource{VMID: newVMID})

			targetNode := fixedNode
			if targetNode == "" {
				targetNode = lb.next()
			}

			name := StudentVMName(class.Name, i+1, newVMID)

			opts := proxmoxclient.CloneOptions{NewID: newVMID, Name: name, Storage: storage, Full: false}
			if targetNode != templateNode {
				opts.TargetNode = targetNode
			}
			upid, err := client.Clone(ctx, templateNode, templateVMID, opts)
			if err != nil {
				result.ErrorCount++
				result.Errors = append(result.Errors, fmt.Sprintf("vmid %d: %v", newVMID, err))
				continue
			}
			log.Info().Str("component", "deploy").Int("vmid", newVMID).Str("upid", upid).Msg("linked clone submitted")

			assignment := models.VMAssignment{
				ClassID: &class.ID, ProxmoxVMID: newVMID, VMName: name, Node: targetNode,
				Status: models.StatusAvailable, CreatedAt: time.Now(),
			}
			if _, err := e.store.CreateAssignment(ctx, tx, assignment); err != nil {
				result.ErrorCount++
				result.Errors = append(result.Errors, fmt.Sprintf("vmid %d: record assignment: %v", newVMID, err))
				continue
			}

			if _, err := client.Snapshot(ctx, targetNode, models.GuestQemu, newVMID, "baseline", "reimage target"); err != nil {
				log.Warn().Err(err).Int("vmid", newVMID).Msg("baseline snapshot failed")
			}
			result.CreatedCount++
		}
		if err := e.store.SetCloneTaskID(ctx, tx, class.ID, ""); err != nil {
			log.Warn().Err(err).Int64("class_id", class.ID).Msg("failed to clear clone task id")
		}
		return nil
	})
	if lockErr != nil {
		return BatchResult{}, lockErr
	}
	return result, nil
}

func (e *Engine) locateTemplate(ctx context.Context, client *proxmoxclient.Client, templateVMID int) (node, storage string, err error) {
	nodes, err := client.Nodes(ctx)
	if err != nil {
		return "", "", err
	}
	for _, n := range nodes {
		cfg, err := client.VMConfig(ctx, n.Node, models.GuestQemu, templateVMID)
		if err != nil {
			continue
		}
		return n.Node, diskStorageFromConfig(cfg.Raw), nil
	}
	return "", "", apierr.NotFoundf("template vmid %d not found on any node", templateVMID)
}

func diskStorageFromConfig(raw map[string]any) string {
	for _, key := range []string{"scsi0", "virtio0", "sata0", "ide0"} {
		if v, ok := raw[key].(string); ok {
			if idx := strings.IndexByte(v, ':'); idx > 0 {
				return v[:idx]
			}
		}
	}
	return ""
}

// ExportTemplateToQCOW2 is the one-time config_clone setup step: convert
// the template's primary disk to a standalone base image on shared
// storage.
func (e *Engine) ExportTemplateToQCOW2(ctx context.Context, sshAddr, sourcePath, destPath string) error {
	cmd := fmt.Sprintf("qemu-img convert -O qcow2 %q %q", sourcePath, destPath)
	_, err := e.shell.Execute(ctx, sshAddr, cmd, diskConvTimeout, true)
	return err
}

// CreateOverlay creates a copy-on-write overlay backed by base, the
// per-student step of the config_clone strategy.
func (e *Engine) CreateOverlay(ctx context.Context, sshAddr, base, overlay string) error {
	cmd := fmt.Sprintf("qemu-img create -f qcow2 -F qcow2 -b %q %q", base, overlay)
	_, err := e.shell.Execute(ctx, sshAddr, cmd, diskConvTimeout, true)
	return err
}

// ReimageLinkedClone rolls a VM back to its baseline snapshot.
func (e *Engine) ReimageLinkedClone(ctx context.Context, cluster models.Cluster, node string, vmid int) error {
	client, err := e.registry.Get(ctx, cluster)
	if err != nil {
		return err
	}
	_, err = client.RollbackSnapshot(ctx, node, models.GuestQemu, vmid, "baseline")
	return err
}

// ReimageOverlay stops the VM, deletes and recreates its overlay from
// the same base image, then restarts it.
func (e *Engine) ReimageOverlay(ctx context.Context, cluster models.Cluster, node string, vmid int, sshAddr, base, overlay string) error {
	client, err := e.registry.Get(ctx, cluster)
	if err != nil {
		return err
	}
	if _, err := client.ShutdownVM(ctx, node, models.GuestQemu, vmid); err != nil {
		return err
	}
	if _, err := e.shell.Execute(ctx, sshAddr, fmt.Sprintf("rm -f %q", overlay), 30*time.Second, true); err != nil {
		return err
	}
	if err := e.CreateOverlay(ctx, sshAddr, base, overlay); err != nil {
		return err
	}
	_, err = client.StartVM(ctx, node, models.GuestQemu, vmid)
	return err
}
