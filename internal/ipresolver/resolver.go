// Package ipresolver implements the IP Resolver (C4): a three-tier
// MAC/IP discovery pipeline for guest VMs. It checks the database cache
// first, falls back to a guest-agent or container-interface query, and
// as a last resort runs an ARP sweep across the cluster's configured
// subnets. Concurrent sweeps for the same cluster are coalesced with
// singleflight so a burst of interactive lookups produces one sweep.
package ipresolver

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/rcourtman/vmlab-orchestrator/internal/models"
	"github.com/rcourtman/vmlab-orchestrator/internal/proxmoxclient"
	"github.com/rcourtman/vmlab-orchestrator/internal/sshpool"
)

// Config controls cache lifetimes and the RDP port-probe timeout.
type Config struct {
	DBCacheTTL     time.Duration // default 3600s
	PortProbeTTL   time.Duration // default 10s
	RDPProbeTimeout time.Duration // default 500ms
}

// Resolver ties the cluster client registry and shell pool together to
// answer "what is this VM's IP" and "is RDP reachable" questions.
type Resolver struct {
	cfg      Config
	registry *proxmoxclient.Registry
	shell    *sshpool.Pool

	group singleflight.Group

	probeMu    sync.Mutex
	probeCache map[string]probeEntry
}

type probeEntry struct {
	open      bool
	checkedAt time.Time
}

func New(cfg Config, registry *proxmoxclient.Registry, shell *sshpool.Pool) *Resolver {
	if cfg.DBCacheTTL <= 0 {
		cfg.DBCacheTTL = time.Hour
	}
	if cfg.PortProbeTTL <= 0 {
		cfg.PortProbeTTL = 10 * time.Second
	}
	if cfg.RDPProbeTimeout <= 0 {
		cfg.RDPProbeTimeout = 500 * time.Millisecond
	}
	return &Resolver{cfg: cfg, registry: registry, shell: shell, probeCache: make(map[string]probeEntry)}
}

// NormalizeMAC lowercases and strips separators, leaving 12 hex chars —
// the canonical comparison form used across all three tiers.
func NormalizeMAC(mac string) string {
	mac = strings.ToLower(mac)
	var b strings.Builder
	for _, r := range mac {
		if (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// CacheFresh reports whether a previously observed IP is still within
// the database-cache TTL, the first tier of the lookup.
func (r *Resolver) CacheFresh(ip string, updatedAt *time.Time) bool {
	if ip == "" || models.IsPlaceholderIP(ip) || updatedAt == nil {
		return false
	}
	return time.Since(*updatedAt) < r.cfg.DBCacheTTL
}

// ResolveGuestQemu queries the QEMU guest agent and picks the first
// non-loopback IPv4 on an interface that looks like a real NIC.
func (r *Resolver) ResolveGuestQemu(ctx context.Context, cluster models.Cluster, node string, vmid int) (string, error) {
	client, err := r.registry.Get(ctx, cluster)
	if err != nil {
		return "", err
	}
	ifaces, err := client.GuestAgentInterfaces(ctx, node, vmid)
	if err != nil {
		return "", err
	}
	for _, iface := range ifaces {
		if !looksLikeNIC(iface.Name) {
			continue
		}
		for _, addr := range iface.IPAddresses {
			if addr.IPAddressType != "ipv4" {
				continue
			}
			if ip := net.ParseIP(addr.IPAddress); ip != nil && !ip.IsLoopback() {
				return addr.IPAddress, nil
			}
		}
	}
	return "", nil
}

func looksLikeNIC(name string) bool {
	lower := strings.ToLower(name)
	return strings.HasPrefix(lower, "eth") || strings.HasPrefix(lower, "ens") || strings.HasPrefix(lower, "enp")
}

// ResolveGuestLXC reads the container interfaces endpoint, preferring
// eth0/veth0 before any other non-loopback interface.
func (r *Resolver) ResolveGuestLXC(ctx context.Context, cluster models.Cluster, node string, vmid int) (string, error) {
	client, err := r.registry.Get(ctx, cluster)
	if err != nil {
		return "", err
	}
	ifaces, err := client.ContainerInterfaces(ctx, node, vmid)
	if err != nil {
		return "", err
	}
	var fallback string
	for _, iface := range ifaces {
		ip := stripCIDR(iface.Inet)
		if ip == "" {
			continue
		}
		parsed := net.ParseIP(ip)
		if parsed == nil || parsed.IsLoopback() {
			continue
		}
		lower := strings.ToLower(iface.Name)
		if lower == "eth0" || lower == "veth0" {
			return ip, nil
		}
		if fallback == "" {
			fallback = ip
		}
	}
	return fallback, nil
}

func stripCIDR(inet string) string {
	if i := strings.IndexByte(inet, '/'); i >= 0 {
		return inet[:i]
	}
	return inet
}

// SweepRequest is one entry of the ARP sweep's input map.
type SweepRequest struct {
	Key string // "cluster_id:vmid"
	MAC string // normalized MAC
}

// ARPSweep runs `ip neighbor show` against one node of the cluster
// (over the shell pool) for every configured subnet and matches
// normalized MACs against the results. Concurrent sweeps for the same
// cluster are coalesced via singleflight.
func (r *Resolver) ARPSweep(ctx context.Context, cluster models.Cluster, sweepNode string, requests []SweepRequest) (map[string]string, error) {
	v, err, _ := r.group.Do(cluster.ClusterID, func() (interface{}, error) {
		return r.doARPSweep(ctx, cluster, sweepNode)
	})
	if err != nil {
		return nil, err
	}
	macToIP := v.(map[string]string)

	out := make(map[string]string, len(requests))
	for _, req := range requests {
		if ip, ok := macToIP[req.MAC]; ok {
			out[req.Key] = ip
		}
	}
	return out, nil
}

func (r *Resolver) doARPSweep(ctx context.Context, cluster models.Cluster, sweepNode string) (map[string]string, error) {
	addr := fmt.Sprintf("%s:22", sweepNode)
	macToIP := make(map[string]string)
	for _, subnet := range cluster.ARPSubnets {
		cmd := fmt.Sprintf("ip neighbor show %s 2>/dev/null || true", subnet)
		res, err := r.shell.Execute(ctx, addr, cmd, 15*time.Second, false)
		if err != nil {
			log.Debug().Str("component", "ipresolver").Str("action", "arp_sweep_subnet").Str("subnet", subnet).Err(err).Msg("sweep subnet failed")
			continue
		}
		parseNeighborOutput(res.Stdout, macToIP)
	}
	return macToIP, nil
}

// parseNeighborOutput parses lines like "10.0.0.5 dev vmbr0 lladdr aa:bb:cc:dd:ee:ff REACHABLE".
func parseNeighborOutput(output string, into map[string]string) {
	for _, line := range strings.Split(output, "\n") {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		ip := fields[0]
		if net.ParseIP(ip) == nil {
			continue
		}
		for i, f := range fields {
			if f == "lladdr" && i+1 < len(fields) {
				into[NormalizeMAC(fields[i+1])] = ip
				break
			}
		}
	}
}

// ProbeRDP reports whether TCP 3389 is open on ip, caching the result
// for PortProbeTTL so repeated inventory refreshes don't re-probe.
func (r *Resolver) ProbeRDP(ip string) bool {
	if ip == "" {
		return false
	}
	r.probeMu.Lock()
	if e, ok := r.probeCache[ip]; ok && time.Since(e.checkedAt) < r.cfg.PortProbeTTL {
		r.probeMu.Unlock()
		return e.open
	}
	r.probeMu.Unlock()

	open := probeTCP(ip, 3389, r.cfg.RDPProbeTimeout)

	r.probeMu.Lock()
	r.probeCache[ip] = probeEntry{open: open, checkedAt: time.Now()}
	r.probeMu.Unlock()
	return open
}

func probeTCP(ip string, port int, timeout time.Duration) bool {
	conn, err := net.DialTimeout("tcp", fmt.Sprintf("%s:%d", ip, port), timeout)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// RDPAvailable implements the derived signal: running, has an IP, and
// either the VM's category marks it as Windows or a live port probe on
// 3389 succeeds.
func RDPAvailable(status, category, ip string, probeOpen bool) bool {
	if status != "running" || ip == "" || models.IsPlaceholderIP(ip) {
		return false
	}
	if strings.EqualFold(category, "windows") {
		return true
	}
	return probeOpen
}
