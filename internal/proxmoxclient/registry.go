package proxmoxclient

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/rcourtman/vmlab-orchestrator/internal/models"
)

// Registry is the Cluster Client Registry: it owns one authenticated
// Client per configured cluster, built lazily and rebuilt whenever the
// cluster's credentials change.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]*Client

	resourceCacheTTL time.Duration
	resourceMu       sync.Mutex
	resourceCache    map[string]resourceCacheEntry
}

type resourceCacheEntry struct {
	fetchedAt time.Time
	resources []ClusterResource
	stale     bool
}

func NewRegistry(resourceCacheTTL time.Duration) *Registry {
	return &Registry{
		clients:          make(map[string]*Client),
		resourceCacheTTL: resourceCacheTTL,
		resourceCache:    make(map[string]resourceCacheEntry),
	}
}

// Get returns the authenticated client for a cluster, building it with
// double-checked locking on first use.
func (r *Registry) Get(ctx context.Context, cluster models.Cluster) (*Client, error) {
	r.mu.RLock()
	c, ok := r.clients[cluster.ClusterID]
	r.mu.RUnlock()
	if ok {
		return c, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.clients[cluster.ClusterID]; ok {
		return c, nil
	}

	c, err := NewClient(ctx, ClientConfig{
		ClusterID: cluster.ClusterID,
		Host:      cluster.Host,
		User:      cluster.User,
		Password:  cluster.Password,
		VerifyTLS: cluster.VerifyTLS,
	})
	if err != nil {
		return nil, err
	}
	r.clients[cluster.ClusterID] = c
	log.Info().Str("component", "registry").Str("action", "client_created").Str("cluster_id", cluster.ClusterID).Msg("cluster client ready")
	return c, nil
}

// Invalidate drops the cached client for one cluster, forcing a fresh
// authentication next time it's needed. Called after editing cluster
// credentials in the config store.
func (r *Registry) Invalidate(clusterID string) {
	r.mu.Lock()
	delete(r.clients, clusterID)
	r.mu.Unlock()

	r.resourceMu.Lock()
	delete(r.resourceCache, clusterID)
	r.resourceMu.Unlock()
}

// InvalidateAll drops every cached client, used when the config file is
// reloaded wholesale.
func (r *Registry) InvalidateAll() {
	r.mu.Lock()
	r.clients = make(map[string]*Client)
	r.mu.Unlock()

	r.resourceMu.Lock()
	r.resourceCache = make(map[string]resourceCacheEntry)
	r.resourceMu.Unlock()
}

// CachedClusterResources returns cluster/resources for one cluster,
// serving from a short-lived cache to absorb bursts of sync-task reads
// that all want roughly-current inventory without hammering Proxmox. On a
// cache miss that fails, a stale cached value is returned rather than an
// error, if one is available.
func (r *Registry) CachedClusterResources(ctx context.Context, cluster models.Cluster) ([]ClusterResource, error) {
	r.resourceMu.Lock()
	entry, ok := r.resourceCache[cluster.ClusterID]
	r.resourceMu.Unlock()
	if ok && time.Since(entry.fetchedAt) < r.resourceCacheTTL {
		return entry.resources, nil
	}

	client, err := r.Get(ctx, cluster)
	if err != nil {
		if ok {
			return entry.resources, nil
		}
		return nil, err
	}

	resources, err := client.ClusterResources(ctx)
	if err != nil {
		if ok {
			log.Warn().Str("component", "registry").Str("cluster_id", cluster.ClusterID).Err(err).Msg("serving stale cluster resources after fetch failure")
			return entry.resources, nil
		}
		return nil, err
	}

	r.resourceMu.Lock()
	r.resourceCache[cluster.ClusterID] = resourceCacheEntry{fetchedAt: time.Now(), resources: resources}
	r.resourceMu.Unlock()
	return resources, nil
}
