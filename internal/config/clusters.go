package config

import (
	"encoding/json"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"

	"github.com/rcourtman/vmlab-orchestrator/internal/models"
)

// ClusterStore owns the authoritative Cluster table. The on-disk JSON file
// is authoritative once it exists; on first boot with no file present it is
// seeded from environment variables.
type ClusterStore struct {
	mu        sync.RWMutex
	path      string
	clusters  map[string]models.Cluster
	onChange  []func()
	watcher   *fsnotify.Watcher
	stopCh    chan struct{}
}

// NewClusterStore loads (or seeds) the Cluster table from path.
func NewClusterStore(cfg *Config) (*ClusterStore, error) {
	s := &ClusterStore{
		path:     cfg.ClustersPath(),
		clusters: make(map[string]models.Cluster),
		stopCh:   make(chan struct{}),
	}

	if _, err := os.Stat(s.path); err == nil {
		if err := s.loadFromDisk(); err != nil {
			return nil, err
		}
	} else if os.IsNotExist(err) {
		s.seedFromEnv()
		if err := s.saveToDisk(); err != nil {
			return nil, err
		}
	} else {
		return nil, err
	}

	return s, nil
}

func (s *ClusterStore) loadFromDisk() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}
	var list []models.Cluster
	if err := json.Unmarshal(data, &list); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clusters = make(map[string]models.Cluster, len(list))
	for _, c := range list {
		s.clusters[c.ClusterID] = c
	}
	return nil
}

func (s *ClusterStore) saveToDisk() error {
	s.mu.RLock()
	list := make([]models.Cluster, 0, len(s.clusters))
	for _, c := range s.clusters {
		list = append(list, c)
	}
	s.mu.RUnlock()

	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// seedFromEnv builds one cluster entry from LABCTL_CLUSTER_* env vars if
// present. This only runs when no clusters.json exists yet.
func (s *ClusterStore) seedFromEnv() {
	host := os.Getenv("LABCTL_CLUSTER_HOST")
	if host == "" {
		return
	}
	c := models.Cluster{
		ClusterID:         "default",
		Name:              "default",
		Host:              host,
		Port:              8006,
		User:              os.Getenv("LABCTL_CLUSTER_USER"),
		Password:          os.Getenv("LABCTL_CLUSTER_PASSWORD"),
		VerifyTLS:         strings.EqualFold(os.Getenv("LABCTL_CLUSTER_VERIFY_TLS"), "true"),
		DefaultStorage:    os.Getenv("LABCTL_CLUSTER_DEFAULT_STORAGE"),
		TemplateStorage:   os.Getenv("LABCTL_CLUSTER_TEMPLATE_STORAGE"),
		ISOStorage:        os.Getenv("LABCTL_CLUSTER_ISO_STORAGE"),
		IsDefault:         true,
		IsActive:          true,
		AllowVMDeployment: true,
		AllowTemplateSync: true,
		AllowISOSync:      true,
		VMCacheTTL:        10 * time.Second,
		EnableIPLookup:    true,
		EnableIPPersistence: true,
	}
	s.mu.Lock()
	s.clusters[c.ClusterID] = c
	s.mu.Unlock()
}

// List returns a snapshot of all configured clusters.
func (s *ClusterStore) List() []models.Cluster {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Cluster, 0, len(s.clusters))
	for _, c := range s.clusters {
		out = append(out, c)
	}
	return out
}

// Get returns a single cluster by ID.
func (s *ClusterStore) Get(clusterID string) (models.Cluster, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.clusters[clusterID]
	return c, ok
}

// Put creates or replaces a cluster entry, persists it, and notifies
// registered listeners (the Cluster Client Registry invalidates on this).
func (s *ClusterStore) Put(c models.Cluster) error {
	s.mu.Lock()
	s.clusters[c.ClusterID] = c
	s.mu.Unlock()

	if err := s.saveToDisk(); err != nil {
		return err
	}
	s.notify()
	return nil
}

// Delete removes a cluster entry.
func (s *ClusterStore) Delete(clusterID string) error {
	s.mu.Lock()
	delete(s.clusters, clusterID)
	s.mu.Unlock()

	if err := s.saveToDisk(); err != nil {
		return err
	}
	s.notify()
	return nil
}

// OnChange registers a callback invoked whenever the cluster table changes,
// whether via Put/Delete or an external edit picked up by the watcher.
func (s *ClusterStore) OnChange(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = append(s.onChange, fn)
}

func (s *ClusterStore) notify() {
	s.mu.RLock()
	fns := append([]func(){}, s.onChange...)
	s.mu.RUnlock()
	for _, fn := range fns {
		fn()
	}
}

// Watch starts an fsnotify watcher on the clusters.json file so external
// edits (or an operator's config-management tool) are picked up without a
// restart.
func (s *ClusterStore) Watch() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(s.path); err != nil {
		_ = w.Close()
		return err
	}
	s.watcher = w

	go func() {
		for {
			select {
			case event, ok := <-w.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					if err := s.loadFromDisk(); err != nil {
						log.Warn().Err(err).Msg("Failed to reload clusters.json after change")
						continue
					}
					log.Info().Msg("Reloaded cluster configuration from disk")
					s.notify()
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.Warn().Err(err).Msg("Cluster config watcher error")
			case <-s.stopCh:
				return
			}
		}
	}()

	return nil
}

// Stop tears down the watcher goroutine.
func (s *ClusterStore) Stop() {
	close(s.stopCh)
	if s.watcher != nil {
		_ = s.watcher.Close()
	}
}
