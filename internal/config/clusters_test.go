package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcourtman/vmlab-orchestrator/internal/models"
)

func newTestConfig(t *testing.T) *Config {
	t.Helper()
	return &Config{DataDir: t.TempDir()}
}

func TestNewClusterStoreSeedsFromEnvOnFirstBoot(t *testing.T) {
	cfg := newTestConfig(t)
	t.Setenv("LABCTL_CLUSTER_HOST", "pve.lab.test:8006")
	t.Setenv("LABCTL_CLUSTER_USER", "root@pam")
	t.Setenv("LABCTL_CLUSTER_PASSWORD", "secret")

	store, err := NewClusterStore(cfg)
	require.NoError(t, err)

	c, ok := store.Get("default")
	require.True(t, ok)
	assert.Equal(t, "pve.lab.test:8006", c.Host)
	assert.True(t, c.IsDefault)
	assert.FileExists(t, filepath.Join(cfg.DataDir, "clusters.json"))
}

func TestNewClusterStoreWithNoHostLeavesTableEmpty(t *testing.T) {
	cfg := newTestConfig(t)
	t.Setenv("LABCTL_CLUSTER_HOST", "")

	store, err := NewClusterStore(cfg)
	require.NoError(t, err)
	assert.Empty(t, store.List())
}

func TestPutSaveAndReloadRoundTrips(t *testing.T) {
	cfg := newTestConfig(t)
	t.Setenv("LABCTL_CLUSTER_HOST", "")
	store, err := NewClusterStore(cfg)
	require.NoError(t, err)

	cluster := models.Cluster{ClusterID: "lab1", Name: "Lab One", Host: "pve1.lab.test:8006"}
	require.NoError(t, store.Put(cluster))

	reopened, err := NewClusterStore(cfg)
	require.NoError(t, err)
	got, ok := reopened.Get("lab1")
	require.True(t, ok)
	assert.Equal(t, "Lab One", got.Name)
}

func TestPutNotifiesRegisteredListeners(t *testing.T) {
	cfg := newTestConfig(t)
	t.Setenv("LABCTL_CLUSTER_HOST", "")
	store, err := NewClusterStore(cfg)
	require.NoError(t, err)

	notified := false
	store.OnChange(func() { notified = true })

	require.NoError(t, store.Put(models.Cluster{ClusterID: "lab1"}))
	assert.True(t, notified)
}

func TestDeleteRemovesClusterAndNotifies(t *testing.T) {
	cfg := newTestConfig(t)
	t.Setenv("LABCTL_CLUSTER_HOST", "")
	store, err := NewClusterStore(cfg)
	require.NoError(t, err)
	require.NoError(t, store.Put(models.Cluster{ClusterID: "lab1"}))

	count := 0
	store.OnChange(func() { count++ })
	require.NoError(t, store.Delete("lab1"))

	_, ok := store.Get("lab1")
	assert.False(t, ok)
	assert.Equal(t, 1, count)
}
