package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetenvIntFallsBackOnUnsetOrInvalid(t *testing.T) {
	t.Setenv("LABCTL_TEST_INT", "")
	assert.Equal(t, 7, getenvInt("LABCTL_TEST_INT", 7))

	t.Setenv("LABCTL_TEST_INT", "not-a-number")
	assert.Equal(t, 7, getenvInt("LABCTL_TEST_INT", 7))

	t.Setenv("LABCTL_TEST_INT", "42")
	assert.Equal(t, 42, getenvInt("LABCTL_TEST_INT", 7))
}

func TestGetenvDurationInterpretsValueAsSeconds(t *testing.T) {
	t.Setenv("LABCTL_TEST_DURATION", "30")
	assert.Equal(t, 30*time.Second, getenvDuration("LABCTL_TEST_DURATION", time.Minute))

	t.Setenv("LABCTL_TEST_DURATION", "")
	assert.Equal(t, time.Minute, getenvDuration("LABCTL_TEST_DURATION", time.Minute))
}

func TestGetenvStringFallsBackWhenUnset(t *testing.T) {
	t.Setenv("LABCTL_TEST_STRING", "")
	assert.Equal(t, "default", getenvString("LABCTL_TEST_STRING", "default"))

	t.Setenv("LABCTL_TEST_STRING", "override")
	assert.Equal(t, "override", getenvString("LABCTL_TEST_STRING", "default"))
}

func TestLoadAppliesDefaultsAndResolvesPaths(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("LABCTL_DATA_DIR", dir)
	t.Setenv("LABCTL_API_PORT", "")
	t.Setenv("LABCTL_HOST", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, dir, cfg.DataDir)
	assert.Equal(t, 7656, cfg.APIPort)
	assert.Equal(t, "0.0.0.0", cfg.BackendHost)

	assert.Equal(t, filepath.Join(dir, "clusters.json"), cfg.ClustersPath())
	assert.Equal(t, filepath.Join(dir, ".bootstrap_token"), cfg.BootstrapTokenPath())
	assert.Equal(t, filepath.Join(dir, "orchestrator.db"), cfg.DBPath())
}

func TestLoadHonorsEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("LABCTL_DATA_DIR", dir)
	t.Setenv("LABCTL_API_PORT", "9001")
	t.Setenv("SSH_POOL_MAX", "5")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9001, cfg.APIPort)
	assert.Equal(t, 5, cfg.SSHPoolMax)
}
