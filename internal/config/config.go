// Package config resolves process-wide configuration and owns the Cluster
// table's on-disk representation: env-first loading, plus a watched JSON
// file for the settings that must outlive a restart.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Config is the process-wide tunables, loaded once at startup.
type Config struct {
	DataDir     string
	BackendHost string
	APIPort     int
	MetricsAddr string

	DBIPCacheTTL    time.Duration
	ProxmoxCacheTTL time.Duration
	VMStopTimeout   time.Duration
	IPLookupWorkersMin int
	IPLookupWorkersMax int
	SSHPoolMax         int
	SSHIdleTimeout     time.Duration
	SSHUser            string
	SSHKeyPath         string

	AllowedOrigins string
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getenvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return time.Duration(n) * time.Second
		}
	}
	return def
}

func getenvString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// Load reads a local .env (if present) then resolves the process
// configuration from the environment, applying defaults for anything unset.
func Load() (*Config, error) {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			log.Warn().Err(err).Msg("Failed to load .env file")
		}
	}

	dataDir := getenvString("LABCTL_DATA_DIR", "/etc/labctl")
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, err
	}

	cfg := &Config{
		DataDir:            dataDir,
		BackendHost:        getenvString("LABCTL_HOST", "0.0.0.0"),
		APIPort:            getenvInt("LABCTL_API_PORT", 7656),
		MetricsAddr:        getenvString("LABCTL_METRICS_ADDR", "127.0.0.1:7657"),
		DBIPCacheTTL:       getenvDuration("DB_IP_CACHE_TTL", 3600*time.Second),
		ProxmoxCacheTTL:    getenvDuration("PROXMOX_CACHE_TTL", 10*time.Second),
		VMStopTimeout:      getenvDuration("VM_STOP_TIMEOUT", 60*time.Second),
		IPLookupWorkersMin: getenvInt("IP_LOOKUP_WORKERS_MIN", 2),
		IPLookupWorkersMax: getenvInt("IP_LOOKUP_WORKERS_MAX", 8),
		SSHPoolMax:         getenvInt("SSH_POOL_MAX", 50),
		SSHIdleTimeout:     getenvDuration("SSH_IDLE_TIMEOUT", 600*time.Second),
		SSHUser:            getenvString("LABCTL_SSH_USER", "root"),
		SSHKeyPath:         getenvString("LABCTL_SSH_KEY_PATH", "/etc/labctl/id_ed25519"),
		AllowedOrigins:     os.Getenv("LABCTL_ALLOWED_ORIGINS"),
	}

	return cfg, nil
}

// ClustersPath is the on-disk location of the Cluster table's JSON mirror.
func (c *Config) ClustersPath() string {
	return filepath.Join(c.DataDir, "clusters.json")
}

// BootstrapTokenPath is where the first-run admin bootstrap token lives.
func (c *Config) BootstrapTokenPath() string {
	return filepath.Join(c.DataDir, ".bootstrap_token")
}

// DBPath is the on-disk location of the SQLite store.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "orchestrator.db")
}
