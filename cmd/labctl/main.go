package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/ssh"

	"github.com/rcourtman/vmlab-orchestrator/internal/api"
	"github.com/rcourtman/vmlab-orchestrator/internal/assignments"
	"github.com/rcourtman/vmlab-orchestrator/internal/autoshutdown"
	"github.com/rcourtman/vmlab-orchestrator/internal/classes"
	"github.com/rcourtman/vmlab-orchestrator/internal/config"
	"github.com/rcourtman/vmlab-orchestrator/internal/deploy"
	"github.com/rcourtman/vmlab-orchestrator/internal/hostrename"
	"github.com/rcourtman/vmlab-orchestrator/internal/ipresolver"
	"github.com/rcourtman/vmlab-orchestrator/internal/proxmoxclient"
	"github.com/rcourtman/vmlab-orchestrator/internal/sshpool"
	"github.com/rcourtman/vmlab-orchestrator/internal/store"
	syncpkg "github.com/rcourtman/vmlab-orchestrator/internal/sync"
	"github.com/rcourtman/vmlab-orchestrator/internal/vnctunnel"
)

// Version information (set at build time with -ldflags)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var rootCmd = &cobra.Command{
	Use:     "labctl",
	Short:   "labctl orchestrates Proxmox VE student lab VMs across one or more clusters",
	Version: Version,
	Run: func(cmd *cobra.Command, args []string) {
		runServer()
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(bootstrapTokenCmd)
	rootCmd.AddCommand(configCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("labctl %s\n", Version)
		if BuildTime != "unknown" {
			fmt.Printf("Built: %s\n", BuildTime)
		}
		if GitCommit != "unknown" {
			fmt.Printf("Commit: %s\n", GitCommit)
		}
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadSigner(path string) (ssh.Signer, error) {
	key, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read ssh key %s: %w", path, err)
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("parse ssh key %s: %w", path, err)
	}
	return signer, nil
}

func runServer() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	log.Info().Msg("starting labctl orchestrator")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clusters, err := config.NewClusterStore(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load cluster table")
	}
	if err := clusters.Watch(); err != nil {
		log.Warn().Err(err).Msg("failed to watch clusters.json for changes")
	}
	defer clusters.Stop()

	st, err := store.Open(cfg.DBPath(), 10*time.Second)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open store")
	}
	defer st.Close()

	registry := proxmoxclient.NewRegistry(cfg.ProxmoxCacheTTL)
	clusters.OnChange(registry.InvalidateAll)

	signer, err := loadSigner(cfg.SSHKeyPath)
	if err != nil {
		log.Warn().Err(err).Msg("no SSH signer available, ARP sweeps and overlay deployments will fail")
	}
	shellPool := sshpool.New(sshpool.Config{
		User:        cfg.SSHUser,
		Signer:      signer,
		MaxSessions: cfg.SSHPoolMax,
		IdleTimeout: cfg.SSHIdleTimeout,
		DialTimeout: 10 * time.Second,
	})
	defer shellPool.Stop()

	resolver := ipresolver.New(ipresolver.Config{
		DBCacheTTL:      cfg.DBIPCacheTTL,
		PortProbeTTL:    30 * time.Second,
		RDPProbeTimeout: 500 * time.Millisecond,
	}, registry, shellPool)

	syncOrch := syncpkg.New(clusters, registry, st, resolver)
	go syncOrch.Run(ctx)

	deployEngine := deploy.New(registry, shellPool, st)
	classMgr := classes.New(st)
	assignMgr := assignments.New(st)
	tunnel := vnctunnel.New(registry)

	shutdownMgr := autoshutdown.New(clusters, registry, st)
	go shutdownMgr.Run(ctx)

	renameMgr := hostrename.New(clusters, registry, st)
	go renameMgr.Run(ctx)

	server := api.NewServer(st, clusters, classMgr, assignMgr, deployEngine, syncOrch, tunnel)

	httpSrv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.BackendHost, cfg.APIPort),
		Handler:      server.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	startMetricsServer(ctx, cfg.MetricsAddr)

	go func() {
		log.Info().Str("addr", httpSrv.Addr).Msg("API server listening")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("API server stopped unexpectedly")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	log.Info().Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("API server shutdown error")
	}
	cancel()
	log.Info().Msg("labctl stopped")
}
