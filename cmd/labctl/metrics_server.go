package main

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

var (
	metricsShutdownTimeout = 5 * time.Second

	orchestratorBuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "labctl_build_info",
		Help: "Build metadata for the running labctl process, value is always 1.",
	}, []string{"version", "commit"})
)

// startMetricsServer exposes the Prometheus /metrics endpoint on addr. A
// blank addr leaves metrics disabled, for single-user deployments that have
// no scraper pointed at the host.
func startMetricsServer(ctx context.Context, addr string) {
	if addr == "" {
		log.Info().Str("component", "metrics_server").Msg("metrics server disabled, no address configured")
		return
	}

	orchestratorBuildInfo.WithLabelValues(Version, GitCommit).Set(1)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  30 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && err != http.ErrServerClosed {
			log.Warn().
				Err(err).
				Str("component", "metrics_server").
				Str("action", "shutdown_failed").
				Str("addr", addr).
				Msg("failed to shut down metrics server cleanly")
		}
	}()

	go func() {
		log.Info().
			Str("component", "metrics_server").
			Str("action", "listening").
			Str("addr", addr).
			Msg("metrics endpoint listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn().
				Err(err).
				Str("component", "metrics_server").
				Str("action", "stopped_unexpectedly").
				Str("addr", addr).
				Msg("metrics server stopped unexpectedly")
		}
	}()
}
