package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/dnscache"

	"github.com/eugener/radagast/internal/apiclient"
	"github.com/eugener/radagast/internal/cache"
	"github.com/eugener/radagast/internal/config"
	"github.com/eugener/radagast/internal/server"
	"github.com/eugener/radagast/internal/storage/sqlite"
	"github.com/eugener/radagast/internal/telemetry"
	"github.com/eugener/radagast/internal/vertex"
	"github.com/eugener/radagast/internal/worker"
)

// usageRetention is how long raw usage records are kept before the
// retention worker prunes them.
const usageRetention = 30 * 24 * time.Hour

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	slog.Info("starting radagast", "version", version, "addr", cfg.Server.Addr)

	deps := server.Deps{MaxBodyBytes: cfg.Server.MaxBodyBytes, APIKeys: cfg.Auth.APIKeys}
	var workers []worker.Worker

	// Usage persistence is optional; an empty DSN runs the daemon stateless.
	if cfg.Database.DSN != "" {
		store, err := sqlite.New(cfg.Database.DSN)
		if err != nil {
			return err
		}
		defer store.Close()

		recorder := worker.NewUsageRecorder(store)
		workers = append(workers,
			recorder,
			worker.NewRetentionWorker(store, usageRetention),
		)
		deps.Usage = recorder
		deps.ReadyCheck = store.Ping
	}

	// Shared transport with in-process DNS caching for the upstream host.
	resolver := &dnscache.Resolver{}
	workers = append(workers, &dnsRefreshWorker{resolver: resolver})
	httpClient := &http.Client{
		Transport: apiclient.NewTransport(resolver),
		Timeout:   cfg.Vertex.Timeout,
	}

	vertexOpts := []vertex.Option{
		vertex.WithRegion(cfg.Vertex.Region),
		vertex.WithProjectID(cfg.Vertex.ProjectID),
		vertex.WithHTTPClient(httpClient),
	}
	if cfg.Vertex.AccessToken != "" {
		vertexOpts = append(vertexOpts, vertex.WithAccessToken(cfg.Vertex.AccessToken))
	}
	if cfg.Vertex.BaseURL != "" {
		vertexOpts = append(vertexOpts, vertex.WithBaseURL(cfg.Vertex.BaseURL))
	}
	if cfg.Vertex.MaxRetries > 0 {
		vertexOpts = append(vertexOpts, vertex.WithMaxRetries(cfg.Vertex.MaxRetries))
	}
	vc, err := vertex.New(vertexOpts...)
	if err != nil {
		return err
	}
	deps.Vertex = vc

	if cfg.Cache.Enabled {
		mem, err := cache.NewMemory(cfg.Cache.MaxSize, cfg.Cache.DefaultTTL)
		if err != nil {
			return err
		}
		deps.Cache = mem
		deps.CacheTTL = cfg.Cache.DefaultTTL
	}

	if cfg.Telemetry.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		deps.Metrics = telemetry.NewMetrics(reg)
		deps.Registry = reg
	}

	if cfg.Telemetry.Tracing.Enabled {
		shutdown, err := telemetry.SetupTracing(context.Background(),
			cfg.Telemetry.Tracing.Endpoint, cfg.Telemetry.Tracing.SampleRate)
		if err != nil {
			return err
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(ctx); err != nil {
				slog.Warn("tracing shutdown failed", "error", err)
			}
		}()
	}

	// Background workers run until shutdown cancels their context.
	workerCtx, stopWorkers := context.WithCancel(context.Background())
	workerDone := make(chan error, 1)
	go func() {
		workerDone <- worker.NewRunner(workers...).Run(workerCtx)
	}()

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      server.New(deps),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	slog.Info("radagast ready", "addr", cfg.Server.Addr, "region", vc.Region())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("shutting down", "signal", sig)
	case err := <-errCh:
		stopWorkers()
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		stopWorkers()
		return err
	}

	// Stop workers after the server drains so in-flight usage still lands.
	stopWorkers()
	if err := <-workerDone; err != nil {
		slog.Warn("worker shutdown error", "error", err)
	}

	slog.Info("radagast stopped")
	return nil
}

// dnsRefreshWorker re-resolves cached DNS entries periodically so long-lived
// connections do not pin stale upstream addresses.
type dnsRefreshWorker struct {
	resolver *dnscache.Resolver
}

func (w *dnsRefreshWorker) Name() string { return "dns_refresh" }

func (w *dnsRefreshWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.resolver.Refresh(true)
		}
	}
}
