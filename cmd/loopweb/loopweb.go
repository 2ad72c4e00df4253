package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"loopweb/internal/api"
	"loopweb/internal/config"
	"loopweb/internal/logger"
	"loopweb/internal/observability"
	"loopweb/internal/ratelimit"
	"loopweb/internal/releases"
	"loopweb/internal/scheduler"
	"loopweb/internal/storage"
	"loopweb/internal/version"
)

var (
	configFile    = flag.String("config", "", "Path to configuration file")
	exampleConfig = flag.String("example-config", "", "Write an example configuration file to this path and exit")
	showVersion   = flag.Bool("version", false, "Print version information and exit")
)

func main() {
	flag.Parse()

	ver := version.GetInfo()
	if *showVersion {
		fmt.Println(ver.String())
		return
	}

	if *exampleConfig != "" {
		if err := config.SaveExample(*exampleConfig); err != nil {
			slog.Error("Failed to write example configuration", "error", err)
			os.Exit(1)
		}
		fmt.Printf("Example configuration written to %s\n", *exampleConfig)
		return
	}

	// Load configuration
	cfg, err := config.Load(*configFile)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Initialize structured logging
	log, closer, err := logger.Setup(cfg.Logging, ver)
	if err != nil {
		slog.Error("Failed to initialize logger", "error", err)
		os.Exit(1)
	}
	if closer != nil {
		defer closer.Close()
	}
	slog.SetDefault(log)

	// Initialize observability (OpenTelemetry)
	otelProvider, err := observability.Setup(cfg.Metrics, cfg.Observability, ver)
	if err != nil {
		slog.Error("Failed to initialize observability", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := otelProvider.Shutdown(shutdownCtx); err != nil {
			slog.Error("Failed to shutdown observability", "error", err)
		}
	}()

	// Initialize storage
	storageInstance, err := storage.NewFactory().Create(cfg.Storage)
	if err != nil {
		slog.Error("Failed to initialize storage", "type", cfg.Storage.Type, "error", err)
		os.Exit(1)
	}
	defer storageInstance.Close()

	// Wrap storage and the release service with instrumentation if metrics are enabled
	var activeStorage storage.Storage = storageInstance
	var recorder releases.Recorder
	if cfg.Metrics.Enabled {
		instrumented, err := observability.NewInstrumentedStorage(storageInstance)
		if err != nil {
			slog.Error("Failed to create instrumented storage", "error", err)
			os.Exit(1)
		}
		activeStorage = instrumented

		releaseMetrics, err := observability.NewReleaseMetrics(nil)
		if err != nil {
			slog.Error("Failed to create release metrics", "error", err)
			os.Exit(1)
		}
		recorder = releaseMetrics
	}

	releaseService, err := releases.NewFromConfig(cfg, activeStorage, recorder)
	if err != nil {
		slog.Error("Failed to initialize release service", "error", err)
		os.Exit(1)
	}
	defer releaseService.Wait()

	// Warm the cache so the first visitor does not wait on GitHub, then keep
	// it warm on the refresh schedule.
	var refreshScheduler *scheduler.Scheduler
	if cfg.Refresh.Enabled {
		refreshScheduler, err = scheduler.New(cfg.Refresh, releaseService, log)
		if err != nil {
			slog.Error("Failed to initialize refresh scheduler", "error", err)
			os.Exit(1)
		}
		go func() {
			if err := refreshScheduler.RunNow(context.Background()); err == nil {
				slog.Info("Release cache warmed")
			}
		}()
		refreshScheduler.Start()
		slog.Info("Refresh scheduler started", "schedule", cfg.Refresh.Schedule, "next", refreshScheduler.Next())
	}

	// Initialize HTTP handlers with storage for health checks
	handlers := api.NewHandlers(releaseService,
		api.WithStorage(activeStorage),
		api.WithVersion(ver),
	)

	// Setup routes with middleware
	routeOpts := []api.RouteOption{}
	if cfg.Observability.Tracing.Enabled {
		routeOpts = append(routeOpts, api.WithOTelMiddleware(cfg.Observability.ServiceName))
	}

	// Initialize rate limiter if enabled
	if cfg.Security.RateLimit.Enabled {
		rlCfg := cfg.Security.RateLimit
		limiter := ratelimit.NewMemoryLimiter(rlCfg.RequestsPerMinute, rlCfg.BurstSize, rlCfg.CleanupInterval)
		defer limiter.Close()

		routeOpts = append(routeOpts, api.WithRateLimiter(
			ratelimit.Middleware(limiter, ratelimit.ClientIPKey(cfg.Server.TrustProxy))))
	}

	router := api.SetupRoutes(handlers, cfg, routeOpts...)

	// Start metrics server if enabled
	var metricsServer *observability.MetricsServer
	if cfg.Metrics.Enabled {
		metricsServer = observability.NewMetricsServer(cfg.Metrics.Port, cfg.Metrics.Path, otelProvider)
		go func() {
			if err := metricsServer.Start(); err != nil && err != http.ErrServerClosed {
				slog.Error("Metrics server failed", "error", err)
			}
		}()
	}

	// Create HTTP server
	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	// Start server in a goroutine
	go func() {
		slog.Info("Starting server",
			"addr", server.Addr,
			"storage", cfg.Storage.Type,
			"cache_strategy", cfg.Cache.Strategy,
			"static_dir", cfg.Static.Dir)

		var err error
		if cfg.Server.TLSEnabled {
			slog.Info("Starting HTTPS server with TLS")
			err = server.ListenAndServeTLS(cfg.Server.TLSCertFile, cfg.Server.TLSKeyFile)
		} else {
			slog.Info("Starting HTTP server")
			err = server.ListenAndServe()
		}

		if err != nil && err != http.ErrServerClosed {
			slog.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	slog.Info("Shutting down server", "signal", sig.String())

	// Create a deadline to wait for shutdown
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if refreshScheduler != nil {
		if err := refreshScheduler.Stop(ctx); err != nil {
			slog.Error("Refresh scheduler did not stop in time", "error", err)
		}
	}

	// Shutdown metrics server
	if metricsServer != nil {
		if err := metricsServer.Shutdown(ctx); err != nil {
			slog.Error("Metrics server forced to shutdown", "error", err)
		}
	}

	// Attempt graceful shutdown
	if err := server.Shutdown(ctx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	slog.Info("Server shutdown complete")
}
