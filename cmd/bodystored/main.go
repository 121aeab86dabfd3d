// Command bodystored runs the message body store: an HTTP adapter in front of
// the batching body writer and the configured storage backend.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/bodystore/pkg/api"
	"github.com/platinummonkey/bodystore/pkg/bodies"
	"github.com/platinummonkey/bodystore/pkg/config"
	"github.com/platinummonkey/bodystore/pkg/httputil"
	"github.com/platinummonkey/bodystore/pkg/observability"
	"github.com/platinummonkey/bodystore/pkg/purge"
	"github.com/platinummonkey/bodystore/pkg/storage"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var (
	configFile = flag.String("config", "", "YAML configuration file (overrides "+config.EnvConfigFile+")")
	purgeOnce  = flag.Bool("purge-once", false, "Purge expired bodies once and exit")
)

func main() {
	flag.Parse()

	if *configFile != "" {
		os.Setenv(config.EnvConfigFile, *configFile)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat, os.Stdout)
	logger.WithFields(logrus.Fields{
		"version": version,
		"storage": cfg.Storage.Type,
	}).Info("Starting bodystore")

	if *purgeOnce {
		err = runPurgeOnce(cfg, logger)
	} else {
		err = run(cfg, logger)
	}
	if err != nil {
		logger.WithError(err).Fatal("bodystore exited with error")
	}
}

func run(cfg *config.Config, logger *logrus.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	providers, err := observability.InitOTel(ctx, cfg.Observability.OTel(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(registry)
	}

	backend, err := storage.Open(ctx, cfg.Storage, logger, metrics)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}

	checker := observability.NewHealthChecker(version)
	for _, hc := range backend.HealthChecks {
		checker.Register(hc.Name, hc.Critical, hc.Check)
	}

	apiOpts := []api.Option{api.WithLogger(logger)}

	var engine *bodies.Engine
	if !backend.ReadOnly() {
		engine, err = bodies.NewEngine(backend.Flusher, cfg.Engine,
			bodies.WithLogger(logger),
			bodies.WithMetrics(metrics, backend.Name),
		)
		if err != nil {
			backend.Close()
			return err
		}
		if err := engine.Start(ctx); err != nil {
			backend.Close()
			return err
		}

		checker.Register("body-writer", true, func(context.Context) error {
			if state := engine.State(); state != bodies.StateRunning {
				return fmt.Errorf("body writer is %s", state)
			}
			return nil
		})
		apiOpts = append(apiOpts, api.WithWriter(engine), api.WithStats(engine.Stats))
	} else {
		logger.WithField("backend", backend.Name).Warn("Storage backend is read-only, writes are disabled")
	}

	var scheduler *purge.Scheduler
	if cfg.Retention.PurgeEnabled && backend.Purger != nil {
		scheduler, err = purge.NewScheduler(backend.Purger, cfg.Retention.PurgeSchedule, 0, logger)
		if err != nil {
			return err
		}
		scheduler.Start()
	}

	apiServer := api.NewServer(backend.Reader, api.Config{
		DefaultRetention: cfg.Retention.Default,
		MaxBodyBytes:     cfg.Server.MaxBodyBytes,
	}, apiOpts...)

	router := apiServer.Router()
	if metrics != nil {
		router.Use(observability.HTTPMetricsMiddleware(metrics))
	}
	handler := httputil.Chain(
		httputil.RequestIDMiddleware,
		httputil.LoggingMiddleware(logger),
		httputil.RecoveryMiddleware(logger),
	)(router)

	server := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      otelhttp.NewHandler(handler, "bodystore"),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	healthRouter := mux.NewRouter()
	observability.RegisterHealthRoutes(healthRouter, checker)
	observability.RegisterMetricsEndpoint(healthRouter, registry)
	healthServer := &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler:           healthRouter,
		ReadHeaderTimeout: 5 * time.Second,
	}

	// Shutdown functions run in order: stop admitting writes and drain the
	// engine before the backend it flushes to is closed.
	shutdown := observability.NewShutdownManager(logger, server, cfg.Server.ShutdownTimeout)
	if engine != nil {
		shutdown.RegisterShutdownFunc("body-writer", engine.Stop)
	}
	if scheduler != nil {
		shutdown.RegisterShutdownFunc("body-purge", scheduler.Stop)
	}
	shutdown.RegisterShutdownFunc("health-server", healthServer.Shutdown)
	shutdown.RegisterShutdownFunc("storage", func(context.Context) error {
		return backend.Close()
	})
	shutdown.RegisterShutdownFunc("otel", func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, providers, logger)
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.WithField("addr", server.Addr).Info("HTTP server listening")
		return serve(server)
	})
	g.Go(func() error {
		logger.WithField("addr", healthServer.Addr).Info("Health server listening")
		return serve(healthServer)
	})
	if path := os.Getenv(config.EnvConfigFile); path != "" {
		g.Go(func() error {
			return config.Watch(gctx, path, logger, config.ApplyLogLevel(logger))
		})
	}

	shutdownErr := shutdown.WaitForShutdown(gctx)
	cancel()

	if err := g.Wait(); err != nil {
		return err
	}
	return shutdownErr
}

// serve runs srv until it is shut down. Closing is not an error.
func serve(srv *http.Server) error {
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("%s: %w", srv.Addr, err)
	}
	return nil
}

// runPurgeOnce opens storage, deletes expired bodies and exits.
func runPurgeOnce(cfg *config.Config, logger *logrus.Logger) error {
	ctx := context.Background()

	backend, err := storage.Open(ctx, cfg.Storage, logger, nil)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer backend.Close()

	if backend.Purger == nil {
		logger.WithField("backend", backend.Name).Info("Storage backend has nothing to purge")
		return nil
	}

	scheduler, err := purge.NewScheduler(backend.Purger, cfg.Retention.PurgeSchedule, 0, logger)
	if err != nil {
		return err
	}
	_, err = scheduler.RunOnce(ctx)
	return err
}
