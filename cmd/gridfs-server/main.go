// Package main is the entry point for the GridFS storage server.
// It serves chunked files over HTTP from the configured chunk store.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/prn-tf/gridfs-storage/internal/config"
	"github.com/prn-tf/gridfs-storage/internal/gridfs"
	"github.com/prn-tf/gridfs-storage/internal/handler"
	"github.com/prn-tf/gridfs-storage/internal/metrics"
	"github.com/prn-tf/gridfs-storage/internal/pkg/logging"
	"github.com/prn-tf/gridfs-storage/internal/repository/factory"
	"github.com/prn-tf/gridfs-storage/internal/service"
)

// Version information (set at build time)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	envFile := flag.String("env", ".env", "path to .env file")
	flag.Parse()

	if err := run(*configPath, *envFile); err != nil {
		fmt.Fprintf(os.Stderr, "gridfs-server: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, envFile string) error {
	if err := config.LoadDotEnv(envFile); err != nil {
		return err
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, closeLog, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	defer closeLog()

	logger.Info().
		Str("version", Version).
		Str("build_time", BuildTime).
		Str("git_commit", GitCommit).
		Msg("Starting GridFS storage server")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stack, err := factory.Open(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if err := stack.Close(context.Background()); err != nil {
			logger.Error().Err(err).Msg("Failed to close store")
		}
	}()

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	bucket, err := gridfs.NewBucket(stack.Store, gridfs.BucketConfig{ChunkSize: cfg.Store.ChunkSize}, logger, m)
	if err != nil {
		return err
	}

	files := service.NewFileService(bucket, cfg.Store.Bucket, stack.Locker, cfg.Lock.TTL, logger)

	var gc *service.GarbageCollector
	if cfg.GC.Enabled {
		gc, err = service.NewGarbageCollector(stack.Store, cfg.Store.Bucket, stack.Locker, m, logger, service.GCConfig{
			Interval:    cfg.GC.Interval,
			GracePeriod: cfg.GC.GracePeriod,
			BatchSize:   cfg.GC.BatchSize,
			DryRun:      cfg.GC.DryRun,
		})
		switch {
		case errors.Is(err, service.ErrGCUnsupported):
			logger.Warn().Str("driver", cfg.Store.Driver).Msg("Garbage collection not supported by store, disabled")
			gc = nil
		case err != nil:
			return err
		}
	}

	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Path
	}
	router := handler.NewRouter(handler.RouterConfig{
		FileHandler: handler.NewFileHandler(files, logger),
		Metrics:     m,
		MetricsPath: metricsPath,
		Health:      stack.Ping,
		Logger:      logger,
	})

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      http.MaxBytesHandler(router.Handler(), cfg.Server.MaxBodySize),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	if gc != nil {
		gc.Start()
		defer gc.Stop()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("addr", srv.Addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		return shutdown(srv, cfg.Server, logger)
	})

	return g.Wait()
}

func shutdown(srv *http.Server, cfg config.ServerConfig, logger zerolog.Logger) error {
	logger.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
