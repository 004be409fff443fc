package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/veiland/querycache/internal/cache"
	"github.com/veiland/querycache/internal/config"
	"github.com/veiland/querycache/internal/logging"
	"github.com/veiland/querycache/internal/metrics"
	"github.com/veiland/querycache/internal/server"
)

func main() {
	var (
		configFile = flag.String("config", "", "path to server configuration file")
		envPrefix  = flag.String("env-prefix", "QUERYCACHE", "environment variable prefix")
	)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loader := config.NewLoader(*envPrefix, *configFile)
	cfg, err := loader.Load(ctx)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		log.Fatalf("failed to configure logger: %v", err)
	}

	promRegistry := prometheus.NewRegistry()
	metricsRecorder := metrics.NewRecorder(promRegistry)

	store, err := cache.NewStore(storeOptions(cfg.Cache, logger, metricsRecorder))
	if err != nil {
		logger.Error("cache store initialization failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := store.Close(shutdownCtx); err != nil {
			logger.Error("cache shutdown failed", slog.Any("error", err))
		}
	}()
	logger.Info("cache store ready",
		slog.String("backend", string(store.Backend())),
		slog.Duration("ttl", cfg.Cache.TTL()),
		slog.Int("max_entries", cfg.Cache.MaxEntries))

	if *configFile != "" {
		watcher, err := loader.Watch(ctx, func(next config.Config) {
			if !strings.EqualFold(next.Cache.Backend, cfg.Cache.Backend) {
				logger.Warn("cache backend changed in configuration, restart required",
					slog.String("configured", next.Cache.Backend),
					slog.String("running", cfg.Cache.Backend))
			}
			store.Reconfigure(next.Cache.TTL(), next.Cache.MaxEntries)
			logger.Info("cache limits reloaded",
				slog.Duration("ttl", next.Cache.TTL()),
				slog.Int("max_entries", next.Cache.MaxEntries))
		}, func(err error) {
			if err != nil {
				logger.Error("config watcher error", slog.Any("error", err))
			}
		})
		if err != nil {
			logger.Error("config watcher setup failed", slog.Any("error", err))
		} else {
			defer watcher.Stop()
		}
	}

	handler := server.NewAdminHandler(store, logger, metricsRecorder.Handler())
	srv, err := server.New(cfg, logger, handler)
	if err != nil {
		logger.Error("unable to construct server", slog.Any("error", err))
		os.Exit(1)
	}

	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server terminated unexpectedly", slog.Any("error", err))
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger.Info("server shutdown complete")
}

func storeOptions(cfg config.CacheConfig, logger *slog.Logger, rec *metrics.Recorder) cache.Options {
	opts := cache.Options{
		Enabled:            cfg.Enabled,
		Backend:            cache.Backend(strings.TrimSpace(strings.ToLower(cfg.Backend))),
		DefaultTTL:         cfg.TTL(),
		MaxEntries:         cfg.MaxEntries,
		DependencyTracking: cfg.DependencyTracking,
		LogHitMiss:         cfg.LogHitMiss,
		Logger:             logger.With(slog.String("agent", "cache_store")),
		Metrics:            rec,
	}
	if cfg.AdaptiveTTL.Enabled {
		opts.Adaptive = cache.AdaptiveTTL{
			Enabled: true,
			Min:     time.Duration(cfg.AdaptiveTTL.MinSeconds) * time.Second,
			Max:     time.Duration(cfg.AdaptiveTTL.MaxSeconds) * time.Second,
		}
	}
	if opts.Backend == cache.BackendRemote || opts.Backend == cache.BackendDual {
		opts.Remote = &cache.RemoteConfig{
			Address:   cfg.Remote.Address,
			Username:  cfg.Remote.Username,
			Password:  cfg.Remote.Password,
			DB:        cfg.Remote.DB,
			KeyPrefix: cfg.Remote.KeyPrefix,
			TLS: cache.RemoteTLSConfig{
				Enabled: cfg.Remote.TLS.Enabled,
				CAFile:  cfg.Remote.TLS.CAFile,
			},
		}
	}
	return opts
}
