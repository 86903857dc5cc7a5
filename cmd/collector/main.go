package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/clobwatch/internal/collector"
	"github.com/rickgao/clobwatch/internal/config"
	"github.com/rickgao/clobwatch/internal/metrics"
	"github.com/rickgao/clobwatch/internal/universe"
	"github.com/rickgao/clobwatch/internal/venue"
	"github.com/rickgao/clobwatch/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/collector.yaml", "path to config file")
	flag.Parse()

	// Set up structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	logger.Info("starting collector",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	// Load configuration; configuration errors are fatal at startup.
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"instance_id", cfg.Instance.ID,
		"storage_root", cfg.Storage.Root,
		"mock", cfg.Mock.Enabled,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	collectors, err := buildCollectors(cfg, logger)
	if err != nil {
		logger.Error("failed to build collectors", "error", err)
		os.Exit(1)
	}

	// Metrics and health server
	healthServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Metrics.Port),
		Handler: createHealthHandler(cfg, collectors),
	}
	go func() {
		logger.Info("starting metrics server", "port", cfg.Metrics.Port, "path", cfg.Metrics.Path)
		if err := healthServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("metrics server error", "error", err)
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	for _, c := range collectors {
		c := c
		g.Go(func() error {
			return c.Run(gctx)
		})
	}

	err = g.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	healthServer.Shutdown(shutdownCtx)

	if err != nil && err != context.Canceled {
		logger.Error("collector failed", "error", err)
		os.Exit(1)
	}
	logger.Info("collector stopped")
}

// buildCollectors constructs one pipeline per enabled venue, or a
// single mock pipeline when mock mode is on.
func buildCollectors(cfg *config.Config, logger *slog.Logger) ([]*collector.Collector, error) {
	if cfg.Mock.Enabled {
		vcfg := cfg.Venues["mock"]
		if vcfg == nil {
			vcfg = &config.VenueConfig{
				Enabled:                true,
				MaxSubs:                config.DefaultMaxSubs,
				RotationPeriodSecs:     config.DefaultRotationPeriodSecs,
				SnapshotIntervalMSHot:  config.DefaultSnapshotIntervalMSHot,
				SnapshotIntervalMSWarm: config.DefaultSnapshotIntervalMSWarm,
				ChurnLimitPerMinute:    config.DefaultChurnLimitPerMinute,
			}
		}
		m := metrics.New("mock")
		mock := venue.NewMock("mock", cfg.Mock.UniverseSize, m)
		index := universe.NewIndex(mock.Universe())
		return []*collector.Collector{
			collector.New(cfg, "mock", vcfg, mock, index, m, logger),
		}, nil
	}

	var collectors []*collector.Collector
	for _, name := range cfg.EnabledVenues() {
		vcfg := cfg.Venues[name]
		if vcfg.HotCount != 0 {
			logger.Warn("hot_count is ignored; HOT is 10% of max_subs",
				"venue", name, "hot_count", vcfg.HotCount)
		}

		index, err := universe.Load(universe.Path(cfg.Storage.Root, name, time.Now()))
		if err != nil {
			return nil, fmt.Errorf("load universe for %s: %w", name, err)
		}

		m := metrics.New(name)
		acfg := venue.DefaultAdapterConfig()
		acfg.URL = vcfg.WSURL
		adapter := venue.NewPolymarket(name, acfg, vcfg.RestURL, index, m, logger)

		collectors = append(collectors, collector.New(cfg, name, vcfg, adapter, index, m, logger))
	}
	return collectors, nil
}

func createHealthHandler(cfg *config.Config, collectors []*collector.Collector) http.Handler {
	mux := http.NewServeMux()
	mux.Handle(cfg.Metrics.Path, promhttp.Handler())

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		health := struct {
			Status     string `json:"status"`
			InstanceID string `json:"instance_id"`
			Collectors int    `json:"collectors"`
		}{
			Status:     "healthy",
			InstanceID: cfg.Instance.ID,
			Collectors: len(collectors),
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(health)
	})

	return mux
}
