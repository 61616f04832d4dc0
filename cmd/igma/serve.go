package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"igma/internal/alerts"
	"igma/internal/api"
	"igma/internal/config"
	"igma/internal/engine"
	"igma/internal/ingest"
	"igma/internal/logging"
	"igma/internal/metrics"
	"igma/internal/model"
	"igma/internal/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the diagnostic service",
	Long:  "Starts the ingest listeners, the diagnostic engine and the HTTP API. The config file is watched and reloaded on change.",
	RunE:  runServe,
}

var serveWatchInterval time.Duration

func init() {
	serveCmd.Flags().DurationVar(&serveWatchInterval, "watch-interval", 3*time.Second, "Config file polling interval")
	rootCmd.AddCommand(serveCmd)
}

func runServe(_ *cobra.Command, _ []string) error {
	path := resolveConfigPath()
	if path == "" {
		path = config.ResolvePath("igma.yaml")
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := config.Save(path, config.DefaultConfig()); err != nil {
			return fmt.Errorf("failed to write default config %s: %w", path, err)
		}
	}
	mgr, err := config.NewManager(path)
	if err != nil {
		return fmt.Errorf("failed to load config %s: %w", path, err)
	}
	cfg := mgr.Get()
	logger := logging.NewLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := storage.NewStore(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	if store != nil {
		if err := store.Init(ctx); err != nil {
			_ = store.Close()
			return fmt.Errorf("failed to init storage: %w", err)
		}
		defer store.Close()
		logger.Info("storage enabled", "driver", cfg.Storage.Driver)
	}

	snapshots := metrics.NewStore(cfg.Snapshots.SubjectLimit)
	alertsStore := alerts.NewStore(cfg.Alerts.StoreLimit)
	collectors := metrics.NewCollectors()
	eng := engine.NewEngine(cfg, logger, snapshots, alertsStore, store, collectors)

	cycles := make(chan model.CycleInput, cfg.Ingest.ChannelBuffer)
	eng.Start(ctx, cycles)
	ingest.StartREST(ctx, mgr, cycles, logger)
	ingest.StartKafka(ctx, mgr, cycles, logger)
	ingest.StartFileTail(ctx, mgr, cycles, logger)
	api.Start(ctx, api.NewServer(mgr, snapshots, alertsStore, collectors, eng, logger, version))

	stopWatch := make(chan struct{})
	go mgr.Watch(serveWatchInterval, func(next *config.Config) {
		eng.UpdateConfig(next)
		logger.Info("config reloaded", "path", mgr.Path())
	}, func(err error) {
		logger.Warn("config reload failed", "path", mgr.Path(), "err", err)
	}, stopWatch)

	logger.Info("igma started", "version", version, "config", mgr.Path())
	<-ctx.Done()
	close(stopWatch)
	logger.Info("igma stopping")
	return nil
}
