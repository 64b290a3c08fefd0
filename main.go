// Package main is the entry point for the glucoloop daemon
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mrcode/glucoloop/internal/analytics"
	"github.com/mrcode/glucoloop/internal/bus"
	"github.com/mrcode/glucoloop/internal/config"
	"github.com/mrcode/glucoloop/internal/loop"
	"github.com/mrcode/glucoloop/internal/models"
	"github.com/mrcode/glucoloop/internal/notifications"
	"github.com/mrcode/glucoloop/internal/pump"
	"github.com/mrcode/glucoloop/internal/render"
	"github.com/mrcode/glucoloop/internal/store"
)

var configPath = flag.String("config", "configs/config.yaml", "Path to configuration file")

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger := newLogger(cfg.Logging)
	logger.Info("configuration loaded", "path", *configPath)

	settings := models.DefaultSettings()
	if err := settings.Load(); err != nil {
		logger.Warn("failed to load user settings, using defaults", "error", err.Error())
	}

	events := bus.New()
	defer events.Close()

	dataStore, err := store.New(cfg.Loop.DBPath, cfg.Parameters(), events)
	if err != nil {
		logger.Error("failed to initialize store", "error", err.Error())
		os.Exit(1)
	}
	defer func() {
		if err := dataStore.Close(); err != nil {
			logger.Error("failed to close store", "error", err.Error())
		}
	}()

	pumpManager := pump.NewManager(events)
	var device pump.Device
	if cfg.Pump.Simulator {
		device = pump.NewSimulator()
		logger.Info("using simulated pump device")
	} else {
		device = pump.NewBridge(cfg.Pump.BridgeURL, cfg.Pump.APISecret, cfg.Pump.Timeout)
		logger.Info("using pump bridge", "url", cfg.Pump.BridgeURL)
	}
	pumpManager.SetDevice(device)

	notifier := notifications.NewManager(settings)
	defer notifier.Stop()

	metrics := analytics.New(prometheus.DefaultRegisterer)
	go func() {
		logger.Info("serving metrics", "addr", cfg.Loop.MetricsAddr)
		mux := http.NewServeMux()
		mux.Handle("/metrics", analytics.Handler())
		if err := http.ListenAndServe(cfg.Loop.MetricsAddr, mux); err != nil {
			logger.Error("metrics server stopped", "error", err.Error())
		}
	}()

	engine := loop.New(loop.Options{
		Logger:   logger,
		Events:   events,
		Glucose:  dataStore,
		Carbs:    dataStore,
		Doses:    dataStore,
		Pump:     pumpManager,
		Settings: cfg,
		Dosing:   settings,
		Notifier: notifier,
		Metrics:  metrics,
	})
	engine.Start()
	defer engine.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("shutdown signal received")
		cancel()
	}()

	// Chart rendering runs off the bus but outside the engine's decision
	// queue: the LoopDataUpdated handler only signals, the goroutine reads.
	if cfg.Loop.ChartPath != "" {
		chartTick := make(chan struct{}, 1)
		events.Subscribe(bus.LoopDataUpdated, func(bus.Event) {
			select {
			case chartTick <- struct{}{}:
			default:
			}
		})
		go renderCharts(ctx, logger, cfg, engine, dataStore, chartTick)
	}

	statusTicker := time.NewTicker(cfg.Pump.StatusInterval)
	defer statusTicker.Stop()
	pruneTicker := time.NewTicker(6 * time.Hour)
	defer pruneTicker.Stop()

	pollPumpStatus(ctx, logger, device, pumpManager)

	logger.Info("glucoloop running",
		"dosing_enabled", settings.IsDosingEnabled(),
		"status_interval", cfg.Pump.StatusInterval,
	)

	for {
		select {
		case <-ctx.Done():
			logger.Info("service stopped")
			return

		case <-statusTicker.C:
			pollPumpStatus(ctx, logger, device, pumpManager)

		case <-pruneTicker.C:
			if err := dataStore.Prune(ctx, time.Now().Add(-7*24*time.Hour)); err != nil {
				logger.Warn("failed to prune history", "error", err.Error())
			}
		}
	}
}

// pollPumpStatus fetches pump telemetry; publishing it kicks the decision
// engine's delayed loop run.
func pollPumpStatus(ctx context.Context, logger *slog.Logger, device pump.Device, manager *pump.Manager) {
	status, err := device.ReadStatus(ctx)
	if err != nil {
		logger.Warn("failed to read pump status", "error", err.Error())
		return
	}
	manager.UpdateStatus(status)
}

// renderCharts redraws the dashboard chart after every settled tick
func renderCharts(ctx context.Context, logger *slog.Logger, cfg *config.Config, engine *loop.Engine, dataStore *store.Store, tick <-chan struct{}) {
	chart := &render.Chart{Targets: cfg.TherapySettings().GlucoseTargetRange}

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
		}

		status := engine.Status(ctx)
		history, err := dataStore.RecentGlucose(ctx, time.Now().Add(-3*time.Hour))
		if err != nil {
			logger.Warn("failed to load history for chart", "error", err.Error())
			continue
		}
		if err := chart.WriteFile(cfg.Loop.ChartPath, history, status.Prediction); err != nil {
			logger.Warn("failed to render chart", "error", err.Error())
		}
	}
}
