// Command perfoverlay samples host performance counters once per frame and
// renders them as a small heads-up display.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/lauralex/PerformanceMonitorWidget/internal/config"
	"github.com/lauralex/PerformanceMonitorWidget/internal/overlay"
	"github.com/lauralex/PerformanceMonitorWidget/internal/perfmon"
	"github.com/lauralex/PerformanceMonitorWidget/internal/version"
	"github.com/lauralex/PerformanceMonitorWidget/internal/wmi"
)

func main() {
	configPath := flag.String("config", "", "path to configuration file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Info())
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load configuration:", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.LogLevel())
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to initialize logger:", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("performance overlay starting",
		zap.String("version", version.Short()),
		zap.Duration("frame_interval", cfg.FrameInterval()),
	)

	backend := wmi.New(logger)
	monitor := perfmon.New(backend, perfmon.Config{
		Namespace:    cfg.Namespace(),
		QueryTimeout: cfg.QueryTimeout(),
	}, logger)

	// A failed session is a hard startup failure: no overlay is shown and
	// there is no degraded mode.
	if !monitor.Initialize() {
		logger.Fatal("failed to establish instrumentation session")
	}
	defer monitor.Shutdown()

	loop := overlay.NewLoop(
		monitor,
		overlay.NewTextRenderer(os.Stdout),
		overlay.NewHistory(cfg.HistorySize()),
		cfg.FrameInterval(),
		logger,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		cancel()
	}()

	if err := loop.Run(ctx); err != nil {
		logger.Error("overlay loop error", zap.Error(err))
	}

	logger.Info("performance overlay stopped")
}

// newLogger builds a production logger at the configured level.
func newLogger(level string) (*zap.Logger, error) {
	zapCfg := zap.NewProductionConfig()
	if level != "" {
		lvl, err := zapcore.ParseLevel(level)
		if err != nil {
			return nil, fmt.Errorf("parse log level %q: %w", level, err)
		}
		zapCfg.Level = zap.NewAtomicLevelAt(lvl)
	}
	return zapCfg.Build()
}
