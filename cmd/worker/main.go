// worker is the process entrypoint: it wires the monitor registry,
// window locator, template bank, scheduler, click dispatcher, frame
// cache, event channel, and scanner orchestrator together, starts the
// diagnostics HTTP surface, and waits for SIGINT/SIGTERM. Grounded on
// the teacher's cmd/server Start() signal-handling and graceful
// shutdown pattern (internal/ws.StreamManager.Cleanup is the model for
// tearing down the orchestrator before exit).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/Rain-Of-Stars/Ai-IDE-Auto-run/internal/capture"
	"github.com/Rain-Of-Stars/Ai-IDE-Auto-run/internal/click"
	"github.com/Rain-Of-Stars/Ai-IDE-Auto-run/internal/config"
	"github.com/Rain-Of-Stars/Ai-IDE-Auto-run/internal/debugimage"
	"github.com/Rain-Of-Stars/Ai-IDE-Auto-run/internal/diagnostics"
	"github.com/Rain-Of-Stars/Ai-IDE-Auto-run/internal/events"
	"github.com/Rain-Of-Stars/Ai-IDE-Auto-run/internal/locator"
	"github.com/Rain-Of-Stars/Ai-IDE-Auto-run/internal/monitor"
	"github.com/Rain-Of-Stars/Ai-IDE-Auto-run/internal/scanner"
	"github.com/Rain-Of-Stars/Ai-IDE-Auto-run/internal/templatebank"
)

func main() {
	configPath := flag.String("config", "config.json", "path to the worker's JSON configuration")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintln(os.Stderr, "worker: failed to create logger:", err)
		os.Exit(1)
	}
	defer logger.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Warn("worker: failed to load config, using defaults", zap.Error(err))
		cfg = config.DefaultConfig()
	}
	lvl, lvlErr := zap.ParseAtomicLevel(cfg.LogLevel)
	if lvlErr == nil {
		logger = logger.WithOptions(zap.IncreaseLevel(lvl.Level()))
	}

	monitors, err := monitor.New(logger)
	if err != nil {
		logger.Fatal("worker: failed to initialize monitor registry", zap.Error(err))
	}

	loc := locator.New(logger)
	bank := templatebank.New(logger, cfg.PyramidScales, cfg.MatchGrayscale, cfg.MultiScale)
	for _, p := range cfg.TemplatePathList() {
		if _, err := bank.Load(p); err != nil {
			logger.Warn("worker: template load failed", zap.String("path", p), zap.Error(err))
		}
	}

	dispatcher := click.New(logger)
	cache := capture.NewCache(logger)
	defer cache.Close()
	evCh := events.New()
	debugWriter := debugimage.New(cfg.DebugImageDir, cfg.DebugImagesEnabled, logger)

	scanCfg := scanner.Config{
		Target:         cfg.Target(),
		CaptureBackend: cfg.BackendKind(),
		MonitorIndex:   cfg.MonitorIndex,
		CaptureOpts:    cfg.CaptureOptions(),
		MatchOpts:      cfg.MatchOptions(),
		ClickOffset:    cfg.ClickOffset(),
		ClickOpts:      cfg.ClickOptions(),
		Schedule:       cfg.ScheduleConfig(),
		Whitelist:      cfg.ForegroundWhitelist,
		MinDetections:  cfg.MinDetections,
	}
	orch := scanner.New(logger, scanCfg, loc, monitors, bank, dispatcher, cache, evCh, debugWriter)

	diagSrv := diagnostics.New(logger, orch, evCh, cfg, *configPath)
	go func() {
		if err := diagSrv.ListenAndServe(cfg.ControlListenAddr); err != nil {
			logger.Warn("diagnostics server exited", zap.Error(err))
		}
	}()

	runCtx, runCancel := context.WithCancel(context.Background())
	if err := orch.Start(runCtx); err != nil {
		logger.Fatal("worker: failed to start scanner", zap.Error(err))
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("worker: shutting down")
	runCancel()
	orch.Stop()

	if err := diagSrv.Shutdown(); err != nil {
		logger.Warn("worker: diagnostics server shutdown error", zap.Error(err))
	}

	logger.Info("worker: exited")
}
