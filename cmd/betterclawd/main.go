package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/BetterClaw-app/betterclaw-plugin/internal/config"
	"github.com/BetterClaw-app/betterclaw-plugin/internal/contextstore"
	"github.com/BetterClaw-app/betterclaw-plugin/internal/delivery"
	"github.com/BetterClaw-app/betterclaw-plugin/internal/eventlog"
	"github.com/BetterClaw-app/betterclaw-plugin/internal/ingest"
	"github.com/BetterClaw-app/betterclaw-plugin/internal/judgment"
	"github.com/BetterClaw-app/betterclaw-plugin/internal/logging"
	"github.com/BetterClaw-app/betterclaw-plugin/internal/patterns"
	"github.com/BetterClaw-app/betterclaw-plugin/internal/pipeline"
	"github.com/BetterClaw-app/betterclaw-plugin/internal/proactive"
	"github.com/BetterClaw-app/betterclaw-plugin/internal/rpc"
	"github.com/BetterClaw-app/betterclaw-plugin/internal/rules"
	"github.com/BetterClaw-app/betterclaw-plugin/internal/storage"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "", "path to config file (json or yaml)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return
	}

	cfgManager, err := config.NewManager(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}
	cfg := cfgManager.Get()
	logger := logging.NewLogger(cfg.LogLevel)

	stateDir := config.ResolveStateDir(cfg)
	logger.Info("starting betterclaw plugin", "version", version, "state_dir", stateDir)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	journal := eventlog.New(filepath.Join(stateDir, "events.jsonl"))
	store := contextstore.New(stateDir, logger)

	archive, err := storage.NewStore(cfg.Storage)
	if err != nil {
		logger.Error("archive store unavailable", "err", err)
	}
	if archive != nil {
		if err := archive.Init(ctx); err != nil {
			logger.Error("archive init failed", "err", err)
			archive = nil
		} else {
			defer archive.Close()
		}
	}

	rulesEngine := rules.NewEngine(cfg.Pipeline.PushBudgetPerDay, time.Local)
	judge := judgment.New(
		judgment.NewOpenAIInvoker(cfg.Judgment.APIKey, cfg.Judgment.BaseURL),
		cfg.Judgment.Model,
		cfg.Pipeline.PushBudgetPerDay,
		cfg.Judgment.Timeout,
		logger,
	)
	runner := delivery.NewRunner(
		cfg.Delivery.Command,
		cfg.Delivery.SessionID,
		cfg.Delivery.Channel,
		cfg.Delivery.Timeout,
		logger,
	)

	pipe := pipeline.New(journal, store, rulesEngine, judge, runner, archive, cfg.Pipeline.QueueSize, logger)
	pipe.Start(ctx)

	insights := proactive.NewStore(200)
	rpc.Start(ctx, cfgManager, pipe, store, insights, logger, version)
	ingest.StartKafka(ctx, cfgManager, pipe, logger)

	patternEngine := patterns.NewEngine(journal, store, cfg.Patterns.WindowDays, time.Local, logger)
	proactiveEngine := proactive.NewEngine(store, runner, insights, archive, time.Local, logger)

	scheduler := cron.New()
	_, err = scheduler.AddFunc(fmt.Sprintf("@every %s", cfg.Patterns.Interval), func() {
		if err := patternEngine.Run(ctx); err != nil {
			logger.Error("pattern compute failed", "err", err)
		}
	})
	if err != nil {
		logger.Error("pattern schedule failed", "err", err)
	}
	if cfg.Proactive.Enabled {
		_, err = scheduler.AddFunc(fmt.Sprintf("@every %s", cfg.Proactive.Interval), func() {
			proactiveEngine.Scan(ctx)
		})
		if err != nil {
			logger.Error("proactive schedule failed", "err", err)
		}
	}
	scheduler.Start()
	defer scheduler.Stop()

	// Immediate first pattern run once the lane is initialized, and a
	// delayed warmup scan for the proactive engine.
	go func() {
		select {
		case <-pipe.Ready():
		case <-ctx.Done():
			return
		}
		if err := patternEngine.Run(ctx); err != nil {
			logger.Error("pattern compute failed", "err", err)
		}
	}()
	if cfg.Proactive.Enabled {
		warmup := time.AfterFunc(cfg.Proactive.WarmupDelay, func() {
			proactiveEngine.Scan(ctx)
		})
		defer warmup.Stop()
	}

	if cfgManager.Path() != "" {
		go cfgManager.Watch(3*time.Second, func(updated *config.Config) {
			logger.Info("config reloaded", "path", cfgManager.Path())
		}, func(err error) {
			logger.Warn("config reload failed", "err", err)
		}, ctx.Done())
	}

	<-ctx.Done()
	logger.Info("shutting down")
}
