// Package main is the entry point for the now-playing ingestion
// engine daemon.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/nowplaying-fm/ingest-engine/internal/buildinfo"
	"github.com/nowplaying-fm/ingest-engine/internal/config"
	"github.com/nowplaying-fm/ingest-engine/internal/connwatch"
	"github.com/nowplaying-fm/ingest-engine/internal/diagnostics"
	"github.com/nowplaying-fm/ingest-engine/internal/store/sqlstore"
	"github.com/nowplaying-fm/ingest-engine/internal/supervisor"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	if flag.NArg() > 0 && flag.Arg(0) == "version" {
		fmt.Println(buildinfo.String())
		for k, v := range buildinfo.BuildInfo() {
			fmt.Printf("  %-12s %s\n", k+":", v)
		}
		return
	}

	runServe(logger, *configPath)
}

func runServe(logger *slog.Logger, configPath string) {
	logger.Info("starting ingestd", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "branch", buildinfo.GitBranch, "built", buildinfo.BuildTime)

	if configPath == "" {
		configPath = os.Getenv("CONFIG_FILE")
	}
	cfg := config.Default()
	if cfgPath, err := config.FindConfig(configPath); err == nil {
		loaded, err := config.Load(cfgPath)
		if err != nil {
			logger.Error("failed to load config", "path", cfgPath, "error", err)
			os.Exit(1)
		}
		cfg = loaded
		logger.Info("config loaded", "path", cfgPath)
	} else {
		logger.Info("no config file found, using defaults", "detail", err)
	}

	if envLevel := os.Getenv("LOG_LEVEL"); envLevel != "" {
		cfg.LogLevel = envLevel
	}
	level, err := config.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		logger.Error("invalid log_level in config", "error", err)
		os.Exit(1)
	}
	logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}))

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		logger.Error("DATABASE_URL is required")
		os.Exit(1)
	}

	st, err := sqlstore.Open(dsn)
	if err != nil {
		logger.Error("failed to open store", "dsn", dsn, "error", err)
		os.Exit(1)
	}
	logger.Info("store opened", "dsn", dsn)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var diagServer *diagnostics.Server
	if cfg.Diagnostics.Enabled {
		watch := connwatch.NewManager(logger)
		watch.Watch(ctx, connwatch.WatcherConfig{
			Name:  "store",
			Probe: func(probeCtx context.Context) error { return st.Ping(probeCtx) },
		})

		diagServer = diagnostics.New(diagnostics.Addr(cfg.Diagnostics.Address), watch, logger)
		go func() {
			if err := diagServer.Start(ctx); err != nil {
				logger.Error("diagnostics server failed", "error", err)
			}
		}()
	}

	sup := supervisor.New(st, logger, cfg)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutdown signal received")
		cancel()
		if diagServer != nil {
			_ = diagServer.Shutdown(context.Background())
		}
	}()

	sup.Run(ctx)
	logger.Info("ingestd stopped")
}
