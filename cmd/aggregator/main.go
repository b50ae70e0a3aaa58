package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fleetmon/fleetmon/internal/aggregator"
	"github.com/fleetmon/fleetmon/internal/config"
	"github.com/fleetmon/fleetmon/internal/core/domain"
	"github.com/fleetmon/fleetmon/internal/logger"
	"github.com/fleetmon/fleetmon/internal/version"
)

func main() {
	configPath := flag.String("config", "", "path to aggregator config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	vlog := log.New(os.Stdout, "", 0)
	if *showVersion {
		version.PrintBanner("aggregator", true, vlog)
		return
	}
	version.PrintBanner("aggregator", false, vlog)

	cfg, err := config.LoadAggregator(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logCfg := &logger.Config{
		Level:      cfg.Logging.Level,
		Theme:      cfg.Logging.Theme,
		MaxSize:    cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.BackupCount,
	}
	if cfg.Logging.File != "" {
		logCfg.FileOutput = true
		logCfg.LogDir = filepath.Dir(cfg.Logging.File)
		logCfg.FileName = filepath.Base(cfg.Logging.File)
	}
	slogger, styled, cleanup, err := logger.NewWithTheme(logCfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init failed:", err)
		os.Exit(1)
	}
	defer cleanup()

	app, err := aggregator.NewApplication(cfg, styled)
	if err != nil {
		if errors.Is(err, domain.ErrAlreadyLocked) {
			logger.FatalWithLogger(slogger, "another aggregator is already running",
				"database", cfg.Database.Path)
		}
		logger.FatalWithLogger(slogger, "aggregator start failed", "error", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	app.Start()

	if err := app.Wait(ctx); err != nil {
		styled.Error("aggregator terminated", "error", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	app.Stop(shutdownCtx)
}
