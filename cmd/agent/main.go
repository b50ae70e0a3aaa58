package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fleetmon/fleetmon/internal/agent"
	"github.com/fleetmon/fleetmon/internal/config"
	"github.com/fleetmon/fleetmon/internal/logger"
	"github.com/fleetmon/fleetmon/internal/version"
)

func main() {
	configPath := flag.String("config", "", "path to agent config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	vlog := log.New(os.Stdout, "", 0)
	if *showVersion {
		version.PrintBanner("agent", true, vlog)
		return
	}
	version.PrintBanner("agent", false, vlog)

	cfg, err := config.LoadAgent(*configPath)
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

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	app := agent.NewApplication(cfg, styled)
	if err := app.Start(ctx); err != nil {
		logger.FatalWithLogger(slogger, "agent start failed", "error", err)
	}

	if err := app.Wait(ctx); err != nil {
		styled.Error("agent terminated", "error", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	app.Stop(shutdownCtx)
}
