// Package main is the entry point for the gateway.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cellvista/gateway/internal/config"
	"github.com/cellvista/gateway/internal/gateway"
	"github.com/cellvista/gateway/internal/observability"
)

// Version information (set at build time).
var (
	version   = "dev"
	buildTime = "unknown"
)

// forceExitGrace is how long after the drain deadline the process
// waits before exiting regardless of cleanup state.
const forceExitGrace = 5 * time.Second

// cliFlags holds command line flags.
type cliFlags struct {
	configPath  string
	logLevel    string
	logFormat   string
	showVersion bool
}

func main() {
	flags := parseFlags()

	if flags.showVersion {
		fmt.Printf("gateway version %s\n", version)
		fmt.Printf("  Build time: %s\n", buildTime)
		return
	}

	logger := initLogger(flags)
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load(flags.configPath)
	if err != nil {
		logger.Fatal("failed to load configuration", observability.Error(err))
	}

	gateway.Version = version
	gw, err := gateway.New(cfg, gateway.WithLogger(logger))
	if err != nil {
		logger.Fatal("failed to build gateway", observability.Error(err))
	}

	run(gw, cfg, flags.configPath, logger)
}

func parseFlags() cliFlags {
	configPath := flag.String("config", getEnvOrDefault("GATEWAY_CONFIG_PATH", "configs/gateway.yaml"),
		"Path to configuration file")
	logLevel := flag.String("log-level", getEnvOrDefault("GATEWAY_LOG_LEVEL", "info"),
		"Log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", getEnvOrDefault("GATEWAY_LOG_FORMAT", "json"),
		"Log format (json, console)")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	return cliFlags{
		configPath:  *configPath,
		logLevel:    *logLevel,
		logFormat:   *logFormat,
		showVersion: *showVersion,
	}
}

func initLogger(flags cliFlags) observability.Logger {
	logger, err := observability.NewLogger(observability.LogConfig{
		Level:  flags.logLevel,
		Format: flags.logFormat,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	observability.SetGlobalLogger(logger)
	return logger
}

func run(gw *gateway.Gateway, cfg *config.Config, configPath string, logger observability.Logger) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := gw.Start(ctx); err != nil {
		logger.Fatal("failed to start gateway", observability.Error(err))
	}

	watcher, err := config.NewWatcher(configPath, func(fresh *config.Config) {
		if reloadErr := gw.Reload(fresh); reloadErr != nil {
			logger.Error("configuration reload rejected", observability.Error(reloadErr))
		}
	}, logger)
	if err != nil {
		logger.Warn("config watcher unavailable", observability.Error(err))
	} else {
		watcher.Start()
		defer func() { _ = watcher.Stop() }()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("shutdown signal received", observability.String("signal", sig.String()))

	grace := cfg.Shutdown.GracePeriod.Duration()
	if grace <= 0 {
		grace = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), grace)
	defer shutdownCancel()

	// Failsafe: exit even if cleanup wedges.
	exitTimer := time.AfterFunc(grace+forceExitGrace, func() {
		logger.Error("shutdown did not complete in time, forcing exit")
		os.Exit(1)
	})
	defer exitTimer.Stop()

	if err := gw.Stop(shutdownCtx); err != nil {
		logger.Error("shutdown finished with errors", observability.Error(err))
		os.Exit(1)
	}
}

func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
