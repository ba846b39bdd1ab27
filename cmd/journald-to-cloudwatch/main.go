// Command journald-to-cloudwatch ships systemd journal entries to an AWS
// CloudWatch Logs stream.
//
// # Usage
//
//	journald-to-cloudwatch --log-group my-app-logs
//
// # Configuration
//
// Configuration can be provided via:
//   - Command-line flags
//   - Environment variables (LOG_GROUP_NAME, DEBUG, LOG_SHIPPER_*)
//   - Config file (YAML, --config)
//
// # Examples
//
// Run with flags:
//
//	journald-to-cloudwatch --log-group my-app-logs --region us-east-1
//
// Run with a config file:
//
//	journald-to-cloudwatch --config /etc/journald-to-cloudwatch/config.yaml
//
// Run with environment variables:
//
//	LOG_GROUP_NAME=my-app-logs DEBUG=1 journald-to-cloudwatch
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/offbyone/journald-to-cloudwatch/internal/config"
	"github.com/offbyone/journald-to-cloudwatch/shipper"
)

// Version is set at build time.
var Version = "dev"

func main() {
	var (
		configFile = flag.String("config", "", "Path to config file")
		logGroup   = flag.String("log-group", "", "CloudWatch Logs log group name")
		region     = flag.String("region", "", "AWS region")
		debug      = flag.Bool("debug", false, "Enable debug logging and single-event batches")
		version    = flag.Bool("version", false, "Print version and exit")
	)
	flag.Parse()

	if *version {
		fmt.Printf("journald-to-cloudwatch %s\n", Version)
		os.Exit(0)
	}

	logLevel := slog.LevelInfo
	if *debug {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))

	path := *configFile
	if path == "" {
		path = os.Getenv("LOG_SHIPPER_CONFIG_FILE")
	}

	cfg := config.Default()
	if path != "" {
		fileCfg, err := config.LoadFromFile(path)
		if err != nil {
			logger.Error("failed to load config file", "error", err)
			os.Exit(1)
		}
		cfg = fileCfg
	}

	cfg.ApplyEnvOverrides()

	if *logGroup != "" {
		cfg.LogGroupName = *logGroup
	}
	if *region != "" {
		cfg.AWS.Region = *region
	}
	if *debug {
		cfg.Debug = true
		cfg.Batching.MaxEvents = 1
	}
	if cfg.Debug && logLevel != slog.LevelDebug {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		}))
	}

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	s, err := shipper.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to construct shipper", "error", err)
		os.Exit(1)
	}
	defer s.Close()

	logger.Info("starting journald-to-cloudwatch",
		"log_group", cfg.LogGroupName,
		"region", cfg.AWS.Region,
		"debug", cfg.Debug)

	if err := s.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("shipper exited with error", "error", err)
		os.Exit(1)
	}

	logger.Info("shutdown complete")
}
