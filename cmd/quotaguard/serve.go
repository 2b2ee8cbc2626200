package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"mercator-hq/quotaguard/pkg/cli"
	"mercator-hq/quotaguard/pkg/config"
	"mercator-hq/quotaguard/pkg/limits"
	"mercator-hq/quotaguard/pkg/limits/maintenance"
	"mercator-hq/quotaguard/pkg/server"
	"mercator-hq/quotaguard/pkg/telemetry"
	"mercator-hq/quotaguard/pkg/telemetry/health"
)

var serveFlags struct {
	listenAddress string
	logLevel      string
	dryRun        bool
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the limiter with its ops server",
	Long: `Build the configured tiers, restore saved window logs, start the
maintenance jobs and serve health, metrics and limiter state until SIGINT or
SIGTERM.

The config file is watched: classification changes and the log level apply
without a restart. SIGHUP forces a reload. On shutdown a final snapshot of
local windows is saved.

Examples:
  # Start with defaults (local tiers, ops server on 127.0.0.1:9090)
  quotaguard serve

  # Start with a config file
  quotaguard serve --config /etc/quotaguard/quotaguard.yaml

  # Validate config without starting
  quotaguard serve --config quotaguard.yaml --dry-run`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVarP(&serveFlags.listenAddress, "listen", "l", "", "override ops server listen address")
	serveCmd.Flags().StringVar(&serveFlags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	serveCmd.Flags().BoolVar(&serveFlags.dryRun, "dry-run", false, "validate config without starting")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveFlags.listenAddress != "" {
		cfg.Server.ListenAddress = serveFlags.listenAddress
	}
	if serveFlags.logLevel != "" {
		cfg.Telemetry.Logging.Level = serveFlags.logLevel
	}
	if err := config.Validate(cfg); err != nil {
		return cli.NewConfigError("flags", err.Error())
	}

	if serveFlags.dryRun {
		fmt.Fprintln(cmd.OutOrStdout(), "✓ Configuration valid")
		return nil
	}
	config.SetConfig(cfg)

	tel, err := telemetry.New(&cfg.Telemetry, Version, cmd.ErrOrStderr())
	if err != nil {
		return cli.NewCommandError("serve", err)
	}
	logger := tel.Logger().Slog()

	ctx, cancel := cli.SetupSignalHandler(cmd.Context())
	defer cancel()

	manager, err := limits.NewManager(cfg,
		limits.WithLogger(logger),
		limits.WithRegisterer(tel.Metrics().Registry()),
	)
	if err != nil {
		return cli.NewCommandError("serve", err)
	}
	defer func() {
		if err := manager.Close(); err != nil {
			logger.Error("failed to close limits manager", "error", err)
		}
	}()

	if err := manager.Preload(ctx); err != nil {
		// Scripts are loaded again on first use.
		logger.Warn("failed to preload admission script", "error", err)
	}
	if _, err := manager.Restore(ctx); err != nil {
		logger.Warn("failed to restore window logs", "error", err)
	}
	manager.RegisterHealthChecks(tel.Health())

	scheduler := maintenance.NewScheduler(tel.Metrics().Jobs(), logger)
	for _, job := range manager.Jobs() {
		if err := scheduler.Add(job); err != nil {
			return cli.NewCommandError("serve", err)
		}
	}
	if err := scheduler.Start(ctx); err != nil {
		return cli.NewCommandError("serve", err)
	}
	defer scheduler.Stop()

	reload := func(next *config.Config) error {
		manager.ApplyConfig(next)
		return tel.Reload(&next.Telemetry)
	}
	if cfgFile != "" {
		stopWatch := watchConfig(ctx, logger, reload)
		defer stopWatch()
	}

	srv := server.NewServer(&cfg.Server, manager, tel.Health(), tel.Metrics(),
		health.NewVersionInfo(Version, GitCommit, BuildDate), logger)

	logger.Info("quotaguard started",
		"version", Version,
		"config", cfgFile,
		"tiers", manager.Limiter().Tiers(),
		"listen_address", cfg.Server.ListenAddress,
	)

	// Start blocks until a signal cancels ctx.
	serveErr := srv.Start(ctx)

	logger.Info("shutting down")
	scheduler.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := tel.Shutdown(shutdownCtx); err != nil {
		logger.Warn("telemetry shutdown failed", "error", err)
	}

	if serveErr != nil {
		return cli.NewCommandError("serve", serveErr)
	}
	return nil
}

// watchConfig reloads the config file on change and on SIGHUP. The returned
// function stops both.
func watchConfig(ctx context.Context, logger *slog.Logger, apply func(*config.Config) error) func() {
	watcher, err := config.NewWatcher(cfgFile, config.DefaultDebounceInterval, logger)
	if err != nil {
		logger.Warn("config hot reload disabled", "error", err)
	} else {
		go func() {
			if err := watcher.Watch(ctx, apply); err != nil && ctx.Err() == nil {
				logger.Warn("config watcher stopped", "error", err)
			}
		}()
	}

	hup, stopHup := cli.ReloadSignal()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-hup:
				next, err := config.ReloadConfig(cfgFile)
				if err != nil {
					logger.Error("config reload failed", "error", err)
					continue
				}
				if err := apply(next); err != nil {
					logger.Error("config reload failed", "error", err)
				}
			}
		}
	}()

	return func() {
		stopHup()
		if watcher != nil {
			_ = watcher.Stop()
		}
	}
}
