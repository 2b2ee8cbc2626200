package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"mercator-hq/quotaguard/pkg/cli"
	"mercator-hq/quotaguard/pkg/config"
	"mercator-hq/quotaguard/pkg/telemetry/logging"
)

var (
	// Global flags
	cfgFile      string
	verbose      bool
	outputFormat string
)

var rootCmd = &cobra.Command{
	Use:   "quotaguard",
	Short: "Quotaguard - sliding window rate limiting for LLM traffic",
	Long: `Quotaguard admits requests against tiers of sliding window limits:
per (user, model) pair, per model, per model class and per token budget.

Windows live in process or in Redis, where one atomic script per admission
keeps every replica on the same count. Without a config file the defaults
apply: 100 requests per hour per (user, model) and 10000 per hour per model.

Every setting can be overridden with QUOTAGUARD_* environment variables,
for example QUOTAGUARD_STORE_ADDRESSES=redis-a:6379,redis-b:6379.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	err := rootCmd.Execute()
	var denied *cli.DeniedError
	if err != nil && !errors.As(err, &denied) {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	return cli.ExitCode(err)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path (defaults apply when empty)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "text", "output format: text, json, csv")
}

// loadConfig reads the config file named by --config with environment
// overrides applied.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfigWithEnvOverrides(cfgFile)
	if err != nil {
		return nil, cli.NewConfigError(cfgFile, err.Error())
	}
	return cfg, nil
}

// commandLogger returns the logger of one-shot commands: warnings only on
// stderr, everything with --verbose.
func commandLogger(w io.Writer) *slog.Logger {
	level := "warn"
	if verbose {
		level = "debug"
	}
	logger, err := logging.New(logging.Config{Level: level, Format: string(logging.FormatConsole), Writer: w})
	if err != nil {
		return slog.Default()
	}
	return logger.Slog()
}

// printResult writes data in the format selected by --output.
func printResult(w io.Writer, data any) error {
	format, err := cli.ParseOutputFormat(outputFormat)
	if err != nil {
		return err
	}
	return cli.NewFormatter(format).FormatTo(w, data)
}
