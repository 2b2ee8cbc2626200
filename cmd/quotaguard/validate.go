package main

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"mercator-hq/quotaguard/pkg/cli"
	"mercator-hq/quotaguard/pkg/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate [file]",
	Short: "Validate a configuration file",
	Long: `Load a configuration file with defaults and environment overrides
applied, report every invalid field and print the resulting tiers.

Examples:
  quotaguard validate quotaguard.yaml
  quotaguard validate --config quotaguard.yaml -o json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	if len(args) == 1 {
		cfgFile = args[0]
	}
	if cfgFile == "" {
		return cli.NewConfigError("config", "a config file is required")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if outputFormat == string(cli.FormatJSON) {
		return printResult(cmd.OutOrStdout(), cfg.Limits)
	}

	table := &cli.Table{Headers: []string{"TIER", "SCOPE", "BACKEND", "LIMIT"}}
	for _, tier := range cfg.Limits.Tiers {
		table.AddRow(tier.Name, tier.Scope, tierBackend(tier), describeLimit(tier))
	}
	if outputFormat != string(cli.FormatCSV) {
		fmt.Fprintf(cmd.OutOrStdout(), "✓ %s is valid (failure policy %s)\n", cfgFile, cfg.Limits.FailurePolicy)
	}
	return printResult(cmd.OutOrStdout(), table)
}

func tierBackend(tier config.TierConfig) string {
	if tier.Scope == config.ScopeTokens {
		return config.BackendLocal
	}
	return tier.Backend
}

func describeLimit(tier config.TierConfig) string {
	switch tier.Scope {
	case config.ScopeTokens:
		return fmt.Sprintf("%d tokens / %s", tier.MaxTokens, tier.Refill)
	case config.ScopeClass:
		parts := make([]string, 0, len(tier.Classes))
		for _, class := range slices.Sorted(maps.Keys(tier.Classes)) {
			rl := tier.Classes[class]
			parts = append(parts, fmt.Sprintf("%s=%d/%s", class, rl.MaxRequests, rl.Window))
		}
		return strings.Join(parts, " ")
	default:
		return fmt.Sprintf("%d / %s", tier.MaxRequests, tier.Window)
	}
}
