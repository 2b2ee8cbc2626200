package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"mercator-hq/quotaguard/pkg/cli"
	"mercator-hq/quotaguard/pkg/limits/ratelimit"
)

var resetFlags struct {
	user   string
	model  string
	global bool
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Clear limiter state in the store",
	Long: `Clear the window of one (user, model) key, or of every key of the user
when --model is omitted, in every tier. --global targets the keys shared by
all users (model and class tiers) instead of a user.

Only store backed tiers are affected: local tiers live in the serving process.

Examples:
  # Clear everything alice consumed
  quotaguard reset --user alice

  # Clear alice's gpt-4 window only
  quotaguard reset --user alice --model gpt-4

  # Clear the shared gpt-4 window
  quotaguard reset --global --model gpt-4`,
	RunE: runReset,
}

func init() {
	rootCmd.AddCommand(resetCmd)

	resetCmd.Flags().StringVarP(&resetFlags.user, "user", "u", "", "user id")
	resetCmd.Flags().StringVarP(&resetFlags.model, "model", "m", "", "model name; every model when empty")
	resetCmd.Flags().BoolVar(&resetFlags.global, "global", false, "reset the keys shared by all users")
}

func runReset(cmd *cobra.Command, args []string) error {
	tenant := resetFlags.user
	if resetFlags.global {
		if tenant != "" {
			return cli.NewConfigError("user", "--user and --global are mutually exclusive")
		}
		tenant = ratelimit.GlobalTenant
	}
	if tenant == "" {
		return cli.NewConfigError("user", "--user or --global is required")
	}

	manager, err := newCommandManager(cmd)
	if err != nil {
		return err
	}
	defer manager.Close()

	cleared, err := manager.Reset(cmd.Context(), tenant, resetFlags.model)
	if err != nil {
		return cli.NewCommandError("reset", err)
	}

	if outputFormat == string(cli.FormatJSON) {
		return printResult(cmd.OutOrStdout(), map[string]any{"tenant": tenant, "resource": resetFlags.model, "keys_cleared": cleared})
	}
	return printResult(cmd.OutOrStdout(), fmt.Sprintf("✓ Cleared %d keys", cleared))
}
