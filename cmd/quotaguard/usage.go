package main

import (
	"github.com/spf13/cobra"

	"mercator-hq/quotaguard/pkg/cli"
)

var usageFlags struct {
	user  string
	model string
}

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Show window usage without recording a request",
	Long: `Show, for every tier, the key a request by the user to the model maps
to and how much of its window is used. Nothing is recorded.

Examples:
  quotaguard usage --user alice --model gpt-4
  quotaguard usage --user alice --model gpt-4 -o csv`,
	RunE: runUsage,
}

func init() {
	rootCmd.AddCommand(usageCmd)

	usageCmd.Flags().StringVarP(&usageFlags.user, "user", "u", "", "user id (required)")
	usageCmd.Flags().StringVarP(&usageFlags.model, "model", "m", "", "model name (required)")
	_ = usageCmd.MarkFlagRequired("user")
	_ = usageCmd.MarkFlagRequired("model")
}

func runUsage(cmd *cobra.Command, args []string) error {
	manager, err := newCommandManager(cmd)
	if err != nil {
		return err
	}
	defer manager.Close()

	usage, err := manager.Usage(cmd.Context(), usageFlags.user, usageFlags.model)
	if err != nil {
		return cli.NewCommandError("usage", err)
	}

	if outputFormat == string(cli.FormatJSON) {
		return printResult(cmd.OutOrStdout(), usage)
	}
	table := &cli.Table{Headers: []string{"TIER", "KEY", "COUNT", "LIMIT"}}
	for _, u := range usage {
		table.AddRow(u.Tier, u.Key, u.Count, u.Limit)
	}
	return printResult(cmd.OutOrStdout(), table)
}
