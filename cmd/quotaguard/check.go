package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"mercator-hq/quotaguard/pkg/cli"
	"mercator-hq/quotaguard/pkg/limits"
	"mercator-hq/quotaguard/pkg/limits/tiered"
)

var checkFlags struct {
	user         string
	model        string
	requestID    string
	inputTokens  int64
	outputTokens int64
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Ask for one admission decision",
	Long: `Evaluate one request against every configured tier and record it when
allowed. The command exits 0 when the request is allowed and 2 when denied.

Local tiers start empty in every process, so check is mostly useful against
the redis backend.

Examples:
  # One request by alice to gpt-4
  quotaguard check --user alice --model gpt-4

  # Charge a token tier and retry safely with a fixed request ID
  quotaguard check --user alice --model gpt-4 --input-tokens 500 --output-tokens 200 --request-id job-42

  # JSON decision
  quotaguard check --user alice --model gpt-4 -o json`,
	RunE: runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)

	checkCmd.Flags().StringVarP(&checkFlags.user, "user", "u", "", "user id (required)")
	checkCmd.Flags().StringVarP(&checkFlags.model, "model", "m", "", "model name (required)")
	checkCmd.Flags().StringVar(&checkFlags.requestID, "request-id", "", "request ID; generated when empty")
	checkCmd.Flags().Int64Var(&checkFlags.inputTokens, "input-tokens", 0, "input tokens, charged by token tiers")
	checkCmd.Flags().Int64Var(&checkFlags.outputTokens, "output-tokens", 0, "output tokens, charged twice by token tiers")
	_ = checkCmd.MarkFlagRequired("user")
	_ = checkCmd.MarkFlagRequired("model")
}

func runCheck(cmd *cobra.Command, args []string) error {
	manager, err := newCommandManager(cmd)
	if err != nil {
		return err
	}
	defer manager.Close()

	decision, err := manager.Admit(cmd.Context(), tiered.Request{
		User:         checkFlags.user,
		Model:        checkFlags.model,
		RequestID:    checkFlags.requestID,
		InputTokens:  checkFlags.inputTokens,
		OutputTokens: checkFlags.outputTokens,
	})
	if err != nil {
		return cli.NewCommandError("check", err)
	}

	if outputFormat == string(cli.FormatJSON) {
		err = printResult(cmd.OutOrStdout(), decision)
	} else {
		err = printResult(cmd.OutOrStdout(), decisionTable(decision))
	}
	if err != nil {
		return err
	}

	if !decision.Allowed {
		return &cli.DeniedError{Reason: decision.Reason}
	}
	return nil
}

func decisionTable(d tiered.Decision) *cli.Table {
	table := &cli.Table{Headers: []string{"TIER", "KEY", "ALLOWED", "LIMIT", "REMAINING", "RETRY AFTER", "NOTE"}}
	for _, r := range d.Evaluated {
		note := ""
		switch {
		case r.Duplicate:
			note = "duplicate"
		case r.Fallback != "":
			note = "fallback " + r.Fallback.String()
		case !r.Allowed:
			note = r.Reason
		}
		table.AddRow(r.Tier, r.Key, r.Allowed, r.Limit, r.Remaining, r.RetryAfter.Round(time.Millisecond), note)
	}
	table.AddRow("=", "request "+d.RequestID, d.Allowed, "", d.Remaining, d.RetryAfter.Round(time.Millisecond), d.Reason)
	return table
}

// newCommandManager builds a manager for a one-shot command. Snapshots are
// disabled so that the short-lived process never overwrites the state saved
// by a serving one.
func newCommandManager(cmd *cobra.Command) (*limits.Manager, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	cfg.Snapshot.Enabled = false

	manager, err := limits.NewManager(cfg, limits.WithLogger(commandLogger(cmd.ErrOrStderr())))
	if err != nil {
		return nil, cli.NewCommandError(cmd.Name(), fmt.Errorf("failed to build limiter: %w", err))
	}
	return manager, nil
}
