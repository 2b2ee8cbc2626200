/*
Package cli provides command-line interface utilities for quotaguard.

The cli package includes output formatters, a progress reporter, exit codes
and signal helpers used by the quotaguard command.

Output Formatting:

Command results are written as text, JSON or CSV. Tabular results use Table,
which the text formatter aligns in columns:

	table := &cli.Table{Headers: []string{"TIER", "COUNT", "LIMIT"}}
	table.AddRow("user-model", 3, 100)
	if err := cli.NewFormatter(format).FormatTo(os.Stdout, table); err != nil {
		return err
	}

Exit Codes:

A denied admission check exits with ExitDenied so scripts can tell a denial
from a failure:

	os.Exit(cli.ExitCode(err))

Signal Handling:

For graceful shutdown on SIGINT/SIGTERM:

	ctx, cancel := cli.SetupSignalHandler(context.Background())
	defer cancel()
*/
package cli
