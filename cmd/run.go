package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/extraction-cli/internal/config"
	"github.com/xkilldash9x/extraction-cli/internal/observability"
)

const dateLayout = "2006-01-02"

// newRunCmd creates the `run` command.
func newRunCmd(factory extractorFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "run <report> [date]",
		Short: "Extract a report, rotating through the stored credentials",
		Long: `Logs in with the first working account from the credential store, then runs
the report's configured steps. The optional date (YYYY-MM-DD) pins the period
of previous-month reports. Prints a single terminal message.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}

			var date time.Time
			if len(args) == 2 {
				date, err = time.ParseInLocation(dateLayout, args[1], time.Local)
				if err != nil {
					return fmt.Errorf("invalid date %q, expected YYYY-MM-DD: %w", args[1], err)
				}
			}
			return runExtraction(ctx, cmd, cfg, observability.GetLogger(), args[0], date, factory)
		},
	}
}

// runExtraction holds the testable core of the run command.
func runExtraction(ctx context.Context, cmd *cobra.Command, cfg *config.Config, logger *zap.Logger, report string, date time.Time, factory extractorFactory) error {
	ex, cleanup, err := factory(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize extraction: %w", err)
	}
	defer cleanup()

	res, err := ex.Run(ctx, report, date)
	if res != nil && res.Message != "" {
		fmt.Fprintln(cmd.OutOrStdout(), res.Message)
	}
	return err
}
