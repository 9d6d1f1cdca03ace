package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/extraction-cli/internal/observability"
	"github.com/xkilldash9x/extraction-cli/internal/queue"
)

// newQueueCmd creates the `queue` command: one locked run of the queue script.
func newQueueCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "queue",
		Short: "Run the report queue script once, unless another run holds the queue lock",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfigFromContext(cmd.Context())
			if err != nil {
				return err
			}
			rep, err := queue.NewRunner(cfg.Queue, observability.GetLogger()).Run(cmd.Context())
			if err != nil {
				return err
			}
			if rep.Skipped {
				fmt.Fprintln(cmd.OutOrStdout(), "Queue is busy; run skipped.")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Queue script finished in %s.\n", rep.Duration.Round(time.Millisecond))
			return nil
		},
	}
}

// newScheduleCmd creates the `schedule` command: the queue runner on a cron pattern.
func newScheduleCmd() *cobra.Command {
	var pattern string
	var dryRun int
	scheduleCmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run the report queue on a cron schedule until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfigFromContext(cmd.Context())
			if err != nil {
				return err
			}
			if pattern == "" {
				pattern = cfg.Queue.Schedule
			}
			if pattern == "" {
				return errors.New("no schedule configured: set queue.schedule or pass --cron")
			}

			logger := observability.GetLogger()
			s, err := queue.NewScheduler(pattern, queue.NewRunner(cfg.Queue, logger), logger)
			if err != nil {
				return err
			}
			if dryRun > 0 {
				for _, t := range s.Next(time.Now(), dryRun) {
					fmt.Fprintln(cmd.OutOrStdout(), t.Format(time.RFC3339))
				}
				return nil
			}
			return s.Run(cmd.Context())
		},
	}
	scheduleCmd.Flags().StringVar(&pattern, "cron", "", "Cron pattern, seconds optional (overrides queue.schedule)")
	scheduleCmd.Flags().IntVar(&dryRun, "next", 0, "Print the next N activation times and exit")
	return scheduleCmd
}
