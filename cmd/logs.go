package cmd

import (
	"errors"
	"fmt"
	"io"

	"github.com/hpcloud/tail"
	"github.com/spf13/cobra"
)

// newLogsCmd creates the `logs` command over the JSON activity log.
func newLogsCmd() *cobra.Command {
	var follow bool
	logsCmd := &cobra.Command{
		Use:   "logs",
		Short: "Print the activity log, optionally following new entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfigFromContext(cmd.Context())
			if err != nil {
				return err
			}
			if cfg.Logger.LogFile == "" {
				return errors.New("no log file configured (logger.log_file)")
			}

			tc := tail.Config{
				Follow:    follow,
				ReOpen:    follow,
				MustExist: true,
				Logger:    tail.DiscardingLogger,
			}
			if follow {
				tc.Location = &tail.SeekInfo{Offset: 0, Whence: io.SeekEnd}
			}
			t, err := tail.TailFile(cfg.Logger.LogFile, tc)
			if err != nil {
				return fmt.Errorf("failed to open log file: %w", err)
			}
			defer func() {
				t.Stop()
				t.Cleanup()
			}()

			out := cmd.OutOrStdout()
			for {
				select {
				case <-cmd.Context().Done():
					return nil
				case line, ok := <-t.Lines:
					if !ok {
						return nil
					}
					if line.Err != nil {
						return line.Err
					}
					fmt.Fprintln(out, line.Text)
				}
			}
		},
	}
	logsCmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep printing new log entries")
	return logsCmd
}
