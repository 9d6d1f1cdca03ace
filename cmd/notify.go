package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/extraction-cli/internal/notify"
	"github.com/xkilldash9x/extraction-cli/internal/observability"
)

// newNotifyCmd creates the `notify` command, which posts a single webhook
// notification. Unlike the pipeline, delivery errors are returned.
func newNotifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "notify <report> <status> [message]",
		Short: "Send a notification to the configured webhook",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfigFromContext(cmd.Context())
			if err != nil {
				return err
			}
			var message string
			if len(args) == 3 {
				message = args[2]
			}
			client := notify.New(cfg.Notify, observability.GetLogger())
			if err := client.Send(cmd.Context(), args[0], args[1], message); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Notification sent.")
			return nil
		},
	}
}
