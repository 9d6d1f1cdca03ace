package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/extraction-cli/internal/config"
	"github.com/xkilldash9x/extraction-cli/internal/credentials"
	"github.com/xkilldash9x/extraction-cli/internal/observability"
)

// newAccountsCmd creates the `accounts` command group over the credential store.
func newAccountsCmd(openHistory journalFactory) *cobra.Command {
	accountsCmd := &cobra.Command{
		Use:   "accounts",
		Short: "Inspect and maintain the credential store",
	}
	accountsCmd.AddCommand(
		newAccountsListCmd(),
		newAccountsStatusCmd(),
		newAccountsExpireCmd(),
		newAccountsPromoteCmd(),
		newAccountsHistoryCmd(openHistory),
	)
	return accountsCmd
}

func storeFor(cfg *config.Config, logger *zap.Logger) *credentials.Store {
	return credentials.NewStore(cfg.Credentials.Path,
		credentials.WithLockTimeout(cfg.Credentials.LockTimeout),
		credentials.WithLogger(logger))
}

func newAccountsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List accounts in rotation order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfigFromContext(cmd.Context())
			if err != nil {
				return err
			}
			accounts, err := storeFor(cfg, observability.GetLogger()).Load(cmd.Context())
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "PRIORITY\tUSERNAME\tNAME\tSTATUS\tSTATE\tLAST USED")
			for _, a := range accounts {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n", a.Priority, a.Username, a.Name, a.Status, a.State, formatTime(a.LastUsed))
			}
			return w.Flush()
		},
	}
}

func newAccountsStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <username> <valid|failed|expired>",
		Short: "Record the outcome of a login attempt for an account",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfigFromContext(cmd.Context())
			if err != nil {
				return err
			}
			if err := storeFor(cfg, observability.GetLogger()).UpdateStatus(cmd.Context(), args[0], credentials.Status(args[1])); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Status of %s set to %s.\n", args[0], args[1])
			return nil
		},
	}
}

func newAccountsExpireCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "expire <username>",
		Short: "Mark an account's password as expired and move it to the end of the rotation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfigFromContext(cmd.Context())
			if err != nil {
				return err
			}
			if err := storeFor(cfg, observability.GetLogger()).MarkExpired(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Account %s marked as expired.\n", args[0])
			return nil
		},
	}
}

func newAccountsPromoteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "promote",
		Short: "Renumber priorities so valid accounts come first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfigFromContext(cmd.Context())
			if err != nil {
				return err
			}
			if err := storeFor(cfg, observability.GetLogger()).PromoteValidAccounts(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Account priorities rebalanced.")
			return nil
		},
	}
}

func newAccountsHistoryCmd(openHistory journalFactory) *cobra.Command {
	var limit int
	historyCmd := &cobra.Command{
		Use:   "history <username>",
		Short: "Show recent login attempts from the login history database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			j, cleanup, err := openHistory(ctx, cfg, observability.GetLogger())
			if err != nil {
				return err
			}
			defer cleanup()

			attempts, err := j.Recent(ctx, args[0], limit)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ATTEMPTED AT\tREPORT\tOUTCOME\tRUN ID")
			for _, a := range attempts {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", a.AttemptedAt.Format(time.DateTime), a.Report, a.Outcome, a.RunID)
			}
			return w.Flush()
		},
	}
	historyCmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of attempts to show")
	return historyCmd
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format(time.DateTime)
}
