package cli

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/reportgrid/internal/store"
)

// ListResult is the JSON payload of the list command. Records is only
// filled by stores that keep metadata.
type ListResult struct {
	Clients []string       `json:"clients"`
	Records []store.Record `json:"records,omitempty"`
}

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List clients with a stored report",
		Long: `List every client with a stored report. SQLite stores also show each
report's title and last update, most recent first.

Exit codes:
  0 - Listed
  2 - Command error (store unreadable, etc.)

Examples:
  reportgrid list --db ./reports.db
  reportgrid list --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(cmd, rootOpts)
		},
	}
}

func runList(cmd *cobra.Command, opts *RootOptions) error {
	ctx := cmd.Context()
	cfg, err := opts.Config()
	if err != nil {
		return err
	}
	st, err := openStore(ctx, cfg.Store, opts.Logger())
	if err != nil {
		return err
	}
	defer st.Close()

	result := ListResult{}
	result.Clients, err = st.List(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list reports", err)
	}
	if rl, ok := st.(recordLister); ok {
		result.Records, err = rl.Records(ctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to list reports", err)
		}
	}

	return newFormatter(cmd, opts).SuccessText(result, listText(result))
}

func listText(r ListResult) string {
	if len(r.Clients) == 0 {
		return "No reports stored."
	}
	var b strings.Builder
	if len(r.Records) == 0 {
		for _, id := range r.Clients {
			fmt.Fprintln(&b, id)
		}
		return b.String()
	}
	for _, rec := range r.Records {
		fmt.Fprintf(&b, "%s\t%s\t%s\n", rec.ClientID, rec.UpdatedAt.UTC().Format(time.RFC3339), rec.Title)
	}
	return b.String()
}

// NewDeleteCommand creates the delete command.
func NewDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <client>",
		Short: "Delete a client's stored report",
		Long: `Delete a client's stored report.

Exit codes:
  0 - Deleted
  1 - The client has no stored report
  2 - Command error (store unreadable, etc.)

Examples:
  reportgrid delete acme`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := rootOpts.Config()
			if err != nil {
				return err
			}
			st, err := openStore(ctx, cfg.Store, rootOpts.Logger())
			if err != nil {
				return err
			}
			defer st.Close()

			if err := st.Delete(ctx, args[0]); err != nil {
				if errors.Is(err, store.ErrNotFound) {
					return NewExitError(ExitFailure, fmt.Sprintf("no stored report for %q", args[0]))
				}
				return WrapExitError(ExitCommandError, "failed to delete report", err)
			}
			return newFormatter(cmd, rootOpts).SuccessText(
				map[string]string{"deleted": args[0]},
				fmt.Sprintf("Deleted report for %s.", args[0]),
			)
		},
	}
}
