package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/roach88/reportgrid/internal/grid"
	"github.com/roach88/reportgrid/internal/layout"
)

// ReportOutput is the JSON payload of the report commands.
type ReportOutput struct {
	ClientID string      `json:"client_id"`
	Op       string      `json:"op,omitempty"`
	ItemID   string      `json:"item_id,omitempty"`
	Report   grid.Report `json:"report"`
}

// mutation applies one engine operation. itemID is the card it created or
// touched, if any.
type mutation func(e *layout.Engine, clientID string) (r grid.Report, applied bool, itemID string)

// NewShowCommand creates the show command.
func NewShowCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <client>",
		Short: "Show a client's report layout",
		Long: `Show a client's report layout as a grid, one letter per card.

Stored layouts in an older shape are migrated in memory; the store is not
modified.

Exit codes:
  0 - Report shown
  2 - Command error (store unreadable, etc.)

Examples:
  reportgrid show acme
  reportgrid show acme --db ./reports.db --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := openSession(ctx, rootOpts)
			if err != nil {
				return err
			}
			r, loadErr := s.load(ctx, args[0])
			if err := s.close(ctx); err != nil && loadErr == nil {
				return err
			}
			if loadErr != nil {
				return loadErr
			}
			return outputReport(cmd, rootOpts, ReportOutput{ClientID: args[0], Report: r})
		},
	}
}

// NewTitleCommand creates the title command.
func NewTitleCommand(rootOpts *RootOptions) *cobra.Command {
	return mutationCommand(rootOpts, &cobra.Command{
		Use:   "title <client> <title>...",
		Short: "Set a report title",
		Long: `Set a report title. Words are joined with single spaces; a blank title
resets to "Report" and long titles are truncated.

Examples:
  reportgrid title acme Quarterly marketing review`,
		Args: cobra.MinimumNArgs(2),
	}, "set_title", func(args []string) (mutation, error) {
		title := strings.Join(args[1:], " ")
		return func(e *layout.Engine, clientID string) (grid.Report, bool, string) {
			r, ok := e.SetTitle(clientID, title)
			return r, ok, ""
		}, nil
	})
}

// NewAddCommand creates the add command.
func NewAddCommand(rootOpts *RootOptions) *cobra.Command {
	var span, row, col int

	cmd := mutationCommand(rootOpts, &cobra.Command{
		Use:   "add <client> <spec-json>",
		Short: "Add a card",
		Long: `Add a card with the given JSON payload.

Without --row/--col the card takes the first open slot scanning from the
top-left and no other card moves. With them the card is placed there and
cards in its way are moved.

Examples:
  reportgrid add acme '{"type":"kpi","metric":"spend"}'
  reportgrid add acme '{"type":"table"}' --span 4
  reportgrid add acme '{"type":"trend"}' --row 1 --col 3`,
		Args: cobra.ExactArgs(2),
	}, "add", func(args []string) (mutation, error) {
		spec, err := parseSpec(args[1])
		if err != nil {
			return nil, err
		}
		if (row == 0) != (col == 0) {
			return nil, NewExitError(ExitCommandError, "--row and --col must be given together")
		}
		return func(e *layout.Engine, clientID string) (grid.Report, bool, string) {
			var (
				r  grid.Report
				ok bool
			)
			if row != 0 {
				r, ok = e.AddItemAt(clientID, spec, span, row, col)
			} else {
				r, ok = e.AddItem(clientID, spec, span)
			}
			if !ok || len(r.Items) == 0 {
				return r, ok, ""
			}
			return r, ok, r.Items[len(r.Items)-1].ID
		}, nil
	})

	cmd.Flags().IntVar(&span, "span", grid.DefaultSpan, "columns the card spans (1-4)")
	cmd.Flags().IntVar(&row, "row", 0, "row to place the card at (requires --col)")
	cmd.Flags().IntVar(&col, "col", 0, "column to place the card at (requires --row)")

	return cmd
}

// NewPlaceCommand creates the place command.
func NewPlaceCommand(rootOpts *RootOptions) *cobra.Command {
	return mutationCommand(rootOpts, &cobra.Command{
		Use:   "place <client> <item> <row> <col>",
		Short: "Move a card",
		Long: `Move a card to a row and column. The card lands there and cards it
collides with move to the next open slot near their old position.

Examples:
  reportgrid place acme 0191c3a4-... 5 1`,
		Args: cobra.ExactArgs(4),
	}, "place", func(args []string) (mutation, error) {
		row, err := parseInt("row", args[2])
		if err != nil {
			return nil, err
		}
		col, err := parseInt("col", args[3])
		if err != nil {
			return nil, err
		}
		id := args[1]
		return func(e *layout.Engine, clientID string) (grid.Report, bool, string) {
			r, ok := e.PlaceItem(clientID, id, row, col)
			return r, ok, id
		}, nil
	})
}

// NewSpanCommand creates the span command.
func NewSpanCommand(rootOpts *RootOptions) *cobra.Command {
	return mutationCommand(rootOpts, &cobra.Command{
		Use:   "span <client> <item> <span>",
		Short: "Change a card's width",
		Long: `Change how many columns a card spans. The card keeps its position when
the new width fits there.

Examples:
  reportgrid span acme 0191c3a4-... 4`,
		Args: cobra.ExactArgs(3),
	}, "set_span", func(args []string) (mutation, error) {
		span, err := parseInt("span", args[2])
		if err != nil {
			return nil, err
		}
		id := args[1]
		return func(e *layout.Engine, clientID string) (grid.Report, bool, string) {
			r, ok := e.SetSpan(clientID, id, span)
			return r, ok, id
		}, nil
	})
}

// NewSetSpecCommand creates the set-spec command.
func NewSetSpecCommand(rootOpts *RootOptions) *cobra.Command {
	return mutationCommand(rootOpts, &cobra.Command{
		Use:   "set-spec <client> <item> <spec-json>",
		Short: "Replace a card's payload",
		Long: `Replace a card's JSON payload. Its placement is unchanged.

Examples:
  reportgrid set-spec acme 0191c3a4-... '{"type":"kpi","metric":"clicks"}'`,
		Args: cobra.ExactArgs(3),
	}, "set_spec", func(args []string) (mutation, error) {
		spec, err := parseSpec(args[2])
		if err != nil {
			return nil, err
		}
		id := args[1]
		return func(e *layout.Engine, clientID string) (grid.Report, bool, string) {
			r, ok := e.SetSpec(clientID, id, spec)
			return r, ok, id
		}, nil
	})
}

// NewRemoveCommand creates the remove command.
func NewRemoveCommand(rootOpts *RootOptions) *cobra.Command {
	return mutationCommand(rootOpts, &cobra.Command{
		Use:   "remove <client> <item>",
		Short: "Remove a card",
		Long: `Remove a card. Other cards keep their positions, so a gap may remain.

Examples:
  reportgrid remove acme 0191c3a4-...`,
		Args: cobra.ExactArgs(2),
	}, "remove", func(args []string) (mutation, error) {
		id := args[1]
		return func(e *layout.Engine, clientID string) (grid.Report, bool, string) {
			r, ok := e.RemoveItem(clientID, id)
			return r, ok, id
		}, nil
	})
}

// NewReorderCommand creates the reorder command.
func NewReorderCommand(rootOpts *RootOptions) *cobra.Command {
	return mutationCommand(rootOpts, &cobra.Command{
		Use:   "reorder <client> <from-item> <to-item>",
		Short: "Move a card within the list order",
		Long: `Move a card to another card's list position. Only the list order
changes; no card moves on the grid.

Examples:
  reportgrid reorder acme 0191c3a4-... 0191c3b7-...`,
		Args: cobra.ExactArgs(3),
	}, "reorder", func(args []string) (mutation, error) {
		from, to := args[1], args[2]
		if from == to {
			return nil, NewExitError(ExitCommandError, "from and to must be different cards")
		}
		return func(e *layout.Engine, clientID string) (grid.Report, bool, string) {
			r, ok := e.ReorderItems(clientID, from, to)
			return r, ok, from
		}, nil
	})
}

// mutationCommand fills in the shared parts of a report-editing command.
// build turns the arguments into the mutation to run; it runs after flags
// are parsed.
func mutationCommand(rootOpts *RootOptions, cmd *cobra.Command, op string, build func(args []string) (mutation, error)) *cobra.Command {
	cmd.Long += `

Exit codes:
  0 - Report updated
  1 - Nothing changed (unknown card)
  2 - Command error (bad arguments, store unreadable, etc.)`
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		fn, err := build(args)
		if err != nil {
			return err
		}
		return runMutation(cmd, rootOpts, args[0], op, fn)
	}
	return cmd
}

func runMutation(cmd *cobra.Command, opts *RootOptions, clientID, op string, fn mutation) error {
	ctx := cmd.Context()
	s, err := openSession(ctx, opts)
	if err != nil {
		return err
	}

	if _, err := s.load(ctx, clientID); err != nil {
		_ = s.close(ctx)
		return err
	}

	r, applied, itemID := fn(s.engine, clientID)
	if err := s.close(ctx); err != nil {
		return err
	}

	if !applied {
		return NewExitError(ExitFailure, fmt.Sprintf("%s: card %q not found", op, itemID))
	}
	s.logger.Info("report updated",
		zap.String("op", op),
		zap.String("client_id", clientID),
		zap.String("item_id", itemID),
	)
	return outputReport(cmd, opts, ReportOutput{ClientID: clientID, Op: op, ItemID: itemID, Report: r})
}

func outputReport(cmd *cobra.Command, opts *RootOptions, out ReportOutput) error {
	if out.Report.Items == nil {
		out.Report.Items = []grid.Item{}
	}
	return newFormatter(cmd, opts).SuccessText(out, layout.Render(out.Report))
}

// parseSpec accepts a JSON object or array.
func parseSpec(s string) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace([]byte(s))
	if !json.Valid(trimmed) || len(trimmed) == 0 || (trimmed[0] != '{' && trimmed[0] != '[') {
		return nil, NewExitError(ExitCommandError, "spec must be a JSON object or array")
	}
	return json.RawMessage(trimmed), nil
}

func parseInt(name, s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, WrapExitError(ExitCommandError, fmt.Sprintf("invalid %s %q", name, s), err)
	}
	return n, nil
}
