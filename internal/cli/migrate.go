package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/roach88/reportgrid/internal/grid"
	"github.com/roach88/reportgrid/internal/layout"
)

// MigrateOptions holds flags for the migrate command.
type MigrateOptions struct {
	*RootOptions
	DryRun bool
}

// MigrateClient describes what migrate did to one stored report.
type MigrateClient struct {
	ClientID string `json:"client_id"`
	Items    int    `json:"items"`

	// Legacy counts stored entries without a full placement.
	Legacy int `json:"legacy"`

	// Repaired counts placed entries that had to move (overlap or off the
	// grid).
	Repaired int `json:"repaired"`

	Rewritten bool `json:"rewritten"`
}

// MigrateResult is the JSON payload of the migrate command.
type MigrateResult struct {
	Clients   []MigrateClient `json:"clients"`
	Rewritten int             `json:"rewritten"`
	DryRun    bool            `json:"dry_run"`
}

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MigrateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "migrate [client]...",
		Short: "Rewrite stored reports in the current shape",
		Long: `Rewrite stored reports in the current {title, items} shape.

Reports are migrated on load anyway; this command makes the change
permanent. Cards stored without an id get a new one, cards without a
position are packed, and overlapping cards are moved. Reports already in
the current shape are left alone.

Exit codes:
  0 - Migration finished
  2 - Command error (store unreadable, etc.)

Examples:
  reportgrid migrate
  reportgrid migrate acme globex --dry-run`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(cmd, opts, args)
		},
	}

	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "report what would change without writing")

	return cmd
}

func runMigrate(cmd *cobra.Command, opts *MigrateOptions, clients []string) error {
	ctx := cmd.Context()
	cfg, err := opts.Config()
	if err != nil {
		return err
	}
	logger := opts.Logger()
	st, err := openStore(ctx, cfg.Store, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	if len(clients) == 0 {
		clients, err = st.List(ctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to list reports", err)
		}
	}

	ids := layout.UUIDv7Generator{}
	result := MigrateResult{Clients: make([]MigrateClient, 0, len(clients)), DryRun: opts.DryRun}
	for _, clientID := range clients {
		meta, err := st.Load(ctx, clientID)
		if err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("failed to load report %q", clientID), err)
		}

		report := grid.Report{
			Title: grid.NormalizeTitle(meta.Title),
			Items: grid.Migrate(meta.Entries, ids.Generate),
		}
		mc := MigrateClient{ClientID: clientID, Items: len(report.Items)}
		mc.Legacy, mc.Repaired = classifyEntries(meta.Entries, report.Items)

		if mc.Legacy > 0 || mc.Repaired > 0 {
			mc.Rewritten = true
			result.Rewritten++
			if !opts.DryRun {
				if err := st.Save(ctx, clientID, report); err != nil {
					return WrapExitError(ExitCommandError, fmt.Sprintf("failed to save report %q", clientID), err)
				}
				logger.Info("migrated report",
					zap.String("client_id", clientID),
					zap.Int("legacy", mc.Legacy),
					zap.Int("repaired", mc.Repaired),
				)
			}
		}
		result.Clients = append(result.Clients, mc)
	}

	return newFormatter(cmd, opts.RootOptions).SuccessText(result, migrateText(result))
}

// classifyEntries counts legacy entries, and fully placed entries whose
// migrated placement differs from the stored one. Migrate keeps entry
// order, so entries and items line up.
func classifyEntries(entries []grid.Entry, items []grid.Item) (legacy, repaired int) {
	for i, e := range entries {
		fp, ok := e.(grid.FullPlacement)
		if !ok {
			legacy++
			continue
		}
		if i >= len(items) {
			continue
		}
		it := items[i]
		if !fp.Span.Valid || int(fp.Span.Value) != it.Span ||
			!fp.Row.Valid || int(fp.Row.Value) != it.Row ||
			!fp.Col.Valid || int(fp.Col.Value) != it.Col {
			repaired++
		}
	}
	return legacy, repaired
}

func migrateText(r MigrateResult) string {
	if len(r.Clients) == 0 {
		return "No reports stored."
	}
	var b strings.Builder
	for _, c := range r.Clients {
		status := "current"
		if c.Rewritten {
			status = "migrated"
			if r.DryRun {
				status = "would migrate"
			}
		}
		fmt.Fprintf(&b, "%s: %s (%d cards, %d legacy, %d repaired)\n", c.ClientID, status, c.Items, c.Legacy, c.Repaired)
	}
	verb := "Migrated"
	if r.DryRun {
		verb = "Would migrate"
	}
	fmt.Fprintf(&b, "\n%s %d of %d reports.\n", verb, r.Rewritten, len(r.Clients))
	return b.String()
}
