package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/roach88/reportgrid/internal/config"
	"github.com/roach88/reportgrid/internal/observability"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigPath string
	Database   string // overrides the configured store with a SQLite file

	cfg *config.Config
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the reportgrid CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "reportgrid",
		Short: "reportgrid - report card layouts",
		Long:  "Inspect and edit per-client report layouts on a four-column grid, and serve them over HTTP.",
		// Execute reports the error once, in the selected format.
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			cfg, err := opts.Config()
			if err != nil {
				return err
			}
			logCfg := cfg.Logger
			if opts.Verbose {
				logCfg.Level = "debug"
			}
			observability.InitializeLogger(logCfg)
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			observability.Sync()
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "config file (default ./reportgrid.yaml if present)")
	cmd.PersistentFlags().StringVar(&opts.Database, "db", "", "SQLite database path (overrides store settings)")

	// Report commands
	cmd.AddCommand(NewShowCommand(opts))
	cmd.AddCommand(NewTitleCommand(opts))
	cmd.AddCommand(NewAddCommand(opts))
	cmd.AddCommand(NewPlaceCommand(opts))
	cmd.AddCommand(NewSpanCommand(opts))
	cmd.AddCommand(NewSetSpecCommand(opts))
	cmd.AddCommand(NewRemoveCommand(opts))
	cmd.AddCommand(NewReorderCommand(opts))

	// Store commands
	cmd.AddCommand(NewListCommand(opts))
	cmd.AddCommand(NewDeleteCommand(opts))
	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewExportCommand(opts))
	cmd.AddCommand(NewImportCommand(opts))

	// Tooling
	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewReplayCommand(opts))
	cmd.AddCommand(NewServeCommand(opts))

	return cmd
}

// Execute runs cmd and returns the process exit code. A failure is written
// to stderr, or to stdout as an error response with --format json.
func Execute(ctx context.Context, cmd *cobra.Command) int {
	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return ExitSuccess
	}
	code := GetExitCode(err)

	f := &OutputFormatter{Format: "text", Writer: cmd.ErrOrStderr()}
	if format, _ := cmd.PersistentFlags().GetString("format"); format == "json" {
		f = &OutputFormatter{Format: format, Writer: cmd.OutOrStdout()}
	}
	_ = f.Error(errorCode(code), err.Error(), nil)
	return code
}

func errorCode(exit int) string {
	if exit == ExitCommandError {
		return "E002"
	}
	return "E001"
}

// Config loads the configuration once. The --db flag switches the store to
// SQLite at that path.
func (o *RootOptions) Config() (*config.Config, error) {
	if o.cfg != nil {
		return o.cfg, nil
	}
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load configuration", err)
	}
	if o.Database != "" {
		cfg.Store.Driver = config.DriverSQLite
		cfg.Store.Path = o.Database
	}
	o.cfg = cfg
	return cfg, nil
}

// Logger returns the process logger, a no-op logger until the root command
// has initialized it.
func (o *RootOptions) Logger() *zap.Logger {
	return observability.GetLogger()
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
