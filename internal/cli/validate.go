package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/reportgrid/internal/schema"
)

// FileValidation is the validation outcome of one document.
type FileValidation struct {
	File string `json:"file"`
	schema.Result
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid bool             `json:"valid"`
	Files []FileValidation `json:"files"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <file>...",
		Short: "Validate stored layout documents",
		Long: `Validate stored layout documents without loading them into a store.

Each document is classified as current ({title, items} with every card
placed), legacy (an older shape that will be migrated on load) or
invalid. Invalid documents lose data or need repair when loaded: cards
that are not objects, overlapping cards, duplicate ids, malformed JSON.
Use - to read a document from stdin.

Exit codes:
  0 - All documents are current or legacy
  1 - One or more documents are invalid
  2 - Command error (file not readable, etc.)

Examples:
  reportgrid validate layout.json
  reportgrid show acme --format json | jq .data.report | reportgrid validate -`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd, rootOpts, args)
		},
	}

	return cmd
}

func runValidate(cmd *cobra.Command, opts *RootOptions, files []string) error {
	formatter := newFormatter(cmd, opts)

	v, err := schema.NewValidator()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load schema", err)
	}

	result := ValidationResult{Valid: true, Files: make([]FileValidation, 0, len(files))}
	for _, file := range files {
		data, err := readDocument(cmd.InOrStdin(), file)
		if err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("failed to read %s", file), err)
		}
		formatter.VerboseLog("Validating %s (%d bytes)", file, len(data))

		res := v.Validate(data)
		if !res.Valid() {
			result.Valid = false
		}
		result.Files = append(result.Files, FileValidation{File: file, Result: res})
	}

	if err := formatter.SuccessText(result, validateText(result)); err != nil {
		return err
	}
	if !result.Valid {
		return NewExitError(ExitFailure, "validation failed")
	}
	return nil
}

func readDocument(stdin io.Reader, file string) ([]byte, error) {
	if file == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(file)
}

func validateText(r ValidationResult) string {
	var b strings.Builder
	for _, f := range r.Files {
		fmt.Fprintf(&b, "%s: %s (%d cards", f.File, f.Shape, f.Items)
		if f.LegacyItems > 0 {
			fmt.Fprintf(&b, ", %d legacy", f.LegacyItems)
		}
		b.WriteString(")\n")
		for _, e := range f.Errors {
			fmt.Fprintf(&b, "  %s\n", e.Error())
		}
	}
	return b.String()
}
