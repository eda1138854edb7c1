package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/idmerge/internal/config"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid  bool                     `json:"valid"`
	File   string                   `json:"file"`
	Config *config.Config           `json:"config,omitempty"`
	Errors []config.ValidationError `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [config.yaml]",
		Short: "Validate a config file against the schema",
		Long: `Validate an idmerge config file without opening the database.

The file is checked against the embedded CUE schema: unknown fields,
out-of-range values and malformed self identifiers are reported with
their line numbers. Without an argument the file named by --config,
$IDMERGE_CONFIG or ./idmerge.yaml is validated.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			path := rootOpts.Config
			if len(args) == 1 {
				path = args[0]
			}
			return runValidate(rootOpts, config.ResolvePath(path), cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	if path == "" {
		return outputValidateError(formatter, ErrCodeConfig, "no config file found", nil)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return outputValidateError(formatter, ErrCodeConfig, fmt.Sprintf("failed to read config: %v", err), nil)
	}
	formatter.VerboseLog("Validating %s (%d bytes)", path, len(data))

	cfg, err := config.Parse(path, data)
	var cfgErr *config.Error
	switch {
	case errors.As(err, &cfgErr):
		return outputValidationErrors(formatter, path, cfgErr.Errors)
	case err != nil:
		return outputValidateError(formatter, ErrCodeGeneric, err.Error(), nil)
	}

	return outputValidateSuccess(formatter, path, cfg)
}

// outputValidateSuccess outputs successful validation results.
func outputValidateSuccess(formatter *OutputFormatter, path string, cfg *config.Config) error {
	if formatter.Format == "json" {
		return formatter.Success(ValidationResult{Valid: true, File: path, Config: cfg})
	}

	fmt.Fprintf(formatter.Writer, "✓ %s is valid\n", path)
	if formatter.Verbose {
		fmt.Fprintf(formatter.Writer, "  database: %s (%s)\n", cfg.Database, cfg.Driver)
	}
	return nil
}

// outputValidateError outputs a single validation error.
func outputValidateError(formatter *OutputFormatter, code, message string, details any) error {
	_ = formatter.Error(code, message, details)
	// Validation errors are command-level errors (exit code 2)
	return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, message))
}

// outputValidationErrors outputs multiple validation errors.
func outputValidationErrors(formatter *OutputFormatter, path string, errs []config.ValidationError) error {
	if formatter.Format == "json" {
		result := ValidationResult{
			Valid:  false,
			File:   path,
			Errors: errs,
		}
		if err := formatter.Success(result); err != nil {
			return err
		}
		return NewExitError(ExitFailure, fmt.Sprintf("%d validation error(s)", len(errs)))
	}

	w := formatter.Writer
	fmt.Fprintf(w, "✗ %s: %d validation error(s)\n", path, len(errs))
	for _, e := range errs {
		var loc []string
		if e.Line > 0 {
			loc = append(loc, fmt.Sprintf("line %d", e.Line))
		}
		if e.Field != "" {
			loc = append(loc, e.Field)
		}
		if len(loc) > 0 {
			fmt.Fprintf(w, "  [%s] %s\n", strings.Join(loc, " "), e.Message)
		} else {
			fmt.Fprintf(w, "  %s\n", e.Message)
		}
	}
	return NewExitError(ExitFailure, fmt.Sprintf("%d validation error(s)", len(errs)))
}
