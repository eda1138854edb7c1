package cli

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/idmerge/internal/notify"
	"github.com/roach88/idmerge/internal/store"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Config   string // config file; empty means $IDMERGE_CONFIG or ./idmerge.yaml
	Database string // overrides the config's database
	Driver   string // overrides the config's driver
	Verbose  bool
	Format   string // "json" | "text"

	// IDGenerator overrides change-set ids (for testing).
	// If nil, defaults to notify.UUIDv7Generator.
	IDGenerator notify.IDGenerator
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// ValidDrivers are the accepted --driver values.
var ValidDrivers = []string{store.DriverMattn, store.DriverModernc}

// NewRootCommand creates the root command for the idmerge CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "idmerge",
		Short: "idmerge - recipient identity resolution",
		Long: `Resolve ACI and phone number pairs to a single recipient row.

idmerge maintains a SQLite contact store in which every account identifier
and every phone number belongs to at most one recipient. Resolving a pair
creates, updates or merges rows so that both identifiers end up on the
same recipient, re-pointing threads, messages and other dependent rows.`,
		// Commands report their own failures; main prints anything else.
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			if opts.Driver != "" && !slices.Contains(ValidDrivers, opts.Driver) {
				return fmt.Errorf("invalid driver %q: must be one of %v", opts.Driver, ValidDrivers)
			}
			return nil
		},
	}

	// Global flags
	cmd.PersistentFlags().StringVar(&opts.Config, "config", "", "config file (default $IDMERGE_CONFIG or ./idmerge.yaml)")
	cmd.PersistentFlags().StringVar(&opts.Database, "db", "", "path to SQLite database (overrides config)")
	cmd.PersistentFlags().StringVar(&opts.Driver, "driver", "", "SQLite driver: sqlite3 (cgo) or sqlite (pure Go)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewResolveCommand(opts))
	cmd.AddCommand(NewShowCommand(opts))
	cmd.AddCommand(NewRemapsCommand(opts))
	cmd.AddCommand(NewImportCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}

// formatter builds the output formatter for cmd.
func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}
