package cli

import (
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/idmerge/internal/ids"
	"github.com/roach88/idmerge/internal/recipient"
)

// ShowResult is the output of the show command.
type ShowResult struct {
	Requested int64            `json:"requested"`
	Remapped  bool             `json:"remapped"`
	Recipient recipient.Record `json:"recipient"`
	// References counts dependent rows per table.column.
	References map[string]int `json:"references,omitempty"`
}

func (r ShowResult) String() string {
	var b strings.Builder
	rec := r.Recipient
	fmt.Fprintf(&b, "recipient %d", rec.ID)
	if r.Remapped {
		fmt.Fprintf(&b, " (merged from %d)", r.Requested)
	}
	if !rec.ACI.IsZero() {
		fmt.Fprintf(&b, "\n  aci:        %s", rec.ACI)
	}
	if !rec.PNI.IsZero() {
		fmt.Fprintf(&b, "\n  pni:        %s", rec.PNI)
	}
	if !rec.E164.IsZero() {
		fmt.Fprintf(&b, "\n  e164:       %s", rec.E164)
	}
	fmt.Fprintf(&b, "\n  registered: %s", rec.Registered)
	if name := strings.TrimSpace(rec.ProfileGivenName + " " + rec.ProfileFamilyName); name != "" {
		fmt.Fprintf(&b, "\n  profile:    %s", name)
	}
	if name := strings.TrimSpace(rec.SystemGivenName + " " + rec.SystemFamilyName); name != "" {
		fmt.Fprintf(&b, "\n  contact:    %s", name)
	}
	if rec.Blocked {
		b.WriteString("\n  blocked")
	}
	for _, k := range slices.Sorted(maps.Keys(r.References)) {
		fmt.Fprintf(&b, "\n  %s: %d", k, r.References[k])
	}
	return b.String()
}

// NewShowCommand creates the show command.
func NewShowCommand(rootOpts *RootOptions) *cobra.Command {
	var withRefs bool

	cmd := &cobra.Command{
		Use:   "show <recipient-id>",
		Short: "Print a recipient, following merges",
		Long: `Print the recipient row for an id.

If the id was retired by a merge, the surviving recipient is printed.

Examples:
  idmerge show 42
  idmerge show 42 --refs --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShow(rootOpts, args[0], withRefs, cmd)
		},
	}

	cmd.Flags().BoolVar(&withRefs, "refs", false, "count dependent rows that reference the recipient")

	return cmd
}

func runShow(opts *RootOptions, arg string, withRefs bool, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	n, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || n <= 0 {
		_ = formatter.Error(ErrCodeInvalidArgument, fmt.Sprintf("invalid recipient id %q", arg), nil)
		return NewExitError(ExitCommandError, fmt.Sprintf("invalid recipient id %q", arg))
	}

	sess, err := opts.openSession(cmd, formatter)
	if err != nil {
		return err
	}
	defer sess.Close()

	ctx := cmd.Context()
	rec, err := sess.store.Recipient(ctx, ids.RecipientID(n))
	if err != nil {
		return formatter.Fail(ExitFailure, "lookup failed", err)
	}

	res := ShowResult{
		Requested: n,
		Remapped:  int64(rec.ID) != n,
		Recipient: rec,
	}
	if withRefs {
		if res.References, err = sess.store.CountReferences(ctx, rec.ID); err != nil {
			return formatter.Fail(ExitFailure, "count references", err)
		}
	}
	return formatter.Success(res)
}
