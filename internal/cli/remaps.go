package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/idmerge/internal/remap"
)

// RemapsResult is the output of the remaps command.
type RemapsResult struct {
	Recipients []remap.RecipientEntry `json:"recipients"`
	Threads    []remap.ThreadEntry    `json:"threads"`
}

func (r RemapsResult) String() string {
	if len(r.Recipients) == 0 && len(r.Threads) == 0 {
		return "No remaps recorded."
	}
	var b strings.Builder
	for _, e := range r.Recipients {
		fmt.Fprintf(&b, "recipient %d -> %d\n", e.Old, e.New)
	}
	for _, e := range r.Threads {
		fmt.Fprintf(&b, "thread %d -> %d\n", e.Old, e.New)
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// NewRemapsCommand creates the remaps command.
func NewRemapsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "remaps",
		Short: "List recipients and threads retired by merges",
		Long: `List every persisted remap, oldest id first.

A remap records that an id was retired by a merge and which id replaced it.
Remaps are never removed.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRemaps(rootOpts, cmd)
		},
	}
}

func runRemaps(opts *RootOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	sess, err := opts.openSession(cmd, formatter)
	if err != nil {
		return err
	}
	defer sess.Close()

	ctx := cmd.Context()
	recipients, err := sess.store.RecipientRemaps(ctx)
	if err != nil {
		return formatter.Fail(ExitFailure, "list recipient remaps", err)
	}
	threads, err := sess.store.ThreadRemaps(ctx)
	if err != nil {
		return formatter.Fail(ExitFailure, "list thread remaps", err)
	}

	res := RemapsResult{
		Recipients: recipients,
		Threads:    threads,
	}
	if res.Recipients == nil {
		res.Recipients = []remap.RecipientEntry{}
	}
	if res.Threads == nil {
		res.Threads = []remap.ThreadEntry{}
	}
	return formatter.Success(res)
}
