package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/idmerge/internal/engine"
	"github.com/roach88/idmerge/internal/notify"
)

// ResolveOptions holds flags for the resolve command.
type ResolveOptions struct {
	*RootOptions
	ACI       string
	E164      string
	LowTrust  bool
	AllowSelf bool
	DryRun    bool
}

// ResolveResult is the output of the resolve command.
type ResolveResult struct {
	RecipientID   int64             `json:"recipient_id,omitempty"`
	Outcome       string            `json:"outcome"`
	Rule          string            `json:"rule"`
	Detail        engine.Outcome    `json:"detail"`
	SelfProtected bool              `json:"self_protected,omitempty"`
	Applied       bool              `json:"applied"`
	Attempts      int               `json:"attempts,omitempty"`
	DryRun        bool              `json:"dry_run,omitempty"`
	ChangeSet     *notify.ChangeSet `json:"change_set,omitempty"`
}

func (r ResolveResult) String() string {
	var b strings.Builder
	if r.DryRun {
		fmt.Fprintf(&b, "would apply %s (rule %s)", r.Outcome, r.Rule)
	} else {
		fmt.Fprintf(&b, "recipient %d: %s (rule %s)", r.RecipientID, r.Outcome, r.Rule)
	}
	if r.SelfProtected {
		b.WriteString(", self-protected")
	}
	if cs := r.ChangeSet; cs != nil {
		fmt.Fprintf(&b, "\nchange set %s seq=%d affected=%v", cs.ID, cs.Seq, cs.Affected)
		if cs.RecipientRemap != nil {
			fmt.Fprintf(&b, "\n  recipient %d -> %d", cs.RecipientRemap.Old, cs.RecipientRemap.New)
		}
		if cs.ThreadRemap != nil {
			fmt.Fprintf(&b, "\n  thread %d -> %d", cs.ThreadRemap.Old, cs.ThreadRemap.New)
		}
		if !cs.ChangedNumber.IsZero() {
			fmt.Fprintf(&b, "\n  changed number: recipient %d", cs.ChangedNumber)
		}
	}
	return b.String()
}

// NewResolveCommand creates the resolve command.
func NewResolveCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ResolveOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "resolve --aci <uuid> --e164 <+number>",
		Short: "Resolve an identifier pair to a recipient",
		Long: `Resolve an ACI, a phone number, or both to exactly one recipient.

Rows are created, updated or merged as needed and the resulting change set
is printed. Claims are trusted unless --low-trust is given; low-trust
claims never move a number between accounts.

Exit codes:
  0 - Resolved
  1 - Resolution failed (invalid identifiers, inconsistent state)
  2 - Command error (bad config, database not opened)

Examples:
  idmerge resolve --aci 5f0c... --e164 +14155550100
  idmerge resolve --e164 +14155550100 --low-trust
  idmerge resolve --aci 5f0c... --e164 +14155550100 --dry-run --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResolve(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.ACI, "aci", "", "account identifier (UUID)")
	cmd.Flags().StringVar(&opts.E164, "e164", "", "phone number in E.164 form")
	cmd.Flags().BoolVar(&opts.LowTrust, "low-trust", false, "treat the pairing as unauthenticated")
	cmd.Flags().BoolVar(&opts.AllowSelf, "allow-self", false, "permit changes to the local account's identifiers")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "print the decision without writing")

	return cmd
}

func runResolve(opts *ResolveOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	req, err := engine.ParseRequest(opts.ACI, opts.E164, !opts.LowTrust, opts.AllowSelf)
	if err != nil {
		return formatter.Fail(ExitFailure, "invalid identifiers", err)
	}

	sess, err := opts.openSession(cmd, formatter)
	if err != nil {
		return err
	}
	defer sess.Close()

	ctx := cmd.Context()

	if opts.DryRun {
		decision, err := sess.engine.DryRun(ctx, req)
		if err != nil {
			return formatter.Fail(ExitFailure, "dry run failed", err)
		}
		return formatter.Success(ResolveResult{
			Outcome:       decision.Outcome.Kind(),
			Rule:          string(decision.Rule),
			Detail:        decision.Outcome,
			SelfProtected: decision.SelfProtected,
			DryRun:        true,
		})
	}

	rep, err := sess.engine.Process(ctx, req)
	if err != nil {
		return formatter.Fail(ExitFailure, "resolution failed", err)
	}
	formatter.VerboseLog("resolved in %d attempt(s)", rep.Attempts)

	return formatter.Success(ResolveResult{
		RecipientID:   int64(rep.RecipientID),
		Outcome:       rep.Decision.Outcome.Kind(),
		Rule:          string(rep.Decision.Rule),
		Detail:        rep.Decision.Outcome,
		SelfProtected: rep.Decision.SelfProtected,
		Applied:       rep.Result.Applied,
		Attempts:      rep.Attempts,
		ChangeSet:     rep.ChangeSet,
	})
}
