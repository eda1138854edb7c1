package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/roach88/idmerge/internal/engine"
	"github.com/roach88/idmerge/internal/notify"
)

// ImportOptions holds flags for the import command.
type ImportOptions struct {
	*RootOptions
	Parallel int
}

// ImportFile is the YAML document read by the import command.
type ImportFile struct {
	Claims []Claim `yaml:"claims"`
}

// Claim is one identifier pair to resolve.
type Claim struct {
	ACI       string `yaml:"aci,omitempty" json:"aci,omitempty"`
	E164      string `yaml:"e164,omitempty" json:"e164,omitempty"`
	LowTrust  bool   `yaml:"low_trust,omitempty" json:"low_trust,omitempty"`
	AllowSelf bool   `yaml:"allow_self,omitempty" json:"allow_self,omitempty"`
}

// ClaimResult is the outcome of one claim.
type ClaimResult struct {
	Index       int    `json:"index"`
	Claim       Claim  `json:"claim"`
	RecipientID int64  `json:"recipient_id,omitempty"`
	Outcome     string `json:"outcome,omitempty"`
	Rule        string `json:"rule,omitempty"`
	Changed     bool   `json:"changed,omitempty"`
	Code        string `json:"code,omitempty"`
	Error       string `json:"error,omitempty"`
}

// ImportResult is the output of the import command.
type ImportResult struct {
	Total    int            `json:"total"`
	Resolved int            `json:"resolved"`
	Failed   int            `json:"failed"`
	Changed  int            `json:"changed"`
	Outcomes map[string]int `json:"outcomes"`
	Claims   []ClaimResult  `json:"claims"`
}

func (r ImportResult) String() string {
	var b strings.Builder
	for _, c := range r.Claims {
		if c.Error != "" {
			fmt.Fprintf(&b, "✗ claims[%d]: %s\n", c.Index, c.Error)
		}
	}
	fmt.Fprintf(&b, "Import Summary: %d resolved, %d failed, %d total, %d changed", r.Resolved, r.Failed, r.Total, r.Changed)
	for _, kind := range outcomeKinds {
		if n := r.Outcomes[kind]; n > 0 {
			fmt.Fprintf(&b, "\n  %s: %d", kind, n)
		}
	}
	return b.String()
}

var outcomeKinds = []string{
	"match", "update_e164", "update_aci", "insert",
	"insert_and_reassign_e164", "merge", "reassign_e164",
}

// NewImportCommand creates the import command.
func NewImportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ImportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "import <claims.yaml>",
		Short: "Resolve a batch of identifier pairs",
		Long: `Resolve every claim in a YAML file.

The file holds a list of claims:

  claims:
    - aci: 5f0c...
      e164: "+14155550100"
    - e164: "+14155550101"
      low_trust: true

Claims are resolved concurrently, up to --parallel at a time. Writes are
serialized by the store, so claims for the same identifiers converge on
one recipient regardless of order. Change sets are logged as they commit.

Exit codes:
  0 - All claims resolved
  1 - One or more claims failed
  2 - Command error (unreadable file, bad config, database not opened)`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(opts, args[0], cmd)
		},
	}

	cmd.Flags().IntVarP(&opts.Parallel, "parallel", "p", 4, "maximum claims resolved at once")

	return cmd
}

// LoadImportFile reads and parses a claims file. Unknown fields are rejected.
func LoadImportFile(path string) (*ImportFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read import file: %w", err)
	}
	var file ImportFile
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&file); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if len(file.Claims) == 0 {
		return nil, errors.New("claims list is required and must be non-empty")
	}
	return &file, nil
}

func runImport(opts *ImportOptions, path string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	if opts.Parallel < 1 {
		_ = formatter.Error(ErrCodeGeneric, "--parallel must be at least 1", nil)
		return NewExitError(ExitCommandError, "--parallel must be at least 1")
	}

	file, err := LoadImportFile(path)
	if err != nil {
		_ = formatter.Error(ErrCodeScenario, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to load import file", err)
	}

	sess, err := opts.openSession(cmd, formatter)
	if err != nil {
		return err
	}
	defer sess.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Change sets are logged off the resolving goroutines.
	dispatcher := notify.NewDispatcher(notify.NewLogNotifier(sess.logger), sess.logger)
	sess.withNotifier(dispatcher)
	delivered := make(chan error, 1)
	go func() { delivered <- dispatcher.Run(context.WithoutCancel(ctx)) }()

	sess.logger.Info("importing claims", "file", path, "claims", len(file.Claims), "parallel", opts.Parallel)
	results := resolveClaims(ctx, sess.engine, file.Claims, opts.Parallel)

	dispatcher.Close()
	if err := <-delivered; err != nil {
		sess.logger.Warn("change set delivery stopped early", "error", err)
	}

	if err := ctx.Err(); err != nil {
		_ = formatter.Error(ErrCodeGeneric, "import interrupted", nil)
		return WrapExitError(ExitFailure, "import interrupted", err)
	}

	res := ImportResult{
		Total:    len(results),
		Outcomes: make(map[string]int),
		Claims:   results,
	}
	for _, r := range results {
		if r.Error != "" {
			res.Failed++
			continue
		}
		res.Resolved++
		res.Outcomes[r.Outcome]++
		if r.Changed {
			res.Changed++
		}
	}
	if opts.Verbose {
		dumpMetrics(formatter, sess.registry)
	}

	if err := formatter.Success(res); err != nil {
		return err
	}
	if res.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d claim(s) failed", res.Failed))
	}
	return nil
}

// resolveClaims resolves claims with at most parallel in flight. A failing
// claim does not stop the others; results are returned in input order.
func resolveClaims(ctx context.Context, eng *engine.Engine, claims []Claim, parallel int) []ClaimResult {
	results := make([]ClaimResult, len(claims))

	var g errgroup.Group
	g.SetLimit(parallel)
	for i, claim := range claims {
		g.Go(func() error {
			results[i] = resolveClaim(ctx, eng, i, claim)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func resolveClaim(ctx context.Context, eng *engine.Engine, i int, claim Claim) ClaimResult {
	res := ClaimResult{Index: i, Claim: claim}
	if err := ctx.Err(); err != nil {
		res.Code, res.Error = ErrCodeGeneric, err.Error()
		return res
	}

	req, err := engine.ParseRequest(claim.ACI, claim.E164, !claim.LowTrust, claim.AllowSelf)
	if err != nil {
		res.Code, res.Error = errorCode(err), err.Error()
		return res
	}
	rep, err := eng.Process(ctx, req)
	if err != nil {
		res.Code, res.Error = errorCode(err), err.Error()
		return res
	}
	res.RecipientID = int64(rep.RecipientID)
	res.Outcome = rep.Decision.Outcome.Kind()
	res.Rule = string(rep.Decision.Rule)
	res.Changed = rep.ChangeSet != nil
	return res
}

// dumpMetrics writes the session's metrics in the Prometheus text format
// to the diagnostic writer.
func dumpMetrics(f *OutputFormatter, g prometheus.Gatherer) {
	families, err := g.Gather()
	if err != nil {
		f.VerboseLog("gather metrics: %v", err)
		return
	}
	w := f.GetErrWriter()
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			f.VerboseLog("write metrics: %v", err)
			return
		}
	}
}
