package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/roach88/idmerge/internal/engine"
	"github.com/roach88/idmerge/internal/ids"
	"github.com/roach88/idmerge/internal/notify"
	"github.com/roach88/idmerge/internal/recipient"
	"github.com/roach88/idmerge/internal/store"
	"github.com/roach88/idmerge/internal/testutil"
)

// Harness is the test execution engine for one scenario.
type Harness struct {
	store    *store.Store
	engine   *engine.Engine
	recorder *notify.Recorder
	logger   *slog.Logger
	aliases  map[string]ids.RecipientID
}

// Option configures Run.
type Option func(*runOptions)

type runOptions struct {
	driver string
	logger *slog.Logger
}

// WithDriver runs the scenario on the given SQLite driver.
func WithDriver(name string) Option {
	return func(o *runOptions) { o.driver = name }
}

// WithLogger routes engine and harness logs to l. Logs are discarded by
// default.
func WithLogger(l *slog.Logger) Option {
	return func(o *runOptions) { o.logger = l }
}

// Run executes a scenario and returns the result. A returned error means
// the scenario could not be executed at all; failed expectations are
// reported in Result.Errors.
func Run(scenario *Scenario, opts ...Option) (*Result, error) {
	o := runOptions{
		driver: store.DriverMattn,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(&o)
	}

	st, err := store.Open(":memory:", store.WithDriver(o.driver), store.WithLogger(o.logger))
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	var self ids.ACI
	if scenario.Self != "" {
		if self, err = ids.ParseACI(scenario.Self); err != nil {
			return nil, fmt.Errorf("self: %w", err)
		}
	}

	recorder := &notify.Recorder{}
	h := &Harness{
		store:    st,
		recorder: recorder,
		logger:   o.logger,
		aliases:  make(map[string]ids.RecipientID),
		engine: engine.New(st,
			engine.WithLogger(o.logger),
			engine.WithSelf(self),
			engine.WithStrict(false),
			engine.WithNotifier(recorder),
			engine.WithClock(notify.NewClock()),
			engine.WithIDGenerator(testutil.NewFixedIDGenerator(scenario.ChangeSetID)),
		),
	}

	ctx := context.Background()
	result := NewResult()

	if err := h.seed(ctx, scenario.Seed, result); err != nil {
		return nil, fmt.Errorf("failed to seed: %w", err)
	}

	changeSets := 0
	for i, step := range scenario.Steps {
		if h.executeStep(ctx, i, step, result) {
			changeSets++
		}
	}
	if got := len(recorder.ChangeSets()); got != changeSets {
		result.AddError(fmt.Sprintf("notifier received %d change sets, engine reported %d", got, changeSets))
	}

	actx := &AssertionContext{Store: st, Ctx: ctx, Aliases: h.aliases}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

// seed writes the seed rows in one transaction.
func (h *Harness) seed(ctx context.Context, rows []SeedRow, result *Result) error {
	return h.store.WriteTx(ctx, func(tx *store.Tx) error {
		for i, row := range rows {
			rec := recipient.Record{
				Blocked:          row.Blocked,
				ProfileSharing:   row.ProfileSharing,
				ProfileGivenName: row.ProfileGivenName,
				SystemGivenName:  row.SystemGivenName,
			}
			var err error
			if row.ACI != "" {
				if rec.ACI, err = ids.ParseACI(row.ACI); err != nil {
					return fmt.Errorf("seed %d: %w", i, err)
				}
			}
			if row.E164 != "" {
				if rec.E164, err = ids.ParseE164(row.E164); err != nil {
					return fmt.Errorf("seed %d: %w", i, err)
				}
			}

			id, err := tx.SeedRecipient(ctx, rec)
			if err != nil {
				return fmt.Errorf("seed %d: %w", i, err)
			}
			h.aliases[row.As] = id
			result.Seeded[row.As] = int64(id)

			if !row.Thread {
				continue
			}
			thread, err := tx.CreateThread(ctx, id, row.ExpiresIn)
			if err != nil {
				return fmt.Errorf("seed %d: %w", i, err)
			}
			for m := range row.Messages {
				body := fmt.Sprintf("%s message %d", row.As, m+1)
				if _, err := tx.AddMessage(ctx, thread, id, store.MessageTypeText, body); err != nil {
					return fmt.Errorf("seed %d: %w", i, err)
				}
			}
		}
		return nil
	})
}

// executeStep resolves one step and checks its expect clause. It reports
// whether the engine produced a change set.
func (h *Harness) executeStep(ctx context.Context, i int, step Step, result *Result) bool {
	args := stepArgs(step)

	req, err := engine.ParseRequest(step.ACI, step.E164, !step.LowTrust, step.AllowSelf)
	if err == nil {
		var rep engine.Report
		rep, err = h.engine.Process(ctx, req)
		if err == nil {
			h.recordReport(i, step, args, rep, result)
			return rep.ChangeSet != nil
		}
	}

	kind := errorKind(err)
	result.addError(i, args, kind)
	h.logger.Info("step failed", "step", i, "error", err)

	switch {
	case step.Expect == nil || step.Expect.Error == "":
		result.AddError(fmt.Sprintf("steps[%d]: unexpected error: %v", i, err))
	case step.Expect.Error != kind:
		result.AddError(fmt.Sprintf("steps[%d]: expected %s error, got %s: %v", i, step.Expect.Error, kind, err))
	}
	return false
}

func (h *Harness) recordReport(i int, step Step, args map[string]any, rep engine.Report, result *Result) {
	result.addResolve(TraceEvent{
		Step:          i,
		Args:          args,
		Outcome:       rep.Decision.Outcome.Kind(),
		Rule:          string(rep.Decision.Rule),
		RecipientID:   int64(rep.RecipientID),
		SelfProtected: rep.Decision.SelfProtected,
		Attempts:      rep.Attempts,
	})
	if rep.ChangeSet != nil {
		result.addChangeSet(i, *rep.ChangeSet)
	}
	if step.As != "" {
		h.aliases[step.As] = rep.RecipientID
		result.Seeded[step.As] = int64(rep.RecipientID)
	}

	h.logger.Info("step resolved",
		"step", i,
		"outcome", rep.Decision.Outcome.Kind(),
		"rule", rep.Decision.Rule,
		"recipient_id", rep.RecipientID)

	exp := step.Expect
	if exp == nil {
		return
	}
	if exp.Error != "" {
		result.AddError(fmt.Sprintf("steps[%d]: expected %s error, got %s", i, exp.Error, rep.Decision.Outcome.Kind()))
		return
	}
	if exp.Outcome != "" && exp.Outcome != rep.Decision.Outcome.Kind() {
		result.AddError(fmt.Sprintf("steps[%d]: expected outcome %s, got %s", i, exp.Outcome, rep.Decision.Outcome.Kind()))
	}
	if exp.Rule != "" && exp.Rule != string(rep.Decision.Rule) {
		result.AddError(fmt.Sprintf("steps[%d]: expected rule %s, got %s", i, exp.Rule, rep.Decision.Rule))
	}
	if exp.Recipient != "" {
		want, err := resolveRef(exp.Recipient, h.aliases)
		switch {
		case err != nil:
			result.AddError(fmt.Sprintf("steps[%d]: %v", i, err))
		case want != rep.RecipientID:
			result.AddError(fmt.Sprintf("steps[%d]: expected recipient %s (%d), got %d", i, exp.Recipient, want, rep.RecipientID))
		}
	}
	if exp.Applied != nil && *exp.Applied != rep.Result.Applied {
		result.AddError(fmt.Sprintf("steps[%d]: expected applied=%t, got %t", i, *exp.Applied, rep.Result.Applied))
	}
	if exp.SelfProtected != nil && *exp.SelfProtected != rep.Decision.SelfProtected {
		result.AddError(fmt.Sprintf("steps[%d]: expected self_protected=%t, got %t", i, *exp.SelfProtected, rep.Decision.SelfProtected))
	}
}

// stepArgs is the trace rendering of a step's request.
func stepArgs(step Step) map[string]any {
	args := make(map[string]any)
	if step.ACI != "" {
		args["aci"] = step.ACI
	}
	if step.E164 != "" {
		args["e164"] = step.E164
	}
	if step.LowTrust {
		args["low_trust"] = true
	}
	if step.AllowSelf {
		args["allow_self"] = true
	}
	return args
}

func errorKind(err error) string {
	switch {
	case engine.IsInvalidArgument(err):
		return ErrorInvalidArgument
	case engine.IsInconsistentState(err):
		return ErrorInconsistentState
	case engine.IsConstraintConflict(err):
		return ErrorConstraintConflict
	default:
		return ErrorOther
	}
}

// resolveRef turns "@alias" or a literal id into a recipient id.
func resolveRef(ref string, aliases map[string]ids.RecipientID) (ids.RecipientID, error) {
	if name, ok := strings.CutPrefix(ref, "@"); ok {
		id, found := aliases[name]
		if !found {
			return 0, fmt.Errorf("unknown alias %q", ref)
		}
		return id, nil
	}
	n, err := strconv.ParseInt(ref, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("recipient reference %q is neither @alias nor an id", ref)
	}
	return ids.RecipientID(n), nil
}
