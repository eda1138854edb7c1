package engine

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/idmerge/internal/ids"
	"github.com/roach88/idmerge/internal/metrics"
	"github.com/roach88/idmerge/internal/notify"
	"github.com/roach88/idmerge/internal/store"
)

// maxAttempts is one try plus one re-resolve after a constraint conflict.
const maxAttempts = 2

const tracerName = "github.com/roach88/idmerge/internal/engine"

// Engine is the entry point for identifier resolution.
//
// Each call runs the resolver and the executor in one write transaction.
// The store serializes write transactions, so concurrent calls for the same
// pair see each other's results and converge on one row.
//
// Thread-safety: all methods are safe for concurrent use.
type Engine struct {
	store    *store.Store
	resolver *Resolver
	executor *Executor

	notifier notify.Notifier
	clock    *notify.Clock
	idgen    notify.IDGenerator

	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
	strict  bool
	self    Self

	// afterResolve runs between resolve and apply. Tests use it to change
	// the rows underneath a decision.
	afterResolve func(ctx context.Context, tx *store.Tx, attempt int) error
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithNotifier sets who receives committed change sets. Default: notify.Nop.
func WithNotifier(n notify.Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithMetrics enables Prometheus metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithSelf sets the local user's ACI, enabling self-protection.
func WithSelf(aci ids.ACI) Option {
	return func(e *Engine) { e.self.ACI = aci }
}

// WithSelfE164 sets the local user's phone number. Claims naming it are
// treated as low trust unless they allow self reassignment.
func WithSelfE164(e164 ids.E164) Option {
	return func(e *Engine) { e.self.E164 = e164 }
}

// WithStrict makes an inconsistent state panic after it is logged. For
// tests and development builds.
func WithStrict(strict bool) Option {
	return func(e *Engine) { e.strict = strict }
}

// WithTracer sets the OpenTelemetry tracer. Default: the global provider's.
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

// WithClock sets the change-set sequence clock.
func WithClock(c *notify.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithIDGenerator sets the change-set id generator. Default: UUIDv7.
func WithIDGenerator(g notify.IDGenerator) Option {
	return func(e *Engine) { e.idgen = g }
}

// New creates an Engine over s.
func New(s *store.Store, opts ...Option) *Engine {
	e := &Engine{
		store:    s,
		notifier: notify.Nop,
		clock:    notify.NewClock(),
		idgen:    notify.UUIDv7Generator{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.tracer == nil {
		e.tracer = otel.Tracer(tracerName)
	}
	e.resolver = NewResolver(e.self)
	e.executor = NewExecutor(e.logger, e.metrics)
	return e
}

// Report describes one resolution.
type Report struct {
	RecipientID ids.RecipientID
	Decision    Decision
	Result      Result
	// ChangeSet is what the notifier received; nil when nothing was written.
	ChangeSet *notify.ChangeSet
	Attempts  int
}

// ResolveAndMerge maps an identifier pair to exactly one recipient,
// creating, updating or merging rows as needed, and returns its id.
func (e *Engine) ResolveAndMerge(ctx context.Context, req Request) (ids.RecipientID, error) {
	rep, err := e.Process(ctx, req)
	if err != nil {
		return 0, err
	}
	return rep.RecipientID, nil
}

// Process is ResolveAndMerge with the full report.
//
// Errors:
//   - InvalidArgument: rejected before any transaction opens
//   - InconsistentState: a conflict survived the retry, or an outcome's
//     precondition failed; logged at error level, and a panic in strict mode
func (e *Engine) Process(ctx context.Context, req Request) (Report, error) {
	start := time.Now()
	defer func() { e.metrics.ObserveResolveLatency(time.Since(start)) }()

	ctx, span := e.tracer.Start(ctx, "engine.ResolveAndMerge",
		trace.WithAttributes(
			attribute.Bool("idmerge.aci_present", !req.ACI.IsZero()),
			attribute.Bool("idmerge.e164_present", !req.E164.IsZero()),
			attribute.Bool("idmerge.high_trust", req.HighTrust),
		))
	defer span.End()

	if err := req.Validate(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Report{}, err
	}

	var (
		rep Report
		err error
	)
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		rep, err = e.attempt(ctx, req, attempt)
		rep.Attempts = attempt
		if err == nil || !IsConstraintConflict(err) {
			break
		}
		if attempt < maxAttempts {
			e.metrics.IncrementRetry()
			e.logger.Warn("constraint conflict, re-resolving",
				"rule", rep.Decision.Rule, "attempt", attempt, "error", err)
		}
	}
	if IsConstraintConflict(err) {
		err = NewInconsistentState("conflict persisted after retry", err, requestDetails(req))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if IsInconsistentState(err) {
			e.inconsistent(req, rep, err)
		}
		return rep, err
	}

	span.SetAttributes(
		attribute.String("idmerge.rule", string(rep.Decision.Rule)),
		attribute.String("idmerge.outcome", rep.Decision.Outcome.Kind()),
		attribute.Int64("idmerge.recipient_id", int64(rep.RecipientID)),
		attribute.Bool("idmerge.applied", rep.Result.Applied),
	)
	e.metrics.IncrementResolution(string(rep.Decision.Rule), rep.Decision.Outcome.Kind())

	if cs := rep.ChangeSet; cs != nil {
		if cs.RecipientRemap != nil {
			e.metrics.IncrementRemap("recipient")
		}
		if cs.ThreadRemap != nil {
			e.metrics.IncrementRemap("thread")
		}
		e.notifier.Notify(ctx, *cs)
	}

	e.logger.Debug("resolved recipient",
		"rule", rep.Decision.Rule,
		"outcome", rep.Decision.Outcome.Kind(),
		"recipient_id", rep.RecipientID,
		"applied", rep.Result.Applied,
		"self_protected", rep.Decision.SelfProtected,
		"attempts", rep.Attempts)
	return rep, nil
}

// attempt resolves and applies in one write transaction.
func (e *Engine) attempt(ctx context.Context, req Request, n int) (Report, error) {
	var rep Report
	err := e.store.WriteTx(ctx, func(tx *store.Tx) error {
		d, err := e.resolver.Resolve(ctx, tx, req)
		if err != nil {
			return err
		}
		rep.Decision = d

		if e.afterResolve != nil {
			if err := e.afterResolve(ctx, tx, n); err != nil {
				return err
			}
		}

		res, err := e.executor.Apply(ctx, tx, d.Outcome)
		if err != nil {
			return err
		}
		rep.Result = res
		rep.RecipientID = res.RecipientID

		// The writer holds the only connection until commit, so sequence
		// numbers taken here follow commit order.
		if res.Applied {
			cs := e.changeSet(rep)
			rep.ChangeSet = &cs
		}
		return nil
	})
	if err != nil {
		rep.ChangeSet = nil
	}
	return rep, err
}

// DryRun returns the decision the engine would make against the last
// committed state, without writing.
func (e *Engine) DryRun(ctx context.Context, req Request) (Decision, error) {
	return e.resolver.Resolve(ctx, e.store, req)
}

func (e *Engine) changeSet(rep Report) notify.ChangeSet {
	return notify.ChangeSet{
		ID:             e.idgen.Generate(),
		Seq:            e.clock.Next(),
		Rule:           string(rep.Decision.Rule),
		Affected:       append([]ids.RecipientID(nil), rep.Result.Affected...),
		RecipientRemap: rep.Result.RecipientRemap,
		ThreadRemap:    rep.Result.ThreadRemap,
		ChangedNumber:  rep.Result.ChangedNumber,
	}
}

func (e *Engine) inconsistent(req Request, rep Report, err error) {
	e.metrics.IncrementInconsistent()
	e.logger.Error("inconsistent recipient state",
		"aci", req.ACI.String(),
		"e164", req.E164.String(),
		"high_trust", req.HighTrust,
		"allow_self_reassignment", req.AllowSelfReassignment,
		"rule", rep.Decision.Rule,
		"attempts", rep.Attempts,
		"error", err)
	if e.strict {
		panic(err)
	}
}

func requestDetails(req Request) map[string]string {
	return map[string]string{"aci": req.ACI.String(), "e164": req.E164.String()}
}
