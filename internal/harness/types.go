package harness

import (
	"github.com/roach88/idmerge/internal/notify"
)

// Trace event types.
const (
	EventResolve   = "resolve"
	EventChangeSet = "changeset"
	EventError     = "error"
)

// TraceEvent is one entry of a scenario trace. A step produces a resolve
// event, followed by a changeset event when it wrote something, or a single
// error event when it failed.
type TraceEvent struct {
	Type string `json:"type"`
	Step int    `json:"step"`

	// Set on resolve events.
	Args          map[string]any `json:"args,omitempty"`
	Outcome       string         `json:"outcome,omitempty"`
	Rule          string         `json:"rule,omitempty"`
	RecipientID   int64          `json:"recipient_id,omitempty"`
	SelfProtected bool           `json:"self_protected,omitempty"`
	Attempts      int            `json:"attempts,omitempty"`

	// Set on changeset events.
	ChangeSet *notify.ChangeSet `json:"changeset,omitempty"`

	// Set on error events: invalid_argument, constraint_conflict,
	// inconsistent_state or error.
	Error string `json:"error,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true if every expect clause and assertion held.
	Pass bool `json:"pass"`

	Trace []TraceEvent `json:"trace"`

	// Errors is empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Seeded maps seed aliases to the ids they were given.
	Seeded map[string]int64 `json:"seeded,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
		Seeded: make(map[string]int64),
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

func (r *Result) addResolve(ev TraceEvent) {
	ev.Type = EventResolve
	r.Trace = append(r.Trace, ev)
}

func (r *Result) addChangeSet(step int, cs notify.ChangeSet) {
	r.Trace = append(r.Trace, TraceEvent{Type: EventChangeSet, Step: step, ChangeSet: &cs})
}

func (r *Result) addError(step int, args map[string]any, kind string) {
	r.Trace = append(r.Trace, TraceEvent{Type: EventError, Step: step, Args: args, Error: kind})
}
