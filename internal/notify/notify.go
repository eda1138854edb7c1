// Package notify delivers the side effects of a committed resolution to the
// rest of the client: which recipients changed, which identity was retired
// into which, and whose phone number changed.
//
// The engine calls a Notifier once per committed write, after the commit.
// A resolution that wrote nothing produces no ChangeSet.
package notify

import (
	"context"
	"sync"

	"github.com/roach88/idmerge/internal/ids"
	"github.com/roach88/idmerge/internal/remap"
)

//go:generate mockgen -destination=mocks/notifier_mock.go -package=mocks github.com/roach88/idmerge/internal/notify Notifier

// ChangeSet is the post-commit summary of one resolution.
type ChangeSet struct {
	// ID is a time-sortable UUIDv7.
	ID string `json:"id,omitempty"`
	// Seq is strictly increasing per engine, in commit order. A failed
	// commit can leave a gap.
	Seq  int64  `json:"seq"`
	Rule string `json:"rule"`

	Affected       []ids.RecipientID     `json:"affected"`
	RecipientRemap *remap.RecipientEntry `json:"recipient_remap,omitempty"`
	ThreadRemap    *remap.ThreadEntry    `json:"thread_remap,omitempty"`
	ChangedNumber  ids.RecipientID       `json:"changed_number,omitempty"`
}

// Notifier receives committed change sets. Implementations must not block
// for long; the engine calls Notify on the resolving goroutine.
type Notifier interface {
	Notify(ctx context.Context, cs ChangeSet)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, cs ChangeSet)

// Notify calls f.
func (f NotifierFunc) Notify(ctx context.Context, cs ChangeSet) { f(ctx, cs) }

// Nop discards every change set.
var Nop Notifier = NotifierFunc(func(context.Context, ChangeSet) {})

// Multi fans a change set out to several notifiers in order.
func Multi(notifiers ...Notifier) Notifier {
	return NotifierFunc(func(ctx context.Context, cs ChangeSet) {
		for _, n := range notifiers {
			n.Notify(ctx, cs)
		}
	})
}

// Recorder keeps every change set it receives. It is safe for concurrent
// use.
type Recorder struct {
	mu   sync.Mutex
	sets []ChangeSet
}

// Notify appends cs.
func (r *Recorder) Notify(_ context.Context, cs ChangeSet) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sets = append(r.sets, cs)
}

// ChangeSets returns a copy of everything recorded so far.
func (r *Recorder) ChangeSets() []ChangeSet {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ChangeSet(nil), r.sets...)
}

// Reset forgets everything recorded.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sets = nil
}
