package notify

import (
	"context"
	"log/slog"
	"sync"
)

// Dispatcher decouples the engine from slow notifiers.
//
// Notify only enqueues; a single Run goroutine delivers change sets to the
// sink in Notify order. Concurrent resolutions may call Notify out of commit
// order; Seq carries commit order. The queue is unbounded so a burst of
// merges never blocks the writer.
//
// Thread-safety model:
//   - Notify(): safe from any goroutine
//   - Run(): must be called from exactly one goroutine
//   - Close(): safe from any goroutine; Run drains what is queued, then returns
type Dispatcher struct {
	sink   Notifier
	logger *slog.Logger

	mu      sync.Mutex
	pending []ChangeSet
	closed  bool
	signal  chan struct{} // buffered, size 1
}

// NewDispatcher creates a dispatcher that delivers to sink.
func NewDispatcher(sink Notifier, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		sink:    sink,
		logger:  logger,
		pending: make([]ChangeSet, 0, 16),
		signal:  make(chan struct{}, 1),
	}
}

// Notify enqueues cs. Change sets arriving after Close are dropped with a
// warning.
func (d *Dispatcher) Notify(_ context.Context, cs ChangeSet) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		d.logger.Warn("change set dropped after dispatcher close", "id", cs.ID, "seq", cs.Seq)
		return
	}

	d.pending = append(d.pending, cs)

	// Non-blocking: the buffer of 1 coalesces signals.
	select {
	case d.signal <- struct{}{}:
	default:
	}
}

// tryDequeue pops the oldest change set without blocking.
func (d *Dispatcher) tryDequeue() (ChangeSet, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.pending) == 0 {
		return ChangeSet{}, false
	}

	cs := d.pending[0]
	// Clear the slot so the backing array does not pin Affected slices.
	d.pending[0] = ChangeSet{}
	if len(d.pending) == 1 {
		d.pending = d.pending[:0]
	} else {
		d.pending = d.pending[1:]
	}
	return cs, true
}

func (d *Dispatcher) drained() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed && len(d.pending) == 0
}

// Run delivers queued change sets until ctx is cancelled or the dispatcher
// is closed and empty.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		if cs, ok := d.tryDequeue(); ok {
			d.sink.Notify(ctx, cs)
			continue
		}
		if d.drained() {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-d.signal:
		}
	}
}

// Len returns how many change sets are waiting.
func (d *Dispatcher) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Close stops accepting change sets and wakes Run.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return
	}
	d.closed = true
	close(d.signal)
}
