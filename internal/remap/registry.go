// Package remap tracks identities retired by a merge and the identity that
// replaced each of them.
//
// A Registry is additive: an id is retired exactly once, so entries are
// never overwritten. Lookups follow chains, so if A was merged into B and B
// later into C, a reader still holding A lands on C.
package remap

import (
	"sync"

	"github.com/roach88/idmerge/internal/ids"
)

// maxChain bounds chain following. A cycle can only come from a corrupt
// table; the bound keeps a lookup from spinning on one.
const maxChain = 64

// Entry is one retired-to-surviving pair.
type Entry[T ~int64] struct {
	Old T `json:"old"`
	New T `json:"new"`
}

// RecipientEntry maps a retired recipient to its replacement.
type RecipientEntry = Entry[ids.RecipientID]

// ThreadEntry maps a retired thread to its replacement.
type ThreadEntry = Entry[ids.ThreadID]

// Registry is an in-memory, concurrency-safe view of all remaps.
// The zero value is not usable; call New.
type Registry struct {
	mu         sync.RWMutex
	recipients map[ids.RecipientID]ids.RecipientID
	threads    map[ids.ThreadID]ids.ThreadID
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		recipients: make(map[ids.RecipientID]ids.RecipientID),
		threads:    make(map[ids.ThreadID]ids.ThreadID),
	}
}

// AddRecipient records that old was merged into new. A second add for the
// same old id is ignored.
func (r *Registry) AddRecipient(old, new ids.RecipientID) {
	if old == new || old.IsZero() || new.IsZero() {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.recipients[old]; !ok {
		r.recipients[old] = new
	}
}

// AddThread records that thread old was merged into new.
func (r *Registry) AddThread(old, new ids.ThreadID) {
	if old == new || old.IsZero() || new.IsZero() {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.threads[old]; !ok {
		r.threads[old] = new
	}
}

// Recipient returns the live replacement for old, following chains.
// ok is false if old was never retired.
func (r *Registry) Recipient(old ids.RecipientID) (ids.RecipientID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return follow(r.recipients, old)
}

// Thread returns the live replacement for thread old, following chains.
func (r *Registry) Thread(old ids.ThreadID) (ids.ThreadID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return follow(r.threads, old)
}

// Reset drops every cached entry. Callers backed by a persistent table
// repopulate lazily.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recipients = make(map[ids.RecipientID]ids.RecipientID)
	r.threads = make(map[ids.ThreadID]ids.ThreadID)
}

// Len returns the number of recipient and thread entries.
func (r *Registry) Len() (recipients, threads int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.recipients), len(r.threads)
}

func follow[T comparable](m map[T]T, id T) (T, bool) {
	cur, ok := m[id]
	if !ok {
		return id, false
	}
	for i := 0; i < maxChain; i++ {
		next, ok := m[cur]
		if !ok {
			break
		}
		cur = next
	}
	return cur, true
}
