package engine

import (
	"context"
	"fmt"

	"github.com/roach88/idmerge/internal/ids"
	"github.com/roach88/idmerge/internal/recipient"
)

// Request is one observation of a remote party's identifiers.
type Request struct {
	ACI  ids.ACI
	E164 ids.E164

	// HighTrust marks the pairing as authoritative, e.g. it came from the
	// server's directory rather than from an unauthenticated envelope.
	HighTrust bool

	// AllowSelfReassignment disables self-protection. Only the local user's
	// own account-change flows set it.
	AllowSelfReassignment bool
}

// ParseRequest builds a Request from raw identifier strings. An empty
// string means the identifier is absent. Malformed input is an
// invalid-argument error.
func ParseRequest(aci, e164 string, highTrust, allowSelf bool) (Request, error) {
	req := Request{HighTrust: highTrust, AllowSelfReassignment: allowSelf}
	if aci != "" {
		a, err := ids.ParseACI(aci)
		if err != nil {
			return Request{}, NewInvalidArgument("malformed aci", err)
		}
		req.ACI = a
	}
	if e164 != "" {
		e, err := ids.ParseE164(e164)
		if err != nil {
			return Request{}, NewInvalidArgument("malformed e164", err)
		}
		req.E164 = e
	}
	return req, req.Validate()
}

// Validate rejects a request that carries no identifier.
func (r Request) Validate() error {
	if r.ACI.IsZero() && r.E164.IsZero() {
		return NewInvalidArgument("at least one of aci or e164 is required", nil)
	}
	return nil
}

// Lookup is the read side the resolver needs. *store.Tx satisfies it, so a
// decision is always made against the transaction that will apply it.
type Lookup interface {
	RecipientByACI(ctx context.Context, aci ids.ACI) (recipient.Record, bool, error)
	RecipientByE164(ctx context.Context, e164 ids.E164) (recipient.Record, bool, error)
}

// Self identifies the local account. Either field may be zero.
type Self struct {
	ACI  ids.ACI
	E164 ids.E164
}

// Resolver maps an identifier pair and the current rows to an Outcome.
// It never writes.
type Resolver struct {
	self Self
}

// NewResolver creates a resolver protecting the local account. A zero
// Self disables self-protection.
func NewResolver(self Self) *Resolver {
	return &Resolver{self: self}
}

// Resolve looks up both identifiers and applies the decision table.
func (r *Resolver) Resolve(ctx context.Context, lookup Lookup, req Request) (Decision, error) {
	if err := req.Validate(); err != nil {
		return Decision{}, err
	}

	var (
		byACI, byE164       recipient.Record
		aciFound, e164Found bool
		err                 error
	)
	if !req.ACI.IsZero() {
		if byACI, aciFound, err = lookup.RecipientByACI(ctx, req.ACI); err != nil {
			return Decision{}, fmt.Errorf("resolve: %w", err)
		}
	}
	if !req.E164.IsZero() {
		if byE164, e164Found, err = lookup.RecipientByE164(ctx, req.E164); err != nil {
			return Decision{}, fmt.Errorf("resolve: %w", err)
		}
	}

	var aciOwner, e164Owner *recipient.Record
	if aciFound {
		aciOwner = &byACI
	}
	if e164Found {
		e164Owner = &byE164
	}
	protected := req.HighTrust && r.selfProtected(req, aciOwner, e164Owner)
	trusted := req.HighTrust && !protected

	d := decide(req, byACI, aciFound, byE164, e164Found, trusted)
	d.SelfProtected = protected
	return d, nil
}

// selfProtected reports whether the claim touches the local account: it
// names the local ACI or number, the number would be detached from the row
// holding the local ACI, or the local number would be replaced on the ACI's
// row.
func (r *Resolver) selfProtected(req Request, aciOwner, e164Owner *recipient.Record) bool {
	if req.AllowSelfReassignment {
		return false
	}
	if aci := r.self.ACI; !aci.IsZero() {
		if req.ACI == aci || (e164Owner != nil && e164Owner.ACI == aci) {
			return true
		}
	}
	if e164 := r.self.E164; !e164.IsZero() {
		if req.E164 == e164 || (aciOwner != nil && aciOwner.E164 == e164) {
			return true
		}
	}
	return false
}

// decide is the decision table. It is a pure function of its inputs.
func decide(req Request, byACI recipient.Record, aciFound bool, byE164 recipient.Record, e164Found bool, trusted bool) Decision {
	switch {
	case aciFound && e164Found && byACI.ID == byE164.ID:
		return Decision{Outcome: Match{ID: byACI.ID}, Rule: RuleMatchSameRow}

	case aciFound && !e164Found:
		if req.E164.IsZero() {
			return Decision{Outcome: Match{ID: byACI.ID}, Rule: RuleMatchACINoE164}
		}
		if trusted {
			return Decision{
				Outcome: UpdateE164{ID: byACI.ID, E164: req.E164, ChangedNumber: !byACI.E164.IsZero()},
				Rule:    RuleUpdateE164,
			}
		}
		return Decision{Outcome: Match{ID: byACI.ID}, Rule: RuleMatchACIUntrusted}

	case !aciFound && e164Found:
		if req.ACI.IsZero() {
			return Decision{Outcome: Match{ID: byE164.ID}, Rule: RuleMatchE164NoACI}
		}
		if trusted && byE164.ACI.IsZero() {
			return Decision{Outcome: UpdateACI{ID: byE164.ID, ACI: req.ACI}, Rule: RuleUpdateACI}
		}
		if trusted {
			return Decision{
				Outcome: InsertAndReassignE164{ACI: req.ACI, E164: req.E164, FromID: byE164.ID},
				Rule:    RuleInsertReassignE164,
			}
		}
		// Never attach an ACI to a number on an untrusted claim.
		return Decision{Outcome: Insert{ACI: req.ACI}, Rule: RuleInsertACIUntrusted}

	case !aciFound && !e164Found:
		if trusted {
			return Decision{Outcome: Insert{ACI: req.ACI, E164: req.E164}, Rule: RuleInsertNew}
		}
		if !req.ACI.IsZero() {
			return Decision{Outcome: Insert{ACI: req.ACI}, Rule: RuleInsertNewUntrusted}
		}
		return Decision{Outcome: Insert{E164: req.E164}, Rule: RuleInsertNewUntrusted}
	}

	// Both found, different rows.
	if !trusted {
		return Decision{Outcome: Match{ID: byACI.ID}, Rule: RuleMatchBothUntrusted}
	}
	if byE164.ACI.IsZero() {
		return Decision{
			Outcome: Merge{
				KeepID:        byACI.ID,
				RetireID:      byE164.ID,
				E164:          req.E164,
				ChangedNumber: !byACI.E164.IsZero(),
			},
			Rule: RuleMerge,
		}
	}
	return Decision{
		Outcome: ReassignE164{
			ID:            byACI.ID,
			FromID:        byE164.ID,
			E164:          req.E164,
			ChangedNumber: !byACI.E164.IsZero(),
		},
		Rule: RuleReassignE164,
	}
}
