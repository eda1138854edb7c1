package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/roach88/idmerge/internal/ids"
	"github.com/roach88/idmerge/internal/metrics"
	"github.com/roach88/idmerge/internal/recipient"
	"github.com/roach88/idmerge/internal/remap"
	"github.com/roach88/idmerge/internal/store"
)

// Result is what Apply did.
type Result struct {
	// RecipientID is the row the identifier pair now resolves to.
	RecipientID ids.RecipientID
	// Affected lists every recipient whose row changed, RecipientID first.
	Affected []ids.RecipientID
	// RecipientRemap is set by a merge.
	RecipientRemap *remap.RecipientEntry
	// ThreadRemap is set when a merge combined two threads.
	ThreadRemap *remap.ThreadEntry
	// ChangedNumber is the recipient whose existing number was replaced.
	ChangedNumber ids.RecipientID
	// Applied is false when the outcome was already in effect.
	Applied bool
}

// Executor carries out an Outcome inside a write transaction.
//
// Every outcome is idempotent: applying the same outcome to the state it
// produced writes nothing and returns Applied=false. State that no longer
// matches what the resolver saw is reported as a constraint conflict so
// the caller can re-resolve.
type Executor struct {
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewExecutor creates an executor. A nil logger uses slog.Default(); nil
// metrics are skipped.
func NewExecutor(logger *slog.Logger, m *metrics.Metrics) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{logger: logger, metrics: m}
}

// Apply executes o against tx.
func (x *Executor) Apply(ctx context.Context, tx *store.Tx, o Outcome) (Result, error) {
	switch o := o.(type) {
	case Match:
		return x.applyMatch(ctx, tx, o)
	case UpdateE164:
		return x.applyUpdateE164(ctx, tx, o)
	case UpdateACI:
		return x.applyUpdateACI(ctx, tx, o)
	case Insert:
		return x.applyInsert(ctx, tx, o)
	case InsertAndReassignE164:
		return x.applyInsertAndReassign(ctx, tx, o)
	case Merge:
		return x.applyMerge(ctx, tx, o)
	case ReassignE164:
		return x.applyReassign(ctx, tx, o)
	default:
		return Result{}, NewInconsistentState(fmt.Sprintf("unknown outcome %T", o), nil, nil)
	}
}

func (x *Executor) applyMatch(ctx context.Context, tx *store.Tx, o Match) (Result, error) {
	if _, err := mustExist(ctx, tx, o.ID); err != nil {
		return Result{}, err
	}
	return Result{RecipientID: o.ID}, nil
}

func (x *Executor) applyUpdateE164(ctx context.Context, tx *store.Tx, o UpdateE164) (Result, error) {
	var previous ids.E164
	if o.ChangedNumber {
		row, err := mustExist(ctx, tx, o.ID)
		if err != nil {
			return Result{}, err
		}
		previous = row.E164
	}

	changed, err := tx.SetE164(ctx, o.ID, o.E164)
	if err != nil {
		return Result{}, classify("update e164", err, idDetails(o.ID))
	}
	if !changed {
		// Either the row already holds the number or it is gone.
		row, err := mustExist(ctx, tx, o.ID)
		if err != nil {
			return Result{}, err
		}
		if row.E164 != o.E164 {
			return Result{}, NewInconsistentState("e164 write matched no row", nil, idDetails(o.ID))
		}
		return Result{RecipientID: o.ID}, nil
	}

	res := Result{RecipientID: o.ID, Affected: []ids.RecipientID{o.ID}, Applied: true}
	if o.ChangedNumber {
		res.ChangedNumber = o.ID
		if err := x.announceNumberChange(ctx, tx, o.ID, previous, o.E164); err != nil {
			return Result{}, err
		}
	}
	return res, nil
}

func (x *Executor) applyUpdateACI(ctx context.Context, tx *store.Tx, o UpdateACI) (Result, error) {
	changed, err := tx.SetACI(ctx, o.ID, o.ACI)
	if err != nil {
		return Result{}, classify("update aci", err, idDetails(o.ID))
	}
	if !changed {
		row, err := mustExist(ctx, tx, o.ID)
		if err != nil {
			return Result{}, err
		}
		if row.ACI != o.ACI {
			return Result{}, NewConstraintConflict("row gained a different aci", nil, map[string]string{
				"id": o.ID.String(), "aci": o.ACI.String(), "stored_aci": row.ACI.String(),
			})
		}
		return Result{RecipientID: o.ID}, nil
	}
	return Result{RecipientID: o.ID, Affected: []ids.RecipientID{o.ID}, Applied: true}, nil
}

func (x *Executor) applyInsert(ctx context.Context, tx *store.Tx, o Insert) (Result, error) {
	if o.ACI.IsZero() && o.E164.IsZero() {
		return Result{}, NewInconsistentState("insert without identifiers", nil, nil)
	}

	id, inserted, err := tx.InsertRecipient(ctx, o.ACI, o.E164)
	if err != nil {
		return Result{}, classify("insert recipient", err, pairDetails(o.ACI, o.E164))
	}
	if inserted {
		return Result{RecipientID: id, Affected: []ids.RecipientID{id}, Applied: true}, nil
	}

	existing, ok, err := x.holder(ctx, tx, o.ACI, o.E164)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		return Result{}, NewConstraintConflict("insert collided with another row", nil, pairDetails(o.ACI, o.E164))
	}
	return Result{RecipientID: existing}, nil
}

// holder returns the one row that already holds every supplied identifier.
func (x *Executor) holder(ctx context.Context, tx *store.Tx, aci ids.ACI, e164 ids.E164) (ids.RecipientID, bool, error) {
	var id ids.RecipientID
	if !aci.IsZero() {
		row, ok, err := tx.RecipientByACI(ctx, aci)
		if err != nil || !ok {
			return 0, false, err
		}
		id = row.ID
	}
	if !e164.IsZero() {
		row, ok, err := tx.RecipientByE164(ctx, e164)
		if err != nil || !ok {
			return 0, false, err
		}
		if !id.IsZero() && row.ID != id {
			return 0, false, nil
		}
		id = row.ID
	}
	return id, true, nil
}

func (x *Executor) applyInsertAndReassign(ctx context.Context, tx *store.Tx, o InsertAndReassignE164) (Result, error) {
	if existing, ok, err := x.holder(ctx, tx, o.ACI, o.E164); err != nil {
		return Result{}, err
	} else if ok {
		return Result{RecipientID: existing}, nil
	}

	removed, err := tx.RemovePhoneNumber(ctx, o.FromID, o.E164)
	if err != nil {
		return Result{}, classify("reassign e164", err, idDetails(o.FromID))
	}
	if !removed {
		return Result{}, NewConstraintConflict("previous owner no longer holds the number", nil, map[string]string{
			"from_id": o.FromID.String(), "e164": o.E164.String(),
		})
	}

	id, inserted, err := tx.InsertRecipient(ctx, o.ACI, o.E164)
	if err != nil {
		return Result{}, classify("insert recipient", err, pairDetails(o.ACI, o.E164))
	}
	if !inserted {
		return Result{}, NewConstraintConflict("insert collided with another row", nil, pairDetails(o.ACI, o.E164))
	}

	return Result{
		RecipientID: id,
		Affected:    []ids.RecipientID{id, o.FromID},
		Applied:     true,
	}, nil
}

func (x *Executor) applyReassign(ctx context.Context, tx *store.Tx, o ReassignE164) (Result, error) {
	row, err := mustExist(ctx, tx, o.ID)
	if err != nil {
		return Result{}, err
	}
	if row.E164 == o.E164 {
		return Result{RecipientID: o.ID}, nil
	}

	removed, err := tx.RemovePhoneNumber(ctx, o.FromID, o.E164)
	if err != nil {
		return Result{}, classify("reassign e164", err, idDetails(o.FromID))
	}
	if !removed {
		return Result{}, NewConstraintConflict("previous owner no longer holds the number", nil, map[string]string{
			"from_id": o.FromID.String(), "e164": o.E164.String(),
		})
	}

	changed, err := tx.SetE164(ctx, o.ID, o.E164)
	if err != nil {
		return Result{}, classify("reassign e164", err, idDetails(o.ID))
	}
	if !changed {
		return Result{}, NewInconsistentState("e164 write matched no row", nil, idDetails(o.ID))
	}

	res := Result{
		RecipientID: o.ID,
		Affected:    []ids.RecipientID{o.ID, o.FromID},
		Applied:     true,
	}
	if o.ChangedNumber {
		res.ChangedNumber = o.ID
		if err := x.announceNumberChange(ctx, tx, o.ID, row.E164, o.E164); err != nil {
			return Result{}, err
		}
	}
	return res, nil
}

// applyMerge folds the retiring row into the surviving one:
//
//  1. drop sessions and identity keys addressed by the retiring number
//  2. re-point every dependent store from retire to keep
//  3. merge the two threads
//  4. combine the rows column by column (recipient.Merge)
//  5. delete the retiring row, record the remap, write the merged row
//
// The delete precedes the write because the merged row takes the retiring
// row's e164, which is unique.
func (x *Executor) applyMerge(ctx context.Context, tx *store.Tx, o Merge) (Result, error) {
	details := map[string]string{"keep_id": o.KeepID.String(), "retire_id": o.RetireID.String()}

	retire, ok, err := tx.RecipientByID(ctx, o.RetireID)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		next, remapped, err := tx.RecipientRemap(ctx, o.RetireID)
		if err != nil {
			return Result{}, err
		}
		if remapped && next == o.KeepID {
			return Result{RecipientID: o.KeepID}, nil
		}
		return Result{}, NewConstraintConflict("retiring recipient is gone", nil, details)
	}

	keep, err := mustExist(ctx, tx, o.KeepID)
	if err != nil {
		return Result{}, err
	}
	if !retire.ACI.IsZero() || retire.E164 != o.E164 {
		return Result{}, NewConstraintConflict("retiring recipient changed since resolve", nil, details)
	}

	// 1.
	if !retire.E164.IsZero() {
		sessions, identities, err := tx.DeleteCryptoByAddress(ctx, retire.E164.String())
		if err != nil {
			return Result{}, err
		}
		if sessions+identities > 0 {
			x.logger.Debug("dropped crypto state for retiring number",
				"retire_id", o.RetireID, "sessions", sessions, "identities", identities)
		}
	}

	// 2.
	for _, d := range tx.Dependents() {
		n, err := d.RemapOwner(ctx, tx, o.RetireID, o.KeepID)
		if err != nil {
			return Result{}, classify("remap "+d.Name(), err, details)
		}
		x.metrics.AddRemappedRows(d.Name(), n)
	}

	// 3.
	tm, err := tx.MergeThreads(ctx, o.KeepID, o.RetireID, retire.E164)
	if err != nil {
		return Result{}, classify("merge threads", err, details)
	}

	// 4.
	merged := recipient.Merge(keep, retire)

	// 5.
	if err := tx.DeleteRecipient(ctx, o.RetireID); err != nil {
		return Result{}, classify("delete retiring recipient", err, details)
	}
	if err := tx.RecordRecipientRemap(ctx, o.RetireID, o.KeepID); err != nil {
		return Result{}, err
	}
	if err := tx.ReplaceRecipient(ctx, merged); err != nil {
		return Result{}, classify("write merged recipient", err, details)
	}

	res := Result{
		RecipientID:    o.KeepID,
		Affected:       []ids.RecipientID{o.KeepID, o.RetireID},
		RecipientRemap: &remap.RecipientEntry{Old: o.RetireID, New: o.KeepID},
		Applied:        true,
	}
	if !tm.Retired.IsZero() {
		res.ThreadRemap = &remap.ThreadEntry{Old: tm.Retired, New: tm.ThreadID}
	}
	if o.ChangedNumber {
		res.ChangedNumber = o.KeepID
		if err := x.announceNumberChange(ctx, tx, o.KeepID, keep.E164, merged.E164); err != nil {
			return Result{}, err
		}
	}

	x.logger.Debug("merged recipients",
		"keep_id", o.KeepID, "retire_id", o.RetireID,
		"thread_id", tm.ThreadID, "thread_retired", tm.Retired)
	return res, nil
}

// announceNumberChange adds a change_number message to id's thread. A
// recipient that had no number has nothing to announce.
func (x *Executor) announceNumberChange(ctx context.Context, tx *store.Tx, id ids.RecipientID, previous, current ids.E164) error {
	if previous.IsZero() || previous == current {
		return nil
	}
	added, err := tx.AddChangeNumberEvent(ctx, id, previous, current)
	if err != nil {
		return classify("change number event", err, idDetails(id))
	}
	if !added {
		x.logger.Debug("no change number event", "recipient_id", id)
	}
	return nil
}

// mustExist reads row id and reports a missing row as a conflict: the
// resolver saw it, so it was deleted underneath us.
func mustExist(ctx context.Context, tx *store.Tx, id ids.RecipientID) (recipient.Record, error) {
	row, ok, err := tx.RecipientByID(ctx, id)
	if err != nil {
		return recipient.Record{}, err
	}
	if !ok {
		return recipient.Record{}, NewConstraintConflict("recipient is gone", nil, idDetails(id))
	}
	return row, nil
}

// classify maps store errors to runtime errors. A unique violation is a
// conflict worth re-resolving; a foreign-key violation means a dependent
// row would be orphaned, which no retry can fix.
func classify(op string, err error, details map[string]string) error {
	switch {
	case store.IsUniqueViolation(err):
		return NewConstraintConflict(op+": uniqueness violated", err, details)
	case store.IsForeignKeyViolation(err):
		return NewInconsistentState(op+": dependent rows would be orphaned", err, details)
	case errors.Is(err, store.ErrNotFound):
		return NewConstraintConflict(op+": row is gone", err, details)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

func idDetails(id ids.RecipientID) map[string]string {
	return map[string]string{"id": strconv.FormatInt(int64(id), 10)}
}

func pairDetails(aci ids.ACI, e164 ids.E164) map[string]string {
	return map[string]string{"aci": aci.String(), "e164": e164.String()}
}
