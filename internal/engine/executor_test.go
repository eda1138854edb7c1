package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/idmerge/internal/ids"
	"github.com/roach88/idmerge/internal/recipient"
	"github.com/roach88/idmerge/internal/remap"
	"github.com/roach88/idmerge/internal/store"
)

type bogusOutcome struct{}

func (bogusOutcome) Kind() string { return "bogus" }
func (bogusOutcome) outcome()     {}

// apply runs o in its own transaction and returns the result.
func apply(t *testing.T, s *store.Store, o Outcome) (Result, error) {
	t.Helper()
	x := NewExecutor(discardLogger(), nil)
	var res Result
	err := s.WriteTx(context.Background(), func(tx *store.Tx) error {
		var err error
		res, err = x.Apply(context.Background(), tx, o)
		return err
	})
	return res, err
}

// applyTwice applies o twice and checks the second run writes nothing.
func applyTwice(t *testing.T, s *store.Store, o Outcome) Result {
	t.Helper()
	first, err := apply(t, s, o)
	require.NoError(t, err)
	require.True(t, first.Applied, "first %s should write", o.Kind())

	before, err := s.Recipients(context.Background())
	require.NoError(t, err)

	second, err := apply(t, s, o)
	require.NoError(t, err)
	assert.False(t, second.Applied, "second %s should be a no-op", o.Kind())
	assert.Equal(t, first.RecipientID, second.RecipientID)

	after, err := s.Recipients(context.Background())
	require.NoError(t, err)
	assert.Equal(t, before, after, "second %s changed rows", o.Kind())
	return first
}

func TestApply_Match(t *testing.T) {
	s := setupTestStore(t)
	id := seedRow(t, s, recipient.Record{ACI: aciA})

	res, err := apply(t, s, Match{ID: id})
	require.NoError(t, err)
	assert.Equal(t, Result{RecipientID: id}, res)

	_, err = apply(t, s, Match{ID: 999})
	assert.True(t, IsConstraintConflict(err))
}

func TestApply_UpdateE164_Idempotent(t *testing.T) {
	s := setupTestStore(t)
	id := seedRow(t, s, recipient.Record{ACI: aciA, E164: e164B})

	res := applyTwice(t, s, UpdateE164{ID: id, E164: e164A, ChangedNumber: true})
	assert.Equal(t, []ids.RecipientID{id}, res.Affected)
	assert.Equal(t, id, res.ChangedNumber)
	assert.Equal(t, e164A, mustRecipient(t, s, id).E164)
}

func TestApply_UpdateE164_TakenIsConflict(t *testing.T) {
	s := setupTestStore(t)
	seedRow(t, s, recipient.Record{E164: e164A})
	id := seedRow(t, s, recipient.Record{ACI: aciA})

	_, err := apply(t, s, UpdateE164{ID: id, E164: e164A})
	require.Error(t, err)
	assert.True(t, IsConstraintConflict(err), "got %v", err)
}

func TestApply_UpdateACI_Idempotent(t *testing.T) {
	s := setupTestStore(t)
	id := seedRow(t, s, recipient.Record{E164: e164A})

	res := applyTwice(t, s, UpdateACI{ID: id, ACI: aciA})
	assert.Equal(t, []ids.RecipientID{id}, res.Affected)
	assert.Equal(t, aciA, mustRecipient(t, s, id).ACI)

	_, err := apply(t, s, UpdateACI{ID: id, ACI: aciB})
	assert.True(t, IsConstraintConflict(err), "a different aci is stale state")
}

func TestApply_Insert_Idempotent(t *testing.T) {
	s := setupTestStore(t)

	res := applyTwice(t, s, Insert{ACI: aciA, E164: e164A})
	r := mustRecipient(t, s, res.RecipientID)
	assert.Equal(t, aciA, r.ACI)
	assert.Equal(t, e164A, r.E164)
	assert.Equal(t, 1, countRows(t, s))
}

func TestApply_Insert_CollisionIsConflict(t *testing.T) {
	s := setupTestStore(t)
	seedRow(t, s, recipient.Record{ACI: aciB, E164: e164A})

	_, err := apply(t, s, Insert{ACI: aciA, E164: e164A})
	require.Error(t, err)
	assert.True(t, IsConstraintConflict(err))
	assert.Equal(t, 1, countRows(t, s))
}

func TestApply_InsertAndReassign_Idempotent(t *testing.T) {
	s := setupTestStore(t)
	old := seedRow(t, s, recipient.Record{ACI: aciB, E164: e164A})

	res := applyTwice(t, s, InsertAndReassignE164{ACI: aciA, E164: e164A, FromID: old})
	assert.Equal(t, []ids.RecipientID{res.RecipientID, old}, res.Affected)

	assert.True(t, mustRecipient(t, s, old).E164.IsZero())
	assert.Equal(t, aciB, mustRecipient(t, s, old).ACI)
	assert.Equal(t, e164A, mustRecipient(t, s, res.RecipientID).E164)
	assertUnique(t, s)
}

func TestApply_InsertAndReassign_StaleOwner(t *testing.T) {
	s := setupTestStore(t)
	old := seedRow(t, s, recipient.Record{ACI: aciB, E164: e164B})

	_, err := apply(t, s, InsertAndReassignE164{ACI: aciA, E164: e164A, FromID: old})
	assert.True(t, IsConstraintConflict(err))
	assert.Equal(t, 1, countRows(t, s), "rolled back")
}

func TestApply_Reassign_Idempotent(t *testing.T) {
	s := setupTestStore(t)
	id := seedRow(t, s, recipient.Record{ACI: aciA, E164: e164B})
	from := seedRow(t, s, recipient.Record{ACI: aciB, E164: e164A})

	res := applyTwice(t, s, ReassignE164{ID: id, FromID: from, E164: e164A, ChangedNumber: true})
	assert.Equal(t, []ids.RecipientID{id, from}, res.Affected)
	assert.Equal(t, id, res.ChangedNumber)

	assert.Equal(t, e164A, mustRecipient(t, s, id).E164)
	assert.True(t, mustRecipient(t, s, from).E164.IsZero())
	assertUnique(t, s)
}

func TestApply_Merge(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	keep := seedRow(t, s, recipient.Record{
		ACI: aciA, E164: e164B, Registered: recipient.Registered,
		ProfileGivenName: "Alice", ProfileKey: []byte("pk-a"),
	})
	retire := seedRow(t, s, recipient.Record{
		E164: e164A, Blocked: true, SystemGivenName: "Al", MuteUntil: 99,
	})
	other := seedRow(t, s, recipient.Record{ACI: aciB})

	var keepThread, retireThread ids.ThreadID
	write(t, s, func(ctx context.Context, tx *store.Tx) error {
		var err error
		if keepThread, err = tx.CreateThread(ctx, keep, 0); err != nil {
			return err
		}
		if retireThread, err = tx.CreateThread(ctx, retire, 60); err != nil {
			return err
		}
		if _, err = tx.AddMessage(ctx, retireThread, retire, store.MessageTypeText, "hello"); err != nil {
			return err
		}
		if err = tx.CreateGroup(ctx, "g1", "Group", retire, other); err != nil {
			return err
		}
		if err = tx.PutSession(ctx, retire, e164A.String(), 1, []byte("s")); err != nil {
			return err
		}
		return tx.PutIdentity(ctx, retire, e164A.String(), []byte("k"))
	})

	res := applyTwice(t, s, Merge{KeepID: keep, RetireID: retire, E164: e164A, ChangedNumber: true})
	assert.Equal(t, Result{
		RecipientID:    keep,
		Affected:       []ids.RecipientID{keep, retire},
		RecipientRemap: &remap.RecipientEntry{Old: retire, New: keep},
		ThreadRemap:    &remap.ThreadEntry{Old: retireThread, New: keepThread},
		ChangedNumber:  keep,
		Applied:        true,
	}, res)

	merged := mustRecipient(t, s, keep)
	assert.Equal(t, aciA, merged.ACI)
	assert.Equal(t, e164A, merged.E164, "retiring number wins")
	assert.True(t, merged.Blocked)
	assert.Equal(t, "Alice", merged.ProfileGivenName)
	assert.Equal(t, "Al", merged.SystemGivenName)
	assert.Equal(t, int64(99), merged.MuteUntil)

	// The retired id redirects to the survivor.
	redirected := mustRecipient(t, s, retire)
	assert.Equal(t, keep, redirected.ID)
	next, ok := s.Registry().Recipient(retire)
	assert.True(t, ok)
	assert.Equal(t, keep, next)

	refs, err := s.CountReferences(ctx, retire)
	require.NoError(t, err)
	assert.Empty(t, refs, "no orphaned references")

	members, err := s.GroupMembers(ctx, "g1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []ids.RecipientID{keep, other}, members)

	th, err := s.Thread(ctx, retireThread)
	require.NoError(t, err)
	assert.Equal(t, keepThread, th.ID)
	assert.Equal(t, int64(60), th.ExpiresIn)

	addrs, err := s.SessionAddresses(ctx, keep)
	require.NoError(t, err)
	assert.Empty(t, addrs, "sessions under the retiring number are dropped")

	msgs, err := s.Messages(ctx, keepThread)
	require.NoError(t, err)
	assert.Equal(t, []string{store.MessageTypeText, store.MessageTypeThreadMerge}, messageTypes(msgs),
		"a blocked survivor gets no change_number message")
}

func messageTypes(msgs []store.Message) []string {
	var out []string
	for _, m := range msgs {
		out = append(out, m.Type)
	}
	return out
}

func TestApply_ChangeNumberEvent(t *testing.T) {
	ctx := context.Background()

	t.Run("update writes one message", func(t *testing.T) {
		s := setupTestStore(t)
		id := seedRow(t, s, recipient.Record{ACI: aciA, E164: e164A})
		var th ids.ThreadID
		write(t, s, func(ctx context.Context, tx *store.Tx) error {
			var err error
			th, err = tx.CreateThread(ctx, id, 0)
			return err
		})

		applyTwice(t, s, UpdateE164{ID: id, E164: e164B, ChangedNumber: true})

		msgs, err := s.Messages(ctx, th)
		require.NoError(t, err)
		require.Len(t, msgs, 1)
		assert.Equal(t, store.MessageTypeChangeNumber, msgs[0].Type)
		assert.Equal(t, id, msgs[0].From)
		ev, err := store.UnmarshalChangeNumberEvent(msgs[0].Body)
		require.NoError(t, err)
		assert.Equal(t, store.ChangeNumberEvent{OldE164: e164A, NewE164: e164B}, ev)
	})

	t.Run("blocked recipient is skipped", func(t *testing.T) {
		s := setupTestStore(t)
		id := seedRow(t, s, recipient.Record{ACI: aciA, E164: e164A, Blocked: true})
		var th ids.ThreadID
		write(t, s, func(ctx context.Context, tx *store.Tx) error {
			var err error
			th, err = tx.CreateThread(ctx, id, 0)
			return err
		})

		applyTwice(t, s, UpdateE164{ID: id, E164: e164B, ChangedNumber: true})

		msgs, err := s.Messages(ctx, th)
		require.NoError(t, err)
		assert.Empty(t, msgs)
	})

	t.Run("no thread is not an error", func(t *testing.T) {
		s := setupTestStore(t)
		id := seedRow(t, s, recipient.Record{ACI: aciA, E164: e164A})

		res := applyTwice(t, s, UpdateE164{ID: id, E164: e164B, ChangedNumber: true})
		assert.Equal(t, id, res.ChangedNumber)
		_, ok, err := s.ThreadForRecipient(ctx, id)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("reassign announces on the new owner", func(t *testing.T) {
		s := setupTestStore(t)
		id := seedRow(t, s, recipient.Record{ACI: aciA, E164: e164B})
		from := seedRow(t, s, recipient.Record{ACI: aciB, E164: e164A})
		var th ids.ThreadID
		write(t, s, func(ctx context.Context, tx *store.Tx) error {
			var err error
			th, err = tx.CreateThread(ctx, id, 0)
			return err
		})

		applyTwice(t, s, ReassignE164{ID: id, FromID: from, E164: e164A, ChangedNumber: true})

		msgs, err := s.Messages(ctx, th)
		require.NoError(t, err)
		require.Len(t, msgs, 1)
		ev, err := store.UnmarshalChangeNumberEvent(msgs[0].Body)
		require.NoError(t, err)
		assert.Equal(t, store.ChangeNumberEvent{OldE164: e164B, NewE164: e164A}, ev)
	})
}

func TestApply_Merge_StaleRetiree(t *testing.T) {
	s := setupTestStore(t)
	keep := seedRow(t, s, recipient.Record{ACI: aciA})
	retire := seedRow(t, s, recipient.Record{ACI: aciB, E164: e164A})

	_, err := apply(t, s, Merge{KeepID: keep, RetireID: retire, E164: e164A})
	assert.True(t, IsConstraintConflict(err), "a retiree that gained an aci is stale")

	_, err = apply(t, s, Merge{KeepID: keep, RetireID: 999, E164: e164A})
	assert.True(t, IsConstraintConflict(err), "a retiree with no remap is stale")
}

func TestApply_UnknownOutcome(t *testing.T) {
	s := setupTestStore(t)
	_, err := apply(t, s, bogusOutcome{})
	assert.True(t, IsInconsistentState(err))
}

// failingRemapper simulates a dependent store that cannot be re-pointed.
type failingRemapper struct{}

func (failingRemapper) Name() string { return "broken" }

func (failingRemapper) RemapOwner(context.Context, *store.Tx, ids.RecipientID, ids.RecipientID) (int64, error) {
	return 0, assert.AnError
}

func TestApply_Merge_RollsBackOnDependentFailure(t *testing.T) {
	s, err := store.Open(t.TempDir()+"/test.db", store.WithExtraDependents(failingRemapper{}))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	keep := seedRow(t, s, recipient.Record{ACI: aciA})
	retire := seedRow(t, s, recipient.Record{E164: e164A})

	_, err = apply(t, s, Merge{KeepID: keep, RetireID: retire, E164: e164A})
	require.ErrorIs(t, err, assert.AnError)

	assert.Equal(t, 2, countRows(t, s))
	_, ok := s.Registry().Recipient(retire)
	assert.False(t, ok, "no remap published for a rolled-back merge")
}
