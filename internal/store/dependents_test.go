package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/idmerge/internal/ids"
)

// remapAll runs every dependent store for from->to in one transaction.
func remapAll(t *testing.T, s *Store, from, to ids.RecipientID) {
	t.Helper()
	mustWrite(t, s, func(ctx context.Context, tx *Tx) error {
		for _, d := range tx.Dependents() {
			if _, err := d.RemapOwner(ctx, tx, from, to); err != nil {
				return err
			}
		}
		return nil
	})
}

func TestRemapOwner_GroupMembershipDropsDuplicates(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	keep := seed(t, s, recordWith(aciA, ""))
	retire := seed(t, s, recordWith(noACI, e164A))
	other := seed(t, s, recordWith(aciB, ""))

	mustWrite(t, s, func(ctx context.Context, tx *Tx) error {
		if err := tx.CreateGroup(ctx, "both", "Both", keep, retire, other); err != nil {
			return err
		}
		return tx.CreateGroup(ctx, "retire-only", "Retire only", retire, other)
	})

	remapAll(t, s, retire, keep)

	both, err := s.GroupMembers(ctx, "both")
	require.NoError(t, err)
	assert.Equal(t, []ids.RecipientID{keep, other}, both)

	only, err := s.GroupMembers(ctx, "retire-only")
	require.NoError(t, err)
	assert.Equal(t, []ids.RecipientID{keep, other}, only)

	refs, err := s.CountReferences(ctx, retire)
	require.NoError(t, err)
	assert.Empty(t, refs)
}

func TestRemapOwner_IsIdempotent(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	keep := seed(t, s, recordWith(aciA, ""))
	retire := seed(t, s, recordWith(noACI, e164A))
	mustWrite(t, s, func(ctx context.Context, tx *Tx) error {
		return tx.CreateGroup(ctx, "g", "G", retire)
	})

	remapAll(t, s, retire, keep)
	remapAll(t, s, retire, keep)

	members, err := s.GroupMembers(ctx, "g")
	require.NoError(t, err)
	assert.Equal(t, []ids.RecipientID{keep}, members)
}

func TestRemapOwner_MessagesReactionsReceiptsMentions(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	keep := seed(t, s, recordWith(aciA, ""))
	retire := seed(t, s, recordWith(noACI, e164A))
	other := seed(t, s, recordWith(aciB, ""))

	var msg1, msg2 int64
	mustWrite(t, s, func(ctx context.Context, tx *Tx) error {
		thread, err := tx.CreateThread(ctx, other, 0)
		if err != nil {
			return err
		}
		if msg1, err = tx.AddMessage(ctx, thread, retire, MessageTypeText, "hi"); err != nil {
			return err
		}
		if msg2, err = tx.AddMessage(ctx, thread, other, MessageTypeText, "reply"); err != nil {
			return err
		}
		if err := tx.SetQuoteAuthor(ctx, msg2, retire); err != nil {
			return err
		}
		if err := tx.AddMention(ctx, thread, msg2, retire); err != nil {
			return err
		}
		// Both identities reacted to msg2: the survivor's reaction wins.
		if err := tx.AddReaction(ctx, msg2, keep, "👍"); err != nil {
			return err
		}
		if err := tx.AddReaction(ctx, msg2, retire, "❤️"); err != nil {
			return err
		}
		if err := tx.AddReaction(ctx, msg1, retire, "😂"); err != nil {
			return err
		}
		if err := tx.AddGroupReceipt(ctx, msg1, retire, 1); err != nil {
			return err
		}
		return tx.AddGroupReceipt(ctx, msg1, keep, 2)
	})

	remapAll(t, s, retire, keep)

	reactions, err := s.Reactions(ctx, msg2)
	require.NoError(t, err)
	assert.Equal(t, map[ids.RecipientID]string{keep: "👍"}, reactions)

	reactions, err = s.Reactions(ctx, msg1)
	require.NoError(t, err)
	assert.Equal(t, map[ids.RecipientID]string{keep: "😂"}, reactions)

	refs, err := s.CountReferences(ctx, retire)
	require.NoError(t, err)
	assert.Empty(t, refs)

	refs, err = s.CountReferences(ctx, keep)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{
		"messages.from_recipient_id":  1,
		"messages.quote_author":       1,
		"mentions.recipient_id":       1,
		"reactions.author_id":         2,
		"group_receipts.recipient_id": 1,
	}, refs)
}

func TestRemapOwner_SessionsIdentitiesAndLists(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	keep := seed(t, s, recordWith(aciA, ""))
	retire := seed(t, s, recordWith(noACI, e164A))

	var profile, list, payload int64
	mustWrite(t, s, func(ctx context.Context, tx *Tx) error {
		var err error
		if err = tx.PutSession(ctx, keep, aciA.String(), 1, []byte("keep-session")); err != nil {
			return err
		}
		if err = tx.PutSession(ctx, retire, "legacy-address", 1, []byte("retire-session")); err != nil {
			return err
		}
		if err = tx.PutSession(ctx, retire, "legacy-address", 2, []byte("retire-session-2")); err != nil {
			return err
		}
		if err = tx.PutIdentity(ctx, keep, aciA.String(), []byte("keep-key")); err != nil {
			return err
		}
		if err = tx.PutIdentity(ctx, retire, "legacy-address", []byte("retire-key")); err != nil {
			return err
		}
		if profile, err = tx.CreateNotificationProfile(ctx, "Work", retire, keep); err != nil {
			return err
		}
		if list, err = tx.CreateDistributionList(ctx, "Friends", retire); err != nil {
			return err
		}
		payload, err = tx.AddMessageSendLog(ctx, 1000, []byte("payload"), retire, keep)
		return err
	})

	remapAll(t, s, retire, keep)

	addresses, err := s.SessionAddresses(ctx, keep)
	require.NoError(t, err)
	assert.Equal(t, []string{aciA.String(), "legacy-address"}, addresses,
		"device 1 collides and is dropped, device 2 moves")

	members, err := s.NotificationProfileMembers(ctx, profile)
	require.NoError(t, err)
	assert.Equal(t, []ids.RecipientID{keep}, members)

	members, err = s.DistributionListMembers(ctx, list)
	require.NoError(t, err)
	assert.Equal(t, []ids.RecipientID{keep}, members)

	members, err = s.MessageSendLogRecipients(ctx, payload)
	require.NoError(t, err)
	assert.Equal(t, []ids.RecipientID{keep}, members)

	refs, err := s.CountReferences(ctx, retire)
	require.NoError(t, err)
	assert.Empty(t, refs)
}

func TestDeleteCryptoByAddress(t *testing.T) {
	s := createTestStore(t)
	id := seed(t, s, recordWith(noACI, e164A))

	mustWrite(t, s, func(ctx context.Context, tx *Tx) error {
		if err := tx.PutSession(ctx, id, e164A.String(), 1, []byte("s")); err != nil {
			return err
		}
		if err := tx.PutIdentity(ctx, id, e164A.String(), []byte("k")); err != nil {
			return err
		}
		sessions, identities, err := tx.DeleteCryptoByAddress(ctx, e164A.String())
		require.NoError(t, err)
		assert.Equal(t, int64(1), sessions)
		assert.Equal(t, int64(1), identities)
		return nil
	})

	refs, err := s.CountReferences(context.Background(), id)
	require.NoError(t, err)
	assert.Empty(t, refs)
}

func TestDependents_CoverEveryRecipientReference(t *testing.T) {
	s := createTestStore(t)

	covered := map[string]bool{"threads.recipient_id": true}
	for _, d := range s.Dependents() {
		ts, ok := d.(tableStore)
		require.True(t, ok, "%s is not a tableStore", d.Name())
		for _, c := range ts.columns {
			covered[c.table+"."+c.column] = true
		}
	}

	for _, ref := range recipientReferences {
		assert.True(t, covered[ref.table+"."+ref.column], "%s.%s has no remapper", ref.table, ref.column)
	}
}
