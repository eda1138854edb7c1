package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/idmerge/internal/ids"
)

func TestMergeThreads_OnlyKeepHasThread(t *testing.T) {
	s := createTestStore(t)
	keep := seed(t, s, recordWith(aciA, ""))
	retire := seed(t, s, recordWith(noACI, e164A))

	var thread ids.ThreadID
	mustWrite(t, s, func(ctx context.Context, tx *Tx) error {
		var err error
		thread, err = tx.CreateThread(ctx, keep, 0)
		if err != nil {
			return err
		}
		got, err := tx.MergeThreads(ctx, keep, retire, e164A)
		require.NoError(t, err)
		assert.Equal(t, ThreadMerge{ThreadID: thread}, got)
		return nil
	})

	msgs, err := s.Messages(context.Background(), thread)
	require.NoError(t, err)
	assert.Empty(t, msgs, "no event without two threads")
}

func TestMergeThreads_OnlyRetireHasThread(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	keep := seed(t, s, recordWith(aciA, ""))
	retire := seed(t, s, recordWith(noACI, e164A))

	var thread ids.ThreadID
	mustWrite(t, s, func(ctx context.Context, tx *Tx) error {
		var err error
		if thread, err = tx.CreateThread(ctx, retire, 60); err != nil {
			return err
		}
		got, err := tx.MergeThreads(ctx, keep, retire, e164A)
		require.NoError(t, err)
		assert.Equal(t, ThreadMerge{ThreadID: thread, Repointed: true}, got)
		return nil
	})

	th, ok, err := s.ThreadForRecipient(ctx, keep)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, thread, th.ID)
	assert.Equal(t, int64(60), th.ExpiresIn)

	remaps, err := s.ThreadRemaps(ctx)
	require.NoError(t, err)
	assert.Empty(t, remaps)
}

func TestMergeThreads_BothHaveThreads(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	keep := seed(t, s, recordWith(aciA, ""))
	retire := seed(t, s, recordWith(noACI, e164A))

	var keepThread, retireThread ids.ThreadID
	mustWrite(t, s, func(ctx context.Context, tx *Tx) error {
		var err error
		if keepThread, err = tx.CreateThread(ctx, keep, 0); err != nil {
			return err
		}
		if retireThread, err = tx.CreateThread(ctx, retire, 3600); err != nil {
			return err
		}
		if _, err = tx.AddMessage(ctx, keepThread, keep, MessageTypeText, "from keep"); err != nil {
			return err
		}
		msg, err := tx.AddMessage(ctx, retireThread, retire, MessageTypeText, "from retire")
		if err != nil {
			return err
		}
		return tx.AddMention(ctx, retireThread, msg, keep)
	})

	mustWrite(t, s, func(ctx context.Context, tx *Tx) error {
		got, err := tx.MergeThreads(ctx, keep, retire, e164A)
		require.NoError(t, err)
		assert.Equal(t, ThreadMerge{ThreadID: keepThread, Retired: retireThread}, got)
		return nil
	})

	th, err := s.Thread(ctx, keepThread)
	require.NoError(t, err)
	assert.Equal(t, int64(3600), th.ExpiresIn, "an enabled timer wins over a disabled one")

	redirected, err := s.Thread(ctx, retireThread)
	require.NoError(t, err)
	assert.Equal(t, keepThread, redirected.ID)

	msgs, err := s.Messages(ctx, keepThread)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "from keep", msgs[0].Body)
	assert.Equal(t, "from retire", msgs[1].Body)
	assert.Equal(t, MessageTypeThreadMerge, msgs[2].Type)

	ev, err := UnmarshalThreadMergeEvent(msgs[2].Body)
	require.NoError(t, err)
	assert.Equal(t, e164A, ev.PreviousE164)
	assert.Equal(t, `{"previous_e164":"+15551234567"}`, msgs[2].Body)

	remaps, err := s.ThreadRemaps(ctx)
	require.NoError(t, err)
	require.Len(t, remaps, 1)
	assert.Equal(t, retireThread, remaps[0].Old)
	assert.Equal(t, keepThread, remaps[0].New)
}

func TestMergeThreads_NoEventWithoutPreviousNumber(t *testing.T) {
	s := createTestStore(t)
	keep := seed(t, s, recordWith(aciA, ""))
	retire := seed(t, s, recordWith(aciB, ""))

	var keepThread ids.ThreadID
	mustWrite(t, s, func(ctx context.Context, tx *Tx) error {
		var err error
		if keepThread, err = tx.CreateThread(ctx, keep, 0); err != nil {
			return err
		}
		if _, err = tx.CreateThread(ctx, retire, 0); err != nil {
			return err
		}
		_, err = tx.MergeThreads(ctx, keep, retire, "")
		return err
	})

	msgs, err := s.Messages(context.Background(), keepThread)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestMinNonZero(t *testing.T) {
	tests := []struct {
		a, b, want int64
	}{
		{0, 0, 0},
		{0, 30, 30},
		{30, 0, 30},
		{30, 60, 30},
		{60, 30, 30},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, minNonZero(tt.a, tt.b), "minNonZero(%d, %d)", tt.a, tt.b)
	}
}

func TestThread_NotFound(t *testing.T) {
	s := createTestStore(t)
	_, err := s.Thread(context.Background(), 77)
	assert.ErrorIs(t, err, ErrNotFound)
}
