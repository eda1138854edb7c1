package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/idmerge/internal/ids"
)

// Thread is the conversation thread owned by exactly one recipient.
type Thread struct {
	ID          ids.ThreadID    `json:"id"`
	RecipientID ids.RecipientID `json:"recipient_id"`
	// ExpiresIn is the disappearing-message timer in seconds; zero is off.
	ExpiresIn int64 `json:"expires_in"`
	Date      int64 `json:"date"`
}

// ThreadMerge reports what MergeThreads did.
type ThreadMerge struct {
	// ThreadID is the thread the surviving recipient owns afterwards, zero
	// if neither recipient had one.
	ThreadID ids.ThreadID
	// Retired is the thread folded into ThreadID, zero unless both
	// recipients had a thread.
	Retired ids.ThreadID
	// Repointed is set when only the retiring recipient had a thread and it
	// now belongs to the survivor.
	Repointed bool
}

const threadColumns = `id, recipient_id, expires_in, date`

func lookupThread(row *sql.Row) (Thread, bool, error) {
	var th Thread
	err := row.Scan(&th.ID, &th.RecipientID, &th.ExpiresIn, &th.Date)
	if errors.Is(err, sql.ErrNoRows) {
		return Thread{}, false, nil
	}
	if err != nil {
		return Thread{}, false, err
	}
	return th, true, nil
}

// ThreadFor returns the thread owned by recipient id, if any.
func (t *Tx) ThreadFor(ctx context.Context, id ids.RecipientID) (Thread, bool, error) {
	th, ok, err := lookupThread(t.queryRow(ctx,
		`SELECT `+threadColumns+` FROM threads WHERE recipient_id = ?`, id))
	if err != nil {
		return Thread{}, false, fmt.Errorf("thread for recipient %d: %w", id, err)
	}
	return th, ok, nil
}

// CreateThread returns the thread for recipient id, creating it with the
// given timer if it does not exist yet.
func (t *Tx) CreateThread(ctx context.Context, id ids.RecipientID, expiresIn int64) (ids.ThreadID, error) {
	if _, err := t.exec(ctx, `
		INSERT INTO threads (recipient_id, expires_in, date) VALUES (?, ?, ?)
		ON CONFLICT(recipient_id) DO NOTHING
	`, id, expiresIn, time.Now().UnixMilli()); err != nil {
		return 0, fmt.Errorf("create thread for %d: %w", id, err)
	}

	th, ok, err := t.ThreadFor(ctx, id)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("create thread for %d: %w", id, ErrNotFound)
	}
	return th.ID, nil
}

// MergeThreads folds retire's thread into keep's.
//
//   - only keep has a thread: nothing changes
//   - only retire has one: it is re-pointed to keep
//   - both have one: every thread-owned row moves to keep's thread, the
//     disappearing-message timer becomes the smaller non-zero value, the
//     retiring thread is deleted and a thread remap is recorded
//
// When two threads combine and previousE164 is set, a thread_merge event
// message is added to the surviving thread.
func (t *Tx) MergeThreads(ctx context.Context, keep, retire ids.RecipientID, previousE164 ids.E164) (ThreadMerge, error) {
	keepThread, keepHas, err := t.ThreadFor(ctx, keep)
	if err != nil {
		return ThreadMerge{}, err
	}
	retireThread, retireHas, err := t.ThreadFor(ctx, retire)
	if err != nil {
		return ThreadMerge{}, err
	}

	switch {
	case !retireHas:
		return ThreadMerge{ThreadID: keepThread.ID}, nil
	case !keepHas:
		if _, err := t.exec(ctx, `UPDATE threads SET recipient_id = ? WHERE id = ?`, keep, retireThread.ID); err != nil {
			return ThreadMerge{}, fmt.Errorf("repoint thread %d: %w", retireThread.ID, err)
		}
		return ThreadMerge{ThreadID: retireThread.ID, Repointed: true}, nil
	}

	for _, r := range t.store.threaded {
		if _, err := r.RemapThread(ctx, t, retireThread.ID, keepThread.ID); err != nil {
			return ThreadMerge{}, fmt.Errorf("merge threads: %s: %w", r.Name(), err)
		}
	}

	expiresIn := minNonZero(keepThread.ExpiresIn, retireThread.ExpiresIn)
	date := max(keepThread.Date, retireThread.Date)
	if _, err := t.exec(ctx, `UPDATE threads SET expires_in = ?, date = ? WHERE id = ?`,
		expiresIn, date, keepThread.ID); err != nil {
		return ThreadMerge{}, fmt.Errorf("merge threads: update %d: %w", keepThread.ID, err)
	}

	if _, err := t.exec(ctx, `DELETE FROM threads WHERE id = ?`, retireThread.ID); err != nil {
		return ThreadMerge{}, fmt.Errorf("merge threads: delete %d: %w", retireThread.ID, err)
	}

	if err := t.RecordThreadRemap(ctx, retireThread.ID, keepThread.ID); err != nil {
		return ThreadMerge{}, err
	}

	if !previousE164.IsZero() {
		body, err := marshalEvent(ThreadMergeEvent{PreviousE164: previousE164})
		if err != nil {
			return ThreadMerge{}, err
		}
		if _, err := t.AddMessage(ctx, keepThread.ID, keep, MessageTypeThreadMerge, body); err != nil {
			return ThreadMerge{}, fmt.Errorf("merge threads: event: %w", err)
		}
	}

	return ThreadMerge{ThreadID: keepThread.ID, Retired: retireThread.ID}, nil
}

// minNonZero returns the smaller of a and b, ignoring zero. A disabled
// timer never wins over an enabled one.
func minNonZero(a, b int64) int64 {
	switch {
	case a == 0:
		return b
	case b == 0:
		return a
	default:
		return min(a, b)
	}
}

// Thread returns a thread by id from the last committed state, following
// a remap if the thread was merged away.
func (s *Store) Thread(ctx context.Context, id ids.ThreadID) (Thread, error) {
	query := `SELECT ` + threadColumns + ` FROM threads WHERE id = ?`

	th, ok, err := lookupThread(s.reader.QueryRowContext(ctx, query, id))
	if err != nil {
		return Thread{}, fmt.Errorf("read thread %d: %w", id, err)
	}
	if ok {
		return th, nil
	}

	next, remapped, err := s.ResolveThread(ctx, id)
	if err != nil {
		return Thread{}, err
	}
	if !remapped {
		return Thread{}, fmt.Errorf("read thread %d: %w", id, ErrNotFound)
	}

	th, ok, err = lookupThread(s.reader.QueryRowContext(ctx, query, next))
	if err != nil {
		return Thread{}, fmt.Errorf("read thread %d: %w", next, err)
	}
	if !ok {
		return Thread{}, fmt.Errorf("read thread %d (remapped from %d): %w", next, id, ErrNotFound)
	}
	return th, nil
}

// ThreadForRecipient returns the thread owned by recipient id, if any. A
// retired id reads its survivor's thread.
func (s *Store) ThreadForRecipient(ctx context.Context, id ids.RecipientID) (Thread, bool, error) {
	id, _, err := s.ResolveRecipient(ctx, id)
	if err != nil {
		return Thread{}, false, err
	}
	th, ok, err := lookupThread(s.reader.QueryRowContext(ctx,
		`SELECT `+threadColumns+` FROM threads WHERE recipient_id = ?`, id))
	if err != nil {
		return Thread{}, false, fmt.Errorf("read thread for recipient %d: %w", id, err)
	}
	return th, ok, nil
}
