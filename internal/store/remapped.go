package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/idmerge/internal/ids"
	"github.com/roach88/idmerge/internal/remap"
)

// maxRemapDepth bounds chain following over the persisted tables.
const maxRemapDepth = 64

// RecordRecipientRemap persists old->new inside the transaction. The
// in-memory registry sees it after commit.
func (t *Tx) RecordRecipientRemap(ctx context.Context, old, new ids.RecipientID) error {
	if _, err := t.exec(ctx, `
		INSERT INTO remapped_recipients (old_id, new_id) VALUES (?, ?)
		ON CONFLICT(old_id) DO NOTHING
	`, old, new); err != nil {
		return fmt.Errorf("record recipient remap %d->%d: %w", old, new, err)
	}
	t.recipientRemaps = append(t.recipientRemaps, remap.RecipientEntry{Old: old, New: new})
	return nil
}

// RecordThreadRemap persists thread old->new inside the transaction.
func (t *Tx) RecordThreadRemap(ctx context.Context, old, new ids.ThreadID) error {
	if _, err := t.exec(ctx, `
		INSERT INTO remapped_threads (old_id, new_id) VALUES (?, ?)
		ON CONFLICT(old_id) DO NOTHING
	`, old, new); err != nil {
		return fmt.Errorf("record thread remap %d->%d: %w", old, new, err)
	}
	t.threadRemaps = append(t.threadRemaps, remap.ThreadEntry{Old: old, New: new})
	return nil
}

// RecipientRemap returns the id old was merged into, reading the persisted
// table inside the transaction. Only one hop is followed.
func (t *Tx) RecipientRemap(ctx context.Context, old ids.RecipientID) (ids.RecipientID, bool, error) {
	var next ids.RecipientID
	err := t.queryRow(ctx, `SELECT new_id FROM remapped_recipients WHERE old_id = ?`, old).Scan(&next)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("read recipient remap %d: %w", old, err)
	}
	return next, true, nil
}

// ResolveRecipient returns the surviving id for a retired recipient.
//
// The in-memory registry is consulted first. On a miss the persisted table
// is walked and the result cached, so a reset or a restart does not lose
// redirects.
func (s *Store) ResolveRecipient(ctx context.Context, old ids.RecipientID) (ids.RecipientID, bool, error) {
	if next, ok := s.registry.Recipient(old); ok {
		return next, true, nil
	}

	cur, found := old, false
	for i := 0; i < maxRemapDepth; i++ {
		var next ids.RecipientID
		err := s.reader.QueryRowContext(ctx,
			`SELECT new_id FROM remapped_recipients WHERE old_id = ?`, cur).Scan(&next)
		if errors.Is(err, sql.ErrNoRows) {
			break
		}
		if err != nil {
			return 0, false, fmt.Errorf("resolve recipient %d: %w", old, err)
		}
		cur, found = next, true
	}
	if !found {
		return old, false, nil
	}

	s.registry.AddRecipient(old, cur)
	return cur, true, nil
}

// ResolveThread returns the surviving id for a retired thread.
func (s *Store) ResolveThread(ctx context.Context, old ids.ThreadID) (ids.ThreadID, bool, error) {
	if next, ok := s.registry.Thread(old); ok {
		return next, true, nil
	}

	cur, found := old, false
	for i := 0; i < maxRemapDepth; i++ {
		var next ids.ThreadID
		err := s.reader.QueryRowContext(ctx,
			`SELECT new_id FROM remapped_threads WHERE old_id = ?`, cur).Scan(&next)
		if errors.Is(err, sql.ErrNoRows) {
			break
		}
		if err != nil {
			return 0, false, fmt.Errorf("resolve thread %d: %w", old, err)
		}
		cur, found = next, true
	}
	if !found {
		return old, false, nil
	}

	s.registry.AddThread(old, cur)
	return cur, true, nil
}

// ResetRemapCache clears the in-memory registry. Later lookups refill it
// from the persisted tables.
func (s *Store) ResetRemapCache() {
	s.registry.Reset()
}

// RecipientRemaps lists every persisted recipient remap, oldest id first.
func (s *Store) RecipientRemaps(ctx context.Context) ([]remap.RecipientEntry, error) {
	rows, err := s.reader.QueryContext(ctx, `SELECT old_id, new_id FROM remapped_recipients ORDER BY old_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list recipient remaps: %w", err)
	}
	defer rows.Close()

	var out []remap.RecipientEntry
	for rows.Next() {
		var e remap.RecipientEntry
		if err := rows.Scan(&e.Old, &e.New); err != nil {
			return nil, fmt.Errorf("scan recipient remap: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ThreadRemaps lists every persisted thread remap, oldest id first.
func (s *Store) ThreadRemaps(ctx context.Context) ([]remap.ThreadEntry, error) {
	rows, err := s.reader.QueryContext(ctx, `SELECT old_id, new_id FROM remapped_threads ORDER BY old_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list thread remaps: %w", err)
	}
	defer rows.Close()

	var out []remap.ThreadEntry
	for rows.Next() {
		var e remap.ThreadEntry
		if err := rows.Scan(&e.Old, &e.New); err != nil {
			return nil, fmt.Errorf("scan thread remap: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
