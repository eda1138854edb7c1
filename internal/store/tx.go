package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/idmerge/internal/remap"
)

// Tx is the unit of work threaded through a resolve-and-apply cascade.
//
// Every recipient, thread and dependent-store write in one call goes through
// the same Tx. Remap entries recorded on it are persisted inside the
// transaction and published to the registry only once the commit succeeds.
type Tx struct {
	tx    *sql.Tx
	store *Store

	recipientRemaps []remap.RecipientEntry
	threadRemaps    []remap.ThreadEntry
}

// WriteTx runs fn inside one write transaction.
//
// The transaction is detached from ctx cancellation: once started, a
// cascade either commits in full or rolls back, never stops half-way. fn's
// error, if any, rolls back and is returned unchanged.
func (s *Store) WriteTx(ctx context.Context, fn func(*Tx) error) error {
	ctx = context.WithoutCancel(ctx)

	sqlTx, err := s.writer.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin write tx: %w", err)
	}
	defer sqlTx.Rollback()

	tx := &Tx{tx: sqlTx, store: s}
	if err := fn(tx); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit write tx: %w", err)
	}

	for _, e := range tx.recipientRemaps {
		s.registry.AddRecipient(e.Old, e.New)
	}
	for _, e := range tx.threadRemaps {
		s.registry.AddThread(e.Old, e.New)
	}
	return nil
}

// Dependents returns the stores a recipient merge re-points.
func (t *Tx) Dependents() []OwnerRemapper {
	return t.store.dependents
}

// RecipientRemaps returns the recipient remaps recorded so far.
func (t *Tx) RecipientRemaps() []remap.RecipientEntry {
	return t.recipientRemaps
}

// ThreadRemaps returns the thread remaps recorded so far.
func (t *Tx) ThreadRemaps() []remap.ThreadEntry {
	return t.threadRemaps
}

// Statements inside a Tx also ignore caller cancellation; see WriteTx.

func (t *Tx) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return t.tx.ExecContext(context.WithoutCancel(ctx), query, args...)
}

func (t *Tx) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return t.tx.QueryRowContext(context.WithoutCancel(ctx), query, args...)
}
