package engine

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/idmerge/internal/ids"
	"github.com/roach88/idmerge/internal/recipient"
	"github.com/roach88/idmerge/internal/store"
)

var (
	aciA = ids.MustACI("6f1c7d0e-3b2a-4b8e-9a4c-1d2e3f405060")
	aciB = ids.MustACI("0a9b8c7d-6e5f-4a3b-8c2d-1e0f9a8b7c6d")
	aciC = ids.MustACI("2c3d4e5f-6a7b-4c8d-9e0f-1a2b3c4d5e6f")

	e164A = ids.MustE164("+15551234567")
	e164B = ids.MustE164("+15559990000")
	e164C = ids.MustE164("+447700900123")
)

var noACI ids.ACI

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestEngine(t *testing.T, s *store.Store, opts ...Option) *Engine {
	t.Helper()
	base := []Option{WithLogger(discardLogger()), WithStrict(false)}
	return New(s, append(base, opts...)...)
}

func seedRow(t *testing.T, s *store.Store, r recipient.Record) ids.RecipientID {
	t.Helper()
	var id ids.RecipientID
	require.NoError(t, s.WriteTx(context.Background(), func(tx *store.Tx) error {
		var err error
		id, err = tx.SeedRecipient(context.Background(), r)
		return err
	}))
	return id
}

func write(t *testing.T, s *store.Store, fn func(ctx context.Context, tx *store.Tx) error) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.WriteTx(ctx, func(tx *store.Tx) error { return fn(ctx, tx) }))
}

func mustRecipient(t *testing.T, s *store.Store, id ids.RecipientID) recipient.Record {
	t.Helper()
	r, err := s.Recipient(context.Background(), id)
	require.NoError(t, err)
	return r
}

// assertUnique fails if two rows share a non-null aci or e164.
func assertUnique(t *testing.T, s *store.Store) {
	t.Helper()
	rows, err := s.Recipients(context.Background())
	require.NoError(t, err)

	acis := make(map[ids.ACI]ids.RecipientID)
	numbers := make(map[ids.E164]ids.RecipientID)
	for _, r := range rows {
		if !r.ACI.IsZero() {
			if other, dup := acis[r.ACI]; dup {
				t.Errorf("aci %s held by %d and %d", r.ACI, other, r.ID)
			}
			acis[r.ACI] = r.ID
		}
		if !r.E164.IsZero() {
			if other, dup := numbers[r.E164]; dup {
				t.Errorf("e164 %s held by %d and %d", r.E164, other, r.ID)
			}
			numbers[r.E164] = r.ID
		}
	}
}

func countRows(t *testing.T, s *store.Store) int {
	t.Helper()
	rows, err := s.Recipients(context.Background())
	require.NoError(t, err)
	return len(rows)
}
