package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/idmerge/internal/ids"
	"github.com/roach88/idmerge/internal/recipient"
)

var (
	aciA = ids.MustACI("6f1c7d0e-3b2a-4b8e-9a4c-1d2e3f405060")
	aciB = ids.MustACI("0a9b8c7d-6e5f-4a3b-8c2d-1e0f9a8b7c6d")

	e164A = ids.MustE164("+15551234567")
	e164B = ids.MustE164("+15559990000")
)

// createTestStore creates a new file-backed store for testing.
func createTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, opts...)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// mustWrite runs fn in a write transaction and fails the test on error.
func mustWrite(t *testing.T, s *Store, fn func(ctx context.Context, tx *Tx) error) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.WriteTx(ctx, func(tx *Tx) error { return fn(ctx, tx) }))
}

// seed inserts r and returns its id.
func seed(t *testing.T, s *Store, r recipient.Record) ids.RecipientID {
	t.Helper()
	var id ids.RecipientID
	mustWrite(t, s, func(ctx context.Context, tx *Tx) error {
		var err error
		id, err = tx.SeedRecipient(ctx, r)
		return err
	})
	return id
}

func recordWith(aci ids.ACI, e164 ids.E164) recipient.Record {
	return recipient.Record{ACI: aci, E164: e164}
}

var noACI ids.ACI
