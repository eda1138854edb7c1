package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	for i := 0; i < 3; i++ {
		s, err := Open(path)
		if err != nil {
			t.Fatalf("Open() iteration %d failed: %v", i, err)
		}
		s.Close()
	}

	s, err := Open(path)
	if err != nil {
		t.Fatalf("final Open() failed: %v", err)
	}
	defer s.Close()

	tables := []string{
		"recipients", "threads", "messages", "mentions", "reactions",
		"group_receipts", "groups", "group_members", "sessions", "identities",
		"msl_payloads", "msl_recipients", "notification_profiles",
		"notification_profile_allowed_members", "distribution_lists",
		"distribution_list_members", "remapped_recipients", "remapped_threads",
	}
	for _, table := range tables {
		var name string
		err := s.DB().QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?",
			table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %q not found after idempotent opens: %v", table, err)
		}
	}
}

func TestOpen_Pragmas(t *testing.T) {
	s := createTestStore(t)

	if err := s.verifyPragma("journal_mode", "wal"); err != nil {
		t.Error(err)
	}
	if err := s.verifyPragma("foreign_keys", "1"); err != nil {
		t.Error(err)
	}
	if err := s.verifyPragma("busy_timeout", "5000"); err != nil {
		t.Error(err)
	}
	if err := s.verifyPragma("user_version", "1"); err != nil {
		t.Error(err)
	}
}

func TestOpen_ModerncDriver(t *testing.T) {
	s := createTestStore(t, WithDriver(DriverModernc), WithBusyTimeout(2500))
	assert.Equal(t, DriverModernc, s.Driver())

	require.NoError(t, s.verifyPragma("journal_mode", "wal"))
	require.NoError(t, s.verifyPragma("foreign_keys", "1"))
	require.NoError(t, s.verifyPragma("busy_timeout", "2500"))

	id := seed(t, s, recordWith(aciA, e164A))
	r, err := s.Recipient(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, aciA, r.ACI)
	assert.Equal(t, e164A, r.E164)
}

func TestOpen_InMemory(t *testing.T) {
	s, err := Open(memoryPath)
	require.NoError(t, err)
	defer s.Close()

	id := seed(t, s, recordWith(aciA, ""))
	r, err := s.Recipient(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, aciA, r.ACI)
}

func TestOpen_PoolSizes(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "test.db"), WithReaders(2))
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, 1, s.writer.Stats().MaxOpenConnections)
	assert.Equal(t, 2, s.reader.Stats().MaxOpenConnections)
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "test.db"), WithDriver("postgres"))
	assert.ErrorContains(t, err, "unsupported driver")
}

func TestBuildDSN(t *testing.T) {
	dsn, err := buildDSN(DriverMattn, "/tmp/a.db", 5000, true)
	require.NoError(t, err)
	assert.Contains(t, dsn, "file:/tmp/a.db?")
	assert.Contains(t, dsn, "_txlock=immediate")
	assert.Contains(t, dsn, "_foreign_keys=on")

	dsn, err = buildDSN(DriverModernc, "/tmp/a.db", 5000, false)
	require.NoError(t, err)
	assert.Contains(t, dsn, "_pragma=foreign_keys%281%29")
	assert.NotContains(t, dsn, "_txlock")
}
