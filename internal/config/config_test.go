package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/idmerge/internal/ids"
)

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse("", nil)
	require.NoError(t, err)
	assert.Equal(t, &Config{
		Database:      "idmerge.db",
		Driver:        "sqlite3",
		LogLevel:      "info",
		BusyTimeoutMS: 5000,
	}, cfg)
	assert.True(t, cfg.SelfACI().IsZero())
	assert.True(t, cfg.SelfE164().IsZero())
	assert.Equal(t, slog.LevelInfo, cfg.Level())
}

func TestLoad_Valid(t *testing.T) {
	cfg, err := Load(filepath.Join("testdata", "valid.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/idmerge/recipients.db", cfg.Database)
	assert.Equal(t, "sqlite", cfg.Driver)
	assert.True(t, cfg.Strict)
	assert.Equal(t, 2500, cfg.BusyTimeoutMS)
	assert.Equal(t, slog.LevelDebug, cfg.Level())
	assert.Equal(t, "+15551234567", cfg.Self.E164)
	assert.Equal(t, ids.MustE164("+15551234567"), cfg.SelfE164())
	assert.Equal(t, ids.MustACI("6f1c7d0e-3b2a-4b8e-9a4c-1d2e3f405060"), cfg.SelfACI())
}

func TestLoad_PartialKeepsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join("testdata", "partial.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "partial.db", cfg.Database)
	assert.Equal(t, "sqlite3", cfg.Driver)
	assert.Equal(t, 5000, cfg.BusyTimeoutMS)
	assert.False(t, cfg.Strict)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		file  string
		field string
	}{
		{"unknown_field.yaml", "databse_path"},
		{"bad_driver.yaml", "driver"},
		{"bad_self.yaml", "self"},
	}

	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			_, err := Load(filepath.Join("testdata", tt.file))
			require.Error(t, err)
			assert.True(t, IsValidationError(err), "got %T: %v", err, err)
			assert.Contains(t, err.Error(), tt.field)
			assert.Contains(t, err.Error(), tt.file)
		})
	}
}

func TestParse_MalformedYAML(t *testing.T) {
	_, err := Parse("broken.yaml", []byte("database: [unterminated"))
	require.Error(t, err)
	assert.True(t, IsValidationError(err))
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.False(t, IsValidationError(err))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoad_DatabaseOverride(t *testing.T) {
	t.Setenv(EnvDatabase, "override.db")

	cfg, err := Load(filepath.Join("testdata", "valid.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "override.db", cfg.Database)
}

func TestResolvePath(t *testing.T) {
	t.Setenv(EnvConfig, "")
	t.Chdir(t.TempDir())

	assert.Equal(t, "", ResolvePath(""))
	assert.Equal(t, "explicit.yaml", ResolvePath("explicit.yaml"))

	require.NoError(t, os.WriteFile(DefaultPath, []byte("strict: true\n"), 0o644))
	assert.Equal(t, DefaultPath, ResolvePath(""))

	t.Setenv(EnvConfig, "from-env.yaml")
	assert.Equal(t, "from-env.yaml", ResolvePath(""))
	assert.Equal(t, "explicit.yaml", ResolvePath("explicit.yaml"))
}

func TestLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{
		"debug": slog.LevelDebug,
		"info":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
		"":      slog.LevelInfo,
	} {
		cfg := Config{LogLevel: in}
		assert.Equal(t, want, cfg.Level(), in)
	}
}
