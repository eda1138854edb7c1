package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/idmerge/internal/config"
	"github.com/roach88/idmerge/internal/testutil"
)

const (
	aliceACI = "a1a1a1a1-0000-4000-8000-000000000001"
	bobACI   = "b2b2b2b2-0000-4000-8000-000000000002"

	aliceE164 = "+14155550101"
	bobE164   = "+14155550102"
)

// cliEnv runs commands against one temporary database.
type cliEnv struct {
	t  *testing.T
	db string
}

func newCLIEnv(t *testing.T) *cliEnv {
	t.Helper()
	// Keep the developer's environment out of the tests.
	t.Setenv(config.EnvConfig, "")
	t.Setenv(config.EnvDatabase, "")
	return &cliEnv{t: t, db: filepath.Join(t.TempDir(), "idmerge.db")}
}

// run executes the root command with --db set and returns stdout, stderr
// and the command error.
func (e *cliEnv) run(args ...string) (string, string, error) {
	e.t.Helper()
	return execute(e.t, append([]string{"--db", e.db}, args...)...)
}

// runJSON is run with --format json, decoding the response.
func (e *cliEnv) runJSON(out any, args ...string) (CLIResponse, error) {
	e.t.Helper()
	stdout, _, err := e.run(append([]string{"--format", "json"}, args...)...)
	return decodeResponse(e.t, stdout, out), err
}

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	opts := &RootOptions{IDGenerator: testutil.NewFixedIDGenerator("")}
	cmd := newRootCommand(opts)
	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

// decodeResponse decodes a CLIResponse, unmarshalling Data into out when
// out is non-nil.
func decodeResponse(t *testing.T, stdout string, out any) CLIResponse {
	t.Helper()
	var raw struct {
		Status string          `json:"status"`
		Data   json.RawMessage `json:"data"`
		Error  *CLIError       `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &raw), "stdout: %s", stdout)
	if out != nil && len(raw.Data) > 0 {
		require.NoError(t, json.Unmarshal(raw.Data, out))
	}
	return CLIResponse{Status: raw.Status, Error: raw.Error}
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}
