package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var harnessScenarios = filepath.Join("..", "harness", "testdata", "scenarios")

const passingScenario = `name: cli_insert
description: inserts one recipient
steps:
  - aci: a1a1a1a1-0000-4000-8000-000000000001
    e164: "+14155550101"
    expect:
      outcome: insert
assertions:
  - type: row_count
    table: recipients
    count: 1
`

const failingScenario = `name: cli_failing
description: expects the wrong outcome
steps:
  - aci: a1a1a1a1-0000-4000-8000-000000000001
    expect:
      outcome: merge
assertions:
  - type: trace_count
    outcome: insert
    count: 1
`

func TestTestCommandMissingArgs(t *testing.T) {
	_, _, err := execute(t, "test")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 1 arg")
}

func TestTestCommandNonExistentPath(t *testing.T) {
	_, _, err := execute(t, "test", "/nonexistent/scenarios")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "scenario path not found")
}

func TestTestCommandEmptyScenariosDir(t *testing.T) {
	stdout, _, err := execute(t, "test", t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, stdout, "No scenarios found")
}

func TestTestCommandEmptyScenariosDirJSON(t *testing.T) {
	stdout, _, err := execute(t, "--format", "json", "test", t.TempDir())
	require.NoError(t, err)

	var res TestResult
	resp := decodeResponse(t, stdout, &res)
	assert.Equal(t, "ok", resp.Status)
	assert.Zero(t, res.Total)
}

// The harness goldens are written by goldie; the CLI must agree with them
// byte for byte.
func TestTestCommand_HarnessScenariosMatchGoldens(t *testing.T) {
	stdout, _, err := execute(t, "test", harnessScenarios)
	require.NoError(t, err, stdout)
	assert.Contains(t, stdout, "✓ merge_e164_into_aci")
	assert.Contains(t, stdout, "✓ number_change")
	assert.Contains(t, stdout, "✓ self_protection")
	assert.Contains(t, stdout, "Test Summary: 3 passed, 0 failed, 3 total")
}

func TestTestCommand_ModerncDriver(t *testing.T) {
	stdout, _, err := execute(t, "--driver", "sqlite", "--format", "json", "test", harnessScenarios)
	require.NoError(t, err, stdout)

	var res TestResult
	decodeResponse(t, stdout, &res)
	assert.Equal(t, 3, res.Passed)
}

func TestTestCommand_Filter(t *testing.T) {
	stdout, _, err := execute(t, "--format", "json", "test", harnessScenarios, "--filter", "merge_*")
	require.NoError(t, err)

	var res TestResult
	decodeResponse(t, stdout, &res)
	require.Len(t, res.Scenarios, 1)
	assert.Equal(t, "merge_e164_into_aci", res.Scenarios[0].Name)
}

func TestTestCommand_InvalidFilter(t *testing.T) {
	_, _, err := execute(t, "test", harnessScenarios, "--filter", "[")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestTestCommand_SingleFile(t *testing.T) {
	path := filepath.Join(harnessScenarios, "number_change.yaml")
	stdout, _, err := execute(t, "test", path)
	require.NoError(t, err)
	assert.Contains(t, stdout, "✓ number_change")
	assert.Contains(t, stdout, "1 total")
}

func TestTestCommand_UpdateThenCompare(t *testing.T) {
	root := t.TempDir()
	scenarios := filepath.Join(root, "scenarios")
	writeFile(t, scenarios, "insert.yaml", passingScenario)

	stdout, _, err := execute(t, "test", scenarios, "--update")
	require.NoError(t, err)
	assert.Contains(t, stdout, "✓ cli_insert (golden updated)")

	goldenPath := filepath.Join(root, "golden", "cli_insert.golden")
	data, err := os.ReadFile(goldenPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"scenario_name": "cli_insert"`)

	_, _, err = execute(t, "test", scenarios)
	require.NoError(t, err)

	// A stale golden file fails the scenario even though its assertions pass.
	require.NoError(t, os.WriteFile(goldenPath, []byte("{}\n"), 0644))
	stdout, _, err = execute(t, "test", scenarios)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, stdout, "trace does not match golden file")
}

func TestTestCommand_GoldenDirFlag(t *testing.T) {
	scenarios := t.TempDir()
	writeFile(t, scenarios, "insert.yaml", passingScenario)
	goldenDir := filepath.Join(t.TempDir(), "elsewhere")

	_, _, err := execute(t, "test", scenarios, "--update", "--golden-dir", goldenDir)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(goldenDir, "cli_insert.golden"))
}

func TestTestCommand_Failures(t *testing.T) {
	scenarios := t.TempDir()
	writeFile(t, scenarios, "a_pass.yaml", passingScenario)
	writeFile(t, scenarios, "b_fail.yaml", failingScenario)
	writeFile(t, scenarios, "c_broken.yaml", "name: [unclosed\n")

	stdout, _, err := execute(t, "--format", "json", "test", scenarios)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var res TestResult
	resp := decodeResponse(t, stdout, &res)
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeScenario, resp.Error.Code)
	assert.Equal(t, 1, res.Passed)
	assert.Equal(t, 2, res.Failed)

	require.Len(t, res.Scenarios, 3)
	assert.True(t, res.Scenarios[0].Pass)
	assert.Equal(t, "cli_failing", res.Scenarios[1].Name)
	assert.Contains(t, res.Scenarios[1].Errors[0], "expected outcome merge, got insert")
	assert.Equal(t, "c_broken.yaml", res.Scenarios[2].Name)
}

func TestTestHelpText(t *testing.T) {
	stdout, _, err := execute(t, "test", "--help")
	require.NoError(t, err)
	assert.Contains(t, stdout, "conformance")
	assert.Contains(t, stdout, "--update")
	assert.Contains(t, stdout, "--filter")
	assert.Contains(t, stdout, "scenarios-dir")
}

func TestFilterScenarios(t *testing.T) {
	files := []string{"s/merge_a.yaml", "s/merge_b.yml", "s/reassign.yaml"}

	got, err := filterScenarios(files, "")
	require.NoError(t, err)
	assert.Equal(t, files, got)

	got, err = filterScenarios(files, "merge_*")
	require.NoError(t, err)
	assert.Equal(t, []string{"s/merge_a.yaml", "s/merge_b.yml"}, got)
}

func TestGoldenFilePath(t *testing.T) {
	assert.Equal(t, filepath.Join("testdata", "golden", "number_change.golden"),
		goldenFilePath(filepath.Join("testdata", "golden"), "number_change"))
}
