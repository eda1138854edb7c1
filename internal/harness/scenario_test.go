package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalScenario = `
name: minimal
description: "Insert a new contact"
steps:
  - aci: 6f1c7d0e-3b2a-4b8e-9a4c-1d2e3f405060
    e164: "+15551234567"
    expect:
      outcome: insert
assertions:
  - type: trace_contains
    outcome: insert
`

func TestLoadScenario_ValidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "minimal.yaml")
	require.NoError(t, os.WriteFile(path, []byte(minimalScenario), 0o644))

	scenario, err := LoadScenario(path)
	require.NoError(t, err)
	assert.Equal(t, "minimal", scenario.Name)
	require.Len(t, scenario.Steps, 1)
	assert.Equal(t, "+15551234567", scenario.Steps[0].E164)
	require.NotNil(t, scenario.Steps[0].Expect)
	assert.Equal(t, "insert", scenario.Steps[0].Expect.Outcome)
	assert.Equal(t, AssertTraceContains, scenario.Assertions[0].Type)
}

func TestLoadScenario_Testdata(t *testing.T) {
	paths, err := filepath.Glob(filepath.Join("testdata", "scenarios", "*.yaml"))
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		_, err := LoadScenario(path)
		assert.NoError(t, err, path)
	}
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestParseScenario_UnknownField(t *testing.T) {
	_, err := ParseScenario([]byte(minimalScenario + "assertion: []\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestParseScenario_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "missing name",
			content: "description: d\nsteps: [{aci: x}]\nassertions: [{type: trace_count, outcome: match}]\n",
			wantErr: "name is required",
		},
		{
			name:    "missing description",
			content: "name: n\nsteps: [{aci: x}]\nassertions: [{type: trace_count, outcome: match}]\n",
			wantErr: "description is required",
		},
		{
			name:    "no steps",
			content: "name: n\ndescription: d\nassertions: [{type: trace_count, outcome: match}]\n",
			wantErr: "steps list is required",
		},
		{
			name:    "no assertions",
			content: "name: n\ndescription: d\nsteps: [{e164: '+15551234567'}]\n",
			wantErr: "assertions list is required",
		},
		{
			name: "bad self",
			content: "name: n\ndescription: d\nself: nope\nsteps: [{e164: '+15551234567'}]\n" +
				"assertions: [{type: trace_count, outcome: match}]\n",
			wantErr: "self:",
		},
		{
			name: "seed without alias",
			content: "name: n\ndescription: d\nseed: [{e164: '+15551234567'}]\nsteps: [{e164: '+15551234567'}]\n" +
				"assertions: [{type: trace_count, outcome: match}]\n",
			wantErr: "seed[0]: as is required",
		},
		{
			name: "duplicate alias",
			content: "name: n\ndescription: d\nseed: [{as: a, e164: '+15551234567'}]\nsteps: [{e164: '+15551234567', as: a}]\n" +
				"assertions: [{type: trace_count, outcome: match}]\n",
			wantErr: `alias "a" already defined`,
		},
		{
			name: "seed with bad number",
			content: "name: n\ndescription: d\nseed: [{as: a, e164: '555'}]\nsteps: [{e164: '+15551234567'}]\n" +
				"assertions: [{type: trace_count, outcome: match}]\n",
			wantErr: "seed[0]:",
		},
		{
			name: "messages without thread",
			content: "name: n\ndescription: d\nseed: [{as: a, e164: '+15551234567', messages: 2}]\nsteps: [{e164: '+15551234567'}]\n" +
				"assertions: [{type: trace_count, outcome: match}]\n",
			wantErr: "messages require thread",
		},
		{
			name: "unknown error kind",
			content: "name: n\ndescription: d\nsteps: [{e164: '1', expect: {error: boom}}]\n" +
				"assertions: [{type: trace_count, outcome: match}]\n",
			wantErr: `unknown error kind "boom"`,
		},
		{
			name:    "unknown assertion",
			content: "name: n\ndescription: d\nsteps: [{e164: '+15551234567'}]\nassertions: [{type: vibes}]\n",
			wantErr: `unknown assertion type "vibes"`,
		},
		{
			name:    "final_state without expect",
			content: "name: n\ndescription: d\nsteps: [{e164: '+15551234567'}]\nassertions: [{type: final_state, table: recipients}]\n",
			wantErr: "expect is required for final_state",
		},
		{
			name:    "remapped without to",
			content: "name: n\ndescription: d\nsteps: [{e164: '+15551234567'}]\nassertions: [{type: remapped, from: '@a'}]\n",
			wantErr: "from and to are required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
