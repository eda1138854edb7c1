package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/idmerge/internal/ids"
)

// Scenario is a conformance scenario: rows to seed, identifier claims to
// resolve in order, and assertions on the resulting trace and tables.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Self is the local account's ACI, if the scenario exercises
	// self-protection.
	Self string `yaml:"self,omitempty"`

	// Seed rows are inserted directly, bypassing resolution, in order.
	// They receive ids 1..n.
	Seed []SeedRow `yaml:"seed,omitempty"`

	// Steps are resolved in order through the engine.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final trace and state.
	// Supported types: trace_contains, trace_order, trace_count,
	// final_state, row_count, remapped
	Assertions []Assertion `yaml:"assertions"`

	// ChangeSetID is stamped on every change set for stable golden output.
	// Defaults to "test-changeset".
	ChangeSetID string `yaml:"changeset_id,omitempty"`
}

// SeedRow is a recipient inserted before the first step.
type SeedRow struct {
	// As names the row so steps and assertions can refer to it as "@as".
	As string `yaml:"as"`

	ACI  string `yaml:"aci,omitempty"`
	E164 string `yaml:"e164,omitempty"`

	Blocked          bool   `yaml:"blocked,omitempty"`
	ProfileSharing   bool   `yaml:"profile_sharing,omitempty"`
	ProfileGivenName string `yaml:"profile_given_name,omitempty"`
	SystemGivenName  string `yaml:"system_given_name,omitempty"`

	// Thread creates a conversation thread owned by the row.
	Thread    bool  `yaml:"thread,omitempty"`
	ExpiresIn int64 `yaml:"expires_in,omitempty"`
	// Messages adds that many messages from the row to its thread.
	Messages int `yaml:"messages,omitempty"`
}

// Step is one ResolveAndMerge call.
type Step struct {
	ACI  string `yaml:"aci,omitempty"`
	E164 string `yaml:"e164,omitempty"`

	// LowTrust marks the claim as not authenticated by the server.
	LowTrust bool `yaml:"low_trust,omitempty"`

	AllowSelf bool `yaml:"allow_self,omitempty"`

	// As names the resolved recipient for later steps and assertions.
	As string `yaml:"as,omitempty"`

	// Expect is checked against the engine's actual report. If nil, the
	// step must merely succeed.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// ExpectClause describes what a step must produce. Empty fields are not
// checked.
type ExpectClause struct {
	Outcome string `yaml:"outcome,omitempty"`
	Rule    string `yaml:"rule,omitempty"`

	// Recipient is "@alias" or a literal id.
	Recipient string `yaml:"recipient,omitempty"`

	Applied       *bool `yaml:"applied,omitempty"`
	SelfProtected *bool `yaml:"self_protected,omitempty"`

	// Error is the expected error kind; the step must fail with it.
	Error string `yaml:"error,omitempty"`
}

// Assertion validates trace or final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "trace_contains": an outcome (optionally with a rule) was resolved
	// - "trace_order": outcomes appear in order
	// - "trace_count": an outcome appears exactly Count times
	// - "final_state": one row of Table matches Where and Expect
	// - "row_count": Table has exactly Count rows matching Where
	// - "remapped": recipient From was retired into To
	Type string `yaml:"type"`

	Outcome  string   `yaml:"outcome,omitempty"`
	Rule     string   `yaml:"rule,omitempty"`
	Outcomes []string `yaml:"outcomes,omitempty"`

	Table  string         `yaml:"table,omitempty"`
	Where  map[string]any `yaml:"where,omitempty"`
	Expect map[string]any `yaml:"expect,omitempty"`

	Count int `yaml:"count,omitempty"`

	From string `yaml:"from,omitempty"`
	To   string `yaml:"to,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFinalState    = "final_state"
	AssertRowCount      = "row_count"
	AssertRemapped      = "remapped"
)

// Error kinds used by ExpectClause.Error and error trace events.
const (
	ErrorInvalidArgument    = "invalid_argument"
	ErrorConstraintConflict = "constraint_conflict"
	ErrorInconsistentState  = "inconsistent_state"
	ErrorOther              = "error"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Reject unknown fields so "assertion:" vs "assertions:" typos fail loudly.
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}
	if s.Self != "" {
		if _, err := ids.ParseACI(s.Self); err != nil {
			return fmt.Errorf("self: %w", err)
		}
	}

	aliases := make(map[string]bool)
	for i, row := range s.Seed {
		if row.As == "" {
			return fmt.Errorf("seed[%d]: as is required", i)
		}
		if aliases[row.As] {
			return fmt.Errorf("seed[%d]: duplicate alias %q", i, row.As)
		}
		aliases[row.As] = true
		// Seeds bypass resolution, so they are checked here instead.
		if row.ACI != "" {
			if _, err := ids.ParseACI(row.ACI); err != nil {
				return fmt.Errorf("seed[%d]: %w", i, err)
			}
		}
		if row.E164 != "" {
			if _, err := ids.ParseE164(row.E164); err != nil {
				return fmt.Errorf("seed[%d]: %w", i, err)
			}
		}
		if row.Messages > 0 && !row.Thread {
			return fmt.Errorf("seed[%d]: messages require thread", i)
		}
	}

	for i, step := range s.Steps {
		if step.Expect != nil && step.Expect.Error != "" && !knownErrorKind(step.Expect.Error) {
			return fmt.Errorf("steps[%d].expect: unknown error kind %q", i, step.Expect.Error)
		}
		if step.As != "" {
			if aliases[step.As] {
				return fmt.Errorf("steps[%d]: alias %q already defined", i, step.As)
			}
			aliases[step.As] = true
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}
	return nil
}

func knownErrorKind(kind string) bool {
	switch kind {
	case ErrorInvalidArgument, ErrorConstraintConflict, ErrorInconsistentState, ErrorOther:
		return true
	}
	return false
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceContains:
		if a.Outcome == "" {
			return fmt.Errorf("assertions[%d]: outcome is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Outcomes) == 0 {
			return fmt.Errorf("assertions[%d]: outcomes list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Outcome == "" {
			return fmt.Errorf("assertions[%d]: outcome is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertFinalState:
		if a.Table == "" {
			return fmt.Errorf("assertions[%d]: table is required for final_state", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	case AssertRowCount:
		if a.Table == "" {
			return fmt.Errorf("assertions[%d]: table is required for row_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for row_count", index)
		}
	case AssertRemapped:
		if a.From == "" || a.To == "" {
			return fmt.Errorf("assertions[%d]: from and to are required for remapped", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
