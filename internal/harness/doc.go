// Package harness runs conformance scenarios against the resolution engine.
//
// Each scenario gets a fresh in-memory store. Seed rows are written
// directly; every step then goes through engine.Process exactly as a
// production caller would, and the harness compares the engine's actual
// report with the step's expect clause.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	self: 6f1c7d0e-3b2a-4b8e-9a4c-1d2e3f405060   # optional
//	seed:
//	  - as: alice
//	    aci: 6f1c7d0e-3b2a-4b8e-9a4c-1d2e3f405060
//	    thread: true
//	    messages: 2
//	  - as: bob
//	    e164: "+15551234567"
//	steps:
//	  - aci: 6f1c7d0e-3b2a-4b8e-9a4c-1d2e3f405060
//	    e164: "+15551234567"
//	    expect:
//	      outcome: merge
//	      recipient: "@alice"
//	assertions:
//	  - type: remapped
//	    from: "@bob"
//	    to: "@alice"
//	  - type: final_state
//	    table: recipients
//	    where: { id: "@alice" }
//	    expect: { e164: "+15551234567" }
//
// Aliases are written "@name" and must be quoted, since YAML reserves a
// leading @.
//
// # Assertion Types
//
//   - trace_contains: some step resolved to an outcome (and rule, if given)
//   - trace_order: outcomes appear in the given order
//   - trace_count: an outcome appears exactly N times
//   - final_state: exactly one row matches where and carries expect
//   - row_count: a table has exactly N rows matching where
//   - remapped: one recipient was retired into another
//
// # Deterministic Testing
//
// Change sets carry a fixed id (testutil.FixedIDGenerator) and a sequence
// from a clock starting at zero. Seed rows get ids 1..n in order, and rows
// created by steps continue from there, so a scenario's trace is identical
// on every run and can be compared with testdata/golden/<name>.golden.
package harness
