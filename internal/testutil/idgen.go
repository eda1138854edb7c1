// Package testutil holds deterministic stand-ins shared by tests and the
// scenario harness.
package testutil

// FixedIDGenerator returns the same change set id every time.
//
// A scenario run with a FixedIDGenerator and a fresh notify.Clock produces
// byte-identical change sets, which golden comparison relies on.
type FixedIDGenerator struct {
	id string
}

// DefaultChangeSetID is used when NewFixedIDGenerator is given "".
const DefaultChangeSetID = "test-changeset"

// NewFixedIDGenerator creates a generator that always returns id.
func NewFixedIDGenerator(id string) *FixedIDGenerator {
	if id == "" {
		id = DefaultChangeSetID
	}
	return &FixedIDGenerator{id: id}
}

// Generate implements notify.IDGenerator.
func (g *FixedIDGenerator) Generate() string {
	return g.id
}
