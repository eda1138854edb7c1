package engine

import "github.com/roach88/idmerge/internal/ids"

// Outcome is the resolver's verdict for one identifier pair. The set of
// implementations is closed: Match, UpdateE164, UpdateACI, Insert,
// InsertAndReassignE164, Merge and ReassignE164.
type Outcome interface {
	// Kind is a stable lower-case name used in logs, metrics and traces.
	Kind() string
	outcome()
}

// Match: an existing row already reflects the claim. Nothing is written.
type Match struct {
	ID ids.RecipientID `json:"id"`
}

// UpdateE164 sets the phone number of the row found by ACI.
type UpdateE164 struct {
	ID   ids.RecipientID `json:"id"`
	E164 ids.E164        `json:"e164"`
	// ChangedNumber is set when the row had a different number before, as
	// opposed to getting one for the first time.
	ChangedNumber bool `json:"changed_number"`
}

// UpdateACI attaches an ACI to the ACI-less row found by phone number.
type UpdateACI struct {
	ID  ids.RecipientID `json:"id"`
	ACI ids.ACI         `json:"aci"`
}

// Insert creates a row. Either identifier may be absent, not both.
type Insert struct {
	ACI  ids.ACI  `json:"aci,omitempty"`
	E164 ids.E164 `json:"e164,omitempty"`
}

// InsertAndReassignE164 takes the number away from FromID, which is held by
// another account, and gives it to a new row for ACI.
type InsertAndReassignE164 struct {
	ACI    ids.ACI         `json:"aci"`
	E164   ids.E164        `json:"e164"`
	FromID ids.RecipientID `json:"from_id"`
}

// Merge folds RetireID (known only by phone number) into KeepID (known by
// ACI). RetireID is deleted and permanently redirected to KeepID.
type Merge struct {
	KeepID        ids.RecipientID `json:"keep_id"`
	RetireID      ids.RecipientID `json:"retire_id"`
	E164          ids.E164        `json:"e164"`
	ChangedNumber bool            `json:"changed_number"`
}

// ReassignE164 moves the number from FromID, held by another account, to
// the row for ID.
type ReassignE164 struct {
	ID            ids.RecipientID `json:"id"`
	FromID        ids.RecipientID `json:"from_id"`
	E164          ids.E164        `json:"e164"`
	ChangedNumber bool            `json:"changed_number"`
}

func (Match) Kind() string                 { return "match" }
func (UpdateE164) Kind() string            { return "update_e164" }
func (UpdateACI) Kind() string             { return "update_aci" }
func (Insert) Kind() string                { return "insert" }
func (InsertAndReassignE164) Kind() string { return "insert_and_reassign_e164" }
func (Merge) Kind() string                 { return "merge" }
func (ReassignE164) Kind() string          { return "reassign_e164" }

func (Match) outcome()                 {}
func (UpdateE164) outcome()            {}
func (UpdateACI) outcome()             {}
func (Insert) outcome()                {}
func (InsertAndReassignE164) outcome() {}
func (Merge) outcome()                 {}
func (ReassignE164) outcome()          {}

// Rule names the decision-table row that produced an outcome.
type Rule string

const (
	RuleMatchSameRow       Rule = "match-same-row"
	RuleMatchACINoE164     Rule = "match-aci-no-e164"
	RuleUpdateE164         Rule = "update-e164"
	RuleMatchACIUntrusted  Rule = "match-aci-untrusted"
	RuleUpdateACI          Rule = "update-aci"
	RuleInsertReassignE164 Rule = "insert-reassign-e164"
	RuleInsertACIUntrusted Rule = "insert-aci-untrusted"
	RuleMatchE164NoACI     Rule = "match-e164-no-aci"
	RuleMerge              Rule = "merge"
	RuleReassignE164       Rule = "reassign-e164"
	RuleMatchBothUntrusted Rule = "match-both-untrusted"
	RuleInsertNew          Rule = "insert-new"
	RuleInsertNewUntrusted Rule = "insert-new-untrusted"
)

// Decision pairs an outcome with the rule that chose it.
type Decision struct {
	Outcome Outcome
	Rule    Rule
	// SelfProtected is set when the request asked for high trust but the
	// claim touched the local user's identity and was downgraded.
	SelfProtected bool
}
