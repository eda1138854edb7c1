// Package engine resolves (ACI, E164) observations to recipient rows.
//
// Every inbound event names a remote party by some subset of an account
// identifier (ACI) and a phone number (E164). The engine maps that pair to
// exactly one recipient, creating, updating or merging rows as new
// information arrives.
//
// ARCHITECTURE:
//
//  1. Resolver: a pure decision table over the rows currently holding the
//     ACI and the E164. It produces an Outcome and never writes.
//  2. Executor: applies the Outcome inside the same write transaction.
//     Single-row outcomes are guarded column writes; a Merge re-points every
//     dependent store, merges threads, combines the two rows and records a
//     permanent remap for the retired id.
//  3. Engine: opens the transaction, retries once on a constraint
//     conflict, and hands a ChangeSet to the notifier after commit.
//
// TRUST:
//
// Only high-trust claims may move a number between rows or attach an ACI
// to an existing number. A claim that touches the local user's own ACI is
// downgraded to low trust unless self-reassignment is explicitly allowed.
//
// FAILURE:
//
// Once a transaction starts it commits in full or rolls back; caller
// cancellation does not stop it half-way. A conflict that survives the
// retry is an inconsistent state: it is logged with full identifier
// context and, in strict mode, panics.
package engine
