// Package store provides SQLite-backed durable storage for the contact
// store: recipients, their threads, and every table that references a
// recipient.
//
// # Single Writer, Many Readers
//
// Writes go through WriteTx, which serializes on a one-connection pool and
// begins each transaction IMMEDIATE. Reads go through a separate pool and
// observe the last committed snapshot (WAL).
//
// # Dependent Stores
//
// Each table that holds a recipient foreign key is reached through an
// OwnerRemapper. A merge calls RemapOwner on every one of them inside the
// same Tx; rows that would violate the table's own uniqueness are dropped.
// Foreign keys are enforced and none cascade from recipients, so a store
// missing from the list makes the retiring row's DELETE fail.
//
// # Remaps
//
// Retired recipient and thread ids are persisted in remapped_recipients and
// remapped_threads and mirrored in an injected remap.Registry. Read paths
// that miss a row consult both before reporting ErrNotFound.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Both github.com/mattn/go-sqlite3 ("sqlite3") and modernc.org/sqlite
// ("sqlite") are supported; pragmas are passed per connection in the DSN.
package store
