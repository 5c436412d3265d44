/*
store.go - Persistence contract for accounts and the entry log

PURPOSE:
  Defines the interface between the engine and the database. The Store
  holds the materialized accounts and the append-only entry log, and
  provides the one atomicity primitive everything else is built on:
  the conditional append.

THE CONDITIONAL APPEND:
  AppendIfVersion(id, expectedVersion, newState, entry) commits the new
  state and the log entry together, but only if the account's version
  still equals expectedVersion. It must be linearizable per resource:
  of two concurrent callers carrying the same expectedVersion, exactly
  one succeeds and the other gets ErrVersionConflict. Operations on
  different resources never contend.

APPEND-ONLY CONTRACT:
  No method updates or deletes an entry. Ever. The accounts table is the
  only mutable surface, and only through AppendIfVersion.

IMPLEMENTATIONS:
  - ledger/store/memory.go: In-memory, for tests and dev
  - store/sqlite/sqlite.go: SQLite with WAL, for production

SEE ALSO:
  - coordinator.go: The only caller of AppendIfVersion
  - guard.go:       Uses FindEntryByRequest for idempotent replay
*/
package ledger

import "context"

// Store persists accounts and the append-only entry log.
type Store interface {
	// Get returns the current account. ErrNotFound if the ID is unknown.
	Get(ctx context.Context, id ResourceID) (Account, error)

	// Create registers a new account at version 0 and records its initial
	// state snapshot (the fold base for Replay). Fails if the ID exists.
	Create(ctx context.Context, acct Account) error

	// Initial returns the state snapshot recorded at creation.
	Initial(ctx context.Context, id ResourceID) (State, error)

	// AppendIfVersion commits newState and entry atomically, but only if
	// the stored version still equals expectedVersion. On mismatch it
	// returns ErrVersionConflict and writes nothing. The committed
	// version becomes entry.ResultingVersion (expectedVersion + 1).
	AppendIfVersion(ctx context.Context, id ResourceID, expectedVersion int64, newState State, entry Entry) error

	// Log returns the entries for a resource with ResultingVersion >
	// sinceVersion, ordered by ResultingVersion ascending. Pass 0 for
	// the full log.
	Log(ctx context.Context, id ResourceID, sinceVersion int64) ([]Entry, error)

	// FindEntryByRequest returns the committed entry carrying the given
	// request ID, or nil if no commit with that ID exists. Backs the
	// idempotency guard across process restarts.
	FindEntryByRequest(ctx context.Context, requestID RequestID) (*Entry, error)

	// ListByKind returns all accounts of one kind. Used by the expiry
	// sweeper to enumerate parking windows.
	ListByKind(ctx context.Context, kind Kind) ([]Account, error)
}
