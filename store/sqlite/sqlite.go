/*
Package sqlite provides the SQLite-backed implementation of ledger.Store.

PURPOSE:
  Durable storage for resource accounts and the append-only entry log.
  In production the same patterns apply to PostgreSQL - only minor SQL
  dialect differences.

THE CONDITIONAL APPEND:
  AppendIfVersion runs one SQL transaction:
    UPDATE accounts SET version = v+1, state = ? WHERE id = ? AND version = v
    INSERT INTO entries (...)
  A zero-row UPDATE means the version moved, and the whole transaction is
  rolled back with ErrVersionConflict. The version predicate in the WHERE
  clause is what makes the commit a compare-and-swap rather than a blind
  overwrite.

APPEND-ONLY ENFORCEMENT:
  No UPDATE or DELETE statement ever touches the entries table.

INDEXES:
  - entries(resource_id, resulting_version) UNIQUE: log ordering + replay
  - entries(request_id) UNIQUE partial:             idempotency lookup
  - accounts(kind):                                 sweeper enumeration

CONCURRENCY:
  Opened with WAL so readers don't block the single writer. A sync.RWMutex
  additionally serializes writes through this process; with PostgreSQL,
  database-level concurrency control handles this instead.

USAGE:
  st, err := sqlite.New("./data/urbanflow.db")  // ":memory:" for tests
  if err != nil {
      log.Fatal(err)
  }
  defer st.Close()

SEE ALSO:
  - ledger/store.go:        Interface definition
  - ledger/store/memory.go: In-memory twin used by unit tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/LynRJ/UrbanFlow/ledger"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
)

// Store implements ledger.Store on SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New opens (or creates) the database at dbPath and migrates the schema.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	-- Resource accounts: materialized state plus the optimistic-lock version
	CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 0,
		state_json TEXT NOT NULL,
		initial_json TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_accounts_kind
		ON accounts(kind);

	-- Entry log: append-only, no UPDATE, no DELETE, ever
	CREATE TABLE IF NOT EXISTS entries (
		entry_id TEXT PRIMARY KEY,
		resource_id TEXT NOT NULL,
		request_id TEXT,
		operation TEXT NOT NULL,
		delta TEXT NOT NULL,
		resulting_version INTEGER NOT NULL,
		timestamp TEXT NOT NULL
	);

	-- One entry per committed version: the replay ordering key
	CREATE UNIQUE INDEX IF NOT EXISTS idx_entries_resource_version
		ON entries(resource_id, resulting_version);

	-- One commit per request ID: the idempotency guard's durable index
	CREATE UNIQUE INDEX IF NOT EXISTS idx_entries_request
		ON entries(request_id) WHERE request_id IS NOT NULL;
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// ACCOUNTS
// =============================================================================

// Get returns the current account for id.
func (s *Store) Get(ctx context.Context, id ledger.ResourceID) (ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		kind      string
		version   int64
		stateJSON string
		updatedAt string
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT kind, version, state_json, updated_at FROM accounts WHERE id = ?",
		string(id),
	).Scan(&kind, &version, &stateJSON, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Account{}, ledger.ErrNotFound
	}
	if err != nil {
		return ledger.Account{}, fmt.Errorf("failed to load account %s: %w", id, err)
	}

	state, err := ledger.DecodeState(ledger.Kind(kind), []byte(stateJSON))
	if err != nil {
		return ledger.Account{}, err
	}
	t, _ := time.Parse(time.RFC3339Nano, updatedAt)
	return ledger.Account{
		ID:        id,
		Kind:      ledger.Kind(kind),
		Version:   version,
		State:     state,
		UpdatedAt: t,
	}, nil
}

// Create registers a new account at version 0 with its initial snapshot.
func (s *Store) Create(ctx context.Context, acct ledger.Account) error {
	if err := acct.State.Check(); err != nil {
		return err
	}
	stateJSON, err := ledger.EncodeState(acct.State)
	if err != nil {
		return err
	}
	if acct.UpdatedAt.IsZero() {
		acct.UpdatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO accounts (id, kind, version, state_json, initial_json, updated_at)
		VALUES (?, ?, 0, ?, ?, ?)`,
		string(acct.ID), string(acct.Kind), string(stateJSON), string(stateJSON),
		acct.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("account %s already exists: %w", acct.ID, ledger.ErrInvalidState)
		}
		return fmt.Errorf("failed to create account %s: %w", acct.ID, err)
	}
	return nil
}

// Initial returns the state snapshot recorded at creation. Replay starts
// its fold from this snapshot.
func (s *Store) Initial(ctx context.Context, id ledger.ResourceID) (ledger.State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var kind, initialJSON string
	err := s.db.QueryRowContext(ctx,
		"SELECT kind, initial_json FROM accounts WHERE id = ?", string(id),
	).Scan(&kind, &initialJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return ledger.DecodeState(ledger.Kind(kind), []byte(initialJSON))
}

// ListByKind returns every account of one kind, ordered by ID.
func (s *Store) ListByKind(ctx context.Context, kind ledger.Kind) ([]ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, version, state_json, updated_at FROM accounts WHERE kind = ? ORDER BY id",
		string(kind),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []ledger.Account
	for rows.Next() {
		var (
			id        string
			version   int64
			stateJSON string
			updatedAt string
		)
		if err := rows.Scan(&id, &version, &stateJSON, &updatedAt); err != nil {
			return nil, err
		}
		state, err := ledger.DecodeState(kind, []byte(stateJSON))
		if err != nil {
			return nil, err
		}
		t, _ := time.Parse(time.RFC3339Nano, updatedAt)
		accounts = append(accounts, ledger.Account{
			ID:        ledger.ResourceID(id),
			Kind:      kind,
			Version:   version,
			State:     state,
			UpdatedAt: t,
		})
	}
	return accounts, rows.Err()
}

// =============================================================================
// CONDITIONAL APPEND
// =============================================================================

// AppendIfVersion commits the new state and the entry atomically iff the
// stored version still equals expectedVersion.
func (s *Store) AppendIfVersion(ctx context.Context, id ledger.ResourceID, expectedVersion int64, newState ledger.State, entry ledger.Entry) error {
	if err := newState.Check(); err != nil {
		return err
	}
	stateJSON, err := ledger.EncodeState(newState)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE accounts SET version = ?, state_json = ?, updated_at = ?
		WHERE id = ? AND version = ?`,
		expectedVersion+1, string(stateJSON),
		entry.Timestamp.Format(time.RFC3339Nano),
		string(id), expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to update account %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		// Either the version moved or the account never existed.
		var exists int
		if err := tx.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM accounts WHERE id = ?", string(id),
		).Scan(&exists); err != nil {
			return err
		}
		if exists == 0 {
			return ledger.ErrNotFound
		}
		return ledger.ErrVersionConflict
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO entries (entry_id, resource_id, request_id, operation, delta, resulting_version, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		string(entry.EntryID), string(entry.ResourceID),
		nullString(string(entry.RequestID)),
		string(entry.Operation), entry.Delta.String(),
		entry.ResultingVersion, entry.Timestamp.Format(time.RFC3339Nano),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			// A concurrent commit already claimed this version or request ID.
			return ledger.ErrVersionConflict
		}
		return fmt.Errorf("failed to append entry for %s: %w", id, err)
	}

	return tx.Commit()
}

// =============================================================================
// ENTRY LOG
// =============================================================================

// Log returns the entries with ResultingVersion > sinceVersion, in commit
// order.
func (s *Store) Log(ctx context.Context, id ledger.ResourceID, sinceVersion int64) ([]ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var exists int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM accounts WHERE id = ?", string(id),
	).Scan(&exists); err != nil {
		return nil, err
	}
	if exists == 0 {
		return nil, ledger.ErrNotFound
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT entry_id, resource_id, request_id, operation, delta, resulting_version, timestamp
		FROM entries
		WHERE resource_id = ? AND resulting_version > ?
		ORDER BY resulting_version ASC`,
		string(id), sinceVersion,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	defer rows.Close()

	var entries []ledger.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// FindEntryByRequest returns the committed entry for a request ID, or nil
// when no commit carries it.
func (s *Store) FindEntryByRequest(ctx context.Context, requestID ledger.RequestID) (*ledger.Entry, error) {
	if requestID == "" {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT entry_id, resource_id, request_id, operation, delta, resulting_version, timestamp
		FROM entries
		WHERE request_id = ?
		LIMIT 1`,
		string(requestID),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	e, err := scanEntry(rows)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func scanEntry(rows *sql.Rows) (ledger.Entry, error) {
	var (
		e         ledger.Entry
		requestID sql.NullString
		deltaStr  string
		timestamp string
	)
	err := rows.Scan(&e.EntryID, &e.ResourceID, &requestID, &e.Operation,
		&deltaStr, &e.ResultingVersion, &timestamp)
	if err != nil {
		return e, fmt.Errorf("failed to scan entry: %w", err)
	}

	e.RequestID = ledger.RequestID(requestID.String)
	delta, err := decimal.NewFromString(deltaStr)
	if err != nil {
		return e, fmt.Errorf("corrupt delta %q on entry %s: %w", deltaStr, e.EntryID, err)
	}
	e.Delta = delta
	e.Timestamp, _ = time.Parse(time.RFC3339Nano, timestamp)
	return e, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}

var _ ledger.Store = (*Store)(nil)
