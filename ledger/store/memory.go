// Package store provides the in-memory ledger.Store implementation used by
// tests and dev mode. The conditional append is linearized under one mutex,
// which trivially satisfies the per-resource atomicity contract.
package store

import (
	"context"
	"sync"
	"time"

	"github.com/LynRJ/UrbanFlow/ledger"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

type Memory struct {
	mu       sync.RWMutex
	accounts map[ledger.ResourceID]accountRecord
	entries  map[ledger.ResourceID][]ledger.Entry
	requests map[ledger.RequestID]ledger.Entry
}

type accountRecord struct {
	acct    ledger.Account
	initial ledger.State
}

func NewMemory() *Memory {
	return &Memory{
		accounts: make(map[ledger.ResourceID]accountRecord),
		entries:  make(map[ledger.ResourceID][]ledger.Entry),
		requests: make(map[ledger.RequestID]ledger.Entry),
	}
}

func (m *Memory) Get(_ context.Context, id ledger.ResourceID) (ledger.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.accounts[id]
	if !ok {
		return ledger.Account{}, ledger.ErrNotFound
	}
	return rec.acct, nil
}

func (m *Memory) Create(_ context.Context, acct ledger.Account) error {
	if err := acct.State.Check(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.accounts[acct.ID]; exists {
		return ledger.ErrInvalidState
	}
	acct.Version = 0
	if acct.UpdatedAt.IsZero() {
		acct.UpdatedAt = time.Now().UTC()
	}
	m.accounts[acct.ID] = accountRecord{acct: acct, initial: acct.State}
	return nil
}

func (m *Memory) Initial(_ context.Context, id ledger.ResourceID) (ledger.State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.accounts[id]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	return rec.initial, nil
}

// AppendIfVersion is the atomicity primitive: the version check, the state
// swap, and the entry append happen under one critical section.
func (m *Memory) AppendIfVersion(_ context.Context, id ledger.ResourceID, expectedVersion int64, newState ledger.State, entry ledger.Entry) error {
	if err := newState.Check(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.accounts[id]
	if !ok {
		return ledger.ErrNotFound
	}
	if rec.acct.Version != expectedVersion {
		return ledger.ErrVersionConflict
	}

	rec.acct.Version = expectedVersion + 1
	rec.acct.State = newState
	rec.acct.UpdatedAt = entry.Timestamp
	m.accounts[id] = rec
	m.entries[id] = append(m.entries[id], entry)
	if entry.RequestID != "" {
		m.requests[entry.RequestID] = entry
	}
	return nil
}

func (m *Memory) Log(_ context.Context, id ledger.ResourceID, sinceVersion int64) ([]ledger.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.accounts[id]; !ok {
		return nil, ledger.ErrNotFound
	}
	var result []ledger.Entry
	for _, e := range m.entries[id] {
		if e.ResultingVersion > sinceVersion {
			result = append(result, e)
		}
	}
	return result, nil
}

func (m *Memory) FindEntryByRequest(_ context.Context, requestID ledger.RequestID) (*ledger.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.requests[requestID]
	if !ok {
		return nil, nil
	}
	cp := e
	return &cp, nil
}

func (m *Memory) ListByKind(_ context.Context, kind ledger.Kind) ([]ledger.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []ledger.Account
	for _, rec := range m.accounts {
		if rec.acct.Kind == kind {
			result = append(result, rec.acct)
		}
	}
	return result, nil
}

var _ ledger.Store = (*Memory)(nil)
