/*
guard.go - Request-level idempotency

PURPOSE:
  Guarantees at-most-once application per logical request. A user tapping
  "Confirm" twice, a client retrying a timed-out call, a duplicated
  network packet - all carry the same request ID, and only the first
  submission executes. Later ones get the cached result back, with no
  side effects.

STATES PER REQUEST ID:
  (unknown)   -> execute, record outcome
  in progress -> reject with ErrDuplicateInFlight
  committed   -> return cached Result, do not re-execute

RETENTION:
  Terminal results are kept for a bounded window (24h default) and pruned
  lazily on submission. Commits older than the window - or from before a
  process restart - are still deduplicated through the store's request
  index, which is as durable as the ledger itself.

FAILURES ARE NOT CACHED AS COMMITS:
  A request that ended in ErrOversubscribed may legitimately be retried
  with the same ID once seats free up; only committed outcomes replay
  from cache.

SEE ALSO:
  - coordinator.go:  Does the actual work
  - store.go:        FindEntryByRequest, the durable dedup index
*/
package ledger

import (
	"context"
	"sync"
	"time"
)

// DefaultRetention is how long committed results replay from memory.
const DefaultRetention = 24 * time.Hour

// Guard deduplicates submissions by request ID. Safe for concurrent use.
type Guard struct {
	coordinator *Coordinator
	store       Store

	// Retention bounds how long terminal results are kept in memory.
	Retention time.Duration

	mu       sync.Mutex
	inflight map[RequestID]struct{}
	done     map[RequestID]completion

	now func() time.Time
}

type completion struct {
	result Result
	at     time.Time
}

// NewGuard creates a guard in front of the coordinator. The store is the
// same one the coordinator commits to; it supplies the durable request
// index for deduplication beyond the retention window.
func NewGuard(coordinator *Coordinator, store Store) *Guard {
	return &Guard{
		coordinator: coordinator,
		store:       store,
		Retention:   DefaultRetention,
		inflight:    make(map[RequestID]struct{}),
		done:        make(map[RequestID]completion),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Submit executes the request at most once. Resubmission with the same
// request ID returns the original result; resubmission while the first
// attempt is still running returns ErrDuplicateInFlight.
func (g *Guard) Submit(ctx context.Context, req Request) (Result, error) {
	g.mu.Lock()
	g.pruneLocked()

	if c, ok := g.done[req.RequestID]; ok {
		g.mu.Unlock()
		return c.result, nil
	}
	if _, ok := g.inflight[req.RequestID]; ok {
		g.mu.Unlock()
		return Result{}, ErrDuplicateInFlight
	}
	g.inflight[req.RequestID] = struct{}{}
	g.mu.Unlock()

	defer func() {
		g.mu.Lock()
		delete(g.inflight, req.RequestID)
		g.mu.Unlock()
	}()

	// The memory cache is empty after a restart; the ledger itself is not.
	if prior, err := g.store.FindEntryByRequest(ctx, req.RequestID); err != nil {
		return Result{}, err
	} else if prior != nil {
		res, err := g.resultFromEntry(ctx, *prior)
		if err != nil {
			return Result{}, err
		}
		g.record(req.RequestID, res)
		return res, nil
	}

	res, err := g.coordinator.Execute(ctx, req)
	if err != nil {
		return Result{}, err
	}
	g.record(req.RequestID, res)
	return res, nil
}

// resultFromEntry rebuilds the result of an already-committed request by
// replaying the log up to the entry's resulting version. Read-your-writes:
// the returned state is exactly what the original caller saw, even if the
// account has moved on since.
func (g *Guard) resultFromEntry(ctx context.Context, e Entry) (Result, error) {
	initial, err := g.store.Initial(ctx, e.ResourceID)
	if err != nil {
		return Result{}, err
	}
	entries, err := g.store.Log(ctx, e.ResourceID, 0)
	if err != nil {
		return Result{}, err
	}
	upTo := entries[:0]
	for _, entry := range entries {
		if entry.ResultingVersion <= e.ResultingVersion {
			upTo = append(upTo, entry)
		}
	}
	state, err := Replay(initial, upTo)
	if err != nil {
		return Result{}, err
	}
	return Result{
		ResourceID: e.ResourceID,
		State:      state,
		Version:    e.ResultingVersion,
		EntryID:    e.EntryID,
	}, nil
}

func (g *Guard) record(id RequestID, res Result) {
	g.mu.Lock()
	g.done[id] = completion{result: res, at: g.now()}
	g.mu.Unlock()
}

// pruneLocked drops completions older than the retention window.
// Caller holds g.mu.
func (g *Guard) pruneLocked() {
	cutoff := g.now().Add(-g.Retention)
	for id, c := range g.done {
		if c.at.Before(cutoff) {
			delete(g.done, id)
		}
	}
}
