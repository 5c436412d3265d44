/*
coordinator.go - Optimistic commit loop

PURPOSE:
  Executes one named operation as a single atomic unit: read the current
  account, validate the mutation against it (pure, no side effects),
  compute the next state, and commit with a conditional append. On a
  version conflict the whole cycle re-runs against the fresh state, up to
  a bounded retry budget with jittered backoff.

STATE MACHINE (per submitted operation):
  Received -> Validated -> Committing -> Committed
                              |
                              v
                         Conflicted -> (retry <= MaxRetries) -> Contended

COMMIT IS THE ONLY MUTATION POINT:
  Nothing else in the system writes account state. The sweeper, the HTTP
  handlers, and any future batch tooling all funnel through Execute.

CANCELLATION:
  The context is honored between attempts (validation is side-effect
  free, so abandoning before commit costs nothing). Once AppendIfVersion
  has been issued the attempt runs to its outcome; callers compensate
  with an inverse operation, they cannot un-commit.

SEE ALSO:
  - store.go:   AppendIfVersion semantics
  - guard.go:   Wraps Execute with request-level idempotency
  - metrics.go: Conflict and exhaustion counters fed from here
*/
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// REQUEST / RESULT
// =============================================================================

// Request is one operation submission. RequestID is the caller-supplied
// idempotency key: generated once per logical user action and reused
// across network retries, never regenerated per attempt.
type Request struct {
	RequestID  RequestID
	ResourceID ResourceID
	Mutation   Mutation
}

// Result reports a committed operation.
type Result struct {
	ResourceID ResourceID
	State      State
	Version    int64
	EntryID    EntryID
}

// =============================================================================
// COORDINATOR
// =============================================================================

// Coordinator runs the optimistic commit loop. Stateless between calls;
// safe for concurrent use by any number of workers.
type Coordinator struct {
	store   Store
	metrics *Metrics

	// MaxRetries bounds reloads after a version conflict. The initial
	// attempt does not count against it.
	MaxRetries int

	// Backoff is the base delay before a retry; the actual wait is
	// jittered uniformly in [Backoff/2, Backoff) and doubles per attempt.
	Backoff time.Duration

	now   func() time.Time
	newID func() EntryID
}

// NewCoordinator creates a coordinator with the default retry budget
// (3 retries, 10ms base backoff). Metrics may be nil.
func NewCoordinator(store Store, metrics *Metrics) *Coordinator {
	return &Coordinator{
		store:      store,
		metrics:    metrics,
		MaxRetries: 3,
		Backoff:    10 * time.Millisecond,
		now:        func() time.Time { return time.Now().UTC() },
		newID:      func() EntryID { return EntryID(uuid.NewString()) },
	}
}

// Execute runs one operation to a terminal outcome.
//
// Terminal errors (ErrOversubscribed, ErrInsufficientBalance,
// ErrInvalidState, ErrNotFound, ErrContended) are returned verbatim;
// ErrVersionConflict never escapes this method.
func (c *Coordinator) Execute(ctx context.Context, req Request) (Result, error) {
	if req.Mutation.Compute == nil {
		return Result{}, fmt.Errorf("ledger: mutation for %q has no compute function", req.Mutation.Op)
	}

	backoff := c.Backoff
	for attempt := 0; ; attempt++ {
		acct, err := c.store.Get(ctx, req.ResourceID)
		if err != nil {
			return Result{}, err
		}

		// Validated: pure precondition check against the loaded state.
		delta, err := req.Mutation.Compute(acct.State)
		if err != nil {
			return Result{}, err
		}

		next, err := acct.State.Apply(req.Mutation.Op, delta)
		if err != nil {
			return Result{}, err
		}
		if err := next.Check(); err != nil {
			return Result{}, fmt.Errorf("ledger: %s on %s violates invariant: %w",
				req.Mutation.Op, req.ResourceID, err)
		}

		entry := Entry{
			EntryID:          c.newID(),
			ResourceID:       req.ResourceID,
			RequestID:        req.RequestID,
			Operation:        req.Mutation.Op,
			Delta:            delta,
			ResultingVersion: acct.Version + 1,
			Timestamp:        c.now(),
		}

		// Committing: the single point of mutation in the whole system.
		err = c.store.AppendIfVersion(ctx, req.ResourceID, acct.Version, next, entry)
		if err == nil {
			c.metrics.observeCommit(req.Mutation.Op)
			return Result{
				ResourceID: req.ResourceID,
				State:      next,
				Version:    entry.ResultingVersion,
				EntryID:    entry.EntryID,
			}, nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return Result{}, err
		}

		c.metrics.observeConflict(req.Mutation.Op)
		if attempt >= c.MaxRetries {
			c.metrics.observeExhausted(req.Mutation.Op)
			return Result{}, fmt.Errorf("%s after %d retries: %w", req.ResourceID, attempt, ErrContended)
		}

		if err := sleepJittered(ctx, backoff); err != nil {
			return Result{}, err
		}
		backoff *= 2
	}
}

// sleepJittered waits a uniformly jittered delay in [d/2, d), or returns
// early with the context's error.
func sleepJittered(ctx context.Context, d time.Duration) error {
	wait := d/2 + time.Duration(rand.Int63n(int64(d/2)+1))
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
