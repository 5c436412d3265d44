package ledger_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LynRJ/UrbanFlow/ledger"
	"github.com/LynRJ/UrbanFlow/ledger/store"
	"github.com/LynRJ/UrbanFlow/points"
	"github.com/LynRJ/UrbanFlow/rides"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestEngine(t *testing.T) (*ledger.Coordinator, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	coordinator := ledger.NewCoordinator(mem, nil)
	coordinator.Backoff = time.Millisecond
	return coordinator, mem
}

func createRide(t *testing.T, st ledger.Store, id string, seats int64) {
	t.Helper()
	err := st.Create(context.Background(), ledger.Account{
		ID:    ledger.ResourceID(id),
		Kind:  ledger.KindRideSeats,
		State: rides.NewSeats(seats),
	})
	require.NoError(t, err)
}

func createPoints(t *testing.T, st ledger.Store, id string, opening int64) {
	t.Helper()
	err := st.Create(context.Background(), ledger.Account{
		ID:    ledger.ResourceID(id),
		Kind:  ledger.KindPointBalance,
		State: points.NewBalance(decimal.NewFromInt(opening)),
	})
	require.NoError(t, err)
}

// =============================================================================
// COMMIT PATH
// =============================================================================

func TestCoordinator_Commit_BumpsVersionAndAppendsEntry(t *testing.T) {
	// GIVEN: A ride with 4 seats at version 0
	// WHEN: Booking 2 seats
	// THEN: Version becomes 1 and exactly one entry with delta -2 is logged

	coordinator, mem := newTestEngine(t)
	ctx := context.Background()
	createRide(t, mem, "ride-1", 4)

	res, err := coordinator.Execute(ctx, ledger.Request{
		RequestID:  "req-1",
		ResourceID: "ride-1",
		Mutation:   rides.Book(2),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Version)

	seats := res.State.(*rides.Seats)
	assert.Equal(t, int64(2), seats.AvailableSeats)

	entries, err := mem.Log(ctx, "ride-1", 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, ledger.OpBook, entries[0].Operation)
	assert.True(t, entries[0].Delta.Equal(decimal.NewFromInt(-2)))
	assert.Equal(t, int64(1), entries[0].ResultingVersion)
}

func TestCoordinator_ValidationFailure_WritesNothing(t *testing.T) {
	// GIVEN: A ride with 1 seat
	// WHEN: Booking 3 seats
	// THEN: OversubscribedError with the exact numbers, and no entry logged

	coordinator, mem := newTestEngine(t)
	ctx := context.Background()
	createRide(t, mem, "ride-1", 1)

	_, err := coordinator.Execute(ctx, ledger.Request{
		RequestID:  "req-1",
		ResourceID: "ride-1",
		Mutation:   rides.Book(3),
	})
	require.Error(t, err)

	var over *ledger.OversubscribedError
	require.ErrorAs(t, err, &over)
	assert.Equal(t, int64(3), over.Requested)
	assert.Equal(t, int64(1), over.Available)
	assert.True(t, ledger.IsClientError(err))

	entries, err := mem.Log(ctx, "ride-1", 0)
	require.NoError(t, err)
	assert.Empty(t, entries)

	acct, err := mem.Get(ctx, "ride-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), acct.Version)
}

func TestCoordinator_UnknownResource_NotFound(t *testing.T) {
	coordinator, _ := newTestEngine(t)

	_, err := coordinator.Execute(context.Background(), ledger.Request{
		RequestID:  "req-1",
		ResourceID: "ride-missing",
		Mutation:   rides.Book(1),
	})
	assert.True(t, ledger.IsNotFound(err))
}

// =============================================================================
// CONCURRENCY
// =============================================================================

func TestCoordinator_LastSeat_ExactlyOneWinner(t *testing.T) {
	// GIVEN: A ride with exactly 1 seat left
	// WHEN: 10 goroutines race to book it
	// THEN: Exactly one succeeds, the rest get OversubscribedError, and the
	//       ride ends at 0 seats with status full

	coordinator, mem := newTestEngine(t)
	coordinator.MaxRetries = 20 // plenty: every loser must reach the precondition, not Contended
	ctx := context.Background()
	createRide(t, mem, "ride-1", 1)

	const racers = 10
	results := make([]error, racers)
	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := coordinator.Execute(ctx, ledger.Request{
				ResourceID: "ride-1",
				Mutation:   rides.Book(1),
			})
			results[i] = err
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range results {
		if err == nil {
			winners++
		} else {
			assert.ErrorIs(t, err, ledger.ErrOversubscribed)
		}
	}
	assert.Equal(t, 1, winners)

	acct, err := mem.Get(ctx, "ride-1")
	require.NoError(t, err)
	seats := acct.State.(*rides.Seats)
	assert.Equal(t, int64(0), seats.AvailableSeats)
	assert.Equal(t, rides.StatusFull, seats.Status)
	assert.Equal(t, int64(1), acct.Version)
}

func TestCoordinator_ConcurrentMixedOps_CountersNeverNegative(t *testing.T) {
	// GIVEN: A point account with 50 points
	// WHEN: 20 goroutines each redeem 10 while 5 goroutines each earn 10
	// THEN: The balance never goes negative and equals earns minus the
	//       redemptions that actually committed

	coordinator, mem := newTestEngine(t)
	coordinator.MaxRetries = 50
	ctx := context.Background()
	createPoints(t, mem, "points-1", 50)

	var wg sync.WaitGroup
	var mu sync.Mutex
	redeemed := 0

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := coordinator.Execute(ctx, ledger.Request{
				ResourceID: "points-1",
				Mutation:   points.Redeem(decimal.NewFromInt(10)),
			})
			if err == nil {
				mu.Lock()
				redeemed++
				mu.Unlock()
			} else {
				assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)
			}
		}()
	}
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := coordinator.Execute(ctx, ledger.Request{
				ResourceID: "points-1",
				Mutation:   points.Earn(decimal.NewFromInt(10)),
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	acct, err := mem.Get(ctx, "points-1")
	require.NoError(t, err)
	balance := acct.State.(*points.Balance)

	expected := decimal.NewFromInt(50 + 5*10 - int64(redeemed)*10)
	assert.True(t, balance.Balance.Equal(expected),
		"balance %s, expected %s", balance.Balance, expected)
	assert.False(t, balance.Balance.IsNegative())

	// Every commit is replayable from the log
	assert.NoError(t, ledger.Verify(ctx, mem, "points-1"))
}

// =============================================================================
// RETRY EXHAUSTION
// =============================================================================

// conflictStore always reports a version conflict at commit time.
type conflictStore struct {
	ledger.Store
}

func (c *conflictStore) AppendIfVersion(ctx context.Context, id ledger.ResourceID, expectedVersion int64, newState ledger.State, entry ledger.Entry) error {
	return ledger.ErrVersionConflict
}

func TestCoordinator_RetriesExhausted_Contended(t *testing.T) {
	// GIVEN: A store where every commit loses the version race
	// WHEN: Executing a booking
	// THEN: ErrContended after the retry budget, never ErrVersionConflict

	mem := store.NewMemory()
	createRide(t, mem, "ride-1", 4)

	coordinator := ledger.NewCoordinator(&conflictStore{Store: mem}, nil)
	coordinator.Backoff = time.Millisecond
	coordinator.MaxRetries = 3

	_, err := coordinator.Execute(context.Background(), ledger.Request{
		ResourceID: "ride-1",
		Mutation:   rides.Book(1),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrContended)
	assert.False(t, errors.Is(err, ledger.ErrVersionConflict),
		"version conflict must not surface to callers")
	assert.True(t, ledger.IsRetryable(err))
}

func TestCoordinator_ContextCancelled_BetweenRetries(t *testing.T) {
	mem := store.NewMemory()
	createRide(t, mem, "ride-1", 4)

	coordinator := ledger.NewCoordinator(&conflictStore{Store: mem}, nil)
	coordinator.Backoff = 50 * time.Millisecond
	coordinator.MaxRetries = 10

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := coordinator.Execute(ctx, ledger.Request{
		ResourceID: "ride-1",
		Mutation:   rides.Book(1),
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
