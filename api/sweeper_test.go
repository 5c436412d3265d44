package api_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LynRJ/UrbanFlow/api"
	"github.com/LynRJ/UrbanFlow/ledger"
	"github.com/LynRJ/UrbanFlow/ledger/store"
	"github.com/LynRJ/UrbanFlow/parking"
)

func newTestSweeper(t *testing.T) (*api.Sweeper, *store.Memory, *ledger.Metrics) {
	t.Helper()
	mem := store.NewMemory()
	metrics := ledger.NewMetrics(prometheus.NewRegistry())
	coordinator := ledger.NewCoordinator(mem, metrics)
	coordinator.Backoff = time.Millisecond
	guard := ledger.NewGuard(coordinator, mem)
	return api.NewSweeper(mem, guard, metrics), mem, metrics
}

func createSession(t *testing.T, st ledger.Store, id string, start, end time.Time) {
	t.Helper()
	err := st.Create(context.Background(), ledger.Account{
		ID:    ledger.ResourceID(id),
		Kind:  ledger.KindParkingWindow,
		State: parking.NewWindow("spot-1", "Harbor Garage", start, end, decimal.NewFromInt(2)),
	})
	require.NoError(t, err)
}

func TestSweeper_ExpiresOverdueSessions_LeavesActiveAlone(t *testing.T) {
	// GIVEN: One session past its end time and one still running
	// WHEN: A sweep runs
	// THEN: The overdue one gets an expire entry; the running one is untouched

	sweeper, mem, metrics := newTestSweeper(t)
	ctx := context.Background()
	now := time.Now().UTC()

	createSession(t, mem, "session-overdue", now.Add(-3*time.Hour), now.Add(-1*time.Hour))
	createSession(t, mem, "session-running", now.Add(-1*time.Hour), now.Add(1*time.Hour))

	sweeper.RunNow()

	overdue, err := mem.Get(ctx, "session-overdue")
	require.NoError(t, err)
	assert.Equal(t, parking.StatusExpired, overdue.State.(*parking.Window).Status)

	entries, err := mem.Log(ctx, "session-overdue", 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, ledger.OpExpire, entries[0].Operation)
	assert.True(t, entries[0].Delta.IsZero())
	assert.True(t, strings.HasPrefix(string(entries[0].RequestID), "expire-session-overdue-v"),
		"sweeper request IDs must be deterministic, got %q", entries[0].RequestID)

	running, err := mem.Get(ctx, "session-running")
	require.NoError(t, err)
	assert.Equal(t, parking.StatusActive, running.State.(*parking.Window).Status)
	assert.Equal(t, int64(0), running.Version)

	assert.Greater(t, metrics.SweeperLag(time.Now().UTC().Add(time.Second)), time.Duration(0))
}

func TestSweeper_RepeatedSweep_NoDuplicateEntries(t *testing.T) {
	// A second sweep over an already-expired session writes nothing.

	sweeper, mem, _ := newTestSweeper(t)
	ctx := context.Background()
	now := time.Now().UTC()

	createSession(t, mem, "session-1", now.Add(-3*time.Hour), now.Add(-1*time.Hour))

	sweeper.RunNow()
	sweeper.RunNow()

	entries, err := mem.Log(ctx, "session-1", 0)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	require.NoError(t, ledger.Verify(ctx, mem, "session-1"))
}

func TestSweeper_StartStop(t *testing.T) {
	sweeper, mem, _ := newTestSweeper(t)
	now := time.Now().UTC()

	createSession(t, mem, "session-1", now.Add(-2*time.Hour), now.Add(-1*time.Hour))

	sweeper.CheckInterval = time.Hour // the immediate first run does the work
	sweeper.Start()
	defer sweeper.Stop()

	require.Eventually(t, func() bool {
		acct, err := mem.Get(context.Background(), "session-1")
		if err != nil {
			return false
		}
		return acct.State.(*parking.Window).Status == parking.StatusExpired
	}, 2*time.Second, 10*time.Millisecond)
}
