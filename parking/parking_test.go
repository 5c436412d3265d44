package parking_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LynRJ/UrbanFlow/ledger"
	"github.com/LynRJ/UrbanFlow/parking"
)

var (
	start = time.Date(2026, time.March, 1, 10, 0, 0, 0, time.UTC)
	end   = start.Add(2 * time.Hour)
	rate  = decimal.NewFromInt(2)
)

func newWindow() *parking.Window {
	return parking.NewWindow("spot-9", "Harbor Garage", start, end, rate)
}

func apply(t *testing.T, state ledger.State, m ledger.Mutation) ledger.State {
	t.Helper()
	delta, err := m.Compute(state)
	require.NoError(t, err)
	next, err := state.Apply(m.Op, delta)
	require.NoError(t, err)
	require.NoError(t, next.Check())
	return next
}

// =============================================================================
// CREATION
// =============================================================================

func TestNewWindow_PrepaysInitialDuration(t *testing.T) {
	w := newWindow()

	assert.Equal(t, parking.StatusActive, w.Status)
	assert.True(t, w.AccruedCost.Equal(decimal.NewFromInt(4)),
		"2h at rate 2.00 should prepay 4.00, got %s", w.AccruedCost)
}

// =============================================================================
// EXTENSION
// =============================================================================

func TestExtend_MovesEndAndAccruesCost(t *testing.T) {
	// GIVEN: An active 2h session at rate 2.00 (cost 4.00)
	// WHEN: Extending by 2h
	// THEN: End moves +2h and cost becomes 8.00

	w := newWindow()

	next := apply(t, w, parking.Extend(decimal.NewFromInt(2))).(*parking.Window)
	assert.True(t, next.EndTime.Equal(end.Add(2*time.Hour)))
	assert.True(t, next.AccruedCost.Equal(decimal.NewFromInt(8)),
		"cost %s, expected 8", next.AccruedCost)
	assert.Equal(t, parking.StatusActive, next.Status)
}

func TestExtend_FractionalHours(t *testing.T) {
	w := newWindow()

	next := apply(t, w, parking.Extend(decimal.RequireFromString("0.5"))).(*parking.Window)
	assert.True(t, next.EndTime.Equal(end.Add(30*time.Minute)))
	assert.True(t, next.AccruedCost.Equal(decimal.NewFromInt(5)))
}

func TestExtend_NonPositiveHours_Rejected(t *testing.T) {
	w := newWindow()

	for _, h := range []string{"0", "-1"} {
		_, err := parking.Extend(decimal.RequireFromString(h)).Compute(w)
		assert.ErrorIs(t, err, ledger.ErrInvalidAmount)
	}
}

func TestExtend_ExpiredSession_Rejected(t *testing.T) {
	expired := apply(t, newWindow(), parking.Expire(end.Add(time.Minute))).(*parking.Window)

	_, err := parking.Extend(decimal.NewFromInt(1)).Compute(expired)
	require.Error(t, err)

	var invalid *ledger.InvalidStateError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, ledger.OpExtend, invalid.Operation)
	assert.Equal(t, string(parking.StatusExpired), invalid.Status)
}

// =============================================================================
// EXPIRY
// =============================================================================

func TestExpire_PastEnd_Transitions(t *testing.T) {
	w := newWindow()

	next := apply(t, w, parking.Expire(end.Add(time.Second))).(*parking.Window)
	assert.Equal(t, parking.StatusExpired, next.Status)
	assert.True(t, next.AccruedCost.Equal(w.AccruedCost), "expiry never changes cost")
}

func TestExpire_StillInsideWindow_Rejected(t *testing.T) {
	// A stale sweep must not cut a paid-for session short.

	w := newWindow()

	_, err := parking.Expire(end.Add(-time.Minute)).Compute(w)
	assert.ErrorIs(t, err, ledger.ErrInvalidState)
}

func TestExpire_AlreadyExpired_Rejected(t *testing.T) {
	expired := apply(t, newWindow(), parking.Expire(end.Add(time.Minute))).(*parking.Window)

	_, err := parking.Expire(end.Add(time.Hour)).Compute(expired)
	assert.ErrorIs(t, err, ledger.ErrInvalidState)
}

// =============================================================================
// PAYMENT
// =============================================================================

func TestPay_FromActiveAndExpired(t *testing.T) {
	paidFromActive := apply(t, newWindow(), parking.Pay()).(*parking.Window)
	assert.Equal(t, parking.StatusPaid, paidFromActive.Status)

	expired := apply(t, newWindow(), parking.Expire(end.Add(time.Minute))).(*parking.Window)
	paidFromExpired := apply(t, expired, parking.Pay()).(*parking.Window)
	assert.Equal(t, parking.StatusPaid, paidFromExpired.Status)
}

func TestPay_AlreadyPaid_Rejected(t *testing.T) {
	paid := apply(t, newWindow(), parking.Pay()).(*parking.Window)

	_, err := parking.Pay().Compute(paid)
	assert.ErrorIs(t, err, ledger.ErrInvalidState)
}
