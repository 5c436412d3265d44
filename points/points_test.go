package points_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LynRJ/UrbanFlow/ledger"
	"github.com/LynRJ/UrbanFlow/points"
)

func apply(t *testing.T, state ledger.State, m ledger.Mutation) ledger.State {
	t.Helper()
	delta, err := m.Compute(state)
	require.NoError(t, err)
	next, err := state.Apply(m.Op, delta)
	require.NoError(t, err)
	require.NoError(t, next.Check())
	return next
}

func TestEarn_GrowsBalanceAndLifetime(t *testing.T) {
	b := points.NewBalance(decimal.NewFromInt(10))

	next := apply(t, b, points.Earn(decimal.NewFromInt(25))).(*points.Balance)
	assert.True(t, next.Balance.Equal(decimal.NewFromInt(35)))
	assert.True(t, next.LifetimeEarned.Equal(decimal.NewFromInt(35)))
}

func TestEarn_NonPositive_Rejected(t *testing.T) {
	b := points.NewBalance(decimal.Zero)

	for _, amount := range []string{"0", "-5"} {
		_, err := points.Earn(decimal.RequireFromString(amount)).Compute(b)
		assert.ErrorIs(t, err, ledger.ErrInvalidAmount)
	}
}

func TestRedeem_DebitsBalanceOnly(t *testing.T) {
	b := points.NewBalance(decimal.NewFromInt(40))

	next := apply(t, b, points.Redeem(decimal.NewFromInt(15))).(*points.Balance)
	assert.True(t, next.Balance.Equal(decimal.NewFromInt(25)))
	assert.True(t, next.LifetimeEarned.Equal(decimal.NewFromInt(40)),
		"redemption must not touch lifetime earned")
}

func TestRedeem_Insufficient_ReportsNumbers(t *testing.T) {
	b := points.NewBalance(decimal.NewFromInt(5))

	_, err := points.Redeem(decimal.NewFromInt(10)).Compute(b)
	require.Error(t, err)

	var insufficient *ledger.InsufficientBalanceError
	require.ErrorAs(t, err, &insufficient)
	assert.True(t, insufficient.Requested.Equal(decimal.NewFromInt(10)))
	assert.True(t, insufficient.Available.Equal(decimal.NewFromInt(5)))
}

func TestRedeem_ExactBalance_Allowed(t *testing.T) {
	b := points.NewBalance(decimal.NewFromInt(10))

	next := apply(t, b, points.Redeem(decimal.NewFromInt(10))).(*points.Balance)
	assert.True(t, next.Balance.IsZero())
}
