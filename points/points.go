/*
Package points implements the reward point balance resource.

PURPOSE:
  Every user has one point account. Earns credit it (carpool bonuses,
  transit rewards), redemptions debit it against the rewards catalog.
  The single invariant that matters: the balance never goes negative, no
  matter how redemptions interleave.

DELTA CONVENTION:
  earn    delta = +amount  (balance and lifetime_earned both grow)
  redeem  delta = -cost    (balance shrinks, lifetime_earned untouched)

SEE ALSO:
  - ledger/types.go: State and Mutation contracts
*/
package points

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/LynRJ/UrbanFlow/ledger"
	"github.com/shopspring/decimal"
)

// =============================================================================
// BALANCE STATE
// =============================================================================

// Balance is the ledger state of one point account. LifetimeEarned only
// ever grows; it feeds the "total earned" display and has no invariant
// relationship to Balance (grants may push balance above cumulative earn).
type Balance struct {
	Balance        decimal.Decimal `json:"balance"`
	LifetimeEarned decimal.Decimal `json:"lifetime_earned"`
}

func init() {
	ledger.RegisterKind(ledger.KindPointBalance, func(data []byte) (ledger.State, error) {
		var b Balance
		if err := json.Unmarshal(data, &b); err != nil {
			return nil, err
		}
		return &b, nil
	})
}

// NewBalance creates an account with an opening balance (0 for new users,
// non-zero for migrated ones).
func NewBalance(opening decimal.Decimal) *Balance {
	return &Balance{Balance: opening, LifetimeEarned: opening}
}

func (b *Balance) Kind() ledger.Kind { return ledger.KindPointBalance }

// Apply transitions the balance for one committed operation.
func (b *Balance) Apply(op ledger.Operation, delta decimal.Decimal) (ledger.State, error) {
	next := *b
	switch op {
	case ledger.OpEarn:
		next.Balance = b.Balance.Add(delta)
		next.LifetimeEarned = b.LifetimeEarned.Add(delta)
		return &next, nil
	case ledger.OpRedeem:
		next.Balance = b.Balance.Add(delta) // delta is negative
		return &next, nil
	default:
		return nil, fmt.Errorf("points: operation %q not applicable to a point balance", op)
	}
}

// Check verifies the balance invariant.
func (b *Balance) Check() error {
	if b.Balance.IsNegative() {
		return errors.New("point balance negative")
	}
	if b.LifetimeEarned.IsNegative() {
		return errors.New("lifetime earned negative")
	}
	return nil
}

// =============================================================================
// MUTATIONS
// =============================================================================

// Redeem debits cost points. Fails with InsufficientBalanceError when the
// balance cannot cover it; nothing is written on failure.
func Redeem(cost decimal.Decimal) ledger.Mutation {
	return ledger.Mutation{
		Op: ledger.OpRedeem,
		Compute: func(current ledger.State) (decimal.Decimal, error) {
			b, err := asBalance(current)
			if err != nil {
				return decimal.Zero, err
			}
			if !cost.IsPositive() {
				return decimal.Zero, ledger.ErrInvalidAmount
			}
			if cost.GreaterThan(b.Balance) {
				return decimal.Zero, &ledger.InsufficientBalanceError{
					Requested: cost, Available: b.Balance,
				}
			}
			return cost.Neg(), nil
		},
	}
}

// Earn credits amount points. Amount must be positive.
func Earn(amount decimal.Decimal) ledger.Mutation {
	return ledger.Mutation{
		Op: ledger.OpEarn,
		Compute: func(current ledger.State) (decimal.Decimal, error) {
			if _, err := asBalance(current); err != nil {
				return decimal.Zero, err
			}
			if !amount.IsPositive() {
				return decimal.Zero, ledger.ErrInvalidAmount
			}
			return amount, nil
		},
	}
}

func asBalance(s ledger.State) (*Balance, error) {
	b, ok := s.(*Balance)
	if !ok {
		return nil, fmt.Errorf("points: expected point balance state, got %s", s.Kind())
	}
	return b, nil
}
