/*
Package parking implements the time/cost window resource for parking
sessions.

PURPOSE:
  A parking session is a window of paid time against a spot. Extending the
  window is the user-facing operation; expiry is the system's, driven by
  the sweeper when the wall clock passes end_time. This package defines
  the Window state and the Extend/Expire/Pay mutations with the
  invariants:
    - end_time >= start_time
    - accrued_cost never decreases while the session is active
    - only an active session can be extended or expired
    - pay settles an active or expired session; paid is terminal

DELTA CONVENTION:
  extend  delta = hours added (cost follows as hours * hourly_rate,
                  recomputed identically at replay)
  expire  delta = 0
  pay     delta = 0

SEE ALSO:
  - api/sweeper.go:  The periodic process that submits Expire
  - ledger/types.go: State and Mutation contracts
*/
package parking

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/LynRJ/UrbanFlow/ledger"
	"github.com/shopspring/decimal"
)

// =============================================================================
// STATUS
// =============================================================================

type Status string

const (
	StatusActive  Status = "active"
	StatusExpired Status = "expired"
	StatusPaid    Status = "paid"
)

// =============================================================================
// WINDOW STATE
// =============================================================================

// Window is the ledger state of one parking session.
type Window struct {
	SpotID       string          `json:"spot_id,omitempty"`
	LocationName string          `json:"location_name,omitempty"`
	StartTime    time.Time       `json:"start_time"`
	EndTime      time.Time       `json:"end_time"`
	HourlyRate   decimal.Decimal `json:"hourly_rate"`
	AccruedCost  decimal.Decimal `json:"accrued_cost"`
	Status       Status          `json:"status"`
}

func init() {
	ledger.RegisterKind(ledger.KindParkingWindow, func(data []byte) (ledger.State, error) {
		var w Window
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, err
		}
		return &w, nil
	})
}

// NewWindow creates an active session. The initial window is prepaid, so
// accrued cost starts at duration * rate.
func NewWindow(spotID, location string, start, end time.Time, hourlyRate decimal.Decimal) *Window {
	hours := decimal.NewFromFloat(end.Sub(start).Hours())
	return &Window{
		SpotID:       spotID,
		LocationName: location,
		StartTime:    start,
		EndTime:      end,
		HourlyRate:   hourlyRate,
		AccruedCost:  hours.Mul(hourlyRate),
		Status:       StatusActive,
	}
}

func (w *Window) Kind() ledger.Kind { return ledger.KindParkingWindow }

// Apply transitions the window for one committed operation. The extend
// cost is derived from the delta and the stored rate, so replaying the
// entry reproduces the exact same cost.
func (w *Window) Apply(op ledger.Operation, delta decimal.Decimal) (ledger.State, error) {
	next := *w
	switch op {
	case ledger.OpExtend:
		next.EndTime = w.EndTime.Add(hoursToDuration(delta))
		next.AccruedCost = w.AccruedCost.Add(delta.Mul(w.HourlyRate))
		return &next, nil
	case ledger.OpExpire:
		next.Status = StatusExpired
		return &next, nil
	case ledger.OpPay:
		next.Status = StatusPaid
		return &next, nil
	default:
		return nil, fmt.Errorf("parking: operation %q not applicable to a session window", op)
	}
}

// Check verifies the window invariants.
func (w *Window) Check() error {
	if w.EndTime.Before(w.StartTime) {
		return errors.New("end time before start time")
	}
	if w.AccruedCost.IsNegative() {
		return errors.New("accrued cost negative")
	}
	if w.HourlyRate.IsNegative() {
		return errors.New("hourly rate negative")
	}
	return nil
}

// =============================================================================
// MUTATIONS
// =============================================================================

// Extend lengthens an active session by the given hours and accrues
// hours * hourly_rate of additional cost.
func Extend(hours decimal.Decimal) ledger.Mutation {
	return ledger.Mutation{
		Op: ledger.OpExtend,
		Compute: func(current ledger.State) (decimal.Decimal, error) {
			w, err := asWindow(current)
			if err != nil {
				return decimal.Zero, err
			}
			if !hours.IsPositive() {
				return decimal.Zero, ledger.ErrInvalidAmount
			}
			if w.Status != StatusActive {
				return decimal.Zero, &ledger.InvalidStateError{
					Operation: ledger.OpExtend, Status: string(w.Status),
				}
			}
			return hours, nil
		},
	}
}

// Expire transitions an active session whose end time has passed. The
// sweeper submits this; a session still inside its window rejects it so a
// stale sweep cannot cut a paid-for session short.
func Expire(now time.Time) ledger.Mutation {
	return ledger.Mutation{
		Op: ledger.OpExpire,
		Compute: func(current ledger.State) (decimal.Decimal, error) {
			w, err := asWindow(current)
			if err != nil {
				return decimal.Zero, err
			}
			if w.Status != StatusActive {
				return decimal.Zero, &ledger.InvalidStateError{
					Operation: ledger.OpExpire, Status: string(w.Status),
				}
			}
			if !w.EndTime.Before(now) {
				return decimal.Zero, &ledger.InvalidStateError{
					Operation: ledger.OpExpire, Status: string(w.Status),
				}
			}
			return decimal.Zero, nil
		},
	}
}

// Pay settles the session. Valid from active or expired; paid is terminal.
func Pay() ledger.Mutation {
	return ledger.Mutation{
		Op: ledger.OpPay,
		Compute: func(current ledger.State) (decimal.Decimal, error) {
			w, err := asWindow(current)
			if err != nil {
				return decimal.Zero, err
			}
			if w.Status == StatusPaid {
				return decimal.Zero, &ledger.InvalidStateError{
					Operation: ledger.OpPay, Status: string(w.Status),
				}
			}
			return decimal.Zero, nil
		},
	}
}

func asWindow(s ledger.State) (*Window, error) {
	w, ok := s.(*Window)
	if !ok {
		return nil, fmt.Errorf("parking: expected session window state, got %s", s.Kind())
	}
	return w, nil
}

func hoursToDuration(hours decimal.Decimal) time.Duration {
	nanos := hours.Mul(decimal.NewFromInt(int64(time.Hour)))
	return time.Duration(nanos.IntPart())
}
