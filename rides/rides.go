/*
Package rides implements the seat-inventory resource for community carpool
offers.

PURPOSE:
  A ride offer is a finite pool of seats shared by every rider browsing it.
  This package defines the Seats state and the Book/Release/CancelOffer
  mutations, enforcing the inventory invariants before anything reaches
  the commit path:
    - 0 <= available <= total
    - status "full" exactly when available == 0
    - a cancelled offer accepts no further operations

DELTA CONVENTION:
  book    delta = -n   (n seats reserved)
  cancel  delta = +n   (n seats released)
  cancel  delta =  0   (whole offer cancelled, status -> cancelled)

  The delta is the entire information content of a log entry, so the two
  cancel shapes must stay distinguishable by delta alone - that keeps
  log replay a pure fold.

SEE ALSO:
  - ledger/types.go: State and Mutation contracts
  - parking, points:  The other two resource kinds
*/
package rides

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
	StatusOpen      Status = "open"
	StatusFull      Status = "full"
	StatusCancelled Status = "cancelled"
)

// =============================================================================
// SEATS STATE
// =============================================================================

// Seats is the ledger state of one ride offer. The descriptive fields are
// carried for display and never change after creation; only
// AvailableSeats and Status move.
type Seats struct {
	TotalSeats     int64           `json:"total_seats"`
	AvailableSeats int64           `json:"available_seats"`
	Status         Status          `json:"status"`

	DriverName    string          `json:"driver_name,omitempty"`
	FromCommunity string          `json:"from_community,omitempty"`
	ToCommunity   string          `json:"to_community,omitempty"`
	DepartureTime time.Time       `json:"departure_time,omitempty"`
	PricePerSeat  decimal.Decimal `json:"price_per_seat"`
	VehicleInfo   string          `json:"vehicle_info,omitempty"`
}

func init() {
	ledger.RegisterKind(ledger.KindRideSeats, func(data []byte) (ledger.State, error) {
		var s Seats
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, err
		}
		return &s, nil
	})
}

// NewSeats creates the state for a fresh offer with every seat available.
func NewSeats(total int64) *Seats {
	return &Seats{TotalSeats: total, AvailableSeats: total, Status: StatusOpen}
}

func (s *Seats) Kind() ledger.Kind { return ledger.KindRideSeats }

// Apply transitions the seat inventory for one committed operation.
// Replay calls this with historical deltas, so it must accept any
// transition that was once valid - precondition checks live in the
// mutations, not here.
func (s *Seats) Apply(op ledger.Operation, delta decimal.Decimal) (ledger.State, error) {
	next := *s
	switch op {
	case ledger.OpBook, ledger.OpCancel:
		if op == ledger.OpCancel && delta.IsZero() {
			next.Status = StatusCancelled
			return &next, nil
		}
		n := delta.IntPart()
		next.AvailableSeats += n
		if next.AvailableSeats == 0 {
			next.Status = StatusFull
		} else {
			next.Status = StatusOpen
		}
		return &next, nil
	default:
		return nil, fmt.Errorf("rides: operation %q not applicable to seat inventory", op)
	}
}

// Check verifies the inventory invariants.
func (s *Seats) Check() error {
	if s.AvailableSeats < 0 {
		return errors.New("available seats negative")
	}
	if s.AvailableSeats > s.TotalSeats {
		return errors.New("available seats exceed total")
	}
	if s.Status == StatusFull && s.AvailableSeats != 0 {
		return errors.New("status full with seats remaining")
	}
	if s.Status == StatusOpen && s.AvailableSeats == 0 {
		return errors.New("status open with no seats remaining")
	}
	return nil
}

// =============================================================================
// MUTATIONS
// =============================================================================

// Book reserves n seats. Fails with OversubscribedError when fewer than n
// remain, and with InvalidStateError on a cancelled offer.
func Book(n int64) ledger.Mutation {
	return ledger.Mutation{
		Op: ledger.OpBook,
		Compute: func(current ledger.State) (decimal.Decimal, error) {
			seats, err := asSeats(current)
			if err != nil {
				return decimal.Zero, err
			}
			if n <= 0 {
				return decimal.Zero, ledger.ErrInvalidAmount
			}
			if seats.Status == StatusCancelled {
				return decimal.Zero, &ledger.InvalidStateError{
					Operation: ledger.OpBook, Status: string(seats.Status),
				}
			}
			if n > seats.AvailableSeats {
				return decimal.Zero, &ledger.OversubscribedError{
					Requested: n, Available: seats.AvailableSeats,
				}
			}
			return decimal.NewFromInt(-n), nil
		},
	}
}

// Release returns n previously booked seats to the pool. Fails with
// InvalidStateError on a cancelled offer; releasing more seats than were
// ever booked trips the total-seats invariant at commit time.
func Release(n int64) ledger.Mutation {
	return ledger.Mutation{
		Op: ledger.OpCancel,
		Compute: func(current ledger.State) (decimal.Decimal, error) {
			seats, err := asSeats(current)
			if err != nil {
				return decimal.Zero, err
			}
			if n <= 0 {
				return decimal.Zero, ledger.ErrInvalidAmount
			}
			if seats.Status == StatusCancelled {
				return decimal.Zero, &ledger.InvalidStateError{
					Operation: ledger.OpCancel, Status: string(seats.Status),
				}
			}
			if seats.AvailableSeats+n > seats.TotalSeats {
				return decimal.Zero, &ledger.InvalidStateError{
					Operation: ledger.OpCancel, Status: string(seats.Status),
				}
			}
			return decimal.NewFromInt(n), nil
		},
	}
}

// CancelOffer withdraws the whole ride. Terminal; already-cancelled
// offers reject it.
func CancelOffer() ledger.Mutation {
	return ledger.Mutation{
		Op: ledger.OpCancel,
		Compute: func(current ledger.State) (decimal.Decimal, error) {
			seats, err := asSeats(current)
			if err != nil {
				return decimal.Zero, err
			}
			if seats.Status == StatusCancelled {
				return decimal.Zero, &ledger.InvalidStateError{
					Operation: ledger.OpCancel, Status: string(seats.Status),
				}
			}
			return decimal.Zero, nil
		},
	}
}

func asSeats(s ledger.State) (*Seats, error) {
	seats, ok := s.(*Seats)
	if !ok {
		return nil, fmt.Errorf("rides: expected seat inventory state, got %s", s.Kind())
	}
	return seats, nil
}
