/*
Package ledger provides the core resource ledger and booking transaction
engine.

PURPOSE:
  This package contains domain-agnostic types and algorithms for managing
  finite shared counters under concurrent access. Whether tracking carpool
  seats, a parking session's time window, or a reward point balance, the
  same engine handles optimistic commits, transaction logging, idempotent
  replay safety, and log-based state reconstruction.

KEY CONCEPTS IN THIS FILE (types.go):
  - Kind:      Which class of resource an account tracks (seats, window, points)
  - State:     Kind-specific payload behind a uniform transition interface
  - Account:   Materialized current state plus the optimistic-lock version
  - Entry:     An immutable ledger record of one committed mutation
  - Operation: The named mutation a caller submits (book, redeem, ...)

DESIGN PRINCIPLES:
  1. The log is the source of truth: Account.State is a cache of the fold
     over the entry log. State.Apply is the only transition function, used
     both at commit time and at replay time, so the two can never diverge.
  2. Immutability: entries are never edited or deleted. Corrections are
     new, compensating operations.
  3. Precision: decimal.Decimal for every counted or priced quantity.
  4. Type safety: distinct string types for resource, request and entry IDs.

USAGE:
  guard := ledger.NewGuard(ledger.NewCoordinator(store, metrics), store)
  res, err := guard.Submit(ctx, ledger.Request{
      RequestID:  "book-7f3a",
      ResourceID: "ride-42",
      Mutation:   rides.Book(2),
  })

SEE ALSO:
  - store.go:       Persistence contract (the conditional append lives there)
  - coordinator.go: Optimistic commit loop with bounded retry
  - guard.go:       Request-level idempotency
  - replay.go:      Fold the log back into state, verify the cache
*/
package ledger

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type ResourceID string
type RequestID string
type EntryID string

// =============================================================================
// KIND - What class of resource an account tracks
// =============================================================================

type Kind string

const (
	KindRideSeats     Kind = "ride_seats"
	KindParkingWindow Kind = "parking_window"
	KindPointBalance  Kind = "point_balance"
)

// =============================================================================
// OPERATION - Named mutations recorded in the ledger
// =============================================================================

type Operation string

const (
	OpBook   Operation = "book"   // Reserve seats on a ride
	OpCancel Operation = "cancel" // Release seats, or cancel the whole offer (delta 0)
	OpExtend Operation = "extend" // Lengthen a parking window
	OpRedeem Operation = "redeem" // Spend reward points
	OpEarn   Operation = "earn"   // Grant reward points
	OpExpire Operation = "expire" // Sweeper: active window past its end time
	OpPay    Operation = "pay"    // Settle a parking session
)

// =============================================================================
// STATE - Kind-specific payload behind a uniform transition interface
// =============================================================================

// State is the kind-specific payload of an Account. Implementations live in
// the domain packages (rides, parking, points); this package never inspects
// their fields.
//
// Apply is the single state-transition function in the system. The
// coordinator uses it to compute the next state at commit time, and Replay
// uses it to fold the entry log back into state. Because both paths share
// one function, the materialized state and the log cannot drift apart.
type State interface {
	// Kind returns which resource class this state belongs to.
	Kind() Kind

	// Apply returns the state after one committed operation. It must be a
	// pure function of (receiver, op, delta): no clock reads, no I/O.
	// Precondition checks (enough seats, enough balance) belong to the
	// Mutation that produced the delta, not here; Apply only guards
	// transitions that would corrupt state outright.
	Apply(op Operation, delta decimal.Decimal) (State, error)

	// Check verifies the state's invariants. Stores call it before
	// persisting so a buggy mutation can never commit a negative counter.
	Check() error
}

// =============================================================================
// ACCOUNT - Materialized state plus the optimistic-lock token
// =============================================================================

// Account is the current, materialized view of one ledger-tracked resource.
// Version starts at 0 on creation and is bumped by exactly 1 on every
// committed mutation; it is the compare-and-swap token for AppendIfVersion.
// Accounts are never deleted, only moved to a terminal status by their
// state's own transition rules.
type Account struct {
	ID        ResourceID
	Kind      Kind
	Version   int64
	State     State
	UpdatedAt time.Time
}

// =============================================================================
// ENTRY - One committed mutation, immutable forever
// =============================================================================

// Entry records one committed mutation. Entries for a resource, ordered by
// ResultingVersion, reconstruct its state exactly (see Replay).
type Entry struct {
	EntryID          EntryID
	ResourceID       ResourceID
	RequestID        RequestID // caller-supplied idempotency key
	Operation        Operation
	Delta            decimal.Decimal // signed quantity applied
	ResultingVersion int64
	Timestamp        time.Time
}

// =============================================================================
// MUTATION - Validated intent produced by a resource accessor
// =============================================================================

// Mutation is what the domain packages hand to the coordinator: an
// operation name plus a pure precondition-check-and-delta function.
// Compute must have no side effects; the coordinator may call it several
// times while retrying a contended commit.
type Mutation struct {
	Op Operation

	// Compute validates the operation against the current state and
	// returns the signed delta to apply. Returning an error aborts the
	// submission before anything is written.
	Compute func(current State) (decimal.Decimal, error)
}

// =============================================================================
// KIND REGISTRY - JSON round-tripping for stores
// =============================================================================

// Stores persist State as JSON and need a way back. Each domain package
// registers a decoder for its kind at init time.

type stateDecoder func([]byte) (State, error)

var decoders = map[Kind]stateDecoder{}

// RegisterKind registers the JSON decoder for a resource kind. Called from
// domain package init functions; registering the same kind twice panics,
// which surfaces wiring mistakes at startup rather than at read time.
func RegisterKind(kind Kind, decode func(data []byte) (State, error)) {
	if _, dup := decoders[kind]; dup {
		panic(fmt.Sprintf("ledger: kind %q registered twice", kind))
	}
	decoders[kind] = decode
}

// DecodeState decodes a persisted state payload for the given kind.
func DecodeState(kind Kind, data []byte) (State, error) {
	decode, ok := decoders[kind]
	if !ok {
		return nil, fmt.Errorf("ledger: no decoder registered for kind %q", kind)
	}
	return decode(data)
}

// EncodeState serializes a state payload for persistence.
func EncodeState(s State) ([]byte, error) {
	return json.Marshal(s)
}
