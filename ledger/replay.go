/*
replay.go - Fold the entry log back into state

PURPOSE:
  The log is the source of truth; the account's state column is a
  materialized cache. Replay rebuilds state from the initial snapshot by
  applying each entry's (operation, delta) in resulting-version order,
  and Verify checks the cache against that fold. Both lean on the same
  State.Apply the coordinator used at commit time, so agreement is
  structural, not coincidental.

USES:
  - Audit: prove the current balance is the fold of its history
  - Idempotent replay: reconstruct the exact state a past commit returned
  - Tests: the log-replay property from the engine's contract

SEE ALSO:
  - types.go: State.Apply
  - guard.go: resultFromEntry
*/
package ledger

import (
	"context"
	"fmt"
)

// Replay folds entries over the initial state. Entries must be ordered by
// ResultingVersion ascending and gap-free starting at 1 relative to the
// snapshot; a gap means the log was truncated or the entries belong to
// another resource.
func Replay(initial State, entries []Entry) (State, error) {
	state := initial
	want := int64(1)
	for _, e := range entries {
		if e.ResultingVersion != want {
			return nil, fmt.Errorf("ledger: log gap: expected version %d, got %d (entry %s)",
				want, e.ResultingVersion, e.EntryID)
		}
		next, err := state.Apply(e.Operation, e.Delta)
		if err != nil {
			return nil, fmt.Errorf("ledger: replaying entry %s: %w", e.EntryID, err)
		}
		state = next
		want++
	}
	return state, nil
}

// Verify replays a resource's full log and compares the fold against the
// materialized account state. A mismatch means the cache and the log have
// diverged, which the engine's design makes impossible short of storage
// corruption - surfacing it loudly is the point.
func Verify(ctx context.Context, store Store, id ResourceID) error {
	acct, err := store.Get(ctx, id)
	if err != nil {
		return err
	}
	initial, err := store.Initial(ctx, id)
	if err != nil {
		return err
	}
	entries, err := store.Log(ctx, id, 0)
	if err != nil {
		return err
	}
	if int64(len(entries)) != acct.Version {
		return fmt.Errorf("ledger: %s has %d entries but version %d", id, len(entries), acct.Version)
	}
	replayed, err := Replay(initial, entries)
	if err != nil {
		return err
	}

	got, err := EncodeState(acct.State)
	if err != nil {
		return err
	}
	want, err := EncodeState(replayed)
	if err != nil {
		return err
	}
	if string(got) != string(want) {
		return fmt.Errorf("ledger: %s materialized state diverges from log fold:\n  state: %s\n  fold:  %s",
			id, got, want)
	}
	return nil
}
