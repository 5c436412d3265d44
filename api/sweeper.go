/*
sweeper.go - Automated parking expiry sweeper

PURPOSE:
  Periodically scans parking sessions and expires active windows whose end
  time has passed, so a session left behind by a driver still transitions
  on schedule.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Submits expirations through the idempotency guard with deterministic
    request IDs ("expire-<id>-v<version>"), so a raced or repeated tick
    deduplicates instead of double-writing
  - Skips sessions that fail to expire (logged, retried next tick)
  - Records sweep completion and expiry counts in the engine metrics

CONFIGURATION:
  - CheckInterval: How often to sweep (default: 1 minute)
  - Enabled: Whether the sweeper is active (default: true)

USAGE:
  sweeper := NewSweeper(store, guard, metrics)
  sweeper.Start()
  // ... later
  sweeper.Stop()

SEE ALSO:
  - parking/parking.go: The Expire mutation and its precondition
  - ledger/guard.go:    Deduplication of the deterministic request IDs
*/
package api

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/LynRJ/UrbanFlow/ledger"
	"github.com/LynRJ/UrbanFlow/parking"
)

// Sweeper expires overdue parking sessions in the background.
type Sweeper struct {
	Store         ledger.Store
	Guard         *ledger.Guard
	Metrics       *ledger.Metrics
	CheckInterval time.Duration
	Enabled       bool

	ticker *time.Ticker
	stop   chan bool
	wg     sync.WaitGroup
	mu     sync.Mutex

	now func() time.Time
}

// NewSweeper creates a sweeper over the store and guard. Metrics may be nil.
func NewSweeper(store ledger.Store, guard *ledger.Guard, metrics *ledger.Metrics) *Sweeper {
	return &Sweeper{
		Store:         store,
		Guard:         guard,
		Metrics:       metrics,
		CheckInterval: 1 * time.Minute,
		Enabled:       true,
		stop:          make(chan bool),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Start begins the sweeper.
func (s *Sweeper) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		log.Println("[Sweeper] Disabled, not starting")
		return
	}

	s.ticker = time.NewTicker(s.CheckInterval)
	s.wg.Add(1)

	go s.run()

	log.Printf("[Sweeper] Started with check interval: %v", s.CheckInterval)
}

// Stop stops the sweeper.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker != nil {
		s.ticker.Stop()
		close(s.stop)
		s.wg.Wait()
		log.Println("[Sweeper] Stopped")
	}
}

func (s *Sweeper) run() {
	defer s.wg.Done()

	// Run immediately on start
	s.sweep()

	for {
		select {
		case <-s.ticker.C:
			s.sweep()
		case <-s.stop:
			return
		}
	}
}

// sweep expires every active session whose window has closed. A failure on
// one session never blocks the rest; the next tick picks it up again.
func (s *Sweeper) sweep() {
	ctx := context.Background()
	now := s.now()

	accounts, err := s.Store.ListByKind(ctx, ledger.KindParkingWindow)
	if err != nil {
		log.Printf("[Sweeper] Error listing sessions: %v", err)
		return
	}

	expiredCount := 0
	skippedCount := 0

	for _, acct := range accounts {
		window, ok := acct.State.(*parking.Window)
		if !ok {
			continue
		}
		if window.Status != parking.StatusActive || !window.EndTime.Before(now) {
			continue
		}

		// The version in the request ID pins the dedup key to the state the
		// sweep observed: a raced duplicate tick produces the same ID and
		// replays the first commit instead of writing a second entry.
		requestID := ledger.RequestID(fmt.Sprintf("expire-%s-v%d", acct.ID, acct.Version))

		_, err := s.Guard.Submit(ctx, ledger.Request{
			RequestID:  requestID,
			ResourceID: acct.ID,
			Mutation:   parking.Expire(now),
		})
		switch {
		case err == nil:
			expiredCount++
		case errors.Is(err, ledger.ErrInvalidState):
			// Extended or paid between listing and commit.
			skippedCount++
		default:
			log.Printf("[Sweeper] Error expiring %s: %v", acct.ID, err)
		}
	}

	s.Metrics.ObserveSweep(now, expiredCount)

	if expiredCount > 0 || skippedCount > 0 {
		log.Printf("[Sweeper] Completed: %d expired, %d skipped", expiredCount, skippedCount)
	}
}

// RunNow triggers an immediate sweep (for testing/admin).
func (s *Sweeper) RunNow() {
	s.sweep()
}
