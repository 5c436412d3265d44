/*
metrics.go - Operational counters for the commit path and the sweeper

PURPOSE:
  The engine's health is visible through three signals: how often commits
  conflict, how often the retry budget runs out, and how far behind the
  expiry sweeper is. This file packages them as Prometheus collectors.

EXPOSED SERIES:
  ledger_commits_total{operation}            committed operations
  ledger_conflicts_total{operation}          version conflicts (retried)
  ledger_retries_exhausted_total{operation}  submissions that hit Contended
  ledger_sweeper_last_run_timestamp_seconds  unix time of last full sweep
  ledger_sweeper_expired_total               windows transitioned by sweeps

A nil *Metrics is valid and records nothing, so tests that don't care
about observability don't have to wire a registry.
*/
package ledger

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the engine's Prometheus collectors.
type Metrics struct {
	commits   *prometheus.CounterVec
	conflicts *prometheus.CounterVec
	exhausted *prometheus.CounterVec

	sweeperLastRun prometheus.Gauge
	sweeperExpired prometheus.Counter

	mu        sync.Mutex
	lastSweep time.Time
}

// NewMetrics registers the engine collectors with reg. Pass
// prometheus.DefaultRegisterer in production; tests use a fresh
// prometheus.NewRegistry to avoid cross-test registration clashes.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		commits: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_commits_total",
			Help: "Operations committed to the ledger.",
		}, []string{"operation"}),
		conflicts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_conflicts_total",
			Help: "Version conflicts detected at commit (retried internally).",
		}, []string{"operation"}),
		exhausted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_retries_exhausted_total",
			Help: "Submissions that exhausted the retry budget and returned Contended.",
		}, []string{"operation"}),
		sweeperLastRun: f.NewGauge(prometheus.GaugeOpts{
			Name: "ledger_sweeper_last_run_timestamp_seconds",
			Help: "Unix timestamp of the last completed expiry sweep.",
		}),
		sweeperExpired: f.NewCounter(prometheus.CounterOpts{
			Name: "ledger_sweeper_expired_total",
			Help: "Parking windows expired by the sweeper.",
		}),
	}
}

func (m *Metrics) observeCommit(op Operation) {
	if m == nil {
		return
	}
	m.commits.WithLabelValues(string(op)).Inc()
}

func (m *Metrics) observeConflict(op Operation) {
	if m == nil {
		return
	}
	m.conflicts.WithLabelValues(string(op)).Inc()
}

func (m *Metrics) observeExhausted(op Operation) {
	if m == nil {
		return
	}
	m.exhausted.WithLabelValues(string(op)).Inc()
}

// ObserveSweep records a completed sweep and how many windows it expired.
func (m *Metrics) ObserveSweep(at time.Time, expired int) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.lastSweep = at
	m.mu.Unlock()
	m.sweeperLastRun.Set(float64(at.Unix()))
	m.sweeperExpired.Add(float64(expired))
}

// SweeperLag reports the time since the last completed sweep, or zero if
// no sweep has run yet.
func (m *Metrics) SweeperLag(now time.Time) time.Duration {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	last := m.lastSweep
	m.mu.Unlock()
	if last.IsZero() {
		return 0
	}
	return now.Sub(last)
}
