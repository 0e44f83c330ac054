// Package metrics provides collection and reporting of miner metrics
package metrics

import (
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Collector holds all miner metrics. Every mutation is mirrored into the
// Prometheus collectors when the Collector was built with a registry.
type Collector struct {
	// Pool metrics
	PoolConnected     atomic.Bool
	ReconnectAttempts atomic.Uint64
	Reconnects        atomic.Uint64

	// Submission metrics
	SubmitsOK  atomic.Uint64
	SubmitsBad atomic.Uint64

	// Work metrics
	Hashes         atomic.Uint64
	Solutions      atomic.Uint64
	BestDifficulty atomic.Int64
	Paused         atomic.Bool

	// Challenge metrics
	ChallengeID       atomic.Int64
	LastChallengeUnix atomic.Int64

	mu      sync.Mutex
	hashers map[string]*HasherMetrics

	prom *PrometheusCollectors
}

// NewCollector creates a new metrics collector
func NewCollector() *Collector {
	return &Collector{hashers: make(map[string]*HasherMetrics)}
}

// WithPrometheus attaches Prometheus collectors mirrored on every update
func (m *Collector) WithPrometheus(p *PrometheusCollectors) *Collector {
	m.prom = p
	return m
}

// SetPoolConnected sets the pool connection status
func (m *Collector) SetPoolConnected(connected bool) {
	m.PoolConnected.Store(connected)
	if m.prom != nil {
		m.prom.PoolConnected.Set(boolGauge(connected))
	}
}

// IsPoolConnected returns the pool connection status
func (m *Collector) IsPoolConnected() bool {
	return m.PoolConnected.Load()
}

// IncrementReconnectAttempts counts a watchdog reconnect attempt
func (m *Collector) IncrementReconnectAttempts() {
	m.ReconnectAttempts.Add(1)
	if m.prom != nil {
		m.prom.ReconnectAttempts.Inc()
	}
}

// IncrementReconnects counts a completed reconnect
func (m *Collector) IncrementReconnects() {
	m.Reconnects.Add(1)
	if m.prom != nil {
		m.prom.Reconnects.Inc()
	}
}

// IncrementSubmitsOK increments the accepted submissions counter
func (m *Collector) IncrementSubmitsOK() {
	m.SubmitsOK.Add(1)
	if m.prom != nil {
		m.prom.SubmitsOK.Inc()
	}
}

// IncrementSubmitsBad increments the rejected submissions counter
func (m *Collector) IncrementSubmitsBad() {
	m.SubmitsBad.Add(1)
	if m.prom != nil {
		m.prom.SubmitsBad.Inc()
	}
}

// GetTotalSubmits returns accepted plus rejected submissions
func (m *Collector) GetTotalSubmits() uint64 {
	return m.SubmitsOK.Load() + m.SubmitsBad.Load()
}

// GetAcceptanceRate calculates the submission acceptance rate as percentage
func (m *Collector) GetAcceptanceRate() float64 {
	total := m.GetTotalSubmits()
	if total == 0 {
		return 0
	}
	return (float64(m.SubmitsOK.Load()) / float64(total)) * 100
}

// ObserveDifficulty records d if it beats the best seen so far
func (m *Collector) ObserveDifficulty(d int) {
	for {
		cur := m.BestDifficulty.Load()
		if int64(d) <= cur {
			return
		}
		if m.BestDifficulty.CompareAndSwap(cur, int64(d)) {
			if m.prom != nil {
				m.prom.BestDifficulty.Set(float64(d))
			}
			return
		}
	}
}

// SetPaused records whether mining is paused
func (m *Collector) SetPaused(paused bool) {
	m.Paused.Store(paused)
	if m.prom != nil {
		m.prom.Paused.Set(boolGauge(paused))
	}
}

// SetChallenge records the active challenge
func (m *Collector) SetChallenge(id int64, at time.Time) {
	m.ChallengeID.Store(id)
	m.LastChallengeUnix.Store(at.Unix())
	if m.prom != nil {
		m.prom.ChallengeID.Set(float64(id))
		m.prom.LastChallenge.Set(float64(at.Unix()))
	}
}

// GetLastChallenge returns when the last challenge arrived
func (m *Collector) GetLastChallenge() time.Time {
	return time.Unix(m.LastChallengeUnix.Load(), 0)
}

// RecordWork accounts one hashrate report from the hasher running on hardware
func (m *Collector) RecordWork(hardware string, nonces, solutions uint64, elapsed time.Duration, threads int) {
	m.Hashes.Add(nonces)
	m.Solutions.Add(solutions)

	h := m.hasher(hardware)
	h.Nonces.Add(nonces)
	h.Threads.Store(int64(threads))
	rate := 0.0
	if elapsed > 0 {
		rate = float64(nonces) / elapsed.Seconds()
	}
	h.hashrate.Store(math.Float64bits(rate))

	if m.prom != nil {
		m.prom.Hashes.WithLabelValues(hardware).Add(float64(nonces))
		m.prom.Solutions.WithLabelValues(hardware).Add(float64(solutions))
		m.prom.Hashrate.WithLabelValues(hardware).Set(rate)
		m.prom.Threads.WithLabelValues(hardware).Set(float64(threads))
	}
}

func (m *Collector) hasher(hardware string) *HasherMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.hashers[hardware]
	if !ok {
		h = NewHasherMetrics()
		m.hashers[hardware] = h
	}
	return h
}

// Hasher returns the metrics of one hardware kind, nil if it never reported
func (m *Collector) Hasher(hardware string) *HasherMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hashers[hardware]
}

// GetHashrate returns the combined hashes per second of every hasher
func (m *Collector) GetHashrate() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0.0
	for _, h := range m.hashers {
		total += h.GetHashrate()
	}
	return total
}

// Snapshot returns a snapshot of current metrics
func (m *Collector) Snapshot() Snapshot {
	s := Snapshot{
		PoolConnected:     m.IsPoolConnected(),
		ReconnectAttempts: m.ReconnectAttempts.Load(),
		Reconnects:        m.Reconnects.Load(),
		SubmitsOK:         m.SubmitsOK.Load(),
		SubmitsBad:        m.SubmitsBad.Load(),
		AcceptanceRate:    m.GetAcceptanceRate(),
		Hashes:            m.Hashes.Load(),
		Solutions:         m.Solutions.Load(),
		BestDifficulty:    m.BestDifficulty.Load(),
		Paused:            m.Paused.Load(),
		ChallengeID:       m.ChallengeID.Load(),
		LastChallenge:     m.GetLastChallenge(),
	}

	m.mu.Lock()
	names := make([]string, 0, len(m.hashers))
	for name := range m.hashers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		h := m.hashers[name]
		s.Hashrate += h.GetHashrate()
		s.Hashers = append(s.Hashers, HasherSnapshot{
			Hardware: name,
			Nonces:   h.Nonces.Load(),
			Threads:  h.Threads.Load(),
			Hashrate: h.GetHashrate(),
		})
	}
	m.mu.Unlock()
	return s
}

// Snapshot represents a point-in-time view of metrics
type Snapshot struct {
	PoolConnected     bool             `json:"pool_connected"`
	ReconnectAttempts uint64           `json:"reconnect_attempts"`
	Reconnects        uint64           `json:"reconnects"`
	SubmitsOK         uint64           `json:"submits_ok"`
	SubmitsBad        uint64           `json:"submits_bad"`
	AcceptanceRate    float64          `json:"acceptance_rate"`
	Hashes            uint64           `json:"hashes"`
	Solutions         uint64           `json:"solutions"`
	BestDifficulty    int64            `json:"best_difficulty"`
	Hashrate          float64          `json:"hashrate"`
	Paused            bool             `json:"paused"`
	ChallengeID       int64            `json:"challenge_id"`
	LastChallenge     time.Time        `json:"last_challenge"`
	Hashers           []HasherSnapshot `json:"hashers"`
}

// HasherSnapshot is the per-hardware part of a Snapshot
type HasherSnapshot struct {
	Hardware string  `json:"hardware"`
	Nonces   uint64  `json:"nonces"`
	Threads  int64   `json:"threads"`
	Hashrate float64 `json:"hashrate"`
}

// HasherMetrics holds per-hardware metrics
type HasherMetrics struct {
	Nonces   atomic.Uint64
	Threads  atomic.Int64
	hashrate atomic.Uint64
}

// NewHasherMetrics creates new hasher metrics
func NewHasherMetrics() *HasherMetrics {
	return &HasherMetrics{}
}

// GetHashrate returns the hashes per second of the last report
func (h *HasherMetrics) GetHashrate() float64 {
	return math.Float64frombits(h.hashrate.Load())
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
