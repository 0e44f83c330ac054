// Package watchdog detects a pool that stopped sending challenges and drives
// a disconnect, connect, resume cycle until updates flow again.
package watchdog

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/carlosrabelo/orion/internal/metrics"
	"github.com/carlosrabelo/orion/pkg/logger"
)

const (
	// MinTimeout is the floor applied to the configured staleness timeout
	MinTimeout = 30 * time.Second
	// DefaultInterval is how often staleness is checked
	DefaultInterval = 5 * time.Second
)

// Pool is the connection the watchdog recycles
type Pool interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
}

// Target is the hasher paused while the pool is recycled
type Target interface {
	PauseMining()
	ResumeMining()
}

// Config holds watchdog settings
type Config struct {
	Timeout  time.Duration
	Interval time.Duration
}

// Watchdog tracks the last challenge update and reconnects a stale pool
type Watchdog struct {
	log    *logger.Logger
	pool   Pool
	target Target
	mx     *metrics.Collector

	timeout  time.Duration
	interval time.Duration
	now      func() time.Time

	last atomic.Int64

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	// serializes cycles so Check from a test never overlaps a tick
	checkMu sync.Mutex
}

// EffectiveTimeout applies the 30s floor
func EffectiveTimeout(d time.Duration) time.Duration {
	if d < MinTimeout {
		return MinTimeout
	}
	return d
}

// New creates a watchdog. mx may be nil.
func New(log *logger.Logger, pool Pool, target Target, mx *metrics.Collector, cfg Config) *Watchdog {
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	w := &Watchdog{
		log:      log,
		pool:     pool,
		target:   target,
		mx:       mx,
		timeout:  EffectiveTimeout(cfg.Timeout),
		interval: interval,
		now:      time.Now,
	}
	w.Touch()
	return w
}

// Timeout returns the effective staleness timeout
func (w *Watchdog) Timeout() time.Duration { return w.timeout }

// Touch records that a challenge update was received
func (w *Watchdog) Touch() {
	w.last.Store(w.now().UnixNano())
}

// LastUpdate returns when Touch was last called
func (w *Watchdog) LastUpdate() time.Time {
	return time.Unix(0, w.last.Load())
}

// Stale reports whether the timeout elapsed since the last update
func (w *Watchdog) Stale() bool {
	return w.now().Sub(w.LastUpdate()) > w.timeout
}

// Start begins monitoring. A running cycle is cancelled and joined first so
// two cycles never overlap.
func (w *Watchdog) Start(ctx context.Context) {
	w.Stop()

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	w.mu.Lock()
	w.cancel = cancel
	w.done = done
	w.mu.Unlock()

	go w.run(ctx, done)
}

// Stop cancels monitoring and waits for the cycle to exit
func (w *Watchdog) Stop() {
	w.mu.Lock()
	cancel, done := w.cancel, w.done
	w.cancel, w.done = nil, nil
	w.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (w *Watchdog) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Check(ctx)
		}
	}
}

// Check runs one staleness tick and reports whether a reconnect was attempted.
// Mining is paused before the attempt and resumed only when both the
// disconnect and the connect succeed; failures are retried on the next tick.
func (w *Watchdog) Check(ctx context.Context) (attempted bool) {
	w.checkMu.Lock()
	defer w.checkMu.Unlock()
	defer func() {
		if p := recover(); p != nil {
			w.log.Error("watchdog reconnect panicked: %v", p)
			attempted = true
		}
	}()

	if ctx.Err() != nil || !w.Stale() {
		return false
	}

	w.log.Warn("no challenge received for %s, forcing reconnect", w.now().Sub(w.LastUpdate()).Round(time.Second))
	if w.mx != nil {
		w.mx.IncrementReconnectAttempts()
	}
	w.target.PauseMining()

	if err := w.pool.Disconnect(ctx); err != nil {
		w.log.Warn("watchdog disconnect failed: %v", err)
		return true
	}
	w.log.Warn("disconnected")

	if err := w.pool.Connect(ctx); err != nil {
		w.log.Warn("watchdog reconnect failed: %v", err)
		return true
	}
	w.log.Warn("reconnected")
	if w.mx != nil {
		w.mx.IncrementReconnects()
	}
	w.target.ResumeMining()
	return true
}
