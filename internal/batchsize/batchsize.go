// Package batchsize implements adaptive batch sizing for fixed-batch hashers.
// Each round is timed; short rounds double the batch, long rounds halve it.
package batchsize

import (
	"sync"
	"time"
)

const (
	// MaxRoundTime is the longest a round may take before the batch shrinks
	MaxRoundTime = 10 * time.Second
	// minTarget and maxTarget bound the configured minimum round time
	minTarget = 500 * time.Millisecond
	maxTarget = MaxRoundTime
)

// Config holds batch controller configuration
type Config struct {
	// Min is the batch size floor
	Min uint64
	// MinRoundTime is the round duration below which the batch doubles
	MinRoundTime time.Duration
}

// Adjustment describes one controller decision
type Adjustment struct {
	Previous uint64
	Next     uint64
	Elapsed  time.Duration
}

// Changed reports whether the batch size moved
func (a Adjustment) Changed() bool {
	return a.Previous != a.Next
}

// Controller decides the batch size of the next round
type Controller struct {
	mu          sync.Mutex
	cfg         Config
	adjustments uint64
	last        Adjustment
}

// NewController creates a controller; MinRoundTime is clamped to [0.5s, 10s]
func NewController(cfg Config) *Controller {
	if cfg.Min == 0 {
		cfg.Min = 1
	}
	cfg.MinRoundTime = ClampTarget(cfg.MinRoundTime)
	return &Controller{cfg: cfg}
}

// ClampTarget bounds a configured minimum round time
func ClampTarget(d time.Duration) time.Duration {
	if d < minTarget {
		return minTarget
	}
	if d > maxTarget {
		return maxTarget
	}
	return d
}

// Next returns the batch size for the round after one of size current that
// took elapsed.
func (c *Controller) Next(current uint64, elapsed time.Duration) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	next := current
	if next < c.cfg.Min {
		next = c.cfg.Min
	}

	switch {
	case elapsed < c.cfg.MinRoundTime:
		if next <= ^uint64(0)/2 {
			next *= 2
		}
	case elapsed > MaxRoundTime:
		next /= 2
		if next < c.cfg.Min {
			next = c.cfg.Min
		}
	}

	c.last = Adjustment{Previous: current, Next: next, Elapsed: elapsed}
	if c.last.Changed() {
		c.adjustments++
	}
	return next
}

// Min returns the configured floor
func (c *Controller) Min() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg.Min
}

// SetMin changes the floor, used when the thread count changes
func (c *Controller) SetMin(min uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if min == 0 {
		min = 1
	}
	c.cfg.Min = min
}

// GetStats returns controller statistics
func (c *Controller) GetStats() map[string]interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return map[string]interface{}{
		"min_batch_size":  c.cfg.Min,
		"min_round_time":  c.cfg.MinRoundTime.String(),
		"max_round_time":  MaxRoundTime.String(),
		"adjustments":     c.adjustments,
		"last_batch_size": c.last.Next,
		"last_round_time": c.last.Elapsed.String(),
	}
}
