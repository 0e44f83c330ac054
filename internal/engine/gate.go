package engine

import (
	"sync"
	"sync/atomic"
)

// gate is a resettable signal. While open, Wait returns a closed channel.
type gate struct {
	mu   sync.Mutex
	ch   chan struct{}
	open atomic.Bool
}

func newGate(open bool) *gate {
	g := &gate{ch: make(chan struct{})}
	if open {
		close(g.ch)
		g.open.Store(true)
	}
	return g
}

func (g *gate) Open() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.open.Load() {
		close(g.ch)
		g.open.Store(true)
	}
}

func (g *gate) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.open.Load() {
		g.ch = make(chan struct{})
		g.open.Store(false)
	}
}

func (g *gate) IsOpen() bool {
	return g.open.Load()
}

// Wait returns a channel closed once the gate opens
func (g *gate) Wait() <-chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.ch
}
