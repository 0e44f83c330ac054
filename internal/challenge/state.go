package challenge

import (
	"sync/atomic"
)

// State is the current mining assignment. Identity fields never change after
// construction; a new challenge produces a new State via Next.
type State struct {
	challenge Digest
	id        int64
	start     uint64
	end       uint64
	empty     bool

	cursor atomic.Uint64
	batch  atomic.Uint64

	best      *Tracker
	solutions *atomic.Uint64
}

// Empty returns the initial state installed before any challenge arrives
func Empty(batchSize uint64) *State {
	s := &State{
		empty:     true,
		best:      newTracker(0, Digest{}),
		solutions: new(atomic.Uint64),
	}
	s.batch.Store(batchSize)
	return s
}

// Next builds the successor state for a new challenge. The cursor restarts at
// start, the tracker is fresh, the batch size carries over and the solution
// counter is shared for the engine lifetime.
func (s *State) Next(id int64, c Digest, w Window) *State {
	n := &State{
		challenge: c,
		id:        id,
		start:     w.Start,
		end:       w.End,
		best:      newTracker(id, c),
		solutions: s.solutions,
	}
	if n.end < n.start {
		n.end = n.start
	}
	n.cursor.Store(n.start)
	n.batch.Store(s.batch.Load())
	return n
}

// IsEmpty reports whether no challenge was installed yet
func (s *State) IsEmpty() bool { return s.empty }

// Matches reports whether c is the installed challenge
func (s *State) Matches(c Digest) bool {
	return !s.empty && s.challenge == c
}

func (s *State) Challenge() Digest  { return s.challenge }
func (s *State) ID() int64          { return s.id }
func (s *State) StartNonce() uint64 { return s.start }
func (s *State) EndNonce() uint64   { return s.end }
func (s *State) Tracker() *Tracker  { return s.best }

// CurrentNonce returns the search cursor
func (s *State) CurrentNonce() uint64 { return s.cursor.Load() }

// Remaining returns the number of nonces left in the window
func (s *State) Remaining() uint64 {
	c := s.cursor.Load()
	if c >= s.end {
		return 0
	}
	return s.end - c
}

// Advance moves the cursor forward by n, clamped at the window end, and
// reports whether the window is exhausted.
func (s *State) Advance(n uint64) bool {
	for {
		c := s.cursor.Load()
		next := c + n
		if next < c || next > s.end {
			next = s.end
		}
		if s.cursor.CompareAndSwap(c, next) {
			return next >= s.end
		}
	}
}

// Exhausted reports whether the cursor reached the window end
func (s *State) Exhausted() bool {
	return s.cursor.Load() >= s.end
}

// BatchSize returns the current round size
func (s *State) BatchSize() uint64 { return s.batch.Load() }

// SetBatchSize updates the round size
func (s *State) SetBatchSize(n uint64) { s.batch.Store(n) }

// AddSolutions counts valid candidate solutions
func (s *State) AddSolutions(n uint64) { s.solutions.Add(n) }

// TotalSolutions returns the engine-lifetime solution count
func (s *State) TotalSolutions() uint64 { return s.solutions.Load() }

// BestDifficulty returns the best difficulty for this challenge
func (s *State) BestDifficulty() int { return s.best.Difficulty() }
