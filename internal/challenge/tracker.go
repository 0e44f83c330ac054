package challenge

import (
	"sync"

	"github.com/carlosrabelo/orion/internal/pow"
)

// Tracker records the best difficulty found for one challenge. It is only
// ever created together with its State, so resetting means replacing the State.
type Tracker struct {
	mu   sync.Mutex
	best Result
	set  bool
}

func newTracker(id int64, c Digest) *Tracker {
	return &Tracker{best: Result{ChallengeID: id, Challenge: c}}
}

// Propose records the candidate iff it is strictly better than the current best
func (t *Tracker) Propose(difficulty int, nonce uint64, sol pow.Solution) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.set && difficulty <= t.best.Difficulty {
		return false
	}
	t.best.Difficulty = difficulty
	t.best.Nonce = nonce
	t.best.Solution = sol
	t.set = true
	return true
}

// Best returns a copy of the best result so far
func (t *Tracker) Best() Result {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.best
}

// Difficulty returns the best difficulty so far
func (t *Tracker) Difficulty() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.best.Difficulty
}
