// Package scheduler runs one hashing round: it partitions the nonce window
// across worker threads, hashes every sub-range in parallel on an exclusively
// held solver and folds the results into the challenge tracker.
package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/carlosrabelo/orion/internal/challenge"
	"github.com/carlosrabelo/orion/internal/nonce"
	"github.com/carlosrabelo/orion/internal/pow"
	"github.com/carlosrabelo/orion/internal/solver"
	"github.com/carlosrabelo/orion/pkg/logger"
)

// Strategy selects how much of the window one round covers
type Strategy int

const (
	// FixedBatch hashes [cursor, cursor+batch) per round
	FixedBatch Strategy = iota
	// FullRange hashes [cursor, end) in a single round
	FullRange
)

func (s Strategy) String() string {
	switch s {
	case FixedBatch:
		return "fixed-batch"
	case FullRange:
		return "full-range"
	default:
		return fmt.Sprintf("strategy(%d)", int(s))
	}
}

// DefaultChunk is the number of nonces a worker hashes between progress
// reports and continuation checks.
const DefaultChunk = 1024

// Hooks lets the caller observe and cut short a round
type Hooks struct {
	// Continue is polled between chunks; returning false stops the round early
	Continue func() bool
	// Progress receives the total nonces hashed so far in the round
	Progress func(total uint64)
}

// Round summarizes one scheduling round
type Round struct {
	Window    nonce.Range
	Threads   int
	Nonces    uint64
	Solutions uint64
	Elapsed   time.Duration
	Stopped   bool
	Errors    int
	Err       error
}

// Scheduler executes rounds for one hasher
type Scheduler struct {
	log      *logger.Logger
	solvers  *solver.Pool
	strategy Strategy
	chunk    uint64
	now      func() time.Time
}

// New creates a scheduler drawing working memory from solvers
func New(log *logger.Logger, solvers *solver.Pool, strategy Strategy) *Scheduler {
	return &Scheduler{
		log:      log,
		solvers:  solvers,
		strategy: strategy,
		chunk:    DefaultChunk,
		now:      time.Now,
	}
}

// Strategy returns the configured window strategy
func (s *Scheduler) Strategy() Strategy { return s.strategy }

// Window returns the nonces the next round covers for st
func (s *Scheduler) Window(st *challenge.State) nonce.Range {
	cur := st.CurrentNonce()
	end := st.EndNonce()
	if cur >= end {
		return nonce.Range{Start: cur, End: cur}
	}
	if s.strategy == FullRange {
		return nonce.Range{Start: cur, End: end}
	}
	n := st.BatchSize()
	if n > end-cur {
		n = end - cur
	}
	return nonce.Range{Start: cur, End: cur + n}
}

// Run executes one round against st using up to threads workers
func (s *Scheduler) Run(ctx context.Context, st *challenge.State, threads int, hooks Hooks) Round {
	window := s.Window(st)
	if threads > s.solvers.Size() {
		threads = s.solvers.Size()
	}
	if threads < 1 {
		threads = 1
	}
	r := Round{Window: window, Threads: threads}
	if window.Len() == 0 {
		return r
	}

	var (
		processed atomic.Uint64
		solutions atomic.Uint64
		stopped   atomic.Bool
		failures  atomic.Int32
	)

	start := s.now()
	var g errgroup.Group
	g.SetLimit(threads)
	for _, part := range nonce.Partition(window.Start, window.Len(), threads) {
		part := part
		g.Go(func() (err error) {
			defer func() {
				if p := recover(); p != nil {
					err = fmt.Errorf("worker panic on [%d, %d): %v\n%s", part.Start, part.End, p, debug.Stack())
				}
				if err != nil {
					failures.Add(1)
				}
			}()
			return s.hashRange(ctx, st, part, hooks, &processed, &solutions, &stopped)
		})
	}

	// errgroup keeps the first failure; the rest only count
	r.Err = g.Wait()
	r.Elapsed = s.now().Sub(start)
	r.Nonces = processed.Load()
	r.Solutions = solutions.Load()
	r.Stopped = stopped.Load()
	r.Errors = int(failures.Load())

	if r.Err != nil {
		s.log.Error("round [%d, %d) lost work in %d of %d workers: %v",
			window.Start, window.End, r.Errors, threads, r.Err)
	}
	return r
}

func (s *Scheduler) hashRange(ctx context.Context, st *challenge.State, part nonce.Range, hooks Hooks,
	processed, solutions *atomic.Uint64, stopped *atomic.Bool) error {

	sv, err := s.solvers.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire solver: %w", err)
	}
	defer s.solvers.Release(sv)

	c := st.Challenge()
	tracker := st.Tracker()

	for lo := part.Start; lo < part.End; {
		hi := lo + s.chunk
		if hi > part.End || hi < lo {
			hi = part.End
		}

		var found uint64
		for n := lo; n < hi; n++ {
			for _, cand := range sv.Solve(c, n) {
				tracker.Propose(pow.Difficulty(cand.Digest[:]), cand.Nonce, cand.Solution)
				found++
			}
		}
		if found > 0 {
			st.AddSolutions(found)
			solutions.Add(found)
		}
		total := processed.Add(hi - lo)
		if hooks.Progress != nil {
			hooks.Progress(total)
		}
		lo = hi

		if lo < part.End && hooks.Continue != nil && !hooks.Continue() {
			stopped.Store(true)
			return nil
		}
	}
	return nil
}
