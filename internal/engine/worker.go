package engine

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/carlosrabelo/orion/internal/challenge"
	"github.com/carlosrabelo/orion/internal/scheduler"
)

// meter accumulates work between hashrate snapshots
type meter struct {
	mu            sync.Mutex
	limiter       *rate.Limiter
	nonces        uint64
	busy          time.Duration
	lastSolutions uint64
}

func (e *Engine) work(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer e.executing.Store(false)

	for e.running.Load() {
		e.executing.Store(false)
		if !e.awaitGates(ctx.Done()) {
			return
		}

		e.executing.Store(true)
		// a swap may have closed the gate between the wait and the flag
		if !e.ready.IsOpen() {
			continue
		}
		e.safeRound(ctx)
	}
}

// awaitGates blocks until both gates are open. It returns false once the
// engine stops.
func (e *Engine) awaitGates(quit <-chan struct{}) bool {
	for {
		if !e.running.Load() {
			return false
		}
		var wait <-chan struct{}
		switch {
		case !e.ready.IsOpen():
			wait = e.ready.Wait()
		case !e.active.IsOpen():
			wait = e.active.Wait()
		default:
			return true
		}

		t := time.NewTimer(gatePoll)
		select {
		case <-quit:
			t.Stop()
			return false
		case <-wait:
		case <-t.C:
		}
		t.Stop()
	}
}

func (e *Engine) safeRound(ctx context.Context) {
	defer func() {
		if p := recover(); p != nil {
			e.log.Error("unknown panic in %s hasher loop: %v\n%s", e.variant.Name, p, debug.Stack())
		}
	}()
	e.round(ctx)
}

// round runs one scheduling round against the installed state and does the
// bookkeeping that follows it
func (e *Engine) round(ctx context.Context) {
	st := e.state.Load()
	if e.roundHook != nil {
		e.roundHook(st, true)
		defer e.roundHook(st, false)
	}
	// the scheduler never runs more units than there are solvers
	threads := e.Threads()
	if n := e.solvers.Size(); threads > n {
		threads = n
	}
	strategy := e.sched.Strategy()
	started := e.now()

	var hooks scheduler.Hooks
	var progress *progressTracker
	if strategy == scheduler.FullRange {
		progress = &progressTracker{at: started}
		hooks.Continue = func() bool {
			return e.running.Load() && e.ready.IsOpen() && e.active.IsOpen()
		}
		hooks.Progress = func(total uint64) {
			if nonces, busy := progress.advance(total, e.now()); nonces > 0 {
				e.meter.add(nonces, busy)
			}
			e.reportImprovement(st)
			e.emit(st, threads)
		}
	}

	r := e.sched.Run(ctx, st, threads, hooks)

	// hashes for a challenge being replaced are worthless
	if !e.ready.IsOpen() || !e.running.Load() {
		return
	}

	switch {
	case progress != nil:
		if nonces, busy := progress.advance(r.Nonces, e.now()); nonces > 0 {
			e.meter.add(nonces, busy)
		}
	case r.Window.Len() > 0:
		next := e.batch.Next(st.BatchSize(), r.Elapsed)
		if next != st.BatchSize() {
			e.log.Debug("batch size %d -> %d after %s", st.BatchSize(), next, r.Elapsed.Round(time.Millisecond))
		}
		st.SetBatchSize(next)
		e.meter.add(r.Nonces, r.Elapsed)
	}

	// a fixed batch advances past its whole window even when a worker failed;
	// an interrupted full range is hashed again from the cursor
	advance := r.Window.Len()
	if r.Stopped {
		advance = 0
	}
	exhausted := st.Advance(advance)

	e.reportImprovement(st)

	if exhausted {
		e.log.Warn("ran through all nonces set for the %s. Total: %d nonces",
			e.variant.Hardware, st.EndNonce()-st.StartNonce())
		e.PauseMining()
	}

	e.emit(st, threads)
}

// reportImprovement sends the tracker's best to the pool when it beats the
// last report for this state and mining is not paused
func (e *Engine) reportImprovement(st *challenge.State) {
	e.reportMu.Lock()
	defer e.reportMu.Unlock()

	if e.reportedFor != st {
		e.reportedFor = st
		e.reportedDiff = 0
	}
	best := st.Tracker().Best()
	if best.Difficulty <= e.reportedDiff {
		return
	}
	e.reportedDiff = best.Difficulty
	if e.mx != nil {
		e.mx.ObserveDifficulty(best.Difficulty)
	}
	if e.IsMiningPaused() || e.pool == nil {
		return
	}
	e.log.Debug("difficulty %d found for challenge %d at nonce %d", best.Difficulty, best.ChallengeID, best.Nonce)
	e.pool.ReportDifficulty(best)
}

func (m *meter) add(nonces uint64, busy time.Duration) {
	m.mu.Lock()
	m.nonces += nonces
	m.busy += busy
	m.mu.Unlock()
}

// emit publishes a snapshot of the accumulated work, at most once per second
func (e *Engine) emit(st *challenge.State, threads int) {
	now := e.now()

	e.meter.mu.Lock()
	if !e.meter.limiter.AllowN(now, 1) {
		e.meter.mu.Unlock()
		return
	}
	total := st.TotalSolutions()
	snap := HashrateSnapshot{
		ExecutionTime:      e.meter.busy,
		Nonces:             e.meter.nonces,
		Solutions:          total - e.meter.lastSolutions,
		ChallengeSolutions: total,
		BestDifficulty:     st.BestDifficulty(),
		TotalTime:          e.CurrentChallengeTime(),
		CurrentThreads:     threads,
		ChallengeID:        st.ID(),
		Hardware:           e.variant.Hardware,
	}
	e.meter.nonces = 0
	e.meter.busy = 0
	e.meter.lastSolutions = total
	e.meter.mu.Unlock()

	e.notify(snap)
}

func (e *Engine) notify(snap HashrateSnapshot) {
	e.obsMu.Lock()
	fns := make([]func(HashrateSnapshot), 0, len(e.observers))
	for _, fn := range e.observers {
		fns = append(fns, fn)
	}
	e.obsMu.Unlock()

	e.notifyMu.Lock()
	defer e.notifyMu.Unlock()
	for _, fn := range fns {
		func() {
			defer func() {
				if p := recover(); p != nil {
					e.log.Error("hashrate observer panicked: %v", p)
				}
			}()
			fn(snap)
		}()
	}
}

// progressTracker turns the running totals of a full-range round into deltas
type progressTracker struct {
	mu    sync.Mutex
	total uint64
	at    time.Time
}

func (p *progressTracker) advance(total uint64, now time.Time) (uint64, time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if total <= p.total {
		return 0, 0
	}
	n := total - p.total
	busy := now.Sub(p.at)
	p.total = total
	p.at = now
	return n, busy
}
