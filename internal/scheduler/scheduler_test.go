package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carlosrabelo/orion/internal/challenge"
	"github.com/carlosrabelo/orion/internal/pow"
	"github.com/carlosrabelo/orion/internal/solver"
	"github.com/carlosrabelo/orion/pkg/logger"
)

func newState(start, end, batch uint64) *challenge.State {
	return challenge.Empty(batch).Next(7, challenge.Digest{0xAB, 0xCD}, challenge.Window{Start: start, End: end})
}

func newScheduler(t *testing.T, size int, strategy Strategy) *Scheduler {
	t.Helper()
	p, err := solver.NewPool(size)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Drain() })
	return New(logger.Nop(), p, strategy)
}

func TestWindowByStrategy(t *testing.T) {
	st := newState(100, 1000, 64)

	fixed := newScheduler(t, 1, FixedBatch)
	w := fixed.Window(st)
	assert.Equal(t, uint64(100), w.Start)
	assert.Equal(t, uint64(164), w.End)

	full := newScheduler(t, 1, FullRange)
	w = full.Window(st)
	assert.Equal(t, uint64(100), w.Start)
	assert.Equal(t, uint64(1000), w.End)

	// a batch larger than what is left is clipped to the window end
	st.Advance(900)
	w = fixed.Window(st)
	assert.Equal(t, uint64(1000), w.Start)
	assert.Zero(t, w.Len())
}

func TestRunFixedBatch(t *testing.T) {
	s := newScheduler(t, 4, FixedBatch)
	st := newState(0, 1_000_000, 256)

	r := s.Run(context.Background(), st, 4, Hooks{})
	require.NoError(t, r.Err)
	assert.Equal(t, uint64(256), r.Nonces)
	assert.Equal(t, 4, r.Threads)
	assert.False(t, r.Stopped)
	assert.Equal(t, r.Solutions, st.TotalSolutions())
	assert.Greater(t, r.Solutions, uint64(0))

	// the scheduler does not move the cursor
	assert.Equal(t, uint64(0), st.CurrentNonce())
}

func TestRunFindsBestOfSerialScan(t *testing.T) {
	s := newScheduler(t, 3, FixedBatch)
	st := newState(500, 2000, 1500)

	r := s.Run(context.Background(), st, 3, Hooks{})
	require.NoError(t, r.Err)

	ref, err := solver.New(99)
	require.NoError(t, err)
	defer ref.Close()

	best := -1
	var count uint64
	for n := uint64(500); n < 2000; n++ {
		for _, c := range ref.Solve(st.Challenge(), n) {
			if d := pow.Difficulty(c.Digest[:]); d > best {
				best = d
			}
			count++
		}
	}
	assert.Equal(t, best, st.BestDifficulty())
	assert.Equal(t, count, r.Solutions)
}

func TestThreadsClampedToPool(t *testing.T) {
	s := newScheduler(t, 2, FixedBatch)
	r := s.Run(context.Background(), newState(0, 100, 100), 16, Hooks{})
	assert.Equal(t, 2, r.Threads)
	assert.Equal(t, uint64(100), r.Nonces)

	r = s.Run(context.Background(), newState(0, 100, 100), 0, Hooks{})
	assert.Equal(t, 1, r.Threads)
}

func TestEmptyWindowIsNoop(t *testing.T) {
	s := newScheduler(t, 2, FullRange)
	st := newState(10, 10, 64)
	r := s.Run(context.Background(), st, 2, Hooks{})
	assert.Zero(t, r.Nonces)
	assert.NoError(t, r.Err)
}

func TestFullRangeStopsCooperatively(t *testing.T) {
	s := newScheduler(t, 2, FullRange)
	s.chunk = 100
	st := newState(0, 1_000_000, 64)

	var checks atomic.Int32
	r := s.Run(context.Background(), st, 2, Hooks{
		Continue: func() bool { return checks.Add(1) < 4 },
	})
	require.NoError(t, r.Err)
	assert.True(t, r.Stopped)
	assert.Less(t, r.Nonces, uint64(1_000_000))
	assert.Zero(t, r.Nonces%100)
}

func TestProgressIsMonotonic(t *testing.T) {
	s := newScheduler(t, 2, FullRange)
	s.chunk = 50
	st := newState(0, 1000, 64)

	var mu sync.Mutex
	var seen []uint64
	r := s.Run(context.Background(), st, 2, Hooks{
		Progress: func(total uint64) {
			mu.Lock()
			seen = append(seen, total)
			mu.Unlock()
		},
	})
	require.NoError(t, r.Err)
	assert.Equal(t, uint64(1000), r.Nonces)
	require.NotEmpty(t, seen)

	max := uint64(0)
	for _, v := range seen {
		if v > max {
			max = v
		}
	}
	assert.Equal(t, uint64(1000), max)
}

func TestWorkerPanicBecomesError(t *testing.T) {
	s := newScheduler(t, 4, FixedBatch)
	st := newState(0, 4000, 4000)
	s.chunk = 100

	var calls atomic.Int32
	r := s.Run(context.Background(), st, 4, Hooks{
		Progress: func(uint64) {
			if calls.Add(1) == 1 {
				panic("boom")
			}
		},
	})
	require.Error(t, r.Err)
	assert.Contains(t, r.Err.Error(), "boom")
	assert.Equal(t, 1, r.Errors)
	// other sub-ranges still complete
	assert.GreaterOrEqual(t, r.Nonces, uint64(3000))
}

func TestCanceledContextLosesWork(t *testing.T) {
	p, err := solver.NewPool(1)
	require.NoError(t, err)
	defer p.Drain()
	s := New(logger.Nop(), p, FixedBatch)

	held, err := p.Acquire(context.Background())
	require.NoError(t, err)
	defer p.Release(held)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := s.Run(ctx, newState(0, 100, 100), 1, Hooks{})
	assert.ErrorIs(t, r.Err, context.Canceled)
	assert.Zero(t, r.Nonces)
}
