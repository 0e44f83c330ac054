package challenge

import (
	"math/rand"
	"sync"
	"testing"

	"github.com/carlosrabelo/orion/internal/pow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func digest(b byte) Digest {
	var d Digest
	for i := range d {
		d[i] = b
	}
	return d
}

func TestTrackerAcceptsOnlyStrictImprovements(t *testing.T) {
	tr := newTracker(1, digest(1))

	assert.True(t, tr.Propose(0, 10, pow.Solution{}))
	assert.False(t, tr.Propose(0, 11, pow.Solution{}))
	assert.True(t, tr.Propose(5, 12, pow.Solution{1}))
	assert.False(t, tr.Propose(5, 13, pow.Solution{2}))
	assert.False(t, tr.Propose(3, 14, pow.Solution{3}))

	best := tr.Best()
	assert.Equal(t, 5, best.Difficulty)
	assert.Equal(t, uint64(12), best.Nonce)
	assert.Equal(t, pow.Solution{1}, best.Solution)
	assert.Equal(t, int64(1), best.ChallengeID)
}

func TestTrackerConcurrentProposalsKeepMaximum(t *testing.T) {
	for round := 0; round < 20; round++ {
		tr := newTracker(int64(round), digest(byte(round)))
		const workers = 8
		const perWorker = 500

		var mu sync.Mutex
		max := 0
		var wg sync.WaitGroup
		for w := 0; w < workers; w++ {
			wg.Add(1)
			go func(seed int64) {
				defer wg.Done()
				rng := rand.New(rand.NewSource(seed))
				localMax := 0
				for i := 0; i < perWorker; i++ {
					d := rng.Intn(256)
					if d > localMax {
						localMax = d
					}
					tr.Propose(d, uint64(i), pow.Solution{uint16(d)})
				}
				mu.Lock()
				if localMax > max {
					max = localMax
				}
				mu.Unlock()
			}(int64(round*workers + w))
		}
		wg.Wait()

		best := tr.Best()
		require.Equal(t, max, best.Difficulty)
		require.Equal(t, uint16(max), best.Solution[0], "solution must belong to the best difficulty")
	}
}

func TestStateNextReplacesWholesale(t *testing.T) {
	s := Empty(64)
	assert.True(t, s.IsEmpty())
	assert.False(t, s.Matches(Digest{}))

	a := s.Next(7, digest(0xAA), Window{Start: 100, End: 1000})
	a.SetBatchSize(256)
	a.Advance(300)
	a.AddSolutions(42)
	a.Tracker().Propose(9, 5, pow.Solution{})

	b := a.Next(8, digest(0xBB), Window{Start: 2000, End: 5000})
	assert.Equal(t, int64(8), b.ID())
	assert.Equal(t, uint64(2000), b.CurrentNonce())
	assert.Equal(t, uint64(2000), b.StartNonce())
	assert.Equal(t, uint64(5000), b.EndNonce())
	assert.Equal(t, 0, b.BestDifficulty())
	assert.Equal(t, uint64(42), b.TotalSolutions())
	assert.Equal(t, uint64(256), b.BatchSize())
	assert.True(t, b.Matches(digest(0xBB)))
	assert.False(t, b.Matches(digest(0xAA)))

	// predecessor is untouched
	assert.Equal(t, uint64(400), a.CurrentNonce())
	assert.Equal(t, 9, a.BestDifficulty())
}

func TestStateAdvanceClampsAtEnd(t *testing.T) {
	s := Empty(64).Next(1, digest(1), Window{Start: 10, End: 100})

	assert.False(t, s.Advance(50))
	assert.Equal(t, uint64(60), s.CurrentNonce())
	assert.Equal(t, uint64(40), s.Remaining())

	assert.True(t, s.Advance(64))
	assert.Equal(t, uint64(100), s.CurrentNonce())
	assert.True(t, s.Exhausted())
	assert.Equal(t, uint64(0), s.Remaining())

	// overflow is clamped too
	big := Empty(64).Next(2, digest(2), Window{Start: 0, End: ^uint64(0)})
	big.Advance(^uint64(0) - 1)
	assert.True(t, big.Advance(10))
	assert.Equal(t, ^uint64(0), big.CurrentNonce())
}

func TestAssignmentWindows(t *testing.T) {
	a := Assignment{StartNonce: 0, EndNonce: 1000, CPUNonces: 330}
	assert.Equal(t, Window{Start: 0, End: 330}, a.CPUWindow())
	assert.Equal(t, Window{Start: 331, End: 1000}, a.GPUWindow())

	full := Assignment{StartNonce: 50, EndNonce: 150}
	assert.Equal(t, Window{Start: 50, End: 150}, full.CPUWindow())
	assert.Equal(t, uint64(0), full.GPUWindow().Len())
}
