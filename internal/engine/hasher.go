// Package engine drives hashing for one device: it owns the worker that runs
// scheduling rounds, swaps challenges in without tearing a round, and reports
// difficulty improvements and hashrate snapshots.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/carlosrabelo/orion/internal/challenge"
	"github.com/carlosrabelo/orion/internal/hw"
	"github.com/carlosrabelo/orion/internal/scheduler"
)

// Hardware identifies the device a hasher runs on
type Hardware string

const (
	CPU Hardware = "cpu"
	GPU Hardware = "gpu"
)

// Pool is the pool collaborator as seen by a hasher
type Pool interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	// ReportDifficulty submits an improved result; it must not block for long
	ReportDifficulty(r challenge.Result)
	// OnChallenge registers fn for new assignments and returns its unsubscribe
	OnChallenge(fn func(challenge.Assignment)) (unsubscribe func())
}

// Platform reports the host capabilities a hasher depends on
type Platform interface {
	Parallelism() int
	Features() hw.Features
}

// Settings configures a hasher at Initialize
type Settings struct {
	// Threads is the number of hashing threads; zero uses every logical CPU
	Threads int
	// MinimumHashTime is the round time below which fixed batches double
	MinimumHashTime time.Duration
	// Timeout is the watchdog staleness timeout
	Timeout time.Duration
	// WatchdogInterval overrides the watchdog tick
	WatchdogInterval time.Duration
}

// HashrateSnapshot summarizes work done since the previous snapshot
type HashrateSnapshot struct {
	ExecutionTime      time.Duration
	Nonces             uint64
	Solutions          uint64
	ChallengeSolutions uint64
	BestDifficulty     int
	TotalTime          time.Duration
	CurrentThreads     int
	ChallengeID        int64
	Hardware           Hardware
}

// Hashrate returns nonces per second over the snapshot
func (s HashrateSnapshot) Hashrate() float64 {
	if s.ExecutionTime <= 0 {
		return 0
	}
	return float64(s.Nonces) / s.ExecutionTime.Seconds()
}

func (s HashrateSnapshot) String() string {
	return fmt.Sprintf("%s challenge=%d threads=%d nonces=%d in %s (%.0f H/s) solutions=%d best=%d",
		s.Hardware, s.ChallengeID, s.CurrentThreads, s.Nonces, s.ExecutionTime.Round(time.Millisecond),
		s.Hashrate(), s.Solutions, s.BestDifficulty)
}

// Hasher is the lifecycle every device implementation exposes
type Hasher interface {
	Name() string
	Description() string
	Hardware() Hardware
	Strategy() scheduler.Strategy
	IsSupported() bool
	Initialized() bool

	Initialize(pool Pool, s Settings) error
	NewChallenge(a challenge.Assignment) bool
	PauseMining()
	ResumeMining()
	IsMiningPaused() bool
	SetThreads(n int)
	Threads() int
	Stop() error

	OnHashrateUpdate(fn func(HashrateSnapshot)) (unsubscribe func())
}
