package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/carlosrabelo/orion/internal/batchsize"
	"github.com/carlosrabelo/orion/internal/challenge"
	"github.com/carlosrabelo/orion/internal/metrics"
	"github.com/carlosrabelo/orion/internal/nonce"
	"github.com/carlosrabelo/orion/internal/scheduler"
	"github.com/carlosrabelo/orion/internal/solver"
	"github.com/carlosrabelo/orion/internal/watchdog"
	apperrors "github.com/carlosrabelo/orion/pkg/errors"
	"github.com/carlosrabelo/orion/pkg/logger"
)

const (
	// gatePoll bounds how long the worker blocks on a closed gate before
	// rechecking the running flag
	gatePoll = 500 * time.Millisecond
	// swapPoll is the sleep between checks for the in-flight round during a
	// challenge swap
	swapPoll = 50 * time.Millisecond
	// snapshotEvery is the minimum spacing of hashrate snapshots
	snapshotEvery = time.Second
)

// Engine is the Hasher shared by every CPU variant. The variant selects the
// window strategy and the instruction-set requirement.
type Engine struct {
	variant  Variant
	log      *logger.Logger
	platform Platform
	mx       *metrics.Collector
	now      func() time.Time

	// lifecycle, guarded by mu
	mu          sync.Mutex
	initialized bool
	stopped     bool
	pool        Pool
	unsubscribe func()
	cancel      context.CancelFunc
	workerDone  chan struct{}
	dispDone    chan struct{}
	wd          *watchdog.Watchdog
	solvers     *solver.Pool
	sched       *scheduler.Scheduler
	batch       *batchsize.Controller

	running   atomic.Bool
	executing atomic.Bool
	threads   atomic.Int64

	// ready is cleared during a challenge swap, active while paused
	ready  *gate
	active *gate

	swapMu         sync.Mutex
	state          atomic.Pointer[challenge.State]
	challengeStart atomic.Int64

	mailbox chan challenge.Assignment

	// roundHook observes round entry and exit in tests
	roundHook func(st *challenge.State, begin bool)

	reportMu     sync.Mutex
	reportedFor  *challenge.State
	reportedDiff int

	meter     meter
	obsMu     sync.Mutex
	observers map[int]func(HashrateSnapshot)
	nextObs   int
	notifyMu  sync.Mutex
}

// New creates an engine for the variant. mx may be nil.
func New(v Variant, log *logger.Logger, p Platform, mx *metrics.Collector) *Engine {
	e := &Engine{
		variant:   v,
		log:       log.With("hasher", v.Name),
		platform:  p,
		mx:        mx,
		now:       time.Now,
		ready:     newGate(false),
		active:    newGate(true),
		mailbox:   make(chan challenge.Assignment, 1),
		observers: make(map[int]func(HashrateSnapshot)),
	}
	e.meter.limiter = rate.NewLimiter(rate.Every(snapshotEvery), 1)
	e.state.Store(challenge.Empty(nonce.BaseBatchSize))
	e.threads.Store(int64(p.Parallelism()))
	return e
}

func (e *Engine) Name() string                 { return e.variant.Name }
func (e *Engine) Description() string          { return e.variant.Description }
func (e *Engine) Hardware() Hardware           { return e.variant.Hardware }
func (e *Engine) Strategy() scheduler.Strategy { return e.variant.Strategy }

// IsSupported reports whether the host has the instruction sets the variant needs
func (e *Engine) IsSupported() bool {
	return e.variant.Supported(e.platform.Features())
}

// Initialized reports whether the worker is running
func (e *Engine) Initialized() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.initialized && !e.stopped
}

// State returns the installed challenge state
func (e *Engine) State() *challenge.State {
	return e.state.Load()
}

// CurrentChallengeTime returns how long the current challenge has been mined
func (e *Engine) CurrentChallengeTime() time.Duration {
	start := e.challengeStart.Load()
	if start == 0 {
		return 0
	}
	return e.now().Sub(time.Unix(0, start))
}

// Initialize allocates the solver pool, starts the worker, the challenge
// dispatcher and the watchdog, and subscribes to pool challenges. A nil pool
// runs the engine detached, fed only through NewChallenge.
func (e *Engine) Initialize(pool Pool, s Settings) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch {
	case e.stopped:
		return apperrors.ErrStopped
	case e.initialized:
		return apperrors.ErrAlreadyInitialized
	case !e.IsSupported():
		return apperrors.ErrUnsupported
	}

	parallelism := e.platform.Parallelism()
	if parallelism < 1 {
		parallelism = 1
	}
	threads := s.Threads
	if threads <= 0 {
		threads = parallelism
	}

	// sized to the hardware so SetThreads never reallocates
	solvers, err := solver.NewPool(parallelism)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeConfig, "allocate solvers", err)
	}
	e.solvers = solvers
	e.sched = scheduler.New(e.log, solvers, e.variant.Strategy)

	minBatch := nonce.MinimumBatchSize(threads)
	e.batch = batchsize.NewController(batchsize.Config{Min: minBatch, MinRoundTime: s.MinimumHashTime})
	if st := e.state.Load(); st.BatchSize() < minBatch {
		st.SetBatchSize(minBatch)
	}
	e.threads.Store(int64(threads))

	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.pool = pool
	e.running.Store(true)

	e.workerDone = make(chan struct{})
	go e.work(ctx, e.workerDone)

	e.dispDone = make(chan struct{})
	go e.dispatch(ctx, e.dispDone)

	if pool != nil {
		e.wd = watchdog.New(e.log.With("component", "watchdog"), pool, e, e.mx, watchdog.Config{
			Timeout:  s.Timeout,
			Interval: s.WatchdogInterval,
		})
		e.wd.Start(ctx)
		e.unsubscribe = pool.OnChallenge(e.enqueue)
	}

	e.initialized = true
	e.log.Info("initialized %s hasher: %d threads, %d solvers, %s rounds",
		e.variant.Hardware, threads, parallelism, e.variant.Strategy)
	return nil
}

// enqueue hands an assignment to the dispatcher without blocking. Only the
// latest pending assignment is kept.
func (e *Engine) enqueue(a challenge.Assignment) {
	for {
		select {
		case e.mailbox <- a:
			return
		default:
		}
		select {
		case old := <-e.mailbox:
			e.log.Debug("challenge %d superseded by %d before install", old.ID, a.ID)
		default:
		}
	}
}

func (e *Engine) dispatch(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case a := <-e.mailbox:
			e.NewChallenge(a)
		}
	}
}

// NewChallenge installs a new assignment. An assignment carrying the
// installed challenge bytes is ignored, even when its id or window differ.
// Otherwise no new round starts until the swap completes, the caller waits
// for the in-flight round, and the state is replaced wholesale. Must not be
// called from a hashrate observer.
func (e *Engine) NewChallenge(a challenge.Assignment) bool {
	e.swapMu.Lock()
	defer e.swapMu.Unlock()

	e.mu.Lock()
	stopped := e.stopped
	e.mu.Unlock()
	if stopped {
		return false
	}

	cur := e.state.Load()
	if cur.Matches(a.Challenge) {
		return true
	}

	e.ready.Close()
	for e.executing.Load() {
		time.Sleep(swapPoll)
	}

	w := a.CPUWindow()
	if e.variant.Hardware == GPU {
		w = a.GPUWindow()
	}
	e.state.Store(cur.Next(a.ID, a.Challenge, w))
	now := e.now()
	e.challengeStart.Store(now.UnixNano())

	e.ready.Open()
	e.active.Open()

	e.mu.Lock()
	wd := e.wd
	e.mu.Unlock()
	if wd != nil {
		wd.Touch()
	}
	if e.mx != nil {
		e.mx.SetChallenge(a.ID, now)
	}

	e.log.Debug("new challenge %d, range %d - %d", a.ID, w.Start, w.End)
	return true
}

// PauseMining stops new rounds from starting and suppresses pool reports
func (e *Engine) PauseMining() {
	e.active.Close()
}

// ResumeMining lets rounds start again
func (e *Engine) ResumeMining() {
	e.active.Open()
}

// IsMiningPaused reports whether mining is paused
func (e *Engine) IsMiningPaused() bool {
	return !e.active.IsOpen()
}

// SetThreads changes the thread count used from the next round on
func (e *Engine) SetThreads(n int) {
	if n <= 0 {
		n = e.platform.Parallelism()
	}
	e.threads.Store(int64(n))

	e.mu.Lock()
	batch := e.batch
	e.mu.Unlock()
	if batch != nil {
		min := nonce.MinimumBatchSize(n)
		batch.SetMin(min)
		if st := e.state.Load(); st.BatchSize() < min {
			st.SetBatchSize(min)
		}
	}
}

// Threads returns the configured thread count
func (e *Engine) Threads() int {
	return int(e.threads.Load())
}

// BatchStats reports the batch controller state and the current batch size,
// nil before Initialize
func (e *Engine) BatchStats() map[string]interface{} {
	e.mu.Lock()
	batch := e.batch
	e.mu.Unlock()
	if batch == nil {
		return nil
	}
	stats := batch.GetStats()
	stats["batch_size"] = e.State().BatchSize()
	return stats
}

// OnHashrateUpdate registers fn for hashrate snapshots and returns its unsubscribe
func (e *Engine) OnHashrateUpdate(fn func(HashrateSnapshot)) func() {
	e.obsMu.Lock()
	defer e.obsMu.Unlock()
	id := e.nextObs
	e.nextObs++
	e.observers[id] = fn
	return func() {
		e.obsMu.Lock()
		delete(e.observers, id)
		e.obsMu.Unlock()
	}
}

// Stop shuts the engine down and releases every solver. Release failures are
// combined, logged and returned once all solvers were attempted.
func (e *Engine) Stop() error {
	// an in-flight swap completes first; later swaps observe stopped
	e.swapMu.Lock()
	e.mu.Lock()
	if !e.initialized || e.stopped {
		e.mu.Unlock()
		e.swapMu.Unlock()
		return nil
	}
	e.stopped = true
	e.running.Store(false)
	e.ready.Close()
	e.active.Close()

	if e.unsubscribe != nil {
		e.unsubscribe()
		e.unsubscribe = nil
	}
	wd, cancel := e.wd, e.cancel
	workerDone, dispDone := e.workerDone, e.dispDone
	solvers := e.solvers
	e.mu.Unlock()
	e.swapMu.Unlock()

	cancel()
	if wd != nil {
		wd.Stop()
	}
	<-dispDone
	<-workerDone
	e.ready.Close()
	e.active.Close()

	if err := solvers.Drain(); err != nil {
		err = apperrors.Wrap(apperrors.CodeCleanup, "failed to clean up solvers for "+e.variant.Name, err)
		e.log.Error("%v", err)
		return err
	}
	e.log.Info("stopped")
	return nil
}
