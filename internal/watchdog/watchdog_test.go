package watchdog

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/carlosrabelo/orion/internal/metrics"
	"github.com/carlosrabelo/orion/pkg/logger"
)

// recorder captures the order of pool and hasher calls
type recorder struct {
	mu            sync.Mutex
	calls         []string
	disconnectErr error
	connectErr    error
	connectPanic  bool
}

func (r *recorder) add(s string) {
	r.mu.Lock()
	r.calls = append(r.calls, s)
	r.mu.Unlock()
}

func (r *recorder) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func (r *recorder) Connect(context.Context) error {
	r.add("connect")
	if r.connectPanic {
		panic("socket exploded")
	}
	return r.connectErr
}

func (r *recorder) Disconnect(context.Context) error {
	r.add("disconnect")
	return r.disconnectErr
}

func (r *recorder) PauseMining()  { r.add("pause") }
func (r *recorder) ResumeMining() { r.add("resume") }

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newWatchdog(t *testing.T, r *recorder, timeout time.Duration) (*Watchdog, *fakeClock, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	w := New(logger.FromZap(zap.New(core)), r, r, metrics.NewCollector(), Config{Timeout: timeout})
	w.now = clock.Now
	w.Touch()
	return w, clock, logs
}

func TestEffectiveTimeoutFloor(t *testing.T) {
	assert.Equal(t, MinTimeout, EffectiveTimeout(0))
	assert.Equal(t, MinTimeout, EffectiveTimeout(10*time.Second))
	assert.Equal(t, 180*time.Second, EffectiveTimeout(180*time.Second))
}

func TestFreshUpdateDoesNothing(t *testing.T) {
	r := &recorder{}
	w, clock, _ := newWatchdog(t, r, 10*time.Second)

	// the floor wins over the configured 10s
	clock.Advance(29 * time.Second)
	assert.False(t, w.Check(context.Background()))
	assert.Empty(t, r.Calls())
}

func TestStaleRunsOneCycle(t *testing.T) {
	r := &recorder{}
	w, clock, logs := newWatchdog(t, r, 60*time.Second)

	clock.Advance(61 * time.Second)
	require.True(t, w.Check(context.Background()))
	assert.Equal(t, []string{"pause", "disconnect", "connect", "resume"}, r.Calls())
	assert.Equal(t, uint64(1), w.mx.ReconnectAttempts.Load())
	assert.Equal(t, uint64(1), w.mx.Reconnects.Load())
	assert.Equal(t, 1, logs.FilterMessageSnippet("forcing reconnect").Len())
}

func TestDisconnectFailureKeepsPaused(t *testing.T) {
	r := &recorder{disconnectErr: errors.New("not connected")}
	w, clock, _ := newWatchdog(t, r, 0)

	clock.Advance(31 * time.Second)
	require.True(t, w.Check(context.Background()))
	assert.Equal(t, []string{"pause", "disconnect"}, r.Calls())
	assert.Zero(t, w.mx.Reconnects.Load())
}

func TestConnectFailureRetriesNextTick(t *testing.T) {
	r := &recorder{connectErr: errors.New("refused")}
	w, clock, _ := newWatchdog(t, r, 0)

	clock.Advance(31 * time.Second)
	require.True(t, w.Check(context.Background()))
	assert.Equal(t, []string{"pause", "disconnect", "connect"}, r.Calls())

	r.connectErr = nil
	clock.Advance(5 * time.Second)
	require.True(t, w.Check(context.Background()))
	assert.Equal(t, []string{"pause", "disconnect", "connect", "pause", "disconnect", "connect", "resume"}, r.Calls())
	assert.Equal(t, uint64(2), w.mx.ReconnectAttempts.Load())
}

func TestTouchResetsStaleness(t *testing.T) {
	r := &recorder{}
	w, clock, _ := newWatchdog(t, r, 0)

	clock.Advance(25 * time.Second)
	w.Touch()
	clock.Advance(25 * time.Second)
	assert.False(t, w.Check(context.Background()))
	assert.Empty(t, r.Calls())
}

func TestPanicIsContained(t *testing.T) {
	r := &recorder{connectPanic: true}
	w, clock, logs := newWatchdog(t, r, 0)

	clock.Advance(time.Minute)
	assert.True(t, w.Check(context.Background()))
	assert.Equal(t, 1, logs.FilterMessageSnippet("panicked").Len())
	assert.NotContains(t, r.Calls(), "resume")
}

func TestStartTicksAndStops(t *testing.T) {
	defer leaktest.Check(t)()

	r := &recorder{}
	w, clock, _ := newWatchdog(t, r, 0)
	w.interval = 10 * time.Millisecond
	clock.Advance(time.Hour)

	w.Start(context.Background())
	require.Eventually(t, func() bool {
		for _, c := range r.Calls() {
			if c == "resume" {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
	w.Stop()

	n := len(r.Calls())
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, n, len(r.Calls()), "no ticks after Stop")
}

func TestRestartReplacesCycle(t *testing.T) {
	defer leaktest.Check(t)()

	r := &recorder{}
	w, _, _ := newWatchdog(t, r, 0)
	w.interval = 5 * time.Millisecond

	w.Start(context.Background())
	w.mu.Lock()
	first := w.done
	w.mu.Unlock()

	w.Start(context.Background())
	select {
	case <-first:
	default:
		t.Fatal("previous cycle still running after restart")
	}

	w.Stop()
	w.Stop()
}
