package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollector(t *testing.T) {
	c := NewCollector()

	// Test initial state
	if c.IsPoolConnected() {
		t.Error("Initial pool state should be false")
	}
	if c.GetTotalSubmits() != 0 {
		t.Error("Initial submits should be 0")
	}
	if c.GetAcceptanceRate() != 0 {
		t.Error("Initial acceptance rate should be 0")
	}
	if c.GetHashrate() != 0 {
		t.Error("Initial hashrate should be 0")
	}
}

func TestCollectorPool(t *testing.T) {
	c := NewCollector()

	c.SetPoolConnected(true)
	if !c.IsPoolConnected() {
		t.Error("Pool should be connected")
	}

	c.SetPoolConnected(false)
	if c.IsPoolConnected() {
		t.Error("Pool should be disconnected")
	}

	c.IncrementReconnectAttempts()
	c.IncrementReconnectAttempts()
	c.IncrementReconnects()
	if c.ReconnectAttempts.Load() != 2 || c.Reconnects.Load() != 1 {
		t.Errorf("reconnects = %d/%d, want 1/2", c.Reconnects.Load(), c.ReconnectAttempts.Load())
	}
}

func TestCollectorSubmits(t *testing.T) {
	c := NewCollector()

	c.IncrementSubmitsOK()
	c.IncrementSubmitsBad()
	c.IncrementSubmitsOK()
	c.IncrementSubmitsOK()

	if c.GetTotalSubmits() != 4 {
		t.Error("Should have 4 total submits")
	}
	rate := c.GetAcceptanceRate()
	if rate != 75.0 {
		t.Errorf("Acceptance rate = %v, want %v", rate, 75.0)
	}
}

func TestObserveDifficultyKeepsMax(t *testing.T) {
	c := NewCollector()
	for _, d := range []int{3, 9, 4, 9, 1} {
		c.ObserveDifficulty(d)
	}
	if c.BestDifficulty.Load() != 9 {
		t.Errorf("best = %d, want 9", c.BestDifficulty.Load())
	}
}

func TestRecordWork(t *testing.T) {
	c := NewCollector()

	c.RecordWork("cpu", 1000, 3, 500*time.Millisecond, 4)
	c.RecordWork("gpu", 5000, 1, time.Second, 1)
	c.RecordWork("cpu", 2000, 2, time.Second, 4)

	if c.Hashes.Load() != 8000 {
		t.Errorf("hashes = %d, want 8000", c.Hashes.Load())
	}
	if c.Solutions.Load() != 6 {
		t.Errorf("solutions = %d, want 6", c.Solutions.Load())
	}

	cpu := c.Hasher("cpu")
	if cpu == nil {
		t.Fatal("cpu hasher metrics missing")
	}
	if cpu.GetHashrate() != 2000 {
		t.Errorf("cpu hashrate = %v, want 2000", cpu.GetHashrate())
	}
	if c.GetHashrate() != 7000 {
		t.Errorf("total hashrate = %v, want 7000", c.GetHashrate())
	}
	if c.Hasher("fpga") != nil {
		t.Error("unknown hardware should have no metrics")
	}

	// a zero elapsed report must not divide by zero
	c.RecordWork("cpu", 10, 0, 0, 4)
	if cpu.GetHashrate() != 0 {
		t.Errorf("cpu hashrate = %v, want 0", cpu.GetHashrate())
	}
}

func TestCollectorSnapshot(t *testing.T) {
	c := NewCollector()

	c.SetPoolConnected(true)
	c.IncrementSubmitsOK()
	c.IncrementSubmitsBad()
	c.ObserveDifficulty(17)
	c.SetPaused(true)
	now := time.Now()
	c.SetChallenge(42, now)
	c.RecordWork("gpu", 10, 0, time.Second, 1)
	c.RecordWork("cpu", 20, 1, time.Second, 2)

	snap := c.Snapshot()

	if !snap.PoolConnected {
		t.Error("Snapshot pool should be connected")
	}
	if snap.AcceptanceRate != 50.0 {
		t.Error("Snapshot acceptance rate should be 50%")
	}
	if snap.BestDifficulty != 17 {
		t.Error("Snapshot best difficulty mismatch")
	}
	if !snap.Paused {
		t.Error("Snapshot should be paused")
	}
	if snap.ChallengeID != 42 || snap.LastChallenge.Unix() != now.Unix() {
		t.Errorf("Snapshot challenge = %d@%v", snap.ChallengeID, snap.LastChallenge)
	}
	if snap.Hashrate != 30 {
		t.Errorf("Snapshot hashrate = %v, want 30", snap.Hashrate)
	}
	if len(snap.Hashers) != 2 || snap.Hashers[0].Hardware != "cpu" || snap.Hashers[1].Hardware != "gpu" {
		t.Errorf("Snapshot hashers = %+v", snap.Hashers)
	}
}

func TestPrometheusMirror(t *testing.T) {
	reg := prometheus.NewRegistry()
	pc, err := InitPrometheus(reg, "orion")
	if err != nil {
		t.Fatalf("InitPrometheus: %v", err)
	}
	c := NewCollector().WithPrometheus(pc)

	c.SetPoolConnected(true)
	c.IncrementSubmitsOK()
	c.IncrementSubmitsOK()
	c.ObserveDifficulty(12)
	c.ObserveDifficulty(8)
	c.RecordWork("cpu", 300, 2, time.Second, 3)

	if got := testutil.ToFloat64(pc.PoolConnected); got != 1 {
		t.Errorf("pool_connected = %v", got)
	}
	if got := testutil.ToFloat64(pc.SubmitsOK); got != 2 {
		t.Errorf("submits_accepted_total = %v", got)
	}
	if got := testutil.ToFloat64(pc.BestDifficulty); got != 12 {
		t.Errorf("best_difficulty = %v", got)
	}
	if got := testutil.ToFloat64(pc.Hashes.WithLabelValues("cpu")); got != 300 {
		t.Errorf("hashes_total = %v", got)
	}
	if got := testutil.ToFloat64(pc.Hashrate.WithLabelValues("cpu")); got != 300 {
		t.Errorf("hashrate = %v", got)
	}

	// registering twice reuses the existing collectors
	again, err := InitPrometheus(reg, "orion")
	if err != nil {
		t.Fatalf("second InitPrometheus: %v", err)
	}
	if again.SubmitsOK != pc.SubmitsOK {
		t.Error("expected the already registered counter")
	}
}
