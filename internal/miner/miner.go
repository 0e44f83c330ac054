// Package miner wires the pool client to the hashers and serves status
package miner

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/pprof"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/multierr"

	"github.com/carlosrabelo/orion/internal/config"
	"github.com/carlosrabelo/orion/internal/engine"
	"github.com/carlosrabelo/orion/internal/metrics"
	"github.com/carlosrabelo/orion/internal/pool"
	"github.com/carlosrabelo/orion/pkg/logger"
)

// Version is reported by -version and the status endpoint
const Version = "orion v0.1.0"

// Miner owns the pool connection and the CPU and GPU hashers
type Miner struct {
	cfg      *config.Config
	log      *logger.Logger
	mx       *metrics.Collector
	registry *prometheus.Registry
	pool     *pool.Client
	cpu      engine.Hasher
	gpu      engine.Hasher
	started  time.Time

	mu      sync.Mutex
	unsubs  []func()
	cancel  context.CancelFunc
	loopWg  sync.WaitGroup
	running bool
}

// New builds the pool client and hashers described by cfg. A nil registry
// gets a private one.
func New(cfg *config.Config, log *logger.Logger, platform engine.Platform, registry *prometheus.Registry) (*Miner, error) {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	prom, err := metrics.InitPrometheus(registry, "orion")
	if err != nil {
		return nil, fmt.Errorf("registering metrics: %w", err)
	}
	mx := metrics.NewCollector().WithPrometheus(prom)

	client, err := pool.NewClient(pool.Config{
		URL:                cfg.Pool.URL,
		User:               cfg.Pool.User,
		Worker:             cfg.Pool.Worker,
		Pass:               cfg.Pool.Pass,
		InsecureSkipVerify: cfg.Pool.InsecureSkipVerify,
		SocksProxy:         cfg.Pool.SocksProxy,
		DialTimeout:        cfg.DialTimeout(),
		Ratio:              cfg.NonceRatio,
		Agent:              Version,
	}, log, mx)
	if err != nil {
		return nil, err
	}

	reg := engine.DefaultRegistry()
	cpuName := cfg.CPU.Hasher
	if cfg.CPU.Auto {
		best, ok := reg.Best(engine.CPU, platform)
		if !ok {
			return nil, fmt.Errorf("no cpu hasher supported on this host")
		}
		cpuName = best.Name
	}
	cpu, err := reg.NewHasher(cpuName, engine.CPU, log.With("component", "cpu"), platform, mx)
	if err != nil {
		return nil, err
	}

	gpuName := engine.DisabledName
	if cfg.GPU.Enabled {
		gpuName = cfg.GPU.Hasher
	}
	gpu, err := reg.NewHasher(gpuName, engine.GPU, log.With("component", "gpu"), platform, mx)
	if err != nil {
		return nil, err
	}

	return &Miner{
		cfg:      cfg,
		log:      log,
		mx:       mx,
		registry: registry,
		pool:     client,
		cpu:      cpu,
		gpu:      gpu,
		started:  time.Now(),
	}, nil
}

// Metrics returns the shared collector
func (m *Miner) Metrics() *metrics.Collector { return m.mx }

// Pool returns the pool client
func (m *Miner) Pool() *pool.Client { return m.pool }

// Hashers returns the CPU and GPU hashers
func (m *Miner) Hashers() []engine.Hasher { return []engine.Hasher{m.cpu, m.gpu} }

// Start initializes the hashers and keeps the pool connected until ctx is
// done or Stop is called.
func (m *Miner) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return nil
	}

	m.unsubs = append(m.unsubs,
		m.pool.OnPause(m.pause),
		m.pool.OnResume(m.resume),
	)
	for _, h := range m.Hashers() {
		m.unsubs = append(m.unsubs, h.OnHashrateUpdate(m.record))
	}

	settings := engine.Settings{
		Threads:         m.cfg.CPU.Threads,
		MinimumHashTime: m.cfg.MinimumHashTime(),
		Timeout:         m.cfg.Timeout(),
	}
	for _, h := range m.Hashers() {
		if err := h.Initialize(m.pool, settings); err != nil {
			m.stopHashers()
			m.unsubscribe()
			return fmt.Errorf("initializing %s hasher %s: %w", h.Hardware(), h.Name(), err)
		}
		if h.Initialized() {
			m.log.Info("%s hasher: %s (%s)", h.Hardware(), h.Name(), h.Description())
		}
	}

	loopCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.loopWg.Add(1)
	go func() {
		defer m.loopWg.Done()
		m.PoolLoop(loopCtx)
	}()
	m.running = true
	return nil
}

// Stop stops every hasher concurrently, then disconnects from the pool
func (m *Miner) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return nil
	}
	m.running = false

	m.cancel()
	m.loopWg.Wait()

	err := m.stopHashers()
	m.unsubscribe()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return multierr.Append(err, m.pool.Disconnect(ctx))
}

func (m *Miner) stopHashers() error {
	hashers := m.Hashers()
	errs := make([]error, len(hashers))
	var wg sync.WaitGroup
	for i, h := range hashers {
		wg.Add(1)
		go func(i int, h engine.Hasher) {
			defer wg.Done()
			if err := h.Stop(); err != nil {
				errs[i] = fmt.Errorf("stopping %s hasher: %w", h.Hardware(), err)
			}
		}(i, h)
	}
	wg.Wait()
	return multierr.Combine(errs...)
}

func (m *Miner) unsubscribe() {
	for _, fn := range m.unsubs {
		fn()
	}
	m.unsubs = nil
}

func (m *Miner) pause() {
	m.log.Info("pool paused mining")
	for _, h := range m.Hashers() {
		h.PauseMining()
	}
	m.mx.SetPaused(true)
}

func (m *Miner) resume() {
	m.log.Info("pool resumed mining")
	for _, h := range m.Hashers() {
		h.ResumeMining()
	}
	m.mx.SetPaused(false)
}

func (m *Miner) record(s engine.HashrateSnapshot) {
	m.mx.RecordWork(string(s.Hardware), s.Nonces, s.Solutions, s.ExecutionTime, s.CurrentThreads)
	m.log.Debug("%s", s)
}

// PoolLoop connects to the pool and reconnects with backoff whenever the
// connection drops
func (m *Miner) PoolLoop(ctx context.Context) {
	min := time.Duration(m.cfg.Pool.BackoffMinMs) * time.Millisecond
	max := time.Duration(m.cfg.Pool.BackoffMaxMs) * time.Millisecond
	check := time.NewTicker(time.Second)
	defer check.Stop()

	first := true
	for ctx.Err() == nil {
		if !m.pool.IsConnected() {
			if !first {
				m.mx.IncrementReconnectAttempts()
			}
			err := m.pool.Connect(ctx)
			switch {
			case err == nil:
				if !first {
					m.mx.IncrementReconnects()
				}
				first = false
			case ctx.Err() != nil:
				return
			default:
				first = false
				wait := pool.Backoff(min, max)
				m.log.Warn("pool connect failed: %v, retrying in %s", err, wait.Round(time.Millisecond))
				select {
				case <-ctx.Done():
					return
				case <-time.After(wait):
				}
				continue
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-check.C:
		}
	}
}

// Status is the JSON document served on /status
type Status struct {
	Version string           `json:"version"`
	Uptime  string           `json:"uptime"`
	Pool    PoolStatus       `json:"pool"`
	Hashers []HasherStatus   `json:"hashers"`
	Metrics metrics.Snapshot `json:"metrics"`
}

// PoolStatus describes the pool connection
type PoolStatus struct {
	URL       string `json:"url"`
	Connected bool   `json:"connected"`
}

// HasherStatus describes one hasher
type HasherStatus struct {
	Name        string `json:"name"`
	Hardware    string `json:"hardware"`
	Strategy    string `json:"strategy"`
	Initialized bool   `json:"initialized"`
	Paused      bool   `json:"paused"`
	Threads     int    `json:"threads"`

	Batch map[string]interface{} `json:"batch,omitempty"`
}

type batchReporter interface {
	BatchStats() map[string]interface{}
}

// Status collects the current state
func (m *Miner) Status() Status {
	st := Status{
		Version: Version,
		Uptime:  time.Since(m.started).Round(time.Second).String(),
		Pool: PoolStatus{
			URL:       m.pool.Endpoint().URL(),
			Connected: m.pool.IsConnected(),
		},
		Metrics: m.mx.Snapshot(),
	}
	for _, h := range m.Hashers() {
		hs := HasherStatus{
			Name:        h.Name(),
			Hardware:    string(h.Hardware()),
			Strategy:    h.Strategy().String(),
			Initialized: h.Initialized(),
			Paused:      h.IsMiningPaused(),
			Threads:     h.Threads(),
		}
		if b, ok := h.(batchReporter); ok {
			hs.Batch = b.BatchStats()
		}
		st.Hashers = append(st.Hashers, hs)
	}
	return st
}

// Handler returns the HTTP routes: /healthz, /status, /metrics and, when
// enabled, /debug/pprof/
func (m *Miner) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(m.Status())
	})
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	if m.cfg.HTTP.Pprof {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
	return mux
}

// HTTPServe serves Handler on cfg.HTTP.Listen until ctx is done
func (m *Miner) HTTPServe(ctx context.Context) {
	srv := &http.Server{
		Addr:              m.cfg.HTTP.Listen,
		Handler:           m.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		ctx2, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx2)
	}()
	m.log.Info("http: listening on %s", m.cfg.HTTP.Listen)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		m.log.Error("http err: %v", err)
	}
}

// ReportLoop logs a periodic summary of hashing and submissions
func (m *Miner) ReportLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	start := time.Now()
	last := start
	lastHashes := m.mx.Hashes.Load()
	lastOK := m.mx.SubmitsOK.Load()
	lastBad := m.mx.SubmitsBad.Load()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			m.log.Info("%s", m.report(now, last, start, lastHashes, lastOK, lastBad))
			last = now
			lastHashes = m.mx.Hashes.Load()
			lastOK = m.mx.SubmitsOK.Load()
			lastBad = m.mx.SubmitsBad.Load()
		}
	}
}

func (m *Miner) report(now, last, start time.Time, lastHashes, lastOK, lastBad uint64) string {
	hashes := m.mx.Hashes.Load()
	totalOK := m.mx.SubmitsOK.Load()
	totalBad := m.mx.SubmitsBad.Load()
	deltaOK := totalOK - lastOK
	deltaBad := totalBad - lastBad
	intervalDur := now.Sub(last)
	totalDur := now.Sub(start)

	var rateInterval float64
	if secs := intervalDur.Seconds(); secs > 0 {
		rateInterval = float64(hashes-lastHashes) / secs
	}
	var accInterval float64
	if submitted := deltaOK + deltaBad; submitted > 0 {
		accInterval = float64(deltaOK) / float64(submitted) * 100
	}
	return fmt.Sprintf("Periodic Report interval=%10s total=%10s | hashrate %.0f H/s (current %.0f H/s) | submitted %d/%d (acc %.1f%% / %.1f%%) | rejects %d/%d | best difficulty %d",
		intervalDur.Round(time.Second), totalDur.Round(time.Second),
		rateInterval, m.mx.GetHashrate(),
		deltaOK, totalOK, accInterval, m.mx.GetAcceptanceRate(),
		deltaBad, totalBad, m.mx.BestDifficulty.Load())
}
