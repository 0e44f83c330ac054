package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusCollectors holds all prometheus metric collectors
type PrometheusCollectors struct {
	PoolConnected     prometheus.Gauge
	ReconnectAttempts prometheus.Counter
	Reconnects        prometheus.Counter
	SubmitsOK         prometheus.Counter
	SubmitsBad        prometheus.Counter
	BestDifficulty    prometheus.Gauge
	Paused            prometheus.Gauge
	ChallengeID       prometheus.Gauge
	LastChallenge     prometheus.Gauge
	Hashes            *prometheus.CounterVec
	Solutions         *prometheus.CounterVec
	Hashrate          *prometheus.GaugeVec
	Threads           *prometheus.GaugeVec
}

// InitPrometheus creates the collectors and registers them on reg. A
// collector that is already registered is reused.
func InitPrometheus(reg prometheus.Registerer, namespace string) (*PrometheusCollectors, error) {
	var regErr error
	register := func(c prometheus.Collector) prometheus.Collector {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				return are.ExistingCollector
			}
			regErr = errors.Join(regErr, err)
		}
		return c
	}

	pc := &PrometheusCollectors{}

	pc.PoolConnected = register(prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "pool_connected",
		Help:      "Pool connection status (1 = connected, 0 = disconnected)",
	})).(prometheus.Gauge)

	pc.ReconnectAttempts = register(prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reconnect_attempts_total",
		Help:      "Total number of watchdog reconnect attempts",
	})).(prometheus.Counter)

	pc.Reconnects = register(prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reconnects_total",
		Help:      "Total number of successful reconnects",
	})).(prometheus.Counter)

	pc.SubmitsOK = register(prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "submits_accepted_total",
		Help:      "Total number of difficulty submissions accepted by the pool",
	})).(prometheus.Counter)

	pc.SubmitsBad = register(prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "submits_rejected_total",
		Help:      "Total number of difficulty submissions rejected by the pool",
	})).(prometheus.Counter)

	pc.BestDifficulty = register(prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "best_difficulty",
		Help:      "Best difficulty found since start",
	})).(prometheus.Gauge)

	pc.Paused = register(prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "mining_paused",
		Help:      "Mining pause status (1 = paused, 0 = mining)",
	})).(prometheus.Gauge)

	pc.ChallengeID = register(prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "challenge_id",
		Help:      "Identifier of the active challenge",
	})).(prometheus.Gauge)

	pc.LastChallenge = register(prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "last_challenge_timestamp_seconds",
		Help:      "Unix timestamp of the last accepted challenge",
	})).(prometheus.Gauge)

	pc.Hashes = register(prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "hashes_total",
		Help:      "Total number of nonces hashed",
	}, []string{"hardware"})).(*prometheus.CounterVec)

	pc.Solutions = register(prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "solutions_total",
		Help:      "Total number of candidate solutions found",
	}, []string{"hardware"})).(*prometheus.CounterVec)

	pc.Hashrate = register(prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "hashrate",
		Help:      "Hashes per second over the last report",
	}, []string{"hardware"})).(*prometheus.GaugeVec)

	pc.Threads = register(prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "threads",
		Help:      "Hashing threads in use",
	}, []string{"hardware"})).(*prometheus.GaugeVec)

	return pc, regErr
}
