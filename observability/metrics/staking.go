package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type StakingMetrics struct {
	operations      *prometheus.CounterVec
	latency         *prometheus.HistogramVec
	claimed         prometheus.Counter
	funded          prometheus.Counter
	roundingDust    prometheus.Counter
	poolBalance     prometheus.Gauge
	activePositions prometheus.Gauge
	rollbacks       *prometheus.CounterVec
}

var (
	stakingOnce     sync.Once
	stakingRegistry *StakingMetrics
)

func Staking() *StakingMetrics {
	stakingOnce.Do(func() {
		stakingRegistry = &StakingMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "staking_operations_total",
				Help: "Count of staking operations by name and outcome.",
			}, []string{"operation", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "staking_operation_duration_seconds",
				Help:    "Latency of staking operations including collaborator calls.",
				Buckets: prometheus.DefBuckets,
			}, []string{"operation"}),
			claimed: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "staking_rewards_claimed_total",
				Help: "Reward units transferred out of the pool by claims.",
			}),
			funded: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "staking_pool_funded_total",
				Help: "Reward units deposited into the pool.",
			}),
			roundingDust: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "staking_rounding_dust_total",
				Help: "Cumulative truncation remainder in reward units.",
			}),
			poolBalance: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "staking_pool_balance",
				Help: "Reward units currently available for claims.",
			}),
			activePositions: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "staking_active_positions",
				Help: "Number of assets currently accruing rewards.",
			}),
			rollbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "staking_rollbacks_total",
				Help: "Committed operations reverted after a collaborator failure, by result.",
			}, []string{"result"}),
		}
		prometheus.MustRegister(
			stakingRegistry.operations,
			stakingRegistry.latency,
			stakingRegistry.claimed,
			stakingRegistry.funded,
			stakingRegistry.roundingDust,
			stakingRegistry.poolBalance,
			stakingRegistry.activePositions,
			stakingRegistry.rollbacks,
		)
	})
	return stakingRegistry
}

func (m *StakingMetrics) ObserveOperation(operation, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	if outcome == "" {
		outcome = "unknown"
	}
	m.operations.WithLabelValues(operation, outcome).Inc()
	m.latency.WithLabelValues(operation).Observe(elapsed.Seconds())
}

func (m *StakingMetrics) AddClaimed(amount float64) {
	if m == nil || amount <= 0 {
		return
	}
	m.claimed.Add(amount)
}

func (m *StakingMetrics) AddFunded(amount float64) {
	if m == nil || amount <= 0 {
		return
	}
	m.funded.Add(amount)
}

// AddDust records a truncation remainder already divided down to reward units.
func (m *StakingMetrics) AddDust(amount float64) {
	if m == nil || amount <= 0 {
		return
	}
	m.roundingDust.Add(amount)
}

func (m *StakingMetrics) SetPoolBalance(amount float64) {
	if m == nil {
		return
	}
	m.poolBalance.Set(amount)
}

func (m *StakingMetrics) SetActivePositions(count uint64) {
	if m == nil {
		return
	}
	m.activePositions.Set(float64(count))
}

func (m *StakingMetrics) ObserveRollback(ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "failed"
	}
	m.rollbacks.WithLabelValues(result).Inc()
}
