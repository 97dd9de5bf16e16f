package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// ExecutionsTotal counts atomic multi-leg executions by final outcome
// (filled, retry_filled, hedged, rolled_back, unresolved)
var ExecutionsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "crossvenue_executions_total",
		Help: "Total number of atomic multi-leg executions by outcome",
	},
	[]string{"outcome"},
)

// ExecutionLatency records end-to-end latency for one atomic execution
var ExecutionLatency = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "crossvenue_execution_latency_seconds",
		Help:    "Latency in seconds for a full atomic multi-leg execution",
		Buckets: prometheus.DefBuckets,
	},
)

// Retry and hedge stage metrics
var (
	RetryAttempts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "crossvenue_retry_attempts_total",
			Help: "Total number of maker retry attempts across executions",
		},
	)

	HedgesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crossvenue_hedges_total",
			Help: "Total number of hedge attempts by execution mode",
		},
		[]string{"mode"},
	)

	RollbacksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "crossvenue_rollbacks_total",
			Help: "Total number of rollbacks performed after hedge failure",
		},
	)

	RollbackCostUSD = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "crossvenue_rollback_cost_usd_total",
			Help: "Cumulative USD cost realized while rolling back exposure",
		},
	)

	ResidualImbalanceUSD = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "crossvenue_residual_imbalance_usd",
			Help: "Residual USD imbalance left by the most recent execution",
		},
	)
)

func init() {
	prometheus.MustRegister(ExecutionsTotal, ExecutionLatency)
	prometheus.MustRegister(RetryAttempts, HedgesTotal, RollbacksTotal, RollbackCostUSD, ResidualImbalanceUSD)
}
