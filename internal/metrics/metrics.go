package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Engine, upstream-API and staking counters/histograms. Chain labels are
// wallet-internal hex chain ids.

var (
	// Engine
	FetchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "balances",
		Subsystem: "engine",
		Name:      "fetches_total",
		Help:      "Total balance fetch operations by outcome",
	}, []string{"status"})

	FetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "balances",
		Subsystem: "engine",
		Name:      "fetch_duration_seconds",
		Help:      "End-to-end balance fetch duration",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15},
	})

	BalancesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "balances",
		Subsystem: "engine",
		Name:      "entries_processed_total",
		Help:      "Total processed balance entries by source and outcome",
	}, []string{"source", "status"})

	ZeroFillsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "balances",
		Subsystem: "engine",
		Name:      "zero_fills_total",
		Help:      "Total synthesized zero-balance entries by kind",
	}, []string{"kind", "chain"})

	// Accounts API
	UpstreamCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "balances",
		Subsystem: "accountsapi",
		Name:      "calls_total",
		Help:      "Total upstream accounts API calls by status classification",
	}, []string{"method", "status"})

	UpstreamCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "balances",
		Subsystem: "accountsapi",
		Name:      "call_duration_seconds",
		Help:      "Upstream accounts API call duration",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"method"})

	UpstreamBatchesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "balances",
		Subsystem: "accountsapi",
		Name:      "batches_total",
		Help:      "Total chunked upstream requests issued by the batching executor",
	})

	RateLimitWaits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "balances",
		Subsystem: "accountsapi",
		Name:      "rate_limit_waits_total",
		Help:      "Total calls delayed by the client-side rate limiter",
	}, []string{"target"})

	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "balances",
		Subsystem: "accountsapi",
		Name:      "circuit_breaker_state",
		Help:      "Circuit breaker state (0=closed, 1=half-open, 2=open)",
	}, []string{"target"})

	// Staking
	StakingReadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "balances",
		Subsystem: "staking",
		Name:      "reads_total",
		Help:      "Total staking contract reads by chain and outcome",
	}, []string{"chain", "status"})

	StakingChainsSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "balances",
		Subsystem: "staking",
		Name:      "chains_skipped_total",
		Help:      "Total chains skipped during staking resolution by reason",
	}, []string{"chain", "reason"})
)
