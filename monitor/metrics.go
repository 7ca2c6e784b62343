package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the monitor service.
type Metrics struct {
	// Gauges (current values)
	LedgerSize      prometheus.Gauge
	LastBlockPolled prometheus.Gauge

	// Counters (cumulative values)
	TransactionsProcessed *prometheus.CounterVec
	PendingDropped        prometheus.Counter
	NotificationsSent     prometheus.Counter
	RewardsIssued         prometheus.Counter
	RecommendationsSaved  *prometheus.CounterVec
	StepFailures          *prometheus.CounterVec
	EnergyKWhTotal        prometheus.Counter

	// Histograms (distributions)
	PipelineDuration prometheus.Histogram
}

// NewMetrics creates and registers all monitor metrics. A nil registerer
// uses the default registry.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "greenode"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		LedgerSize: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "dedup_ledger_size",
			Help:      "Current number of hashes held by the dedup ledger",
		}),
		LastBlockPolled: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "last_block_polled",
			Help:      "Block number most recently fetched by the poller",
		}),
		TransactionsProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "transactions_processed_total",
			Help:      "Total transactions entering the pipeline by outcome",
		}, []string{"outcome"}),
		PendingDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "pending_notifications_dropped_total",
			Help:      "Pending notifications dropped while one was in flight",
		}),
		NotificationsSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "owner_notifications_sent_total",
			Help:      "On-chain optimization notifications submitted",
		}),
		RewardsIssued: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "efficiency_rewards_issued_total",
			Help:      "On-chain efficiency rewards submitted",
		}),
		RecommendationsSaved: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "recommendations_saved_total",
			Help:      "Optimization recommendations persisted by priority",
		}, []string{"priority"}),
		StepFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "pipeline_step_failures_total",
			Help:      "Best-effort pipeline step failures by stage",
		}, []string{"stage"}),
		EnergyKWhTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "energy_impact_kwh_total",
			Help:      "Cumulative energy impact of processed transactions in kWh",
		}),
		PipelineDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "pipeline_duration_seconds",
			Help:      "Time spent processing one transaction through the pipeline",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

// Pipeline outcomes recorded in TransactionsProcessed.
const (
	outcomeProcessed    = "processed"
	outcomeDroppedSeen  = "dropped_seen"
	outcomeDuplicateRow = "duplicate_row"
	outcomeFailed       = "failed"
)

// Pipeline stages recorded in StepFailures.
const (
	stageRecommend    = "recommend"
	stageOwnerLookup  = "owner_lookup"
	stageRegistry     = "registry"
	stageNotify       = "notify"
	stageReward       = "reward"
	stageDailyMetrics = "daily_metrics"
)
