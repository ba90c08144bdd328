package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// CoreMetrics exposes the Prometheus series the authorization and
// accounting core emits, grounded on this package's CounterVec/GaugeVec +
// sync.Once singleton pattern used elsewhere in this stack.
type CoreMetrics struct {
	authorizationsTotal    *prometheus.CounterVec
	rejectionsTotal        *prometheus.CounterVec
	liveEOAs               prometheus.Gauge
	rollingSpend           *prometheus.GaugeVec
	rebuildCycleDuration   prometheus.Histogram
	rebuildCycleSkipped    prometheus.Counter
	acquiredBalance        *prometheus.GaugeVec
	pusherSubmissionsTotal *prometheus.CounterVec
	reorgsDetectedTotal    prometheus.Counter
}

var (
	coreOnce     sync.Once
	coreRegistry *CoreMetrics
)

// Core returns the process-wide CoreMetrics singleton, constructing it (and
// registering every series with the default Prometheus registerer) on first
// use.
func Core() *CoreMetrics {
	coreOnce.Do(func() {
		coreRegistry = &CoreMetrics{
			authorizationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "spendauth_authorizations_total",
				Help: "Count of successful authorize_spend calls by transfer type.",
			}, []string{"transfer_type"}),
			rejectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "spendauth_rejections_total",
				Help: "Count of rejected authorize_spend calls by reason.",
			}, []string{"reason"}),
			liveEOAs: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "spendauth_live_eoas",
				Help: "Number of currently registered EOAs across all avatars.",
			}),
			rollingSpend: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "spendauth_rolling_spend",
				Help: "Current rolling 24h spend per EOA.",
			}, []string{"eoa"}),
			rebuildCycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
				Name:    "acquired_rebuild_cycle_duration_seconds",
				Help:    "Wall-clock duration of a full Event Source -> Rebuilder -> Pusher cycle.",
				Buckets: prometheus.DefBuckets,
			}),
			rebuildCycleSkipped: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "acquired_rebuild_cycle_skipped_total",
				Help: "Count of triggered refreshes dropped because a cycle was already running.",
			}),
			acquiredBalance: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "acquired_balance",
				Help: "Rebuilt acquired balance per sub-account and token.",
			}, []string{"sub_account", "token"}),
			pusherSubmissionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "allowance_pusher_submissions_total",
				Help: "Count of batch_update submissions by outcome.",
			}, []string{"outcome"}),
			reorgsDetectedTotal: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "eventsource_reorgs_detected_total",
				Help: "Count of reorgs detected by the Event Source.",
			}),
		}
		prometheus.MustRegister(
			coreRegistry.authorizationsTotal,
			coreRegistry.rejectionsTotal,
			coreRegistry.liveEOAs,
			coreRegistry.rollingSpend,
			coreRegistry.rebuildCycleDuration,
			coreRegistry.rebuildCycleSkipped,
			coreRegistry.acquiredBalance,
			coreRegistry.pusherSubmissionsTotal,
			coreRegistry.reorgsDetectedTotal,
		)
	})
	return coreRegistry
}

// ObserveAuthorization increments the authorization counter for transferType.
func (m *CoreMetrics) ObserveAuthorization(transferType string) {
	if m == nil {
		return
	}
	m.authorizationsTotal.WithLabelValues(transferType).Inc()
}

// ObserveRejection increments the rejection counter for reason.
func (m *CoreMetrics) ObserveRejection(reason string) {
	if m == nil {
		return
	}
	m.rejectionsTotal.WithLabelValues(reason).Inc()
}

// SetLiveEOAs sets the current registered-EOA gauge.
func (m *CoreMetrics) SetLiveEOAs(count float64) {
	if m == nil {
		return
	}
	m.liveEOAs.Set(count)
}

// SetRollingSpend records an EOA's current rolling spend.
func (m *CoreMetrics) SetRollingSpend(eoa string, amount float64) {
	if m == nil {
		return
	}
	m.rollingSpend.WithLabelValues(eoa).Set(amount)
}

// ObserveRebuildCycle records a completed cycle's wall-clock duration.
func (m *CoreMetrics) ObserveRebuildCycle(seconds float64) {
	if m == nil {
		return
	}
	m.rebuildCycleDuration.Observe(seconds)
}

// IncRebuildCycleSkipped records a refresh dropped due to an in-flight cycle.
func (m *CoreMetrics) IncRebuildCycleSkipped() {
	if m == nil {
		return
	}
	m.rebuildCycleSkipped.Inc()
}

// SetAcquiredBalance records a sub-account/token's rebuilt acquired balance.
func (m *CoreMetrics) SetAcquiredBalance(subAccount, token string, balance float64) {
	if m == nil {
		return
	}
	m.acquiredBalance.WithLabelValues(subAccount, token).Set(balance)
}

// ObservePusherSubmission records a batch_update submission outcome
// ("confirmed" or "failed").
func (m *CoreMetrics) ObservePusherSubmission(outcome string) {
	if m == nil {
		return
	}
	m.pusherSubmissionsTotal.WithLabelValues(outcome).Inc()
}

// IncReorgsDetected increments the reorg counter.
func (m *CoreMetrics) IncReorgsDetected() {
	if m == nil {
		return
	}
	m.reorgsDetectedTotal.Inc()
}
