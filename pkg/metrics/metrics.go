// Package metrics holds the prometheus collectors exported at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	MetricsNamespace = "perception"
)

var (
	transitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "lifecycle_transitions_total",
		Help:      "Count of lifecycle state transitions",
	}, []string{
		"from",
		"to",
	})

	effectErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "lifecycle_effect_errors_total",
		Help:      "Count of lifecycle effects that failed and held the state",
	}, []string{
		"effect",
	})

	runsPersistedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "runs_persisted_total",
		Help:      "Count of completed runs written to the store",
	}, []string{
		"platform",
	})

	runDurationMs = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: MetricsNamespace,
		Name:      "run_duration_milliseconds",
		Help:      "Delta of persisted runs",
		Buckets:   prometheus.ExponentialBuckets(10, 2, 12),
	}, []string{
		"platform",
	})

	payloadUpdatesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "payload_updates_total",
		Help:      "Count of measurement payload merges by result",
	}, []string{
		"result",
	})

	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "active_sessions",
		Help:      "Number of lifecycle instances currently registered",
	})

	channelsOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "content_channels_open",
		Help:      "Number of open content channels",
	})

	storeErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "store_errors_total",
		Help:      "Count of document store failures surfaced to callers",
	}, []string{
		"op",
	})
)

// Payload update results.
const (
	PayloadMerged  = "merged"
	PayloadFailed  = "failed"
	PayloadInitial = "initial"
)

func RecordTransition(from, to string) {
	transitionsTotal.WithLabelValues(from, to).Inc()
}

func RecordEffectError(effect string) {
	effectErrorsTotal.WithLabelValues(effect).Inc()
}

// RecordRunPersisted counts a first write and observes its delta when the
// run is complete.
func RecordRunPersisted(platform string, deltaMs float64, complete bool) {
	runsPersistedTotal.WithLabelValues(platform).Inc()

	if complete {
		runDurationMs.WithLabelValues(platform).Observe(deltaMs)
	}
}

func RecordPayloadUpdate(result string) {
	payloadUpdatesTotal.WithLabelValues(result).Inc()
}

func RecordStoreError(op string) {
	storeErrorsTotal.WithLabelValues(op).Inc()
}

func SetActiveSessions(n int) {
	activeSessions.Set(float64(n))
}

func ChannelOpened() {
	channelsOpen.Inc()
}

func ChannelClosed() {
	channelsOpen.Dec()
}
