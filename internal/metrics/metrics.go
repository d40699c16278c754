package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ns_stats"

// Metrics groups the collectors of the stats manager and its publishers.
type Metrics struct {
	registry *prometheus.Registry

	Epochs         *prometheus.CounterVec
	EpochDuration  *prometheus.HistogramVec
	TrackedFlows   *prometheus.GaugeVec
	Evicted        *prometheus.CounterVec
	Replies        *prometheus.CounterVec
	Removals       *prometheus.CounterVec
	PublishedKeys  *prometheus.CounterVec
	PublishErrors  *prometheus.CounterVec
	RequestErrors  *prometheus.CounterVec
	DecodeFailures *prometheus.CounterVec
}

// New creates the collectors and registers them on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Epochs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "epochs_total",
			Help:      "Polling epochs completed per table.",
		}, []string{"table"}),
		EpochDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "epoch_duration_seconds",
			Help:      "Time spent holding the lock for refresh and aggregation.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		}, []string{"table"}),
		TrackedFlows: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tracked_flows",
			Help:      "Flow entries tracked per table and map.",
		}, []string{"table", "map"}),
		Evicted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evicted_flows_total",
			Help:      "Flow entries evicted by aging.",
		}, []string{"table", "map"}),
		Replies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stats_reply_entries_total",
			Help:      "Flow stats reply entries handled, by outcome.",
		}, []string{"table", "outcome"}),
		Removals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flow_removed_total",
			Help:      "Flow removed notifications handled, by outcome.",
		}, []string{"table", "outcome"}),
		PublishedKeys: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "published_keys_total",
			Help:      "Logical keys handed to publishers.",
		}, []string{"table"}),
		PublishErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_errors_total",
			Help:      "Failed publish calls per publisher.",
		}, []string{"publisher"}),
		RequestErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stats_request_errors_total",
			Help:      "Stats requests the transport failed to send.",
		}, []string{"table"}),
		DecodeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_failures_total",
			Help:      "Transport messages that could not be decoded.",
		}, []string{"subject"}),
	}
	m.registry.MustRegister(
		m.Epochs, m.EpochDuration, m.TrackedFlows, m.Evicted, m.Replies,
		m.Removals, m.PublishedKeys, m.PublishErrors, m.RequestErrors, m.DecodeFailures,
	)
	return m
}

// Registry exposes the registry so that other components can add collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
