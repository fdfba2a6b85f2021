// Package metrics exposes sync and storage activity as Prometheus metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/casamocholi/organizer/internal/orchestrator"
)

// Collector holds the organizer's metrics in its own registry.
type Collector struct {
	registry *prometheus.Registry

	SyncAttempts    *prometheus.CounterVec
	SyncDuration    prometheus.Histogram
	LastSyncSuccess prometheus.Gauge

	LocalWrites   *prometheus.CounterVec
	Notifications prometheus.Counter
	LiveClients   prometheus.Gauge
}

var _ orchestrator.Metrics = (*Collector)(nil)

// NewCollector creates a collector whose metric names start with namespace.
func NewCollector(namespace string) *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
		SyncAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sync_attempts_total",
				Help:      "Sync attempts by outcome",
			},
			[]string{"outcome"},
		),
		SyncDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "sync_duration_seconds",
				Help:      "Duration of sync attempts that reached the remote",
				Buckets:   prometheus.DefBuckets,
			},
		),
		LastSyncSuccess: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_sync_success_timestamp_seconds",
				Help:      "Unix time of the last successful sync",
			},
		),
		LocalWrites: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "local_writes_total",
				Help:      "Non-silent local writes by collection",
			},
			[]string{"collection"},
		),
		Notifications: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "change_notifications_total",
				Help:      "Change notifications delivered on the bus",
			},
		),
		LiveClients: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "dashboard_clients",
				Help:      "Connected live-update clients",
			},
		),
	}

	registry.MustRegister(
		c.SyncAttempts,
		c.SyncDuration,
		c.LastSyncSuccess,
		c.LocalWrites,
		c.Notifications,
		c.LiveClients,
	)
	return c
}

// ObserveSync records the outcome of one attempt.
func (c *Collector) ObserveSync(outcome orchestrator.Status, duration time.Duration) {
	c.SyncAttempts.WithLabelValues(string(outcome)).Inc()
	if outcome == orchestrator.StatusDisconnected {
		return
	}
	c.SyncDuration.Observe(duration.Seconds())
	if outcome == orchestrator.StatusSucceeded {
		c.LastSyncSuccess.SetToCurrentTime()
	}
}

// ObserveWrite counts a local write. Its signature matches
// store.WriteObserver.
func (c *Collector) ObserveWrite(collection string) {
	c.LocalWrites.WithLabelValues(collection).Inc()
}

// ObserveNotify counts a bus notification. Subscribe it as a bus listener.
func (c *Collector) ObserveNotify() {
	c.Notifications.Inc()
}

// Registry returns the collector's registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
