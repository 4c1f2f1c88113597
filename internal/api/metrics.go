package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the daemon's Prometheus instruments. It satisfies
// querycache.Metrics so the coordinator can report cache activity, and the
// dispatcher wiring records notification outcomes through it.
type Metrics struct {
	registry *prometheus.Registry

	cacheHits      prometheus.Counter
	cacheMisses    prometheus.Counter
	fetchesStarted prometheus.Counter
	fetchesDropped prometheus.Counter
	entriesEvicted prometheus.Counter
	notifications  *prometheus.CounterVec
	windowsGauge   prometheus.Gauge
}

// NewMetrics creates and registers the daemon's instruments on a fresh
// registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: reg,
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "boostd_cache_hits_total",
			Help: "Fresh cache entries served without a backend fetch.",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "boostd_cache_misses_total",
			Help: "Queries that required a backend fetch.",
		}),
		fetchesStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "boostd_cache_fetches_started_total",
			Help: "Backend fetches started by the cache coordinator.",
		}),
		fetchesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "boostd_cache_fetches_discarded_total",
			Help: "Fetch results discarded because a newer fetch superseded them.",
		}),
		entriesEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "boostd_cache_entries_evicted_total",
			Help: "Cache entries evicted after their idle period.",
		}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "boostd_notifications_total",
			Help: "Notification outcomes by delivery status.",
		}, []string{"status"}),
		windowsGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "boostd_connected_windows",
			Help: "Currently connected UI windows.",
		}),
	}

	reg.MustRegister(m.cacheHits, m.cacheMisses, m.fetchesStarted,
		m.fetchesDropped, m.entriesEvicted, m.notifications, m.windowsGauge)
	return m
}

// Handler serves the /metrics endpoint for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// querycache.Metrics implementation.

func (m *Metrics) CacheHit()       { m.cacheHits.Inc() }
func (m *Metrics) CacheMiss()      { m.cacheMisses.Inc() }
func (m *Metrics) FetchStarted()   { m.fetchesStarted.Inc() }
func (m *Metrics) FetchDiscarded() { m.fetchesDropped.Inc() }
func (m *Metrics) EntryEvicted()   { m.entriesEvicted.Inc() }

// NotificationDelivered records one notification outcome ("displayed",
// "queued", "failed").
func (m *Metrics) NotificationDelivered(status string) {
	m.notifications.WithLabelValues(status).Inc()
}

// SetConnectedWindows updates the connected-window gauge.
func (m *Metrics) SetConnectedWindows(n int) {
	m.windowsGauge.Set(float64(n))
}
