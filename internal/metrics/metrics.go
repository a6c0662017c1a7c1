// Package metrics holds the Prometheus collector for sync and HTTP activity.
// Each Collector owns a private registry; a nil *Collector is valid and
// records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds all Prometheus metrics for the application
type Collector struct {
	registry *prometheus.Registry

	// HTTP metrics
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec

	// Fetch metrics
	EntitiesFetched *prometheus.CounterVec
	PagesFetched    *prometheus.CounterVec
	FetchErrors     *prometheus.CounterVec

	// Graph metrics
	NodesCommitted   prometheus.Counter
	BackRefsAdded    prometheus.Counter
	BackRefsRemoved  prometheus.Counter
	Materializations *prometheus.CounterVec
	SyncDuration     *prometheus.HistogramVec
}

// NewCollector creates a collector with its own registry
func NewCollector(namespace string) *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		EntitiesFetched: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "entities_fetched_total",
				Help:      "Entities read from the remote, by resource type",
			},
			[]string{"type"},
		),
		PagesFetched: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pages_fetched_total",
				Help:      "Collection pages fetched, by resource type",
			},
			[]string{"type"},
		),
		FetchErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fetch_errors_total",
				Help:      "Collections that failed to fetch, by resource type",
			},
			[]string{"type"},
		),
		NodesCommitted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "nodes_committed_total",
				Help:      "Nodes written to the store",
			},
		),
		BackRefsAdded: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "backrefs_added_total",
				Help:      "Back-reference entries added",
			},
		),
		BackRefsRemoved: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "backrefs_removed_total",
				Help:      "Back-reference entries removed",
			},
		),
		Materializations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "file_materializations_total",
				Help:      "File materializations by result",
			},
			[]string{"result"},
		),
		SyncDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "sync_duration_seconds",
				Help:      "Sync duration in seconds, by mode",
				Buckets:   []float64{.01, .05, .1, .5, 1, 5, 15, 60, 300},
			},
			[]string{"mode"},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.HTTPRequests,
		c.HTTPDuration,
		c.EntitiesFetched,
		c.PagesFetched,
		c.FetchErrors,
		c.NodesCommitted,
		c.BackRefsAdded,
		c.BackRefsRemoved,
		c.Materializations,
		c.SyncDuration,
	)

	return c
}

// Registry returns the collector's registry
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus text format
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) EntityFetched(resourceType string) {
	if c == nil {
		return
	}
	c.EntitiesFetched.WithLabelValues(resourceType).Inc()
}

func (c *Collector) PageFetched(resourceType string) {
	if c == nil {
		return
	}
	c.PagesFetched.WithLabelValues(resourceType).Inc()
}

func (c *Collector) FetchFailed(resourceType string) {
	if c == nil {
		return
	}
	c.FetchErrors.WithLabelValues(resourceType).Inc()
}

func (c *Collector) Committed(n int) {
	if c == nil {
		return
	}
	c.NodesCommitted.Add(float64(n))
}

func (c *Collector) BackRefs(added, removed int) {
	if c == nil {
		return
	}
	c.BackRefsAdded.Add(float64(added))
	c.BackRefsRemoved.Add(float64(removed))
}

// Materialized records a file result: "ok", "skipped" or "error"
func (c *Collector) Materialized(result string) {
	if c == nil {
		return
	}
	c.Materializations.WithLabelValues(result).Inc()
}

// ObserveSync records how long a "full" or "incremental" sync took
func (c *Collector) ObserveSync(mode string, d time.Duration) {
	if c == nil {
		return
	}
	c.SyncDuration.WithLabelValues(mode).Observe(d.Seconds())
}

func (c *Collector) ObserveHTTP(method, route string, status int, d time.Duration) {
	if c == nil {
		return
	}
	c.HTTPRequests.WithLabelValues(method, route, http.StatusText(status)).Inc()
	c.HTTPDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
