// Package metrics owns the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "dayplan"

// Metrics uses its own registry so tests can create as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	Requests       *prometheus.CounterVec
	LayoutColumns  prometheus.Histogram
	LayoutEvents   prometheus.Histogram
	StoreEvents    prometheus.Gauge
	SyncRuns       *prometheus.CounterVec
	SyncImported   *prometheus.GaugeVec
	SyncSkipped    *prometheus.GaugeVec
	LastSyncUnixTS prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.Requests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "HTTP requests by route and status code",
	}, []string{"route", "code"})
	m.LayoutColumns = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "layout_columns",
		Help:      "Columns needed per computed day layout",
		Buckets:   []float64{1, 2, 3, 4, 6, 8, 12, 16},
	})
	m.LayoutEvents = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "layout_events",
		Help:      "Events per computed day layout",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 9),
	})
	m.StoreEvents = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "store_events",
		Help:      "Events currently held by the store",
	})
	m.SyncRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ics_sync_runs_total",
		Help:      "ICS feed sync attempts by source and status",
	}, []string{"source", "status"})
	m.SyncImported = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "ics_sync_imported_events",
		Help:      "Events imported by the last sync of each source",
	}, []string{"source"})
	m.SyncSkipped = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "ics_sync_skipped_events",
		Help:      "VEVENTs skipped by the last sync of each source",
	}, []string{"source"})
	m.LastSyncUnixTS = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "ics_last_sync_timestamp_seconds",
		Help:      "Unix timestamp of the last completed sync run",
	})

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.Requests, m.LayoutColumns, m.LayoutEvents, m.StoreEvents,
		m.SyncRuns, m.SyncImported, m.SyncSkipped, m.LastSyncUnixTS,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
