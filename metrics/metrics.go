// Package metrics holds the Prometheus collectors shared by the pipeline and the API.
package metrics

import (
	"database/sql"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Enrichments counts finished pipeline runs by outcome (completed, failed, invalid) and mode (direct, web_search)
	Enrichments = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "curator_enrichments_total",
		Help: "Enrichment runs by outcome and analysis mode",
	}, []string{"outcome", "mode"})

	EnrichmentDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "curator_enrichment_duration_seconds",
		Help:    "Wall time of one enrichment run",
		Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
	}, []string{"mode"})

	FetchResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "curator_fetch_results_total",
		Help: "Page fetch results by usability and reason",
	}, []string{"usable", "reason"})

	LLMRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "curator_llm_requests_total",
		Help: "Model requests by prompt variant and status",
	}, []string{"variant", "status"})

	Thumbnails = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "curator_thumbnails_total",
		Help: "Thumbnail extractions by strategy and whether an image was found",
	}, []string{"strategy", "found"})

	Reclaimed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "curator_reclaimed_total",
		Help: "Records moved from processing to failed by the stale reclaimer",
	})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "curator_http_requests_total",
		Help: "HTTP requests by method, route pattern and status code",
	}, []string{"method", "route", "status"})

	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "curator_http_request_duration_seconds",
		Help:    "HTTP request latency by route pattern",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})
)

// Handler serves the default registry
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveHTTP records one served request
func ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	HTTPDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// ObserveThumbnail records one thumbnail extraction
func ObserveThumbnail(strategy string, found bool) {
	Thumbnails.WithLabelValues(strategy, strconv.FormatBool(found)).Inc()
}

// ObserveFetch records one page fetch
func ObserveFetch(usable bool, reason string) {
	if reason == "" {
		reason = "ok"
	}
	FetchResults.WithLabelValues(strconv.FormatBool(usable), reason).Inc()
}

// DatabaseMetrics exposes connection pool statistics as gauges
type DatabaseMetrics struct {
	openConnections *prometheus.GaugeVec
	inUse           *prometheus.GaugeVec
	idle            *prometheus.GaugeVec
	waitCount       *prometheus.GaugeVec
	waitDuration    *prometheus.GaugeVec
	service         string
}

// NewDatabaseMetrics registers pool gauges labelled with service on reg.
// Registering twice on the same registry reuses the existing collectors.
func NewDatabaseMetrics(service string, reg prometheus.Registerer) *DatabaseMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gauge := func(name, help string) *prometheus.GaugeVec {
		g := prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: name, Help: help}, []string{"service"})
		if err := reg.Register(g); err != nil {
			var already prometheus.AlreadyRegisteredError
			if errors.As(err, &already) {
				return already.ExistingCollector.(*prometheus.GaugeVec)
			}
			panic(err)
		}
		return g
	}

	return &DatabaseMetrics{
		openConnections: gauge("curator_db_open_connections", "Open database connections"),
		inUse:           gauge("curator_db_in_use_connections", "Database connections in use"),
		idle:            gauge("curator_db_idle_connections", "Idle database connections"),
		waitCount:       gauge("curator_db_wait_count", "Total waits for a database connection"),
		waitDuration:    gauge("curator_db_wait_duration_seconds", "Total time spent waiting for a database connection"),
		service:         service,
	}
}

// UpdateDBStats copies the current pool statistics into the gauges
func (m *DatabaseMetrics) UpdateDBStats(db *sql.DB) {
	if db == nil {
		return
	}
	stats := db.Stats()
	m.openConnections.WithLabelValues(m.service).Set(float64(stats.OpenConnections))
	m.inUse.WithLabelValues(m.service).Set(float64(stats.InUse))
	m.idle.WithLabelValues(m.service).Set(float64(stats.Idle))
	m.waitCount.WithLabelValues(m.service).Set(float64(stats.WaitCount))
	m.waitDuration.WithLabelValues(m.service).Set(stats.WaitDuration.Seconds())
}
