// Package metrics defines the service's Prometheus collectors.
package metrics

import (
	"database/sql"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Namespace prefixes every metric this service exports.
const Namespace = "clearhold"

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route, and status class.",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	EscrowsCreatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "escrows_created_total",
			Help:      "Escrows successfully created.",
		},
	)

	EscrowOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "escrow_operations_total",
			Help:      "Escrow operations by kind and outcome.",
		},
		[]string{"operation", "outcome"},
	)

	SweeperReleasesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "sweeper_releases_total",
			Help:      "Escrows settled by the auto-release sweeper.",
		},
	)

	ActiveWebSocketClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "websocket_clients",
			Help:      "Connected event-feed clients.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		EscrowsCreatedTotal,
		EscrowOperationsTotal,
		SweeperReleasesTotal,
		ActiveWebSocketClients,
	)
}

// RegisterDBStats exports database/sql pool statistics.
func RegisterDBStats(db *sql.DB, dbName string) {
	prometheus.MustRegister(collectors.NewDBStatsCollector(db, dbName))
}

// RecordOperation tallies one escrow operation outcome.
func RecordOperation(operation string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	EscrowOperationsTotal.WithLabelValues(operation, outcome).Inc()
}

// Middleware observes request counts and latency per route.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		HTTPRequestsTotal.WithLabelValues(c.Request.Method, route, statusBucket(c.Writer.Status())).Inc()
		HTTPRequestDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}

// Handler serves the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// statusBucket collapses status codes into classes to bound cardinality.
func statusBucket(code int) string {
	if code >= 100 && code < 600 {
		return fmt.Sprintf("%dxx", code/100)
	}
	return strconv.Itoa(code)
}
