// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file exposes Prometheus instrumentation for HTTP traffic. Label sets
// are bounded: the route label is the registered route or "unmatched", so
// probes against random paths cannot grow the series count. Fan-out delivery
// metrics live in the fanout package; both are served by /metrics.
package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

// unmatchedRoute labels requests that hit no registered route.
const unmatchedRoute = "unmatched"

var (
	requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests by method, route and status.",
		},
		[]string{"method", "route", "status"},
	)

	// A fan-out can run for close to two minutes.
	requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 90, 120},
		},
		[]string{"method", "route"},
	)

	inflight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_requests_inflight",
		Help: "HTTP requests currently being served.",
	})

	// Fan-out summaries grow with the failed_users list.
	responseBytes = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_response_size_bytes",
			Help:    "HTTP response body size in bytes.",
			Buckets: prometheus.ExponentialBuckets(64, 4, 8), // 64B..1MiB
		},
		[]string{"method", "route"},
	)

	rateLimited = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "http_requests_rate_limited_total",
		Help: "Requests rejected with 429 by the rate limiter.",
	})

	replays = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "http_idempotent_replays_total",
		Help: "Responses served from a stored idempotent result.",
	})
)

func init() {
	prometheus.MustRegister(requestsTotal, requestDuration, inflight, responseBytes, rateLimited, replays)
}

// Metrics records count, latency, in-flight gauge and response size for
// every request, and counts idempotent replays.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		inflight.Inc()
		defer inflight.Dec()

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = unmatchedRoute
		}
		method := c.Request.Method

		requestsTotal.WithLabelValues(method, route, strconv.Itoa(c.Writer.Status())).Inc()
		requestDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
		if n := c.Writer.Size(); n >= 0 {
			responseBytes.WithLabelValues(method, route).Observe(float64(n))
		}
		if c.Writer.Header().Get(HeaderReplayed) == "true" {
			replays.Inc()
		}
	}
}
