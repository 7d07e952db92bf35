package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	recordOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "school",
		Name:      "record_operations_total",
		Help:      "Record service operations by outcome.",
	}, []string{"operation", "outcome"})

	queuePublishFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "school",
		Name:      "record_event_publish_failures_total",
		Help:      "Record events that could not be queued.",
	})

	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "school",
		Name:      "http_requests_total",
		Help:      "HTTP requests by route and status.",
	}, []string{"method", "route", "status"})

	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "school",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})
)

// ObserveOperation counts one record service call.
func ObserveOperation(operation, outcome string) {
	recordOperations.WithLabelValues(operation, outcome).Inc()
}

// PublishFailed counts a dropped record event.
func PublishFailed() {
	queuePublishFailures.Inc()
}

// GinMiddleware records request counts and latency per route template.
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		httpRequests.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		httpDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}
