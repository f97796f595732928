package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2},
		},
		[]string{"method", "endpoint"},
	)

	// StoreOps counts durable store operations by collection, operation and result.
	StoreOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "session_store_operations_total",
			Help: "Durable session store operations",
		},
		[]string{"collection", "op", "result"},
	)

	// Autosaves counts debounced autosave outcomes (saved, skipped, failed, conflict).
	Autosaves = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "session_autosaves_total",
			Help: "Debounced autosave outcomes",
		},
		[]string{"collection", "result"},
	)

	// ActiveTabs is the number of connected exam tabs.
	ActiveTabs = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "session_active_tabs",
			Help: "Connected exam tabs",
		},
	)
)

var initOnce sync.Once

// Init registers every collector with the default registry. Safe to call twice.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(RequestCounter, RequestDuration, StoreOps, Autosaves, ActiveTabs)
	})
}

// ObserveStore records one store operation outcome.
func ObserveStore(collection, op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	StoreOps.WithLabelValues(collection, op, result).Inc()
}

func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		status := c.Writer.Status()

		RequestCounter.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			strconv.Itoa(status),
		).Inc()

		RequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
		).Observe(duration)
	}
}

func PrometheusHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
