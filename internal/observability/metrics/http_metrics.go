package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

// HTTPMetrics captures request counts and latency per matched route.
type HTTPMetrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

var (
	httpMetricsOnce sync.Once
	httpMetrics     *HTTPMetrics
)

func HTTPWithConfig(cfg Config) *HTTPMetrics {
	httpMetricsOnce.Do(func() {
		httpMetrics = NewHTTPMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return httpMetrics
}

func NewHTTPMetrics(registerer prometheus.Registerer, cfg Config) *HTTPMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	constLabels := cfg.constLabels()

	m := &HTTPMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "http_requests_total",
			Help:        "HTTP requests by method, route and status code.",
			ConstLabels: constLabels,
		}, []string{"method", "route", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "http_request_duration_seconds",
			Help:        "HTTP request latency by method and route.",
			Buckets:     prometheus.DefBuckets,
			ConstLabels: constLabels,
		}, []string{"method", "route"}),
	}
	registerer.MustRegister(m.requests, m.duration)
	return m
}

// GinMiddleware records every request against its route template so that
// path parameters do not explode label cardinality.
func GinMiddleware(m *HTTPMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		method := c.Request.Method
		m.requests.WithLabelValues(method, route, strconv.Itoa(c.Writer.Status())).Inc()
		m.duration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
	}
}
