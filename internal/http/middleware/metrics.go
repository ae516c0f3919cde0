// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// Metrics() instruments every request with Prometheus. Labels stay bounded:
//
//   - method: HTTP verb
//   - path:   the registered route template (e.g. /api/v1/admin/orders/:id/cancel),
//     or the raw URL path when nothing matched
//   - status: numeric status code
//   - code:   the stable error code of a failed request (order_closed,
//     insufficient_balance, unauthorized, ...), see SetErrorCode
//
// Deny reasons of the ordering engine therefore show up per route.
package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

const ctxKeyErrorCode = "errorCode"

// uncoded labels failed requests whose writer did not set a code.
const uncoded = "uncoded"

var (
	httpReqs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	// httpErrors counts 4xx/5xx responses by route and error code.
	httpErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "canteen_http_errors_total",
			Help: "Failed HTTP requests by route and error code.",
		},
		[]string{"method", "path", "code"},
	)

	httpLat = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	httpInflight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_requests_inflight",
			Help: "Current number of in-flight HTTP requests.",
		},
	)

	// Menu month views are the largest payloads; a few hundred KiB at most.
	httpRespSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_response_size_bytes",
			Help:    "Size of HTTP responses in bytes.",
			Buckets: prometheus.ExponentialBuckets(256, 4, 8), // 256B..4MiB
		},
		[]string{"method", "path"},
	)
)

func init() {
	prometheus.MustRegister(httpReqs, httpErrors, httpLat, httpInflight, httpRespSize)
}

// SetErrorCode records the error code written for this request so Metrics
// can label it. Handlers call it from their failure helper.
func SetErrorCode(c *gin.Context, code string) {
	c.Set(ctxKeyErrorCode, code)
}

func errorCode(c *gin.Context) string {
	if v, ok := c.Get(ctxKeyErrorCode); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return uncoded
}

// Metrics returns a Gin middleware that instruments requests with Prometheus.
// Status-only responses (304 from GET /orders) are not size-observed.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		httpInflight.Inc()
		defer httpInflight.Dec()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		method := c.Request.Method
		status := c.Writer.Status()

		httpReqs.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
		if status >= 400 {
			httpErrors.WithLabelValues(method, path, errorCode(c)).Inc()
		}
		httpLat.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
		if size := c.Writer.Size(); size >= 0 {
			httpRespSize.WithLabelValues(method, path).Observe(float64(size))
		}
	}
}
