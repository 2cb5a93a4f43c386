package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the service's Prometheus collectors.
type Metrics struct {
	SessionsCreated prometheus.Counter
	SessionsStopped prometheus.Counter
	SessionsExpired prometheus.Counter
	Marks           *prometheus.CounterVec
	Requests        *prometheus.CounterVec
	Latency         *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SessionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "attendance", Name: "sessions_created_total",
			Help: "Attendance sessions opened by teachers.",
		}),
		SessionsStopped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "attendance", Name: "sessions_stopped_total",
			Help: "Attendance sessions stopped explicitly.",
		}),
		SessionsExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "attendance", Name: "sessions_expired_total",
			Help: "Sessions deactivated by the expiry sweeper.",
		}),
		Marks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "attendance", Name: "marks_total",
			Help: "Mark attempts by outcome code.",
		}, []string{"result"}),
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "http", Name: "requests_total",
			Help: "HTTP requests by route and status.",
		}, []string{"method", "route", "status"}),
		Latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "http", Name: "request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	reg.MustRegister(m.SessionsCreated, m.SessionsStopped, m.SessionsExpired, m.Marks, m.Requests, m.Latency)
	return m
}

// ObserveMark counts a mark attempt; result is "ok" or an error code.
func (m *Metrics) ObserveMark(result string) {
	if m == nil {
		return
	}
	m.Marks.WithLabelValues(result).Inc()
}

// GinMiddleware records request counts and latency keyed by the route
// template, so path ids do not explode label cardinality.
func (m *Metrics) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.Requests.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		m.Latency.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}
