package monitoring

import (
	"strconv"
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
			Buckets: []float64{0.1, 0.5, 1, 2, 5},
		},
		[]string{"method", "endpoint"},
	)

	// 业务指标
	EventsAppliedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "study_events_applied_total",
			Help: "Total number of study events applied to learner aggregates",
		},
		[]string{"type"},
	)

	EventsDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "study_events_dropped_total",
			Help: "Total number of study events dropped due to failed roster resolution",
		},
	)

	RankingComputationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ranking_computations_total",
			Help: "Total number of ranking computations by scope and outcome",
		},
		[]string{"scope", "status"},
	)

	RankingJobsDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ranking_jobs_dropped_total",
			Help: "Total number of ranking recompute jobs dropped because the queue was full",
		},
	)

	BulkChunksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bulk_chunks_total",
			Help: "Total number of bulk write chunks by final status",
		},
		[]string{"status"},
	)

	BulkRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bulk_chunk_retries_total",
			Help: "Total number of bulk write chunk retry attempts",
		},
	)
)

func Init() {
	prometheus.MustRegister(RequestCounter)
	prometheus.MustRegister(RequestDuration)
	prometheus.MustRegister(EventsAppliedTotal)
	prometheus.MustRegister(EventsDroppedTotal)
	prometheus.MustRegister(RankingComputationsTotal)
	prometheus.MustRegister(RankingJobsDroppedTotal)
	prometheus.MustRegister(BulkChunksTotal)
	prometheus.MustRegister(BulkRetriesTotal)
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
