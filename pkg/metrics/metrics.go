package metrics

import (
	"context"
	"time"

	"github.com/openv0/openv0/pkg/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

const (
	namespace = "openv0"
)

var (
	// HTTPRequestsTotal counts handled requests by route template
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, route and status code",
		},
		[]string{"method", "route", "status"},
	)

	// HTTPRequestDuration observes request latency
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// GenerationSessions tracks live sessions per status
	GenerationSessions = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "generation_sessions",
			Help:      "Number of live generation sessions by status",
		},
		[]string{"status"},
	)

	// GenerationQueueDepth tracks sessions waiting for the worker
	GenerationQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "generation_queue_depth",
			Help:      "Number of generation sessions waiting to be processed",
		},
	)

	// GenerationsTotal counts finished generation runs by result
	GenerationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generations_total",
			Help:      "Total finished generation sessions by result",
		},
		[]string{"result"},
	)

	// LLMRequestDuration observes model latency per operation
	LLMRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_request_duration_seconds",
			Help:      "Latency of model completions in seconds",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80, 160},
		},
		[]string{"operation"},
	)
)

func init() {
	// Register metrics with Prometheus default registry
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(GenerationSessions)
	prometheus.MustRegister(GenerationQueueDepth)
	prometheus.MustRegister(GenerationsTotal)
	prometheus.MustRegister(LLMRequestDuration)
}

// ObserveLLM records the duration of a model call started at start
func ObserveLLM(operation string, start time.Time) {
	LLMRequestDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// Collector provides methods to update metrics from storage
type Collector struct {
	store  *storage.RedisStore
	logger *logrus.Logger
}

// NewCollector creates a new metrics collector
func NewCollector(store *storage.RedisStore, logger *logrus.Logger) *Collector {
	return &Collector{
		store:  store,
		logger: logger,
	}
}

// UpdateMetrics refreshes session gauges from Redis.
// This is called on each /metrics scrape.
func (c *Collector) UpdateMetrics() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	GenerationSessions.Reset()

	counts, err := c.store.CountSessionsByStatus(ctx)
	if err != nil {
		// Don't fail the scrape, serve zero gauges
		c.logger.WithError(err).Warn("Failed to count sessions for metrics")
		return
	}
	for _, status := range storage.AllStatuses {
		GenerationSessions.WithLabelValues(string(status)).Set(float64(counts[status]))
	}

	depth, err := c.store.QueueLength(ctx)
	if err != nil {
		c.logger.WithError(err).Warn("Failed to read queue length for metrics")
		return
	}
	GenerationQueueDepth.Set(float64(depth))
}
