package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestsTotal tracks total HTTP requests
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"service", "method", "endpoint", "status"},
	)

	// RequestDuration tracks HTTP request duration
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service", "method", "endpoint"},
	)

	// TransactionsBuilt tracks transactions attached to requests
	TransactionsBuilt = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transactions_built_total",
			Help: "Total number of transactions built at pre-dispatch",
		},
		[]string{"model", "related_route"},
	)

	// TransactionsFinalized tracks finalize outcomes (persisted, failed)
	TransactionsFinalized = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transactions_finalized_total",
			Help: "Total number of finalized transactions by result",
		},
		[]string{"result"},
	)

	// TransactionsDropped tracks transactions dropped on shutdown
	TransactionsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "transactions_dropped_total",
			Help: "Total number of pending transactions dropped during shutdown",
		},
	)

	// TransactionsDiscarded tracks staged transactions given up by storage
	TransactionsDiscarded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "transactions_discarded_total",
			Help: "Total number of staged transactions discarded without being written",
		},
	)

	// ShapingFailures tracks responses that could not be shaped
	ShapingFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "transaction_shaping_failures_total",
			Help: "Total number of responses returned unshaped after a shaping failure",
		},
	)

	// FinalizeQueueDepth tracks transactions waiting to be stored
	FinalizeQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "transaction_finalize_queue_depth",
			Help: "Number of transactions waiting in the finalize queue",
		},
	)

	// StorageWriteDuration tracks storage persist+write latency
	StorageWriteDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "transaction_storage_write_duration_seconds",
			Help:    "Duration of transaction storage writes in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend"},
	)

	// CircuitBreakerState tracks circuit breaker state (0=closed, 1=open, 2=half-open)
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
		[]string{"service", "circuit_name"},
	)

	// CircuitBreakerFailures tracks circuit breaker failures
	CircuitBreakerFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_failures_total",
			Help: "Total number of circuit breaker failures",
		},
		[]string{"service", "circuit_name"},
	)

	// BulkheadActiveRequests tracks active requests in bulkhead
	BulkheadActiveRequests = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bulkhead_active_requests",
			Help: "Number of active requests in bulkhead",
		},
		[]string{"service", "bulkhead_name"},
	)

	// BulkheadRejectedRequests tracks rejected requests by bulkhead
	BulkheadRejectedRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bulkhead_rejected_requests_total",
			Help: "Total number of rejected requests by bulkhead",
		},
		[]string{"service", "bulkhead_name"},
	)

	// OrdersTotal tracks total orders by status
	OrdersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orders_total",
			Help: "Total number of orders",
		},
		[]string{"status"},
	)

	// InventoryLevel tracks current inventory level
	InventoryLevel = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "inventory_level",
			Help: "Current inventory level",
		},
		[]string{"item_id"},
	)

	// CollectedTransactions tracks transactions received by the collector
	CollectedTransactions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collector_transactions_total",
			Help: "Total number of transactions received by the collector",
		},
		[]string{"model", "success"},
	)
)

// PrometheusMiddleware creates a Gin middleware for automatic metrics collection
func PrometheusMiddleware(serviceName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		RequestsTotal.WithLabelValues(
			serviceName,
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()

		RequestDuration.WithLabelValues(
			serviceName,
			c.Request.Method,
			c.FullPath(),
		).Observe(duration)
	}
}
