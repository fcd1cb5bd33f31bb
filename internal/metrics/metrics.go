package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Counter: how many dispatches were served from the response cache.
	CacheHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "textgate_cache_hits_total",
			Help: "Total number of response cache hits.",
		},
	)

	// Histogram: gateway HTTP latency in seconds.
	GatewayLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "textgate_http_latency_seconds",
			Help:    "HTTP request latency for the gateway in seconds.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"path", "method", "status_code"},
	)

	dispatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "textgate_dispatches_total",
			Help: "Total number of generation dispatches.",
		},
		[]string{"model", "operation", "status"},
	)

	dispatchDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "textgate_dispatch_duration_seconds",
			Help:    "Histogram of end-to-end dispatch durations.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"model", "operation"},
	)

	dispatchTokens = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "textgate_dispatch_tokens",
			Help:    "Histogram of total token counts per dispatch.",
			Buckets: prometheus.LinearBuckets(250, 250, 20),
		},
		[]string{"model"},
	)

	batchesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "textgate_batches_total",
			Help: "Total number of batch runs.",
		},
	)

	batchItemsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "textgate_batch_items_total",
			Help: "Total batch items by outcome.",
		},
		[]string{"status"},
	)
)

// Register is called once in main() to register metrics.
func Register() {
	prometheus.MustRegister(
		CacheHitsTotal,
		GatewayLatencySeconds,
		dispatchesTotal,
		dispatchDurationSeconds,
		dispatchTokens,
		batchesTotal,
		batchItemsTotal,
	)
}

// Handler exposes the /metrics endpoint for Prometheus to scrape.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DispatchRecord is emitted once per dispatch, hit or miss, success or
// failure.
type DispatchRecord struct {
	UserID         string
	Operation      string // "generate" or "batch_item"
	Model          string
	PromptLength   int
	ResponseLength int
	ProcessingTime time.Duration
	TokensUsed     int
	Successful     bool
	CacheHit       bool
}

// BatchRecord is emitted once per batch run.
type BatchRecord struct {
	UserID       string
	Size         int
	SuccessCount int
	FailureCount int
	Elapsed      time.Duration
}

// Sink receives one record per dispatch and one aggregate record per batch.
// Sink unavailability must never fail a dispatch, so implementations do not
// return errors.
type Sink interface {
	RecordDispatch(rec DispatchRecord)
	RecordBatch(rec BatchRecord)
}

// PromSink feeds dispatch and batch records into the registered Prometheus
// collectors.
type PromSink struct{}

func NewPromSink() *PromSink {
	return &PromSink{}
}

func (s *PromSink) RecordDispatch(rec DispatchRecord) {
	status := "error"
	if rec.Successful {
		status = "success"
	}

	dispatchesTotal.WithLabelValues(rec.Model, rec.Operation, status).Inc()
	dispatchDurationSeconds.WithLabelValues(rec.Model, rec.Operation).Observe(rec.ProcessingTime.Seconds())
	if rec.TokensUsed > 0 {
		dispatchTokens.WithLabelValues(rec.Model).Observe(float64(rec.TokensUsed))
	}
}

func (s *PromSink) RecordBatch(rec BatchRecord) {
	batchesTotal.Inc()
	batchItemsTotal.WithLabelValues("success").Add(float64(rec.SuccessCount))
	batchItemsTotal.WithLabelValues("error").Add(float64(rec.FailureCount))
}

// NopSink discards every record. Used in tests and when metrics are
// disabled.
type NopSink struct{}

func (NopSink) RecordDispatch(DispatchRecord) {}
func (NopSink) RecordBatch(BatchRecord)       {}

// Middleware measures gateway latency for each HTTP request.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		rec := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next.ServeHTTP(rec, r)

		GatewayLatencySeconds.
			WithLabelValues(r.URL.Path, r.Method, strconv.Itoa(rec.statusCode)).
			Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}
