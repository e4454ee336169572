package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ephgo_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"path", "method", "code"},
	)

	httpDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ephgo_http_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path", "method"},
	)

	feedFetchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ephgo_feed_fetches_total",
			Help: "Ephemeris feed fetch attempts by result.",
		},
		[]string{"result"},
	)

	datasetVectors = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ephgo_dataset_vectors",
			Help: "Number of state vectors in the current dataset.",
		},
	)

	datasetAgeSeconds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ephgo_dataset_age_seconds",
			Help: "Age of the current dataset since it was fetched from the feed.",
		},
	)

	storeReadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ephgo_store_reads_total",
			Help: "Cache backend reads by result (hit, miss, error).",
		},
		[]string{"result"},
	)

	locationConversionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ephgo_location_conversions_total",
			Help: "Geodetic location conversions by result.",
		},
		[]string{"result"},
	)

	streamConnectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ephgo_stream_connections_total",
			Help: "SSE stream connection events.",
		},
		[]string{"event"},
	)

	streamsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ephgo_streams_active",
			Help: "Currently connected SSE streams.",
		},
	)

	streamMessagesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ephgo_stream_messages_total",
			Help: "SSE messages sent.",
		},
	)

	streamBytesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ephgo_stream_bytes_total",
			Help: "SSE bytes sent.",
		},
	)

	streamErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ephgo_stream_errors_total",
			Help: "SSE stream errors by reason.",
		},
		[]string{"reason"},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpDurationSeconds,
		feedFetchesTotal,
		datasetVectors,
		datasetAgeSeconds,
		storeReadsTotal,
		locationConversionsTotal,
		streamConnectionsTotal,
		streamsActive,
		streamMessagesTotal,
		streamBytesTotal,
		streamErrorsTotal,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// IncFeedFetch records one feed fetch attempt with the given result
// (success, error, parse_error, store_error).
func IncFeedFetch(result string) {
	feedFetchesTotal.WithLabelValues(result).Inc()
}

// SetDatasetVectors publishes the size of the current dataset.
func SetDatasetVectors(n int) {
	datasetVectors.Set(float64(n))
}

// SetDatasetAge publishes the dataset age in seconds.
func SetDatasetAge(seconds float64) {
	datasetAgeSeconds.Set(seconds)
}

// IncStoreRead records one cache backend read with the given result
// (hit, miss, error).
func IncStoreRead(result string) {
	storeReadsTotal.WithLabelValues(result).Inc()
}

// IncLocationConversion records one geodetic conversion with the given
// result (success, error).
func IncLocationConversion(result string) {
	locationConversionsTotal.WithLabelValues(result).Inc()
}

// IncStreamConnections records a stream connection event (connect, disconnect).
func IncStreamConnections(event string) {
	streamConnectionsTotal.WithLabelValues(event).Inc()
}

// IncStreamsActive increments the active stream gauge.
func IncStreamsActive() { streamsActive.Inc() }

// DecStreamsActive decrements the active stream gauge.
func DecStreamsActive() { streamsActive.Dec() }

// IncStreamMessages records one SSE message sent.
func IncStreamMessages() { streamMessagesTotal.Inc() }

// AddStreamBytes records SSE bytes sent.
func AddStreamBytes(n int64) { streamBytesTotal.Add(float64(n)) }

// IncStreamErrors records one stream error with the given reason.
func IncStreamErrors(reason string) {
	streamErrorsTotal.WithLabelValues(reason).Inc()
}

// knownRoutes are the exact (non-parameterized) paths the server registers.
var knownRoutes = map[string]bool{
	"/":           true,
	"/healthz":    true,
	"/readyz":     true,
	"/metrics":    true,
	"/epochs":     true,
	"/now":        true,
	"/refresh":    true,
	"/stream/now": true,
}

// normalizeRoute collapses parameterized epoch paths to a single label and
// unknown (bot/scanner) paths to "other", keeping metric cardinality bounded.
func normalizeRoute(path string) string {
	if knownRoutes[path] {
		return path
	}
	if rest, ok := strings.CutPrefix(path, "/epochs/"); ok && rest != "" {
		switch {
		case strings.HasSuffix(rest, "/speed"):
			return "/epochs/{epoch}/speed"
		case strings.HasSuffix(rest, "/location"):
			return "/epochs/{epoch}/location"
		case !strings.Contains(rest, "/"):
			return "/epochs/{epoch}"
		}
	}
	return "other"
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying writer, keeping
// flush and write deadline control working for SSE responses.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Middleware records request count and duration for each request.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		duration := time.Since(start).Seconds()
		code := strconv.Itoa(rw.statusCode)
		route := normalizeRoute(r.URL.Path)

		httpRequestsTotal.WithLabelValues(route, r.Method, code).Inc()
		httpDurationSeconds.WithLabelValues(route, r.Method).Observe(duration)
	})
}
