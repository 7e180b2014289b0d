package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// StoreOperation identifies the persistence method being instrumented.
type StoreOperation string

const (
	StoreOperationFind   StoreOperation = "find"
	StoreOperationCreate StoreOperation = "create"
	StoreOperationUpdate StoreOperation = "update"
	StoreOperationDelete StoreOperation = "delete"
	StoreOperationList   StoreOperation = "list"
)

// StoreOutcome captures the result of a persistence call.
type StoreOutcome string

const (
	// StoreOutcomeOK indicates the operation completed.
	StoreOutcomeOK StoreOutcome = "ok"
	// StoreOutcomeNotFound indicates the addressed entity was absent.
	StoreOutcomeNotFound StoreOutcome = "not_found"
	// StoreOutcomeRejected indicates an expected refusal, such as an id
	// conflict or an invalid entity.
	StoreOutcomeRejected StoreOutcome = "rejected"
	// StoreOutcomeError indicates the backend failed.
	StoreOutcomeError StoreOutcome = "error"
)

// ClientOutcome classifies a completed client request.
type ClientOutcome string

const (
	ClientOutcomeSuccess     ClientOutcome = "success"
	ClientOutcomeClientError ClientOutcome = "client_error"
	ClientOutcomeServerError ClientOutcome = "server_error"
	ClientOutcomeTimeout     ClientOutcome = "timeout"
	ClientOutcomeTransport   ClientOutcome = "transport_error"
)

// Recorder publishes Prometheus metrics for client, service, and store activity.
type Recorder struct {
	gatherer prometheus.Gatherer
	handler  http.Handler

	clientRequests *prometheus.CounterVec
	clientLatency  *prometheus.HistogramVec

	httpRequests *prometheus.CounterVec
	httpLatency  *prometheus.HistogramVec

	storeOperations *prometheus.CounterVec
	storeLatency    *prometheus.HistogramVec
}

// NewRecorder constructs a Prometheus-backed Recorder. When reg is nil a dedicated
// registry is created so multiple recorders can coexist without conflicting with
// the global default registerer.
func NewRecorder(reg *prometheus.Registry) *Recorder {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	reg.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	clientRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "foorest",
		Subsystem: "client",
		Name:      "requests_total",
		Help:      "Total requests issued by the Foo CRUD client.",
	}, []string{"method", "status_code", "outcome"})

	clientLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "foorest",
		Subsystem: "client",
		Name:      "request_duration_seconds",
		Help:      "Latency distribution for Foo CRUD client requests.",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}, []string{"method", "outcome"})

	httpRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "foorest",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total requests served by the Foo service.",
	}, []string{"method", "route", "status_code"})

	httpLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "foorest",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "Latency distribution for requests served by the Foo service.",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"method", "route"})

	storeOperations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "foorest",
		Subsystem: "store",
		Name:      "operations_total",
		Help:      "Persistence operations executed against the Foo store.",
	}, []string{"backend", "operation", "result"})

	storeLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "foorest",
		Subsystem: "store",
		Name:      "operation_duration_seconds",
		Help:      "Latency distribution for Foo store operations.",
		Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
	}, []string{"backend", "operation", "result"})

	reg.MustRegister(clientRequests, clientLatency, httpRequests, httpLatency, storeOperations, storeLatency)

	handler := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})

	return &Recorder{
		gatherer:        reg,
		handler:         handler,
		clientRequests:  clientRequests,
		clientLatency:   clientLatency,
		httpRequests:    httpRequests,
		httpLatency:     httpLatency,
		storeOperations: storeOperations,
		storeLatency:    storeLatency,
	}
}

// Handler exposes the Prometheus HTTP handler for the recorder's registry.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "metrics unavailable", http.StatusServiceUnavailable)
		})
	}
	return r.handler
}

// Gatherer returns the underlying Prometheus gatherer for tests and advanced
// integrations.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.NewRegistry()
	}
	return r.gatherer
}

// ObserveClientRequest records one request issued by the CRUD client. A
// statusCode of zero means no response arrived.
func (r *Recorder) ObserveClientRequest(method string, statusCode int, outcome ClientOutcome, duration time.Duration) {
	if r == nil {
		return
	}
	methodLabel := normalizeLabel(method)
	outcomeLabel := normalizeLabel(string(outcome))
	r.clientRequests.WithLabelValues(methodLabel, statusLabel(statusCode), outcomeLabel).Inc()
	r.clientLatency.WithLabelValues(methodLabel, outcomeLabel).Observe(duration.Seconds())
}

// ObserveHTTPRequest records a request served by the Foo service.
func (r *Recorder) ObserveHTTPRequest(method, route string, statusCode int, duration time.Duration) {
	if r == nil {
		return
	}
	methodLabel := normalizeLabel(method)
	routeLabel := normalizeLabel(route)
	r.httpRequests.WithLabelValues(methodLabel, routeLabel, statusLabel(statusCode)).Inc()
	r.httpLatency.WithLabelValues(methodLabel, routeLabel).Observe(duration.Seconds())
}

// ObserveStore records the result of a persistence call.
func (r *Recorder) ObserveStore(backend string, operation StoreOperation, result StoreOutcome, duration time.Duration) {
	if r == nil {
		return
	}
	backendLabel := normalizeLabel(backend)
	opLabel := normalizeLabel(string(operation))
	resLabel := string(result)
	if resLabel == "" {
		resLabel = string(StoreOutcomeError)
	}
	r.storeOperations.WithLabelValues(backendLabel, opLabel, resLabel).Inc()
	r.storeLatency.WithLabelValues(backendLabel, opLabel, resLabel).Observe(duration.Seconds())
}

func statusLabel(statusCode int) string {
	if statusCode <= 0 {
		return "unknown"
	}
	return strconv.Itoa(statusCode)
}

func normalizeLabel(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}
