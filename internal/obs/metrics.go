package obs

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Shared HTTP metrics.
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	ready = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "signum_ready",
		Help: "Whether the service currently reports ready.",
	})
)

// Workflow metrics.
var (
	proposalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signum_proposals_total",
			Help: "Service-number change proposals created, by action kind.",
		},
		[]string{"kind"},
	)

	decisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signum_decisions_total",
			Help: "Decisions taken on pending proposals, by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)

	amendmentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signum_amendments_total",
			Help: "Manual amendments recorded, by reconciliation result.",
		},
		[]string{"reconciliation"},
	)
)

// Init registers all metrics in the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration, ready,
		proposalsTotal, decisionsTotal, amendmentsTotal,
	)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetReady publishes the current readiness state.
func SetReady(ok bool) {
	if ok {
		ready.Set(1)
	} else {
		ready.Set(0)
	}
}

// ProposalCreated counts a new pending proposal.
func ProposalCreated(kind string) {
	proposalsTotal.WithLabelValues(kind).Inc()
}

// DecisionTaken counts an accept or reject that won the pending guard.
func DecisionTaken(kind, outcome string) {
	decisionsTotal.WithLabelValues(kind, outcome).Inc()
}

// AmendmentRecorded counts a manual amendment and its reconciliation result.
func AmendmentRecorded(reconciliation string) {
	amendmentsTotal.WithLabelValues(reconciliation).Inc()
}

// CanonicalPath collapses tenant, request, member and number identifiers to
// placeholders so metric label cardinality stays bounded.
func CanonicalPath(p string) string {
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	if p == "" {
		return "/"
	}
	parts := strings.Split(strings.Trim(p, "/"), "/")
	if len(parts) >= 3 && parts[0] == "v1" && parts[1] == "tenants" {
		parts[2] = ":tenant"
		if len(parts) >= 5 {
			switch parts[3] {
			case "requests", "members", "numbers":
				parts[4] = ":id"
			}
		}
		return "/" + strings.Join(parts, "/")
	}
	return p
}

// Instrument wraps a handler with RPS/latency/in-flight measurements.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// statusWriter captures the response code for instrumentation.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// Flush keeps the wrapped writer usable for streaming responses.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
