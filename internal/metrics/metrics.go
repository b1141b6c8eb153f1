package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns a registry so tests can build isolated instances.
type Metrics struct {
	registry        *prometheus.Registry
	ledgerAppends   prometheus.Counter
	nameRetries     *prometheus.CounterVec
	submissions     prometheus.Counter
	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		ledgerAppends: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "formledger",
			Name:      "ledger_entries_total",
			Help:      "Version ledger entries written.",
		}),
		nameRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "formledger",
			Name:      "duplicate_key_retries_total",
			Help:      "Recomputations after a unique index rejected a write.",
		}, []string{"scope"}),
		submissions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "formledger",
			Name:      "submissions_created_total",
			Help:      "Submissions created, including duplicates.",
		}),
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "formledger",
			Name:      "http_requests_total",
			Help:      "HTTP requests by method and status.",
		}, []string{"method", "status"}),
		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "formledger",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
	}
}

func (m *Metrics) LedgerAppended(string) {
	m.ledgerAppends.Inc()
}

func (m *Metrics) NameRetried(scope string) {
	m.nameRetries.WithLabelValues(scope).Inc()
}

func (m *Metrics) SubmissionCreated() {
	m.submissions.Inc()
}

func (m *Metrics) ObserveRequest(method string, status int, elapsed time.Duration) {
	m.requests.WithLabelValues(method, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(method).Observe(elapsed.Seconds())
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
