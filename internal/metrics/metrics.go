package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "llmtester"

type Metrics struct {
	Tests                  *prometheus.CounterVec
	Probes                 *prometheus.CounterVec
	RequestDuration        *prometheus.HistogramVec
	SourceFailures         *prometheus.CounterVec
	HistoryPersistFailures prometheus.Counter
	APIRequests            *prometheus.CounterVec
}

var (
	once   sync.Once
	global *Metrics
)

// New builds an unregistered set; Global registers one set process-wide.
func New() *Metrics {
	return &Metrics{
		Tests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tests_total",
			Help:      "Total test requests by outcome",
		}, []string{"outcome"}),
		Probes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "probes_total",
			Help:      "Total probe requests by outcome",
		}, []string{"outcome"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Provider request latency",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
		}, []string{"kind"}),
		SourceFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_failures_total",
			Help:      "Text or image sources that could not be loaded",
		}, []string{"source"}),
		HistoryPersistFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "history_persist_failures_total",
			Help:      "History writes that failed and were only kept in memory",
		}),
		APIRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_requests_total",
			Help:      "Local API requests by route and status code",
		}, []string{"route", "code"}),
	}
}

func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{m.Tests, m.Probes, m.RequestDuration, m.SourceFailures, m.HistoryPersistFailures, m.APIRequests}
}

func Global() *Metrics {
	once.Do(func() {
		global = New()
		prometheus.MustRegister(global.Collectors()...)
	})
	return global
}
