package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "settlement"

type Metrics struct {
	IPNOutcomes         *prometheus.CounterVec
	Transitions         *prometheus.CounterVec
	ReconciliationTotal *prometheus.CounterVec
	SchedulerTicks      *prometheus.CounterVec
	ReceiptsConfirmed   prometheus.Counter
	EventsPublished     *prometheus.CounterVec
	Requests            *prometheus.CounterVec
	LatencyMS           *prometheus.HistogramVec

	gatherer prometheus.Gatherer
}

// New registers the collectors on reg. Tests pass a fresh registry so
// repeated construction does not panic.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		IPNOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ipn_outcomes_total",
			Help:      "Gateway callbacks by gateway and acknowledgement code.",
		}, []string{"gateway", "code"}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_transitions_total",
			Help:      "Applied order state transitions.",
		}, []string{"to"}),
		ReconciliationTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "product_reconciliation_total",
			Help:      "Product reconciliation attempts by result.",
		}, []string{"result"}),
		SchedulerTicks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "receipt_scheduler_ticks_total",
			Help:      "Receipt scheduler ticks by result.",
		}, []string{"result"}),
		ReceiptsConfirmed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "receipts_auto_confirmed_total",
			Help:      "Orders confirmed by the receipt scheduler.",
		}),
		EventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_events_published_total",
			Help:      "Outbox events sent to the broker by result.",
		}, []string{"result"}),
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"handler", "status"}),
		LatencyMS: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_ms",
			Help:      "HTTP request latency in milliseconds.",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"handler"}),
		gatherer: reg,
	}

	reg.MustRegister(
		m.IPNOutcomes,
		m.Transitions,
		m.ReconciliationTotal,
		m.SchedulerTicks,
		m.ReceiptsConfirmed,
		m.EventsPublished,
		m.Requests,
		m.LatencyMS,
	)
	return m
}

// NewDefault registers on a new registry that also carries the Go runtime
// and process collectors.
func NewDefault() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return New(reg)
}

// Discard returns metrics on a throwaway registry.
func Discard() *Metrics {
	return New(prometheus.NewRegistry())
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
