package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns the Prometheus collectors exported on /metrics. A nil *Metrics is a valid no-op.
type Metrics struct {
	registry *prometheus.Registry

	requests    *prometheus.HistogramVec
	transitions *prometheus.CounterVec
	ledger      *prometheus.CounterVec
	webhooks    *prometheus.CounterVec
	refunds     *prometheus.CounterVec
	swept       prometheus.Counter
}

// NewMetrics registers the service collectors on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		requests: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "orderflow",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "orderflow",
			Name:      "order_transitions_total",
			Help:      "Committed order status transitions.",
		}, []string{"from", "to"}),
		ledger: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "orderflow",
			Name:      "inventory_movements_total",
			Help:      "Inventory ledger movements by operation and outcome.",
		}, []string{"op", "outcome"}),
		webhooks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "orderflow",
			Name:      "payment_webhooks_total",
			Help:      "Payment webhook deliveries by event and outcome.",
		}, []string{"event", "outcome"}),
		refunds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "orderflow",
			Name:      "refunds_total",
			Help:      "Refund requests by payment method and resulting status.",
		}, []string{"method", "status"}),
		swept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "orderflow",
			Name:      "trials_auto_completed_total",
			Help:      "Trials completed by the expiry sweep.",
		}),
	}
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requests, m.transitions, m.ledger, m.webhooks, m.refunds, m.swept,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObserveRequest(method, route string, status int, latency time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(method, route, strconv.Itoa(status)).Observe(latency.Seconds())
}

func (m *Metrics) OrderTransition(from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from, to).Inc()
}

func (m *Metrics) LedgerMovement(op, outcome string) {
	if m == nil {
		return
	}
	m.ledger.WithLabelValues(op, outcome).Inc()
}

func (m *Metrics) Webhook(event, outcome string) {
	if m == nil {
		return
	}
	m.webhooks.WithLabelValues(event, outcome).Inc()
}

func (m *Metrics) Refund(method, status string) {
	if m == nil {
		return
	}
	m.refunds.WithLabelValues(method, status).Inc()
}

func (m *Metrics) TrialsAutoCompleted(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.swept.Add(float64(n))
}
