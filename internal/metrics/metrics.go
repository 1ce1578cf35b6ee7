// Package metrics holds the Prometheus collectors of the hold service.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "holdsvc"

// Metrics is safe to use as a nil pointer; every recorder is then a no-op.
type Metrics struct {
	registry *prometheus.Registry

	holdsCreated   prometheus.Counter
	holdsRejected  *prometheus.CounterVec
	holdsReleased  *prometheus.CounterVec
	orders         *prometheus.CounterVec
	payments       *prometheus.CounterVec
	reserveLatency prometheus.Histogram
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		holdsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "holds_created_total",
			Help:      "Holds placed successfully.",
		}),
		holdsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "holds_rejected_total",
			Help:      "Hold requests that did not reserve stock, by reason.",
		}, []string{"reason"}),
		holdsReleased: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "holds_released_total",
			Help:      "Holds whose stock was returned, by reason.",
		}, []string{"reason"}),
		orders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_total",
			Help:      "Order transitions, by resulting status.",
		}, []string{"status"}),
		payments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_webhooks_total",
			Help:      "Payment webhooks processed, by outcome.",
		}, []string{"outcome"}),
		reserveLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "hold_reserve_duration_seconds",
			Help:      "Latency of the reservation check-and-update.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.holdsCreated,
		m.holdsRejected,
		m.holdsReleased,
		m.orders,
		m.payments,
		m.reserveLatency,
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

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) HoldCreated(elapsed time.Duration) {
	if m == nil {
		return
	}
	m.holdsCreated.Inc()
	m.reserveLatency.Observe(elapsed.Seconds())
}

func (m *Metrics) HoldRejected(reason string) {
	if m == nil {
		return
	}
	m.holdsRejected.WithLabelValues(reason).Inc()
}

func (m *Metrics) HoldsReleased(reason string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.holdsReleased.WithLabelValues(reason).Add(float64(n))
}

func (m *Metrics) OrderTransition(status string) {
	if m == nil {
		return
	}
	m.orders.WithLabelValues(status).Inc()
}

func (m *Metrics) PaymentProcessed(outcome string) {
	if m == nil {
		return
	}
	m.payments.WithLabelValues(outcome).Inc()
}
