package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics stores Prometheus collectors used across the service.
type Metrics struct {
	IGIncomingEvents   *prometheus.CounterVec
	IGOutgoingMessages *prometheus.CounterVec
	PesapalRequests    *prometheus.CounterVec
	PesapalLatency     *prometheus.HistogramVec
	KopokopoRequests   *prometheus.CounterVec
	KopokopoLatency    *prometheus.HistogramVec
	OrdersSettled      *prometheus.CounterVec
	Errors             *prometheus.CounterVec
}

var (
	regOnce         sync.Once
	metricsInstance *Metrics
)

// Registry builds and registers the metrics singleton with optional namespace.
func Registry(namespace string) *Metrics {
	regOnce.Do(func() {
		metricsInstance = &Metrics{
			IGIncomingEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ig_incoming_events_total",
				Help:      "Total incoming Instagram webhook events processed.",
			}, []string{"type"}),
			IGOutgoingMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ig_outgoing_messages_total",
				Help:      "Total outgoing Instagram messages by kind and status.",
			}, []string{"type", "status"}),
			PesapalRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pesapal_requests_total",
				Help:      "Total Pesapal API requests by endpoint and status.",
			}, []string{"endpoint", "status"}),
			PesapalLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "pesapal_request_duration_seconds",
				Help:      "Latency distribution for Pesapal API requests.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"endpoint", "status"}),
			KopokopoRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "kopokopo_requests_total",
				Help:      "Total Kopo Kopo API requests by endpoint and status.",
			}, []string{"endpoint", "status"}),
			KopokopoLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "kopokopo_request_duration_seconds",
				Help:      "Latency distribution for Kopo Kopo API requests.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"endpoint", "status"}),
			OrdersSettled: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "orders_settled_total",
				Help:      "Total orders moved to a terminal status by reconciliation.",
			}, []string{"status"}),
			Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total errors grouped by component.",
			}, []string{"component"}),
		}

		prometheus.MustRegister(
			metricsInstance.IGIncomingEvents,
			metricsInstance.IGOutgoingMessages,
			metricsInstance.PesapalRequests,
			metricsInstance.PesapalLatency,
			metricsInstance.KopokopoRequests,
			metricsInstance.KopokopoLatency,
			metricsInstance.OrdersSettled,
			metricsInstance.Errors,
		)
	})
	return metricsInstance
}
