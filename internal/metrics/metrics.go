package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// Registry is the dedicated Prometheus registry for the API
	Registry = prometheus.NewRegistry()
	// HTTPRequests counts requests by method, route pattern, and status
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
		[]string{"method", "path", "status"},
	)
	// HTTPDuration records request durations in seconds
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
		[]string{"method", "path", "status"},
	)

	// Dispatches counts dispatch invocations by event name and result
	Dispatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "webhook_dispatches_total", Help: "Webhook dispatch invocations by event and result."},
		[]string{"event", "result"},
	)
	// DispatchRegistrations counts scope-matched registrations by disposition (delivered, skipped)
	DispatchRegistrations = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "webhook_dispatch_registrations_total", Help: "Scope-matched registrations per dispatch by disposition."},
		[]string{"event", "disposition"},
	)
	// WebhookDeliveries counts fan-out delivery outcomes by event and outcome
	WebhookDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "webhook_deliveries_total", Help: "Webhook deliveries by event and outcome."},
		[]string{"event", "outcome"},
	)
	// WebhookLatency tracks delivery latencies in milliseconds
	WebhookLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "webhook_delivery_latency_ms", Help: "Webhook delivery latency in ms.", Buckets: []float64{10, 50, 100, 200, 500, 1000, 2000, 5000, 10000, 30000}},
		[]string{"event", "outcome"},
	)
	// DeliveryLogErrors counts delivery attempts that could not be written to the log
	DeliveryLogErrors = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "webhook_delivery_log_errors_total", Help: "Delivery attempts that failed to persist."},
	)

	// PartnerNotifications counts partner payment notifications by final outcome
	PartnerNotifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "partner_notifications_total", Help: "Partner payment notifications by final outcome."},
		[]string{"outcome"},
	)
	// PartnerAttempts records how many attempts each partner notification needed
	PartnerAttempts = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "partner_notification_attempts", Help: "Attempts per partner notification.", Buckets: []float64{1, 2, 3, 5, 10}},
	)
)

// RegisterDefault registers collectors to the API registry.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(HTTPRequests)
		Registry.MustRegister(HTTPDuration)
		Registry.MustRegister(Dispatches)
		Registry.MustRegister(DispatchRegistrations)
		Registry.MustRegister(WebhookDeliveries)
		Registry.MustRegister(WebhookLatency)
		Registry.MustRegister(DeliveryLogErrors)
		Registry.MustRegister(PartnerNotifications)
		Registry.MustRegister(PartnerAttempts)
		// Go/process collectors on our registry
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

var regOnce sync.Once
