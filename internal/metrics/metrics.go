// Package metrics provides Prometheus metrics for walletlink.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "walletlink"
)

// Callback outcomes
const (
	OutcomeOK           = "ok"
	OutcomeWalletError  = "wallet_error"
	OutcomeFailed       = "failed"
	OutcomeUnmatched    = "unmatched"
	OutcomeUnrecognized = "unrecognized"
)

// Metrics contains all Prometheus metrics for the client.
type Metrics struct {
	// Outbound
	RequestsSent   *prometheus.CounterVec
	RequestsFailed *prometheus.CounterVec
	PendingOps     prometheus.Gauge

	// Inbound
	CallbacksReceived *prometheus.CounterVec
	WalletErrors      *prometheus.CounterVec
	DecodeFailures    *prometheus.CounterVec
	CallbackLatency   *prometheus.HistogramVec
	HTTPRejected      *prometheus.CounterVec

	// Session
	SessionState       prometheus.Gauge
	SessionTransitions *prometheus.CounterVec
	SessionsEstablished prometheus.Counter

	// Event stream
	EventSubscribers prometheus.Gauge
	EventsDropped    prometheus.Counter

	Panics *prometheus.CounterVec
}

// NewMetricsWithRegistry creates a new Metrics instance with a custom registry.
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		RequestsSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_sent_total",
			Help:      "Outbound deeplink requests handed to the opener, by method",
		}, []string{"method"}),
		RequestsFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_failed_total",
			Help:      "Outbound requests that could not be built or opened, by method and reason",
		}, []string{"method", "reason"}),
		PendingOps: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_operations",
			Help:      "Requests awaiting a wallet callback",
		}),

		CallbacksReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "callbacks_total",
			Help:      "Inbound callbacks by method and outcome",
		}, []string{"method", "outcome"}),
		WalletErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "wallet_errors_total",
			Help:      "Errors reported by the wallet, by code name",
		}, []string{"code"}),
		DecodeFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "callback_decode_failures_total",
			Help:      "Callbacks that failed to decode or decrypt, by reason",
		}, []string{"reason"}),
		CallbackLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "callback_latency_seconds",
			Help:      "Time from request to matching callback, by method",
			Buckets:   []float64{.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"method"}),
		HTTPRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_rejected_total",
			Help:      "Requests rejected by the callback listener, by reason",
		}, []string{"reason"}),

		SessionState: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_state",
			Help:      "Current session state (0 idle, 1 key exchange pending, 2 connected, 3 disconnected)",
		}),
		SessionTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_transitions_total",
			Help:      "Session state transitions by target state",
		}, []string{"to"}),
		SessionsEstablished: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_established_total",
			Help:      "Sessions established with the wallet",
		}),

		EventSubscribers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "event_subscribers",
			Help:      "Connected event stream subscribers",
		}),
		EventsDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Events dropped because a subscriber was too slow",
		}),

		Panics: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "panics_recovered_total",
			Help:      "Panics recovered in background goroutines",
		}, []string{"goroutine"}),
	}
}

// RecordRequest records an outbound request.
func (m *Metrics) RecordRequest(method string) {
	m.RequestsSent.WithLabelValues(method).Inc()
}

// RecordRequestFailure records a request that was never handed to the wallet.
func (m *Metrics) RecordRequestFailure(method, reason string) {
	m.RequestsFailed.WithLabelValues(method, reason).Inc()
}

// SetPending sets the pending operations gauge.
func (m *Metrics) SetPending(n int) {
	m.PendingOps.Set(float64(n))
}

// RecordCallback records an inbound callback outcome.
func (m *Metrics) RecordCallback(method, outcome string) {
	m.CallbacksReceived.WithLabelValues(method, outcome).Inc()
}

// RecordWalletError records an error reported by the wallet.
func (m *Metrics) RecordWalletError(code string) {
	m.WalletErrors.WithLabelValues(code).Inc()
}

// RecordDecodeFailure records a callback that failed before a result existed.
func (m *Metrics) RecordDecodeFailure(reason string) {
	m.DecodeFailures.WithLabelValues(reason).Inc()
}

// RecordCallbackLatency records the request to callback round trip.
func (m *Metrics) RecordCallbackLatency(method string, seconds float64) {
	m.CallbackLatency.WithLabelValues(method).Observe(seconds)
}

// RecordHTTPRejected records a request rejected by the callback listener.
func (m *Metrics) RecordHTTPRejected(reason string) {
	m.HTTPRejected.WithLabelValues(reason).Inc()
}

// RecordTransition records a session state change. state is the numeric
// state value; name is its label.
func (m *Metrics) RecordTransition(state int, name string) {
	m.SessionState.Set(float64(state))
	m.SessionTransitions.WithLabelValues(name).Inc()
}

// RecordSessionEstablished records a completed connect.
func (m *Metrics) RecordSessionEstablished() {
	m.SessionsEstablished.Inc()
}

// RecordSubscriber adjusts the event subscriber gauge by delta.
func (m *Metrics) RecordSubscriber(delta int) {
	m.EventSubscribers.Add(float64(delta))
}

// RecordEventDropped records an event not delivered to a slow subscriber.
func (m *Metrics) RecordEventDropped() {
	m.EventsDropped.Inc()
}

// RecordPanic records a recovered panic.
func (m *Metrics) RecordPanic(goroutine string) {
	m.Panics.WithLabelValues(goroutine).Inc()
}
