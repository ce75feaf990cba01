package telemetry

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "transcribe"

// Outcome labels used by the business metrics
const (
	OutcomeGranted        = "granted"
	OutcomeExceeded       = "exceeded"
	OutcomeCommitted      = "committed"
	OutcomeReleased       = "released"
	OutcomeOverage        = "overage"
	OutcomeApplied        = "applied"
	OutcomeStale          = "stale"
	OutcomeDuplicate      = "duplicate"
	OutcomeUnknownAccount = "unknown_account"
	OutcomeUnhandled      = "unhandled"
	OutcomeRejected       = "rejected"
	OutcomeFailed         = "failed"
	OutcomeOK             = "ok"
	OutcomeTransient      = "transient"
	OutcomePermanent      = "permanent"
)

// Metrics holds the Prometheus collectors of the service.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	quotaDecisions  *prometheus.CounterVec
	settlements     *prometheus.CounterVec
	reservedMinutes prometheus.Counter
	webhookEvents   *prometheus.CounterVec
	providerLatency *prometheus.HistogramVec
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
	httpInFlight    prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		quotaDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "quota_decisions_total",
			Help:      "Quota authorization decisions by outcome.",
		}, []string{"outcome"}),
		settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "reservation_settlements_total",
			Help:      "Reservation settlements by outcome.",
		}, []string{"outcome"}),
		reservedMinutes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "reserved_minutes_total",
			Help:      "Minutes reserved against quotas.",
		}),
		webhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "webhook_events_total",
			Help:      "Billing webhook events by kind and outcome.",
		}, []string{"kind", "outcome"}),
		providerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "provider_call_duration_seconds",
			Help:      "Latency of external provider calls.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"provider", "op", "outcome"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method and route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "http_requests_in_flight",
			Help:      "HTTP requests currently being served.",
		}),
	}

	collectors := []prometheus.Collector{
		m.quotaDecisions, m.settlements, m.reservedMinutes, m.webhookEvents,
		m.providerLatency, m.httpRequests, m.httpDuration, m.httpInFlight,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// QuotaDecision counts an authorize outcome and the minutes granted
func (m *Metrics) QuotaDecision(outcome string, minutes int64) {
	if m == nil {
		return
	}
	m.quotaDecisions.WithLabelValues(outcome).Inc()
	if outcome == OutcomeGranted && minutes > 0 {
		m.reservedMinutes.Add(float64(minutes))
	}
}

// Settlement counts a reservation settlement
func (m *Metrics) Settlement(outcome string) {
	if m == nil {
		return
	}
	m.settlements.WithLabelValues(outcome).Inc()
}

// WebhookEvent counts a handled webhook delivery
func (m *Metrics) WebhookEvent(kind, outcome string) {
	if m == nil {
		return
	}
	m.webhookEvents.WithLabelValues(kind, outcome).Inc()
}

// ProviderCall observes the latency of an external call
func (m *Metrics) ProviderCall(provider, op, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.providerLatency.WithLabelValues(provider, op, outcome).Observe(d.Seconds())
}

// HTTPRequestStarted tracks an in-flight request
func (m *Metrics) HTTPRequestStarted() {
	if m == nil {
		return
	}
	m.httpInFlight.Inc()
}

// HTTPRequestFinished records a served request
func (m *Metrics) HTTPRequestFinished(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpInFlight.Dec()
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
