package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the collectors used across the sync core. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	gatewayRequests  *prometheus.CounterVec
	gatewayLatency   *prometheus.HistogramVec
	webhookEvents    *prometheus.CounterVec
	staleCartUpdates prometheus.Counter
	sessionRefresh   *prometheus.CounterVec
	visitors         prometheus.Gauge
}

// New creates and registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		gatewayRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "storefront",
			Name:      "gateway_requests_total",
			Help:      "Gateway calls by gateway, operation and outcome kind.",
		}, []string{"gateway", "op", "outcome"}),
		gatewayLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "storefront",
			Name:      "gateway_request_duration_seconds",
			Help:      "Gateway call latency including retries.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"gateway", "op"}),
		webhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "storefront",
			Name:      "webhook_events_total",
			Help:      "Webhook deliveries by topic and result.",
		}, []string{"topic", "result"}),
		staleCartUpdates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "storefront",
			Name:      "cart_stale_responses_total",
			Help:      "Cart responses discarded because a newer mutation was already applied.",
		}),
		sessionRefresh: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "storefront",
			Name:      "session_refresh_total",
			Help:      "Session refresh attempts by result.",
		}, []string{"result"}),
		visitors: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "storefront",
			Name:      "visitor_states",
			Help:      "Live per-visitor state containers.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.gatewayRequests, m.gatewayLatency, m.webhookEvents, m.staleCartUpdates, m.sessionRefresh, m.visitors)
	}
	return m
}

// ObserveGateway records one logical gateway call.
func (m *Metrics) ObserveGateway(gateway, op, outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.gatewayRequests.WithLabelValues(gateway, op, outcome).Inc()
	m.gatewayLatency.WithLabelValues(gateway, op).Observe(took.Seconds())
}

// WebhookEvent records a webhook outcome.
func (m *Metrics) WebhookEvent(topic, result string) {
	if m == nil {
		return
	}
	m.webhookEvents.WithLabelValues(topic, result).Inc()
}

// StaleCartResponse records a discarded cart response.
func (m *Metrics) StaleCartResponse() {
	if m == nil {
		return
	}
	m.staleCartUpdates.Inc()
}

// SessionRefresh records a refresh attempt.
func (m *Metrics) SessionRefresh(ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "failed"
	}
	m.sessionRefresh.WithLabelValues(result).Inc()
}

// SetVisitors reports the number of live visitor states.
func (m *Metrics) SetVisitors(n int) {
	if m == nil {
		return
	}
	m.visitors.Set(float64(n))
}
