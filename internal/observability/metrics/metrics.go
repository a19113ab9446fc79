package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "whatsapp_leads"

// WebhookMetrics exposes counters/histograms for the webhook ingestion flow.
type WebhookMetrics struct {
	eventsTotal       *prometheus.CounterVec
	outboundTotal     *prometheus.CounterVec
	signatureFailures prometheus.Counter
	webhookLatency    *prometheus.HistogramVec
	statusUpdates     *prometheus.CounterVec
}

func NewWebhookMetrics(reg prometheus.Registerer) *WebhookMetrics {
	m := &WebhookMetrics{
		eventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "webhook",
			Name:      "events_total",
			Help:      "Webhook events by kind and outcome",
		}, []string{"kind", "outcome"}),
		outboundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "messaging",
			Name:      "outbound_total",
			Help:      "Outbound auto-reply sends",
		}, []string{"outcome"}),
		signatureFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "webhook",
			Name:      "signature_failures_total",
			Help:      "Webhook requests whose signature did not verify",
		}),
		webhookLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "webhook",
			Name:      "latency_seconds",
			Help:      "Latency of webhook processing",
			Buckets:   prometheus.DefBuckets,
		}, []string{"mode"}),
		statusUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "messaging",
			Name:      "status_updates_total",
			Help:      "Message status reconciliation outcomes",
		}, []string{"status", "outcome"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.eventsTotal, m.outboundTotal, m.signatureFailures, m.webhookLatency, m.statusUpdates)
	return m
}

// ObserveEvent counts one dispatched event. kind is message, status or template.
func (m *WebhookMetrics) ObserveEvent(kind, outcome string) {
	if m == nil {
		return
	}
	m.eventsTotal.WithLabelValues(kind, outcome).Inc()
}

func (m *WebhookMetrics) ObserveOutbound(outcome string) {
	if m == nil {
		return
	}
	m.outboundTotal.WithLabelValues(outcome).Inc()
}

func (m *WebhookMetrics) ObserveSignatureFailure() {
	if m == nil {
		return
	}
	m.signatureFailures.Inc()
}

func (m *WebhookMetrics) ObserveStatusUpdate(status, outcome string) {
	if m == nil {
		return
	}
	m.statusUpdates.WithLabelValues(status, outcome).Inc()
}

func (m *WebhookMetrics) ObserveWebhookLatency(mode string, seconds float64) {
	if m == nil {
		return
	}
	m.webhookLatency.WithLabelValues(mode).Observe(seconds)
}
