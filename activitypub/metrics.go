package activitypub

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts federation traffic. A nil *Metrics records nothing.
type Metrics struct {
	InboundActivities *prometheus.CounterVec
	SignatureFailures prometheus.Counter
	Deliveries        *prometheus.CounterVec
	QueueSubmissions  *prometheus.CounterVec
}

// NewMetrics creates and registers the federation metrics
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &Metrics{
		InboundActivities: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "stegofed_inbound_activities_total",
			Help: "Inbound activities by verb and outcome",
		}, []string{"verb", "outcome"}),
		SignatureFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "stegofed_signature_failures_total",
			Help: "Inbound requests rejected by signature verification",
		}),
		Deliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "stegofed_deliveries_total",
			Help: "Outbound deliveries by outcome",
		}, []string{"outcome"}),
		QueueSubmissions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "stegofed_queue_submissions_total",
			Help: "Messages handed to the queue by type",
		}, []string{"type"}),
	}
}

func (m *Metrics) inbound(verb, outcome string) {
	if m != nil {
		m.InboundActivities.WithLabelValues(verb, outcome).Inc()
	}
}

func (m *Metrics) SignatureFailure() {
	if m != nil {
		m.SignatureFailures.Inc()
	}
}

func (m *Metrics) delivery(outcome string) {
	if m != nil {
		m.Deliveries.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) Submitted(typ string) {
	if m != nil {
		m.QueueSubmissions.WithLabelValues(typ).Inc()
	}
}
