package monitor

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service's prometheus instruments
type Metrics struct {
	registry *prometheus.Registry

	NotificationsCreated prometheus.Counter
	EscalationsClaimed   prometheus.Counter
	TimelinePromotions   prometheus.Counter
	FanoutFailures       prometheus.Counter
	ConnectedStreams     prometheus.Gauge
	SweepDurations       prometheus.Histogram
}

// NewMetrics creates and registers the service metrics on a fresh registry
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		NotificationsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "theatre_notifications_created_total",
			Help: "Notifications created, targeted and broadcast.",
		}),
		EscalationsClaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "theatre_escalations_claimed_total",
			Help: "Alert escalations successfully claimed by the sweeper.",
		}),
		TimelinePromotions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "theatre_timeline_promotions_total",
			Help: "Notifications promoted to timeline-critical.",
		}),
		FanoutFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "theatre_fanout_failures_total",
			Help: "Per-recipient notification failures during fan-out.",
		}),
		ConnectedStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "theatre_connected_streams",
			Help: "Currently open delivery channels.",
		}),
		SweepDurations: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "theatre_sweep_duration_seconds",
			Help:    "Escalation sweep tick durations.",
			Buckets: prometheus.DefBuckets,
		}),
	}

	registry.MustRegister(
		m.NotificationsCreated,
		m.EscalationsClaimed,
		m.TimelinePromotions,
		m.FanoutFailures,
		m.ConnectedStreams,
		m.SweepDurations,
	)

	return m
}

// Handler returns the /metrics HTTP handler for this registry
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
