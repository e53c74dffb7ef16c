package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics aggregates the prometheus instruments for the order, webhook and
// generation pipelines.
type Metrics struct {
	webhookEvents    *prometheus.CounterVec
	orderTransitions *prometheus.CounterVec
	songTransitions  *prometheus.CounterVec
	taskTransitions  *prometheus.CounterVec
	stageDuration    *prometheus.HistogramVec
	orchestratorRuns prometheus.Histogram
}

func New() *Metrics {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		webhookEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "songcraft_webhook_events_total",
			Help: "Inbound payment webhook events by provider and outcome.",
		}, []string{"provider", "outcome"}),
		orderTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "songcraft_order_transitions_total",
			Help: "Order state machine transitions.",
		}, []string{"from", "to"}),
		songTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "songcraft_song_transitions_total",
			Help: "Song state machine transitions.",
		}, []string{"from", "to"}),
		taskTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "songcraft_generation_tasks_total",
			Help: "Generation task terminal outcomes by stage.",
		}, []string{"stage", "status"}),
		stageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "songcraft_generation_stage_duration_seconds",
			Help:    "Wall time of external generation calls per stage.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		}, []string{"stage"}),
		orchestratorRuns: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "songcraft_orchestrator_run_duration_seconds",
			Help:    "Duration of a full orchestrator pass.",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

func (m *Metrics) RecordWebhookEvent(provider, outcome string) {
	if m == nil {
		return
	}
	m.webhookEvents.WithLabelValues(provider, outcome).Inc()
}

func (m *Metrics) RecordOrderTransition(from, to string) {
	if m == nil {
		return
	}
	m.orderTransitions.WithLabelValues(from, to).Inc()
}

func (m *Metrics) RecordSongTransition(from, to string) {
	if m == nil {
		return
	}
	m.songTransitions.WithLabelValues(from, to).Inc()
}

func (m *Metrics) RecordTaskOutcome(stage, status string) {
	if m == nil {
		return
	}
	m.taskTransitions.WithLabelValues(stage, status).Inc()
}

func (m *Metrics) ObserveStageDuration(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func (m *Metrics) ObserveOrchestratorRun(d time.Duration) {
	if m == nil {
		return
	}
	m.orchestratorRuns.Observe(d.Seconds())
}
