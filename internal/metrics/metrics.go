package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for recurve
type Metrics struct {
	// Classification metrics
	LeadsClassified   *prometheus.CounterVec
	LeadFailures      *prometheus.CounterVec
	LessonsCreated    *prometheus.CounterVec
	DisregardRate     prometheus.Gauge
	ValidationRuns    *prometheus.CounterVec
	ValidationLatency prometheus.Histogram

	// Strategy metrics
	StrategyVersion prometheus.Gauge
	StrategyPivots  *prometheus.CounterVec
	EvolutionErrors *prometheus.CounterVec

	// Scout metrics
	ScoutTransitions *prometheus.CounterVec
	ScoutPromotions  *prometheus.CounterVec
	OutreachDrafted  prometheus.Counter

	// Collaborator metrics
	CollaboratorRequests *prometheus.CounterVec
	CollaboratorLatency  *prometheus.HistogramVec

	// System metrics
	EventsPublished     *prometheus.CounterVec
	EventsDropped       prometheus.Counter
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

var (
	metricsOnce   sync.Once
	sharedMetrics *Metrics
)

// NewMetrics creates and registers all Prometheus metrics. The registry is
// process-global, so every caller shares one instance.
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		sharedMetrics = &Metrics{
			LeadsClassified: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "recurve_leads_classified_total",
					Help: "Leads classified, by label",
				},
				[]string{"classification"},
			),
			LeadFailures: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "recurve_lead_failures_total",
					Help: "Leads that failed classification, by error kind",
				},
				[]string{"kind"},
			),
			LessonsCreated: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "recurve_lessons_created_total",
					Help: "Lessons recorded, by type",
				},
				[]string{"type"},
			),
			DisregardRate: promauto.NewGauge(
				prometheus.GaugeOpts{
					Name: "recurve_disregard_rate",
					Help: "Disregard rate of the most recent validation batch",
				},
			),
			ValidationRuns: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "recurve_validation_runs_total",
					Help: "Validation batches run, by whether they triggered a pivot",
				},
				[]string{"pivot"},
			),
			ValidationLatency: promauto.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "recurve_validation_duration_seconds",
					Help:    "Duration of a validation batch in seconds",
					Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
				},
			),
			StrategyVersion: promauto.NewGauge(
				prometheus.GaugeOpts{
					Name: "recurve_strategy_version",
					Help: "Latest stored strategy version",
				},
			),
			StrategyPivots: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "recurve_strategy_pivots_total",
					Help: "Strategy changes, by trigger",
				},
				[]string{"trigger"},
			),
			EvolutionErrors: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "recurve_strategy_errors_total",
					Help: "Failed strategy generations, by error kind",
				},
				[]string{"kind"},
			),
			ScoutTransitions: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "recurve_scout_transitions_total",
					Help: "Competitor status transitions",
				},
				[]string{"from", "to"},
			),
			ScoutPromotions: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "recurve_scout_promotions_total",
					Help: "Leads promoted to Strike by outage reactions",
				},
				[]string{"competitor"},
			),
			OutreachDrafted: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "recurve_outreach_drafted_total",
					Help: "Outreach drafts produced",
				},
			),
			CollaboratorRequests: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "recurve_collaborator_requests_total",
					Help: "Calls to external collaborators",
				},
				[]string{"collaborator", "operation", "success"},
			),
			CollaboratorLatency: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "recurve_collaborator_latency_seconds",
					Help:    "Latency of external collaborator calls in seconds",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"collaborator", "operation"},
			),
			EventsPublished: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "recurve_events_published_total",
					Help: "Activity events published, by type",
				},
				[]string{"type"},
			),
			EventsDropped: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "recurve_events_dropped_total",
					Help: "Activity events dropped because the buffer was full",
				},
			),
			HTTPRequestsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "recurve_http_requests_total",
					Help: "Total number of HTTP requests",
				},
				[]string{"method", "path", "status"},
			),
			HTTPRequestDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "recurve_http_request_duration_seconds",
					Help:    "HTTP request duration in seconds",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"method", "path"},
			),
		}
	})

	return sharedMetrics
}

// RecordCollaboratorCall records one request to an external service.
func (m *Metrics) RecordCollaboratorCall(collaborator, operation string, success bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	successStr := "false"
	if success {
		successStr = "true"
	}
	m.CollaboratorRequests.WithLabelValues(collaborator, operation, successStr).Inc()
	m.CollaboratorLatency.WithLabelValues(collaborator, operation).Observe(elapsed.Seconds())
}

// RecordClassification records a successful lead classification.
func (m *Metrics) RecordClassification(label string) {
	if m == nil {
		return
	}
	m.LeadsClassified.WithLabelValues(label).Inc()
}

// RecordLeadFailure records a lead that could not be classified.
func (m *Metrics) RecordLeadFailure(kind string) {
	if m == nil {
		return
	}
	m.LeadFailures.WithLabelValues(kind).Inc()
}

// RecordLesson records a stored lesson.
func (m *Metrics) RecordLesson(lessonType string) {
	if m == nil {
		return
	}
	m.LessonsCreated.WithLabelValues(lessonType).Inc()
}

// RecordValidation records the outcome of a batch.
func (m *Metrics) RecordValidation(rate float64, defined, pivot bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	if defined {
		m.DisregardRate.Set(rate)
	}
	pivotStr := "false"
	if pivot {
		pivotStr = "true"
	}
	m.ValidationRuns.WithLabelValues(pivotStr).Inc()
	m.ValidationLatency.Observe(elapsed.Seconds())
}

// RecordStrategy records a newly stored strategy version.
func (m *Metrics) RecordStrategy(version int, trigger string) {
	if m == nil {
		return
	}
	m.StrategyVersion.Set(float64(version))
	m.StrategyPivots.WithLabelValues(trigger).Inc()
}

// RecordStrategyError records a failed generation or evolution.
func (m *Metrics) RecordStrategyError(kind string) {
	if m == nil {
		return
	}
	m.EvolutionErrors.WithLabelValues(kind).Inc()
}

// RecordScoutTransition records a competitor status change.
func (m *Metrics) RecordScoutTransition(from, to string, competitor string, promoted int) {
	if m == nil {
		return
	}
	m.ScoutTransitions.WithLabelValues(from, to).Inc()
	if promoted > 0 {
		m.ScoutPromotions.WithLabelValues(competitor).Add(float64(promoted))
	}
}

// RecordDraft records a drafted outreach message.
func (m *Metrics) RecordDraft() {
	if m == nil {
		return
	}
	m.OutreachDrafted.Inc()
}

// RecordEvent records a published or dropped activity event.
func (m *Metrics) RecordEvent(eventType string, dropped bool) {
	if m == nil {
		return
	}
	if dropped {
		m.EventsDropped.Inc()
		return
	}
	m.EventsPublished.WithLabelValues(eventType).Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration float64) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration)
}
