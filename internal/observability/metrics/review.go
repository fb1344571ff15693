package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kirillkom/inpatient-cdi-review/internal/core/domain"
)

// ReviewMetrics observes the review pipeline, clinical queries and circuit
// breakers. It registers on the process's shared registry.
type ReviewMetrics struct {
	service string

	reviewsTotal   *prometheus.CounterVec
	reviewDuration *prometheus.HistogramVec
	stageDuration  *prometheus.HistogramVec
	noteAnalyses   *prometheus.CounterVec
	queryTotal     *prometheus.CounterVec
	queryDuration  *prometheus.HistogramVec
	breakerOpen    *prometheus.GaugeVec
	breakerChanges *prometheus.CounterVec
}

func NewReviewMetrics(service string, registerer prometheus.Registerer) *ReviewMetrics {
	reviewsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cdi",
			Subsystem: "review",
			Name:      "total",
			Help:      "Reviews reaching a terminal state, by status.",
		},
		[]string{"service", "status"},
	)
	reviewDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "cdi",
			Subsystem: "review",
			Name:      "duration_seconds",
			Help:      "End-to-end review duration in seconds.",
			Buckets:   []float64{5, 15, 30, 60, 120, 300, 600, 1200, 1800},
		},
		[]string{"service", "status"},
	)
	stageDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "cdi",
			Subsystem: "review",
			Name:      "stage_duration_seconds",
			Help:      "Pipeline stage duration in seconds.",
			Buckets:   []float64{0.05, 0.25, 1, 5, 15, 60, 300, 900},
		},
		[]string{"service", "stage", "status"},
	)
	noteAnalyses := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cdi",
			Subsystem: "llm",
			Name:      "note_analyses_total",
			Help:      "Per-note AI analyses by result.",
		},
		[]string{"service", "result"},
	)
	queryTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cdi",
			Subsystem: "clinical_db",
			Name:      "queries_total",
			Help:      "Clinical warehouse queries by name and status.",
		},
		[]string{"service", "query", "status"},
	)
	queryDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "cdi",
			Subsystem: "clinical_db",
			Name:      "query_duration_seconds",
			Help:      "Clinical warehouse query duration in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.25, 1, 5, 15, 60, 300},
		},
		[]string{"service", "query"},
	)
	breakerOpen := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "cdi",
			Subsystem: "resilience",
			Name:      "breaker_open",
			Help:      "1 while the circuit breaker for an operation is open.",
		},
		[]string{"service", "operation"},
	)
	breakerChanges := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cdi",
			Subsystem: "resilience",
			Name:      "breaker_transitions_total",
			Help:      "Circuit breaker state transitions.",
		},
		[]string{"service", "operation", "to"},
	)

	registerer.MustRegister(reviewsTotal, reviewDuration, stageDuration, noteAnalyses, queryTotal, queryDuration, breakerOpen, breakerChanges)

	return &ReviewMetrics{
		service:        service,
		reviewsTotal:   reviewsTotal,
		reviewDuration: reviewDuration,
		stageDuration:  stageDuration,
		noteAnalyses:   noteAnalyses,
		queryTotal:     queryTotal,
		queryDuration:  queryDuration,
		breakerOpen:    breakerOpen,
		breakerChanges: breakerChanges,
	}
}

func (m *ReviewMetrics) ObserveStage(stage string, duration time.Duration, err error) {
	m.stageDuration.WithLabelValues(m.service, stage, statusOf(err)).Observe(duration.Seconds())
}

func (m *ReviewMetrics) ObserveReview(status domain.ReviewStatus, duration time.Duration) {
	m.reviewsTotal.WithLabelValues(m.service, string(status)).Inc()
	m.reviewDuration.WithLabelValues(m.service, string(status)).Observe(duration.Seconds())
}

func (m *ReviewMetrics) ObserveNoteAnalysis(success bool) {
	result := "success"
	if !success {
		result = "dropped"
	}
	m.noteAnalyses.WithLabelValues(m.service, result).Inc()
}

func (m *ReviewMetrics) ObserveQuery(name string, duration time.Duration, err error) {
	if name == "" {
		name = "unknown"
	}
	m.queryTotal.WithLabelValues(m.service, name, statusOf(err)).Inc()
	m.queryDuration.WithLabelValues(m.service, name).Observe(duration.Seconds())
}

// ObserveBreakerState matches resilience.StateListener.
func (m *ReviewMetrics) ObserveBreakerState(operation, _, to string) {
	m.breakerChanges.WithLabelValues(m.service, operation, to).Inc()
	open := 0.0
	if to == "open" {
		open = 1
	}
	m.breakerOpen.WithLabelValues(m.service, operation).Set(open)
}

func statusOf(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
