package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds DSAR business metrics. A nil *Metrics is valid and records nothing.
type Metrics struct {
	RequestsCreated   *prometheus.CounterVec
	StatusTransitions *prometheus.CounterVec
	OverdueRequests   prometheus.Gauge
	ProcessingDays    prometheus.Histogram
	ResponsePackages  *prometheus.CounterVec
	NotificationsSent *prometheus.CounterVec
}

// NewMetrics creates and registers the DSAR metrics on reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RequestsCreated: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "consenthub_dsar_created_total",
				Help: "Total number of DSAR requests submitted",
			},
			[]string{"type"},
		),
		StatusTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "consenthub_dsar_transitions_total",
				Help: "Total number of DSAR status transitions",
			},
			[]string{"from", "to"},
		),
		OverdueRequests: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "consenthub_dsar_overdue",
				Help: "Number of open DSAR requests past their due date at the last sweep",
			},
		),
		ProcessingDays: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "consenthub_dsar_processing_days",
				Help:    "Days between submission and completion of DSAR requests",
				Buckets: []float64{1, 3, 7, 14, 21, 30, 45, 60, 90},
			},
		),
		ResponsePackages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "consenthub_dsar_response_packages_total",
				Help: "Total number of response packages generated",
			},
			[]string{"format"},
		),
		NotificationsSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "consenthub_notifications_total",
				Help: "Total number of requester notifications created",
			},
			[]string{"type"},
		),
	}
}

func (m *Metrics) RecordCreated(requestType string) {
	if m == nil {
		return
	}
	m.RequestsCreated.WithLabelValues(requestType).Inc()
}

func (m *Metrics) RecordTransition(from, to string) {
	if m == nil {
		return
	}
	m.StatusTransitions.WithLabelValues(from, to).Inc()
}

func (m *Metrics) RecordCompletion(processingDays int) {
	if m == nil {
		return
	}
	m.ProcessingDays.Observe(float64(processingDays))
}

func (m *Metrics) SetOverdue(n int) {
	if m == nil {
		return
	}
	m.OverdueRequests.Set(float64(n))
}

func (m *Metrics) RecordResponsePackage(format string) {
	if m == nil {
		return
	}
	m.ResponsePackages.WithLabelValues(format).Inc()
}

func (m *Metrics) RecordNotification(notificationType string) {
	if m == nil {
		return
	}
	m.NotificationsSent.WithLabelValues(notificationType).Inc()
}
