package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	AlertsCreated        *prometheus.CounterVec
	AlertsDuplicate      *prometheus.CounterVec
	PanicRateLimited     prometheus.Counter
	NotificationsSent    *prometheus.CounterVec
	NotificationsFailed  *prometheus.CounterVec
	AlertsWithoutContact prometheus.Counter
}

func New() *Metrics {
	return NewWith(prometheus.DefaultRegisterer)
}

func NewWith(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		AlertsCreated: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kinwatch_alerts_created_total",
			Help: "Alerts persisted, by type",
		}, []string{"type"}),
		AlertsDuplicate: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kinwatch_alerts_duplicate_total",
			Help: "Alert writes suppressed by an existing idempotency key, by type",
		}, []string{"type"}),
		PanicRateLimited: f.NewCounter(prometheus.CounterOpts{
			Name: "kinwatch_panic_rate_limited_total",
			Help: "Panic triggers rejected by the per-subject window",
		}),
		NotificationsSent: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kinwatch_notifications_sent_total",
			Help: "SMS notifications accepted by the gateway, by alert type",
		}, []string{"type"}),
		NotificationsFailed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kinwatch_notifications_failed_total",
			Help: "SMS notifications the gateway rejected, by alert type",
		}, []string{"type"}),
		AlertsWithoutContact: f.NewCounter(prometheus.CounterOpts{
			Name: "kinwatch_alerts_without_recipient_total",
			Help: "Alerts dispatched with no usable recipient phone",
		}),
	}
}

func (m *Metrics) IncrementCreated(alertType string) {
	if m == nil {
		return
	}
	m.AlertsCreated.WithLabelValues(alertType).Inc()
}

func (m *Metrics) IncrementDuplicate(alertType string) {
	if m == nil {
		return
	}
	m.AlertsDuplicate.WithLabelValues(alertType).Inc()
}

func (m *Metrics) IncrementPanicRateLimited() {
	if m == nil {
		return
	}
	m.PanicRateLimited.Inc()
}

func (m *Metrics) IncrementSent(alertType string) {
	if m == nil {
		return
	}
	m.NotificationsSent.WithLabelValues(alertType).Inc()
}

func (m *Metrics) IncrementFailed(alertType string) {
	if m == nil {
		return
	}
	m.NotificationsFailed.WithLabelValues(alertType).Inc()
}

func (m *Metrics) IncrementWithoutRecipient() {
	if m == nil {
		return
	}
	m.AlertsWithoutContact.Inc()
}
