package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics methods are safe on a nil receiver.
type Metrics struct {
	LocationsRecorded   prometheus.Counter
	LocationsDuplicated prometheus.Counter
	LocationsRejected   *prometheus.CounterVec
}

func New() *Metrics {
	return NewWith(prometheus.DefaultRegisterer)
}

func NewWith(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		LocationsRecorded: f.NewCounter(prometheus.CounterOpts{
			Name: "kinwatch_locations_recorded_total",
			Help: "Location samples accepted and stored",
		}),
		LocationsDuplicated: f.NewCounter(prometheus.CounterOpts{
			Name: "kinwatch_locations_duplicate_total",
			Help: "Location samples that matched an already stored sample",
		}),
		LocationsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kinwatch_locations_rejected_total",
			Help: "Location samples rejected by validation, by reason",
		}, []string{"reason"}),
	}
}

func (m *Metrics) IncrementRecorded() {
	if m == nil {
		return
	}
	m.LocationsRecorded.Inc()
}

func (m *Metrics) IncrementDuplicated() {
	if m == nil {
		return
	}
	m.LocationsDuplicated.Inc()
}

func (m *Metrics) IncrementRejected(reason string) {
	if m == nil {
		return
	}
	m.LocationsRejected.WithLabelValues(reason).Inc()
}
