package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	PointsEvaluated    prometheus.Counter
	PointsSkipped      *prometheus.CounterVec
	FenceEvaluations   prometheus.Counter
	Transitions        *prometheus.CounterVec
	CASConflicts       prometheus.Counter
	EvaluationFailures *prometheus.CounterVec
}

func New() *Metrics {
	return NewWith(prometheus.DefaultRegisterer)
}

func NewWith(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		PointsEvaluated: f.NewCounter(prometheus.CounterOpts{
			Name: "kinwatch_geofence_points_evaluated_total",
			Help: "Location points run through geofence evaluation",
		}),
		PointsSkipped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kinwatch_geofence_points_skipped_total",
			Help: "Location points skipped before evaluation, by reason",
		}, []string{"reason"}),
		FenceEvaluations: f.NewCounter(prometheus.CounterOpts{
			Name: "kinwatch_geofence_evaluations_total",
			Help: "Point and geofence pairs evaluated",
		}),
		Transitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kinwatch_geofence_transitions_total",
			Help: "Boundary crossings that produced an alert, by direction",
		}, []string{"direction"}),
		CASConflicts: f.NewCounter(prometheus.CounterOpts{
			Name: "kinwatch_geofence_membership_cas_conflicts_total",
			Help: "Membership writes that lost a compare-and-swap race",
		}),
		EvaluationFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kinwatch_geofence_evaluation_failures_total",
			Help: "Evaluation steps that failed on a dependency, by stage",
		}, []string{"stage"}),
	}
}

func (m *Metrics) IncrementPointsEvaluated() {
	if m == nil {
		return
	}
	m.PointsEvaluated.Inc()
}

func (m *Metrics) IncrementPointsSkipped(reason string) {
	if m == nil {
		return
	}
	m.PointsSkipped.WithLabelValues(reason).Inc()
}

func (m *Metrics) IncrementFenceEvaluations() {
	if m == nil {
		return
	}
	m.FenceEvaluations.Inc()
}

func (m *Metrics) IncrementTransitions(direction string) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(direction).Inc()
}

func (m *Metrics) IncrementCASConflicts() {
	if m == nil {
		return
	}
	m.CASConflicts.Inc()
}

func (m *Metrics) IncrementFailures(stage string) {
	if m == nil {
		return
	}
	m.EvaluationFailures.WithLabelValues(stage).Inc()
}
