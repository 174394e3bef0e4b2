package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the pipeline-level Prometheus metrics: change-stream batches
// and HTTP traffic. Bounded contexts register their own in <ctx>/metrics.
type Metrics struct {
	BatchesProcessed *prometheus.CounterVec
	BatchDuration    *prometheus.HistogramVec
	RecordsSkipped   *prometheus.CounterVec
	HTTPRequests     *prometheus.CounterVec
}

// New registers on the default registry.
func New() *Metrics {
	return NewWith(prometheus.DefaultRegisterer)
}

// NewWith registers on reg; tests pass a fresh prometheus.NewRegistry().
func NewWith(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		BatchesProcessed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kinwatch_changestream_batches_total",
			Help: "Change-stream batches handled, by topic and outcome",
		}, []string{"topic", "outcome"}),
		BatchDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kinwatch_changestream_batch_duration_seconds",
			Help:    "Time spent handling one change-stream batch",
			Buckets: prometheus.DefBuckets,
		}, []string{"topic"}),
		RecordsSkipped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kinwatch_changestream_records_skipped_total",
			Help: "Change-stream records that could not be decoded",
		}, []string{"topic"}),
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kinwatch_http_requests_total",
			Help: "HTTP requests by route and status class",
		}, []string{"route", "status"}),
	}
}

func (m *Metrics) ObserveBatch(topic string, start time.Time, err error) {
	if m == nil {
		return
	}
	outcome := "committed"
	if err != nil {
		outcome = "rewound"
	}
	m.BatchesProcessed.WithLabelValues(topic, outcome).Inc()
	m.BatchDuration.WithLabelValues(topic).Observe(time.Since(start).Seconds())
}

func (m *Metrics) IncrementRecordsSkipped(topic string) {
	if m == nil {
		return
	}
	m.RecordsSkipped.WithLabelValues(topic).Inc()
}

func (m *Metrics) IncrementHTTPRequests(route, status string) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(route, status).Inc()
}
