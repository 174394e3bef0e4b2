package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_NilReceiver(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.IncrementRecorded()
		m.IncrementDuplicated()
		m.IncrementRejected("stale")
	})
}

func TestMetrics_Counts(t *testing.T) {
	m := NewWith(prometheus.NewRegistry())
	m.IncrementRecorded()
	m.IncrementRejected("stale")
	m.IncrementRejected("stale")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.LocationsRecorded))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.LocationsRejected.WithLabelValues("stale")))
	assert.Zero(t, testutil.ToFloat64(m.LocationsDuplicated))
}
