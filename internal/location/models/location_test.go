package models

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	id "kinwatch/pkg/domain"
)

func TestPointID(t *testing.T) {
	subjectID := id.SubjectID(uuid.New())
	ts := time.Date(2026, 3, 1, 12, 0, 0, 123_456_789, time.UTC)

	pointID := PointID(subjectID, ts)
	assert.Equal(t, subjectID.String()+":1772366400123", pointID)

	t.Run("sub-millisecond retries map to the same id", func(t *testing.T) {
		assert.Equal(t, pointID, PointID(subjectID, ts.Add(100*time.Microsecond)))
	})

	t.Run("distinct subjects never collide", func(t *testing.T) {
		assert.NotEqual(t, pointID, PointID(id.SubjectID(uuid.New()), ts))
	})
}

func TestThrottlePolicy_ShouldSend(t *testing.T) {
	policy := ThrottlePolicy{MinInterval: 30 * time.Second, MinDisplacementMeters: 50}
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	prev := &LocationPoint{Latitude: 40.0, Longitude: -74.0, Timestamp: t0}

	tests := []struct {
		name string
		next LocationPoint
		want bool
	}{
		{"too soon and too close", LocationPoint{Latitude: 40.0001, Longitude: -74.0, Timestamp: t0.Add(10 * time.Second)}, false},
		{"interval elapsed", LocationPoint{Latitude: 40.0, Longitude: -74.0, Timestamp: t0.Add(30 * time.Second)}, true},
		{"moved far enough", LocationPoint{Latitude: 40.001, Longitude: -74.0, Timestamp: t0.Add(5 * time.Second)}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, policy.ShouldSend(prev, tt.next))
		})
	}

	t.Run("first sample always sends", func(t *testing.T) {
		assert.True(t, policy.ShouldSend(nil, LocationPoint{Timestamp: t0}))
	})
}
