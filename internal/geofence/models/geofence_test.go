package models

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"kinwatch/internal/geo"
	id "kinwatch/pkg/domain"
	"kinwatch/pkg/testutil"
)

func TestTransition(t *testing.T) {
	both := &Geofence{NotifyOnEntry: true, NotifyOnExit: true}
	entryOnly := &Geofence{NotifyOnEntry: true}
	exitOnly := &Geofence{NotifyOnExit: true}

	tests := []struct {
		name      string
		wasInside bool
		isInside  bool
		fence     *Geofence
		want      Direction
		fires     bool
	}{
		{"outside to inside", false, true, both, DirectionEntry, true},
		{"inside to outside", true, false, both, DirectionExit, true},
		{"stays inside", true, true, both, "", false},
		{"stays outside", false, false, both, "", false},
		{"entry muted", false, true, exitOnly, "", false},
		{"exit muted", true, false, entryOnly, "", false},
		{"entry with exit muted", false, true, entryOnly, DirectionEntry, true},
		{"exit with entry muted", true, false, exitOnly, DirectionExit, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, fires := Transition(tt.wasInside, tt.isInside, tt.fence)
			assert.Equal(t, tt.fires, fires)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGeofence_AppliesTo(t *testing.T) {
	child := id.SubjectID(uuid.New())
	sibling := id.SubjectID(uuid.New())

	all := &Geofence{}
	targeted := &Geofence{TargetSubjectID: &child}

	assert.True(t, all.AppliesTo(child))
	assert.True(t, all.AppliesTo(sibling))
	assert.True(t, targeted.AppliesTo(child))
	assert.False(t, targeted.AppliesTo(sibling))
}

func TestGeofence_Validate(t *testing.T) {
	valid := func() *Geofence {
		return &Geofence{
			ID:           id.GeofenceID(uuid.New()),
			GuardianID:   id.SubjectID(uuid.New()),
			Name:         "School",
			Center:       geo.Point{Lat: 40, Lon: -74},
			RadiusMeters: 150,
		}
	}
	assert.NoError(t, valid().Validate())

	zero := valid()
	zero.RadiusMeters = 0
	assert.Error(t, zero.Validate())

	offMap := valid()
	offMap.Center.Lat = 95
	assert.Error(t, offMap.Validate())

	unnamed := valid()
	unnamed.Name = ""
	assert.Error(t, unnamed.Validate())
}

func TestGeofence_WalkThrough(t *testing.T) {
	school := &Geofence{
		Center:        geo.Point{Lat: 40.7128, Lon: -74.0060},
		RadiusMeters:  200,
		NotifyOnEntry: true,
		NotifyOnExit:  true,
	}
	outside := geo.Point{Lat: 40.7200, Lon: -74.0060}
	inside := geo.Point{Lat: 40.7130, Lon: -74.0061}

	testutil.Given(t, "a child approaching the school fence", func(t *testing.T) {
		wasInside := school.Contains(outside)
		assert.False(t, wasInside)

		testutil.When(t, "the next sample lands inside", func(t *testing.T) {
			isInside := school.Contains(inside)

			testutil.Then(t, "an entry fires", func(t *testing.T) {
				got, fires := Transition(wasInside, isInside, school)
				assert.True(t, fires)
				assert.Equal(t, DirectionEntry, got)
			})
		})

		testutil.When(t, "the child walks back out", func(t *testing.T) {
			testutil.Then(t, "an exit fires", func(t *testing.T) {
				got, fires := Transition(school.Contains(inside), school.Contains(outside), school)
				assert.True(t, fires)
				assert.Equal(t, DirectionExit, got)
			})
		})
	})
}
