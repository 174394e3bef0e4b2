package models

import (
	"strings"
	"time"

	"kinwatch/internal/geo"
	id "kinwatch/pkg/domain"
	dErrors "kinwatch/pkg/domain-errors"
)

// Geofence is a guardian-defined circular region.
//
// Invariants:
//   - RadiusMeters > 0
//   - Center is a valid coordinate
//   - TargetSubjectID nil means the fence applies to every subject monitored
//     by GuardianID
type Geofence struct {
	ID              id.GeofenceID `json:"id"`
	GuardianID      id.SubjectID  `json:"guardian_id"`
	TargetSubjectID *id.SubjectID `json:"target_subject_id,omitempty"`
	Name            string        `json:"name"`
	Center          geo.Point     `json:"center"`
	RadiusMeters    float64       `json:"radius_meters"`
	Active          bool          `json:"active"`
	NotifyOnEntry   bool          `json:"notify_on_entry"`
	NotifyOnExit    bool          `json:"notify_on_exit"`
}

func (g *Geofence) Validate() error {
	if g.ID.IsNil() || g.GuardianID.IsNil() {
		return dErrors.New(dErrors.CodeInvariantViolation, "geofence id and guardian id are required")
	}
	if strings.TrimSpace(g.Name) == "" {
		return dErrors.New(dErrors.CodeInvariantViolation, "geofence name is required")
	}
	if !(g.RadiusMeters > 0) {
		return dErrors.New(dErrors.CodeInvariantViolation, "geofence radius must be positive")
	}
	if err := geo.ValidateCoordinates(g.Center.Lat, g.Center.Lon); err != nil {
		return dErrors.New(dErrors.CodeInvariantViolation, "geofence center out of range")
	}
	return nil
}

// AppliesTo reports whether the fence targets subjectID.
func (g *Geofence) AppliesTo(subjectID id.SubjectID) bool {
	return g.TargetSubjectID == nil || *g.TargetSubjectID == subjectID
}

// Contains reports whether p is inside the fence, boundary included.
func (g *Geofence) Contains(p geo.Point) bool {
	return geo.Within(p, g.Center, g.RadiusMeters)
}

func (g *Geofence) Clone() *Geofence {
	c := *g
	if g.TargetSubjectID != nil {
		t := *g.TargetSubjectID
		c.TargetSubjectID = &t
	}
	return &c
}

// Direction is the kind of boundary crossing.
type Direction string

const (
	DirectionEntry Direction = "ENTRY"
	DirectionExit  Direction = "EXIT"
)

// MembershipKey identifies one subject/geofence pair.
type MembershipKey struct {
	SubjectID  id.SubjectID
	GeofenceID id.GeofenceID
}

// MembershipState is the last evaluated inside/outside status for a key.
// Version is the optimistic concurrency token: 0 means no record exists,
// and every successful write stores the previous version plus one.
//
// LastLocationID is the point that produced this status and LastTransition
// the crossing it decided, empty when the status did not flip. A redelivered
// point matching LastLocationID re-raises LastTransition instead of being
// compared against its own result.
type MembershipState struct {
	SubjectID      id.SubjectID  `json:"subject_id"`
	GeofenceID     id.GeofenceID `json:"geofence_id"`
	IsInside       bool          `json:"is_inside"`
	LastChecked    time.Time     `json:"last_checked"`
	LastLocationID string        `json:"last_location_id,omitempty"`
	LastTransition Direction     `json:"last_transition,omitempty"`
	Version        uint64        `json:"version"`
}

func (m *MembershipState) Key() MembershipKey {
	return MembershipKey{SubjectID: m.SubjectID, GeofenceID: m.GeofenceID}
}

// Transition decides which crossing, if any, to alert on. A missing prior
// state counts as outside, so a first sample inside the fence is an entry.
func Transition(wasInside, isInside bool, g *Geofence) (Direction, bool) {
	switch {
	case !wasInside && isInside && g.NotifyOnEntry:
		return DirectionEntry, true
	case wasInside && !isInside && g.NotifyOnExit:
		return DirectionExit, true
	default:
		return "", false
	}
}
