// Package domain holds the typed identifiers shared across bounded contexts.
//
// Identifiers are UUID-backed distinct types so that a GeofenceID can never be
// passed where a SubjectID is expected. Parse functions are the trust boundary:
// they reject empty, malformed, and nil UUIDs with CodeInvalidInput.
package domain

import (
	"github.com/google/uuid"

	dErrors "kinwatch/pkg/domain-errors"
)

// SubjectID identifies a family member (guardian or monitored subject).
type SubjectID uuid.UUID

// GeofenceID identifies a guardian-defined geofence.
type GeofenceID uuid.UUID

// AlertID identifies a persisted alert.
type AlertID uuid.UUID

func parseUUID(kind, s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, kind+" is required")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+kind)
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, kind+" cannot be nil")
	}
	return u, nil
}

// ParseSubjectID parses and validates a subject id.
func ParseSubjectID(s string) (SubjectID, error) {
	u, err := parseUUID("subject_id", s)
	return SubjectID(u), err
}

// ParseGeofenceID parses and validates a geofence id.
func ParseGeofenceID(s string) (GeofenceID, error) {
	u, err := parseUUID("geofence_id", s)
	return GeofenceID(u), err
}

// ParseAlertID parses and validates an alert id.
func ParseAlertID(s string) (AlertID, error) {
	u, err := parseUUID("alert_id", s)
	return AlertID(u), err
}

func (id SubjectID) String() string  { return uuid.UUID(id).String() }
func (id SubjectID) IsNil() bool     { return uuid.UUID(id) == uuid.Nil }
func (id GeofenceID) String() string { return uuid.UUID(id).String() }
func (id GeofenceID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
func (id AlertID) String() string    { return uuid.UUID(id).String() }
func (id AlertID) IsNil() bool       { return uuid.UUID(id) == uuid.Nil }

func (id SubjectID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }

func (id *SubjectID) UnmarshalText(b []byte) error {
	return (*uuid.UUID)(id).UnmarshalText(b)
}

func (id GeofenceID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }

func (id *GeofenceID) UnmarshalText(b []byte) error {
	return (*uuid.UUID)(id).UnmarshalText(b)
}

func (id AlertID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }

func (id *AlertID) UnmarshalText(b []byte) error {
	return (*uuid.UUID)(id).UnmarshalText(b)
}
