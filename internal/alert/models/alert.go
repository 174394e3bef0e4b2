package models

import (
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"

	"kinwatch/internal/geo"
	id "kinwatch/pkg/domain"
)

// Type classifies an alert.
type Type string

const (
	TypePanic         Type = "PANIC"
	TypeGeofenceEntry Type = "GEOFENCE_ENTRY"
	TypeGeofenceExit  Type = "GEOFENCE_EXIT"
)

func (t Type) IsValid() bool {
	switch t {
	case TypePanic, TypeGeofenceEntry, TypeGeofenceExit:
		return true
	}
	return false
}

// DefaultPanicMessage is used when the subject sends no text.
const DefaultPanicMessage = "Emergency! I need help."

// Alert is a persisted safety event addressed to a guardian. Alerts are
// created once and never modified by the pipeline.
type Alert struct {
	ID             id.AlertID     `json:"id"`
	IdempotencyKey string         `json:"idempotency_key"`
	SubjectID      id.SubjectID   `json:"subject_id"`
	GuardianID     id.SubjectID   `json:"guardian_id"`
	Type           Type           `json:"type"`
	Location       geo.Point      `json:"location"`
	GeofenceID     *id.GeofenceID `json:"geofence_id,omitempty"`
	GeofenceName   string         `json:"geofence_name,omitempty"`
	Message        string         `json:"message"`
	IsRead         bool           `json:"is_read"`
	Timestamp      time.Time      `json:"timestamp"`
}

func (a *Alert) Clone() *Alert {
	c := *a
	if a.GeofenceID != nil {
		g := *a.GeofenceID
		c.GeofenceID = &g
	}
	return &c
}

// TransitionKey identifies the alert for one boundary crossing observed at
// one location sample. Redelivering the same sample yields the same key.
func TransitionKey(subjectID id.SubjectID, geofenceID id.GeofenceID, t Type, locationID string) string {
	return digest(subjectID.String(), geofenceID.String(), string(t), locationID)
}

// PanicKey identifies a panic raised by subjectID at ts (millisecond precision).
func PanicKey(subjectID id.SubjectID, ts time.Time) string {
	return digest(subjectID.String(), string(TypePanic), strconv.FormatInt(ts.UnixMilli(), 10))
}

func digest(parts ...string) string {
	sum := blake2b.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}
