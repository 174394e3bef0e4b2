package models

import (
	"strconv"
	"time"

	"kinwatch/internal/geo"
	id "kinwatch/pkg/domain"
)

// LocationPoint is one immutable position sample from a subject's device.
//
// ID is derived from (SubjectID, Timestamp) at millisecond precision, so a
// device retrying the same sample maps to the same record.
type LocationPoint struct {
	ID         string       `json:"id"`
	SubjectID  id.SubjectID `json:"subject_id"`
	Latitude   float64      `json:"latitude"`
	Longitude  float64      `json:"longitude"`
	Accuracy   *float64     `json:"accuracy,omitempty"`
	Timestamp  time.Time    `json:"timestamp"`
	ReceivedAt time.Time    `json:"received_at"`
	Source     string       `json:"source,omitempty"`
}

// PointID derives the location id for a sample.
func PointID(subjectID id.SubjectID, ts time.Time) string {
	return subjectID.String() + ":" + strconv.FormatInt(ts.UnixMilli(), 10)
}

// Point returns the sample's coordinates.
func (p *LocationPoint) Point() geo.Point {
	return geo.Point{Lat: p.Latitude, Lon: p.Longitude}
}

// ThrottlePolicy is the producer-side send threshold clients fetch from the
// server. The server does not enforce it on ingest.
type ThrottlePolicy struct {
	MinInterval           time.Duration
	MinDisplacementMeters float64
}

// ShouldSend reports whether a device should upload next given the last
// sample it uploaded. Either threshold alone is enough.
func (p ThrottlePolicy) ShouldSend(prev *LocationPoint, next LocationPoint) bool {
	if prev == nil {
		return true
	}
	if next.Timestamp.Sub(prev.Timestamp) >= p.MinInterval {
		return true
	}
	return geo.DistanceMeters(prev.Point(), next.Point()) >= p.MinDisplacementMeters
}
