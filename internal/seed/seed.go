// Package seed loads a YAML fixture of subjects and geofences. Profile and
// geofence management live outside this service, so local and demo
// deployments populate the read-only directory from a file.
package seed

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/goccy/go-yaml"

	familymodels "kinwatch/internal/family/models"
	"kinwatch/internal/geo"
	geofencemodels "kinwatch/internal/geofence/models"
	id "kinwatch/pkg/domain"
)

type SubjectSaver interface {
	Save(ctx context.Context, subject *familymodels.Subject) error
}

type GeofenceSaver interface {
	Save(ctx context.Context, g *geofencemodels.Geofence) error
}

type File struct {
	Subjects  []Subject  `yaml:"subjects"`
	Geofences []Geofence `yaml:"geofences"`
}

type Contact struct {
	Name  string `yaml:"name"`
	Phone string `yaml:"phone"`
}

type Subject struct {
	ID       string    `yaml:"id"`
	Role     string    `yaml:"role"`
	Guardian string    `yaml:"guardian"`
	Name     string    `yaml:"name"`
	Phone    string    `yaml:"phone"`
	Contacts []Contact `yaml:"trusted_contacts"`
	Inactive bool      `yaml:"inactive"`
}

type Geofence struct {
	ID            string  `yaml:"id"`
	Guardian      string  `yaml:"guardian"`
	Target        string  `yaml:"target"`
	Name          string  `yaml:"name"`
	Latitude      float64 `yaml:"latitude"`
	Longitude     float64 `yaml:"longitude"`
	RadiusMeters  float64 `yaml:"radius_meters"`
	NotifyOnEntry *bool   `yaml:"notify_on_entry"`
	NotifyOnExit  *bool   `yaml:"notify_on_exit"`
	Inactive      bool    `yaml:"inactive"`
}

// Summary counts what Apply stored.
type Summary struct {
	Subjects  int
	Geofences int
}

func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse seed file: %w", err)
	}
	return &f, nil
}

func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	return Parse(data)
}

// Apply saves guardians first, then monitored subjects, then geofences. Notify
// flags default to true when omitted.
func (f *File) Apply(ctx context.Context, subjects SubjectSaver, geofences GeofenceSaver) (Summary, error) {
	var sum Summary
	converted := make([]*familymodels.Subject, 0, len(f.Subjects))
	for i, entry := range f.Subjects {
		s, err := entry.toModel()
		if err != nil {
			return sum, fmt.Errorf("subject %d: %w", i, err)
		}
		converted = append(converted, s)
	}
	for _, pass := range []familymodels.Role{familymodels.RoleGuardian, familymodels.RoleMonitored} {
		for _, s := range converted {
			if s.Role != pass {
				continue
			}
			if err := subjects.Save(ctx, s); err != nil {
				return sum, fmt.Errorf("save subject %s: %w", s.Name, err)
			}
			sum.Subjects++
		}
	}

	for i, entry := range f.Geofences {
		g, err := entry.toModel()
		if err != nil {
			return sum, fmt.Errorf("geofence %d: %w", i, err)
		}
		if err := geofences.Save(ctx, g); err != nil {
			return sum, fmt.Errorf("save geofence %s: %w", g.Name, err)
		}
		sum.Geofences++
	}
	return sum, nil
}

func (s Subject) toModel() (*familymodels.Subject, error) {
	subjectID, err := id.ParseSubjectID(s.ID)
	if err != nil {
		return nil, err
	}
	role := familymodels.Role(s.Role)
	if !role.IsValid() {
		return nil, fmt.Errorf("unknown role %q", s.Role)
	}
	out := &familymodels.Subject{
		ID:           subjectID,
		Role:         role,
		Name:         s.Name,
		ContactPhone: s.Phone,
		Active:       !s.Inactive,
	}
	if s.Guardian != "" {
		guardianID, err := id.ParseSubjectID(s.Guardian)
		if err != nil {
			return nil, fmt.Errorf("guardian: %w", err)
		}
		out.GuardianID = &guardianID
	}
	for _, c := range s.Contacts {
		out.TrustedContacts = append(out.TrustedContacts, familymodels.TrustedContact{Name: c.Name, Phone: c.Phone})
	}
	return out, nil
}

func (g Geofence) toModel() (*geofencemodels.Geofence, error) {
	geofenceID, err := id.ParseGeofenceID(g.ID)
	if err != nil {
		return nil, err
	}
	guardianID, err := id.ParseSubjectID(g.Guardian)
	if err != nil {
		return nil, fmt.Errorf("guardian: %w", err)
	}
	if g.Name == "" {
		return nil, errors.New("name is required")
	}
	out := &geofencemodels.Geofence{
		ID:            geofenceID,
		GuardianID:    guardianID,
		Name:          g.Name,
		Center:        geo.Point{Lat: g.Latitude, Lon: g.Longitude},
		RadiusMeters:  g.RadiusMeters,
		Active:        !g.Inactive,
		NotifyOnEntry: g.NotifyOnEntry == nil || *g.NotifyOnEntry,
		NotifyOnExit:  g.NotifyOnExit == nil || *g.NotifyOnExit,
	}
	if g.Target != "" {
		targetID, err := id.ParseSubjectID(g.Target)
		if err != nil {
			return nil, fmt.Errorf("target: %w", err)
		}
		out.TargetSubjectID = &targetID
	}
	return out, nil
}
