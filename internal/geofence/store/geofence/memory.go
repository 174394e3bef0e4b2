package geofence

import (
	"context"
	"sort"
	"sync"

	"kinwatch/internal/geofence/models"
	id "kinwatch/pkg/domain"
)

// InMemory stores geofences indexed by guardian.
type InMemory struct {
	mu         sync.RWMutex
	fences     map[id.GeofenceID]*models.Geofence
	byGuardian map[id.SubjectID]map[id.GeofenceID]struct{}
}

func NewInMemory() *InMemory {
	return &InMemory{
		fences:     make(map[id.GeofenceID]*models.Geofence),
		byGuardian: make(map[id.SubjectID]map[id.GeofenceID]struct{}),
	}
}

func (s *InMemory) Save(_ context.Context, g *models.Geofence) error {
	if err := g.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.fences[g.ID]; ok && prev.GuardianID != g.GuardianID {
		delete(s.byGuardian[prev.GuardianID], g.ID)
	}
	s.fences[g.ID] = g.Clone()
	if s.byGuardian[g.GuardianID] == nil {
		s.byGuardian[g.GuardianID] = make(map[id.GeofenceID]struct{})
	}
	s.byGuardian[g.GuardianID][g.ID] = struct{}{}
	return nil
}

// ListActiveByGuardian returns the guardian's active fences ordered by name.
func (s *InMemory) ListActiveByGuardian(_ context.Context, guardianID id.SubjectID) ([]*models.Geofence, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Geofence
	for fenceID := range s.byGuardian[guardianID] {
		if g := s.fences[fenceID]; g.Active {
			out = append(out, g.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}
