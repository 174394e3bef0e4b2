package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"kinwatch/internal/location/models"
	id "kinwatch/pkg/domain"
	"kinwatch/pkg/platform/sentinel"
)

// InMemory keeps samples per subject ordered newest first.
type InMemory struct {
	mu        sync.RWMutex
	byID      map[string]*models.LocationPoint
	bySubject map[id.SubjectID][]*models.LocationPoint
}

func NewInMemory() *InMemory {
	return &InMemory{
		byID:      make(map[string]*models.LocationPoint),
		bySubject: make(map[id.SubjectID][]*models.LocationPoint),
	}
}

func (s *InMemory) InsertIfAbsent(_ context.Context, p *models.LocationPoint) (*models.LocationPoint, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.byID[p.ID]; ok {
		return clonePoint(existing), false, nil
	}
	stored := clonePoint(p)
	s.byID[p.ID] = stored

	points := append(s.bySubject[p.SubjectID], stored)
	sort.SliceStable(points, func(i, j int) bool {
		return points[i].Timestamp.After(points[j].Timestamp)
	})
	s.bySubject[p.SubjectID] = points
	return clonePoint(stored), true, nil
}

func (s *InMemory) LatestBySubject(_ context.Context, subjectID id.SubjectID) (*models.LocationPoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	points := s.bySubject[subjectID]
	if len(points) == 0 {
		return nil, sentinel.ErrNotFound
	}
	return clonePoint(points[0]), nil
}

// ListRecentBySubject returns samples at or after since, newest first.
func (s *InMemory) ListRecentBySubject(_ context.Context, subjectID id.SubjectID, since time.Time, limit int) ([]*models.LocationPoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.LocationPoint
	for _, p := range s.bySubject[subjectID] {
		if p.Timestamp.Before(since) || (limit > 0 && len(out) == limit) {
			break
		}
		out = append(out, clonePoint(p))
	}
	return out, nil
}

func clonePoint(p *models.LocationPoint) *models.LocationPoint {
	c := *p
	if p.Accuracy != nil {
		a := *p.Accuracy
		c.Accuracy = &a
	}
	return &c
}
