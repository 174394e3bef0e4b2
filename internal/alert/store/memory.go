package store

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"kinwatch/internal/alert/models"
	id "kinwatch/pkg/domain"
	"kinwatch/pkg/platform/sentinel"
)

// InMemory enforces idempotency-key uniqueness under a single lock.
type InMemory struct {
	mu        sync.RWMutex
	byID      map[id.AlertID]*models.Alert
	byKey     map[string]id.AlertID
	bySubject map[id.SubjectID][]*models.Alert
}

func NewInMemory() *InMemory {
	return &InMemory{
		byID:      make(map[id.AlertID]*models.Alert),
		byKey:     make(map[string]id.AlertID),
		bySubject: make(map[id.SubjectID][]*models.Alert),
	}
}

func (s *InMemory) CreateIfAbsent(_ context.Context, a *models.Alert) (*models.Alert, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existingID, ok := s.byKey[a.IdempotencyKey]; ok {
		return s.byID[existingID].Clone(), false, nil
	}
	if _, ok := s.byID[a.ID]; ok {
		return nil, false, sentinel.ErrAlreadyExists
	}
	stored := a.Clone()
	s.byID[a.ID] = stored
	s.byKey[a.IdempotencyKey] = a.ID

	alerts := append(s.bySubject[a.SubjectID], stored)
	sort.SliceStable(alerts, func(i, j int) bool {
		return alerts[i].Timestamp.After(alerts[j].Timestamp)
	})
	s.bySubject[a.SubjectID] = alerts
	return stored.Clone(), true, nil
}

// ListBySubjectSince returns the subject's alerts of the given types with a
// timestamp at or after since, newest first. No types means all types.
func (s *InMemory) ListBySubjectSince(_ context.Context, subjectID id.SubjectID, types []models.Type, since time.Time) ([]*models.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Alert
	for _, a := range s.bySubject[subjectID] {
		if a.Timestamp.Before(since) {
			break
		}
		if len(types) == 0 || slices.Contains(types, a.Type) {
			out = append(out, a.Clone())
		}
	}
	return out, nil
}
