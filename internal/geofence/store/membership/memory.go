package membership

import (
	"context"
	"sync"

	"kinwatch/internal/geofence/models"
	"kinwatch/pkg/platform/sentinel"
)

// InMemory holds one state per subject/geofence pair behind a mutex.
type InMemory struct {
	mu     sync.Mutex
	states map[models.MembershipKey]models.MembershipState
}

func NewInMemory() *InMemory {
	return &InMemory{states: make(map[models.MembershipKey]models.MembershipState)}
}

func (s *InMemory) Get(_ context.Context, key models.MembershipKey) (*models.MembershipState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.states[key]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &state, nil
}

func (s *InMemory) CompareAndSwap(_ context.Context, next *models.MembershipState, expectedVersion uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := next.Key()
	if s.states[key].Version != expectedVersion {
		return sentinel.ErrConflict
	}
	next.Version = expectedVersion + 1
	s.states[key] = *next
	return nil
}
