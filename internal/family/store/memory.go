package store

import (
	"context"
	"sync"

	"kinwatch/internal/family/models"
	id "kinwatch/pkg/domain"
	"kinwatch/pkg/platform/sentinel"
)

// InMemory is the family directory used in development and tests.
type InMemory struct {
	mu       sync.RWMutex
	subjects map[id.SubjectID]*models.Subject
}

func NewInMemory() *InMemory {
	return &InMemory{subjects: make(map[id.SubjectID]*models.Subject)}
}

func (s *InMemory) FindByID(_ context.Context, subjectID id.SubjectID) (*models.Subject, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	subject, ok := s.subjects[subjectID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return subject.Clone(), nil
}

// Save inserts or replaces a subject after validating it.
func (s *InMemory) Save(_ context.Context, subject *models.Subject) error {
	if err := subject.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subjects[subject.ID] = subject.Clone()
	return nil
}
