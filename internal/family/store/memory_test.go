package store

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"kinwatch/internal/family/models"
	id "kinwatch/pkg/domain"
	dErrors "kinwatch/pkg/domain-errors"
	"kinwatch/pkg/platform/sentinel"
)

type FamilyStoreSuite struct {
	suite.Suite
	store *InMemory
	ctx   context.Context
}

func TestFamilyStoreSuite(t *testing.T) {
	suite.Run(t, new(FamilyStoreSuite))
}

func (s *FamilyStoreSuite) SetupTest() {
	s.store = NewInMemory()
	s.ctx = context.Background()
}

func (s *FamilyStoreSuite) TestSaveAndFind() {
	guardian := &models.Subject{
		ID:           id.SubjectID(uuid.New()),
		Role:         models.RoleGuardian,
		Name:         "Ana",
		ContactPhone: "+15551230000",
		TrustedContacts: []models.TrustedContact{
			{Name: "Gran", Phone: "+15551230001"},
		},
		Active: true,
	}
	s.Require().NoError(s.store.Save(s.ctx, guardian))

	s.Run("returns a copy of the stored subject", func() {
		found, err := s.store.FindByID(s.ctx, guardian.ID)
		s.Require().NoError(err)
		s.Equal(guardian, found)

		found.TrustedContacts[0].Phone = "mutated"
		again, err := s.store.FindByID(s.ctx, guardian.ID)
		s.Require().NoError(err)
		s.Equal("+15551230001", again.TrustedContacts[0].Phone)
	})

	s.Run("returns ErrNotFound for unknown subject", func() {
		_, err := s.store.FindByID(s.ctx, id.SubjectID(uuid.New()))
		s.ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("rejects subjects that violate invariants", func() {
		err := s.store.Save(s.ctx, &models.Subject{ID: id.SubjectID(uuid.New()), Role: models.RoleMonitored, Name: "Leo"})
		s.True(dErrors.HasCode(err, dErrors.CodeInvariantViolation))
	})
}
