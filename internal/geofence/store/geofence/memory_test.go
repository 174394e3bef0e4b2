package geofence

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"kinwatch/internal/geo"
	"kinwatch/internal/geofence/models"
	id "kinwatch/pkg/domain"
)

type GeofenceStoreSuite struct {
	suite.Suite
	store    *InMemory
	ctx      context.Context
	guardian id.SubjectID
}

func TestGeofenceStoreSuite(t *testing.T) {
	suite.Run(t, new(GeofenceStoreSuite))
}

func (s *GeofenceStoreSuite) SetupTest() {
	s.store = NewInMemory()
	s.ctx = context.Background()
	s.guardian = id.SubjectID(uuid.New())
}

func (s *GeofenceStoreSuite) fence(name string, active bool) *models.Geofence {
	return &models.Geofence{
		ID:           id.GeofenceID(uuid.New()),
		GuardianID:   s.guardian,
		Name:         name,
		Center:       geo.Point{Lat: 40, Lon: -74},
		RadiusMeters: 100,
		Active:       active,
	}
}

func (s *GeofenceStoreSuite) TestListActiveByGuardian() {
	s.Require().NoError(s.store.Save(s.ctx, s.fence("School", true)))
	s.Require().NoError(s.store.Save(s.ctx, s.fence("Home", true)))
	s.Require().NoError(s.store.Save(s.ctx, s.fence("Old park", false)))

	fences, err := s.store.ListActiveByGuardian(s.ctx, s.guardian)
	s.Require().NoError(err)
	s.Require().Len(fences, 2)
	s.Equal("Home", fences[0].Name)
	s.Equal("School", fences[1].Name)

	s.Run("other guardians see nothing", func() {
		fences, err := s.store.ListActiveByGuardian(s.ctx, id.SubjectID(uuid.New()))
		s.Require().NoError(err)
		s.Empty(fences)
	})
}

func (s *GeofenceStoreSuite) TestSaveMovesGuardianIndex() {
	g := s.fence("Home", true)
	s.Require().NoError(s.store.Save(s.ctx, g))

	other := id.SubjectID(uuid.New())
	g.GuardianID = other
	s.Require().NoError(s.store.Save(s.ctx, g))

	fences, err := s.store.ListActiveByGuardian(s.ctx, s.guardian)
	s.Require().NoError(err)
	s.Empty(fences)

	fences, err = s.store.ListActiveByGuardian(s.ctx, other)
	s.Require().NoError(err)
	s.Len(fences, 1)
}

func (s *GeofenceStoreSuite) TestRejectsInvalidRadius() {
	g := s.fence("Zero", true)
	g.RadiusMeters = 0
	s.Error(s.store.Save(s.ctx, g))
}
