//go:build integration

package store_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"kinwatch/internal/family/models"
	"kinwatch/internal/family/store"
	id "kinwatch/pkg/domain"
	"kinwatch/pkg/platform/sentinel"
	"kinwatch/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *store.PostgresStore
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.postgres = containers.GetManager().GetPostgres(s.T())
	s.store = store.NewPostgres(s.postgres.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background(), "trusted_contacts", "subjects"))
}

func (s *PostgresStoreSuite) TestRoundTripWithContacts() {
	ctx := context.Background()
	guardian := &models.Subject{ID: id.SubjectID(uuid.New()), Role: models.RoleGuardian, Name: "Ana", ContactPhone: "+15551230000", Active: true}
	s.Require().NoError(s.store.Save(ctx, guardian))

	gid := guardian.ID
	child := &models.Subject{
		ID:         id.SubjectID(uuid.New()),
		Role:       models.RoleMonitored,
		GuardianID: &gid,
		Name:       "Leo",
		Active:     true,
		TrustedContacts: []models.TrustedContact{
			{Name: "Gran", Phone: "+15551230001"},
			{Name: "Uncle", Phone: "+15551230002"},
		},
	}
	s.Require().NoError(s.store.Save(ctx, child))

	found, err := s.store.FindByID(ctx, child.ID)
	s.Require().NoError(err)
	s.Equal(child, found)

	s.Run("save replaces trusted contacts", func() {
		child.TrustedContacts = child.TrustedContacts[:1]
		s.Require().NoError(s.store.Save(ctx, child))

		found, err := s.store.FindByID(ctx, child.ID)
		s.Require().NoError(err)
		s.Len(found.TrustedContacts, 1)
	})

	s.Run("unknown subject", func() {
		_, err := s.store.FindByID(ctx, id.SubjectID(uuid.New()))
		s.ErrorIs(err, sentinel.ErrNotFound)
	})
}
