package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"

	"kinwatch/internal/location/metrics"
	"kinwatch/internal/location/models"
	"kinwatch/internal/location/store"
	id "kinwatch/pkg/domain"
	dErrors "kinwatch/pkg/domain-errors"
	"kinwatch/pkg/requestcontext"
)

type failingStore struct{}

func (failingStore) InsertIfAbsent(context.Context, *models.LocationPoint) (*models.LocationPoint, bool, error) {
	return nil, false, errors.New("connection refused")
}

func (failingStore) LatestBySubject(context.Context, id.SubjectID) (*models.LocationPoint, error) {
	return nil, errors.New("connection refused")
}

func (failingStore) ListRecentBySubject(context.Context, id.SubjectID, time.Time, int) ([]*models.LocationPoint, error) {
	return nil, errors.New("connection refused")
}

type RecordSuite struct {
	suite.Suite
	store   *store.InMemory
	metrics *metrics.Metrics
	service *Service
	now     time.Time
	ctx     context.Context
	subject id.SubjectID
}

func TestRecordSuite(t *testing.T) {
	suite.Run(t, new(RecordSuite))
}

func (s *RecordSuite) SetupTest() {
	s.store = store.NewInMemory()
	s.metrics = metrics.NewWith(prometheus.NewRegistry())
	svc, err := New(s.store, WithMetrics(s.metrics))
	s.Require().NoError(err)
	s.service = svc
	s.now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.ctx = requestcontext.WithTime(context.Background(), s.now)
	s.subject = id.SubjectID(uuid.New())
}

func accuracy(m float64) *float64 { return &m }

func (s *RecordSuite) request() RecordRequest {
	return RecordRequest{
		SubjectID: s.subject,
		Latitude:  40.7128,
		Longitude: -74.0060,
		Accuracy:  accuracy(12),
		Timestamp: s.now.Add(-10 * time.Second),
		Source:    "iOS",
	}
}

func (s *RecordSuite) TestNew_RequiresStore() {
	_, err := New(nil)
	s.Error(err)
}

// =============================================================================
// Validation
// =============================================================================

func (s *RecordSuite) TestValidation() {
	s.Run("rejects out of range coordinates", func() {
		for _, coords := range [][2]float64{{91, 0}, {-90.5, 0}, {0, 181}, {0, -180.1}} {
			req := s.request()
			req.Latitude, req.Longitude = coords[0], coords[1]
			_, err := s.service.Record(s.ctx, req)
			s.ErrorIs(err, ErrCoordinatesOutOfRange)
			s.True(dErrors.HasCode(err, dErrors.CodeValidation))
		}
	})

	s.Run("rejects samples older than five minutes", func() {
		req := s.request()
		req.Timestamp = s.now.Add(-5*time.Minute - time.Second)
		_, err := s.service.Record(s.ctx, req)
		s.ErrorIs(err, ErrStaleSample)
	})

	s.Run("accepts a sample exactly five minutes old", func() {
		req := s.request()
		req.Timestamp = s.now.Add(-5 * time.Minute)
		_, err := s.service.Record(s.ctx, req)
		s.NoError(err)
	})

	s.Run("accepts future timestamps", func() {
		req := s.request()
		req.Timestamp = s.now.Add(2 * time.Minute)
		_, err := s.service.Record(s.ctx, req)
		s.NoError(err)
	})

	s.Run("rejects accuracy above 100 meters", func() {
		req := s.request()
		req.Accuracy = accuracy(100.5)
		_, err := s.service.Record(s.ctx, req)
		s.ErrorIs(err, ErrLowAccuracy)
	})

	s.Run("accepts missing accuracy", func() {
		req := s.request()
		req.Accuracy = nil
		req.Timestamp = s.now.Add(-time.Second)
		_, err := s.service.Record(s.ctx, req)
		s.NoError(err)
	})

	s.Run("coordinates are checked before staleness and accuracy", func() {
		req := s.request()
		req.Latitude = 100
		req.Timestamp = s.now.Add(-time.Hour)
		req.Accuracy = accuracy(500)
		_, err := s.service.Record(s.ctx, req)
		s.ErrorIs(err, ErrCoordinatesOutOfRange)
	})

	s.Run("staleness is checked before accuracy", func() {
		req := s.request()
		req.Timestamp = s.now.Add(-time.Hour)
		req.Accuracy = accuracy(500)
		_, err := s.service.Record(s.ctx, req)
		s.ErrorIs(err, ErrStaleSample)
	})

	s.Equal(float64(5), testutil.ToFloat64(s.metrics.LocationsRejected.WithLabelValues("coordinates")))
	s.Equal(float64(2), testutil.ToFloat64(s.metrics.LocationsRejected.WithLabelValues("stale")))
	s.Equal(float64(1), testutil.ToFloat64(s.metrics.LocationsRejected.WithLabelValues("accuracy")))
}

// =============================================================================
// Persistence
// =============================================================================

func (s *RecordSuite) TestPersists() {
	req := s.request()
	point, err := s.service.Record(s.ctx, req)
	s.Require().NoError(err)

	s.Equal(models.PointID(s.subject, req.Timestamp), point.ID)
	s.Equal(s.now, point.ReceivedAt)
	s.Equal("iOS", point.Source)

	latest, err := s.store.LatestBySubject(s.ctx, s.subject)
	s.Require().NoError(err)
	s.Equal(point, latest)
	s.Equal(float64(1), testutil.ToFloat64(s.metrics.LocationsRecorded))
}

func (s *RecordSuite) TestDuplicateSampleReturnsStoredPoint() {
	req := s.request()
	first, err := s.service.Record(s.ctx, req)
	s.Require().NoError(err)

	retryCtx := requestcontext.WithTime(context.Background(), s.now.Add(3*time.Second))
	second, err := s.service.Record(retryCtx, req)
	s.Require().NoError(err)

	s.Equal(first, second, "retry keeps the original received_at")
	s.Equal(float64(1), testutil.ToFloat64(s.metrics.LocationsRecorded))
	s.Equal(float64(1), testutil.ToFloat64(s.metrics.LocationsDuplicated))
}

func (s *RecordSuite) TestStoreFailureIsUnavailable() {
	svc, err := New(failingStore{})
	s.Require().NoError(err)

	_, err = svc.Record(s.ctx, s.request())
	s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))

	_, err = svc.Latest(s.ctx, s.subject)
	s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))
}

func (s *RecordSuite) TestLatest_NotFound() {
	_, err := s.service.Latest(s.ctx, s.subject)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *RecordSuite) TestRequiresSubject() {
	req := s.request()
	req.SubjectID = id.SubjectID{}
	_, err := s.service.Record(s.ctx, req)
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
}

func (s *RecordSuite) TestWithoutMetrics() {
	svc, err := New(store.NewInMemory())
	s.Require().NoError(err)

	req := s.request()
	_, err = svc.Record(s.ctx, req)
	s.Require().NoError(err)
	_, err = svc.Record(s.ctx, req)
	s.Require().NoError(err, "duplicate counted on a nil collector")

	req.Latitude = 91
	_, err = svc.Record(s.ctx, req)
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
}

func (s *RecordSuite) TestRecent() {
	for _, offset := range []time.Duration{-2 * time.Hour, -30 * time.Minute, -2 * time.Minute} {
		ts := s.now.Add(offset)
		_, _, err := s.store.InsertIfAbsent(s.ctx, &models.LocationPoint{
			ID: models.PointID(s.subject, ts), SubjectID: s.subject, Timestamp: ts,
		})
		s.Require().NoError(err)
	}

	s.Run("defaults to the last hour", func() {
		points, err := s.service.Recent(s.ctx, s.subject, 0, 0)
		s.Require().NoError(err)
		s.Require().Len(points, 2)
		s.Equal(s.now.Add(-2*time.Minute), points[0].Timestamp)
	})

	s.Run("window reaches back further", func() {
		points, err := s.service.Recent(s.ctx, s.subject, 3*time.Hour, 0)
		s.Require().NoError(err)
		s.Len(points, 3)
	})

	s.Run("unknown subject is an empty list", func() {
		points, err := s.service.Recent(s.ctx, id.SubjectID(uuid.New()), 0, 0)
		s.Require().NoError(err)
		s.NotNil(points)
		s.Empty(points)
	})

	s.Run("limit above the maximum is rejected", func() {
		_, err := s.service.Recent(s.ctx, s.subject, 0, MaxRecentLimit+1)
		s.ErrorIs(err, ErrRecentLimit)
	})
}
