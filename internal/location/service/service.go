package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"kinwatch/internal/geo"
	"kinwatch/internal/location/metrics"
	"kinwatch/internal/location/models"
	id "kinwatch/pkg/domain"
	dErrors "kinwatch/pkg/domain-errors"
	"kinwatch/pkg/requestcontext"
)

// Validation failures, in the order they are checked.
var (
	ErrCoordinatesOutOfRange = geo.ErrCoordinatesOutOfRange
	ErrStaleSample           = dErrors.New(dErrors.CodeValidation, "location sample is too old")
	ErrLowAccuracy           = dErrors.New(dErrors.CodeValidation, "location accuracy is too low")
)

const (
	defaultMaxSampleAge      = 5 * time.Minute
	defaultMaxAccuracyMeters = 100.0

	DefaultRecentWindow = time.Hour
	DefaultRecentLimit  = 50
	MaxRecentLimit      = 200
)

var ErrRecentLimit = dErrors.New(dErrors.CodeValidation, "limit must be between 1 and 200")

// Store persists location samples.
type Store interface {
	// InsertIfAbsent stores p unless a point with the same ID exists. It
	// returns the stored point and whether this call created it.
	InsertIfAbsent(ctx context.Context, p *models.LocationPoint) (*models.LocationPoint, bool, error)
	LatestBySubject(ctx context.Context, subjectID id.SubjectID) (*models.LocationPoint, error)
	// ListRecentBySubject returns samples at or after since, newest first.
	ListRecentBySubject(ctx context.Context, subjectID id.SubjectID, since time.Time, limit int) ([]*models.LocationPoint, error)
}

// RecordRequest is one location report from a device.
type RecordRequest struct {
	SubjectID id.SubjectID
	Latitude  float64
	Longitude float64
	Accuracy  *float64
	Timestamp time.Time
	Source    string
}

// Service validates and stores location samples. Evaluation is triggered by
// the change stream observing the insert, not by this service.
type Service struct {
	store             Store
	maxSampleAge      time.Duration
	maxAccuracyMeters float64
	logger            *slog.Logger
	metrics           *metrics.Metrics
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithMaxSampleAge bounds how far in the past a sample timestamp may be.
func WithMaxSampleAge(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.maxSampleAge = d
		}
	}
}

// WithMaxAccuracyMeters bounds the reported accuracy radius.
func WithMaxAccuracyMeters(m float64) Option {
	return func(s *Service) {
		if m > 0 {
			s.maxAccuracyMeters = m
		}
	}
}

func New(store Store, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("location store is required")
	}
	s := &Service{
		store:             store,
		maxSampleAge:      defaultMaxSampleAge,
		maxAccuracyMeters: defaultMaxAccuracyMeters,
		logger:            slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Record validates req and stores it. Re-recording a sample with the same
// subject and millisecond timestamp returns the stored point unchanged.
func (s *Service) Record(ctx context.Context, req RecordRequest) (*models.LocationPoint, error) {
	if req.SubjectID.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "subject_id is required")
	}
	now := requestcontext.Now(ctx)
	if err := s.validate(req, now); err != nil {
		return nil, err
	}

	point := &models.LocationPoint{
		ID:         models.PointID(req.SubjectID, req.Timestamp),
		SubjectID:  req.SubjectID,
		Latitude:   req.Latitude,
		Longitude:  req.Longitude,
		Accuracy:   req.Accuracy,
		Timestamp:  req.Timestamp.Truncate(time.Millisecond),
		ReceivedAt: now,
		Source:     req.Source,
	}

	stored, created, err := s.store.InsertIfAbsent(ctx, point)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to store location")
	}
	if !created {
		s.logger.DebugContext(ctx, "duplicate location sample",
			"subject_id", req.SubjectID,
			"location_id", stored.ID,
		)
		s.metrics.IncrementDuplicated()
		return stored, nil
	}
	s.metrics.IncrementRecorded()
	return stored, nil
}

// Latest returns the most recent sample for a subject.
func (s *Service) Latest(ctx context.Context, subjectID id.SubjectID) (*models.LocationPoint, error) {
	p, err := s.store.LatestBySubject(ctx, subjectID)
	if err != nil {
		return nil, translateStoreError(err, "no location recorded")
	}
	return p, nil
}

// Recent returns a subject's samples recorded within window of now, newest
// first. A zero window or limit uses the defaults.
func (s *Service) Recent(ctx context.Context, subjectID id.SubjectID, window time.Duration, limit int) ([]*models.LocationPoint, error) {
	if window <= 0 {
		window = DefaultRecentWindow
	}
	if limit == 0 {
		limit = DefaultRecentLimit
	}
	if limit < 0 || limit > MaxRecentLimit {
		return nil, ErrRecentLimit
	}
	since := requestcontext.Now(ctx).Add(-window)
	points, err := s.store.ListRecentBySubject(ctx, subjectID, since, limit)
	if err != nil {
		return nil, translateStoreError(err, "no location recorded")
	}
	if points == nil {
		points = []*models.LocationPoint{}
	}
	return points, nil
}

func (s *Service) validate(req RecordRequest, now time.Time) error {
	var err error
	var reason string
	switch {
	case geo.ValidateCoordinates(req.Latitude, req.Longitude) != nil:
		err, reason = ErrCoordinatesOutOfRange, "coordinates"
	case now.Sub(req.Timestamp) > s.maxSampleAge:
		err, reason = ErrStaleSample, "stale"
	case req.Accuracy != nil && !(*req.Accuracy <= s.maxAccuracyMeters):
		err, reason = ErrLowAccuracy, "accuracy"
	}
	if err != nil {
		s.metrics.IncrementRejected(reason)
	}
	return err
}
