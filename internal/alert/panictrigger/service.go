// Package panictrigger raises PANIC alerts on behalf of a monitored subject.
package panictrigger

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"kinwatch/internal/alert/metrics"
	"kinwatch/internal/alert/models"
	familymodels "kinwatch/internal/family/models"
	"kinwatch/internal/geo"
	"kinwatch/internal/notify"
	id "kinwatch/pkg/domain"
	dErrors "kinwatch/pkg/domain-errors"
	"kinwatch/pkg/platform/circuit"
	"kinwatch/pkg/platform/sentinel"
	"kinwatch/pkg/requestcontext"
)

const defaultRateLimitWindow = time.Minute

// AlertStore persists alerts and answers the rate-limit query.
type AlertStore interface {
	CreateIfAbsent(ctx context.Context, a *models.Alert) (*models.Alert, bool, error)
	ListBySubjectSince(ctx context.Context, subjectID id.SubjectID, types []models.Type, since time.Time) ([]*models.Alert, error)
}

// SubjectStore resolves subjects and their guardians.
type SubjectStore interface {
	FindByID(ctx context.Context, subjectID id.SubjectID) (*familymodels.Subject, error)
}

// TriggerRequest is a panic raised from a subject's device.
type TriggerRequest struct {
	SubjectID id.SubjectID
	Latitude  float64
	Longitude float64
	Message   string
}

// Service records panic alerts. Notification normally happens downstream
// when the inserted alert reaches the dispatcher; a sender configured with
// WithDirectNotify makes Trigger notify caregivers itself.
type Service struct {
	alerts          AlertStore
	subjects        SubjectStore
	sender          notify.Sender
	rateLimitWindow time.Duration
	readBreaker     *circuit.Breaker
	fallback        *localLimiter
	logger          *slog.Logger
	metrics         *metrics.Metrics
}

// localLimiter remembers the last panic this process stored per subject. It
// decides the rate limit while the read breaker is open.
type localLimiter struct {
	mu   sync.Mutex
	last map[id.SubjectID]time.Time
}

func newLocalLimiter() *localLimiter {
	return &localLimiter{last: make(map[id.SubjectID]time.Time)}
}

func (l *localLimiter) record(subjectID id.SubjectID, at time.Time, window time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for sid, t := range l.last {
		if at.Sub(t) >= window {
			delete(l.last, sid)
		}
	}
	if prev, ok := l.last[subjectID]; !ok || at.After(prev) {
		l.last[subjectID] = at
	}
}

func (l *localLimiter) lastRaised(subjectID id.SubjectID) (time.Time, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.last[subjectID]
	return t, ok
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

// WithRateLimitWindow sets the minimum spacing between two panics from the
// same subject.
func WithRateLimitWindow(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.rateLimitWindow = d
		}
	}
}

// WithDirectNotify sends the emergency text from Trigger instead of leaving
// it to the dispatcher.
func WithDirectNotify(sender notify.Sender) Option {
	return func(s *Service) {
		s.sender = sender
	}
}

// WithReadBreaker replaces the breaker guarding the rate-limit read.
func WithReadBreaker(b *circuit.Breaker) Option {
	return func(s *Service) {
		if b != nil {
			s.readBreaker = b
		}
	}
}

func New(alerts AlertStore, subjects SubjectStore, opts ...Option) (*Service, error) {
	if alerts == nil {
		return nil, errors.New("alert store is required")
	}
	if subjects == nil {
		return nil, errors.New("subject store is required")
	}
	s := &Service{
		alerts:          alerts,
		subjects:        subjects,
		rateLimitWindow: defaultRateLimitWindow,
		readBreaker:     circuit.New("panic-rate-limit"),
		fallback:        newLocalLimiter(),
		logger:          slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Trigger validates the caller and request, enforces the per-subject rate
// limit and persists a PANIC alert.
func (s *Service) Trigger(ctx context.Context, req TriggerRequest) (*models.Alert, error) {
	caller := requestcontext.SubjectID(ctx)
	if caller.IsNil() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}
	if caller != req.SubjectID {
		return nil, dErrors.New(dErrors.CodeForbidden, "cannot raise a panic for another subject")
	}
	if err := geo.ValidateCoordinates(req.Latitude, req.Longitude); err != nil {
		return nil, err
	}

	now := requestcontext.Now(ctx)
	if err := s.checkRateLimit(ctx, req.SubjectID, now); err != nil {
		return nil, err
	}

	subject, guardian, err := s.resolve(ctx, req.SubjectID)
	if err != nil {
		return nil, err
	}

	message := strings.TrimSpace(req.Message)
	if message == "" {
		message = models.DefaultPanicMessage
	}
	alert := &models.Alert{
		ID:             id.AlertID(uuid.New()),
		IdempotencyKey: models.PanicKey(subject.ID, now),
		SubjectID:      subject.ID,
		GuardianID:     guardian.ID,
		Type:           models.TypePanic,
		Location:       geo.Point{Lat: req.Latitude, Lon: req.Longitude},
		Message:        message,
		Timestamp:      now,
	}

	stored, created, err := s.alerts.CreateIfAbsent(ctx, alert)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to store panic alert")
	}
	if !created {
		s.metrics.IncrementDuplicate(string(models.TypePanic))
		return stored, nil
	}
	s.metrics.IncrementCreated(string(models.TypePanic))
	s.fallback.record(subject.ID, stored.Timestamp, s.rateLimitWindow)
	s.logger.InfoContext(ctx, "panic alert raised",
		"alert_id", stored.ID.String(),
		"subject_id", subject.ID.String(),
		"guardian_id", guardian.ID.String(),
	)

	if s.sender != nil {
		s.notifyDirect(ctx, subject, guardian, stored)
	}
	return stored, nil
}

// checkRateLimit rejects a panic raised within the window of the previous
// one. While the read breaker is open the local record decides; the store is
// still read so the breaker can observe recovery. A failed read on a closed
// breaker never blocks an emergency.
func (s *Service) checkRateLimit(ctx context.Context, subjectID id.SubjectID, now time.Time) error {
	recent, err := s.alerts.ListBySubjectSince(ctx, subjectID, []models.Type{models.TypePanic}, now.Add(-s.rateLimitWindow))
	if err != nil {
		useFallback, change := s.readBreaker.RecordFailure()
		if change.Opened {
			s.logger.WarnContext(ctx, "panic rate-limit circuit opened")
		}
		if useFallback {
			return s.checkLocalRateLimit(ctx, subjectID, now)
		}
		s.logger.WarnContext(ctx, "panic rate-limit check failed, proceeding",
			"subject_id", subjectID.String(),
			"error", err,
		)
		return nil
	}
	usePrimary, change := s.readBreaker.RecordSuccess()
	if change.Closed {
		s.logger.InfoContext(ctx, "panic rate-limit circuit closed")
	}
	if !usePrimary {
		return s.checkLocalRateLimit(ctx, subjectID, now)
	}

	for _, a := range recent {
		if err := s.rejectWithin(now, a.Timestamp); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) checkLocalRateLimit(ctx context.Context, subjectID id.SubjectID, now time.Time) error {
	s.logger.DebugContext(ctx, "panic rate-limit degraded, using local record",
		"subject_id", subjectID.String(),
		"circuit", s.readBreaker.State().String(),
	)
	last, ok := s.fallback.lastRaised(subjectID)
	if !ok {
		return nil
	}
	return s.rejectWithin(now, last)
}

func (s *Service) rejectWithin(now, raisedAt time.Time) error {
	elapsed := now.Sub(raisedAt)
	if elapsed < 0 || elapsed >= s.rateLimitWindow {
		return nil
	}
	s.metrics.IncrementPanicRateLimited()
	return dErrors.NewRateLimited("panic already raised recently", s.rateLimitWindow-elapsed)
}

func (s *Service) resolve(ctx context.Context, subjectID id.SubjectID) (*familymodels.Subject, *familymodels.Subject, error) {
	subject, err := s.subjects.FindByID(ctx, subjectID)
	if err != nil {
		return nil, nil, translateLookupError(err, "subject not found")
	}
	if !subject.IsMonitored() || !subject.Active {
		return nil, nil, dErrors.New(dErrors.CodeForbidden, "subject cannot raise a panic")
	}
	guardianID, ok := subject.Guardian()
	if !ok {
		return nil, nil, dErrors.New(dErrors.CodeNotFound, "guardian not found")
	}
	guardian, err := s.subjects.FindByID(ctx, guardianID)
	if err != nil {
		return nil, nil, translateLookupError(err, "guardian not found")
	}
	return subject, guardian, nil
}

func (s *Service) notifyDirect(ctx context.Context, subject, guardian *familymodels.Subject, a *models.Alert) {
	text := notify.EmergencyText(subject.Name, a.Location, a.Message)
	out := notify.Fanout(ctx, s.sender, s.logger, guardian, true, text)
	for range out.Sent {
		s.metrics.IncrementSent(string(a.Type))
	}
	for range out.Failed {
		s.metrics.IncrementFailed(string(a.Type))
	}
	if out.Sent+out.Failed == 0 {
		s.metrics.IncrementWithoutRecipient()
		s.logger.WarnContext(ctx, "panic alert has no reachable recipient",
			"alert_id", a.ID.String(),
			"guardian_id", guardian.ID.String(),
		)
	}
}

func translateLookupError(err error, notFoundMsg string) error {
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeNotFound, notFoundMsg)
	}
	return dErrors.Wrap(err, dErrors.CodeUnavailable, "subject directory unavailable")
}
