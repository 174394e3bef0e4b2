// Package evaluator turns inserted location samples into geofence
// membership updates and boundary-crossing alerts.
package evaluator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	alertmodels "kinwatch/internal/alert/models"
	familymodels "kinwatch/internal/family/models"
	"kinwatch/internal/geofence/metrics"
	"kinwatch/internal/geofence/models"
	locationmodels "kinwatch/internal/location/models"
	id "kinwatch/pkg/domain"
	"kinwatch/pkg/platform/sentinel"
	"kinwatch/pkg/requestcontext"
)

const (
	tracerName            = "kinwatch/geofence/evaluator"
	defaultMaxCASAttempts = 3
)

// ErrCASExhausted is returned when every compare-and-swap attempt on a
// membership record lost to a concurrent writer.
var ErrCASExhausted = errors.New("membership update kept conflicting")

type SubjectStore interface {
	FindByID(ctx context.Context, subjectID id.SubjectID) (*familymodels.Subject, error)
}

type GeofenceStore interface {
	ListActiveByGuardian(ctx context.Context, guardianID id.SubjectID) ([]*models.Geofence, error)
}

// MembershipStore holds the last evaluated status per subject/geofence pair.
type MembershipStore interface {
	Get(ctx context.Context, key models.MembershipKey) (*models.MembershipState, error)
	CompareAndSwap(ctx context.Context, next *models.MembershipState, expectedVersion uint64) error
}

type AlertStore interface {
	CreateIfAbsent(ctx context.Context, a *alertmodels.Alert) (*alertmodels.Alert, bool, error)
}

// Evaluator is stateless between calls; every collaborator is injected.
type Evaluator struct {
	subjects       SubjectStore
	geofences      GeofenceStore
	memberships    MembershipStore
	alerts         AlertStore
	maxCASAttempts int
	tracer         trace.Tracer
	logger         *slog.Logger
	metrics        *metrics.Metrics
}

type Option func(*Evaluator)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Evaluator) {
		e.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Evaluator) {
		e.metrics = m
	}
}

// WithMaxCASAttempts bounds the re-read and re-decide loop on a conflicting
// membership write.
func WithMaxCASAttempts(n int) Option {
	return func(e *Evaluator) {
		if n > 0 {
			e.maxCASAttempts = n
		}
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(e *Evaluator) {
		if t != nil {
			e.tracer = t
		}
	}
}

func New(subjects SubjectStore, geofences GeofenceStore, memberships MembershipStore, alerts AlertStore, opts ...Option) (*Evaluator, error) {
	if subjects == nil {
		return nil, errors.New("subject store is required")
	}
	if geofences == nil {
		return nil, errors.New("geofence store is required")
	}
	if memberships == nil {
		return nil, errors.New("membership store is required")
	}
	if alerts == nil {
		return nil, errors.New("alert store is required")
	}
	e := &Evaluator{
		subjects:       subjects,
		geofences:      geofences,
		memberships:    memberships,
		alerts:         alerts,
		maxCASAttempts: defaultMaxCASAttempts,
		tracer:         otel.Tracer(tracerName),
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// HandleInsertedLocations evaluates every point on its own. Lookups that
// find nothing are skipped; dependency failures are joined and returned so
// the batch is redelivered. Re-evaluating an unchanged point writes the
// same membership status and raises nothing new.
func (e *Evaluator) HandleInsertedLocations(ctx context.Context, points []*locationmodels.LocationPoint) error {
	var errs []error
	for _, p := range points {
		if err := e.evaluatePoint(ctx, p); err != nil {
			errs = append(errs, fmt.Errorf("location %s: %w", p.ID, err))
		}
	}
	return errors.Join(errs...)
}

func (e *Evaluator) evaluatePoint(ctx context.Context, p *locationmodels.LocationPoint) (err error) {
	ctx, span := e.tracer.Start(ctx, "evaluator.point", trace.WithAttributes(
		attribute.String("location.id", p.ID),
		attribute.String("subject.id", p.SubjectID.String()),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	log := e.logger.With("location_id", p.ID, "subject_id", p.SubjectID.String())

	subject, err := e.subjects.FindByID(ctx, p.SubjectID)
	if errors.Is(err, sentinel.ErrNotFound) {
		e.metrics.IncrementPointsSkipped("subject_not_found")
		log.WarnContext(ctx, "subject not found, skipping location")
		return nil
	}
	if err != nil {
		e.metrics.IncrementFailures("subject")
		log.ErrorContext(ctx, "subject lookup failed", "error", err)
		return fmt.Errorf("load subject: %w", err)
	}
	guardianID, ok := subject.Guardian()
	if !ok {
		e.metrics.IncrementPointsSkipped("no_guardian")
		log.InfoContext(ctx, "subject has no guardian, skipping location")
		return nil
	}

	fences, err := e.geofences.ListActiveByGuardian(ctx, guardianID)
	if err != nil {
		e.metrics.IncrementFailures("geofences")
		log.ErrorContext(ctx, "geofence lookup failed", "guardian_id", guardianID.String(), "error", err)
		return fmt.Errorf("load geofences: %w", err)
	}

	e.metrics.IncrementPointsEvaluated()
	var errs []error
	evaluated := 0
	for _, g := range fences {
		if !g.AppliesTo(subject.ID) {
			continue
		}
		evaluated++
		if err := e.evaluateFence(ctx, p, subject, g); err != nil {
			e.metrics.IncrementFailures("fence")
			log.ErrorContext(ctx, "geofence evaluation failed", "geofence_id", g.ID.String(), "error", err)
			errs = append(errs, fmt.Errorf("geofence %s: %w", g.ID, err))
		}
	}
	span.SetAttributes(attribute.Int("geofences.evaluated", evaluated))
	return errors.Join(errs...)
}

// evaluateFence writes the new membership status together with the crossing
// it decided, then raises an alert for that crossing. A lost compare-and-swap
// re-reads the prior status and decides again. When the stored status was
// produced by this same point, the stored decision is raised again, so an
// alert insert that failed after the write is retried on redelivery.
func (e *Evaluator) evaluateFence(ctx context.Context, p *locationmodels.LocationPoint, subject *familymodels.Subject, g *models.Geofence) error {
	e.metrics.IncrementFenceEvaluations()
	isInside := g.Contains(p.Point())
	key := models.MembershipKey{SubjectID: subject.ID, GeofenceID: g.ID}

	for attempt := 1; attempt <= e.maxCASAttempts; attempt++ {
		prior, err := e.prior(ctx, key)
		if err != nil {
			return err
		}
		if prior.LastLocationID == p.ID {
			if prior.LastTransition == "" {
				return nil
			}
			return e.raise(ctx, p, subject, g, prior.LastTransition)
		}

		direction, fires := models.Transition(prior.IsInside, isInside, g)
		next := &models.MembershipState{
			SubjectID:      key.SubjectID,
			GeofenceID:     key.GeofenceID,
			IsInside:       isInside,
			LastChecked:    requestcontext.Now(ctx),
			LastLocationID: p.ID,
			LastTransition: direction,
		}
		err = e.memberships.CompareAndSwap(ctx, next, prior.Version)
		if errors.Is(err, sentinel.ErrConflict) {
			e.metrics.IncrementCASConflicts()
			e.logger.DebugContext(ctx, "membership write conflicted, retrying",
				"subject_id", key.SubjectID.String(),
				"geofence_id", key.GeofenceID.String(),
				"attempt", attempt,
			)
			continue
		}
		if err != nil {
			return fmt.Errorf("write membership: %w", err)
		}

		if !fires {
			return nil
		}
		return e.raise(ctx, p, subject, g, direction)
	}
	return fmt.Errorf("%w after %d attempts", ErrCASExhausted, e.maxCASAttempts)
}

// prior returns the stored state, or the zero state (outside, version 0)
// when none exists yet.
func (e *Evaluator) prior(ctx context.Context, key models.MembershipKey) (models.MembershipState, error) {
	state, err := e.memberships.Get(ctx, key)
	if errors.Is(err, sentinel.ErrNotFound) {
		return models.MembershipState{}, nil
	}
	if err != nil {
		return models.MembershipState{}, fmt.Errorf("read membership: %w", err)
	}
	return *state, nil
}

func (e *Evaluator) raise(ctx context.Context, p *locationmodels.LocationPoint, subject *familymodels.Subject, g *models.Geofence, direction models.Direction) error {
	alertType := alertmodels.TypeGeofenceEntry
	verb := "entered"
	if direction == models.DirectionExit {
		alertType = alertmodels.TypeGeofenceExit
		verb = "left"
	}
	geofenceID := g.ID
	alert := &alertmodels.Alert{
		ID:             id.AlertID(uuid.New()),
		IdempotencyKey: alertmodels.TransitionKey(subject.ID, g.ID, alertType, p.ID),
		SubjectID:      subject.ID,
		GuardianID:     g.GuardianID,
		Type:           alertType,
		Location:       p.Point(),
		GeofenceID:     &geofenceID,
		GeofenceName:   g.Name,
		Message:        fmt.Sprintf("%s %s %s", subject.Name, verb, g.Name),
		Timestamp:      p.Timestamp,
	}

	stored, created, err := e.alerts.CreateIfAbsent(ctx, alert)
	if err != nil {
		return fmt.Errorf("store alert: %w", err)
	}
	if !created {
		e.logger.InfoContext(ctx, "transition alert already recorded",
			"alert_id", stored.ID.String(),
			"location_id", p.ID,
			"geofence_id", g.ID.String(),
		)
		return nil
	}
	e.metrics.IncrementTransitions(string(direction))
	e.logger.InfoContext(ctx, "geofence transition",
		"alert_id", stored.ID.String(),
		"subject_id", subject.ID.String(),
		"geofence_id", g.ID.String(),
		"direction", string(direction),
	)
	return nil
}
