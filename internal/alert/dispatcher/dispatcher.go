// Package dispatcher notifies caregivers about newly inserted alerts.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"kinwatch/internal/alert/metrics"
	"kinwatch/internal/alert/models"
	familymodels "kinwatch/internal/family/models"
	"kinwatch/internal/notify"
	id "kinwatch/pkg/domain"
	"kinwatch/pkg/platform/sentinel"
)

const tracerName = "kinwatch/alert/dispatcher"

// SubjectStore resolves guardians and the subjects they monitor.
type SubjectStore interface {
	FindByID(ctx context.Context, subjectID id.SubjectID) (*familymodels.Subject, error)
}

// Ledger records which alerts have already been delivered. Claim returns
// true exactly once per alert id.
type Ledger interface {
	Claim(ctx context.Context, alertID id.AlertID) (bool, error)
}

// Dispatcher sends one summary message per recipient for every inserted
// alert. Sends are never retried.
type Dispatcher struct {
	subjects  SubjectStore
	sender    notify.Sender
	ledger    Ledger
	skipPanic bool
	tracer    trace.Tracer
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

type Option func(*Dispatcher)

func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

func WithLedger(l Ledger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.ledger = l
		}
	}
}

// WithPanicHandledUpstream skips PANIC alerts, for deployments where the
// panic trigger notifies caregivers itself.
func WithPanicHandledUpstream() Option {
	return func(d *Dispatcher) {
		d.skipPanic = true
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(d *Dispatcher) {
		if t != nil {
			d.tracer = t
		}
	}
}

func New(subjects SubjectStore, sender notify.Sender, opts ...Option) (*Dispatcher, error) {
	if subjects == nil {
		return nil, errors.New("subject store is required")
	}
	if sender == nil {
		return nil, errors.New("sender is required")
	}
	d := &Dispatcher{
		subjects: subjects,
		sender:   sender,
		ledger:   NewMemoryLedger(),
		tracer:   otel.Tracer(tracerName),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// HandleInsertedAlerts dispatches each alert independently. Dependency
// failures are joined and returned so the batch is redelivered; alerts that
// were already sent are skipped on redelivery through the ledger.
func (d *Dispatcher) HandleInsertedAlerts(ctx context.Context, alerts []*models.Alert) error {
	var errs []error
	for _, a := range alerts {
		if err := d.dispatch(ctx, a); err != nil {
			d.logger.ErrorContext(ctx, "alert dispatch failed",
				"alert_id", a.ID.String(),
				"subject_id", a.SubjectID.String(),
				"error", err,
			)
			errs = append(errs, fmt.Errorf("alert %s: %w", a.ID, err))
		}
	}
	return errors.Join(errs...)
}

func (d *Dispatcher) dispatch(ctx context.Context, a *models.Alert) (err error) {
	if d.skipPanic && a.Type == models.TypePanic {
		return nil
	}

	ctx, span := d.tracer.Start(ctx, "dispatcher.dispatch", trace.WithAttributes(
		attribute.String("alert.id", a.ID.String()),
		attribute.String("alert.type", string(a.Type)),
		attribute.String("subject.id", a.SubjectID.String()),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	guardian, err := d.subjects.FindByID(ctx, a.GuardianID)
	if errors.Is(err, sentinel.ErrNotFound) {
		d.logger.WarnContext(ctx, "guardian not found, skipping alert",
			"alert_id", a.ID.String(),
			"guardian_id", a.GuardianID.String(),
		)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load guardian: %w", err)
	}

	includeTrusted := a.Type == models.TypePanic
	if valid, rejected := notify.Recipients(guardian, includeTrusted); len(valid) == 0 {
		d.metrics.IncrementWithoutRecipient()
		d.logger.WarnContext(ctx, "alert has no usable recipient",
			"alert_id", a.ID.String(),
			"guardian_id", guardian.ID.String(),
			"rejected", len(rejected),
		)
		return nil
	}

	claimed, err := d.ledger.Claim(ctx, a.ID)
	if err != nil {
		return fmt.Errorf("claim delivery: %w", err)
	}
	if !claimed {
		d.logger.InfoContext(ctx, "alert already delivered", "alert_id", a.ID.String())
		return nil
	}

	text := d.summary(ctx, a)
	out := notify.Fanout(ctx, d.sender, d.logger, guardian, includeTrusted, text)
	for range out.Sent {
		d.metrics.IncrementSent(string(a.Type))
	}
	for range out.Failed {
		d.metrics.IncrementFailed(string(a.Type))
	}
	span.SetAttributes(
		attribute.Int("notify.sent", out.Sent),
		attribute.Int("notify.failed", out.Failed),
	)
	d.logger.InfoContext(ctx, "alert dispatched",
		"alert_id", a.ID.String(),
		"type", string(a.Type),
		"sent", out.Sent,
		"failed", out.Failed,
	)
	return nil
}

// summary builds the caregiver text. A missing subject name only degrades
// the panic wording; it never blocks the send.
func (d *Dispatcher) summary(ctx context.Context, a *models.Alert) string {
	if a.Type != models.TypePanic {
		return GeofenceText(a)
	}
	name := "Your family member"
	subject, err := d.subjects.FindByID(ctx, a.SubjectID)
	if err != nil {
		d.logger.WarnContext(ctx, "subject lookup failed for panic text",
			"alert_id", a.ID.String(),
			"subject_id", a.SubjectID.String(),
			"error", err,
		)
	} else {
		name = subject.Name
	}
	return notify.EmergencyText(name, a.Location, a.Message)
}

// GeofenceText is the caregiver text for a boundary crossing.
func GeofenceText(a *models.Alert) string {
	return fmt.Sprintf("Kinwatch: %s at %s UTC (%.4f, %.4f)",
		a.Message, a.Timestamp.UTC().Format("15:04"), a.Location.Lat, a.Location.Lon)
}
