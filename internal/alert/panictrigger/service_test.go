package panictrigger

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks AlertStore,SubjectStore

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"kinwatch/internal/alert/metrics"
	"kinwatch/internal/alert/models"
	"kinwatch/internal/alert/panictrigger/mocks"
	alertstore "kinwatch/internal/alert/store"
	familymodels "kinwatch/internal/family/models"
	familystore "kinwatch/internal/family/store"
	notifymocks "kinwatch/internal/notify/mocks"
	id "kinwatch/pkg/domain"
	dErrors "kinwatch/pkg/domain-errors"
	"kinwatch/pkg/platform/circuit"
	"kinwatch/pkg/requestcontext"
)

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type family struct {
	guardian *familymodels.Subject
	child    *familymodels.Subject
}

func newFamily(contacts ...familymodels.TrustedContact) family {
	guardianID := id.SubjectID(uuid.New())
	return family{
		guardian: &familymodels.Subject{
			ID:              guardianID,
			Role:            familymodels.RoleGuardian,
			Name:            "Grace",
			TrustedContacts: contacts,
			Active:          true,
		},
		child: &familymodels.Subject{
			ID:         id.SubjectID(uuid.New()),
			Role:       familymodels.RoleMonitored,
			GuardianID: &guardianID,
			Name:       "Sam",
			Active:     true,
		},
	}
}

// =============================================================================
// Trigger against in-memory stores
// =============================================================================
// Justification: rate limiting depends on what the alert store has already
// recorded, so these tests run the real memory stores end to end.

type TriggerSuite struct {
	suite.Suite
	alerts   *alertstore.InMemory
	subjects *familystore.InMemory
	metrics  *metrics.Metrics
	family   family
	t0       time.Time
}

func TestTriggerSuite(t *testing.T) {
	suite.Run(t, new(TriggerSuite))
}

func (s *TriggerSuite) SetupTest() {
	s.alerts = alertstore.NewInMemory()
	s.subjects = familystore.NewInMemory()
	s.metrics = metrics.NewWith(prometheus.NewRegistry())
	s.family = newFamily()
	s.Require().NoError(s.subjects.Save(context.Background(), s.family.guardian))
	s.Require().NoError(s.subjects.Save(context.Background(), s.family.child))
	s.t0 = time.Date(2026, 5, 4, 18, 30, 0, 0, time.UTC)
}

func (s *TriggerSuite) service(opts ...Option) *Service {
	opts = append([]Option{WithLogger(quietLogger), WithMetrics(s.metrics)}, opts...)
	svc, err := New(s.alerts, s.subjects, opts...)
	s.Require().NoError(err)
	return svc
}

func (s *TriggerSuite) ctxAt(caller id.SubjectID, at time.Time) context.Context {
	ctx := requestcontext.WithSubjectID(context.Background(), caller)
	return requestcontext.WithTime(ctx, at)
}

func (s *TriggerSuite) request() TriggerRequest {
	return TriggerRequest{SubjectID: s.family.child.ID, Latitude: 51.5007, Longitude: -0.1246}
}

func (s *TriggerSuite) TestNew_RequiresStores() {
	_, err := New(nil, s.subjects)
	s.Error(err)
	_, err = New(s.alerts, nil)
	s.Error(err)
}

func (s *TriggerSuite) TestTrigger_PersistsPanicAlert() {
	svc := s.service()

	alert, err := svc.Trigger(s.ctxAt(s.family.child.ID, s.t0), s.request())
	s.Require().NoError(err)
	s.Equal(models.TypePanic, alert.Type)
	s.Equal(s.family.child.ID, alert.SubjectID)
	s.Equal(s.family.guardian.ID, alert.GuardianID)
	s.Equal(models.DefaultPanicMessage, alert.Message)
	s.False(alert.IsRead)
	s.Equal(s.t0, alert.Timestamp)
	s.Equal(models.PanicKey(s.family.child.ID, s.t0), alert.IdempotencyKey)

	stored, err := s.alerts.ListBySubjectSince(context.Background(), s.family.child.ID, []models.Type{models.TypePanic}, s.t0)
	s.Require().NoError(err)
	s.Require().Len(stored, 1)
	s.Equal(alert.ID, stored[0].ID)
	s.Equal(1.0, testutil.ToFloat64(s.metrics.AlertsCreated.WithLabelValues("PANIC")))
}

func (s *TriggerSuite) TestTrigger_KeepsCustomMessage() {
	req := s.request()
	req.Message = "  Locked out at the station  "

	alert, err := s.service().Trigger(s.ctxAt(s.family.child.ID, s.t0), req)
	s.Require().NoError(err)
	s.Equal("Locked out at the station", alert.Message)
}

func (s *TriggerSuite) TestTrigger_RateLimit() {
	svc := s.service()

	_, err := svc.Trigger(s.ctxAt(s.family.child.ID, s.t0), s.request())
	s.Require().NoError(err)

	s.Run("second panic after 10s is rate limited", func() {
		_, err := svc.Trigger(s.ctxAt(s.family.child.ID, s.t0.Add(10*time.Second)), s.request())
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeRateLimited))
		retryAfter, ok := dErrors.RetryAfter(err)
		s.True(ok)
		s.Equal(50*time.Second, retryAfter)
	})

	s.Run("third panic after 61s succeeds", func() {
		alert, err := svc.Trigger(s.ctxAt(s.family.child.ID, s.t0.Add(61*time.Second)), s.request())
		s.Require().NoError(err)
		s.Equal(s.t0.Add(61*time.Second), alert.Timestamp)
	})

	recent, err := s.alerts.ListBySubjectSince(context.Background(), s.family.child.ID, []models.Type{models.TypePanic}, s.t0)
	s.Require().NoError(err)
	s.Len(recent, 2)
	s.Equal(1.0, testutil.ToFloat64(s.metrics.PanicRateLimited))
}

func (s *TriggerSuite) TestTrigger_Identity() {
	svc := s.service()

	s.Run("missing caller is unauthorized", func() {
		ctx := requestcontext.WithTime(context.Background(), s.t0)
		_, err := svc.Trigger(ctx, s.request())
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	s.Run("caller raising for someone else is forbidden", func() {
		_, err := svc.Trigger(s.ctxAt(id.SubjectID(uuid.New()), s.t0), s.request())
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})
}

func (s *TriggerSuite) TestTrigger_Validation() {
	svc := s.service()
	for _, tc := range []struct {
		name     string
		lat, lon float64
	}{
		{"latitude above 90", 90.5, 0},
		{"latitude below -90", -91, 0},
		{"longitude above 180", 0, 180.1},
		{"longitude below -180", 0, -200},
	} {
		s.Run(tc.name, func() {
			req := s.request()
			req.Latitude, req.Longitude = tc.lat, tc.lon
			_, err := svc.Trigger(s.ctxAt(s.family.child.ID, s.t0), req)
			s.Require().Error(err)
			s.True(dErrors.HasCode(err, dErrors.CodeValidation))
		})
	}
}

func (s *TriggerSuite) TestTrigger_SubjectRules() {
	svc := s.service()

	s.Run("guardian cannot raise a panic", func() {
		req := s.request()
		req.SubjectID = s.family.guardian.ID
		_, err := svc.Trigger(s.ctxAt(s.family.guardian.ID, s.t0), req)
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	s.Run("inactive subject cannot raise a panic", func() {
		inactive := s.family.child.Clone()
		inactive.ID = id.SubjectID(uuid.New())
		inactive.Active = false
		s.Require().NoError(s.subjects.Save(context.Background(), inactive))

		req := s.request()
		req.SubjectID = inactive.ID
		_, err := svc.Trigger(s.ctxAt(inactive.ID, s.t0), req)
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	s.Run("unknown subject is not found", func() {
		stranger := id.SubjectID(uuid.New())
		req := s.request()
		req.SubjectID = stranger
		_, err := svc.Trigger(s.ctxAt(stranger, s.t0), req)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("missing guardian is not found", func() {
		orphan := s.family.child.Clone()
		orphan.ID = id.SubjectID(uuid.New())
		missing := id.SubjectID(uuid.New())
		orphan.GuardianID = &missing
		s.Require().NoError(s.subjects.Save(context.Background(), orphan))

		req := s.request()
		req.SubjectID = orphan.ID
		_, err := svc.Trigger(s.ctxAt(orphan.ID, s.t0), req)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func (s *TriggerSuite) TestTrigger_DirectNotify() {
	s.family = newFamily(
		familymodels.TrustedContact{Name: "Ana", Phone: "+447700900001"},
		familymodels.TrustedContact{Name: "Ben", Phone: "+447700900002"},
		familymodels.TrustedContact{Name: "Bad", Phone: "0770-not-valid"},
		familymodels.TrustedContact{Name: "Cal", Phone: "+447700900003"},
	)
	s.Require().NoError(s.subjects.Save(context.Background(), s.family.guardian))
	s.Require().NoError(s.subjects.Save(context.Background(), s.family.child))

	ctrl := gomock.NewController(s.T())
	sender := notifymocks.NewMockSender(ctrl)
	want := "EMERGENCY: Sam needs help at (51.5007, -0.1246). Message: Emergency! I need help."
	sender.EXPECT().Send(gomock.Any(), "+447700900001", want).Return(nil)
	sender.EXPECT().Send(gomock.Any(), "+447700900002", want).Return(errors.New("gateway timeout"))
	sender.EXPECT().Send(gomock.Any(), "+447700900003", want).Return(nil)

	alert, err := s.service(WithDirectNotify(sender)).Trigger(s.ctxAt(s.family.child.ID, s.t0), s.request())
	s.Require().NoError(err, "a failed send never fails the trigger")
	s.NotNil(alert)
	s.Equal(2.0, testutil.ToFloat64(s.metrics.NotificationsSent.WithLabelValues("PANIC")))
	s.Equal(1.0, testutil.ToFloat64(s.metrics.NotificationsFailed.WithLabelValues("PANIC")))
}

// =============================================================================
// Trigger against failing dependencies
// =============================================================================
// Justification: dependency failures are hard to produce with real stores.
// Mocks pin which failures block a panic and which do not.

type DependencySuite struct {
	suite.Suite
	ctrl     *gomock.Controller
	alerts   *mocks.MockAlertStore
	subjects *mocks.MockSubjectStore
	family   family
	ctx      context.Context
}

func TestDependencySuite(t *testing.T) {
	suite.Run(t, new(DependencySuite))
}

func (s *DependencySuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.alerts = mocks.NewMockAlertStore(s.ctrl)
	s.subjects = mocks.NewMockSubjectStore(s.ctrl)
	s.family = newFamily()
	now := time.Date(2026, 5, 4, 18, 30, 0, 0, time.UTC)
	s.ctx = requestcontext.WithTime(requestcontext.WithSubjectID(context.Background(), s.family.child.ID), now)
}

func (s *DependencySuite) request() TriggerRequest {
	return TriggerRequest{SubjectID: s.family.child.ID, Latitude: 1, Longitude: 2}
}

func (s *DependencySuite) expectFamily() {
	s.subjects.EXPECT().FindByID(gomock.Any(), s.family.child.ID).Return(s.family.child, nil)
	s.subjects.EXPECT().FindByID(gomock.Any(), s.family.guardian.ID).Return(s.family.guardian, nil)
}

func echoCreate(_ context.Context, a *models.Alert) (*models.Alert, bool, error) {
	return a.Clone(), true, nil
}

func (s *DependencySuite) TestRateLimitReadFailureProceeds() {
	breaker := circuit.New("panic-rate-limit", circuit.WithFailureThreshold(1))
	svc, err := New(s.alerts, s.subjects, WithLogger(quietLogger), WithReadBreaker(breaker))
	s.Require().NoError(err)

	s.alerts.EXPECT().ListBySubjectSince(gomock.Any(), s.family.child.ID, []models.Type{models.TypePanic}, gomock.Any()).
		Return(nil, errors.New("read timeout"))
	s.expectFamily()
	s.alerts.EXPECT().CreateIfAbsent(gomock.Any(), gomock.Any()).DoAndReturn(echoCreate)

	alert, err := svc.Trigger(s.ctx, s.request())
	s.Require().NoError(err)
	s.Equal(models.TypePanic, alert.Type)
	s.True(breaker.IsOpen())
}

func (s *DependencySuite) TestOpenBreakerRateLimitsFromLocalRecord() {
	breaker := circuit.New("panic-rate-limit", circuit.WithFailureThreshold(1), circuit.WithSuccessThreshold(2))
	svc, err := New(s.alerts, s.subjects, WithLogger(quietLogger), WithReadBreaker(breaker))
	s.Require().NoError(err)
	t0 := requestcontext.Now(s.ctx)
	at := func(d time.Duration) context.Context { return requestcontext.WithTime(s.ctx, t0.Add(d)) }
	read := func() *gomock.Call {
		return s.alerts.EXPECT().ListBySubjectSince(gomock.Any(), s.family.child.ID, []models.Type{models.TypePanic}, gomock.Any())
	}

	s.Run("first panic proceeds and opens the circuit", func() {
		read().Return(nil, errors.New("read timeout"))
		s.expectFamily()
		s.alerts.EXPECT().CreateIfAbsent(gomock.Any(), gomock.Any()).DoAndReturn(echoCreate)

		_, err := svc.Trigger(at(0), s.request())
		s.Require().NoError(err)
		s.True(breaker.IsOpen())
	})

	s.Run("second panic inside the window is limited without the store", func() {
		read().Return(nil, errors.New("read timeout"))

		_, err := svc.Trigger(at(10*time.Second), s.request())
		s.True(dErrors.HasCode(err, dErrors.CodeRateLimited))
	})

	s.Run("recovering reads stay degraded until the circuit closes", func() {
		read().Return(nil, nil)
		s.expectFamily()
		s.alerts.EXPECT().CreateIfAbsent(gomock.Any(), gomock.Any()).DoAndReturn(echoCreate)
		_, err := svc.Trigger(at(90*time.Second), s.request())
		s.Require().NoError(err)
		s.True(breaker.IsOpen(), "one success is below the close threshold")

		read().Return(nil, nil)
		s.expectFamily()
		s.alerts.EXPECT().CreateIfAbsent(gomock.Any(), gomock.Any()).DoAndReturn(echoCreate)
		_, err = svc.Trigger(at(100*time.Second), s.request())
		s.Require().NoError(err, "closed circuit trusts the store over the local record")
		s.False(breaker.IsOpen())
	})
}

func (s *DependencySuite) TestSubjectLookupFailureIsUnavailable() {
	svc, err := New(s.alerts, s.subjects, WithLogger(quietLogger))
	s.Require().NoError(err)

	s.alerts.EXPECT().ListBySubjectSince(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, nil)
	s.subjects.EXPECT().FindByID(gomock.Any(), s.family.child.ID).Return(nil, errors.New("connection reset"))

	_, err = svc.Trigger(s.ctx, s.request())
	s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))
}

func (s *DependencySuite) TestPersistFailureIsUnavailable() {
	svc, err := New(s.alerts, s.subjects, WithLogger(quietLogger))
	s.Require().NoError(err)

	s.alerts.EXPECT().ListBySubjectSince(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, nil)
	s.expectFamily()
	s.alerts.EXPECT().CreateIfAbsent(gomock.Any(), gomock.Any()).Return(nil, false, errors.New("disk full"))

	_, err = svc.Trigger(s.ctx, s.request())
	s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))
}

func (s *DependencySuite) TestDuplicateReturnsStoredAlert() {
	svc, err := New(s.alerts, s.subjects, WithLogger(quietLogger))
	s.Require().NoError(err)

	existing := &models.Alert{ID: id.AlertID(uuid.New()), Type: models.TypePanic, SubjectID: s.family.child.ID}
	s.alerts.EXPECT().ListBySubjectSince(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, nil)
	s.expectFamily()
	s.alerts.EXPECT().CreateIfAbsent(gomock.Any(), gomock.Any()).Return(existing, false, nil)

	alert, err := svc.Trigger(s.ctx, s.request())
	s.Require().NoError(err)
	s.Equal(existing.ID, alert.ID)
}
