package httptransport

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/suite"

	alertmodels "kinwatch/internal/alert/models"
	"kinwatch/internal/alert/panictrigger"
	alertstore "kinwatch/internal/alert/store"
	familymodels "kinwatch/internal/family/models"
	familystore "kinwatch/internal/family/store"
	jwttoken "kinwatch/internal/jwt_token"
	locationmodels "kinwatch/internal/location/models"
	"kinwatch/internal/location/service"
	locationstore "kinwatch/internal/location/store"
	"kinwatch/internal/platform/metrics"
	id "kinwatch/pkg/domain"
	"kinwatch/pkg/testutil"
)

// =============================================================================
// Router
// =============================================================================
// Justification: the boundary owns request decoding, identity and the error
// envelope. These tests drive the full middleware stack with real tokens.

type RouterSuite struct {
	suite.Suite
	router    http.Handler
	jwt       *jwttoken.JWTService
	locations *locationstore.InMemory
	alerts    *alertstore.InMemory
	child     *familymodels.Subject
	token     string
}

func TestRouterSuite(t *testing.T) {
	suite.Run(t, new(RouterSuite))
}

func (s *RouterSuite) SetupTest() {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.jwt = jwttoken.NewJWTService("test-signing-key", "kinwatch")

	subjects := familystore.NewInMemory()
	guardianID := id.SubjectID(uuid.New())
	s.Require().NoError(subjects.Save(ctx, &familymodels.Subject{
		ID: guardianID, Role: familymodels.RoleGuardian, Name: "Grace", Active: true,
	}))
	s.child = &familymodels.Subject{
		ID: id.SubjectID(uuid.New()), Role: familymodels.RoleMonitored, GuardianID: &guardianID, Name: "Sam", Active: true,
	}
	s.Require().NoError(subjects.Save(ctx, s.child))

	s.locations = locationstore.NewInMemory()
	locSvc, err := service.New(s.locations, service.WithLogger(logger))
	s.Require().NoError(err)

	s.alerts = alertstore.NewInMemory()
	panicSvc, err := panictrigger.New(s.alerts, subjects, panictrigger.WithLogger(logger))
	s.Require().NoError(err)

	reg := prometheus.NewRegistry()
	s.router = NewRouter(RouterConfig{
		Logger:    logger,
		Metrics:   metrics.NewWith(reg),
		Gatherer:  reg,
		Validator: jwttoken.NewJWTServiceAdapter(s.jwt),
		Locations: NewLocationHandler(locSvc, locationmodels.ThrottlePolicy{MinInterval: 30 * time.Second, MinDisplacementMeters: 50}, logger),
		Panics:    NewPanicHandler(panicSvc, logger),
		Health: map[string]HealthCheck{
			"store": func(*http.Request) error { return nil },
		},
	})

	s.token, err = s.jwt.GenerateAccessToken(s.child.ID, time.Hour)
	s.Require().NoError(err)
}

func (s *RouterSuite) authed(req *http.Request) *http.Request {
	return testutil.WithBearer(req, s.token)
}

func (s *RouterSuite) TestRecordLocation() {
	s.Run("stores the sample and tags the device", func() {
		req := s.authed(testutil.NewJSONRequest(s.T(), http.MethodPost, "/v1/locations", map[string]any{
			"latitude":  51.5007,
			"longitude": -0.1246,
			"accuracy":  12.5,
			"timestamp": time.Now().Add(-time.Minute).UTC().Format(time.RFC3339Nano),
		}))
		req.Header.Set("User-Agent", "Mozilla/5.0 (Linux; Android 14; Pixel 8) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Mobile Safari/537.36")

		rr := testutil.DoRequest(s.router, req)
		testutil.AssertStatus(s.T(), rr, http.StatusCreated)
		s.NotEmpty(rr.Header().Get("X-Request-ID"))

		point := testutil.UnmarshalResponse[locationmodels.LocationPoint](s.T(), rr)
		s.Equal(s.child.ID, point.SubjectID)
		s.Contains(point.Source, "Android")
	})

	s.Run("missing coordinates is a validation error", func() {
		req := s.authed(testutil.NewJSONRequest(s.T(), http.MethodPost, "/v1/locations", map[string]any{"latitude": 10}))
		testutil.AssertStatusAndError(s.T(), testutil.DoRequest(s.router, req), http.StatusBadRequest, "validation_error")
	})

	s.Run("out of range coordinates are rejected", func() {
		req := s.authed(testutil.NewJSONRequest(s.T(), http.MethodPost, "/v1/locations", map[string]any{"latitude": 91, "longitude": 0}))
		testutil.AssertStatusAndError(s.T(), testutil.DoRequest(s.router, req), http.StatusBadRequest, "validation_error")
	})

	s.Run("stale sample is rejected", func() {
		req := s.authed(testutil.NewJSONRequest(s.T(), http.MethodPost, "/v1/locations", map[string]any{
			"latitude": 1, "longitude": 1, "timestamp": time.Now().Add(-time.Hour).UTC().Format(time.RFC3339),
		}))
		testutil.AssertStatusAndError(s.T(), testutil.DoRequest(s.router, req), http.StatusBadRequest, "validation_error")
	})

	s.Run("unknown fields are a bad request", func() {
		req := s.authed(testutil.NewJSONRequest(s.T(), http.MethodPost, "/v1/locations", map[string]any{"lat": 1, "lon": 1}))
		testutil.AssertStatusAndError(s.T(), testutil.DoRequest(s.router, req), http.StatusBadRequest, "bad_request")
	})
}

func (s *RouterSuite) TestAuthentication() {
	s.Run("missing token", func() {
		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/v1/panic", map[string]any{"latitude": 1, "longitude": 1})
		testutil.AssertStatusAndError(s.T(), testutil.DoRequest(s.router, req), http.StatusUnauthorized, "unauthorized")
	})

	s.Run("token from another issuer", func() {
		other, err := jwttoken.NewJWTService("test-signing-key", "someone-else").GenerateAccessToken(s.child.ID, time.Hour)
		s.Require().NoError(err)
		req := testutil.WithBearer(testutil.NewRequest(s.T(), http.MethodGet, "/v1/locations/policy"), other)
		testutil.AssertStatus(s.T(), testutil.DoRequest(s.router, req), http.StatusUnauthorized)
	})
}

func (s *RouterSuite) TestLatestLocation() {
	s.Run("nothing recorded yet", func() {
		req := s.authed(testutil.NewRequest(s.T(), http.MethodGet, "/v1/locations/latest"))
		testutil.AssertStatusAndError(s.T(), testutil.DoRequest(s.router, req), http.StatusNotFound, "not_found")
	})

	s.Run("returns the newest sample", func() {
		now := time.Now().UTC()
		for _, offset := range []time.Duration{-2 * time.Minute, -time.Minute} {
			ts := now.Add(offset)
			_, _, err := s.locations.InsertIfAbsent(context.Background(), &locationmodels.LocationPoint{
				ID: locationmodels.PointID(s.child.ID, ts), SubjectID: s.child.ID, Latitude: 1, Longitude: 2, Timestamp: ts,
			})
			s.Require().NoError(err)
		}
		req := s.authed(testutil.NewRequest(s.T(), http.MethodGet, "/v1/locations/latest"))
		rr := testutil.DoRequest(s.router, req)
		testutil.AssertStatus(s.T(), rr, http.StatusOK)
		point := testutil.UnmarshalResponse[locationmodels.LocationPoint](s.T(), rr)
		s.Equal(locationmodels.PointID(s.child.ID, now.Add(-time.Minute)), point.ID)
	})
}

func (s *RouterSuite) TestRecentLocations() {
	now := time.Now().UTC()
	for _, offset := range []time.Duration{-3 * time.Hour, -20 * time.Minute, -10 * time.Minute, -time.Minute} {
		ts := now.Add(offset)
		_, _, err := s.locations.InsertIfAbsent(context.Background(), &locationmodels.LocationPoint{
			ID: locationmodels.PointID(s.child.ID, ts), SubjectID: s.child.ID, Latitude: 1, Longitude: 2, Timestamp: ts,
		})
		s.Require().NoError(err)
	}

	s.Run("defaults to the last hour, newest first", func() {
		req := s.authed(testutil.NewRequest(s.T(), http.MethodGet, "/v1/locations/recent"))
		rr := testutil.DoRequest(s.router, req)
		testutil.AssertStatus(s.T(), rr, http.StatusOK)
		body := testutil.UnmarshalResponse[recentResponse](s.T(), rr)
		s.Require().Len(body.Locations, 3)
		s.Equal(locationmodels.PointID(s.child.ID, now.Add(-time.Minute)), body.Locations[0].ID)
	})

	s.Run("window and limit narrow the result", func() {
		req := s.authed(testutil.NewRequest(s.T(), http.MethodGet, "/v1/locations/recent?window=15m&limit=1"))
		rr := testutil.DoRequest(s.router, req)
		testutil.AssertStatus(s.T(), rr, http.StatusOK)
		body := testutil.UnmarshalResponse[recentResponse](s.T(), rr)
		s.Require().Len(body.Locations, 1)
		s.Equal(locationmodels.PointID(s.child.ID, now.Add(-time.Minute)), body.Locations[0].ID)
	})

	s.Run("bad parameters are validation errors", func() {
		for _, query := range []string{"window=soon", "window=-1m", "limit=0", "limit=x", "limit=500"} {
			req := s.authed(testutil.NewRequest(s.T(), http.MethodGet, "/v1/locations/recent?"+query))
			testutil.AssertStatusAndError(s.T(), testutil.DoRequest(s.router, req), http.StatusBadRequest, "validation_error")
		}
	})
}

func (s *RouterSuite) TestThrottlePolicy() {
	req := s.authed(testutil.NewRequest(s.T(), http.MethodGet, "/v1/locations/policy"))
	rr := testutil.DoRequest(s.router, req)
	testutil.AssertStatus(s.T(), rr, http.StatusOK)
	policy := testutil.UnmarshalResponse[policyResponse](s.T(), rr)
	s.Equal(30.0, policy.MinIntervalSeconds)
	s.Equal(50.0, policy.MinDisplacementMeters)
}

func (s *RouterSuite) TestPanic() {
	body := map[string]any{"latitude": 51.5007, "longitude": -0.1246}

	rr := testutil.DoRequest(s.router, s.authed(testutil.NewJSONRequest(s.T(), http.MethodPost, "/v1/panic", body)))
	testutil.AssertStatus(s.T(), rr, http.StatusCreated)
	alert := testutil.UnmarshalResponse[alertmodels.Alert](s.T(), rr)
	s.Equal(alertmodels.TypePanic, alert.Type)
	s.Equal(alertmodels.DefaultPanicMessage, alert.Message)

	rr = testutil.DoRequest(s.router, s.authed(testutil.NewJSONRequest(s.T(), http.MethodPost, "/v1/panic", body)))
	testutil.AssertStatus(s.T(), rr, http.StatusTooManyRequests)
	testutil.AssertRetryAfter(s.T(), rr, time.Minute)
	testutil.AssertErrorCode(s.T(), rr, "rate_limited")
}

func (s *RouterSuite) TestHealthAndMetrics() {
	rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/healthz"))
	testutil.AssertStatus(s.T(), rr, http.StatusOK)

	rr = testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/metrics"))
	testutil.AssertStatus(s.T(), rr, http.StatusOK)
	s.Contains(rr.Body.String(), "kinwatch_http_requests_total")
}
