package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"kinwatch/internal/location/models"
	"kinwatch/internal/location/service"
	id "kinwatch/pkg/domain"
	dErrors "kinwatch/pkg/domain-errors"
	"kinwatch/pkg/platform/httputil"
	"kinwatch/pkg/platform/middleware/metadata"
	"kinwatch/pkg/platform/middleware/request"
	"kinwatch/pkg/requestcontext"
)

// LocationService is the ingest surface the handlers need.
type LocationService interface {
	Record(ctx context.Context, req service.RecordRequest) (*models.LocationPoint, error)
	Latest(ctx context.Context, subjectID id.SubjectID) (*models.LocationPoint, error)
	Recent(ctx context.Context, subjectID id.SubjectID, window time.Duration, limit int) ([]*models.LocationPoint, error)
}

// LocationHandler serves location ingest and the throttle policy.
type LocationHandler struct {
	locations LocationService
	policy    models.ThrottlePolicy
	logger    *slog.Logger
}

func NewLocationHandler(locations LocationService, policy models.ThrottlePolicy, logger *slog.Logger) *LocationHandler {
	return &LocationHandler{locations: locations, policy: policy, logger: logger}
}

// Register mounts the routes on an authenticated router.
func (h *LocationHandler) Register(r chi.Router) {
	r.Post("/locations", h.handleRecord)
	r.Get("/locations/latest", h.handleLatest)
	r.Get("/locations/recent", h.handleRecent)
	r.Get("/locations/policy", h.handlePolicy)
}

type recordLocationRequest struct {
	Latitude  *float64   `json:"latitude"`
	Longitude *float64   `json:"longitude"`
	Accuracy  *float64   `json:"accuracy,omitempty"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

type recentResponse struct {
	Locations []*models.LocationPoint `json:"locations"`
}

type policyResponse struct {
	MinIntervalSeconds    float64 `json:"min_interval_seconds"`
	MinDisplacementMeters float64 `json:"min_displacement_meters"`
}

func (h *LocationHandler) handleRecord(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := request.GetRequestID(ctx)

	var body recordLocationRequest
	if err := httputil.DecodeJSON(r, &body); err != nil {
		h.logger.WarnContext(ctx, "invalid location request", "request_id", requestID, "error", err)
		httputil.WriteError(w, err)
		return
	}
	if body.Latitude == nil || body.Longitude == nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "latitude and longitude are required"))
		return
	}
	ts := requestcontext.Now(ctx)
	if body.Timestamp != nil {
		ts = *body.Timestamp
	}

	point, err := h.locations.Record(ctx, service.RecordRequest{
		SubjectID: requestcontext.SubjectID(ctx),
		Latitude:  *body.Latitude,
		Longitude: *body.Longitude,
		Accuracy:  body.Accuracy,
		Timestamp: ts,
		Source:    metadata.DeviceSource(ctx),
	})
	if err != nil {
		h.logFailure(ctx, "record location failed", requestID, err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, point)
}

func (h *LocationHandler) handleLatest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	point, err := h.locations.Latest(ctx, requestcontext.SubjectID(ctx))
	if err != nil {
		h.logFailure(ctx, "latest location failed", request.GetRequestID(ctx), err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, point)
}

// handleRecent accepts ?window=<duration>&limit=<n>, both optional.
func (h *LocationHandler) handleRecent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	var window time.Duration
	if raw := q.Get("window"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "window must be a positive duration"))
			return
		}
		window = d
	}
	var limit int
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "limit must be a positive integer"))
			return
		}
		limit = n
	}

	points, err := h.locations.Recent(ctx, requestcontext.SubjectID(ctx), window, limit)
	if err != nil {
		h.logFailure(ctx, "recent locations failed", request.GetRequestID(ctx), err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, recentResponse{Locations: points})
}

func (h *LocationHandler) handlePolicy(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, policyResponse{
		MinIntervalSeconds:    h.policy.MinInterval.Seconds(),
		MinDisplacementMeters: h.policy.MinDisplacementMeters,
	})
}

func (h *LocationHandler) logFailure(ctx context.Context, msg, requestID string, err error) {
	if dErrors.ToHTTPStatus(dErrors.CodeOf(err)) >= http.StatusInternalServerError {
		h.logger.ErrorContext(ctx, msg, "request_id", requestID, "error", err)
		return
	}
	h.logger.InfoContext(ctx, msg, "request_id", requestID, "error", err)
}
