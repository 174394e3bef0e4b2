package httptransport

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"kinwatch/internal/alert/models"
	"kinwatch/internal/alert/panictrigger"
	dErrors "kinwatch/pkg/domain-errors"
	"kinwatch/pkg/platform/httputil"
	"kinwatch/pkg/platform/middleware/request"
	"kinwatch/pkg/requestcontext"
)

type PanicService interface {
	Trigger(ctx context.Context, req panictrigger.TriggerRequest) (*models.Alert, error)
}

type PanicHandler struct {
	panics PanicService
	logger *slog.Logger
}

func NewPanicHandler(panics PanicService, logger *slog.Logger) *PanicHandler {
	return &PanicHandler{panics: panics, logger: logger}
}

func (h *PanicHandler) Register(r chi.Router) {
	r.Post("/panic", h.handleTrigger)
}

type triggerPanicRequest struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	Message   string   `json:"message,omitempty"`
}

func (h *PanicHandler) handleTrigger(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := request.GetRequestID(ctx)

	var body triggerPanicRequest
	if err := httputil.DecodeJSON(r, &body); err != nil {
		httputil.WriteError(w, err)
		return
	}
	if body.Latitude == nil || body.Longitude == nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "latitude and longitude are required"))
		return
	}

	alert, err := h.panics.Trigger(ctx, panictrigger.TriggerRequest{
		SubjectID: requestcontext.SubjectID(ctx),
		Latitude:  *body.Latitude,
		Longitude: *body.Longitude,
		Message:   body.Message,
	})
	if err != nil {
		switch dErrors.CodeOf(err) {
		case dErrors.CodeRateLimited, dErrors.CodeValidation, dErrors.CodeForbidden, dErrors.CodeNotFound:
			h.logger.InfoContext(ctx, "panic rejected", "request_id", requestID, "error", err)
		default:
			h.logger.ErrorContext(ctx, "panic trigger failed", "request_id", requestID, "error", err)
		}
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, alert)
}
