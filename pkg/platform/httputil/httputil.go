// Package httputil writes JSON responses and coded errors in one shape for
// every handler.
package httputil

import (
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"

	dErrors "kinwatch/pkg/domain-errors"
)

// MaxBodyBytes bounds request bodies accepted by DecodeJSON.
const MaxBodyBytes = 1 << 20

type errorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// WriteJSON encodes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError maps err to a status via its domain code. Internal and
// dependency errors never leak their message to the caller. Rate-limited
// errors carry a Retry-After header in whole seconds.
func WriteError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	status := dErrors.ToHTTPStatus(code)

	resp := errorResponse{Error: string(code)}
	var de *dErrors.Error
	if errors.As(err, &de) && status < http.StatusInternalServerError {
		resp.ErrorDescription = de.Message
	}
	if retryAfter, ok := dErrors.RetryAfter(err); ok && retryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(retryAfter.Seconds()))))
	}
	WriteJSON(w, status, resp)
}

// DecodeJSON decodes a bounded request body into v, rejecting unknown fields.
func DecodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, MaxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid JSON body")
	}
	return nil
}
