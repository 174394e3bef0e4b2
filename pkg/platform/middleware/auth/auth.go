package auth

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	id "kinwatch/pkg/domain"
	request "kinwatch/pkg/platform/middleware/request"
	"kinwatch/pkg/requestcontext"
)

// JWTValidator turns a bearer token into claims or an error.
type JWTValidator interface {
	ValidateToken(tokenString string) (*JWTClaims, error)
}

// JWTClaims is what the middleware needs from a validated token.
type JWTClaims struct {
	SubjectID string
	TokenID   string
}

// writeJSONError writes a JSON error response with the given status code and error details.
func writeJSONError(w http.ResponseWriter, status int, errCode, errDesc string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(fmt.Appendf(nil, `{"error":"%s","error_description":"%s"}`, errCode, errDesc))
}

// RequireAuth authenticates the bearer token and binds the token subject to
// the request context. Handlers read the caller with requestcontext.SubjectID.
func RequireAuth(validator JWTValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			requestID := request.GetRequestID(ctx)

			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || token == "" {
				logger.WarnContext(ctx, "unauthorized access - missing token",
					"request_id", requestID,
				)
				writeJSONError(w, http.StatusUnauthorized, "unauthorized", "Missing or invalid Authorization header")
				return
			}

			claims, err := validator.ValidateToken(token)
			if err != nil {
				logger.WarnContext(ctx, "unauthorized access - invalid token",
					"error", err,
					"request_id", requestID,
				)
				writeJSONError(w, http.StatusUnauthorized, "unauthorized", "Invalid or expired token")
				return
			}

			subjectID, err := id.ParseSubjectID(claims.SubjectID)
			if err != nil {
				logger.WarnContext(ctx, "unauthorized access - malformed subject claim",
					"error", err,
					"request_id", requestID,
				)
				writeJSONError(w, http.StatusUnauthorized, "unauthorized", "Invalid or expired token")
				return
			}

			logger.DebugContext(ctx, "authenticated",
				"request_id", requestID,
				"token_id", claims.TokenID,
			)
			ctx = requestcontext.WithSubjectID(ctx, subjectID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
