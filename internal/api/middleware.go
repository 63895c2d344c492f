package api

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clinicdesk/clinic-scheduling/internal/scheduling"
)

type contextKey string

const (
	requestIDKey contextKey = "request_id"
	principalKey contextKey = "principal"
)

// Principal is the identity resolved upstream (API gateway / auth proxy).
// The booking core trusts this resolution; it only decides what the
// principal may do.
type Principal struct {
	ID   uuid.UUID
	Role scheduling.Role
}

// RequestIDMiddleware adds a unique request ID to each request context
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}

		ctx := context.WithValue(r.Context(), requestIDKey, requestID)
		w.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// PrincipalMiddleware resolves the authenticated principal from the
// trusted gateway headers. Requests without a valid principal pass
// through unauthenticated; per-route policy decides whether that is ok.
func PrincipalMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		idHeader := r.Header.Get("X-User-ID")
		roleHeader := scheduling.Role(r.Header.Get("X-User-Role"))

		if idHeader != "" && (roleHeader == scheduling.RoleDoctor || roleHeader == scheduling.RolePatient) {
			if id, err := uuid.Parse(idHeader); err == nil {
				ctx := context.WithValue(r.Context(), principalKey, Principal{ID: id, Role: roleHeader})
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}
		}

		next.ServeHTTP(w, r)
	})
}

// LoggingMiddleware logs each request with method, path, status, duration
// and request ID.
func LoggingMiddleware(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			log.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", wrapped.statusCode),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", GetRequestID(r.Context())),
			)
		})
	}
}

// GetRequestID retrieves the request ID from context
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// GetPrincipal retrieves the resolved principal, if any.
func GetPrincipal(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey).(Principal)
	return p, ok
}

// requirePrincipal is the access-policy gate shared by all authenticated
// routes. A missing principal is 401; a role mismatch is 403. Pass an
// empty role to accept any authenticated principal.
func requirePrincipal(w http.ResponseWriter, r *http.Request, role scheduling.Role) (Principal, bool) {
	p, ok := GetPrincipal(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthenticated", "authentication credentials were not provided")
		return Principal{}, false
	}
	if role != "" && p.Role != role {
		writeError(w, http.StatusForbidden, "forbidden", "your role is not allowed to perform this action")
		return Principal{}, false
	}
	return p, true
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
