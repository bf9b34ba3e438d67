package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/jsquire4/tool-forge-sub001/internal/auth"
	"github.com/jsquire4/tool-forge-sub001/pkg/models"
)

type ctxKey int

const (
	userIDKey ctxKey = iota
	auditRowKey
)

// userID returns the authenticated user id stored by the auth middleware.
// Empty for tokens without an identity claim.
func userID(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey).(string)
	return id
}

// auditableRow returns the request's pending audit row, nil outside the
// audited chat routes.
func auditableRow(ctx context.Context) *models.ChatAuditRow {
	row, _ := ctx.Value(auditRowKey).(*models.ChatAuditRow)
	return row
}

// audited guarantees exactly one audit row per chat-plane request, whether
// it ends in the loop, in validation, or at the auth/rate-limit gate. The
// row rides the context so inner layers can enrich it; status and duration
// come from the response itself.
func (s *Server) audited(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.audit == nil {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		row := &models.ChatAuditRow{Route: r.URL.Path}
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		ctx := context.WithValue(r.Context(), auditRowKey, row)
		next.ServeHTTP(recorder, r.WithContext(ctx))

		row.StatusCode = recorder.status
		row.DurationMs = time.Since(start).Milliseconds()
		s.audit.Record(*row)
	})
}

// user wraps a user-plane handler with authentication and rate limiting.
func (s *Server) user(route string, next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.userAuth == nil {
			writeError(w, http.StatusUnauthorized, "authentication not configured")
			return
		}
		result := s.userAuth.Authenticate(r)
		if !result.Authenticated {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		if row := auditableRow(r.Context()); row != nil {
			row.UserID = result.UserID
		}

		if s.limiter != nil {
			decision, err := s.limiter.Allow(r.Context(), result.UserID, route)
			if err != nil {
				s.logger.Warn("rate limit check failed", "route", route, "error", err)
			} else if !decision.Allowed {
				w.Header().Set("Retry-After", strconv.Itoa(decision.RetryAfter))
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
		}

		ctx := context.WithValue(r.Context(), userIDKey, result.UserID)
		next(w, r.WithContext(ctx))
	})
}

// admin wraps an admin-plane handler with the shared-key check. An unset key
// fails closed with 503.
func (s *Server) admin(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		err := s.adminAuth.Check(r)
		switch {
		case errors.Is(err, auth.ErrAdminUnavailable):
			writeError(w, http.StatusServiceUnavailable, "admin key not configured")
		case err != nil:
			writeError(w, http.StatusForbidden, "forbidden")
		default:
			next(w, r)
		}
	})
}

// statusRecorder captures the response status for metrics and logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush forwards to the wrapped writer so SSE streaming keeps working.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// withObservability records request metrics and a log line per request.
func (s *Server) withObservability(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		elapsed := time.Since(start)
		if s.metrics != nil {
			s.metrics.RecordHTTPRequest(r.Method, r.URL.Path,
				strconv.Itoa(recorder.status), elapsed.Seconds())
		}
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", recorder.status,
			"duration_ms", elapsed.Milliseconds())
	})
}

// decodeBody parses a JSON request body under the configured size cap. The
// boolean reports whether a response was already written.
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, s.bodyLimit())
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		} else {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
		}
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
