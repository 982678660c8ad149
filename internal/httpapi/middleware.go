package httpapi

import (
	"context"
	"net/http"
	"strings"

	"neuroagent/internal/authgate"
	"neuroagent/internal/telemetry"
)

type contextKey int

const userContextKey contextKey = iota

// userFromContext returns the identity the auth middleware resolved, or
// false if the request never reached it (e.g. a handler-level unit test).
func userFromContext(ctx context.Context) (authgate.User, bool) {
	u, ok := ctx.Value(userContextKey).(authgate.User)
	return u, ok
}

// recoverMiddleware turns a panicking handler into a 500 instead of taking
// down the process, grounded in the teacher's per-request isolation
// philosophy (dispatcher.runIsolated's recover, applied here to the HTTP
// layer itself).
func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				telemetry.Error(r.Context(), nil, "httpapi: panic recovered", "panic", rec, "path", r.URL.Path)
				writeError(w, http.StatusInternalServerError, "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// tracingMiddleware opens one span per request.
func (s *Server) tracingMiddleware(next http.Handler) http.Handler {
	tracer := telemetry.Tracer("neuroagent/httpapi")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), r.Method+" "+r.Pattern)
		defer span.End()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// loggingMiddleware logs every request's method, path, and status.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		telemetry.Info(r.Context(), "http request", "method", r.Method, "path", r.URL.Path, "status", rec.status)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Flush lets SSE handlers keep flushing through the recorder wrapper.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// authMiddleware resolves the bearer token into a User and stores it on the
// request context; project/vlab membership (when relevant to a specific
// route) is checked by the handler itself once it knows which vlab/project
// the request targets (spec.md §6.1's authorization paragraph: per-request
// token resolution, per-resource group check).
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		user, err := s.gate.Resolve(r.Context(), token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid or missing bearer token")
			return
		}
		ctx := context.WithValue(r.Context(), userContextKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if strings.HasPrefix(h, prefix) {
		return strings.TrimPrefix(h, prefix)
	}
	return ""
}

// rateLimitMiddleware applies the per-user, per-route admission check
// (SPEC_FULL.md §4.6). The route's vlab/project scoping and limit are
// resolved by the handler via requestScope (stored on the context before
// this middleware's check runs would be backwards, so instead each handler
// calls s.admit itself as its first step); this middleware only exists to
// keep the chain's documented ordering visible, and delegates entirely to
// the handler for the decision. This mirrors spec.md §6.1's chain diagram
// while respecting that only the handler knows a route's personal/project
// limit and key.
func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return next
}
