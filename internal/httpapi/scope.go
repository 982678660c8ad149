package httpapi

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"neuroagent/internal/authgate"
)

// admit runs the per-user, per-route admission check (SPEC_FULL.md §4.6)
// and returns the rate-limit response headers map callers should echo back.
// Outside a project (vlabID or projectID nil), a RateLimited decision
// hard-denies with 429, carrying those headers. Inside a project, a RateLimited decision does not
// block the request: it switches to an accounting-enabled session instead
// (spec.md §4.6's "in-project rate-limited switches to an accounting
// session rather than rejecting"), and the handler proceeds normally.
func (s *Server) admit(w http.ResponseWriter, r *http.Request, user authgate.User, route string, vlabID, projectID *uuid.UUID) (map[string]string, bool) {
	inProject := vlabID != nil && projectID != nil
	limit := s.cfg.RateLimit.PersonalLimit
	if inProject {
		limit = s.cfg.RateLimit.ProjectLimit
	}

	decision, err := s.limiter.Allow(r.Context(), user.Subject, route, limit, s.cfg.RateLimit.Window())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "rate limit check failed")
		return nil, false
	}

	headers := map[string]string{
		"x-ratelimit-limit":     strconv.Itoa(decision.Limit),
		"x-ratelimit-remaining": strconv.Itoa(decision.Remaining),
		"x-ratelimit-reset":     strconv.Itoa(decision.ResetInSeconds),
	}

	if !decision.RateLimited {
		return headers, true
	}

	if !inProject {
		applyRateLimitHeaders(w, headers)
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return nil, false
	}

	vlabStr, projectStr := "", ""
	if vlabID != nil {
		vlabStr = vlabID.String()
	}
	if projectID != nil {
		projectStr = projectID.String()
	}
	if err := s.accounting.Start(r.Context(), user.Subject, vlabStr, projectStr, route); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("accounting: %v", err))
		return nil, false
	}
	return headers, true
}
