package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"neuroagent/internal/authgate"
	"neuroagent/internal/persistence"
)

var errMissingDependency = errors.New("httpapi: a required Option is nil")

type errorBody struct {
	Detail string `json:"detail"`
}

func writeError(w http.ResponseWriter, status int, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Detail: detail})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeDomainError maps the package-level sentinel errors the persistence
// and auth layers return onto HTTP status codes (401 invalid token, 403
// wrong owner or no project access, 404 missing thread), defaulting to 500
// for anything unrecognized.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, persistence.ErrThreadNotFound):
		writeError(w, http.StatusNotFound, "thread not found")
	case errors.Is(err, persistence.ErrNotOwner):
		writeError(w, http.StatusForbidden, "thread belongs to a different user")
	case errors.Is(err, authgate.ErrInvalidToken):
		writeError(w, http.StatusUnauthorized, "invalid or missing bearer token")
	case errors.Is(err, authgate.ErrNoAccess):
		writeError(w, http.StatusForbidden, "no access to project")
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
