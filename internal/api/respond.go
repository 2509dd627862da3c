package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/mikeyg42/bodytrack/internal/export"
	"github.com/mikeyg42/bodytrack/internal/session"
)

var (
	errRateLimited = errors.New("rate limit exceeded, please try again later")
	errNoSession   = errors.New("no session history available")
	errNotFound    = errors.New("not found")
)

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Named("api").Debug("Failed to encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorBody{Error: err.Error()})
}

// statusFor maps controller errors to HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrAcquire):
		return http.StatusServiceUnavailable
	case errors.Is(err, session.ErrNotTracking):
		return http.StatusConflict
	case errors.Is(err, errNoSession), errors.Is(err, errNotFound), errors.Is(err, export.ErrArtifactNotFound):
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}
