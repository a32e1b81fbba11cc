package webserver

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ichi0g0y/lucky-draw/internal/localdb"
	"github.com/ichi0g0y/lucky-draw/internal/session"
	"github.com/ichi0g0y/lucky-draw/internal/settings"
	"github.com/ichi0g0y/lucky-draw/internal/shared/logger"
	"go.uber.org/zap"
)

const maxBodyBytes = 10 << 20

type errorResponse struct {
	Error string            `json:"error"`
	State *session.Snapshot `json:"state,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Failed to encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// statusForError maps domain errors to HTTP status codes.
func statusForError(err error) int {
	var perr *session.PersistenceError
	switch {
	case errors.Is(err, session.ErrNoEligibleWinner),
		errors.Is(err, localdb.ErrEmployeeNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrDrawInProgress),
		errors.Is(err, session.ErrInvalidTransition),
		errors.Is(err, session.ErrDrawsExhausted),
		errors.Is(err, localdb.ErrEmployeeExists),
		errors.Is(err, localdb.ErrDuplicateWinner):
		return http.StatusConflict
	case errors.As(err, &perr):
		return http.StatusServiceUnavailable
	case errors.Is(err, settings.ErrInvalidSetting),
		errors.Is(err, settings.ErrUnknownSetting),
		errors.Is(err, localdb.ErrInvalidEmployee):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// writeDomainError writes err with its mapped status. A session snapshot
// returned alongside the error is included.
func writeDomainError(w http.ResponseWriter, err error, snap *session.Snapshot) {
	status := statusForError(err)
	if status >= http.StatusInternalServerError {
		logger.Error("Request failed", zap.Int("status", status), zap.Error(err))
	}
	resp := errorResponse{Error: err.Error()}
	if snap != nil && snap.EpochID != "" {
		resp.State = snap
	}
	writeJSON(w, status, resp)
}

// decodeJSON reads a size-limited JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
