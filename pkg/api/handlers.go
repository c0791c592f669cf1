package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ethpandaops/perception/pkg/docstore"
	"github.com/ethpandaops/perception/pkg/lifecycle"
	"github.com/ethpandaops/perception/pkg/model"
	"github.com/ethpandaops/perception/pkg/platform"
	"github.com/ethpandaops/perception/pkg/timing"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 1 << 20

// errorResponse is a standard error payload.
type errorResponse struct {
	Error string `json:"error"`
}

// writeJSON encodes v as JSON and writes it to w.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "encoding response", http.StatusInternalServerError)
	}
}

// decodeJSON reads a size-limited JSON body into v and answers 400 on
// failure. It reports whether decoding succeeded.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()

	if err := dec.Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"invalid request body"})

		return false
	}

	return true
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, docstore.ErrNotFound),
		errors.Is(err, docstore.ErrUnknownTest),
		errors.Is(err, lifecycle.ErrUnknownInstance),
		errors.Is(err, timing.ErrUnknownChannel):
		return http.StatusNotFound
	case errors.Is(err, docstore.ErrConflict),
		errors.Is(err, docstore.ErrImmutableField),
		errors.Is(err, lifecycle.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, docstore.ErrUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, model.ErrMissingTestID),
		errors.Is(err, model.ErrStopBeforeStart),
		errors.Is(err, model.ErrStopWithoutStart),
		errors.Is(err, platform.ErrUnknownPlatform),
		errors.Is(err, timing.ErrUnknownMode):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// writeError answers with the status mapped from err. Server-side
// failures are logged and reported without detail.
func (s *server) writeError(w http.ResponseWriter, err error, msg string) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.WithError(err).Error(msg)

		if status == http.StatusInternalServerError {
			writeJSON(w, status, errorResponse{"internal error"})

			return
		}
	}

	writeJSON(w, status, errorResponse{err.Error()})
}

// --- Public handlers ---

// handleHealth returns server health status.
func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleConfig returns the public client configuration.
func (s *server) handleConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"auth": map[string]any{
			"basic_enabled":  s.cfg.Auth.Basic.Enabled,
			"anonymous_read": s.cfg.Auth.AnonymousRead,
		},
		"sessions": map[string]any{
			"default_mode": s.cfg.Sessions.DefaultMode,
			"modes":        []timing.Mode{timing.ModeUser, timing.ModeContent},
		},
		"stats": map[string]any{
			"histogram_bins":     s.cfg.Stats.HistogramBins,
			"histogram_headroom": s.cfg.Stats.HistogramHeadroom,
		},
		"platforms": platform.All(),
	})
}
