package api

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/rcourtman/vmlab-orchestrator/internal/apierr"
)

func decodeJSON(r *http.Request, dst any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Warn().Err(err).Msg("api: failed to encode response")
	}
}

// writeError maps an apierr.Kind to its HTTP status and emits a uniform
// {"error": "..."} body. Errors that never went through apierr are
// treated as internal failures rather than guessed at.
func writeError(w http.ResponseWriter, err error) {
	apiErr, ok := apierr.As(err)
	if !ok {
		log.Error().Err(err).Msg("api: unclassified error")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}

	status := http.StatusInternalServerError
	switch apiErr.Kind {
	case apierr.NotFound:
		status = http.StatusNotFound
	case apierr.AccessDenied:
		status = http.StatusForbidden
	case apierr.InvalidInput:
		status = http.StatusBadRequest
	case apierr.ClusterUnreachable:
		status = http.StatusBadGateway
	case apierr.ResourceBusy:
		status = http.StatusConflict
	case apierr.OptimisticLockConflict:
		status = http.StatusConflict
	case apierr.CommandFailed:
		status = http.StatusBadGateway
	case apierr.IntegrityViolation:
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, map[string]string{"error": apiErr.Message})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
