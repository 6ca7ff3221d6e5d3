package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/aypapol/gamehost"
)

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// writeOK writes the canonical {ok:true} success body.
func writeOK(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// writeMessage writes {ok:true, message:...}.
func writeMessage(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "message": message})
}

// writeError maps domain sentinels to HTTP status codes and writes an error
// body carrying the underlying message.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, gamehost.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, gamehost.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, gamehost.ErrValidation):
		status = http.StatusBadRequest
	}
	writeErrorStatus(w, status, err.Error())
}

// writeErrorStatus writes an error body with an explicit status.
func writeErrorStatus(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"ok": false, "error": message})
}

// decodeBody decodes a JSON request body into dst.
func decodeBody(r *http.Request, dst any) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return gamehost.ErrValidation
	}
	return nil
}
