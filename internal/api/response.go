package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// writeJSON writes a JSON response. An encode failure after WriteHeader
// cannot reach the client anymore, so it is only logged.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

// ErrorResponse is the JSON error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func writeError(w http.ResponseWriter, status int, err, message string) {
	writeJSON(w, status, ErrorResponse{Error: err, Message: message})
}

// ownerID extracts the authenticated owner set by the fronting proxy.
func ownerID(r *http.Request) string {
	return r.Header.Get("X-Owner-ID")
}
