package utils

import (
	"encoding/json"
	"net/http"

	"github.com/zhouzirui/jobchat/pkg/logging"
)

// RespondJSON writes payload as a JSON body with status.
func RespondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		l := logging.L()
		l.Warn().Err(err).Msg("failed to encode response")
	}
}

// RespondError writes {"error": message} with status. The detail key is
// also set for clients that read the marketplace API's error shape.
func RespondError(w http.ResponseWriter, status int, message string) {
	RespondJSON(w, status, map[string]string{"error": message, "detail": message})
}
