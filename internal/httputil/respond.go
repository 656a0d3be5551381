package httputil

import (
	"encoding/json"
	"net/http"
)

// ErrorResponse is the standard JSON error response body.
type ErrorResponse struct {
	Success           bool   `json:"success"`
	Error             string `json:"error"`
	Code              string `json:"code"`
	Hint              string `json:"hint,omitempty"`
	ClaimURL          string `json:"claim_url,omitempty"`
	RetryAfterSeconds *int   `json:"retry_after_seconds,omitempty"`
}

// RespondJSON writes a JSON response with the given status code.
func RespondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// RespondError writes a JSON error response.
func RespondError(w http.ResponseWriter, status int, code, message string) {
	RespondJSON(w, status, ErrorResponse{Error: message, Code: code})
}

// RespondErrorBody writes a fully populated error body. Success is always false.
func RespondErrorBody(w http.ResponseWriter, status int, body ErrorResponse) {
	body.Success = false
	RespondJSON(w, status, body)
}
