package handler

import (
	"encoding/json"
	"net/http"

	"github.com/abund-gatekeeper/internal/httputil"
)

const maxBodyBytes = 1 << 20

// ErrorResponse is the standard JSON error response body.
type ErrorResponse = httputil.ErrorResponse

// RespondJSON writes a JSON response with the given status code.
func RespondJSON(w http.ResponseWriter, status int, data interface{}) {
	httputil.RespondJSON(w, status, data)
}

// RespondError writes a JSON error response.
func RespondError(w http.ResponseWriter, status int, code, message string) {
	httputil.RespondErrorBody(w, status, ErrorResponse{Error: message, Code: code})
}

// DecodeJSON reads a size-limited JSON body into v. An empty body leaves v
// untouched.
func DecodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		RespondError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return false
	}
	return true
}
