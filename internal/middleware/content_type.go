package middleware

import (
	"mime"
	"net/http"

	"github.com/abund-gatekeeper/internal/service"
)

var errUnsupportedMediaType = &service.Error{
	Kind:    service.ErrUnsupportedMediaType,
	Code:    "unsupported_media_type",
	Message: "Content-Type must be application/json",
	Hint:    "Send request bodies with Content-Type: application/json",
}

// RequireJSON rejects POST/PATCH/PUT requests whose declared body type is
// not JSON. Requests without a Content-Type are let through.
func RequireJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost, http.MethodPatch, http.MethodPut:
			if ct := r.Header.Get("Content-Type"); ct != "" {
				if mediaType, _, err := mime.ParseMediaType(ct); err != nil || mediaType != "application/json" {
					service.RespondError(w, errUnsupportedMediaType)
					return
				}
			}
		}
		next.ServeHTTP(w, r)
	})
}
