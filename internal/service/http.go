package service

import (
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/abund-gatekeeper/internal/httputil"
)

// HTTPStatus maps an ErrorKind to its corresponding HTTP status code.
func (k ErrorKind) HTTPStatus() int {
	switch k {
	case ErrBadRequest:
		return http.StatusBadRequest
	case ErrNotFound:
		return http.StatusNotFound
	case ErrForbidden:
		return http.StatusForbidden
	case ErrInternal:
		return http.StatusInternalServerError
	case ErrUnavailable:
		return http.StatusServiceUnavailable
	case ErrBadGateway:
		return http.StatusBadGateway
	case ErrUnauthorized:
		return http.StatusUnauthorized
	case ErrConflict:
		return http.StatusConflict
	case ErrTooManyRequests:
		return http.StatusTooManyRequests
	case ErrUnsupportedMediaType:
		return http.StatusUnsupportedMediaType
	default:
		return http.StatusInternalServerError
	}
}

// RespondError writes an appropriate HTTP error response for a service error.
// If the error is a *service.Error, it uses the error's kind/code/message.
// Otherwise, it returns a generic 500.
func RespondError(w http.ResponseWriter, err error) {
	var svcErr *Error
	if !errors.As(err, &svcErr) {
		httputil.RespondError(w, http.StatusInternalServerError, "internal_error", "An unexpected error occurred")
		return
	}

	body := httputil.ErrorResponse{
		Error:    svcErr.Message,
		Code:     svcErr.Code,
		Hint:     svcErr.Hint,
		ClaimURL: svcErr.ClaimURL,
	}
	if svcErr.Kind == ErrTooManyRequests {
		secs := int(math.Ceil(svcErr.RetryAfter.Seconds()))
		if secs < 0 {
			secs = 0
		}
		body.RetryAfterSeconds = &secs
		w.Header().Set("Retry-After", strconv.Itoa(secs))
	}
	httputil.RespondErrorBody(w, svcErr.Kind.HTTPStatus(), body)
}
