package service

import (
	"fmt"
	"time"
)

// Error is a domain error returned by service methods and middleware.
// Handlers map these to appropriate HTTP responses.
type Error struct {
	Kind       ErrorKind
	Code       string        // machine-readable error code (e.g., "invalid_request", "not_found")
	Message    string        // human-readable message
	Hint       string        // optional next step for the caller
	ClaimURL   string        // set on account_not_claimed
	RetryAfter time.Duration // set on rate_limited
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// WithHint returns a copy of e carrying hint.
func (e *Error) WithHint(hint string) *Error {
	c := *e
	c.Hint = hint
	return &c
}

// ErrorKind classifies domain errors for HTTP status mapping.
type ErrorKind int

const (
	ErrBadRequest           ErrorKind = iota // 400
	ErrNotFound                              // 404
	ErrForbidden                             // 403
	ErrInternal                              // 500
	ErrUnavailable                           // 503
	ErrBadGateway                            // 502
	ErrUnauthorized                          // 401
	ErrConflict                              // 409
	ErrTooManyRequests                       // 429
	ErrUnsupportedMediaType                  // 415
)

func NewBadRequest(code, message string) *Error {
	return &Error{Kind: ErrBadRequest, Code: code, Message: message}
}

func NewNotFound(code, message string) *Error {
	return &Error{Kind: ErrNotFound, Code: code, Message: message}
}

func NewForbidden(code, message string) *Error {
	return &Error{Kind: ErrForbidden, Code: code, Message: message}
}

func NewInternal(code, message string) *Error {
	return &Error{Kind: ErrInternal, Code: code, Message: message}
}

func NewUnavailable(code, message string) *Error {
	return &Error{Kind: ErrUnavailable, Code: code, Message: message}
}

func NewUnauthorized(code, message string) *Error {
	return &Error{Kind: ErrUnauthorized, Code: code, Message: message}
}

func NewConflict(code, message string) *Error {
	return &Error{Kind: ErrConflict, Code: code, Message: message}
}

func NewTooManyRequests(message, hint string, retryAfter time.Duration) *Error {
	return &Error{Kind: ErrTooManyRequests, Code: "rate_limited", Message: message, Hint: hint, RetryAfter: retryAfter}
}
