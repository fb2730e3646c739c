package api

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes carried by *Error.
const (
	CodeBadRequest   = "BAD_REQUEST"
	CodeUnauthorized = "UNAUTHORIZED"
	CodeForbidden    = "FORBIDDEN"
	CodeNotFound     = "NOT_FOUND"
	CodeConflict     = "CONFLICT"
	CodeRateLimited  = "TOO_MANY_REQUESTS"
	CodeServer       = "SERVER_ERROR"
	CodeTransport    = "TRANSPORT_ERROR"
	CodeDecode       = "DECODE_ERROR"
)

// Error is returned for every failed backend call.
type Error struct {
	Code    string
	Message string
	Status  int // HTTP status, 0 when no response was received
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether err is an *Error with the given code.
func Is(err error, code string) bool {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == code
	}
	return false
}

func IsNotFound(err error) bool     { return Is(err, CodeNotFound) }
func IsUnauthorized(err error) bool { return Is(err, CodeUnauthorized) }

func codeForStatus(status int) string {
	switch {
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return CodeBadRequest
	case status == http.StatusUnauthorized:
		return CodeUnauthorized
	case status == http.StatusForbidden:
		return CodeForbidden
	case status == http.StatusNotFound:
		return CodeNotFound
	case status == http.StatusConflict:
		return CodeConflict
	case status == http.StatusTooManyRequests:
		return CodeRateLimited
	default:
		return CodeServer
	}
}
