// Package apperr defines the structured error shape shared by every govox
// component. An Error carries a classification name, the operation that
// raised it, a machine-readable tag, and a status code for boundary
// translation, so the client-visible contract stays uniform no matter which
// internal layer failed.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Machine-readable tags surfaced to clients.
const (
	TagValidation     = "VALIDATION_ERROR"
	TagNotFound       = "NOT_FOUND"
	TagServerError    = "SERVER_ERROR"
	TagSessionInvalid = "SESSION_INVALID"
	TagTokenInvalid   = "TOKEN_INVALID"
)

// Error is the structured failure shape raised by govox components.
type Error struct {
	Name    string `json:"name"`    // short classification: validation, not-found, server, unauthorized
	Message string `json:"message"` // safe to surface to the caller
	Part    string `json:"part"`    // operation that raised the error, e.g. "connectUser"
	Tag     string `json:"tag"`     // machine-readable tag
	Status  int    `json:"status"`  // status code for boundary translation

	cause error
}

func (e *Error) Error() string {
	if e.Part != "" {
		return e.Part + ": " + e.Message
	}
	return e.Message
}

// Unwrap exposes the underlying cause for errors.Is/errors.As chains.
func (e *Error) Unwrap() error {
	return e.cause
}

// Validation builds a 400 validation error.
func Validation(part, message string) *Error {
	return &Error{Name: "validation", Message: message, Part: part, Tag: TagValidation, Status: http.StatusBadRequest}
}

// NotFound builds a 404 missing-entity error.
func NotFound(part, message string) *Error {
	return &Error{Name: "not-found", Message: message, Part: part, Tag: TagNotFound, Status: http.StatusNotFound}
}

// Server builds a 500 internal error wrapping its cause. The cause is kept
// for logs via Unwrap but never leaks into the tag.
func Server(part, message string, cause error) *Error {
	return &Error{Name: "server", Message: message, Part: part, Tag: TagServerError, Status: http.StatusInternalServerError, cause: cause}
}

// SessionInvalid builds a 401 for a missing or destroyed session.
func SessionInvalid(part string) *Error {
	return &Error{Name: "unauthorized", Message: "session is invalid or expired", Part: part, Tag: TagSessionInvalid, Status: http.StatusUnauthorized}
}

// TokenInvalid builds a 401 for a failed credential check.
func TokenInvalid(part string) *Error {
	return &Error{Name: "unauthorized", Message: "token is invalid", Part: part, Tag: TagTokenInvalid, Status: http.StatusUnauthorized}
}

// Wrap coerces any failure into the structured shape. A failure that is
// already an *Error passes through unchanged so the original part and tag
// keep their provenance; anything else becomes a generic server error
// tagged with the given part.
func Wrap(part string, err error) *Error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	return Server(part, fmt.Sprintf("unexpected failure: %v", err), err)
}

// As extracts the structured shape from an error chain, or wraps it under
// the given part when none is present. Intended for boundary handlers.
func As(part string, err error) *Error {
	return Wrap(part, err)
}

// IsNotFound reports whether err is a not-found classified Error.
func IsNotFound(err error) bool {
	var ae *Error
	return errors.As(err, &ae) && ae.Tag == TagNotFound
}
