package orders

import (
	"errors"
	"fmt"
)

// Code classifies a domain error so the HTTP layer can pick a status code
// without inspecting error strings.
type Code string

const (
	CodeValidation    Code = "VALIDATION_ERROR"
	CodeGateway       Code = "GATEWAY_ERROR"
	CodeAuth          Code = "AUTH_ERROR"
	CodeNotFound      Code = "NOT_FOUND"
	CodeStateConflict Code = "STATE_CONFLICT"
	CodeInternal      Code = "INTERNAL"
)

// Error is the typed domain error returned by the order service. Store-layer
// and gateway failures are wrapped into one of these before they cross the
// package boundary.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func ValidationError(format string, args ...any) *Error {
	return &Error{Code: CodeValidation, Message: fmt.Sprintf(format, args...)}
}

func NotFoundError(format string, args ...any) *Error {
	return &Error{Code: CodeNotFound, Message: fmt.Sprintf(format, args...)}
}

func ConflictError(format string, args ...any) *Error {
	return &Error{Code: CodeStateConflict, Message: fmt.Sprintf(format, args...)}
}

func GatewayError(msg string, err error) *Error {
	return &Error{Code: CodeGateway, Message: msg, Err: err}
}

func InternalError(msg string, err error) *Error {
	return &Error{Code: CodeInternal, Message: msg, Err: err}
}

// CodeOf extracts the classification of err, defaulting to CodeInternal for
// anything that is not a domain error.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}
