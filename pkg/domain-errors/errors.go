package domainerrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code classifies store errors for callers and for HTTP translation. Every
// error surfaced from the version manager carries a code, the business key
// and the attempted operation so callers never have to guess at state.
type Code string

const (
	CodeNotFound           Code = "not_found"
	CodeConflict           Code = "concurrent_modification"
	CodeImmutableWrite     Code = "immutable_write"
	CodeSchemaViolation    Code = "schema_violation"
	CodeTimeout            Code = "timeout"
	CodeBackendUnavailable Code = "backend_unavailable"
	CodeCorruption         Code = "corruption"
	CodeBadRequest         Code = "bad_request"
	CodeUnauthorized       Code = "unauthorized"
	CodeInternal           Code = "internal"
)

// StoreError is the coded error type crossing the service boundary.
type StoreError struct {
	Code    Code
	Op      string // operation attempted, e.g. "propose"
	Key     string // business key, empty when not key-scoped
	Message string
	cause   error
}

func (e *StoreError) Error() string {
	switch {
	case e.Key != "" && e.Op != "":
		return fmt.Sprintf("%s %s: %s: %s", e.Op, e.Key, e.Code, e.Message)
	case e.Op != "":
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Code, e.Message)
	default:
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
}

func (e *StoreError) Unwrap() error { return e.cause }

// New builds a coded error without an underlying cause.
func New(code Code, message string) *StoreError {
	return &StoreError{Code: code, Message: message}
}

// Wrap builds a coded error for an operation on a business key, preserving
// the cause for errors.Is checks against sentinel values.
func Wrap(code Code, op, key string, cause error) *StoreError {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return &StoreError{Code: code, Op: op, Key: key, Message: msg, cause: cause}
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	var se *StoreError
	return errors.As(err, &se) && se.Code == code
}

// CodeOf extracts the code from err, or CodeInternal for uncoded errors.
func CodeOf(err error) Code {
	var se *StoreError
	if errors.As(err, &se) {
		return se.Code
	}
	return CodeInternal
}

// ToHTTPStatus maps error codes to HTTP status codes for the transport layer.
func ToHTTPStatus(code Code) int {
	switch code {
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict, CodeImmutableWrite:
		return http.StatusConflict
	case CodeSchemaViolation, CodeBadRequest:
		return http.StatusBadRequest
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeTimeout:
		return http.StatusGatewayTimeout
	case CodeBackendUnavailable:
		return http.StatusServiceUnavailable
	case CodeCorruption, CodeInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
