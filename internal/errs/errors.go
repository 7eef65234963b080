// Package errs provides the unified error type used across featureserv.
//
// Every subsystem (database, schema, query, …) wraps its native errors
// into *errs.Error before returning them to callers. The HTTP layer turns
// any error into the Esri error envelope via HTTPStatus and Envelope.
//
// Usage:
//
//	// In a driver, wrap native errors:
//	return errs.Wrap(errs.ErrKindQueryFailed, "query failed", pgErr)
//
//	// In a handler, check the error kind:
//	if errs.IsNotFound(err) {
//	    ...
//	}
package errs

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrKind categorises an error without exposing subsystem-specific codes.
type ErrKind int

const (
	ErrKindUnknown          ErrKind = iota
	ErrKindNotFound                 // no layer, no table, no relationship
	ErrKindConnectionFailed         // cannot reach the database
	ErrKindTimeout                  // context deadline / cancellation
	ErrKindSchemaTimeout            // introspection exceeded its time budget
	ErrKindQueryTimeout             // query execution exceeded its time budget
	ErrKindQueryFailed              // SQL execution error
	ErrKindInvalidInput             // bad arguments from the caller
)

func (k ErrKind) String() string {
	switch k {
	case ErrKindNotFound:
		return "not_found"
	case ErrKindConnectionFailed:
		return "connection_failed"
	case ErrKindTimeout:
		return "timeout"
	case ErrKindSchemaTimeout:
		return "schema_timeout"
	case ErrKindQueryTimeout:
		return "query_timeout"
	case ErrKindQueryFailed:
		return "query_failed"
	case ErrKindInvalidInput:
		return "invalid_input"
	default:
		return "unknown"
	}
}

// Error is the single error type returned by all featureserv subsystems.
type Error struct {
	Kind    ErrKind
	Message string
	Cause   error // original driver-level error, preserved for logging
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap allows errors.Is / errors.As to traverse the cause chain.
func (e *Error) Unwrap() error {
	return e.Cause
}

// --- Constructors ---

// New creates an *Error with the given kind and message and no cause.
func New(kind ErrKind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Newf is New with a format string.
func Newf(kind ErrKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an *Error with the given kind, message, and an underlying cause.
func Wrap(kind ErrKind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Cause: cause}
}

// --- Predicates ---

// IsNotFound reports whether err represents a missing layer, table or relationship.
func IsNotFound(err error) bool {
	return KindOf(err) == ErrKindNotFound
}

// IsTimeout reports whether err was caused by any deadline: a context
// deadline, the schema introspection budget or the query budget.
func IsTimeout(err error) bool {
	switch KindOf(err) {
	case ErrKindTimeout, ErrKindSchemaTimeout, ErrKindQueryTimeout:
		return true
	}
	return false
}

// IsConnectionFailed reports whether err is a connectivity or auth failure.
func IsConnectionFailed(err error) bool {
	return KindOf(err) == ErrKindConnectionFailed
}

// IsQueryFailed reports whether err is a SQL execution failure.
func IsQueryFailed(err error) bool {
	return KindOf(err) == ErrKindQueryFailed
}

// IsInvalidInput reports whether err was caused by bad input from the caller.
func IsInvalidInput(err error) bool {
	return KindOf(err) == ErrKindInvalidInput
}

// KindOf extracts the ErrKind from any error in the chain.
func KindOf(err error) ErrKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ErrKindUnknown
}

// --- HTTP mapping ---

// HTTPStatus returns the status code a handler should answer with for err.
// Everything that is neither a missing resource nor a caller mistake is a 500.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case ErrKindNotFound:
		return http.StatusNotFound
	case ErrKindInvalidInput:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Body is the inner object of the Esri error envelope.
type Body struct {
	Code    int      `json:"code"`
	Message string   `json:"message"`
	Details []string `json:"details"`
}

// ErrorEnvelope is the `{"error": {...}}` document ArcGIS clients expect.
type ErrorEnvelope struct {
	Error Body `json:"error"`
}

// Envelope converts err into the Esri error envelope. The message is the
// user-facing text; the driver cause, when present, goes into details.
func Envelope(err error) ErrorEnvelope {
	body := Body{Code: HTTPStatus(err), Details: []string{}}

	var e *Error
	if errors.As(err, &e) {
		body.Message = e.Message
		if e.Cause != nil {
			body.Details = append(body.Details, e.Cause.Error())
		}
	} else if err != nil {
		body.Message = err.Error()
	}
	if body.Message == "" {
		body.Message = "Internal server error"
	}
	return ErrorEnvelope{Error: body}
}
