// Package apperr provides the errors returned to API clients
package apperr

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/relabs-tech/schemagate/core/schema"
)

// error types
const (
	TypeNotFound      = "NotFound"
	TypeBadRequest    = "BadRequest"
	TypeInternalError = "InternalError"
)

// Error is an error with an HTTP status which is rendered as JSON body
type Error struct {
	Type    string             `json:"type"`
	Message string             `json:"message"`
	Errors  []schema.Violation `json:"errors,omitempty"`
	Status  int                `json:"-"`
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.cause)
	}
	return e.Type + ": " + e.Message
}

// Unwrap returns the cause of an internal error
func (e *Error) Unwrap() error {
	return e.cause
}

// NotFound returns a NotFound error
func NotFound(format string, a ...interface{}) *Error {
	return &Error{Type: TypeNotFound, Status: http.StatusNotFound, Message: fmt.Sprintf(format, a...)}
}

// BadRequest returns a BadRequest error
func BadRequest(format string, a ...interface{}) *Error {
	return &Error{Type: TypeBadRequest, Status: http.StatusBadRequest, Message: fmt.Sprintf(format, a...)}
}

// Invalid returns a BadRequest error with schema violations
func Invalid(violations []schema.Violation) *Error {
	return &Error{
		Type:    TypeBadRequest,
		Status:  http.StatusBadRequest,
		Message: "the document does not match the schema",
		Errors:  violations,
	}
}

// Internal returns an InternalError with a generic message. The cause is kept for logging
// but never sent to clients.
func Internal(cause error) *Error {
	return &Error{Type: TypeInternalError, Status: http.StatusInternalServerError, Message: "internal error", cause: cause}
}

// From converts any error into an *Error. Errors which are not an *Error become internal errors.
func From(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Internal(err)
}

// Write writes the error as JSON response
func (e *Error) Write(w http.ResponseWriter) {
	body, err := json.MarshalWithOption(e, json.DisableHTMLEscape())
	if err != nil {
		http.Error(w, e.Message, e.Status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(e.Status)
	w.Write(body)
}
