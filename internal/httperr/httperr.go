// Package httperr defines the typed errors the gateway surfaces to clients.
// Every interceptor and handler failure is an *Error; the pipeline renders
// it as a structured JSON body with the mapped status code. Internal detail
// (wrapped causes, upstream messages) is logged but never exposed.
package httperr

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Error codes returned in the JSON error body.
const (
	CodeBadRequest     = "bad_request"
	CodeUnauthorized   = "unauthorized"
	CodeReauthRequired = "reauthentication_required"
	CodeTooManyReqs    = "too_many_requests"
	CodeNotFound       = "not_found"
	CodeBadGateway     = "bad_gateway"
	CodeGatewayTimeout = "gateway_timeout"
	CodeInternal       = "internal_error"
)

// Error is an HTTP-mapped gateway error.
type Error struct {
	Status  int
	Code    string
	Message string
	cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s (%d): %s: %v", e.Code, e.Status, e.Message, e.cause)
	}
	return fmt.Sprintf("%s (%d): %s", e.Code, e.Status, e.Message)
}

// Unwrap exposes the wrapped cause for errors.Is/As chains.
func (e *Error) Unwrap() error {
	return e.cause
}

// WithCause returns a copy of e carrying cause for logging. The cause is
// never rendered to the client.
func (e *Error) WithCause(cause error) *Error {
	cp := *e
	cp.cause = cause
	return &cp
}

// New creates an Error with an explicit status and code. Used for
// upstream-status passthrough cases where no constructor fits.
func New(status int, code, message string) *Error {
	return &Error{Status: status, Code: code, Message: message}
}

func BadRequest(message string) *Error {
	return &Error{Status: http.StatusBadRequest, Code: CodeBadRequest, Message: message}
}

func Unauthorized(message string) *Error {
	return &Error{Status: http.StatusUnauthorized, Code: CodeUnauthorized, Message: message}
}

// ReauthRequired signals a structurally valid session token whose identity
// no longer exists. Clients should restart the receipt verification flow
// instead of retrying the same token.
func ReauthRequired(message string) *Error {
	return &Error{Status: http.StatusUnauthorized, Code: CodeReauthRequired, Message: message}
}

func TooManyRequests(message string) *Error {
	return &Error{Status: http.StatusTooManyRequests, Code: CodeTooManyReqs, Message: message}
}

func NotFound(message string) *Error {
	return &Error{Status: http.StatusNotFound, Code: CodeNotFound, Message: message}
}

func BadGateway(message string) *Error {
	return &Error{Status: http.StatusBadGateway, Code: CodeBadGateway, Message: message}
}

func GatewayTimeout(message string) *Error {
	return &Error{Status: http.StatusGatewayTimeout, Code: CodeGatewayTimeout, Message: message}
}

func Internal(message string) *Error {
	return &Error{Status: http.StatusInternalServerError, Code: CodeInternal, Message: message}
}

// FromUpstream maps an unexpected upstream status code onto an Error so the
// caller sees the upstream's own status with a generic code.
func FromUpstream(status int, message string) *Error {
	if status < 400 {
		status = http.StatusBadGateway
	}
	return &Error{Status: status, Code: CodeBadGateway, Message: message}
}

// As extracts an *Error from err, or wraps err as an internal error if it
// is not one. The second return reports whether err was already typed.
func As(err error) (*Error, bool) {
	var he *Error
	if errors.As(err, &he) {
		return he, true
	}
	return Internal("internal server error").WithCause(err), false
}

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Write renders err as a JSON error response. Non-typed errors become 500s
// with a generic message.
func Write(w http.ResponseWriter, err error) {
	he, _ := As(err)
	var body errorBody
	body.Error.Code = he.Code
	body.Error.Message = he.Message

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(he.Status)
	_ = json.NewEncoder(w).Encode(body)
}
