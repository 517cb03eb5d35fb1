// Package errors defines the application error type used by the status
// server. Every error carries a gofulmen error envelope, which is what the
// server renders.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"

	fulerrors "github.com/fulmenhq/gofulmen/errors"
)

// Error codes.
const (
	CodeNotFound           = "NOT_FOUND"
	CodeMethodNotAllowed   = "METHOD_NOT_ALLOWED"
	CodeBadRequest         = "BAD_REQUEST"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	CodeExternalService    = "EXTERNAL_SERVICE_ERROR"
	CodeInternal           = "INTERNAL_ERROR"
	CodeJobNotFound        = "JOB_NOT_FOUND"
)

// RequestIDHeader carries the request correlation id.
const RequestIDHeader = "X-Request-ID"

// AppError pairs an error envelope with its HTTP status.
type AppError struct {
	Status   int
	Envelope *fulerrors.ErrorEnvelope
	Err      error
}

// New builds an AppError with a fresh envelope.
func New(status int, code, message string) *AppError {
	return &AppError{Status: status, Envelope: fulerrors.NewErrorEnvelope(code, message)}
}

func (e *AppError) Code() string {
	return e.Envelope.Code
}

func (e *AppError) Message() string {
	return e.Envelope.Message
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code(), e.Message(), e.Err)
	}
	return e.Code() + ": " + e.Message()
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// WithDetails returns a copy of e whose envelope carries details as context.
// Details the envelope rejects are dropped; the error itself still renders.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	cp := *e
	env := fulerrors.NewErrorEnvelope(e.Code(), e.Message())
	if withCtx, err := env.WithContext(details); err == nil {
		env = withCtx
	}
	cp.Envelope = env
	return &cp
}

func NewNotFoundError(message string) *AppError {
	return New(http.StatusNotFound, CodeNotFound, message)
}

func NewMethodNotAllowedError(message string) *AppError {
	return New(http.StatusMethodNotAllowed, CodeMethodNotAllowed, message)
}

func NewBadRequestError(message string) *AppError {
	return New(http.StatusBadRequest, CodeBadRequest, message)
}

func NewServiceUnavailableError(message string) *AppError {
	return New(http.StatusServiceUnavailable, CodeServiceUnavailable, message)
}

// NewExternalServiceError reports a failing dependency such as the scheduler
// or a data space.
func NewExternalServiceError(message string) *AppError {
	return New(http.StatusBadGateway, CodeExternalService, message)
}

func NewInternalError(message string, err error) *AppError {
	appErr := New(http.StatusInternalServerError, CodeInternal, message)
	appErr.Err = err
	return appErr
}

// ErrorBody is the rendered form of an envelope.
type ErrorBody struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
}

// ErrorResponse wraps ErrorBody as {"error": {...}}.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// NewErrorResponse renders env. The correlation id becomes the request id.
func NewErrorResponse(env *fulerrors.ErrorEnvelope) ErrorResponse {
	return ErrorResponse{Error: ErrorBody{
		Code:      env.Code,
		Message:   env.Message,
		Details:   env.Context,
		RequestID: env.CorrelationID,
	}}
}

// WriteEnvelope writes env as a JSON error response with status.
func WriteEnvelope(w http.ResponseWriter, env *fulerrors.ErrorEnvelope, status int) {
	WriteJSON(w, status, NewErrorResponse(env))
}

// RespondWithError writes err as a JSON error response. Errors that are not
// an *AppError become INTERNAL_ERROR without leaking their text.
func RespondWithError(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *AppError
	if !stderrors.As(err, &appErr) || appErr.Envelope == nil {
		appErr = NewInternalError("internal server error", err)
	}

	env := appErr.Envelope
	if r != nil {
		if id := r.Header.Get(RequestIDHeader); id != "" {
			env = env.WithCorrelationID(id)
		}
	}
	WriteEnvelope(w, env, appErr.Status)
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
