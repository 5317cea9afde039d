// Package errors defines application errors with stable machine codes and
// their HTTP rendering.
package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/3leaps/kbagent/pkg/auth"
	"github.com/3leaps/kbagent/pkg/execengine"
	"github.com/3leaps/kbagent/pkg/llm"
	"github.com/3leaps/kbagent/pkg/service"
)

// Error codes.
const (
	CodeBadRequest         = "BAD_REQUEST"
	CodeValidation         = "VALIDATION_ERROR"
	CodeUnauthorized       = "UNAUTHORIZED"
	CodeInvalidToken       = "INVALID_TOKEN"
	CodeInvalidAPIKey      = "INVALID_API_KEY"
	CodeNotFound           = "NOT_FOUND"
	CodeMethodNotAllowed   = "METHOD_NOT_ALLOWED"
	CodeUpstream           = "UPSTREAM_ERROR"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	CodeInternal           = "INTERNAL_ERROR"
)

// AppError is an error with an HTTP status and machine code.
type AppError struct {
	Code    string
	Status  int
	Message string
	Details map[string]any
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error { return e.Err }

// New returns an AppError.
func New(code string, status int, message string) *AppError {
	return &AppError{Code: code, Status: status, Message: message}
}

// NewBadRequest reports invalid client input.
func NewBadRequest(message string) *AppError {
	return New(CodeBadRequest, http.StatusBadRequest, message)
}

// NewNotFound reports a missing resource.
func NewNotFound(message string) *AppError {
	return New(CodeNotFound, http.StatusNotFound, message)
}

// NewExternalServiceError reports an unreachable dependency.
func NewExternalServiceError(message string) *AppError {
	return New(CodeServiceUnavailable, http.StatusServiceUnavailable, message)
}

// WrapInternal wraps err as an internal error. A cancelled ctx is reported
// as such rather than as an internal failure.
func WrapInternal(ctx context.Context, err error, message string) *AppError {
	if ctx != nil && ctx.Err() != nil {
		return &AppError{Code: CodeServiceUnavailable, Status: http.StatusServiceUnavailable, Message: message, Err: ctx.Err()}
	}
	return &AppError{Code: CodeInternal, Status: http.StatusInternalServerError, Message: message, Err: err}
}

// FromError classifies err into an AppError.
func FromError(err error) *AppError {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}

	var authErr *auth.AuthError
	if stderrors.As(err, &authErr) {
		return &AppError{Code: CodeInvalidToken, Status: http.StatusUnauthorized, Message: authErr.Error(), Err: err}
	}

	var provErr *llm.ProviderError
	if stderrors.As(err, &provErr) {
		return &AppError{
			Code:    CodeInvalidAPIKey,
			Status:  http.StatusUnauthorized,
			Message: provErr.Message,
			Details: map[string]any{"provider": provErr.Provider.String(), "status_code": provErr.StatusCode},
			Err:     err,
		}
	}
	if stderrors.Is(err, llm.ErrEmptyKey) || stderrors.Is(err, llm.ErrUnknownProvider) {
		return &AppError{Code: CodeValidation, Status: http.StatusBadRequest, Message: err.Error(), Err: err}
	}

	var valErr *execengine.ValidationError
	if stderrors.As(err, &valErr) {
		return &AppError{
			Code:    CodeUpstream,
			Status:  http.StatusBadGateway,
			Message: valErr.Error(),
			Details: map[string]any{"missing": valErr.Missing, "invalid": valErr.Invalid},
			Err:     err,
		}
	}

	var srvErr *service.ServerError
	if stderrors.As(err, &srvErr) {
		details := map[string]any{"name": srvErr.Name, "code": srvErr.Code}
		if srvErr.Data != nil {
			details["data"] = srvErr.Data
		}
		return &AppError{Code: CodeUpstream, Status: http.StatusBadGateway, Message: srvErr.Message, Details: details, Err: err}
	}

	var httpErr *service.HTTPError
	if stderrors.As(err, &httpErr) {
		return &AppError{
			Code:    CodeUpstream,
			Status:  http.StatusBadGateway,
			Message: httpErr.Error(),
			Details: map[string]any{"status_code": httpErr.StatusCode},
			Err:     err,
		}
	}

	var ioErr *auth.IOError
	if stderrors.As(err, &ioErr) {
		return &AppError{Code: CodeUpstream, Status: http.StatusBadGateway, Message: ioErr.Error(), Err: err}
	}

	if stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(err, context.Canceled) {
		return &AppError{Code: CodeServiceUnavailable, Status: http.StatusServiceUnavailable, Message: err.Error(), Err: err}
	}

	return &AppError{Code: CodeInternal, Status: http.StatusInternalServerError, Message: err.Error(), Err: err}
}
