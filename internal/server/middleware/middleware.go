// Package middleware holds the HTTP middleware shared by the kbagent server.
package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "github.com/3leaps/kbagent/internal/errors"
	"github.com/3leaps/kbagent/internal/observability"
)

type ctxKey int

const requestIDKey ctxKey = iota

// ErrorResponse is the JSON body written by the middleware on failure. It
// matches apperrors.HTTPErrorResponse on the wire.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail is the error member of ErrorResponse.
type ErrorDetail struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	RequestID string         `json:"request_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// RequestID propagates X-Request-ID, generating one when absent. The id is
// echoed on the response and stored in the request context.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(apperrors.RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
			r.Header.Set(apperrors.RequestIDHeader, id)
		}
		w.Header().Set(apperrors.RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

// GetRequestID returns the id stored by RequestID, or "".
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// Recovery turns handler panics into a 500 INTERNAL_ERROR response.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			observability.ServerLogger.Error("Handler panic",
				zap.Any("panic", rec),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("request_id", requestIDFrom(r)),
			)
			writeErrorResponse(w, ErrorDetail{
				Code:      apperrors.CodeInternal,
				Message:   fmt.Sprintf("panic: %v", rec),
				RequestID: requestIDFrom(r),
			}, http.StatusInternalServerError)
		}()
		next.ServeHTTP(w, r)
	})
}

// ErrorHandler is Recovery under its older name.
func ErrorHandler(next http.Handler) http.Handler {
	return Recovery(next)
}

// Logging writes one line per request to the server logger.
func Logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		observability.ServerLogger.Info("Request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", sw.status),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", requestIDFrom(r)),
		)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

func requestIDFrom(r *http.Request) string {
	if id := GetRequestID(r.Context()); id != "" {
		return id
	}
	return r.Header.Get(apperrors.RequestIDHeader)
}

func writeErrorResponse(w http.ResponseWriter, detail ErrorDetail, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(ErrorResponse{Error: detail})
}
