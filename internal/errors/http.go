package errors

import (
	"encoding/json"
	"net/http"
)

// RequestIDHeader carries the request correlation id.
const RequestIDHeader = "X-Request-ID"

// HTTPError is the error member of HTTPErrorResponse.
type HTTPError struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	RequestID string         `json:"request_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// HTTPErrorResponse is the JSON body of every error response.
type HTTPErrorResponse struct {
	Error HTTPError `json:"error"`
}

// WriteJSON writes v as a JSON response.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// RespondWithError classifies err and writes the error envelope.
func RespondWithError(w http.ResponseWriter, r *http.Request, err error) {
	appErr := FromError(err)
	if appErr == nil {
		appErr = New(CodeInternal, http.StatusInternalServerError, "unknown error")
	}
	body := HTTPErrorResponse{Error: HTTPError{
		Code:    appErr.Code,
		Message: appErr.Message,
		Details: appErr.Details,
	}}
	if r != nil {
		body.Error.RequestID = r.Header.Get(RequestIDHeader)
		if body.Error.RequestID == "" {
			body.Error.RequestID = w.Header().Get(RequestIDHeader)
		}
	}
	WriteJSON(w, appErr.Status, body)
}
