package service

import (
	"encoding/json"
	"errors"
	"fmt"
)

// UnknownServerErrorMessage is the message used when a 2xx response carries no result.
const UnknownServerErrorMessage = "An unknown server error occurred"

// ServerError is a structured JSON-RPC failure returned by a platform service.
//
// Construction never fails: absent fields default to "Unknown", 0, the raw
// response text, and nil.
type ServerError struct {
	Name    string
	Code    int
	Message string
	Data    any
}

// Error renders "<name>: <code>. <message>\n<data>".
func (e *ServerError) Error() string {
	return fmt.Sprintf("%s: %d. %s\n%s", e.Name, e.Code, e.Message, renderData(e.Data))
}

func renderData(data any) string {
	switch v := data.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(b)
	}
}

// HTTPError is a transport level failure: a non-2xx status outside the
// structured 500 case.
type HTTPError struct {
	StatusCode int
	Body       string
}

// Error implements the error interface.
func (e *HTTPError) Error() string {
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Body)
}

// IsServerError returns true if err wraps a *ServerError.
func IsServerError(err error) bool {
	var se *ServerError
	return errors.As(err, &se)
}

// IsHTTPError returns true if err wraps a *HTTPError.
func IsHTTPError(err error) bool {
	var he *HTTPError
	return errors.As(err, &he)
}

// newServerError builds a ServerError from the decoded "error" member of a
// 500 response. rawText is the full response body.
func newServerError(errField any, rawText string) *ServerError {
	fields, ok := errField.(map[string]any)
	if !ok {
		fields = map[string]any{}
		if errField != nil {
			fields["data"] = errField
		}
	}

	se := &ServerError{
		Name:    "Unknown",
		Code:    0,
		Message: rawText,
	}
	if name, ok := fields["name"].(string); ok {
		se.Name = name
	}
	if code, ok := fields["code"].(float64); ok {
		se.Code = int(code)
	}
	if msg, ok := fields["message"].(string); ok {
		se.Message = msg
	}
	if data, ok := fields["data"]; ok {
		se.Data = data
	} else if nested, ok := fields["error"]; ok {
		se.Data = nested
	}
	return se
}
