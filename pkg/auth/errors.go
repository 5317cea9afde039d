package auth

import (
	"errors"
	"fmt"
)

// Sentinel errors for auth server responses.
var (
	// ErrInvalidToken indicates the auth server rejected the token.
	ErrInvalidToken = errors.New("invalid token")

	// ErrInvalidUser indicates the auth server rejected a user name.
	ErrInvalidUser = errors.New("invalid user")
)

// Auth server application codes.
const (
	AppCodeInvalidToken = 10020
	AppCodeInvalidUser  = 30010
)

// AuthError is a recognized auth server rejection.
type AuthError struct {
	// Kind is ErrInvalidToken or ErrInvalidUser.
	Kind error

	// Message is the server's detail text.
	Message string
}

// Error implements the error interface.
func (e *AuthError) Error() string {
	if e.Message == "" {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%v: %s", e.Kind, e.Message)
}

// Unwrap returns Kind for errors.Is support.
func (e *AuthError) Unwrap() error {
	return e.Kind
}

// IOError is any other auth server failure.
type IOError struct {
	StatusCode int
	Message    string
}

// Error implements the error interface.
func (e *IOError) Error() string {
	return "auth server: " + e.Message
}

// IsInvalidToken returns true if the error indicates the token was rejected.
func IsInvalidToken(err error) bool {
	return errors.Is(err, ErrInvalidToken)
}

// IsInvalidUser returns true if the error indicates a user name was rejected.
func IsInvalidUser(err error) bool {
	return errors.Is(err, ErrInvalidUser)
}
