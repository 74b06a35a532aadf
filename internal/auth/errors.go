package auth

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Markers in an API error body that mean the access token must be refreshed.
const (
	SignalTokenExpired = "token.expired"
	SignalTokenInvalid = "token.invalid"
	SignalUnauthorized = "unauthorized"
)

// ErrNoRefreshToken means a refresh was needed but no refresh token is stored.
var ErrNoRefreshToken = errors.New("no refresh token available")

// ErrSignedOut means the session was signed out while a refresh was in
// flight; the refreshed token was discarded.
var ErrSignedOut = errors.New("signed out during token refresh")

// ErrorBody is the API's structured error payload. Both fields are optional.
type ErrorBody struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// ParseErrorBody decodes b as an ErrorBody. ok is false when b is not a JSON
// object or carries neither field.
func ParseErrorBody(b []byte) (body ErrorBody, ok bool) {
	if err := json.Unmarshal(b, &body); err != nil {
		return ErrorBody{}, false
	}
	return body, body.Code != "" || body.Message != ""
}

// SignalsExpiry reports whether the body asks the client to refresh its
// access token. The code is checked first; the message only when the code is empty.
func (b ErrorBody) SignalsExpiry() bool {
	signal := b.Code
	if signal == "" {
		signal = b.Message
	}
	switch signal {
	case SignalTokenExpired, SignalTokenInvalid, SignalUnauthorized:
		return true
	}
	return false
}

// RefreshError is returned for a request whose token refresh cycle failed,
// either because no refresh token was stored or because the refresh call
// itself failed.
type RefreshError struct {
	Err error
}

func (e *RefreshError) Error() string {
	return fmt.Sprintf("token refresh failed: %v", e.Err)
}

func (e *RefreshError) Unwrap() error {
	return e.Err
}
