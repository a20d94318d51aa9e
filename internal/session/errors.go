package session

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionExpired matches every *SessionExpiredError via errors.Is.
	ErrSessionExpired = errors.New("session expired")

	// ErrNoRefreshToken means renewal was needed but no refresh token is stored.
	ErrNoRefreshToken = errors.New("no refresh token stored")

	// ErrInvalidCredentials is returned by Client.Obtain when the backend rejects a login.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// SessionExpiredError is the terminal failure surfaced to callers: no usable
// access token can be produced without a fresh login.
type SessionExpiredError struct {
	Cause error
}

func (e *SessionExpiredError) Error() string {
	if e.Cause == nil {
		return ErrSessionExpired.Error()
	}
	return ErrSessionExpired.Error() + ": " + e.Cause.Error()
}

func (e *SessionExpiredError) Unwrap() error {
	return e.Cause
}

// Is makes errors.Is(err, ErrSessionExpired) hold for any SessionExpiredError.
func (e *SessionExpiredError) Is(target error) bool {
	return target == ErrSessionExpired
}

// RefreshError describes a failed call to the refresh endpoint.
// StatusCode is zero when no response was received.
type RefreshError struct {
	StatusCode int
	Err        error
}

func (e *RefreshError) Error() string {
	if e.StatusCode != 0 {
		if e.Err != nil {
			return fmt.Sprintf("token refresh failed with status %d: %v", e.StatusCode, e.Err)
		}
		return fmt.Sprintf("token refresh failed with status %d", e.StatusCode)
	}
	return fmt.Sprintf("token refresh failed: %v", e.Err)
}

func (e *RefreshError) Unwrap() error {
	return e.Err
}
