// Package icloud provides an HTTP client for the iCloud web API
// with SRP sign-in, session persistence, and error classification.
package icloud

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for service response classification.
// Use errors.Is(err, icloud.ErrAuthExpired) to check.
var (
	ErrAuthExpired        = errors.New("icloud: authentication required")
	ErrAuthFailed         = errors.New("icloud: invalid credentials")
	ErrMFARequired        = errors.New("icloud: verification code required")
	ErrMFAFailed          = errors.New("icloud: verification code rejected")
	ErrServiceUnavailable = errors.New("icloud: service temporarily unavailable")
	ErrRateLimited        = errors.New("icloud: rate limited")
	ErrNotFound           = errors.New("icloud: not found")
	ErrNotActivated       = errors.New("icloud: service not activated for account")
	ErrBadRequest         = errors.New("icloud: bad request")
)

// ServiceError wraps a sentinel error with the HTTP status code and the
// service error code/reason from the response body.
type ServiceError struct {
	StatusCode int
	Code       string
	Reason     string
	Err        error // sentinel, for errors.Is()
}

func (e *ServiceError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("icloud: HTTP %d (%s): %s", e.StatusCode, e.Code, e.Reason)
	}

	return fmt.Sprintf("icloud: HTTP %d: %s", e.StatusCode, e.Reason)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// classifyStatus maps an HTTP status code on an API endpoint to a
// sentinel error. Returns nil for 2xx success codes.
//
// The service signals an expired web session with 421, 450, or a bare
// 500 on the auth and setup hosts, so those map to ErrAuthExpired
// rather than a server-error class.
func classifyStatus(code int) error {
	switch code {
	case http.StatusUnauthorized, 421, 450, http.StatusInternalServerError:
		return ErrAuthExpired
	case http.StatusForbidden:
		return ErrAuthFailed
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict, http.StatusPreconditionFailed:
		// 409 and 412 are flow states during sign-in, handled there.
		return nil
	case http.StatusTooManyRequests:
		return ErrRateLimited
	case http.StatusServiceUnavailable:
		return ErrServiceUnavailable
	default:
		if code >= http.StatusInternalServerError {
			return ErrServiceUnavailable
		}

		if code >= http.StatusBadRequest {
			return ErrBadRequest
		}

		return nil
	}
}

// classifyServiceCode maps a service error code from a response body to
// a sentinel error. Returns nil for codes with no special meaning.
func classifyServiceCode(code string) error {
	switch code {
	case "ZONE_NOT_FOUND", "AUTHENTICATION_FAILED":
		return ErrNotActivated
	case "ACCESS_DENIED":
		return ErrRateLimited
	case "421", "450", "500":
		return ErrAuthExpired
	default:
		return nil
	}
}

// isRetryable reports whether a download status code should be retried
// in place. Auth and throttle statuses have their own handling and are
// never retried here.
func isRetryable(code int) bool {
	switch code {
	case http.StatusRequestTimeout,
		http.StatusBadGateway,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
