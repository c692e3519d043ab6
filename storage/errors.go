package storage

import "errors"

// Sentinel errors returned by storage implementations. Callers use
// errors.Is to translate these into protocol-level error responses;
// implementations may wrap them with additional detail.
var (
	// ErrClientNotFound indicates the client ID is not registered
	ErrClientNotFound = errors.New("client not found")

	// ErrInvalidSecret indicates the presented client secret does not match
	ErrInvalidSecret = errors.New("invalid client secret")

	// ErrUserNotFound indicates the user ID or username is unknown
	ErrUserNotFound = errors.New("user not found")

	// ErrRequestNotFound indicates the pending authorization request is
	// unknown or expired
	ErrRequestNotFound = errors.New("authorization request not found")

	// ErrCodeNotFound indicates the authorization code is unknown or expired
	ErrCodeNotFound = errors.New("authorization code not found")

	// ErrCodeAlreadyUsed indicates the authorization code was already
	// consumed. Receiving this error means code replay was detected.
	ErrCodeAlreadyUsed = errors.New("authorization code already used")

	// ErrTokenNotFound indicates the token is unknown, expired, or already
	// consumed by a concurrent rotation
	ErrTokenNotFound = errors.New("token not found")

	// ErrTokenExpired indicates the record exists but its lifetime has passed
	ErrTokenExpired = errors.New("token expired")

	// ErrIPLimitReached indicates the per-IP client registration cap was hit
	ErrIPLimitReached = errors.New("client registration limit reached for IP")

	// ErrUnavailable indicates the backing store could not be reached.
	// Safe for the caller to retry; surfaces as a temporary failure, never a
	// protocol error.
	ErrUnavailable = errors.New("storage unavailable")
)
