package server

import (
	"errors"
	"fmt"
)

// OAuth 2.0 error codes from RFC 6749.
// Note: These are intentionally duplicated from the root package errors.go to
// avoid circular imports (root package imports server, server can't import
// root). Keep these in sync.
const (
	ErrorCodeInvalidRequest       = "invalid_request"
	ErrorCodeInvalidClient        = "invalid_client"
	ErrorCodeInvalidGrant         = "invalid_grant"
	ErrorCodeInvalidScope         = "invalid_scope"
	ErrorCodeUnauthorizedClient   = "unauthorized_client"
	ErrorCodeUnsupportedGrantType = "unsupported_grant_type"
	ErrorCodeAccessDenied         = "access_denied"
)

// Sentinel errors returned by server operations. The HTTP layer translates
// these into protocol error responses; descriptions stay generic so storage
// contents cannot be enumerated through error text.
var (
	// ErrInvalidRequest indicates a malformed or incomplete request that was
	// caught before redirect URI validation and must be rendered, not redirected.
	ErrInvalidRequest = errors.New(ErrorCodeInvalidRequest)

	// ErrInvalidClient indicates client authentication failed
	ErrInvalidClient = errors.New(ErrorCodeInvalidClient)

	// ErrInvalidGrant indicates the code or refresh token is invalid, expired,
	// consumed, or bound to different parameters than presented
	ErrInvalidGrant = errors.New(ErrorCodeInvalidGrant)

	// ErrInvalidScope indicates the requested scope exceeds what the client
	// may request
	ErrInvalidScope = errors.New(ErrorCodeInvalidScope)

	// ErrUnauthorizedClient indicates the client is not allowed to use the
	// requested grant type
	ErrUnauthorizedClient = errors.New(ErrorCodeUnauthorizedClient)

	// ErrUnsupportedGrantType indicates an unrecognized grant_type value
	ErrUnsupportedGrantType = errors.New(ErrorCodeUnsupportedGrantType)

	// ErrInvalidToken indicates a bearer token that is unknown, revoked, or
	// expired
	ErrInvalidToken = errors.New("invalid_token")

	// ErrInsufficientScope indicates a valid bearer token whose granted scope
	// does not cover the protected resource
	ErrInsufficientScope = errors.New("insufficient_scope")

	// ErrInvalidClientMetadata indicates a registration request with
	// malformed or unacceptable client metadata (RFC 7591)
	ErrInvalidClientMetadata = errors.New("invalid_client_metadata")

	// ErrRegistrationLimited indicates the per-IP registration limit was hit
	ErrRegistrationLimited = errors.New("registration limit reached")

	// ErrUnavailable indicates the storage backend could not serve the
	// operation; callers must surface this as a temporary failure, never as
	// an invalid-credential response
	ErrUnavailable = errors.New("temporarily unavailable")
)

// LoginRequiredError signals that an authorization request is valid but no
// authenticated user is present. The transport should send the user through
// login and re-enter the flow via Next.
type LoginRequiredError struct {
	// Next is the continuation URL that re-enters the authorization flow
	// after login. The handler fills it from the original request.
	Next string
}

func (e *LoginRequiredError) Error() string {
	return "login required"
}

// AuthorizationError is an authorization-endpoint failure that occurred after
// the client and redirect URI were validated, and therefore must be delivered
// to the client via redirect per RFC 6749 Section 4.1.2.1.
type AuthorizationError struct {
	Code        string // protocol error code, e.g. "invalid_scope"
	Description string
	RedirectURI string
	State       string // echoed verbatim
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}
