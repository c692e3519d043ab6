package security

// Event type constants for security audit logging. Using constants keeps
// event names stable across the codebase so alerting rules can match on them.
const (
	// Authorization flow events

	// EventAuthorizationRequested is logged when an authorization request passes validation
	EventAuthorizationRequested = "authorization_requested"

	// EventConsentGranted is logged when the user approves an authorization request
	EventConsentGranted = "consent_granted"

	// EventConsentDenied is logged when the user declines an authorization request
	EventConsentDenied = "consent_denied"

	// EventAuthorizationCodeIssued is logged when an authorization code is issued
	EventAuthorizationCodeIssued = "authorization_code_issued"

	// EventAuthorizationCodeReuseDetected is logged when a consumed code is
	// presented again; tokens minted from the code are revoked in response
	EventAuthorizationCodeReuseDetected = "authorization_code_reuse_detected"

	// Token lifecycle events

	// EventTokenIssued is logged when a new access token is issued to a client
	EventTokenIssued = "token_issued"

	// EventTokenRefreshed is logged when an access token is refreshed using a refresh token
	EventTokenRefreshed = "token_refreshed"

	// EventTokenRevoked is logged when a token is revoked by its client
	EventTokenRevoked = "token_revoked"

	// EventRefreshTokenReuseDetected is logged when a rotated refresh token is presented again
	EventRefreshTokenReuseDetected = "refresh_token_reuse_detected"

	// Client registration events

	// EventClientRegistered is logged when a new OAuth client is registered
	EventClientRegistered = "client_registered"

	// EventClientRegistrationRejected is logged when registration is rejected for security reasons
	EventClientRegistrationRejected = "client_registration_rejected"

	// Security violation events

	// EventAuthFailure is logged when client or bearer authentication fails
	EventAuthFailure = "auth_failure"

	// EventRateLimitExceeded is logged when a rate limit is exceeded
	EventRateLimitExceeded = "rate_limit_exceeded"

	// EventInvalidRedirect is logged when an unregistered redirect URI is presented
	EventInvalidRedirect = "invalid_redirect"

	// EventScopeEscalationAttempt is logged when a request exceeds the client's registered scope
	EventScopeEscalationAttempt = "scope_escalation_attempt"

	// EventInsufficientScope is logged when a resource request carries a valid
	// token that lacks the required scope
	EventInsufficientScope = "insufficient_scope"
)
