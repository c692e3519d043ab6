// Package storage defines interfaces for persisting OAuth clients, users, tokens,
// and authorization flow state. It supports various backend implementations
// including in-memory and Valkey/Redis-compatible stores.
package storage

import (
	"context"
	"time"
)

// ClientStore defines the interface for managing OAuth client registrations.
// All methods accept context.Context for tracing and cancellation.
type ClientStore interface {
	// SaveClient saves a registered client
	SaveClient(ctx context.Context, client *Client) error

	// GetClient retrieves a client by ID
	GetClient(ctx context.Context, clientID string) (*Client, error)

	// ValidateClientSecret validates a client's secret.
	// The comparison must be constant-time with respect to the stored secret.
	// An empty presented secret is accepted only for clients whose
	// token_endpoint_auth_method is "none".
	ValidateClientSecret(ctx context.Context, clientID, clientSecret string) error

	// ListClients lists all registered clients (for admin purposes)
	ListClients(ctx context.Context) ([]*Client, error)

	// CheckIPLimit checks if an IP has reached the client registration limit
	CheckIPLimit(ctx context.Context, ip string, maxClientsPerIP int) error
}

// UserStore defines the interface for the identity subsystem's user records.
// The authorization core only reads users by ID; creation happens at login or
// through the quick-registration collaborator.
type UserStore interface {
	// SaveUser saves a user record
	SaveUser(ctx context.Context, user *User) error

	// GetUser retrieves a user by ID
	GetUser(ctx context.Context, userID string) (*User, error)

	// GetUserByUsername retrieves a user by unique username
	GetUserByUsername(ctx context.Context, username string) (*User, error)
}

// FlowStore defines the interface for managing authorization flows: the
// pending-consent request records that correlate the begin and decide steps,
// and the single-use authorization codes minted on approval.
// All methods accept context.Context for tracing and cancellation.
type FlowStore interface {
	// SaveAuthorizationRequest saves a pending authorization request awaiting
	// the user's consent decision
	SaveAuthorizationRequest(ctx context.Context, req *AuthorizationRequest) error

	// GetAuthorizationRequest retrieves a pending authorization request by ID
	GetAuthorizationRequest(ctx context.Context, requestID string) (*AuthorizationRequest, error)

	// DeleteAuthorizationRequest removes a pending authorization request
	DeleteAuthorizationRequest(ctx context.Context, requestID string) error

	// SaveAuthorizationCode saves an issued authorization code
	SaveAuthorizationCode(ctx context.Context, code *AuthorizationCode) error

	// GetAuthorizationCode retrieves an authorization code
	GetAuthorizationCode(ctx context.Context, code string) (*AuthorizationCode, error)

	// ConsumeAuthorizationCode atomically checks that a code is unused and
	// marks it used, returning the stored record. Under concurrent redemption
	// of the same code, at most one caller may succeed.
	// Errors:
	//   - ErrCodeNotFound if the code is unknown or expired
	//   - ErrCodeAlreadyUsed if the code was already consumed; the stored
	//     record is still returned alongside the error so callers can run
	//     replay defense (revoking tokens minted from the code)
	// SECURITY: This operation MUST be atomic to prevent concurrent code
	// exchange attacks.
	ConsumeAuthorizationCode(ctx context.Context, code string) (*AuthorizationCode, error)

	// DeleteAuthorizationCode removes an authorization code
	DeleteAuthorizationCode(ctx context.Context, code string) error
}

// TokenStore defines the interface for storing and retrieving issued token
// pairs. A Token record carries both the access token and its optional refresh
// token; both values index the same record.
// All methods accept context.Context for tracing and cancellation.
type TokenStore interface {
	// SaveToken saves an issued token pair
	SaveToken(ctx context.Context, token *Token) error

	// GetTokenByAccess retrieves a token pair by access token value
	GetTokenByAccess(ctx context.Context, accessToken string) (*Token, error)

	// GetTokenByRefresh retrieves a token pair by refresh token value
	GetTokenByRefresh(ctx context.Context, refreshToken string) (*Token, error)

	// RevokeAccessToken marks the access token of a pair as revoked.
	// The refresh token, if any, stays usable.
	RevokeAccessToken(ctx context.Context, accessToken string) error

	// RevokeRefreshToken marks the refresh token as revoked and cascades the
	// revocation to the paired access token (RFC 7009 section 2.1).
	RevokeRefreshToken(ctx context.Context, refreshToken string) error

	// ConsumeRefreshToken atomically retrieves a token pair by refresh token
	// and marks the refresh token revoked, so the caller can rotate it.
	// Under concurrent refresh attempts with the same token, at most one
	// caller may succeed; the rest receive ErrTokenNotFound.
	// SECURITY: This operation MUST be atomic to prevent concurrent token
	// refresh attacks.
	ConsumeRefreshToken(ctx context.Context, refreshToken string) (*Token, error)

	// RevokeTokensForCode revokes every token pair minted from the given
	// authorization code. Called when code replay is detected.
	// Returns the number of pairs revoked.
	RevokeTokensForCode(ctx context.Context, codeID string) (int, error)

	// DeleteToken removes a token pair by access token value
	DeleteToken(ctx context.Context, accessToken string) error
}

// Client represents a registered OAuth client
type Client struct {
	ClientID                string
	ClientSecretHash        string // bcrypt hash; empty iff auth method is "none"
	ClientType              string // "public" or "confidential"
	OwnerUserID             string
	RedirectURIs            []string
	TokenEndpointAuthMethod string
	GrantTypes              []string
	ResponseTypes           []string
	ClientName              string
	ClientURI               string
	Scopes                  []string
	CreatedAt               time.Time
}

// User represents an end user on whose behalf authorization is granted.
// Owned by the identity subsystem; the authorization core references users
// by ID only and never deletes them.
type User struct {
	ID         string // UUID
	Username   string // unique
	FirstName  string
	LastName   string
	MiddleName string
	Mail       string
	Mobile     string
	CreatedAt  time.Time
}

// AuthorizationRequest represents a pending authorization request: the
// server-held record created when the consent view is shown and consumed when
// the user decides. A request that is never decided simply expires.
type AuthorizationRequest struct {
	RequestID    string
	ClientID     string
	UserID       string // set once the user authenticates
	RedirectURI  string
	ResponseType string
	Scope        string
	State        string // client's CSRF state, echoed verbatim on redirect
	CreatedAt    time.Time
	ExpiresAt    time.Time
}

// AuthorizationCode represents an issued single-use authorization code
type AuthorizationCode struct {
	Code        string
	ClientID    string
	UserID      string
	RedirectURI string // exact value bound at issuance; redemption must match
	Scope       string
	CreatedAt   time.Time
	ExpiresAt   time.Time
	Used        bool
}

// Token represents an issued access/refresh token pair. Expiry is stored
// absolute; expires_in values in responses are derived at write time.
type Token struct {
	AccessToken      string
	RefreshToken     string // empty when the grant does not include refresh_token
	ClientID         string
	UserID           string // empty for client_credentials grants
	Scope            string // space-delimited granted scope
	TokenType        string // "Bearer"
	CodeID           string // authorization code that produced this pair, for replay defense
	IssuedAt         time.Time
	ExpiresAt        time.Time
	RefreshExpiresAt time.Time
	Revoked          bool
	RefreshRevoked   bool
}
