package server

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/parkgate-io/authcore/security"
	"github.com/parkgate-io/authcore/storage"
)

// Client type constants (also defined in root package constants.go)
// These are duplicated to avoid import cycles since root package imports server package
const (
	// ClientTypeConfidential represents a confidential OAuth client
	ClientTypeConfidential = "confidential"

	// ClientTypePublic represents a public OAuth client
	ClientTypePublic = "public"
)

// Token endpoint authentication method constants (RFC 7591)
const (
	// TokenEndpointAuthMethodNone represents no authentication (public clients)
	TokenEndpointAuthMethodNone = "none"

	// TokenEndpointAuthMethodBasic represents HTTP Basic authentication
	TokenEndpointAuthMethodBasic = "client_secret_basic"

	// TokenEndpointAuthMethodPost represents POST form parameters
	TokenEndpointAuthMethodPost = "client_secret_post"
)

// Grant type constants
const (
	GrantTypeAuthorizationCode = "authorization_code"
	GrantTypeRefreshToken      = "refresh_token"
	GrantTypeClientCredentials = "client_credentials"
)

// ResponseTypeCode is the only supported response type
const ResponseTypeCode = "code"

// ClientRegistration is the validated metadata for a registration request.
type ClientRegistration struct {
	ClientName              string
	ClientURI               string
	RedirectURIs            []string
	GrantTypes              []string
	ResponseTypes           []string
	Scope                   string // space-delimited
	TokenEndpointAuthMethod string
}

// RegisterClient registers a new client with IP-based DoS protection.
// The plaintext secret is returned exactly once; only its bcrypt hash is
// persisted. tokenEndpointAuthMethod determines how the client authenticates
// at the token endpoint:
// - "none": Public client (no secret) - native/CLI apps
// - "client_secret_basic": Confidential client (Basic Auth with secret) - default
// - "client_secret_post": Confidential client (POST form with secret)
func (s *Server) RegisterClient(ctx context.Context, ownerUserID string, reg *ClientRegistration, clientIP string) (*storage.Client, string, error) {
	if err := s.clientStore.CheckIPLimit(ctx, clientIP, s.Config.MaxClientsPerIP); err != nil {
		if errors.Is(err, storage.ErrIPLimitReached) {
			if s.Auditor != nil {
				s.Auditor.LogEvent(security.Event{
					Type:      security.EventClientRegistrationRejected,
					IPAddress: clientIP,
					Details: map[string]any{
						"reason": "ip_limit_reached",
					},
				})
			}
			return nil, "", fmt.Errorf("%w: too many clients registered from this address", ErrRegistrationLimited)
		}
		return nil, "", fmt.Errorf("%w: registration check failed", ErrUnavailable)
	}

	if err := s.validateClientMetadata(reg); err != nil {
		if s.Auditor != nil {
			s.Auditor.LogEvent(security.Event{
				Type:      security.EventClientRegistrationRejected,
				IPAddress: clientIP,
				Details: map[string]any{
					"reason": err.Error(),
				},
			})
		}
		s.Logger.Warn("Client registration rejected",
			"error", err.Error(),
			"client_ip", clientIP)
		return nil, "", err
	}

	clientType, authMethod := resolveClientTypeAndAuthMethod(reg.TokenEndpointAuthMethod)
	clientSecret, clientSecretHash, err := generateClientSecret(clientType)
	if err != nil {
		return nil, "", err
	}

	client := &storage.Client{
		ClientID:                generateRandomToken(),
		ClientSecretHash:        clientSecretHash,
		ClientType:              clientType,
		OwnerUserID:             ownerUserID,
		RedirectURIs:            reg.RedirectURIs,
		TokenEndpointAuthMethod: authMethod,
		GrantTypes:              reg.GrantTypes,
		ResponseTypes:           reg.ResponseTypes,
		ClientName:              reg.ClientName,
		ClientURI:               reg.ClientURI,
		Scopes:                  strings.Fields(reg.Scope),
		CreatedAt:               time.Now(),
	}

	if err := s.clientStore.SaveClient(ctx, client); err != nil {
		if errors.Is(err, storage.ErrUnavailable) {
			return nil, "", fmt.Errorf("%w: failed to save client", ErrUnavailable)
		}
		return nil, "", fmt.Errorf("failed to save client: %w", err)
	}

	s.trackClientIPAndLog(client, clientIP)
	return client, clientSecret, nil
}

// validateClientMetadata validates a registration request and fills defaults.
// All failures map to ErrInvalidClientMetadata per RFC 7591.
func (s *Server) validateClientMetadata(reg *ClientRegistration) error {
	if reg == nil {
		return fmt.Errorf("%w: empty registration request", ErrInvalidClientMetadata)
	}
	if reg.ClientName == "" {
		return fmt.Errorf("%w: client_name is required", ErrInvalidClientMetadata)
	}

	if len(reg.RedirectURIs) == 0 {
		return fmt.Errorf("%w: at least one redirect_uri is required", ErrInvalidClientMetadata)
	}
	for _, uri := range reg.RedirectURIs {
		if err := validateRedirectURISecurity(uri, s.Config.Issuer); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidClientMetadata, err)
		}
	}

	if len(reg.GrantTypes) == 0 {
		reg.GrantTypes = []string{GrantTypeAuthorizationCode, GrantTypeRefreshToken}
	}
	for _, gt := range reg.GrantTypes {
		switch gt {
		case GrantTypeAuthorizationCode, GrantTypeRefreshToken, GrantTypeClientCredentials:
		default:
			return fmt.Errorf("%w: unsupported grant_type %q", ErrInvalidClientMetadata, gt)
		}
	}

	if len(reg.ResponseTypes) == 0 {
		reg.ResponseTypes = []string{ResponseTypeCode}
	}
	for _, rt := range reg.ResponseTypes {
		if rt != ResponseTypeCode {
			return fmt.Errorf("%w: unsupported response_type %q", ErrInvalidClientMetadata, rt)
		}
	}

	switch reg.TokenEndpointAuthMethod {
	case "", TokenEndpointAuthMethodNone, TokenEndpointAuthMethodBasic, TokenEndpointAuthMethodPost:
	default:
		return fmt.Errorf("%w: unsupported token_endpoint_auth_method %q", ErrInvalidClientMetadata, reg.TokenEndpointAuthMethod)
	}

	// A public client has no secret to present with client_credentials
	if reg.TokenEndpointAuthMethod == TokenEndpointAuthMethodNone {
		for _, gt := range reg.GrantTypes {
			if gt == GrantTypeClientCredentials {
				return fmt.Errorf("%w: client_credentials requires a confidential client", ErrInvalidClientMetadata)
			}
		}
	}

	if reg.ClientURI != "" {
		parsed, err := url.Parse(reg.ClientURI)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return fmt.Errorf("%w: client_uri must be an absolute URL", ErrInvalidClientMetadata)
		}
	}

	if err := s.validateScopes(reg.Scope); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidClientMetadata, err)
	}

	return nil
}

// resolveClientTypeAndAuthMethod determines the client type and auth method.
// Per RFC 7591 Section 2: token_endpoint_auth_method determines client type.
func resolveClientTypeAndAuthMethod(tokenEndpointAuthMethod string) (string, string) {
	if tokenEndpointAuthMethod == TokenEndpointAuthMethodNone {
		return ClientTypePublic, TokenEndpointAuthMethodNone
	}
	if tokenEndpointAuthMethod == "" {
		tokenEndpointAuthMethod = TokenEndpointAuthMethodBasic
	}
	return ClientTypeConfidential, tokenEndpointAuthMethod
}

// generateClientSecret generates a secret for confidential clients.
func generateClientSecret(clientType string) (string, string, error) {
	if clientType != ClientTypeConfidential {
		return "", "", nil
	}

	clientSecret := generateRandomToken()
	hash, err := bcrypt.GenerateFromPassword([]byte(clientSecret), bcrypt.DefaultCost)
	if err != nil {
		return "", "", fmt.Errorf("failed to hash client secret: %w", err)
	}
	return clientSecret, string(hash), nil
}

// trackClientIPAndLog tracks the IP for DoS protection and logs the registration.
func (s *Server) trackClientIPAndLog(client *storage.Client, clientIP string) {
	type ipTracker interface {
		TrackClientIP(string)
	}
	if tracker, ok := s.clientStore.(ipTracker); ok {
		tracker.TrackClientIP(clientIP)
	}

	if s.Auditor != nil {
		s.Auditor.LogClientRegistered(client.ClientID, client.ClientType, clientIP)
	}
	if m := s.metrics(); m != nil {
		m.RecordClientRegistration(context.Background(), client.ClientType)
	}

	s.Logger.Info("Registered new OAuth client",
		"client_id", client.ClientID,
		"client_name", client.ClientName,
		"client_type", client.ClientType,
		"token_endpoint_auth_method", client.TokenEndpointAuthMethod,
		"client_ip", clientIP)
}

// GetClient retrieves a client by ID (for use by handler)
func (s *Server) GetClient(ctx context.Context, clientID string) (*storage.Client, error) {
	client, err := s.clientStore.GetClient(ctx, clientID)
	if err != nil {
		if errors.Is(err, storage.ErrUnavailable) {
			return nil, fmt.Errorf("%w: client lookup failed", ErrUnavailable)
		}
		return nil, err
	}
	return client, nil
}

// AuthenticateClient validates client credentials and returns the client
// record. The underlying store performs a bcrypt comparison against a dummy
// hash for unknown clients so response time does not reveal existence.
func (s *Server) AuthenticateClient(ctx context.Context, clientID, clientSecret string) (*storage.Client, error) {
	if clientID == "" {
		return nil, fmt.Errorf("%w: missing client credentials", ErrInvalidClient)
	}

	if err := s.clientStore.ValidateClientSecret(ctx, clientID, clientSecret); err != nil {
		if errors.Is(err, storage.ErrUnavailable) {
			return nil, fmt.Errorf("%w: client authentication failed", ErrUnavailable)
		}
		if s.Auditor != nil {
			s.Auditor.LogAuthFailure("", clientID, "", "invalid_client_credentials")
		}
		return nil, fmt.Errorf("%w: invalid client credentials", ErrInvalidClient)
	}

	client, err := s.clientStore.GetClient(ctx, clientID)
	if err != nil {
		if errors.Is(err, storage.ErrUnavailable) {
			return nil, fmt.Errorf("%w: client lookup failed", ErrUnavailable)
		}
		return nil, fmt.Errorf("%w: invalid client credentials", ErrInvalidClient)
	}
	return client, nil
}

// clientAllowsGrant reports whether the client may use the given grant type
func clientAllowsGrant(client *storage.Client, grantType string) bool {
	for _, gt := range client.GrantTypes {
		if gt == grantType {
			return true
		}
	}
	return false
}
