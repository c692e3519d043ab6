package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/parkgate-io/authcore/internal/util"
	"github.com/parkgate-io/authcore/security"
	"github.com/parkgate-io/authcore/storage"
)

// TokenTypeBearer is the token_type of every token this server issues
const TokenTypeBearer = "Bearer"

// ExchangeAuthorizationCode redeems an authorization code for a token pair.
//
// The code is consumed atomically: under concurrent redemption exactly one
// caller succeeds. Presenting an already-consumed code is treated as a theft
// signal; every token minted from that code is revoked before the generic
// invalid_grant goes back. Client binding and byte-exact redirect URI binding
// are verified after consumption, all mapping to the same generic error so
// an attacker learns nothing about which check failed.
func (s *Server) ExchangeAuthorizationCode(ctx context.Context, clientID, clientSecret, code, redirectURI string) (*storage.Token, error) {
	client, err := s.AuthenticateClient(ctx, clientID, clientSecret)
	if err != nil {
		return nil, err
	}
	if !clientAllowsGrant(client, GrantTypeAuthorizationCode) {
		return nil, fmt.Errorf("%w: client may not use the authorization code grant", ErrUnauthorizedClient)
	}

	authCode, err := s.flowStore.ConsumeAuthorizationCode(ctx, code)
	if err != nil {
		if errors.Is(err, storage.ErrUnavailable) {
			return nil, fmt.Errorf("%w: code redemption failed", ErrUnavailable)
		}

		if errors.Is(err, storage.ErrCodeAlreadyUsed) && authCode != nil {
			s.handleCodeReuse(ctx, authCode, clientID)
			return nil, fmt.Errorf("%w: invalid grant", ErrInvalidGrant)
		}

		// Not found or expired
		s.Logger.Debug("Authorization code validation failed",
			"reason", err.Error(),
			"client_id", clientID,
			"code_prefix", util.SafeTruncate(code, 8))
		if s.Auditor != nil {
			s.Auditor.LogAuthFailure("", clientID, "", "invalid_authorization_code")
		}
		return nil, fmt.Errorf("%w: invalid grant", ErrInvalidGrant)
	}

	// Code is now atomically marked as used - no other request can redeem it

	if authCode.ClientID != clientID {
		s.Logger.Debug("Authorization code validation failed",
			"reason", "client_id_mismatch",
			"provided_client_id", clientID,
			"code_prefix", util.SafeTruncate(code, 8))
		if s.Auditor != nil {
			s.Auditor.LogAuthFailure("", clientID, "", "client_id_mismatch")
		}
		return nil, fmt.Errorf("%w: invalid grant", ErrInvalidGrant)
	}

	// Byte-exact binding to the redirect URI used at authorization time
	if authCode.RedirectURI != redirectURI {
		s.Logger.Debug("Authorization code validation failed",
			"reason", "redirect_uri_mismatch",
			"client_id", clientID,
			"code_prefix", util.SafeTruncate(code, 8))
		if s.Auditor != nil {
			s.Auditor.LogAuthFailure(authCode.UserID, clientID, "", "redirect_uri_mismatch")
		}
		return nil, fmt.Errorf("%w: invalid grant", ErrInvalidGrant)
	}

	withRefresh := clientAllowsGrant(client, GrantTypeRefreshToken)
	token, err := s.mintToken(ctx, client.ClientID, authCode.UserID, authCode.Scope, authCode.Code, withRefresh)
	if err != nil {
		return nil, err
	}

	// The consumed code stays in storage marked Used until its TTL expires,
	// so reuse attempts remain detectable.

	if s.Auditor != nil {
		s.Auditor.LogTokenIssued(authCode.UserID, clientID, "", GrantTypeAuthorizationCode, authCode.Scope)
	}
	if m := s.metrics(); m != nil {
		m.RecordCodeExchange(ctx, clientID)
	}

	return token, nil
}

// handleCodeReuse runs the replay defense when a consumed code is presented
// again: revoke every token minted from the code and audit the event.
func (s *Server) handleCodeReuse(ctx context.Context, authCode *storage.AuthorizationCode, clientID string) {
	// Rate limit logging to prevent DoS via log flooding
	if s.SecurityEventRateLimiter == nil || s.SecurityEventRateLimiter.Allow(authCode.UserID+":"+clientID) {
		s.Logger.Error("Authorization code reuse detected - revoking derived tokens",
			"user_id_present", authCode.UserID != "",
			"client_id", clientID,
			"code_prefix", util.SafeTruncate(authCode.Code, 8))
	}

	revoked, err := s.tokenStore.RevokeTokensForCode(ctx, authCode.Code)
	if err != nil {
		s.Logger.Error("Failed to revoke tokens after code reuse detection", "error", err)
	}

	if s.Auditor != nil {
		s.Auditor.LogEvent(security.Event{
			Type:     security.EventAuthorizationCodeReuseDetected,
			UserID:   authCode.UserID,
			ClientID: clientID,
			Details: map[string]any{
				"severity":       "critical",
				"tokens_revoked": revoked,
			},
		})
	}
	if m := s.metrics(); m != nil {
		m.RecordCodeReuseDetected(ctx)
	}

	_ = s.flowStore.DeleteAuthorizationCode(ctx, authCode.Code)
}

// ExchangeRefreshToken redeems a refresh token for a fresh token pair.
//
// With rotation enabled (the default) the presented refresh token is consumed
// atomically and a new one is issued; the superseded token is revoked as part
// of rotation. Presenting an already-rotated token is a reuse signal and
// revokes the whole lineage. With rotation disabled the same refresh token is
// carried into the new pair.
func (s *Server) ExchangeRefreshToken(ctx context.Context, clientID, clientSecret, refreshToken string) (*storage.Token, error) {
	client, err := s.AuthenticateClient(ctx, clientID, clientSecret)
	if err != nil {
		return nil, err
	}
	if !clientAllowsGrant(client, GrantTypeRefreshToken) {
		return nil, fmt.Errorf("%w: client may not use the refresh token grant", ErrUnauthorizedClient)
	}

	var old *storage.Token
	if s.Config.AllowRefreshTokenRotation {
		old, err = s.tokenStore.ConsumeRefreshToken(ctx, refreshToken)
	} else {
		old, err = s.tokenStore.GetTokenByRefresh(ctx, refreshToken)
		if err == nil && old.RefreshRevoked {
			// Revoked, not rotated: plain invalid grant, no reuse defense
			old, err = nil, storage.ErrTokenNotFound
		}
	}
	if err != nil {
		if errors.Is(err, storage.ErrUnavailable) {
			return nil, fmt.Errorf("%w: refresh failed", ErrUnavailable)
		}

		// A record alongside the error means the token existed but was
		// already consumed: reuse of a rotated refresh token
		if old != nil {
			s.handleRefreshReuse(ctx, old, clientID)
			return nil, fmt.Errorf("%w: invalid grant", ErrInvalidGrant)
		}

		s.Logger.Debug("Refresh token validation failed",
			"reason", err.Error(),
			"client_id", clientID,
			"token_prefix", util.SafeTruncate(refreshToken, 8))
		if s.Auditor != nil {
			s.Auditor.LogAuthFailure("", clientID, "", "invalid_refresh_token")
		}
		return nil, fmt.Errorf("%w: invalid grant", ErrInvalidGrant)
	}

	// Ownership: the refresh token must belong to the authenticated client
	if old.ClientID != clientID {
		if err := s.tokenStore.RevokeRefreshToken(ctx, refreshToken); err != nil &&
			!errors.Is(err, storage.ErrTokenNotFound) {
			s.Logger.Warn("Failed to revoke cross-client refresh token", "error", err)
		}
		if s.Auditor != nil {
			s.Auditor.LogAuthFailure(old.UserID, clientID, "", "refresh_token_client_mismatch")
		}
		return nil, fmt.Errorf("%w: invalid grant", ErrInvalidGrant)
	}

	rotated := s.Config.AllowRefreshTokenRotation
	token, err := s.mintToken(ctx, old.ClientID, old.UserID, old.Scope, old.CodeID, rotated)
	if err != nil {
		return nil, err
	}
	if !rotated {
		// Carry the existing refresh token into the new pair
		token.RefreshToken = old.RefreshToken
		token.RefreshExpiresAt = old.RefreshExpiresAt
		if err := s.tokenStore.SaveToken(ctx, token); err != nil {
			return nil, fmt.Errorf("failed to save refreshed token: %w", err)
		}
		s.Logger.Warn("Refresh token reused (rotation disabled)", "client_id", clientID)
	}

	if s.Auditor != nil {
		s.Auditor.LogTokenRefreshed(old.UserID, clientID, "", rotated)
	}
	if m := s.metrics(); m != nil {
		m.RecordTokenRefresh(ctx, clientID, rotated)
	}

	return token, nil
}

// handleRefreshReuse runs the theft defense when a rotated refresh token is
// presented again: revoke the pair and everything sharing its code lineage.
func (s *Server) handleRefreshReuse(ctx context.Context, old *storage.Token, clientID string) {
	if s.SecurityEventRateLimiter == nil || s.SecurityEventRateLimiter.Allow(old.UserID+":"+clientID) {
		s.Logger.Error("Refresh token reuse detected - token was rotated but presented again",
			"client_id", clientID)
	}

	if err := s.tokenStore.RevokeRefreshToken(ctx, old.RefreshToken); err != nil &&
		!errors.Is(err, storage.ErrTokenNotFound) {
		s.Logger.Error("Failed to revoke reused refresh token", "error", err)
	}
	if old.CodeID != "" {
		if _, err := s.tokenStore.RevokeTokensForCode(ctx, old.CodeID); err != nil {
			s.Logger.Error("Failed to revoke token lineage after refresh reuse", "error", err)
		}
	}

	if s.Auditor != nil {
		s.Auditor.LogEvent(security.Event{
			Type:     security.EventRefreshTokenReuseDetected,
			UserID:   old.UserID,
			ClientID: clientID,
			Details: map[string]any{
				"severity": "critical",
				"action":   "lineage_revoked",
			},
		})
	}
	if m := s.metrics(); m != nil {
		m.RecordTokenReuseDetected(ctx)
	}
}

// ExchangeClientCredentials issues a token for the client itself, with no
// user involved. Requires a confidential client registered for the grant.
// No refresh token is issued per RFC 6749 Section 4.4.3.
func (s *Server) ExchangeClientCredentials(ctx context.Context, clientID, clientSecret, scope string) (*storage.Token, error) {
	client, err := s.AuthenticateClient(ctx, clientID, clientSecret)
	if err != nil {
		return nil, err
	}
	if client.ClientType != ClientTypeConfidential {
		return nil, fmt.Errorf("%w: client_credentials requires a confidential client", ErrUnauthorizedClient)
	}
	if !clientAllowsGrant(client, GrantTypeClientCredentials) {
		return nil, fmt.Errorf("%w: client may not use the client credentials grant", ErrUnauthorizedClient)
	}

	if err := s.validateScopes(scope); err != nil {
		return nil, fmt.Errorf("%w: requested scope is not supported", ErrInvalidScope)
	}
	if err := s.validateClientScopes(scope, client.Scopes); err != nil {
		if s.Auditor != nil {
			s.Auditor.LogEvent(security.Event{
				Type:     security.EventScopeEscalationAttempt,
				ClientID: clientID,
				Details: map[string]any{
					"requested_scope": scope,
					"grant_type":      GrantTypeClientCredentials,
				},
			})
		}
		return nil, fmt.Errorf("%w: requested scope exceeds client registration", ErrInvalidScope)
	}

	token, err := s.mintToken(ctx, client.ClientID, "", scope, "", false)
	if err != nil {
		return nil, err
	}

	if s.Auditor != nil {
		s.Auditor.LogTokenIssued("", clientID, "", GrantTypeClientCredentials, scope)
	}

	return token, nil
}

// mintToken creates and persists a token pair. Expiry is stored absolute;
// the HTTP layer derives expires_in at response time.
func (s *Server) mintToken(ctx context.Context, clientID, userID, scope, codeID string, withRefresh bool) (*storage.Token, error) {
	now := time.Now()
	token := &storage.Token{
		AccessToken: generateRandomToken(),
		ClientID:    clientID,
		UserID:      userID,
		Scope:       scope,
		TokenType:   TokenTypeBearer,
		CodeID:      codeID,
		IssuedAt:    now,
		ExpiresAt:   now.Add(time.Duration(s.Config.AccessTokenTTL) * time.Second),
	}
	if withRefresh {
		token.RefreshToken = generateRandomToken()
		token.RefreshExpiresAt = now.Add(time.Duration(s.Config.RefreshTokenTTL) * time.Second)
	}

	if err := s.tokenStore.SaveToken(ctx, token); err != nil {
		if errors.Is(err, storage.ErrUnavailable) {
			return nil, fmt.Errorf("%w: failed to save token", ErrUnavailable)
		}
		return nil, fmt.Errorf("failed to save token: %w", err)
	}

	return token, nil
}
