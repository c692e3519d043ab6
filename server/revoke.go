package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/parkgate-io/authcore/security"
	"github.com/parkgate-io/authcore/storage"
)

// Token type hints per RFC 7009 Section 2.1
const (
	TokenTypeHintAccess  = "access_token"
	TokenTypeHintRefresh = "refresh_token"
)

// RevokeToken revokes a token per RFC 7009. The hinted type is tried first,
// then the other. Revoking a refresh token cascades to its paired access
// token; revoking an access token leaves the refresh token usable.
//
// Revocation is idempotent: unknown, expired, and already-revoked tokens all
// return nil. A token owned by a different client than the authenticated one
// also returns nil, with nothing revoked, so ownership cannot be probed
// through response differences. Only client authentication failure and
// storage unavailability are errors.
func (s *Server) RevokeToken(ctx context.Context, clientID, clientSecret, token, tokenTypeHint, clientIP string) error {
	if _, err := s.AuthenticateClient(ctx, clientID, clientSecret); err != nil {
		return err
	}
	if token == "" {
		return nil
	}

	lookups := []string{TokenTypeHintAccess, TokenTypeHintRefresh}
	if tokenTypeHint == TokenTypeHintRefresh {
		lookups = []string{TokenTypeHintRefresh, TokenTypeHintAccess}
	}

	for _, tokenType := range lookups {
		var rec *storage.Token
		var err error
		if tokenType == TokenTypeHintRefresh {
			rec, err = s.tokenStore.GetTokenByRefresh(ctx, token)
		} else {
			rec, err = s.tokenStore.GetTokenByAccess(ctx, token)
		}
		if err != nil {
			if errors.Is(err, storage.ErrUnavailable) {
				return fmt.Errorf("%w: revocation failed", ErrUnavailable)
			}
			continue
		}

		// Tokens can only be revoked by the client they were issued to.
		// Report success regardless so ownership cannot be enumerated.
		if rec.ClientID != clientID {
			if s.Auditor != nil {
				s.Auditor.LogEvent(security.Event{
					Type:      security.EventAuthFailure,
					UserID:    rec.UserID,
					ClientID:  clientID,
					IPAddress: clientIP,
					Details: map[string]any{
						"reason": "revocation_ownership_mismatch",
					},
				})
			}
			return nil
		}

		if tokenType == TokenTypeHintRefresh {
			err = s.tokenStore.RevokeRefreshToken(ctx, token)
		} else {
			err = s.tokenStore.RevokeAccessToken(ctx, token)
		}
		if err != nil {
			if errors.Is(err, storage.ErrUnavailable) {
				return fmt.Errorf("%w: revocation failed", ErrUnavailable)
			}
			// Gone between lookup and revoke: still success per RFC 7009
			return nil
		}

		if s.Auditor != nil {
			s.Auditor.LogTokenRevoked(rec.UserID, clientID, clientIP, tokenType)
		}
		if m := s.metrics(); m != nil {
			m.RecordTokenRevocation(ctx, clientID)
		}
		s.Logger.Info("Token revoked", "client_id", clientID, "token_type", tokenType)
		return nil
	}

	// Unknown token: success per RFC 7009
	return nil
}
