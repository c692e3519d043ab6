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

// TokenInfo is the validated view of a bearer token handed to resource
// protection code. It never carries the token value itself.
type TokenInfo struct {
	ClientID  string
	UserID    string
	Scope     string
	TokenType string
	ExpiresAt time.Time
}

// ValidateAccessToken checks a bearer token and, when requiredScope is
// non-empty, that the granted scope covers it (exact space-delimited
// membership, no hierarchy).
//
// Unknown, revoked, and expired tokens are indistinguishable to the caller:
// all yield ErrInvalidToken. Expiry is enforced lazily here with the
// configured clock skew grace. A valid token with missing scope yields
// ErrInsufficientScope so the transport can answer 403 instead of 401.
func (s *Server) ValidateAccessToken(ctx context.Context, accessToken, requiredScope string) (*TokenInfo, error) {
	if accessToken == "" {
		return nil, fmt.Errorf("%w: missing bearer token", ErrInvalidToken)
	}

	token, err := s.tokenStore.GetTokenByAccess(ctx, accessToken)
	if err != nil {
		if errors.Is(err, storage.ErrUnavailable) {
			return nil, fmt.Errorf("%w: token lookup failed", ErrUnavailable)
		}
		s.recordValidation(ctx, false)
		return nil, fmt.Errorf("%w: token is invalid or expired", ErrInvalidToken)
	}

	if token.Revoked {
		s.recordValidation(ctx, false)
		return nil, fmt.Errorf("%w: token is invalid or expired", ErrInvalidToken)
	}

	grace := time.Duration(s.Config.ClockSkewGracePeriod) * time.Second
	if security.IsExpiredWithGracePeriod(token.ExpiresAt, grace) {
		s.recordValidation(ctx, false)
		return nil, fmt.Errorf("%w: token is invalid or expired", ErrInvalidToken)
	}

	if requiredScope != "" && !util.ScopeContains(token.Scope, requiredScope) {
		if s.Auditor != nil {
			s.Auditor.LogEvent(security.Event{
				Type:     security.EventInsufficientScope,
				UserID:   token.UserID,
				ClientID: token.ClientID,
				Details: map[string]any{
					"required_scope": requiredScope,
				},
			})
		}
		s.recordValidation(ctx, false)
		return nil, fmt.Errorf("%w: token scope does not cover %s", ErrInsufficientScope, requiredScope)
	}

	s.recordValidation(ctx, true)

	return &TokenInfo{
		ClientID:  token.ClientID,
		UserID:    token.UserID,
		Scope:     token.Scope,
		TokenType: token.TokenType,
		ExpiresAt: token.ExpiresAt,
	}, nil
}

func (s *Server) recordValidation(ctx context.Context, success bool) {
	if m := s.metrics(); m != nil {
		m.RecordTokenValidation(ctx, success)
	}
}
