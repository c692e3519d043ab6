package server

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/parkgate-io/authcore/identity"
	"github.com/parkgate-io/authcore/security"
	"github.com/parkgate-io/authcore/storage"
)

// AuthorizationParams are the query parameters of an authorization request.
type AuthorizationParams struct {
	ClientID     string
	RedirectURI  string
	ResponseType string
	Scope        string
	State        string
}

// ConsentView is what the transport renders on the consent page. RequestID
// correlates the subsequent decision with this request.
type ConsentView struct {
	RequestID  string
	ClientName string
	ClientURI  string
	Scopes     []string
	State      string
}

// RedirectTarget is the outcome of a consent decision: the URL the user
// agent should be sent to.
type RedirectTarget struct {
	URL string
}

// BeginAuthorization validates an authorization request and parks it pending
// the user's consent decision.
//
// Validation order matters: the client and redirect URI are verified before
// anything else, and failures there are returned as rendered errors, never as
// redirects, so an attacker cannot bounce users to an unregistered URI.
// Failures after that point are deliverable to the client via redirect and
// come back as *AuthorizationError.
//
// An unauthenticated caller (nil user) on an otherwise valid request yields
// *LoginRequiredError so the transport can run its login flow and re-enter.
func (s *Server) BeginAuthorization(ctx context.Context, params *AuthorizationParams, user *identity.Identity) (*ConsentView, error) {
	if params == nil || params.ClientID == "" {
		return nil, fmt.Errorf("%w: client_id is required", ErrInvalidRequest)
	}

	client, err := s.clientStore.GetClient(ctx, params.ClientID)
	if err != nil {
		if errors.Is(err, storage.ErrUnavailable) {
			return nil, fmt.Errorf("%w: client lookup failed", ErrUnavailable)
		}
		if s.Auditor != nil {
			s.Auditor.LogAuthFailure("", params.ClientID, "", "unknown_client")
		}
		return nil, fmt.Errorf("%w: unknown client", ErrInvalidRequest)
	}

	// Fail closed on redirect URI: render the error, never redirect
	if err := validateRedirectURI(client, params.RedirectURI); err != nil {
		if s.Auditor != nil {
			s.Auditor.LogEvent(security.Event{
				Type:     security.EventInvalidRedirect,
				ClientID: params.ClientID,
				Details: map[string]any{
					"redirect_uri": params.RedirectURI,
				},
			})
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	// From here on the redirect URI is trusted; protocol failures go back to
	// the client as redirects per RFC 6749 Section 4.1.2.1
	if params.ResponseType != ResponseTypeCode {
		return nil, &AuthorizationError{
			Code:        "unsupported_response_type",
			Description: "only the code response type is supported",
			RedirectURI: params.RedirectURI,
			State:       params.State,
		}
	}
	if !responseTypeAllowed(client, params.ResponseType) {
		return nil, &AuthorizationError{
			Code:        ErrorCodeUnauthorizedClient,
			Description: "client may not use this response type",
			RedirectURI: params.RedirectURI,
			State:       params.State,
		}
	}
	if !clientAllowsGrant(client, GrantTypeAuthorizationCode) {
		return nil, &AuthorizationError{
			Code:        ErrorCodeUnauthorizedClient,
			Description: "client may not use the authorization code grant",
			RedirectURI: params.RedirectURI,
			State:       params.State,
		}
	}

	if err := s.validateScopes(params.Scope); err != nil {
		return nil, &AuthorizationError{
			Code:        ErrorCodeInvalidScope,
			Description: "requested scope is not supported",
			RedirectURI: params.RedirectURI,
			State:       params.State,
		}
	}
	if err := s.validateClientScopes(params.Scope, client.Scopes); err != nil {
		if s.Auditor != nil {
			s.Auditor.LogEvent(security.Event{
				Type:     security.EventScopeEscalationAttempt,
				ClientID: params.ClientID,
				Details: map[string]any{
					"requested_scope": params.Scope,
				},
			})
		}
		return nil, &AuthorizationError{
			Code:        ErrorCodeInvalidScope,
			Description: "requested scope exceeds client registration",
			RedirectURI: params.RedirectURI,
			State:       params.State,
		}
	}

	// Request is valid; now the user must be present
	if user == nil {
		return nil, &LoginRequiredError{}
	}

	req := &storage.AuthorizationRequest{
		RequestID:    generateRandomToken(),
		ClientID:     client.ClientID,
		UserID:       user.UserID,
		RedirectURI:  params.RedirectURI,
		ResponseType: params.ResponseType,
		Scope:        params.Scope,
		State:        params.State,
		CreatedAt:    time.Now(),
		ExpiresAt:    time.Now().Add(time.Duration(s.Config.AuthorizationRequestTTL) * time.Second),
	}
	if err := s.flowStore.SaveAuthorizationRequest(ctx, req); err != nil {
		if errors.Is(err, storage.ErrUnavailable) {
			return nil, fmt.Errorf("%w: failed to save authorization request", ErrUnavailable)
		}
		return nil, fmt.Errorf("failed to save authorization request: %w", err)
	}

	if s.Auditor != nil {
		s.Auditor.LogAuthorizationRequested(user.UserID, client.ClientID, "", params.Scope)
	}
	if m := s.metrics(); m != nil {
		m.RecordAuthorizationRequested(ctx, client.ClientID)
	}

	return &ConsentView{
		RequestID:  req.RequestID,
		ClientName: client.ClientName,
		ClientURI:  client.ClientURI,
		Scopes:     strings.Fields(params.Scope),
		State:      params.State,
	}, nil
}

// DecideAuthorization records the user's consent decision for a pending
// request. Approval mints a single-use authorization code bound to the
// client, user, scope, and redirect URI captured at Begin time. Denial sends
// access_denied back to the client. Either way the state parameter is echoed
// verbatim and the pending request is consumed.
func (s *Server) DecideAuthorization(ctx context.Context, requestID string, user *identity.Identity, approved bool) (*RedirectTarget, error) {
	if user == nil {
		return nil, &LoginRequiredError{}
	}

	req, err := s.flowStore.GetAuthorizationRequest(ctx, requestID)
	if err != nil {
		if errors.Is(err, storage.ErrUnavailable) {
			return nil, fmt.Errorf("%w: request lookup failed", ErrUnavailable)
		}
		return nil, fmt.Errorf("%w: unknown or expired authorization request", ErrInvalidRequest)
	}

	// The deciding user must be the one who saw the consent page
	if req.UserID != user.UserID {
		if s.Auditor != nil {
			s.Auditor.LogAuthFailure(user.UserID, req.ClientID, "", "consent_user_mismatch")
		}
		return nil, fmt.Errorf("%w: unknown or expired authorization request", ErrInvalidRequest)
	}

	// Pending requests are single-use regardless of outcome
	if err := s.flowStore.DeleteAuthorizationRequest(ctx, requestID); err != nil {
		s.Logger.Warn("Failed to delete pending authorization request", "error", err)
	}

	if s.Auditor != nil {
		s.Auditor.LogConsentDecision(user.UserID, req.ClientID, "", approved)
	}
	if m := s.metrics(); m != nil {
		m.RecordConsentDecision(ctx, req.ClientID, approved)
	}

	if !approved {
		target, err := buildRedirect(req.RedirectURI, map[string]string{
			"error":             ErrorCodeAccessDenied,
			"error_description": "the user denied the request",
			"state":             req.State,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to build redirect: %w", err)
		}
		return target, nil
	}

	code := &storage.AuthorizationCode{
		Code:        generateRandomToken(),
		ClientID:    req.ClientID,
		UserID:      req.UserID,
		RedirectURI: req.RedirectURI,
		Scope:       req.Scope,
		CreatedAt:   time.Now(),
		ExpiresAt:   time.Now().Add(time.Duration(s.Config.AuthorizationCodeTTL) * time.Second),
		Used:        false,
	}
	if err := s.flowStore.SaveAuthorizationCode(ctx, code); err != nil {
		if errors.Is(err, storage.ErrUnavailable) {
			return nil, fmt.Errorf("%w: failed to save authorization code", ErrUnavailable)
		}
		return nil, fmt.Errorf("failed to save authorization code: %w", err)
	}

	if s.Auditor != nil {
		s.Auditor.LogEvent(security.Event{
			Type:     security.EventAuthorizationCodeIssued,
			UserID:   req.UserID,
			ClientID: req.ClientID,
			Details: map[string]any{
				"scope": req.Scope,
			},
		})
	}

	target, err := buildRedirect(req.RedirectURI, map[string]string{
		"code":  code.Code,
		"state": req.State,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build redirect: %w", err)
	}
	return target, nil
}

// responseTypeAllowed reports whether the client registered the response type
func responseTypeAllowed(client *storage.Client, responseType string) bool {
	for _, rt := range client.ResponseTypes {
		if rt == responseType {
			return true
		}
	}
	return false
}

// buildRedirect appends query parameters to a registered redirect URI,
// preserving any query the client registered. Empty values are omitted
// except state, which is echoed verbatim only when the client sent one.
func buildRedirect(redirectURI string, params map[string]string) (*RedirectTarget, error) {
	parsed, err := url.Parse(redirectURI)
	if err != nil {
		return nil, err
	}

	q := parsed.Query()
	for key, value := range params {
		if value == "" {
			continue
		}
		q.Set(key, value)
	}
	parsed.RawQuery = q.Encode()

	return &RedirectTarget{URL: parsed.String()}, nil
}
