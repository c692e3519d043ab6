package valkey

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/parkgate-io/authcore/internal/util"
	"github.com/parkgate-io/authcore/security"
	"github.com/parkgate-io/authcore/storage"
)

// credentialLogLength is the number of characters to include when logging
// code or token prefixes. Enough uniqueness for debugging, nothing usable.
const credentialLogLength = 8

// authorizationRequestJSON is the stored representation of a pending
// authorization request
type authorizationRequestJSON struct {
	RequestID    string `json:"request_id"`
	ClientID     string `json:"client_id"`
	UserID       string `json:"user_id,omitempty"`
	RedirectURI  string `json:"redirect_uri"`
	ResponseType string `json:"response_type"`
	Scope        string `json:"scope,omitempty"`
	State        string `json:"state,omitempty"`
	CreatedAt    int64  `json:"created_at"`
	ExpiresAt    int64  `json:"expires_at"`
}

func toAuthorizationRequestJSON(req *storage.AuthorizationRequest) *authorizationRequestJSON {
	return &authorizationRequestJSON{
		RequestID:    req.RequestID,
		ClientID:     req.ClientID,
		UserID:       req.UserID,
		RedirectURI:  req.RedirectURI,
		ResponseType: req.ResponseType,
		Scope:        req.Scope,
		State:        req.State,
		CreatedAt:    req.CreatedAt.Unix(),
		ExpiresAt:    req.ExpiresAt.Unix(),
	}
}

func fromAuthorizationRequestJSON(j *authorizationRequestJSON) *storage.AuthorizationRequest {
	if j == nil {
		return nil
	}
	return &storage.AuthorizationRequest{
		RequestID:    j.RequestID,
		ClientID:     j.ClientID,
		UserID:       j.UserID,
		RedirectURI:  j.RedirectURI,
		ResponseType: j.ResponseType,
		Scope:        j.Scope,
		State:        j.State,
		CreatedAt:    time.Unix(j.CreatedAt, 0),
		ExpiresAt:    time.Unix(j.ExpiresAt, 0),
	}
}

// authorizationCodeJSON is the stored representation of an authorization
// code. Timestamps are Unix seconds so the consume script can compare them.
type authorizationCodeJSON struct {
	Code        string `json:"code"`
	ClientID    string `json:"client_id"`
	UserID      string `json:"user_id"`
	RedirectURI string `json:"redirect_uri"`
	Scope       string `json:"scope,omitempty"`
	CreatedAt   int64  `json:"created_at"`
	ExpiresAt   int64  `json:"expires_at"`
	Used        bool   `json:"used"`
}

func toAuthorizationCodeJSON(code *storage.AuthorizationCode) *authorizationCodeJSON {
	return &authorizationCodeJSON{
		Code:        code.Code,
		ClientID:    code.ClientID,
		UserID:      code.UserID,
		RedirectURI: code.RedirectURI,
		Scope:       code.Scope,
		CreatedAt:   code.CreatedAt.Unix(),
		ExpiresAt:   code.ExpiresAt.Unix(),
		Used:        code.Used,
	}
}

func fromAuthorizationCodeJSON(j *authorizationCodeJSON) *storage.AuthorizationCode {
	if j == nil {
		return nil
	}
	return &storage.AuthorizationCode{
		Code:        j.Code,
		ClientID:    j.ClientID,
		UserID:      j.UserID,
		RedirectURI: j.RedirectURI,
		Scope:       j.Scope,
		CreatedAt:   time.Unix(j.CreatedAt, 0),
		ExpiresAt:   time.Unix(j.ExpiresAt, 0),
		Used:        j.Used,
	}
}

// ============================================================
// FlowStore Implementation
// ============================================================

// SaveAuthorizationRequest saves a pending authorization request awaiting the
// user's consent decision
func (s *Store) SaveAuthorizationRequest(ctx context.Context, req *storage.AuthorizationRequest) error {
	if req == nil || req.RequestID == "" {
		return fmt.Errorf("invalid authorization request")
	}

	data, err := json.Marshal(toAuthorizationRequestJSON(req))
	if err != nil {
		return fmt.Errorf("failed to marshal authorization request: %w", err)
	}

	ttl := calculateTTL(req.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("authorization request already expired")
	}

	key := s.requestKey(req.RequestID)
	if err := s.client.Do(ctx,
		s.client.B().Set().Key(key).Value(string(data)).Ex(ttl).Build(),
	).Error(); err != nil {
		return wrapUnavailable("save authorization request", err)
	}

	s.logger.Debug("Saved authorization request",
		"client_id", req.ClientID,
		"request_prefix", util.SafeTruncate(req.RequestID, credentialLogLength))
	return nil
}

// GetAuthorizationRequest retrieves a pending authorization request by ID
func (s *Store) GetAuthorizationRequest(ctx context.Context, requestID string) (*storage.AuthorizationRequest, error) {
	key := s.requestKey(requestID)

	data, err := s.client.Do(ctx, s.client.B().Get().Key(key).Build()).ToString()
	if err != nil {
		if isNilError(err) {
			return nil, storage.ErrRequestNotFound
		}
		return nil, wrapUnavailable("get authorization request", err)
	}

	var j authorizationRequestJSON
	if err := json.Unmarshal([]byte(data), &j); err != nil {
		return nil, fmt.Errorf("failed to unmarshal authorization request: %w", err)
	}

	req := fromAuthorizationRequestJSON(&j)

	// TTL should have removed it, but double-check
	if security.IsExpired(req.ExpiresAt) {
		return nil, fmt.Errorf("%w: authorization request expired", storage.ErrRequestNotFound)
	}

	return req, nil
}

// DeleteAuthorizationRequest removes a pending authorization request
func (s *Store) DeleteAuthorizationRequest(ctx context.Context, requestID string) error {
	key := s.requestKey(requestID)

	if err := s.client.Do(ctx, s.client.B().Del().Key(key).Build()).Error(); err != nil {
		return wrapUnavailable("delete authorization request", err)
	}

	s.logger.Debug("Deleted authorization request")
	return nil
}

// SaveAuthorizationCode saves an issued authorization code
func (s *Store) SaveAuthorizationCode(ctx context.Context, code *storage.AuthorizationCode) error {
	if code == nil || code.Code == "" {
		return fmt.Errorf("invalid authorization code")
	}

	data, err := json.Marshal(toAuthorizationCodeJSON(code))
	if err != nil {
		return fmt.Errorf("failed to marshal authorization code: %w", err)
	}

	ttl := calculateTTL(code.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("authorization code already expired")
	}

	key := s.codeKey(code.Code)
	if err := s.client.Do(ctx,
		s.client.B().Set().Key(key).Value(string(data)).Ex(ttl).Build(),
	).Error(); err != nil {
		return wrapUnavailable("save authorization code", err)
	}

	s.logger.Debug("Saved authorization code",
		"code_prefix", util.SafeTruncate(code.Code, credentialLogLength))
	return nil
}

// GetAuthorizationCode retrieves an authorization code without modifying it.
// Code exchange must go through ConsumeAuthorizationCode instead.
func (s *Store) GetAuthorizationCode(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
	key := s.codeKey(code)

	data, err := s.client.Do(ctx, s.client.B().Get().Key(key).Build()).ToString()
	if err != nil {
		if isNilError(err) {
			return nil, storage.ErrCodeNotFound
		}
		return nil, wrapUnavailable("get authorization code", err)
	}

	var j authorizationCodeJSON
	if err := json.Unmarshal([]byte(data), &j); err != nil {
		return nil, fmt.Errorf("failed to unmarshal authorization code: %w", err)
	}

	authCode := fromAuthorizationCodeJSON(&j)

	if security.IsExpired(authCode.ExpiresAt) {
		return nil, fmt.Errorf("%w: authorization code expired", storage.ErrCodeNotFound)
	}

	return authCode, nil
}

// ConsumeAuthorizationCode atomically checks that a code is unused and marks
// it used. Under concurrent redemption of the same code, at most one caller
// succeeds; the rest get ErrCodeAlreadyUsed together with the stored record
// so they can run replay defense.
func (s *Store) ConsumeAuthorizationCode(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
	key := s.codeKey(code)

	result, err := s.client.Do(ctx,
		s.client.B().Eval().Script(luaConsumeAuthorizationCode).
			Numkeys(1).
			Key(key).
			Arg(fmt.Sprintf("%d", time.Now().Unix())).
			Build(),
	).ToString()
	if err != nil {
		return nil, wrapUnavailable("consume authorization code", err)
	}

	switch {
	case result == "NOT_FOUND":
		return nil, storage.ErrCodeNotFound
	case result == "EXPIRED":
		return nil, fmt.Errorf("%w: authorization code expired", storage.ErrCodeNotFound)
	case strings.HasPrefix(result, "ALREADY_USED:"):
		codeData := strings.TrimPrefix(result, "ALREADY_USED:")
		var j authorizationCodeJSON
		if err := json.Unmarshal([]byte(codeData), &j); err != nil {
			return nil, fmt.Errorf("%w: failed to parse reused code", storage.ErrCodeAlreadyUsed)
		}
		return fromAuthorizationCodeJSON(&j), storage.ErrCodeAlreadyUsed
	}

	var j authorizationCodeJSON
	if err := json.Unmarshal([]byte(result), &j); err != nil {
		return nil, fmt.Errorf("failed to parse authorization code: %w", err)
	}

	s.logger.Debug("Marked authorization code as used",
		"code_prefix", util.SafeTruncate(code, credentialLogLength))

	return fromAuthorizationCodeJSON(&j), nil
}

// DeleteAuthorizationCode removes an authorization code
func (s *Store) DeleteAuthorizationCode(ctx context.Context, code string) error {
	key := s.codeKey(code)

	if err := s.client.Do(ctx, s.client.B().Del().Key(key).Build()).Error(); err != nil {
		return wrapUnavailable("delete authorization code", err)
	}

	s.logger.Debug("Deleted authorization code")
	return nil
}
