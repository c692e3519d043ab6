package valkey

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/parkgate-io/authcore/internal/util"
	"github.com/parkgate-io/authcore/security"
	"github.com/parkgate-io/authcore/storage"
)

// tokenJSON is the stored representation of an issued token pair. Timestamps
// are Unix seconds and the revocation flags are always present so the Lua
// scripts can compare and flip them. When encryption at rest is enabled the
// access_token and refresh_token values inside the record are ciphertext; the
// record key and the refresh index stay plaintext because they are the
// lookups.
type tokenJSON struct {
	AccessToken      string `json:"access_token"`
	RefreshToken     string `json:"refresh_token,omitempty"`
	ClientID         string `json:"client_id"`
	UserID           string `json:"user_id,omitempty"`
	Scope            string `json:"scope,omitempty"`
	TokenType        string `json:"token_type,omitempty"`
	CodeID           string `json:"code_id,omitempty"`
	IssuedAt         int64  `json:"issued_at"`
	ExpiresAt        int64  `json:"expires_at"`
	RefreshExpiresAt int64  `json:"refresh_expires_at,omitempty"`
	Revoked          bool   `json:"revoked"`
	RefreshRevoked   bool   `json:"refresh_revoked"`
}

func toTokenJSON(token *storage.Token) *tokenJSON {
	j := &tokenJSON{
		AccessToken:    token.AccessToken,
		RefreshToken:   token.RefreshToken,
		ClientID:       token.ClientID,
		UserID:         token.UserID,
		Scope:          token.Scope,
		TokenType:      token.TokenType,
		CodeID:         token.CodeID,
		IssuedAt:       token.IssuedAt.Unix(),
		ExpiresAt:      token.ExpiresAt.Unix(),
		Revoked:        token.Revoked,
		RefreshRevoked: token.RefreshRevoked,
	}
	if !token.RefreshExpiresAt.IsZero() {
		j.RefreshExpiresAt = token.RefreshExpiresAt.Unix()
	}
	return j
}

func fromTokenJSON(j *tokenJSON) *storage.Token {
	if j == nil {
		return nil
	}
	token := &storage.Token{
		AccessToken:    j.AccessToken,
		RefreshToken:   j.RefreshToken,
		ClientID:       j.ClientID,
		UserID:         j.UserID,
		Scope:          j.Scope,
		TokenType:      j.TokenType,
		CodeID:         j.CodeID,
		IssuedAt:       time.Unix(j.IssuedAt, 0),
		ExpiresAt:      time.Unix(j.ExpiresAt, 0),
		Revoked:        j.Revoked,
		RefreshRevoked: j.RefreshRevoked,
	}
	if j.RefreshExpiresAt > 0 {
		token.RefreshExpiresAt = time.Unix(j.RefreshExpiresAt, 0)
	}
	return token
}

// recordTTL is the retention for a token pair record: until whichever of the
// two expirations is later, plus the clock skew grace so a read within the
// grace window still finds the record.
func recordTTL(token *storage.Token) time.Duration {
	expiry := token.ExpiresAt
	if token.RefreshExpiresAt.After(expiry) {
		expiry = token.RefreshExpiresAt
	}
	return calculateTTL(expiry.Add(security.DefaultClockSkewGracePeriod))
}

// ============================================================
// TokenStore Implementation
// ============================================================

// SaveToken saves an issued token pair, indexes its refresh token, and tracks
// it against the authorization code that produced it for replay defense.
func (s *Store) SaveToken(ctx context.Context, token *storage.Token) error {
	if token == nil || token.AccessToken == "" {
		return fmt.Errorf("invalid token")
	}

	toStore, err := storage.EncryptToken(token, s.getEncryptor())
	if err != nil {
		return err
	}

	data, err := json.Marshal(toTokenJSON(toStore))
	if err != nil {
		return fmt.Errorf("failed to marshal token: %w", err)
	}

	ttl := recordTTL(token)
	if ttl <= 0 {
		return fmt.Errorf("token already expired")
	}

	key := s.tokenKey(token.AccessToken)
	if err := s.client.Do(ctx,
		s.client.B().Set().Key(key).Value(string(data)).Ex(ttl).Build(),
	).Error(); err != nil {
		return wrapUnavailable("save token", err)
	}

	if token.RefreshToken != "" {
		refreshTTL := calculateTTL(token.RefreshExpiresAt)
		if refreshTTL > 0 {
			if err := s.client.Do(ctx,
				s.client.B().Set().Key(s.refreshKey(token.RefreshToken)).Value(token.AccessToken).Ex(refreshTTL).Build(),
			).Error(); err != nil {
				return wrapUnavailable("save refresh index", err)
			}
		}
	}

	if token.CodeID != "" {
		setKey := s.codeTokensKey(token.CodeID)
		if err := s.client.Do(ctx,
			s.client.B().Sadd().Key(setKey).Member(token.AccessToken).Build(),
		).Error(); err != nil {
			return wrapUnavailable("track code tokens", err)
		}
		// Retain the index as long as the longest-lived member
		if err := s.client.Do(ctx,
			s.client.B().Expire().Key(setKey).Seconds(int64(ttl.Seconds())).Build(),
		).Error(); err != nil {
			s.logger.Warn("Failed to set TTL on code token index", "error", err)
		}
	}

	s.logger.Debug("Saved token pair",
		"client_id", token.ClientID,
		"token_prefix", util.SafeTruncate(token.AccessToken, credentialLogLength))
	return nil
}

// GetTokenByAccess retrieves a token pair by access token value.
// An access token expired beyond the clock skew grace is treated as absent.
func (s *Store) GetTokenByAccess(ctx context.Context, accessToken string) (*storage.Token, error) {
	key := s.tokenKey(accessToken)

	data, err := s.client.Do(ctx, s.client.B().Get().Key(key).Build()).ToString()
	if err != nil {
		if isNilError(err) {
			return nil, storage.ErrTokenNotFound
		}
		return nil, wrapUnavailable("get token", err)
	}

	var j tokenJSON
	if err := json.Unmarshal([]byte(data), &j); err != nil {
		return nil, fmt.Errorf("failed to unmarshal token: %w", err)
	}

	token := fromTokenJSON(&j)

	if security.IsExpiredWithGracePeriod(token.ExpiresAt, security.DefaultClockSkewGracePeriod) {
		return nil, fmt.Errorf("%w: access token expired", storage.ErrTokenExpired)
	}

	return storage.DecryptToken(token, s.getEncryptor())
}

// GetTokenByRefresh retrieves a token pair by refresh token value
func (s *Store) GetTokenByRefresh(ctx context.Context, refreshToken string) (*storage.Token, error) {
	accessToken, err := s.client.Do(ctx,
		s.client.B().Get().Key(s.refreshKey(refreshToken)).Build(),
	).ToString()
	if err != nil {
		if isNilError(err) {
			return nil, storage.ErrTokenNotFound
		}
		return nil, wrapUnavailable("get refresh index", err)
	}

	data, err := s.client.Do(ctx, s.client.B().Get().Key(s.tokenKey(accessToken)).Build()).ToString()
	if err != nil {
		if isNilError(err) {
			return nil, storage.ErrTokenNotFound
		}
		return nil, wrapUnavailable("get token", err)
	}

	var j tokenJSON
	if err := json.Unmarshal([]byte(data), &j); err != nil {
		return nil, fmt.Errorf("failed to unmarshal token: %w", err)
	}

	token := fromTokenJSON(&j)

	if security.IsExpired(token.RefreshExpiresAt) {
		return nil, fmt.Errorf("%w: refresh token expired", storage.ErrTokenExpired)
	}

	return storage.DecryptToken(token, s.getEncryptor())
}

// markRevoked runs the atomic flag-set script against a token record.
// Returns true when a flag actually changed.
func (s *Store) markRevoked(ctx context.Context, accessToken, mode string) (bool, error) {
	result, err := s.client.Do(ctx,
		s.client.B().Eval().Script(luaMarkTokenRevoked).
			Numkeys(1).
			Key(s.tokenKey(accessToken)).
			Arg(mode).
			Build(),
	).ToString()
	if err != nil {
		return false, wrapUnavailable("revoke token", err)
	}

	switch result {
	case "OK":
		return true, nil
	case "UNCHANGED":
		return false, nil
	default:
		return false, storage.ErrTokenNotFound
	}
}

// RevokeAccessToken marks the access token of a pair as revoked.
// The refresh token, if any, stays usable.
func (s *Store) RevokeAccessToken(ctx context.Context, accessToken string) error {
	if _, err := s.markRevoked(ctx, accessToken, "access"); err != nil {
		return err
	}

	s.logger.Debug("Revoked access token",
		"token_prefix", util.SafeTruncate(accessToken, credentialLogLength))
	return nil
}

// RevokeRefreshToken marks the refresh token revoked and cascades to the
// paired access token
func (s *Store) RevokeRefreshToken(ctx context.Context, refreshToken string) error {
	accessToken, err := s.client.Do(ctx,
		s.client.B().Get().Key(s.refreshKey(refreshToken)).Build(),
	).ToString()
	if err != nil {
		if isNilError(err) {
			return storage.ErrTokenNotFound
		}
		return wrapUnavailable("get refresh index", err)
	}

	if _, err := s.markRevoked(ctx, accessToken, "both"); err != nil {
		return err
	}

	s.logger.Debug("Revoked refresh token with access cascade")
	return nil
}

// ConsumeRefreshToken atomically retrieves a token pair by refresh token and
// marks the refresh token revoked so the caller can rotate it. Only ONE
// concurrent caller can succeed.
//
// The record is returned alongside ErrTokenNotFound when the refresh token
// was already consumed, so the caller can treat the reuse as a theft signal.
func (s *Store) ConsumeRefreshToken(ctx context.Context, refreshToken string) (*storage.Token, error) {
	result, err := s.client.Do(ctx,
		s.client.B().Eval().Script(luaConsumeRefreshToken).
			Numkeys(1).
			Key(s.refreshKey(refreshToken)).
			Arg(fmt.Sprintf("%d", time.Now().Unix())).
			Arg(s.tokenKeyPrefix()).
			Build(),
	).ToString()
	if err != nil {
		return nil, wrapUnavailable("consume refresh token", err)
	}

	switch {
	case result == "NOT_FOUND":
		return nil, storage.ErrTokenNotFound
	case result == "EXPIRED":
		return nil, fmt.Errorf("%w: refresh token expired", storage.ErrTokenExpired)
	case strings.HasPrefix(result, "ALREADY_USED:"):
		data := strings.TrimPrefix(result, "ALREADY_USED:")
		var j tokenJSON
		if err := json.Unmarshal([]byte(data), &j); err != nil {
			return nil, fmt.Errorf("%w: refresh token already used", storage.ErrTokenNotFound)
		}
		token, decErr := storage.DecryptToken(fromTokenJSON(&j), s.getEncryptor())
		if decErr != nil {
			return nil, decErr
		}
		return token, fmt.Errorf("%w: refresh token already used", storage.ErrTokenNotFound)
	}

	var j tokenJSON
	if err := json.Unmarshal([]byte(result), &j); err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	token := fromTokenJSON(&j)
	token.RefreshRevoked = true

	s.logger.Debug("Atomically consumed refresh token", "client_id", token.ClientID)
	return storage.DecryptToken(token, s.getEncryptor())
}

// RevokeTokensForCode revokes every token pair minted from the given
// authorization code. Called when code replay is detected.
func (s *Store) RevokeTokensForCode(ctx context.Context, codeID string) (int, error) {
	if codeID == "" {
		return 0, fmt.Errorf("codeID cannot be empty")
	}

	members, err := s.client.Do(ctx,
		s.client.B().Smembers().Key(s.codeTokensKey(codeID)).Build(),
	).AsStrSlice()
	if err != nil {
		if isNilError(err) {
			return 0, nil
		}
		return 0, wrapUnavailable("list code tokens", err)
	}

	revoked := 0
	for _, accessToken := range members {
		changed, err := s.markRevoked(ctx, accessToken, "both")
		if err != nil {
			if errors.Is(err, storage.ErrTokenNotFound) {
				continue // Record already expired out
			}
			return revoked, err
		}
		if changed {
			revoked++
		}
	}

	if revoked > 0 {
		s.logger.Warn("Revoked tokens minted from replayed authorization code",
			"code_prefix", util.SafeTruncate(codeID, credentialLogLength),
			"tokens_revoked", revoked)
	}

	return revoked, nil
}

// DeleteToken removes a token pair by access token value
func (s *Store) DeleteToken(ctx context.Context, accessToken string) error {
	// Resolve the refresh index entry before dropping the record
	data, err := s.client.Do(ctx, s.client.B().Get().Key(s.tokenKey(accessToken)).Build()).ToString()
	if err != nil {
		if isNilError(err) {
			return nil
		}
		return wrapUnavailable("get token", err)
	}

	var j tokenJSON
	if err := json.Unmarshal([]byte(data), &j); err == nil && j.RefreshToken != "" {
		// The index holds the plaintext refresh value
		token, decErr := storage.DecryptToken(fromTokenJSON(&j), s.getEncryptor())
		if decErr == nil && token.RefreshToken != "" {
			if err := s.client.Do(ctx,
				s.client.B().Del().Key(s.refreshKey(token.RefreshToken)).Build(),
			).Error(); err != nil {
				s.logger.Warn("Failed to delete refresh index entry", "error", err)
			}
		}
	}

	if err := s.client.Do(ctx, s.client.B().Del().Key(s.tokenKey(accessToken)).Build()).Error(); err != nil {
		return wrapUnavailable("delete token", err)
	}

	s.logger.Debug("Deleted token pair",
		"token_prefix", util.SafeTruncate(accessToken, credentialLogLength))
	return nil
}
