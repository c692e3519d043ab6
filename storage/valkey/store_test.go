package valkey

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/parkgate-io/authcore/security"
	"github.com/parkgate-io/authcore/storage"
)

// testStore creates a test store connected to a local Valkey instance.
// Tests are skipped if VALKEY_TEST_ADDR is not set and no local instance is
// reachable. Each test gets a unique prefix for isolation.
func testStore(t *testing.T) *Store {
	t.Helper()

	addr := os.Getenv("VALKEY_TEST_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}

	prefix := fmt.Sprintf("authcoretest:%s:", t.Name())

	store, err := New(Config{
		Address:   addr,
		KeyPrefix: prefix,
	})
	if err != nil {
		t.Skipf("Skipping test: could not connect to Valkey at %s: %v", addr, err)
	}

	t.Cleanup(func() {
		cleanupTestKeys(t, store)
		store.Close()
	})

	cleanupTestKeys(t, store)
	return store
}

// cleanupTestKeys removes all keys under the store's prefix
func cleanupTestKeys(t *testing.T, s *Store) {
	t.Helper()

	ctx := context.Background()
	pattern := s.prefix + "*"

	var cursor uint64
	for {
		result, err := s.client.Do(ctx,
			s.client.B().Scan().Cursor(cursor).Match(pattern).Count(100).Build(),
		).AsScanEntry()
		if err != nil {
			t.Logf("Warning: failed to scan for cleanup: %v", err)
			return
		}

		for _, key := range result.Elements {
			_ = s.client.Do(ctx, s.client.B().Del().Key(key).Build())
		}

		cursor = result.Cursor
		if cursor == 0 {
			break
		}
	}
}

func testClient(t *testing.T) *storage.Client {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("Failed to hash secret: %v", err)
	}

	return &storage.Client{
		ClientID:                "test-client",
		ClientSecretHash:        string(hash),
		ClientType:              "confidential",
		OwnerUserID:             "owner-1",
		RedirectURIs:            []string{"https://app.example/cb"},
		TokenEndpointAuthMethod: "client_secret_basic",
		GrantTypes:              []string{"authorization_code", "refresh_token"},
		ResponseTypes:           []string{"code"},
		ClientName:              "Test Client",
		ClientURI:               "https://app.example",
		Scopes:                  []string{"profile", "email"},
		CreatedAt:               time.Now(),
	}
}

func testToken() *storage.Token {
	now := time.Now()
	return &storage.Token{
		AccessToken:      "access-token-1",
		RefreshToken:     "refresh-token-1",
		ClientID:         "test-client",
		UserID:           "user-1",
		Scope:            "profile",
		TokenType:        "Bearer",
		CodeID:           "code-1",
		IssuedAt:         now,
		ExpiresAt:        now.Add(time.Hour),
		RefreshExpiresAt: now.Add(24 * time.Hour),
	}
}

func TestNewMissingAddress(t *testing.T) {
	_, err := New(Config{})
	if err == nil {
		t.Error("Expected error for missing address")
	}
}

func TestClientRoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	client := testClient(t)
	if err := s.SaveClient(ctx, client); err != nil {
		t.Fatalf("SaveClient failed: %v", err)
	}

	got, err := s.GetClient(ctx, client.ClientID)
	if err != nil {
		t.Fatalf("GetClient failed: %v", err)
	}
	if got.ClientName != client.ClientName {
		t.Errorf("ClientName = %q, want %q", got.ClientName, client.ClientName)
	}
	if got.OwnerUserID != client.OwnerUserID {
		t.Errorf("OwnerUserID = %q, want %q", got.OwnerUserID, client.OwnerUserID)
	}
	if len(got.RedirectURIs) != 1 || got.RedirectURIs[0] != client.RedirectURIs[0] {
		t.Errorf("RedirectURIs = %v, want %v", got.RedirectURIs, client.RedirectURIs)
	}

	if _, err := s.GetClient(ctx, "unknown"); !errors.Is(err, storage.ErrClientNotFound) {
		t.Errorf("GetClient(unknown) = %v, want ErrClientNotFound", err)
	}
}

func TestValidateClientSecret(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.SaveClient(ctx, testClient(t)); err != nil {
		t.Fatalf("SaveClient failed: %v", err)
	}

	if err := s.ValidateClientSecret(ctx, "test-client", "secret"); err != nil {
		t.Errorf("Correct secret rejected: %v", err)
	}
	if err := s.ValidateClientSecret(ctx, "test-client", "wrong"); !errors.Is(err, storage.ErrInvalidSecret) {
		t.Errorf("Wrong secret: got %v, want ErrInvalidSecret", err)
	}
	if err := s.ValidateClientSecret(ctx, "test-client", ""); !errors.Is(err, storage.ErrInvalidSecret) {
		t.Errorf("Empty secret: got %v, want ErrInvalidSecret", err)
	}
	if err := s.ValidateClientSecret(ctx, "unknown", "secret"); !errors.Is(err, storage.ErrInvalidSecret) {
		t.Errorf("Unknown client: got %v, want ErrInvalidSecret", err)
	}
}

func TestPublicClientSecretValidation(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	client := testClient(t)
	client.ClientID = "public-client"
	client.ClientSecretHash = ""
	client.ClientType = "public"
	client.TokenEndpointAuthMethod = "none"
	if err := s.SaveClient(ctx, client); err != nil {
		t.Fatalf("SaveClient failed: %v", err)
	}

	if err := s.ValidateClientSecret(ctx, "public-client", ""); err != nil {
		t.Errorf("Public client with empty secret rejected: %v", err)
	}
	if err := s.ValidateClientSecret(ctx, "public-client", "anything"); !errors.Is(err, storage.ErrInvalidSecret) {
		t.Errorf("Public client with secret: got %v, want ErrInvalidSecret", err)
	}
}

func TestCheckIPLimit(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.CheckIPLimit(ctx, "192.0.2.1", 2); err != nil {
		t.Errorf("Fresh IP should pass: %v", err)
	}

	s.TrackClientIP("192.0.2.1")
	s.TrackClientIP("192.0.2.1")

	if err := s.CheckIPLimit(ctx, "192.0.2.1", 2); !errors.Is(err, storage.ErrIPLimitReached) {
		t.Errorf("At limit: got %v, want ErrIPLimitReached", err)
	}

	// Empty IPs are never limited
	if err := s.CheckIPLimit(ctx, "", 2); err != nil {
		t.Errorf("Empty IP should pass: %v", err)
	}
	if err := s.CheckIPLimit(ctx, "192.0.2.1", 0); err != nil {
		t.Errorf("No limit configured should pass: %v", err)
	}
}

func TestUserRoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	user := &storage.User{
		ID:        "user-1",
		Username:  "jdoe",
		FirstName: "Jane",
		LastName:  "Doe",
		Mail:      "jdoe@example.com",
		Mobile:    "+15550100",
		CreatedAt: time.Now(),
	}
	if err := s.SaveUser(ctx, user); err != nil {
		t.Fatalf("SaveUser failed: %v", err)
	}

	got, err := s.GetUser(ctx, "user-1")
	if err != nil {
		t.Fatalf("GetUser failed: %v", err)
	}
	if got.Username != "jdoe" || got.Mail != "jdoe@example.com" {
		t.Errorf("Got user %+v", got)
	}

	byName, err := s.GetUserByUsername(ctx, "jdoe")
	if err != nil {
		t.Fatalf("GetUserByUsername failed: %v", err)
	}
	if byName.ID != "user-1" {
		t.Errorf("ID = %q, want user-1", byName.ID)
	}

	if _, err := s.GetUser(ctx, "unknown"); !errors.Is(err, storage.ErrUserNotFound) {
		t.Errorf("GetUser(unknown) = %v, want ErrUserNotFound", err)
	}
}

func TestUserEncryptionAtRest(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	key, err := security.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}
	enc, err := security.NewEncryptor(key)
	if err != nil {
		t.Fatalf("NewEncryptor failed: %v", err)
	}
	s.SetEncryptor(enc)

	user := &storage.User{
		ID:        "user-enc",
		Username:  "enc",
		Mail:      "enc@example.com",
		CreatedAt: time.Now(),
	}
	if err := s.SaveUser(ctx, user); err != nil {
		t.Fatalf("SaveUser failed: %v", err)
	}

	// Raw record must not contain the plaintext mail
	raw, err := s.client.Do(ctx, s.client.B().Get().Key(s.userKey("user-enc")).Build()).ToString()
	if err != nil {
		t.Fatalf("Raw read failed: %v", err)
	}
	if containsString(raw, "enc@example.com") {
		t.Error("Stored record contains plaintext mail")
	}

	got, err := s.GetUser(ctx, "user-enc")
	if err != nil {
		t.Fatalf("GetUser failed: %v", err)
	}
	if got.Mail != "enc@example.com" {
		t.Errorf("Mail = %q after decryption", got.Mail)
	}
}

func containsString(haystack, needle string) bool {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return true
		}
	}
	return false
}

func TestAuthorizationRequestRoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	req := &storage.AuthorizationRequest{
		RequestID:    "req-1",
		ClientID:     "test-client",
		UserID:       "user-1",
		RedirectURI:  "https://app.example/cb",
		ResponseType: "code",
		Scope:        "profile",
		State:        "xyz",
		CreatedAt:    time.Now(),
		ExpiresAt:    time.Now().Add(10 * time.Minute),
	}
	if err := s.SaveAuthorizationRequest(ctx, req); err != nil {
		t.Fatalf("SaveAuthorizationRequest failed: %v", err)
	}

	got, err := s.GetAuthorizationRequest(ctx, "req-1")
	if err != nil {
		t.Fatalf("GetAuthorizationRequest failed: %v", err)
	}
	if got.State != "xyz" || got.UserID != "user-1" {
		t.Errorf("Got request %+v", got)
	}

	if err := s.DeleteAuthorizationRequest(ctx, "req-1"); err != nil {
		t.Fatalf("DeleteAuthorizationRequest failed: %v", err)
	}
	if _, err := s.GetAuthorizationRequest(ctx, "req-1"); !errors.Is(err, storage.ErrRequestNotFound) {
		t.Errorf("After delete: got %v, want ErrRequestNotFound", err)
	}
}

func TestConsumeAuthorizationCode(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	code := &storage.AuthorizationCode{
		Code:        "code-abc",
		ClientID:    "test-client",
		UserID:      "user-1",
		RedirectURI: "https://app.example/cb",
		Scope:       "profile",
		CreatedAt:   time.Now(),
		ExpiresAt:   time.Now().Add(10 * time.Minute),
	}
	if err := s.SaveAuthorizationCode(ctx, code); err != nil {
		t.Fatalf("SaveAuthorizationCode failed: %v", err)
	}

	got, err := s.ConsumeAuthorizationCode(ctx, "code-abc")
	if err != nil {
		t.Fatalf("First consume failed: %v", err)
	}
	if got.UserID != "user-1" {
		t.Errorf("UserID = %q", got.UserID)
	}

	// Second consume is the replay case: record rides along with the error
	reused, err := s.ConsumeAuthorizationCode(ctx, "code-abc")
	if !errors.Is(err, storage.ErrCodeAlreadyUsed) {
		t.Fatalf("Second consume: got %v, want ErrCodeAlreadyUsed", err)
	}
	if reused == nil || reused.ClientID != "test-client" {
		t.Error("Replayed code record expected for replay defense")
	}

	if _, err := s.ConsumeAuthorizationCode(ctx, "no-such-code"); !errors.Is(err, storage.ErrCodeNotFound) {
		t.Errorf("Unknown code: got %v, want ErrCodeNotFound", err)
	}
}

func TestTokenRoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	token := testToken()
	if err := s.SaveToken(ctx, token); err != nil {
		t.Fatalf("SaveToken failed: %v", err)
	}

	byAccess, err := s.GetTokenByAccess(ctx, token.AccessToken)
	if err != nil {
		t.Fatalf("GetTokenByAccess failed: %v", err)
	}
	if byAccess.UserID != token.UserID || byAccess.Scope != token.Scope {
		t.Errorf("Got token %+v", byAccess)
	}

	byRefresh, err := s.GetTokenByRefresh(ctx, token.RefreshToken)
	if err != nil {
		t.Fatalf("GetTokenByRefresh failed: %v", err)
	}
	if byRefresh.AccessToken != token.AccessToken {
		t.Errorf("AccessToken = %q", byRefresh.AccessToken)
	}

	if _, err := s.GetTokenByAccess(ctx, "unknown"); !errors.Is(err, storage.ErrTokenNotFound) {
		t.Errorf("Unknown access token: got %v, want ErrTokenNotFound", err)
	}
}

func TestConsumeRefreshToken(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	token := testToken()
	if err := s.SaveToken(ctx, token); err != nil {
		t.Fatalf("SaveToken failed: %v", err)
	}

	got, err := s.ConsumeRefreshToken(ctx, token.RefreshToken)
	if err != nil {
		t.Fatalf("First consume failed: %v", err)
	}
	if got.ClientID != token.ClientID {
		t.Errorf("ClientID = %q", got.ClientID)
	}

	// Reuse: error with record for theft detection
	reused, err := s.ConsumeRefreshToken(ctx, token.RefreshToken)
	if !errors.Is(err, storage.ErrTokenNotFound) {
		t.Fatalf("Second consume: got %v, want ErrTokenNotFound", err)
	}
	if reused == nil || reused.CodeID != token.CodeID {
		t.Error("Reused token record expected for theft detection")
	}
}

func TestRevokeRefreshTokenCascades(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	token := testToken()
	if err := s.SaveToken(ctx, token); err != nil {
		t.Fatalf("SaveToken failed: %v", err)
	}

	if err := s.RevokeRefreshToken(ctx, token.RefreshToken); err != nil {
		t.Fatalf("RevokeRefreshToken failed: %v", err)
	}

	got, err := s.GetTokenByAccess(ctx, token.AccessToken)
	if err != nil {
		t.Fatalf("GetTokenByAccess failed: %v", err)
	}
	if !got.Revoked || !got.RefreshRevoked {
		t.Errorf("Revoked = %v, RefreshRevoked = %v, want both true", got.Revoked, got.RefreshRevoked)
	}
}

func TestRevokeAccessTokenKeepsRefresh(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	token := testToken()
	if err := s.SaveToken(ctx, token); err != nil {
		t.Fatalf("SaveToken failed: %v", err)
	}

	if err := s.RevokeAccessToken(ctx, token.AccessToken); err != nil {
		t.Fatalf("RevokeAccessToken failed: %v", err)
	}

	got, err := s.GetTokenByRefresh(ctx, token.RefreshToken)
	if err != nil {
		t.Fatalf("GetTokenByRefresh failed: %v", err)
	}
	if !got.Revoked {
		t.Error("Access should be revoked")
	}
	if got.RefreshRevoked {
		t.Error("Refresh should stay usable")
	}
}

func TestRevokeTokensForCode(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	first := testToken()
	second := testToken()
	second.AccessToken = "access-token-2"
	second.RefreshToken = "refresh-token-2"

	if err := s.SaveToken(ctx, first); err != nil {
		t.Fatalf("SaveToken failed: %v", err)
	}
	if err := s.SaveToken(ctx, second); err != nil {
		t.Fatalf("SaveToken failed: %v", err)
	}

	revoked, err := s.RevokeTokensForCode(ctx, "code-1")
	if err != nil {
		t.Fatalf("RevokeTokensForCode failed: %v", err)
	}
	if revoked != 2 {
		t.Errorf("Revoked %d pairs, want 2", revoked)
	}

	for _, at := range []string{first.AccessToken, second.AccessToken} {
		got, err := s.GetTokenByAccess(ctx, at)
		if err != nil {
			t.Fatalf("GetTokenByAccess(%s) failed: %v", at, err)
		}
		if !got.Revoked || !got.RefreshRevoked {
			t.Errorf("Token %s not fully revoked", at)
		}
	}

	// Running again finds nothing left to revoke
	revoked, err = s.RevokeTokensForCode(ctx, "code-1")
	if err != nil {
		t.Fatalf("Second RevokeTokensForCode failed: %v", err)
	}
	if revoked != 0 {
		t.Errorf("Revoked %d pairs on second pass, want 0", revoked)
	}
}

func TestTokenEncryptionAtRest(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	key, err := security.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}
	enc, err := security.NewEncryptor(key)
	if err != nil {
		t.Fatalf("NewEncryptor failed: %v", err)
	}
	s.SetEncryptor(enc)

	token := testToken()
	if err := s.SaveToken(ctx, token); err != nil {
		t.Fatalf("SaveToken failed: %v", err)
	}

	// Raw record body must not contain the plaintext refresh token
	raw, err := s.client.Do(ctx, s.client.B().Get().Key(s.tokenKey(token.AccessToken)).Build()).ToString()
	if err != nil {
		t.Fatalf("Raw read failed: %v", err)
	}
	if containsString(raw, token.RefreshToken) {
		t.Error("Stored record contains plaintext refresh token")
	}

	got, err := s.GetTokenByAccess(ctx, token.AccessToken)
	if err != nil {
		t.Fatalf("GetTokenByAccess failed: %v", err)
	}
	if got.RefreshToken != token.RefreshToken {
		t.Errorf("RefreshToken = %q after decryption", got.RefreshToken)
	}

	// The refresh index still resolves by plaintext value
	if _, err := s.GetTokenByRefresh(ctx, token.RefreshToken); err != nil {
		t.Errorf("GetTokenByRefresh failed with encryption: %v", err)
	}
}

func TestDeleteToken(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	token := testToken()
	if err := s.SaveToken(ctx, token); err != nil {
		t.Fatalf("SaveToken failed: %v", err)
	}

	if err := s.DeleteToken(ctx, token.AccessToken); err != nil {
		t.Fatalf("DeleteToken failed: %v", err)
	}

	if _, err := s.GetTokenByAccess(ctx, token.AccessToken); !errors.Is(err, storage.ErrTokenNotFound) {
		t.Errorf("After delete by access: got %v, want ErrTokenNotFound", err)
	}
	if _, err := s.GetTokenByRefresh(ctx, token.RefreshToken); !errors.Is(err, storage.ErrTokenNotFound) {
		t.Errorf("After delete by refresh: got %v, want ErrTokenNotFound", err)
	}

	// Deleting an unknown token is a no-op
	if err := s.DeleteToken(ctx, "unknown"); err != nil {
		t.Errorf("DeleteToken(unknown) = %v, want nil", err)
	}
}
