package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/parkgate-io/authcore/internal/testutil"
	"github.com/parkgate-io/authcore/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s := New()
	t.Cleanup(s.Stop)
	return s
}

func TestSaveAndGetClient(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	client := testutil.GenerateTestClient()
	testutil.AssertNoError(t, s.SaveClient(ctx, client))

	got, err := s.GetClient(ctx, client.ClientID)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, got.ClientID, client.ClientID)
	testutil.AssertEqual(t, got.ClientName, client.ClientName)
}

func TestGetClientNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetClient(context.Background(), "no-such-client")
	testutil.AssertError(t, err)
	testutil.AssertTrue(t, errors.Is(err, storage.ErrClientNotFound), "expected ErrClientNotFound")
}

func TestSaveClientInvalid(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	testutil.AssertError(t, s.SaveClient(ctx, nil))
	testutil.AssertError(t, s.SaveClient(ctx, &storage.Client{}))
}

func TestValidateClientSecret(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	client := testutil.GenerateTestClient()
	testutil.AssertNoError(t, s.SaveClient(ctx, client))

	tests := []struct {
		name     string
		clientID string
		secret   string
		wantErr  bool
	}{
		{"correct secret", client.ClientID, "secret", false},
		{"wrong secret", client.ClientID, "wrong", true},
		{"empty secret", client.ClientID, "", true},
		{"unknown client", "no-such-client", "secret", true},
		{"unknown client empty secret", "no-such-client", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.ValidateClientSecret(ctx, tt.clientID, tt.secret)
			if tt.wantErr {
				testutil.AssertError(t, err)
				testutil.AssertTrue(t, errors.Is(err, storage.ErrInvalidSecret), "expected ErrInvalidSecret")
			} else {
				testutil.AssertNoError(t, err)
			}
		})
	}
}

func TestValidateClientSecretPublicClient(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	client := testutil.GenerateTestPublicClient()
	testutil.AssertNoError(t, s.SaveClient(ctx, client))

	// A public client authenticates with an empty secret
	testutil.AssertNoError(t, s.ValidateClientSecret(ctx, client.ClientID, ""))

	// A non-empty secret against a public client never succeeds
	err := s.ValidateClientSecret(ctx, client.ClientID, "anything")
	testutil.AssertError(t, err)
}

func TestValidateClientSecretEmptyStoredHash(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// A confidential client with an empty stored hash must reject every
	// presented secret, including the empty one
	client := testutil.GenerateTestClient()
	client.ClientSecretHash = ""
	testutil.AssertNoError(t, s.SaveClient(ctx, client))

	testutil.AssertError(t, s.ValidateClientSecret(ctx, client.ClientID, ""))
	testutil.AssertError(t, s.ValidateClientSecret(ctx, client.ClientID, "secret"))
}

func TestCheckIPLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	testutil.AssertNoError(t, s.CheckIPLimit(ctx, "192.0.2.1", 2))

	s.TrackClientIP("192.0.2.1")
	testutil.AssertNoError(t, s.CheckIPLimit(ctx, "192.0.2.1", 2))

	s.TrackClientIP("192.0.2.1")
	err := s.CheckIPLimit(ctx, "192.0.2.1", 2)
	testutil.AssertError(t, err)
	testutil.AssertTrue(t, errors.Is(err, storage.ErrIPLimitReached), "expected ErrIPLimitReached")

	// Other IPs are unaffected
	testutil.AssertNoError(t, s.CheckIPLimit(ctx, "192.0.2.2", 2))

	// Zero means no limit
	testutil.AssertNoError(t, s.CheckIPLimit(ctx, "192.0.2.1", 0))
}

func TestSaveAndGetUser(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	user := testutil.GenerateTestUser()
	testutil.AssertNoError(t, s.SaveUser(ctx, user))

	got, err := s.GetUser(ctx, user.ID)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, got.Username, user.Username)

	byName, err := s.GetUserByUsername(ctx, user.Username)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, byName.ID, user.ID)
}

func TestGetUserNotFound(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.GetUser(ctx, "no-such-user")
	testutil.AssertTrue(t, errors.Is(err, storage.ErrUserNotFound), "expected ErrUserNotFound")

	_, err = s.GetUserByUsername(ctx, "nobody")
	testutil.AssertTrue(t, errors.Is(err, storage.ErrUserNotFound), "expected ErrUserNotFound")
}

func TestAuthorizationRequestLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	req := testutil.GenerateTestAuthorizationRequest()
	testutil.AssertNoError(t, s.SaveAuthorizationRequest(ctx, req))

	got, err := s.GetAuthorizationRequest(ctx, req.RequestID)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, got.ClientID, req.ClientID)
	testutil.AssertEqual(t, got.State, req.State)

	testutil.AssertNoError(t, s.DeleteAuthorizationRequest(ctx, req.RequestID))

	_, err = s.GetAuthorizationRequest(ctx, req.RequestID)
	testutil.AssertTrue(t, errors.Is(err, storage.ErrRequestNotFound), "expected ErrRequestNotFound")
}

func TestGetAuthorizationRequestExpired(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	req := testutil.GenerateTestAuthorizationRequest()
	req.ExpiresAt = time.Now().Add(-1 * time.Minute)
	testutil.AssertNoError(t, s.SaveAuthorizationRequest(ctx, req))

	_, err := s.GetAuthorizationRequest(ctx, req.RequestID)
	testutil.AssertTrue(t, errors.Is(err, storage.ErrRequestNotFound), "expired request should be absent")
}

func TestConsumeAuthorizationCode(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	code := testutil.GenerateTestAuthorizationCode()
	testutil.AssertNoError(t, s.SaveAuthorizationCode(ctx, code))

	got, err := s.ConsumeAuthorizationCode(ctx, code.Code)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, got.ClientID, code.ClientID)
	testutil.AssertTrue(t, got.Used, "consumed code should be marked used")

	// Second consumption reports reuse and returns the record for cascade revocation
	reused, err := s.ConsumeAuthorizationCode(ctx, code.Code)
	testutil.AssertTrue(t, errors.Is(err, storage.ErrCodeAlreadyUsed), "expected ErrCodeAlreadyUsed")
	testutil.AssertTrue(t, reused != nil, "reuse should return the code record")
}

func TestConsumeAuthorizationCodeNotFound(t *testing.T) {
	s := newTestStore(t)

	got, err := s.ConsumeAuthorizationCode(context.Background(), "no-such-code")
	testutil.AssertTrue(t, errors.Is(err, storage.ErrCodeNotFound), "expected ErrCodeNotFound")
	testutil.AssertTrue(t, got == nil, "unknown code should not return a record")
}

func TestConsumeAuthorizationCodeExpired(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	code := testutil.GenerateTestAuthorizationCode()
	code.ExpiresAt = time.Now().Add(-1 * time.Minute)
	testutil.AssertNoError(t, s.SaveAuthorizationCode(ctx, code))

	got, err := s.ConsumeAuthorizationCode(ctx, code.Code)
	testutil.AssertTrue(t, errors.Is(err, storage.ErrCodeNotFound), "expired code should be absent")
	testutil.AssertTrue(t, got == nil, "expired code should not return a record")
}

// TestConsumeAuthorizationCodeConcurrent verifies the single-use guarantee
// under contention: out of many simultaneous redemptions of the same code,
// exactly one succeeds.
func TestConsumeAuthorizationCodeConcurrent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	code := testutil.GenerateTestAuthorizationCode()
	testutil.AssertNoError(t, s.SaveAuthorizationCode(ctx, code))

	const goroutines = 100
	var wg sync.WaitGroup
	var mu sync.Mutex
	successes := 0
	reuses := 0

	start := make(chan struct{})
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := s.ConsumeAuthorizationCode(ctx, code.Code)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, storage.ErrCodeAlreadyUsed):
				reuses++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	testutil.AssertEqual(t, successes, 1)
	testutil.AssertEqual(t, reuses, goroutines-1)
}

func TestSaveAndGetToken(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	token := testutil.GenerateTestToken()
	testutil.AssertNoError(t, s.SaveToken(ctx, token))

	byAccess, err := s.GetTokenByAccess(ctx, token.AccessToken)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, byAccess.ClientID, token.ClientID)

	byRefresh, err := s.GetTokenByRefresh(ctx, token.RefreshToken)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, byRefresh.AccessToken, token.AccessToken)
}

func TestGetTokenExpired(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	token := testutil.GenerateTestToken()
	token.ExpiresAt = time.Now().Add(-1 * time.Hour)
	testutil.AssertNoError(t, s.SaveToken(ctx, token))

	_, err := s.GetTokenByAccess(ctx, token.AccessToken)
	testutil.AssertTrue(t, errors.Is(err, storage.ErrTokenExpired), "expected ErrTokenExpired")

	// The refresh token outlives the access token
	_, err = s.GetTokenByRefresh(ctx, token.RefreshToken)
	testutil.AssertNoError(t, err)
}

func TestRevokeRefreshTokenCascades(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	token := testutil.GenerateTestToken()
	testutil.AssertNoError(t, s.SaveToken(ctx, token))

	testutil.AssertNoError(t, s.RevokeRefreshToken(ctx, token.RefreshToken))

	got, err := s.GetTokenByAccess(ctx, token.AccessToken)
	testutil.AssertNoError(t, err)
	testutil.AssertTrue(t, got.Revoked, "access token should be revoked by cascade")
	testutil.AssertTrue(t, got.RefreshRevoked, "refresh token should be revoked")
}

func TestRevokeAccessTokenDoesNotCascade(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	token := testutil.GenerateTestToken()
	testutil.AssertNoError(t, s.SaveToken(ctx, token))

	testutil.AssertNoError(t, s.RevokeAccessToken(ctx, token.AccessToken))

	got, err := s.GetTokenByRefresh(ctx, token.RefreshToken)
	testutil.AssertNoError(t, err)
	testutil.AssertTrue(t, got.Revoked, "access token should be revoked")
	testutil.AssertFalse(t, got.RefreshRevoked, "refresh token should stay usable")
}

func TestConsumeRefreshToken(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	token := testutil.GenerateTestToken()
	testutil.AssertNoError(t, s.SaveToken(ctx, token))

	got, err := s.ConsumeRefreshToken(ctx, token.RefreshToken)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, got.ClientID, token.ClientID)

	// Second consumption is a reuse signal: error plus the record
	reused, err := s.ConsumeRefreshToken(ctx, token.RefreshToken)
	testutil.AssertTrue(t, errors.Is(err, storage.ErrTokenNotFound), "expected ErrTokenNotFound")
	testutil.AssertTrue(t, reused != nil, "reuse should return the token record")
}

func TestConsumeRefreshTokenConcurrent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	token := testutil.GenerateTestToken()
	testutil.AssertNoError(t, s.SaveToken(ctx, token))

	const goroutines = 50
	var wg sync.WaitGroup
	var mu sync.Mutex
	successes := 0

	start := make(chan struct{})
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if _, err := s.ConsumeRefreshToken(ctx, token.RefreshToken); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	close(start)
	wg.Wait()

	testutil.AssertEqual(t, successes, 1)
}

func TestRevokeTokensForCode(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := testutil.GenerateTestToken()
	first.CodeID = "code-abc"
	second := testutil.GenerateTestToken()
	second.CodeID = "code-abc"
	other := testutil.GenerateTestToken()
	other.CodeID = "code-xyz"

	testutil.AssertNoError(t, s.SaveToken(ctx, first))
	testutil.AssertNoError(t, s.SaveToken(ctx, second))
	testutil.AssertNoError(t, s.SaveToken(ctx, other))

	revoked, err := s.RevokeTokensForCode(ctx, "code-abc")
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, revoked, 2)

	got, err := s.GetTokenByAccess(ctx, first.AccessToken)
	testutil.AssertNoError(t, err)
	testutil.AssertTrue(t, got.Revoked, "token minted from the code should be revoked")

	untouched, err := s.GetTokenByAccess(ctx, other.AccessToken)
	testutil.AssertNoError(t, err)
	testutil.AssertFalse(t, untouched.Revoked, "unrelated token should stay valid")
}

func TestDeleteToken(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	token := testutil.GenerateTestToken()
	testutil.AssertNoError(t, s.SaveToken(ctx, token))
	testutil.AssertNoError(t, s.DeleteToken(ctx, token.AccessToken))

	_, err := s.GetTokenByAccess(ctx, token.AccessToken)
	testutil.AssertTrue(t, errors.Is(err, storage.ErrTokenNotFound), "expected ErrTokenNotFound")

	_, err = s.GetTokenByRefresh(ctx, token.RefreshToken)
	testutil.AssertTrue(t, errors.Is(err, storage.ErrTokenNotFound), "refresh index entry should be gone")

	// Deleting an absent token is not an error
	testutil.AssertNoError(t, s.DeleteToken(ctx, token.AccessToken))
}

func TestCleanupRemovesExpiredEntries(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	expiredReq := testutil.GenerateTestAuthorizationRequest()
	expiredReq.ExpiresAt = time.Now().Add(-1 * time.Minute)
	testutil.AssertNoError(t, s.SaveAuthorizationRequest(ctx, expiredReq))

	expiredCode := testutil.GenerateTestAuthorizationCode()
	expiredCode.ExpiresAt = time.Now().Add(-1 * time.Minute)
	testutil.AssertNoError(t, s.SaveAuthorizationCode(ctx, expiredCode))

	deadToken := testutil.GenerateTestToken()
	deadToken.ExpiresAt = time.Now().Add(-1 * time.Hour)
	deadToken.RefreshExpiresAt = time.Now().Add(-1 * time.Hour)
	testutil.AssertNoError(t, s.SaveToken(ctx, deadToken))

	// Access expired but refresh still usable: must survive the sweep
	liveToken := testutil.GenerateTestToken()
	liveToken.ExpiresAt = time.Now().Add(-1 * time.Hour)
	testutil.AssertNoError(t, s.SaveToken(ctx, liveToken))

	s.cleanup()

	s.mu.RLock()
	_, reqExists := s.authRequests[expiredReq.RequestID]
	_, codeExists := s.authCodes[expiredCode.Code]
	_, deadExists := s.tokens[deadToken.AccessToken]
	_, liveExists := s.tokens[liveToken.AccessToken]
	s.mu.RUnlock()

	testutil.AssertFalse(t, reqExists, "expired request should be swept")
	testutil.AssertFalse(t, codeExists, "expired code should be swept")
	testutil.AssertFalse(t, deadExists, "fully expired token should be swept")
	testutil.AssertTrue(t, liveExists, "token with live refresh should survive")
}
