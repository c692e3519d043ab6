package server

import (
	"context"
	"errors"
	"testing"

	"github.com/parkgate-io/authcore/internal/testutil"
)

func TestRevokeAccessToken(t *testing.T) {
	srv, store := newTestServer(t)
	ctx := context.Background()

	authCode := issueCode(t, srv, store, "profile")
	token, err := srv.ExchangeAuthorizationCode(ctx, "test-client-id", "secret", authCode.Code, "https://app.example/cb")
	testutil.AssertNoError(t, err)

	err = srv.RevokeToken(ctx, "test-client-id", "secret", token.AccessToken, TokenTypeHintAccess, "192.0.2.1")
	testutil.AssertNoError(t, err)

	_, err = srv.ValidateAccessToken(ctx, token.AccessToken, "")
	testutil.AssertTrue(t, errors.Is(err, ErrInvalidToken), "revoked access token must be invalid")

	// Revoking the access token leaves the refresh token usable
	_, err = srv.ExchangeRefreshToken(ctx, "test-client-id", "secret", token.RefreshToken)
	testutil.AssertNoError(t, err)
}

// Revoking a refresh token must also invalidate its paired access token.
func TestRevokeRefreshTokenCascades(t *testing.T) {
	srv, store := newTestServer(t)
	ctx := context.Background()

	authCode := issueCode(t, srv, store, "profile")
	token, err := srv.ExchangeAuthorizationCode(ctx, "test-client-id", "secret", authCode.Code, "https://app.example/cb")
	testutil.AssertNoError(t, err)

	err = srv.RevokeToken(ctx, "test-client-id", "secret", token.RefreshToken, TokenTypeHintRefresh, "192.0.2.1")
	testutil.AssertNoError(t, err)

	_, err = srv.ValidateAccessToken(ctx, token.AccessToken, "")
	testutil.AssertTrue(t, errors.Is(err, ErrInvalidToken), "cascade must invalidate the access token")

	_, err = srv.ExchangeRefreshToken(ctx, "test-client-id", "secret", token.RefreshToken)
	testutil.AssertTrue(t, errors.Is(err, ErrInvalidGrant), "revoked refresh token must be unusable")
}

// The hint is advisory: a refresh token presented with the access hint is
// still found and revoked as a refresh token.
func TestRevokeTokenWrongHint(t *testing.T) {
	srv, store := newTestServer(t)
	ctx := context.Background()

	authCode := issueCode(t, srv, store, "profile")
	token, err := srv.ExchangeAuthorizationCode(ctx, "test-client-id", "secret", authCode.Code, "https://app.example/cb")
	testutil.AssertNoError(t, err)

	err = srv.RevokeToken(ctx, "test-client-id", "secret", token.RefreshToken, TokenTypeHintAccess, "")
	testutil.AssertNoError(t, err)

	_, err = srv.ExchangeRefreshToken(ctx, "test-client-id", "secret", token.RefreshToken)
	testutil.AssertTrue(t, errors.Is(err, ErrInvalidGrant), "refresh token must be revoked despite wrong hint")
}

func TestRevokeTokenIdempotent(t *testing.T) {
	srv, store := newTestServer(t)
	ctx := context.Background()

	// Unknown token: success
	err := srv.RevokeToken(ctx, "test-client-id", "secret", "no-such-token", "", "")
	testutil.AssertNoError(t, err)

	// Empty token: success
	err = srv.RevokeToken(ctx, "test-client-id", "secret", "", "", "")
	testutil.AssertNoError(t, err)

	// Double revocation: success
	authCode := issueCode(t, srv, store, "profile")
	token, err := srv.ExchangeAuthorizationCode(ctx, "test-client-id", "secret", authCode.Code, "https://app.example/cb")
	testutil.AssertNoError(t, err)

	testutil.AssertNoError(t, srv.RevokeToken(ctx, "test-client-id", "secret", token.AccessToken, "", ""))
	testutil.AssertNoError(t, srv.RevokeToken(ctx, "test-client-id", "secret", token.AccessToken, "", ""))
}

func TestRevokeTokenRequiresClientAuth(t *testing.T) {
	srv, store := newTestServer(t)
	ctx := context.Background()

	authCode := issueCode(t, srv, store, "profile")
	token, err := srv.ExchangeAuthorizationCode(ctx, "test-client-id", "secret", authCode.Code, "https://app.example/cb")
	testutil.AssertNoError(t, err)

	err = srv.RevokeToken(ctx, "test-client-id", "wrong", token.AccessToken, "", "")
	testutil.AssertTrue(t, errors.Is(err, ErrInvalidClient), "bad credentials must fail, not no-op")

	_, err = srv.ValidateAccessToken(ctx, token.AccessToken, "")
	testutil.AssertNoError(t, err)
}

// Revoking another client's token reports success but revokes nothing.
func TestRevokeTokenForeignOwnership(t *testing.T) {
	srv, store := newTestServer(t)
	ctx := context.Background()

	other := testutil.GenerateTestClient()
	other.ClientID = "other-client-id"
	testutil.AssertNoError(t, store.SaveClient(ctx, other))

	authCode := issueCode(t, srv, store, "profile")
	token, err := srv.ExchangeAuthorizationCode(ctx, "test-client-id", "secret", authCode.Code, "https://app.example/cb")
	testutil.AssertNoError(t, err)

	err = srv.RevokeToken(ctx, "other-client-id", "secret", token.AccessToken, "", "")
	testutil.AssertNoError(t, err)

	_, err = srv.ValidateAccessToken(ctx, token.AccessToken, "")
	testutil.AssertNoError(t, err)
}
