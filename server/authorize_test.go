package server

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"

	"github.com/parkgate-io/authcore/internal/testutil"
)

// codeFromRedirect extracts the code query parameter from a redirect URL
func codeFromRedirect(t *testing.T, rawURL string) string {
	t.Helper()
	parsed, err := url.Parse(rawURL)
	testutil.AssertNoError(t, err)
	code := parsed.Query().Get("code")
	if code == "" {
		t.Fatalf("redirect %q carries no code", rawURL)
	}
	return code
}

func validParams() *AuthorizationParams {
	return &AuthorizationParams{
		ClientID:     "test-client-id",
		RedirectURI:  "https://app.example/cb",
		ResponseType: "code",
		Scope:        "profile",
		State:        "csrf-state-token",
	}
}

func TestBeginAuthorization(t *testing.T) {
	srv, _ := newTestServer(t)

	view, err := srv.BeginAuthorization(context.Background(), validParams(), testIdentity())
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, view.ClientName, "Test Client")
	testutil.AssertEqual(t, view.State, "csrf-state-token")
	testutil.AssertEqual(t, len(view.Scopes), 1)
	testutil.AssertTrue(t, view.RequestID != "", "request ID must be set")
	testutil.AssertTrue(t, len(view.RequestID) >= 22, "request ID must carry at least 128 bits")
}

func TestBeginAuthorizationUnknownClient(t *testing.T) {
	srv, _ := newTestServer(t)

	params := validParams()
	params.ClientID = "no-such-client"
	_, err := srv.BeginAuthorization(context.Background(), params, testIdentity())
	testutil.AssertTrue(t, errors.Is(err, ErrInvalidRequest), "unknown client must be a rendered error")
}

// An unregistered redirect URI must produce a rendered error, never a
// redirect, even when it differs only marginally from a registered one.
func TestBeginAuthorizationRedirectURIMismatch(t *testing.T) {
	srv, _ := newTestServer(t)

	tests := []struct {
		name string
		uri  string
	}{
		{"different path", "https://app.example/other"},
		{"trailing slash", "https://app.example/cb/"},
		{"different host", "https://evil.example/cb"},
		{"scheme downgrade", "http://app.example/cb"},
		{"added query", "https://app.example/cb?extra=1"},
		{"empty", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := validParams()
			params.RedirectURI = tt.uri
			_, err := srv.BeginAuthorization(context.Background(), params, testIdentity())
			testutil.AssertTrue(t, errors.Is(err, ErrInvalidRequest), "mismatch must be rendered")

			var authErr *AuthorizationError
			testutil.AssertFalse(t, errors.As(err, &authErr), "mismatch must never redirect")
		})
	}
}

func TestBeginAuthorizationUnsupportedResponseType(t *testing.T) {
	srv, _ := newTestServer(t)

	params := validParams()
	params.ResponseType = "token"
	_, err := srv.BeginAuthorization(context.Background(), params, testIdentity())

	var authErr *AuthorizationError
	testutil.AssertTrue(t, errors.As(err, &authErr), "expected redirectable error")
	testutil.AssertEqual(t, authErr.Code, "unsupported_response_type")
	testutil.AssertEqual(t, authErr.State, "csrf-state-token")
}

func TestBeginAuthorizationScopeEscalation(t *testing.T) {
	srv, _ := newTestServer(t)

	params := validParams()
	params.Scope = "profile admin"
	_, err := srv.BeginAuthorization(context.Background(), params, testIdentity())

	var authErr *AuthorizationError
	testutil.AssertTrue(t, errors.As(err, &authErr), "expected redirectable error")
	testutil.AssertEqual(t, authErr.Code, ErrorCodeInvalidScope)
}

func TestBeginAuthorizationLoginRequired(t *testing.T) {
	srv, _ := newTestServer(t)

	_, err := srv.BeginAuthorization(context.Background(), validParams(), nil)

	var loginErr *LoginRequiredError
	testutil.AssertTrue(t, errors.As(err, &loginErr), "expected LoginRequiredError")
}

// Login must only be demanded for requests that already passed validation;
// a bogus redirect URI with no user is still a rendered error.
func TestBeginAuthorizationValidationBeforeLogin(t *testing.T) {
	srv, _ := newTestServer(t)

	params := validParams()
	params.RedirectURI = "https://evil.example/cb"
	_, err := srv.BeginAuthorization(context.Background(), params, nil)
	testutil.AssertTrue(t, errors.Is(err, ErrInvalidRequest), "validation precedes the login bounce")
}

func TestDecideAuthorizationApproved(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx := context.Background()

	view, err := srv.BeginAuthorization(ctx, validParams(), testIdentity())
	testutil.AssertNoError(t, err)

	target, err := srv.DecideAuthorization(ctx, view.RequestID, testIdentity(), true)
	testutil.AssertNoError(t, err)

	parsed, err := url.Parse(target.URL)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, parsed.Host, "app.example")
	testutil.AssertTrue(t, parsed.Query().Get("code") != "", "redirect must carry a code")
	testutil.AssertEqual(t, parsed.Query().Get("state"), "csrf-state-token")
	testutil.AssertEqual(t, parsed.Query().Get("error"), "")
}

func TestDecideAuthorizationDenied(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx := context.Background()

	view, err := srv.BeginAuthorization(ctx, validParams(), testIdentity())
	testutil.AssertNoError(t, err)

	target, err := srv.DecideAuthorization(ctx, view.RequestID, testIdentity(), false)
	testutil.AssertNoError(t, err)

	parsed, err := url.Parse(target.URL)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, parsed.Query().Get("error"), ErrorCodeAccessDenied)
	testutil.AssertEqual(t, parsed.Query().Get("state"), "csrf-state-token")
	testutil.AssertEqual(t, parsed.Query().Get("code"), "")
}

// State values with URL metacharacters must round-trip verbatim.
func TestStateEchoedVerbatim(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx := context.Background()

	state := "a b&c=d/%2F+?#"
	params := validParams()
	params.State = state

	view, err := srv.BeginAuthorization(ctx, params, testIdentity())
	testutil.AssertNoError(t, err)

	target, err := srv.DecideAuthorization(ctx, view.RequestID, testIdentity(), true)
	testutil.AssertNoError(t, err)

	parsed, err := url.Parse(target.URL)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, parsed.Query().Get("state"), state)
}

func TestDecideAuthorizationRequestSingleUse(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx := context.Background()

	view, err := srv.BeginAuthorization(ctx, validParams(), testIdentity())
	testutil.AssertNoError(t, err)

	_, err = srv.DecideAuthorization(ctx, view.RequestID, testIdentity(), true)
	testutil.AssertNoError(t, err)

	_, err = srv.DecideAuthorization(ctx, view.RequestID, testIdentity(), true)
	testutil.AssertTrue(t, errors.Is(err, ErrInvalidRequest), "decided request must be consumed")
}

func TestDecideAuthorizationUnknownRequest(t *testing.T) {
	srv, _ := newTestServer(t)

	_, err := srv.DecideAuthorization(context.Background(), "no-such-request", testIdentity(), true)
	testutil.AssertTrue(t, errors.Is(err, ErrInvalidRequest), "expected ErrInvalidRequest")
}

func TestDecideAuthorizationUserMismatch(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx := context.Background()

	view, err := srv.BeginAuthorization(ctx, validParams(), testIdentity())
	testutil.AssertNoError(t, err)

	other := testIdentity()
	other.UserID = "someone-else"
	_, err = srv.DecideAuthorization(ctx, view.RequestID, other, true)
	testutil.AssertTrue(t, errors.Is(err, ErrInvalidRequest), "foreign user must not decide")
}

func TestBuildRedirectPreservesClientQuery(t *testing.T) {
	target, err := buildRedirect("https://app.example/cb?tenant=acme", map[string]string{
		"code":  "abc",
		"state": "s1",
	})
	testutil.AssertNoError(t, err)

	parsed, err := url.Parse(target.URL)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, parsed.Query().Get("tenant"), "acme")
	testutil.AssertEqual(t, parsed.Query().Get("code"), "abc")
	testutil.AssertFalse(t, strings.Contains(target.URL, "state=s1&state"), "no duplicate params")
}
