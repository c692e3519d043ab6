// Package testutil provides testing utilities and helpers for the authcore library.
package testutil

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/parkgate-io/authcore/storage"
)

// TestSecretHash is the bcrypt hash of "secret", used by client fixtures.
const TestSecretHash = "$2a$10$4odEPuVgb22p9.gRPLLop.KB0gg5tPpyi5XA8crDMjaGKXt2oZbxe"

// GenerateRandomString generates a random base64url-encoded string
func GenerateRandomString(length int) string {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("failed to generate random string: %v", err))
	}
	return base64.RawURLEncoding.EncodeToString(b)[:length]
}

// GenerateTestClient creates a confidential test client whose secret is "secret"
func GenerateTestClient() *storage.Client {
	return &storage.Client{
		ClientID:                "test-client-id",
		ClientSecretHash:        TestSecretHash,
		ClientType:              "confidential",
		OwnerUserID:             "test-user-123",
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

// GenerateTestPublicClient creates a public test client with no secret
func GenerateTestPublicClient() *storage.Client {
	c := GenerateTestClient()
	c.ClientID = "test-public-client-id"
	c.ClientSecretHash = ""
	c.ClientType = "public"
	c.TokenEndpointAuthMethod = "none"
	return c
}

// GenerateTestUser creates a test user record
func GenerateTestUser() *storage.User {
	return &storage.User{
		ID:         "test-user-123",
		Username:   "jdoe",
		FirstName:  "Jane",
		LastName:   "Doe",
		MiddleName: "Q",
		Mail:       "jdoe@example.com",
		Mobile:     "+15550100",
		CreatedAt:  time.Now(),
	}
}

// GenerateTestAuthorizationRequest creates a pending authorization request
func GenerateTestAuthorizationRequest() *storage.AuthorizationRequest {
	return &storage.AuthorizationRequest{
		RequestID:    GenerateRandomString(32),
		ClientID:     "test-client-id",
		UserID:       "test-user-123",
		RedirectURI:  "https://app.example/cb",
		ResponseType: "code",
		Scope:        "profile",
		State:        GenerateRandomString(16),
		CreatedAt:    time.Now(),
		ExpiresAt:    time.Now().Add(10 * time.Minute),
	}
}

// GenerateTestAuthorizationCode creates an unused authorization code
func GenerateTestAuthorizationCode() *storage.AuthorizationCode {
	return &storage.AuthorizationCode{
		Code:        GenerateRandomString(32),
		ClientID:    "test-client-id",
		UserID:      "test-user-123",
		RedirectURI: "https://app.example/cb",
		Scope:       "profile",
		CreatedAt:   time.Now(),
		ExpiresAt:   time.Now().Add(10 * time.Minute),
		Used:        false,
	}
}

// GenerateTestToken creates a live token pair
func GenerateTestToken() *storage.Token {
	return &storage.Token{
		AccessToken:      GenerateRandomString(43),
		RefreshToken:     GenerateRandomString(43),
		ClientID:         "test-client-id",
		UserID:           "test-user-123",
		Scope:            "profile",
		TokenType:        "Bearer",
		IssuedAt:         time.Now(),
		ExpiresAt:        time.Now().Add(1 * time.Hour),
		RefreshExpiresAt: time.Now().Add(90 * 24 * time.Hour),
	}
}

// AssertNoError fails the test if err is not nil
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil
func AssertError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error but got nil")
	}
}

// AssertEqual fails the test if got != want
func AssertEqual(t *testing.T, got, want interface{}) {
	t.Helper()
	if got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

// AssertNotEqual fails the test if got == want
func AssertNotEqual(t *testing.T, got, want interface{}) {
	t.Helper()
	if got == want {
		t.Errorf("got %v, want different value", got)
	}
}

// AssertStringContains fails the test if s does not contain substr
func AssertStringContains(t *testing.T, s, substr string) {
	t.Helper()
	if !strings.Contains(s, substr) {
		t.Errorf("string %q does not contain %q", s, substr)
	}
}

// AssertTrue fails the test if condition is false
func AssertTrue(t *testing.T, condition bool, message string) {
	t.Helper()
	if !condition {
		t.Errorf("assertion failed: %s", message)
	}
}

// AssertFalse fails the test if condition is true
func AssertFalse(t *testing.T, condition bool, message string) {
	t.Helper()
	if condition {
		t.Errorf("assertion failed: %s", message)
	}
}

// AssertTimeEqual asserts two times are equal within a tolerance
func AssertTimeEqual(t *testing.T, got, want time.Time, tolerance time.Duration) {
	t.Helper()
	diff := got.Sub(want)
	if diff < 0 {
		diff = -diff
	}
	if diff > tolerance {
		t.Errorf("time mismatch: got %v, want %v (tolerance: %v, diff: %v)", got, want, tolerance, diff)
	}
}

// HTTPRequest is a helper for making test HTTP requests
type HTTPRequest struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    string
}

// NewHTTPRequest creates a new HTTP request helper
func NewHTTPRequest(method, url string) *HTTPRequest {
	return &HTTPRequest{
		Method:  method,
		URL:     url,
		Headers: make(map[string]string),
	}
}

// WithHeader adds a header to the request
func (r *HTTPRequest) WithHeader(key, value string) *HTTPRequest {
	r.Headers[key] = value
	return r
}

// WithForm sets a form-encoded request body and content type
func (r *HTTPRequest) WithForm(form string) *HTTPRequest {
	r.Body = form
	r.Headers["Content-Type"] = "application/x-www-form-urlencoded"
	return r
}

// Do executes the HTTP request against the handler
func (r *HTTPRequest) Do(handler http.Handler) *httptest.ResponseRecorder {
	var req *http.Request
	if r.Body != "" {
		req = httptest.NewRequest(r.Method, r.URL, strings.NewReader(r.Body))
	} else {
		req = httptest.NewRequest(r.Method, r.URL, nil)
	}
	for k, v := range r.Headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}
