package oauth

import (
	"testing"

	"github.com/parkgate-io/authcore/internal/testutil"
	"github.com/parkgate-io/authcore/storage/memory"
)

func TestNewRequiresConfig(t *testing.T) {
	_, err := New(nil)
	testutil.AssertError(t, err)
}

func TestNewAppliesDefaults(t *testing.T) {
	store := memory.New()
	t.Cleanup(store.Stop)

	srv, err := New(&Config{
		ClientStore: store,
		UserStore:   store,
		FlowStore:   store,
		TokenStore:  store,
		Logger:      discardLogger(),
	})
	testutil.AssertNoError(t, err)

	// Secure defaults kick in with no server config at all
	testutil.AssertEqual(t, srv.Config.AccessTokenTTL, int64(3600))
	testutil.AssertEqual(t, srv.Config.AllowRefreshTokenRotation, true)

	// Audit is on by default, the general rate limiter off
	testutil.AssertTrue(t, srv.Auditor != nil, "auditor expected")
	testutil.AssertTrue(t, srv.RateLimiter == nil, "no rate limiter without a configured rate")
	testutil.AssertTrue(t, srv.SecurityEventRateLimiter != nil, "security event limiter expected")
}

func TestNewConfiguresRateLimiter(t *testing.T) {
	store := memory.New()
	t.Cleanup(store.Stop)

	srv, err := New(&Config{
		ClientStore:        store,
		UserStore:          store,
		FlowStore:          store,
		TokenStore:         store,
		Logger:             discardLogger(),
		RateLimitPerSecond: 10,
	})
	testutil.AssertNoError(t, err)
	testutil.AssertTrue(t, srv.RateLimiter != nil, "rate limiter expected")
}
