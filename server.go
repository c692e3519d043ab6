// Package oauth wires the authorization server core to an HTTP surface. The
// server package holds the protocol logic; this package adds the Handler (an
// http.HandlerFunc per endpoint), the OAuth error taxonomy, and convenience
// wiring for stores, auditing, rate limiting, and instrumentation.
package oauth

import (
	"fmt"
	"log/slog"

	"github.com/parkgate-io/authcore/instrumentation"
	"github.com/parkgate-io/authcore/security"
	"github.com/parkgate-io/authcore/server"
	"github.com/parkgate-io/authcore/storage"
)

// Config assembles everything the authorization server needs. The four store
// fields may point at the same object when one backend implements all of them
// (both bundled backends do).
type Config struct {
	// ClientStore persists registered clients
	ClientStore storage.ClientStore

	// UserStore persists user records
	UserStore storage.UserStore

	// FlowStore persists pending authorization requests and codes
	FlowStore storage.FlowStore

	// TokenStore persists issued token pairs
	TokenStore storage.TokenStore

	// Server carries the protocol configuration; nil gets secure defaults
	Server *server.Config

	// Logger is the structured logger; nil uses slog.Default()
	Logger *slog.Logger

	// Instrumentation enables OpenTelemetry metrics and tracing when set
	Instrumentation *instrumentation.Instrumentation

	// DisableAudit turns off security audit logging. Leave it off in
	// production.
	DisableAudit bool

	// RateLimitPerSecond is the per-client-IP request rate applied to the
	// token, revocation, and registration endpoints. Zero disables the
	// limiter.
	RateLimitPerSecond int

	// RateLimitBurst is the burst size for the per-IP limiter; defaults to
	// RateLimitPerSecond when zero
	RateLimitBurst int
}

// New builds a fully wired authorization server: core, auditor, rate
// limiters, and instrumentation propagated to stores that support it.
func New(cfg *Config) (*server.Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	srv, err := server.New(cfg.ClientStore, cfg.UserStore, cfg.FlowStore, cfg.TokenStore, cfg.Server, logger)
	if err != nil {
		return nil, err
	}

	srv.SetAuditor(security.NewAuditor(logger.With("component", "audit"), !cfg.DisableAudit))

	if cfg.RateLimitPerSecond > 0 {
		burst := cfg.RateLimitBurst
		if burst <= 0 {
			burst = cfg.RateLimitPerSecond
		}
		srv.SetRateLimiter(security.NewRateLimiter(cfg.RateLimitPerSecond, burst, logger))
	}

	// Reuse-detection log lines are attacker-triggerable; keep them from
	// flooding the log
	srv.SetSecurityEventRateLimiter(security.NewRateLimiter(1, 5, logger))

	if cfg.Instrumentation != nil {
		srv.SetInstrumentation(cfg.Instrumentation)
	}

	return srv, nil
}
