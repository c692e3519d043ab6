package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/oauth2"

	"github.com/parkgate-io/authcore/instrumentation"
	"github.com/parkgate-io/authcore/security"
	"github.com/parkgate-io/authcore/storage"
)

// Server implements the authorization server logic: client registry, grant
// negotiation, token issuance, validation, and revocation. The HTTP layer in
// the root package translates between the wire protocol and these operations.
type Server struct {
	clientStore storage.ClientStore
	userStore   storage.UserStore
	flowStore   storage.FlowStore
	tokenStore  storage.TokenStore

	Auditor                  *security.Auditor
	RateLimiter              *security.RateLimiter // IP-based rate limiter
	SecurityEventRateLimiter *security.RateLimiter // Rate limiter for security event logging (DoS prevention)
	Instrumentation          *instrumentation.Instrumentation
	Logger                   *slog.Logger
	Config                   *Config
}

// New creates a new authorization server
func New(
	clientStore storage.ClientStore,
	userStore storage.UserStore,
	flowStore storage.FlowStore,
	tokenStore storage.TokenStore,
	config *Config,
	logger *slog.Logger,
) (*Server, error) {
	if clientStore == nil {
		return nil, fmt.Errorf("client store is required")
	}
	if userStore == nil {
		return nil, fmt.Errorf("user store is required")
	}
	if flowStore == nil {
		return nil, fmt.Errorf("flow store is required")
	}
	if tokenStore == nil {
		return nil, fmt.Errorf("token store is required")
	}
	if config == nil {
		config = &Config{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	config = applySecureDefaults(config, logger)

	return &Server{
		clientStore: clientStore,
		userStore:   userStore,
		flowStore:   flowStore,
		tokenStore:  tokenStore,
		Config:      config,
		Logger:      logger,
	}, nil
}

// SetAuditor sets the security auditor
func (s *Server) SetAuditor(aud *security.Auditor) {
	s.Auditor = aud
}

// SetRateLimiter sets the IP-based rate limiter
func (s *Server) SetRateLimiter(rl *security.RateLimiter) {
	s.RateLimiter = rl
}

// SetSecurityEventRateLimiter sets the rate limiter for security event logging
// This prevents DoS attacks via log flooding from repeated security events
func (s *Server) SetSecurityEventRateLimiter(rl *security.RateLimiter) {
	s.SecurityEventRateLimiter = rl
}

// SetInstrumentation sets OpenTelemetry instrumentation and propagates it to
// storage backends that support it.
func (s *Server) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.Instrumentation = inst

	type instrumentationSetter interface {
		SetInstrumentation(*instrumentation.Instrumentation)
	}
	seen := map[any]bool{}
	for _, store := range []any{s.clientStore, s.userStore, s.flowStore, s.tokenStore} {
		if seen[store] {
			continue
		}
		seen[store] = true
		if setter, ok := store.(instrumentationSetter); ok {
			setter.SetInstrumentation(inst)
		}
	}
}

// GetUser retrieves a user profile by ID (for the userinfo endpoint)
func (s *Server) GetUser(ctx context.Context, userID string) (*storage.User, error) {
	user, err := s.userStore.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrUnavailable) {
			return nil, fmt.Errorf("%w: user lookup failed", ErrUnavailable)
		}
		return nil, err
	}
	return user, nil
}

// generateRandomToken generates a cryptographically secure random token.
// This is an alias for oauth2.GenerateVerifier() which produces a URL-safe,
// base64-encoded random string suitable for tokens, codes, identifiers, etc.
func generateRandomToken() string {
	return oauth2.GenerateVerifier()
}

// metrics returns the metric recorder, or nil when instrumentation is off.
func (s *Server) metrics() *instrumentation.Metrics {
	if s.Instrumentation == nil {
		return nil
	}
	return s.Instrumentation.Metrics()
}
