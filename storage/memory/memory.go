// Package memory provides an in-memory implementation of all storage interfaces.
// It is suitable for development, testing, and single-instance deployments.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/crypto/bcrypt"

	"github.com/parkgate-io/authcore/instrumentation"
	"github.com/parkgate-io/authcore/internal/util"
	"github.com/parkgate-io/authcore/security"
	"github.com/parkgate-io/authcore/storage"
)

// credentialLogLength is the number of characters to include when logging
// code or token prefixes. Enough uniqueness for debugging, nothing usable.
const credentialLogLength = 8

// dummySecretHash is a pre-computed bcrypt hash compared against when the
// client does not exist, so secret validation costs the same either way.
const dummySecretHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

// Store is an in-memory implementation of all storage interfaces.
// It implements ClientStore, UserStore, FlowStore, and TokenStore.
type Store struct {
	mu sync.RWMutex

	// Client storage
	clients      map[string]*storage.Client
	clientsPerIP map[string]int // IP address -> registration count (DoS protection)

	// User storage
	users     map[string]*storage.User
	usernames map[string]string // username -> user ID

	// Flow storage
	authRequests map[string]*storage.AuthorizationRequest
	authCodes    map[string]*storage.AuthorizationCode

	// Token storage: records keyed by access token, refresh values indexed
	// back to the owning record
	tokens       map[string]*storage.Token
	refreshIndex map[string]string // refresh token -> access token

	// Instrumentation
	instrumentation *instrumentation.Instrumentation
	tracer          trace.Tracer

	// Atomic counters for gauges (lock-free reads during metric collection)
	clientsCount  atomic.Int64
	usersCount    atomic.Int64
	requestsCount atomic.Int64
	codesCount    atomic.Int64
	tokensCount   atomic.Int64

	// Cleanup
	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	logger          *slog.Logger
}

// Compile-time interface checks
var (
	_ storage.ClientStore = (*Store)(nil)
	_ storage.UserStore   = (*Store)(nil)
	_ storage.FlowStore   = (*Store)(nil)
	_ storage.TokenStore  = (*Store)(nil)
)

// New creates a new in-memory store with the default cleanup interval (1 minute)
func New() *Store {
	return NewWithInterval(time.Minute)
}

// NewWithInterval creates a new in-memory store with a custom cleanup
// interval. Zero or negative intervals fall back to 1 minute.
func NewWithInterval(cleanupInterval time.Duration) *Store {
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}

	s := &Store{
		clients:         make(map[string]*storage.Client),
		clientsPerIP:    make(map[string]int),
		users:           make(map[string]*storage.User),
		usernames:       make(map[string]string),
		authRequests:    make(map[string]*storage.AuthorizationRequest),
		authCodes:       make(map[string]*storage.AuthorizationCode),
		tokens:          make(map[string]*storage.Token),
		refreshIndex:    make(map[string]string),
		cleanupInterval: cleanupInterval,
		stopCleanup:     make(chan struct{}),
		logger:          slog.Default(),
	}

	go s.cleanupLoop()

	return s
}

// SetLogger sets a custom logger
func (s *Store) SetLogger(logger *slog.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger = logger
}

// SetInstrumentation sets OpenTelemetry instrumentation for the store
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.mu.Lock()
	s.instrumentation = inst
	if inst != nil {
		s.tracer = inst.Tracer("storage")
	}

	s.clientsCount.Store(int64(len(s.clients)))
	s.usersCount.Store(int64(len(s.users)))
	s.requestsCount.Store(int64(len(s.authRequests)))
	s.codesCount.Store(int64(len(s.authCodes)))
	s.tokensCount.Store(int64(len(s.tokens)))
	s.mu.Unlock()

	if inst != nil {
		err := inst.RegisterStorageSizeCallbacks(
			func() int64 { return s.clientsCount.Load() },
			func() int64 { return s.usersCount.Load() },
			func() int64 { return s.requestsCount.Load() },
			func() int64 { return s.codesCount.Load() },
			func() int64 { return s.tokensCount.Load() },
		)
		if err != nil {
			s.logger.Warn("Failed to register storage size callbacks", "error", err)
		}
	}
}

// Stop gracefully stops the cleanup goroutine
func (s *Store) Stop() {
	close(s.stopCleanup)
}

// ============================================================
// ClientStore Implementation
// ============================================================

// SaveClient saves a registered client
func (s *Store) SaveClient(ctx context.Context, client *storage.Client) error {
	ctx, span := s.startStorageSpan(ctx, "save_client")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() {
		s.recordStorageOperation(ctx, span, "save_client", err, startTime)
	}()

	if client == nil || client.ClientID == "" {
		err = fmt.Errorf("invalid client")
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, existed := s.clients[client.ClientID]
	s.clients[client.ClientID] = client
	if !existed {
		s.clientsCount.Add(1)
	}

	s.logger.Debug("Saved client", "client_id", client.ClientID)
	return nil
}

// GetClient retrieves a client by ID
func (s *Store) GetClient(ctx context.Context, clientID string) (*storage.Client, error) {
	ctx, span := s.startStorageSpan(ctx, "get_client")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() {
		s.recordStorageOperation(ctx, span, "get_client", err, startTime)
	}()

	s.mu.RLock()
	defer s.mu.RUnlock()

	client, ok := s.clients[clientID]
	if !ok {
		err = fmt.Errorf("%w: %s", storage.ErrClientNotFound, clientID)
		return nil, err
	}

	return client, nil
}

// ValidateClientSecret validates a client's secret using bcrypt.
// A bcrypt comparison runs on every call, against a dummy hash when the
// client is unknown, so response time does not reveal client existence.
func (s *Store) ValidateClientSecret(ctx context.Context, clientID, clientSecret string) error {
	client, err := s.GetClient(ctx, clientID)

	hashToCompare := dummySecretHash
	isPublicClient := false
	if err == nil {
		if client.TokenEndpointAuthMethod == "none" {
			isPublicClient = true
		} else if client.ClientSecretHash != "" {
			hashToCompare = client.ClientSecretHash
		}
	}

	bcryptErr := bcrypt.CompareHashAndPassword([]byte(hashToCompare), []byte(clientSecret))

	if err != nil {
		return fmt.Errorf("%w: invalid client credentials", storage.ErrInvalidSecret)
	}

	// A public client authenticates with an empty secret only; presenting a
	// non-empty secret against an empty stored secret never succeeds.
	if isPublicClient {
		if clientSecret == "" {
			return nil
		}
		return fmt.Errorf("%w: invalid client credentials", storage.ErrInvalidSecret)
	}

	if clientSecret == "" || bcryptErr != nil {
		return fmt.Errorf("%w: invalid client credentials", storage.ErrInvalidSecret)
	}

	return nil
}

// ListClients lists all registered clients
func (s *Store) ListClients(ctx context.Context) ([]*storage.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	clients := make([]*storage.Client, 0, len(s.clients))
	for _, client := range s.clients {
		clients = append(clients, client)
	}

	return clients, nil
}

// CheckIPLimit checks if an IP has reached the client registration limit
func (s *Store) CheckIPLimit(ctx context.Context, ip string, maxClientsPerIP int) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if maxClientsPerIP <= 0 || ip == "" {
		return nil // No limit, or no address to attribute
	}

	count := s.clientsPerIP[ip]
	if count >= maxClientsPerIP {
		return fmt.Errorf("%w: %s (%d/%d clients)", storage.ErrIPLimitReached, ip, count, maxClientsPerIP)
	}

	return nil
}

// TrackClientIP increments the registration count for an IP address
func (s *Store) TrackClientIP(ip string) {
	if ip == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clientsPerIP[ip]++
}

// ============================================================
// UserStore Implementation
// ============================================================

// SaveUser saves a user record and indexes it by username
func (s *Store) SaveUser(ctx context.Context, user *storage.User) error {
	ctx, span := s.startStorageSpan(ctx, "save_user")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() {
		s.recordStorageOperation(ctx, span, "save_user", err, startTime)
	}()

	if user == nil || user.ID == "" {
		err = fmt.Errorf("invalid user")
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, existed := s.users[user.ID]
	s.users[user.ID] = user
	if user.Username != "" {
		s.usernames[user.Username] = user.ID
	}
	if !existed {
		s.usersCount.Add(1)
	}

	s.logger.Debug("Saved user", "user_id", user.ID)
	return nil
}

// GetUser retrieves a user by ID
func (s *Store) GetUser(ctx context.Context, userID string) (*storage.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[userID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrUserNotFound, userID)
	}

	return user, nil
}

// GetUserByUsername retrieves a user by unique username
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*storage.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	userID, ok := s.usernames[username]
	if !ok {
		return nil, fmt.Errorf("%w: username %s", storage.ErrUserNotFound, username)
	}
	user, ok := s.users[userID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrUserNotFound, userID)
	}

	return user, nil
}

// ============================================================
// FlowStore Implementation
// ============================================================

// SaveAuthorizationRequest saves a pending authorization request
func (s *Store) SaveAuthorizationRequest(ctx context.Context, req *storage.AuthorizationRequest) error {
	if req == nil || req.RequestID == "" {
		return fmt.Errorf("invalid authorization request")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, existed := s.authRequests[req.RequestID]
	s.authRequests[req.RequestID] = req
	if !existed {
		s.requestsCount.Add(1)
	}

	s.logger.Debug("Saved authorization request",
		"request_id", util.SafeTruncate(req.RequestID, credentialLogLength),
		"client_id", req.ClientID)
	return nil
}

// GetAuthorizationRequest retrieves a pending authorization request.
// Expired requests are treated as absent.
func (s *Store) GetAuthorizationRequest(ctx context.Context, requestID string) (*storage.AuthorizationRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	req, ok := s.authRequests[requestID]
	if !ok {
		return nil, storage.ErrRequestNotFound
	}

	if security.IsExpired(req.ExpiresAt) {
		return nil, fmt.Errorf("%w: authorization request expired", storage.ErrRequestNotFound)
	}

	reqCopy := *req
	return &reqCopy, nil
}

// DeleteAuthorizationRequest removes a pending authorization request
func (s *Store) DeleteAuthorizationRequest(ctx context.Context, requestID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, existed := s.authRequests[requestID]; existed {
		delete(s.authRequests, requestID)
		s.requestsCount.Add(-1)
	}
	return nil
}

// SaveAuthorizationCode saves an issued authorization code
func (s *Store) SaveAuthorizationCode(ctx context.Context, code *storage.AuthorizationCode) error {
	ctx, span := s.startStorageSpan(ctx, "save_authorization_code")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() {
		s.recordStorageOperation(ctx, span, "save_authorization_code", err, startTime)
	}()

	if code == nil || code.Code == "" {
		err = fmt.Errorf("invalid authorization code")
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, existed := s.authCodes[code.Code]
	s.authCodes[code.Code] = code
	if !existed {
		s.codesCount.Add(1)
	}

	s.logger.Debug("Saved authorization code",
		"code_prefix", util.SafeTruncate(code.Code, credentialLogLength))
	return nil
}

// GetAuthorizationCode retrieves an authorization code without consuming it.
// Used codes stay visible so reuse attempts can be detected; use
// ConsumeAuthorizationCode for redemption.
func (s *Store) GetAuthorizationCode(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	authCode, ok := s.authCodes[code]
	if !ok {
		return nil, storage.ErrCodeNotFound
	}

	if security.IsExpired(authCode.ExpiresAt) {
		return nil, fmt.Errorf("%w: authorization code expired", storage.ErrCodeNotFound)
	}

	codeCopy := *authCode
	return &codeCopy, nil
}

// ConsumeAuthorizationCode atomically checks that a code is unused and marks
// it used. Only ONE concurrent caller can succeed; the check and the mark
// happen under the same write lock.
//
// The record is returned alongside ErrCodeAlreadyUsed on reuse so the caller
// can revoke tokens minted from the code. For not-found and expired, nil is
// returned to prevent information leakage.
func (s *Store) ConsumeAuthorizationCode(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
	ctx, span := s.startStorageSpan(ctx, "consume_authorization_code")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() {
		s.recordStorageOperation(ctx, span, "consume_authorization_code", err, startTime)
	}()

	s.mu.Lock() // write lock required for the atomic check-and-mark
	defer s.mu.Unlock()

	authCode, ok := s.authCodes[code]
	if !ok {
		err = storage.ErrCodeNotFound
		return nil, err
	}

	if security.IsExpired(authCode.ExpiresAt) {
		err = fmt.Errorf("%w: authorization code expired", storage.ErrCodeNotFound)
		return nil, err
	}

	if authCode.Used {
		err = storage.ErrCodeAlreadyUsed
		codeCopy := *authCode
		return &codeCopy, err
	}

	authCode.Used = true
	s.logger.Debug("Marked authorization code as used",
		"code_prefix", util.SafeTruncate(code, credentialLogLength))

	codeCopy := *authCode
	return &codeCopy, nil
}

// DeleteAuthorizationCode removes an authorization code
func (s *Store) DeleteAuthorizationCode(ctx context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, existed := s.authCodes[code]; existed {
		delete(s.authCodes, code)
		s.codesCount.Add(-1)
	}
	return nil
}

// ============================================================
// TokenStore Implementation
// ============================================================

// SaveToken saves an issued token pair and indexes its refresh token
func (s *Store) SaveToken(ctx context.Context, token *storage.Token) error {
	ctx, span := s.startStorageSpan(ctx, "save_token")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() {
		s.recordStorageOperation(ctx, span, "save_token", err, startTime)
	}()

	if token == nil || token.AccessToken == "" {
		err = fmt.Errorf("invalid token")
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, existed := s.tokens[token.AccessToken]
	s.tokens[token.AccessToken] = token
	if token.RefreshToken != "" {
		s.refreshIndex[token.RefreshToken] = token.AccessToken
	}
	if !existed {
		s.tokensCount.Add(1)
	}

	s.logger.Debug("Saved token pair",
		"client_id", token.ClientID,
		"token_prefix", util.SafeTruncate(token.AccessToken, credentialLogLength))
	return nil
}

// GetTokenByAccess retrieves a token pair by access token value.
// An access token expired beyond the clock skew grace is treated as absent.
func (s *Store) GetTokenByAccess(ctx context.Context, accessToken string) (*storage.Token, error) {
	ctx, span := s.startStorageSpan(ctx, "get_token")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() {
		s.recordStorageOperation(ctx, span, "get_token", err, startTime)
	}()

	s.mu.RLock()
	defer s.mu.RUnlock()

	token, ok := s.tokens[accessToken]
	if !ok {
		err = storage.ErrTokenNotFound
		return nil, err
	}

	if security.IsExpiredWithGracePeriod(token.ExpiresAt, security.DefaultClockSkewGracePeriod) {
		err = fmt.Errorf("%w: access token expired", storage.ErrTokenExpired)
		return nil, err
	}

	tokenCopy := *token
	return &tokenCopy, nil
}

// GetTokenByRefresh retrieves a token pair by refresh token value
func (s *Store) GetTokenByRefresh(ctx context.Context, refreshToken string) (*storage.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	token, err := s.lookupByRefresh(refreshToken)
	if err != nil {
		return nil, err
	}

	tokenCopy := *token
	return &tokenCopy, nil
}

// lookupByRefresh resolves a refresh token to its record. Caller holds a lock.
func (s *Store) lookupByRefresh(refreshToken string) (*storage.Token, error) {
	accessToken, ok := s.refreshIndex[refreshToken]
	if !ok {
		return nil, storage.ErrTokenNotFound
	}
	token, ok := s.tokens[accessToken]
	if !ok {
		return nil, storage.ErrTokenNotFound
	}
	if security.IsExpired(token.RefreshExpiresAt) {
		return nil, fmt.Errorf("%w: refresh token expired", storage.ErrTokenExpired)
	}
	return token, nil
}

// RevokeAccessToken marks the access token of a pair as revoked
func (s *Store) RevokeAccessToken(ctx context.Context, accessToken string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	token, ok := s.tokens[accessToken]
	if !ok {
		return storage.ErrTokenNotFound
	}

	token.Revoked = true
	s.logger.Debug("Revoked access token",
		"client_id", token.ClientID,
		"token_prefix", util.SafeTruncate(accessToken, credentialLogLength))
	return nil
}

// RevokeRefreshToken marks the refresh token revoked and cascades to the
// paired access token
func (s *Store) RevokeRefreshToken(ctx context.Context, refreshToken string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	accessToken, ok := s.refreshIndex[refreshToken]
	if !ok {
		return storage.ErrTokenNotFound
	}
	token, ok := s.tokens[accessToken]
	if !ok {
		return storage.ErrTokenNotFound
	}

	token.RefreshRevoked = true
	token.Revoked = true
	s.logger.Debug("Revoked refresh token with access cascade",
		"client_id", token.ClientID)
	return nil
}

// ConsumeRefreshToken atomically retrieves a token pair by refresh token and
// marks the refresh token revoked so the caller can rotate it. Only ONE
// concurrent caller can succeed.
//
// The record is returned alongside ErrTokenNotFound when the refresh token
// was already consumed, so the caller can treat the reuse as a theft signal.
func (s *Store) ConsumeRefreshToken(ctx context.Context, refreshToken string) (*storage.Token, error) {
	ctx, span := s.startStorageSpan(ctx, "consume_refresh_token")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() {
		s.recordStorageOperation(ctx, span, "consume_refresh_token", err, startTime)
	}()

	s.mu.Lock() // write lock required for the atomic get-and-revoke
	defer s.mu.Unlock()

	token, lookupErr := s.lookupByRefresh(refreshToken)
	if lookupErr != nil {
		err = lookupErr
		return nil, err
	}

	if token.RefreshRevoked {
		err = fmt.Errorf("%w: refresh token already used", storage.ErrTokenNotFound)
		tokenCopy := *token
		return &tokenCopy, err
	}

	token.RefreshRevoked = true
	s.logger.Debug("Atomically consumed refresh token",
		"client_id", token.ClientID)

	tokenCopy := *token
	return &tokenCopy, nil
}

// RevokeTokensForCode revokes every token pair minted from the given
// authorization code. Called when code replay is detected.
func (s *Store) RevokeTokensForCode(ctx context.Context, codeID string) (int, error) {
	if codeID == "" {
		return 0, fmt.Errorf("codeID cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	revoked := 0
	for _, token := range s.tokens {
		if token.CodeID == codeID && (!token.Revoked || !token.RefreshRevoked) {
			token.Revoked = true
			token.RefreshRevoked = true
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
	s.mu.Lock()
	defer s.mu.Unlock()

	token, existed := s.tokens[accessToken]
	if !existed {
		return nil
	}

	if token.RefreshToken != "" && s.refreshIndex[token.RefreshToken] == accessToken {
		delete(s.refreshIndex, token.RefreshToken)
	}
	delete(s.tokens, accessToken)
	s.tokensCount.Add(-1)

	s.logger.Debug("Deleted token pair",
		"token_prefix", util.SafeTruncate(accessToken, credentialLogLength))
	return nil
}

// ============================================================
// Cleanup
// ============================================================

func (s *Store) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCleanup:
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}

// cleanup sweeps expired records. Expiry is already enforced lazily at read
// time; the sweeper only reclaims memory.
func (s *Store) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	cleaned := 0

	for id, req := range s.authRequests {
		if security.IsExpired(req.ExpiresAt) {
			delete(s.authRequests, id)
			s.requestsCount.Add(-1)
			cleaned++
		}
	}

	for code, authCode := range s.authCodes {
		if security.IsExpired(authCode.ExpiresAt) {
			delete(s.authCodes, code)
			s.codesCount.Add(-1)
			cleaned++
		}
	}

	// A token pair is reclaimed once the access token is expired and no
	// usable refresh token remains
	for accessToken, token := range s.tokens {
		if !security.IsExpired(token.ExpiresAt) {
			continue
		}
		refreshLive := token.RefreshToken != "" &&
			!token.RefreshRevoked &&
			!security.IsExpired(token.RefreshExpiresAt)
		if refreshLive {
			continue
		}
		if token.RefreshToken != "" && s.refreshIndex[token.RefreshToken] == accessToken {
			delete(s.refreshIndex, token.RefreshToken)
		}
		delete(s.tokens, accessToken)
		s.tokensCount.Add(-1)
		cleaned++
	}

	if cleaned > 0 {
		s.logger.Debug("Cleaned up expired entries", "count", cleaned)
	}
}

// ============================================================
// Instrumentation Helpers
// ============================================================

// startStorageSpan starts a new span for a storage operation
func (s *Store) startStorageSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	if s.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}

	return s.tracer.Start(ctx, fmt.Sprintf("storage.%s", operation),
		trace.WithAttributes(
			attribute.String("operation", operation),
		))
}

// recordStorageOperation records metrics for a storage operation and sets span status
func (s *Store) recordStorageOperation(ctx context.Context, span trace.Span, operation string, err error, startTime time.Time) {
	if s.instrumentation == nil {
		return
	}

	durationMs := float64(time.Since(startTime).Milliseconds())
	result := "success"
	if err != nil {
		result = "error"
		if span != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	} else if span != nil {
		span.SetStatus(codes.Ok, "")
	}

	s.instrumentation.Metrics().RecordStorageOperation(ctx, operation, result, durationMs)
}
