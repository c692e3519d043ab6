package valkey

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"sync"
	"time"

	valkeygo "github.com/valkey-io/valkey-go"

	"github.com/parkgate-io/authcore/security"
	"github.com/parkgate-io/authcore/storage"
)

const (
	// DefaultKeyPrefix is the default prefix for all Valkey keys
	DefaultKeyPrefix = "authcore:"

	// scanBatchSize is the number of keys to fetch per SCAN iteration
	scanBatchSize = 100

	// connectionVerifyTimeout is the timeout for initial connection verification
	connectionVerifyTimeout = 5 * time.Second
)

// Config holds configuration for the Valkey storage backend.
type Config struct {
	// Address is the Valkey server address (required), e.g., "localhost:6379"
	Address string

	// Password is the optional password for Valkey authentication
	Password string

	// DB is the optional database number (default 0)
	DB int

	// KeyPrefix is the prefix for all keys (default "authcore:")
	KeyPrefix string

	// TLS is the optional TLS configuration for encrypted connections
	TLS *tls.Config

	// Logger is the optional structured logger (default: slog.Default())
	Logger *slog.Logger
}

// Store is a Valkey-backed implementation of all storage interfaces.
// It implements ClientStore, UserStore, FlowStore, and TokenStore.
//
// Record lifetimes ride on server-side TTLs: pending requests, codes, and
// token pairs all expire without a sweeper. Expiry is still double-checked at
// read time so a stale replica or clock drift cannot resurrect a dead record.
type Store struct {
	client valkeygo.Client
	prefix string
	logger *slog.Logger

	// encryptor provides optional at-rest encryption for token and user
	// records. Access must be synchronized via encryptorMu.
	encryptor   *security.Encryptor
	encryptorMu sync.RWMutex
}

// Compile-time interface checks
var (
	_ storage.ClientStore = (*Store)(nil)
	_ storage.UserStore   = (*Store)(nil)
	_ storage.FlowStore   = (*Store)(nil)
	_ storage.TokenStore  = (*Store)(nil)
)

// New creates a new Valkey-backed storage instance.
// Returns an error if the connection cannot be established.
func New(cfg Config) (*Store, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("valkey address is required")
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	opts := valkeygo.ClientOption{
		InitAddress: []string{cfg.Address},
		SelectDB:    cfg.DB,
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	if cfg.TLS != nil {
		opts.TLSConfig = cfg.TLS
	}

	client, err := valkeygo.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create valkey client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectionVerifyTimeout)
	defer cancel()

	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to valkey: %w", err)
	}

	logger.Info("Connected to Valkey storage",
		"address", cfg.Address,
		"db", cfg.DB,
		"prefix", prefix)

	return &Store{
		client: client,
		prefix: prefix,
		logger: logger,
	}, nil
}

// Close closes the Valkey client connection.
func (s *Store) Close() {
	s.client.Close()
	s.logger.Info("Valkey storage connection closed")
}

// SetLogger sets a custom logger for the store.
func (s *Store) SetLogger(logger *slog.Logger) {
	s.logger = logger
}

// SetEncryptor sets the encryptor for at-rest encryption. When set, token
// values inside stored records and user contact attributes are encrypted
// before writing and decrypted on read. The lookup keys stay plaintext.
func (s *Store) SetEncryptor(enc *security.Encryptor) {
	s.encryptorMu.Lock()
	defer s.encryptorMu.Unlock()
	s.encryptor = enc
	if enc != nil && enc.IsEnabled() {
		s.logger.Info("Encryption at rest enabled for Valkey storage")
	}
}

// getEncryptor returns the current encryptor (thread-safe)
func (s *Store) getEncryptor() *security.Encryptor {
	s.encryptorMu.RLock()
	defer s.encryptorMu.RUnlock()
	return s.encryptor
}

// ============================================================
// Key Helpers
// ============================================================

// clientKey returns the key for a client: {prefix}client:{clientID}
func (s *Store) clientKey(clientID string) string {
	return fmt.Sprintf("%sclient:%s", s.prefix, clientID)
}

// clientIPKey returns the key for client IP tracking: {prefix}client:ip:{ip}
func (s *Store) clientIPKey(ip string) string {
	return fmt.Sprintf("%sclient:ip:%s", s.prefix, ip)
}

// userKey returns the key for a user record: {prefix}user:{userID}
func (s *Store) userKey(userID string) string {
	return fmt.Sprintf("%suser:%s", s.prefix, userID)
}

// usernameKey returns the key for a username lookup: {prefix}user:name:{username}
func (s *Store) usernameKey(username string) string {
	return fmt.Sprintf("%suser:name:%s", s.prefix, username)
}

// requestKey returns the key for a pending authorization request:
// {prefix}request:{requestID}
func (s *Store) requestKey(requestID string) string {
	return fmt.Sprintf("%srequest:%s", s.prefix, requestID)
}

// codeKey returns the key for an authorization code: {prefix}code:{code}
func (s *Store) codeKey(code string) string {
	return fmt.Sprintf("%scode:%s", s.prefix, code)
}

// tokenKey returns the key for a token pair record, indexed by access token:
// {prefix}token:{accessToken}
func (s *Store) tokenKey(accessToken string) string {
	return fmt.Sprintf("%stoken:%s", s.prefix, accessToken)
}

// tokenKeyPrefix returns the token key prefix, passed to Lua scripts that
// resolve a refresh token to its record key server-side.
func (s *Store) tokenKeyPrefix() string {
	return s.prefix + "token:"
}

// refreshKey returns the key for the refresh token index:
// {prefix}refresh:{refreshToken} -> accessToken
func (s *Store) refreshKey(refreshToken string) string {
	return fmt.Sprintf("%srefresh:%s", s.prefix, refreshToken)
}

// codeTokensKey returns the key for the code-to-tokens index, used for replay
// defense: {prefix}codetokens:{codeID} -> SET of access tokens
func (s *Store) codeTokensKey(codeID string) string {
	return fmt.Sprintf("%scodetokens:%s", s.prefix, codeID)
}

// ============================================================
// Lua Scripts for Atomic Operations
// ============================================================
//
// These scripts provide the atomicity the storage contract requires for
// security-critical flows: single-use authorization codes and single-use
// refresh tokens. Running them server-side guarantees that under concurrent
// redemption of the same credential at most one caller succeeds.

// luaConsumeAuthorizationCode atomically checks that an authorization code is
// unused and marks it used.
//
// KEYS[1] = code key
// ARGV[1] = current Unix timestamp in seconds
//
// Returns:
//   - the original JSON data if the code was unused and is now marked used
//   - "NOT_FOUND" if the key does not exist
//   - "EXPIRED" if the code has expired
//   - "ALREADY_USED:<json>" if the code was already consumed; the original
//     data rides along so the caller can run replay defense
const luaConsumeAuthorizationCode = `
local data = redis.call('GET', KEYS[1])
if not data then
    return 'NOT_FOUND'
end

local code = cjson.decode(data)

local now = tonumber(ARGV[1])
local expiresAt = tonumber(code.expires_at)
if expiresAt and now > expiresAt then
    return 'EXPIRED'
end

if code.used then
    return 'ALREADY_USED:' .. data
end

code.used = true
redis.call('SET', KEYS[1], cjson.encode(code), 'KEEPTTL')

return data
`

// luaConsumeRefreshToken atomically resolves a refresh token to its token
// pair record and marks the refresh token revoked, implementing refresh
// rotation with reuse detection.
//
// KEYS[1] = refresh index key (refresh token -> access token)
// ARGV[1] = current Unix timestamp in seconds
// ARGV[2] = token key prefix, for resolving the record key server-side
//
// Returns:
//   - the record JSON (pre-mark) on success
//   - "NOT_FOUND" if the refresh token or its record is unknown
//   - "EXPIRED" if the refresh token has expired
//   - "ALREADY_USED:<json>" if the refresh token was already consumed; the
//     record rides along so the caller can treat the reuse as a theft signal
const luaConsumeRefreshToken = `
local accessToken = redis.call('GET', KEYS[1])
if not accessToken then
    return 'NOT_FOUND'
end

local tokenKey = ARGV[2] .. accessToken
local data = redis.call('GET', tokenKey)
if not data then
    return 'NOT_FOUND'
end

local token = cjson.decode(data)

local now = tonumber(ARGV[1])
local refreshExpiresAt = tonumber(token.refresh_expires_at)
if refreshExpiresAt and refreshExpiresAt > 0 and now > refreshExpiresAt then
    return 'EXPIRED'
end

if token.refresh_revoked then
    return 'ALREADY_USED:' .. data
end

token.refresh_revoked = true
redis.call('SET', tokenKey, cjson.encode(token), 'KEEPTTL')

return data
`

// luaMarkTokenRevoked atomically sets revocation flags on a token pair
// record. A plain read-modify-write would race with the consume script.
//
// KEYS[1] = token key
// ARGV[1] = mode: "access", "refresh", or "both"
//
// Returns "OK" if a flag changed, "UNCHANGED" if the requested flags were
// already set, "NOT_FOUND" if the record does not exist.
const luaMarkTokenRevoked = `
local data = redis.call('GET', KEYS[1])
if not data then
    return 'NOT_FOUND'
end

local token = cjson.decode(data)
local changed = false

if ARGV[1] == 'access' or ARGV[1] == 'both' then
    if not token.revoked then
        token.revoked = true
        changed = true
    end
end
if ARGV[1] == 'refresh' or ARGV[1] == 'both' then
    if not token.refresh_revoked then
        token.refresh_revoked = true
        changed = true
    end
end

if not changed then
    return 'UNCHANGED'
end

redis.call('SET', KEYS[1], cjson.encode(token), 'KEEPTTL')
return 'OK'
`

// ============================================================
// Helpers
// ============================================================

// isNilError checks if the error indicates a nil/not-found result from Valkey.
func isNilError(err error) bool {
	return valkeygo.IsValkeyNil(err)
}

// wrapUnavailable marks a failed Valkey round trip as a backend outage so the
// caller surfaces it as a temporary failure, never a protocol error.
func wrapUnavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", storage.ErrUnavailable, op, err)
}

// calculateTTL calculates the TTL for a key based on expiry time.
// Returns 0 if the key has already expired.
func calculateTTL(expiresAt time.Time) time.Duration {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return 0
	}
	return ttl
}
