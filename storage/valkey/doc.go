// Package valkey provides a Valkey storage backend for the authorization
// server.
//
// Valkey is a high-performance key-value store that is wire-compatible with
// Redis. This package implements all storage interfaces, making it suitable
// for deployments that require:
//
//   - Distributed storage for horizontal scaling
//   - Persistence across server restarts
//   - Automatic TTL-based expiration
//   - High availability with clustering
//
// # Implemented Interfaces
//
// The Store type implements all four storage interfaces:
//
//   - [storage.ClientStore]: registered client records and per-IP limits
//   - [storage.UserStore]: user records with a username index
//   - [storage.FlowStore]: pending authorization requests and codes
//   - [storage.TokenStore]: issued token pairs with a refresh index
//
// # Key Schema
//
// All keys use a configurable prefix (default "authcore:") to avoid
// conflicts with other applications sharing the same Valkey instance:
//
//	{prefix}client:{clientID}     -> JSON(Client)
//	{prefix}client:ip:{ip}        -> registration count (with TTL)
//	{prefix}user:{userID}         -> JSON(User)
//	{prefix}user:name:{username}  -> userID
//	{prefix}request:{requestID}   -> JSON(AuthorizationRequest) (with TTL)
//	{prefix}code:{code}           -> JSON(AuthorizationCode) (with TTL)
//	{prefix}token:{accessToken}   -> JSON(Token) (with TTL)
//	{prefix}refresh:{token}       -> accessToken (with TTL)
//	{prefix}codetokens:{codeID}   -> SET of access tokens (with TTL)
//
// # Atomic Operations
//
// Two flows must be atomic to keep their single-use guarantees under
// concurrent redemption:
//
//   - ConsumeAuthorizationCode: prevents authorization code replay
//   - ConsumeRefreshToken: prevents refresh token reuse after rotation
//
// Both run as Lua scripts so only one concurrent caller can succeed, giving
// the same guarantees as the in-memory implementation. Revocation flag
// updates also run server-side so they cannot race the consume scripts.
//
// # Configuration
//
// Basic usage:
//
//	store, err := valkey.New(valkey.Config{
//	    Address:   "localhost:6379",
//	    KeyPrefix: "authcore:",
//	})
//
// With TLS:
//
//	store, err := valkey.New(valkey.Config{
//	    Address:  "valkey.example.com:6379",
//	    Password: os.Getenv("VALKEY_PASSWORD"),
//	    TLS:      &tls.Config{MinVersion: tls.VersionTLS12},
//	})
//
// # Encryption at Rest
//
// Token values inside stored records and user contact attributes can be
// encrypted before writing:
//
//	key, _ := security.GenerateKey()
//	encryptor, _ := security.NewEncryptor(key)
//	store.SetEncryptor(encryptor)
//
// When enabled, the values are encrypted with AES-256-GCM before storage and
// decrypted when retrieved. The record keys and the refresh index stay
// plaintext because they are the lookups.
package valkey
