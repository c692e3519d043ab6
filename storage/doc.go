// Package storage provides interfaces and utilities for OAuth client, user,
// token, and flow persistence.
//
// The storage package defines the core storage interfaces used throughout the
// authcore library:
//   - ClientStore: Manages registered OAuth clients
//   - UserStore: Manages user records owned by the identity subsystem
//   - FlowStore: Manages pending authorization requests and single-use codes
//   - TokenStore: Manages issued access/refresh token pairs
//
// This package also provides shared types and utility functions used by
// storage implementations, including encryption helpers for sensitive record
// fields.
//
// Implementations are provided in subpackages:
//   - storage/memory: In-memory storage for development and testing
//   - storage/valkey: Valkey/Redis-compatible distributed storage for production
package storage
