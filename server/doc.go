// Package server implements the authorization server core: the client
// registry, the consent-driven authorization code grant, token issuance with
// refresh rotation, bearer token validation, and RFC 7009 revocation.
//
// The package is transport-agnostic. The root package wires these operations
// to HTTP endpoints; tests and embedders can drive them directly. All
// persistent state lives behind the storage interfaces, so any backend that
// honors the atomic-consumption contracts (see storage.FlowStore and
// storage.TokenStore) preserves the single-use guarantees under concurrency.
//
// Error discipline: protocol failures surface as the sentinel errors in
// errors.go with deliberately generic text. Detailed failure reasons go to
// the structured log and the security auditor only, so clients cannot
// enumerate codes, tokens, or registered redirect URIs through error
// responses.
package server
