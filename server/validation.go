package server

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/parkgate-io/authcore/internal/util"
	"github.com/parkgate-io/authcore/storage"
)

// URI scheme constants
const (
	SchemeHTTP  = "http"
	SchemeHTTPS = "https"
)

// DangerousSchemes lists URI schemes that must never be allowed for security
var DangerousSchemes = []string{"javascript", "data", "file", "vbscript", "about"}

// validateRedirectURI validates that a redirect URI is an exact registered
// match for the client. Matching is byte-exact: no prefix, host, or path
// normalization.
func validateRedirectURI(client *storage.Client, redirectURI string) error {
	if redirectURI == "" {
		return fmt.Errorf("redirect_uri is required")
	}

	for _, uri := range client.RedirectURIs {
		if uri == redirectURI {
			return nil
		}
	}
	return fmt.Errorf("redirect URI not registered for client")
}

// validateRedirectURISecurity performs security validation on a redirect URI
// at registration time, per OAuth 2.0 Security Best Current Practice.
func validateRedirectURISecurity(redirectURI, serverIssuer string) error {
	parsed, err := url.Parse(redirectURI)
	if err != nil {
		return fmt.Errorf("invalid redirect_uri format: %w", err)
	}

	// OAuth 2.0 Security BCP Section 4.1.3: redirect_uri MUST NOT contain fragments
	if parsed.Fragment != "" {
		return fmt.Errorf("redirect_uri must not contain fragments (security risk)")
	}

	scheme := strings.ToLower(parsed.Scheme)
	if scheme == "" {
		return fmt.Errorf("redirect_uri missing scheme: %s", redirectURI)
	}

	for _, dangerous := range DangerousSchemes {
		if scheme == dangerous {
			return fmt.Errorf("redirect_uri scheme %q is not allowed for security reasons", scheme)
		}
	}

	if scheme == SchemeHTTP || scheme == SchemeHTTPS {
		hostname := strings.ToLower(parsed.Hostname())
		if hostname == "" {
			return fmt.Errorf("redirect_uri missing host")
		}

		// Plain HTTP is only acceptable on loopback (native app dev flows).
		// When the server itself runs over HTTPS, non-loopback HTTP redirect
		// targets would downgrade the code in transit.
		if scheme == SchemeHTTP && !isLoopbackAddress(hostname) {
			if serverParsed, err := url.Parse(serverIssuer); err == nil && serverParsed.Scheme == SchemeHTTPS {
				return fmt.Errorf("redirect_uri must use HTTPS in production (got %s://)", scheme)
			}
		}
	}
	// Custom schemes (native/mobile apps) pass through once the dangerous
	// list is cleared; exact-match registration is the primary control.

	return nil
}

// isLoopbackAddress checks if a hostname is a loopback address
func isLoopbackAddress(hostname string) bool {
	hostname = strings.Trim(hostname, "[]")
	if hostname == "localhost" {
		return true
	}
	if ip := net.ParseIP(hostname); ip != nil {
		return ip.IsLoopback()
	}
	return false
}

// validateScopes validates requested scopes against the server allowlist
func (s *Server) validateScopes(scope string) error {
	// If no scopes configured, allow all
	if len(s.Config.SupportedScopes) == 0 {
		return nil
	}
	if scope == "" {
		return nil // Empty scope is allowed
	}

	for _, reqScope := range strings.Fields(scope) {
		found := false
		for _, supportedScope := range s.Config.SupportedScopes {
			if reqScope == supportedScope {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("unsupported scope: %s", reqScope)
		}
	}

	return nil
}

// validateClientScopes validates that requested scopes are within the
// client's registered scope. Prevents scope escalation where a client
// requests access beyond what it registered for.
//
// Behavior:
// - If client.Scopes is empty: allow all scopes (unrestricted client)
// - Otherwise: requested scopes MUST be a subset of registered scopes
// - Empty requested scope string is always allowed
func (s *Server) validateClientScopes(requestedScope string, clientScopes []string) error {
	if len(clientScopes) == 0 {
		return nil
	}
	if requestedScope == "" {
		return nil
	}

	if !util.ScopeSubset(requestedScope, strings.Join(clientScopes, " ")) {
		// Generic error text: naming the offending scope would let clients
		// fingerprint the registered scope set
		return fmt.Errorf("client is not authorized for one or more requested scopes")
	}

	return nil
}
