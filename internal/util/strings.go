// Package util provides small helpers shared across the authcore library:
// string manipulation for log-safe output and scope list handling.
package util

import "strings"

// SafeTruncate truncates a string to maxLen characters without panicking.
// Used when logging credential prefixes, where only the first few characters
// may appear. Negative maxLen returns an empty string.
func SafeTruncate(s string, maxLen int) string {
	if maxLen < 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}

// ScopeList splits a space-delimited scope string into its entries,
// dropping empty fields.
func ScopeList(scope string) []string {
	return strings.Fields(scope)
}

// ScopeContains reports whether a space-delimited scope string contains the
// given entry. This is the membership check used for resource protection:
// exact entry match, no hierarchy.
func ScopeContains(scope, required string) bool {
	if required == "" {
		return true
	}
	for _, s := range strings.Fields(scope) {
		if s == required {
			return true
		}
	}
	return false
}

// ScopeSubset reports whether every entry of the requested scope string
// appears in the allowed scope string.
func ScopeSubset(requested, allowed string) bool {
	allowedSet := make(map[string]struct{})
	for _, s := range strings.Fields(allowed) {
		allowedSet[s] = struct{}{}
	}
	for _, s := range strings.Fields(requested) {
		if _, ok := allowedSet[s]; !ok {
			return false
		}
	}
	return true
}
