package util

import "testing"

func TestSafeTruncate(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		maxLen int
		want   string
	}{
		{"longer than max", "very-long-token-abc123", 8, "very-lon"},
		{"shorter than max", "short", 10, "short"},
		{"exact length", "exact", 5, "exact"},
		{"zero max", "anything", 0, ""},
		{"negative max", "test", -1, ""},
		{"empty input", "", 5, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SafeTruncate(tt.input, tt.maxLen); got != tt.want {
				t.Errorf("SafeTruncate(%q, %d) = %q, want %q", tt.input, tt.maxLen, got, tt.want)
			}
		})
	}
}

func TestScopeContains(t *testing.T) {
	tests := []struct {
		name     string
		scope    string
		required string
		want     bool
	}{
		{"present", "openid profile email", "profile", true},
		{"absent", "openid email", "profile", false},
		{"empty required", "openid", "", true},
		{"empty scope", "", "profile", false},
		{"no partial match", "profiles", "profile", false},
		{"single entry", "profile", "profile", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ScopeContains(tt.scope, tt.required); got != tt.want {
				t.Errorf("ScopeContains(%q, %q) = %v, want %v", tt.scope, tt.required, got, tt.want)
			}
		})
	}
}

func TestScopeSubset(t *testing.T) {
	tests := []struct {
		name      string
		requested string
		allowed   string
		want      bool
	}{
		{"strict subset", "profile", "profile email", true},
		{"equal sets", "profile email", "email profile", true},
		{"exceeds allowed", "profile admin", "profile email", false},
		{"empty requested", "", "profile", true},
		{"empty allowed", "profile", "", false},
		{"both empty", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ScopeSubset(tt.requested, tt.allowed); got != tt.want {
				t.Errorf("ScopeSubset(%q, %q) = %v, want %v", tt.requested, tt.allowed, got, tt.want)
			}
		})
	}
}
