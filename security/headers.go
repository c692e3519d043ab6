package security

import (
	"net/http"
	"net/url"
)

// SetSecurityHeaders sets the standard security headers on responses from
// authorization endpoints: no framing, no sniffing, no caching, no referrer
// leakage. HSTS is added only when the issuer is served over HTTPS.
func SetSecurityHeaders(w http.ResponseWriter, issuerURL string) {
	w.Header().Set("X-Frame-Options", "DENY")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
	w.Header().Set("Referrer-Policy", "no-referrer")

	if parsed, err := url.Parse(issuerURL); err == nil && parsed.Scheme == "https" {
		w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
	}

	// OAuth responses carry credentials; they must never be cached
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, private")
	w.Header().Set("Pragma", "no-cache")
}

// SetConsentSecurityHeaders sets security headers for the HTML consent page.
// Identical to SetSecurityHeaders except the CSP permits inline styles and
// same-origin form submission, which the consent template needs. Scripts stay
// blocked.
func SetConsentSecurityHeaders(w http.ResponseWriter, issuerURL string) {
	SetSecurityHeaders(w, issuerURL)
	w.Header().Set("Content-Security-Policy",
		"default-src 'none'; style-src 'unsafe-inline'; form-action 'self'; frame-ancestors 'none'")
}
