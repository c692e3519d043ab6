package security

import "time"

// DefaultClockSkewGracePeriod is the default grace period applied to expiry
// checks. It absorbs NTP drift between the server and whatever minted or
// stored the record, at the cost of honoring a token for up to this long past
// its true expiry. High-security deployments can reduce it via configuration.
const DefaultClockSkewGracePeriod = 5 * time.Second

// IsExpired checks whether an absolute expiry has passed, using the default
// clock skew grace period. A zero time means no expiration.
func IsExpired(expiresAt time.Time) bool {
	return IsExpiredWithGracePeriod(expiresAt, DefaultClockSkewGracePeriod)
}

// IsExpiredWithGracePeriod checks whether an absolute expiry has passed,
// treating the record as live until expiresAt+gracePeriod.
func IsExpiredWithGracePeriod(expiresAt time.Time, gracePeriod time.Duration) bool {
	if expiresAt.IsZero() {
		return false
	}
	return time.Now().After(expiresAt.Add(gracePeriod))
}
