// Package reliability classifies transient upstream failures and computes
// retry backoff for the model leg.
package reliability

import "time"

// IsRetryableHTTPStatus classifies handshake status codes worth retrying.
// A 4xx other than 429 means the request itself is wrong; retrying would
// only repeat the rejection.
func IsRetryableHTTPStatus(code int) bool {
	switch code {
	case 0, 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// IsRetryableModelErrorCode classifies realtime error codes that indicate a
// transient upstream condition rather than a broken session.
func IsRetryableModelErrorCode(code string) bool {
	switch code {
	case "rate_limited", "rate_limit_exceeded", "server_error", "session_expired":
		return true
	default:
		return false
	}
}

// ExponentialBackoff computes a deterministic capped backoff duration.
func ExponentialBackoff(attempt int, base, cap time.Duration) time.Duration {
	if attempt <= 0 {
		return base
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= cap {
			return cap
		}
	}
	return d
}
