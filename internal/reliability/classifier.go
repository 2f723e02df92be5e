package reliability

import (
	"math/rand"
	"time"
)

// IsRetryableHTTPStatus classifies retryable HTTP status codes, e.g. on the
// websocket handshake or a ledger call.
func IsRetryableHTTPStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// IsRetryableProtocolCode classifies endpoint error codes that indicate a
// transient server condition rather than a broken session.
func IsRetryableProtocolCode(code string) bool {
	switch code {
	case "rate_limited", "resource_exhausted", "server_error", "session_expired":
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

// Jitter adds up to frac of random slack on top of d. The result never
// drops below d, so a sequence of backoff delays stays non-decreasing in
// its deterministic component.
func Jitter(d time.Duration, frac float64) time.Duration {
	if frac <= 0 || d <= 0 {
		return d
	}
	if frac > 1 {
		frac = 1
	}
	return d + time.Duration(rand.Float64()*frac*float64(d))
}
