package util

import (
	"math"
	"time"
)

const (
	maxTunnelBackoffSeconds = 60
	maxTunnelBackoffShift   = 6
)

// TunnelRetryBackoff computes the tunnel supervisor's sleep after a
// failed connection attempt. Doubles per consecutive failure
// (1, 2, 4, ... seconds) and is capped at 60s.
func TunnelRetryBackoff(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	shift := retryCount
	if shift > maxTunnelBackoffShift {
		shift = maxTunnelBackoffShift
	}
	seconds := 1 << shift
	if seconds > maxTunnelBackoffSeconds {
		seconds = maxTunnelBackoffSeconds
	}
	if seconds < 1 {
		seconds = 1
	}
	return time.Duration(seconds) * time.Second
}

// CalculateExponentialBackoff computes exponential backoff with optional jitter.
// Formula: baseDelay * 2^(attempt-1), capped at maxDelay
func CalculateExponentialBackoff(attempt int, baseDelay time.Duration, maxDelay time.Duration, jitterPercent float64) time.Duration {
	if attempt <= 0 {
		return 0
	}

	backoff := float64(baseDelay) * math.Pow(2, float64(attempt-1))

	if backoff > float64(maxDelay) {
		backoff = float64(maxDelay)
	}

	if jitterPercent > 0 {
		// Time-based pseudo-random avoids import of math/rand
		pseudoRandom := float64(time.Now().UnixNano()%1000) / 1000.0
		jitter := backoff * jitterPercent * (pseudoRandom - 0.5)
		backoff += jitter
	}

	return time.Duration(backoff)
}
