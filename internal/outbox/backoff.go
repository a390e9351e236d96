package outbox

import (
	"strconv"
	"time"
)

const jitterFraction = 0.2

// nominalDelay doubles base once per prior attempt and never exceeds max.
func nominalDelay(attempts int, base, max time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	if attempts < 1 {
		attempts = 1
	}
	d := base
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}

// Backoff is the nominal delay with +-20% jitter, clamped to max. r is a
// uniform sample in [0, 1); r = 0.5 yields the nominal delay.
func Backoff(attempts int, base, max time.Duration, r float64) time.Duration {
	d := nominalDelay(attempts, base, max)
	factor := 1 + (2*r-1)*jitterFraction
	out := time.Duration(float64(d) * factor)
	if out > max {
		out = max
	}
	if out < 0 {
		out = 0
	}
	return out
}

func atoiOr(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
