package channel

import (
	"math"
	"math/rand"
	"time"
)

// BackoffPolicy paces reconnection attempts after transient disconnects.
// Attempts are unbounded; only the rate is capped.
type BackoffPolicy struct {
	Initial time.Duration
	Max     time.Duration
	Factor  float64
	Jitter  float64
}

// DefaultBackoff returns the reconnect pacing used in production:
// 2s initial, 30s cap, doubling, 10% jitter.
func DefaultBackoff() BackoffPolicy {
	return BackoffPolicy{
		Initial: 2 * time.Second,
		Max:     30 * time.Second,
		Factor:  2,
		Jitter:  0.1,
	}
}

// Delay computes the wait before the given attempt (starting at 1).
func (p BackoffPolicy) Delay(attempt int) time.Duration {
	return p.delayWithRand(attempt, rand.Float64()) // #nosec G404 -- jitter needs no crypto randomness
}

// delayWithRand takes the random value explicitly for deterministic tests.
func (p BackoffPolicy) delayWithRand(attempt int, random float64) time.Duration {
	policy := p
	if policy.Initial <= 0 {
		policy.Initial = DefaultBackoff().Initial
	}
	if policy.Max <= 0 {
		policy.Max = DefaultBackoff().Max
	}
	if policy.Factor <= 0 {
		policy.Factor = DefaultBackoff().Factor
	}

	exp := math.Max(float64(attempt-1), 0)
	base := float64(policy.Initial) * math.Pow(policy.Factor, exp)
	jitter := base * policy.Jitter * random
	total := math.Min(float64(policy.Max), base+jitter)
	return time.Duration(total)
}
