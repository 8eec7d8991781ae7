// Package backoff computes retry delays and runs retry loops for tool
// server calls and provider requests.
package backoff

import (
	"math"
	"math/rand"
	"time"
)

// Policy describes how long to wait between attempts.
type Policy struct {
	// Initial is the delay after the first failed attempt.
	Initial time.Duration
	// Max caps any single delay. Zero means no cap.
	Max time.Duration
	// Factor multiplies the delay for each further attempt. Values below 1
	// are treated as 1.
	Factor float64
	// Jitter adds up to Jitter*delay of random extra wait (0.0 to 1.0).
	Jitter float64
}

// Fixed returns a policy that waits d between every attempt.
func Fixed(d time.Duration) Policy {
	return Policy{Initial: d, Max: d, Factor: 1}
}

// Exponential returns the policy used for provider requests.
// Initial: 500ms, Max: 20s, Factor: 2, Jitter: 20%
func Exponential() Policy {
	return Policy{
		Initial: 500 * time.Millisecond,
		Max:     20 * time.Second,
		Factor:  2,
		Jitter:  0.2,
	}
}

// Delay returns the wait before attempt+1, where attempt is the 1-based
// number of the attempt that just failed.
func (p Policy) Delay(attempt int) time.Duration {
	return p.delayWithRand(attempt, rand.Float64()) // #nosec G404 -- jitter does not require cryptographic randomness
}

func (p Policy) delayWithRand(attempt int, r float64) time.Duration {
	if p.Initial <= 0 {
		return 0
	}
	factor := math.Max(p.Factor, 1)
	exp := math.Max(float64(attempt-1), 0)

	base := float64(p.Initial) * math.Pow(factor, exp)
	total := base + base*p.Jitter*r
	if p.Max > 0 {
		total = math.Min(total, float64(p.Max))
	}
	return time.Duration(math.Round(total))
}
