package bus

import (
	"math"
	"math/rand"
	"time"
)

// Backoff spaces out socket re-open attempts after a receive failure.
type Backoff struct {
	Initial time.Duration
	Factor  float64
	Max     time.Duration
	Jitter  bool
}

// DefaultBackoff starts at 250ms and doubles up to 5s with jitter.
func DefaultBackoff() Backoff {
	return Backoff{
		Initial: 250 * time.Millisecond,
		Factor:  2.0,
		Max:     5 * time.Second,
		Jitter:  true,
	}
}

// Delay returns the wait before re-open attempt n (1-based).
func (b Backoff) Delay(n int, rng *rand.Rand) time.Duration {
	if b.Initial <= 0 {
		return 0
	}
	if n <= 1 {
		return b.Initial
	}
	factor := math.Max(b.Factor, 1.0)
	d := float64(b.Initial) * math.Pow(factor, float64(n-1))
	if b.Max > 0 {
		d = math.Min(d, float64(b.Max))
	}
	if b.Jitter {
		scale := 0.5
		if rng != nil {
			scale += rng.Float64()
		}
		d *= scale
	}
	return time.Duration(d)
}
