package streamclient

import "time"

// Backoff computes reconnect delays. The delay grows geometrically
// from Initial up to Max; MaxAttempts bounds consecutive failures
// before the supervisor gives up.
type Backoff struct {
	Initial     time.Duration
	Max         time.Duration
	Multiplier  float64
	MaxAttempts int
}

// DefaultBackoff matches the reconnect policy browsers get.
func DefaultBackoff() Backoff {
	return Backoff{
		Initial:     time.Second,
		Max:         30 * time.Second,
		Multiplier:  2.0,
		MaxAttempts: 5,
	}
}

// Delay returns the wait before reconnect attempt n, counted from 1.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt <= 1 {
		return b.Initial
	}

	d := b.Initial
	for i := 1; i < attempt; i++ {
		d = time.Duration(float64(d) * b.Multiplier)
		if d >= b.Max {
			return b.Max
		}
	}
	return d
}

// Exhausted reports whether attempt n exceeds the attempt budget.
func (b Backoff) Exhausted(attempt int) bool {
	return b.MaxAttempts > 0 && attempt > b.MaxAttempts
}
