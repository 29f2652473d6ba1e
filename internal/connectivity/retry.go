package connectivity

import (
	"math"
	"time"
)

// BackoffPolicy widens the probe interval while the endpoint keeps failing.
type BackoffPolicy struct {
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// NextDelay returns the delay for a given failure streak (1-based) with clamping.
func (r BackoffPolicy) NextDelay(streak int) time.Duration {
	if streak < 1 {
		streak = 1
	}
	if r.InitialDelay <= 0 {
		r.InitialDelay = time.Second
	}
	if r.BackoffFactor <= 0 {
		r.BackoffFactor = 2
	}

	delay := float64(r.InitialDelay) * math.Pow(r.BackoffFactor, float64(streak-1))
	d := time.Duration(delay)
	if r.MaxDelay > 0 && d > r.MaxDelay {
		d = r.MaxDelay
	}
	if d <= 0 {
		d = time.Second
	}
	return d
}
