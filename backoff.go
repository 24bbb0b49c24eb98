package gosocketio

import (
	"math"
	"math/rand/v2"
	"sync"
	"time"
)

// Backoff computes reconnection delays: Min * Factor^attempt, spread by
// Jitter and capped at Max.
type Backoff struct {
	Min    time.Duration
	Max    time.Duration
	Factor float64
	// Jitter in [0, 1) randomizes each delay by up to that fraction.
	Jitter float64

	mu       sync.Mutex
	attempts int
}

// NewBackoff returns a Backoff with the reconnection defaults applied
// to unset fields.
func NewBackoff(minDelay, maxDelay time.Duration, jitter float64) *Backoff {
	if minDelay <= 0 {
		minDelay = time.Second
	}
	if maxDelay < minDelay {
		maxDelay = minDelay
	}
	if jitter < 0 || jitter >= 1 {
		jitter = 0
	}
	return &Backoff{Min: minDelay, Max: maxDelay, Factor: 2, Jitter: jitter}
}

// Duration returns the delay for the next attempt and counts it.
func (b *Backoff) Duration() time.Duration {
	b.mu.Lock()
	attempt := b.attempts
	b.attempts++
	b.mu.Unlock()

	ms := float64(b.Min) * math.Pow(b.Factor, float64(attempt))
	if b.Jitter > 0 {
		r := rand.Float64()
		deviation := math.Floor(r * b.Jitter * ms)
		if int(math.Floor(r*10))&1 == 0 {
			ms -= deviation
		} else {
			ms += deviation
		}
	}

	if ms > float64(b.Max) || math.IsInf(ms, 0) {
		return b.Max
	}
	return time.Duration(ms)
}

// Attempts returns how many delays were handed out since the last Reset.
func (b *Backoff) Attempts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts
}

// Reset starts over from Min.
func (b *Backoff) Reset() {
	b.mu.Lock()
	b.attempts = 0
	b.mu.Unlock()
}
