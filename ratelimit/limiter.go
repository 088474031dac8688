// Package ratelimit provides the bandwidth shaper applied to outbound
// payload writes.
package ratelimit

import (
	"context"

	"golang.org/x/time/rate"
)

// Limiter caps the rate at which payload bytes may be emitted. It wraps a
// token bucket whose burst is a single write quantum, so a caller that emits
// faster than the configured rate blocks until the deficit drains. A nil
// Limiter performs no throttling.
type Limiter struct {
	// limiter is the underlying token bucket.
	limiter *rate.Limiter
	// quantum is the maximum number of bytes charged per reservation.
	quantum int
}

const (
	// throttleQuantum bounds the size of a single reservation. Larger writes
	// are charged in quantum-sized slices so that the bucket's burst stays
	// small and no meaningful credit accumulates beyond one call.
	throttleQuantum = 64 * 1024
)

// NewLimiter creates a limiter that allows bytesPerSecond bytes per second.
// A non-positive rate yields a nil limiter (no throttling).
func NewLimiter(bytesPerSecond int64) *Limiter {
	if bytesPerSecond <= 0 {
		return nil
	}
	quantum := throttleQuantum
	if int64(quantum) > bytesPerSecond {
		quantum = int(bytesPerSecond)
	}
	return &Limiter{
		limiter: rate.NewLimiter(rate.Limit(bytesPerSecond), quantum),
		quantum: quantum,
	}
}

// Throttle charges the limiter for the specified number of bytes, sleeping
// as necessary to keep the observed rate at or below the configured cap.
func (l *Limiter) Throttle(count int) {
	if l == nil || count <= 0 {
		return
	}
	for count > 0 {
		charge := count
		if charge > l.quantum {
			charge = l.quantum
		}
		// The wait can only fail on context cancellation or a charge larger
		// than the burst, neither of which can occur here.
		l.limiter.WaitN(context.Background(), charge)
		count -= charge
	}
}
