// Package backoff computes retry delays: bounded exponential growth with
// full jitter, so concurrent retriers decorrelate instead of storming the
// upstream in lockstep.
package backoff

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

const maxShift = 62

var (
	sourceMu sync.Mutex
	source   = rand.New(rand.NewSource(time.Now().UnixNano()))
)

// SetSource replaces the jitter randomness source. Intended for tests that
// need deterministic delays.
func SetSource(src rand.Source) {
	sourceMu.Lock()
	defer sourceMu.Unlock()
	source = rand.New(src)
}

// Exponential returns min(cap, base * 2^(attempt-1)). Attempt numbering
// starts at 1; attempts below 1 are treated as 1.
func Exponential(attempt int, base, cap time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}
	shift := attempt - 1
	if shift > maxShift {
		shift = maxShift
	}
	delay := base << shift
	// Guard against overflow wrapping negative.
	if delay <= 0 || delay > cap {
		return cap
	}
	return delay
}

// FullJitter draws a uniform random duration from [0, delay).
func FullJitter(delay time.Duration) time.Duration {
	if delay <= 0 {
		return 0
	}
	sourceMu.Lock()
	defer sourceMu.Unlock()
	return time.Duration(source.Int63n(int64(delay)))
}

// Delay combines Exponential and FullJitter: a uniform random duration in
// [0, min(cap, base * 2^(attempt-1))).
func Delay(attempt int, base, cap time.Duration) time.Duration {
	return FullJitter(Exponential(attempt, base, cap))
}

// Sleep blocks for d or until ctx is canceled, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
