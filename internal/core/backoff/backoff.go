// Package backoff computes retry delays shared by the job queue, the RPC
// retry loop and the export retry wrapper.
package backoff

import (
	"context"
	"math"
	"time"
)

// Exponential implements InitialDelay * Multiplier^attempt capped at MaxDelay.
type Exponential struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	MaxAttempts  int
}

// Default returns 2s, 4s, 8s, ... capped at 60s with 3 attempts.
func Default() Exponential {
	return Exponential{
		InitialDelay: 2 * time.Second,
		MaxDelay:     60 * time.Second,
		Multiplier:   2,
		MaxAttempts:  3,
	}
}

// Delay returns the wait before the retry following attempt (0-indexed).
func (e Exponential) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	mult := e.Multiplier
	if mult <= 0 {
		mult = 2
	}
	delay := float64(e.InitialDelay) * math.Pow(mult, float64(attempt))
	if e.MaxDelay > 0 && delay > float64(e.MaxDelay) {
		return e.MaxDelay
	}
	return time.Duration(delay)
}

// Exhausted reports whether attempts (1-indexed count made so far) used up the budget.
func (e Exponential) Exhausted(attempts int) bool {
	max := e.MaxAttempts
	if max <= 0 {
		max = 1
	}
	return attempts >= max
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
