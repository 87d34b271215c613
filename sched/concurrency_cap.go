package sched

import (
	"context"

	"golang.org/x/time/rate"
)

// ConcurrencyCap bounds how many gadgets (including nested subagent loops)
// run at once process-wide (spec.md §4.5/§5: "see §5 for subagent global
// cap"). It reuses golang.org/x/time/rate the way goa-ai's adaptive model
// rate limiter (features/model/middleware/ratelimit.go) paces provider
// requests, but applies it to gadget/subagent fan-out admission instead of
// token-per-minute budgets: a semaphore provides the hard cap, and the
// limiter smooths the rate at which new goroutines are admitted so a burst
// of simultaneously-ready gadgets doesn't all acquire in the same instant.
type ConcurrencyCap struct {
	sem     chan struct{}
	limiter *rate.Limiter
}

// NewConcurrencyCap constructs a cap admitting at most n concurrent holders,
// paced by a limiter that allows bursts of n admissions per admitRate events
// per second (admitRate <= 0 disables pacing, leaving only the hard cap).
func NewConcurrencyCap(n int, admitRate float64) *ConcurrencyCap {
	c := &ConcurrencyCap{sem: make(chan struct{}, n)}
	if admitRate > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(admitRate), n)
	}
	return c
}

// Acquire blocks until a slot is free or ctx is cancelled.
func (c *ConcurrencyCap) Acquire(ctx context.Context) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	select {
	case c.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release frees a slot acquired via Acquire.
func (c *ConcurrencyCap) Release() {
	<-c.sem
}
