// Package rategate serializes bet submissions in time. A single shared gate
// guarantees a minimum delay between consecutive broker-bound submissions;
// it bounds submission rate only, not completion.
package rategate

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

type Gate struct {
	limiter *rate.Limiter
}

// New builds a gate granting one acquisition per minDelay. A zero delay
// disables throttling.
func New(minDelay time.Duration) *Gate {
	return &Gate{limiter: rate.NewLimiter(every(minDelay), 1)}
}

// Acquire blocks the calling submission task until at least the configured
// delay has elapsed since the last grant, or the context is cancelled.
func (g *Gate) Acquire(ctx context.Context) error {
	return g.limiter.Wait(ctx)
}

// SetDelay atomically updates the delay for subsequent acquisitions.
func (g *Gate) SetDelay(d time.Duration) {
	g.limiter.SetLimit(every(d))
}

func every(d time.Duration) rate.Limit {
	if d <= 0 {
		return rate.Inf
	}
	return rate.Every(d)
}
