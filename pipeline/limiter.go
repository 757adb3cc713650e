package pipeline

import (
	"context"
	"time"
)

// Gate bounds how many calls of a phase type run at once. Enhancement
// and generation fan-outs each hold their own gate so a burst of tasks
// cannot exceed the provider's concurrency budget for that phase.
type Gate struct {
	slots chan struct{}
}

// NewGate creates a gate admitting at most limit concurrent holders.
// A limit below 1 is treated as 1.
func NewGate(limit int) *Gate {
	if limit < 1 {
		limit = 1
	}
	return &Gate{slots: make(chan struct{}, limit)}
}

// Enter blocks until a slot is free or the context is done.
func (g *Gate) Enter(ctx context.Context) error {
	select {
	case g.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Leave frees a slot taken by Enter.
func (g *Gate) Leave() {
	<-g.slots
}

// Limit returns the gate's concurrency limit.
func (g *Gate) Limit() int {
	return cap(g.slots)
}

// Pacer enforces a fixed minimum interval between successive calls.
// Validation runs through a pacer because the grader uses a higher-cost
// reasoning mode with materially stricter rate limits than the other
// phases; the resulting latency is the sum of call times plus pacing,
// not the max.
type Pacer struct {
	interval time.Duration
	last     time.Time

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewPacer creates a pacer with the given minimum interval between
// calls. A zero or negative interval disables pacing.
func NewPacer(interval time.Duration) *Pacer {
	return &Pacer{
		interval: interval,
		now:      time.Now,
		sleep:    sleepCtx,
	}
}

// Wait blocks until at least the configured interval has passed since
// the previous call returned from Wait. The first call never blocks.
// Pacers are used from a single validation loop at a time, so Wait is
// not safe for concurrent use and does not need to be.
func (p *Pacer) Wait(ctx context.Context) error {
	if p.interval <= 0 {
		return nil
	}
	now := p.now()
	if !p.last.IsZero() {
		if wait := p.interval - now.Sub(p.last); wait > 0 {
			if err := p.sleep(ctx, wait); err != nil {
				return err
			}
			now = p.now()
		}
	}
	p.last = now
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
