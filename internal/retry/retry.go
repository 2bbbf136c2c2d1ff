// Package retry provides a minimal fixed-interval retry policy, decoupled
// from any display concern. The rate-limit loop uses an unbounded policy;
// authentication polling uses a bounded one.
package retry

import (
	"context"
	"errors"
	"time"
)

// ErrAttemptsExhausted is returned by Do when MaxAttempts is reached
// without the operation completing.
var ErrAttemptsExhausted = errors.New("retry: attempts exhausted")

// Policy describes a fixed-interval retry schedule.
type Policy struct {
	Interval    time.Duration
	MaxAttempts int           // 0 means unbounded
	Tick        time.Duration // granularity of Wait callbacks, defaults to 1s

	// Sleep is a test seam; defaults to time.Sleep.
	Sleep func(time.Duration)
}

func (p Policy) sleep(d time.Duration) {
	if p.Sleep != nil {
		p.Sleep(d)
		return
	}
	time.Sleep(d)
}

// Do runs fn until it reports done, sleeping Interval between attempts.
// Stops with ErrAttemptsExhausted once MaxAttempts attempts have run, or
// with the context error if the context is cancelled between attempts.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) (done bool, err error)) error {
	for attempt := 0; p.MaxAttempts == 0 || attempt < p.MaxAttempts; attempt++ {
		if attempt > 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
			p.sleep(p.Interval)
		}
		done, err := fn(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
	return ErrAttemptsExhausted
}

// Wait blocks for one full interval, invoking tick once per Tick with the
// time waited so far and the time remaining. Returns early with the context
// error if the context is cancelled.
func (p Policy) Wait(ctx context.Context, tick func(elapsed, remaining time.Duration)) error {
	step := p.Tick
	if step <= 0 {
		step = time.Second
	}
	for elapsed := time.Duration(0); elapsed < p.Interval; elapsed += step {
		if err := ctx.Err(); err != nil {
			return err
		}
		p.sleep(step)
		waited := elapsed + step
		if tick != nil {
			tick(waited, p.Interval-waited)
		}
	}
	return nil
}
