// Package retry runs operations against the homeserver with capped,
// jittered exponential back-off.
package retry

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"time"
)

// Backoff is an exponential delay schedule.
type Backoff struct {
	// Min is the first delay.
	Min time.Duration
	// Max caps every delay.
	Max time.Duration
	// Jitter randomises each delay by up to this fraction (0..1) downwards.
	Jitter float64
}

// Delay returns the wait before retry number n (n >= 1).
func (b Backoff) Delay(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	d := b.Min
	for i := 1; i < n && d < b.Max; i++ {
		d *= 2
	}
	d = min(d, b.Max)
	if b.Jitter > 0 && d > 0 {
		d -= time.Duration(rand.Float64() * b.Jitter * float64(d))
	}
	return d
}

// Wait sleeps for d or until ctx is done.
func Wait(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Policy bounds a Do call.
type Policy struct {
	// Attempts is the total number of calls, the first included. Values
	// below 1 mean a single call.
	Attempts int
	Backoff  Backoff
}

// DefaultPolicy suits short homeserver requests.
var DefaultPolicy = Policy{
	Attempts: 3,
	Backoff:  Backoff{Min: 500 * time.Millisecond, Max: 10 * time.Second, Jitter: 0.2},
}

type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err as final. Do stops and returns err itself.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Do calls fn until it succeeds, returns a Permanent error, the policy runs
// out of attempts or ctx is done. The last error from fn is returned, joined
// with the context error when cancellation ended the loop.
func Do(ctx context.Context, p Policy, fn func(context.Context) error) error {
	attempts := max(p.Attempts, 1)

	var last error
	for n := 1; ; n++ {
		if err := ctx.Err(); err != nil {
			return errors.Join(last, err)
		}
		last = fn(ctx)
		if last == nil {
			return nil
		}
		var perm *permanentError
		if errors.As(last, &perm) {
			return perm.err
		}
		if n >= attempts {
			return last
		}

		d := p.Backoff.Delay(n)
		slog.Debug("retrying", "attempt", n, "of", attempts, "delay", d, "err", last)
		if err := Wait(ctx, d); err != nil {
			return errors.Join(last, err)
		}
	}
}
