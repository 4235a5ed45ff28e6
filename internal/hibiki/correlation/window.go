package correlation

import (
	"context"
	"errors"
	"time"

	"github.com/bdobrica/Hibiki/internal/hibiki/transport"
)

// CommandID identifies one dispatched command for the lifetime of its window.
type CommandID string

// State is the lifecycle state of a response window.
type State string

const (
	StateOpen      State = "open"
	StateSettled   State = "settled"
	StateTimedOut  State = "timed_out"
	StateWithdrawn State = "withdrawn"
)

// ErrWithdrawn is returned by Pending.Wait when the window was withdrawn
// before it could settle, typically because the command was never sent.
var ErrWithdrawn = errors.New("response window withdrawn")

// Outcome is the final content of a window.
type Outcome struct {
	CommandID CommandID
	State     State
	// Fragments are in arrival order.
	Fragments []transport.Fragment
	OpenedAt  time.Time
	ClosedAt  time.Time
}

// Duration is how long the window was open.
func (o Outcome) Duration() time.Duration {
	return o.ClosedAt.Sub(o.OpenedAt)
}

// window accumulates the fragments attributed to one command. All fields are
// guarded by the owning Router's mutex.
type window struct {
	id        CommandID
	fragments []transport.Fragment
	stable    int
	lastCount int
	openedAt  time.Time
	state     State
	outbound  []string

	outcome Outcome
	done    chan struct{}
	stop    chan struct{}
}

func newWindow(id CommandID, now time.Time) *window {
	return &window{
		id:       id,
		openedAt: now,
		state:    StateOpen,
		done:     make(chan struct{}),
		stop:     make(chan struct{}),
	}
}

// add records a fragment and restarts the stability count.
func (w *window) add(f transport.Fragment) {
	w.fragments = append(w.fragments, f)
	w.stable = 0
}

// observe runs one stability check and reports whether the window has
// settled. The count only advances while at least one fragment exists and
// no new fragment arrived since the previous check.
func (w *window) observe(threshold int) bool {
	n := len(w.fragments)
	if n > 0 && n == w.lastCount {
		w.stable++
	} else {
		w.lastCount = n
		w.stable = 0
	}
	return w.stable >= threshold
}

// finish moves the window into a terminal state and publishes its outcome.
// It is a no-op on a window that already left the open state.
func (w *window) finish(state State, now time.Time) bool {
	if w.state != StateOpen {
		return false
	}
	w.state = state
	frags := make([]transport.Fragment, len(w.fragments))
	copy(frags, w.fragments)
	w.outcome = Outcome{
		CommandID: w.id,
		State:     state,
		Fragments: frags,
		OpenedAt:  w.openedAt,
		ClosedAt:  now,
	}
	close(w.stop)
	close(w.done)
	return true
}

// Pending is the caller's handle on an open window.
type Pending struct {
	w *window
}

// ID returns the command identifier of the window.
func (p *Pending) ID() CommandID {
	return p.w.id
}

// Done is closed once the window reached a terminal state.
func (p *Pending) Done() <-chan struct{} {
	return p.w.done
}

// Wait blocks until the window settles, times out or is withdrawn, or until
// ctx is done. Abandoning the wait does not affect the window, which still
// finishes on its own schedule. Wait may be called any number of times.
func (p *Pending) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-p.w.done:
		if p.w.outcome.State == StateWithdrawn {
			return p.w.outcome, ErrWithdrawn
		}
		return p.w.outcome, nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}
