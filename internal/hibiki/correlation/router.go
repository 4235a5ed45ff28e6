// Package correlation attributes inbound bot messages to the commands that
// triggered them and decides when each command's reply is complete.
//
// Provider bots answer on a shared channel without any correlation ID. A
// reply may point at the command message it answers, or it may not. The
// Router therefore applies, in order:
//
//  1. the reply pointer, when it resolves to a command message we sent;
//  2. the single active window, when exactly one command is in flight
//     (disabled by Config.StrictRouting);
//  3. a fragment whose pointer is unknown while some window still awaits
//     its outbound ID is held for Config.BindGrace and attached if Bind
//     later resolves the pointer;
//  4. otherwise the fragment is dropped and logged, never guessed.
//
// Every window owns one goroutine with a ticker for stability checks and a
// timer for the absolute timeout; both stop as soon as the window finishes.
package correlation

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bdobrica/Hibiki/internal/hibiki/transport"
)

// ErrClosed is returned by Open after Close was called.
var ErrClosed = errors.New("correlation router closed")

// Config tunes window settlement and routing.
type Config struct {
	// CheckInterval is the period between stability checks.
	CheckInterval time.Duration
	// StabilityChecks is the number of consecutive checks without a new
	// fragment after which a window settles.
	StabilityChecks int
	// Timeout is the absolute lifetime of a window, measured from Open.
	Timeout time.Duration
	// StrictRouting disables the single-active-window fallback: fragments
	// without a resolvable reply pointer are always dropped.
	StrictRouting bool
	// BindGrace is how long a fragment with an unresolved reply pointer is
	// held while a window is waiting for Bind.
	BindGrace time.Duration
}

// maxHeld bounds fragments waiting for a Bind.
const maxHeld = 64

// DefaultConfig returns the production settlement settings: 12 checks every
// 500ms (six seconds of silence) and a 60 second ceiling.
func DefaultConfig() Config {
	return Config{
		CheckInterval:   500 * time.Millisecond,
		StabilityChecks: 12,
		Timeout:         60 * time.Second,
		BindGrace:       2 * time.Second,
	}
}

// Stats is a point-in-time snapshot of router counters.
type Stats struct {
	Active   int    `json:"active"`
	Held     int    `json:"held"`
	Routed   uint64 `json:"routed"`
	Dropped  uint64 `json:"dropped"`
	Late     uint64 `json:"late"`
	Settled  uint64 `json:"settled"`
	TimedOut uint64 `json:"timed_out"`
}

// Router owns every open window and the outbound message table.
type Router struct {
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	windows  map[CommandID]*window
	refs     map[string]CommandID
	closedAt map[string]time.Time // outbound IDs of finished windows
	held     []heldFragment
	seq      uint64
	closed   bool
	stats    Stats

	wg sync.WaitGroup
}

// NewRouter creates a Router. Zero fields in cfg take their DefaultConfig
// values; a nil logger uses slog.Default().
func NewRouter(cfg Config, logger *slog.Logger) *Router {
	def := DefaultConfig()
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = def.CheckInterval
	}
	if cfg.StabilityChecks <= 0 {
		cfg.StabilityChecks = def.StabilityChecks
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.BindGrace <= 0 {
		cfg.BindGrace = def.BindGrace
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		cfg:      cfg,
		logger:   logger.With("component", "correlation"),
		now:      time.Now,
		windows:  make(map[CommandID]*window),
		refs:     make(map[string]CommandID),
		closedAt: make(map[string]time.Time),
	}
}

// Config returns the effective configuration.
func (r *Router) Config() Config {
	return r.cfg
}

// Open creates a window for a new command issued on behalf of callerID and
// starts its timers.
func (r *Router) Open(callerID string) (*Pending, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrClosed
	}
	r.seq++
	now := r.now()
	id := CommandID(fmt.Sprintf("%s_%d_%d", callerID, now.UnixMilli(), r.seq))
	w := newWindow(id, now)
	r.windows[id] = w
	r.pruneLocked(now)
	r.expireHeldLocked(now)
	r.wg.Add(1)
	r.mu.Unlock()

	go r.watch(w)

	r.logger.Debug("window opened", "command_id", id)
	return &Pending{w: w}, nil
}

// Bind records that outboundID is the transport ID of the message sent for
// id. It reports false when the window is no longer open.
func (r *Router) Bind(id CommandID, outboundID string) bool {
	if outboundID == "" {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.windows[id]
	if !ok {
		return false
	}
	r.refs[outboundID] = id
	w.outbound = append(w.outbound, outboundID)

	r.expireHeldLocked(r.now())
	kept := r.held[:0]
	for _, h := range r.held {
		if h.f.ReplyTo == outboundID {
			r.appendLocked(w, h.f, "held_reply")
			continue
		}
		kept = append(kept, h)
	}
	clear(r.held[len(kept):])
	r.held = kept
	return true
}

// Withdraw removes an open window without producing a result. Waiters get
// ErrWithdrawn.
func (r *Router) Withdraw(id CommandID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if w, ok := r.windows[id]; ok {
		r.finishLocked(w, StateWithdrawn)
	}
}

// Route attributes f to a window and appends it. It returns the chosen
// command and true, or false when the fragment was dropped or held for a
// later Bind.
func (r *Router) Route(f transport.Fragment) (CommandID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	r.expireHeldLocked(now)

	if f.ReplyTo != "" {
		if id, ok := r.refs[f.ReplyTo]; ok {
			if w, ok := r.windows[id]; ok {
				return r.appendLocked(w, f, "reply")
			}
		}
		if _, late := r.closedAt[f.ReplyTo]; late {
			r.stats.Late++
			r.logger.Info("dropping late fragment for finished command",
				"message_id", f.MessageID, "reply_to", f.ReplyTo, "sender", f.Sender)
			return "", false
		}
	}

	if !r.cfg.StrictRouting && len(r.windows) == 1 {
		for _, w := range r.windows {
			return r.appendLocked(w, f, "single_active")
		}
	}

	if f.ReplyTo != "" && r.awaitingBindLocked() && len(r.held) < maxHeld {
		r.held = append(r.held, heldFragment{f: f, at: now})
		r.logger.Debug("holding fragment until its command is bound",
			"message_id", f.MessageID, "reply_to", f.ReplyTo)
		return "", false
	}

	r.stats.Dropped++
	if len(r.windows) == 0 {
		r.logger.Debug("dropping fragment: no active window",
			"message_id", f.MessageID, "sender", f.Sender)
	} else {
		r.logger.Warn("dropping fragment: routing ambiguous",
			"message_id", f.MessageID, "sender", f.Sender,
			"reply_to", f.ReplyTo, "active_windows", len(r.windows),
			"strict", r.cfg.StrictRouting)
	}
	return "", false
}

// Active returns the number of open windows.
func (r *Router) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.windows)
}

// Stats returns a snapshot of the router counters.
func (r *Router) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.expireHeldLocked(r.now())
	s := r.stats
	s.Active = len(r.windows)
	s.Held = len(r.held)
	return s
}

// Close times out every open window, refuses new ones and waits for all
// window goroutines to exit.
func (r *Router) Close() {
	r.mu.Lock()
	r.closed = true
	for _, w := range r.windows {
		r.finishLocked(w, StateTimedOut)
	}
	r.stats.Dropped += uint64(len(r.held))
	r.held = nil
	r.mu.Unlock()
	r.wg.Wait()
}

func (r *Router) appendLocked(w *window, f transport.Fragment, via string) (CommandID, bool) {
	w.add(f)
	r.stats.Routed++
	r.logger.Debug("fragment routed",
		"command_id", w.id, "message_id", f.MessageID, "via", via,
		"fragments", len(w.fragments))
	return w.id, true
}

// watch drives one window's stability checks and timeout.
func (r *Router) watch(w *window) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.CheckInterval)
	defer ticker.Stop()
	timeout := time.NewTimer(r.cfg.Timeout)
	defer timeout.Stop()

	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			r.mu.Lock()
			if w.state == StateOpen && w.observe(r.cfg.StabilityChecks) {
				r.finishLocked(w, StateSettled)
			}
			r.mu.Unlock()
		case <-timeout.C:
			r.mu.Lock()
			r.finishLocked(w, StateTimedOut)
			r.mu.Unlock()
		}
	}
}

// finishLocked closes w, forgets its outbound refs and records them as
// finished so late replies are not attributed elsewhere.
func (r *Router) finishLocked(w *window, state State) {
	now := r.now()
	if !w.finish(state, now) {
		return
	}
	delete(r.windows, w.id)
	for _, ref := range w.outbound {
		delete(r.refs, ref)
		r.closedAt[ref] = now
	}

	switch state {
	case StateSettled:
		r.stats.Settled++
	case StateTimedOut:
		r.stats.TimedOut++
	}

	r.logger.Debug("window finished",
		"command_id", w.id, "state", state,
		"fragments", len(w.fragments), "duration", now.Sub(w.openedAt))
}

// pruneLocked forgets finished outbound IDs older than one window lifetime.
func (r *Router) pruneLocked(now time.Time) {
	for ref, at := range r.closedAt {
		if now.Sub(at) > r.cfg.Timeout {
			delete(r.closedAt, ref)
		}
	}
}

type heldFragment struct {
	f  transport.Fragment
	at time.Time
}

// awaitingBindLocked reports whether some open window has no outbound ID yet.
func (r *Router) awaitingBindLocked() bool {
	for _, w := range r.windows {
		if len(w.outbound) == 0 {
			return true
		}
	}
	return false
}

// expireHeldLocked drops held fragments older than BindGrace.
func (r *Router) expireHeldLocked(now time.Time) {
	kept := r.held[:0]
	for _, h := range r.held {
		if now.Sub(h.at) <= r.cfg.BindGrace {
			kept = append(kept, h)
			continue
		}
		r.stats.Dropped++
		r.logger.Warn("dropping fragment: reply pointer never resolved",
			"message_id", h.f.MessageID, "reply_to", h.f.ReplyTo, "sender", h.f.Sender)
	}
	clear(r.held[len(kept):])
	r.held = kept
}
