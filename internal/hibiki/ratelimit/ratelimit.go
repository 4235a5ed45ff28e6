// Package ratelimit throttles how often each user may issue commands.
package ratelimit

import (
	"fmt"
	"sync"
	"time"
)

const (
	// DefaultCooldown is the minimum gap between two commands of one user.
	DefaultCooldown = 15 * time.Second

	// DefaultWindow is the span over which MaxPerWindow is counted.
	DefaultWindow = 5 * time.Minute
)

// Reason says why a command was refused.
type Reason string

const (
	ReasonCooldown Reason = "cooldown"
	ReasonWindow   Reason = "window"
	ReasonPenalty  Reason = "penalty"
)

// Config tunes a Limiter.
type Config struct {
	// Cooldown is the minimum gap between commands. Zero disables it.
	Cooldown time.Duration
	// MaxPerWindow caps commands per Window. Zero means unlimited.
	MaxPerWindow int
	Window       time.Duration
	// Penalty blocks a user who exceeded MaxPerWindow for this long.
	Penalty time.Duration
}

// DefaultConfig returns a 15s cooldown and no window cap.
func DefaultConfig() Config {
	return Config{Cooldown: DefaultCooldown, Window: DefaultWindow}
}

// Decision is the result of a Check.
type Decision struct {
	Allowed    bool
	Reason     Reason
	RetryAfter time.Duration
}

// Stats summarizes tracked users.
type Stats struct {
	TrackedUsers   int `json:"tracked_users"`
	PenalizedUsers int `json:"penalized_users"`
}

type userState struct {
	last        time.Time
	count       int
	windowStart time.Time
}

// Limiter enforces per-user cooldowns and window caps.
//
// Limiter is safe for concurrent use from multiple goroutines.
type Limiter struct {
	mu        sync.Mutex
	cfg       Config
	users     map[string]*userState
	penalized map[string]time.Time // userID → penalty end
	now       func() time.Time
}

// New returns a Limiter. A non-positive Window defaults to DefaultWindow.
func New(cfg Config) *Limiter {
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	return &Limiter{
		cfg:       cfg,
		users:     make(map[string]*userState),
		penalized: make(map[string]time.Time),
		now:       time.Now,
	}
}

// Check decides whether userID may run a command now and, when allowed,
// records it.
func (l *Limiter) Check(userID string) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()

	if until, ok := l.penalized[userID]; ok {
		if now.Before(until) {
			return Decision{Reason: ReasonPenalty, RetryAfter: until.Sub(now)}
		}
		delete(l.penalized, userID)
	}

	st, ok := l.users[userID]
	if !ok {
		st = &userState{windowStart: now}
		l.users[userID] = st
	}

	if l.cfg.Cooldown > 0 && !st.last.IsZero() {
		if since := now.Sub(st.last); since < l.cfg.Cooldown {
			return Decision{Reason: ReasonCooldown, RetryAfter: l.cfg.Cooldown - since}
		}
	}

	if now.Sub(st.windowStart) > l.cfg.Window {
		st.windowStart = now
		st.count = 0
	}
	if l.cfg.MaxPerWindow > 0 && st.count >= l.cfg.MaxPerWindow {
		retry := st.windowStart.Add(l.cfg.Window).Sub(now)
		if l.cfg.Penalty > 0 {
			l.penalized[userID] = now.Add(l.cfg.Penalty)
			retry = l.cfg.Penalty
		}
		return Decision{Reason: ReasonWindow, RetryAfter: retry}
	}

	st.last = now
	st.count++
	return Decision{Allowed: true}
}

// Reset forgets everything about userID.
func (l *Limiter) Reset(userID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.users, userID)
	delete(l.penalized, userID)
}

// Stats reports how many users are tracked.
func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Stats{TrackedUsers: len(l.users), PenalizedUsers: len(l.penalized)}
}

// Prune drops users idle for longer than maxIdle and expired penalties. It
// returns the number of users dropped.
func (l *Limiter) Prune(maxIdle time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	n := 0
	for id, st := range l.users {
		if now.Sub(st.last) > maxIdle && now.Sub(st.windowStart) > l.cfg.Window {
			delete(l.users, id)
			n++
		}
	}
	for id, until := range l.penalized {
		if !now.Before(until) {
			delete(l.penalized, id)
		}
	}
	return n
}

// Error reports a refused Decision to callers that deal in errors.
type Error struct {
	Reason     Reason
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	return fmt.Sprintf("rate limited (%s): retry after %s", e.Reason, e.RetryAfter.Round(time.Second))
}

// Err returns nil for an allowed Decision and an *Error otherwise.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return &Error{Reason: d.Reason, RetryAfter: d.RetryAfter}
}
