// Package dispatch sends commands over the shared transport and waits for
// the correlation router to collect their replies.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bdobrica/Hibiki/common/trace"
	"github.com/bdobrica/Hibiki/internal/hibiki/correlation"
	"github.com/bdobrica/Hibiki/internal/hibiki/transport"
)

var (
	// ErrTransportDisconnected means the command was not sent because the
	// shared connection is down. No window was created.
	ErrTransportDisconnected = transport.ErrDisconnected

	// ErrDispatchFailed wraps the transport error of a failed send.
	ErrDispatchFailed = errors.New("dispatch failed")
)

// StatusDetector recognises progress notices such as "Searching...".
type StatusDetector interface {
	IsStatus(text string) bool
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithStatusFilter drops text-only fragments that sd reports as status
// notices before they reach the router. A notice routed into a window would
// start its stability countdown and the window could settle before the real
// reply arrives.
func WithStatusFilter(sd StatusDetector) Option {
	return func(d *Dispatcher) { d.status = sd }
}

// Dispatcher couples a Transport with a correlation Router.
type Dispatcher struct {
	transport transport.Transport
	router    *correlation.Router
	status    StatusDetector
	logger    *slog.Logger
}

// New creates a Dispatcher and registers the router as the transport's
// inbound handler.
func New(t transport.Transport, r *correlation.Router, logger *slog.Logger, opts ...Option) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		transport: t,
		router:    r,
		logger:    logger.With("component", "dispatch"),
	}
	for _, opt := range opts {
		opt(d)
	}
	t.OnInbound(d.deliver)
	return d
}

// Connected reports whether the transport can currently send.
func (d *Dispatcher) Connected() bool {
	return d.transport.Connected()
}

// Router returns the underlying correlation router.
func (d *Dispatcher) Router() *correlation.Router {
	return d.router
}

// Dispatch sends text to target on behalf of callerID and blocks until the
// reply window settles or times out. Only transport failures are errors; an
// empty or partial reply is a normal outcome. When ctx ends first, ctx.Err()
// is returned and the window is left to finish on its own.
func (d *Dispatcher) Dispatch(ctx context.Context, callerID, target, text string) (*correlation.Outcome, error) {
	if !d.transport.Connected() {
		return nil, ErrTransportDisconnected
	}

	// The window exists before the send so a fast reply is never missed.
	pending, err := d.router.Open(callerID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDispatchFailed, err)
	}
	log := d.logger.With("command_id", pending.ID(), "target", target)
	if tid := trace.FromContext(ctx); tid != "" {
		log = log.With("trace_id", tid)
	}

	outboundID, err := d.transport.SendMessage(ctx, target, text)
	if err != nil {
		d.router.Withdraw(pending.ID())
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if errors.Is(err, transport.ErrDisconnected) {
			log.Warn("send failed: transport disconnected")
			return nil, ErrTransportDisconnected
		}
		log.Error("send failed", "err", err)
		return nil, fmt.Errorf("%w: %w", ErrDispatchFailed, err)
	}
	d.router.Bind(pending.ID(), outboundID)
	log.Info("command dispatched", "outbound_id", outboundID)

	out, err := pending.Wait(ctx)
	if err != nil {
		log.Info("caller stopped waiting", "err", err)
		return nil, err
	}

	log.Info("command finished",
		"state", out.State, "fragments", len(out.Fragments), "duration", out.Duration())
	return &out, nil
}

func (d *Dispatcher) deliver(f transport.Fragment) {
	if d.status != nil && !f.HasMedia() && d.status.IsStatus(f.Text) {
		d.logger.Debug("dropping status notice", "message_id", f.MessageID, "sender", f.Sender)
		return
	}
	d.router.Route(f)
}
