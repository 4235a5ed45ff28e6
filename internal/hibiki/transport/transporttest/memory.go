// Package transporttest provides an in-memory Transport for tests.
package transporttest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bdobrica/Hibiki/internal/hibiki/transport"
)

// Sent records one outbound message.
type Sent struct {
	ID     string
	Target string
	Text   string
}

// Memory is an in-memory transport. Tests inject inbound fragments with
// Deliver and inspect outbound messages with Sent. OnSend, when set, runs
// after every successful send so tests can script bot replies.
type Memory struct {
	mu        sync.Mutex
	connected bool
	sendErr   error
	handler   transport.InboundHandler
	sent      []Sent
	seq       int

	// OnSend is called (outside the lock) after a message is recorded.
	OnSend func(m *Memory, s Sent)
}

var _ transport.Transport = (*Memory)(nil)

// New returns a connected Memory transport.
func New() *Memory {
	return &Memory{connected: true}
}

// SetConnected toggles the connection state.
func (m *Memory) SetConnected(v bool) {
	m.mu.Lock()
	m.connected = v
	m.mu.Unlock()
}

// FailSends makes every subsequent SendMessage return err (nil to clear).
func (m *Memory) FailSends(err error) {
	m.mu.Lock()
	m.sendErr = err
	m.mu.Unlock()
}

// Connected implements transport.Transport.
func (m *Memory) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// SendMessage implements transport.Transport.
func (m *Memory) SendMessage(ctx context.Context, target, text string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	if !m.connected {
		m.mu.Unlock()
		return "", transport.ErrDisconnected
	}
	if m.sendErr != nil {
		err := m.sendErr
		m.mu.Unlock()
		return "", err
	}
	m.seq++
	s := Sent{ID: fmt.Sprintf("$out%d", m.seq), Target: target, Text: text}
	m.sent = append(m.sent, s)
	hook := m.OnSend
	m.mu.Unlock()

	if hook != nil {
		hook(m, s)
	}
	return s.ID, nil
}

// OnInbound implements transport.Transport.
func (m *Memory) OnInbound(handler transport.InboundHandler) {
	m.mu.Lock()
	m.handler = handler
	m.mu.Unlock()
}

// Deliver hands f to the registered handler. ReceivedAt is filled in when
// zero.
func (m *Memory) Deliver(f transport.Fragment) {
	if f.ReceivedAt.IsZero() {
		f.ReceivedAt = time.Now()
	}
	m.mu.Lock()
	h := m.handler
	m.mu.Unlock()
	if h != nil {
		h(f)
	}
}

// Sent returns a copy of all outbound messages.
func (m *Memory) Sent() []Sent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Sent, len(m.sent))
	copy(out, m.sent)
	return out
}

// WaitSent blocks until at least n messages were sent or the timeout passes.
func (m *Memory) WaitSent(n int, timeout time.Duration) []Sent {
	deadline := time.Now().Add(timeout)
	for {
		s := m.Sent()
		if len(s) >= n || time.Now().After(deadline) {
			return s
		}
		time.Sleep(time.Millisecond)
	}
}
