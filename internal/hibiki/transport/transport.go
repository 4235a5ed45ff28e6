// Package transport defines the contract between the correlation engine and
// the chat network the provider bots live on.
package transport

import (
	"context"
	"errors"
	"time"
)

// ErrDisconnected is returned by adapters when the shared connection is down.
var ErrDisconnected = errors.New("transport disconnected")

// Fragment is one raw inbound message from a provider bot. Fragments are
// immutable once produced by the adapter.
type Fragment struct {
	// MessageID is the transport identifier of this message.
	MessageID string
	// Sender is the transport identity of the bot that sent it.
	Sender string
	// Channel is the room or chat the message arrived in.
	Channel string
	// Text is the message text or media caption; empty when absent.
	Text string
	// Media holds the downloaded attachment bytes, if any.
	Media []byte
	// MediaHint is the transport's own description of the attachment
	// (a MIME type or a word such as "photo").
	MediaHint string
	// Filename is the attachment's original file name, if known.
	Filename string
	// ReplyTo is the MessageID this message replies to, if any.
	ReplyTo string
	// ReceivedAt is when the adapter received the message.
	ReceivedAt time.Time
}

// HasMedia reports whether the fragment carries an attachment.
func (f Fragment) HasMedia() bool {
	return len(f.Media) > 0
}

// InboundHandler receives fragments in arrival order. It is called from the
// adapter's delivery goroutine and must return quickly.
type InboundHandler func(Fragment)

// Transport is a single shared connection to the bot network.
type Transport interface {
	// Connected reports whether messages can currently be sent.
	Connected() bool
	// SendMessage sends text to the bot identified by target and returns
	// the transport identifier of the sent message.
	SendMessage(ctx context.Context, target, text string) (string, error)
	// OnInbound registers the handler for inbound fragments. Only one
	// handler is kept; a later call replaces the earlier one.
	OnInbound(handler InboundHandler)
}
