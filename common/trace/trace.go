// Package trace carries a per-command trace ID through contexts so log lines
// and audit rows can be joined back to the request that caused them.
package trace

import (
	"context"
	"regexp"

	"github.com/google/uuid"
)

// Header is the HTTP header clients may use to supply a trace ID.
const Header = "X-Trace-Id"

type traceKey struct{}

var validID = regexp.MustCompile(`^[A-Za-z0-9_.-]{8,64}$`)

// GenerateID returns a fresh trace ID of the form "t_<32 hex chars>".
func GenerateID() string {
	id := uuid.New()
	const hex = "0123456789abcdef"
	out := make([]byte, 2, 2+len(id)*2)
	out[0], out[1] = 't', '_'
	for _, b := range id {
		out = append(out, hex[b>>4], hex[b&0x0f])
	}
	return string(out)
}

// Valid reports whether id is acceptable as a client-supplied trace ID.
func Valid(id string) bool {
	return validID.MatchString(id)
}

// WithTraceID returns a child context carrying id.
func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceKey{}, id)
}

// FromContext returns the trace ID in ctx, or "".
func FromContext(ctx context.Context) string {
	id, _ := ctx.Value(traceKey{}).(string)
	return id
}

// Ensure returns ctx and its trace ID, attaching a new ID first when ctx has
// none.
func Ensure(ctx context.Context) (context.Context, string) {
	if id := FromContext(ctx); id != "" {
		return ctx, id
	}
	id := GenerateID()
	return WithTraceID(ctx, id), id
}
