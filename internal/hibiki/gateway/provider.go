// Package gateway turns the raw reply fragments of a provider bot into the
// ordered, deduplicated messages returned to users.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/bdobrica/Hibiki/common/trace"
	"github.com/bdobrica/Hibiki/internal/hibiki/correlation"
	"github.com/bdobrica/Hibiki/internal/hibiki/media"
	"github.com/bdobrica/Hibiki/internal/hibiki/sanitize"
	"github.com/bdobrica/Hibiki/internal/hibiki/transport"
)

// ErrNoTarget is returned when neither the resolver nor the configuration
// name a bot for a command.
var ErrNoTarget = errors.New("no provider bot configured for command")

// Dispatcher sends a command and collects its reply fragments.
type Dispatcher interface {
	Dispatch(ctx context.Context, callerID, target, text string) (*correlation.Outcome, error)
	Connected() bool
}

// TargetResolver maps a user-facing command to the identity of the bot that
// serves it.
type TargetResolver interface {
	LookupTarget(command string) (string, bool)
}

// Config tunes result assembly.
type Config struct {
	// Name is reported in the Descriptor.
	Name string
	// DefaultTarget is used when the resolver has no entry for a command.
	DefaultTarget string
	// MinInformativeLength is the caption length (in runes) below which an
	// image is treated as decorative and dropped.
	MinInformativeLength int
	// MaxTextLength truncates message bodies.
	MaxTextLength int
}

// DefaultConfig returns the standard assembly settings.
func DefaultConfig() Config {
	return Config{
		Name:                 "bot-gateway",
		MinInformativeLength: 20,
		MaxTextLength:        4000,
	}
}

// Provider executes commands against provider bots.
type Provider struct {
	dispatcher Dispatcher
	targets    TargetResolver
	sanitizer  *sanitize.Sanitizer
	cfg        Config
	logger     *slog.Logger
	now        func() time.Time
}

// New creates a Provider. Zero fields in cfg take DefaultConfig values.
func New(d Dispatcher, targets TargetResolver, s *sanitize.Sanitizer, cfg Config, logger *slog.Logger) *Provider {
	def := DefaultConfig()
	if cfg.Name == "" {
		cfg.Name = def.Name
	}
	if cfg.MinInformativeLength <= 0 {
		cfg.MinInformativeLength = def.MinInformativeLength
	}
	if cfg.MaxTextLength <= 0 {
		cfg.MaxTextLength = def.MaxTextLength
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{
		dispatcher: d,
		targets:    targets,
		sanitizer:  s,
		cfg:        cfg,
		logger:     logger.With("component", "gateway"),
		now:        time.Now,
	}
}

// Descriptor describes the provider.
func (p *Provider) Descriptor() Descriptor {
	return Descriptor{Name: p.cfg.Name, Priority: 100, SupportedCommands: []string{"*"}}
}

// Supports reports whether command can be executed right now. Any command
// is accepted while the shared transport is connected.
func (p *Provider) Supports(command string) bool {
	return p.dispatcher.Connected()
}

// Execute forwards payload.Raw to the bot serving payload.Command and
// assembles its reply. Only transport failures are returned as errors.
func (p *Provider) Execute(ctx context.Context, payload Payload, pc Context) (*Result, error) {
	target, ok := "", false
	if p.targets != nil {
		target, ok = p.targets.LookupTarget(payload.Command)
	}
	if !ok || target == "" {
		target = p.cfg.DefaultTarget
	}
	if target == "" {
		return nil, fmt.Errorf("%w: %s", ErrNoTarget, payload.Command)
	}

	out, err := p.dispatcher.Dispatch(ctx, pc.UserID, target, payload.Raw)
	if err != nil {
		return nil, err
	}

	msgs, dropped := p.Assemble(out.Fragments)
	synthetic := false
	if len(msgs) == 0 {
		msgs = []Message{p.noResponse(payload.Command)}
		synthetic = true
	}

	p.logger.Info("result assembled",
		"trace_id", trace.FromContext(ctx),
		"command", payload.Command, "command_id", out.CommandID,
		"state", out.State, "fragments", len(out.Fragments),
		"messages", len(msgs), "dropped", dropped, "synthetic", synthetic)

	return &Result{
		Messages: msgs,
		Meta: Meta{
			CommandID:  out.CommandID,
			Target:     target,
			State:      out.State,
			Fragments:  len(out.Fragments),
			Dropped:    dropped,
			Synthetic:  synthetic,
			DurationMS: out.Duration().Milliseconds(),
		},
	}, nil
}

// Assemble converts fragments, in order, into messages. It returns the
// messages and the number of fragments dropped as status notices,
// duplicates or decorative images.
func (p *Provider) Assemble(fragments []transport.Fragment) ([]Message, int) {
	opts := sanitize.Options{
		CheckStatus:          true,
		RemoveDuplicateLines: true,
		MaxLength:            p.cfg.MaxTextLength,
	}

	msgs := make([]Message, 0, len(fragments))
	seen := make(map[string]struct{}, len(fragments))
	dropped := 0

	for _, f := range fragments {
		text, hasText := p.sanitizer.Clean(f.Text, opts)
		ts := f.ReceivedAt
		if ts.IsZero() {
			ts = p.now()
		}

		if f.HasMedia() {
			class := media.ClassifyOrFallback(f.MediaHint, f.Media)
			att, err := NewAttachment(class, f.Media, "")
			if err != nil {
				p.logger.Warn("dropping attachment", "message_id", f.MessageID, "err", err)
				dropped++
				continue
			}

			key := string(class.Kind) + "::" + att.SHA1 + "::" + text
			if _, dup := seen[key]; dup {
				dropped++
				continue
			}
			seen[key] = struct{}{}

			if class.Kind == media.KindImage && (!hasText || utf8.RuneCountInString(text) < p.cfg.MinInformativeLength) {
				p.logger.Debug("dropping decorative image", "message_id", f.MessageID, "caption", text)
				dropped++
				continue
			}

			if class.Kind == media.KindDocument {
				att.Filename = f.Filename
				if att.Filename == "" {
					att.Filename = fmt.Sprintf("document_%d.%s", ts.UnixMilli(), media.Extension(class.MIME))
				}
			}

			msgs = append(msgs, Message{
				ID:          uuid.NewString(),
				Author:      AuthorProvider,
				Body:        text,
				Attachments: []Attachment{att},
				Timestamp:   ts,
			})
			continue
		}

		if !hasText {
			dropped++
			continue
		}
		key := "text::" + text
		if _, dup := seen[key]; dup {
			dropped++
			continue
		}
		seen[key] = struct{}{}

		msgs = append(msgs, Message{
			ID:        uuid.NewString(),
			Author:    AuthorProvider,
			Body:      text,
			Timestamp: ts,
		})
	}
	return msgs, dropped
}

func (p *Provider) noResponse(command string) Message {
	return Message{
		ID:        uuid.NewString(),
		Author:    AuthorProvider,
		Body:      NoResponseText(command),
		Timestamp: p.now(),
	}
}

// NoResponseText is the body of the synthetic message returned when a
// provider produced nothing usable.
func NoResponseText(command string) string {
	return fmt.Sprintf("No response received from the provider for %s.", command)
}
