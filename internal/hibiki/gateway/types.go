package gateway

import (
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bdobrica/Hibiki/internal/hibiki/correlation"
	"github.com/bdobrica/Hibiki/internal/hibiki/media"
)

// AuthorProvider marks messages produced from provider replies.
const AuthorProvider = "provider"

// Payload is a parsed command as sent to the provider.
type Payload struct {
	// Raw is the full text sent to the bot, e.g. "/w lima".
	Raw string `json:"raw"`
	// Command is the user-facing command, e.g. "/weather".
	Command string   `json:"command"`
	Args    []string `json:"args"`
}

// Context identifies who issued a command.
type Context struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
}

// Attachment is one classified binary payload.
type Attachment struct {
	ID       string     `json:"id"`
	Kind     media.Kind `json:"type"`
	MIME     string     `json:"mime_type"`
	URL      string     `json:"url"`
	Filename string     `json:"filename,omitempty"`
	Size     int        `json:"size"`
	SHA1     string     `json:"sha1"`
}

// NewAttachment builds an Attachment carrying data as a base64 data URI. It
// rejects a kind/MIME pair that disagree.
func NewAttachment(c media.Classification, data []byte, filename string) (Attachment, error) {
	if err := checkKindMIME(c); err != nil {
		return Attachment{}, err
	}
	sum := sha1.Sum(data)
	return Attachment{
		ID:       uuid.NewString(),
		Kind:     c.Kind,
		MIME:     c.MIME,
		URL:      "data:" + c.MIME + ";base64," + base64.StdEncoding.EncodeToString(data),
		Filename: filename,
		Size:     len(data),
		SHA1:     hex.EncodeToString(sum[:]),
	}, nil
}

func checkKindMIME(c media.Classification) error {
	if c.MIME == "" {
		return fmt.Errorf("attachment: empty MIME type for kind %q", c.Kind)
	}
	family, _, _ := strings.Cut(c.MIME, "/")
	switch c.Kind {
	case media.KindImage, media.KindVideo, media.KindAudio:
		if family != string(c.Kind) {
			return fmt.Errorf("attachment: kind %q does not match MIME %q", c.Kind, c.MIME)
		}
	case media.KindDocument:
		if family == "image" || family == "video" || family == "audio" {
			return fmt.Errorf("attachment: document with MIME %q", c.MIME)
		}
	default:
		return fmt.Errorf("attachment: unknown kind %q", c.Kind)
	}
	return nil
}

// Message is one assembled provider message: text, an attachment, or both.
type Message struct {
	ID          string       `json:"id"`
	Author      string       `json:"author"`
	Body        string       `json:"body,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
	Timestamp   time.Time    `json:"timestamp"`
}

// Meta describes how a result was produced.
type Meta struct {
	CommandID  correlation.CommandID `json:"command_id"`
	Target     string                `json:"target"`
	State      correlation.State     `json:"state"`
	Fragments  int                   `json:"fragments"`
	Dropped    int                   `json:"dropped"`
	Synthetic  bool                  `json:"synthetic,omitempty"`
	DurationMS int64                 `json:"duration_ms"`
}

// Result is the never-empty, ordered list of messages for one command.
type Result struct {
	Messages []Message `json:"messages"`
	Meta     Meta      `json:"meta"`
}

// Descriptor advertises a provider.
type Descriptor struct {
	Name     string `json:"name"`
	Priority int    `json:"priority"`
	// SupportedCommands lists command names; "*" means any.
	SupportedCommands []string `json:"supported_commands"`
}
