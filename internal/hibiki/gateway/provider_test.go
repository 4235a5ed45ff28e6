package gateway_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/bdobrica/Hibiki/internal/hibiki/correlation"
	"github.com/bdobrica/Hibiki/internal/hibiki/dispatch"
	"github.com/bdobrica/Hibiki/internal/hibiki/gateway"
	"github.com/bdobrica/Hibiki/internal/hibiki/media"
	"github.com/bdobrica/Hibiki/internal/hibiki/sanitize"
	"github.com/bdobrica/Hibiki/internal/hibiki/transport"
	"github.com/bdobrica/Hibiki/internal/hibiki/transport/transporttest"
)

var (
	pdfBytes = []byte("%PDF-1.4\n1 0 obj\n<< /Type /Catalog >>\nendobj\n")
	pngBytes = append([]byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}, make([]byte, 32)...)
)

// fakeDispatcher returns a canned outcome and records what it was asked.
type fakeDispatcher struct {
	connected bool
	fragments []transport.Fragment
	err       error

	target string
	text   string
}

func (f *fakeDispatcher) Connected() bool { return f.connected }

func (f *fakeDispatcher) Dispatch(_ context.Context, _, target, text string) (*correlation.Outcome, error) {
	f.target, f.text = target, text
	if f.err != nil {
		return nil, f.err
	}
	now := time.Now()
	state := correlation.StateSettled
	if len(f.fragments) == 0 {
		state = correlation.StateTimedOut
	}
	return &correlation.Outcome{
		CommandID: "caller_1_1",
		State:     state,
		Fragments: f.fragments,
		OpenedAt:  now.Add(-time.Second),
		ClosedAt:  now,
	}, nil
}

type targets map[string]string

func (t targets) LookupTarget(command string) (string, bool) {
	v, ok := t[command]
	return v, ok
}

func newSanitizer(t *testing.T) *sanitize.Sanitizer {
	t.Helper()
	s, err := sanitize.NewDefault()
	if err != nil {
		t.Fatalf("NewDefault: %v", err)
	}
	return s
}

func newProvider(t *testing.T, d gateway.Dispatcher, cfg gateway.Config) *gateway.Provider {
	t.Helper()
	return gateway.New(d, targets{"/weather": "@weatherbot:x"}, newSanitizer(t), cfg, nil)
}

func longText(n int) string {
	lines := make([]string, n)
	for i := range lines {
		lines[i] = fmt.Sprintf("Station %d: 18C, humidity %d%%", i+1, 40+i)
	}
	return strings.Join(lines, "\n")
}

func TestExecute_StatusTextAndDocument(t *testing.T) {
	d := &fakeDispatcher{connected: true, fragments: []transport.Fragment{
		{MessageID: "$1", Text: "⏳"},
		{MessageID: "$2", Text: longText(40)},
		{MessageID: "$3", Media: pdfBytes},
	}}
	p := newProvider(t, d, gateway.Config{})

	res, err := p.Execute(context.Background(),
		gateway.Payload{Raw: "/w lima", Command: "/weather", Args: []string{"lima"}},
		gateway.Context{UserID: "u1", SessionID: "s1"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if d.target != "@weatherbot:x" || d.text != "/w lima" {
		t.Errorf("dispatched %q to %q", d.text, d.target)
	}
	if len(res.Messages) != 2 {
		t.Fatalf("got %d messages, want 2: %+v", len(res.Messages), res.Messages)
	}

	text := res.Messages[0]
	if len(text.Attachments) != 0 || !strings.Contains(text.Body, "Station 40") {
		t.Errorf("first message should be the full text, got %+v", text)
	}

	doc := res.Messages[1]
	if len(doc.Attachments) != 1 {
		t.Fatalf("second message has %d attachments", len(doc.Attachments))
	}
	att := doc.Attachments[0]
	if att.Kind != media.KindDocument || att.MIME != media.MIMEPDF {
		t.Errorf("attachment = %s/%s, want document/pdf", att.Kind, att.MIME)
	}
	if !strings.HasPrefix(att.URL, "data:application/pdf;base64,") {
		t.Errorf("URL = %.40q", att.URL)
	}
	if !strings.HasPrefix(att.Filename, "document_") || !strings.HasSuffix(att.Filename, ".pdf") {
		t.Errorf("Filename = %q", att.Filename)
	}

	if res.Meta.Fragments != 3 || res.Meta.Dropped != 1 || res.Meta.Synthetic {
		t.Errorf("meta = %+v", res.Meta)
	}
	for _, m := range res.Messages {
		if m.Author != gateway.AuthorProvider || m.ID == "" {
			t.Errorf("bad message identity: %+v", m)
		}
	}
}

func TestExecute_EmptyWindowYieldsSyntheticMessage(t *testing.T) {
	d := &fakeDispatcher{connected: true}
	p := newProvider(t, d, gateway.Config{})

	res, err := p.Execute(context.Background(), gateway.Payload{Raw: "/w x", Command: "/weather"}, gateway.Context{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(res.Messages) != 1 {
		t.Fatalf("got %d messages, want 1", len(res.Messages))
	}
	if got, want := res.Messages[0].Body, gateway.NoResponseText("/weather"); got != want {
		t.Errorf("Body = %q, want %q", got, want)
	}
	if !res.Meta.Synthetic || res.Meta.State != correlation.StateTimedOut {
		t.Errorf("meta = %+v", res.Meta)
	}
}

func TestExecute_OnlyNoiseYieldsSyntheticMessage(t *testing.T) {
	d := &fakeDispatcher{connected: true, fragments: []transport.Fragment{
		{MessageID: "$1", Text: "🔍 Buscando..."},
		{MessageID: "$2", Text: "✨🔥✨"},
	}}
	p := newProvider(t, d, gateway.Config{})

	res, err := p.Execute(context.Background(), gateway.Payload{Raw: "/w x", Command: "/weather"}, gateway.Context{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(res.Messages) != 1 || !res.Meta.Synthetic {
		t.Fatalf("want one synthetic message, got %+v", res)
	}
	if res.Meta.Dropped != 2 {
		t.Errorf("Dropped = %d, want 2", res.Meta.Dropped)
	}
}

func TestExecute_DefaultTargetAndMissingTarget(t *testing.T) {
	d := &fakeDispatcher{connected: true, fragments: []transport.Fragment{{Text: "Parcel delivered to front desk"}}}

	p := newProvider(t, d, gateway.Config{DefaultTarget: "@fallback:x"})
	if _, err := p.Execute(context.Background(), gateway.Payload{Raw: "/trk 1", Command: "/track"}, gateway.Context{}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if d.target != "@fallback:x" {
		t.Errorf("target = %q, want default", d.target)
	}

	p = newProvider(t, d, gateway.Config{})
	_, err := p.Execute(context.Background(), gateway.Payload{Raw: "/trk 1", Command: "/track"}, gateway.Context{})
	if !errors.Is(err, gateway.ErrNoTarget) {
		t.Fatalf("got %v, want ErrNoTarget", err)
	}
}

func TestExecute_PropagatesDispatchErrors(t *testing.T) {
	d := &fakeDispatcher{connected: true, err: dispatch.ErrTransportDisconnected}
	p := newProvider(t, d, gateway.Config{})

	_, err := p.Execute(context.Background(), gateway.Payload{Raw: "/w x", Command: "/weather"}, gateway.Context{})
	if !errors.Is(err, dispatch.ErrTransportDisconnected) {
		t.Fatalf("got %v, want ErrTransportDisconnected", err)
	}
}

func TestSupportsFollowsConnection(t *testing.T) {
	d := &fakeDispatcher{connected: true}
	p := newProvider(t, d, gateway.Config{})
	if !p.Supports("/anything") {
		t.Error("Supports should be true while connected")
	}
	d.connected = false
	if p.Supports("/weather") {
		t.Error("Supports should be false while disconnected")
	}
	if desc := p.Descriptor(); desc.Name == "" || len(desc.SupportedCommands) == 0 {
		t.Errorf("Descriptor = %+v", desc)
	}
}

func TestAssemble_DeduplicatesTextAndMedia(t *testing.T) {
	p := newProvider(t, &fakeDispatcher{}, gateway.Config{})

	msgs, dropped := p.Assemble([]transport.Fragment{
		{Text: "Lima: 18C, cloudy"},
		{Text: "**Lima: 18C, cloudy**"},
		{Media: pdfBytes, Filename: "report.pdf"},
		{Media: pdfBytes, Filename: "copy.pdf"},
		{Media: pdfBytes, Text: "Full report attached"},
	})
	if len(msgs) != 3 {
		t.Fatalf("got %d messages, want 3: %+v", len(msgs), msgs)
	}
	if dropped != 2 {
		t.Errorf("dropped = %d, want 2", dropped)
	}
	if msgs[1].Attachments[0].Filename != "report.pdf" {
		t.Errorf("Filename = %q, want the original name", msgs[1].Attachments[0].Filename)
	}
	if msgs[2].Body != "Full report attached" {
		t.Errorf("caption = %q", msgs[2].Body)
	}
}

func TestAssemble_ImageInformativeness(t *testing.T) {
	p := newProvider(t, &fakeDispatcher{}, gateway.Config{})

	msgs, dropped := p.Assemble([]transport.Fragment{
		{Media: pngBytes},
		{Media: pngBytes, Text: "logo"},
		{Media: pngBytes, Text: "Radar map for Lima, updated 10:00"},
		{Media: pdfBytes},
	})
	if dropped != 2 {
		t.Errorf("dropped = %d, want 2", dropped)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if msgs[0].Attachments[0].Kind != media.KindImage || msgs[0].Attachments[0].MIME != media.MIMEPNG {
		t.Errorf("first attachment = %+v", msgs[0].Attachments[0])
	}
	if msgs[1].Attachments[0].Kind != media.KindDocument {
		t.Errorf("documents are kept without caption, got %+v", msgs[1].Attachments[0])
	}
}

func TestAssemble_TruncatesLongText(t *testing.T) {
	p := newProvider(t, &fakeDispatcher{}, gateway.Config{MaxTextLength: 200})

	msgs, _ := p.Assemble([]transport.Fragment{{Text: longText(40)}})
	if len(msgs) != 1 {
		t.Fatalf("got %d messages", len(msgs))
	}
	if n := len([]rune(msgs[0].Body)); n > 200 {
		t.Errorf("body has %d runes, want <= 200", n)
	}
}

func TestNewAttachment_RejectsMismatchedKind(t *testing.T) {
	cases := []media.Classification{
		{Kind: media.KindImage, MIME: media.MIMEPDF},
		{Kind: media.KindDocument, MIME: media.MIMEJPEG},
		{Kind: media.KindAudio, MIME: ""},
		{Kind: "sticker", MIME: "image/webp"},
	}
	for _, c := range cases {
		if _, err := gateway.NewAttachment(c, pdfBytes, ""); err == nil {
			t.Errorf("NewAttachment(%+v) should fail", c)
		}
	}
	att, err := gateway.NewAttachment(media.Classification{Kind: media.KindDocument, MIME: media.MIMEText}, []byte("hi"), "a.txt")
	if err != nil {
		t.Fatalf("NewAttachment: %v", err)
	}
	if att.URL != "data:text/plain;base64,aGk=" || att.Size != 2 {
		t.Errorf("attachment = %+v", att)
	}
}

// End to end over the in-memory transport: a status notice, a long text and
// a PDF arrive for one command and produce one text and one document.
func TestExecute_OverTransport(t *testing.T) {
	mem := transporttest.New()
	r := correlation.NewRouter(correlation.Config{
		CheckInterval:   10 * time.Millisecond,
		StabilityChecks: 5,
		Timeout:         3 * time.Second,
	}, nil)
	t.Cleanup(r.Close)
	d := dispatch.New(mem, r, nil, dispatch.WithStatusFilter(newSanitizer(t)))

	mem.OnSend = func(m *transporttest.Memory, s transporttest.Sent) {
		go func() {
			m.Deliver(transport.Fragment{MessageID: "$a", Sender: s.Target, Text: "⏳ Consultando...", ReplyTo: s.ID})
			m.Deliver(transport.Fragment{MessageID: "$b", Sender: s.Target, Text: longText(40), ReplyTo: s.ID})
			m.Deliver(transport.Fragment{MessageID: "$c", Sender: s.Target, Media: pdfBytes, MediaHint: "application/pdf", ReplyTo: s.ID})
		}()
	}
	p := newProvider(t, d, gateway.Config{})

	res, err := p.Execute(context.Background(), gateway.Payload{Raw: "/w lima", Command: "/weather"}, gateway.Context{UserID: "u1"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Meta.State != correlation.StateSettled {
		t.Errorf("state = %s, want settled", res.Meta.State)
	}
	if len(res.Messages) != 2 {
		t.Fatalf("got %d messages, want 2", len(res.Messages))
	}
	if len(res.Messages[0].Attachments) != 0 || len(res.Messages[1].Attachments) != 1 {
		t.Errorf("want text then document, got %+v", res.Messages)
	}
}

// The bot posts a progress notice and only answers after a pause longer than
// the stability window. The notice must not settle the window.
func TestExecute_StatusNoticeThenSlowReply(t *testing.T) {
	mem := transporttest.New()
	r := correlation.NewRouter(correlation.Config{
		CheckInterval:   10 * time.Millisecond,
		StabilityChecks: 5,
		Timeout:         3 * time.Second,
	}, nil)
	t.Cleanup(r.Close)
	d := dispatch.New(mem, r, nil, dispatch.WithStatusFilter(newSanitizer(t)))

	mem.OnSend = func(m *transporttest.Memory, s transporttest.Sent) {
		go func() {
			m.Deliver(transport.Fragment{MessageID: "$a", Sender: s.Target, Text: "⏳ Consultando..."})
			time.Sleep(300 * time.Millisecond)
			m.Deliver(transport.Fragment{MessageID: "$b", Sender: s.Target, Text: longText(40)})
		}()
	}
	p := newProvider(t, d, gateway.Config{})

	res, err := p.Execute(context.Background(), gateway.Payload{Raw: "/w lima", Command: "/weather"}, gateway.Context{UserID: "u1"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Meta.State != correlation.StateSettled {
		t.Fatalf("state = %s, want settled", res.Meta.State)
	}
	if len(res.Messages) != 1 {
		t.Fatalf("got %d messages, want 1", len(res.Messages))
	}
	if res.Meta.Synthetic || !strings.Contains(res.Messages[0].Body, "Station 40") {
		t.Errorf("reply text lost, got %+v", res.Messages[0])
	}
	if res.Meta.Fragments != 1 {
		t.Errorf("Meta.Fragments = %d, want 1", res.Meta.Fragments)
	}
}
