// Package matrix is the Matrix transport: it sends commands into the rooms
// of provider bots and turns their replies into transport fragments.
package matrix

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/bdobrica/Hibiki/common/redact"
	"github.com/bdobrica/Hibiki/common/retry"
	"github.com/bdobrica/Hibiki/internal/hibiki/transport"
)

const defaultQueueSize = 256

// Config holds Matrix client configuration.
type Config struct {
	Homeserver  string
	UserID      string
	AccessToken string
	// BotRooms maps each provider bot's user ID to the room it is
	// addressed in.
	BotRooms map[string]string
	// DB persists the sync token across restarts. When nil an in-memory
	// store is used and recent history is replayed on restart.
	DB *sql.DB
	// Log receives mautrix's own logs.
	Log zerolog.Logger
	// QueueSize bounds events waiting for conversion.
	QueueSize int
}

// Client implements transport.Transport over Matrix.
type Client struct {
	client *mautrix.Client
	cfg    Config
	self   id.UserID
	rooms  map[id.UserID]id.RoomID
	// bots lists the accepted senders of each room.
	bots map[id.RoomID]map[id.UserID]struct{}

	connected atomic.Bool
	startedAt time.Time

	mu      sync.RWMutex
	handler transport.InboundHandler

	queue  chan *event.Event
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *slog.Logger
}

var _ transport.Transport = (*Client)(nil)

// New creates a Matrix client. Call Start to begin syncing.
func New(cfg Config, logger *slog.Logger) (*Client, error) {
	if len(cfg.BotRooms) == 0 {
		return nil, errors.New("matrix: no provider bot rooms configured")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}

	mx, err := mautrix.NewClient(cfg.Homeserver, id.UserID(cfg.UserID), cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Matrix client: %w", err)
	}
	mx.Log = cfg.Log

	c := &Client{
		client: mx,
		cfg:    cfg,
		self:   id.UserID(cfg.UserID),
		rooms:  make(map[id.UserID]id.RoomID, len(cfg.BotRooms)),
		bots:   make(map[id.RoomID]map[id.UserID]struct{}),
		queue:  make(chan *event.Event, cfg.QueueSize),
		logger: logger.With("component", "matrix"),
	}
	for bot, room := range cfg.BotRooms {
		b, r := id.UserID(bot), id.RoomID(room)
		c.rooms[b] = r
		if c.bots[r] == nil {
			c.bots[r] = make(map[id.UserID]struct{})
		}
		c.bots[r][b] = struct{}{}
	}

	if cfg.DB != nil {
		mx.Store = newDBSyncStore(cfg.DB)
	} else {
		c.logger.Warn("no database for the sync token; history will replay on restart")
	}
	return c, nil
}

// Start joins the bot rooms and starts the sync loop and the event worker.
// They run until ctx is cancelled or Stop is called.
func (c *Client) Start(ctx context.Context) error {
	for _, room := range c.rooms {
		if err := c.joinRoom(ctx, room); err != nil {
			return fmt.Errorf("failed to join room %s: %w", room, err)
		}
	}

	syncer := c.client.Syncer.(*mautrix.DefaultSyncer)
	syncer.OnSync(func(context.Context, *mautrix.RespSync, string) bool {
		if !c.connected.Swap(true) {
			c.logger.Info("matrix sync established")
		}
		return true
	})
	syncer.OnEventType(event.EventMessage, c.handleEvent)

	ctx, c.cancel = context.WithCancel(ctx)
	c.startedAt = time.Now()

	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		c.syncLoop(ctx)
	}()
	go func() {
		defer c.wg.Done()
		c.worker(ctx)
	}()
	return nil
}

// Stop ends syncing and waits for the background goroutines.
func (c *Client) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.client.StopSync()
	c.wg.Wait()
	c.connected.Store(false)
}

var syncBackoff = retry.Backoff{Min: 2 * time.Second, Max: 5 * time.Minute, Jitter: 0.1}

// syncLoop keeps a sync running, reconnecting with exponential back-off.
func (c *Client) syncLoop(ctx context.Context) {
	failures := 0
	for {
		started := time.Now()
		err := c.client.SyncWithContext(ctx)
		c.connected.Store(false)
		if ctx.Err() != nil || err == nil {
			return
		}
		// A sync that ran for a while was healthy; start the schedule over.
		if time.Since(started) > syncBackoff.Max {
			failures = 0
		}
		failures++
		delay := syncBackoff.Delay(failures)
		c.logger.Error("matrix sync stopped; reconnecting",
			"err", redact.String(err.Error(), c.cfg.AccessToken), "backoff", delay)
		if retry.Wait(ctx, delay) != nil {
			return
		}
	}
}

// Connected reports whether the last sync succeeded.
func (c *Client) Connected() bool {
	return c.connected.Load()
}

// SendMessage posts text in the room of the bot target and returns the event
// ID. target may also be a room ID.
func (c *Client) SendMessage(ctx context.Context, target, text string) (string, error) {
	if !c.Connected() {
		return "", transport.ErrDisconnected
	}
	room, err := c.roomFor(target)
	if err != nil {
		return "", err
	}
	resp, err := c.client.SendText(ctx, room, text)
	if err != nil {
		return "", fmt.Errorf("failed to send message: %w", err)
	}
	return resp.EventID.String(), nil
}

// OnInbound sets the handler for inbound fragments.
func (c *Client) OnInbound(handler transport.InboundHandler) {
	c.mu.Lock()
	c.handler = handler
	c.mu.Unlock()
}

func (c *Client) roomFor(target string) (id.RoomID, error) {
	if strings.HasPrefix(target, "!") {
		if _, ok := c.bots[id.RoomID(target)]; ok {
			return id.RoomID(target), nil
		}
	}
	if room, ok := c.rooms[id.UserID(target)]; ok {
		return room, nil
	}
	return "", fmt.Errorf("no room configured for %q", target)
}

// accepts reports whether evt is a message from a configured bot in its
// room, sent after this client started.
func (c *Client) accepts(evt *event.Event) bool {
	if evt.Sender == c.self {
		return false
	}
	senders, ok := c.bots[evt.RoomID]
	if !ok {
		return false
	}
	if _, ok := senders[evt.Sender]; !ok {
		return false
	}
	return evt.Timestamp >= c.startedAt.UnixMilli()
}

// handleEvent runs on the sync goroutine, so it only filters and queues.
func (c *Client) handleEvent(_ context.Context, evt *event.Event) {
	if !c.accepts(evt) {
		return
	}
	select {
	case c.queue <- evt:
	default:
		c.logger.Warn("inbound queue full; dropping event", "event_id", evt.ID, "sender", evt.Sender)
	}
}

// worker converts queued events in arrival order.
func (c *Client) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-c.queue:
			f, ok := c.convert(ctx, evt)
			if !ok {
				continue
			}
			c.mu.RLock()
			h := c.handler
			c.mu.RUnlock()
			if h != nil {
				h(f)
			}
		}
	}
}

func (c *Client) convert(ctx context.Context, evt *event.Event) (transport.Fragment, bool) {
	content := evt.Content.AsMessage()
	if content == nil {
		return transport.Fragment{}, false
	}

	f := transport.Fragment{
		MessageID:  evt.ID.String(),
		Sender:     evt.Sender.String(),
		Channel:    evt.RoomID.String(),
		ReplyTo:    replyPointer(content),
		ReceivedAt: time.Now(),
	}

	if !isMedia(content.MsgType) {
		f.Text = messageText(content)
		return f, true
	}

	f.Text = caption(content)
	f.MediaHint = mediaHint(content)
	f.Filename = fileName(content)

	data, err := c.download(ctx, content)
	if err != nil {
		// Keep the caption; the attachment is lost.
		c.logger.Warn("failed to download media", "event_id", evt.ID, "err", err)
		return f, f.Text != ""
	}
	f.Media = data
	return f, true
}

func (c *Client) download(ctx context.Context, content *event.MessageEventContent) ([]byte, error) {
	if content.File != nil {
		return nil, errors.New("encrypted media is not supported")
	}
	uri, err := content.URL.Parse()
	if err != nil {
		return nil, fmt.Errorf("invalid content URI %q: %w", content.URL, err)
	}
	return c.client.DownloadBytes(ctx, uri)
}

// joinRoom joins roomID, retrying transient failures.
func (c *Client) joinRoom(ctx context.Context, roomID id.RoomID) error {
	return retry.Do(ctx, retry.DefaultPolicy, func(ctx context.Context) error {
		_, err := c.client.JoinRoomByID(ctx, roomID)
		if err == nil {
			return nil
		}
		// Homeservers answer M_FORBIDDEN for invite-only rooms we are
		// already in.
		if errors.Is(err, mautrix.MForbidden) {
			c.logger.Warn("join refused; assuming membership", "room", roomID)
			return nil
		}
		if errors.Is(err, mautrix.MUnknownToken) {
			return retry.Permanent(err)
		}
		return err
	})
}
