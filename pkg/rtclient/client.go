// Package rtclient is the consuming-side companion of the realtime gateway.
// It keeps a websocket session alive across network failures, tracks room
// membership so reconnects are transparent, and reconciles optimistic
// messages against their server-confirmed copies.
package rtclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Event names mirrored from the gateway wire protocol.
const (
	EventJoinChat    = "join_chat"
	EventLeaveChat   = "leave_chat"
	EventSendMessage = "send_message"
	EventTypingStart = "typing_start"
	EventTypingStop  = "typing_stop"
	EventMarkRead    = "mark_read"
	EventNewMessage  = "new_message"
)

const (
	defaultDialTimeout    = 10 * time.Second
	defaultBackoffInitial = time.Second
	defaultBackoffMax     = 30 * time.Second
)

// ErrClosed is returned by operations on a client after Close.
var ErrClosed = errors.New("rtclient: client closed")

// Envelope is the frame format in both directions.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Handler receives the raw payload of a subscribed event.
type Handler func(payload json.RawMessage)

// Options configures a client.
type Options struct {
	// URL is the websocket endpoint, e.g. wss://host/api/v1/realtime/ws.
	URL string
	// Token is appended as the token query parameter for connect-time auth.
	Token string
	// OnResync runs after every successful reconnect, once tracked rooms
	// have been re-joined. Callers pull history and notifications here.
	OnResync func()
	// ConfirmTimeout bounds how long a sent message may stay unconfirmed.
	ConfirmTimeout time.Duration
	Logger         zerolog.Logger
}

// Client is a reconnecting websocket session. All exported methods are safe
// for concurrent use.
type Client struct {
	url            string
	token          string
	onResync       func()
	confirmTimeout time.Duration
	log            zerolog.Logger

	mu       sync.Mutex
	conn     *websocket.Conn
	writeMu  sync.Mutex
	handlers map[string]map[int]Handler
	nextID   int
	rooms    map[string]struct{}
	closed   bool
	done     chan struct{}
}

// Dial connects and starts the session. The connection is retried with
// exponential backoff until ctx is cancelled or Close is called.
func Dial(ctx context.Context, opts Options) (*Client, error) {
	if opts.URL == "" {
		return nil, errors.New("rtclient: URL is required")
	}

	confirmTimeout := opts.ConfirmTimeout
	if confirmTimeout <= 0 {
		confirmTimeout = 10 * time.Second
	}

	c := &Client{
		url:            opts.URL,
		token:          opts.Token,
		onResync:       opts.OnResync,
		confirmTimeout: confirmTimeout,
		log:            opts.Logger.With().Str("component", "rtclient").Logger(),
		handlers:       make(map[string]map[int]Handler),
		rooms:          make(map[string]struct{}),
		done:           make(chan struct{}),
	}

	conn, err := c.dialOnce(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	go c.run(ctx, conn)
	return c, nil
}

// On subscribes a handler to an event type and returns a disposer that
// removes exactly that subscription.
func (c *Client) On(eventType string, handler Handler) func() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.handlers[eventType]; !exists {
		c.handlers[eventType] = make(map[int]Handler)
	}
	id := c.nextID
	c.nextID++
	c.handlers[eventType][id] = handler

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if handlers, ok := c.handlers[eventType]; ok {
			delete(handlers, id)
			if len(handlers) == 0 {
				delete(c.handlers, eventType)
			}
		}
	}
}

// JoinChat subscribes to a chat room. Membership is remembered and restored
// after every reconnect.
func (c *Client) JoinChat(chatID string) error {
	c.mu.Lock()
	c.rooms[chatID] = struct{}{}
	c.mu.Unlock()

	return c.Emit(EventJoinChat, map[string]string{"chat_id": chatID})
}

// LeaveChat unsubscribes from a chat room and forgets it.
func (c *Client) LeaveChat(chatID string) error {
	c.mu.Lock()
	delete(c.rooms, chatID)
	c.mu.Unlock()

	return c.Emit(EventLeaveChat, map[string]string{"chat_id": chatID})
}

// MarkRead acknowledges a chat as read up to now.
func (c *Client) MarkRead(chatID string) error {
	return c.Emit(EventMarkRead, map[string]string{"chat_id": chatID})
}

// Emit sends one typed event frame.
func (c *Client) Emit(eventType string, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	c.mu.Lock()
	conn := c.conn
	closed := c.closed
	c.mu.Unlock()

	if closed {
		return ErrClosed
	}
	if conn == nil {
		return errors.New("rtclient: not connected")
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteJSON(Envelope{Type: eventType, Payload: raw})
}

// Close terminates the session permanently.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	close(c.done)
	c.mu.Unlock()

	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (c *Client) dialOnce(ctx context.Context) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, defaultDialTimeout)
	defer cancel()

	url := c.url
	if c.token != "" {
		separator := "?"
		for _, r := range url {
			if r == '?' {
				separator = "&"
				break
			}
		}
		url = url + separator + "token=" + c.token
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(dialCtx, url, http.Header{})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn, err
}

// run reads frames until the connection drops, then reconnects with
// exponential backoff for as long as the client is open.
func (c *Client) run(ctx context.Context, conn *websocket.Conn) {
	for {
		c.readLoop(conn)

		select {
		case <-c.done:
			return
		case <-ctx.Done():
			return
		default:
		}

		conn = c.reconnect(ctx)
		if conn == nil {
			return
		}
	}
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		var envelope Envelope
		if err := conn.ReadJSON(&envelope); err != nil {
			c.log.Debug().Err(err).Msg("read loop ended")
			return
		}
		c.dispatch(envelope)
	}
}

func (c *Client) dispatch(envelope Envelope) {
	c.mu.Lock()
	handlers := make([]Handler, 0, len(c.handlers[envelope.Type]))
	for _, handler := range c.handlers[envelope.Type] {
		handlers = append(handlers, handler)
	}
	c.mu.Unlock()

	for _, handler := range handlers {
		handler(envelope.Payload)
	}
}

func (c *Client) reconnect(ctx context.Context) *websocket.Conn {
	backoff := defaultBackoffInitial

	for {
		select {
		case <-c.done:
			return nil
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}

		conn, err := c.dialOnce(ctx)
		if err != nil {
			c.log.Debug().Err(err).Dur("backoff", backoff).Msg("reconnect attempt failed")
			backoff *= 2
			if backoff > defaultBackoffMax {
				backoff = defaultBackoffMax
			}
			continue
		}

		c.mu.Lock()
		c.conn = conn
		rooms := make([]string, 0, len(c.rooms))
		for room := range c.rooms {
			rooms = append(rooms, room)
		}
		c.mu.Unlock()

		for _, room := range rooms {
			if err := c.Emit(EventJoinChat, map[string]string{"chat_id": room}); err != nil {
				c.log.Warn().Err(err).Str("chat_id", room).Msg("failed to re-join room after reconnect")
			}
		}

		// Pushed events during the outage are gone; the resync hook is the
		// caller's chance to pull what was missed.
		if c.onResync != nil {
			c.onResync()
		}

		c.log.Info().Msg("reconnected")
		return conn
	}
}
