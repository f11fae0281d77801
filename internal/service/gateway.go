package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/kabar-go-api/internal/dto"
	"github.com/noah-isme/kabar-go-api/internal/observability"
	"github.com/noah-isme/kabar-go-api/internal/repository"
)

const (
	gatewaySendBufferSize = 32
	gatewayPingInterval   = 30 * time.Second
)

// ConnectionOptions carries everything the gateway needs about an
// authenticated upgrade. UserID is the canonical identity set by the JWT
// middleware.
type ConnectionOptions struct {
	UserID        string
	CorrelationID string
	Context       context.Context
}

// Gateway accepts authenticated websocket connections, decodes client
// frames, and routes them to the rest of the realtime core. Every
// connection joins the shared feed room and the user's private room on
// register, so targeted pushes need no extra handshake.
type Gateway struct {
	rooms     *RoomRegistry
	presence  *PresenceTracker
	typing    *TypingTracker
	pipeline  *MessagePipeline
	bus       *EventBus
	social    repository.SocialGraphRepository
	heartbeat time.Duration
	logger    zerolog.Logger
}

// gatewayConn is one websocket connection, identified by a generated id so
// a user's tabs are independent room members. It satisfies RoomMember so
// the registry can deliver into its send queue directly.
type gatewayConn struct {
	id      string
	ws      *websocket.Conn
	gateway *Gateway
	options ConnectionOptions
	send    chan dto.ServerEvent
	closed  chan struct{}
	once    sync.Once
	baseCtx context.Context

	mu     sync.Mutex
	joined map[string]struct{}
}

// NewGateway wires the connection layer. The gateway owns the typing
// tracker so expiry broadcasts have somewhere to go, and it installs the
// presence announcements into the shared feed room.
func NewGateway(
	rooms *RoomRegistry,
	presence *PresenceTracker,
	pipeline *MessagePipeline,
	bus *EventBus,
	social repository.SocialGraphRepository,
	typingTTL time.Duration,
	heartbeat time.Duration,
	logger zerolog.Logger,
) *Gateway {
	g := &Gateway{
		rooms:     rooms,
		presence:  presence,
		pipeline:  pipeline,
		bus:       bus,
		social:    social,
		heartbeat: heartbeat,
		logger:    logger.With().Str("component", "gateway").Logger(),
	}

	g.typing = NewTypingTracker(typingTTL, func(chatID, userID string) {
		g.broadcastEverywhere(context.Background(), chatID, dto.NewServerEvent(dto.EventUserStopTyping, dto.TypingPayload{
			ChatID: chatID,
			UserID: userID,
		}))
	}, logger)

	presence.SetHandlers(
		func(userID string) { g.announcePresence(userID, dto.EventUserOnline) },
		func(userID string) { g.announcePresence(userID, dto.EventUserOffline) },
	)

	return g
}

// announcePresence pushes an online/offline transition to the shared feed
// room and directly to each follower's user room, so followers who are not
// watching the feed still see the status change.
func (g *Gateway) announcePresence(userID, eventType string) {
	ctx := context.Background()
	event := dto.NewServerEvent(eventType, dto.PresencePayload{UserID: userID})

	g.broadcastEverywhere(ctx, RoomFeed, event)

	if g.social == nil {
		return
	}
	followers, err := g.social.Followers(ctx, userID)
	if err != nil {
		g.logger.Warn().Err(err).Str("user_id", userID).Msg("follower lookup for presence fan-out failed")
		return
	}
	for _, follower := range followers {
		g.broadcastEverywhere(ctx, UserRoom(follower), event)
	}
}

// Typing exposes the tracker for tests and shutdown.
func (g *Gateway) Typing() *TypingTracker {
	return g.typing
}

// ServeConnection runs the connection until the client goes away. It blocks
// in the reader loop; the caller is the fiber websocket handler goroutine.
func (g *Gateway) ServeConnection(ws *websocket.Conn, opts ConnectionOptions) {
	baseCtx := opts.Context
	if baseCtx == nil {
		baseCtx = context.Background()
	}

	conn := &gatewayConn{
		id:      uuid.NewString(),
		ws:      ws,
		gateway: g,
		options: opts,
		send:    make(chan dto.ServerEvent, gatewaySendBufferSize),
		closed:  make(chan struct{}),
		baseCtx: baseCtx,
		joined:  make(map[string]struct{}),
	}

	conn.join(RoomFeed)
	conn.join(UserRoom(opts.UserID))
	g.presence.Connect(opts.UserID)

	observability.WSConnectionsTotal().Inc()
	observability.WSConnectionsActive().Inc()

	conn.Deliver(dto.NewServerEvent(dto.EventPresenceState, dto.PresenceStatePayload{
		OnlineUsers: g.presence.OnlineUsers(),
	}))

	go conn.writer()
	conn.reader()
}

// broadcastEverywhere pushes locally and mirrors to peer nodes.
func (g *Gateway) broadcastEverywhere(ctx context.Context, roomID string, event dto.ServerEvent, exclude ...string) {
	g.rooms.Broadcast(roomID, event, exclude...)
	if g.bus != nil {
		g.bus.Publish(ctx, roomID, event)
	}
}

// ID implements RoomMember. It is the connection id, not the user id: two
// tabs of the same user coexist in every room.
func (c *gatewayConn) ID() string {
	return c.id
}

// UserID implements RoomMember.
func (c *gatewayConn) UserID() string {
	return c.options.UserID
}

// Deliver implements RoomMember. It never blocks: a full queue means the
// consumer is too slow and the event is dropped.
func (c *gatewayConn) Deliver(event dto.ServerEvent) bool {
	select {
	case <-c.closed:
		return false
	default:
	}

	select {
	case c.send <- event:
		return true
	default:
		return false
	}
}

func (c *gatewayConn) join(roomID string) {
	c.mu.Lock()
	c.joined[roomID] = struct{}{}
	c.mu.Unlock()
	c.gateway.rooms.Join(roomID, c)
}

func (c *gatewayConn) leave(roomID string) {
	c.mu.Lock()
	delete(c.joined, roomID)
	c.mu.Unlock()
	c.gateway.rooms.Leave(roomID, c.id)
}

func (c *gatewayConn) joinedRooms() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	rooms := make([]string, 0, len(c.joined))
	for roomID := range c.joined {
		rooms = append(rooms, roomID)
	}
	return rooms
}

func (c *gatewayConn) reader() {
	defer c.close()

	if c.gateway.heartbeat > 0 {
		_ = c.ws.SetReadDeadline(time.Now().Add(c.gateway.heartbeat))
		c.ws.SetPongHandler(func(string) error {
			return c.ws.SetReadDeadline(time.Now().Add(c.gateway.heartbeat))
		})
	}

	for {
		var event dto.ClientEvent
		if err := c.ws.ReadJSON(&event); err != nil {
			c.gateway.logger.Debug().Err(err).Str("user_id", c.options.UserID).Msg("read loop ended")
			return
		}

		if c.gateway.heartbeat > 0 {
			_ = c.ws.SetReadDeadline(time.Now().Add(c.gateway.heartbeat))
		}

		c.dispatch(event)
	}
}

func (c *gatewayConn) writer() {
	defer c.close()

	for {
		select {
		case event, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.ws.WriteJSON(event); err != nil {
				c.gateway.logger.Debug().Err(err).Msg("write loop terminated")
				return
			}
		case <-time.After(gatewayPingInterval):
			if err := c.ws.WriteMessage(websocket.PingMessage, []byte("keepalive")); err != nil {
				c.gateway.logger.Debug().Err(err).Msg("keepalive ping failed")
				return
			}
		case <-c.closed:
			return
		}
	}
}

// close tears the connection down exactly once: leaves every room, clears
// typing state with the matching stop broadcasts, and commits the presence
// disconnect.
func (c *gatewayConn) close() {
	c.once.Do(func() {
		close(c.closed)

		for _, roomID := range c.joinedRooms() {
			c.gateway.rooms.Leave(roomID, c.id)
		}

		for _, chatID := range c.gateway.typing.StopAllFor(c.options.UserID) {
			c.gateway.broadcastEverywhere(c.baseCtx, chatID, dto.NewServerEvent(dto.EventUserStopTyping, dto.TypingPayload{
				ChatID: chatID,
				UserID: c.options.UserID,
			}))
		}

		c.gateway.presence.Disconnect(c.options.UserID)
		observability.WSConnectionsActive().Dec()

		_ = c.ws.Close()
		c.gateway.logger.Debug().Str("user_id", c.options.UserID).Msg("connection closed")
	})
}

func (c *gatewayConn) dispatch(event dto.ClientEvent) {
	switch event.Type {
	case dto.EventJoinChat:
		c.handleJoinChat(event.Payload)
	case dto.EventLeaveChat:
		c.handleLeaveChat(event.Payload)
	case dto.EventJoinPostRoom:
		c.handleJoinPostRoom(event.Payload)
	case dto.EventSendMessage:
		c.handleSendMessage(event.Payload)
	case dto.EventTypingStart:
		c.handleTyping(event.Payload, true)
	case dto.EventTypingStop:
		c.handleTyping(event.Payload, false)
	case dto.EventMarkRead:
		c.handleMarkRead(event.Payload)
	case dto.EventNewPost, dto.EventPostLiked, dto.EventNewComment, dto.EventPostDeleted:
		c.handleFeedEcho(event.Type, event.Payload)
	default:
		c.sendError("unknown_event", "unrecognized event type: "+event.Type)
	}
}

func (c *gatewayConn) handleJoinChat(raw json.RawMessage) {
	var payload dto.RoomPayload
	if err := json.Unmarshal(raw, &payload); err != nil || strings.TrimSpace(payload.ChatID) == "" {
		c.sendError("bad_payload", "join_chat requires a chat_id")
		return
	}

	c.join(payload.ChatID)

	// Warm the room with the last known message so late joiners are not
	// staring at an empty pane until someone speaks.
	if last := c.gateway.pipeline.CachedLastMessage(c.baseCtx, payload.ChatID); last != nil {
		c.Deliver(dto.NewServerEvent(dto.EventNewMessage, dto.NewMessagePayload{
			ChatID:  payload.ChatID,
			Message: *last,
		}))
	}
}

func (c *gatewayConn) handleLeaveChat(raw json.RawMessage) {
	var payload dto.RoomPayload
	if err := json.Unmarshal(raw, &payload); err != nil || strings.TrimSpace(payload.ChatID) == "" {
		c.sendError("bad_payload", "leave_chat requires a chat_id")
		return
	}

	if c.gateway.typing.Stop(payload.ChatID, c.options.UserID) {
		c.gateway.broadcastEverywhere(c.baseCtx, payload.ChatID, dto.NewServerEvent(dto.EventUserStopTyping, dto.TypingPayload{
			ChatID: payload.ChatID,
			UserID: c.options.UserID,
		}))
	}

	c.leave(payload.ChatID)
}

func (c *gatewayConn) handleJoinPostRoom(raw json.RawMessage) {
	var payload dto.RoomPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		c.sendError("bad_payload", "join_post_room payload is malformed")
		return
	}

	roomID := strings.TrimSpace(payload.RoomID)
	if roomID == "" {
		c.sendError("bad_payload", "join_post_room requires a room_id")
		return
	}
	if !strings.HasPrefix(roomID, "post:") {
		roomID = PostRoom(roomID)
	}

	c.join(roomID)
}

func (c *gatewayConn) handleSendMessage(raw json.RawMessage) {
	var payload dto.ChatSendRequest
	if err := json.Unmarshal(raw, &payload); err != nil {
		c.sendError("bad_payload", "send_message payload is malformed")
		return
	}

	if _, err := c.gateway.pipeline.Send(c.baseCtx, c.options.UserID, payload); err != nil {
		c.sendError(sendErrorCode(err), err.Error())
	}
}

func (c *gatewayConn) handleTyping(raw json.RawMessage, start bool) {
	var payload dto.TypingPayload
	if err := json.Unmarshal(raw, &payload); err != nil || strings.TrimSpace(payload.ChatID) == "" {
		c.sendError("bad_payload", "typing events require a chat_id")
		return
	}

	out := dto.NewServerEvent(dto.EventUserStopTyping, dto.TypingPayload{
		ChatID: payload.ChatID,
		UserID: c.options.UserID,
	})

	if start {
		c.gateway.typing.Start(payload.ChatID, c.options.UserID)
		out = dto.NewServerEvent(dto.EventUserTyping, dto.TypingPayload{
			ChatID: payload.ChatID,
			UserID: c.options.UserID,
		})
	} else if !c.gateway.typing.Stop(payload.ChatID, c.options.UserID) {
		// Already stopped, either by the client racing its own timer or by
		// expiry. Broadcasting again would double the stop event.
		return
	}

	c.gateway.broadcastEverywhere(c.baseCtx, payload.ChatID, out, c.options.UserID)
}

func (c *gatewayConn) handleMarkRead(raw json.RawMessage) {
	var payload dto.MarkReadPayload
	if err := json.Unmarshal(raw, &payload); err != nil || strings.TrimSpace(payload.ChatID) == "" {
		c.sendError("bad_payload", "mark_read requires a chat_id")
		return
	}

	if err := c.gateway.pipeline.MarkRead(c.baseCtx, payload.ChatID, c.options.UserID); err != nil {
		c.sendError(sendErrorCode(err), err.Error())
	}
}

// handleFeedEcho relays advisory post events. The gateway trusts the caller
// already did its own persistence; it only renames and routes.
func (c *gatewayConn) handleFeedEcho(eventType string, raw json.RawMessage) {
	var payload dto.PostEventPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		c.sendError("bad_payload", "post event payload is malformed")
		return
	}
	payload.UserID = c.options.UserID

	switch eventType {
	case dto.EventNewPost:
		c.gateway.broadcastEverywhere(c.baseCtx, RoomFeed, dto.NewServerEvent(dto.EventPostCreated, payload), c.options.UserID)
		c.gateway.broadcastEverywhere(c.baseCtx, RoomFeed, dto.NewServerEvent(dto.EventFeedUpdated, payload), c.options.UserID)
	case dto.EventPostLiked:
		if payload.PostID == "" {
			c.sendError("bad_payload", "post_liked requires a post_id")
			return
		}
		c.gateway.broadcastEverywhere(c.baseCtx, PostRoom(payload.PostID), dto.NewServerEvent(dto.EventPostLikeUpdated, payload), c.options.UserID)
	case dto.EventNewComment:
		if payload.PostID == "" {
			c.sendError("bad_payload", "new_comment requires a post_id")
			return
		}
		c.gateway.broadcastEverywhere(c.baseCtx, PostRoom(payload.PostID), dto.NewServerEvent(dto.EventCommentAdded, payload), c.options.UserID)
	case dto.EventPostDeleted:
		c.gateway.broadcastEverywhere(c.baseCtx, RoomFeed, dto.NewServerEvent(dto.EventPostRemoved, payload), c.options.UserID)
		if payload.PostID != "" {
			c.gateway.broadcastEverywhere(c.baseCtx, PostRoom(payload.PostID), dto.NewServerEvent(dto.EventPostRemoved, payload), c.options.UserID)
		}
	}
}

// sendError reports a failure to the offending connection only. Other room
// members never see it.
func (c *gatewayConn) sendError(code, message string) {
	c.Deliver(dto.NewServerEvent(dto.EventError, dto.ErrorPayload{
		Code:    code,
		Message: message,
	}))
}

func sendErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrChatNotFound):
		return "chat_not_found"
	case errors.Is(err, ErrNotParticipant):
		return "not_participant"
	case errors.Is(err, ErrBlocked):
		return "blocked"
	case errors.Is(err, ErrModerationRejected):
		return "moderation_rejected"
	case errors.Is(err, ErrEmptyContent):
		return "empty_content"
	case errors.Is(err, ErrContentTooLong):
		return "content_too_long"
	default:
		return "invalid_request"
	}
}
