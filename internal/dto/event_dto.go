package dto

import "encoding/json"

// Client → server event types carried over the websocket.
const (
	EventJoinChat     = "join_chat"
	EventLeaveChat    = "leave_chat"
	EventJoinPostRoom = "join_post_room"
	EventSendMessage  = "send_message"
	EventTypingStart  = "typing_start"
	EventTypingStop   = "typing_stop"
	EventMarkRead     = "mark_read"
	EventNewPost      = "new_post"
	EventPostLiked    = "post_liked"
	EventNewComment   = "new_comment"
	EventPostDeleted  = "post_deleted"
)

// Server → client event types.
const (
	EventUserOnline           = "user_online"
	EventUserOffline          = "user_offline"
	EventPresenceState        = "presence_state"
	EventNewMessage           = "new_message"
	EventChatUpdated          = "chat_updated"
	EventMessageRead          = "message_read"
	EventUserTyping           = "user_typing"
	EventUserStopTyping       = "user_stop_typing"
	EventPostCreated          = "post_created"
	EventPostLikeUpdated      = "post_like_updated"
	EventCommentAdded         = "comment_added"
	EventPostRemoved          = "post_removed"
	EventFeedUpdated          = "feed_updated"
	EventNotificationReceived = "notification_received"
	EventError                = "error"
)

// ClientEvent is the envelope for every frame a client sends: a type tag
// plus a payload decoded by the gateway based on that tag.
type ClientEvent struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// ServerEvent is the envelope for every frame pushed to clients.
type ServerEvent struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// NewServerEvent builds a server event envelope.
func NewServerEvent(eventType string, payload interface{}) ServerEvent {
	return ServerEvent{Type: eventType, Payload: payload}
}

// RoomPayload identifies a room in join/leave requests. Chat rooms carry the
// chat identifier directly; post rooms are addressed as "post:<id>".
type RoomPayload struct {
	ChatID string `json:"chat_id,omitempty"`
	RoomID string `json:"room_id,omitempty"`
}

// TypingPayload is shared by typing_start/typing_stop in both directions.
type TypingPayload struct {
	ChatID string `json:"chat_id"`
	UserID string `json:"user_id,omitempty"`
}

// PresencePayload announces a user going online or offline.
type PresencePayload struct {
	UserID string `json:"user_id"`
}

// PresenceStatePayload is the online-users snapshot sent once on connect.
type PresenceStatePayload struct {
	OnlineUsers []string `json:"online_users"`
}

// MarkReadPayload acknowledges a chat as read up to now.
type MarkReadPayload struct {
	ChatID string `json:"chat_id"`
}

// ErrorPayload is sent to the offending connection only.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PostEventPayload carries the advisory feed echoes. The gateway does not
// interpret the content beyond the identifiers it routes on.
type PostEventPayload struct {
	PostID       string          `json:"post_id,omitempty"`
	UserID       string          `json:"user_id,omitempty"`
	ReactionType string          `json:"reaction_type,omitempty"`
	LikesCount   int             `json:"likes_count,omitempty"`
	IsLiked      bool            `json:"is_liked,omitempty"`
	CommentCount int             `json:"comment_count,omitempty"`
	DeletedBy    string          `json:"deleted_by,omitempty"`
	Post         json.RawMessage `json:"post,omitempty"`
	Comment      json.RawMessage `json:"comment,omitempty"`
}
