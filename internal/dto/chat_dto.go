package dto

import (
	"time"

	"github.com/noah-isme/kabar-go-api/internal/models"
)

// ChatSendRequest is the payload of a send_message client event.
// ClientTempID is mandatory: it is the correlation key that lets the sender
// replace its optimistic copy and lets the server deduplicate retries.
type ChatSendRequest struct {
	ChatID       string `json:"chat_id" validate:"required,min=3,max=128"`
	Content      string `json:"text" validate:"required,min=1,max=4000"`
	Type         string `json:"message_type" validate:"omitempty,oneof=text image file system"`
	ClientTempID string `json:"client_temp_id" validate:"required,min=1,max=64"`
}

// ChatHistoryQuery represents query filters for retrieving chat history.
type ChatHistoryQuery struct {
	ChatID string     `query:"chat_id" validate:"required,min=3,max=128"`
	Before *time.Time `query:"before"`
	Limit  int        `query:"limit" validate:"omitempty,min=1,max=100"`
}

// ChatMessageResponse is the serialised representation of a chat message.
type ChatMessageResponse struct {
	ID           uint      `json:"id"`
	ChatID       string    `json:"chat_id"`
	SenderID     string    `json:"sender_id"`
	ClientTempID string    `json:"client_temp_id,omitempty"`
	Content      string    `json:"content"`
	Type         string    `json:"type"`
	ReadBy       []string  `json:"read_by,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// NewMessagePayload is broadcast to a chat room when a message is confirmed.
type NewMessagePayload struct {
	ChatID  string              `json:"chat_id"`
	Message ChatMessageResponse `json:"message"`
}

// ChatUpdatedPayload is pushed to each participant with their own counter.
type ChatUpdatedPayload struct {
	ChatID      string               `json:"chat_id"`
	LastMessage *ChatMessageResponse `json:"last_message,omitempty"`
	UnreadCount int                  `json:"unread_count"`
}

// MessageReadPayload announces that a user caught up on a chat.
type MessageReadPayload struct {
	ChatID string `json:"chat_id"`
	UserID string `json:"user_id"`
}

// ChatSummaryResponse is the REST representation of a chat summary.
type ChatSummaryResponse struct {
	ChatID       string               `json:"chat_id"`
	Participants []string             `json:"participants"`
	LastMessage  *ChatMessageResponse `json:"last_message,omitempty"`
	UnreadCount  int                  `json:"unread_count"`
	UpdatedAt    time.Time            `json:"updated_at"`
}

// NewChatMessageResponse converts a model into a DTO.
func NewChatMessageResponse(message models.ChatMessage) ChatMessageResponse {
	return ChatMessageResponse{
		ID:           message.ID,
		ChatID:       message.ChatID,
		SenderID:     message.SenderID,
		ClientTempID: message.ClientTempID,
		Content:      message.Content,
		Type:         message.Type,
		ReadBy:       message.ReadBy,
		CreatedAt:    message.CreatedAt,
	}
}

// NewChatMessageResponseSlice converts a slice of models into DTOs.
func NewChatMessageResponseSlice(messages []models.ChatMessage) []ChatMessageResponse {
	out := make([]ChatMessageResponse, 0, len(messages))
	for _, message := range messages {
		out = append(out, NewChatMessageResponse(message))
	}
	return out
}
