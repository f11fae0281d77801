package dto

import (
	"time"

	"github.com/noah-isme/kabar-go-api/internal/models"
)

// NotificationCreateRequest describes a domain event turned into an alert.
type NotificationCreateRequest struct {
	UserID   string                 `json:"user_id" validate:"required,max=64"`
	SenderID string                 `json:"sender_id" validate:"required,max=64"`
	Type     string                 `json:"type" validate:"required,oneof=like comment follow message mention"`
	Message  string                 `json:"message" validate:"required,min=1,max=2000"`
	Payload  map[string]interface{} `json:"payload" validate:"omitempty"`
}

// NotificationResponse represents notification data returned to clients.
type NotificationResponse struct {
	ID        uint                   `json:"id"`
	UserID    string                 `json:"user_id"`
	SenderID  string                 `json:"sender_id"`
	Type      string                 `json:"type"`
	Message   string                 `json:"message"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	Read      bool                   `json:"read"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
}

// NotificationReceivedPayload is the live push for a fresh notification.
// UnreadCount is derived from the store at push time, never cached.
type NotificationReceivedPayload struct {
	Notification NotificationResponse `json:"notification"`
	UnreadCount  int64                `json:"unread_count"`
}

// NewNotificationResponse converts a notification model to a DTO.
func NewNotificationResponse(model models.Notification) NotificationResponse {
	return NotificationResponse{
		ID:        model.ID,
		UserID:    model.UserID,
		SenderID:  model.SenderID,
		Type:      model.Type,
		Message:   model.Message,
		Payload:   model.Payload,
		Read:      model.Read,
		CreatedAt: model.CreatedAt,
		UpdatedAt: model.UpdatedAt,
	}
}

// NewNotificationResponseSlice converts a slice to DTOs.
func NewNotificationResponseSlice(items []models.Notification) []NotificationResponse {
	out := make([]NotificationResponse, 0, len(items))
	for _, item := range items {
		out = append(out, NewNotificationResponse(item))
	}
	return out
}
