package models

import (
	"time"

	"gorm.io/datatypes"
)

// Notification represents an alert targeted at a specific user. Records are
// always persisted; live delivery on top is best effort. The read flag is
// the only field that mutates after creation.
type Notification struct {
	ID        uint              `gorm:"primaryKey" json:"id"`
	UserID    string            `gorm:"size:64;index:idx_notifications_user_read,priority:1" json:"user_id"`
	SenderID  string            `gorm:"size:64;index" json:"sender_id"`
	Type      string            `gorm:"size:64;index" json:"type"`
	Message   string            `gorm:"type:text" json:"message"`
	Payload   datatypes.JSONMap `gorm:"type:json" json:"payload"`
	Read      bool              `gorm:"not null;default:false;index:idx_notifications_user_read,priority:2" json:"read"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}
