package models

import (
	"time"

	"gorm.io/datatypes"
)

// ChatMessage represents a single persisted chat message. The unique index
// on (chat_id, sender_id, client_temp_id) makes optimistic client retries
// idempotent: the same send can only ever produce one row.
type ChatMessage struct {
	ID           uint                        `gorm:"primaryKey" json:"id"`
	ChatID       string                      `gorm:"size:128;index;uniqueIndex:ux_chat_sender_temp,priority:1" json:"chat_id"`
	SenderID     string                      `gorm:"size:64;index;uniqueIndex:ux_chat_sender_temp,priority:2" json:"sender_id"`
	ClientTempID string                      `gorm:"size:64;uniqueIndex:ux_chat_sender_temp,priority:3" json:"client_temp_id"`
	Content      string                      `gorm:"type:text" json:"content"`
	Type         string                      `gorm:"size:32;default:text" json:"type"`
	ReadBy       datatypes.JSONSlice[string] `gorm:"type:json" json:"read_by"`
	CreatedAt    time.Time                   `json:"created_at"`
	UpdatedAt    time.Time                   `json:"updated_at"`
}

// ChatSummary is the denormalised per-chat state used by inbox sidebars:
// participants, the last message and per-user unread counters.
type ChatSummary struct {
	ChatID        string                      `gorm:"primaryKey;size:128" json:"chat_id"`
	Participants  datatypes.JSONSlice[string] `gorm:"type:jsonb" json:"participants"`
	LastMessageID uint                        `json:"last_message_id"`
	UnreadCounts  datatypes.JSONMap           `gorm:"type:json" json:"unread_counts"`
	CreatedAt     time.Time                   `json:"created_at"`
	UpdatedAt     time.Time                   `json:"updated_at"`
}
