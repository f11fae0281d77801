package models

import "time"

// UserRelation is a read-only projection of the social graph owned by the
// profile service: one row per (user, other) edge with follow/block flags.
// The realtime core only consumes it, it never writes these rows.
type UserRelation struct {
	UserID      string    `gorm:"primaryKey;size:64" json:"user_id"`
	OtherUserID string    `gorm:"primaryKey;size:64" json:"other_user_id"`
	Following   bool      `gorm:"not null;default:false" json:"following"`
	Blocked     bool      `gorm:"not null;default:false" json:"blocked"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
