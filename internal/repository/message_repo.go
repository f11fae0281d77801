package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/noah-isme/kabar-go-api/internal/models"
)

// MessageRepository persists chat messages and their read state.
type MessageRepository interface {
	Save(ctx context.Context, message *models.ChatMessage) error
	FindByClientTempID(ctx context.Context, chatID, senderID, clientTempID string) (models.ChatMessage, error)
	ListByChat(ctx context.Context, chatID string, before time.Time, limit int) ([]models.ChatMessage, error)
	MarkAllRead(ctx context.Context, chatID, userID string) error
}

type messageRepository struct {
	db *gorm.DB
}

// NewMessageRepository constructs a message repository backed by GORM.
func NewMessageRepository(db *gorm.DB) MessageRepository {
	return &messageRepository{db: db}
}

func (r *messageRepository) Save(ctx context.Context, message *models.ChatMessage) error {
	return r.db.WithContext(ctx).Create(message).Error
}

func (r *messageRepository) FindByClientTempID(ctx context.Context, chatID, senderID, clientTempID string) (models.ChatMessage, error) {
	var message models.ChatMessage
	err := r.db.WithContext(ctx).
		Where("chat_id = ? AND sender_id = ? AND client_temp_id = ?", chatID, senderID, clientTempID).
		First(&message).Error
	if err != nil {
		return models.ChatMessage{}, err
	}
	return message, nil
}

func (r *messageRepository) ListByChat(ctx context.Context, chatID string, before time.Time, limit int) ([]models.ChatMessage, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	query := r.db.WithContext(ctx).Where("chat_id = ?", chatID)
	if !before.IsZero() {
		query = query.Where("created_at < ?", before)
	}

	var messages []models.ChatMessage
	if err := query.Order("id DESC").Limit(limit).Find(&messages).Error; err != nil {
		return nil, err
	}

	// Reverse to chronological order ascending for clients.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	return messages, nil
}

func (r *messageRepository) MarkAllRead(ctx context.Context, chatID, userID string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var messages []models.ChatMessage
		if err := tx.Where("chat_id = ?", chatID).Find(&messages).Error; err != nil {
			return err
		}

		for i := range messages {
			if containsUser(messages[i].ReadBy, userID) {
				continue
			}
			messages[i].ReadBy = append(messages[i].ReadBy, userID)
			if err := tx.Model(&messages[i]).Update("read_by", messages[i].ReadBy).Error; err != nil {
				return err
			}
		}

		return nil
	})
}

func containsUser(readBy []string, userID string) bool {
	for _, id := range readBy {
		if id == userID {
			return true
		}
	}
	return false
}
