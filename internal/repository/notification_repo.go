package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/noah-isme/kabar-go-api/internal/models"
)

// NotificationRepository handles persistence for notification entities.
type NotificationRepository interface {
	Create(ctx context.Context, notification *models.Notification) error
	ListByUser(ctx context.Context, userID string, unreadOnly bool, limit, offset int) ([]models.Notification, error)
	MarkRead(ctx context.Context, id uint, userID string) (models.Notification, error)
	CountUnread(ctx context.Context, userID string) (int64, error)
	HasRecentFrom(ctx context.Context, userID, senderID, notificationType string, since time.Time) (bool, error)
}

type notificationRepository struct {
	db *gorm.DB
}

// NewNotificationRepository constructs a repository backed by GORM.
func NewNotificationRepository(db *gorm.DB) NotificationRepository {
	return &notificationRepository{db: db}
}

func (r *notificationRepository) Create(ctx context.Context, notification *models.Notification) error {
	return r.db.WithContext(ctx).Create(notification).Error
}

func (r *notificationRepository) ListByUser(ctx context.Context, userID string, unreadOnly bool, limit, offset int) ([]models.Notification, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	query := r.db.WithContext(ctx).Where("user_id = ?", userID)
	if unreadOnly {
		query = query.Where("read = ?", false)
	}

	var notifications []models.Notification
	if err := query.Order("created_at DESC").Offset(offset).Limit(limit).Find(&notifications).Error; err != nil {
		return nil, err
	}

	return notifications, nil
}

func (r *notificationRepository) MarkRead(ctx context.Context, id uint, userID string) (models.Notification, error) {
	var notification models.Notification
	if err := r.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).First(&notification).Error; err != nil {
		return models.Notification{}, err
	}

	if notification.Read {
		return notification, nil
	}

	notification.Read = true
	if err := r.db.WithContext(ctx).Save(&notification).Error; err != nil {
		return models.Notification{}, err
	}

	return notification, nil
}

// CountUnread derives the badge count from the store on every call so the
// counter can never drift from the underlying records.
func (r *notificationRepository) CountUnread(ctx context.Context, userID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Notification{}).
		Where("user_id = ? AND read = ?", userID, false).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (r *notificationRepository) HasRecentFrom(ctx context.Context, userID, senderID, notificationType string, since time.Time) (bool, error) {
	var notification models.Notification
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND sender_id = ? AND type = ? AND created_at >= ?", userID, senderID, notificationType, since).
		First(&notification).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
