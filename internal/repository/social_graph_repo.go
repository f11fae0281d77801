package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/noah-isme/kabar-go-api/internal/models"
)

// SocialGraphRepository is a read-only view over relations owned by the
// profile service. The realtime core consults it for block checks before
// delivering a message and for follower fan-out of presence events.
type SocialGraphRepository interface {
	IsBlocked(ctx context.Context, ownerID, targetID string) (bool, error)
	Followers(ctx context.Context, userID string) ([]string, error)
}

type socialGraphRepository struct {
	db *gorm.DB
}

// NewSocialGraphRepository constructs the read-only social graph view.
func NewSocialGraphRepository(db *gorm.DB) SocialGraphRepository {
	return &socialGraphRepository{db: db}
}

// IsBlocked reports whether ownerID has blocked targetID.
func (r *socialGraphRepository) IsBlocked(ctx context.Context, ownerID, targetID string) (bool, error) {
	var relation models.UserRelation
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND other_user_id = ? AND blocked = ?", ownerID, targetID, true).
		First(&relation).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *socialGraphRepository) Followers(ctx context.Context, userID string) ([]string, error) {
	var relations []models.UserRelation
	err := r.db.WithContext(ctx).
		Where("other_user_id = ? AND following = ?", userID, true).
		Find(&relations).Error
	if err != nil {
		return nil, err
	}

	followers := make([]string, 0, len(relations))
	for _, relation := range relations {
		followers = append(followers, relation.UserID)
	}
	return followers, nil
}
