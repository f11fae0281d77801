package repository

import (
	"context"
	"encoding/json"
	"errors"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/noah-isme/kabar-go-api/internal/models"
)

// ChatSummaryRepository maintains the denormalised per-chat state: the
// participant list, the last confirmed message and per-user unread counters.
type ChatSummaryRepository interface {
	Get(ctx context.Context, chatID string) (models.ChatSummary, error)
	ListByParticipant(ctx context.Context, userID string, limit int) ([]models.ChatSummary, error)
	ApplyMessage(ctx context.Context, message models.ChatMessage) (models.ChatSummary, error)
	ResetUnread(ctx context.Context, chatID, userID string) (models.ChatSummary, bool, error)
}

type chatSummaryRepository struct {
	db *gorm.DB
}

// NewChatSummaryRepository constructs a summary repository backed by GORM.
func NewChatSummaryRepository(db *gorm.DB) ChatSummaryRepository {
	return &chatSummaryRepository{db: db}
}

func (r *chatSummaryRepository) Get(ctx context.Context, chatID string) (models.ChatSummary, error) {
	var summary models.ChatSummary
	if err := r.db.WithContext(ctx).First(&summary, "chat_id = ?", chatID).Error; err != nil {
		return models.ChatSummary{}, err
	}
	return summary, nil
}

func (r *chatSummaryRepository) ListByParticipant(ctx context.Context, userID string, limit int) ([]models.ChatSummary, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	query := r.db.WithContext(ctx)
	// The participants column is a JSON array; membership needs dialect SQL.
	if r.db.Dialector.Name() == "postgres" {
		member, err := json.Marshal([]string{userID})
		if err != nil {
			return nil, err
		}
		query = query.Where("participants @> ?", string(member))
	} else {
		query = query.Where("EXISTS (SELECT 1 FROM json_each(participants) WHERE json_each.value = ?)", userID)
	}

	var summaries []models.ChatSummary
	err := query.
		Order("updated_at DESC").
		Limit(limit).
		Find(&summaries).Error
	if err != nil {
		return nil, err
	}

	return summaries, nil
}

// ApplyMessage records a confirmed message on its chat summary: it becomes
// the last message and every participant except the sender gains one unread.
// A missing summary is created lazily with the sender as sole known
// participant; the chat CRUD collaborator owns the full participant list.
func (r *chatSummaryRepository) ApplyMessage(ctx context.Context, message models.ChatMessage) (models.ChatSummary, error) {
	var summary models.ChatSummary

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.First(&summary, "chat_id = ?", message.ChatID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			summary = models.ChatSummary{
				ChatID:       message.ChatID,
				Participants: datatypes.JSONSlice[string]{message.SenderID},
				UnreadCounts: datatypes.JSONMap{},
			}
			if err := tx.Create(&summary).Error; err != nil {
				return err
			}
		} else if err != nil {
			return err
		}

		if summary.UnreadCounts == nil {
			summary.UnreadCounts = datatypes.JSONMap{}
		}

		summary.LastMessageID = message.ID
		for _, participant := range summary.Participants {
			if participant == message.SenderID {
				continue
			}
			summary.UnreadCounts[participant] = unreadCount(summary.UnreadCounts, participant) + 1
		}

		return tx.Save(&summary).Error
	})
	if err != nil {
		return models.ChatSummary{}, err
	}

	return summary, nil
}

// ResetUnread zeroes the unread counter for one participant. The second
// return value reports whether anything changed; resetting an already-read
// chat is a no-op, never a negative count.
func (r *chatSummaryRepository) ResetUnread(ctx context.Context, chatID, userID string) (models.ChatSummary, bool, error) {
	var summary models.ChatSummary
	changed := false

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&summary, "chat_id = ?", chatID).Error; err != nil {
			return err
		}

		if unreadCount(summary.UnreadCounts, userID) == 0 {
			return nil
		}

		summary.UnreadCounts[userID] = float64(0)
		changed = true
		return tx.Save(&summary).Error
	})
	if err != nil {
		return models.ChatSummary{}, false, err
	}

	return summary, changed, nil
}

// unreadCount reads a counter out of the JSON map. Values decoded from JSON
// arrive as float64; values set in process may be int.
func unreadCount(counts datatypes.JSONMap, userID string) int {
	if counts == nil {
		return 0
	}

	switch v := counts[userID].(type) {
	case float64:
		if v < 0 {
			return 0
		}
		return int(v)
	case int:
		if v < 0 {
			return 0
		}
		return v
	default:
		return 0
	}
}

// UnreadFor exposes the counter lookup for services and handlers.
func UnreadFor(summary models.ChatSummary, userID string) int {
	return unreadCount(summary.UnreadCounts, userID)
}
