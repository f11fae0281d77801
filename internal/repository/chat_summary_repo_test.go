package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/noah-isme/kabar-go-api/internal/models"
)

func TestChatSummaryApplyMessageBumpsUnreadForOthers(t *testing.T) {
	db := setupTestDB(t)
	repo := NewChatSummaryRepository(db)

	summary := models.ChatSummary{
		ChatID:       "chat-1",
		Participants: datatypes.NewJSONSlice([]string{"alice", "bob", "carol"}),
		UnreadCounts: datatypes.JSONMap{},
	}
	require.NoError(t, db.Create(&summary).Error)

	message := models.ChatMessage{ID: 7, ChatID: "chat-1", SenderID: "alice"}
	updated, err := repo.ApplyMessage(context.Background(), message)
	require.NoError(t, err)

	require.Equal(t, uint(7), updated.LastMessageID)
	require.Equal(t, 0, UnreadFor(updated, "alice"), "the sender never gains unread")
	require.Equal(t, 1, UnreadFor(updated, "bob"))
	require.Equal(t, 1, UnreadFor(updated, "carol"))

	updated, err = repo.ApplyMessage(context.Background(), models.ChatMessage{ID: 8, ChatID: "chat-1", SenderID: "bob"})
	require.NoError(t, err)
	require.Equal(t, 1, UnreadFor(updated, "bob"))
	require.Equal(t, 2, UnreadFor(updated, "carol"))
}

func TestChatSummaryApplyMessageCreatesMissingSummary(t *testing.T) {
	db := setupTestDB(t)
	repo := NewChatSummaryRepository(db)

	updated, err := repo.ApplyMessage(context.Background(), models.ChatMessage{ID: 1, ChatID: "chat-new", SenderID: "alice"})
	require.NoError(t, err)
	require.Equal(t, "chat-new", updated.ChatID)
	require.Equal(t, []string{"alice"}, []string(updated.Participants))
}

func TestChatSummaryResetUnread(t *testing.T) {
	db := setupTestDB(t)
	repo := NewChatSummaryRepository(db)

	summary := models.ChatSummary{
		ChatID:       "chat-1",
		Participants: datatypes.NewJSONSlice([]string{"alice", "bob"}),
		UnreadCounts: datatypes.JSONMap{"bob": 4},
	}
	require.NoError(t, db.Create(&summary).Error)

	updated, changed, err := repo.ResetUnread(context.Background(), "chat-1", "bob")
	require.NoError(t, err)
	require.True(t, changed)
	require.Equal(t, 0, UnreadFor(updated, "bob"))

	// Already zero: reported as unchanged.
	_, changed, err = repo.ResetUnread(context.Background(), "chat-1", "bob")
	require.NoError(t, err)
	require.False(t, changed)

	// A user with no counter entry is also a no-op.
	_, changed, err = repo.ResetUnread(context.Background(), "chat-1", "alice")
	require.NoError(t, err)
	require.False(t, changed)
}

func TestChatSummaryResetUnreadUnknownChat(t *testing.T) {
	db := setupTestDB(t)
	repo := NewChatSummaryRepository(db)

	_, _, err := repo.ResetUnread(context.Background(), "missing", "bob")
	require.Error(t, err)
}

func TestChatSummaryListByParticipant(t *testing.T) {
	db := setupTestDB(t)
	repo := NewChatSummaryRepository(db)

	for _, summary := range []models.ChatSummary{
		{ChatID: "chat-1", Participants: datatypes.NewJSONSlice([]string{"alice", "bob"}), UnreadCounts: datatypes.JSONMap{}},
		{ChatID: "chat-2", Participants: datatypes.NewJSONSlice([]string{"alice", "carol"}), UnreadCounts: datatypes.JSONMap{}},
		{ChatID: "chat-3", Participants: datatypes.NewJSONSlice([]string{"bob", "carol"}), UnreadCounts: datatypes.JSONMap{}},
	} {
		record := summary
		require.NoError(t, db.Create(&record).Error)
	}

	summaries, err := repo.ListByParticipant(context.Background(), "alice", 10)
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	for _, summary := range summaries {
		require.Contains(t, []string(summary.Participants), "alice")
	}

	// A user whose id is a substring of another participant must not match.
	summaries, err = repo.ListByParticipant(context.Background(), "ali", 10)
	require.NoError(t, err)
	require.Empty(t, summaries)
}
