package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/kabar-go-api/internal/models"
)

func TestMessageRepositoryUniqueIndexRejectsDuplicateTempID(t *testing.T) {
	db := setupTestDB(t)
	repo := NewMessageRepository(db)

	first := models.ChatMessage{ChatID: "chat-1", SenderID: "alice", ClientTempID: "tmp-1", Content: "hello", Type: "text"}
	require.NoError(t, repo.Save(context.Background(), &first))

	duplicate := models.ChatMessage{ChatID: "chat-1", SenderID: "alice", ClientTempID: "tmp-1", Content: "hello again", Type: "text"}
	require.Error(t, repo.Save(context.Background(), &duplicate), "unique (chat, sender, temp id) must reject the retry")

	// Same temp id from a different sender is a different message.
	other := models.ChatMessage{ChatID: "chat-1", SenderID: "bob", ClientTempID: "tmp-1", Content: "mine", Type: "text"}
	require.NoError(t, repo.Save(context.Background(), &other))
}

func TestMessageRepositoryFindByClientTempID(t *testing.T) {
	db := setupTestDB(t)
	repo := NewMessageRepository(db)

	saved := models.ChatMessage{ChatID: "chat-1", SenderID: "alice", ClientTempID: "tmp-1", Content: "hello", Type: "text"}
	require.NoError(t, repo.Save(context.Background(), &saved))

	found, err := repo.FindByClientTempID(context.Background(), "chat-1", "alice", "tmp-1")
	require.NoError(t, err)
	require.Equal(t, saved.ID, found.ID)

	_, err = repo.FindByClientTempID(context.Background(), "chat-1", "alice", "tmp-unknown")
	require.Error(t, err)
}

func TestMessageRepositoryListByChatPagesBackwards(t *testing.T) {
	db := setupTestDB(t)
	repo := NewMessageRepository(db)

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 6; i++ {
		message := models.ChatMessage{
			ChatID:       "chat-1",
			SenderID:     "alice",
			ClientTempID: fmt.Sprintf("tmp-%d", i),
			Content:      fmt.Sprintf("message %d", i),
			Type:         "text",
			CreatedAt:    base.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, repo.Save(context.Background(), &message))
	}

	page, err := repo.ListByChat(context.Background(), "chat-1", time.Time{}, 4)
	require.NoError(t, err)
	require.Len(t, page, 4)
	require.Equal(t, "message 2", page[0].Content, "page holds the newest messages in ascending order")
	require.Equal(t, "message 5", page[3].Content)

	older, err := repo.ListByChat(context.Background(), "chat-1", page[0].CreatedAt, 4)
	require.NoError(t, err)
	require.Len(t, older, 2)
	require.Equal(t, "message 0", older[0].Content)
	require.Equal(t, "message 1", older[1].Content)
}

func TestMessageRepositoryMarkAllReadIsIdempotent(t *testing.T) {
	db := setupTestDB(t)
	repo := NewMessageRepository(db)

	for i := 0; i < 3; i++ {
		message := models.ChatMessage{ChatID: "chat-1", SenderID: "alice", ClientTempID: fmt.Sprintf("tmp-%d", i), Content: "hi", Type: "text"}
		require.NoError(t, repo.Save(context.Background(), &message))
	}

	require.NoError(t, repo.MarkAllRead(context.Background(), "chat-1", "bob"))
	require.NoError(t, repo.MarkAllRead(context.Background(), "chat-1", "bob"))

	messages, err := repo.ListByChat(context.Background(), "chat-1", time.Time{}, 10)
	require.NoError(t, err)
	for _, message := range messages {
		count := 0
		for _, reader := range message.ReadBy {
			if reader == "bob" {
				count++
			}
		}
		require.Equal(t, 1, count, "repeated mark-read must not duplicate the reader entry")
	}
}
