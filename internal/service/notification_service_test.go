package service

import (
	"context"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/noah-isme/kabar-go-api/internal/dto"
	"github.com/noah-isme/kabar-go-api/internal/models"
	"github.com/noah-isme/kabar-go-api/internal/repository"
)

type presenceStub struct {
	online map[string]bool
}

func (p presenceStub) Online(userID string) bool {
	return p.online[userID]
}

func setupNotifications(t *testing.T, db *gorm.DB, online map[string]bool) (NotificationService, *recordingBroadcaster) {
	t.Helper()

	broadcaster := &recordingBroadcaster{}
	validate := validator.New(validator.WithRequiredStructEnabled())
	svc := NewNotificationService(
		repository.NewNotificationRepository(db),
		presenceStub{online: online},
		broadcaster,
		nil,
		validate,
		testLogger(),
	)
	return svc, broadcaster
}

func TestNotifyPersistsAndPushesWhenOnline(t *testing.T) {
	db := setupTestDB(t)
	svc, broadcaster := setupNotifications(t, db, map[string]bool{"bob": true})

	notification, err := svc.Notify(context.Background(), dto.NotificationCreateRequest{
		UserID:   "bob",
		SenderID: "alice",
		Type:     "like",
		Message:  "alice liked your post",
	})
	require.NoError(t, err)
	require.NotZero(t, notification.ID)
	require.False(t, notification.Read)

	pushes := broadcaster.forRoom(UserRoom("bob"))
	require.Len(t, pushes, 1)
	require.Equal(t, dto.EventNotificationReceived, pushes[0].Type)

	payload := pushes[0].Payload.(dto.NotificationReceivedPayload)
	require.Equal(t, notification.ID, payload.Notification.ID)
	require.Equal(t, int64(1), payload.UnreadCount, "unread count derived from the store")
}

func TestNotifyPersistsWithoutPushWhenOffline(t *testing.T) {
	db := setupTestDB(t)
	svc, broadcaster := setupNotifications(t, db, map[string]bool{})

	notification, err := svc.Notify(context.Background(), dto.NotificationCreateRequest{
		UserID:   "bob",
		SenderID: "alice",
		Type:     "follow",
		Message:  "alice followed you",
	})
	require.NoError(t, err)
	require.NotZero(t, notification.ID)

	require.Empty(t, broadcaster.forRoom(UserRoom("bob")), "offline users get no live push")

	// The record waits for the pull path.
	listed, err := svc.List(context.Background(), "bob", true, 0, 0)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	require.Equal(t, "alice followed you", listed[0].Message)
}

func TestNotifySkipsSelfNotification(t *testing.T) {
	db := setupTestDB(t)
	svc, broadcaster := setupNotifications(t, db, map[string]bool{"alice": true})

	_, err := svc.Notify(context.Background(), dto.NotificationCreateRequest{
		UserID:   "alice",
		SenderID: "alice",
		Type:     "like",
		Message:  "you liked your own post",
	})
	require.ErrorIs(t, err, ErrSelfNotification)

	var count int64
	require.NoError(t, db.Model(&models.Notification{}).Count(&count).Error)
	require.Zero(t, count)
	require.Empty(t, broadcaster.forRoom(UserRoom("alice")))
}

func TestNotifySuppressesRapidDuplicates(t *testing.T) {
	db := setupTestDB(t)
	svc, _ := setupNotifications(t, db, map[string]bool{})

	first, err := svc.Notify(context.Background(), dto.NotificationCreateRequest{
		UserID:   "bob",
		SenderID: "alice",
		Type:     "like",
		Message:  "alice liked your post",
	})
	require.NoError(t, err)
	require.NotZero(t, first.ID)

	second, err := svc.Notify(context.Background(), dto.NotificationCreateRequest{
		UserID:   "bob",
		SenderID: "alice",
		Type:     "like",
		Message:  "alice liked your post",
	})
	require.NoError(t, err)
	require.Zero(t, second.ID, "duplicate within the window returns an empty response")

	var count int64
	require.NoError(t, db.Model(&models.Notification{}).Count(&count).Error)
	require.Equal(t, int64(1), count)
}

func TestNotifyCommentsAreNeverSuppressed(t *testing.T) {
	db := setupTestDB(t)
	svc, _ := setupNotifications(t, db, map[string]bool{})

	for i := 0; i < 2; i++ {
		notification, err := svc.Notify(context.Background(), dto.NotificationCreateRequest{
			UserID:   "bob",
			SenderID: "alice",
			Type:     "comment",
			Message:  "alice commented on your post",
		})
		require.NoError(t, err)
		require.NotZero(t, notification.ID)
	}

	var count int64
	require.NoError(t, db.Model(&models.Notification{}).Count(&count).Error)
	require.Equal(t, int64(2), count, "each comment is a distinct notification")
}

func TestNotifyValidatesInput(t *testing.T) {
	db := setupTestDB(t)
	svc, _ := setupNotifications(t, db, map[string]bool{})

	var validationErrors validator.ValidationErrors
	_, err := svc.Notify(context.Background(), dto.NotificationCreateRequest{
		UserID:   "bob",
		SenderID: "alice",
		Type:     "unsupported",
		Message:  "nope",
	})
	require.ErrorAs(t, err, &validationErrors)
}

func TestNotifyStripsMarkupFromMessage(t *testing.T) {
	db := setupTestDB(t)
	svc, _ := setupNotifications(t, db, map[string]bool{})

	notification, err := svc.Notify(context.Background(), dto.NotificationCreateRequest{
		UserID:   "bob",
		SenderID: "alice",
		Type:     "mention",
		Message:  `alice <script>alert("x")</script>mentioned you`,
	})
	require.NoError(t, err)
	require.Equal(t, "alice mentioned you", notification.Message)
}

func TestMarkReadAndUnreadCount(t *testing.T) {
	db := setupTestDB(t)
	svc, _ := setupNotifications(t, db, map[string]bool{})

	first, err := svc.Notify(context.Background(), dto.NotificationCreateRequest{
		UserID:   "bob",
		SenderID: "alice",
		Type:     "like",
		Message:  "alice liked your post",
	})
	require.NoError(t, err)

	_, err = svc.Notify(context.Background(), dto.NotificationCreateRequest{
		UserID:   "bob",
		SenderID: "carol",
		Type:     "follow",
		Message:  "carol followed you",
	})
	require.NoError(t, err)

	count, err := svc.UnreadCount(context.Background(), "bob")
	require.NoError(t, err)
	require.Equal(t, int64(2), count)

	updated, err := svc.MarkRead(context.Background(), first.ID, "bob")
	require.NoError(t, err)
	require.True(t, updated.Read)

	count, err = svc.UnreadCount(context.Background(), "bob")
	require.NoError(t, err)
	require.Equal(t, int64(1), count)

	// Marking again changes nothing.
	updated, err = svc.MarkRead(context.Background(), first.ID, "bob")
	require.NoError(t, err)
	require.True(t, updated.Read)

	count, err = svc.UnreadCount(context.Background(), "bob")
	require.NoError(t, err)
	require.Equal(t, int64(1), count)
}

func TestSubscribeReceivesBrokerPush(t *testing.T) {
	db := setupTestDB(t)
	svc, _ := setupNotifications(t, db, map[string]bool{})

	stream, cleanup := svc.Subscribe("bob")
	defer cleanup()

	sent, err := svc.Notify(context.Background(), dto.NotificationCreateRequest{
		UserID:   "bob",
		SenderID: "alice",
		Type:     "message",
		Message:  "alice sent you a message",
	})
	require.NoError(t, err)

	select {
	case received := <-stream:
		require.Equal(t, sent.ID, received.ID)
	default:
		t.Fatal("expected notification on the subscription stream")
	}
}
