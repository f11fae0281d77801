package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/kabar-go-api/internal/dto"
	"github.com/noah-isme/kabar-go-api/internal/models"
	"github.com/noah-isme/kabar-go-api/internal/observability"
	"github.com/noah-isme/kabar-go-api/internal/repository"
)

const (
	notificationBufferSize = 16
	duplicateWindow        = 5 * time.Second
)

// ErrSelfNotification marks a suppressed self-notification. Callers treat it
// as a skip, not a failure.
var ErrSelfNotification = errors.New("self notification suppressed")

// NotificationService turns domain events into persisted notification
// records and delivers them live when the recipient is online. Persistence
// always happens; the live push on top is best effort.
type NotificationService interface {
	Notify(ctx context.Context, payload dto.NotificationCreateRequest) (dto.NotificationResponse, error)
	List(ctx context.Context, userID string, unreadOnly bool, limit, offset int) ([]dto.NotificationResponse, error)
	MarkRead(ctx context.Context, id uint, userID string) (dto.NotificationResponse, error)
	UnreadCount(ctx context.Context, userID string) (int64, error)
	Subscribe(userID string) (<-chan dto.NotificationResponse, func())
}

type notificationService struct {
	repo      repository.NotificationRepository
	presence  PresenceView
	rooms     Broadcaster
	bus       *EventBus
	validator *validator.Validate
	sanitizer *bluemonday.Policy
	tracer    trace.Tracer
	logger    zerolog.Logger
	broker    *notificationBroker
}

// notificationBroker feeds the SSE stream for clients without a websocket.
type notificationBroker struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan dto.NotificationResponse]struct{}
}

// NewNotificationService constructs the fan-out service. bus may be nil.
func NewNotificationService(
	repo repository.NotificationRepository,
	presence PresenceView,
	rooms Broadcaster,
	bus *EventBus,
	validate *validator.Validate,
	logger zerolog.Logger,
) NotificationService {
	return &notificationService{
		repo:      repo,
		presence:  presence,
		rooms:     rooms,
		bus:       bus,
		validator: validate,
		sanitizer: bluemonday.StrictPolicy(),
		tracer:    otel.Tracer("github.com/noah-isme/kabar-go-api/internal/service/notification"),
		logger:    logger.With().Str("component", "notification_service").Logger(),
		broker: &notificationBroker{
			subscribers: make(map[string]map[chan dto.NotificationResponse]struct{}),
		},
	}
}

func (s *notificationService) Notify(ctx context.Context, payload dto.NotificationCreateRequest) (dto.NotificationResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.NotificationResponse{}, err
	}

	if payload.UserID == payload.SenderID {
		return dto.NotificationResponse{}, ErrSelfNotification
	}

	cleanMessage := strings.TrimSpace(s.sanitizer.Sanitize(payload.Message))
	if cleanMessage == "" {
		return dto.NotificationResponse{}, errors.New("notification message empty after sanitization")
	}

	ctx, span := s.tracer.Start(ctx, "notifications.notify", trace.WithAttributes(
		attribute.String("notification.user_id", payload.UserID),
		attribute.String("notification.type", payload.Type),
	))
	defer span.End()

	// Rapid-fire repeats of the same gesture (double-tapped like button,
	// reconnect loops) collapse into one record.
	duplicate, err := s.repo.HasRecentFrom(ctx, payload.UserID, payload.SenderID, payload.Type, time.Now().Add(-duplicateWindow))
	if err != nil {
		s.logger.Warn().Err(err).Msg("duplicate check failed, continuing")
	} else if duplicate && payload.Type != "comment" {
		span.SetAttributes(attribute.Bool("notification.duplicate_suppressed", true))
		return dto.NotificationResponse{}, nil
	}

	model := models.Notification{
		UserID:   payload.UserID,
		SenderID: payload.SenderID,
		Type:     payload.Type,
		Message:  cleanMessage,
		Payload:  payload.Payload,
	}

	if err := s.repo.Create(ctx, &model); err != nil {
		span.RecordError(err)
		return dto.NotificationResponse{}, err
	}

	response := dto.NewNotificationResponse(model)
	s.deliver(ctx, response)

	observability.NotificationsPublished().WithLabelValues(response.Type).Inc()

	return response, nil
}

// deliver attempts the live push. The record is already persisted, so any
// failure here only delays the notification until the next pull.
func (s *notificationService) deliver(ctx context.Context, notification dto.NotificationResponse) {
	s.broker.broadcast(notification.UserID, notification)

	if s.presence != nil && !s.presence.Online(notification.UserID) {
		return
	}

	unread, err := s.repo.CountUnread(ctx, notification.UserID)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to derive unread count for push")
	}

	event := dto.NewServerEvent(dto.EventNotificationReceived, dto.NotificationReceivedPayload{
		Notification: notification,
		UnreadCount:  unread,
	})
	s.rooms.Broadcast(UserRoom(notification.UserID), event)
	if s.bus != nil {
		s.bus.Publish(ctx, UserRoom(notification.UserID), event)
	}
}

func (s *notificationService) List(ctx context.Context, userID string, unreadOnly bool, limit, offset int) ([]dto.NotificationResponse, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, errors.New("user id is required")
	}

	notifications, err := s.repo.ListByUser(ctx, userID, unreadOnly, limit, offset)
	if err != nil {
		return nil, err
	}

	return dto.NewNotificationResponseSlice(notifications), nil
}

func (s *notificationService) MarkRead(ctx context.Context, id uint, userID string) (dto.NotificationResponse, error) {
	ctx, span := s.tracer.Start(ctx, "notifications.mark_read", trace.WithAttributes(
		attribute.String("notification.user_id", userID),
	))
	defer span.End()

	notification, err := s.repo.MarkRead(ctx, id, userID)
	if err != nil {
		span.RecordError(err)
		return dto.NotificationResponse{}, err
	}

	return dto.NewNotificationResponse(notification), nil
}

func (s *notificationService) UnreadCount(ctx context.Context, userID string) (int64, error) {
	return s.repo.CountUnread(ctx, userID)
}

func (s *notificationService) Subscribe(userID string) (<-chan dto.NotificationResponse, func()) {
	channel := make(chan dto.NotificationResponse, notificationBufferSize)

	s.broker.subscribe(userID, channel)

	cleanup := func() {
		s.broker.unsubscribe(userID, channel)
	}

	return channel, cleanup
}

func (b *notificationBroker) subscribe(userID string, ch chan dto.NotificationResponse) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.subscribers[userID]; !exists {
		b.subscribers[userID] = make(map[chan dto.NotificationResponse]struct{})
	}
	b.subscribers[userID][ch] = struct{}{}
}

func (b *notificationBroker) unsubscribe(userID string, ch chan dto.NotificationResponse) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if subscribers, ok := b.subscribers[userID]; ok {
		delete(subscribers, ch)
		close(ch)
		if len(subscribers) == 0 {
			delete(b.subscribers, userID)
		}
	}
}

func (b *notificationBroker) broadcast(userID string, notification dto.NotificationResponse) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	subscribers := b.subscribers[userID]
	for ch := range subscribers {
		select {
		case ch <- notification:
		default:
		}
	}
}
