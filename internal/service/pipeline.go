package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/noah-isme/kabar-go-api/internal/dto"
	"github.com/noah-isme/kabar-go-api/internal/models"
	"github.com/noah-isme/kabar-go-api/internal/observability"
	"github.com/noah-isme/kabar-go-api/internal/repository"
	"github.com/noah-isme/kabar-go-api/pkg/moderation"
)

const lastMessageTTL = 30 * time.Minute

// Pipeline errors surfaced to the sending connection.
var (
	ErrChatNotFound       = errors.New("chat not found")
	ErrNotParticipant     = errors.New("sender is not a chat participant")
	ErrBlocked            = errors.New("sender is blocked by a chat participant")
	ErrModerationRejected = errors.New("message rejected by moderation")
	ErrEmptyContent       = errors.New("message content empty after sanitization")
	ErrContentTooLong     = errors.New("message content exceeds the configured limit")
)

// Defaults applied when the deployment config leaves a limit unset.
const (
	defaultMaxMessageLength = 4000
	defaultHistoryPageSize  = 50
)

// PipelineLimits carries the operator-tunable bounds of the pipeline.
type PipelineLimits struct {
	// MaxMessageLength bounds the sanitized content length in runes.
	MaxMessageLength int
	// HistoryPageSize is the page size used when a history or summary
	// query does not name one.
	HistoryPageSize int
}

// MessagePipeline validates, deduplicates, moderates, persists and fans out
// chat messages, and keeps chat summaries and unread counters in step.
//
// Sends to one chat are applied one at a time under that chat's lock, which
// yields a total order per chat; sends to different chats proceed in
// parallel.
type MessagePipeline struct {
	messages   repository.MessageRepository
	summaries  repository.ChatSummaryRepository
	social     repository.SocialGraphRepository
	moderation moderation.Checker
	rooms      Broadcaster
	bus        *EventBus
	redis      *redis.Client
	cacheKey   string
	limits     PipelineLimits
	validator  *validator.Validate
	sanitizer  *bluemonday.Policy
	tracer     trace.Tracer
	logger     zerolog.Logger

	mu        sync.Mutex
	chatLocks map[string]*sync.Mutex
}

// NewMessagePipeline constructs the pipeline. bus and redisClient may be nil
// for single-node deployments and tests.
func NewMessagePipeline(
	messages repository.MessageRepository,
	summaries repository.ChatSummaryRepository,
	social repository.SocialGraphRepository,
	checker moderation.Checker,
	rooms Broadcaster,
	bus *EventBus,
	redisClient *redis.Client,
	channelBase string,
	limits PipelineLimits,
	validate *validator.Validate,
	logger zerolog.Logger,
) *MessagePipeline {
	sanitizer := bluemonday.UGCPolicy()
	sanitizer.AllowElements("br")

	cacheKey := ""
	if channelBase != "" {
		cacheKey = channelBase + ":chat:last"
	}

	if limits.MaxMessageLength <= 0 {
		limits.MaxMessageLength = defaultMaxMessageLength
	}
	if limits.HistoryPageSize <= 0 {
		limits.HistoryPageSize = defaultHistoryPageSize
	}

	return &MessagePipeline{
		messages:   messages,
		summaries:  summaries,
		social:     social,
		moderation: checker,
		rooms:      rooms,
		bus:        bus,
		redis:      redisClient,
		cacheKey:   cacheKey,
		limits:     limits,
		validator:  validate,
		sanitizer:  sanitizer,
		tracer:     otel.Tracer("github.com/noah-isme/kabar-go-api/internal/service/pipeline"),
		logger:     logger.With().Str("component", "message_pipeline").Logger(),
		chatLocks:  make(map[string]*sync.Mutex),
	}
}

// Send runs the full pipeline for one message. A retry carrying a
// clientTempID that already produced a confirmed message returns that
// message unchanged without persisting anything new.
func (p *MessagePipeline) Send(ctx context.Context, senderID string, payload dto.ChatSendRequest) (dto.ChatMessageResponse, error) {
	payload.ChatID = strings.TrimSpace(payload.ChatID)
	payload.ClientTempID = strings.TrimSpace(payload.ClientTempID)

	if err := p.validator.Struct(payload); err != nil {
		return dto.ChatMessageResponse{}, err
	}

	clean := strings.TrimSpace(p.sanitizer.Sanitize(payload.Content))
	if clean == "" {
		return dto.ChatMessageResponse{}, ErrEmptyContent
	}
	if len([]rune(clean)) > p.limits.MaxMessageLength {
		return dto.ChatMessageResponse{}, fmt.Errorf("%w: %d runes", ErrContentTooLong, len([]rune(clean)))
	}

	messageType := payload.Type
	if messageType == "" {
		messageType = "text"
	}

	ctx, span := p.tracer.Start(ctx, "pipeline.send", trace.WithAttributes(
		attribute.String("chat.id", payload.ChatID),
		attribute.String("chat.sender_id", senderID),
		attribute.String("chat.type", messageType),
	))
	defer span.End()

	unlock := p.lockChat(payload.ChatID)
	defer unlock()

	if existing, err := p.messages.FindByClientTempID(ctx, payload.ChatID, senderID, payload.ClientTempID); err == nil {
		span.SetAttributes(attribute.Bool("chat.duplicate_suppressed", true))
		return dto.NewChatMessageResponse(existing), nil
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		span.RecordError(err)
		return dto.ChatMessageResponse{}, fmt.Errorf("idempotency lookup: %w", err)
	}

	summary, err := p.summaries.Get(ctx, payload.ChatID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return dto.ChatMessageResponse{}, ErrChatNotFound
	}
	if err != nil {
		span.RecordError(err)
		return dto.ChatMessageResponse{}, fmt.Errorf("load chat summary: %w", err)
	}

	if err := p.authorise(ctx, senderID, summary); err != nil {
		return dto.ChatMessageResponse{}, err
	}

	verdict, err := p.moderation.Check(ctx, clean)
	if err != nil {
		span.RecordError(err)
		return dto.ChatMessageResponse{}, fmt.Errorf("moderation check: %w", err)
	}
	if !verdict.Allowed {
		span.SetAttributes(attribute.String("moderation.reason", verdict.Reason))
		return dto.ChatMessageResponse{}, fmt.Errorf("%w: %s", ErrModerationRejected, verdict.Reason)
	}

	model := models.ChatMessage{
		ChatID:       payload.ChatID,
		SenderID:     senderID,
		ClientTempID: payload.ClientTempID,
		Content:      clean,
		Type:         messageType,
	}

	if err := p.messages.Save(ctx, &model); err != nil {
		// The unique index may have raced a concurrent retry; prefer the
		// winning row over surfacing a duplicate-key failure.
		if existing, lookupErr := p.messages.FindByClientTempID(ctx, payload.ChatID, senderID, payload.ClientTempID); lookupErr == nil {
			return dto.NewChatMessageResponse(existing), nil
		}
		span.RecordError(err)
		return dto.ChatMessageResponse{}, fmt.Errorf("persist message: %w", err)
	}

	summary, err = p.summaries.ApplyMessage(ctx, model)
	if err != nil {
		span.RecordError(err)
		return dto.ChatMessageResponse{}, fmt.Errorf("update chat summary: %w", err)
	}

	response := dto.NewChatMessageResponse(model)
	p.cacheLastMessage(ctx, response)
	p.fanOutMessage(ctx, response, summary)

	observability.MessagesSent().WithLabelValues(messageType).Inc()

	return response, nil
}

// MarkRead resets the reader's unread counter and stamps every message in
// the chat as read by them. Calling it on an already-read chat is a no-op.
func (p *MessagePipeline) MarkRead(ctx context.Context, chatID, userID string) error {
	ctx, span := p.tracer.Start(ctx, "pipeline.mark_read", trace.WithAttributes(
		attribute.String("chat.id", chatID),
		attribute.String("chat.user_id", userID),
	))
	defer span.End()

	unlock := p.lockChat(chatID)
	defer unlock()

	summary, changed, err := p.summaries.ResetUnread(ctx, chatID, userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrChatNotFound
	}
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("reset unread: %w", err)
	}

	if !changed {
		return nil
	}

	if err := p.messages.MarkAllRead(ctx, chatID, userID); err != nil {
		span.RecordError(err)
		return fmt.Errorf("mark messages read: %w", err)
	}

	readEvent := dto.NewServerEvent(dto.EventMessageRead, dto.MessageReadPayload{ChatID: chatID, UserID: userID})
	p.rooms.Broadcast(chatID, readEvent)
	p.publish(ctx, chatID, readEvent)

	updated := dto.NewServerEvent(dto.EventChatUpdated, dto.ChatUpdatedPayload{
		ChatID:      chatID,
		UnreadCount: repository.UnreadFor(summary, userID),
	})
	p.rooms.Broadcast(UserRoom(userID), updated)
	p.publish(ctx, UserRoom(userID), updated)

	return nil
}

// History returns chat messages in chronological order for reconnect
// backfills and initial loads.
func (p *MessagePipeline) History(ctx context.Context, query dto.ChatHistoryQuery) ([]dto.ChatMessageResponse, error) {
	if err := p.validator.Struct(query); err != nil {
		return nil, err
	}

	before := time.Time{}
	if query.Before != nil {
		before = *query.Before
	}

	limit := query.Limit
	if limit <= 0 {
		limit = p.limits.HistoryPageSize
	}

	messages, err := p.messages.ListByChat(ctx, query.ChatID, before, limit)
	if err != nil {
		return nil, err
	}

	return dto.NewChatMessageResponseSlice(messages), nil
}

// Summaries lists the caller's chats, most recently active first.
func (p *MessagePipeline) Summaries(ctx context.Context, userID string, limit int) ([]dto.ChatSummaryResponse, error) {
	if limit <= 0 {
		limit = p.limits.HistoryPageSize
	}

	summaries, err := p.summaries.ListByParticipant(ctx, userID, limit)
	if err != nil {
		return nil, err
	}

	out := make([]dto.ChatSummaryResponse, 0, len(summaries))
	for _, summary := range summaries {
		out = append(out, dto.ChatSummaryResponse{
			ChatID:       summary.ChatID,
			Participants: summary.Participants,
			UnreadCount:  repository.UnreadFor(summary, userID),
			UpdatedAt:    summary.UpdatedAt,
		})
	}
	return out, nil
}

// CachedLastMessage returns the most recent confirmed message for a chat
// from the Redis cache, if present. Sent to a connection on join so the
// window is not empty while history loads.
func (p *MessagePipeline) CachedLastMessage(ctx context.Context, chatID string) *dto.ChatMessageResponse {
	if p.redis == nil || p.cacheKey == "" {
		return nil
	}

	result, err := p.redis.Get(ctx, fmt.Sprintf("%s:%s", p.cacheKey, chatID)).Result()
	if err != nil {
		return nil
	}

	var message dto.ChatMessageResponse
	if err := json.Unmarshal([]byte(result), &message); err != nil {
		p.logger.Warn().Err(err).Msg("failed to unmarshal cached chat message")
		return nil
	}

	return &message
}

// authorise enforces membership and block rules. A message into a chat where
// any participant has blocked the sender is rejected before persistence.
func (p *MessagePipeline) authorise(ctx context.Context, senderID string, summary models.ChatSummary) error {
	member := false
	for _, participant := range summary.Participants {
		if participant == senderID {
			member = true
			break
		}
	}
	if !member {
		return ErrNotParticipant
	}

	for _, participant := range summary.Participants {
		if participant == senderID {
			continue
		}
		blocked, err := p.social.IsBlocked(ctx, participant, senderID)
		if err != nil {
			return fmt.Errorf("block check: %w", err)
		}
		if blocked {
			return ErrBlocked
		}
	}

	return nil
}

func (p *MessagePipeline) fanOutMessage(ctx context.Context, message dto.ChatMessageResponse, summary models.ChatSummary) {
	newMessage := dto.NewServerEvent(dto.EventNewMessage, dto.NewMessagePayload{
		ChatID:  message.ChatID,
		Message: message,
	})
	p.rooms.Broadcast(message.ChatID, newMessage)
	p.publish(ctx, message.ChatID, newMessage)

	for _, participant := range summary.Participants {
		updated := dto.NewServerEvent(dto.EventChatUpdated, dto.ChatUpdatedPayload{
			ChatID:      message.ChatID,
			LastMessage: &message,
			UnreadCount: repository.UnreadFor(summary, participant),
		})
		p.rooms.Broadcast(UserRoom(participant), updated)
		p.publish(ctx, UserRoom(participant), updated)
	}
}

func (p *MessagePipeline) publish(ctx context.Context, roomID string, event dto.ServerEvent) {
	if p.bus == nil {
		return
	}
	p.bus.Publish(ctx, roomID, event)
}

func (p *MessagePipeline) cacheLastMessage(ctx context.Context, message dto.ChatMessageResponse) {
	if p.redis == nil || p.cacheKey == "" {
		return
	}

	payload, err := json.Marshal(message)
	if err != nil {
		p.logger.Warn().Err(err).Msg("failed to marshal chat message for cache")
		return
	}

	key := fmt.Sprintf("%s:%s", p.cacheKey, message.ChatID)
	if err := p.redis.Set(ctx, key, payload, lastMessageTTL).Err(); err != nil {
		p.logger.Warn().Err(err).Msg("failed to cache chat message")
	}
}

// lockChat serialises pipeline operations per chat.
func (p *MessagePipeline) lockChat(chatID string) func() {
	p.mu.Lock()
	lock, exists := p.chatLocks[chatID]
	if !exists {
		lock = &sync.Mutex{}
		p.chatLocks[chatID] = lock
	}
	p.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}
