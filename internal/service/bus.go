package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/kabar-go-api/internal/dto"
)

// EventBus mirrors room broadcasts across nodes. Every locally produced
// event is published to Redis pub/sub and NATS; events received from other
// nodes are replayed into the local room registry. Either transport may be
// absent (nil); with both absent the bus degrades to a no-op and the service
// runs single-node.
type EventBus struct {
	redis       *redis.Client
	redisStream string
	nats        *nats.Conn
	natsSubject string
	broadcaster Broadcaster
	nodeID      string
	log         zerolog.Logger
}

type remoteEvent struct {
	Source string          `json:"source"`
	RoomID string          `json:"room_id"`
	Event  dto.ServerEvent `json:"event"`
	SentAt time.Time       `json:"sent_at"`
}

// NewEventBus builds the bus. channelBase namespaces the Redis channel and
// the NATS subject so several environments can share one broker.
func NewEventBus(redisClient *redis.Client, natsConn *nats.Conn, channelBase string, broadcaster Broadcaster, logger zerolog.Logger) *EventBus {
	stream := ""
	subject := ""
	if channelBase != "" {
		stream = channelBase + ":events"
		subject = strings.ReplaceAll(channelBase, ":", ".") + ".events"
	}

	return &EventBus{
		redis:       redisClient,
		redisStream: stream,
		nats:        natsConn,
		natsSubject: subject,
		broadcaster: broadcaster,
		nodeID:      uuid.NewString(),
		log:         logger.With().Str("component", "event_bus").Logger(),
	}
}

// Start launches the consumer goroutines; they exit when ctx is cancelled.
func (b *EventBus) Start(ctx context.Context) {
	if b.redis != nil && b.redisStream != "" {
		go b.consumeRedis(ctx)
	}
	if b.nats != nil && b.natsSubject != "" {
		go b.consumeNATS(ctx)
	}
}

// Publish mirrors one room event to the other nodes. Failures are logged and
// swallowed: cross-node delivery is best effort and must never block local
// chat delivery.
func (b *EventBus) Publish(ctx context.Context, roomID string, event dto.ServerEvent) {
	if (b.redis == nil || b.redisStream == "") && (b.nats == nil || b.natsSubject == "") {
		return
	}

	payload, err := json.Marshal(remoteEvent{
		Source: b.nodeID,
		RoomID: roomID,
		Event:  event,
		SentAt: time.Now().UTC(),
	})
	if err != nil {
		b.log.Warn().Err(err).Msg("failed to marshal bus event")
		return
	}

	if b.redis != nil && b.redisStream != "" {
		if err := b.redis.Publish(ctx, b.redisStream, payload).Err(); err != nil {
			b.log.Warn().Err(err).Msg("failed to publish bus event to redis")
		}
	}

	if b.nats != nil && b.natsSubject != "" {
		if err := b.nats.Publish(b.natsSubject, payload); err != nil {
			b.log.Warn().Err(err).Msg("failed to publish bus event to nats")
		}
	}
}

func (b *EventBus) consumeRedis(ctx context.Context) {
	pubsub := b.redis.Subscribe(ctx, b.redisStream)
	defer func() {
		_ = pubsub.Close()
	}()

	for {
		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			b.log.Error().Err(err).Msg("bus redis subscription closed")
			return
		}
		b.handleEvent([]byte(msg.Payload))
	}
}

func (b *EventBus) consumeNATS(ctx context.Context) {
	sub, err := b.nats.QueueSubscribe(b.natsSubject, "kabar-realtime", func(msg *nats.Msg) {
		b.handleEvent(msg.Data)
	})
	if err != nil {
		b.log.Error().Err(err).Msg("failed to subscribe to nats events subject")
		return
	}

	go func() {
		<-ctx.Done()
		if err := sub.Drain(); err != nil {
			b.log.Warn().Err(err).Msg("failed to drain nats subscription")
		}
	}()
}

func (b *EventBus) handleEvent(data []byte) {
	var event remoteEvent
	if err := json.Unmarshal(data, &event); err != nil {
		b.log.Warn().Err(err).Msg("invalid bus event")
		return
	}

	if event.Source == b.nodeID || event.RoomID == "" {
		return
	}

	b.broadcaster.Broadcast(event.RoomID, event.Event)
}
