package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/kabar-go-api/internal/dto"
)

func TestEventBusIgnoresOwnEvents(t *testing.T) {
	broadcaster := &recordingBroadcaster{}
	bus := NewEventBus(nil, nil, "kabar", broadcaster, testLogger())

	payload, err := json.Marshal(remoteEvent{
		Source: bus.nodeID,
		RoomID: "chat-1",
		Event:  dto.NewServerEvent(dto.EventNewMessage, nil),
		SentAt: time.Now().UTC(),
	})
	require.NoError(t, err)

	bus.handleEvent(payload)
	require.Empty(t, broadcaster.forRoom("chat-1"), "events from this node must not loop back")
}

func TestEventBusReplaysRemoteEvents(t *testing.T) {
	broadcaster := &recordingBroadcaster{}
	bus := NewEventBus(nil, nil, "kabar", broadcaster, testLogger())

	payload, err := json.Marshal(remoteEvent{
		Source: "another-node",
		RoomID: "chat-1",
		Event:  dto.NewServerEvent(dto.EventNewMessage, nil),
		SentAt: time.Now().UTC(),
	})
	require.NoError(t, err)

	bus.handleEvent(payload)

	events := broadcaster.forRoom("chat-1")
	require.Len(t, events, 1)
	require.Equal(t, dto.EventNewMessage, events[0].Type)
}

func TestEventBusDropsMalformedAndRoomlessEvents(t *testing.T) {
	broadcaster := &recordingBroadcaster{}
	bus := NewEventBus(nil, nil, "kabar", broadcaster, testLogger())

	bus.handleEvent([]byte("not json"))

	payload, err := json.Marshal(remoteEvent{
		Source: "another-node",
		Event:  dto.NewServerEvent(dto.EventNewMessage, nil),
	})
	require.NoError(t, err)
	bus.handleEvent(payload)

	broadcaster.mu.Lock()
	defer broadcaster.mu.Unlock()
	require.Empty(t, broadcaster.events)
}

func TestEventBusPublishesToRedis(t *testing.T) {
	server, err := miniredis.Run()
	require.NoError(t, err)
	defer server.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: server.Addr()})
	defer redisClient.Close()

	broadcaster := &recordingBroadcaster{}
	bus := NewEventBus(redisClient, nil, "kabar", broadcaster, testLogger())

	// Subscribe directly so the published frame can be inspected.
	pubsub := redisClient.Subscribe(context.Background(), "kabar:events")
	defer pubsub.Close()
	_, err = pubsub.Receive(context.Background())
	require.NoError(t, err)

	bus.Publish(context.Background(), "chat-1", dto.NewServerEvent(dto.EventNewMessage, nil))

	msg, err := pubsub.ReceiveTimeout(context.Background(), time.Second)
	require.NoError(t, err)

	frame, ok := msg.(*redis.Message)
	require.True(t, ok)

	var event remoteEvent
	require.NoError(t, json.Unmarshal([]byte(frame.Payload), &event))
	require.Equal(t, bus.nodeID, event.Source)
	require.Equal(t, "chat-1", event.RoomID)
	require.Equal(t, dto.EventNewMessage, event.Event.Type)
}

func TestEventBusWithoutTransportsIsNoop(t *testing.T) {
	broadcaster := &recordingBroadcaster{}
	bus := NewEventBus(nil, nil, "", broadcaster, testLogger())

	bus.Start(context.Background())
	bus.Publish(context.Background(), "chat-1", dto.NewServerEvent(dto.EventNewMessage, nil))

	broadcaster.mu.Lock()
	defer broadcaster.mu.Unlock()
	require.Empty(t, broadcaster.events)
}
