package rtclient

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

var upgrader = websocket.Upgrader{}

// startServer runs a websocket endpoint whose behaviour is defined by the
// given session function.
func startServer(t *testing.T, session func(conn *websocket.Conn)) string {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		session(conn)
	}))
	t.Cleanup(server.Close)

	return "ws" + strings.TrimPrefix(server.URL, "http")
}

// echoServer confirms every send_message with a new_message carrying the
// same client_temp_id.
func echoServer(conn *websocket.Conn) {
	for {
		var envelope Envelope
		if err := conn.ReadJSON(&envelope); err != nil {
			return
		}
		if envelope.Type != EventSendMessage {
			continue
		}

		var send struct {
			ChatID       string `json:"chat_id"`
			Text         string `json:"text"`
			ClientTempID string `json:"client_temp_id"`
		}
		if err := json.Unmarshal(envelope.Payload, &send); err != nil {
			return
		}

		payload, _ := json.Marshal(newMessagePayload{
			ChatID: send.ChatID,
			Message: ChatMessage{
				ID:           42,
				ChatID:       send.ChatID,
				SenderID:     "alice",
				ClientTempID: send.ClientTempID,
				Content:      send.Text,
				Type:         "text",
				CreatedAt:    time.Now().UTC(),
			},
		})
		if err := conn.WriteJSON(Envelope{Type: EventNewMessage, Payload: payload}); err != nil {
			return
		}
	}
}

type updateRecorder struct {
	mu      sync.Mutex
	updates []MessageUpdate
	ch      chan MessageUpdate
}

func newUpdateRecorder() *updateRecorder {
	return &updateRecorder{ch: make(chan MessageUpdate, 16)}
}

func (r *updateRecorder) record(update MessageUpdate) {
	r.mu.Lock()
	r.updates = append(r.updates, update)
	r.mu.Unlock()
	r.ch <- update
}

func (r *updateRecorder) next(t *testing.T) MessageUpdate {
	t.Helper()
	select {
	case update := <-r.ch:
		return update
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message update")
		return MessageUpdate{}
	}
}

func testClientLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func TestReconcilerConfirmsOptimisticMessageInPlace(t *testing.T) {
	url := startServer(t, echoServer)

	client, err := Dial(context.Background(), Options{URL: url, Logger: testClientLogger()})
	require.NoError(t, err)
	defer client.Close()

	recorder := newUpdateRecorder()
	reconciler := NewReconciler(client, recorder.record)
	defer reconciler.Close()

	tempID, err := reconciler.SendMessage("chat-1", "hello")
	require.NoError(t, err)
	require.NotEmpty(t, tempID)

	optimistic := recorder.next(t)
	require.Equal(t, UpdateOptimistic, optimistic.Kind)
	require.Equal(t, tempID, optimistic.ClientTempID)
	require.Equal(t, "hello", optimistic.Message.Content)

	confirmed := recorder.next(t)
	require.Equal(t, UpdateConfirmed, confirmed.Kind)
	require.Equal(t, tempID, confirmed.ClientTempID, "confirmation replaces the optimistic copy under its temp id")
	require.Equal(t, uint(42), confirmed.Message.ID)
	require.Zero(t, reconciler.Pending())
}

func TestReconcilerReportsTimeoutWhenConfirmationNeverArrives(t *testing.T) {
	url := startServer(t, func(conn *websocket.Conn) {
		// Swallow everything.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	client, err := Dial(context.Background(), Options{
		URL:            url,
		ConfirmTimeout: 100 * time.Millisecond,
		Logger:         testClientLogger(),
	})
	require.NoError(t, err)
	defer client.Close()

	recorder := newUpdateRecorder()
	reconciler := NewReconciler(client, recorder.record)
	defer reconciler.Close()

	tempID, err := reconciler.SendMessage("chat-1", "into the void")
	require.NoError(t, err)

	require.Equal(t, UpdateOptimistic, recorder.next(t).Kind)

	failed := recorder.next(t)
	require.Equal(t, UpdateFailed, failed.Kind)
	require.Equal(t, tempID, failed.ClientTempID)
	require.ErrorIs(t, failed.Err, ErrSendTimeout)
	require.Zero(t, reconciler.Pending())
}

func TestReconcilerAppendsMessagesWithoutCorrelation(t *testing.T) {
	url := startServer(t, func(conn *websocket.Conn) {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}

		payload, _ := json.Marshal(newMessagePayload{
			ChatID: "chat-1",
			Message: ChatMessage{
				ID:       7,
				ChatID:   "chat-1",
				SenderID: "bob",
				Content:  "from someone else",
				Type:     "text",
			},
		})
		_ = conn.WriteJSON(Envelope{Type: EventNewMessage, Payload: payload})

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	client, err := Dial(context.Background(), Options{URL: url, Logger: testClientLogger()})
	require.NoError(t, err)
	defer client.Close()

	recorder := newUpdateRecorder()
	reconciler := NewReconciler(client, recorder.record)
	defer reconciler.Close()

	require.NoError(t, client.Emit("ready", map[string]string{}))

	appended := recorder.next(t)
	require.Equal(t, UpdateAppended, appended.Kind)
	require.Equal(t, "from someone else", appended.Message.Content)
	require.Equal(t, uint(7), appended.Message.ID)
}

func TestOnDisposerRemovesSubscription(t *testing.T) {
	received := make(chan Envelope, 4)
	url := startServer(t, func(conn *websocket.Conn) {
		// Wait for the client's ready frame so the handler is registered
		// before events flow.
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}

		payload, _ := json.Marshal(map[string]string{"user_id": "bob"})
		_ = conn.WriteJSON(Envelope{Type: "user_online", Payload: payload})
		time.Sleep(50 * time.Millisecond)
		_ = conn.WriteJSON(Envelope{Type: "user_online", Payload: payload})

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	client, err := Dial(context.Background(), Options{URL: url, Logger: testClientLogger()})
	require.NoError(t, err)
	defer client.Close()

	var calls int
	var mu sync.Mutex
	off := client.On("user_online", func(payload json.RawMessage) {
		mu.Lock()
		calls++
		mu.Unlock()
		received <- Envelope{Type: "user_online", Payload: payload}
	})

	require.NoError(t, client.Emit("ready", map[string]string{}))

	select {
	case <-received:
	case <-time.After(2 * time.Second):
		t.Fatal("expected first event")
	}

	off()
	time.Sleep(150 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 1, calls, "disposed handler must not receive further events")
}

func TestTypistDebouncesKeystrokes(t *testing.T) {
	var mu sync.Mutex
	var starts, stops int
	url := startServer(t, func(conn *websocket.Conn) {
		for {
			var envelope Envelope
			if err := conn.ReadJSON(&envelope); err != nil {
				return
			}
			mu.Lock()
			switch envelope.Type {
			case EventTypingStart:
				starts++
			case EventTypingStop:
				stops++
			}
			mu.Unlock()
		}
	})

	client, err := Dial(context.Background(), Options{URL: url, Logger: testClientLogger()})
	require.NoError(t, err)
	defer client.Close()

	typist := NewTypist(client, "chat-1", 200*time.Millisecond, 100*time.Millisecond)

	for i := 0; i < 5; i++ {
		typist.Keystroke()
		time.Sleep(10 * time.Millisecond)
	}
	typist.Stop()

	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 1, starts, "rapid keystrokes collapse into one typing_start")
	require.Equal(t, 1, stops)
}

func TestJoinChatTracksRoomsForReconnect(t *testing.T) {
	url := startServer(t, func(conn *websocket.Conn) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	client, err := Dial(context.Background(), Options{URL: url, Logger: testClientLogger()})
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.JoinChat("chat-1"))
	require.NoError(t, client.JoinChat("chat-2"))
	require.NoError(t, client.LeaveChat("chat-2"))

	client.mu.Lock()
	defer client.mu.Unlock()
	require.Contains(t, client.rooms, "chat-1")
	require.NotContains(t, client.rooms, "chat-2")
}
