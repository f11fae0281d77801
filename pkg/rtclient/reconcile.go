package rtclient

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrSendTimeout reports that no confirmation arrived for an optimistic
// message within the confirm window.
var ErrSendTimeout = errors.New("rtclient: send confirmation timed out")

// ChatMessage is the server's representation of a confirmed message.
type ChatMessage struct {
	ID           uint      `json:"id"`
	ChatID       string    `json:"chat_id"`
	SenderID     string    `json:"sender_id"`
	ClientTempID string    `json:"client_temp_id,omitempty"`
	Content      string    `json:"content"`
	Type         string    `json:"type"`
	CreatedAt    time.Time `json:"created_at"`
}

type newMessagePayload struct {
	ChatID  string      `json:"chat_id"`
	Message ChatMessage `json:"message"`
}

// UpdateKind describes what happened to a message in the local view.
type UpdateKind int

const (
	// UpdateOptimistic is the immediate local echo of a send.
	UpdateOptimistic UpdateKind = iota
	// UpdateConfirmed replaces an optimistic message in place.
	UpdateConfirmed
	// UpdateAppended is an incoming message with no pending counterpart.
	// It is always appended, never dropped.
	UpdateAppended
	// UpdateFailed marks an optimistic message whose confirmation never
	// arrived.
	UpdateFailed
)

// MessageUpdate is delivered to the reconciler's callback for every change.
type MessageUpdate struct {
	Kind         UpdateKind
	ClientTempID string
	Message      ChatMessage
	Err          error
}

type pendingSend struct {
	chatID string
	text   string
	sentAt time.Time
	timer  *time.Timer
}

// Reconciler keeps the local message list consistent with the server.
// Sends are shown immediately under a generated clientTempID; the server
// echoes that ID on the confirmed copy, which replaces the optimistic one
// in place instead of duplicating it.
type Reconciler struct {
	client   *Client
	onUpdate func(MessageUpdate)
	off      func()

	mu      sync.Mutex
	pending map[string]*pendingSend
	closed  bool
}

// NewReconciler attaches a reconciler to a client. onUpdate receives every
// local-view change and must not block.
func NewReconciler(client *Client, onUpdate func(MessageUpdate)) *Reconciler {
	r := &Reconciler{
		client:   client,
		onUpdate: onUpdate,
		pending:  make(map[string]*pendingSend),
	}

	r.off = client.On(EventNewMessage, r.handleNewMessage)
	return r
}

// SendMessage sends text to a chat. The optimistic update fires before the
// frame leaves the socket; confirmation or failure follows asynchronously.
func (r *Reconciler) SendMessage(chatID, text string) (string, error) {
	tempID := uuid.NewString()

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return "", ErrClosed
	}
	entry := &pendingSend{
		chatID: chatID,
		text:   text,
		sentAt: time.Now(),
	}
	entry.timer = time.AfterFunc(r.client.confirmTimeout, func() {
		r.expire(tempID)
	})
	r.pending[tempID] = entry
	r.mu.Unlock()

	r.onUpdate(MessageUpdate{
		Kind:         UpdateOptimistic,
		ClientTempID: tempID,
		Message: ChatMessage{
			ChatID:       chatID,
			ClientTempID: tempID,
			Content:      text,
			Type:         "text",
			CreatedAt:    entry.sentAt,
		},
	})

	err := r.client.Emit(EventSendMessage, map[string]string{
		"chat_id":        chatID,
		"text":           text,
		"client_temp_id": tempID,
	})
	if err != nil {
		r.fail(tempID, err)
		return tempID, err
	}

	return tempID, nil
}

// Pending reports how many sends await confirmation.
func (r *Reconciler) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Close detaches from the client and fails all outstanding sends.
func (r *Reconciler) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	tempIDs := make([]string, 0, len(r.pending))
	for tempID, entry := range r.pending {
		entry.timer.Stop()
		tempIDs = append(tempIDs, tempID)
	}
	r.mu.Unlock()

	r.off()
	for _, tempID := range tempIDs {
		r.fail(tempID, ErrClosed)
	}
}

func (r *Reconciler) handleNewMessage(payload json.RawMessage) {
	var event newMessagePayload
	if err := json.Unmarshal(payload, &event); err != nil {
		return
	}

	message := event.Message
	if message.ChatID == "" {
		message.ChatID = event.ChatID
	}

	if message.ClientTempID != "" {
		r.mu.Lock()
		entry, mine := r.pending[message.ClientTempID]
		if mine {
			entry.timer.Stop()
			delete(r.pending, message.ClientTempID)
		}
		r.mu.Unlock()

		if mine {
			r.onUpdate(MessageUpdate{
				Kind:         UpdateConfirmed,
				ClientTempID: message.ClientTempID,
				Message:      message,
			})
			return
		}
	}

	r.onUpdate(MessageUpdate{Kind: UpdateAppended, Message: message})
}

func (r *Reconciler) expire(tempID string) {
	r.fail(tempID, ErrSendTimeout)
}

func (r *Reconciler) fail(tempID string, err error) {
	r.mu.Lock()
	entry, exists := r.pending[tempID]
	if exists {
		entry.timer.Stop()
		delete(r.pending, tempID)
	}
	r.mu.Unlock()

	if !exists {
		return
	}

	r.onUpdate(MessageUpdate{
		Kind:         UpdateFailed,
		ClientTempID: tempID,
		Message: ChatMessage{
			ChatID:       entry.chatID,
			ClientTempID: tempID,
			Content:      entry.text,
			Type:         "text",
			CreatedAt:    entry.sentAt,
		},
		Err: err,
	})
}
