package rtclient

import (
	"sync"
	"time"
)

const (
	defaultTypingInterval = 2 * time.Second
	defaultTypingIdle     = 3 * time.Second
)

// Typist debounces typing indicators for one chat. Keystroke may be called
// on every input event; at most one typing_start goes out per interval, and
// a typing_stop follows once input pauses. Stop is always safe to call.
type Typist struct {
	client   *Client
	chatID   string
	interval time.Duration
	idle     time.Duration

	mu        sync.Mutex
	lastStart time.Time
	idleTimer *time.Timer
	active    bool
}

// NewTypist creates a debouncer for the given chat. Zero durations fall
// back to the defaults.
func NewTypist(client *Client, chatID string, interval, idle time.Duration) *Typist {
	if interval <= 0 {
		interval = defaultTypingInterval
	}
	if idle <= 0 {
		idle = defaultTypingIdle
	}

	return &Typist{
		client:   client,
		chatID:   chatID,
		interval: interval,
		idle:     idle,
	}
}

// Keystroke registers input activity.
func (t *Typist) Keystroke() {
	t.mu.Lock()

	now := time.Now()
	shouldStart := !t.active || now.Sub(t.lastStart) >= t.interval
	if shouldStart {
		t.lastStart = now
		t.active = true
	}

	if t.idleTimer != nil {
		t.idleTimer.Stop()
	}
	t.idleTimer = time.AfterFunc(t.idle, t.idleStop)
	t.mu.Unlock()

	if shouldStart {
		_ = t.client.Emit(EventTypingStart, map[string]string{"chat_id": t.chatID})
	}
}

// Stop ends the indicator immediately, for example when the message is
// actually sent.
func (t *Typist) Stop() {
	t.mu.Lock()
	wasActive := t.active
	t.active = false
	if t.idleTimer != nil {
		t.idleTimer.Stop()
		t.idleTimer = nil
	}
	t.mu.Unlock()

	if wasActive {
		_ = t.client.Emit(EventTypingStop, map[string]string{"chat_id": t.chatID})
	}
}

func (t *Typist) idleStop() {
	t.mu.Lock()
	wasActive := t.active
	t.active = false
	t.idleTimer = nil
	t.mu.Unlock()

	if wasActive {
		_ = t.client.Emit(EventTypingStop, map[string]string{"chat_id": t.chatID})
	}
}
